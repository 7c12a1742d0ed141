package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tibbar/tibbar/pkg/asmemit"
	"github.com/tibbar/tibbar/pkg/debugdump"
	"github.com/tibbar/tibbar/pkg/generator"
	"github.com/tibbar/tibbar/pkg/isa"
	"github.com/tibbar/tibbar/pkg/memconfig"
	"github.com/tibbar/tibbar/pkg/recipes"
	"github.com/tibbar/tibbar/pkg/tibbarerr"
	"github.com/tibbar/tibbar/pkg/tlog"
	"github.com/tibbar/tibbar/pkg/version"
)

var (
	outputFile   string
	seed         int64
	verbosity    string
	recipeName   string
	memoryConfig string
	debugYAML    string
	showVersion  bool
)

var rootCmd = &cobra.Command{
	Use:   "tibbar",
	Short: "Tibbar instruction-stream generator " + version.Short(),
	Long: `Tibbar - co-simulating instruction-stream generator

Generates a random but self-verified test program for a 64-bit
RISC-style ISA: every placed instruction is executed through an
architectural model as it is generated, so the emitted program is
already known to reach its exit without escaping its code banks.

GENERATORS:
  ` + strings.Join(recipes.Names(), ", ") + `

EXAMPLES:
  tibbar --generator simple                          # test.S + test.S.ld
  tibbar --generator ldst --seed 7 -o ldst.S         # another seed
  tibbar --generator float --memory-config mem.yaml  # custom bank layout
  tibbar --generator hazard --debug-yaml trace.yaml  # with execution trace`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			fmt.Println(version.String())
			return nil
		}
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "test.S", "output assembly path (linker script goes to <output>.ld)")
	rootCmd.Flags().Int64Var(&seed, "seed", 42, "random seed")
	rootCmd.Flags().StringVar(&verbosity, "verbosity", "info", "log level (debug, info, warning, error)")
	rootCmd.Flags().StringVar(&recipeName, "generator", "", "generator recipe (required)")
	rootCmd.Flags().StringVar(&memoryConfig, "memory-config", "", "memory-layout YAML override")
	rootCmd.Flags().StringVar(&debugYAML, "debug-yaml", "", "write a YAML dump of placed items and the execution trace")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show version")
	rootCmd.MarkFlagRequired("generator")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if _, isGen := err.(*tibbarerr.GeneratorError); isGen {
			os.Exit(1)
		}
		// Argument-level failures (missing --generator, unknown flags).
		os.Exit(2)
	}
}

func run() error {
	level, ok := tlog.ParseLevel(verbosity)
	if !ok {
		return tibbarerr.New(tibbarerr.ConfigInvalid,
			fmt.Sprintf("unknown verbosity %q", verbosity), nil)
	}
	log := tlog.New(fmt.Sprintf("%08x", uint32(seed)), level, nil)

	cfg := memconfig.Default()
	if memoryConfig != "" {
		loaded, err := memconfig.LoadFile(memoryConfig)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	gen, err := generator.New(generator.Options{
		Seed:   seed,
		Config: cfg,
		Log:    log,
		Trace:  debugYAML != "",
	})
	if err != nil {
		return err
	}
	producer, err := recipes.Build(recipeName, gen.Env())
	if err != nil {
		return err
	}
	summary, err := gen.Run(producer)
	if err != nil {
		return err
	}

	items := gen.Store().PlacedItemsInOrder()
	if err := asmemit.WriteFiles(outputFile, asmemit.Input{
		Config:    cfg,
		Items:     items,
		Boot:      summary.BootAddress,
		Exit:      summary.ExitAddress,
		Exception: summary.ExceptionAddress,
	}); err != nil {
		return tibbarerr.New(tibbarerr.ConfigInvalid,
			fmt.Sprintf("cannot write output: %v", err), nil)
	}
	if debugYAML != "" {
		if err := debugdump.WriteFile(debugYAML, cfg, items, summary, asmText); err != nil {
			return tibbarerr.New(tibbarerr.ConfigInvalid,
				fmt.Sprintf("cannot write debug yaml: %v", err), nil)
		}
	}
	log.Infof("wrote %s and %s.ld (%d items, %d steps)", outputFile, outputFile, len(items), summary.StepsRecorded)
	return nil
}

func asmText(w uint32) string {
	if enc, ok := isa.Decode(w); ok {
		return isa.Render(enc)
	}
	return fmt.Sprintf(".word 0x%08x", w)
}
