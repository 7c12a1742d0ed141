package recipes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tibbar/tibbar/pkg/asmemit"
	"github.com/tibbar/tibbar/pkg/generator"
	"github.com/tibbar/tibbar/pkg/memconfig"
)

func singleBankConfig() *memconfig.Config {
	return &memconfig.Config{
		Banks: []memconfig.Bank{
			{Name: "RAM", Base: 0x80000000, Size: 0x80000, Code: true, Data: true, Access: "rwx"},
		},
		DataReserve: memconfig.DefaultDataReserve,
	}
}

func splitBankConfig() *memconfig.Config {
	return &memconfig.Config{
		Banks: []memconfig.Bank{
			{Name: "CODE", Base: 0x80000000, Size: 0x40000, Code: true, Access: "rx"},
			{Name: "DATA", Base: 0x80040000, Size: 0x40000, Data: true, Access: "rw"},
		},
		DataReserve: memconfig.DefaultDataReserve,
	}
}

// runRecipe generates with one catalog entry and renders the outputs.
func runRecipe(t *testing.T, name string, seed int64, cfg *memconfig.Config) (*generator.Summary, string, string) {
	t.Helper()
	gen, err := generator.New(generator.Options{Seed: seed, Config: cfg})
	require.NoError(t, err)
	producer, err := Build(name, gen.Env())
	require.NoError(t, err)
	sum, err := gen.Run(producer)
	require.NoError(t, err, "recipe %s did not terminate cleanly", name)

	in := asmemit.Input{
		Config:    cfg,
		Items:     gen.Store().PlacedItemsInOrder(),
		Boot:      sum.BootAddress,
		Exit:      sum.ExitAddress,
		Exception: sum.ExceptionAddress,
	}
	return sum, asmemit.RenderAsm(in), asmemit.RenderLinkerScript(cfg)
}

func TestNamesListsFullCatalog(t *testing.T) {
	want := []string{"float", "hazard", "ldst", "ldst_exception", "rel_branching", "simple", "stress_float"}
	require.Equal(t, want, Names())

	_, err := Build("no-such-recipe", nil)
	require.Error(t, err)
}

func TestSimpleSingleBankRandomBoot(t *testing.T) {
	sum, asm, _ := runRecipe(t, "simple", 1, singleBankConfig())
	require.Equal(t, "reached_exit", sum.Reason)
	require.Contains(t, asm, "# Load address: 0x80000000")
	require.Contains(t, asm, "# RAM size: 0x80000")
	require.Contains(t, asm, "_start:")
	require.Contains(t, asm, "_exit:")
	require.NotContains(t, asm, "# Data region:")
}

func TestSimpleSplitBanks(t *testing.T) {
	_, asm, ld := runRecipe(t, "simple", 1, splitBankConfig())
	require.Contains(t, asm, "# Data region: 0x80040000")
	require.Contains(t, asm, ".text.bank0")
	require.Contains(t, asm, ".data.bank0")
	require.Contains(t, ld, "CODE0 (rx)")
	require.Contains(t, ld, "DATA0 (rw)")
}

func TestSimpleConfiguredBoot(t *testing.T) {
	cfg := singleBankConfig()
	boot := uint64(0x80000200)
	cfg.Boot = &boot
	sum, asm, _ := runRecipe(t, "simple", 1, cfg)
	require.Equal(t, uint64(0x80000200), sum.BootAddress)
	require.Contains(t, asm, "# Boot: 0x80000200")
	require.Contains(t, asm, "_start:")
}

func TestDeterminism(t *testing.T) {
	_, asm1, ld1 := runRecipe(t, "simple", 7, singleBankConfig())
	_, asm2, ld2 := runRecipe(t, "simple", 7, singleBankConfig())
	require.Equal(t, asm1, asm2, "same seed and config must reproduce the .S byte for byte")
	require.Equal(t, ld1, ld2)

	_, asm3, _ := runRecipe(t, "simple", 8, singleBankConfig())
	require.NotEqual(t, asm1, asm3, "a different seed should generate a different program")
}

func TestLdstUsesDataBank(t *testing.T) {
	sum, asm, _ := runRecipe(t, "ldst", 3, splitBankConfig())
	require.Equal(t, "reached_exit", sum.Reason)

	// Some load data landed in the data bank.
	var dataItems int
	for _, line := range strings.Split(asm, "\n") {
		if strings.Contains(line, ".dword") || strings.Contains(line, ".word") {
			dataItems++
		}
	}
	require.Greater(t, dataItems, 0, "ldst should place backing data words")
}

func TestRelBranchingTerminates(t *testing.T) {
	sum, asm, _ := runRecipe(t, "rel_branching", 1, singleBankConfig())
	require.Equal(t, "reached_exit", sum.Reason)
	require.Contains(t, asm, "_exit:")
}

func TestFloatRecipePopulatesFPRFile(t *testing.T) {
	sum, asm, _ := runRecipe(t, "float", 2, splitBankConfig())
	require.Equal(t, "reached_exit", sum.Reason)
	require.Contains(t, asm, "_exit:")
	// SetFPRs loads every FPR from the data region before the random
	// float traffic starts.
	require.Contains(t, asm, "fld f0,")
	require.Contains(t, asm, "fld f31,")
}

func TestStressFloatSweepsAndDivSqrt(t *testing.T) {
	sum, asm, _ := runRecipe(t, "stress_float", 2, splitBankConfig())
	require.Equal(t, "reached_exit", sum.Reason)
	// The range sweeps reload a source register before every executed
	// float op, so the listing is dominated by fld traffic.
	require.Greater(t, strings.Count(asm, "fld "), 100)
	// The exhaustive divide/square-root pass picked one of its four
	// instructions.
	hasDiv := strings.Contains(asm, "fdiv.")
	hasSqrt := strings.Contains(asm, "fsqrt.")
	require.True(t, hasDiv || hasSqrt, "missing the FloatDivSqrt pass:\n%s", asm[:min(len(asm), 2000)])
}

func TestFloatRecipeOnSharedBank(t *testing.T) {
	// On a shared code+data bank the backing float words may sit ahead
	// of the pc; the recipe must still terminate cleanly.
	sum, _, _ := runRecipe(t, "float", 2, singleBankConfig())
	require.Equal(t, "reached_exit", sum.Reason)
}

func TestHazardRecipe(t *testing.T) {
	sum, asm, _ := runRecipe(t, "hazard", 4, singleBankConfig())
	require.Equal(t, "reached_exit", sum.Reason)
	// SetGPRs runs first: the listing opens with load-immediate
	// expansions for the whole register file.
	require.Contains(t, asm, "addiw")
}

func TestLdstExceptionResumesThroughHandler(t *testing.T) {
	sum, asm, _ := runRecipe(t, "ldst_exception", 5, splitBankConfig())
	// Every faulting load resumes via the handler's mret, so the run
	// still reaches the ordinary exit region.
	require.Equal(t, "reached_exit", sum.Reason)
	require.NotNil(t, sum.ExitAddress)
	require.NotEqual(t, sum.ExceptionAddress, *sum.ExitAddress)
	require.Contains(t, asm, "_exit:")
	require.Contains(t, asm, "mret")
}

// Escape freedom: every placed code item must lie inside a code bank.
func TestPlacedItemsStayInsideBanks(t *testing.T) {
	cfg := splitBankConfig()
	gen, err := generator.New(generator.Options{Seed: 11, Config: cfg})
	require.NoError(t, err)
	producer, err := Build("ldst", gen.Env())
	require.NoError(t, err)
	_, err = gen.Run(producer)
	require.NoError(t, err)

	mapper := gen.Env().Mapper
	for _, item := range gen.Store().PlacedItemsInOrder() {
		_, err := mapper.RequireStoreAddr(item.Addr, uint64(item.ByteSize))
		require.NoError(t, err, "item at 0x%x escaped the banks", item.Addr)
		if !item.IsData {
			_, err := mapper.RequireCodeAddr(item.Addr, uint64(item.ByteSize))
			require.NoError(t, err, "code item at 0x%x outside code banks", item.Addr)
		}
	}
}
