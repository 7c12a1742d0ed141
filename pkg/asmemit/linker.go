package asmemit

import (
	"fmt"
	"strings"

	"github.com/tibbar/tibbar/pkg/memconfig"
)

// RenderLinkerScript writes the companion .ld: one MEMORY region per
// bank, text/data program headers, and a SECTIONS map pinning each
// per-bank section at its origin.
func RenderLinkerScript(cfg *memconfig.Config) string {
	var b strings.Builder
	b.WriteString("OUTPUT_ARCH(riscv)\n")
	b.WriteString("ENTRY(_start)\n\n")

	type region struct {
		name    string
		section string
		phdr    string
		bank    memconfig.Bank
	}
	var regions []region
	codeIdx, dataIdx := 0, 0
	for _, bank := range cfg.Banks {
		if bank.PureData() {
			regions = append(regions, region{
				name:    fmt.Sprintf("DATA%d", dataIdx),
				section: fmt.Sprintf(".data.bank%d", dataIdx),
				phdr:    "data",
				bank:    bank,
			})
			dataIdx++
			continue
		}
		regions = append(regions, region{
			name:    fmt.Sprintf("CODE%d", codeIdx),
			section: fmt.Sprintf(".text.bank%d", codeIdx),
			phdr:    "text",
			bank:    bank,
		})
		codeIdx++
	}

	b.WriteString("MEMORY\n{\n")
	for _, r := range regions {
		fmt.Fprintf(&b, "    %s (%s) : ORIGIN = 0x%x, LENGTH = 0x%x\n",
			r.name, r.bank.Access, r.bank.Base, r.bank.Size)
	}
	b.WriteString("}\n\n")

	b.WriteString("PHDRS\n{\n")
	b.WriteString("    text PT_LOAD FLAGS(5);\n")
	b.WriteString("    data PT_LOAD FLAGS(6);\n")
	b.WriteString("}\n\n")

	// Fallback homes: stray .text/.rodata go to the first code bank,
	// stray .data/.bss to the first pure data bank when one exists,
	// else to the last code bank.
	dataHome := ""
	stackHome := ""
	var lastCode string
	for _, r := range regions {
		if r.phdr == "text" {
			lastCode = r.name
		}
		if r.phdr == "data" && dataHome == "" {
			dataHome = r.name
		}
	}
	if dataHome == "" {
		dataHome = lastCode
	}
	stackHome = dataHome

	b.WriteString("SECTIONS\n{\n")
	for _, r := range regions {
		fmt.Fprintf(&b, "    %s : { *(%s) } > %s :%s\n", r.section, r.section, r.name, r.phdr)
	}
	fmt.Fprintf(&b, "    .text : { *(.text) } > CODE0 :text\n")
	fmt.Fprintf(&b, "    .rodata : { *(.rodata) } > CODE0 :text\n")
	fmt.Fprintf(&b, "    .data : { *(.data) } > %s :data\n", dataHome)
	fmt.Fprintf(&b, "    .bss : { *(.bss) } > %s :data\n", dataHome)
	b.WriteString("}\n\n")
	fmt.Fprintf(&b, "__stack_top = ORIGIN(%s) + LENGTH(%s);\n", stackHome, stackHome)
	return b.String()
}
