// Package asmemit renders the finalised placed items as assembler
// source with per-bank sections, boot/exit/branch-target labels, and
// .org padding, plus the companion linker script that pins each bank
// at its absolute origin.
package asmemit

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/tibbar/tibbar/pkg/isa"
	"github.com/tibbar/tibbar/pkg/memconfig"
	"github.com/tibbar/tibbar/pkg/memstore"
)

// Input bundles everything the emitter needs from a finished run.
type Input struct {
	Config    *memconfig.Config
	Items     []*memstore.PlacedItem
	Boot      uint64
	Exit      *uint64
	Exception uint64
}

// WriteFiles writes the assembly to path and the linker script to
// path+".ld".
func WriteFiles(path string, in Input) error {
	if err := os.WriteFile(path, []byte(RenderAsm(in)), 0o644); err != nil {
		return err
	}
	return os.WriteFile(path+".ld", []byte(RenderLinkerScript(in.Config)), 0o644)
}

// RenderAsm renders the whole .S file.
func RenderAsm(in Input) string {
	items := append([]*memstore.PlacedItem(nil), in.Items...)
	sort.Slice(items, func(i, j int) bool { return items[i].Addr < items[j].Addr })

	labels := collectLabels(in, items)
	items = padUnplacedTargets(in, items, labels)

	var b strings.Builder
	writeBanner(&b, in)

	codeIdx, dataIdx := 0, 0
	for _, bank := range in.Config.Banks {
		bankItems := itemsInBank(items, bank)
		if bank.PureData() {
			writeSection(&b, fmt.Sprintf(".data.bank%d", dataIdx), 8, bank, bankItems, in, labels)
			dataIdx++
			continue
		}
		writeSection(&b, fmt.Sprintf(".text.bank%d", codeIdx), 4, bank, bankItems, in, labels)
		codeIdx++
	}
	return b.String()
}

func writeBanner(b *strings.Builder, in Input) {
	fmt.Fprintf(b, "# Tibbar generated test program\n")
	fmt.Fprintf(b, "# Load address: 0x%x\n", in.Config.LoadAddr())
	fmt.Fprintf(b, "# RAM size: 0x%x\n", in.Config.RAMSize())
	if region, ok := in.Config.DataRegion(); ok {
		fmt.Fprintf(b, "# Data region: 0x%x\n", region)
	}
	fmt.Fprintf(b, "# Boot: 0x%x\n", in.Boot)
	if in.Exit != nil {
		fmt.Fprintf(b, "# Exit: 0x%x\n", *in.Exit)
	}
	fmt.Fprintf(b, "\n")
}

// collectLabels maps every address that needs a label to its name:
// boot, exit, and each jal/branch target.
func collectLabels(in Input, items []*memstore.PlacedItem) map[uint64]string {
	labels := map[uint64]string{in.Boot: "_start"}
	if in.Exit != nil {
		labels[*in.Exit] = "_exit"
	}
	for _, item := range items {
		target, ok := branchTarget(item)
		if !ok {
			continue
		}
		if _, named := labels[target]; !named {
			labels[target] = fmt.Sprintf(".L_tgt_%x", target)
		}
	}
	return labels
}

// branchTarget returns the absolute target of a placed pc-relative
// jump or branch.
func branchTarget(item *memstore.PlacedItem) (uint64, bool) {
	if item.IsData || item.ByteSize != 4 {
		return 0, false
	}
	enc, ok := isa.Decode(uint32(item.Data))
	if !ok {
		return 0, false
	}
	switch enc.Ins.Format {
	case isa.FormatJ, isa.FormatB:
		return item.Addr + uint64(enc.Imm), true
	}
	return 0, false
}

// padUnplacedTargets inserts a no-op at any labelled target no placed
// item covers, so every label the assembler sees has a definition.
func padUnplacedTargets(in Input, items []*memstore.PlacedItem, labels map[uint64]string) []*memstore.PlacedItem {
	covered := func(a uint64) bool {
		i := sort.Search(len(items), func(i int) bool { return items[i].End() > a })
		return i < len(items) && items[i].Addr <= a
	}
	var targets []uint64
	for a := range labels {
		targets = append(targets, a)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })

	nop := uint64(0x00000013) // addi zero,zero,0
	added := false
	for _, a := range targets {
		if covered(a) || !inAnyCodeBank(in.Config, a) {
			continue
		}
		items = append(items, &memstore.PlacedItem{Addr: a, ByteSize: 4, Data: nop, Seq: "EmitPad"})
		added = true
	}
	if added {
		sort.Slice(items, func(i, j int) bool { return items[i].Addr < items[j].Addr })
	}
	return items
}

func inAnyCodeBank(cfg *memconfig.Config, a uint64) bool {
	for _, b := range cfg.CodeBanks() {
		if a >= b.Base && a+4 <= b.End() {
			return true
		}
	}
	return false
}

func itemsInBank(items []*memstore.PlacedItem, bank memconfig.Bank) []*memstore.PlacedItem {
	var out []*memstore.PlacedItem
	for _, item := range items {
		if item.Addr >= bank.Base && item.End() <= bank.End() {
			out = append(out, item)
		}
	}
	return out
}

func writeSection(b *strings.Builder, name string, align int, bank memconfig.Bank,
	items []*memstore.PlacedItem, in Input, labels map[uint64]string) {
	fmt.Fprintf(b, ".section %s\n", name)
	fmt.Fprintf(b, ".balign %d\n", align)
	cursor := uint64(0)
	for _, item := range items {
		off := item.Addr - bank.Base
		if off > cursor {
			fmt.Fprintf(b, ".org 0x%x\n", off)
		}
		cursor = off + uint64(item.ByteSize)
		if label, ok := labels[item.Addr]; ok {
			if label == "_start" {
				fmt.Fprintf(b, ".globl _start\n")
			}
			fmt.Fprintf(b, "%s:\n", label)
		}
		fmt.Fprintf(b, "    %s  # 0x%x\n", renderItem(item, labels), item.Addr)
	}
	fmt.Fprintf(b, "\n")
}

func renderItem(item *memstore.PlacedItem, labels map[uint64]string) string {
	if !item.IsData && item.ByteSize == 4 {
		if enc, ok := isa.Decode(uint32(item.Data)); ok {
			text := isa.Render(enc)
			if target, isRel := branchTarget(item); isRel {
				if label, named := labels[target]; named {
					// The last operand is the raw byte offset; hand the
					// linker the label instead so it resolves the reach.
					if i := strings.LastIndex(text, ","); i >= 0 {
						text = text[:i+1] + label
					}
				}
			}
			return text
		}
	}
	switch item.ByteSize {
	case 1:
		return fmt.Sprintf(".byte 0x%02x", uint8(item.Data))
	case 2:
		return fmt.Sprintf(".half 0x%04x", uint16(item.Data))
	case 8:
		return fmt.Sprintf(".dword 0x%016x", item.Data)
	default:
		return fmt.Sprintf(".word 0x%08x", uint32(item.Data))
	}
}
