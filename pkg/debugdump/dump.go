// Package debugdump renders a generation run as a YAML document: the
// placed memory image, the bank layout, the per-step execution trace
// when one was recorded, and the termination summary.
package debugdump

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tibbar/tibbar/pkg/generator"
	"github.com/tibbar/tibbar/pkg/memconfig"
	"github.com/tibbar/tibbar/pkg/memstore"
)

type memoryItem struct {
	Data     string `yaml:"data"`
	ByteSize uint8  `yaml:"byte_size"`
	Seq      string `yaml:"seq"`
	Asm      string `yaml:"asm,omitempty"`
	IsData   bool   `yaml:"is_data"`
	Comment  string `yaml:"comment,omitempty"`
}

type bankInfo struct {
	Name   string `yaml:"name"`
	Base   string `yaml:"base"`
	Size   string `yaml:"size"`
	Code   bool   `yaml:"code"`
	Data   bool   `yaml:"data"`
	Access string `yaml:"access"`
}

type regWrite struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type memAccess struct {
	Address string `yaml:"address"`
	Size    uint8  `yaml:"size"`
	IsWrite bool   `yaml:"is_write"`
	Value   string `yaml:"value"`
}

type step struct {
	PC            string      `yaml:"pc"`
	AbsPC         string      `yaml:"abs_pc"`
	Instr         string      `yaml:"instr"`
	Asm           string      `yaml:"asm"`
	NextPC        string      `yaml:"next_pc"`
	GPRWrites     []regWrite  `yaml:"gpr_writes,omitempty"`
	CSRWrites     []regWrite  `yaml:"csr_writes,omitempty"`
	FPRWrites     []regWrite  `yaml:"fpr_writes,omitempty"`
	MemAccesses   []memAccess `yaml:"memory_accesses,omitempty"`
	ExceptionCode *uint64     `yaml:"exception_code,omitempty"`
	ExceptionName string      `yaml:"exception_name,omitempty"`
	IsBranch      bool        `yaml:"is_branch"`
	BranchTaken   bool        `yaml:"branch_taken"`
}

type summaryInfo struct {
	TerminationReason string  `yaml:"termination_reason"`
	TerminationPC     *string `yaml:"termination_pc,omitempty"`
	StepsRecorded     int     `yaml:"steps_recorded"`
}

type document struct {
	LoadAddr             string                `yaml:"load_addr"`
	RAMSize              string                `yaml:"ram_size"`
	BootAddress          string                `yaml:"boot_address"`
	ExitAddress          string                `yaml:"exit_address,omitempty"`
	ExceptionAddress     string                `yaml:"exception_address"`
	Memory               map[string]memoryItem `yaml:"memory"`
	MemoryBanks          []bankInfo            `yaml:"memory_banks"`
	ExecutedInstructions []step                `yaml:"executed_instructions,omitempty"`
	ExecutionSummary     summaryInfo           `yaml:"execution_summary"`
}

func hex64(v uint64) string { return fmt.Sprintf("0x%x", v) }

// Render builds the YAML document for one finished run. Map keys are
// zero-padded hex so the sorted map reads in address order.
func Render(cfg *memconfig.Config, items []*memstore.PlacedItem, sum *generator.Summary,
	asmFor func(uint32) string) ([]byte, error) {
	doc := document{
		LoadAddr:         hex64(cfg.LoadAddr()),
		RAMSize:          hex64(cfg.RAMSize()),
		BootAddress:      hex64(sum.BootAddress),
		ExceptionAddress: hex64(sum.ExceptionAddress),
		Memory:           make(map[string]memoryItem, len(items)),
	}
	if sum.ExitAddress != nil {
		doc.ExitAddress = hex64(*sum.ExitAddress)
	}
	for _, item := range items {
		mi := memoryItem{
			Data:     fmt.Sprintf("0x%x", item.Data),
			ByteSize: item.ByteSize,
			Seq:      item.Seq,
			IsData:   item.IsData,
			Comment:  item.Comment,
		}
		if !item.IsData && item.ByteSize == 4 {
			mi.Asm = asmFor(uint32(item.Data))
		}
		doc.Memory[fmt.Sprintf("0x%016x", item.Addr)] = mi
	}
	for _, b := range cfg.Banks {
		doc.MemoryBanks = append(doc.MemoryBanks, bankInfo{
			Name: b.Name, Base: hex64(b.Base), Size: hex64(b.Size),
			Code: b.Code, Data: b.Data, Access: b.Access,
		})
	}
	for _, s := range sum.Trace {
		doc.ExecutedInstructions = append(doc.ExecutedInstructions, renderStep(s))
	}
	doc.ExecutionSummary = summaryInfo{
		TerminationReason: sum.Reason,
		StepsRecorded:     sum.StepsRecorded,
	}
	if sum.TerminationPC != nil {
		pc := hex64(*sum.TerminationPC)
		doc.ExecutionSummary.TerminationPC = &pc
	}
	return yaml.Marshal(&doc)
}

func renderStep(s generator.StepRecord) step {
	out := step{
		PC:          hex64(s.PC),
		AbsPC:       hex64(s.PC),
		Instr:       fmt.Sprintf("0x%08x", s.Instr),
		Asm:         s.Asm,
		NextPC:      hex64(s.NextPC),
		IsBranch:    s.IsBranch,
		BranchTaken: s.Taken,
	}
	for _, w := range s.GPRWrites {
		out.GPRWrites = append(out.GPRWrites, regWrite{Name: w.Name, Value: hex64(w.Value)})
	}
	for _, w := range s.CSRWrites {
		out.CSRWrites = append(out.CSRWrites, regWrite{Name: w.Name, Value: hex64(w.Value)})
	}
	for _, w := range s.FPRWrites {
		out.FPRWrites = append(out.FPRWrites, regWrite{Name: w.Name, Value: hex64(w.Value)})
	}
	for _, m := range s.Mem {
		out.MemAccesses = append(out.MemAccesses, memAccess{
			Address: hex64(m.Addr), Size: m.Size, IsWrite: m.IsWrite, Value: hex64(m.Value),
		})
	}
	if s.ExceptionCode != nil {
		code := *s.ExceptionCode
		out.ExceptionCode = &code
		out.ExceptionName = s.ExceptionName
	}
	return out
}

// WriteFile renders and writes the dump to path.
func WriteFile(path string, cfg *memconfig.Config, items []*memstore.PlacedItem,
	sum *generator.Summary, asmFor func(uint32) string) error {
	raw, err := Render(cfg, items, sum, asmFor)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
