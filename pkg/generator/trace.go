package generator

import (
	"fmt"

	"github.com/tibbar/tibbar/pkg/isa"
	"github.com/tibbar/tibbar/pkg/model"
)

// RegWrite is one register (or CSR) write observed in a model step,
// with the value left behind.
type RegWrite struct {
	Name  string
	Value uint64
}

// StepRecord is one executed instruction in the debug trace.
type StepRecord struct {
	PC            uint64
	Instr         uint32
	Asm           string
	NextPC        uint64
	GPRWrites     []RegWrite
	FPRWrites     []RegWrite
	CSRWrites     []RegWrite
	Mem           []model.MemAccess
	ExceptionCode *uint64
	ExceptionName string
	IsBranch      bool
	Taken         bool
}

func (g *Generator) renderWord(opc uint32) string {
	if enc, ok := isa.Decode(opc); ok {
		return isa.Render(enc)
	}
	return fmt.Sprintf(".word 0x%08x", opc)
}

// recordStep appends one trace entry, peeking the post-step register
// values from the machine. Recording is skipped entirely unless the
// run asked for a trace.
func (g *Generator) recordStep(pc uint64, opc uint32, asm string, changes model.Changes, exception *uint64) {
	if !g.trace {
		return
	}
	rec := StepRecord{
		PC:       pc,
		Instr:    opc,
		Asm:      asm,
		NextPC:   changes.NextPC,
		Mem:      changes.Mem,
		IsBranch: changes.IsBranch,
		Taken:    changes.Taken,
	}
	for _, r := range changes.GPRWritten {
		rec.GPRWrites = append(rec.GPRWrites, RegWrite{Name: isa.GPRName(r), Value: g.machine.PeekGPR(r)})
	}
	for _, r := range changes.FPRWritten {
		rec.FPRWrites = append(rec.FPRWrites, RegWrite{Name: isa.FPRName(r), Value: g.machine.PeekFPR(r)})
	}
	for _, c := range changes.CSRWritten {
		rec.CSRWrites = append(rec.CSRWrites, RegWrite{Name: csrName(c), Value: g.machine.PeekCSR(c)})
	}
	if exception != nil {
		code := *exception
		rec.ExceptionCode = &code
		rec.ExceptionName = isa.ExceptionCause(code).String()
	}
	g.steps = append(g.steps, rec)
}

func csrName(address uint16) string {
	for _, c := range isa.CSRs() {
		if c.Address == address {
			return c.Name
		}
	}
	return fmt.Sprintf("0x%x", address)
}
