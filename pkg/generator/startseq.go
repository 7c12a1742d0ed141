package generator

import (
	"github.com/tibbar/tibbar/pkg/isa"
	"github.com/tibbar/tibbar/pkg/memstore"
	"github.com/tibbar/tibbar/pkg/sequence"
)

const (
	seqProgramStart     = "ProgramStart"
	seqExceptionHandler = "ExceptionHandler"
	seqProgramEnd       = "DefaultProgramEnd"
	seqRelocate         = "Relocate"
)

// mustEncode wraps isa.Encode for instructions built from fixed, known
// valid operands; an encode failure here is a table bug, not input.
func mustEncode(ins *isa.Instruction, rd, rs1, rs2 uint8, imm int64) uint32 {
	w, err := isa.Encode(ins, rd, rs1, rs2, imm)
	if err != nil {
		panic(err)
	}
	return w
}

func mustEncodeCSR(ins *isa.Instruction, rd uint8, csr uint16, srcOrImm uint8) uint32 {
	w, err := isa.EncodeCSR(ins, rd, csr, srcOrImm)
	if err != nil {
		panic(err)
	}
	return w
}

func mustLookup(mnemonic string) *isa.Instruction {
	ins, ok := isa.Lookup(mnemonic)
	if !ok {
		panic("unknown mnemonic " + mnemonic)
	}
	return ins
}

// hiLo splits a pc-relative delta into the auipc/addi pair: hi carries
// the upper 20 bits rounded so the low 12-bit half stays in signed
// range.
func hiLo(delta int64) (hi, lo int64) {
	hi = (delta + 0x800) >> 12
	lo = delta - (hi << 12)
	return hi, lo
}

func codeItem(word uint32, tag string) sequence.GeneratedItem {
	return sequence.GeneratedItem{Data: uint64(word), ByteSize: 4, Seq: tag}
}

// programStartSequence emits the boot prologue: the exception handler
// at its own allocated block, then the mtvec setup pointing traps at
// it. The handler resumes after the faulting instruction (read mepc,
// advance by 4, write it back, mret), so a trap is a detour, not a
// dead end.
type programStartSequence struct {
	items []sequence.GeneratedItem
	idx   int
}

func newProgramStartSequence(g *Generator) *programStartSequence {
	handler := g.exceptionAddr
	handlerWords := []uint32{
		mustEncodeCSR(mustLookup("csrrs"), 1, isa.CSRMepc, 0),
		mustEncode(mustLookup("addi"), 1, 1, 0, 4),
		mustEncodeCSR(mustLookup("csrrw"), 0, isa.CSRMepc, 1),
		mustEncode(mustLookup("mret"), 0, 0, 0, 0),
	}
	var items []sequence.GeneratedItem
	for i, w := range handlerWords {
		at := handler + uint64(4*i)
		item := codeItem(w, seqExceptionHandler)
		item.Addr = &at
		items = append(items, item)
	}
	for _, w := range isa.LoadImmWords(1, handler) {
		items = append(items, codeItem(w, seqProgramStart))
	}
	items = append(items, codeItem(mustEncodeCSR(mustLookup("csrrw"), 0, isa.CSRMtvec, 1), seqProgramStart))
	return &programStartSequence{items: items}
}

func (s *programStartSequence) Next() (sequence.GeneratedItem, bool) {
	if s.idx >= len(s.items) {
		return sequence.GeneratedItem{}, false
	}
	item := s.items[s.idx]
	s.idx++
	return item, true
}

// programEndSequence jumps to a freshly allocated exit region and
// parks there in a self-loop; when no region can be allocated the
// self-loop lands inline instead.
type programEndSequence struct {
	g     *Generator
	items []sequence.GeneratedItem
	built bool
	idx   int
}

func newProgramEndSequence(g *Generator) *programEndSequence {
	return &programEndSequence{g: g}
}

func (s *programEndSequence) build() {
	s.built = true
	selfLoop := codeItem(mustEncode(mustLookup("jal"), 0, 0, 0, 0), seqProgramEnd)
	selfLoop.SafeToJumpTo = true

	exit, err := s.g.store.Allocate(s.g.rng, 16, 8, memstore.PurposeCode, memstore.AllocOpts{})
	if err != nil {
		s.items = []sequence.GeneratedItem{selfLoop}
		return
	}
	for _, w := range isa.LoadImmWords(1, *exit) {
		s.items = append(s.items, codeItem(w, seqProgramEnd))
	}
	s.items = append(s.items,
		codeItem(mustEncode(mustLookup("jalr"), 0, 1, 0, 0), seqProgramEnd),
		selfLoop, // lands at the exit region once the jalr retires
	)
}

func (s *programEndSequence) Next() (sequence.GeneratedItem, bool) {
	if !s.built {
		s.build()
	}
	if s.idx >= len(s.items) {
		return sequence.GeneratedItem{}, false
	}
	item := s.items[s.idx]
	s.idx++
	return item, true
}
