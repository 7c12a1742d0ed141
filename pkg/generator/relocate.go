package generator

import (
	"github.com/tibbar/tibbar/pkg/isa"
	"github.com/tibbar/tibbar/pkg/memstore"
	"github.com/tibbar/tibbar/pkg/sequence"
)

// relocateBlockBytes is how much fresh contiguous code space a
// relocation claims at the jump target.
const relocateBlockBytes = 64 * 4

// relocateSequence bridges the current pc to a freshly allocated code
// region. Two strategies, chosen by reach:
//
//   - a direct `jal x0` when the target is within the 21-bit jump
//     range of the current pc;
//   - otherwise an mscratch-mediated far jump: x5 is swapped into
//     mscratch, loaded with the target via auipc/addi, jumped through,
//     and restored by a matching swap placed at the landing pad — so
//     no sequence's register state is disturbed across the relocation.
//
// All immediates are precomputed against the strictly sequential
// placement the low-space produce path guarantees (pc, pc+4, ...).
type relocateSequence struct {
	items []sequence.GeneratedItem
	idx   int
}

func newRelocateSequence(g *Generator) *relocateSequence {
	pc := g.pc
	target, err := g.store.Allocate(g.rng, relocateBlockBytes, 8, memstore.PurposeCode,
		memstore.AllocOpts{PC: &pc})
	if err != nil {
		// Allocation exhaustion is retryable by policy: yield nothing
		// and let the main stream keep squeezing into what remains.
		g.log.Warnf("relocation from 0x%x found no free code block", pc)
		return &relocateSequence{}
	}

	delta := int64(*target) - int64(pc)
	if delta >= -(1<<20) && delta < (1<<20) {
		return &relocateSequence{items: []sequence.GeneratedItem{{
			Data:     uint64(mustEncode(mustLookup("jal"), 0, 0, 0, delta)),
			ByteSize: 4, Seq: seqRelocate,
		}}}
	}

	swap := uint64(mustEncodeCSR(mustLookup("csrrw"), 5, isa.CSRMscratch, 5))
	hi, lo := hiLo(int64(*target) - int64(pc+4))
	restoreAddr := *target
	return &relocateSequence{items: []sequence.GeneratedItem{
		{Data: swap, ByteSize: 4, Seq: seqRelocate},
		{Data: uint64(mustEncode(mustLookup("auipc"), 5, 0, 0, hi<<12)), ByteSize: 4, Seq: seqRelocate},
		{Data: uint64(mustEncode(mustLookup("addi"), 5, 5, 0, lo)), ByteSize: 4, Seq: seqRelocate},
		{Data: uint64(mustEncode(mustLookup("jalr"), 0, 5, 0, 0)), ByteSize: 4, Seq: seqRelocate},
		{Data: swap, ByteSize: 4, Seq: seqRelocate, Addr: &restoreAddr},
	}}
}

func (s *relocateSequence) Next() (sequence.GeneratedItem, bool) {
	if s.idx >= len(s.items) {
		return sequence.GeneratedItem{}, false
	}
	item := s.items[s.idx]
	s.idx++
	return item, true
}
