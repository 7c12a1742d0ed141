// Package recipes holds the generator catalog the CLI's --generator
// flag selects from: each recipe wires a funnel of sequences
// appropriate to its name over the shared generation environment.
package recipes

import (
	"strings"

	"github.com/tibbar/tibbar/pkg/generator"
	"github.com/tibbar/tibbar/pkg/isa"
	"github.com/tibbar/tibbar/pkg/memstore"
	"github.com/tibbar/tibbar/pkg/reserver"
	"github.com/tibbar/tibbar/pkg/sequence"
)

// thunk defers building an item until the moment it is yielded, when
// the model's pc equals the address the item will be placed at — the
// hook that lets sequences read live machine state when they need it.
type thunk func() sequence.GeneratedItem

// seqCore is the shared sequence chassis: a resource request, the
// granted claim, a bounded number of logical emissions, and a pending
// queue of thunks the emissions expand into.
type seqCore struct {
	env       *generator.Env
	name      string
	req       reserver.Request
	claim     reserver.AllocatedClaim
	remaining int
	pending   []thunk
	emit      func(s *seqCore) []thunk
}

func (s *seqCore) ResourceRequests() reserver.Request { return s.req }
func (s *seqCore) SetClaim(c reserver.AllocatedClaim) { s.claim = c }

func (s *seqCore) Next() (sequence.GeneratedItem, bool) {
	for len(s.pending) == 0 {
		if s.remaining <= 0 {
			return sequence.GeneratedItem{}, false
		}
		s.remaining--
		// emit may return nothing (an exhausted allocation is skipped
		// silently); the loop then charges the next emission.
		s.pending = s.emit(s)
	}
	t := s.pending[0]
	s.pending = s.pending[1:]
	return t(), true
}

// claimedGPRs returns the sequence's granted GPR indices, exclusive
// holds first.
func (s *seqCore) claimedGPRs() []int {
	return claimIndices(s.claim, isa.NamespaceGPR)
}

func claimIndices(c reserver.AllocatedClaim, ns isa.ResourceNamespace) []int {
	var out []int
	for _, id := range c.Exclusive {
		if id.Namespace == ns {
			out = append(out, id.ID.(int))
		}
	}
	for _, id := range c.Shared {
		if id.Namespace == ns {
			out = append(out, id.ID.(int))
		}
	}
	return out
}

func (s *seqCore) pickGPR(regs []int) uint8 {
	return uint8(regs[s.env.Rng.Intn(len(regs))])
}

func (s *seqCore) randGPR() uint8 { return uint8(1 + s.env.Rng.Intn(31)) }
func (s *seqCore) randFPR() uint8 { return uint8(s.env.Rng.Intn(32)) }

// word wraps an encoded instruction as a yield-ready thunk.
func (s *seqCore) word(w uint32) thunk {
	return func() sequence.GeneratedItem {
		return sequence.GeneratedItem{Data: uint64(w), ByteSize: 4, Seq: s.name}
	}
}

// liThunks materializes an absolute 64-bit value into reg through the
// lui/addiw (plus slli/addi) expansion. The words are position-
// independent, so the funnel may interleave them freely.
func (s *seqCore) liThunks(reg uint8, value uint64) []thunk {
	var out []thunk
	for _, w := range isa.LoadImmWords(reg, value) {
		out = append(out, s.word(w))
	}
	return out
}

func encode(mnemonic string, rd, rs1, rs2 uint8, imm int64) uint32 {
	ins, ok := isa.Lookup(mnemonic)
	if !ok {
		panic("unknown mnemonic " + mnemonic)
	}
	w, err := isa.Encode(ins, rd, rs1, rs2, imm)
	if err != nil {
		panic(err)
	}
	return w
}

// sampleImm draws an immediate matching the instruction's sampling
// profile.
func (s *seqCore) sampleImm(mnemonic string) int64 {
	isShift, width, signed := isa.ImmediateSamplingProfile(mnemonic, 12)
	if isShift || !signed {
		return int64(s.env.Rng.Intn(1 << width))
	}
	half := int64(1) << (width - 1)
	return s.env.Rng.Int63n(2*half) - half
}

var (
	intRRMnems = []string{
		"add", "sub", "sll", "slt", "sltu", "xor", "srl", "sra", "or", "and",
		"addw", "subw", "sllw", "srlw", "sraw",
		"mul", "mulh", "mulhu", "mulhsu", "div", "divu", "rem", "remu",
		"mulw", "divw", "divuw", "remw", "remuw",
	}
	intImmMnems = []string{
		"addi", "slti", "sltiu", "xori", "ori", "andi",
		"slli", "srli", "srai", "addiw", "slliw", "srliw", "sraiw",
	}
	branchMnems = []string{"beq", "bne", "blt", "bge", "bltu", "bgeu"}
)

type loadKind struct {
	mnemonic string
	size     uint8
}

var loadKinds = []loadKind{
	{"lb", 1}, {"lbu", 1}, {"lh", 2}, {"lhu", 2}, {"lw", 4}, {"lwu", 4}, {"ld", 8},
}

var storeKinds = []loadKind{
	{"sb", 1}, {"sh", 2}, {"sw", 4}, {"sd", 8},
}

// floatRegOps returns the register-form float instructions whose FPR
// source count falls in [minSrc, maxSrc]. Loads/stores are excluded:
// their operand traffic goes through the data-region helpers instead.
func floatRegOps(minSrc, maxSrc int) []isa.Instruction {
	var out []isa.Instruction
	for _, ins := range isa.Instructions() {
		if ins.Extension != isa.ExtF && ins.Extension != isa.ExtD {
			continue
		}
		if ins.Format != isa.FormatR {
			continue
		}
		n := len(ins.FPRSourceOperands)
		if n < minSrc || n > maxSrc {
			continue
		}
		out = append(out, ins)
	}
	return out
}

func isDoubleMnemonic(m string) bool { return strings.Contains(m, ".d") }

// randomFloatRegs assigns a register to every operand slot: FPRs drawn
// from the whole file, GPR destinations kept off x0.
func (s *seqCore) randomFloatRegs(ins *isa.Instruction) [3]uint8 {
	var regs [3]uint8
	for pos, kind := range ins.Operands {
		if pos > 2 {
			break
		}
		switch kind {
		case isa.OperandFPR:
			regs[pos] = s.randFPR()
		case isa.OperandGPR:
			regs[pos] = s.randGPR()
		}
	}
	return regs
}

func mustFloatWord(ins *isa.Instruction, regs [3]uint8) uint32 {
	w, err := isa.Encode(ins, regs[0], regs[1], regs[2], 0)
	if err != nil {
		panic(err)
	}
	return w
}

// regionLdstSafe reports whether backing words for [base, base+size)
// can ride along as associated load data: the region must be fully
// behind the pc or inside a pure data bank. Anything that could sit in
// the code path ahead must be placed eagerly, in the same produce turn
// as its allocation, before any code item advances the pc.
func (s *seqCore) regionLdstSafe(base, size uint64) bool {
	if base+size <= s.env.Machine.GetPC() {
		return true
	}
	return s.env.Mapper.FindDataSegmentIndex(base, size) >= 0 && !s.env.Mapper.IsRuntimeCode(base)
}

func (s *seqCore) eagerDataThunk(addr, value uint64) thunk {
	return func() sequence.GeneratedItem {
		a := addr
		return sequence.GeneratedItem{
			Data: value, ByteSize: 8, Addr: &a, Seq: s.name, IsData: true,
		}
	}
}

func (s *seqCore) fldThunk(fd, base uint8, off int64, addr, value uint64, ldst bool) thunk {
	w := encode("fld", fd, base, 0, off)
	if !ldst {
		return s.word(w)
	}
	return func() sequence.GeneratedItem {
		a := addr
		return sequence.GeneratedItem{
			Data: uint64(w), ByteSize: 4, Seq: s.name,
			LdstAddr: &a, LdstData: value, LdstSize: 8,
		}
	}
}

// newArithSequence emits random integer arithmetic over three
// exclusively claimed GPRs.
func newArithSequence(env *generator.Env, name string, count int) *seqCore {
	s := &seqCore{
		env: env, name: name, remaining: count,
		req: reserver.Request{ExclusiveSlots: []reserver.ResourceSlot{{Namespace: isa.NamespaceGPR, Count: 3}}},
	}
	s.emit = func(s *seqCore) []thunk {
		regs := s.claimedGPRs()
		if s.env.Rng.Intn(2) == 0 {
			m := intRRMnems[s.env.Rng.Intn(len(intRRMnems))]
			return []thunk{s.word(encode(m, s.pickGPR(regs), s.pickGPR(regs), s.pickGPR(regs), 0))}
		}
		m := intImmMnems[s.env.Rng.Intn(len(intImmMnems))]
		return []thunk{s.word(encode(m, s.pickGPR(regs), s.pickGPR(regs), 0, s.sampleImm(m)))}
	}
	return s
}

// newSetGPRsSequence loads x1..x31 with a mix of random 64-bit values,
// zero, and a fixed sentinel, through the load-immediate expansion.
func newSetGPRsSequence(env *generator.Env) *seqCore {
	s := &seqCore{env: env, name: "SetGPRs", remaining: 31}
	reg := 0
	s.emit = func(s *seqCore) []thunk {
		reg++
		var val uint64
		switch s.env.Rng.Intn(3) {
		case 0:
			val = s.env.Rng.Uint64()
		case 1:
			val = 0
		default:
			val = 0xDEAD_BEEF
		}
		return s.liThunks(uint8(reg), val)
	}
	return s
}

// newLdstSequence emits load/store traffic against freshly allocated
// data words. A load whose backing data lies safely behind the pc (or
// in a pure data bank) uses the associated-data flow; a word that
// could sit in the code path ahead is placed eagerly instead, in the
// same produce step as its allocation.
func newLdstSequence(env *generator.Env, name string, count int) *seqCore {
	s := &seqCore{
		env: env, name: name, remaining: count,
		req: reserver.Request{ExclusiveSlots: []reserver.ResourceSlot{{Namespace: isa.NamespaceGPR, Count: 2}}},
	}
	s.emit = emitLdst
	return s
}

func emitLdst(s *seqCore) []thunk {
	regs := s.claimedGPRs()
	base, dest := uint8(regs[0]), uint8(regs[1])

	target, err := s.env.Store.Allocate(s.env.Rng, 8, 8, memstore.PurposeData, memstore.AllocOpts{})
	if err != nil {
		return nil
	}
	dataAddr := *target
	value := s.env.Rng.Uint64()
	kind := loadKinds[s.env.Rng.Intn(len(loadKinds))]
	useLdst := s.regionLdstSafe(dataAddr, 8)

	var thunks []thunk
	if !useLdst {
		thunks = append(thunks, s.eagerDataThunk(dataAddr, value))
	}
	thunks = append(thunks, s.liThunks(base, dataAddr)...)
	thunks = append(thunks, func() sequence.GeneratedItem {
		item := sequence.GeneratedItem{
			Data: uint64(encode(kind.mnemonic, dest, base, 0, 0)), ByteSize: 4, Seq: s.name,
		}
		if useLdst {
			a := dataAddr
			item.LdstAddr = &a
			item.LdstData = value
			item.LdstSize = 8
		}
		return item
	})
	if st := storeKinds[s.env.Rng.Intn(len(storeKinds))]; s.env.Rng.Intn(2) == 0 {
		thunks = append(thunks, s.word(encode(st.mnemonic, 0, base, dest, 0)))
	}
	return thunks
}

// newBranchingSequence emits forward conditional branches into freshly
// allocated nearby blocks, so both legs of every branch stay inside
// reserved code space.
func newBranchingSequence(env *generator.Env, name string, count int) *seqCore {
	s := &seqCore{
		env: env, name: name, remaining: count,
		req: reserver.Request{ExclusiveSlots: []reserver.ResourceSlot{{Namespace: isa.NamespaceGPR, Count: 2}}},
	}
	s.emit = func(s *seqCore) []thunk {
		regs := s.claimedGPRs()
		a, b := s.pickGPR(regs), s.pickGPR(regs)
		m := branchMnems[s.env.Rng.Intn(len(branchMnems))]
		branch := func() sequence.GeneratedItem {
			pc := s.env.Machine.GetPC()
			delta := int64(8) // fallback: skip one slot
			target, err := s.env.Store.Allocate(s.env.Rng, 16*4, 4, memstore.PurposeCode, memstore.AllocOpts{
				PC:     &pc,
				Within: &memstore.Window{MinOffset: 8, MaxOffset: 4090},
			})
			if err == nil {
				delta = int64(*target) - int64(pc)
			}
			return sequence.GeneratedItem{
				Data: uint64(encode(m, 0, a, b, delta)), ByteSize: 4, Seq: s.name,
			}
		}
		return []thunk{branch}
	}
	return s
}

// newAbsoluteJumpSequence materializes a freshly allocated code
// address into a claimed GPR and jumps there indirectly.
func newAbsoluteJumpSequence(env *generator.Env, name string, count int) *seqCore {
	s := &seqCore{
		env: env, name: name, remaining: count,
		req: reserver.Request{ExclusiveSlots: []reserver.ResourceSlot{{Namespace: isa.NamespaceGPR, Count: 1}}},
	}
	s.emit = func(s *seqCore) []thunk {
		reg := uint8(s.claimedGPRs()[0])
		pc := s.env.Machine.GetPC()
		target, err := s.env.Store.Allocate(s.env.Rng, 64, 4, memstore.PurposeCode, memstore.AllocOpts{PC: &pc})
		if err != nil {
			return nil
		}
		thunks := s.liThunks(reg, *target&^3)
		return append(thunks, s.word(encode("jalr", 0, reg, 0, 0)))
	}
	return s
}

// newRandomFloatSequence emits register-form float instructions with
// fully random operands over the whole FPR file, relying on an earlier
// SetFPRs pass for interesting source values.
func newRandomFloatSequence(env *generator.Env, name string, count int) *seqCore {
	s := &seqCore{env: env, name: name, remaining: count}
	pool := floatRegOps(0, 2)
	s.emit = func(s *seqCore) []thunk {
		ins := pool[s.env.Rng.Intn(len(pool))]
		return []thunk{s.word(mustFloatWord(&ins, s.randomFloatRegs(&ins)))}
	}
	return s
}

// fprPopulationThunks loads every FPR from a freshly allocated data
// region filled with weighted float bit patterns.
func (s *seqCore) fprPopulationThunks(pF64 float64) []thunk {
	fg := newFloatGen(s.env.Rng)
	values := make([]uint64, 32)
	for i := range values {
		values[i] = fg.genAny(pF64)
	}
	region, err := s.env.Store.Allocate(s.env.Rng, 32*8, 8, memstore.PurposeData, memstore.AllocOpts{})
	if err != nil {
		return nil
	}
	base := *region
	ldst := s.regionLdstSafe(base, 32*8)

	var thunks []thunk
	if !ldst {
		for i, v := range values {
			thunks = append(thunks, s.eagerDataThunk(base+uint64(8*i), v))
		}
	}
	thunks = append(thunks, s.liThunks(1, base)...)
	for i, v := range values {
		off := int64(8 * i)
		thunks = append(thunks, s.fldThunk(uint8(i), 1, off, base+uint64(off), v, ldst))
	}
	return thunks
}

// newSetFPRsSequence populates all 32 FPRs from a data region of
// weighted float patterns; pF64 biases between single and double
// precision values.
func newSetFPRsSequence(env *generator.Env, pF64 float64) *seqCore {
	s := &seqCore{env: env, name: "SetFPRs", remaining: 1}
	s.emit = func(s *seqCore) []thunk { return s.fprPopulationThunks(pF64) }
	return s
}

// stressCombos sweeps both polarities across the full cross product of
// exponent and mantissa range buckets.
type stressCombo struct {
	negative   bool
	expR, manR floatRange
}

func stressCombos() []stressCombo {
	var out []stressCombo
	for _, neg := range []bool{false, true} {
		for _, e := range expMantRanges {
			for _, m := range expMantRanges {
				out = append(out, stressCombo{negative: neg, expR: e, manR: m})
			}
		}
	}
	return out
}

// newStressSingleFPRSequence picks one single-FPR-source float
// instruction and drives its source through every polarity, exponent
// range, and mantissa range combination, reloading the source register
// before each execution.
func newStressSingleFPRSequence(env *generator.Env) *seqCore {
	s := &seqCore{env: env, name: "StressSingleFPRSourceFloatInstrs", remaining: 1}
	s.emit = func(s *seqCore) []thunk {
		pool := floatRegOps(1, 1)
		if len(pool) == 0 {
			return nil
		}
		ins := pool[s.env.Rng.Intn(len(pool))]
		regs := s.randomFloatRegs(&ins)
		srcReg := regs[ins.FPRSourceOperands[0]]
		opWord := mustFloatWord(&ins, regs)
		f64 := isDoubleMnemonic(ins.Mnemonic)

		fg := newFloatGen(s.env.Rng)
		combos := stressCombos()
		values := make([]uint64, len(combos))
		for i, c := range combos {
			values[i] = fg.genNum(f64, c.negative, c.expR, c.manR)
		}
		region, err := s.env.Store.Allocate(s.env.Rng, uint64(len(values))*8, 8, memstore.PurposeData, memstore.AllocOpts{})
		if err != nil {
			return nil
		}
		base := *region
		ldst := s.regionLdstSafe(base, uint64(len(values))*8)

		var thunks []thunk
		if !ldst {
			for i, v := range values {
				thunks = append(thunks, s.eagerDataThunk(base+uint64(8*i), v))
			}
		}
		thunks = append(thunks, s.liThunks(1, base)...)
		for i, v := range values {
			off := int64(8 * i)
			thunks = append(thunks,
				s.fldThunk(srcReg, 1, off, base+uint64(off), v, ldst),
				s.word(opWord),
			)
		}
		return thunks
	}
	return s
}

// newStressMultiFPRSequence picks a float instruction with at least
// one FPR source, loads the non-stressed sources once with weighted
// patterns, and sweeps the stressed source through the full range
// cross product.
func newStressMultiFPRSequence(env *generator.Env) *seqCore {
	s := &seqCore{env: env, name: "StressMultiFPRSourceFloatInstrs", remaining: 1}
	s.emit = func(s *seqCore) []thunk {
		pool := floatRegOps(1, 2)
		if len(pool) == 0 {
			return nil
		}
		ins := pool[s.env.Rng.Intn(len(pool))]
		regs := s.randomFloatRegs(&ins)
		srcs := ins.FPRSourceOperands
		stressed := srcs[s.env.Rng.Intn(len(srcs))]
		opWord := mustFloatWord(&ins, regs)
		f64 := isDoubleMnemonic(ins.Mnemonic)

		fg := newFloatGen(s.env.Rng)
		var otherValues []uint64
		var otherRegs []uint8
		for _, pos := range srcs {
			if pos == stressed {
				continue
			}
			otherValues = append(otherValues, fg.genAny(boolToProb(f64)))
			otherRegs = append(otherRegs, regs[pos])
		}
		combos := stressCombos()
		sweep := make([]uint64, len(combos))
		for i, c := range combos {
			sweep[i] = fg.genNum(f64, c.negative, c.expR, c.manR)
		}
		total := len(otherValues) + len(sweep)
		region, err := s.env.Store.Allocate(s.env.Rng, uint64(total)*8, 8, memstore.PurposeData, memstore.AllocOpts{})
		if err != nil {
			return nil
		}
		base := *region
		ldst := s.regionLdstSafe(base, uint64(total)*8)

		var thunks []thunk
		if !ldst {
			for i, v := range otherValues {
				thunks = append(thunks, s.eagerDataThunk(base+uint64(8*i), v))
			}
			for i, v := range sweep {
				thunks = append(thunks, s.eagerDataThunk(base+uint64(8*(len(otherValues)+i)), v))
			}
		}
		thunks = append(thunks, s.liThunks(1, base)...)
		off := int64(0)
		for i, v := range otherValues {
			thunks = append(thunks, s.fldThunk(otherRegs[i], 1, off, base+uint64(off), v, ldst))
			off += 8
		}
		stressedReg := regs[stressed]
		for _, v := range sweep {
			thunks = append(thunks,
				s.fldThunk(stressedReg, 1, off, base+uint64(off), v, ldst),
				s.word(opWord),
			)
			off += 8
		}
		return thunks
	}
	return s
}

func boolToProb(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// newFloatDivSqrtSequence repopulates the FPR file, then exhausts the
// operand space of one divide or square-root instruction: every source
// pair for fdiv, every source for fsqrt.
func newFloatDivSqrtSequence(env *generator.Env) *seqCore {
	s := &seqCore{env: env, name: "FloatDivSqrt", remaining: 1}
	s.emit = func(s *seqCore) []thunk {
		mnems := []string{"fdiv.s", "fdiv.d", "fsqrt.s", "fsqrt.d"}
		m := mnems[s.env.Rng.Intn(len(mnems))]
		ins, ok := isa.Lookup(m)
		if !ok {
			return nil
		}
		thunks := s.fprPopulationThunks(boolToProb(isDoubleMnemonic(m)))
		if thunks == nil {
			return nil
		}
		dest := s.randFPR()
		if strings.HasPrefix(m, "fsqrt") {
			for src := uint8(0); src < 32; src++ {
				thunks = append(thunks, s.word(mustFloatWord(ins, [3]uint8{dest, src, 0})))
			}
			return thunks
		}
		for src1 := uint8(0); src1 < 32; src1++ {
			for src2 := uint8(0); src2 < 32; src2++ {
				thunks = append(thunks, s.word(mustFloatWord(ins, [3]uint8{dest, src1, src2})))
			}
		}
		return thunks
	}
	return s
}

// newHazardSequence hammers a small shared register set with
// dependent back-to-back writes, stressing write-after-write and
// read-after-write chains in the model.
func newHazardSequence(env *generator.Env, name string, count int) *seqCore {
	s := &seqCore{
		env: env, name: name, remaining: count,
		req: reserver.Request{SharedSlots: []reserver.ResourceSlot{{Namespace: isa.NamespaceGPR, Count: 2}}},
	}
	s.emit = func(s *seqCore) []thunk {
		regs := s.claimedGPRs()
		r1, r2 := uint8(regs[0]), uint8(regs[1])
		m1 := intRRMnems[s.env.Rng.Intn(len(intRRMnems))]
		m2 := intRRMnems[s.env.Rng.Intn(len(intRRMnems))]
		return []thunk{
			s.word(encode(m1, r1, r1, r2, 0)),
			s.word(encode(m2, r1, r1, r1, 0)),
			s.word(encode("add", r2, r1, r2, 0)),
		}
	}
	return s
}

// newLoadExceptionSequence emits loads with x0 as the base register:
// the access targets address zero, outside every mapped bank, so each
// one traps and resumes through the exception handler.
func newLoadExceptionSequence(env *generator.Env, count int) *seqCore {
	s := &seqCore{
		env: env, name: "LoadException", remaining: count,
		req: reserver.Request{ExclusiveSlots: []reserver.ResourceSlot{{Namespace: isa.NamespaceGPR, Count: 1}}},
	}
	s.emit = func(s *seqCore) []thunk {
		dest := uint8(s.claimedGPRs()[0])
		kind := loadKinds[s.env.Rng.Intn(len(loadKinds))]
		return []thunk{s.word(encode(kind.mnemonic, dest, 0, 0, 0))}
	}
	return s
}
