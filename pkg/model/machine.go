// Package model implements the architectural machine the generator
// co-simulates against: a single-step execution engine over RV64's
// 32 GPRs, 32 FPRs, and the trap CSRs, driving every load and store
// through an injected memory adapter.
package model

import (
	"math"

	"github.com/tibbar/tibbar/pkg/isa"
)

// MemoryAdapter is the narrow interface the Machine drives loads and
// stores through; memadapter.Adapter is the production implementation
// backed by a MemoryStore, but tests can substitute a bare map.
type MemoryAdapter interface {
	Load(address uint64, size uint8) (uint64, error)
	Store(address uint64, value uint64, size uint8) error
}

// Trap records a synchronous exception raised by the last Execute call.
type Trap struct {
	Cause isa.ExceptionCause
	Tval  uint64
}

// MemAccess records one load or store the instruction attempted,
// whether or not the adapter accepted it.
type MemAccess struct {
	Addr    uint64
	Size    uint8
	IsWrite bool
	Value   uint64
}

// Changes reports what a single Execute call did, so the generator can
// decide whether to advance pc by 4, take a relocation branch, or
// terminate on a self-loop.
type Changes struct {
	NextPC     uint64
	GPRWritten []int
	FPRWritten []int
	CSRWritten []uint16
	Mem        []MemAccess
	Trap       *Trap
	IsBranch   bool
	Taken      bool
}

// Machine is the single-stepped architectural model. There is no
// pipeline and no timing: Execute applies one decoded instruction's
// full effect atomically.
type Machine struct {
	gpr [32]uint64
	fpr [32]uint64
	pc  uint64
	csr map[uint16]uint64

	mem MemoryAdapter
}

// New returns a Machine with all registers zeroed, wired to mem for
// loads and stores.
func New(mem MemoryAdapter) *Machine {
	return &Machine{csr: make(map[uint16]uint64), mem: mem}
}

// PokePC sets the program counter without executing anything, used by
// the generator to seed the boot address and apply relocations.
func (m *Machine) PokePC(pc uint64) { m.pc = pc }

// GetPC returns the current program counter.
func (m *Machine) GetPC() uint64 { return m.pc }

// PokeGPR sets a GPR directly (bypassing any instruction semantics),
// used by recipes that need to pre-seed pointer registers.
func (m *Machine) PokeGPR(i int, v uint64) {
	if i == 0 {
		return
	}
	m.gpr[i] = v
}

// PeekGPR returns a GPR's current value; x0 always reads zero.
func (m *Machine) PeekGPR(i int) uint64 {
	if i == 0 {
		return 0
	}
	return m.gpr[i]
}

// PokeFPR / PeekFPR mirror PokeGPR / PeekGPR for the float file.
func (m *Machine) PokeFPR(i int, bits uint64) { m.fpr[i] = bits }
func (m *Machine) PeekFPR(i int) uint64       { return m.fpr[i] }

// PokeCSR / PeekCSR give the generator direct access to trap state
// (mepc, mcause, mtval) when applying or clearing a trap.
func (m *Machine) PokeCSR(addr uint16, v uint64) { m.csr[addr] = v }
func (m *Machine) PeekCSR(addr uint16) uint64    { return m.csr[addr] }

func (m *Machine) setGPR(i int, v uint64) {
	if i == 0 {
		return
	}
	m.gpr[i] = v
}

// Execute decodes word (as fetched at the current pc) and applies its
// effect, returning the resulting register/PC changes. It does not
// itself advance pc on the happy path; callers read Changes.NextPC.
func (m *Machine) Execute(word uint32) (Changes, error) {
	enc, ok := isa.Decode(word)
	if !ok {
		return Changes{}, &DecodeError{Word: word}
	}
	return m.dispatch(enc), nil
}

// DecodeError signals a word that matched no instruction descriptor.
type DecodeError struct{ Word uint32 }

func (e *DecodeError) Error() string { return "model: undecodable instruction word" }

func (m *Machine) dispatch(e *isa.Encoded) Changes {
	ins := e.Ins
	fallthroughPC := m.pc + 4

	switch ins.Extension {
	case isa.ExtZicsr:
		return m.execCSR(e, fallthroughPC)
	case isa.ExtF, isa.ExtD:
		return m.execFloat(e, fallthroughPC)
	}

	switch ins.Format {
	case isa.FormatR:
		return m.execR(e, fallthroughPC)
	case isa.FormatI:
		return m.execI(e, fallthroughPC)
	case isa.FormatS:
		return m.execS(e, fallthroughPC)
	case isa.FormatB:
		return m.execB(e, fallthroughPC)
	case isa.FormatU:
		return m.execU(e, fallthroughPC)
	case isa.FormatJ:
		return m.execJ(e, fallthroughPC)
	case isa.FormatSystem:
		return m.execSystem(e, fallthroughPC)
	}
	return Changes{NextPC: fallthroughPC}
}

func (m *Machine) execR(e *isa.Encoded, fallthroughPC uint64) Changes {
	a, b := m.gpr[e.Rs1], m.gpr[e.Rs2]
	var r uint64
	switch e.Ins.Mnemonic {
	case "add":
		r = a + b
	case "sub":
		r = a - b
	case "sll":
		r = a << (b & 0x3F)
	case "slt":
		r = boolToU64(int64(a) < int64(b))
	case "sltu":
		r = boolToU64(a < b)
	case "xor":
		r = a ^ b
	case "srl":
		r = a >> (b & 0x3F)
	case "sra":
		r = uint64(int64(a) >> (b & 0x3F))
	case "or":
		r = a | b
	case "and":
		r = a & b
	case "mul":
		r = a * b
	case "mulh":
		r = uint64(mulHigh(int64(a), int64(b)))
	case "mulhu":
		hi, _ := bits64MulU(a, b)
		r = hi
	case "mulhsu":
		r = uint64(mulHighSU(int64(a), b))
	case "div":
		r = sdiv(int64(a), int64(b))
	case "divu":
		r = udiv(a, b)
	case "rem":
		r = srem(int64(a), int64(b))
	case "remu":
		r = urem(a, b)
	case "addw":
		r = signExtend32(uint32(a) + uint32(b))
	case "subw":
		r = signExtend32(uint32(a) - uint32(b))
	case "sllw":
		r = signExtend32(uint32(a) << (b & 0x1F))
	case "srlw":
		r = signExtend32(uint32(a) >> (b & 0x1F))
	case "sraw":
		r = uint64(int64(int32(uint32(a)) >> (b & 0x1F)))
	case "mulw":
		r = signExtend32(uint32(a) * uint32(b))
	case "divw":
		r = signExtend32(uint32(sdiv(int64(int32(uint32(a))), int64(int32(uint32(b))))))
	case "divuw":
		r = signExtend32(uint32(udiv(uint64(uint32(a)), uint64(uint32(b)))))
	case "remw":
		r = signExtend32(uint32(srem(int64(int32(uint32(a))), int64(int32(uint32(b))))))
	case "remuw":
		r = signExtend32(uint32(urem(uint64(uint32(a)), uint64(uint32(b)))))
	}
	m.setGPR(int(e.Rd), r)
	return Changes{NextPC: fallthroughPC, GPRWritten: []int{int(e.Rd)}}
}

func (m *Machine) execI(e *isa.Encoded, fallthroughPC uint64) Changes {
	mnem := e.Ins.Mnemonic
	if mnem == "jalr" {
		target := (m.gpr[e.Rs1] + uint64(e.Imm)) &^ 1
		m.setGPR(int(e.Rd), fallthroughPC)
		return Changes{NextPC: target, GPRWritten: []int{int(e.Rd)}, IsBranch: true, Taken: true}
	}
	if isLoadMnemonic(mnem) {
		return m.execLoad(e, fallthroughPC)
	}

	a := m.gpr[e.Rs1]
	imm := e.Imm
	var r uint64
	switch mnem {
	case "addi":
		r = a + uint64(imm)
	case "slti":
		r = boolToU64(int64(a) < imm)
	case "sltiu":
		r = boolToU64(a < uint64(imm))
	case "xori":
		r = a ^ uint64(imm)
	case "ori":
		r = a | uint64(imm)
	case "andi":
		r = a & uint64(imm)
	case "slli":
		r = a << uint(imm&0x3F)
	case "srli":
		r = a >> uint(imm&0x3F)
	case "srai":
		r = uint64(int64(a) >> uint(imm&0x3F))
	case "addiw":
		r = signExtend32(uint32(a) + uint32(imm))
	case "slliw":
		r = signExtend32(uint32(a) << uint(imm&0x1F))
	case "srliw":
		r = signExtend32(uint32(a) >> uint(imm&0x1F))
	case "sraiw":
		r = uint64(int64(int32(uint32(a)) >> uint(imm&0x1F)))
	}
	m.setGPR(int(e.Rd), r)
	return Changes{NextPC: fallthroughPC, GPRWritten: []int{int(e.Rd)}}
}

func isLoadMnemonic(m string) bool {
	switch m {
	case "lb", "lh", "lw", "ld", "lbu", "lhu", "lwu":
		return true
	}
	return false
}

func (m *Machine) execLoad(e *isa.Encoded, fallthroughPC uint64) Changes {
	addr := m.gpr[e.Rs1] + uint64(e.Imm)
	var size uint8
	switch e.Ins.Mnemonic {
	case "lb", "lbu":
		size = 1
	case "lh", "lhu":
		size = 2
	case "lw", "lwu":
		size = 4
	case "ld":
		size = 8
	}
	access := MemAccess{Addr: addr, Size: size}
	v, err := m.mem.Load(addr, size)
	if err != nil {
		return Changes{NextPC: fallthroughPC, Mem: []MemAccess{access},
			Trap: &Trap{Cause: isa.LoadAddressMisaligned, Tval: addr}}
	}
	switch e.Ins.Mnemonic {
	case "lb":
		v = uint64(int64(int8(v)))
	case "lh":
		v = uint64(int64(int16(v)))
	case "lw":
		v = uint64(int64(int32(v)))
	}
	access.Value = v
	m.setGPR(int(e.Rd), v)
	return Changes{NextPC: fallthroughPC, GPRWritten: []int{int(e.Rd)}, Mem: []MemAccess{access}}
}

func (m *Machine) execS(e *isa.Encoded, fallthroughPC uint64) Changes {
	addr := m.gpr[e.Rs1] + uint64(e.Imm)
	var size uint8
	switch e.Ins.Mnemonic {
	case "sb":
		size = 1
	case "sh":
		size = 2
	case "sw":
		size = 4
	case "sd":
		size = 8
	}
	access := MemAccess{Addr: addr, Size: size, IsWrite: true, Value: m.gpr[e.Rs2]}
	if err := m.mem.Store(addr, m.gpr[e.Rs2], size); err != nil {
		return Changes{NextPC: fallthroughPC, Mem: []MemAccess{access},
			Trap: &Trap{Cause: isa.StoreAddressMisaligned, Tval: addr}}
	}
	return Changes{NextPC: fallthroughPC, Mem: []MemAccess{access}}
}

func (m *Machine) execB(e *isa.Encoded, fallthroughPC uint64) Changes {
	a, b := m.gpr[e.Rs1], m.gpr[e.Rs2]
	var taken bool
	switch e.Ins.Mnemonic {
	case "beq":
		taken = a == b
	case "bne":
		taken = a != b
	case "blt":
		taken = int64(a) < int64(b)
	case "bge":
		taken = int64(a) >= int64(b)
	case "bltu":
		taken = a < b
	case "bgeu":
		taken = a >= b
	}
	next := fallthroughPC
	if taken {
		next = m.pc + uint64(e.Imm)
	}
	return Changes{NextPC: next, IsBranch: true, Taken: taken}
}

func (m *Machine) execU(e *isa.Encoded, fallthroughPC uint64) Changes {
	// U-format immediates are 32-bit patterns sign-extended to 64.
	imm := signExtend32(uint32(e.Imm))
	var r uint64
	switch e.Ins.Mnemonic {
	case "lui":
		r = imm
	case "auipc":
		r = m.pc + imm
	}
	m.setGPR(int(e.Rd), r)
	return Changes{NextPC: fallthroughPC, GPRWritten: []int{int(e.Rd)}}
}

func (m *Machine) execJ(e *isa.Encoded, fallthroughPC uint64) Changes {
	m.setGPR(int(e.Rd), fallthroughPC)
	return Changes{NextPC: m.pc + uint64(e.Imm), GPRWritten: []int{int(e.Rd)}, IsBranch: true, Taken: true}
}

func (m *Machine) execSystem(e *isa.Encoded, fallthroughPC uint64) Changes {
	switch e.Ins.Mnemonic {
	case "ecall":
		return Changes{NextPC: fallthroughPC, Trap: &Trap{Cause: isa.EcallFromMMode}}
	case "mret":
		// Trap return: resume at whatever the handler left in mepc.
		return Changes{NextPC: m.csr[isa.CSRMepc], IsBranch: true, Taken: true}
	}
	return Changes{NextPC: fallthroughPC}
}

func (m *Machine) execCSR(e *isa.Encoded, fallthroughPC uint64) Changes {
	old := m.csr[e.CSR]
	var srcOrImm uint64
	immForm := e.Ins.Mnemonic == "csrrwi" || e.Ins.Mnemonic == "csrrsi" || e.Ins.Mnemonic == "csrrci"
	if immForm {
		srcOrImm = uint64(e.Rs1) // zimm is encoded in the rs1 field
	} else {
		srcOrImm = m.gpr[e.Rs1]
	}

	var nv uint64
	switch e.Ins.Mnemonic {
	case "csrrw", "csrrwi":
		nv = srcOrImm
	case "csrrs", "csrrsi":
		nv = old | srcOrImm
	case "csrrc", "csrrci":
		nv = old &^ srcOrImm
	}
	m.csr[e.CSR] = nv
	m.setGPR(int(e.Rd), old)
	return Changes{NextPC: fallthroughPC, GPRWritten: []int{int(e.Rd)}, CSRWritten: []uint16{e.CSR}}
}

func (m *Machine) execFloat(e *isa.Encoded, fallthroughPC uint64) Changes {
	mnem := e.Ins.Mnemonic
	isDouble := e.Ins.Extension == isa.ExtD

	switch mnem {
	case "flw", "fld":
		size := uint8(4)
		if isDouble {
			size = 8
		}
		addr := m.gpr[e.Rs1] + uint64(e.Imm)
		access := MemAccess{Addr: addr, Size: size}
		v, err := m.mem.Load(addr, size)
		if err != nil {
			return Changes{NextPC: fallthroughPC, Mem: []MemAccess{access},
				Trap: &Trap{Cause: isa.LoadAddressMisaligned, Tval: addr}}
		}
		access.Value = v
		m.fpr[e.Rd] = v
		return Changes{NextPC: fallthroughPC, FPRWritten: []int{int(e.Rd)}, Mem: []MemAccess{access}}
	case "fsw", "fsd":
		size := uint8(4)
		if isDouble {
			size = 8
		}
		addr := m.gpr[e.Rs1] + uint64(e.Imm)
		access := MemAccess{Addr: addr, Size: size, IsWrite: true, Value: m.fpr[e.Rs2]}
		if err := m.mem.Store(addr, m.fpr[e.Rs2], size); err != nil {
			return Changes{NextPC: fallthroughPC, Mem: []MemAccess{access},
				Trap: &Trap{Cause: isa.StoreAddressMisaligned, Tval: addr}}
		}
		return Changes{NextPC: fallthroughPC, Mem: []MemAccess{access}}
	case "fmv.x.w":
		m.setGPR(int(e.Rd), uint64(uint32(m.fpr[e.Rs1])))
		return Changes{NextPC: fallthroughPC, GPRWritten: []int{int(e.Rd)}}
	case "fmv.w.x":
		m.fpr[e.Rd] = uint64(uint32(m.gpr[e.Rs1]))
		return Changes{NextPC: fallthroughPC, FPRWritten: []int{int(e.Rd)}}
	case "fmv.x.d":
		m.setGPR(int(e.Rd), m.fpr[e.Rs1])
		return Changes{NextPC: fallthroughPC, GPRWritten: []int{int(e.Rd)}}
	case "fmv.d.x":
		m.fpr[e.Rd] = m.gpr[e.Rs1]
		return Changes{NextPC: fallthroughPC, FPRWritten: []int{int(e.Rd)}}
	case "fsqrt.s":
		a := math.Float32frombits(uint32(m.fpr[e.Rs1]))
		m.fpr[e.Rd] = uint64(math.Float32bits(float32(math.Sqrt(float64(a)))))
		return Changes{NextPC: fallthroughPC, FPRWritten: []int{int(e.Rd)}}
	case "fsqrt.d":
		a := math.Float64frombits(m.fpr[e.Rs1])
		m.fpr[e.Rd] = math.Float64bits(math.Sqrt(a))
		return Changes{NextPC: fallthroughPC, FPRWritten: []int{int(e.Rd)}}
	}

	if isDouble {
		a := math.Float64frombits(m.fpr[e.Rs1])
		b := math.Float64frombits(m.fpr[e.Rs2])
		switch mnem {
		case "fadd.d":
			m.fpr[e.Rd] = math.Float64bits(a + b)
			return Changes{NextPC: fallthroughPC, FPRWritten: []int{int(e.Rd)}}
		case "fsub.d":
			m.fpr[e.Rd] = math.Float64bits(a - b)
			return Changes{NextPC: fallthroughPC, FPRWritten: []int{int(e.Rd)}}
		case "fmul.d":
			m.fpr[e.Rd] = math.Float64bits(a * b)
			return Changes{NextPC: fallthroughPC, FPRWritten: []int{int(e.Rd)}}
		case "fdiv.d":
			m.fpr[e.Rd] = math.Float64bits(a / b)
			return Changes{NextPC: fallthroughPC, FPRWritten: []int{int(e.Rd)}}
		case "feq.d":
			m.setGPR(int(e.Rd), boolToU64(a == b))
			return Changes{NextPC: fallthroughPC, GPRWritten: []int{int(e.Rd)}}
		case "flt.d":
			m.setGPR(int(e.Rd), boolToU64(a < b))
			return Changes{NextPC: fallthroughPC, GPRWritten: []int{int(e.Rd)}}
		case "fle.d":
			m.setGPR(int(e.Rd), boolToU64(a <= b))
			return Changes{NextPC: fallthroughPC, GPRWritten: []int{int(e.Rd)}}
		}
	} else {
		a := math.Float32frombits(uint32(m.fpr[e.Rs1]))
		b := math.Float32frombits(uint32(m.fpr[e.Rs2]))
		switch mnem {
		case "fadd.s":
			m.fpr[e.Rd] = uint64(math.Float32bits(a + b))
			return Changes{NextPC: fallthroughPC, FPRWritten: []int{int(e.Rd)}}
		case "fsub.s":
			m.fpr[e.Rd] = uint64(math.Float32bits(a - b))
			return Changes{NextPC: fallthroughPC, FPRWritten: []int{int(e.Rd)}}
		case "fmul.s":
			m.fpr[e.Rd] = uint64(math.Float32bits(a * b))
			return Changes{NextPC: fallthroughPC, FPRWritten: []int{int(e.Rd)}}
		case "fdiv.s":
			m.fpr[e.Rd] = uint64(math.Float32bits(a / b))
			return Changes{NextPC: fallthroughPC, FPRWritten: []int{int(e.Rd)}}
		case "feq.s":
			m.setGPR(int(e.Rd), boolToU64(a == b))
			return Changes{NextPC: fallthroughPC, GPRWritten: []int{int(e.Rd)}}
		case "flt.s":
			m.setGPR(int(e.Rd), boolToU64(a < b))
			return Changes{NextPC: fallthroughPC, GPRWritten: []int{int(e.Rd)}}
		case "fle.s":
			m.setGPR(int(e.Rd), boolToU64(a <= b))
			return Changes{NextPC: fallthroughPC, GPRWritten: []int{int(e.Rd)}}
		}
	}
	return Changes{NextPC: fallthroughPC}
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func signExtend32(v uint32) uint64 { return uint64(int64(int32(v))) }

func sdiv(a, b int64) uint64 {
	if b == 0 {
		return ^uint64(0)
	}
	if a == math.MinInt64 && b == -1 {
		return uint64(a)
	}
	return uint64(a / b)
}

func udiv(a, b uint64) uint64 {
	if b == 0 {
		return ^uint64(0)
	}
	return a / b
}

func srem(a, b int64) uint64 {
	if b == 0 {
		return uint64(a)
	}
	if a == math.MinInt64 && b == -1 {
		return 0
	}
	return uint64(a % b)
}

func urem(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	return a % b
}

func mulHigh(a, b int64) int64 {
	hi, _ := bits64Mul(a, b)
	return hi
}

func mulHighSU(a int64, b uint64) int64 {
	neg := a < 0
	ua := uint64(a)
	if neg {
		ua = uint64(-a)
	}
	hi, _ := bits64MulU(ua, b)
	if neg {
		return ^int64(hi)
	}
	return int64(hi)
}

// bits64Mul computes the signed 128-bit product of a*b, returning the
// high and low 64 bits.
func bits64Mul(a, b int64) (hi, lo int64) {
	uhi, ulo := bits64MulU(uint64(a), uint64(b))
	h := int64(uhi)
	if a < 0 {
		h -= b
	}
	if b < 0 {
		h -= a
	}
	return h, int64(ulo)
}

// bits64MulU computes the unsigned 128-bit product of a*b.
func bits64MulU(a, b uint64) (hi, lo uint64) {
	const mask32 = 0xFFFFFFFF
	aLo, aHi := a&mask32, a>>32
	bLo, bHi := b&mask32, b>>32

	t := aLo * bLo
	w0 := t & mask32
	k := t >> 32

	t = aHi*bLo + k
	w1 := t & mask32
	w2 := t >> 32

	t = aLo*bHi + w1
	k = t >> 32

	lo = (t << 32) | w0
	hi = aHi*bHi + w2 + k
	return hi, lo
}
