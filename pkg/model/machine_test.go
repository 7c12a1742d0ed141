package model

import (
	"errors"
	"testing"

	"github.com/tibbar/tibbar/pkg/isa"
)

// mapMemory is a bare map-backed MemoryAdapter for unit tests.
type mapMemory struct {
	bytes map[uint64]byte
	fail  bool
}

func newMapMemory() *mapMemory { return &mapMemory{bytes: make(map[uint64]byte)} }

func (m *mapMemory) Load(address uint64, size uint8) (uint64, error) {
	if m.fail {
		return 0, errors.New("unmapped")
	}
	var v uint64
	for i := uint8(0); i < size; i++ {
		v |= uint64(m.bytes[address+uint64(i)]) << (8 * i)
	}
	return v, nil
}

func (m *mapMemory) Store(address uint64, value uint64, size uint8) error {
	if m.fail {
		return errors.New("unmapped")
	}
	for i := uint8(0); i < size; i++ {
		m.bytes[address+uint64(i)] = byte(value >> (8 * i))
	}
	return nil
}

func encode(t *testing.T, mnemonic string, rd, rs1, rs2 uint8, imm int64) uint32 {
	t.Helper()
	ins, ok := isa.Lookup(mnemonic)
	if !ok {
		t.Fatalf("Lookup(%q)", mnemonic)
	}
	w, err := isa.Encode(ins, rd, rs1, rs2, imm)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func TestArithmetic(t *testing.T) {
	m := New(newMapMemory())
	m.PokeGPR(1, 20)
	m.PokeGPR(2, 22)
	m.PokePC(0x1000)

	ch, err := m.Execute(encode(t, "add", 3, 1, 2, 0))
	if err != nil {
		t.Fatal(err)
	}
	if got := m.PeekGPR(3); got != 42 {
		t.Errorf("add result = %d, want 42", got)
	}
	if ch.NextPC != 0x1004 {
		t.Errorf("NextPC = 0x%x, want 0x1004", ch.NextPC)
	}
}

func TestZeroRegisterStaysZero(t *testing.T) {
	m := New(newMapMemory())
	m.PokeGPR(1, 7)
	m.PokePC(0x1000)
	if _, err := m.Execute(encode(t, "add", 0, 1, 1, 0)); err != nil {
		t.Fatal(err)
	}
	if m.PeekGPR(0) != 0 {
		t.Error("x0 was written")
	}
}

func TestDivisionByZero(t *testing.T) {
	m := New(newMapMemory())
	m.PokeGPR(1, 10)
	m.PokePC(0x1000)
	if _, err := m.Execute(encode(t, "div", 3, 1, 2, 0)); err != nil {
		t.Fatal(err)
	}
	if got := m.PeekGPR(3); got != ^uint64(0) {
		t.Errorf("div by zero = 0x%x, want all-ones", got)
	}
	if _, err := m.Execute(encode(t, "rem", 4, 1, 2, 0)); err != nil {
		t.Fatal(err)
	}
	if got := m.PeekGPR(4); got != 10 {
		t.Errorf("rem by zero = %d, want the dividend", got)
	}
}

func TestBranchTakenAndNot(t *testing.T) {
	m := New(newMapMemory())
	m.PokeGPR(1, 5)
	m.PokeGPR(2, 5)
	m.PokePC(0x1000)

	ch, err := m.Execute(encode(t, "beq", 0, 1, 2, 16))
	if err != nil {
		t.Fatal(err)
	}
	if !ch.IsBranch || !ch.Taken || ch.NextPC != 0x1010 {
		t.Errorf("taken beq: %+v", ch)
	}

	ch, err = m.Execute(encode(t, "bne", 0, 1, 2, 16))
	if err != nil {
		t.Fatal(err)
	}
	if !ch.IsBranch || ch.Taken || ch.NextPC != 0x1004 {
		t.Errorf("not-taken bne: %+v", ch)
	}
}

func TestJalAndJalr(t *testing.T) {
	m := New(newMapMemory())
	m.PokePC(0x1000)
	ch, err := m.Execute(encode(t, "jal", 1, 0, 0, 0x100))
	if err != nil {
		t.Fatal(err)
	}
	if ch.NextPC != 0x1100 || m.PeekGPR(1) != 0x1004 {
		t.Errorf("jal: next=0x%x link=0x%x", ch.NextPC, m.PeekGPR(1))
	}

	m.PokeGPR(5, 0x2001)
	m.PokePC(0x1100)
	ch, err = m.Execute(encode(t, "jalr", 0, 5, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if ch.NextPC != 0x2000 {
		t.Errorf("jalr must clear bit 0: next=0x%x", ch.NextPC)
	}
}

func TestLoadStoreThroughAdapter(t *testing.T) {
	mem := newMapMemory()
	m := New(mem)
	m.PokeGPR(1, 0x8000)
	m.PokeGPR(2, 0x11223344aabbccdd)
	m.PokePC(0x1000)

	ch, err := m.Execute(encode(t, "sd", 0, 1, 2, 8))
	if err != nil {
		t.Fatal(err)
	}
	if len(ch.Mem) != 1 || !ch.Mem[0].IsWrite || ch.Mem[0].Addr != 0x8008 {
		t.Errorf("store access not reported: %+v", ch.Mem)
	}

	if _, err := m.Execute(encode(t, "ld", 3, 1, 0, 8)); err != nil {
		t.Fatal(err)
	}
	if got := m.PeekGPR(3); got != 0x11223344aabbccdd {
		t.Errorf("ld = 0x%x", got)
	}

	// Sign extension on lw, zero extension on lwu.
	if _, err := m.Execute(encode(t, "lw", 4, 1, 0, 8)); err != nil {
		t.Fatal(err)
	}
	if got := m.PeekGPR(4); got != 0xffffffffaabbccdd {
		t.Errorf("lw sign extension = 0x%x", got)
	}
	if _, err := m.Execute(encode(t, "lwu", 5, 1, 0, 8)); err != nil {
		t.Fatal(err)
	}
	if got := m.PeekGPR(5); got != 0xaabbccdd {
		t.Errorf("lwu zero extension = 0x%x", got)
	}
}

func TestFailedLoadTraps(t *testing.T) {
	mem := newMapMemory()
	mem.fail = true
	m := New(mem)
	m.PokeGPR(1, 0x9000)
	m.PokePC(0x1000)

	ch, err := m.Execute(encode(t, "lw", 3, 1, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if ch.Trap == nil || ch.Trap.Tval != 0x9000 {
		t.Fatalf("expected a trap with tval, got %+v", ch)
	}
	if len(ch.Mem) != 1 || ch.Mem[0].Addr != 0x9000 {
		t.Errorf("failed access not reported: %+v", ch.Mem)
	}
}

func TestLuiAuipcSignExtend(t *testing.T) {
	m := New(newMapMemory())
	m.PokePC(0x1000)
	// lui with bit 31 set sign-extends to 64 bits.
	if _, err := m.Execute(encode(t, "lui", 1, 0, 0, 0x80000<<12)); err != nil {
		t.Fatal(err)
	}
	if got := m.PeekGPR(1); got != 0xffffffff80000000 {
		t.Errorf("lui = 0x%x, want 0xffffffff80000000", got)
	}
	// auipc adds the sign-extended immediate to pc.
	m.PokePC(0x80001000)
	if _, err := m.Execute(encode(t, "auipc", 2, 0, 0, int64(uint64(0xfffff)<<12))); err != nil {
		t.Fatal(err)
	}
	if got := m.PeekGPR(2); got != 0x80000000 {
		t.Errorf("auipc with -4096 = 0x%x, want 0x80000000", got)
	}
}

func TestMretReturnsToMepc(t *testing.T) {
	m := New(newMapMemory())
	m.PokeCSR(isa.CSRMepc, 0x80000040)
	m.PokePC(0x2000)
	ch, err := m.Execute(encode(t, "mret", 0, 0, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if ch.NextPC != 0x80000040 || !ch.IsBranch {
		t.Errorf("mret: %+v", ch)
	}
}

func TestFsqrt(t *testing.T) {
	m := New(newMapMemory())
	m.PokeFPR(1, 0x4010000000000000) // 4.0
	m.PokePC(0x1000)
	if _, err := m.Execute(encode(t, "fsqrt.d", 2, 1, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if got := m.PeekFPR(2); got != 0x4000000000000000 { // 2.0
		t.Errorf("fsqrt.d(4.0) = 0x%x", got)
	}

	m.PokeFPR(3, 0x40490fdb) // float32 pi
	if _, err := m.Execute(encode(t, "fsqrt.s", 4, 3, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if got := uint32(m.PeekFPR(4)); got != 0x3fe2dfc5 { // sqrt(pi) as float32
		t.Errorf("fsqrt.s(pi) = 0x%x, want 0x3fe2dfc5", got)
	}
}

func TestEcallTraps(t *testing.T) {
	m := New(newMapMemory())
	m.PokePC(0x1000)
	ch, err := m.Execute(encode(t, "ecall", 0, 0, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if ch.Trap == nil || ch.Trap.Cause != isa.EcallFromMMode {
		t.Fatalf("expected ecall trap, got %+v", ch)
	}
}

func TestCSRReadModifyWrite(t *testing.T) {
	m := New(newMapMemory())
	m.PokeCSR(isa.CSRMscratch, 0xf0)
	m.PokeGPR(1, 0x0f)
	m.PokePC(0x1000)

	ins, _ := isa.Lookup("csrrs")
	w, err := isa.EncodeCSR(ins, 2, isa.CSRMscratch, 1)
	if err != nil {
		t.Fatal(err)
	}
	ch, err := m.Execute(w)
	if err != nil {
		t.Fatal(err)
	}
	if got := m.PeekGPR(2); got != 0xf0 {
		t.Errorf("csrrs old value = 0x%x, want 0xf0", got)
	}
	if got := m.PeekCSR(isa.CSRMscratch); got != 0xff {
		t.Errorf("csrrs new value = 0x%x, want 0xff", got)
	}
	if len(ch.CSRWritten) != 1 || ch.CSRWritten[0] != isa.CSRMscratch {
		t.Errorf("CSR write not reported: %+v", ch.CSRWritten)
	}
}

func TestUndecodableWord(t *testing.T) {
	m := New(newMapMemory())
	if _, err := m.Execute(0); err == nil {
		t.Fatal("expected a decode error")
	}
}

func TestFloatMoveAndArith(t *testing.T) {
	m := New(newMapMemory())
	m.PokeGPR(1, 0x40490fdb) // float32 bits of pi
	m.PokePC(0x1000)

	if _, err := m.Execute(encode(t, "fmv.w.x", 2, 1, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if got := m.PeekFPR(2); got != 0x40490fdb {
		t.Errorf("fmv.w.x = 0x%x", got)
	}

	if _, err := m.Execute(encode(t, "fadd.s", 3, 2, 2, 0)); err != nil {
		t.Fatal(err)
	}
	// pi + pi as float32.
	if got := uint32(m.PeekFPR(3)); got != 0x40c90fdb {
		t.Errorf("fadd.s = 0x%x, want 0x40c90fdb", got)
	}

	ch, err := m.Execute(encode(t, "feq.s", 4, 2, 2, 0))
	if err != nil {
		t.Fatal(err)
	}
	if m.PeekGPR(4) != 1 || len(ch.GPRWritten) != 1 {
		t.Errorf("feq.s = %d", m.PeekGPR(4))
	}
}
