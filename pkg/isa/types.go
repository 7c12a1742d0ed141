// Package isa describes the instruction set the generator emits:
// instruction metadata, encode/decode, the CSR table, and the
// exception-cause table for a fixed-width (4-byte) RV64IMFD subset.
// The compressed extension is deliberately absent so every code word
// is exactly four bytes.
package isa

// Format identifies an instruction's bit-field layout.
type Format int

const (
	FormatR Format = iota
	FormatI
	FormatS
	FormatB
	FormatU
	FormatJ
	FormatSystem // ecall/csr, I-format with a CSR or zero immediate
)

// Extension tags the instruction subset an Instruction belongs to, used
// by sequences that want to stay within (or stress) a given extension.
type Extension string

const (
	ExtI     Extension = "I" // base integer
	ExtM     Extension = "M" // multiply/divide
	ExtF     Extension = "F" // single-precision float
	ExtD     Extension = "D" // double-precision float
	ExtZicsr Extension = "Zicsr"
)

// OperandKind distinguishes which register file (if any) an operand
// slot draws from.
type OperandKind int

const (
	OperandNone OperandKind = iota
	OperandGPR
	OperandFPR
	OperandImm
	OperandCSR
)

// Instruction is one entry in the ISA's instruction table: enough
// metadata for a Sequence to pick operands and for the encoder/decoder
// to round-trip a 32-bit word.
type Instruction struct {
	Mnemonic  string
	Format    Format
	Opcode    uint32
	Funct3    int32 // -1 if unused
	Funct7    int32 // -1 if unused
	Extension Extension

	// Operand roles, in assembly-operand order.
	Operands []OperandKind

	// Index (into Operands) of operands that read/write the GPR or FPR
	// file, used by sequences picking which registers to reserve.
	GPRSourceOperands []int
	FPRSourceOperands []int
	GPRDestOperands   []int
	FPRDestOperands   []int

	// ImmBits is the width of the immediate field this format encodes
	// (used by ImmediateSamplingProfile).
	ImmBits   int
	ImmSigned bool
	// ImmIsShift marks shift-amount immediates (slli/srli/srai), whose
	// sampling should stay within the register width rather than the
	// full immediate field.
	ImmIsShift bool
}

// ImmediateSamplingProfile returns the (isShift, widthBits, signed)
// profile a sequence should sample an immediate operand against,
// falling back to fallbackBits when name is not a known instruction.
func ImmediateSamplingProfile(name string, fallbackBits int) (isShift bool, width int, signed bool) {
	if ins, ok := byMnemonic[name]; ok && ins.ImmBits > 0 {
		return ins.ImmIsShift, ins.ImmBits, ins.ImmSigned
	}
	return false, fallbackBits, true
}
