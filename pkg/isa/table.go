package isa

// 7-bit opcode field values.
const (
	opOP      uint32 = 0x33 // register-register integer ops
	opOP32    uint32 = 0x3B // word-width register-register ops (RV64 only)
	opOPIMM   uint32 = 0x13 // register-immediate integer ops
	opOPIMM32 uint32 = 0x1B // word-width register-immediate ops
	opLOAD    uint32 = 0x03
	opSTORE   uint32 = 0x23
	opBRANCH  uint32 = 0x63
	opJALR    uint32 = 0x67
	opJAL     uint32 = 0x6F
	opLUI     uint32 = 0x37
	opAUIPC   uint32 = 0x17
	opSYSTEM  uint32 = 0x73
	opOPFP    uint32 = 0x53
	opLOADFP  uint32 = 0x07
	opSTOREFP uint32 = 0x27
)

var instructionTable []Instruction
var byMnemonic map[string]*Instruction

func init() {
	instructionTable = append(instructionTable, integerRegRegInstructions...)
	instructionTable = append(instructionTable, integerImmInstructions...)
	instructionTable = append(instructionTable, loadInstructions...)
	instructionTable = append(instructionTable, storeInstructions...)
	instructionTable = append(instructionTable, branchInstructions...)
	instructionTable = append(instructionTable, jumpInstructions...)
	instructionTable = append(instructionTable, upperImmInstructions...)
	instructionTable = append(instructionTable, systemInstructions...)
	instructionTable = append(instructionTable, floatInstructions...)

	byMnemonic = make(map[string]*Instruction, len(instructionTable))
	for i := range instructionTable {
		byMnemonic[instructionTable[i].Mnemonic] = &instructionTable[i]
	}
}

// Instructions returns the full instruction table.
func Instructions() []Instruction { return instructionTable }

// Lookup returns the instruction descriptor for a mnemonic.
func Lookup(mnemonic string) (*Instruction, bool) {
	ins, ok := byMnemonic[mnemonic]
	return ins, ok
}

// InGroup returns every instruction tagged with the given extension.
func InGroup(ext Extension) []Instruction {
	var out []Instruction
	for _, ins := range instructionTable {
		if ins.Extension == ext {
			out = append(out, ins)
		}
	}
	return out
}

var integerRegRegInstructions = []Instruction{
	rTypeInt("add", 0, 0x00, ExtI), rTypeInt("sub", 0, 0x20, ExtI),
	rTypeInt("sll", 1, 0x00, ExtI), rTypeInt("slt", 2, 0x00, ExtI),
	rTypeInt("sltu", 3, 0x00, ExtI), rTypeInt("xor", 4, 0x00, ExtI),
	rTypeInt("srl", 5, 0x00, ExtI), rTypeInt("sra", 5, 0x20, ExtI),
	rTypeInt("or", 6, 0x00, ExtI), rTypeInt("and", 7, 0x00, ExtI),
	rTypeW("addw", 0, 0x00), rTypeW("subw", 0, 0x20),
	rTypeW("sllw", 1, 0x00), rTypeW("srlw", 5, 0x00), rTypeW("sraw", 5, 0x20),

	rTypeInt("mul", 0, 0x01, ExtM), rTypeInt("mulh", 1, 0x01, ExtM),
	rTypeInt("mulhsu", 2, 0x01, ExtM), rTypeInt("mulhu", 3, 0x01, ExtM),
	rTypeInt("div", 4, 0x01, ExtM), rTypeInt("divu", 5, 0x01, ExtM),
	rTypeInt("rem", 6, 0x01, ExtM), rTypeInt("remu", 7, 0x01, ExtM),
	rTypeW("mulw", 0, 0x01), rTypeW("divw", 4, 0x01),
	rTypeW("divuw", 5, 0x01), rTypeW("remw", 6, 0x01), rTypeW("remuw", 7, 0x01),
}

func rTypeInt(mnemonic string, funct3, funct7 int32, ext Extension) Instruction {
	return Instruction{
		Mnemonic: mnemonic, Format: FormatR, Opcode: opOP, Funct3: funct3, Funct7: funct7,
		Extension: ext, Operands: []OperandKind{OperandGPR, OperandGPR, OperandGPR},
		GPRDestOperands: []int{0}, GPRSourceOperands: []int{1, 2},
	}
}

func rTypeW(mnemonic string, funct3, funct7 int32) Instruction {
	return Instruction{
		Mnemonic: mnemonic, Format: FormatR, Opcode: opOP32, Funct3: funct3, Funct7: funct7,
		Extension: ExtI, Operands: []OperandKind{OperandGPR, OperandGPR, OperandGPR},
		GPRDestOperands: []int{0}, GPRSourceOperands: []int{1, 2},
	}
}

var integerImmInstructions = []Instruction{
	iTypeInt("addi", 0, 12, true, false),
	iTypeInt("slti", 2, 12, true, false),
	iTypeInt("sltiu", 3, 12, true, false),
	iTypeInt("xori", 4, 12, true, false),
	iTypeInt("ori", 6, 12, true, false),
	iTypeInt("andi", 7, 12, true, false),
	shiftImm("slli", 1, 0x00),
	shiftImm("srli", 5, 0x00),
	shiftImm("srai", 5, 0x20),
	wordImm("addiw", 0),
	shiftImmW("slliw", 1, 0x00),
	shiftImmW("srliw", 5, 0x00),
	shiftImmW("sraiw", 5, 0x20),
}

func iTypeInt(mnemonic string, funct3 int32, immBits int, signed, isShift bool) Instruction {
	return Instruction{
		Mnemonic: mnemonic, Format: FormatI, Opcode: opOPIMM, Funct3: funct3,
		Funct7: -1, Extension: ExtI, Operands: []OperandKind{OperandGPR, OperandGPR, OperandImm},
		GPRDestOperands: []int{0}, GPRSourceOperands: []int{1},
		ImmBits: immBits, ImmSigned: signed, ImmIsShift: isShift,
	}
}

func shiftImm(mnemonic string, funct3, funct7 int32) Instruction {
	ins := iTypeInt(mnemonic, funct3, 6, false, true)
	ins.Funct7 = funct7
	return ins
}

func wordImm(mnemonic string, funct3 int32) Instruction {
	ins := iTypeInt(mnemonic, funct3, 12, true, false)
	ins.Opcode = opOPIMM32
	return ins
}

func shiftImmW(mnemonic string, funct3, funct7 int32) Instruction {
	ins := iTypeInt(mnemonic, funct3, 5, false, true)
	ins.Opcode = opOPIMM32
	ins.Funct7 = funct7
	return ins
}

var loadInstructions = []Instruction{
	loadInsn("lb", 0), loadInsn("lh", 1), loadInsn("lw", 2), loadInsn("ld", 3),
	loadInsn("lbu", 4), loadInsn("lhu", 5), loadInsn("lwu", 6),
}

func loadInsn(mnemonic string, funct3 int32) Instruction {
	return Instruction{
		Mnemonic: mnemonic, Format: FormatI, Opcode: opLOAD, Funct3: funct3, Funct7: -1,
		Extension: ExtI, Operands: []OperandKind{OperandGPR, OperandImm, OperandGPR},
		GPRDestOperands: []int{0}, GPRSourceOperands: []int{2},
		ImmBits: 12, ImmSigned: true,
	}
}

var storeInstructions = []Instruction{
	storeInsn("sb", 0), storeInsn("sh", 1), storeInsn("sw", 2), storeInsn("sd", 3),
}

func storeInsn(mnemonic string, funct3 int32) Instruction {
	return Instruction{
		Mnemonic: mnemonic, Format: FormatS, Opcode: opSTORE, Funct3: funct3, Funct7: -1,
		Extension: ExtI, Operands: []OperandKind{OperandGPR, OperandImm, OperandGPR},
		GPRSourceOperands: []int{0, 2},
		ImmBits:           12, ImmSigned: true,
	}
}

var branchInstructions = []Instruction{
	branchInsn("beq", 0), branchInsn("bne", 1), branchInsn("blt", 4),
	branchInsn("bge", 5), branchInsn("bltu", 6), branchInsn("bgeu", 7),
}

func branchInsn(mnemonic string, funct3 int32) Instruction {
	return Instruction{
		Mnemonic: mnemonic, Format: FormatB, Opcode: opBRANCH, Funct3: funct3, Funct7: -1,
		Extension: ExtI, Operands: []OperandKind{OperandGPR, OperandGPR, OperandImm},
		GPRSourceOperands: []int{0, 1}, ImmBits: 13, ImmSigned: true,
	}
}

var jumpInstructions = []Instruction{
	{Mnemonic: "jal", Format: FormatJ, Opcode: opJAL, Funct3: -1, Funct7: -1, Extension: ExtI,
		Operands: []OperandKind{OperandGPR, OperandImm}, GPRDestOperands: []int{0}, ImmBits: 21, ImmSigned: true},
	{Mnemonic: "jalr", Format: FormatI, Opcode: opJALR, Funct3: 0, Funct7: -1, Extension: ExtI,
		Operands: []OperandKind{OperandGPR, OperandImm, OperandGPR}, GPRDestOperands: []int{0}, GPRSourceOperands: []int{2},
		ImmBits: 12, ImmSigned: true},
}

var upperImmInstructions = []Instruction{
	{Mnemonic: "lui", Format: FormatU, Opcode: opLUI, Funct3: -1, Funct7: -1, Extension: ExtI,
		Operands: []OperandKind{OperandGPR, OperandImm}, GPRDestOperands: []int{0}, ImmBits: 20, ImmSigned: false},
	{Mnemonic: "auipc", Format: FormatU, Opcode: opAUIPC, Funct3: -1, Funct7: -1, Extension: ExtI,
		Operands: []OperandKind{OperandGPR, OperandImm}, GPRDestOperands: []int{0}, ImmBits: 20, ImmSigned: false},
}

var systemInstructions = []Instruction{
	{Mnemonic: "ecall", Format: FormatSystem, Opcode: opSYSTEM, Funct3: 0, Funct7: -1, Extension: ExtI, Operands: nil},
	{Mnemonic: "mret", Format: FormatSystem, Opcode: opSYSTEM, Funct3: 0, Funct7: -1, Extension: ExtI, Operands: nil},
	csrInsn("csrrw", 1), csrInsn("csrrs", 2), csrInsn("csrrc", 3),
	csrImmInsn("csrrwi", 5), csrImmInsn("csrrsi", 6), csrImmInsn("csrrci", 7),
}

// mretFunct12 is the imm[31:20] field that distinguishes mret from
// ecall in the funct3=0 system space.
const mretFunct12 uint32 = 0x302

func csrInsn(mnemonic string, funct3 int32) Instruction {
	return Instruction{
		Mnemonic: mnemonic, Format: FormatSystem, Opcode: opSYSTEM, Funct3: funct3, Funct7: -1,
		Extension: ExtZicsr, Operands: []OperandKind{OperandGPR, OperandCSR, OperandGPR},
		GPRDestOperands: []int{0}, GPRSourceOperands: []int{2},
	}
}

func csrImmInsn(mnemonic string, funct3 int32) Instruction {
	return Instruction{
		Mnemonic: mnemonic, Format: FormatSystem, Opcode: opSYSTEM, Funct3: funct3, Funct7: -1,
		Extension: ExtZicsr, Operands: []OperandKind{OperandGPR, OperandCSR, OperandImm},
		GPRDestOperands: []int{0}, ImmBits: 5, ImmSigned: false,
	}
}

var floatInstructions = []Instruction{
	fTypeArith("fadd.s", 0x00, ExtF), fTypeArith("fsub.s", 0x04, ExtF),
	fTypeArith("fmul.s", 0x08, ExtF), fTypeArith("fdiv.s", 0x0C, ExtF),
	fTypeArith("fadd.d", 0x01, ExtD), fTypeArith("fsub.d", 0x05, ExtD),
	fTypeArith("fmul.d", 0x09, ExtD), fTypeArith("fdiv.d", 0x0D, ExtD),

	fSqrt("fsqrt.s", 0x2C, ExtF), fSqrt("fsqrt.d", 0x2D, ExtD),

	fCompare("feq.s", 0x50, 2, ExtF), fCompare("flt.s", 0x50, 1, ExtF), fCompare("fle.s", 0x50, 0, ExtF),
	fCompare("feq.d", 0x51, 2, ExtD), fCompare("flt.d", 0x51, 1, ExtD), fCompare("fle.d", 0x51, 0, ExtD),

	{Mnemonic: "fmv.x.w", Format: FormatR, Opcode: opOPFP, Funct3: 0, Funct7: 0x70, Extension: ExtF,
		Operands: []OperandKind{OperandGPR, OperandFPR}, GPRDestOperands: []int{0}, FPRSourceOperands: []int{1}},
	{Mnemonic: "fmv.w.x", Format: FormatR, Opcode: opOPFP, Funct3: 0, Funct7: 0x78, Extension: ExtF,
		Operands: []OperandKind{OperandFPR, OperandGPR}, FPRDestOperands: []int{0}, GPRSourceOperands: []int{1}},
	{Mnemonic: "fmv.x.d", Format: FormatR, Opcode: opOPFP, Funct3: 0, Funct7: 0x71, Extension: ExtD,
		Operands: []OperandKind{OperandGPR, OperandFPR}, GPRDestOperands: []int{0}, FPRSourceOperands: []int{1}},
	{Mnemonic: "fmv.d.x", Format: FormatR, Opcode: opOPFP, Funct3: 0, Funct7: 0x79, Extension: ExtD,
		Operands: []OperandKind{OperandFPR, OperandGPR}, FPRDestOperands: []int{0}, GPRSourceOperands: []int{1}},

	loadFP("flw", 2, ExtF), loadFP("fld", 3, ExtD),
	storeFP("fsw", 2, ExtF), storeFP("fsd", 3, ExtD),
}

func fTypeArith(mnemonic string, funct7 int32, ext Extension) Instruction {
	return Instruction{
		Mnemonic: mnemonic, Format: FormatR, Opcode: opOPFP, Funct3: 7 /* dyn rounding */, Funct7: funct7,
		Extension: ext, Operands: []OperandKind{OperandFPR, OperandFPR, OperandFPR},
		FPRDestOperands: []int{0}, FPRSourceOperands: []int{1, 2},
	}
}

func fSqrt(mnemonic string, funct7 int32, ext Extension) Instruction {
	return Instruction{
		Mnemonic: mnemonic, Format: FormatR, Opcode: opOPFP, Funct3: 7 /* dyn rounding */, Funct7: funct7,
		Extension: ext, Operands: []OperandKind{OperandFPR, OperandFPR},
		FPRDestOperands: []int{0}, FPRSourceOperands: []int{1},
	}
}

func fCompare(mnemonic string, funct7 int32, funct3 int32, ext Extension) Instruction {
	return Instruction{
		Mnemonic: mnemonic, Format: FormatR, Opcode: opOPFP, Funct3: funct3, Funct7: funct7,
		Extension: ext, Operands: []OperandKind{OperandGPR, OperandFPR, OperandFPR},
		GPRDestOperands: []int{0}, FPRSourceOperands: []int{1, 2},
	}
}

func loadFP(mnemonic string, funct3 int32, ext Extension) Instruction {
	return Instruction{
		Mnemonic: mnemonic, Format: FormatI, Opcode: opLOADFP, Funct3: funct3, Funct7: -1,
		Extension: ext, Operands: []OperandKind{OperandFPR, OperandImm, OperandGPR},
		FPRDestOperands: []int{0}, GPRSourceOperands: []int{2}, ImmBits: 12, ImmSigned: true,
	}
}

func storeFP(mnemonic string, funct3 int32, ext Extension) Instruction {
	return Instruction{
		Mnemonic: mnemonic, Format: FormatS, Opcode: opSTOREFP, Funct3: funct3, Funct7: -1,
		Extension: ext, Operands: []OperandKind{OperandFPR, OperandImm, OperandGPR},
		FPRSourceOperands: []int{0}, GPRSourceOperands: []int{2}, ImmBits: 12, ImmSigned: true,
	}
}
