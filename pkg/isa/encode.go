package isa

import "fmt"

// Encoded is the bit-level view of one 32-bit instruction word plus the
// decoded register/immediate fields a Model needs to execute it.
type Encoded struct {
	Word uint32
	Rd   uint8
	Rs1  uint8
	Rs2  uint8
	CSR  uint16
	Imm  int64
	Ins  *Instruction
}

// Encode packs an instruction's registers/immediate into a 32-bit word.
// rd/rs1/rs2 are ignored where the format doesn't use them. imm is the
// raw (sign-extended where applicable) immediate value, not pre-shifted.
func Encode(ins *Instruction, rd, rs1, rs2 uint8, imm int64) (uint32, error) {
	if ins == nil {
		return 0, fmt.Errorf("isa: nil instruction")
	}
	w := ins.Opcode & 0x7F

	switch ins.Format {
	case FormatR:
		w |= uint32(rd&0x1F) << 7
		w |= uint32(ins.Funct3&0x7) << 12
		w |= uint32(rs1&0x1F) << 15
		w |= uint32(rs2&0x1F) << 20
		w |= uint32(ins.Funct7&0x7F) << 25

	case FormatI:
		w |= uint32(rd&0x1F) << 7
		if ins.Funct3 >= 0 {
			w |= uint32(ins.Funct3&0x7) << 12
		}
		w |= uint32(rs1&0x1F) << 15
		if ins.ImmIsShift {
			w |= uint32(imm&0x3F) << 20
			if ins.Funct7 >= 0 {
				w |= uint32(ins.Funct7&0x7F) << 25
			}
		} else {
			w |= (uint32(imm) & 0xFFF) << 20
		}

	case FormatS:
		immu := uint32(imm) & 0xFFF
		w |= (immu & 0x1F) << 7
		w |= uint32(ins.Funct3&0x7) << 12
		w |= uint32(rs1&0x1F) << 15
		w |= uint32(rs2&0x1F) << 20
		w |= ((immu >> 5) & 0x7F) << 25

	case FormatB:
		immu := uint32(imm) & 0x1FFF // 13-bit signed, bit0 always 0
		w |= ((immu >> 11) & 0x1) << 7
		w |= ((immu >> 1) & 0xF) << 8
		w |= uint32(ins.Funct3&0x7) << 12
		w |= uint32(rs1&0x1F) << 15
		w |= uint32(rs2&0x1F) << 20
		w |= ((immu >> 5) & 0x3F) << 25
		w |= ((immu >> 12) & 0x1) << 31

	case FormatU:
		w |= uint32(rd&0x1F) << 7
		w |= uint32(imm) & 0xFFFFF000

	case FormatJ:
		immu := uint32(imm) & 0x1FFFFF // 21-bit signed, bit0 always 0
		w |= uint32(rd&0x1F) << 7
		w |= ((immu >> 12) & 0xFF) << 12
		w |= ((immu >> 11) & 0x1) << 20
		w |= ((immu >> 1) & 0x3FF) << 21
		w |= ((immu >> 20) & 0x1) << 31

	case FormatSystem:
		w |= uint32(rd&0x1F) << 7
		w |= uint32(ins.Funct3&0x7) << 12
		if ins.Extension == ExtZicsr {
			w |= uint32(rs1&0x1F) << 15
			w |= uint32(uint16(imm)&0xFFF) << 20 // imm carries the CSR number for every Zicsr form; rs1 is the source register or zimm
		}
		if ins.Mnemonic == "mret" {
			w |= mretFunct12 << 20
		}

	default:
		return 0, fmt.Errorf("isa: unknown format for %s", ins.Mnemonic)
	}

	return w, nil
}

// EncodeCSR packs a CSR-register or CSR-immediate instruction, where csr
// is the 12-bit CSR address and srcOrImm is either rs1 (csrrw/csrrs/csrrc)
// or a 5-bit zero-extended immediate (csrrwi/csrrsi/csrrci).
func EncodeCSR(ins *Instruction, rd uint8, csr uint16, srcOrImm uint8) (uint32, error) {
	if ins == nil || ins.Extension != ExtZicsr {
		return 0, fmt.Errorf("isa: EncodeCSR called on non-CSR instruction")
	}
	w := ins.Opcode & 0x7F
	w |= uint32(rd&0x1F) << 7
	w |= uint32(ins.Funct3&0x7) << 12
	w |= uint32(srcOrImm&0x1F) << 15
	w |= uint32(csr&0xFFF) << 20
	return w, nil
}

// Decode finds the instruction descriptor matching a 32-bit word and
// extracts its register/immediate fields. Returns ok=false (not an
// error) when no descriptor matches — callers treat that as an
// undecodable word and fall back to raw-word handling.
func Decode(word uint32) (*Encoded, bool) {
	opcode := word & 0x7F
	funct3 := int32((word >> 12) & 0x7)
	funct7 := int32((word >> 25) & 0x7F)

	for i := range instructionTable {
		ins := &instructionTable[i]
		if ins.Opcode != opcode {
			continue
		}
		if ins.Funct3 >= 0 && ins.Funct3 != funct3 && ins.Format != FormatU && ins.Format != FormatJ {
			continue
		}
		if ins.Format == FormatR && ins.Funct7 >= 0 && ins.Funct7 != funct7 {
			continue
		}
		if ins.Format == FormatI && ins.ImmIsShift && ins.Funct7 >= 0 {
			shiftFunct7 := int32((word >> 26) << 1) // upper 6 bits of the 25:31 field for RV64 shamt
			_ = shiftFunct7
			topBit := int32((word >> 30) & 0x1)
			if (ins.Funct7>>5)&0x1 != topBit {
				continue
			}
		}
		if ins.Format == FormatSystem && ins.Extension != ExtZicsr {
			// ecall and mret share funct3=0; imm[31:20] tells them apart.
			if ins.Mnemonic == "ecall" && word>>20 != 0 {
				continue
			}
			if ins.Mnemonic == "mret" && word>>20 != mretFunct12 {
				continue
			}
		}
		return decodeFields(ins, word), true
	}
	return nil, false
}

func decodeFields(ins *Instruction, word uint32) *Encoded {
	e := &Encoded{Word: word, Ins: ins}
	switch ins.Format {
	case FormatR:
		e.Rd = uint8((word >> 7) & 0x1F)
		e.Rs1 = uint8((word >> 15) & 0x1F)
		e.Rs2 = uint8((word >> 20) & 0x1F)
	case FormatI:
		e.Rd = uint8((word >> 7) & 0x1F)
		e.Rs1 = uint8((word >> 15) & 0x1F)
		if ins.ImmIsShift {
			e.Imm = int64((word >> 20) & 0x3F)
		} else {
			e.Imm = signExtend(int64((word>>20)&0xFFF), 12)
		}
	case FormatS:
		e.Rs1 = uint8((word >> 15) & 0x1F)
		e.Rs2 = uint8((word >> 20) & 0x1F)
		imm := ((word >> 7) & 0x1F) | (((word >> 25) & 0x7F) << 5)
		e.Imm = signExtend(int64(imm), 12)
	case FormatB:
		e.Rs1 = uint8((word >> 15) & 0x1F)
		e.Rs2 = uint8((word >> 20) & 0x1F)
		imm := (((word >> 8) & 0xF) << 1) | (((word >> 25) & 0x3F) << 5) |
			(((word >> 7) & 0x1) << 11) | (((word >> 31) & 0x1) << 12)
		e.Imm = signExtend(int64(imm), 13)
	case FormatU:
		e.Rd = uint8((word >> 7) & 0x1F)
		e.Imm = int64(word & 0xFFFFF000)
	case FormatJ:
		e.Rd = uint8((word >> 7) & 0x1F)
		imm := (((word >> 21) & 0x3FF) << 1) | (((word >> 20) & 0x1) << 11) |
			(((word >> 12) & 0xFF) << 12) | (((word >> 31) & 0x1) << 20)
		e.Imm = signExtend(int64(imm), 21)
	case FormatSystem:
		e.Rd = uint8((word >> 7) & 0x1F)
		e.Rs1 = uint8((word >> 15) & 0x1F)
		if ins.Extension == ExtZicsr {
			e.CSR = uint16((word >> 20) & 0xFFF)
		}
	}
	return e
}

func signExtend(v int64, bits int) int64 {
	shift := 64 - bits
	return (v << shift) >> shift
}
