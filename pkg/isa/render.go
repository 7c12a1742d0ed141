package isa

import (
	"fmt"
	"strings"
)

// Render formats a decoded instruction as assembler text, using the
// x<N>/f<N> register names (x0 renders as zero) and `imm(base)` addressing for
// loads and stores. Branch and jal immediates render as raw byte
// offsets; the asm emitter rewrites them to labels before writing the
// .S file.
func Render(e *Encoded) string {
	ins := e.Ins
	switch ins.Format {
	case FormatR:
		return renderR(e)
	case FormatI:
		if ins.Opcode == opLOAD || ins.Opcode == opLOADFP {
			dst := GPRName(int(e.Rd))
			if ins.Opcode == opLOADFP {
				dst = FPRName(int(e.Rd))
			}
			return fmt.Sprintf("%s %s,%d(%s)", ins.Mnemonic, dst, e.Imm, GPRName(int(e.Rs1)))
		}
		if ins.Opcode == opJALR {
			return fmt.Sprintf("%s %s,%d(%s)", ins.Mnemonic, GPRName(int(e.Rd)), e.Imm, GPRName(int(e.Rs1)))
		}
		return fmt.Sprintf("%s %s,%s,%d", ins.Mnemonic, GPRName(int(e.Rd)), GPRName(int(e.Rs1)), e.Imm)
	case FormatS:
		src := GPRName(int(e.Rs2))
		if ins.Opcode == opSTOREFP {
			src = FPRName(int(e.Rs2))
		}
		return fmt.Sprintf("%s %s,%d(%s)", ins.Mnemonic, src, e.Imm, GPRName(int(e.Rs1)))
	case FormatB:
		return fmt.Sprintf("%s %s,%s,%d", ins.Mnemonic, GPRName(int(e.Rs1)), GPRName(int(e.Rs2)), e.Imm)
	case FormatU:
		return fmt.Sprintf("%s %s,0x%x", ins.Mnemonic, GPRName(int(e.Rd)), uint32(e.Imm)>>12)
	case FormatJ:
		return fmt.Sprintf("%s %s,%d", ins.Mnemonic, GPRName(int(e.Rd)), e.Imm)
	case FormatSystem:
		if ins.Mnemonic == "ecall" || ins.Mnemonic == "mret" {
			return ins.Mnemonic
		}
		csr := csrOperandName(e.CSR)
		if strings.HasSuffix(ins.Mnemonic, "i") {
			// Immediate forms carry zimm in the rs1 field.
			return fmt.Sprintf("%s %s,%s,%d", ins.Mnemonic, GPRName(int(e.Rd)), csr, e.Rs1)
		}
		return fmt.Sprintf("%s %s,%s,%s", ins.Mnemonic, GPRName(int(e.Rd)), csr, GPRName(int(e.Rs1)))
	}
	return fmt.Sprintf(".word 0x%08x", e.Word)
}

func renderR(e *Encoded) string {
	ins := e.Ins
	name := func(k OperandKind, reg uint8) string {
		if k == OperandFPR {
			return FPRName(int(reg))
		}
		return GPRName(int(reg))
	}
	regs := []uint8{e.Rd, e.Rs1, e.Rs2}
	parts := make([]string, 0, len(ins.Operands))
	for i, k := range ins.Operands {
		if i < len(regs) {
			parts = append(parts, name(k, regs[i]))
		}
	}
	return fmt.Sprintf("%s %s", ins.Mnemonic, strings.Join(parts, ","))
}

func csrOperandName(address uint16) string {
	for _, c := range csrTable {
		if c.Address == address {
			return c.Name
		}
	}
	return fmt.Sprintf("0x%x", address)
}
