package isa

import "testing"

// Known-good encodings cross-checked against the RV64 reference
// toolchain.
func TestKnownEncodings(t *testing.T) {
	tests := []struct {
		mnemonic     string
		rd, rs1, rs2 uint8
		imm          int64
		want         uint32
	}{
		{"addi", 1, 0, 0, 1, 0x00100093}, // addi x1,x0,1
		{"add", 3, 1, 2, 0, 0x002081b3},  // add x3,x1,x2
		{"sub", 3, 1, 2, 0, 0x402081b3},  // sub x3,x1,x2
		{"jal", 0, 0, 0, 0, 0x0000006f},  // jal x0,0 (self-loop)
		{"jalr", 0, 5, 0, 0, 0x00028067}, // jalr x0,0(x5)
		{"beq", 0, 1, 2, 8, 0x00208463},  // beq x1,x2,+8
		{"lui", 1, 0, 0, 0x12345 << 12, 0x123450b7},
		{"auipc", 1, 0, 0, 0x1000, 0x00001097},
		{"lw", 2, 1, 0, 4, 0x0040a103}, // lw x2,4(x1)
		{"sw", 0, 1, 2, 8, 0x0020a423}, // sw x2,8(x1)
		{"ecall", 0, 0, 0, 0, 0x00000073},
		{"mret", 0, 0, 0, 0, 0x30200073},
	}
	for _, tt := range tests {
		ins, ok := Lookup(tt.mnemonic)
		if !ok {
			t.Fatalf("Lookup(%q) failed", tt.mnemonic)
		}
		got, err := Encode(ins, tt.rd, tt.rs1, tt.rs2, tt.imm)
		if err != nil {
			t.Fatalf("Encode(%s): %v", tt.mnemonic, err)
		}
		if got != tt.want {
			t.Errorf("Encode(%s) = 0x%08x, want 0x%08x", tt.mnemonic, got, tt.want)
		}
	}
}

func TestCSREncoding(t *testing.T) {
	ins, _ := Lookup("csrrw")
	got, err := EncodeCSR(ins, 0, CSRMtvec, 1)
	if err != nil {
		t.Fatal(err)
	}
	// csrrw x0,mtvec,x1
	if want := uint32(0x30509073); got != want {
		t.Errorf("EncodeCSR = 0x%08x, want 0x%08x", got, want)
	}
	enc, ok := Decode(got)
	if !ok || enc.Ins.Mnemonic != "csrrw" || enc.CSR != CSRMtvec || enc.Rs1 != 1 {
		t.Errorf("Decode round-trip failed: %+v", enc)
	}
}

// Every table entry must survive an encode/decode round trip with
// representative operands.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, ins := range Instructions() {
		ins := ins
		var rd, rs1, rs2 uint8 = 3, 7, 11
		var imm int64
		switch {
		case ins.ImmIsShift:
			imm = 13
		case ins.Format == FormatB:
			imm = -16 // branches: even, sign-extended
		case ins.Format == FormatJ:
			imm = 2048
		case ins.Format == FormatU:
			imm = 0x7f000 << 12
		case ins.Extension == ExtZicsr:
			imm = int64(rs1) // EncodeCSR packs rs1 as the 5-bit zimm
		case ins.ImmBits > 0:
			imm = -5
		}

		var word uint32
		var err error
		if ins.Extension == ExtZicsr {
			word, err = EncodeCSR(&ins, rd, CSRMscratch, rs1)
		} else {
			word, err = Encode(&ins, rd, rs1, rs2, imm)
		}
		if err != nil {
			t.Fatalf("Encode(%s): %v", ins.Mnemonic, err)
		}

		enc, ok := Decode(word)
		if !ok {
			t.Fatalf("Decode(%s = 0x%08x) failed", ins.Mnemonic, word)
		}
		if enc.Ins.Mnemonic != ins.Mnemonic {
			t.Errorf("Decode(0x%08x) = %s, want %s", word, enc.Ins.Mnemonic, ins.Mnemonic)
			continue
		}
		gotImm := enc.Imm
		if ins.Extension == ExtZicsr {
			gotImm = int64(enc.Rs1) // the decoder carries zimm in the rs1 field
		}
		if ins.ImmBits > 0 && ins.Format != FormatU && gotImm != imm {
			t.Errorf("%s: decoded imm %d, want %d", ins.Mnemonic, gotImm, imm)
		}

		// And the re-encode is bit-identical.
		var again uint32
		if ins.Extension == ExtZicsr {
			again, err = EncodeCSR(enc.Ins, enc.Rd, enc.CSR, enc.Rs1)
		} else {
			again, err = Encode(enc.Ins, enc.Rd, enc.Rs1, enc.Rs2, enc.Imm)
		}
		if err != nil {
			t.Fatalf("re-Encode(%s): %v", ins.Mnemonic, err)
		}
		if again != word {
			t.Errorf("%s: re-encode 0x%08x != original 0x%08x", ins.Mnemonic, again, word)
		}
	}
}

func TestDecodeGarbageFails(t *testing.T) {
	for _, word := range []uint32{0x00000000, 0xffffffff, 0x0000007f} {
		if _, ok := Decode(word); ok {
			t.Errorf("Decode(0x%08x) succeeded; want failure", word)
		}
	}
}

func TestImmediateSamplingProfile(t *testing.T) {
	isShift, width, signed := ImmediateSamplingProfile("slli", 12)
	if !isShift || width != 6 || signed {
		t.Errorf("slli profile = (%v, %d, %v)", isShift, width, signed)
	}
	isShift, width, signed = ImmediateSamplingProfile("addi", 12)
	if isShift || width != 12 || !signed {
		t.Errorf("addi profile = (%v, %d, %v)", isShift, width, signed)
	}
	_, width, _ = ImmediateSamplingProfile("no-such-op", 9)
	if width != 9 {
		t.Errorf("fallback width = %d, want 9", width)
	}
}
