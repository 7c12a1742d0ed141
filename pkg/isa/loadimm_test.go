package isa_test

import (
	"testing"

	"github.com/tibbar/tibbar/pkg/isa"
	"github.com/tibbar/tibbar/pkg/model"
)

type nullMemory struct{}

func (nullMemory) Load(uint64, uint8) (uint64, error) { return 0, nil }
func (nullMemory) Store(uint64, uint64, uint8) error  { return nil }

// Every expansion must leave exactly the requested value in the
// register once the model executes it.
func TestLoadImmWordsMaterializeThroughModel(t *testing.T) {
	values := []uint64{
		0,
		1,
		4,
		0x7ff,
		0x800,
		0xfff,
		0x1000,
		0x12345,
		0x7fffffff,
		0x80000000, // not sign-extendable from 32 bits
		0x80042358,
		0xdeadbeef,
		0xffffffff,
		0xffffffff80000000, // sign-extends from 32 bits
		0xfffffffffffff800,
		0x0123456789abcdef,
		0xfedcba9876543210,
		^uint64(0),
	}
	for _, want := range values {
		words := isa.LoadImmWords(5, want)
		if len(words) == 0 {
			t.Fatalf("LoadImmWords(5, 0x%x) produced nothing", want)
		}
		m := model.New(nullMemory{})
		pc := uint64(0x1000)
		for _, w := range words {
			m.PokePC(pc)
			ch, err := m.Execute(w)
			if err != nil {
				t.Fatalf("value 0x%x: word 0x%08x undecodable", want, w)
			}
			if ch.Trap != nil {
				t.Fatalf("value 0x%x: word 0x%08x trapped", want, w)
			}
			pc = ch.NextPC
		}
		if got := m.PeekGPR(5); got != want {
			t.Errorf("LoadImmWords(5, 0x%x) materialized 0x%x", want, got)
		}
	}
}

func TestLoadImmWordsZeroRegister(t *testing.T) {
	if words := isa.LoadImmWords(0, 42); words != nil {
		t.Errorf("x0 must not be loadable, got %d words", len(words))
	}
}

func TestLoadImmWordsCompact(t *testing.T) {
	// A 32-bit sign-extendable value needs at most lui+addiw.
	if n := len(isa.LoadImmWords(5, 0x12345678)); n > 2 {
		t.Errorf("32-bit value took %d words", n)
	}
	if n := len(isa.LoadImmWords(5, 1)); n != 1 {
		t.Errorf("small value took %d words, want 1", n)
	}
}
