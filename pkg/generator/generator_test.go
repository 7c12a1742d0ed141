package generator_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tibbar/tibbar/pkg/generator"
	"github.com/tibbar/tibbar/pkg/isa"
	"github.com/tibbar/tibbar/pkg/memconfig"
	"github.com/tibbar/tibbar/pkg/sequence"
	"github.com/tibbar/tibbar/pkg/tibbarerr"
)

// wordSeq yields pre-encoded instruction words in order.
type wordSeq struct {
	words []uint32
	idx   int
}

func (s *wordSeq) Next() (sequence.GeneratedItem, bool) {
	if s.idx >= len(s.words) {
		return sequence.GeneratedItem{}, false
	}
	w := s.words[s.idx]
	s.idx++
	return sequence.GeneratedItem{Data: uint64(w), ByteSize: 4, Seq: "test"}, true
}

func encode(t *testing.T, mnemonic string, rd, rs1, rs2 uint8, imm int64) uint32 {
	t.Helper()
	ins, ok := isa.Lookup(mnemonic)
	require.True(t, ok, "unknown mnemonic %s", mnemonic)
	w, err := isa.Encode(ins, rd, rs1, rs2, imm)
	require.NoError(t, err)
	return w
}

func bootAt(addr uint64) *memconfig.Config {
	cfg := memconfig.Default()
	cfg.Boot = &addr
	return cfg
}

func TestRunReachesExitAfterExhaustion(t *testing.T) {
	gen, err := generator.New(generator.Options{Seed: 1, Config: bootAt(0x80000000)})
	require.NoError(t, err)
	require.Equal(t, uint64(0x80000000), gen.BootAddress())

	nop := encode(t, "addi", 0, 0, 0, 0)
	sum, err := gen.Run(&wordSeq{words: []uint32{nop, nop, nop}})
	require.NoError(t, err)
	require.Equal(t, "reached_exit", sum.Reason)
	require.NotNil(t, sum.ExitAddress)
	require.NotNil(t, sum.TerminationPC)
	require.Equal(t, *sum.ExitAddress, *sum.TerminationPC)
	require.Greater(t, sum.StepsRecorded, 0)

	// Every placed item lies inside the mapped bank.
	for _, item := range gen.Store().PlacedItemsInOrder() {
		require.GreaterOrEqual(t, item.Addr, uint64(0x80000000))
		require.LessOrEqual(t, item.End(), uint64(0x80080000))
	}
}

func TestControlFlowEscapeNamesRanges(t *testing.T) {
	gen, err := generator.New(generator.Options{Seed: 1, Config: bootAt(0x80000000)})
	require.NoError(t, err)

	seq := &wordSeq{words: []uint32{
		encode(t, "addiw", 1, 0, 0, 0x3a0),
		encode(t, "jalr", 0, 1, 0, 0),
	}}
	_, err = gen.Run(seq)
	require.Error(t, err)
	var genErr *tibbarerr.GeneratorError
	require.ErrorAs(t, err, &genErr)
	require.Equal(t, tibbarerr.ControlFlowEscape, genErr.Kind)
	require.Contains(t, genErr.Error(), "0x80000000")
}

func TestTrapRoutesThroughHandler(t *testing.T) {
	gen, err := generator.New(generator.Options{Seed: 1, Config: bootAt(0x80000000), Trace: true})
	require.NoError(t, err)

	sum, err := gen.Run(&wordSeq{words: []uint32{encode(t, "ecall", 0, 0, 0, 0)}})
	require.NoError(t, err)
	// The handler resumes past the trapping instruction, so the run
	// still ends at the ordinary exit region, not inside the handler.
	require.Equal(t, "reached_exit", sum.Reason)
	require.NotNil(t, sum.ExitAddress)
	require.NotEqual(t, sum.ExceptionAddress, *sum.ExitAddress)

	env := gen.Env()
	require.Equal(t, uint64(isa.EcallFromMMode), env.Machine.PeekCSR(isa.CSRMcause))

	// The trace recorded the exception step; the handler advanced mepc
	// past it before returning.
	var sawTrap bool
	for _, step := range sum.Trace {
		if step.ExceptionCode != nil {
			sawTrap = true
			require.Equal(t, uint64(isa.EcallFromMMode), *step.ExceptionCode)
			require.Equal(t, step.PC+4, env.Machine.PeekCSR(isa.CSRMepc), "handler leaves mepc past the trap")
		}
	}
	require.True(t, sawTrap)

	// The handler itself was executed: its mret appears in the trace.
	var sawMret bool
	for _, step := range sum.Trace {
		if step.Asm == "mret" {
			sawMret = true
		}
	}
	require.True(t, sawMret)
}

func TestHungInLoopDetected(t *testing.T) {
	gen, err := generator.New(generator.Options{Seed: 1, Config: bootAt(0x80000000)})
	require.NoError(t, err)

	// A tight loop that never reaches an exit: x2 captures the auipc's
	// own address, the jalr jumps back to it forever.
	_, err = gen.Run(&wordSeq{words: []uint32{
		encode(t, "auipc", 2, 0, 0, 0),
		encode(t, "jalr", 0, 2, 0, 0),
	}})
	require.Error(t, err)
	var genErr *tibbarerr.GeneratorError
	require.ErrorAs(t, err, &genErr)
	require.Equal(t, tibbarerr.HungInLoop, genErr.Kind)
}

func TestConfiguredBootMustLeaveWindowFree(t *testing.T) {
	// A boot window that collides with the carved data reservation is
	// rejected. A code-only bank carves data_reserve bytes at its high
	// end, so a boot inside that carve cannot leave 52 free bytes.
	cfg := &memconfig.Config{
		Banks: []memconfig.Bank{
			{Name: "CODE", Base: 0x80000000, Size: 0x80000, Code: true, Access: "rx"},
		},
		DataReserve: 0x1000,
	}
	boot := uint64(0x8007f800) // inside the carved [0x8007f000, 0x80080000)
	cfg.Boot = &boot
	_, err := generator.New(generator.Options{Seed: 1, Config: cfg})
	require.Error(t, err)
	var genErr *tibbarerr.GeneratorError
	require.ErrorAs(t, err, &genErr)
	require.Equal(t, tibbarerr.ConfigInvalid, genErr.Kind)
}

func TestRandomBootIsDeterministicPerSeed(t *testing.T) {
	mk := func() uint64 {
		gen, err := generator.New(generator.Options{Seed: 9, Config: memconfig.Default()})
		require.NoError(t, err)
		return gen.BootAddress()
	}
	first, second := mk(), mk()
	require.Equal(t, first, second)
	require.Zero(t, first%8, "boot must be 8-aligned")

	other, err := generator.New(generator.Options{Seed: 10, Config: memconfig.Default()})
	require.NoError(t, err)
	_ = other
}

func TestFatalFunnelErrorPropagates(t *testing.T) {
	gen, err := generator.New(generator.Options{Seed: 1, Config: bootAt(0x80000000)})
	require.NoError(t, err)

	bad := &failingProducer{err: tibbarerr.New(tibbarerr.FunnelCannotProgress, "stuck", nil)}
	_, err = gen.Run(bad)
	require.Error(t, err)
	require.True(t, errors.Is(err, tibbarerr.New(tibbarerr.FunnelCannotProgress, "", nil)))
}

type failingProducer struct{ err error }

func (p *failingProducer) Next() (sequence.GeneratedItem, bool) {
	return sequence.GeneratedItem{}, false
}
func (p *failingProducer) Err() error { return p.err }
