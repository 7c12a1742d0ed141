// Package generator implements the core generation loop: interleaving
// "produce one instruction at the model's pc" with "execute one placed
// instruction through the model", applying synthesised traps, driving
// relocation when contiguous code space runs out, and detecting both
// the normal exit self-loop and the hung/escaped failure modes.
package generator

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/tibbar/tibbar/pkg/addr"
	"github.com/tibbar/tibbar/pkg/isa"
	"github.com/tibbar/tibbar/pkg/memadapter"
	"github.com/tibbar/tibbar/pkg/memconfig"
	"github.com/tibbar/tibbar/pkg/memstore"
	"github.com/tibbar/tibbar/pkg/model"
	"github.com/tibbar/tibbar/pkg/reserver"
	"github.com/tibbar/tibbar/pkg/sequence"
	"github.com/tibbar/tibbar/pkg/tibbarerr"
	"github.com/tibbar/tibbar/pkg/tlog"
)

const (
	// bootWindowBytes is the free window required at the boot address
	// and the low-space threshold that triggers relocation: 13
	// instruction slots.
	bootWindowBytes = 13 * 4

	maxBootAttempts       = 256
	recentPCWindow        = 128
	maxCycleRepeats       = 100
	maxModelStepsNoPlace  = 1000
	maxPlacementsNoModel  = 100
	exceptionHandlerBytes = 16
)

// Env is the shared handle a recipe's sequences work through: the one
// seeded random source, the store/reserver/machine of this invocation,
// and the instance-tagged logger.
type Env struct {
	Rng      *rand.Rand
	Store    *memstore.MemoryStore
	Reserver *reserver.Reserver
	Machine  *model.Machine
	Mapper   *addr.Mapper
	Log      *tlog.Logger
}

// Options configures one generator invocation.
type Options struct {
	Seed   int64
	Config *memconfig.Config
	Log    *tlog.Logger
	// Trace records a StepRecord per model step for the debug dump.
	Trace bool
}

// Summary is the execution record Run leaves behind.
type Summary struct {
	Reason           string
	TerminationPC    *uint64
	StepsRecorded    int
	BootAddress      uint64
	ExitAddress      *uint64
	ExceptionAddress uint64
	Trace            []StepRecord
}

// Generator owns the state of one generation run.
type Generator struct {
	cfg     *memconfig.Config
	rng     *rand.Rand
	log     *tlog.Logger
	mapper  *addr.Mapper
	store   *memstore.MemoryStore
	machine *model.Machine
	rsv     *reserver.Reserver

	pc            uint64
	bootAddr      uint64
	exceptionAddr uint64
	exitAddr      *uint64

	relocating  bool
	relocateSeq sequence.Producer

	modelStepsSinceProduce int
	produceSinceModel      int
	cycleRepeatCount       int
	recentPCs              []uint64
	recentCounts           map[uint64]int

	trace       bool
	steps       []StepRecord
	stepsRecord int
}

// New sets up a generator: resolves the memory layout, reserves the
// data region, chooses (or validates) the boot address, allocates the
// exception-handler block, and seeds the model's pc. The program start
// sequence is emitted by Run as the head of the instruction stream.
func New(opts Options) (*Generator, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = memconfig.Default()
	}
	log := opts.Log
	if log == nil {
		log = tlog.Noop()
	}

	mapper, err := addr.New(cfg.CodeSegments(), cfg.DataSegments())
	if err != nil {
		return nil, err
	}
	store := memstore.New(mapper, log)
	if err := store.ReserveDataRegion(cfg.DataReserve, 8); err != nil {
		return nil, err
	}

	g := &Generator{
		cfg:          cfg,
		rng:          rand.New(rand.NewSource(opts.Seed)),
		log:          log,
		mapper:       mapper,
		store:        store,
		rsv:          reserver.New(),
		trace:        opts.Trace,
		recentCounts: make(map[uint64]int),
	}
	g.machine = model.New(memadapter.New(store))

	boot, err := g.chooseBoot()
	if err != nil {
		return nil, err
	}
	g.bootAddr = boot
	store.ReserveWindow(boot, boot+bootWindowBytes)
	g.pc = boot
	g.machine.PokePC(boot)

	handler, err := store.Allocate(g.rng, exceptionHandlerBytes, 8, memstore.PurposeCode, memstore.AllocOpts{})
	if err != nil {
		return nil, tibbarerr.New(tibbarerr.ConfigInvalid,
			"no room for the exception handler block", map[string]any{"cause": err.Error()})
	}
	g.exceptionAddr = *handler
	log.Infof("boot=0x%x handler=0x%x", boot, g.exceptionAddr)
	return g, nil
}

// Env returns the shared handle recipes build their sequences against.
func (g *Generator) Env() *Env {
	return &Env{
		Rng:      g.rng,
		Store:    g.store,
		Reserver: g.rsv,
		Machine:  g.machine,
		Mapper:   g.mapper,
		Log:      g.log,
	}
}

// Store exposes the placed-item record for the asm emitter.
func (g *Generator) Store() *memstore.MemoryStore { return g.store }

// BootAddress returns the resolved boot address.
func (g *Generator) BootAddress() uint64 { return g.bootAddr }

// ExceptionAddress returns the handler block's base address.
func (g *Generator) ExceptionAddress() uint64 { return g.exceptionAddr }

func (g *Generator) chooseBoot() (uint64, error) {
	if g.cfg.Boot != nil {
		boot := *g.cfg.Boot &^ 7
		if _, err := g.mapper.RequireCodeAddr(boot, bootWindowBytes); err != nil {
			return 0, tibbarerr.New(tibbarerr.ConfigInvalid,
				fmt.Sprintf("configured boot 0x%x does not leave a %d-byte window inside a code bank", boot, bootWindowBytes), nil)
		}
		if !g.store.CheckRegionEmpty(boot, bootWindowBytes) {
			return 0, tibbarerr.New(tibbarerr.ConfigInvalid,
				fmt.Sprintf("configured boot 0x%x overlaps a reserved region", boot), nil)
		}
		return boot, nil
	}

	// Randomise inside the largest code segment.
	var seg addr.Segment
	for _, s := range g.mapper.Code {
		if s.Size > seg.Size {
			seg = s
		}
	}
	if seg.Size < bootWindowBytes {
		return 0, tibbarerr.New(tibbarerr.ConfigInvalid,
			fmt.Sprintf("largest code bank (%d bytes) cannot hold a %d-byte boot window", seg.Size, bootWindowBytes), nil)
	}
	lo := (seg.Base + 7) &^ 7
	if lo+bootWindowBytes > seg.End() {
		return 0, tibbarerr.New(tibbarerr.ConfigInvalid,
			fmt.Sprintf("largest code bank cannot hold an 8-aligned %d-byte boot window", bootWindowBytes), nil)
	}
	slots := (seg.End() - bootWindowBytes - lo) / 8
	for attempt := 0; attempt < maxBootAttempts; attempt++ {
		boot := lo + 8*uint64(g.rng.Int63n(int64(slots+1)))
		if g.store.CheckRegionEmpty(boot, bootWindowBytes) {
			return boot, nil
		}
	}
	return 0, tibbarerr.New(tibbarerr.ConfigInvalid,
		fmt.Sprintf("no free %d-byte boot window found after %d attempts", bootWindowBytes, maxBootAttempts), nil)
}

// Run drives the main produce/execute loop over the recipe's top-level
// producer until a termination condition or a fatal error. The program
// start sequence runs ahead of main, and the default program end
// sequence is appended behind it.
func (g *Generator) Run(main sequence.Producer) (*Summary, error) {
	stream := sequence.NewSimpleFunnel(newProgramStartSequence(g), main)
	end := newProgramEndSequence(g)

	for {
		if g.store.IsMemoryPopulated(g.pc) {
			done, err := g.stepModel()
			if err != nil {
				return nil, err
			}
			if done {
				return g.summary("reached_exit", &g.pc), nil
			}
			continue
		}

		done, reason, err := g.produceOne(stream, end)
		if err != nil {
			return nil, err
		}
		if done {
			return g.summary(reason, nil), nil
		}
	}
}

func (g *Generator) summary(reason string, pc *uint64) *Summary {
	g.log.Infof("terminated: %s (steps=%d)", reason, g.stepsRecord)
	s := &Summary{
		Reason:           reason,
		StepsRecorded:    g.stepsRecord,
		BootAddress:      g.bootAddr,
		ExitAddress:      g.exitAddr,
		ExceptionAddress: g.exceptionAddr,
		Trace:            g.steps,
	}
	if pc != nil {
		p := *pc
		s.TerminationPC = &p
	}
	return s
}

// stepModel executes the placed instruction at pc through the model.
// It returns done=true on the exit self-loop.
func (g *Generator) stepModel() (bool, error) {
	pcBefore := g.pc
	opc := uint32(g.store.ReadFromMemStore(pcBefore, 4))
	g.machine.PokePC(pcBefore)

	changes, err := g.machine.Execute(opc)
	g.stepsRecord++
	g.produceSinceModel = 0
	g.modelStepsSinceProduce++
	if g.modelStepsSinceProduce > maxModelStepsNoPlace {
		return false, tibbarerr.New(tibbarerr.HungInLoop,
			fmt.Sprintf("over %d model steps at pc 0x%x without placing anything; try another seed",
				maxModelStepsNoPlace, pcBefore), nil)
	}

	if err != nil {
		// An undecodable word at the pc: synthesise an illegal-
		// instruction trap and keep going through the handler.
		g.recordStep(pcBefore, opc, "UNDECODABLE_INSTRUCTION", model.Changes{}, uint64Ptr(uint64(isa.IllegalInstruction)))
		return false, g.applyTrap(pcBefore, isa.IllegalInstruction, nil)
	}

	if changes.Trap != nil {
		g.recordStep(pcBefore, opc, g.renderWord(opc), changes, uint64Ptr(uint64(changes.Trap.Cause)))
		return false, g.applyTrap(pcBefore, changes.Trap.Cause, changes.Mem)
	}

	g.machine.PokePC(changes.NextPC)
	if _, err := g.mapper.RequireCodeAddr(changes.NextPC, 4); err != nil {
		return false, g.escapeError(pcBefore, changes.NextPC)
	}
	g.recordStep(pcBefore, opc, g.renderWord(opc), changes, nil)
	g.pc = changes.NextPC

	if g.pc == pcBefore {
		if g.exitAddr == nil {
			g.exitAddr = &pcBefore
		}
		return true, nil
	}
	return false, g.trackRecentPC(g.pc)
}

// applyTrap synthesises the architectural trap: mepc/mcause/mtval are
// written, pc moves to the force-aligned mtvec.
func (g *Generator) applyTrap(pcBefore uint64, cause isa.ExceptionCause, accesses []model.MemAccess) error {
	g.machine.PokeCSR(isa.CSRMepc, pcBefore)
	g.machine.PokeCSR(isa.CSRMcause, uint64(cause))
	var tval uint64
	if len(accesses) > 0 {
		tval = accesses[0].Addr
	}
	g.machine.PokeCSR(isa.CSRMtval, tval)

	target := g.machine.PeekCSR(isa.CSRMtvec) &^ 3
	g.machine.PokePC(target)
	if _, err := g.mapper.RequireCodeAddr(target, 4); err != nil {
		return g.escapeError(pcBefore, target)
	}
	g.log.Debugf("trap %s at 0x%x -> handler 0x%x", cause, pcBefore, target)
	g.pc = target
	return g.trackRecentPC(g.pc)
}

func (g *Generator) escapeError(pcBefore, target uint64) error {
	return tibbarerr.New(tibbarerr.ControlFlowEscape,
		fmt.Sprintf("pc 0x%x (from 0x%x) left every code bank; allowed: %s",
			target, pcBefore, segmentRanges(g.mapper.Code)), nil)
}

func segmentRanges(segs []addr.Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		parts = append(parts, fmt.Sprintf("[0x%x,0x%x)", s.Base, s.End()))
	}
	return strings.Join(parts, " ")
}

func (g *Generator) trackRecentPC(pc uint64) error {
	if g.recentCounts[pc] > 0 {
		g.cycleRepeatCount++
		if g.cycleRepeatCount > maxCycleRepeats {
			return tibbarerr.New(tibbarerr.HungInLoop,
				fmt.Sprintf("generated code loops around 0x%x without reaching the exit; try another seed", pc), nil)
		}
	} else {
		g.cycleRepeatCount = 0
	}
	g.recentPCs = append(g.recentPCs, pc)
	g.recentCounts[pc]++
	if len(g.recentPCs) > recentPCWindow {
		old := g.recentPCs[0]
		g.recentPCs = g.recentPCs[1:]
		g.recentCounts[old]--
		if g.recentCounts[old] == 0 {
			delete(g.recentCounts, old)
		}
	}
	return nil
}

func (g *Generator) clearRecentPCs() {
	g.recentPCs = g.recentPCs[:0]
	g.recentCounts = make(map[uint64]int)
	g.cycleRepeatCount = 0
}

// produceOne draws one item — from the relocate sequence when space is
// low, else from the main stream, else from the end sequence — and
// places it. done=true with a reason reports normal termination.
func (g *Generator) produceOne(stream, end sequence.Producer) (bool, string, error) {
	free := g.store.GetFreeSpace(g.pc)
	if g.relocating || free <= bootWindowBytes {
		if g.relocateSeq == nil {
			g.log.Debugf("relocating: %d bytes free at 0x%x", free, g.pc)
			g.relocateSeq = newRelocateSequence(g)
			g.relocating = true
		}
		if item, ok := g.relocateSeq.Next(); ok {
			return false, "", g.place(item)
		}
		g.relocating = false
		g.relocateSeq = nil
	}

	item, ok := stream.Next()
	if !ok {
		if f, isF := stream.(sequence.Failable); isF && f.Err() != nil {
			return false, "", f.Err()
		}
		item, ok = end.Next()
		if !ok {
			return true, "end_sequence_exhausted", nil
		}
	}
	return false, "", g.place(item)
}

func (g *Generator) place(item sequence.GeneratedItem) error {
	if item.ByteSize == 0 {
		item.ByteSize = 4
	}
	var at uint64
	if item.Addr == nil {
		at = g.pc
	} else {
		at = *item.Addr
		if _, err := g.mapper.RequireStoreAddr(at, uint64(item.ByteSize)); err != nil {
			return err
		}
	}
	placed := memstore.PlacedItem{
		Addr:     at,
		ByteSize: item.ByteSize,
		Data:     item.Data,
		Seq:      item.Seq,
		IsData:   item.IsData,
	}
	if item.LdstAddr != nil {
		if _, err := g.mapper.RequireStoreAddr(*item.LdstAddr, uint64(item.LdstSize)); err != nil {
			return err
		}
		placed.Ldst = &memstore.Ldst{Addr: *item.LdstAddr, Data: item.LdstData, Size: item.LdstSize}
	}
	if err := g.store.AddToMemStore(placed); err != nil {
		return err
	}
	if item.Seq == seqProgramEnd {
		g.exitAddr = &placed.Addr
	}

	g.modelStepsSinceProduce = 0
	g.clearRecentPCs()
	g.produceSinceModel++
	if g.produceSinceModel > maxPlacementsNoModel {
		return tibbarerr.New(tibbarerr.HungGenerator,
			fmt.Sprintf("over %d placements around 0x%x without a model step", maxPlacementsNoModel, g.pc), nil)
	}
	return nil
}

func uint64Ptr(v uint64) *uint64 { return &v }
