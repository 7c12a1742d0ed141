// Package memstore implements the MemoryStore: the bank-aware,
// byte-addressable store that owns the physical placement of every
// code and data item, the gap-finding allocator, and the live byte
// image the Model sees through the MemoryAdapter.
package memstore

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/tibbar/tibbar/pkg/addr"
	"github.com/tibbar/tibbar/pkg/tibbarerr"
	"github.com/tibbar/tibbar/pkg/tlog"
)

// dataArena is one bump-allocated data region: either a user-declared
// data segment or the single carved-out reservation at the high end of
// the last code segment when no data segment was declared.
type dataArena struct {
	lo, hi uint64
	next   uint64
	// carved arenas live inside their own pre-reserved window, so the
	// bump cursor alone keeps allocations disjoint; declared arenas
	// may share a bank with code and must skip occupied stretches.
	carved bool
}

// MemoryStore owns placed items, the live byte image, and the used-range
// bookkeeping that backs allocation and overlap detection.
type MemoryStore struct {
	mapper *addr.Mapper
	log    *tlog.Logger

	placed    map[uint64]*PlacedItem
	order     []uint64 // sorted placed addresses, kept in sync with placed
	liveBytes map[uint64]byte
	used      rangeSet
	arenas    []*dataArena
	reserved  bool
	reservedN uint64
}

// New builds an empty store over the given mapper.
func New(mapper *addr.Mapper, log *tlog.Logger) *MemoryStore {
	if log == nil {
		log = tlog.Noop()
	}
	return &MemoryStore{
		mapper:    mapper,
		log:       log,
		placed:    make(map[uint64]*PlacedItem),
		liveBytes: make(map[uint64]byte),
	}
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + (align - rem)
}

// ReserveDataRegion sets up the data arena(s). Idempotent: a later call
// with size <= the first call's size is a no-op.
func (s *MemoryStore) ReserveDataRegion(size, align uint64) error {
	if s.reserved {
		if size <= s.reservedN {
			return nil
		}
		// A strictly larger request after the arena is already carved
		// cannot retroactively grow a fixed-size reservation.
		return tibbarerr.New(tibbarerr.AllocationExhausted,
			"data region already reserved at a smaller size", map[string]any{"requested": size, "reserved": s.reservedN})
	}

	if len(s.mapper.Data) > 0 {
		for _, seg := range s.mapper.Data {
			s.arenas = append(s.arenas, &dataArena{lo: seg.Base, hi: seg.End(), next: seg.Base})
		}
		s.reserved = true
		s.reservedN = size
		return nil
	}

	last := s.mapper.Code[len(s.mapper.Code)-1]
	if size == 0 {
		size = 1
	}
	aligned := alignUp(size, align)
	base := alignUp(last.End()-aligned, align)
	if base < aligned || base+aligned > last.End() {
		return tibbarerr.New(tibbarerr.AllocationExhausted,
			"no room to carve a data reservation from the last code segment", map[string]any{"segment": last})
	}
	s.used.insert(base, last.End())
	s.arenas = append(s.arenas, &dataArena{lo: base, hi: last.End(), next: base, carved: true})
	s.reserved = true
	s.reservedN = size
	s.log.Debugf("reserved data region [0x%x,0x%x)", base, last.End())
	return nil
}

// AllocOpts carries the optional filters for a code allocation.
type AllocOpts struct {
	PC       *uint64
	MinStart *uint64
	Within   *Window
}

// Allocate finds room for minSize bytes aligned to align, for the given
// purpose, returning the base address. rng is the caller's single
// seeded random source — Allocate never creates its own.
func (s *MemoryStore) Allocate(rng *rand.Rand, minSize, align uint64, purpose Purpose, opts AllocOpts) (*uint64, error) {
	if minSize == 0 {
		minSize = 1
	}
	if align == 0 {
		align = 1
	}

	if purpose == PurposeData {
		return s.allocateData(minSize, align)
	}
	return s.allocateCode(rng, minSize, align, opts)
}

func (s *MemoryStore) allocateData(minSize, align uint64) (*uint64, error) {
	for _, a := range s.arenas {
		// Bump from the cursor; in a declared arena that may share its
		// bank with code, step over anything already used.
		base := alignUp(a.next, align)
		for base >= a.lo && base+minSize <= a.hi {
			if !a.carved {
				if hi, clash := s.used.firstOverlapEnd(base, base+minSize); clash {
					base = alignUp(hi, align)
					continue
				}
			}
			a.next = base + minSize
			if !a.carved {
				s.used.insert(base, base+minSize)
			}
			return &base, nil
		}
	}
	return nil, tibbarerr.New(tibbarerr.AllocationExhausted, "no data arena has room", map[string]any{"min_size": minSize})
}

// ReserveWindow marks [lo,hi) as used without placing an item there,
// keeping later allocations out of a window the generator has promised
// to somebody (the boot window, say).
func (s *MemoryStore) ReserveWindow(lo, hi uint64) {
	s.used.insert(lo, hi)
}

func (s *MemoryStore) allocateCode(rng *rand.Rand, minSize, align uint64, opts AllocOpts) (*uint64, error) {
	candidates := s.codeCandidates(minSize, align, opts, true)
	if len(candidates) == 0 && opts.PC != nil {
		// Retry once without pc-bias before giving up.
		candidates = s.codeCandidates(minSize, align, opts, false)
	}
	if len(candidates) == 0 {
		return nil, tibbarerr.New(tibbarerr.AllocationExhausted, "no free code gap satisfies the allocation request",
			map[string]any{"min_size": minSize, "align": align})
	}

	pool := candidates
	if opts.PC != nil {
		pc := *opts.PC
		sort.Slice(candidates, func(i, j int) bool {
			return absDelta(candidates[i], pc) < absDelta(candidates[j], pc)
		})
		if len(candidates) > 64 {
			pool = candidates[:64]
		}
	}
	base := pool[rng.Intn(len(pool))]
	s.used.insert(base, base+minSize)
	return &base, nil
}

func absDelta(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// codeCandidates enumerates every aligned base address inside a free
// code gap that also satisfies MinStart/Within (when biased is true).
// The Within window constrains the candidate base only; the allocated
// range may extend past the window's upper bound so long as it stays
// inside the gap.
func (s *MemoryStore) codeCandidates(minSize, align uint64, opts AllocOpts, biased bool) []uint64 {
	var out []uint64
	for _, seg := range s.mapper.Code {
		gaps := s.used.gapsIn(seg.Base, seg.End())
		for _, g := range gaps {
			if g.Hi-g.Lo < minSize {
				continue
			}
			baseLo := g.Lo
			baseHi := g.Hi - minSize // inclusive bound on the base
			if opts.MinStart != nil && *opts.MinStart > baseLo {
				baseLo = *opts.MinStart
			}
			if biased && opts.Within != nil && opts.PC != nil {
				wlo, whi := windowBounds(*opts.PC, *opts.Within)
				if wlo > baseLo {
					baseLo = wlo
				}
				if whi < baseHi {
					baseHi = whi
				}
			}
			for base := alignUp(baseLo, align); base <= baseHi; base += align {
				out = append(out, base)
			}
		}
	}
	return out
}

func windowBounds(pc uint64, w Window) (uint64, uint64) {
	lo := addSigned(pc, w.MinOffset)
	hi := addSigned(pc, w.MaxOffset)
	return lo, hi
}

func addSigned(base uint64, delta int64) uint64 {
	if delta < 0 {
		d := uint64(-delta)
		if d > base {
			return 0
		}
		return base - d
	}
	return base + uint64(delta)
}

// CheckRegionEmpty reports whether [addr,addr+size) is inside a mapped
// bank and does not overlap any used range.
func (s *MemoryStore) CheckRegionEmpty(address, size uint64) bool {
	if _, err := s.mapper.RequireStoreAddr(address, size); err != nil {
		return false
	}
	return !s.used.overlaps(address, address+size)
}

// ReadFromMemStore assembles up to 8 little-endian bytes from live_bytes,
// zero-extended where bytes are unpopulated.
func (s *MemoryStore) ReadFromMemStore(address uint64, size uint8) uint64 {
	var v uint64
	for i := uint8(0); i < size; i++ {
		b := s.liveBytes[address+uint64(i)]
		v |= uint64(b) << (8 * i)
	}
	return v
}

// WriteToMemStore performs a per-byte masked write of value's low `size` bytes.
func (s *MemoryStore) WriteToMemStore(address uint64, value uint64, size uint8) {
	for i := uint8(0); i < size; i++ {
		s.liveBytes[address+uint64(i)] = byte(value >> (8 * i))
	}
}

// IsMemoryPopulated reports whether a byte exists at addr.
func (s *MemoryStore) IsMemoryPopulated(address uint64) bool {
	_, ok := s.liveBytes[address]
	return ok
}

// AddToMemStore inserts item into placed_items and used_ranges, writing
// its bytes into live_bytes. Fails with OverlapViolation if item's range
// overlaps an existing placed item (a pre-reserved range with no item
// is fine). If item.Ldst is set, the associated data word is placed
// first (recursively) at Ldst.Addr.
func (s *MemoryStore) AddToMemStore(item PlacedItem) error {
	if item.Ldst != nil {
		ldItem := PlacedItem{
			Addr:     item.Ldst.Addr,
			ByteSize: item.Ldst.Size,
			Data:     item.Ldst.Data,
			Seq:      item.Seq,
			IsData:   true,
		}
		if err := s.addOne(ldItem); err != nil {
			return err
		}
	}
	return s.addOne(item)
}

func (s *MemoryStore) addOne(item PlacedItem) error {
	if item.ByteSize == 0 {
		item.ByteSize = 4
	}
	lo, hi := item.Addr, item.End()
	if s.overlapsPlacedItem(lo, hi) {
		return tibbarerr.New(tibbarerr.OverlapViolation,
			fmt.Sprintf("placed item at 0x%x overlaps an existing item", item.Addr),
			map[string]any{"addr": item.Addr, "size": item.ByteSize})
	}

	stored := item
	s.placed[item.Addr] = &stored
	i := sort.Search(len(s.order), func(i int) bool { return s.order[i] >= item.Addr })
	s.order = append(s.order, 0)
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = item.Addr

	s.used.insert(lo, hi)
	s.WriteToMemStore(item.Addr, item.Data, item.ByteSize)
	s.log.Debugf("placed %s at 0x%x (%d bytes)", item.Seq, item.Addr, item.ByteSize)
	return nil
}

func (s *MemoryStore) overlapsPlacedItem(lo, hi uint64) bool {
	i := sort.Search(len(s.order), func(i int) bool { return s.order[i]+uint64(s.placed[s.order[i]].ByteSize) > lo })
	for ; i < len(s.order); i++ {
		p := s.placed[s.order[i]]
		if p.Addr >= hi {
			break
		}
		if p.Addr < hi && p.End() > lo {
			return true
		}
	}
	return false
}

// GetFreeSpace returns the contiguous bytes free at pc until the next
// placed-item start or the end of the containing code segment; 0 if pc
// is not in any code segment or is already populated. Reserved-but-
// unplaced windows (an allocated branch target, say) do not count as
// occupied here: execution is allowed to run into them and fill them.
func (s *MemoryStore) GetFreeSpace(pc uint64) uint64 {
	idx := s.mapper.FindCodeSegmentIndex(pc, 1)
	if idx < 0 {
		return 0
	}
	if s.IsMemoryPopulated(pc) {
		return 0
	}
	limit := s.mapper.Code[idx].End()
	i := sort.Search(len(s.order), func(i int) bool { return s.order[i] > pc })
	if i < len(s.order) && s.order[i] < limit {
		limit = s.order[i]
	}
	return limit - pc
}

// PlacedItemAt returns the item recorded at addr, if any.
func (s *MemoryStore) PlacedItemAt(address uint64) (*PlacedItem, bool) {
	p, ok := s.placed[address]
	return p, ok
}

// PlacedItemsInOrder returns every placed item ordered by address.
func (s *MemoryStore) PlacedItemsInOrder() []*PlacedItem {
	out := make([]*PlacedItem, 0, len(s.order))
	for _, a := range s.order {
		out = append(out, s.placed[a])
	}
	return out
}

// Mapper exposes the backing AddressMapper.
func (s *MemoryStore) Mapper() *addr.Mapper { return s.mapper }
