package memstore

// Ldst carries an associated data value that must be pre-populated in
// memory before execution reaches the owning PlacedItem's address —
// used for loads whose source memory must already hold a value.
type Ldst struct {
	Addr uint64
	Data uint64
	Size uint8
}

// PlacedItem is one byte range recorded in the memory store: a decoded
// encoding (or raw data word), a producer tag, and optional load/store
// metadata.
type PlacedItem struct {
	Addr     uint64
	ByteSize uint8 // one of 1, 2, 4, 8
	Data     uint64
	Seq      string
	Comment  string
	IsData   bool
	Ldst     *Ldst
}

// End returns Addr+ByteSize.
func (p PlacedItem) End() uint64 { return p.Addr + uint64(p.ByteSize) }

// Purpose distinguishes code allocation (gap search inside code
// segments) from data allocation (bump allocation from an arena).
type Purpose int

const (
	PurposeCode Purpose = iota
	PurposeData
)

// Window restricts a code allocation to addresses a branch immediate
// can reach relative to pc: [pc+MinOffset, pc+MaxOffset].
type Window struct {
	MinOffset int64
	MaxOffset int64
}

// byteRange is a half-open [Lo, Hi) range used internally for both
// reservations and placements.
type byteRange struct {
	Lo, Hi uint64
}
