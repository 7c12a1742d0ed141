// Package sequence implements the lazy producer contract and the two
// funnel compositions (SimpleFunnel, RoundRobinFunnel) that drive them.
// Sequences never release their own reservations; that lifecycle is
// owned entirely by RoundRobinFunnel. Everything here runs on one
// logical task, cooperatively multiplexed at yield boundaries.
package sequence

import "github.com/tibbar/tibbar/pkg/reserver"

// GeneratedItem is what a Sequence yields: an opcode or data word, its
// size, an optional fixed address, optional associated load/store
// data, a producer tag, and placement flags.
type GeneratedItem struct {
	Data         uint64
	ByteSize     uint8
	Addr         *uint64
	LdstAddr     *uint64
	LdstData     uint64
	LdstSize     uint8
	Seq          string
	IsData       bool
	SafeToJumpTo bool
}

// Producer is the tagged capability interface every sequence and
// nested funnel satisfies: a finite lazy stream plus (for sequences) a
// declared resource request.
type Producer interface {
	// Next returns the next item, or ok=false when the producer is
	// exhausted. Exhaustion is observed exactly once.
	Next() (GeneratedItem, bool)
}

// ResourceRequester is implemented by sequences (not nested funnels)
// that need reserver resources before producing their first item.
type ResourceRequester interface {
	ResourceRequests() reserver.Request
}

// ClaimReceiver is implemented by sequences that consult their granted
// claim to choose register indices.
type ClaimReceiver interface {
	SetClaim(claim reserver.AllocatedClaim)
}

// SimpleFunnel concatenates producers in order, fully draining each
// before moving to the next. A producer that stops with a fatal error
// (see Failable) stops the whole funnel rather than being skipped.
type SimpleFunnel struct {
	producers []Producer
	idx       int
	err       error
}

// NewSimpleFunnel builds a funnel over producers, drained in order.
func NewSimpleFunnel(producers ...Producer) *SimpleFunnel {
	return &SimpleFunnel{producers: producers}
}

// Err returns the fatal error that stopped this funnel, if any.
func (f *SimpleFunnel) Err() error { return f.err }

// Next implements Producer.
func (f *SimpleFunnel) Next() (GeneratedItem, bool) {
	if f.err != nil {
		return GeneratedItem{}, false
	}
	for f.idx < len(f.producers) {
		if item, ok := f.producers[f.idx].Next(); ok {
			return item, true
		}
		if fb, ok := f.producers[f.idx].(Failable); ok && fb.Err() != nil {
			f.err = fb.Err()
			return GeneratedItem{}, false
		}
		f.idx++
	}
	return GeneratedItem{}, false
}
