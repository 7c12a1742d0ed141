package sequence

import "github.com/tibbar/tibbar/pkg/reserver"

// Failable is implemented by producers that can terminate with a fatal
// error rather than ordinary exhaustion. Callers must check Err()
// whenever Next reports ok=false before treating the exhaustion as
// benign — this mirrors the bufio.Scanner convention rather than
// threading an error return through the Producer interface itself,
// since most producers never fail.
type Failable interface {
	Err() error
}

type rrStatus int

const (
	rrYielded rrStatus = iota
	rrBlocked
	rrExhausted
	rrFatal
)

// rrSlot tracks one producer's reservation lifecycle inside a
// RoundRobinFunnel.
type rrSlot struct {
	producer Producer
	started  bool
	seqID    uint64
	hasClaim bool
}

// RoundRobinFunnel interleaves producers, yielding at most one item per
// producer per round. Sequences that declare resource_requests() are
// granted a reservation (via the shared Reserver) before their first
// pull; the reservation is released once, when the producer exhausts.
// A funnel abandoned mid-stream, or stopped by a fatal error, does not
// release the holds of producers that have not exhausted.
// Nested funnels are started without a reservation request of their
// own; their inner sequences request individually.
type RoundRobinFunnel struct {
	rsv    *reserver.Reserver
	active []*rrSlot
	cursor int
	err    error
}

// NewRoundRobinFunnel builds a funnel over producers, mediated by rsv
// for any resource requests. rsv may be nil if no producer declares
// resource requests (a request against a nil reserver is a fatal
// InvalidResourceRequest, since that would indicate a recipe bug).
func NewRoundRobinFunnel(rsv *reserver.Reserver, producers ...Producer) *RoundRobinFunnel {
	f := &RoundRobinFunnel{rsv: rsv}
	for _, p := range producers {
		f.active = append(f.active, &rrSlot{producer: p})
	}
	return f
}

// Err returns the fatal error that stopped this funnel, if any.
func (f *RoundRobinFunnel) Err() error { return f.err }

// Next implements Producer. It returns ok=false either on benign
// exhaustion (every producer drained) or on a fatal error (check Err()).
func (f *RoundRobinFunnel) Next() (GeneratedItem, bool) {
	if f.err != nil {
		return GeneratedItem{}, false
	}
	for {
		if len(f.active) == 0 {
			return GeneratedItem{}, false
		}
		if f.cursor >= len(f.active) {
			f.cursor = 0
		}
		progressed := false
		attempts := 0
		for attempts < len(f.active) {
			slot := f.active[f.cursor]
			item, status := f.advance(slot)
			switch status {
			case rrYielded:
				f.cursor = (f.cursor + 1) % len(f.active)
				return item, true
			case rrFatal:
				return GeneratedItem{}, false
			case rrExhausted:
				f.removeAt(f.cursor)
				progressed = true
				if len(f.active) == 0 {
					return GeneratedItem{}, false
				}
				if f.cursor >= len(f.active) {
					f.cursor = 0
				}
				// The set shrank; restart the attempt budget against
				// its new size rather than over- or under-counting.
				attempts = 0
			case rrBlocked:
				f.cursor = (f.cursor + 1) % len(f.active)
				attempts++
			}
		}
		if !progressed {
			f.err = funnelCannotProgress()
			return GeneratedItem{}, false
		}
	}
}

// advance starts slot if needed (requesting its reservation, if any)
// and pulls one item from it.
func (f *RoundRobinFunnel) advance(slot *rrSlot) (GeneratedItem, rrStatus) {
	if !slot.started {
		if rr, ok := slot.producer.(ResourceRequester); ok {
			req := rr.ResourceRequests()
			if !req.Empty() {
				if f.rsv == nil {
					f.err = invalidResourceRequest("sequence requested resources but no reserver is configured")
					return GeneratedItem{}, rrFatal
				}
				seqID := f.rsv.AllocateSequenceID()
				claim, granted, err := f.rsv.Request(seqID, req)
				if err != nil {
					f.err = err
					return GeneratedItem{}, rrFatal
				}
				if !granted {
					return GeneratedItem{}, rrBlocked
				}
				slot.seqID = seqID
				slot.hasClaim = true
				if cr, ok := slot.producer.(ClaimReceiver); ok {
					cr.SetClaim(claim)
				}
			}
		}
		slot.started = true
	}

	item, ok := slot.producer.Next()
	if !ok {
		if fb, ok := slot.producer.(Failable); ok && fb.Err() != nil {
			f.err = fb.Err()
			return GeneratedItem{}, rrFatal
		}
		if slot.hasClaim {
			f.rsv.Release(slot.seqID)
		}
		return GeneratedItem{}, rrExhausted
	}
	return item, rrYielded
}

// removeAt drops the slot at index i from the active set, shifting
// later positions down by one so the cursor still names "the next
// producer due" without re-visiting one already skipped this round.
func (f *RoundRobinFunnel) removeAt(i int) {
	f.active = append(f.active[:i], f.active[i+1:]...)
}
