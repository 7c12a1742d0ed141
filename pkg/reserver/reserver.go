// Package reserver implements the Reserver: an all-or-nothing
// reservation pool over named resource namespaces (GPR, FPR, CSR),
// shared by every sequence a round-robin funnel drives. It is the sole
// mediator for register sharing within one funnel.
package reserver

import (
	"fmt"
	"sort"

	"github.com/tibbar/tibbar/pkg/isa"
	"github.com/tibbar/tibbar/pkg/tibbarerr"
)

// ResourceId names one reservable resource: a namespace plus an
// identifier unique within it (an int for GPR/FPR indices, a string
// for CSR names).
type ResourceId struct {
	Namespace isa.ResourceNamespace
	ID        any
}

var zeroGPR = ResourceId{Namespace: isa.NamespaceGPR, ID: 0}

// ResourceSlot is a class-level request: any Count resources drawn
// from Namespace, the reserver's choice of which.
type ResourceSlot struct {
	Namespace isa.ResourceNamespace
	Count     uint32
}

// Request is one sequence's all-or-nothing ask: some resources named
// explicitly (Ids), some requested by class (Slots), each split across
// Exclusive and Shared kinds.
type Request struct {
	ExclusiveIds   []ResourceId
	ExclusiveSlots []ResourceSlot
	SharedIds      []ResourceId
	SharedSlots    []ResourceSlot
}

// Empty reports whether the request asks for nothing.
func (r Request) Empty() bool {
	return len(r.ExclusiveIds) == 0 && len(r.ExclusiveSlots) == 0 &&
		len(r.SharedIds) == 0 && len(r.SharedSlots) == 0
}

// AllocatedClaim is what a granted Request returns: the concrete
// resource sets the sequence now holds.
type AllocatedClaim struct {
	Exclusive []ResourceId
	Shared    []ResourceId
}

// Reserver tracks which sequence holds which resource, in which mode.
type Reserver struct {
	all        map[ResourceId]bool
	unassigned map[ResourceId]bool

	exclusiveHolds map[uint64]map[ResourceId]bool
	sharedHolds    map[uint64]map[ResourceId]bool
	sharedRefcount map[ResourceId]uint32

	nextSeqID uint64
}

// AllocateSequenceID hands out the next unique, monotonic sequence id.
// Every funnel sharing this reserver draws from the same counter, so
// ids never collide across nested funnels.
func (r *Reserver) AllocateSequenceID() uint64 {
	id := r.nextSeqID
	r.nextSeqID++
	return id
}

// New builds a Reserver whose universe is exactly the resources
// isa.ReservableResources() lists — the zero register is never a
// member.
func New() *Reserver {
	r := &Reserver{
		all:            make(map[ResourceId]bool),
		unassigned:     make(map[ResourceId]bool),
		exclusiveHolds: make(map[uint64]map[ResourceId]bool),
		sharedHolds:    make(map[uint64]map[ResourceId]bool),
		sharedRefcount: make(map[ResourceId]uint32),
	}
	for ns, ids := range isa.ReservableResources() {
		for _, id := range ids {
			rid := ResourceId{Namespace: ns, ID: id}
			r.all[rid] = true
			r.unassigned[rid] = true
		}
	}
	return r
}

// Request attempts to grant req to sequenceID. Returns (claim, true) on
// success, (zero, false) on a retryable conflict, or an error for a
// fatal programmer mistake (sequenceID reuse, the zero register, or an
// unknown namespace/identifier).
func (r *Reserver) Request(sequenceID uint64, req Request) (AllocatedClaim, bool, error) {
	if _, held := r.exclusiveHolds[sequenceID]; held {
		return AllocatedClaim{}, false, tibbarerr.New(tibbarerr.InvalidResourceRequest,
			"sequence id already holds resources", map[string]any{"sequence_id": sequenceID})
	}
	if _, held := r.sharedHolds[sequenceID]; held {
		return AllocatedClaim{}, false, tibbarerr.New(tibbarerr.InvalidResourceRequest,
			"sequence id already holds resources", map[string]any{"sequence_id": sequenceID})
	}

	if err := r.rejectZeroAndUnknown(req); err != nil {
		return AllocatedClaim{}, false, err
	}

	excludeForExclusive := make(map[ResourceId]bool)
	for _, holds := range r.exclusiveHolds {
		for id := range holds {
			excludeForExclusive[id] = true
		}
	}
	for _, holds := range r.sharedHolds {
		for id := range holds {
			excludeForExclusive[id] = true
		}
	}

	pickedExclusive := make(map[ResourceId]bool)
	seen := make(map[ResourceId]bool) // catches duplicate Exclusive requests for the same id
	for _, id := range req.ExclusiveIds {
		if seen[id] {
			return AllocatedClaim{}, false, nil
		}
		seen[id] = true
		if excludeForExclusive[id] || pickedExclusive[id] || !r.unassigned[id] {
			return AllocatedClaim{}, false, nil
		}
		pickedExclusive[id] = true
	}
	for _, slot := range req.ExclusiveSlots {
		n := 0
		for _, id := range sortedIds(r.unassigned) {
			if id.Namespace != slot.Namespace || excludeForExclusive[id] || pickedExclusive[id] {
				continue
			}
			pickedExclusive[id] = true
			n++
			if uint32(n) == slot.Count {
				break
			}
		}
		if uint32(n) < slot.Count {
			return AllocatedClaim{}, false, nil
		}
	}

	excludeForShared := make(map[ResourceId]bool)
	for _, holds := range r.exclusiveHolds {
		for id := range holds {
			excludeForShared[id] = true
		}
	}
	for id := range pickedExclusive {
		excludeForShared[id] = true
	}

	pickedShared := make(map[ResourceId]bool)
	for _, id := range req.SharedIds {
		if excludeForShared[id] || !r.all[id] {
			return AllocatedClaim{}, false, nil
		}
		pickedShared[id] = true
	}
	for _, slot := range req.SharedSlots {
		n := 0
		for _, id := range sortedIds(r.all) {
			if id.Namespace != slot.Namespace || excludeForShared[id] || pickedShared[id] {
				continue
			}
			pickedShared[id] = true
			n++
			if uint32(n) == slot.Count {
				break
			}
		}
		if uint32(n) < slot.Count {
			return AllocatedClaim{}, false, nil
		}
	}

	for id := range pickedExclusive {
		if pickedShared[id] {
			return AllocatedClaim{}, false, nil
		}
	}

	exHolds := make(map[ResourceId]bool, len(pickedExclusive))
	for id := range pickedExclusive {
		delete(r.unassigned, id)
		exHolds[id] = true
	}
	shHolds := make(map[ResourceId]bool, len(pickedShared))
	for id := range pickedShared {
		if r.sharedRefcount[id] == 0 {
			delete(r.unassigned, id)
		}
		r.sharedRefcount[id]++
		shHolds[id] = true
	}
	r.exclusiveHolds[sequenceID] = exHolds
	r.sharedHolds[sequenceID] = shHolds

	// Claims are handed to sequences in sorted order so that register
	// choice stays bit-identical across runs with the same seed.
	claim := AllocatedClaim{
		Exclusive: sortedIds(exHolds),
		Shared:    sortedIds(shHolds),
	}
	return claim, true, nil
}

// sortedIds flattens a resource set into a deterministic order:
// namespace first, then numeric identifiers, then string ones.
func sortedIds(set map[ResourceId]bool) []ResourceId {
	out := make([]ResourceId, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i], out[j]) })
	return out
}

func idLess(a, b ResourceId) bool {
	if a.Namespace != b.Namespace {
		return a.Namespace < b.Namespace
	}
	ai, aIsInt := a.ID.(int)
	bi, bIsInt := b.ID.(int)
	if aIsInt && bIsInt {
		return ai < bi
	}
	if aIsInt != bIsInt {
		return aIsInt // numeric identifiers sort before string ones
	}
	return fmt.Sprint(a.ID) < fmt.Sprint(b.ID)
}

func (r *Reserver) rejectZeroAndUnknown(req Request) error {
	check := func(id ResourceId) error {
		if id == zeroGPR {
			return tibbarerr.New(tibbarerr.InvalidResourceRequest,
				"the zero register can never be reserved", map[string]any{"resource": id})
		}
		if !r.all[id] {
			return tibbarerr.New(tibbarerr.InvalidResourceRequest,
				"unknown resource", map[string]any{"resource": id})
		}
		return nil
	}
	for _, id := range req.ExclusiveIds {
		if err := check(id); err != nil {
			return err
		}
	}
	for _, id := range req.SharedIds {
		if err := check(id); err != nil {
			return err
		}
	}
	return nil
}

// Release returns every resource sequenceID holds to the pool. Safe to
// call at most once per successful Request.
func (r *Reserver) Release(sequenceID uint64) {
	for id := range r.exclusiveHolds[sequenceID] {
		r.unassigned[id] = true
	}
	delete(r.exclusiveHolds, sequenceID)

	for id := range r.sharedHolds[sequenceID] {
		r.sharedRefcount[id]--
		if r.sharedRefcount[id] == 0 {
			r.unassigned[id] = true
			delete(r.sharedRefcount, id)
		}
	}
	delete(r.sharedHolds, sequenceID)
}
