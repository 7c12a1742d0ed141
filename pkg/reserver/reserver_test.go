package reserver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tibbar/tibbar/pkg/isa"
	"github.com/tibbar/tibbar/pkg/tibbarerr"
)

func gpr(i int) ResourceId { return ResourceId{Namespace: isa.NamespaceGPR, ID: i} }

func TestExclusiveConflictIsRetryable(t *testing.T) {
	r := New()
	_, ok, err := r.Request(0, Request{ExclusiveIds: []ResourceId{gpr(1)}})
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = r.Request(1, Request{ExclusiveIds: []ResourceId{gpr(1)}})
	require.NoError(t, err, "a conflict must not be a hard error")
	require.False(t, ok)

	r.Release(0)
	_, ok, err = r.Request(2, Request{ExclusiveIds: []ResourceId{gpr(1)}})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestZeroRegisterIsFatal(t *testing.T) {
	r := New()
	_, _, err := r.Request(0, Request{ExclusiveIds: []ResourceId{gpr(0)}})
	require.Error(t, err)
	var genErr *tibbarerr.GeneratorError
	require.ErrorAs(t, err, &genErr)
	require.Equal(t, tibbarerr.InvalidResourceRequest, genErr.Kind)
}

func TestUnknownResourceIsFatal(t *testing.T) {
	r := New()
	_, _, err := r.Request(0, Request{ExclusiveIds: []ResourceId{gpr(99)}})
	require.Error(t, err)
}

func TestSequenceIDReuseIsFatal(t *testing.T) {
	r := New()
	_, ok, err := r.Request(7, Request{ExclusiveIds: []ResourceId{gpr(1)}})
	require.NoError(t, err)
	require.True(t, ok)
	_, _, err = r.Request(7, Request{ExclusiveIds: []ResourceId{gpr(2)}})
	require.Error(t, err)
}

func TestDuplicateExclusiveIdFails(t *testing.T) {
	r := New()
	_, ok, err := r.Request(0, Request{ExclusiveIds: []ResourceId{gpr(3), gpr(3)}})
	require.NoError(t, err)
	require.False(t, ok, "duplicate exclusive ids must fail all-or-nothing")

	// Nothing was partially committed.
	_, ok, err = r.Request(1, Request{ExclusiveIds: []ResourceId{gpr(3)}})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSharedBlocksExclusiveButNotShared(t *testing.T) {
	r := New()
	_, ok, err := r.Request(0, Request{SharedIds: []ResourceId{gpr(4)}})
	require.NoError(t, err)
	require.True(t, ok)

	// A second shared hold on the same resource is fine.
	_, ok, err = r.Request(1, Request{SharedIds: []ResourceId{gpr(4)}})
	require.NoError(t, err)
	require.True(t, ok)

	// An exclusive claim on it is blocked.
	_, ok, err = r.Request(2, Request{ExclusiveIds: []ResourceId{gpr(4)}})
	require.NoError(t, err)
	require.False(t, ok)

	// Refcounted release: still blocked after one holder leaves.
	r.Release(0)
	_, ok, err = r.Request(3, Request{ExclusiveIds: []ResourceId{gpr(4)}})
	require.NoError(t, err)
	require.False(t, ok)

	r.Release(1)
	_, ok, err = r.Request(4, Request{ExclusiveIds: []ResourceId{gpr(4)}})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestExclusiveBlocksShared(t *testing.T) {
	r := New()
	_, ok, _ := r.Request(0, Request{ExclusiveIds: []ResourceId{gpr(5)}})
	require.True(t, ok)
	_, ok, err := r.Request(1, Request{SharedIds: []ResourceId{gpr(5)}})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSlotRequests(t *testing.T) {
	r := New()
	claim, ok, err := r.Request(0, Request{
		ExclusiveSlots: []ResourceSlot{{Namespace: isa.NamespaceGPR, Count: 3}},
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, claim.Exclusive, 3)
	for _, id := range claim.Exclusive {
		require.Equal(t, isa.NamespaceGPR, id.Namespace)
		require.NotEqual(t, 0, id.ID, "the zero register must never be granted")
	}

	// 31 reservable GPRs total; 28 remain.
	_, ok, err = r.Request(1, Request{
		ExclusiveSlots: []ResourceSlot{{Namespace: isa.NamespaceGPR, Count: 29}},
	})
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = r.Request(2, Request{
		ExclusiveSlots: []ResourceSlot{{Namespace: isa.NamespaceGPR, Count: 28}},
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSlotPicksAreDeterministic(t *testing.T) {
	a, b := New(), New()
	ca, ok, _ := a.Request(0, Request{ExclusiveSlots: []ResourceSlot{{Namespace: isa.NamespaceGPR, Count: 5}}})
	require.True(t, ok)
	cb, ok, _ := b.Request(0, Request{ExclusiveSlots: []ResourceSlot{{Namespace: isa.NamespaceGPR, Count: 5}}})
	require.True(t, ok)
	require.Equal(t, ca, cb)
}

func TestExclusiveHoldsStayDisjoint(t *testing.T) {
	r := New()
	seen := map[ResourceId]bool{}
	for seq := uint64(0); seq < 5; seq++ {
		claim, ok, err := r.Request(seq, Request{
			ExclusiveSlots: []ResourceSlot{{Namespace: isa.NamespaceGPR, Count: 4}},
		})
		require.NoError(t, err)
		require.True(t, ok)
		for _, id := range claim.Exclusive {
			require.False(t, seen[id], "resource %v granted twice", id)
			seen[id] = true
		}
	}
}
