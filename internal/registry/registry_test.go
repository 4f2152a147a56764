package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stackIDs(r *Registry) []ID {
	var out []ID
	r.IterTopToBottom(func(n *Node) bool {
		out = append(out, n.id)
		return true
	})
	return out
}

func TestInsertOrdering(t *testing.T) {
	r := New()
	r.Insert(1, 0, nil) // bottom
	r.Insert(2, 1, nil) // above 1
	r.Insert(3, 2, nil) // above 2

	assert.Equal(t, []ID{3, 2, 1}, stackIDs(r))
	assert.Equal(t, 3, r.Len())
}

func TestDuplicateInsertIsNoop(t *testing.T) {
	r := New()
	r.Insert(1, 0, "first")
	r.Insert(1, 0, "second")

	require.Equal(t, 1, r.Len())
	assert.Equal(t, "first", r.Find(1).Value)
}

func TestRestackIdempotent(t *testing.T) {
	r := New()
	r.Insert(1, 0, nil)
	r.Insert(2, 1, nil)
	r.Insert(3, 2, nil)

	var invalidated []ID
	track := func(n *Node) { invalidated = append(invalidated, n.id) }

	r.Restack(1, 2, track) // moves 1 from the bottom to directly above 2
	assert.Equal(t, []ID{3, 1, 2}, stackIDs(r))

	invalidated = nil
	r.Restack(1, 2, track) // calling again must still be a no-op
	assert.Empty(t, invalidated)
}

func TestRestackMovesAndInvalidates(t *testing.T) {
	r := New()
	r.Insert(1, 0, nil) // bottom: C
	r.Insert(2, 1, nil) // B
	r.Insert(3, 2, nil) // A: top

	var invalidated []ID
	r.Restack(1, 3, func(n *Node) { invalidated = append(invalidated, n.id) }) // move C above A

	assert.Equal(t, []ID{1, 3, 2}, stackIDs(r))
	assert.Contains(t, invalidated, ID(1))
	assert.Contains(t, invalidated, ID(3))
}

func TestRestackAboveSelfIsNoop(t *testing.T) {
	r := New()
	r.Insert(1, 0, nil)
	r.Insert(2, 1, nil)

	r.Restack(2, 2, nil) // restack above itself must not self-link

	// A self-link would make the walk loop forever; bound it and count.
	var listed int
	r.IterTopToBottom(func(n *Node) bool {
		listed++
		return listed < 10
	})
	assert.Equal(t, 2, listed)
	assert.Equal(t, []ID{2, 1}, stackIDs(r))
}

func TestRestackMissingTargetIsNoop(t *testing.T) {
	r := New()
	r.Insert(1, 0, nil)
	r.RemoveFromIndexOnly(1) // simulate destroying

	r.Insert(2, 0, nil)
	r.Restack(2, 1, nil) // 1 is destroying, not in index

	assert.Equal(t, []ID{1, 2}, stackIDs(r)) // unchanged: 2 stayed at bottom under 1
}

func TestDestroyingWindowStaysInListNotIndex(t *testing.T) {
	r := New()
	r.Insert(1, 0, nil)
	r.Insert(2, 1, nil)

	n := r.RemoveFromIndexOnly(1)
	require.NotNil(t, n)
	require.Nil(t, r.Find(1))
	assert.Equal(t, []ID{2, 1}, stackIDs(r)) // still present in list order

	r.FinishDestroy(n)
	assert.Equal(t, []ID{2}, stackIDs(r))
}

func TestFindToplevel(t *testing.T) {
	r := New()
	r.Insert(10, 0, "client-a")
	r.Insert(20, 10, "client-b")

	n := r.FindToplevel(func(n *Node) bool { return n.Value == "client-b" })
	require.NotNil(t, n)
	assert.Equal(t, ID(20), n.ID())
}
