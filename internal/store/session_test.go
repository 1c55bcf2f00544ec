package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUndoRevertsEveryWrite(t *testing.T) {
	f := newFixture(t, Undoable)
	a := f.create(t, "alpha", 1)
	b := f.create(t, "beta", 1)

	f.table.Begin()
	c := f.create(t, "gamma", 2)
	_, err := f.table.Modify(a.ID, func(i *item) error {
		i.Name = "omega"
		return nil
	})
	require.NoError(t, err)
	_, err = f.table.Modify(c.ID, func(i *item) error {
		i.Owner = 3
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, f.table.Remove(b.ID))

	require.NoError(t, f.table.Undo())

	assert.Equal(t, []string{"alpha", "beta"}, names(f.table.All()))
	assert.Equal(t, uint64(2), f.table.NextID())
	_, err = f.byName.Find("omega")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, f.byOwner.Equal(1), 2)
	assert.Empty(t, f.byOwner.Equal(2))
	assert.Empty(t, f.byOwner.Equal(3))
	assert.Equal(t, 0, f.table.Depth())
}

func TestCommitMergesIntoParent(t *testing.T) {
	f := newFixture(t, Undoable)
	f.create(t, "alpha", 1)

	f.table.Begin()
	f.create(t, "beta", 1)
	f.table.Begin()
	f.create(t, "gamma", 1)
	require.NoError(t, f.table.Commit())

	assert.Equal(t, 1, f.table.Depth())
	require.NoError(t, f.table.Undo())
	assert.Equal(t, []string{"alpha"}, names(f.table.All()))
}

func TestOutermostCommitIsPermanent(t *testing.T) {
	f := newFixture(t, Undoable)
	f.table.Begin()
	f.create(t, "alpha", 1)
	require.NoError(t, f.table.Commit())

	assert.ErrorIs(t, f.table.Undo(), ErrNoSession)
	assert.ErrorIs(t, f.table.Commit(), ErrNoSession)
	assert.Equal(t, 1, f.table.Len())
}

func TestFlatTableUndoRestoresImage(t *testing.T) {
	f := newFixture(t, Flat)
	a := f.create(t, "alpha", 1)

	f.table.Begin()
	f.create(t, "beta", 2)
	_, err := f.table.Modify(a.ID, func(i *item) error {
		i.Name = "omega"
		i.Owner = 3
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, f.table.Undo())

	assert.Equal(t, []string{"alpha"}, names(f.table.All()))
	assert.Equal(t, uint64(1), f.table.NextID())
	_, err = f.byName.Find("omega")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.byName.Find("alpha")
	assert.NoError(t, err)
	assert.Len(t, f.byOwner.Equal(1), 1)
	assert.Empty(t, f.byOwner.Equal(2))
	assert.Empty(t, f.byOwner.Equal(3))

	// The restored table keeps working as a normal table.
	c := f.create(t, "gamma", 1)
	assert.Equal(t, uint64(1), c.ID)
	assert.Len(t, f.byOwner.Equal(1), 2)
}

func TestFlatTableNestedSessions(t *testing.T) {
	f := newFixture(t, Flat)
	f.table.Begin()
	f.create(t, "alpha", 1)
	f.table.Begin()
	f.create(t, "beta", 1)
	require.NoError(t, f.table.Undo())
	assert.Equal(t, []string{"alpha"}, names(f.table.All()))

	f.table.Begin()
	f.create(t, "gamma", 1)
	require.NoError(t, f.table.Commit())
	require.NoError(t, f.table.Commit())
	assert.Equal(t, []string{"alpha", "gamma"}, names(f.table.All()))
	assert.ErrorIs(t, f.table.Undo(), ErrNoSession)
}

func TestFlatUndoLeavesViewsAlone(t *testing.T) {
	f := newFixture(t, Flat)
	f.create(t, "alpha", 1)
	f.table.Begin()
	f.create(t, "beta", 1)
	view := f.table.Snapshot()
	require.NoError(t, f.table.Undo())

	assert.Equal(t, []string{"alpha", "beta"}, names(view.All()))
	assert.Equal(t, []string{"alpha"}, names(f.table.All()))
}

func TestGroupSpansTables(t *testing.T) {
	undoable := newFixture(t, Undoable)
	flat := newFixture(t, Flat)
	g := NewGroup(undoable.table, flat.table)

	g.Begin()
	undoable.create(t, "alpha", 1)
	flat.create(t, "alpha", 1)
	assert.Equal(t, 1, g.Depth())

	require.NoError(t, g.Undo())
	assert.Equal(t, 0, g.Depth())
	assert.Equal(t, 0, undoable.table.Len())
	assert.Equal(t, 0, flat.table.Len())
	assert.Equal(t, 0, undoable.table.Depth())
	assert.Equal(t, 0, flat.table.Depth())

	assert.ErrorIs(t, g.Undo(), ErrNoSession)
	assert.ErrorIs(t, g.Commit(), ErrNoSession)
}

func TestSnapshotDuringSession(t *testing.T) {
	f := newFixture(t, Undoable)
	f.table.Begin()
	a := f.create(t, "alpha", 1)
	view := f.table.Snapshot()
	require.NoError(t, f.table.Undo())

	_, err := f.table.Get(a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = view.Get(a.ID)
	assert.NoError(t, err)
}
