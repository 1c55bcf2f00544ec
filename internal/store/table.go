package store

import (
	"fmt"
	"sync"

	"github.com/google/btree"
)

const btreeDegree = 16

type row[T any] struct {
	id  uint64
	val T
}

func rowLess[T any](a, b row[T]) bool { return a.id < b.id }

// indexer is the type-erased view of an Index that a Table maintains.
type indexer[T Record[T]] interface {
	conflict(id uint64, v T) error
	insert(id uint64, v T)
	remove(id uint64, v T)
	clone(t *Table[T]) indexer[T]
	save() (restore func())
	reset()
}

// Table holds records of one type ordered by a monotonically assigned id.
type Table[T Record[T]] struct {
	mu         sync.RWMutex
	name       string
	discipline Discipline
	idOf       func(T) uint64
	rows       *btree.BTreeG[row[T]]
	nextID     uint64
	indices    []indexer[T]
	sessions   []*undoLog[T]
	readOnly   bool
}

// NewTable creates an empty table. idOf extracts the id a record carries.
func NewTable[T Record[T]](name string, discipline Discipline, idOf func(T) uint64) *Table[T] {
	return &Table[T]{
		name:       name,
		discipline: discipline,
		idOf:       idOf,
		rows:       btree.NewG(btreeDegree, rowLess[T]),
	}
}

func (t *Table[T]) Name() string { return t.name }

func (t *Table[T]) Discipline() Discipline { return t.discipline }

// NextID is the id the next Create will assign.
func (t *Table[T]) NextID() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextID
}

func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rows.Len()
}

// Get returns a copy of the record with the given id.
func (t *Table[T]) Get(id uint64) (T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rows.Get(row[T]{id: id})
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s %d: %w", t.name, id, ErrNotFound)
	}
	return r.val.Clone(), nil
}

// All returns copies of every record in id order.
func (t *Table[T]) All() []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]T, 0, t.rows.Len())
	t.rows.Ascend(func(r row[T]) bool {
		out = append(out, r.val.Clone())
		return true
	})
	return out
}

// Create assigns the next id, builds the record with it and inserts it into
// the table and every index.
func (t *Table[T]) Create(build func(id uint64) T) (T, error) {
	var zero T
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readOnly {
		return zero, ErrReadOnly
	}

	id := t.nextID
	v := build(id)
	if t.idOf(v) != id {
		return zero, fmt.Errorf("%s: created record has id %d, want %d: %w", t.name, t.idOf(v), id, ErrIdentityChanged)
	}
	for _, ix := range t.indices {
		if err := ix.conflict(id, v); err != nil {
			return zero, err
		}
	}

	t.put(id, v)
	t.nextID++
	t.record(undoEntry[T]{kind: opCreate, id: id})
	return v.Clone(), nil
}

// Modify applies fn to a copy of the record and stores the result. If fn
// fails or the result violates a unique index the table is unchanged.
func (t *Table[T]) Modify(id uint64, fn func(*T) error) (T, error) {
	var zero T
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readOnly {
		return zero, ErrReadOnly
	}

	old, ok := t.rows.Get(row[T]{id: id})
	if !ok {
		return zero, fmt.Errorf("%s %d: %w", t.name, id, ErrNotFound)
	}
	next := old.val.Clone()
	if err := fn(&next); err != nil {
		return zero, err
	}
	if t.idOf(next) != id {
		return zero, fmt.Errorf("%s %d: %w", t.name, id, ErrIdentityChanged)
	}
	for _, ix := range t.indices {
		if err := ix.conflict(id, next); err != nil {
			return zero, err
		}
	}

	t.drop(id, old.val)
	t.put(id, next)
	t.record(undoEntry[T]{kind: opModify, id: id, prior: old.val})
	return next.Clone(), nil
}

// Remove deletes the record with the given id.
func (t *Table[T]) Remove(id uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readOnly {
		return ErrReadOnly
	}
	old, ok := t.rows.Get(row[T]{id: id})
	if !ok {
		return fmt.Errorf("%s %d: %w", t.name, id, ErrNotFound)
	}
	t.drop(id, old.val)
	t.record(undoEntry[T]{kind: opRemove, id: id, prior: old.val})
	return nil
}

// Restore replaces the whole content of the table and discards open
// sessions. nextID is raised past the highest restored id if needed. On
// error the table is left empty.
func (t *Table[T]) Restore(nextID uint64, records []T) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readOnly {
		return ErrReadOnly
	}

	t.clear()
	t.sessions = nil
	for _, v := range records {
		id := t.idOf(v)
		if t.rows.Has(row[T]{id: id}) {
			t.clear()
			return fmt.Errorf("%s: id %d restored twice", t.name, id)
		}
		for _, ix := range t.indices {
			if err := ix.conflict(id, v); err != nil {
				t.clear()
				return err
			}
		}
		t.put(id, v.Clone())
		if id >= nextID {
			nextID = id + 1
		}
	}
	t.nextID = nextID
	return nil
}

// Snapshot returns a read-only view of the current content. The view shares
// structure with the table and is unaffected by later writes.
func (t *Table[T]) Snapshot() *Table[T] {
	// btree.Clone mutates the source's copy-on-write context.
	t.mu.Lock()
	defer t.mu.Unlock()

	view := &Table[T]{
		name:       t.name,
		discipline: t.discipline,
		idOf:       t.idOf,
		rows:       t.rows.Clone(),
		nextID:     t.nextID,
		readOnly:   true,
	}
	view.indices = make([]indexer[T], len(t.indices))
	for i, ix := range t.indices {
		view.indices[i] = ix.clone(view)
	}
	return view
}

func (t *Table[T]) put(id uint64, v T) {
	t.rows.ReplaceOrInsert(row[T]{id: id, val: v})
	for _, ix := range t.indices {
		ix.insert(id, v)
	}
}

func (t *Table[T]) drop(id uint64, v T) {
	t.rows.Delete(row[T]{id: id})
	for _, ix := range t.indices {
		ix.remove(id, v)
	}
}

func (t *Table[T]) clear() {
	// Fresh trees, the old ones may still be shared with read views.
	t.rows = btree.NewG(btreeDegree, rowLess[T])
	t.nextID = 0
	for _, ix := range t.indices {
		ix.reset()
	}
}
