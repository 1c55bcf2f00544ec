package store

import (
	"errors"
	"fmt"

	"github.com/google/btree"
)

type indexItem[K any] struct {
	key K
	id  uint64
}

// Index is an ordered secondary index over a table, kept as a B-tree of
// (key, id) pairs. A unique index rejects two records with equal keys.
type Index[T Record[T], K any] struct {
	table   *Table[T]
	pos     int
	name    string
	unique  bool
	keyOf   func(T) K
	compare func(a, b K) int
	tree    *btree.BTreeG[indexItem[K]]
}

// AddIndex registers an index on t and fills it from the current records.
// It fails if the table is a read view or existing records violate a
// unique index.
func AddIndex[T Record[T], K any](t *Table[T], name string, unique bool, keyOf func(T) K, compare func(a, b K) int) (*Index[T, K], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readOnly {
		return nil, ErrReadOnly
	}

	ix := &Index[T, K]{
		table:   t,
		pos:     len(t.indices),
		name:    name,
		unique:  unique,
		keyOf:   keyOf,
		compare: compare,
	}
	ix.reset()

	var err error
	t.rows.Ascend(func(r row[T]) bool {
		if err = ix.conflict(r.id, r.val); err != nil {
			return false
		}
		ix.insert(r.id, r.val)
		return true
	})
	if err != nil {
		return nil, err
	}
	t.indices = append(t.indices, ix)
	return ix, nil
}

// MustAddIndex is AddIndex for indices registered on an empty table at
// construction time.
func MustAddIndex[T Record[T], K any](t *Table[T], name string, unique bool, keyOf func(T) K, compare func(a, b K) int) *Index[T, K] {
	ix, err := AddIndex(t, name, unique, keyOf, compare)
	if err != nil {
		panic(err)
	}
	return ix
}

func (ix *Index[T, K]) Name() string { return ix.name }

// In returns the same index bound to a read view taken from its table.
func (ix *Index[T, K]) In(view *Table[T]) *Index[T, K] {
	return view.indices[ix.pos].(*Index[T, K])
}

// Find returns the record with exactly key. Intended for unique indices; on
// a non-unique index it returns the record with the lowest id.
func (ix *Index[T, K]) Find(key K) (T, error) {
	ix.table.mu.RLock()
	defer ix.table.mu.RUnlock()

	var (
		found T
		ok    bool
	)
	ix.tree.AscendGreaterOrEqual(indexItem[K]{key: key}, func(it indexItem[K]) bool {
		if ix.compare(it.key, key) == 0 {
			found, ok = ix.value(it.id)
		}
		return false
	})
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s.%s %v: %w", ix.table.name, ix.name, key, ErrNotFound)
	}
	return found, nil
}

// Equal returns every record whose key equals key, in id order.
func (ix *Index[T, K]) Equal(key K) []T {
	var out []T
	ix.AscendFrom(key, func(k K, v T) bool {
		if ix.compare(k, key) != 0 {
			return false
		}
		out = append(out, v)
		return true
	})
	return out
}

// Range returns the records with lo <= key < hi in key order.
func (ix *Index[T, K]) Range(lo, hi K) []T {
	ix.table.mu.RLock()
	defer ix.table.mu.RUnlock()

	var out []T
	ix.tree.AscendRange(indexItem[K]{key: lo}, indexItem[K]{key: hi}, func(it indexItem[K]) bool {
		if v, ok := ix.value(it.id); ok {
			out = append(out, v)
		}
		return true
	})
	return out
}

// AscendFrom calls fn for each record with key >= lo in key order until fn
// returns false.
func (ix *Index[T, K]) AscendFrom(lo K, fn func(key K, v T) bool) {
	ix.table.mu.RLock()
	defer ix.table.mu.RUnlock()

	ix.tree.AscendGreaterOrEqual(indexItem[K]{key: lo}, func(it indexItem[K]) bool {
		v, ok := ix.value(it.id)
		if !ok {
			return true
		}
		return fn(it.key, v)
	})
}

// Ascend calls fn for every record in key order until fn returns false.
func (ix *Index[T, K]) Ascend(fn func(key K, v T) bool) {
	ix.table.mu.RLock()
	defer ix.table.mu.RUnlock()

	ix.tree.Ascend(func(it indexItem[K]) bool {
		v, ok := ix.value(it.id)
		if !ok {
			return true
		}
		return fn(it.key, v)
	})
}

func (ix *Index[T, K]) Len() int {
	ix.table.mu.RLock()
	defer ix.table.mu.RUnlock()
	return ix.tree.Len()
}

// value reads a row; callers hold the table lock.
func (ix *Index[T, K]) value(id uint64) (T, bool) {
	r, ok := ix.table.rows.Get(row[T]{id: id})
	if !ok {
		var zero T
		return zero, false
	}
	return r.val.Clone(), true
}

func (ix *Index[T, K]) less(a, b indexItem[K]) bool {
	if c := ix.compare(a.key, b.key); c != 0 {
		return c < 0
	}
	return a.id < b.id
}

func (ix *Index[T, K]) conflict(id uint64, v T) error {
	if !ix.unique {
		return nil
	}
	key := ix.keyOf(v)
	var err error
	ix.tree.AscendGreaterOrEqual(indexItem[K]{key: key}, func(it indexItem[K]) bool {
		if ix.compare(it.key, key) != 0 {
			return false
		}
		if it.id != id {
			err = &UniqueViolationError{Table: ix.table.name, Index: ix.name, Key: key}
			return false
		}
		return true
	})
	return err
}

func (ix *Index[T, K]) insert(id uint64, v T) {
	ix.tree.ReplaceOrInsert(indexItem[K]{key: ix.keyOf(v), id: id})
}

func (ix *Index[T, K]) remove(id uint64, v T) {
	ix.tree.Delete(indexItem[K]{key: ix.keyOf(v), id: id})
}

func (ix *Index[T, K]) reset() {
	ix.tree = btree.NewG(btreeDegree, ix.less)
}

func (ix *Index[T, K]) save() func() {
	saved := ix.tree.Clone()
	return func() { ix.tree = saved }
}

func (ix *Index[T, K]) clone(t *Table[T]) indexer[T] {
	c := *ix
	c.table = t
	c.tree = ix.tree.Clone()
	return &c
}

// IsUniqueViolation reports whether err was caused by a unique index,
// optionally restricted to the named index.
func IsUniqueViolation(err error, index string) bool {
	var uv *UniqueViolationError
	if !errors.As(err, &uv) {
		return false
	}
	return index == "" || uv.Index == index
}
