// Package store keeps typed records in ordered in-memory tables with
// secondary indices, nested undo sessions and copy-on-write read views.
package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("object not found")

	// ErrReadOnly is returned when writing through a read view.
	ErrReadOnly = errors.New("read-only view")

	// ErrNoSession is returned by Undo or Commit without an open session.
	ErrNoSession = errors.New("no open undo session")

	// ErrIdentityChanged is returned when a mutation rewrites a record's id.
	ErrIdentityChanged = errors.New("object id changed during modify")
)

// UniqueViolationError reports a write that would give two records the same
// key in a unique index. The table is left unchanged.
type UniqueViolationError struct {
	Table string
	Index string
	Key   any
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("unique index %s.%s already holds key %v", e.Table, e.Index, e.Key)
}

// Record is stored by value. Clone must return a copy sharing no mutable
// memory with the receiver.
type Record[T any] interface {
	Clone() T
}

// Discipline selects whether a table takes part in undo sessions.
type Discipline int

const (
	// Undoable tables log the prior value of every write in the open session.
	Undoable Discipline = iota
	// Flat tables keep no write log. Begin takes a copy-on-write image of the
	// rows and indices and Undo puts the image back.
	Flat
)

func (d Discipline) String() string {
	if d == Flat {
		return "flat"
	}
	return "undoable"
}
