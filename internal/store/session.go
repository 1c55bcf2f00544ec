package store

import (
	"fmt"

	"github.com/google/btree"
)

type opKind int

const (
	opCreate opKind = iota
	opModify
	opRemove
)

type undoEntry[T any] struct {
	kind  opKind
	id    uint64
	prior T
}

type undoLog[T any] struct {
	nextID  uint64
	entries []undoEntry[T]

	// Flat tables only.
	image    *btree.BTreeG[row[T]]
	restores []func()
}

// record appends to the innermost session; callers hold the write lock.
func (t *Table[T]) record(e undoEntry[T]) {
	if t.discipline == Flat || len(t.sessions) == 0 {
		return
	}
	top := t.sessions[len(t.sessions)-1]
	top.entries = append(top.entries, e)
}

// Begin opens a nested undo session.
func (t *Table[T]) Begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	log := &undoLog[T]{nextID: t.nextID}
	if t.discipline == Flat {
		log.image = t.rows.Clone()
		for _, ix := range t.indices {
			log.restores = append(log.restores, ix.save())
		}
	}
	t.sessions = append(t.sessions, log)
}

// Depth is the number of open sessions.
func (t *Table[T]) Depth() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Undo reverts every write made since the innermost Begin and closes that
// session.
func (t *Table[T]) Undo() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sessions) == 0 {
		return fmt.Errorf("%s: %w", t.name, ErrNoSession)
	}
	top := t.sessions[len(t.sessions)-1]
	t.sessions = t.sessions[:len(t.sessions)-1]
	if t.discipline == Flat {
		t.rows = top.image
		for _, restore := range top.restores {
			restore()
		}
		t.nextID = top.nextID
		return nil
	}

	for i := len(top.entries) - 1; i >= 0; i-- {
		e := top.entries[i]
		cur, exists := t.rows.Get(row[T]{id: e.id})
		if exists {
			t.drop(e.id, cur.val)
		}
		if e.kind != opCreate {
			t.put(e.id, e.prior)
		}
	}
	t.nextID = top.nextID
	return nil
}

// Commit closes the innermost session and keeps its writes. Inside an
// outer session the writes stay undoable as part of that session.
func (t *Table[T]) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sessions) == 0 {
		return fmt.Errorf("%s: %w", t.name, ErrNoSession)
	}
	top := t.sessions[len(t.sessions)-1]
	t.sessions = t.sessions[:len(t.sessions)-1]
	if n := len(t.sessions); n > 0 {
		parent := t.sessions[n-1]
		parent.entries = append(parent.entries, top.entries...)
	}
	return nil
}

// Versioned is a participant in a Group.
type Versioned interface {
	Begin()
	Undo() error
	Commit() error
}

// Group opens, undoes and commits sessions on several tables together.
type Group struct {
	members []Versioned
	depth   int
}

func NewGroup(members ...Versioned) *Group {
	return &Group{members: members}
}

func (g *Group) Begin() {
	for _, m := range g.members {
		m.Begin()
	}
	g.depth++
}

func (g *Group) Depth() int { return g.depth }

func (g *Group) Undo() error {
	if g.depth == 0 {
		return ErrNoSession
	}
	for i := len(g.members) - 1; i >= 0; i-- {
		if err := g.members[i].Undo(); err != nil {
			return err
		}
	}
	g.depth--
	return nil
}

func (g *Group) Commit() error {
	if g.depth == 0 {
		return ErrNoSession
	}
	for _, m := range g.members {
		if err := m.Commit(); err != nil {
			return err
		}
	}
	g.depth--
	return nil
}
