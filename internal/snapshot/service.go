// Package snapshot persists ledger state dumps and restores them on start.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtlprog/chainstate/internal/ledger"
	"github.com/mtlprog/chainstate/internal/maintenance"
)

// Service saves and restores ledger state.
type Service struct {
	repo Repository
	keep int
}

// NewService creates a snapshot Service. When keep is positive only the
// newest keep snapshots are retained after each save.
func NewService(repo Repository, keep int) *Service {
	return &Service{repo: repo, keep: keep}
}

// Save stores a dump of state taken at the given time.
func (s *Service) Save(ctx context.Context, state *ledger.State, at time.Time) (int64, error) {
	data, err := json.Marshal(state.Dump())
	if err != nil {
		return 0, fmt.Errorf("marshaling state dump: %w", err)
	}

	id, err := s.repo.Save(ctx, at, data)
	if err != nil {
		return 0, fmt.Errorf("saving snapshot: %w", err)
	}

	if s.keep > 0 {
		n, err := s.repo.Prune(ctx, s.keep)
		if err != nil {
			slog.Warn("failed to prune old snapshots", "error", err)
		} else if n > 0 {
			slog.Debug("pruned old snapshots", "deleted", n)
		}
	}
	return id, nil
}

// RestoreLatest loads the newest snapshot into state. It returns ErrNotFound
// when nothing has been saved yet.
func (s *Service) RestoreLatest(ctx context.Context, state *ledger.State) (*Snapshot, error) {
	snap, err := s.repo.GetLatest(ctx)
	if err != nil {
		return nil, err
	}

	var dump ledger.Dump
	if err := json.Unmarshal(snap.Data, &dump); err != nil {
		return nil, fmt.Errorf("decoding snapshot %d: %w", snap.ID, err)
	}
	if err := state.Restore(dump); err != nil {
		return nil, fmt.Errorf("restoring snapshot %d: %w", snap.ID, err)
	}
	return snap, nil
}

// AfterPass saves the state left by a maintenance pass.
func (s *Service) AfterPass(ctx context.Context, pass maintenance.Pass) error {
	if pass.View == nil {
		return errors.New("maintenance pass has no state view")
	}
	id, err := s.Save(ctx, pass.View, pass.At)
	if err != nil {
		return err
	}
	slog.Info("state snapshot saved", "id", id, "at", pass.At)
	return nil
}

// GetLatest retrieves the most recent snapshot.
func (s *Service) GetLatest(ctx context.Context) (*Snapshot, error) {
	return s.repo.GetLatest(ctx)
}

// GetByID retrieves a snapshot by id.
func (s *Service) GetByID(ctx context.Context, id int64) (*Snapshot, error) {
	return s.repo.GetByID(ctx, id)
}

// List retrieves recent snapshot metadata.
func (s *Service) List(ctx context.Context, limit int) ([]Snapshot, error) {
	return s.repo.List(ctx, limit)
}
