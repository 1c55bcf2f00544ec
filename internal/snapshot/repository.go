package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates that the requested snapshot was not found.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot represents a stored state dump.
type Snapshot struct {
	ID        int64           `json:"id"`
	TakenAt   time.Time       `json:"takenAt"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Repository defines persistent storage for state snapshots.
type Repository interface {
	Save(ctx context.Context, takenAt time.Time, data json.RawMessage) (int64, error)
	GetLatest(ctx context.Context) (*Snapshot, error)
	GetByID(ctx context.Context, id int64) (*Snapshot, error)
	List(ctx context.Context, limit int) ([]Snapshot, error)
	Prune(ctx context.Context, keep int) (int64, error)
}

// PgRepository implements Repository with PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a new PostgreSQL snapshot repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) Save(ctx context.Context, takenAt time.Time, data json.RawMessage) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO state_snapshots (taken_at, data)
		 VALUES ($1, $2::jsonb)
		 RETURNING id`,
		takenAt, data).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("saving snapshot: %w", err)
	}
	return id, nil
}

func (r *PgRepository) GetLatest(ctx context.Context) (*Snapshot, error) {
	var s Snapshot
	err := r.pool.QueryRow(ctx,
		`SELECT id, taken_at, data, created_at
		 FROM state_snapshots
		 ORDER BY taken_at DESC, id DESC
		 LIMIT 1`).Scan(&s.ID, &s.TakenAt, &s.Data, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting latest snapshot: %w", err)
	}
	return &s, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id int64) (*Snapshot, error) {
	var s Snapshot
	err := r.pool.QueryRow(ctx,
		`SELECT id, taken_at, data, created_at
		 FROM state_snapshots
		 WHERE id = $1`, id).Scan(&s.ID, &s.TakenAt, &s.Data, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting snapshot %d: %w", id, err)
	}
	return &s, nil
}

// List returns snapshot metadata, newest first. Data is not loaded.
func (r *PgRepository) List(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 30
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, taken_at, created_at
		 FROM state_snapshots
		 ORDER BY taken_at DESC, id DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.ID, &s.TakenAt, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return snapshots, nil
}

// Prune deletes all but the newest keep snapshots.
func (r *PgRepository) Prune(ctx context.Context, keep int) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM state_snapshots
		 WHERE id NOT IN (
			SELECT id FROM state_snapshots ORDER BY taken_at DESC, id DESC LIMIT $1
		 )`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}
