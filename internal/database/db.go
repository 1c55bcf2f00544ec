package database

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
)

// Connect creates a PostgreSQL connection pool. The initial ping is retried
// with exponential backoff up to maxRetries times.
func Connect(ctx context.Context, databaseURL string, maxRetries uint64) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	var attempts int
	ping := func() error {
		attempts++
		return pool.Ping(ctx)
	}
	notify := func(err error, next time.Duration) {
		slog.Warn("database ping failed, retrying", "attempt", attempts, "next_retry_in", next, "error", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.RetryNotify(ping, b, notify); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database after %d attempts: %w", attempts, err)
	}

	return pool, nil
}

// RunMigrations applies the pending .up.sql files from fsys in name order.
// Each file runs in its own transaction together with its schema_migrations row.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT        PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	rows, err := pool.Query(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("scanning applied migrations: %w", err)
	}

	pending, err := PendingMigrations(fsys, lo.Keyify(names))
	if err != nil {
		return err
	}

	for _, file := range pending {
		sql, err := fs.ReadFile(fsys, file)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", file, err)
		}
		err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(sql)); err != nil {
				return fmt.Errorf("executing migration %s: %w", file, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, file); err != nil {
				return fmt.Errorf("recording migration %s: %w", file, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		slog.Info("migration applied", "file", file)
	}

	return nil
}

// PendingMigrations lists the .up.sql files in fsys that are not in applied,
// sorted by name.
func PendingMigrations(fsys fs.FS, applied map[string]struct{}) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	pending := lo.FilterMap(entries, func(e fs.DirEntry, _ int) (string, bool) {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".up.sql") {
			return "", false
		}
		_, done := applied[e.Name()]
		return e.Name(), !done
	})
	slices.Sort(pending)
	return pending, nil
}
