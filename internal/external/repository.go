package external

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/chainstate/internal/domain"
)

// Repository defines persistent storage for the collateral totals and
// account balances reported by the margin and account ledgers.
type Repository interface {
	SaveCollateral(ctx context.Context, asset domain.AssetID, total int64) error
	SaveBalance(ctx context.Context, account domain.AccountID, asset domain.AssetID, amount int64) error
	LoadCollateral(ctx context.Context) (map[domain.AssetID]int64, error)
	LoadBalances(ctx context.Context) (map[domain.AccountID]map[domain.AssetID]int64, error)
}

// PgRepository implements Repository with PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a new PostgreSQL repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) SaveCollateral(ctx context.Context, asset domain.AssetID, total int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO external_collateral (asset_id, total, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (asset_id) DO UPDATE SET total = $2, updated_at = NOW()`,
		int64(asset), total)
	if err != nil {
		return fmt.Errorf("saving collateral of %s: %w", asset, err)
	}
	return nil
}

func (r *PgRepository) SaveBalance(ctx context.Context, account domain.AccountID, asset domain.AssetID, amount int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO external_balances (account_id, asset_id, amount, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (account_id, asset_id) DO UPDATE SET amount = $3, updated_at = NOW()`,
		int64(account), int64(asset), amount)
	if err != nil {
		return fmt.Errorf("saving balance of %s in %s: %w", account, asset, err)
	}
	return nil
}

func (r *PgRepository) LoadCollateral(ctx context.Context) (map[domain.AssetID]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT asset_id, total FROM external_collateral`)
	if err != nil {
		return nil, fmt.Errorf("loading collateral: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.AssetID]int64)
	for rows.Next() {
		var asset, total int64
		if err := rows.Scan(&asset, &total); err != nil {
			return nil, fmt.Errorf("scanning collateral: %w", err)
		}
		out[domain.AssetID(asset)] = total
	}
	return out, rows.Err()
}

func (r *PgRepository) LoadBalances(ctx context.Context) (map[domain.AccountID]map[domain.AssetID]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT account_id, asset_id, amount FROM external_balances`)
	if err != nil {
		return nil, fmt.Errorf("loading balances: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.AccountID]map[domain.AssetID]int64)
	for rows.Next() {
		var account, asset, amount int64
		if err := rows.Scan(&account, &asset, &amount); err != nil {
			return nil, fmt.Errorf("scanning balance: %w", err)
		}
		byAsset, ok := out[domain.AccountID(account)]
		if !ok {
			byAsset = make(map[domain.AssetID]int64)
			out[domain.AccountID(account)] = byAsset
		}
		byAsset[domain.AssetID(asset)] = amount
	}
	return out, rows.Err()
}
