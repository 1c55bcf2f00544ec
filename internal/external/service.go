// Package external caches data owned by other ledgers: the collateral locked
// behind each bitasset and the balances of dividend distribution accounts.
// Settlement and dividend bookkeeping read the cache without blocking on I/O.
package external

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/mtlprog/chainstate/internal/domain"
)

// Service holds the last loaded copy of the external data.
type Service struct {
	repo Repository

	mu         sync.RWMutex
	collateral map[domain.AssetID]int64
	balances   map[domain.AccountID]map[domain.AssetID]int64
}

// NewService creates a Service with an empty cache. Call Refresh to load it.
func NewService(repo Repository) *Service {
	return &Service{
		repo:       repo,
		collateral: make(map[domain.AssetID]int64),
		balances:   make(map[domain.AccountID]map[domain.AssetID]int64),
	}
}

// Refresh reloads the cache from the repository.
func (s *Service) Refresh(ctx context.Context) error {
	collateral, err := s.repo.LoadCollateral(ctx)
	if err != nil {
		return fmt.Errorf("refreshing collateral: %w", err)
	}
	balances, err := s.repo.LoadBalances(ctx)
	if err != nil {
		return fmt.Errorf("refreshing balances: %w", err)
	}

	s.mu.Lock()
	s.collateral = collateral
	s.balances = balances
	s.mu.Unlock()
	return nil
}

// SetCollateral stores and caches the collateral total of asset.
func (s *Service) SetCollateral(ctx context.Context, asset domain.AssetID, total int64) error {
	if total < 0 {
		return fmt.Errorf("%w: collateral %d", domain.ErrNegativeAmount, total)
	}
	if err := s.repo.SaveCollateral(ctx, asset, total); err != nil {
		return err
	}
	s.mu.Lock()
	s.collateral[asset] = total
	s.mu.Unlock()
	return nil
}

// SetBalance stores and caches the balance of account in asset.
func (s *Service) SetBalance(ctx context.Context, account domain.AccountID, asset domain.AssetID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: balance %d", domain.ErrNegativeAmount, amount)
	}
	if err := s.repo.SaveBalance(ctx, account, asset, amount); err != nil {
		return err
	}
	s.mu.Lock()
	byAsset, ok := s.balances[account]
	if !ok {
		byAsset = make(map[domain.AssetID]int64)
		s.balances[account] = byAsset
	}
	byAsset[asset] = amount
	s.mu.Unlock()
	return nil
}

// TotalCollateral returns the collateral locked behind asset. An asset
// without reported positions has none.
func (s *Service) TotalCollateral(asset domain.AssetID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collateral[asset], nil
}

// Balances returns a copy of account's balances.
func (s *Service) Balances(account domain.AccountID) (map[domain.AssetID]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.AssetID]int64, len(s.balances[account]))
	maps.Copy(out, s.balances[account])
	return out, nil
}
