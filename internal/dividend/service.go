// Package dividend keeps the bookkeeping of dividend-paying assets: the
// payout schedule and the balance snapshots used to measure inflows to each
// distribution account between maintenance intervals.
package dividend

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/mtlprog/chainstate/internal/domain"
	"github.com/mtlprog/chainstate/internal/ledger"
)

// BalanceSource reads account balances from the account ledger.
type BalanceSource interface {
	Balances(account domain.AccountID) (map[domain.AssetID]int64, error)
}

// Distribution is the inflow of one payout asset into a distribution
// account since the previous snapshot.
type Distribution struct {
	Holder domain.AssetID `json:"holder"`
	Payout domain.AssetID `json:"payout"`
	Delta  int64          `json:"delta"`
}

// Report summarizes one Distribute pass.
type Report struct {
	Distributions []Distribution   `json:"distributions"`
	PaidOut       []domain.AssetID `json:"paid_out"`
}

// Service records dividend balance snapshots and distribution times.
type Service struct {
	balances BalanceSource
}

// NewService creates a dividend Service reading balances from balances.
func NewService(balances BalanceSource) *Service {
	return &Service{balances: balances}
}

// RecordSnapshot stores observed as the balance of payout held for holder
// and returns the change since the previous snapshot, or 0 for the first one.
func (s *Service) RecordSnapshot(w ledger.Writer, holder, payout domain.AssetID, observed int64) (int64, error) {
	var delta int64
	err := w.Update(func(tx *ledger.Tx) error {
		var err error
		delta, err = recordSnapshot(tx, holder, payout, observed)
		return err
	})
	return delta, err
}

func recordSnapshot(tx *ledger.Tx, holder, payout domain.AssetID, observed int64) (int64, error) {
	prev, err := tx.PutDividendBalance(holder, payout, observed)
	if err != nil {
		return 0, fmt.Errorf("recording dividend balance: %w", err)
	}
	if prev == nil {
		return 0, nil
	}
	return prev.Delta(observed), nil
}

// UpdateOptions replaces the dividend options of asset. Every payout and
// distribution timestamp is reset.
func (s *Service) UpdateOptions(w ledger.Writer, asset domain.AssetID, opts domain.DividendOptions) (domain.DividendData, error) {
	if err := opts.Validate(); err != nil {
		return domain.DividendData{}, err
	}
	var out domain.DividendData
	err := w.Update(func(tx *ledger.Tx) error {
		var err error
		out, err = tx.ModifyDividendData(asset, func(d *domain.DividendData) error {
			d.SetOptions(opts)
			return nil
		})
		return err
	})
	return out, err
}

// Distribute snapshots the distribution account of every dividend-paying
// asset whose minimum distribution interval has passed, and records any
// payout scheduled at or before now.
func (s *Service) Distribute(w ledger.Writer, now time.Time) (Report, error) {
	var report Report
	err := w.Update(func(tx *ledger.Tx) error {
		report = Report{}
		payers := lo.Filter(tx.Assets(), func(a domain.AssetRecord, _ int) bool { return a.PaysDividends() })
		for _, a := range payers {
			dists, paid, err := s.distribute(tx, a, now)
			if err != nil {
				return err
			}
			report.Distributions = append(report.Distributions, dists...)
			if paid {
				report.PaidOut = append(report.PaidOut, a.ID)
			}
		}
		return nil
	})
	return report, err
}

func (s *Service) distribute(tx *ledger.Tx, a domain.AssetRecord, now time.Time) ([]Distribution, bool, error) {
	dd, err := tx.DividendData(a.ID)
	if err != nil {
		return nil, false, err
	}
	if !dd.DistributionDue(now) {
		return nil, false, nil
	}

	current, err := s.balances.Balances(dd.DistributionAccount)
	if err != nil {
		return nil, false, fmt.Errorf("reading balances of %s: %w", dd.DistributionAccount, err)
	}
	observed := make(map[domain.AssetID]int64, len(current))
	maps.Copy(observed, current)
	// Payout assets drained since the last pass are observed at zero.
	for _, snap := range tx.DividendBalances(a.ID) {
		if _, ok := observed[snap.PayoutAsset]; !ok {
			observed[snap.PayoutAsset] = 0
		}
	}
	payouts := lo.Keys(observed)
	slices.Sort(payouts)

	var dists []Distribution
	for _, payout := range payouts {
		delta, err := recordSnapshot(tx, a.ID, payout, observed[payout])
		if err != nil {
			if errors.Is(err, domain.ErrNegativeAmount) {
				slog.Warn("skipping negative dividend balance", "asset", a.Symbol, "payout", payout, "balance", observed[payout])
				continue
			}
			return nil, false, err
		}
		if delta != 0 {
			dists = append(dists, Distribution{Holder: a.ID, Payout: payout, Delta: delta})
		}
	}

	var paid bool
	if _, err := tx.ModifyDividendData(a.ID, func(d *domain.DividendData) error {
		d.MarkDistribution(now)
		paid = d.MarkPayout(now)
		return nil
	}); err != nil {
		return nil, false, err
	}

	slog.Info("dividend distribution recorded",
		"asset", a.Symbol, "payouts", len(payouts), "inflows", len(dists), "paid_out", paid)
	return dists, paid, nil
}
