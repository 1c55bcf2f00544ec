// Package settlement implements global settlement of market-issued assets
// and force settlement with its per-interval volume throttle.
package settlement

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/chainstate/internal/domain"
	"github.com/mtlprog/chainstate/internal/ledger"
)

// CollateralSource reports the collateral locked in an asset's debt
// positions. The positions are owned by the margin ledger.
type CollateralSource interface {
	TotalCollateral(asset domain.AssetID) (int64, error)
}

// Result describes an accepted force settlement.
type Result struct {
	Asset  domain.AssetID `json:"asset"`
	Amount int64          `json:"amount"`
	// Collateral paid out, or quoted when the settlement is delayed.
	Collateral domain.AssetAmount `json:"collateral"`
	// Immediate is set when the asset was globally settled and the request
	// was paid from the settlement fund.
	Immediate  bool      `json:"immediate"`
	ExecutesAt time.Time `json:"executes_at"`
}

// Engine runs the settlement state machine.
type Engine struct {
	collateral CollateralSource
}

// NewEngine creates an Engine that funds global settlements from collateral.
func NewEngine(collateral CollateralSource) *Engine {
	return &Engine{collateral: collateral}
}

// GlobalSettle freezes asset at price. The settlement fund receives all
// collateral backing the asset. Feeds stop updating and later force
// settlements are paid from the fund.
func (e *Engine) GlobalSettle(w ledger.Writer, asset domain.AssetID, price domain.Price) (domain.BitassetData, error) {
	var out domain.BitassetData
	err := w.Update(func(tx *ledger.Tx) error {
		a, err := tx.Asset(asset)
		if err != nil {
			return err
		}
		if !a.IsMarketIssued() {
			return fmt.Errorf("globally settling %s: %w", a.Symbol, domain.ErrNotMarketIssued)
		}
		if !a.CanGlobalSettle() {
			return fmt.Errorf("globally settling %s: %w", a.Symbol, domain.ErrGlobalSettleDisabled)
		}
		b, err := tx.BitassetData(asset)
		if err != nil {
			return err
		}
		if b.HasSettlement() {
			return fmt.Errorf("globally settling %s: %w", a.Symbol, domain.ErrAlreadySettled)
		}

		fund, err := e.collateral.TotalCollateral(asset)
		if err != nil {
			return fmt.Errorf("collecting collateral of %s: %w", a.Symbol, err)
		}

		out, err = tx.ModifySettlement(asset, func(b *domain.BitassetData) error {
			return b.GlobalSettle(price, fund)
		})
		if err != nil {
			return err
		}
		slog.Info("asset globally settled", "asset", a.Symbol, "price", price.String(), "fund", fund)
		return nil
	})
	return out, err
}

// ForceSettle settles amount of asset at now and burns it from the supply.
// An active asset charges the request against the interval budget and
// quotes the collateral at the current feed less the force-settlement
// offset, payable once the force-settlement delay has passed. A globally
// settled asset pays immediately from the settlement fund.
func (e *Engine) ForceSettle(w ledger.Writer, asset domain.AssetID, amount int64, now time.Time) (Result, error) {
	var res Result
	err := w.Update(func(tx *ledger.Tx) error {
		if amount <= 0 {
			return fmt.Errorf("%w: force settle %d", domain.ErrNegativeAmount, amount)
		}
		a, err := tx.Asset(asset)
		if err != nil {
			return err
		}
		b, err := tx.BitassetData(asset)
		if err != nil {
			return fmt.Errorf("force settling: %w", err)
		}
		if b.HasSettlement() {
			res, err = settleFromFund(tx, a, amount, now)
			return err
		}
		res, err = requestSettlement(tx, a, b, amount, now)
		return err
	})
	return res, err
}

func requestSettlement(tx *ledger.Tx, a domain.AssetRecord, b domain.BitassetData, amount int64, now time.Time) (Result, error) {
	if !a.CanForceSettle() {
		return Result{}, fmt.Errorf("force settling %s: %w", a.Symbol, domain.ErrForceSettleDisabled)
	}
	if b.IsPredictionMarket {
		return Result{}, fmt.Errorf("force settling prediction market %s: %w", a.Symbol, domain.ErrForceSettleDisabled)
	}
	if b.CurrentFeed.IsNull() || b.FeedIsExpired(now) {
		return Result{}, fmt.Errorf("force settling %s: %w", a.Symbol, domain.ErrNoPriceFeed)
	}
	dyn, err := tx.DynamicData(a.ID)
	if err != nil {
		return Result{}, err
	}

	collateral, err := a.Amount(amount).Mul(b.CurrentFeed.SettlementPrice)
	if err != nil {
		return Result{}, err
	}
	collateral.Amount = applyOffset(collateral.Amount, b.Options.ForceSettlementOffsetPercent)

	// The settled amount leaves circulation now; the volume is charged
	// against the supply it was requested from, which keeps the cap fixed.
	if _, err := tx.ModifyDynamicData(a.ID, func(d *domain.DynamicData) error {
		return d.Reserve(amount)
	}); err != nil {
		return Result{}, err
	}
	if _, err := tx.ModifyBitasset(a.ID, func(b *domain.BitassetData) error {
		return b.ConsumeSettlementVolume(amount, dyn.CurrentSupply)
	}); err != nil {
		return Result{}, err
	}

	slog.Debug("force settlement accepted", "asset", a.Symbol, "amount", amount, "collateral", collateral.Amount)
	return Result{
		Asset:      a.ID,
		Amount:     amount,
		Collateral: collateral,
		ExecutesAt: now.Add(b.Options.ForceSettlementDelay),
	}, nil
}

func settleFromFund(tx *ledger.Tx, a domain.AssetRecord, amount int64, now time.Time) (Result, error) {
	// Supply lives in an undoable table: burn it first so a failed payout
	// below rolls it back.
	if _, err := tx.ModifyDynamicData(a.ID, func(d *domain.DynamicData) error {
		return d.Reserve(amount)
	}); err != nil {
		return Result{}, err
	}

	var paid domain.AssetAmount
	if _, err := tx.ModifySettlement(a.ID, func(b *domain.BitassetData) error {
		var err error
		paid, err = b.SettleFromFund(amount)
		return err
	}); err != nil {
		return Result{}, err
	}

	slog.Debug("settled from fund", "asset", a.Symbol, "amount", amount, "paid", paid.Amount)
	return Result{Asset: a.ID, Amount: amount, Collateral: paid, Immediate: true, ExecutesAt: now}, nil
}

// applyOffset reduces v by offset basis points, rounding down.
func applyOffset(v int64, offset uint16) int64 {
	if offset == 0 {
		return v
	}
	q, _ := decimal.NewFromInt(v).
		Mul(decimal.NewFromInt(int64(domain.HundredPercent - offset))).
		QuoRem(decimal.NewFromInt(int64(domain.HundredPercent)), 0)
	return q.IntPart()
}

// ResetSettledVolumes starts a new maintenance interval for every active
// bitasset and returns how many counters were cleared.
func (e *Engine) ResetSettledVolumes(w ledger.Writer) (int, error) {
	var n int
	err := w.Update(func(tx *ledger.Tx) error {
		n = 0
		for _, a := range tx.Bitassets() {
			b, err := tx.BitassetData(a.ID)
			if err != nil {
				return err
			}
			if b.HasSettlement() || b.ForceSettledVolume == 0 {
				continue
			}
			if _, err := tx.ModifyBitasset(a.ID, func(b *domain.BitassetData) error {
				return b.ResetSettledVolume()
			}); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// Budget is the force settlement allowance of one interval.
type Budget struct {
	Limit     int64 `json:"limit"`
	Used      int64 `json:"used"`
	Remaining int64 `json:"remaining"`
}

// Reader is the part of the ledger Remaining reads.
type Reader interface {
	BitassetData(asset domain.AssetID) (domain.BitassetData, error)
	DynamicData(asset domain.AssetID) (domain.DynamicData, error)
}

// Remaining returns the asset's force settlement budget for the current interval.
func Remaining(r Reader, asset domain.AssetID) (Budget, error) {
	b, err := r.BitassetData(asset)
	if err != nil {
		return Budget{}, err
	}
	dyn, err := r.DynamicData(asset)
	if err != nil {
		return Budget{}, err
	}
	limit := b.MaxForceSettlementVolume(dyn.CurrentSupply)
	return Budget{Limit: limit, Used: b.ForceSettledVolume, Remaining: max(limit-b.ForceSettledVolume, 0)}, nil
}
