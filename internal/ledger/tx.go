package ledger

import (
	"errors"
	"fmt"

	"github.com/mtlprog/chainstate/internal/domain"
	"github.com/mtlprog/chainstate/internal/store"
)

// Writer runs a batch of writes atomically. *State starts an outermost
// batch; *Tx nests one inside the batch it belongs to.
type Writer interface {
	Update(fn func(tx *Tx) error) error
}

// Tx is the write handle passed to Update. It also exposes every read of
// State, which observes the batch's own writes.
type Tx struct {
	*State
}

// Update runs fn in a nested checkpoint: on error only fn's writes are
// rolled back and the enclosing batch continues.
func (tx *Tx) Update(fn func(tx *Tx) error) error {
	tx.Checkpoint()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// Checkpoint opens an undo session on every table.
func (tx *Tx) Checkpoint() {
	tx.sessions.Begin()
}

// Rollback reverts every write made since the innermost checkpoint.
func (tx *Tx) Rollback() error {
	if err := tx.sessions.Undo(); err != nil {
		return fmt.Errorf("rolling back: %w", err)
	}
	return nil
}

// Commit closes the innermost session, keeping its writes.
func (tx *Tx) Commit() error {
	if err := tx.sessions.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// Depth is the number of open checkpoints.
func (tx *Tx) Depth() int {
	return tx.sessions.Depth()
}

// ModifyAsset applies fn to the asset record. Links to the asset's other
// objects may not change, and the result must still validate.
func (tx *Tx) ModifyAsset(id domain.AssetID, fn func(*domain.AssetRecord) error) (domain.AssetRecord, error) {
	dyn, err := tx.DynamicData(id)
	if err != nil {
		return domain.AssetRecord{}, err
	}
	a, err := tx.assets.Modify(uint64(id), func(a *domain.AssetRecord) error {
		before := a.Clone()
		if err := fn(a); err != nil {
			return err
		}
		if a.DynamicDataID != before.DynamicDataID ||
			!samePtr(a.BitassetDataID, before.BitassetDataID) ||
			!samePtr(a.DividendDataID, before.DividendDataID) {
			return fmt.Errorf("%w: object links of %s", domain.ErrProtectedField, id)
		}
		if err := a.Validate(); err != nil {
			return err
		}
		if a.Options.MaxSupply < dyn.CurrentSupply {
			return fmt.Errorf("%w: max supply %d below current supply %d", domain.ErrSupplyExceedsMax, a.Options.MaxSupply, dyn.CurrentSupply)
		}
		return nil
	})
	if err != nil {
		return domain.AssetRecord{}, translate(err, "modifying asset %s", id)
	}
	return a, nil
}

// ModifyDynamicData applies fn to the asset's dynamic data and checks the
// result against max supply.
func (tx *Tx) ModifyDynamicData(asset domain.AssetID, fn func(*domain.DynamicData) error) (domain.DynamicData, error) {
	a, err := tx.Asset(asset)
	if err != nil {
		return domain.DynamicData{}, err
	}
	d, err := tx.dynamic.Modify(uint64(a.DynamicDataID), func(d *domain.DynamicData) error {
		if err := fn(d); err != nil {
			return err
		}
		return d.Check(a.Options.MaxSupply)
	})
	if err != nil {
		return domain.DynamicData{}, translate(err, "modifying dynamic data of %s", a.Symbol)
	}
	return d, nil
}

// ModifyBitasset applies fn to the asset's bitasset data. The prediction
// market flag, the owning asset and the settlement fields are protected;
// settlement goes through ModifySettlement.
func (tx *Tx) ModifyBitasset(asset domain.AssetID, fn func(*domain.BitassetData) error) (domain.BitassetData, error) {
	return tx.modifyBitasset(asset, func(b *domain.BitassetData) error {
		before := b.Clone()
		if err := fn(b); err != nil {
			return err
		}
		if b.SettlementPrice != before.SettlementPrice || b.SettlementFund != before.SettlementFund {
			return fmt.Errorf("%w: settlement fields of %s", domain.ErrProtectedField, asset)
		}
		return nil
	})
}

// ModifySettlement is the only write path to the settlement price and fund.
func (tx *Tx) ModifySettlement(asset domain.AssetID, fn func(*domain.BitassetData) error) (domain.BitassetData, error) {
	return tx.modifyBitasset(asset, fn)
}

func (tx *Tx) modifyBitasset(asset domain.AssetID, fn func(*domain.BitassetData) error) (domain.BitassetData, error) {
	a, err := tx.Asset(asset)
	if err != nil {
		return domain.BitassetData{}, err
	}
	if a.BitassetDataID == nil {
		return domain.BitassetData{}, fmt.Errorf("%s: %w", a.Symbol, domain.ErrNotMarketIssued)
	}
	b, err := tx.bitassets.Modify(uint64(*a.BitassetDataID), func(b *domain.BitassetData) error {
		before := b.Clone()
		if err := fn(b); err != nil {
			return err
		}
		if b.IsPredictionMarket != before.IsPredictionMarket || b.AssetID != before.AssetID {
			return fmt.Errorf("%w: identity of bitasset %s", domain.ErrProtectedField, b.ID)
		}
		return b.Options.Validate()
	})
	if err != nil {
		return domain.BitassetData{}, translate(err, "modifying bitasset data of %s", a.Symbol)
	}
	return b, nil
}

// ModifyDividendData applies fn to the asset's dividend data.
func (tx *Tx) ModifyDividendData(asset domain.AssetID, fn func(*domain.DividendData) error) (domain.DividendData, error) {
	a, err := tx.Asset(asset)
	if err != nil {
		return domain.DividendData{}, err
	}
	if a.DividendDataID == nil {
		return domain.DividendData{}, fmt.Errorf("dividend data of %s: %w", a.Symbol, domain.ErrNotFound)
	}
	d, err := tx.dividends.Modify(uint64(*a.DividendDataID), func(d *domain.DividendData) error {
		before := d.AssetID
		if err := fn(d); err != nil {
			return err
		}
		if d.AssetID != before {
			return fmt.Errorf("%w: owner of dividend data %s", domain.ErrProtectedField, d.ID)
		}
		return nil
	})
	if err != nil {
		return domain.DividendData{}, translate(err, "modifying dividend data of %s", a.Symbol)
	}
	return d, nil
}

// PutDividendBalance stores the balance observed for a holder/payout pair
// and returns the snapshot it replaced, if any.
func (tx *Tx) PutDividendBalance(holder, payout domain.AssetID, balance int64) (prev *domain.DividendBalanceSnapshot, err error) {
	if balance < 0 {
		return nil, fmt.Errorf("%w: dividend balance %d", domain.ErrNegativeAmount, balance)
	}
	existing, err := tx.DividendBalance(holder, payout)
	switch {
	case err == nil:
		_, err = tx.balances.Modify(uint64(existing.ID), func(s *domain.DividendBalanceSnapshot) error {
			s.BalanceAtLastMaintenance = balance
			return nil
		})
		if err != nil {
			return nil, translate(err, "updating dividend balance %s/%s", holder, payout)
		}
		return &existing, nil
	case errors.Is(err, domain.ErrNotFound):
		_, err = tx.balances.Create(func(id uint64) domain.DividendBalanceSnapshot {
			return domain.DividendBalanceSnapshot{
				ID:                       domain.DividendBalanceID(id),
				HolderAsset:              holder,
				PayoutAsset:              payout,
				BalanceAtLastMaintenance: balance,
			}
		})
		if err != nil {
			return nil, translate(err, "creating dividend balance %s/%s", holder, payout)
		}
		return nil, nil
	default:
		return nil, err
	}
}

func samePtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func translate(err error, format string, args ...any) error {
	switch {
	case store.IsUniqueViolation(err, "by_symbol"):
		err = domain.ErrDuplicateSymbol
	case errors.Is(err, store.ErrNotFound):
		err = domain.ErrNotFound
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Snapshot returns a read-only view including the batch's writes so far.
func (tx *Tx) Snapshot() *State {
	return tx.snapshotLocked()
}
