package ledger

import (
	"errors"
	"fmt"

	"github.com/mtlprog/chainstate/internal/domain"
)

// NewAsset describes an asset to create. Bitasset makes it market issued;
// Dividend makes it pay dividends.
type NewAsset struct {
	Symbol         string
	Precision      uint8
	Issuer         domain.AccountID
	Options        domain.AssetOptions
	BuybackAccount *domain.AccountID

	Bitasset           *domain.BitassetOptions
	IsPredictionMarket bool

	Dividend            *domain.DividendOptions
	DistributionAccount domain.AccountID
}

// CreateAsset validates and stores a new asset together with its dynamic
// data and, when requested, its bitasset and dividend data.
func (tx *Tx) CreateAsset(req NewAsset) (domain.AssetRecord, error) {
	id := domain.AssetID(tx.assets.NextID())

	record := domain.AssetRecord{
		ID:             id,
		Symbol:         req.Symbol,
		Precision:      req.Precision,
		Issuer:         req.Issuer,
		Options:        req.Options,
		BuybackAccount: req.BuybackAccount,
	}
	if req.Bitasset != nil {
		// Placeholder so Validate sees a market-issued asset.
		placeholder := domain.BitassetDataID(0)
		record.BitassetDataID = &placeholder
	}
	if err := tx.validateNewAsset(record, req); err != nil {
		return domain.AssetRecord{}, fmt.Errorf("creating asset %q: %w", req.Symbol, err)
	}

	var created domain.AssetRecord
	err := tx.Update(func(tx *Tx) error {
		dyn, err := tx.dynamic.Create(func(n uint64) domain.DynamicData {
			return domain.DynamicData{ID: domain.DynamicDataID(n)}
		})
		if err != nil {
			return err
		}
		record.DynamicDataID = dyn.ID

		if req.Bitasset != nil {
			b, err := tx.bitassets.Create(func(n uint64) domain.BitassetData {
				return domain.BitassetData{
					ID:                 domain.BitassetDataID(n),
					AssetID:            id,
					Options:            *req.Bitasset,
					IsPredictionMarket: req.IsPredictionMarket,
				}
			})
			if err != nil {
				return err
			}
			record.BitassetDataID = &b.ID
		}

		if req.Dividend != nil {
			d, err := tx.dividends.Create(func(n uint64) domain.DividendData {
				dd := domain.DividendData{
					ID:                  domain.DividendDataID(n),
					AssetID:             id,
					DistributionAccount: req.DistributionAccount,
				}
				dd.SetOptions(*req.Dividend)
				return dd
			})
			if err != nil {
				return err
			}
			record.DividendDataID = &d.ID
		}

		created, err = tx.assets.Create(func(uint64) domain.AssetRecord { return record.Clone() })
		return err
	})
	if err != nil {
		return domain.AssetRecord{}, translate(err, "creating asset %q", req.Symbol)
	}
	return created, nil
}

func (tx *Tx) validateNewAsset(record domain.AssetRecord, req NewAsset) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if _, err := tx.AssetBySymbol(req.Symbol); err == nil {
		return domain.ErrDuplicateSymbol
	}
	if req.Dividend != nil {
		if err := req.Dividend.Validate(); err != nil {
			return err
		}
	}
	if req.Bitasset == nil {
		if req.IsPredictionMarket {
			return fmt.Errorf("%w: prediction market must be market issued", domain.ErrInvalidAssetOptions)
		}
		return nil
	}

	if err := req.Bitasset.Validate(); err != nil {
		return err
	}
	if req.IsPredictionMarket && !record.CanGlobalSettle() {
		return fmt.Errorf("%w: prediction market needs the global_settle permission", domain.ErrInvalidAssetOptions)
	}
	backing, err := tx.Asset(req.Bitasset.ShortBackingAsset)
	if err != nil {
		return fmt.Errorf("backing asset: %w", err)
	}
	if backing.IsMarketIssued() {
		bb, err := tx.BitassetData(backing.ID)
		if err != nil {
			return err
		}
		// Bitassets may be backed by other bitassets only one level deep.
		if bb.Options.ShortBackingAsset != 0 && !req.IsPredictionMarket {
			return fmt.Errorf("%w: backing asset %s is itself backed by a bitasset", domain.ErrInvalidAssetOptions, backing.Symbol)
		}
	}
	return nil
}

// DeleteAsset removes an asset and every object it owns. It fails with
// ErrReferenceIntegrityViolation while anything still references the asset.
func (tx *Tx) DeleteAsset(id domain.AssetID) error {
	a, err := tx.Asset(id)
	if err != nil {
		return err
	}
	for _, b := range tx.bitassets.All() {
		if b.Options.ShortBackingAsset == id && b.AssetID != id {
			return fmt.Errorf("%w: %s backs %s", domain.ErrReferenceIntegrityViolation, a.Symbol, b.AssetID)
		}
	}
	for _, s := range tx.balances.All() {
		if s.PayoutAsset == id && s.HolderAsset != id {
			return fmt.Errorf("%w: %s is paid out by %s", domain.ErrReferenceIntegrityViolation, a.Symbol, s.HolderAsset)
		}
	}
	if tx.refs != nil {
		referenced, err := tx.refs.AssetReferenced(id)
		if err != nil {
			return fmt.Errorf("checking references to %s: %w", a.Symbol, err)
		}
		if referenced {
			return fmt.Errorf("%w: %s", domain.ErrReferenceIntegrityViolation, a.Symbol)
		}
	}

	err = tx.Update(func(tx *Tx) error {
		for _, s := range tx.DividendBalances(id) {
			if err := tx.balances.Remove(uint64(s.ID)); err != nil {
				return err
			}
		}
		if err := tx.assets.Remove(uint64(id)); err != nil {
			return err
		}
		if err := tx.dynamic.Remove(uint64(a.DynamicDataID)); err != nil {
			return err
		}
		if a.BitassetDataID != nil {
			if err := tx.bitassets.Remove(uint64(*a.BitassetDataID)); err != nil {
				return err
			}
		}
		if a.DividendDataID != nil {
			if err := tx.dividends.Remove(uint64(*a.DividendDataID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return translate(err, "deleting asset %s", a.Symbol)
	}
	return nil
}

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
