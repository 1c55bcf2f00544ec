package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Collateral ratio bounds in per-mille, as carried by price feeds.
const (
	MinCollateralRatio                = 1001
	MaxCollateralRatio                = 32000
	DefaultMaintenanceCollateralRatio = 1750
	DefaultMaximumShortSqueezeRatio   = 1500
)

// AssetAmount is a quantity of an asset in its smallest unit.
type AssetAmount struct {
	Amount  int64   `json:"amount"`
	AssetID AssetID `json:"asset_id"`
}

// Mul converts the amount through the price, rounding down.
// The amount must be denominated in either side of the price.
func (a AssetAmount) Mul(p Price) (AssetAmount, error) {
	var num, den int64
	var out AssetID
	switch a.AssetID {
	case p.Base.AssetID:
		num, den, out = p.Quote.Amount, p.Base.Amount, p.Quote.AssetID
	case p.Quote.AssetID:
		num, den, out = p.Base.Amount, p.Quote.Amount, p.Base.AssetID
	default:
		return AssetAmount{}, fmt.Errorf("%w: %s is not quoted by %s", ErrInvalidPrice, a.AssetID, p)
	}
	if den <= 0 || num < 0 {
		return AssetAmount{}, fmt.Errorf("%w: %s", ErrInvalidPrice, p)
	}

	q, _ := decimal.NewFromInt(a.Amount).Mul(decimal.NewFromInt(num)).QuoRem(decimal.NewFromInt(den), 0)
	if !q.BigInt().IsInt64() {
		return AssetAmount{}, fmt.Errorf("%w: conversion of %d overflows", ErrInvalidPrice, a.Amount)
	}
	return AssetAmount{Amount: q.IntPart(), AssetID: out}, nil
}

// Price is the ratio Base/Quote between two assets. The zero value is the null price.
type Price struct {
	Base  AssetAmount `json:"base"`
	Quote AssetAmount `json:"quote"`
}

// UnitPrice returns the 1:1 price between two assets.
func UnitPrice(base, quote AssetID) Price {
	return Price{Base: AssetAmount{Amount: 1, AssetID: base}, Quote: AssetAmount{Amount: 1, AssetID: quote}}
}

func (p Price) String() string {
	return fmt.Sprintf("%d %s/%d %s", p.Base.Amount, p.Base.AssetID, p.Quote.Amount, p.Quote.AssetID)
}

// IsNull reports whether p is the zero price.
func (p Price) IsNull() bool {
	return p == Price{}
}

// Invert swaps base and quote.
func (p Price) Invert() Price {
	return Price{Base: p.Quote, Quote: p.Base}
}

// Validate checks that p is a usable price between two distinct assets.
func (p Price) Validate() error {
	if p.Base.Amount <= 0 || p.Quote.Amount <= 0 {
		return fmt.Errorf("%w: non-positive amount in %s", ErrInvalidPrice, p)
	}
	if p.Base.AssetID == p.Quote.AssetID {
		return fmt.Errorf("%w: %s quotes an asset against itself", ErrInvalidPrice, p)
	}
	return nil
}

// ComparePrices orders prices by base asset, then quote asset, then by the
// exact Base/Quote ratio. Ratios are compared by cross multiplication so the
// result never depends on rounding.
func ComparePrices(a, b Price) int {
	if a.Base.AssetID != b.Base.AssetID {
		return cmpUint(uint64(a.Base.AssetID), uint64(b.Base.AssetID))
	}
	if a.Quote.AssetID != b.Quote.AssetID {
		return cmpUint(uint64(a.Quote.AssetID), uint64(b.Quote.AssetID))
	}
	left := decimal.NewFromInt(a.Base.Amount).Mul(decimal.NewFromInt(b.Quote.Amount))
	right := decimal.NewFromInt(b.Base.Amount).Mul(decimal.NewFromInt(a.Quote.Amount))
	return left.Cmp(right)
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// PriceFeed is a single price observation published for a bitasset.
type PriceFeed struct {
	// SettlementPrice is debt asset per backing collateral.
	SettlementPrice Price `json:"settlement_price"`
	// Collateral ratios in per-mille.
	MaintenanceCollateralRatio uint16 `json:"maintenance_collateral_ratio"`
	MaximumShortSqueezeRatio   uint16 `json:"maximum_short_squeeze_ratio"`
	// CoreExchangeRate prices the asset in the core asset for fee payment.
	CoreExchangeRate Price `json:"core_exchange_rate"`
}

// NewPriceFeed returns a feed for the given settlement price with default ratios.
func NewPriceFeed(settlement Price) PriceFeed {
	return PriceFeed{
		SettlementPrice:            settlement,
		MaintenanceCollateralRatio: DefaultMaintenanceCollateralRatio,
		MaximumShortSqueezeRatio:   DefaultMaximumShortSqueezeRatio,
	}
}

// IsNull reports whether the feed carries no settlement price.
func (f PriceFeed) IsNull() bool {
	return f.SettlementPrice.IsNull()
}

// Validate checks the feed's internal consistency.
func (f PriceFeed) Validate() error {
	if !f.SettlementPrice.IsNull() {
		if err := f.SettlementPrice.Validate(); err != nil {
			return fmt.Errorf("settlement price: %w", err)
		}
	}
	if !f.CoreExchangeRate.IsNull() {
		if err := f.CoreExchangeRate.Validate(); err != nil {
			return fmt.Errorf("core exchange rate: %w", err)
		}
	}
	if f.MaintenanceCollateralRatio < MinCollateralRatio || f.MaintenanceCollateralRatio > MaxCollateralRatio {
		return fmt.Errorf("%w: maintenance collateral ratio %d out of range", ErrInvalidPrice, f.MaintenanceCollateralRatio)
	}
	if f.MaximumShortSqueezeRatio < MinCollateralRatio || f.MaximumShortSqueezeRatio > MaxCollateralRatio {
		return fmt.Errorf("%w: maximum short squeeze ratio %d out of range", ErrInvalidPrice, f.MaximumShortSqueezeRatio)
	}
	return nil
}

// ValidateFor checks the feed against the bitasset it is published for:
// the settlement price must be quoted asset/backing and a core exchange rate,
// if present, must involve the asset.
func (f PriceFeed) ValidateFor(asset, backing AssetID) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if !f.SettlementPrice.IsNull() {
		if f.SettlementPrice.Base.AssetID != asset || f.SettlementPrice.Quote.AssetID != backing {
			return fmt.Errorf("%w: settlement price %s does not quote %s/%s", ErrInvalidPrice, f.SettlementPrice, asset, backing)
		}
	}
	if !f.CoreExchangeRate.IsNull() {
		if f.CoreExchangeRate.Base.AssetID != asset && f.CoreExchangeRate.Quote.AssetID != asset {
			return fmt.Errorf("%w: core exchange rate %s does not involve %s", ErrInvalidPrice, f.CoreExchangeRate, asset)
		}
	}
	return nil
}
