package domain

import (
	"fmt"
	"strings"
)

// Symbol length bounds.
const (
	MinSymbolLength = 3
	MaxSymbolLength = 16
)

// IsValidSymbol reports whether symbol follows the ticker grammar. It does
// not check whether the symbol is already registered.
func IsValidSymbol(symbol string) bool {
	if len(symbol) < MinSymbolLength || len(symbol) > MaxSymbolLength {
		return false
	}
	if strings.HasPrefix(symbol, "BIT") {
		return false
	}
	if !isUpper(symbol[0]) {
		return false
	}
	if last := symbol[len(symbol)-1]; !isUpper(last) && !isDigit(last) {
		return false
	}

	dotSeen := false
	for i := 0; i < len(symbol); i++ {
		c := symbol[i]
		switch {
		case isUpper(c), isDigit(c):
		case c == '.':
			if dotSeen {
				return false
			}
			dotSeen = true
		default:
			return false
		}
	}
	return true
}

func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// AssetRecord holds the rarely changing parameters of an asset. Counters that
// change on every trade live in DynamicData.
type AssetRecord struct {
	ID        AssetID      `json:"id"`
	Symbol    string       `json:"symbol"`
	Precision uint8        `json:"precision"`
	Issuer    AccountID    `json:"issuer"`
	Options   AssetOptions `json:"options"`

	DynamicDataID  DynamicDataID   `json:"dynamic_asset_data_id"`
	BitassetDataID *BitassetDataID `json:"bitasset_data_id,omitempty"`
	BuybackAccount *AccountID      `json:"buyback_account,omitempty"`
	DividendDataID *DividendDataID `json:"dividend_data_id,omitempty"`
}

func (a AssetRecord) ObjectID() ObjectID { return a.ID.ObjectID() }

// Clone returns a deep copy.
func (a AssetRecord) Clone() AssetRecord {
	a.Options = a.Options.clone()
	a.BitassetDataID = clonePtr(a.BitassetDataID)
	a.BuybackAccount = clonePtr(a.BuybackAccount)
	a.DividendDataID = clonePtr(a.DividendDataID)
	return a
}

func (a AssetRecord) IsMarketIssued() bool { return a.BitassetDataID != nil }

// CanForceSettle reports whether holders may request force settlement.
func (a AssetRecord) CanForceSettle() bool { return a.Options.Flags&DisableForceSettle == 0 }

// CanGlobalSettle reports whether the issuer may globally settle the asset.
func (a AssetRecord) CanGlobalSettle() bool { return a.Options.IssuerPermissions&GlobalSettle != 0 }

func (a AssetRecord) ChargesMarketFees() bool { return a.Options.Flags&ChargeMarketFee != 0 }

// IsTransferRestricted reports whether the asset may only move to or from the issuer.
func (a AssetRecord) IsTransferRestricted() bool { return a.Options.Flags&TransferRestricted != 0 }

func (a AssetRecord) CanOverride() bool { return a.Options.Flags&OverrideAuthority != 0 }

func (a AssetRecord) AllowConfidential() bool { return a.Options.Flags&DisableConfidential == 0 }

func (a AssetRecord) PaysDividends() bool { return a.DividendDataID != nil }

// Validate checks the record before it is committed to the store.
// Plain issued assets may carry neither the disable_force_settle nor the
// global_settle bit, in flags or in permissions.
func (a AssetRecord) Validate() error {
	if !IsValidSymbol(a.Symbol) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, a.Symbol)
	}
	if a.Precision > MaxPrecision {
		return fmt.Errorf("%w: precision %d above %d", ErrInvalidAssetOptions, a.Precision, MaxPrecision)
	}
	if err := a.Options.Validate(); err != nil {
		return err
	}
	if !a.IsMarketIssued() {
		const marketOnly = DisableForceSettle | GlobalSettle
		if a.Options.Flags&marketOnly != 0 {
			return fmt.Errorf("%w: flags %#x carry market-issued bits", ErrInvalidAssetOptions, a.Options.Flags)
		}
		if a.Options.IssuerPermissions&marketOnly != 0 {
			return fmt.Errorf("%w: permissions %#x carry market-issued bits", ErrInvalidAssetOptions, a.Options.IssuerPermissions)
		}
	}
	if !a.Options.CoreExchangeRate.IsNull() {
		cer := a.Options.CoreExchangeRate
		if cer.Base.AssetID != a.ID && cer.Quote.AssetID != a.ID {
			return fmt.Errorf("%w: core exchange rate %s does not involve %s", ErrInvalidAssetOptions, cer, a.ID)
		}
	}
	return nil
}

// Reserved is the amount still available for issuance.
func (a AssetRecord) Reserved(dyn DynamicData) int64 {
	return a.Options.MaxSupply - dyn.CurrentSupply
}

// Amount returns an AssetAmount of this asset.
func (a AssetRecord) Amount(v int64) AssetAmount {
	return AssetAmount{Amount: v, AssetID: a.ID}
}

// AmountFromString parses a decimal string such as "123.45" at the asset's precision.
func (a AssetRecord) AmountFromString(s string) (AssetAmount, error) {
	v, err := AmountFromString(s, a.Precision)
	if err != nil {
		return AssetAmount{}, err
	}
	return a.Amount(v), nil
}

// AmountToString formats v at the asset's precision, e.g. "123.45".
func (a AssetRecord) AmountToString(v int64) string {
	return AmountToString(v, a.Precision)
}

// AmountToPrettyString formats v with the symbol appended, e.g. "123.45 USD".
func (a AssetRecord) AmountToPrettyString(v int64) string {
	return a.AmountToString(v) + " " + a.Symbol
}
