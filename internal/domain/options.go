package domain

import (
	"fmt"
	"time"
)

// Issuer permission and flag bits. The same bit layout is used for
// AssetOptions.Flags (what is enabled) and AssetOptions.IssuerPermissions
// (what the issuer may enable).
const (
	ChargeMarketFee     uint16 = 0x01
	WhiteList           uint16 = 0x02
	OverrideAuthority   uint16 = 0x04
	TransferRestricted  uint16 = 0x08
	DisableForceSettle  uint16 = 0x10
	GlobalSettle        uint16 = 0x20
	DisableConfidential uint16 = 0x40
	WitnessFedAsset     uint16 = 0x80
	CommitteeFedAsset   uint16 = 0x100
)

// Permission masks.
const (
	AssetIssuerPermissionMask = ChargeMarketFee | WhiteList | OverrideAuthority | TransferRestricted |
		DisableForceSettle | GlobalSettle | DisableConfidential | WitnessFedAsset | CommitteeFedAsset
	UIAAssetIssuerPermissionMask = ChargeMarketFee | WhiteList | OverrideAuthority | TransferRestricted |
		DisableConfidential
)

// Supply and percentage limits.
const (
	MaxShareSupply int64  = 1_000_000_000_000_000
	HundredPercent uint16 = 10000
	MaxPrecision   uint8  = 12

	DefaultFeedLifetime               = 24 * time.Hour
	DefaultForceSettlementDelay       = 24 * time.Hour
	DefaultForceSettlementOffset      = 0
	DefaultForceSettlementMaxVolume   = 2000 // 20% per interval
	DefaultMinimumFeeds         uint8 = 1
)

// AssetOptions are the issuer-tunable parameters of an asset.
type AssetOptions struct {
	MaxSupply            int64       `json:"max_supply"`
	MarketFeePercent     uint16      `json:"market_fee_percent"`
	MaxMarketFee         int64       `json:"max_market_fee"`
	IssuerPermissions    uint16      `json:"issuer_permissions"`
	Flags                uint16      `json:"flags"`
	CoreExchangeRate     Price       `json:"core_exchange_rate"`
	WhitelistAuthorities []AccountID `json:"whitelist_authorities,omitempty"`
	BlacklistAuthorities []AccountID `json:"blacklist_authorities,omitempty"`
	WhitelistMarkets     []AssetID   `json:"whitelist_markets,omitempty"`
	BlacklistMarkets     []AssetID   `json:"blacklist_markets,omitempty"`
	Description          string      `json:"description,omitempty"`
}

// DefaultAssetOptions returns options with the maximum supply and UIA permissions.
func DefaultAssetOptions() AssetOptions {
	return AssetOptions{
		MaxSupply:         MaxShareSupply,
		MaxMarketFee:      MaxShareSupply,
		IssuerPermissions: UIAAssetIssuerPermissionMask,
	}
}

// Validate checks the options' internal bounds. Checks that depend on the
// asset being market issued live in AssetRecord.Validate.
func (o AssetOptions) Validate() error {
	if o.MaxSupply <= 0 || o.MaxSupply > MaxShareSupply {
		return fmt.Errorf("%w: max supply %d out of range", ErrInvalidAssetOptions, o.MaxSupply)
	}
	if o.MarketFeePercent > HundredPercent {
		return fmt.Errorf("%w: market fee percent %d above 100%%", ErrInvalidAssetOptions, o.MarketFeePercent)
	}
	if o.MaxMarketFee < 0 || o.MaxMarketFee > MaxShareSupply {
		return fmt.Errorf("%w: max market fee %d out of range", ErrInvalidAssetOptions, o.MaxMarketFee)
	}
	if o.IssuerPermissions&^AssetIssuerPermissionMask != 0 {
		return fmt.Errorf("%w: unknown issuer permission bits %#x", ErrInvalidAssetOptions, o.IssuerPermissions)
	}
	if o.Flags&^AssetIssuerPermissionMask != 0 {
		return fmt.Errorf("%w: unknown flag bits %#x", ErrInvalidAssetOptions, o.Flags)
	}
	// global_settle is a permission, never a flag.
	if o.Flags&GlobalSettle != 0 {
		return fmt.Errorf("%w: global_settle may not be set as a flag", ErrInvalidAssetOptions)
	}
	if !o.CoreExchangeRate.IsNull() {
		if err := o.CoreExchangeRate.Validate(); err != nil {
			return fmt.Errorf("%w: core exchange rate: %v", ErrInvalidAssetOptions, err)
		}
	}
	return nil
}

func (o AssetOptions) clone() AssetOptions {
	o.WhitelistAuthorities = cloneSlice(o.WhitelistAuthorities)
	o.BlacklistAuthorities = cloneSlice(o.BlacklistAuthorities)
	o.WhitelistMarkets = cloneSlice(o.WhitelistMarkets)
	o.BlacklistMarkets = cloneSlice(o.BlacklistMarkets)
	return o
}

// BitassetOptions are the tunable parameters of a market-issued asset.
type BitassetOptions struct {
	FeedLifetime                 time.Duration `json:"feed_lifetime"`
	MinimumFeeds                 uint8         `json:"minimum_feeds"`
	ForceSettlementDelay         time.Duration `json:"force_settlement_delay"`
	ForceSettlementOffsetPercent uint16        `json:"force_settlement_offset_percent"`
	MaximumForceSettlementVolume uint16        `json:"maximum_force_settlement_volume"`
	ShortBackingAsset            AssetID       `json:"short_backing_asset"`
}

// DefaultBitassetOptions returns options backed by the given asset.
func DefaultBitassetOptions(backing AssetID) BitassetOptions {
	return BitassetOptions{
		FeedLifetime:                 DefaultFeedLifetime,
		MinimumFeeds:                 DefaultMinimumFeeds,
		ForceSettlementDelay:         DefaultForceSettlementDelay,
		ForceSettlementOffsetPercent: DefaultForceSettlementOffset,
		MaximumForceSettlementVolume: DefaultForceSettlementMaxVolume,
		ShortBackingAsset:            backing,
	}
}

func (o BitassetOptions) Validate() error {
	if o.MinimumFeeds == 0 {
		return fmt.Errorf("%w: minimum feeds must be positive", ErrInvalidAssetOptions)
	}
	if o.FeedLifetime <= 0 {
		return fmt.Errorf("%w: feed lifetime must be positive", ErrInvalidAssetOptions)
	}
	if o.ForceSettlementOffsetPercent > HundredPercent {
		return fmt.Errorf("%w: force settlement offset %d above 100%%", ErrInvalidAssetOptions, o.ForceSettlementOffsetPercent)
	}
	if o.MaximumForceSettlementVolume > HundredPercent {
		return fmt.Errorf("%w: force settlement volume %d above 100%%", ErrInvalidAssetOptions, o.MaximumForceSettlementVolume)
	}
	return nil
}

// DividendOptions control how a dividend-paying asset distributes payouts.
type DividendOptions struct {
	NextPayoutTime              *time.Time     `json:"next_payout_time,omitempty"`
	PayoutInterval              *time.Duration `json:"payout_interval,omitempty"`
	MinimumFeePercentage        uint64         `json:"minimum_fee_percentage"`
	MinimumDistributionInterval *time.Duration `json:"minimum_distribution_interval,omitempty"`
}

func (o DividendOptions) clone() DividendOptions {
	o.NextPayoutTime = clonePtr(o.NextPayoutTime)
	o.PayoutInterval = clonePtr(o.PayoutInterval)
	o.MinimumDistributionInterval = clonePtr(o.MinimumDistributionInterval)
	return o
}

func cloneSlice[S ~[]E, E any](s S) S {
	if s == nil {
		return nil
	}
	return append(S(nil), s...)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
