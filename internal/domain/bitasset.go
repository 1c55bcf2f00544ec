package domain

import (
	"fmt"
	"maps"
	"time"

	"github.com/shopspring/decimal"
)

// FeedEntry is the latest feed of one publisher and the time it was published.
type FeedEntry struct {
	PublishedAt time.Time `json:"published_at"`
	Feed        PriceFeed `json:"feed"`
}

// BitassetData holds the state that only market-issued assets have.
//
// When the asset is globally settled the settlement price is recorded and
// the seized collateral moves into the settlement fund. From then on feeds,
// the current feed and the settled volume accept no writes and force
// settlements execute immediately against the fund.
type BitassetData struct {
	ID      BitassetDataID  `json:"id"`
	AssetID AssetID         `json:"asset_id"`
	Options BitassetOptions `json:"options"`

	Feeds                      map[AccountID]FeedEntry `json:"feeds"`
	CurrentFeed                PriceFeed               `json:"current_feed"`
	CurrentFeedPublicationTime time.Time               `json:"current_feed_publication_time"`

	IsPredictionMarket bool  `json:"is_prediction_market"`
	ForceSettledVolume int64 `json:"force_settled_volume"`

	SettlementPrice Price `json:"settlement_price"`
	SettlementFund  int64 `json:"settlement_fund"`
}

func (b BitassetData) ObjectID() ObjectID { return b.ID.ObjectID() }

// Clone returns a deep copy.
func (b BitassetData) Clone() BitassetData {
	b.Feeds = maps.Clone(b.Feeds)
	return b
}

func (b BitassetData) HasSettlement() bool { return !b.SettlementPrice.IsNull() }

// FeedExpirationTime is when the oldest feed in the current median goes stale.
func (b BitassetData) FeedExpirationTime() time.Time {
	return b.CurrentFeedPublicationTime.Add(b.Options.FeedLifetime)
}

// FeedIsExpiredBeforeHardfork615 is the legacy expiration check. Its
// comparison is intentionally the inverse of FeedIsExpired.
func (b BitassetData) FeedIsExpiredBeforeHardfork615(now time.Time) bool {
	return !b.FeedExpirationTime().Before(now)
}

// FeedIsExpired reports whether now is at or past the feed expiration time.
func (b BitassetData) FeedIsExpired(now time.Time) bool {
	return !b.FeedExpirationTime().After(now)
}

// MaxForceSettlementVolume is the per-interval force settlement cap. Volume
// already settled this interval is added back so the cap stays fixed while
// the supply shrinks.
func (b BitassetData) MaxForceSettlementVolume(currentSupply int64) int64 {
	pct := b.Options.MaximumForceSettlementVolume
	if pct == 0 {
		return 0
	}
	volume := currentSupply + b.ForceSettledVolume
	if pct == HundredPercent {
		return volume
	}
	q, _ := decimal.NewFromInt(volume).
		Mul(decimal.NewFromInt(int64(pct))).
		QuoRem(decimal.NewFromInt(int64(HundredPercent)), 0)
	return q.IntPart()
}

// PublishFeed records the publisher's feed, replacing its previous one.
func (b *BitassetData) PublishFeed(publisher AccountID, at time.Time, feed PriceFeed) error {
	if b.HasSettlement() {
		return fmt.Errorf("publishing feed for %s: %w", b.AssetID, ErrAlreadySettled)
	}
	if b.Feeds == nil {
		b.Feeds = make(map[AccountID]FeedEntry)
	}
	b.Feeds[publisher] = FeedEntry{PublishedAt: at, Feed: feed}
	return nil
}

// SetCurrentFeed installs an aggregated feed.
func (b *BitassetData) SetCurrentFeed(feed PriceFeed, publishedAt time.Time) error {
	if b.HasSettlement() {
		return fmt.Errorf("updating current feed for %s: %w", b.AssetID, ErrAlreadySettled)
	}
	b.CurrentFeed = feed
	b.CurrentFeedPublicationTime = publishedAt
	return nil
}

// ConsumeSettlementVolume charges amount against this interval's budget.
// The request is rejected whole if it does not fit.
func (b *BitassetData) ConsumeSettlementVolume(amount, currentSupply int64) error {
	if b.HasSettlement() {
		return fmt.Errorf("force settling %s: %w", b.AssetID, ErrAlreadySettled)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: force settle %d", ErrNegativeAmount, amount)
	}
	limit := b.MaxForceSettlementVolume(currentSupply)
	if amount > limit-b.ForceSettledVolume {
		return fmt.Errorf("%w: %d requested, %d of %d used", ErrExceedsSettlementBudget, amount, b.ForceSettledVolume, limit)
	}
	b.ForceSettledVolume += amount
	return nil
}

// ResetSettledVolume starts a new maintenance interval.
func (b *BitassetData) ResetSettledVolume() error {
	if b.HasSettlement() {
		return fmt.Errorf("resetting settled volume for %s: %w", b.AssetID, ErrAlreadySettled)
	}
	b.ForceSettledVolume = 0
	return nil
}

// GlobalSettle freezes the asset at price with fund as the collateral
// available to holders. The transition is one-way.
func (b *BitassetData) GlobalSettle(price Price, fund int64) error {
	if b.HasSettlement() {
		return fmt.Errorf("globally settling %s: %w", b.AssetID, ErrAlreadySettled)
	}
	if err := price.Validate(); err != nil {
		return err
	}
	if price.Base.AssetID != b.AssetID || price.Quote.AssetID != b.Options.ShortBackingAsset {
		return fmt.Errorf("%w: settlement price %s does not quote %s/%s", ErrInvalidPrice, price, b.AssetID, b.Options.ShortBackingAsset)
	}
	if b.IsPredictionMarket && ComparePrices(price, UnitPrice(b.AssetID, b.Options.ShortBackingAsset)) < 0 {
		return fmt.Errorf("%w: %s", ErrPriceExceedsCap, price)
	}
	if fund < 0 {
		return fmt.Errorf("%w: settlement fund %d", ErrNegativeAmount, fund)
	}
	b.SettlementPrice = price
	b.SettlementFund = fund
	return nil
}

// SettleFromFund pays out collateral for amount of the settled asset at the
// settlement price and returns the collateral paid.
func (b *BitassetData) SettleFromFund(amount int64) (AssetAmount, error) {
	if !b.HasSettlement() {
		return AssetAmount{}, fmt.Errorf("settling %s from fund: %w", b.AssetID, ErrNotSettled)
	}
	if amount <= 0 {
		return AssetAmount{}, fmt.Errorf("%w: force settle %d", ErrNegativeAmount, amount)
	}
	out, err := AssetAmount{Amount: amount, AssetID: b.AssetID}.Mul(b.SettlementPrice)
	if err != nil {
		return AssetAmount{}, err
	}
	if out.Amount > b.SettlementFund {
		return AssetAmount{}, fmt.Errorf("%w: %d needed, %d available", ErrInsufficientSettlementFund, out.Amount, b.SettlementFund)
	}
	b.SettlementFund -= out.Amount
	return out, nil
}
