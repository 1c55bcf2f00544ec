// Package feed aggregates price feeds published for market-issued assets
// into the current feed the settlement logic prices against.
package feed

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/mtlprog/chainstate/internal/domain"
	"github.com/mtlprog/chainstate/internal/ledger"
)

// Aggregator publishes feeds and maintains each bitasset's median feed.
type Aggregator struct {
	publishers PublisherSet
}

// NewAggregator creates an Aggregator counting feeds from publishers.
func NewAggregator(publishers PublisherSet) *Aggregator {
	return &Aggregator{publishers: publishers}
}

// Publish records publisher's feed for asset at now and recomputes the
// asset's current feed.
func (a *Aggregator) Publish(w ledger.Writer, asset domain.AssetID, publisher domain.AccountID, feed domain.PriceFeed, now time.Time) error {
	return w.Update(func(tx *ledger.Tx) error {
		b, err := tx.BitassetData(asset)
		if err != nil {
			return fmt.Errorf("publishing feed: %w", err)
		}
		if b.HasSettlement() {
			return fmt.Errorf("publishing feed for %s: %w", asset, domain.ErrAlreadySettled)
		}
		if err := feed.ValidateFor(asset, b.Options.ShortBackingAsset); err != nil {
			return fmt.Errorf("publishing feed for %s: %w", asset, err)
		}
		if _, err := tx.ModifyBitasset(asset, func(b *domain.BitassetData) error {
			return b.PublishFeed(publisher, now, feed)
		}); err != nil {
			return err
		}
		_, err = a.recompute(tx, asset, now)
		return err
	})
}

// Recompute rebuilds the current feed of asset from the authorized feeds
// that are still fresh at now. With fewer than the minimum number of feeds
// the current feed becomes null, published at now.
func (a *Aggregator) Recompute(w ledger.Writer, asset domain.AssetID, now time.Time) (domain.BitassetData, error) {
	var out domain.BitassetData
	err := w.Update(func(tx *ledger.Tx) error {
		var err error
		out, err = a.recompute(tx, asset, now)
		return err
	})
	return out, err
}

// RecomputeAll recomputes every bitasset that is not globally settled and
// returns how many were updated.
func (a *Aggregator) RecomputeAll(w ledger.Writer, now time.Time) (int, error) {
	var n int
	err := w.Update(func(tx *ledger.Tx) error {
		n = 0
		for _, asset := range tx.Bitassets() {
			b, err := tx.BitassetData(asset.ID)
			if err != nil {
				return err
			}
			if b.HasSettlement() {
				continue
			}
			if _, err := a.recompute(tx, asset.ID, now); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func (a *Aggregator) recompute(tx *ledger.Tx, asset domain.AssetID, now time.Time) (domain.BitassetData, error) {
	record, err := tx.Asset(asset)
	if err != nil {
		return domain.BitassetData{}, err
	}
	b, err := tx.BitassetData(asset)
	if err != nil {
		return domain.BitassetData{}, err
	}
	if b.HasSettlement() {
		return domain.BitassetData{}, fmt.Errorf("recomputing feed for %s: %w", record.Symbol, domain.ErrAlreadySettled)
	}

	lifetime := b.Options.FeedLifetime
	included := lo.PickBy(b.Feeds, func(publisher domain.AccountID, e domain.FeedEntry) bool {
		return a.publishers.IsAuthorized(record, publisher) && now.Sub(e.PublishedAt) < lifetime
	})
	// Publisher order makes ties between equal prices resolve identically everywhere.
	publishers := lo.Keys(included)
	slices.Sort(publishers)
	fresh := lo.Map(publishers, func(p domain.AccountID, _ int) domain.FeedEntry { return included[p] })

	current, published := domain.PriceFeed{}, now
	if len(fresh) >= int(b.Options.MinimumFeeds) && len(fresh) > 0 {
		current, published = Median(fresh)
	} else {
		slog.Debug("not enough feeds, clearing current feed",
			"asset", record.Symbol, "feeds", len(fresh), "minimum", b.Options.MinimumFeeds)
	}

	return tx.ModifyBitasset(asset, func(b *domain.BitassetData) error {
		return b.SetCurrentFeed(current, published)
	})
}

// ExpirationIndex lists bitassets by the time their current feed expires.
type ExpirationIndex interface {
	BitassetsByFeedExpiration(until time.Time) []domain.BitassetData
}

// Expiring returns the active bitassets whose current feed has expired at now.
func Expiring(idx ExpirationIndex, now time.Time) []domain.BitassetData {
	return lo.Filter(idx.BitassetsByFeedExpiration(now), func(b domain.BitassetData, _ int) bool {
		return !b.HasSettlement() && b.FeedIsExpired(now)
	})
}
