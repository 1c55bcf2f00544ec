package feed

import (
	"cmp"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/mtlprog/chainstate/internal/domain"
)

// Median computes the coordinate-wise median of entries: each field of
// PriceFeed is sorted and picked independently, taking the lower middle
// element on even counts. The publication time is the oldest included
// timestamp. entries must not be empty.
func Median(entries []domain.FeedEntry) (domain.PriceFeed, time.Time) {
	mid := (len(entries) - 1) / 2
	feeds := lo.Map(entries, func(e domain.FeedEntry, _ int) domain.PriceFeed { return e.Feed })

	pick := func(less func(a, b domain.PriceFeed) int) domain.PriceFeed {
		sorted := slices.Clone(feeds)
		slices.SortStableFunc(sorted, less)
		return sorted[mid]
	}

	median := domain.PriceFeed{
		SettlementPrice: pick(func(a, b domain.PriceFeed) int {
			return domain.ComparePrices(a.SettlementPrice, b.SettlementPrice)
		}).SettlementPrice,
		MaintenanceCollateralRatio: pick(func(a, b domain.PriceFeed) int {
			return cmp.Compare(a.MaintenanceCollateralRatio, b.MaintenanceCollateralRatio)
		}).MaintenanceCollateralRatio,
		MaximumShortSqueezeRatio: pick(func(a, b domain.PriceFeed) int {
			return cmp.Compare(a.MaximumShortSqueezeRatio, b.MaximumShortSqueezeRatio)
		}).MaximumShortSqueezeRatio,
		CoreExchangeRate: pick(func(a, b domain.PriceFeed) int {
			return domain.ComparePrices(a.CoreExchangeRate, b.CoreExchangeRate)
		}).CoreExchangeRate,
	}

	published := lo.MinBy(entries, func(a, b domain.FeedEntry) bool {
		return a.PublishedAt.Before(b.PublishedAt)
	}).PublishedAt

	return median, published
}
