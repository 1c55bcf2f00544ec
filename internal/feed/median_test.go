package feed

import (
	"testing"
	"time"

	"github.com/mtlprog/chainstate/internal/domain"
)

const (
	usd  domain.AssetID = 1
	core domain.AssetID = 0
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// priceFeed quotes n units of USD per unit of CORE.
func priceFeed(n int64) domain.PriceFeed {
	return domain.NewPriceFeed(domain.Price{
		Base:  domain.AssetAmount{Amount: n, AssetID: usd},
		Quote: domain.AssetAmount{Amount: 1, AssetID: core},
	})
}

func entry(n int64, at time.Time) domain.FeedEntry {
	return domain.FeedEntry{PublishedAt: at, Feed: priceFeed(n)}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name     string
		entries  []domain.FeedEntry
		want     int64
		wantTime time.Time
	}{
		{
			name:     "single",
			entries:  []domain.FeedEntry{entry(42, t0)},
			want:     42,
			wantTime: t0,
		},
		{
			name:     "odd count",
			entries:  []domain.FeedEntry{entry(30, t0), entry(10, t0.Add(time.Minute)), entry(20, t0.Add(-time.Minute))},
			want:     20,
			wantTime: t0.Add(-time.Minute),
		},
		{
			name:     "even count takes lower middle",
			entries:  []domain.FeedEntry{entry(20, t0), entry(10, t0.Add(time.Hour))},
			want:     10,
			wantTime: t0,
		},
		{
			name:     "four feeds",
			entries:  []domain.FeedEntry{entry(40, t0), entry(10, t0), entry(30, t0), entry(20, t0)},
			want:     20,
			wantTime: t0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, published := Median(tt.entries)
			if got.SettlementPrice.Base.Amount != tt.want {
				t.Errorf("Median() settlement price = %s, want %d USD/CORE", got.SettlementPrice, tt.want)
			}
			if !published.Equal(tt.wantTime) {
				t.Errorf("Median() published = %v, want %v", published, tt.wantTime)
			}
		})
	}
}

func TestMedianIsCoordinateWise(t *testing.T) {
	a := priceFeed(10)
	a.MaintenanceCollateralRatio = 3000
	a.MaximumShortSqueezeRatio = 1100
	b := priceFeed(20)
	b.MaintenanceCollateralRatio = 1200
	b.MaximumShortSqueezeRatio = 1200
	c := priceFeed(30)
	c.MaintenanceCollateralRatio = 2000
	c.MaximumShortSqueezeRatio = 1300

	got, _ := Median([]domain.FeedEntry{
		{PublishedAt: t0, Feed: a},
		{PublishedAt: t0, Feed: b},
		{PublishedAt: t0, Feed: c},
	})

	if got.SettlementPrice.Base.Amount != 20 {
		t.Errorf("settlement price = %s, want 20", got.SettlementPrice)
	}
	if got.MaintenanceCollateralRatio != 2000 {
		t.Errorf("MCR = %d, want 2000", got.MaintenanceCollateralRatio)
	}
	if got.MaximumShortSqueezeRatio != 1200 {
		t.Errorf("MSSR = %d, want 1200", got.MaximumShortSqueezeRatio)
	}
}

func TestMedianComparesRatiosExactly(t *testing.T) {
	// 3/2 sorts between 1/1 and 2/1 although its base amount is the largest.
	mk := func(base, quote int64) domain.FeedEntry {
		return domain.FeedEntry{PublishedAt: t0, Feed: domain.NewPriceFeed(domain.Price{
			Base:  domain.AssetAmount{Amount: base, AssetID: usd},
			Quote: domain.AssetAmount{Amount: quote, AssetID: core},
		})}
	}

	got, _ := Median([]domain.FeedEntry{mk(1, 1), mk(3, 2), mk(2, 1)})
	if got.SettlementPrice.Base.Amount != 3 || got.SettlementPrice.Quote.Amount != 2 {
		t.Errorf("Median() = %s, want 3/2", got.SettlementPrice)
	}
}
