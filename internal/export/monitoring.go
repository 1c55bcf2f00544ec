package export

import (
	"time"

	"github.com/samber/lo"

	"github.com/mtlprog/chainstate/internal/maintenance"
)

// MonitoringRow summarizes one maintenance pass. One row is appended to the
// MONITORING sheet per pass.
type MonitoringRow struct {
	At              time.Time
	Assets          int
	Bitassets       int
	Settled         int
	FeedsRecomputed int
	ExpiredFeeds    int
	VolumesReset    int
	DividendInflows int
	DividendPayouts int
}

var monitoringHeaders = []any{
	"Date", "Assets", "Bitassets", "Globally settled", "Feeds recomputed",
	"Expired feeds", "Settle volumes reset", "Dividend inflows", "Dividend payouts",
}

func buildMonitoringRow(pass maintenance.Pass, rows []AssetRow) MonitoringRow {
	return MonitoringRow{
		At:              pass.At,
		Assets:          len(rows),
		Bitassets:       lo.CountBy(rows, func(r AssetRow) bool { return r.MarketIssued }),
		Settled:         lo.CountBy(rows, func(r AssetRow) bool { return r.Settled }),
		FeedsRecomputed: pass.FeedsRecomputed,
		ExpiredFeeds:    len(pass.ExpiredFeeds),
		VolumesReset:    pass.VolumesReset,
		DividendInflows: len(pass.Dividends.Distributions),
		DividendPayouts: len(pass.Dividends.PaidOut),
	}
}

func (m MonitoringRow) values() []any {
	return []any{
		m.At.UTC().Format("02.01.2006 15:04"),
		m.Assets, m.Bitassets, m.Settled, m.FeedsRecomputed,
		m.ExpiredFeeds, m.VolumesReset, m.DividendInflows, m.DividendPayouts,
	}
}

var assetHeaders = []any{
	"ID", "Symbol", "Issuer", "Market issued", "Current supply", "Max supply",
	"Backing", "Feed price", "Feed published", "Settled", "Settlement fund",
	"Settled volume", "Volume cap",
}

// buildAssetSheet renders the ASSETS sheet including its header row.
func buildAssetSheet(rows []AssetRow) [][]any {
	data := make([][]any, 0, len(rows)+1)
	data = append(data, assetHeaders)
	for _, r := range rows {
		settled := 0
		if r.Settled {
			settled = 1
		}
		market := 0
		if r.MarketIssued {
			market = 1
		}
		data = append(data, []any{
			r.ID.String(), r.Symbol, r.Issuer.String(), market,
			toFloat(r.CurrentSupply), toFloat(r.MaxSupply),
			r.BackingSymbol, ptrFloat(r.FeedPrice), ptrTime(r.FeedPublishedAt), settled,
			ptrFloat(r.SettlementFund), ptrFloat(r.SettleVolumeUsed), ptrFloat(r.SettleVolumeCap),
		})
	}
	return data
}
