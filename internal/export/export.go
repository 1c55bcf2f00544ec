// Package export writes asset reports to spreadsheets after maintenance.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/chainstate/internal/domain"
	"github.com/mtlprog/chainstate/internal/ledger"
	"github.com/mtlprog/chainstate/internal/maintenance"
	"github.com/mtlprog/chainstate/internal/settlement"
)

// AssetRow is one asset in the report, amounts in whole units.
type AssetRow struct {
	ID            domain.AssetID
	Symbol        string
	Issuer        domain.AccountID
	MarketIssued  bool
	CurrentSupply decimal.Decimal
	MaxSupply     decimal.Decimal

	// Bitasset columns, empty for plain assets.
	BackingSymbol    string
	FeedPrice        *decimal.Decimal
	FeedPublishedAt  *time.Time
	Settled          bool
	SettlementFund   *decimal.Decimal
	SettleVolumeUsed *decimal.Decimal
	SettleVolumeCap  *decimal.Decimal
}

// Report is the content written to every destination.
type Report struct {
	At         time.Time
	Assets     []AssetRow
	Monitoring MonitoringRow
}

// SheetWriter writes a report to a spreadsheet destination.
type SheetWriter interface {
	Write(ctx context.Context, report Report) error
}

// Service builds reports from ledger state and hands them to writers.
type Service struct {
	writers []SheetWriter
}

// NewService creates a new export Service.
func NewService(writers ...SheetWriter) *Service {
	return &Service{writers: writers}
}

// Export writes the report of view to every writer. All writers are tried;
// their errors are joined.
func (s *Service) Export(ctx context.Context, report Report) error {
	var errs []error
	for _, w := range s.writers {
		if err := w.Write(ctx, report); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", w, err))
		}
	}
	return errors.Join(errs...)
}

// AfterPass exports the state left by a maintenance pass.
func (s *Service) AfterPass(ctx context.Context, pass maintenance.Pass) error {
	if pass.View == nil {
		return errors.New("maintenance pass has no state view")
	}
	rows := BuildRows(pass.View)
	return s.Export(ctx, Report{
		At:         pass.At,
		Assets:     rows,
		Monitoring: buildMonitoringRow(pass, rows),
	})
}

// NewReport renders view as of at, outside of a maintenance pass.
func NewReport(view *ledger.State, at time.Time) Report {
	rows := BuildRows(view)
	return Report{At: at, Assets: rows, Monitoring: buildMonitoringRow(maintenance.Pass{At: at}, rows)}
}

// BuildRows renders every asset of view, ordered by id.
func BuildRows(view *ledger.State) []AssetRow {
	assets := view.Assets()
	byID := lo.SliceToMap(assets, func(a domain.AssetRecord) (domain.AssetID, domain.AssetRecord) { return a.ID, a })

	rows := make([]AssetRow, 0, len(assets))
	for _, a := range assets {
		row := AssetRow{
			ID:           a.ID,
			Symbol:       a.Symbol,
			Issuer:       a.Issuer,
			MarketIssued: a.IsMarketIssued(),
			MaxSupply:    units(a.Options.MaxSupply, a.Precision),
		}
		if dyn, err := view.DynamicData(a.ID); err == nil {
			row.CurrentSupply = units(dyn.CurrentSupply, a.Precision)
		} else {
			slog.Warn("export: asset without dynamic data", "asset", a.ID, "error", err)
		}
		if a.IsMarketIssued() {
			fillBitasset(view, &row, a, byID)
		}
		rows = append(rows, row)
	}
	return rows
}

func fillBitasset(view *ledger.State, row *AssetRow, a domain.AssetRecord, assets map[domain.AssetID]domain.AssetRecord) {
	b, err := view.BitassetData(a.ID)
	if err != nil {
		slog.Warn("export: bitasset data unavailable", "asset", a.ID, "error", err)
		return
	}
	backing, ok := assets[b.Options.ShortBackingAsset]
	if !ok {
		return
	}
	row.BackingSymbol = backing.Symbol
	row.Settled = b.HasSettlement()

	if row.Settled {
		fund := units(b.SettlementFund, backing.Precision)
		row.SettlementFund = &fund
		row.FeedPrice = priceIn(b.SettlementPrice, a, backing)
		return
	}
	if !b.CurrentFeed.IsNull() {
		row.FeedPrice = priceIn(b.CurrentFeed.SettlementPrice, a, backing)
		at := b.CurrentFeedPublicationTime
		row.FeedPublishedAt = &at
	}
	if budget, err := settlement.Remaining(view, a.ID); err == nil {
		used := units(budget.Used, a.Precision)
		limit := units(budget.Limit, a.Precision)
		row.SettleVolumeUsed = &used
		row.SettleVolumeCap = &limit
	}
}

// priceIn returns the price of one whole unit of a in whole units of backing.
func priceIn(p domain.Price, a, backing domain.AssetRecord) *decimal.Decimal {
	if p.IsNull() || p.Base.AssetID != a.ID {
		return nil
	}
	v := units(p.Quote.Amount, backing.Precision).Div(units(p.Base.Amount, a.Precision))
	return &v
}

func units(v int64, precision uint8) decimal.Decimal {
	return decimal.New(v, -int32(precision))
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func ptrFloat(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	f, _ := d.Float64()
	return f
}

func ptrTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
