// Package maintenance runs the periodic maintenance pass over the ledger
// state: feed recomputation, settlement volume reset and dividend
// snapshots, followed by optional hooks such as persistence and export.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/mtlprog/chainstate/internal/dividend"
	"github.com/mtlprog/chainstate/internal/domain"
	"github.com/mtlprog/chainstate/internal/feed"
	"github.com/mtlprog/chainstate/internal/ledger"
)

// FeedRecomputer rebuilds the current feed of every active bitasset.
type FeedRecomputer interface {
	RecomputeAll(w ledger.Writer, now time.Time) (int, error)
}

// VolumeResetter starts a new force settlement interval.
type VolumeResetter interface {
	ResetSettledVolumes(w ledger.Writer) (int, error)
}

// Distributor records dividend snapshots.
type Distributor interface {
	Distribute(w ledger.Writer, now time.Time) (dividend.Report, error)
}

// AfterPassHook is called after each successful pass.
type AfterPassHook interface {
	AfterPass(ctx context.Context, pass Pass) error
}

// Pass is the outcome of one maintenance pass.
type Pass struct {
	At              time.Time        `json:"at"`
	FeedsRecomputed int              `json:"feeds_recomputed"`
	VolumesReset    int              `json:"volumes_reset"`
	Dividends       dividend.Report  `json:"dividends"`
	ExpiredFeeds    []domain.AssetID `json:"expired_feeds"`

	// View is the state as the pass left it.
	View *ledger.State `json:"-"`
}

// Worker runs maintenance passes on a ticker.
type Worker struct {
	state     *ledger.State
	feeds     FeedRecomputer
	volumes   VolumeResetter
	dividends Distributor
	interval  time.Duration
	hooks     []AfterPassHook
	now       func() time.Time
}

// NewWorker creates a maintenance Worker. Hooks run in order after every
// successful pass.
func NewWorker(state *ledger.State, feeds FeedRecomputer, volumes VolumeResetter, dividends Distributor, interval time.Duration, hooks ...AfterPassHook) *Worker {
	return &Worker{
		state:     state,
		feeds:     feeds,
		volumes:   volumes,
		dividends: dividends,
		interval:  interval,
		hooks:     hooks,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce runs a single pass as one ledger batch. If any step fails the
// whole batch is rolled back and no hook runs.
func (w *Worker) RunOnce(ctx context.Context) (Pass, error) {
	pass := Pass{At: w.now()}

	err := w.state.Update(func(tx *ledger.Tx) error {
		var err error
		if pass.FeedsRecomputed, err = w.feeds.RecomputeAll(tx, pass.At); err != nil {
			return fmt.Errorf("recomputing feeds: %w", err)
		}
		if pass.VolumesReset, err = w.volumes.ResetSettledVolumes(tx); err != nil {
			return fmt.Errorf("resetting settled volumes: %w", err)
		}
		if pass.Dividends, err = w.dividends.Distribute(tx, pass.At); err != nil {
			return fmt.Errorf("distributing dividends: %w", err)
		}
		pass.ExpiredFeeds = lo.Map(feed.Expiring(tx, pass.At), func(b domain.BitassetData, _ int) domain.AssetID {
			return b.AssetID
		})
		pass.View = tx.Snapshot()
		return nil
	})
	if err != nil {
		return Pass{}, err
	}

	if len(pass.ExpiredFeeds) > 0 {
		slog.Warn("MaintenanceWorker: bitassets without a live feed", "assets", pass.ExpiredFeeds)
	}
	w.runHooks(ctx, pass)
	return pass, nil
}

// runHooks calls every configured hook; failures are logged, not returned.
func (w *Worker) runHooks(ctx context.Context, pass Pass) {
	for _, h := range w.hooks {
		if err := h.AfterPass(ctx, pass); err != nil {
			slog.Error("MaintenanceWorker: hook failed", "hook", fmt.Sprintf("%T", h), "error", err)
		}
	}
}

func (w *Worker) runAndLog(ctx context.Context) {
	pass, err := w.RunOnce(ctx)
	if err != nil {
		slog.Error("MaintenanceWorker: pass failed", "error", err)
		return
	}
	slog.Info("MaintenanceWorker: pass completed",
		"feeds", pass.FeedsRecomputed,
		"volumes_reset", pass.VolumesReset,
		"dividend_inflows", len(pass.Dividends.Distributions))
}

// Run starts the maintenance loop. It blocks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("MaintenanceWorker: starting", "interval", w.interval)

	w.runAndLog(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("MaintenanceWorker: shutting down")
			return
		case <-ticker.C:
			w.runAndLog(ctx)
		}
	}
}
