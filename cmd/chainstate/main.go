package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/mtlprog/chainstate/internal/api"
	"github.com/mtlprog/chainstate/internal/config"
	"github.com/mtlprog/chainstate/internal/database"
	"github.com/mtlprog/chainstate/internal/dividend"
	"github.com/mtlprog/chainstate/internal/domain"
	"github.com/mtlprog/chainstate/internal/export"
	"github.com/mtlprog/chainstate/internal/external"
	"github.com/mtlprog/chainstate/internal/feed"
	"github.com/mtlprog/chainstate/internal/ledger"
	"github.com/mtlprog/chainstate/internal/maintenance"
	"github.com/mtlprog/chainstate/internal/settlement"
	"github.com/mtlprog/chainstate/internal/snapshot"
	"github.com/mtlprog/chainstate/internal/worker"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "chainstate",
		Usage: "asset state ledger: feeds, settlement and dividends",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and the maintenance worker",
				Action: serve,
			},
			{
				Name:  "export",
				Usage: "write the latest saved state to an XLSX report",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "workbook path",
						EnvVars: []string{"EXPORT_XLSX_PATH"},
						Value:   "chainstate.xlsx",
					},
				},
				Action: exportLatest,
			},
			{
				Name:   "migrate",
				Usage:  "apply database migrations",
				Action: migrate,
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("chainstate: %v", err)
	}
}

func connect(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL, uint64(max(cfg.DBConnectRetryMax, 0)))
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	migrationsSub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating migrations sub-fs: %w", err)
	}
	if err := database.RunMigrations(ctx, pool, migrationsSub); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return pool, nil
}

func migrate(c *cli.Context) error {
	pool, err := connect(c.Context, config.Load())
	if err != nil {
		return err
	}
	pool.Close()
	slog.Info("migrations applied")
	return nil
}

// loadState restores the newest snapshot, or creates the core asset when
// nothing has been saved yet.
func loadState(ctx context.Context, snapshots *snapshot.Service, coreSymbol string) (*ledger.State, error) {
	state := ledger.New(nil)
	snap, err := snapshots.RestoreLatest(ctx, state)
	switch {
	case err == nil:
		slog.Info("state restored", "snapshot", snap.ID, "taken_at", snap.TakenAt, "assets", len(state.Assets()))
		return state, nil
	case !errors.Is(err, snapshot.ErrNotFound):
		return nil, err
	}

	err = state.Update(func(tx *ledger.Tx) error {
		_, err := tx.CreateAsset(ledger.NewAsset{
			Symbol:    coreSymbol,
			Precision: 5,
			Options:   domain.DefaultAssetOptions(),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating core asset %s: %w", coreSymbol, err)
	}
	slog.Info("no saved state, created core asset", "symbol", coreSymbol)
	return state, nil
}

func sheetWriters(ctx context.Context, cfg config.Config, xlsxPath string) ([]export.SheetWriter, error) {
	var writers []export.SheetWriter
	if xlsxPath != "" {
		writers = append(writers, export.NewXLSXWriter(xlsxPath))
	}
	if cfg.GoogleSheetsID != "" && cfg.GoogleCredentialsJSON != "" {
		sw, err := export.NewSheetsWriter(ctx, cfg.GoogleSheetsID, cfg.GoogleCredentialsJSON)
		if err != nil {
			return nil, fmt.Errorf("creating sheets writer: %w", err)
		}
		writers = append(writers, sw)
	}
	return writers, nil
}

func serve(c *cli.Context) error {
	ctx := c.Context
	cfg := config.Load()

	pool, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Collateral and balances reported by the margin and account ledgers
	externalSvc := external.NewService(external.NewPgRepository(pool))
	if err := externalSvc.Refresh(ctx); err != nil {
		return fmt.Errorf("loading external data: %w", err)
	}

	snapshotSvc := snapshot.NewService(snapshot.NewPgRepository(pool), cfg.SnapshotRetention)
	state, err := loadState(ctx, snapshotSvc, cfg.CoreAssetSymbol)
	if err != nil {
		return err
	}

	if len(cfg.FeedPublishers) == 0 {
		slog.Warn("FEED_PUBLISHERS not set, no feed will be counted")
	}
	aggregator := feed.NewAggregator(feed.NewStaticPublishers(cfg.FeedPublishers...))
	engine := settlement.NewEngine(externalSvc)
	dividendSvc := dividend.NewService(externalSvc)

	hooks := []maintenance.AfterPassHook{snapshotSvc}
	writers, err := sheetWriters(ctx, cfg, cfg.ExportXLSXPath)
	if err != nil {
		return err
	}
	if len(writers) > 0 {
		hooks = append(hooks, export.NewService(writers...))
	}

	// Start workers
	maintenanceWorker := maintenance.NewWorker(state, aggregator, engine, dividendSvc, cfg.MaintenanceInterval, hooks...)
	go maintenanceWorker.Run(ctx)

	refreshWorker := worker.NewRefreshWorker(externalSvc, cfg.RefreshInterval)
	go refreshWorker.Run(ctx)

	if cfg.AdminAPIKey == "" {
		slog.Warn("ADMIN_API_KEY not set, write endpoints are unprotected")
	}

	handler := api.NewHandler(state, aggregator, engine, maintenanceWorker, snapshotSvc).
		WithExternal(externalSvc).
		WithDividends(dividendSvc)
	srv := api.NewServer(cfg.HTTPPort, handler, cfg.AdminAPIKey)

	serverCtx, cancelServer := context.WithCancel(ctx)
	defer cancelServer()
	go func() {
		slog.Info("HTTP server listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			cancelServer()
		}
	}()

	// Wait for shutdown signal
	<-serverCtx.Done()
	slog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Persist writes made since the last maintenance pass.
	if _, err := snapshotSvc.Save(shutdownCtx, state, time.Now().UTC()); err != nil {
		slog.Error("failed to save state on shutdown", "error", err)
	}

	slog.Info("Shutdown complete")
	return nil
}

func exportLatest(c *cli.Context) error {
	ctx := c.Context
	cfg := config.Load()

	pool, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	snapshotSvc := snapshot.NewService(snapshot.NewPgRepository(pool), 0)
	state := ledger.New(nil)
	snap, err := snapshotSvc.RestoreLatest(ctx, state)
	if err != nil {
		return fmt.Errorf("loading latest snapshot: %w", err)
	}

	writers, err := sheetWriters(ctx, cfg, c.String("out"))
	if err != nil {
		return err
	}
	if len(writers) == 0 {
		return errors.New("no export destination configured")
	}

	if err := export.NewService(writers...).Export(ctx, export.NewReport(state, snap.TakenAt)); err != nil {
		return fmt.Errorf("exporting snapshot %d: %w", snap.ID, err)
	}
	slog.Info("report exported", "snapshot", snap.ID, "out", c.String("out"))
	return nil
}
