package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/forge/poingest"
	"github.com/forge/poingest/adapters/store"
)

func main() {
	root := &cobra.Command{
		Use:           "poingest",
		Short:         "purchase order ingestion service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		runCmd(),
		modeCmd("daily", "execute one daily incremental pass"),
		modeCmd("historical", "execute one full historical reload"),
		backfillCmd(),
		resetBatchesCmd(),
		watchdogCmd(),
		migrateCmd(),
		scheduleCmd(),
	)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// signalContext cancels on SIGINT/SIGTERM so an interrupted run still releases
// its lock and records its outcome.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "execute one ingestion pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			cfg := poingest.LoadConfig()
			if mode != "" {
				cfg.Mode = poingest.Mode(mode)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			db, st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			pipeline, err := buildPipeline(cfg, db, st)
			if err != nil {
				return err
			}
			report, err := pipeline.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("run finished: status=%s rows=%d written=%d offset=%d duration=%.1fs\n",
				report.Status, report.RowsProcessed, report.RowsWritten, report.LastOffset, report.Duration().Seconds())
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "override MODE (daily or historical)")
	return cmd
}

// modeCmd is a shorthand for `run --mode=<use>`.
func modeCmd(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			cfg := poingest.LoadConfig()
			cfg.Mode = poingest.Mode(use)
			if err := cfg.Validate(); err != nil {
				return err
			}
			db, st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			pipeline, err := buildPipeline(cfg, db, st)
			if err != nil {
				return err
			}
			report, err := pipeline.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("run finished: status=%s rows=%d written=%d offset=%d duration=%.1fs\n",
				report.Status, report.RowsProcessed, report.RowsWritten, report.LastOffset, report.Duration().Seconds())
			return nil
		},
	}
}

func backfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "initialize monthly batches if needed, then drain all pending ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			cfg := poingest.LoadConfig()
			cfg.Mode = poingest.ModeHistorical
			// each slice reloads its own window, never the whole table
			cfg.HistoricalTruncate = false
			if err := cfg.Validate(); err != nil {
				return err
			}
			from, to, err := cfg.BackfillWindow()
			if err != nil {
				return err
			}
			db, st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			manager := poingest.NewBackfillManager(st)
			created, err := manager.Initialize(ctx, from, to)
			if err != nil {
				return err
			}
			if created > 0 {
				fmt.Printf("created %d monthly batches\n", created)
			}
			pipeline, err := buildPipeline(cfg, db, st)
			if err != nil {
				return err
			}
			return manager.Drain(ctx, pipeline)
		},
	}
}

func resetBatchesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-batches",
		Short: "flip FAILED backfill batches back to PENDING",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			cfg := poingest.LoadConfig()
			if err := cfg.Validate(); err != nil {
				return err
			}
			db, st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := poingest.NewBackfillManager(st).ResetFailed(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("reset %d batches\n", n)
			return nil
		},
	}
}

func watchdogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watchdog",
		Short: "alert when no successful run completed recently",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			cfg := poingest.LoadConfig()
			if err := cfg.Validate(); err != nil {
				return err
			}
			db, st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			return poingest.NewWatchdog(st, cfg.Notifier(), cfg.WatchdogMaxAge).Check(ctx)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			cfg := poingest.LoadConfig()
			if cfg.DatabaseDSN == "" {
				return poingest.NewIngestError(poingest.ErrCodeConfig, "DATABASE_DSN is required")
			}
			db, err := store.Open(ctx, cfg.DatabaseDSN)
			if err != nil {
				return err
			}
			defer db.Close()
			return store.Migrate(ctx, db)
		},
	}
}

func scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "run as a daemon triggering daily ingests on DAILY_SCHEDULE",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			cfg := poingest.LoadConfig()
			cfg.Mode = poingest.ModeDaily
			if err := cfg.Validate(); err != nil {
				return err
			}
			db, st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			pipeline, err := buildPipeline(cfg, db, st)
			if err != nil {
				return err
			}
			c := cron.New()
			_, err = c.AddFunc(cfg.DailySchedule, func() {
				if _, err := pipeline.RunAsync(ctx).Get(); err != nil {
					// lock contention from an overlapping trigger lands here too
					poingest.DefaultLogger.Error(ctx, "scheduled run failed, err:%v", err)
				}
			})
			if err != nil {
				return poingest.NewIngestError(poingest.ErrCodeConfig, "invalid DAILY_SCHEDULE:%v", cfg.DailySchedule, err)
			}
			poingest.DefaultLogger.Info(ctx, "scheduler started, spec:%v", cfg.DailySchedule)
			c.Start()
			<-ctx.Done()
			<-c.Stop().Done()
			return nil
		},
	}
}

func openStore(ctx context.Context, cfg *poingest.Config) (*sql.DB, *store.MySQLStore, error) {
	db, err := store.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	return db, store.NewMySQLStore(db), nil
}

func buildPipeline(cfg *poingest.Config, db *sql.DB, st *store.MySQLStore) (*poingest.Pipeline, error) {
	httpClient := &http.Client{Timeout: poingest.DefaultRequestTimeout}
	client := poingest.NewClient(httpClient, cfg.SourceURL, cfg.Tokens())
	fetcher := poingest.NewFetcher(client, cfg.PageLimit, cfg.FetchWorkers, cfg.MaxPages, cfg.PageDelay)

	evaluator := poingest.NewEvaluator(st)
	evaluator.MaxRuntime = cfg.MaxRuntime
	evaluator.BaselineWindow = cfg.BaselineWindow
	evaluator.MinDailyExpected = cfg.MinDailyExpected

	builder := poingest.NewPipelineBuilder(cfg.JobName, st).
		Mode(cfg.Mode).
		Fetcher(fetcher).
		PageLimit(cfg.PageLimit).
		ChunkSize(cfg.ChunkSize).
		IncrementalDays(cfg.IncrementalDays).
		TruncateHistorical(cfg.Mode == poingest.ModeHistorical && cfg.HistoricalTruncate).
		LockStaleAfter(cfg.LockStaleAfter).
		Evaluator(evaluator).
		Notifier(cfg.Notifier())

	if cfg.RefreshSQL != "" {
		stmt := cfg.RefreshSQL
		builder.Refresh(func(ctx context.Context) error {
			_, err := db.ExecContext(ctx, stmt)
			return err
		})
	}
	if cfg.ArchiveDir != "" {
		archiver, err := poingest.NewPageArchiver(cfg.ArchiveDir)
		if err != nil {
			return nil, err
		}
		builder.Archiver(archiver)
	}
	return builder.Build(), nil
}
