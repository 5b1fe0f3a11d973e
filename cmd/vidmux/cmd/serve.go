package cmd

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vidmux/internal/database"
	internalhttp "github.com/jmylchreest/vidmux/internal/http"
	"github.com/jmylchreest/vidmux/internal/http/handlers"
	"github.com/jmylchreest/vidmux/internal/metrics"
	"github.com/jmylchreest/vidmux/internal/repository"
	"github.com/jmylchreest/vidmux/internal/scheduler"
	"github.com/jmylchreest/vidmux/internal/startup"
	"github.com/jmylchreest/vidmux/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vidmux server",
	Long: `Start the vidmux HTTP server and API.

The server provides:
- POST /api/v1/formats and /api/v1/download
- The legacy /api/receive_url and /api/download endpoints
- Download history at /api/v1/downloads
- Health probes, Prometheus metrics and OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "vidmux.db", "Database DSN")
	serveCmd.Flags().String("data-dir", "./data", "Data directory for scratch files")
	serveCmd.Flags().Bool("history", true, "Record download history")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("storage.base_dir", serveCmd.Flags().Lookup("data-dir"))
	mustBindPFlag("history.enabled", serveCmd.Flags().Lookup("history"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	info := version.GetInfo()
	metrics.Initialize(info.Version, info.ShortCommit(), info.GoVersion)

	scratchDir := cfg.Storage.ScratchPath()
	if removed, err := startup.CleanupOrphanedScratchDirs(logger, scratchDir, startup.DefaultCleanupAge); err != nil {
		logger.Warn("failed to clean orphaned scratch directories", slog.String("error", err.Error()))
	} else if removed > 0 {
		logger.Info("cleaned orphaned scratch directories on startup", slog.Int("removed_count", removed))
	}

	p, err := newPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	healthHandler := handlers.NewHealthHandler(version.Version).
		WithFFmpeg(p.detector).
		WithYtDlp(p.ytdlp).
		WithPipelineStats(handlers.PipelineStats{
			TranscodeSlots: p.muxer.Concurrency,
			ActiveScratch:  p.scratch.Active,
			Circuit:        func() string { return p.httpClient.CircuitState().String() },
		})

	sched := scheduler.NewScheduler().WithLogger(logger)

	if cfg.History.Enabled {
		db, err := database.New(cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("initializing database: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.Warn("closing database", slog.String("error", err.Error()))
			}
		}()
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		history := repository.NewDownloadRepository(db.DB)
		p.downloads.WithHistory(history)
		healthHandler.WithDB(db)

		if cfg.Maintenance.Enabled {
			if err := sched.Add("history-prune", cfg.Maintenance.Cron,
				scheduler.HistoryPruneTask(logger, history, cfg.History.Retention)); err != nil {
				return fmt.Errorf("scheduling history prune: %w", err)
			}
		}
	}

	if cfg.Maintenance.Enabled {
		if err := sched.Add("scratch-sweep", cfg.Maintenance.Cron,
			scheduler.ScratchSweepTask(logger, scratchDir, cfg.Storage.ScratchMaxAge)); err != nil {
			return fmt.Errorf("scheduling scratch sweep: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		defer sched.Stop()
	}

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)
	healthHandler.Register(server.API())

	downloadHandler := handlers.NewDownloadHandler(p.downloads)
	downloadHandler.Register(server.API())
	downloadHandler.RegisterLegacy(server.Router())

	logger.Info("starting vidmux server",
		slog.String("address", cfg.Server.Address()),
		slog.String("version", version.Version),
		slog.Bool("history", cfg.History.Enabled),
		slog.Int("transcode_slots", p.muxer.Concurrency()),
	)

	err = server.ListenAndServe(ctx)
	if ctx.Err() != nil {
		logger.Info("received shutdown signal")
	}
	return err
}
