package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/vidmux/internal/metrics"
	"github.com/jmylchreest/vidmux/internal/startup"
)

// HistoryPruner deletes download history older than a cutoff.
type HistoryPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ScratchSweepTask removes scratch job directories older than maxAge.
func ScratchSweepTask(logger *slog.Logger, scratchDir string, maxAge time.Duration) TaskFunc {
	return func(_ context.Context) error {
		removed, err := startup.CleanupOrphanedScratchDirs(logger, scratchDir, maxAge)
		metrics.ScratchDirsRemovedTotal.Add(float64(removed))
		return err
	}
}

// HistoryPruneTask deletes history records older than retention.
// A zero retention keeps everything.
func HistoryPruneTask(logger *slog.Logger, pruner HistoryPruner, retention time.Duration) TaskFunc {
	return func(ctx context.Context) error {
		if retention <= 0 {
			return nil
		}
		removed, err := pruner.DeleteOlderThan(ctx, time.Now().Add(-retention))
		if err != nil {
			return err
		}
		metrics.HistoryPrunedTotal.Add(float64(removed))
		if removed > 0 {
			logger.InfoContext(ctx, "pruned download history",
				slog.Int64("removed", removed),
				slog.Duration("retention", retention),
			)
		}
		return nil
	}
}
