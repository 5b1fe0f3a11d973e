// Package startup provides utilities for application startup and periodic
// housekeeping tasks.
package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/vidmux/internal/storage"
)

// DefaultCleanupAge is the default minimum age of an orphaned scratch job
// directory before it is removed.
const DefaultCleanupAge = 1 * time.Hour

// CleanupOrphanedScratchDirs removes scratch job directories in scratchDir
// that are older than maxAge. Jobs are released when their merge finishes, so
// anything left behind belongs to a process that crashed or was killed.
//
// Returns the number of directories removed and any error encountered.
func CleanupOrphanedScratchDirs(logger *slog.Logger, scratchDir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(scratchDir)
	if os.IsNotExist(err) {
		logger.Debug("scratch directory does not exist, skipping cleanup",
			slog.String("path", scratchDir),
		)
		return 0, nil
	}
	if err != nil {
		logger.Error("failed to read scratch directory for cleanup",
			slog.String("path", scratchDir),
			slog.String("error", err.Error()),
		)
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), storage.JobDirPrefix) {
			continue
		}

		dirPath := filepath.Join(scratchDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to get scratch directory info",
				slog.String("path", dirPath),
				slog.String("error", err.Error()),
			)
			continue
		}

		age := time.Since(info.ModTime()).Round(time.Second)
		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent scratch directory",
				slog.String("path", dirPath),
				slog.Duration("age", age),
			)
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			logger.Warn("failed to remove orphaned scratch directory",
				slog.String("path", dirPath),
				slog.String("error", err.Error()),
			)
			continue
		}

		logger.Info("removed orphaned scratch directory",
			slog.String("path", dirPath),
			slog.Duration("age", age),
		)
		removed++
	}

	return removed, nil
}
