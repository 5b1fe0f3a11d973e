// Package repository defines data access for vidmux persisted entities.
// All database access goes through these interfaces so services can be
// tested against fakes.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/vidmux/internal/models"
)

// DownloadFilter narrows a history listing.
type DownloadFilter struct {
	// ResourceRef limits results to one resource when set.
	ResourceRef string
	Outcome     models.DownloadOutcome
	Limit       int
}

// DownloadRepository persists download history records.
type DownloadRepository interface {
	// Create stores a finished download attempt.
	Create(ctx context.Context, record *models.DownloadRecord) error
	// List returns records newest first.
	List(ctx context.Context, filter DownloadFilter) ([]*models.DownloadRecord, error)
	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)
	// DeleteOlderThan removes records created before cutoff and returns how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
