package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/vidmux/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// downloadRepo implements DownloadRepository using GORM.
type downloadRepo struct {
	db *gorm.DB
}

// NewDownloadRepository creates a new DownloadRepository.
func NewDownloadRepository(db *gorm.DB) *downloadRepo {
	return &downloadRepo{db: db}
}

// Create stores a download record.
func (r *downloadRepo) Create(ctx context.Context, record *models.DownloadRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("creating download record: %w", err)
	}
	return nil
}

// List returns records newest first. The limit is clamped to maxListLimit.
func (r *downloadRepo) List(ctx context.Context, filter DownloadFilter) ([]*models.DownloadRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	query := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit)
	if filter.ResourceRef != "" {
		query = query.Where("resource_ref = ?", filter.ResourceRef)
	}
	if filter.Outcome != "" {
		query = query.Where("outcome = ?", filter.Outcome)
	}

	var records []*models.DownloadRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing download records: %w", err)
	}
	return records, nil
}

// Count returns the number of stored records.
func (r *downloadRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.DownloadRecord{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting download records: %w", err)
	}
	return count, nil
}

// DeleteOlderThan removes records created before cutoff.
func (r *downloadRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.DownloadRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting download records: %w", result.Error)
	}
	return result.RowsAffected, nil
}
