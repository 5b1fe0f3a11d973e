package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/vidmux/internal/models"
)

// AllMigrations returns all registered migrations in order.
//   - 001: download history table
//   - 002: composite index for per-reference history lookups
func AllMigrations() []Migration {
	return []Migration{
		migration001DownloadRecords(),
		migration002RefIndex(),
	}
}

func migration001DownloadRecords() Migration {
	return Migration{
		Version:     "001",
		Description: "Create download_records table",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.DownloadRecord{})
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.DownloadRecord{})
		},
	}
}

const refIndexName = "idx_download_records_ref_created"

func migration002RefIndex() Migration {
	return Migration{
		Version:     "002",
		Description: "Index download_records by resource_ref and created_at",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasIndex(&models.DownloadRecord{}, refIndexName) {
				return nil
			}
			return tx.Exec("CREATE INDEX " + refIndexName + " ON download_records (resource_ref, created_at)").Error
		},
		Down: func(tx *gorm.DB) error {
			if !tx.Migrator().HasIndex(&models.DownloadRecord{}, refIndexName) {
				return nil
			}
			return tx.Migrator().DropIndex(&models.DownloadRecord{}, refIndexName)
		},
	}
}
