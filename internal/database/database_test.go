package database

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/vidmux/internal/config"
	"github.com/jmylchreest/vidmux/internal/models"
)

func memoryConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Driver:          "sqlite",
		DSN:             ":memory:",
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		LogLevel:        "warn",
	}
}

func TestNew_SQLite(t *testing.T) {
	db, err := New(memoryConfig(), nil)
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.Ping(context.Background()))
	assert.Equal(t, "sqlite", db.Driver())
}

func TestNew_InvalidDriver(t *testing.T) {
	db, err := New(config.DatabaseConfig{Driver: "invalid", DSN: ":memory:"}, nil)
	assert.Nil(t, db)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestDB_CloseThenPing(t *testing.T) {
	db, err := New(memoryConfig(), nil)
	require.NoError(t, err)

	require.NoError(t, db.Close())
	assert.Error(t, db.Ping(context.Background()))
}

func TestDB_Migrate(t *testing.T) {
	db, err := New(memoryConfig(), nil)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx))

	rec := &models.DownloadRecord{ResourceRef: "https://example.com/v", FormatID: "137", Outcome: models.DownloadOutcomeSuccess}
	require.NoError(t, db.WithContext(ctx).Create(rec).Error)

	var got models.DownloadRecord
	require.NoError(t, db.WithContext(ctx).First(&got, "id = ?", rec.ID).Error)
	assert.Equal(t, "137", got.FormatID)
}

func TestGormLogLevel(t *testing.T) {
	assert.Equal(t, logger.Silent, gormLogLevel("silent"))
	assert.Equal(t, logger.Error, gormLogLevel("error"))
	assert.Equal(t, logger.Info, gormLogLevel("info"))
	assert.Equal(t, logger.Warn, gormLogLevel("warn"))
	assert.Equal(t, logger.Warn, gormLogLevel("bogus"))
}

func TestSlogGormLogger_Trace(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := newGormLogger("warn", log)
	ctx := context.Background()

	calls := 0
	fc := func() (string, int64) {
		calls++
		return "SELECT 1", 1
	}

	l.Trace(ctx, time.Now(), fc, nil)
	assert.Zero(t, calls, "fast queries below info level must not render SQL")

	l.Trace(ctx, time.Now().Add(-time.Second), fc, nil)
	assert.Contains(t, buf.String(), "slow query")

	buf.Reset()
	l.Trace(ctx, time.Now(), fc, assert.AnError)
	assert.Contains(t, buf.String(), "database error")

	buf.Reset()
	l.LogMode(logger.Silent).Trace(ctx, time.Now(), fc, assert.AnError)
	assert.Empty(t, buf.String())
}
