package migrations

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/vidmux/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func TestAllMigrations_VersionsAreUniqueAndOrdered(t *testing.T) {
	migrations := AllMigrations()
	require.NotEmpty(t, migrations)

	seen := make(map[string]bool)
	prev := ""
	for _, m := range migrations {
		assert.False(t, seen[m.Version], "duplicate version %s", m.Version)
		assert.Greater(t, m.Version, prev)
		assert.NotEmpty(t, m.Description)
		assert.NotNil(t, m.Up)
		assert.NotNil(t, m.Down)
		seen[m.Version] = true
		prev = m.Version
	}
}

func TestMigrator_UpIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	m := NewMigrator(db, nil, AllMigrations()...)

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx))

	assert.True(t, db.Migrator().HasTable(&models.DownloadRecord{}))
	assert.True(t, db.Migrator().HasIndex(&models.DownloadRecord{}, refIndexName))

	var count int64
	require.NoError(t, db.Model(&MigrationRecord{}).Count(&count).Error)
	assert.Equal(t, int64(len(AllMigrations())), count)
}

func TestMigrator_Status(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	m := NewMigrator(db, nil, AllMigrations()...)

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	for _, s := range statuses {
		assert.False(t, s.Applied)
	}

	require.NoError(t, m.Up(ctx))
	statuses, err = m.Status(ctx)
	require.NoError(t, err)
	for _, s := range statuses {
		assert.True(t, s.Applied, s.Version)
		assert.NotNil(t, s.AppliedAt)
	}
}

func TestMigrator_Down(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	m := NewMigrator(db, nil, AllMigrations()...)
	require.NoError(t, m.Up(ctx))

	require.NoError(t, m.Down(ctx))
	assert.False(t, db.Migrator().HasIndex(&models.DownloadRecord{}, refIndexName))
	assert.True(t, db.Migrator().HasTable(&models.DownloadRecord{}))

	require.NoError(t, m.Down(ctx))
	assert.False(t, db.Migrator().HasTable(&models.DownloadRecord{}))

	require.NoError(t, m.Down(ctx), "nothing left to roll back")
}

func TestMigrator_Pending(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	m := NewMigrator(db, nil, AllMigrations()...)

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, len(AllMigrations()))

	require.NoError(t, m.Up(ctx))
	pending, err = m.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMigrator_FailedUpIsNotRecorded(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")
	m := NewMigrator(db, nil,
		Migration{Version: "002", Description: "fails", Up: func(*gorm.DB) error { return boom }},
		Migration{Version: "001", Description: "ok", Up: func(*gorm.DB) error { return nil }},
	)

	err := m.Up(ctx)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "applying migration 002")

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "001", statuses[0].Version)
	assert.True(t, statuses[0].Applied)
	assert.False(t, statuses[1].Applied)
}

func TestMigrator_DownWithoutStep(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	m := NewMigrator(db, nil, Migration{Version: "001", Description: "one way", Up: func(*gorm.DB) error { return nil }})
	require.NoError(t, m.Up(ctx))

	assert.ErrorIs(t, m.Down(ctx), ErrNoDown)
}
