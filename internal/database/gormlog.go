package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	slowQueryThreshold = 500 * time.Millisecond
	maxSQLLogLength    = 200
	poolStatsInterval  = time.Minute
)

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// slogGormLogger routes GORM's logger.Interface to slog. Fast queries go
// out at debug, slow ones at warn and failures at error.
type slogGormLogger struct {
	logger *slog.Logger
	level  logger.LogLevel
	sqlDB  *sql.DB

	// lastStats is the unix nano time pool stats were last logged.
	lastStats *atomic.Int64
}

func newGormLogger(level string, log *slog.Logger) *slogGormLogger {
	return &slogGormLogger{logger: log, level: gormLogLevel(level), lastStats: new(atomic.Int64)}
}

// SetSQLDB lets the logger report pool stats when SQLite reports lock
// contention.
func (l *slogGormLogger) SetSQLDB(db *sql.DB) { l.sqlDB = db }

func (l *slogGormLogger) LogMode(level logger.LogLevel) logger.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *slogGormLogger) Info(ctx context.Context, msg string, args ...any) {
	l.printf(ctx, logger.Info, slog.LevelInfo, msg, args)
}

func (l *slogGormLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.printf(ctx, logger.Warn, slog.LevelWarn, msg, args)
}

func (l *slogGormLogger) Error(ctx context.Context, msg string, args ...any) {
	l.printf(ctx, logger.Error, slog.LevelError, msg, args)
}

func (l *slogGormLogger) printf(ctx context.Context, need logger.LogLevel, level slog.Level, msg string, args []any) {
	if l.level >= need {
		l.logger.Log(ctx, level, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)

	var (
		need  logger.LogLevel
		level slog.Level
		msg   string
	)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		need, level, msg = logger.Error, slog.LevelError, "database error"
	case elapsed > slowQueryThreshold:
		need, level, msg = logger.Warn, slog.LevelWarn, "slow query"
	default:
		need, level, msg = logger.Info, slog.LevelDebug, "database query"
	}
	// fc renders the SQL with its arguments, so only call it for lines that are written.
	if l.level < need || !l.logger.Enabled(ctx, level) {
		return
	}

	sqlStr, rows := fc()
	if len(sqlStr) > maxSQLLogLength {
		sqlStr = sqlStr[:maxSQLLogLength] + "... (truncated)"
	}
	attrs := []slog.Attr{
		slog.String("sql", sqlStr),
		slog.Int64("rows", rows),
		slog.Duration("elapsed", elapsed),
	}
	if level == slog.LevelError {
		attrs = append(attrs, slog.String("error", err.Error()))
		if strings.Contains(err.Error(), "database is locked") {
			l.logPoolStats(ctx)
		}
	}
	l.logger.LogAttrs(ctx, level, msg, attrs...)
}

// logPoolStats logs connection pool stats at most once per poolStatsInterval.
func (l *slogGormLogger) logPoolStats(ctx context.Context) {
	if l.sqlDB == nil {
		return
	}
	now := time.Now().UnixNano()
	last := l.lastStats.Load()
	if now-last < int64(poolStatsInterval) || !l.lastStats.CompareAndSwap(last, now) {
		return
	}

	stats := l.sqlDB.Stats()
	l.logger.WarnContext(ctx, "connection pool stats on lock contention",
		slog.Int("open_conns", stats.OpenConnections),
		slog.Int("in_use", stats.InUse),
		slog.Int64("wait_count", stats.WaitCount),
		slog.Duration("wait_duration", stats.WaitDuration),
	)
}
