package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidmux/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_ValidateSpec(t *testing.T) {
	s := NewScheduler()
	assert.NoError(t, s.ValidateSpec("0 */15 * * * *"))
	assert.NoError(t, s.ValidateSpec("@hourly"))
	assert.Error(t, s.ValidateSpec("*/15 * * *"))
	assert.Error(t, s.Add("bad", "not a schedule", func(context.Context) error { return nil }))
}

func TestScheduler_RunNow(t *testing.T) {
	s := NewScheduler().WithLogger(quietLogger())

	var first, second atomic.Int32
	require.NoError(t, s.Add("first", "@hourly", func(context.Context) error {
		first.Add(1)
		return errors.New("boom")
	}))
	require.NoError(t, s.Add("second", "@hourly", func(context.Context) error {
		second.Add(1)
		return nil
	}))

	err := s.RunNow(context.Background())
	assert.ErrorContains(t, err, "first: boom")
	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(1), second.Load(), "a failing task does not stop the others")
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler().WithLogger(quietLogger())

	ran := make(chan struct{}, 10)
	require.NoError(t, s.Add("tick", "* * * * * *", func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	}))

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("task did not run")
	}
	s.Stop()
}

func TestScratchSweepTask(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, storage.JobDirPrefix+"old")
	fresh := filepath.Join(dir, storage.JobDirPrefix+"fresh")
	other := filepath.Join(dir, "keep-me")
	for _, p := range []string{old, fresh, other} {
		require.NoError(t, os.Mkdir(p, 0o750))
	}
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(other, past, past))

	require.NoError(t, ScratchSweepTask(quietLogger(), dir, time.Hour)(context.Background()))

	assert.NoDirExists(t, old)
	assert.DirExists(t, fresh)
	assert.DirExists(t, other)
}

type fakePruner struct {
	cutoff time.Time
	n      int64
	err    error
}

func (f *fakePruner) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.n, f.err
}

func TestHistoryPruneTask(t *testing.T) {
	ctx := context.Background()

	p := &fakePruner{n: 3}
	require.NoError(t, HistoryPruneTask(quietLogger(), p, 24*time.Hour)(ctx))
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), p.cutoff, 5*time.Second)

	p = &fakePruner{}
	require.NoError(t, HistoryPruneTask(quietLogger(), p, 0)(ctx))
	assert.True(t, p.cutoff.IsZero(), "zero retention never prunes")

	p = &fakePruner{err: errors.New("db down")}
	assert.ErrorContains(t, HistoryPruneTask(quietLogger(), p, time.Hour)(ctx), "db down")
}
