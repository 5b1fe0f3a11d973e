// Package muxer merges a video-only stream with an audio stream into a single
// container. It owns the audio policy, the transcode concurrency limit and the
// scratch files the transcoder works on.
package muxer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jmylchreest/vidmux/internal/config"
	"github.com/jmylchreest/vidmux/internal/ffmpeg"
	"github.com/jmylchreest/vidmux/internal/metrics"
	"github.com/jmylchreest/vidmux/internal/models"
	"github.com/jmylchreest/vidmux/internal/observability"
	"github.com/jmylchreest/vidmux/internal/storage"
)

// errNoOutput is the cause recorded when the transcoder exits cleanly but
// leaves nothing behind.
var errNoOutput = errors.New("transcoder produced no output")

// MuxInput is one merge request. Audio must belong to the same container
// family as Container.
type MuxInput struct {
	Video     []byte
	Audio     []byte
	Container string
}

// Muxer runs merges through a Transcoder inside per-job scratch directories.
type Muxer struct {
	transcoder ffmpeg.Transcoder
	scratch    *storage.ScratchManager
	policy     AudioPolicy
	limiter    *Limiter
	timeout    time.Duration
	logger     *slog.Logger
}

// New creates a Muxer from the muxer configuration.
func New(cfg config.MuxerConfig, transcoder ffmpeg.Transcoder, scratch *storage.ScratchManager, logger *slog.Logger) *Muxer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Muxer{
		transcoder: transcoder,
		scratch:    scratch,
		policy:     NewAudioPolicy(cfg.AudioPolicy, cfg.FallbackAudioCodec),
		limiter:    NewLimiter(cfg.MaxConcurrent),
		timeout:    cfg.TranscodeTimeout,
		logger:     observability.WithComponent(logger, "muxer"),
	}
}

// Policy returns the audio policy in effect.
func (m *Muxer) Policy() AudioPolicy {
	return m.policy
}

// Concurrency returns the number of transcodes allowed to run at once.
func (m *Muxer) Concurrency() int {
	return m.limiter.Size()
}

// Mux merges in.Video and in.Audio and returns the output container bytes.
// Video is always stream-copied; audio follows the policy for in.Container.
// Scratch files are removed before Mux returns, whatever the outcome.
func (m *Muxer) Mux(ctx context.Context, in MuxInput) (out []byte, err error) {
	family := in.Container
	if family == "" {
		return nil, fmt.Errorf("%w: container family is required", models.ErrInvalidRequest)
	}
	if len(in.Video) == 0 || len(in.Audio) == 0 {
		return nil, &models.MergeError{Container: family, Err: errors.New("empty input stream")}
	}

	release, err := m.limiter.Acquire(ctx)
	if err != nil {
		return nil, m.contextError(family, err)
	}
	defer release()

	strategy := m.policy.Strategy(family)
	logger := m.logger.With(slog.String("container", family), slog.String("audio_strategy", strategy))

	metrics.TranscodesInFlight.Inc()
	start := time.Now()
	defer func() {
		metrics.TranscodesInFlight.Dec()
		status := "success"
		if err != nil {
			status = models.ErrorKind(err)
		}
		metrics.TranscodesTotal.WithLabelValues(family, strategy, status).Inc()
		metrics.TranscodeDuration.WithLabelValues(family).Observe(time.Since(start).Seconds())
	}()

	err = m.scratch.With("", func(job *storage.ScratchJob) error {
		ext := models.FileExtension(family)
		videoPath, err := job.WriteInput("video."+ext, in.Video)
		if err != nil {
			return &models.MergeError{Container: family, Err: err}
		}
		audioPath, err := job.WriteInput("audio."+ext, in.Audio)
		if err != nil {
			return &models.MergeError{Container: family, Err: err}
		}
		outputName := "output." + ext
		outputPath, err := job.OutputPath(outputName)
		if err != nil {
			return &models.MergeError{Container: family, Err: err}
		}

		tctx := ctx
		if m.timeout > 0 {
			var cancel context.CancelFunc
			tctx, cancel = context.WithTimeout(ctx, m.timeout)
			defer cancel()
		}

		logger.DebugContext(ctx, "muxing streams", slog.String("job_id", job.ID()))
		if err := m.transcoder.Mux(tctx, ffmpeg.MuxJob{
			VideoPath:  videoPath,
			AudioPath:  audioPath,
			OutputPath: outputPath,
			AudioCodec: strategy,
		}); err != nil {
			return m.transcodeError(family, err)
		}

		data, err := job.ReadOutput(outputName)
		if errors.Is(err, fs.ErrNotExist) || (err == nil && len(data) == 0) {
			return &models.MergeError{Container: family, Err: errNoOutput}
		}
		if err != nil {
			return &models.MergeError{Container: family, Err: err}
		}
		out = data
		return nil
	})
	if err != nil {
		logger.WarnContext(ctx, "mux failed",
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	logger.InfoContext(ctx, "mux completed",
		slog.Int("bytes", len(out)),
		slog.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func (m *Muxer) transcodeError(family string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return m.contextError(family, err)
	}
	merr := &models.MergeError{Container: family, Err: err}
	var exitErr *ffmpeg.ExitError
	if errors.As(err, &exitErr) {
		merr.Err = exitErr.Err
		merr.Detail = exitErr.Stderr
	}
	return merr
}

func (m *Muxer) contextError(family string, err error) error {
	merr := &models.MergeError{Container: family, Err: err}
	if errors.Is(err, context.DeadlineExceeded) {
		merr.Kind = models.ErrTimeout
	}
	return merr
}
