package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
)

// CopyCodec is the audio strategy that keeps the input audio bitstream.
const CopyCodec = "copy"

// MuxJob describes one transcoder invocation over scratch files.
type MuxJob struct {
	VideoPath  string
	AudioPath  string
	OutputPath string
	// AudioCodec is CopyCodec or the name of the encoder to transcode audio with.
	AudioCodec string
}

// Transcoder combines a video-only input with an audio input into one file.
// Implementations keep no state between calls.
type Transcoder interface {
	Mux(ctx context.Context, job MuxJob) error
}

// ExitError reports an ffmpeg run that failed, with the tail of its stderr.
type ExitError struct {
	Err    error
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("ffmpeg: %v", e.Err)
	}
	return fmt.Sprintf("ffmpeg: %v: %s", e.Err, e.Stderr)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExecTranscoder runs the ffmpeg binary.
type ExecTranscoder struct {
	binary   string
	logLevel string
	logger   *slog.Logger
}

// NewExecTranscoder creates a Transcoder that shells out to ffmpegPath.
func NewExecTranscoder(ffmpegPath, logLevel string, logger *slog.Logger) *ExecTranscoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecTranscoder{binary: ffmpegPath, logLevel: logLevel, logger: logger}
}

// BuildCommand returns the ffmpeg command for job. Video is always stream-copied.
func (t *ExecTranscoder) BuildCommand(job MuxJob) *Command {
	audioCodec := job.AudioCodec
	if audioCodec == "" {
		audioCodec = CopyCodec
	}

	return NewCommandBuilder(t.binary).
		LogLevel(t.logLevel).
		HideBanner().
		NoStdin().
		Input(job.VideoPath).
		Input(job.AudioPath).
		Map("0:v:0").
		Map("1:a:0").
		VideoCodec(CopyCodec).
		AudioCodec(audioCodec).
		Overwrite().
		Output(job.OutputPath).
		Build()
}

// Mux implements Transcoder.
func (t *ExecTranscoder) Mux(ctx context.Context, job MuxJob) error {
	cmd := t.BuildCommand(job)
	t.logger.DebugContext(ctx, "running ffmpeg", slog.String("command", cmd.String()))

	if err := cmd.Run(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &ExitError{Err: err, Stderr: cmd.StderrTail()}
	}

	t.logger.DebugContext(ctx, "ffmpeg finished",
		slog.String("output", job.OutputPath),
		slog.Duration("duration", cmd.Duration()),
	)
	return nil
}
