package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/vidmux/internal/config"
	"github.com/jmylchreest/vidmux/internal/ffmpeg"
	"github.com/jmylchreest/vidmux/internal/muxer"
	"github.com/jmylchreest/vidmux/internal/service"
	"github.com/jmylchreest/vidmux/internal/source"
	"github.com/jmylchreest/vidmux/internal/storage"
	"github.com/jmylchreest/vidmux/pkg/httpclient"
)

// pipeline holds the components shared by serve, formats and download.
type pipeline struct {
	scratch    *storage.ScratchManager
	detector   *ffmpeg.BinaryDetector
	httpClient *httpclient.Client
	ytdlp      *source.YtDlp
	muxer      *muxer.Muxer
	downloads  *service.DownloadService
}

// newPipeline locates ffmpeg and yt-dlp and wires the download service.
func newPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *pipeline, err error) {
	scratch, err := storage.NewScratchManager(cfg.Storage.ScratchPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("initializing scratch storage: %w", err)
	}
	defer func() {
		if err != nil {
			_ = scratch.Close()
		}
	}()

	detector := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath)
	info, err := detector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detecting ffmpeg: %w", err)
	}
	logger.Debug("ffmpeg detected",
		slog.String("path", info.FFmpegPath),
		slog.String("version", info.Version),
	)
	transcoder := ffmpeg.NewExecTranscoder(info.FFmpegPath, cfg.FFmpeg.LogLevel, logger)

	httpClient := source.NewHTTPClient(cfg.Source, logger)
	ytdlp, err := source.NewYtDlp(cfg.Source, httpClient, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing resource client: %w", err)
	}

	mux := muxer.New(cfg.Muxer, transcoder, scratch, logger)
	for _, family := range []string{"mp4", "webm"} {
		if mux.Policy().Copies(family) {
			continue
		}
		if codec := mux.Policy().Strategy(family); len(info.Encoders) > 0 && !info.HasEncoder(codec) {
			logger.Warn("ffmpeg lacks the encoder required by the audio policy",
				slog.String("container", family),
				slog.String("encoder", codec),
			)
		}
	}

	return &pipeline{
		scratch:    scratch,
		detector:   detector,
		httpClient: httpClient,
		ytdlp:      ytdlp,
		muxer:      mux,
		downloads:  service.NewDownloadService(ytdlp, mux, cfg.Source).WithLogger(logger),
	}, nil
}

// Close releases the scratch root.
func (p *pipeline) Close() error {
	return p.scratch.Close()
}
