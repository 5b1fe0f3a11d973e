// Package service holds the vidmux download pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/vidmux/internal/catalog"
	"github.com/jmylchreest/vidmux/internal/config"
	"github.com/jmylchreest/vidmux/internal/metrics"
	"github.com/jmylchreest/vidmux/internal/models"
	"github.com/jmylchreest/vidmux/internal/muxer"
	"github.com/jmylchreest/vidmux/internal/observability"
	"github.com/jmylchreest/vidmux/internal/repository"
	"github.com/jmylchreest/vidmux/internal/source"
	"github.com/jmylchreest/vidmux/pkg/format"
)

// defaultFilename is used when the resource title yields no usable slug.
const defaultFilename = "video"

// Merger combines a video-only stream with an audio stream.
type Merger interface {
	Mux(ctx context.Context, in muxer.MuxInput) ([]byte, error)
}

// FormatsResult is the catalog of a resource together with its metadata.
type FormatsResult struct {
	URL     string              `json:"url"`
	Formats catalog.Catalog     `json:"formats"`
	Info    models.ResourceInfo `json:"info"`
}

// DownloadResult is the deliverable produced by Download.
type DownloadResult struct {
	Data []byte
	// Filename is the suggested attachment name, "<title-slug>.<container>".
	Filename    string
	ContentType string
	Container   string
	FormatID    string
	// AudioFormatID is the audio stream merged in, empty when nothing was merged.
	AudioFormatID string
	Merged        bool
	Title         string
}

// DownloadService resolves a format of a remote resource and delivers it as a
// single file, merging in the best matching audio for video-only formats.
type DownloadService struct {
	client       source.Client
	merger       Merger
	history      repository.DownloadRepository
	fetchTimeout time.Duration
	logger       *slog.Logger
}

// NewDownloadService creates a download service.
func NewDownloadService(client source.Client, merger Merger, cfg config.SourceConfig) *DownloadService {
	return &DownloadService{
		client:       client,
		merger:       merger,
		fetchTimeout: cfg.FetchTimeout,
		logger:       slog.Default(),
	}
}

// WithLogger sets the logger for the service.
func (s *DownloadService) WithLogger(logger *slog.Logger) *DownloadService {
	s.logger = observability.WithComponent(logger, "download")
	return s
}

// WithHistory enables recording of every download attempt.
func (s *DownloadService) WithHistory(repo repository.DownloadRepository) *DownloadService {
	s.history = repo
	return s
}

// Formats returns the deduplicated catalog and metadata for ref.
func (s *DownloadService) Formats(ctx context.Context, ref string) (*FormatsResult, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: url is required", models.ErrInvalidRequest)
	}

	cat, err := catalog.Build(ctx, s.client, ref)
	if err != nil {
		return nil, err
	}
	info, err := s.client.Info(ctx, ref)
	if err != nil {
		return nil, err
	}

	return &FormatsResult{URL: ref, Formats: cat, Info: info}, nil
}

// HistoryEnabled reports whether download attempts are recorded.
func (s *DownloadService) HistoryEnabled() bool {
	return s.history != nil
}

// History lists recent download attempts. It returns nil when history is disabled.
func (s *DownloadService) History(ctx context.Context, filter repository.DownloadFilter) ([]*models.DownloadRecord, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.List(ctx, filter)
}

// Download builds the catalog for ref, resolves formatID and returns the bytes
// to deliver. Progressive and unknown-kind formats pass through untouched.
// Video-only formats are merged with the best audio of the same container
// family, or delivered alone when there is none.
func (s *DownloadService) Download(ctx context.Context, ref, formatID string) (result *DownloadResult, err error) {
	ref = strings.TrimSpace(ref)
	formatID = strings.TrimSpace(formatID)
	if ref == "" || formatID == "" {
		return nil, fmt.Errorf("%w: url and format id are required", models.ErrInvalidRequest)
	}

	logger := s.logger.With(slog.String("resource_ref", ref), slog.String("format_id", formatID))
	if id := observability.RequestIDFromContext(ctx); id != "" {
		logger = observability.WithRequestID(logger, id)
	}

	start := time.Now()
	record := &models.DownloadRecord{ResourceRef: ref, FormatID: formatID}
	defer func() {
		s.finish(ctx, logger, record, result, start, err)
	}()

	cat, err := catalog.Build(ctx, s.client, ref)
	if err != nil {
		return nil, err
	}
	sel, err := cat.Resolve(formatID)
	if err != nil {
		return nil, err
	}

	title := s.title(ctx, logger, ref)
	record.Title = title

	video := sel.Descriptor
	container := video.ContainerFamily()
	record.Container = container

	result = &DownloadResult{
		Filename:    format.Slug(title, defaultFilename) + "." + models.FileExtension(container),
		ContentType: video.MimeType,
		Container:   container,
		FormatID:    video.ID,
		Title:       title,
	}

	if !sel.VideoOnly {
		result.Data, err = s.fetch(ctx, ref, video, fetchKind(video))
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	audio, ok := cat.MatchAudio(container)
	if !ok {
		logger.InfoContext(ctx, "no compatible audio stream, delivering video only",
			slog.String("container", container))
		result.Data, err = s.fetch(ctx, ref, video, "video")
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	job := models.MergeJob{Video: video, Audio: audio, Container: container}
	result.Data, err = s.merge(ctx, logger, ref, job)
	if err != nil {
		return nil, err
	}
	result.Merged = true
	result.AudioFormatID = audio.ID
	record.AudioFormatID = audio.ID
	record.Merged = true
	return result, nil
}

// merge fetches both inputs of job concurrently and muxes them.
func (s *DownloadService) merge(ctx context.Context, logger *slog.Logger, ref string, job models.MergeJob) ([]byte, error) {
	logger.DebugContext(ctx, "merging audio into video-only stream",
		slog.String("audio_format_id", job.Audio.ID),
		slog.String("container", job.Container),
	)

	var videoData, audioData []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		videoData, err = s.fetch(gctx, ref, job.Video, "video")
		return err
	})
	g.Go(func() error {
		var err error
		audioData, err = s.fetch(gctx, ref, job.Audio, "audio")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return s.merger.Mux(ctx, muxer.MuxInput{
		Video:     videoData,
		Audio:     audioData,
		Container: job.Container,
	})
}

// fetch reads the whole stream of d under the fetch timeout.
func (s *DownloadService) fetch(ctx context.Context, ref string, d models.StreamDescriptor, kind string) ([]byte, error) {
	if s.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
	}

	rc, err := s.client.OpenStream(ctx, ref, d)
	if err != nil {
		return nil, streamError(ctx, ref, d.ID, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, streamError(ctx, ref, d.ID, err)
	}
	metrics.FetchedBytesTotal.WithLabelValues(kind).Add(float64(len(data)))
	return data, nil
}

// streamError wraps err as a FetchError unless it already is one.
func streamError(ctx context.Context, ref, formatID string, err error) error {
	var fe *models.FetchError
	if errors.As(err, &fe) {
		return err
	}
	var kind error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = models.ErrTimeout
	}
	return models.NewFetchError(ref, formatID, kind, err)
}

// title looks up the resource title. Metadata is decoration, so failures only log.
func (s *DownloadService) title(ctx context.Context, logger *slog.Logger, ref string) string {
	info, err := s.client.Info(ctx, ref)
	if err != nil {
		logger.WarnContext(ctx, "resource info unavailable, using default filename",
			slog.String("error", err.Error()))
		return ""
	}
	return info.Title
}

func (s *DownloadService) finish(ctx context.Context, logger *slog.Logger, record *models.DownloadRecord, result *DownloadResult, start time.Time, err error) {
	elapsed := time.Since(start)
	var size int64
	if err == nil && result != nil {
		size = int64(len(result.Data))
	}
	record.Finish(size, elapsed, err)

	outcome := string(record.Outcome)
	metrics.DownloadsTotal.WithLabelValues(outcome, record.ErrorKind, strconv.FormatBool(record.Merged)).Inc()

	if err != nil {
		logger.ErrorContext(ctx, "download failed",
			slog.String("error_kind", record.ErrorKind),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()),
		)
	} else {
		logger.InfoContext(ctx, "download completed",
			slog.Bool("merged", record.Merged),
			slog.String("size", format.Bytes(size)),
			slog.Duration("duration", elapsed),
		)
	}

	if s.history == nil {
		return
	}
	// History must be written even when the request context is already cancelled.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if herr := s.history.Create(hctx, record); herr != nil {
		logger.WarnContext(ctx, "failed to record download history", slog.String("error", herr.Error()))
	}
}

func fetchKind(d models.StreamDescriptor) string {
	switch {
	case d.Progressive:
		return "progressive"
	case d.Kind == models.StreamKindAudio:
		return "audio"
	default:
		return "video"
	}
}
