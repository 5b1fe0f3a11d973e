package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jmylchreest/vidmux/internal/config"
	"github.com/jmylchreest/vidmux/internal/metrics"
	"github.com/jmylchreest/vidmux/internal/models"
	"github.com/jmylchreest/vidmux/internal/observability"
	"github.com/jmylchreest/vidmux/internal/util"
	"github.com/jmylchreest/vidmux/pkg/httpclient"
)

// BinaryEnvVar overrides the yt-dlp binary location when no path is configured.
const BinaryEnvVar = "VIDMUX_YTDLP_BINARY"

// maxStderr bounds the yt-dlp diagnostics kept in errors.
const maxStderr = 512

// runFunc executes a command and returns its stdout and stderr.
type runFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// YtDlp is the production Client. Listings come from `yt-dlp -J`, stream
// bytes from the resilient HTTP client.
type YtDlp struct {
	binary     string
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	http       *httpclient.Client
	cache      *listingCache
	group      singleflight.Group
	run        runFunc
	logger     *slog.Logger
}

var _ Client = (*YtDlp)(nil)

// NewYtDlp locates the yt-dlp binary and creates a client.
func NewYtDlp(cfg config.SourceConfig, httpClient *httpclient.Client, logger *slog.Logger) (*YtDlp, error) {
	binary, err := util.FindBinary("yt-dlp", cfg.YtDlpPath, BinaryEnvVar)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp not found: %w", err)
	}
	return newYtDlp(binary, cfg, httpClient, logger), nil
}

func newYtDlp(binary string, cfg config.SourceConfig, httpClient *httpclient.Client, logger *slog.Logger) *YtDlp {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = NewHTTPClient(cfg, logger)
	}
	return &YtDlp{
		binary:     binary,
		timeout:    cfg.FetchTimeout,
		retries:    max(cfg.RetryAttempts, 0),
		retryDelay: cfg.RetryDelay,
		http:       httpClient,
		cache:      newListingCache(cfg.CacheTTL),
		run:        execRun,
		logger:     observability.WithComponent(logger, "source"),
	}
}

// NewHTTPClient builds the stream download client from the source configuration.
// The overall deadline comes from the request context, so no client timeout is set.
func NewHTTPClient(cfg config.SourceConfig, logger *slog.Logger) *httpclient.Client {
	hc := httpclient.DefaultConfig()
	hc.RetryAttempts = max(cfg.RetryAttempts, 0)
	if cfg.RetryDelay > 0 {
		hc.RetryDelay = cfg.RetryDelay
	}
	hc.MaxResponseSize = cfg.MaxStreamSize.Bytes()
	if cfg.UserAgent != "" {
		hc.UserAgent = cfg.UserAgent
	}
	hc.Logger = logger
	// Media servers send already-compressed payloads.
	hc.EnableDecompression = false
	hc.OnCircuitChange = func(from, to httpclient.CircuitState) {
		metrics.UpstreamCircuitState.Set(float64(to))
		metrics.UpstreamCircuitTransitionsTotal.WithLabelValues(to.String()).Inc()
		if logger != nil {
			logger.Warn("upstream circuit breaker changed state",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		}
	}
	return httpclient.New(hc)
}

// Binary returns the resolved yt-dlp path.
func (y *YtDlp) Binary() string {
	return y.binary
}

// Version runs `yt-dlp --version`.
func (y *YtDlp) Version(ctx context.Context) (string, error) {
	out, _, err := y.run(ctx, y.binary, "--version")
	if err != nil {
		return "", fmt.Errorf("getting yt-dlp version: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ListStreams implements Client.
func (y *YtDlp) ListStreams(ctx context.Context, ref string) ([]models.StreamDescriptor, error) {
	info, err := y.probe(ctx, ref)
	if err != nil {
		return nil, err
	}
	return info.descriptors(), nil
}

// Info implements Client.
func (y *YtDlp) Info(ctx context.Context, ref string) (models.ResourceInfo, error) {
	info, err := y.probe(ctx, ref)
	if err != nil {
		return models.ResourceInfo{}, err
	}
	return info.resourceInfo(), nil
}

// OpenStream implements Client.
func (y *YtDlp) OpenStream(ctx context.Context, ref string, d models.StreamDescriptor) (io.ReadCloser, error) {
	if d.URL == "" {
		return nil, models.NewFetchError(ref, d.ID, nil, errors.New("stream has no download URL"))
	}

	body, err := y.http.Fetch(ctx, d.URL, d.Headers)
	if err != nil {
		return nil, models.NewFetchError(ref, d.ID, classifyHTTPError(ctx, err), err)
	}
	return body, nil
}

// probe returns the parsed listing for ref from the cache or from yt-dlp.
// Concurrent probes of the same ref share one yt-dlp run.
func (y *YtDlp) probe(ctx context.Context, ref string) (*ytdlpInfo, error) {
	if info, ok := y.cache.get(ref); ok {
		metrics.CatalogListingsTotal.WithLabelValues("cache").Inc()
		return info, nil
	}

	v, err, _ := y.group.Do(ref, func() (any, error) {
		info, err := y.probeWithRetry(ctx, ref)
		if err != nil {
			return nil, err
		}
		y.cache.put(ref, info)
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.CatalogListingsTotal.WithLabelValues("upstream").Inc()
	return v.(*ytdlpInfo), nil
}

func (y *YtDlp) probeWithRetry(ctx context.Context, ref string) (*ytdlpInfo, error) {
	logger := y.logger
	if id := observability.RequestIDFromContext(ctx); id != "" {
		logger = observability.WithRequestID(logger, id)
	}

	delay := y.retryDelay
	var lastErr *models.FetchError

	for attempt := 0; attempt <= y.retries; attempt++ {
		if attempt > 0 {
			logger.DebugContext(ctx, "retrying yt-dlp listing",
				slog.String("ref", ref),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return nil, models.NewFetchError(ref, "", classifyContext(ctx.Err()), ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}

		info, err := y.probeOnce(ctx, ref)
		if err == nil {
			return info, nil
		}
		lastErr = err
		// Only unclassified failures are worth another attempt.
		if err.Kind != nil {
			break
		}
		logger.WarnContext(ctx, "yt-dlp listing failed",
			slog.String("ref", ref),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return nil, lastErr
}

func (y *YtDlp) probeOnce(ctx context.Context, ref string) (*ytdlpInfo, *models.FetchError) {
	runCtx := ctx
	if y.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, y.timeout)
		defer cancel()
	}

	stdout, stderr, err := y.run(runCtx, y.binary, "-J", "--no-playlist", "--no-warnings", "--", ref)
	if err != nil {
		if ctxErr := runCtx.Err(); ctxErr != nil {
			return nil, models.NewFetchError(ref, "", classifyContext(ctxErr), ctxErr)
		}
		msg := tail(stderr)
		return nil, models.NewFetchError(ref, "", classifyStderr(msg), fmt.Errorf("yt-dlp: %w: %s", err, msg))
	}

	var info ytdlpInfo
	if err := json.Unmarshal(stdout, &info); err != nil {
		return nil, models.NewFetchError(ref, "", nil, fmt.Errorf("parsing yt-dlp output: %w", err))
	}
	return &info, nil
}

// stderr fragments yt-dlp prints for failures that retrying will not fix.
var (
	unavailableMarkers = []string{
		"private video",
		"video unavailable",
		"is not available",
		"has been removed",
		"members-only",
		"sign in to confirm your age",
		"available in your country",
		"blocked it in your country",
		"account associated with this video has been terminated",
		"no video formats found",
	}
	rateLimitMarkers = []string{
		"http error 429",
		"too many requests",
		"rate-limit",
		"rate limit",
	}
	invalidRefMarkers = []string{
		"unsupported url",
		"is not a valid url",
		"invalid url",
		"incomplete youtube id",
	}
)

func classifyStderr(stderr string) error {
	s := strings.ToLower(stderr)
	switch {
	case containsAny(s, rateLimitMarkers):
		return models.ErrRateLimited
	case containsAny(s, invalidRefMarkers):
		return models.ErrInvalidReference
	case containsAny(s, unavailableMarkers):
		return models.ErrResourceUnavailable
	default:
		return nil
	}
}

func classifyHTTPError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.ErrTimeout
	}
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests:
			return models.ErrRateLimited
		case http.StatusForbidden, http.StatusNotFound, http.StatusGone, http.StatusUnavailableForLegalReasons:
			return models.ErrResourceUnavailable
		}
	}
	return nil
}

func classifyContext(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrTimeout
	}
	return nil
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// tail returns the last non-empty stderr line that starts with "ERROR:", or
// the trimmed end of stderr.
func tail(stderr []byte) string {
	lines := strings.Split(strings.TrimSpace(string(stderr)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); strings.HasPrefix(line, "ERROR:") {
			return line
		}
	}
	s := strings.TrimSpace(string(stderr))
	if len(s) > maxStderr {
		s = s[len(s)-maxStderr:]
	}
	return s
}
