// Package handlers provides the HTTP API handlers for vidmux.
package handlers

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/jmylchreest/vidmux/internal/ffmpeg"
)

const (
	statusOK       = "ok"
	statusError    = "error"
	statusDisabled = "disabled"

	// versionCacheTTL bounds how often readiness shells out to yt-dlp.
	versionCacheTTL = time.Minute
	probeTimeout    = 5 * time.Second
)

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FFmpegDetector locates ffmpeg and reports its version.
type FFmpegDetector interface {
	Detect(ctx context.Context) (*ffmpeg.BinaryInfo, error)
}

// VersionReporter reports the version of an external tool.
type VersionReporter interface {
	Version(ctx context.Context) (string, error)
}

// PipelineStats exposes live pipeline figures.
type PipelineStats struct {
	TranscodeSlots func() int
	ActiveScratch  func() int64
	Circuit        func() string
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        Pinger
	ffmpeg    FFmpegDetector
	ytdlp     VersionReporter
	stats     PipelineStats

	mu           sync.Mutex
	ytdlpVersion string
	ytdlpErr     error
	ytdlpChecked time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version, startTime: time.Now()}
}

// WithDB sets the database checked by readiness.
func (h *HealthHandler) WithDB(db Pinger) *HealthHandler {
	h.db = db
	return h
}

// WithFFmpeg sets the ffmpeg detector checked by readiness.
func (h *HealthHandler) WithFFmpeg(d FFmpegDetector) *HealthHandler {
	h.ffmpeg = d
	return h
}

// WithYtDlp sets the yt-dlp client checked by readiness.
func (h *HealthHandler) WithYtDlp(v VersionReporter) *HealthHandler {
	h.ytdlp = v
	return h
}

// WithPipelineStats sets the live pipeline figures reported by /health.
func (h *HealthHandler) WithPipelineStats(stats PipelineStats) *HealthHandler {
	h.stats = stats
	return h
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Description: "Reports whether the database, ffmpeg and yt-dlp are usable",
		Tags:        []string{"System"},
	}, h.GetReadyz)

	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// LivezInput is the input for the liveness probe.
type LivezInput struct{}

// ReadyzInput is the input for the readiness probe.
type ReadyzInput struct{}

// ProbeOutput is the output of the liveness and readiness probes.
type ProbeOutput struct {
	Status int
	Body   StatusResponse
}

// GetLivez reports that the process is serving requests.
func (h *HealthHandler) GetLivez(_ context.Context, _ *LivezInput) (*ProbeOutput, error) {
	return &ProbeOutput{Status: 200, Body: StatusResponse{Status: statusOK}}, nil
}

// GetReadyz checks every dependency a download needs. It answers 503 when
// any of them is unusable.
func (h *HealthHandler) GetReadyz(ctx context.Context, _ *ReadyzInput) (*ProbeOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	components := h.components(ctx)
	out := &ProbeOutput{Status: 200, Body: StatusResponse{Status: "ready", Components: components}}
	for _, status := range components {
		if status == statusError {
			out.Status = 503
			out.Body.Status = "not_ready"
			break
		}
	}
	return out, nil
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	checks := h.components(ctx)
	status := "healthy"
	for _, s := range checks {
		if s == statusError {
			status = "degraded"
			break
		}
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			CPUInfo:       cpuInfo(),
			Memory:        memoryInfo(),
			Pipeline:      h.pipelineHealth(ctx),
			Checks:        checks,
		},
	}, nil
}

func (h *HealthHandler) components(ctx context.Context) map[string]string {
	components := map[string]string{
		"database": statusDisabled,
		"ffmpeg":   statusDisabled,
		"ytdlp":    statusDisabled,
	}
	if h.db != nil {
		components["database"] = statusOf(h.db.Ping(ctx))
	}
	if h.ffmpeg != nil {
		_, err := h.ffmpeg.Detect(ctx)
		components["ffmpeg"] = statusOf(err)
	}
	if h.ytdlp != nil {
		_, err := h.ytdlpVersionCached(ctx)
		components["ytdlp"] = statusOf(err)
	}
	return components
}

func (h *HealthHandler) ytdlpVersionCached(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.ytdlpChecked.IsZero() && time.Since(h.ytdlpChecked) < versionCacheTTL {
		return h.ytdlpVersion, h.ytdlpErr
	}
	h.ytdlpVersion, h.ytdlpErr = h.ytdlp.Version(ctx)
	h.ytdlpChecked = time.Now()
	return h.ytdlpVersion, h.ytdlpErr
}

func (h *HealthHandler) pipelineHealth(ctx context.Context) PipelineHealth {
	var p PipelineHealth
	if h.stats.TranscodeSlots != nil {
		p.TranscodeSlots = h.stats.TranscodeSlots()
	}
	if h.stats.ActiveScratch != nil {
		p.ActiveScratch = h.stats.ActiveScratch()
	}
	if h.stats.Circuit != nil {
		p.UpstreamCircuit = h.stats.Circuit()
	}
	if h.ffmpeg != nil {
		if info, err := h.ffmpeg.Detect(ctx); err == nil {
			p.FFmpegVersion = info.Version
		}
	}
	if h.ytdlp != nil {
		if v, err := h.ytdlpVersionCached(ctx); err == nil {
			p.YtDlpVersion = v
		}
	}
	return p
}

func statusOf(err error) string {
	if err != nil {
		return statusError
	}
	return statusOK
}

func cpuInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}
	if avg, err := load.Avg(); err == nil && avg != nil {
		info.Load1Min = avg.Load1
		info.Load5Min = avg.Load5
		info.Load15Min = avg.Load15
		if info.Cores > 0 {
			info.LoadPercentage1Min = avg.Load1 / float64(info.Cores) * 100
		}
	}
	return info
}

const mib = 1024 * 1024

func memoryInfo() MemoryInfo {
	var info MemoryInfo
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		info.TotalMemoryMB = float64(vm.Total) / mib
		info.UsedMemoryMB = float64(vm.Used) / mib
		info.AvailableMemoryMB = float64(vm.Available) / mib
	}

	proc, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pid fits in int32
	if err != nil {
		return info
	}
	if m, err := proc.MemoryInfo(); err == nil && m != nil {
		info.ProcessMB = float64(m.RSS) / mib
	}
	// ffmpeg and yt-dlp run as children; their memory matters more than ours.
	if children, err := proc.Children(); err == nil {
		info.ChildProcesses = len(children)
		for _, child := range children {
			if m, err := child.MemoryInfo(); err == nil && m != nil {
				info.ChildProcessesMB += float64(m.RSS) / mib
			}
		}
	}
	return info
}
