package handlers

import (
	"github.com/jmylchreest/vidmux/internal/models"
)

// Download types

// FormatsRequest is the body of a formats lookup.
type FormatsRequest struct {
	URL string `json:"url" doc:"Media page URL" example:"https://www.youtube.com/watch?v=dQw4w9WgXcQ"`
}

// FormatsResponse lists the deduplicated formats and metadata of a resource.
// Field names follow the original web front-end.
type FormatsResponse struct {
	Message string                    `json:"message"`
	URL     string                    `json:"url"`
	Formats []models.StreamDescriptor `json:"video_format"`
	Info    models.ResourceInfo       `json:"video_infos"`
}

// DownloadRequest is the body of a download.
type DownloadRequest struct {
	URL      string `json:"url" doc:"Media page URL"`
	FormatID string `json:"format_id" doc:"Format id from the formats listing"`
}

// DownloadRecordResponse is one history entry.
type DownloadRecordResponse struct {
	ID            models.ULID `json:"id"`
	CreatedAt     string      `json:"created_at"`
	ResourceRef   string      `json:"resource_ref"`
	Title         string      `json:"title,omitempty"`
	FormatID      string      `json:"format_id"`
	AudioFormatID string      `json:"audio_format_id,omitempty"`
	Container     string      `json:"container,omitempty"`
	Merged        bool        `json:"merged"`
	Bytes         int64       `json:"bytes"`
	Size          string      `json:"size" doc:"Human-readable size"`
	DurationMs    int64       `json:"duration_ms"`
	Outcome       string      `json:"outcome"`
	ErrorKind     string      `json:"error_kind,omitempty"`
}

// DownloadHistoryResponse is the history listing.
type DownloadHistoryResponse struct {
	Enabled   bool                     `json:"enabled"`
	Downloads []DownloadRecordResponse `json:"downloads"`
}

// Health types

// StatusResponse is returned by the liveness and readiness probes.
type StatusResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// HealthResponse is the detailed health report.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	CPUInfo       CPUInfo           `json:"cpu_info"`
	Memory        MemoryInfo        `json:"memory"`
	Pipeline      PipelineHealth    `json:"pipeline"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// CPUInfo holds load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds system and process memory figures in MiB.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessMB         float64 `json:"process_mb"`
	ChildProcesses    int     `json:"child_processes" doc:"Running subprocesses, e.g. ffmpeg and yt-dlp"`
	ChildProcessesMB  float64 `json:"child_processes_mb"`
}

// PipelineHealth describes the download pipeline's moving parts.
type PipelineHealth struct {
	TranscodeSlots  int    `json:"transcode_slots"`
	ActiveScratch   int64  `json:"active_scratch_jobs"`
	FFmpegVersion   string `json:"ffmpeg_version,omitempty"`
	YtDlpVersion    string `json:"ytdlp_version,omitempty"`
	UpstreamCircuit string `json:"upstream_circuit,omitempty"`
}
