package models

import "time"

// ResourceInfo holds descriptive metadata about a remote media resource.
type ResourceInfo struct {
	ID           string        `json:"id,omitempty"`
	Title        string        `json:"title"`
	ThumbnailURL string        `json:"thumbnail_url,omitempty"`
	Duration     time.Duration `json:"-"`
	DurationSecs int           `json:"duration,omitempty" doc:"Duration in seconds"`
	Uploader     string        `json:"uploader,omitempty"`
	WebpageURL   string        `json:"webpage_url,omitempty"`
}
