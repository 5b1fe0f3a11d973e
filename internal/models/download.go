package models

import (
	"time"

	"gorm.io/gorm"
)

// DownloadOutcome is the terminal state of a download attempt.
type DownloadOutcome string

const (
	DownloadOutcomeSuccess DownloadOutcome = "success"
	DownloadOutcomeFailed  DownloadOutcome = "failed"
)

// DownloadRecord is the history entry written for every download attempt.
// Only the outcome is stored; payloads and scratch paths never are.
type DownloadRecord struct {
	BaseModel

	ResourceRef   string          `gorm:"not null;size:2048" json:"resource_ref"`
	Title         string          `gorm:"size:512" json:"title,omitempty"`
	FormatID      string          `gorm:"not null;size:64" json:"format_id"`
	AudioFormatID string          `gorm:"size:64" json:"audio_format_id,omitempty"`
	Container     string          `gorm:"size:32" json:"container,omitempty"`
	Merged        bool            `gorm:"not null;default:false" json:"merged"`
	Bytes         int64           `json:"bytes"`
	DurationMs    int64           `json:"duration_ms"`
	Outcome       DownloadOutcome `gorm:"not null;size:16;index" json:"outcome"`
	ErrorKind     string          `gorm:"size:32" json:"error_kind,omitempty"`
	ErrorMessage  string          `gorm:"size:1024" json:"error_message,omitempty"`
}

// TableName returns the table name for DownloadRecord.
func (DownloadRecord) TableName() string {
	return "download_records"
}

// Validate checks the record before it is written.
func (r *DownloadRecord) Validate() error {
	if r.ResourceRef == "" {
		return ErrResourceRefRequired
	}
	if r.FormatID == "" {
		return ErrFormatIDRequired
	}
	switch r.Outcome {
	case DownloadOutcomeSuccess, DownloadOutcomeFailed:
	default:
		return ErrValidation{Field: "outcome", Message: "must be 'success' or 'failed'"}
	}
	return nil
}

// BeforeCreate assigns the ULID and validates the record.
func (r *DownloadRecord) BeforeCreate(tx *gorm.DB) error {
	if err := r.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return r.Validate()
}

// Finish fills in the outcome fields from the pipeline result.
func (r *DownloadRecord) Finish(size int64, elapsed time.Duration, err error) {
	r.Bytes = size
	r.DurationMs = elapsed.Milliseconds()
	if err == nil {
		r.Outcome = DownloadOutcomeSuccess
		return
	}
	r.Outcome = DownloadOutcomeFailed
	r.ErrorKind = ErrorKind(err)
	msg := err.Error()
	const maxMessage = 1024
	if len(msg) > maxMessage {
		msg = msg[:maxMessage]
	}
	r.ErrorMessage = msg
}
