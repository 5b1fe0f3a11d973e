package models

import (
	"errors"
	"fmt"
)

// Pipeline error kinds. Handlers map these to status codes; nothing below
// the HTTP layer should reason about status codes.
var (
	// ErrInvalidRequest indicates a missing or malformed resource reference or format id.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrFormatNotFound indicates the requested format id is absent from the catalog.
	ErrFormatNotFound = errors.New("format not found")

	// ErrFetch indicates the resource client could not enumerate or deliver streams.
	ErrFetch = errors.New("fetch failed")

	// ErrResourceUnavailable indicates the resource exists but cannot be served
	// (private, removed, geo-blocked, age-gated).
	ErrResourceUnavailable = errors.New("resource unavailable")

	// ErrRateLimited indicates the upstream refused the request due to rate limiting.
	ErrRateLimited = errors.New("rate limited by upstream")

	// ErrInvalidReference indicates the resource reference is not understood by the upstream.
	ErrInvalidReference = errors.New("invalid resource reference")

	// ErrMerge indicates the transcoder failed or produced no output.
	ErrMerge = errors.New("merge failed")

	// ErrTimeout indicates a fetch or transcode exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// History record validation errors.
var (
	// ErrResourceRefRequired indicates a required resource reference is empty.
	ErrResourceRefRequired = errors.New("resource_ref is required")

	// ErrFormatIDRequired indicates a required format id is empty.
	ErrFormatIDRequired = errors.New("format_id is required")
)

// FetchError wraps a resource client failure with the reference it concerned.
type FetchError struct {
	Ref      string
	FormatID string
	// Kind is one of ErrResourceUnavailable, ErrRateLimited, ErrInvalidReference,
	// ErrTimeout, or nil for an unclassified failure.
	Kind error
	Err  error
}

// NewFetchError creates a FetchError for ref.
func NewFetchError(ref, formatID string, kind, err error) *FetchError {
	return &FetchError{Ref: ref, FormatID: formatID, Kind: kind, Err: err}
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	what := "listing streams"
	if e.FormatID != "" {
		what = fmt.Sprintf("fetching format %s", e.FormatID)
	}
	msg := fmt.Sprintf("%s for %s", what, e.Ref)
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes ErrFetch, the subcase and the underlying cause to errors.Is/As.
func (e *FetchError) Unwrap() []error {
	errs := []error{ErrFetch}
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// MergeError wraps a transcoder failure.
type MergeError struct {
	Container string
	// Detail is the tail of the transcoder's diagnostic output, if any.
	Detail string
	// Kind is ErrTimeout when the transcode deadline passed, otherwise nil.
	Kind error
	Err  error
}

// Error implements the error interface.
func (e *MergeError) Error() string {
	msg := fmt.Sprintf("merging %s", e.Container)
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Unwrap exposes ErrMerge, the subcase and the underlying cause to errors.Is/As.
func (e *MergeError) Unwrap() []error {
	errs := []error{ErrMerge}
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ErrorKind returns a short stable label for err, used in metrics and history.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrFormatNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrResourceUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalidReference):
		return "invalid_reference"
	case errors.Is(err, ErrFetch):
		return "fetch"
	case errors.Is(err, ErrMerge):
		return "merge"
	default:
		return "internal"
	}
}
