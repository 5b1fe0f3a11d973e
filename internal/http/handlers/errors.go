package handlers

import (
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vidmux/internal/models"
)

// StatusFor maps a pipeline error to its HTTP status. Timeouts are checked
// first because they are reported through both fetch and merge errors. Every
// other fetch failure, a reference the upstream rejects included, is a 5xx.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, models.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrFormatNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrFetch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the client-visible summary for err. Causes stay in the logs.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrTimeout):
		return "the upstream or the transcoder took too long"
	case errors.Is(err, models.ErrInvalidRequest):
		return err.Error()
	case errors.Is(err, models.ErrInvalidReference):
		return "the url is not a supported media reference"
	case errors.Is(err, models.ErrFormatNotFound):
		return err.Error()
	case errors.Is(err, models.ErrRateLimited):
		return "the upstream is rate limiting requests, try again later"
	case errors.Is(err, models.ErrResourceUnavailable):
		return "the resource is not available"
	case errors.Is(err, models.ErrFetch):
		return "failed to fetch from the upstream"
	case errors.Is(err, models.ErrMerge):
		return "failed to merge audio and video"
	default:
		return "internal error"
	}
}

// toHumaError converts a pipeline error into a huma status error.
func toHumaError(err error) error {
	if err == nil {
		return nil
	}
	msg := publicMessage(err)
	switch StatusFor(err) {
	case http.StatusBadRequest:
		return huma.Error400BadRequest(msg)
	case http.StatusNotFound:
		return huma.Error404NotFound(msg)
	case http.StatusBadGateway:
		return huma.Error502BadGateway(msg)
	case http.StatusServiceUnavailable:
		return huma.Error503ServiceUnavailable(msg)
	case http.StatusGatewayTimeout:
		return huma.Error504GatewayTimeout(msg)
	default:
		return huma.Error500InternalServerError(msg)
	}
}
