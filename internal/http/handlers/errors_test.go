package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidmux/internal/models"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"invalid request", fmt.Errorf("%w: url is required", models.ErrInvalidRequest), http.StatusBadRequest},
		{"invalid reference", models.NewFetchError("x", "", models.ErrInvalidReference, nil), http.StatusBadGateway},
		{"format not found", fmt.Errorf("%w: 399", models.ErrFormatNotFound), http.StatusNotFound},
		{"rate limited", models.NewFetchError("x", "", models.ErrRateLimited, nil), http.StatusServiceUnavailable},
		{"unavailable", models.NewFetchError("x", "", models.ErrResourceUnavailable, nil), http.StatusBadGateway},
		{"unclassified fetch", models.NewFetchError("x", "137", nil, errors.New("EOF")), http.StatusBadGateway},
		{"fetch timeout", models.NewFetchError("x", "137", models.ErrTimeout, context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"merge timeout", &models.MergeError{Container: "mp4", Kind: models.ErrTimeout}, http.StatusGatewayTimeout},
		{"merge failure", &models.MergeError{Container: "mp4", Err: errors.New("exit status 1")}, http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestToHumaError_InvalidReferenceIsUpstreamFailure(t *testing.T) {
	err := toHumaError(models.NewFetchError("ftp://nowhere", "", models.ErrInvalidReference, errors.New("Unsupported URL")))

	var se huma.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.GetStatus())
	assert.Contains(t, se.Error(), "not a supported media reference")
}

func TestToHumaError_HidesCause(t *testing.T) {
	err := toHumaError(models.NewFetchError("x", "137", nil, errors.New("dial tcp 10.0.0.1:443: refused")))

	var se huma.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.GetStatus())
	assert.NotContains(t, se.Error(), "10.0.0.1")
}
