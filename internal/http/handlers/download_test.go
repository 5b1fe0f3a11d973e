package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidmux/internal/catalog"
	"github.com/jmylchreest/vidmux/internal/models"
	"github.com/jmylchreest/vidmux/internal/repository"
	"github.com/jmylchreest/vidmux/internal/service"
)

type fakeDownloader struct {
	formats   *service.FormatsResult
	result    *service.DownloadResult
	records   []*models.DownloadRecord
	err       error
	enabled   bool
	gotRef    string
	gotFormat string
	gotFilter repository.DownloadFilter
}

func (f *fakeDownloader) Formats(_ context.Context, ref string) (*service.FormatsResult, error) {
	f.gotRef = ref
	if f.err != nil {
		return nil, f.err
	}
	return f.formats, nil
}

func (f *fakeDownloader) Download(_ context.Context, ref, formatID string) (*service.DownloadResult, error) {
	f.gotRef, f.gotFormat = ref, formatID
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeDownloader) History(_ context.Context, filter repository.DownloadFilter) ([]*models.DownloadRecord, error) {
	f.gotFilter = filter
	return f.records, f.err
}

func (f *fakeDownloader) HistoryEnabled() bool { return f.enabled }

const pageURL = "https://www.youtube.com/watch?v=abc"

func sampleFormats() *service.FormatsResult {
	return &service.FormatsResult{
		URL: pageURL,
		Formats: catalog.Catalog{
			{ID: "18", MimeType: "video/mp4", Kind: models.StreamKindVideo, Progressive: true, Resolution: models.StringPtr("360p")},
			{ID: "140", MimeType: "audio/mp4", Kind: models.StreamKindAudio, AverageBitrate: models.StringPtr("128kbps")},
		},
		Info: models.ResourceInfo{Title: "Cafe Tour", DurationSecs: 212},
	}
}

func mergedResult() *service.DownloadResult {
	return &service.DownloadResult{
		Data:          []byte("merged-bytes"),
		Filename:      "Cafe-Tour.webm",
		ContentType:   "video/webm",
		Container:     "webm",
		FormatID:      "248",
		AudioFormatID: "251",
		Merged:        true,
	}
}

func TestDownloadHandler_Formats(t *testing.T) {
	_, api := humatest.New(t)
	fake := &fakeDownloader{formats: sampleFormats()}
	NewDownloadHandler(fake).Register(api)

	resp := api.Post("/api/v1/formats", map[string]any{"url": pageURL})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "URL successfully received", body["message"])
	assert.Len(t, body["video_format"], 2)
	assert.Equal(t, "Cafe Tour", body["video_infos"].(map[string]any)["title"])
	assert.Equal(t, pageURL, fake.gotRef)
}

func TestDownloadHandler_Download(t *testing.T) {
	_, api := humatest.New(t)
	fake := &fakeDownloader{result: mergedResult()}
	NewDownloadHandler(fake).Register(api)

	resp := api.Post("/api/v1/download", map[string]any{"url": pageURL, "format_id": "248"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	assert.Equal(t, "merged-bytes", resp.Body.String())
	assert.Equal(t, "video/webm", resp.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=Cafe-Tour.webm", resp.Header().Get("Content-Disposition"))
	assert.Equal(t, "true", resp.Header().Get("X-Vidmux-Merged"))
	assert.Equal(t, "251", resp.Header().Get("X-Vidmux-Audio-Format"))
	assert.Equal(t, "248", fake.gotFormat)
}

func TestDownloadHandler_DownloadErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("%w: 399", models.ErrFormatNotFound), http.StatusNotFound},
		{"rate limited", models.NewFetchError(pageURL, "", models.ErrRateLimited, nil), http.StatusServiceUnavailable},
		{"timeout", &models.MergeError{Container: "mp4", Kind: models.ErrTimeout}, http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, api := humatest.New(t)
			NewDownloadHandler(&fakeDownloader{err: tt.err}).Register(api)

			resp := api.Post("/api/v1/download", map[string]any{"url": pageURL, "format_id": "399"})
			assert.Equal(t, tt.want, resp.Code)
		})
	}
}

func TestDownloadHandler_History(t *testing.T) {
	_, api := humatest.New(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := &fakeDownloader{
		enabled: true,
		records: []*models.DownloadRecord{{
			BaseModel:   models.BaseModel{CreatedAt: created},
			ResourceRef: pageURL,
			FormatID:    "248",
			Merged:      true,
			Bytes:       2 * 1024 * 1024,
			Outcome:     models.DownloadOutcomeSuccess,
		}},
	}
	NewDownloadHandler(fake).Register(api)

	resp := api.Get("/api/v1/downloads?limit=10&outcome=success")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var body DownloadHistoryResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.True(t, body.Enabled)
	require.Len(t, body.Downloads, 1)
	assert.Equal(t, "2026-03-01T12:00:00Z", body.Downloads[0].CreatedAt)
	assert.Equal(t, "2.0 MiB", body.Downloads[0].Size)

	assert.Equal(t, 10, fake.gotFilter.Limit)
	assert.Equal(t, models.DownloadOutcomeSuccess, fake.gotFilter.Outcome)
}

func TestDownloadHandler_HistoryRejectsUnknownOutcome(t *testing.T) {
	_, api := humatest.New(t)
	NewDownloadHandler(&fakeDownloader{}).Register(api)

	resp := api.Get("/api/v1/downloads?outcome=pending")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func legacyServer(fake *fakeDownloader) *httptest.Server {
	router := chi.NewRouter()
	NewDownloadHandler(fake).RegisterLegacy(router)
	return httptest.NewServer(router)
}

func postJSON(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body)) //nolint:noctx // test
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestLegacy_ReceiveURL(t *testing.T) {
	srv := legacyServer(&fakeDownloader{formats: sampleFormats()})
	defer srv.Close()

	t.Run("lists formats", func(t *testing.T) {
		resp, body := postJSON(t, srv.URL+"/api/receive_url", `{"url":"`+pageURL+`"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var out FormatsResponse
		require.NoError(t, json.Unmarshal(body, &out))
		assert.Equal(t, pageURL, out.URL)
		assert.Len(t, out.Formats, 2)
	})

	t.Run("missing url", func(t *testing.T) {
		resp, body := postJSON(t, srv.URL+"/api/receive_url", `{}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.JSONEq(t, `{"message":"URL not provided"}`, string(body))
	})

	t.Run("malformed body", func(t *testing.T) {
		resp, _ := postJSON(t, srv.URL+"/api/receive_url", `{"url":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestLegacy_Download(t *testing.T) {
	fake := &fakeDownloader{result: mergedResult()}
	srv := legacyServer(fake)
	defer srv.Close()

	t.Run("numeric itag", func(t *testing.T) {
		resp, body := postJSON(t, srv.URL+"/api/download", `{"url":"`+pageURL+`","itag":248}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "merged-bytes", string(body))
		assert.Equal(t, "248", fake.gotFormat)
		assert.Equal(t, "attachment; filename=Cafe-Tour.webm", resp.Header.Get("Content-Disposition"))
		assert.Equal(t, "251", resp.Header.Get("X-Vidmux-Audio-Format"))
	})

	t.Run("missing itag", func(t *testing.T) {
		resp, body := postJSON(t, srv.URL+"/api/download", `{"url":"`+pageURL+`"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.JSONEq(t, `{"message":"Url or itag missing in data"}`, string(body))
	})
}

func TestLegacy_DownloadError(t *testing.T) {
	srv := legacyServer(&fakeDownloader{err: models.NewFetchError(pageURL, "248", nil, errors.New("connection reset"))})
	defer srv.Close()

	resp, body := postJSON(t, srv.URL+"/api/download", `{"url":"`+pageURL+`","itag":"248"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.JSONEq(t, `{"message":"failed to fetch from the upstream"}`, string(body))
}
