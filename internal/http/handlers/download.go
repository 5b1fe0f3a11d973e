package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/vidmux/internal/models"
	"github.com/jmylchreest/vidmux/internal/observability"
	"github.com/jmylchreest/vidmux/internal/repository"
	"github.com/jmylchreest/vidmux/internal/service"
	"github.com/jmylchreest/vidmux/pkg/format"
)

// maxLegacyBody bounds the JSON accepted by the legacy endpoints.
const maxLegacyBody = 64 << 10

// Downloader is the pipeline behind the download endpoints.
type Downloader interface {
	Formats(ctx context.Context, ref string) (*service.FormatsResult, error)
	Download(ctx context.Context, ref, formatID string) (*service.DownloadResult, error)
	History(ctx context.Context, filter repository.DownloadFilter) ([]*models.DownloadRecord, error)
	HistoryEnabled() bool
}

// DownloadHandler serves format listings, downloads and download history.
type DownloadHandler struct {
	downloads Downloader
}

// NewDownloadHandler creates a new download handler.
func NewDownloadHandler(downloads Downloader) *DownloadHandler {
	return &DownloadHandler{downloads: downloads}
}

// Register registers the download routes with the API.
func (h *DownloadHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listFormats",
		Method:      "POST",
		Path:        "/api/v1/formats",
		Summary:     "List formats",
		Description: "Returns the deduplicated formats of a media page and its metadata",
		Tags:        []string{"Downloads"},
	}, h.Formats)

	huma.Register(api, huma.Operation{
		OperationID: "download",
		Method:      "POST",
		Path:        "/api/v1/download",
		Summary:     "Download a format",
		Description: "Returns the bytes of the requested format. Video-only formats are merged with the best matching audio stream.",
		Tags:        []string{"Downloads"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Media file",
				Content:     map[string]*huma.MediaType{"application/octet-stream": {}},
			},
		},
	}, h.Download)

	huma.Register(api, huma.Operation{
		OperationID: "listDownloads",
		Method:      "GET",
		Path:        "/api/v1/downloads",
		Summary:     "List download history",
		Description: "Returns recent download attempts, newest first",
		Tags:        []string{"Downloads"},
	}, h.History)
}

// RegisterLegacy mounts the endpoints used by the original web front-end.
func (h *DownloadHandler) RegisterLegacy(router chi.Router) {
	router.Post("/api/receive_url", h.legacyFormats)
	router.Post("/api/download", h.legacyDownload)
}

// FormatsInput is the input for listing formats.
type FormatsInput struct {
	Body FormatsRequest
}

// FormatsOutput is the output for listing formats.
type FormatsOutput struct {
	Body FormatsResponse
}

// Formats lists the formats of a media page.
func (h *DownloadHandler) Formats(ctx context.Context, input *FormatsInput) (*FormatsOutput, error) {
	res, err := h.downloads.Formats(ctx, input.Body.URL)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &FormatsOutput{Body: formatsResponse(res)}, nil
}

// DownloadInput is the input for a download.
type DownloadInput struct {
	Body DownloadRequest
}

// DownloadOutput carries the file and its delivery headers.
type DownloadOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Merged             string `header:"X-Vidmux-Merged"`
	AudioFormat        string `header:"X-Vidmux-Audio-Format"`
	Body               []byte
}

// Download runs the pipeline and returns the file.
func (h *DownloadHandler) Download(ctx context.Context, input *DownloadInput) (*DownloadOutput, error) {
	res, err := h.downloads.Download(ctx, input.Body.URL, input.Body.FormatID)
	if err != nil {
		return nil, toHumaError(err)
	}
	return downloadOutput(res), nil
}

// HistoryInput is the input for listing download history.
type HistoryInput struct {
	Limit   int    `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Maximum number of records"`
	URL     string `query:"url" doc:"Only records for this resource"`
	Outcome string `query:"outcome" enum:"success,failed" doc:"Only records with this outcome"`
}

// HistoryOutput is the output for listing download history.
type HistoryOutput struct {
	Body DownloadHistoryResponse
}

// History lists recent downloads.
func (h *DownloadHandler) History(ctx context.Context, input *HistoryInput) (*HistoryOutput, error) {
	records, err := h.downloads.History(ctx, repository.DownloadFilter{
		ResourceRef: input.URL,
		Outcome:     models.DownloadOutcome(input.Outcome),
		Limit:       input.Limit,
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list downloads", err)
	}

	out := &HistoryOutput{Body: DownloadHistoryResponse{
		Enabled:   h.downloads.HistoryEnabled(),
		Downloads: make([]DownloadRecordResponse, 0, len(records)),
	}}
	for _, r := range records {
		out.Body.Downloads = append(out.Body.Downloads, DownloadRecordResponse{
			ID:            r.ID,
			CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339),
			ResourceRef:   r.ResourceRef,
			Title:         r.Title,
			FormatID:      r.FormatID,
			AudioFormatID: r.AudioFormatID,
			Container:     r.Container,
			Merged:        r.Merged,
			Bytes:         r.Bytes,
			Size:          format.Bytes(r.Bytes),
			DurationMs:    r.DurationMs,
			Outcome:       string(r.Outcome),
			ErrorKind:     r.ErrorKind,
		})
	}
	return out, nil
}

func formatsResponse(res *service.FormatsResult) FormatsResponse {
	formats := []models.StreamDescriptor(res.Formats)
	if formats == nil {
		formats = []models.StreamDescriptor{}
	}
	return FormatsResponse{
		Message: "URL successfully received",
		URL:     res.URL,
		Formats: formats,
		Info:    res.Info,
	}
}

func downloadOutput(res *service.DownloadResult) *DownloadOutput {
	contentType := res.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &DownloadOutput{
		ContentType:        contentType,
		ContentDisposition: mime.FormatMediaType("attachment", map[string]string{"filename": res.Filename}),
		Merged:             strconv.FormatBool(res.Merged),
		AudioFormat:        res.AudioFormatID,
		Body:               res.Data,
	}
}

// legacyID accepts a JSON string or number; the original front-end sends itags as numbers.
type legacyID string

func (id *legacyID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = legacyID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = legacyID(n.String())
	return nil
}

type legacyRequest struct {
	URL  string   `json:"url"`
	Itag legacyID `json:"itag"`
}

type legacyMessage struct {
	Message string `json:"message"`
}

func (h *DownloadHandler) legacyFormats(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeLegacy(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeJSON(w, http.StatusBadRequest, legacyMessage{Message: "URL not provided"})
		return
	}

	res, err := h.downloads.Formats(r.Context(), req.URL)
	if err != nil {
		writeLegacyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, formatsResponse(res))
}

func (h *DownloadHandler) legacyDownload(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeLegacy(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.URL) == "" || strings.TrimSpace(string(req.Itag)) == "" {
		writeJSON(w, http.StatusBadRequest, legacyMessage{Message: "Url or itag missing in data"})
		return
	}

	res, err := h.downloads.Download(r.Context(), req.URL, string(req.Itag))
	if err != nil {
		writeLegacyError(w, r, err)
		return
	}

	out := downloadOutput(res)
	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Disposition", out.ContentDisposition)
	w.Header().Set("X-Vidmux-Merged", out.Merged)
	if out.AudioFormat != "" {
		w.Header().Set("X-Vidmux-Audio-Format", out.AudioFormat)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Body)
}

func decodeLegacy(w http.ResponseWriter, r *http.Request) (legacyRequest, bool) {
	var req legacyRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxLegacyBody))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, legacyMessage{Message: "invalid JSON body"})
		return req, false
	}
	return req, true
}

func writeLegacyError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		observability.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "legacy request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, legacyMessage{Message: publicMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
