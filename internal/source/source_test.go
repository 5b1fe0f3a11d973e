package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidmux/internal/config"
	"github.com/jmylchreest/vidmux/internal/models"
)

const sampleListing = `{
  "id": "abc123",
  "title": "Big Buck Bunny",
  "thumbnail": "https://i.example.com/abc123.jpg",
  "duration": 596.4,
  "uploader": "Blender",
  "webpage_url": "https://www.youtube.com/watch?v=abc123",
  "formats": [
    {"format_id": "sb0", "ext": "mhtml", "protocol": "mhtml", "url": "https://x/sb", "vcodec": "none", "acodec": "none"},
    {"format_id": "140", "ext": "m4a", "protocol": "https", "url": "https://x/140", "vcodec": "none", "acodec": "mp4a.40.2", "abr": 129.5},
    {"format_id": "251", "ext": "webm", "protocol": "https", "url": "https://x/251", "vcodec": "none", "acodec": "opus", "abr": 160},
    {"format_id": "18", "ext": "mp4", "protocol": "https", "url": "https://x/18", "vcodec": "avc1.42001E", "acodec": "mp4a.40.2", "height": 360, "fps": 29.97, "abr": 96},
    {"format_id": "137", "ext": "mp4", "protocol": "https", "url": "https://x/137", "vcodec": "avc1.640028", "acodec": "none", "height": 1080, "fps": 30,
     "http_headers": {"Referer": "https://www.youtube.com/"}},
    {"format_id": "hls-1080", "ext": "mp4", "protocol": "m3u8_native", "url": "https://x/hls", "vcodec": "avc1", "acodec": "none", "height": 1080},
    {"format_id": "17", "ext": "3gp", "protocol": "https", "url": "https://x/17", "vcodec": "mp4v.20.3", "acodec": "mp4a.40.2", "height": 144}
  ]
}`

type fakeRun struct {
	calls  atomic.Int32
	stdout string
	stderr string
	errs   []error // per call; the last entry repeats
	args   []string
}

func (f *fakeRun) run(ctx context.Context, _ string, args ...string) ([]byte, []byte, error) {
	n := int(f.calls.Add(1)) - 1
	f.args = args
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	var err error
	if len(f.errs) > 0 {
		err = f.errs[min(n, len(f.errs)-1)]
	}
	if err != nil {
		return nil, []byte(f.stderr), err
	}
	return []byte(f.stdout), nil, nil
}

func testClient(cfg config.SourceConfig, fr *fakeRun) *YtDlp {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	y := newYtDlp("yt-dlp", cfg, nil, logger)
	y.run = fr.run
	return y
}

func descriptorByID(t *testing.T, ds []models.StreamDescriptor, id string) models.StreamDescriptor {
	t.Helper()
	for _, d := range ds {
		if d.ID == id {
			return d
		}
	}
	t.Fatalf("descriptor %s not found", id)
	return models.StreamDescriptor{}
}

func TestYtDlp_ListStreams_Mapping(t *testing.T) {
	fr := &fakeRun{stdout: sampleListing}
	y := testClient(config.SourceConfig{}, fr)

	ds, err := y.ListStreams(context.Background(), "https://www.youtube.com/watch?v=abc123")
	require.NoError(t, err)

	assert.Equal(t, []string{"-J", "--no-playlist", "--no-warnings", "--", "https://www.youtube.com/watch?v=abc123"}, fr.args)

	ids := make([]string, 0, len(ds))
	for _, d := range ds {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"140", "251", "18", "137", "17"}, ids, "manifest and storyboard formats are dropped")

	m4a := descriptorByID(t, ds, "140")
	assert.Equal(t, models.StreamKindAudio, m4a.Kind)
	assert.Equal(t, "audio/mp4", m4a.MimeType)
	assert.Equal(t, "130kbps", *m4a.AverageBitrate)
	assert.Nil(t, m4a.Resolution)
	assert.Nil(t, m4a.FrameRate)
	assert.Equal(t, []string{"mp4a.40.2"}, m4a.Codecs)

	prog := descriptorByID(t, ds, "18")
	assert.True(t, prog.Progressive)
	assert.Equal(t, models.StreamKindVideo, prog.Kind)
	assert.Equal(t, "360p", *prog.Resolution)
	assert.Equal(t, 30, *prog.FrameRate)
	assert.Equal(t, []string{"avc1.42001E", "mp4a.40.2"}, prog.Codecs)

	vid := descriptorByID(t, ds, "137")
	assert.True(t, vid.VideoOnly())
	assert.Equal(t, "video/mp4", vid.MimeType)
	assert.Nil(t, vid.AverageBitrate)
	assert.Equal(t, "https://x/137", vid.URL)
	assert.Equal(t, "https://www.youtube.com/", vid.Headers["Referer"])

	assert.Equal(t, "video/3gpp", descriptorByID(t, ds, "17").MimeType)
}

func TestYtDlp_Info(t *testing.T) {
	y := testClient(config.SourceConfig{}, &fakeRun{stdout: sampleListing})

	info, err := y.Info(context.Background(), "ref")
	require.NoError(t, err)
	assert.Equal(t, "Big Buck Bunny", info.Title)
	assert.Equal(t, "https://i.example.com/abc123.jpg", info.ThumbnailURL)
	assert.Equal(t, 596, info.DurationSecs)
	assert.Equal(t, 596400*time.Millisecond, info.Duration)
	assert.Equal(t, "Blender", info.Uploader)
}

func TestYtDlp_CachesListing(t *testing.T) {
	fr := &fakeRun{stdout: sampleListing}
	y := testClient(config.SourceConfig{CacheTTL: time.Minute}, fr)

	_, err := y.ListStreams(context.Background(), "ref")
	require.NoError(t, err)
	_, err = y.Info(context.Background(), "ref")
	require.NoError(t, err)
	assert.Equal(t, int32(1), fr.calls.Load())

	_, err = y.ListStreams(context.Background(), "other")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fr.calls.Load())
}

func TestListingCache_Expiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := newListingCache(time.Minute)
	c.now = func() time.Time { return now }

	c.put("a", &ytdlpInfo{ID: "a"})
	info, ok := c.get("a")
	require.True(t, ok)
	assert.Equal(t, "a", info.ID)

	now = now.Add(time.Minute)
	_, ok = c.get("a")
	assert.False(t, ok)
	assert.Zero(t, c.len())

	disabled := newListingCache(0)
	disabled.put("a", &ytdlpInfo{})
	_, ok = disabled.get("a")
	assert.False(t, ok)
}

func TestYtDlp_RetriesUnclassifiedFailures(t *testing.T) {
	fr := &fakeRun{
		stdout: sampleListing,
		stderr: "ERROR: unable to download webpage: connection reset",
		errs:   []error{errors.New("exit status 1"), nil},
	}
	y := testClient(config.SourceConfig{RetryAttempts: 2, RetryDelay: time.Millisecond}, fr)

	_, err := y.ListStreams(context.Background(), "ref")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fr.calls.Load())
}

func TestYtDlp_ClassifiedFailures(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		kind   error
	}{
		{"private", "ERROR: [youtube] abc: Private video. Sign in if you've been granted access", models.ErrResourceUnavailable},
		{"geo", "ERROR: [youtube] abc: The uploader has not made this video available in your country", models.ErrResourceUnavailable},
		{"rate limited", "ERROR: [youtube] abc: HTTP Error 429: Too Many Requests", models.ErrRateLimited},
		{"unsupported", "ERROR: Unsupported URL: https://example.com/", models.ErrInvalidReference},
		{"bad url", "ERROR: 'notaurl' is not a valid URL", models.ErrInvalidReference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := &fakeRun{stderr: "WARNING: something\n" + tt.stderr + "\n", errs: []error{errors.New("exit status 1")}}
			y := testClient(config.SourceConfig{RetryAttempts: 3, RetryDelay: time.Millisecond}, fr)

			_, err := y.ListStreams(context.Background(), "ref")
			require.ErrorIs(t, err, models.ErrFetch)
			assert.ErrorIs(t, err, tt.kind)
			assert.Contains(t, err.Error(), "ERROR:")
			assert.Equal(t, int32(1), fr.calls.Load(), "classified failures are not retried")
		})
	}
}

func TestYtDlp_Timeout(t *testing.T) {
	fr := &fakeRun{}
	y := testClient(config.SourceConfig{FetchTimeout: time.Millisecond}, fr)
	y.run = func(ctx context.Context, _ string, _ ...string) ([]byte, []byte, error) {
		<-ctx.Done()
		return nil, nil, errors.New("signal: killed")
	}

	_, err := y.ListStreams(context.Background(), "ref")
	assert.ErrorIs(t, err, models.ErrTimeout)
	assert.ErrorIs(t, err, models.ErrFetch)
}

func TestYtDlp_BadJSON(t *testing.T) {
	y := testClient(config.SourceConfig{}, &fakeRun{stdout: "not json"})
	_, err := y.ListStreams(context.Background(), "ref")
	assert.ErrorIs(t, err, models.ErrFetch)
	assert.ErrorContains(t, err, "parsing yt-dlp output")
}

func TestYtDlp_OpenStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "https://www.youtube.com/", r.Header.Get("Referer"))
			_, _ = w.Write([]byte("video-bytes"))
		case "/expired":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer server.Close()

	y := testClient(config.SourceConfig{RetryDelay: time.Millisecond}, &fakeRun{})

	body, err := y.OpenStream(context.Background(), "ref", models.StreamDescriptor{
		ID: "137", URL: server.URL + "/ok", Headers: map[string]string{"Referer": "https://www.youtube.com/"},
	})
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, "video-bytes", string(data))

	_, err = y.OpenStream(context.Background(), "ref", models.StreamDescriptor{ID: "137", URL: server.URL + "/expired"})
	assert.ErrorIs(t, err, models.ErrResourceUnavailable)
	var fe *models.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "137", fe.FormatID)

	_, err = y.OpenStream(context.Background(), "ref", models.StreamDescriptor{ID: "140", URL: server.URL + "/busy"})
	assert.ErrorIs(t, err, models.ErrRateLimited)

	_, err = y.OpenStream(context.Background(), "ref", models.StreamDescriptor{ID: "140"})
	assert.ErrorIs(t, err, models.ErrFetch)
}

func TestToDescriptor_Unknown(t *testing.T) {
	d, ok := toDescriptor(ytdlpFormat{FormatID: "x", URL: "https://x", Ext: "mp4", Protocol: "https"})
	require.True(t, ok)
	assert.Equal(t, models.StreamKindUnknown, d.Kind)
	assert.False(t, d.Progressive)
	assert.Empty(t, d.Codecs)

	_, ok = toDescriptor(ytdlpFormat{FormatID: "y", Ext: "mp4"})
	assert.False(t, ok, "no URL")
}

func TestTail(t *testing.T) {
	assert.Equal(t, "ERROR: boom", tail([]byte("[info] x\nERROR: boom\n[debug] y\n")))
	assert.Equal(t, "plain failure", tail([]byte("  plain failure \n")))
}
