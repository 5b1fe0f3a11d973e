package httpclient

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = 5 * time.Millisecond
	return cfg
}

func TestNew(t *testing.T) {
	t.Run("with default config", func(t *testing.T) {
		client := New(DefaultConfig())
		assert.NotNil(t, client.client)
		assert.NotNil(t, client.breaker)
		assert.NotNil(t, client.logger)
	})

	t.Run("fills invalid backoff settings", func(t *testing.T) {
		client := New(Config{RetryAttempts: 5})
		assert.Equal(t, 5, client.config.RetryAttempts)
		assert.InDelta(t, DefaultBackoffMultiplier, client.config.BackoffMultiplier, 0)
		assert.Equal(t, DefaultRetryMaxDelay, client.config.RetryMaxDelay)
	})

	t.Run("with custom base client", func(t *testing.T) {
		baseClient := &http.Client{Timeout: 5 * time.Second}
		cfg := DefaultConfig()
		cfg.BaseClient = baseClient
		assert.Equal(t, baseClient, New(cfg).client)
	})
}

func TestClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "vidmux-test/1.0", r.Header.Get(HeaderUserAgent))
		assert.Equal(t, acceptEncoding, r.Header.Get(HeaderAcceptEncoding))
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.UserAgent = "vidmux-test/1.0"
	resp, err := New(cfg).Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
}

func TestClient_Retries(t *testing.T) {
	t.Run("retries on 503 then succeeds", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if attempts.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("success"))
		}))
		defer server.Close()

		resp, err := New(fastConfig()).Get(context.Background(), server.URL)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, int32(3), attempts.Load())
	})

	t.Run("returns error after max retries", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		cfg := fastConfig()
		cfg.RetryAttempts = 2
		_, err := New(cfg).Get(context.Background(), server.URL)

		require.ErrorIs(t, err, ErrMaxRetries)
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
		assert.Equal(t, int32(3), attempts.Load())
	})

	t.Run("honours Retry-After", func(t *testing.T) {
		var attempts atomic.Int32
		var first, second time.Time
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if attempts.Add(1) == 1 {
				first = time.Now()
				w.Header().Set(HeaderRetryAfter, "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			second = time.Now()
			_, _ = w.Write([]byte("ok"))
		}))
		defer server.Close()

		resp, err := New(fastConfig()).Get(context.Background(), server.URL)
		require.NoError(t, err)
		resp.Body.Close()
		assert.GreaterOrEqual(t, second.Sub(first), 900*time.Millisecond)
	})

	t.Run("does not retry on 404", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		resp, err := New(fastConfig()).Get(context.Background(), server.URL)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, int32(1), attempts.Load())
	})

	t.Run("does not retry requests with a body", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		req, err := http.NewRequest(http.MethodPost, server.URL, strings.NewReader("x"))
		require.NoError(t, err)
		_, err = New(fastConfig()).Do(req)
		assert.ErrorIs(t, err, ErrMaxRetries)
		assert.Equal(t, int32(1), attempts.Load())
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		client := New(fastConfig())
		_, err := client.Get(ctx, server.URL)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, CircuitClosed, client.CircuitState())
	})
}

func TestClient_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "https://example.com", r.Header.Get("Referer"))
			_, _ = w.Write([]byte("stream"))
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer server.Close()

	client := New(fastConfig())

	body, err := client.Fetch(context.Background(), server.URL+"/ok", map[string]string{"Referer": "https://example.com"})
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, "stream", string(data))

	_, err = client.Fetch(context.Background(), server.URL+"/denied", nil)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	assert.Contains(t, statusErr.Error(), "403")
}

func TestClient_Decompression(t *testing.T) {
	compress := map[string]func(io.Writer) io.WriteCloser{
		EncodingGzip:   func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) },
		EncodingBrotli: func(w io.Writer) io.WriteCloser { return brotli.NewWriter(w) },
	}

	for encoding, newWriter := range compress {
		t.Run(encoding, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set(HeaderContentEncoding, encoding)
				cw := newWriter(w)
				_, _ = cw.Write([]byte("hello compressed world"))
				_ = cw.Close()
			}))
			defer server.Close()

			resp, err := New(DefaultConfig()).Get(context.Background(), server.URL)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, "hello compressed world", string(body))
			assert.Empty(t, resp.Header.Get(HeaderContentEncoding))
		})
	}
}

func TestClient_DecompressionDisabled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(HeaderAcceptEncoding))
		w.Header().Set(HeaderContentEncoding, "gzip")
		_, _ = w.Write([]byte("not really gzip"))
	}))
	defer server.Close()

	cfg := fastConfig()
	cfg.EnableDecompression = false
	body, err := New(cfg).Fetch(context.Background(), server.URL, nil)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "not really gzip", string(data))
}

func TestClient_DecompressionDisabledKeepsGzipBytes(t *testing.T) {
	var compressed bytes.Buffer
	gw := gzip.NewWriter(&compressed)
	_, _ = gw.Write([]byte("segment bytes"))
	require.NoError(t, gw.Close())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(HeaderAcceptEncoding))
		w.Header().Set(HeaderContentEncoding, EncodingGzip)
		_, _ = w.Write(compressed.Bytes())
	}))
	defer server.Close()

	cfg := fastConfig()
	cfg.EnableDecompression = false
	client := New(cfg)

	transport, ok := client.client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.True(t, transport.DisableCompression)

	body, err := client.Fetch(context.Background(), server.URL, nil)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, compressed.Bytes(), data)
}

func TestClient_MaxResponseSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("a"), 2048))
	}))
	defer server.Close()

	cfg := fastConfig()
	cfg.MaxResponseSize = 1024
	body, err := New(cfg).Fetch(context.Background(), server.URL, nil)
	require.NoError(t, err)
	defer body.Close()

	_, err = io.ReadAll(body)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}

func TestLimitedReader(t *testing.T) {
	r := newLimitedReader(io.NopCloser(strings.NewReader("12345")), 5)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(data))

	r = newLimitedReader(io.NopCloser(strings.NewReader("123456")), 5)
	_, err = io.ReadAll(r)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
	_, err = r.Read(make([]byte, 1))
	assert.True(t, errors.Is(err, ErrResponseTooLarge))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

	assert.Equal(t, 120*time.Second, parseRetryAfter("120", now))
	assert.Equal(t, 30*time.Second, parseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter("-5", now))
	assert.Zero(t, parseRetryAfter("soon", now))
	assert.Zero(t, parseRetryAfter("", now))
}

func TestIsRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 502, 503, 504} {
		assert.True(t, isRetryableStatus(code), code)
	}
	for _, code := range []int{200, 400, 403, 404, 500} {
		assert.False(t, isRetryableStatus(code), code)
	}
}

func TestClient_CircuitBreakerIntegration(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := fastConfig()
	cfg.RetryAttempts = 0
	cfg.CircuitThreshold = 2
	cfg.CircuitTimeout = time.Hour
	client := New(cfg)

	for range 2 {
		_, err := client.Get(context.Background(), server.URL)
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, client.CircuitState())

	_, err := client.Get(context.Background(), server.URL)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), attempts.Load())

	client.ResetCircuit()
	assert.Equal(t, CircuitClosed, client.CircuitState())
}
