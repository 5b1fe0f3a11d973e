package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

const acceptEncoding = EncodingGzip + ", " + EncodingDeflate + ", " + EncodingBrotli

// decoders maps a Content-Encoding token to a reader constructor.
var decoders = map[string]func(io.Reader) (io.Reader, error){
	EncodingGzip:    func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) },
	EncodingDeflate: func(r io.Reader) (io.Reader, error) { return flate.NewReader(r), nil },
	EncodingBrotli:  func(r io.Reader) (io.Reader, error) { return brotli.NewReader(r), nil },
}

// decode wraps the body in a decoder for its Content-Encoding. Unknown or
// broken encodings leave the body untouched.
func (c *Client) decode(resp *http.Response) io.ReadCloser {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get(HeaderContentEncoding)))
	if encoding == "" || encoding == EncodingIdentity {
		return resp.Body
	}

	newReader, ok := decoders[encoding]
	if !ok {
		c.logger.Debug("unknown content encoding, returning raw body", slog.String("encoding", encoding))
		return resp.Body
	}
	r, err := newReader(resp.Body)
	if err != nil {
		c.logger.Warn("failed to create decoder, returning raw body",
			slog.String("encoding", encoding),
			slog.String("error", err.Error()),
		)
		return resp.Body
	}

	resp.Header.Del(HeaderContentEncoding)
	resp.ContentLength = -1
	return &decodedBody{Reader: r, body: resp.Body}
}

// decodedBody closes both the decoder and the original body.
type decodedBody struct {
	io.Reader
	body io.Closer
}

func (d *decodedBody) Close() error {
	if c, ok := d.Reader.(io.Closer); ok {
		_ = c.Close()
	}
	return d.body.Close()
}

// limitedReader fails with ErrResponseTooLarge once more than its limit has been read.
type limitedReader struct {
	io.ReadCloser
	remaining int64
	exceeded  bool
}

func newLimitedReader(r io.ReadCloser, limit int64) *limitedReader {
	return &limitedReader{ReadCloser: r, remaining: limit}
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.exceeded {
		return 0, ErrResponseTooLarge
	}
	n, err := l.ReadCloser.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return n, ErrResponseTooLarge
	}
	return n, err
}
