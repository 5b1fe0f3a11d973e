// Package source talks to the upstream media site: it lists the encodings a
// resource offers, describes the resource and opens individual streams.
package source

import (
	"context"
	"io"

	"github.com/jmylchreest/vidmux/internal/models"
)

// Client is the resource client used by the download pipeline.
type Client interface {
	// ListStreams returns the raw, unvalidated descriptors for ref in upstream order.
	ListStreams(ctx context.Context, ref string) ([]models.StreamDescriptor, error)

	// OpenStream opens the byte stream of d, a descriptor previously returned
	// by ListStreams for ref. The caller closes the reader.
	OpenStream(ctx context.Context, ref string, d models.StreamDescriptor) (io.ReadCloser, error)

	// Info returns descriptive metadata for ref.
	Info(ctx context.Context, ref string) (models.ResourceInfo, error)
}
