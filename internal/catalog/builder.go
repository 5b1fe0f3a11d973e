// Package catalog turns raw stream listings into a canonical catalog and
// answers format and audio lookups against it.
package catalog

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jmylchreest/vidmux/internal/models"
	"github.com/jmylchreest/vidmux/internal/observability"
)

// Lister enumerates the raw streams of a resource.
type Lister interface {
	ListStreams(ctx context.Context, ref string) ([]models.StreamDescriptor, error)
}

// Catalog is the ordered, deduplicated set of streams for one resource.
type Catalog []models.StreamDescriptor

// dedupKey identifies near-identical video-only variants.
type dedupKey struct {
	resolution string
	mimeType   string
}

// Build lists the streams for ref and returns the validated, deduplicated catalog.
// Listing failures are returned as fetch errors.
func Build(ctx context.Context, lister Lister, ref string) (Catalog, error) {
	raw, err := lister.ListStreams(ctx, ref)
	if err != nil {
		var fe *models.FetchError
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, models.NewFetchError(ref, "", nil, err)
	}

	logger := observability.LoggerFromContext(ctx)
	return Dedupe(Normalize(logger, raw)), nil
}

// Normalize validates raw descriptors before they enter a catalog. Entries with
// an empty id, a malformed mime type or a repeated id are dropped. Audio
// entries have their video-only fields cleared.
func Normalize(logger *slog.Logger, raw []models.StreamDescriptor) []models.StreamDescriptor {
	seen := make(map[string]struct{}, len(raw))
	out := make([]models.StreamDescriptor, 0, len(raw))

	for _, d := range raw {
		if d.ID == "" {
			logger.Debug("dropping stream without id", slog.String("mime_type", d.MimeType))
			continue
		}
		if _, _, ok := models.SplitMimeType(d.MimeType); !ok {
			logger.Debug("dropping stream with malformed mime type",
				slog.String("format_id", d.ID),
				slog.String("mime_type", d.MimeType),
			)
			continue
		}
		if _, dup := seen[d.ID]; dup {
			logger.Debug("dropping stream with duplicate id", slog.String("format_id", d.ID))
			continue
		}
		seen[d.ID] = struct{}{}

		switch d.Kind {
		case models.StreamKindVideo, models.StreamKindAudio:
		default:
			d.Kind = models.StreamKindUnknown
		}
		if d.Kind == models.StreamKindAudio {
			d.Resolution = nil
			d.FrameRate = nil
		}
		out = append(out, d)
	}

	return out
}

// Dedupe drops video-only descriptors whose (resolution, mime type) pair
// matches any previously accepted descriptor. Audio, unknown and progressive
// descriptors are always kept. Relative order is preserved and the first
// occurrence wins, so applying Dedupe to its own output is a no-op.
func Dedupe(descriptors []models.StreamDescriptor) Catalog {
	accepted := make(map[dedupKey]struct{}, len(descriptors))
	out := make(Catalog, 0, len(descriptors))

	for _, d := range descriptors {
		key := keyOf(d)
		if d.Kind == models.StreamKindVideo && !d.Progressive {
			if _, dup := accepted[key]; dup {
				continue
			}
		}
		accepted[key] = struct{}{}
		out = append(out, d)
	}

	return out
}

func keyOf(d models.StreamDescriptor) dedupKey {
	key := dedupKey{mimeType: d.MimeType}
	if d.Resolution != nil {
		key.resolution = *d.Resolution
	}
	return key
}
