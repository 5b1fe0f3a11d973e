package catalog

import (
	"github.com/jmylchreest/vidmux/internal/models"
)

// MatchAudio returns the highest-bitrate audio stream whose mime type is
// "audio/<containerFamily>". Ties keep the earliest entry. Entries with no
// parseable bitrate rank below every parseable one. ok is false when no
// audio stream shares the container family.
func (c Catalog) MatchAudio(containerFamily string) (best models.StreamDescriptor, ok bool) {
	want := "audio/" + containerFamily
	bestRate := -1

	for _, d := range c {
		if d.Kind != models.StreamKindAudio || d.MimeType != want {
			continue
		}
		rate, parsed := d.BitrateValue()
		if !parsed {
			rate = -1
		}
		if !ok || rate > bestRate {
			best, bestRate, ok = d, rate, true
		}
	}

	return best, ok
}
