package muxer

import (
	"strings"

	"github.com/jmylchreest/vidmux/internal/ffmpeg"
)

// AudioPolicy maps a container family to the audio strategy used when muxing:
// ffmpeg.CopyCodec keeps the matched audio bitstream, anything else names the
// encoder to transcode with.
type AudioPolicy struct {
	table    map[string]string
	fallback string
}

// NewAudioPolicy builds a policy from table. Families are matched
// case-insensitively. fallback applies to families missing from the table and
// defaults to aac.
func NewAudioPolicy(table map[string]string, fallback string) AudioPolicy {
	normalized := make(map[string]string, len(table))
	for family, strategy := range table {
		family = strings.ToLower(strings.TrimSpace(family))
		strategy = strings.TrimSpace(strategy)
		if family == "" || strategy == "" {
			continue
		}
		normalized[family] = strategy
	}
	if fallback = strings.TrimSpace(fallback); fallback == "" {
		fallback = "aac"
	}
	return AudioPolicy{table: normalized, fallback: fallback}
}

// Strategy returns the audio strategy for family.
func (p AudioPolicy) Strategy(family string) string {
	if s, ok := p.table[strings.ToLower(family)]; ok {
		return s
	}
	return p.fallback
}

// Copies reports whether family keeps its audio bitstream.
func (p AudioPolicy) Copies(family string) bool {
	return p.Strategy(family) == ffmpeg.CopyCodec
}
