package models

import (
	"strconv"
	"strings"
)

// StreamKind classifies the tracks carried by a stream.
type StreamKind string

const (
	StreamKindVideo   StreamKind = "video"
	StreamKindAudio   StreamKind = "audio"
	StreamKindUnknown StreamKind = "unknown"
)

// StreamDescriptor describes one available encoding of a remote resource.
type StreamDescriptor struct {
	ID          string     `json:"format_id" doc:"Opaque format identifier, unique within a catalog"`
	MimeType    string     `json:"mime_type" doc:"Container and codec family, e.g. video/mp4"`
	Resolution  *string    `json:"resolution,omitempty" doc:"Vertical resolution label, video streams only"`
	FrameRate   *int       `json:"fps,omitempty" doc:"Frames per second, video streams only"`
	Progressive bool       `json:"progressive" doc:"True if the stream carries both audio and video"`
	Kind        StreamKind `json:"type" enum:"video,audio,unknown"`
	Codecs      []string   `json:"codecs"`
	// AverageBitrate is digits followed by a unit suffix, e.g. "128kbps".
	AverageBitrate *string `json:"abr,omitempty"`

	// Transport details, only meaningful to the resource client that produced them.
	URL      string            `json:"-"`
	Headers  map[string]string `json:"-"`
	Protocol string            `json:"-"`
}

// ContainerFamily returns the mime subtype, e.g. "webm" for "video/webm".
func (d StreamDescriptor) ContainerFamily() string {
	_, sub, _ := SplitMimeType(d.MimeType)
	return sub
}

// VideoOnly reports whether the stream is video without an audio track.
func (d StreamDescriptor) VideoOnly() bool {
	return d.Kind == StreamKindVideo && !d.Progressive
}

// BitrateValue returns the leading integer of AverageBitrate with its unit
// suffix stripped. ok is false when the bitrate is missing or has no leading digits.
func (d StreamDescriptor) BitrateValue() (value int, ok bool) {
	if d.AverageBitrate == nil {
		return 0, false
	}
	return ParseLeadingInt(*d.AverageBitrate)
}

// SplitMimeType splits "major/subtype" and reports whether both halves are present.
// Any ";codecs=..." parameter is ignored.
func SplitMimeType(mime string) (major, subtype string, ok bool) {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	major, subtype, found := strings.Cut(strings.TrimSpace(mime), "/")
	if !found || major == "" || subtype == "" || strings.ContainsAny(subtype, "/ ") {
		return "", "", false
	}
	return major, subtype, true
}

// ParseLeadingInt parses the run of ASCII digits at the start of s.
func ParseLeadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// extByFamily holds the container families whose usual file extension is not
// the mime subtype. ffmpeg picks its output muxer from the extension.
var extByFamily = map[string]string{
	"3gpp":       "3gp",
	"mpeg":       "mp3",
	"quicktime":  "mov",
	"x-matroska": "mkv",
}

// FileExtension returns the file extension, without the dot, for a container family.
func FileExtension(family string) string {
	if ext, ok := extByFamily[family]; ok {
		return ext
	}
	return family
}

// Selection is the outcome of resolving a format id against a catalog.
type Selection struct {
	Descriptor  StreamDescriptor
	Progressive bool
	VideoOnly   bool
}

// MergeJob describes a single mux of a video stream with an audio stream.
// It lives for one merge and is never persisted.
type MergeJob struct {
	Video     StreamDescriptor
	Audio     StreamDescriptor
	Container string
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}
