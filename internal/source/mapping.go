package source

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jmylchreest/vidmux/internal/models"
)

// ytdlpInfo is the subset of `yt-dlp -J` output vidmux reads.
type ytdlpInfo struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Thumbnail  string        `json:"thumbnail"`
	Duration   float64       `json:"duration"`
	Uploader   string        `json:"uploader"`
	WebpageURL string        `json:"webpage_url"`
	Formats    []ytdlpFormat `json:"formats"`
}

type ytdlpFormat struct {
	FormatID    string            `json:"format_id"`
	URL         string            `json:"url"`
	Ext         string            `json:"ext"`
	Protocol    string            `json:"protocol"`
	VCodec      string            `json:"vcodec"`
	ACodec      string            `json:"acodec"`
	Height      *int              `json:"height"`
	FPS         *float64          `json:"fps"`
	ABR         *float64          `json:"abr"`
	HTTPHeaders map[string]string `json:"http_headers"`
}

// subtypeByExt maps yt-dlp file extensions to mime subtypes where they differ.
var subtypeByExt = map[string]string{
	"m4a": "mp4",
	"3gp": "3gpp",
	"mp3": "mpeg",
	"oga": "ogg",
}

// directProtocols are the protocols a single GET can download. Manifest and
// segmented protocols (m3u8, dash, mhtml storyboards) are excluded.
var directProtocols = map[string]bool{
	"":      true,
	"http":  true,
	"https": true,
}

func hasCodec(codec string) bool {
	return codec != "" && codec != "none"
}

// toDescriptor maps one yt-dlp format. ok is false for formats that cannot be
// fetched with a single request.
func toDescriptor(f ytdlpFormat) (d models.StreamDescriptor, ok bool) {
	if f.URL == "" || !directProtocols[strings.ToLower(f.Protocol)] {
		return d, false
	}

	ext := strings.ToLower(f.Ext)
	subtype, mapped := subtypeByExt[ext]
	if !mapped {
		subtype = ext
	}

	hasVideo, hasAudio := hasCodec(f.VCodec), hasCodec(f.ACodec)

	d = models.StreamDescriptor{
		ID:          f.FormatID,
		Progressive: hasVideo && hasAudio,
		URL:         f.URL,
		Headers:     f.HTTPHeaders,
		Protocol:    f.Protocol,
		Codecs:      []string{},
	}

	switch {
	case hasVideo:
		d.Kind = models.StreamKindVideo
		d.MimeType = "video/" + subtype
		if f.Height != nil && *f.Height > 0 {
			d.Resolution = models.StringPtr(fmt.Sprintf("%dp", *f.Height))
		}
		if f.FPS != nil && *f.FPS > 0 {
			d.FrameRate = models.IntPtr(int(math.Round(*f.FPS)))
		}
	case hasAudio:
		d.Kind = models.StreamKindAudio
		d.MimeType = "audio/" + subtype
	default:
		d.Kind = models.StreamKindUnknown
		d.MimeType = "video/" + subtype
	}

	if hasVideo {
		d.Codecs = append(d.Codecs, f.VCodec)
	}
	if hasAudio {
		d.Codecs = append(d.Codecs, f.ACodec)
		if f.ABR != nil && *f.ABR > 0 {
			d.AverageBitrate = models.StringPtr(fmt.Sprintf("%dkbps", int(math.Round(*f.ABR))))
		}
	}

	return d, true
}

func (info *ytdlpInfo) descriptors() []models.StreamDescriptor {
	out := make([]models.StreamDescriptor, 0, len(info.Formats))
	for _, f := range info.Formats {
		if d, ok := toDescriptor(f); ok {
			out = append(out, d)
		}
	}
	return out
}

func (info *ytdlpInfo) resourceInfo() models.ResourceInfo {
	return models.ResourceInfo{
		ID:           info.ID,
		Title:        info.Title,
		ThumbnailURL: info.Thumbnail,
		Duration:     time.Duration(info.Duration * float64(time.Second)),
		DurationSecs: int(math.Round(info.Duration)),
		Uploader:     info.Uploader,
		WebpageURL:   info.WebpageURL,
	}
}
