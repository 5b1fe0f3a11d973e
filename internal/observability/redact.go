package observability

import (
	"log/slog"
	"regexp"

	"github.com/m-mizutani/masq"
)

// sensitiveFieldPattern matches attribute and struct field names whose values
// are always redacted. yt-dlp passes cookies and authorization through
// per-format http_headers, so those names are included.
var sensitiveFieldPattern = regexp.MustCompile(`(?i)^(password|secret|token|api_?key|credential|authorization|cookie|set-cookie)$`)

// sensitiveParamPattern matches query parameters carrying credentials or
// playback signatures. Only the value is replaced so URLs stay readable.
var sensitiveParamPattern = regexp.MustCompile(`(?i)([?&](?:sig|signature|lsig|n|password|token|key|api_?key|secret|credential)=)[^&#\s"]*`)

func redactParams(s string) string {
	return sensitiveParamPattern.ReplaceAllString(s, "${1}"+masq.DefaultRedactMessage)
}

// newRedactor returns a slog ReplaceAttr func that masks credentials and
// signed URL parameters in any attribute, including nested groups and structs.
func newRedactor() func(groups []string, a slog.Attr) slog.Attr {
	return masq.New(
		masq.WithCensor(func(fieldName string, _ any, _ string) bool {
			return sensitiveFieldPattern.MatchString(fieldName)
		}),
		masq.WithRegex(sensitiveParamPattern, masq.RedactString(redactParams)),
	)
}
