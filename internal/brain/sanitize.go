package brain

import (
	"regexp"
	"strings"
)

// markerPattern matches NoResponseMarker with the whitespace that trails it.
var markerPattern = regexp.MustCompile(regexp.QuoteMeta(NoResponseMarker) + `\s*`)

// SanitizeReply removes control markers that must never reach the channel.
// Returns the cleaned text and the number of markers stripped.
func SanitizeReply(text string) (string, int) {
	matches := markerPattern.FindAllStringIndex(text, -1)
	count := len(matches)
	if count == 0 {
		return text, 0
	}
	return strings.TrimSpace(markerPattern.ReplaceAllString(text, "")), count
}
