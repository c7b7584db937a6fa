package worker

import (
	"regexp"
	"strings"
)

var unsafeFilenameChars = regexp.MustCompile(`[\\/*?:"<>|]`)

// Filename builds the artifact name for an item: the sanitized case number
// joined to the ID, or the ID alone when there is no usable case number.
func Filename(caseNumber, id string) string {
	clean := unsafeFilenameChars.ReplaceAllString(caseNumber, "_")
	clean = strings.ReplaceAll(clean, " ", "_")
	clean = strings.Trim(clean, "_")
	if clean == "" {
		return id + ".html"
	}
	return clean + "_" + id + ".html"
}
