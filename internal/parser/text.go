package parser

import (
	"regexp"
	"strings"
)

var (
	urlPattern   = regexp.MustCompile(`https?://\S+|www\.\S+`)
	tagPattern   = regexp.MustCompile(`<[^>]+>`)
	emojiPattern = regexp.MustCompile(`[\x{1F300}-\x{1FAFF}\x{1F1E0}-\x{1F1FF}\x{2600}-\x{27BF}\x{FE0F}\x{200D}]`)
)

// CleanText strips URLs, markup and emoji from review text and collapses
// whitespace.
func CleanText(s string) string {
	s = urlPattern.ReplaceAllString(s, " ")
	s = tagPattern.ReplaceAllString(s, " ")
	s = emojiPattern.ReplaceAllString(s, "")
	return Squash(s)
}

// Squash collapses runs of whitespace into single spaces.
func Squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
