package nanoset

import (
	"regexp"
	"strings"
)

var extraWhitespace = regexp.MustCompile("[[:space:]]+")

// SanitizeText normalizes whitespace issues in transcript text: Windows
// `\r` is dropped, runs of newlines collapse to one, escaped `\n` becomes a
// real newline, tabs become spaces, spaces before colons are stripped, and
// each line is trimmed with interior whitespace runs collapsed.
func SanitizeText(text string) string {
	acc := make([]rune, 0, len(text))
	last := rune(0)
	for _, r := range text {
		if r == '\r' {
			// Silently drop Windows `\r`.
		} else if r == '\n' && last == '\n' {
			// Drop additional newlines.
		} else if r == 'n' && last == '\\' {
			// Replace escaped `\n` with `\n`.
			acc[len(acc)-1] = '\n'
		} else if r == ':' && last == ' ' {
			// Strip colons with leading spaces.
			acc[len(acc)-1] = ':'
		} else if r == '\t' {
			// Replace tabs with single spaces.
			acc = append(acc, ' ')
		} else {
			acc = append(acc, r)
		}
		if len(acc) > 0 {
			last = acc[len(acc)-1]
		}
	}
	lines := strings.Split(string(acc), "\n")
	for lineIdx := range lines {
		line := extraWhitespace.ReplaceAllString(lines[lineIdx], " ")
		lines[lineIdx] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}
