package kernel

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ansiEscape matches terminal control sequences embedded in tracebacks.
var ansiEscape = regexp.MustCompile(`\x1b(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

// StripANSI removes terminal color control sequences from output text.
func StripANSI(text string) string {
	return ansiEscape.ReplaceAllString(text, "")
}

// truncateBytes caps text with an explicit marker. The cut backs off to a
// rune boundary so a multibyte character is never split.
func truncateBytes(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + "\n...[output truncated]"
}

// buildModelText assembles the text sent back to the model for a call.
func buildModelText(stdout string, stderr string, imageCount int) string {
	var parts []string
	if stdout != "" {
		parts = append(parts, stdout)
	}
	if stderr != "" {
		parts = append(parts, stderr)
	}
	if imageCount > 0 {
		noun := "image"
		if imageCount > 1 {
			noun = "images"
		}
		parts = append(parts, fmt.Sprintf("[%d %s saved to the working directory]", imageCount, noun))
	}
	if len(parts) == 0 {
		return "Code executed successfully with no output."
	}
	return strings.Join(parts, "\n")
}
