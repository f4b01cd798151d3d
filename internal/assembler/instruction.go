package assembler

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var mentionRe = regexp.MustCompile(`(?is)@ai\b\s*(.*)`)

// ExtractInstruction returns the free text following the @ai mention,
// case-insensitive, spanning the rest of the comment. An empty result means
// the mention carried no specific instruction.
func ExtractInstruction(commentBody string) string {
	m := mentionRe.FindStringSubmatch(commentBody)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// TruncateBody cuts a long body at the character budget, marking the cut so
// the model knows text is missing. The cut backs up to a rune boundary so a
// multibyte character is never severed.
func TruncateBody(body string, maxChars int) string {
	if len(body) <= maxChars {
		return body
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}
