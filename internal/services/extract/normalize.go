package extract

import (
	"regexp"
	"strings"
)

// asciiReplacer maps the typographic characters legal documents pick up from
// word processors and PDF extraction back to ASCII. Applied to normalized
// text only; raw text always preserves the source bytes.
var asciiReplacer = strings.NewReplacer(
	" ", " ", // non-breaking space
	" ", " ", // thin space
	" ", " ", // en space
	" ", " ", // em space
	"‘", "'", // left single quote
	"’", "'", // right single quote
	"“", `"`, // left double quote
	"”", `"`, // right double quote
	"–", "-", // en dash
	"—", "-", // em dash
	"ﬁ", "fi", // fi ligature
	"ﬂ", "fl", // fl ligature
	"ﬀ", "ff", // ff ligature
	"ﬃ", "ffi", // ffi ligature
	"ﬄ", "ffl", // ffl ligature
)

var multiSpaceRe = regexp.MustCompile(`\s+`)

// NormalizeText maps typographic characters to ASCII and collapses runs of
// whitespace to single spaces. Applied to normalized citation text and the
// cache fingerprint input.
func NormalizeText(s string) string {
	s = asciiReplacer.Replace(s)
	s = multiSpaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
