// Package isolate carves the bounded context window around each citation
// occurrence. Strict bounding is the core correctness property of name
// extraction: a window that crosses into the previous citation's territory
// lets case A's name bleed into case B's extraction.
package isolate

import (
	"strings"
	"unicode"

	"github.com/ternarybob/casestrainer/internal/models"
)

const (
	// MaxBackwardWindow is the hard cap on the backward context window.
	MaxBackwardWindow = 200

	// MaxForwardWindow bounds the forward peek used only for parenthetical
	// date detection.
	MaxForwardWindow = 80
)

// abbreviations whose trailing period must not be read as a sentence end.
var abbreviations = []string{
	"Mr.", "Mrs.", "Ms.", "Dr.", "Jr.", "Sr.", "Prof.", "Hon.",
	"v.", "vs.", "No.", "Nos.", "Co.", "Corp.", "Inc.", "Ltd.",
	"St.", "Ave.", "Dept.", "Dist.", "Div.",
	"Stat.", "Rev.", "Reg.", "Sec.", "Art.", "Ch.", "Cl.",
	"Jan.", "Feb.", "Mar.", "Apr.", "Jun.", "Jul.", "Aug.", "Sept.", "Oct.", "Nov.", "Dec.",
	"U.S.", "A.", "Id.", "id.", "cf.", "e.g.", "i.e.", "etc.", "al.",
}

// Service implements the context isolator.
type Service struct{}

// NewService creates a context isolator.
func NewService() *Service {
	return &Service{}
}

// Isolate returns one bounded context per occurrence, in occurrence order.
// The backward window starts at the latest of: the previous occurrence's
// end, the last sentence boundary before the occurrence, the end of the
// last extractor anchor (signal phrase or id./supra reference), and
// start-200. Windows of distinct occurrences are disjoint (boundary sharing
// allowed) and never cross a prior citation's span.
func (s *Service) Isolate(text string, extraction *models.Extraction) []models.IsolatedContext {
	if extraction == nil || len(extraction.Occurrences) == 0 {
		return []models.IsolatedContext{}
	}

	occurrences := extraction.Occurrences
	contexts := make([]models.IsolatedContext, len(occurrences))

	for i := range occurrences {
		occ := &occurrences[i]

		start := occ.StartOffset - MaxBackwardWindow
		if start < 0 {
			start = 0
		}
		if i > 0 && occurrences[i-1].EndOffset > start {
			start = occurrences[i-1].EndOffset
		}
		if boundary := lastSentenceBoundary(text, occ.StartOffset); boundary > start {
			start = boundary
		}
		// The case name follows a signal phrase, and anything before an
		// id./supra reference belongs to an earlier citation's discussion,
		// so the window never reads across either.
		for _, a := range extraction.Anchors {
			if a.Start >= occ.StartOffset {
				break
			}
			if a.End > start && a.End <= occ.StartOffset {
				start = a.End
			}
		}
		if start > occ.StartOffset {
			start = occ.StartOffset
		}

		forwardEnd := occ.EndOffset + MaxForwardWindow
		if forwardEnd > len(text) {
			forwardEnd = len(text)
		}
		// The forward peek never reads into the next citation.
		if i+1 < len(occurrences) && occurrences[i+1].StartOffset < forwardEnd {
			forwardEnd = occurrences[i+1].StartOffset
		}

		contexts[i] = models.IsolatedContext{
			OccurrenceIndex: i,
			Start:           start,
			End:             occ.StartOffset,
			Text:            text[start:occ.StartOffset],
			Forward:         text[occ.EndOffset:forwardEnd],
		}
	}

	return contexts
}

// lastSentenceBoundary returns the offset just after the last sentence end
// before pos, or 0 when the occurrence opens the text. Sentence ends are
// '.', '?' or '!' followed by whitespace and a capital, or a blank line;
// abbreviation periods are suppressed.
func lastSentenceBoundary(text string, pos int) int {
	searchFrom := pos - MaxBackwardWindow - 1
	if searchFrom < 0 {
		searchFrom = 0
	}

	boundary := 0
	for i := searchFrom; i < pos-1; i++ {
		c := text[i]

		// Paragraph break.
		if c == '\n' && i+1 < pos && text[i+1] == '\n' {
			boundary = i + 2
			continue
		}

		if c != '.' && c != '?' && c != '!' {
			continue
		}
		if !isSpaceAt(text, i+1) {
			continue
		}
		next := nextNonSpace(text, i+1, pos)
		if next < 0 || !unicode.IsUpper(rune(text[next])) {
			continue
		}
		if c == '.' && endsWithAbbreviation(text, i) {
			continue
		}
		boundary = i + 1
	}

	return boundary
}

func isSpaceAt(text string, i int) bool {
	return i < len(text) && (text[i] == ' ' || text[i] == '\t' || text[i] == '\n' || text[i] == '\r')
}

func nextNonSpace(text string, from, limit int) int {
	for i := from; i < limit && i < len(text); i++ {
		if !isSpaceAt(text, i) {
			return i
		}
	}
	return -1
}

// endsWithAbbreviation reports whether the period at dot closes a known
// abbreviation rather than a sentence.
func endsWithAbbreviation(text string, dot int) bool {
	for _, abbr := range abbreviations {
		start := dot + 1 - len(abbr)
		if start < 0 {
			continue
		}
		if !strings.EqualFold(text[start:dot+1], abbr) {
			continue
		}
		// The abbreviation must start at a token boundary.
		if start == 0 || text[start-1] == ' ' || text[start-1] == '\n' || text[start-1] == '(' {
			return true
		}
	}
	// Single capital initials ("John Q. Public").
	if dot >= 1 && unicode.IsUpper(rune(text[dot-1])) {
		if dot == 1 || text[dot-2] == ' ' || text[dot-2] == '\n' {
			return true
		}
	}
	return false
}
