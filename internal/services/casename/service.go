// Package casename recovers the case name and decision year for a citation
// occurrence from its isolated context window.
package casename

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/ternarybob/casestrainer/internal/models"
)

// Confidence threshold below which the extracted name is withheld.
const minConfidence = 0.4

// cleanedPenalty and shortPenalty scale the pattern base confidence.
const (
	cleanedPenalty = 0.85
	shortPenalty   = 0.7
	shortLength    = 6
)

// party name building blocks. A token is a capitalized word that may carry
// periods, apostrophes, ampersands and hyphens, which covers corporate
// suffixes (Inc., L.L.C., N.A., R.R.) without naming them individually.
const (
	nameToken = `[A-Z][A-Za-z'&.\-]*`
	connector = `(?:of|the|and|for|&|` + nameToken + `)`
	party     = nameToken + `(?:[ \t]+` + connector + `)*`
)

type pattern struct {
	id   string
	re   *regexp.Regexp
	base float64
}

// Ranked pattern set; the first pattern with a match wins. Within a pattern
// the match closest to the citation is taken, which is what keeps case A's
// name out of case B's extraction when both sit in one sentence.
var patterns = []pattern{
	{
		id:   "state_v",
		re:   regexp.MustCompile(`\b(?:State|People|Commonwealth)(?:[ \t]+of[ \t]+` + nameToken + `)?[ \t]+v\.[ \t]+` + party),
		base: 0.95,
	},
	{
		id:   "united_states_v",
		re:   regexp.MustCompile(`\bUnited[ \t]+States[ \t]+v\.[ \t]+` + party),
		base: 0.95,
	},
	{
		id:   "in_re",
		re:   regexp.MustCompile(`\b(?:In[ \t]+re|Matter[ \t]+of|Estate[ \t]+of)[ \t]+` + party),
		base: 0.9,
	},
	{
		id:   "generic_v",
		re:   regexp.MustCompile(`\b` + party + `[ \t]+v\.[ \t]+` + party),
		base: 0.75,
	},
}

// dateRe captures the decision year from the forward peek.
var dateRe = regexp.MustCompile(`\((1[6-9]\d{2}|20\d{2})\)`)

var signalWords = map[string]bool{
	"see": true, "also": true, "but": true, "citing": true, "quoting": true,
	"compare": true, "accord": true, "cf.": true, "e.g.": true, "e.g.,": true,
}

var actionWords = map[string]bool{
	"vacated": true, "affirmed": true, "reversed": true, "overruled": true, "held": true,
}

var articles = map[string]bool{
	"the": true, "a": true, "an": true,
}

// abbrevTable normalizes abbreviations inside extracted names. Corporate
// suffixes (Co., Inc., Corp.) are preserved as written.
var abbrevTable = map[string]string{
	"R.R.":  "Railroad",
	"Ry.":   "Railway",
	"Educ.": "Education",
	"Ass'n": "Association",
	"Nat'l": "National",
	"Dep't": "Department",
	"Univ.": "University",
	"Sav.":  "Savings",
	"Ins.":  "Insurance",
	"Bhd.":  "Brotherhood",
}

var smallWords = map[string]bool{
	"of": true, "the": true, "and": true, "for": true, "in": true,
	"on": true, "at": true, "by": true, "a": true, "an": true,
	"v.": true, "vs.": true, "re": true, "ex": true, "rel.": true,
}

// Service implements the case-name extractor.
type Service struct{}

// NewService creates a case-name extractor.
func NewService() *Service {
	return &Service{}
}

// ExtractName runs the ranked patterns against the backward context and
// captures the decision year from the forward peek. A nil CaseName is a
// valid result; Confidence is kept for diagnostics either way.
func (s *Service) ExtractName(backward, forward string) models.ExtractedName {
	result := models.ExtractedName{Date: captureDate(forward)}

	for _, p := range patterns {
		matches := p.re.FindAllString(backward, -1)
		if len(matches) == 0 {
			continue
		}
		// Nearest match to the citation wins.
		raw := matches[len(matches)-1]
		result.PatternID = p.id

		cleaned, removed, rejected := clean(raw)
		if rejected || cleaned == "" {
			return result
		}

		confidence := p.base
		if removed {
			confidence *= cleanedPenalty
		}
		if len(cleaned) < shortLength {
			confidence *= shortPenalty
		}
		result.Confidence = confidence

		if confidence < minConfidence {
			return result
		}

		name := titleCase(normalizeAbbrevs(cleaned))
		result.CaseName = &name
		return result
	}

	return result
}

// clean strips signal words, document-title contamination and leading
// articles from a raw pattern match. removed reports whether anything was
// stripped; rejected reports a leading action word.
func clean(raw string) (cleaned string, removed, rejected bool) {
	trimmed := strings.Trim(raw, " \t,;:()")
	if trimmed != raw {
		removed = true
	}

	tokens := strings.Fields(trimmed)

	for len(tokens) > 0 && signalWords[strings.ToLower(tokens[0])] {
		tokens = tokens[1:]
		removed = true
	}
	tokens, dropped := dropCapsRuns(tokens)
	if dropped {
		removed = true
	}
	for len(tokens) > 0 && articles[strings.ToLower(tokens[0])] {
		tokens = tokens[1:]
		removed = true
	}

	if len(tokens) == 0 {
		return "", removed, false
	}
	if actionWords[strings.ToLower(strings.Trim(tokens[0], ",."))] {
		return "", removed, true
	}
	return strings.Join(tokens, " "), removed, false
}

// dropCapsRuns removes runs of 4 or more consecutive all-caps tokens, the
// footprint court-document headers leave when page text bleeds into the
// context window.
func dropCapsRuns(tokens []string) ([]string, bool) {
	isCaps := func(tok string) bool {
		letters := 0
		for _, r := range tok {
			if unicode.IsLower(r) {
				return false
			}
			if unicode.IsUpper(r) {
				letters++
			}
		}
		return letters >= 2
	}

	out := tokens[:0:0]
	dropped := false
	for i := 0; i < len(tokens); {
		if !isCaps(tokens[i]) {
			out = append(out, tokens[i])
			i++
			continue
		}
		j := i
		for j < len(tokens) && isCaps(tokens[j]) {
			j++
		}
		if j-i >= 4 {
			dropped = true
		} else {
			out = append(out, tokens[i:j]...)
		}
		i = j
	}
	return out, dropped
}

func normalizeAbbrevs(name string) string {
	tokens := strings.Fields(name)
	for i, tok := range tokens {
		trailing := ""
		core := tok
		if strings.HasSuffix(core, ",") {
			trailing = ","
			core = strings.TrimSuffix(core, ",")
		}
		if full, ok := abbrevTable[core]; ok {
			tokens[i] = full + trailing
		}
	}
	return strings.Join(tokens, " ")
}

// titleCase capitalizes fully-lowercase tokens, keeps small joining words
// lower past the first position, and leaves mixed-case tokens untouched.
func titleCase(name string) string {
	tokens := strings.Fields(name)
	for i, tok := range tokens {
		lower := strings.ToLower(tok)
		if i > 0 && smallWords[lower] {
			tokens[i] = lower
			continue
		}
		if tok == lower {
			tokens[i] = capitalize(tok)
		}
	}
	return strings.Join(tokens, " ")
}

func capitalize(s string) string {
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func captureDate(forward string) *int {
	m := dateRe.FindStringSubmatch(forward)
	if m == nil {
		return nil
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &year
}
