package extract

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed reporters.yaml
var reportersYAML []byte

// reporterEntry is one row of the embedded reporter table.
type reporterEntry struct {
	Canonical string   `yaml:"canonical"`
	Category  string   `yaml:"category"`
	Variants  []string `yaml:"variants"`
}

type reporterFile struct {
	Reporters []reporterEntry `yaml:"reporters"`
}

// reporterTable holds the closed reporter set: every spelling the scanner
// recognizes mapped to its canonical form, plus the alternation used inside
// the citation regex.
type reporterTable struct {
	canonical   map[string]string // collapsed variant -> canonical spelling
	category    map[string]string // canonical -> category
	alternation string
}

// loadReporterTable parses the embedded YAML table. Called once at service
// construction; a malformed table is a programming error, not runtime input.
func loadReporterTable() (*reporterTable, error) {
	var file reporterFile
	if err := yaml.Unmarshal(reportersYAML, &file); err != nil {
		return nil, fmt.Errorf("failed to parse reporter table: %w", err)
	}
	if len(file.Reporters) == 0 {
		return nil, fmt.Errorf("reporter table is empty")
	}

	table := &reporterTable{
		canonical: make(map[string]string),
		category:  make(map[string]string),
	}

	var variants []string
	for _, entry := range file.Reporters {
		if entry.Canonical == "" {
			return nil, fmt.Errorf("reporter entry without canonical spelling")
		}
		table.category[entry.Canonical] = entry.Category
		for _, v := range entry.Variants {
			table.canonical[collapseReporter(v)] = entry.Canonical
			variants = append(variants, v)
		}
	}

	// Longest variants first so "L. Ed. 2d" wins over "L. Ed.".
	sort.Slice(variants, func(i, j int) bool {
		return len(variants[i]) > len(variants[j])
	})

	patterns := make([]string, len(variants))
	for i, v := range variants {
		patterns[i] = variantPattern(v)
	}
	table.alternation = strings.Join(patterns, "|")

	return table, nil
}

// Canonical maps a matched reporter token to its canonical spelling.
// Unknown tokens come back unchanged; the regex only matches table entries,
// so that path means the table and the regex disagree.
func (t *reporterTable) Canonical(token string) string {
	if c, ok := t.canonical[collapseReporter(token)]; ok {
		return c
	}
	return strings.TrimSpace(token)
}

// Category returns the reporter's table category ("scotus", "federal",
// "regional", "state").
func (t *reporterTable) Category(canonical string) string {
	return t.category[canonical]
}

// collapseReporter strips all spacing so "S. Ct.", "S.Ct." and "S.  Ct."
// share one table key.
func collapseReporter(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' || r == '\t' || r == '\n' {
			return -1
		}
		return r
	}, s)
}

// variantPattern converts a table variant into a regex fragment tolerating
// flexible whitespace after periods and between tokens.
func variantPattern(variant string) string {
	var b strings.Builder
	tokens := strings.Fields(variant)
	for i, tok := range tokens {
		if i > 0 {
			b.WriteString(`[ \t\x{00a0}]*`)
		}
		escaped := regexp.QuoteMeta(tok)
		// Allow "F.Supp.2d" for the spaced variant by making the space
		// after an interior period optional rather than required.
		b.WriteString(strings.ReplaceAll(escaped, `\.`, `\.[ \t\x{00a0}]*`))
	}
	// The fragments above leave trailing optional whitespace matchers;
	// harmless inside the larger citation pattern.
	return strings.TrimSuffix(b.String(), `[ \t\x{00a0}]*`)
}
