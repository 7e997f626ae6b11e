package extract

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/casestrainer/internal/models"
)

const (
	// maxParentheticalGap bounds how far back the scanner looks for the
	// opening paren that marks a parenthetical citation.
	maxParentheticalGap = 40
)

// Service is the citation extractor. It scans document text in a single
// pass and yields ordered, non-overlapping citation occurrences with exact
// character offsets, plus the signal-phrase and short-form anchors the
// context isolator needs.
//
// Pathological input never fails extraction; the result carries a warning
// and empty slices instead.
type Service struct {
	logger arbor.ILogger
	table  *reporterTable

	caseRe       *regexp.Regexp
	reporterNext *regexp.Regexp
	statuteRe    *regexp.Regexp
	regulationRe *regexp.Regexp
	signalRe     *regexp.Regexp
	shortFormRe  *regexp.Regexp
}

// NewService compiles the citation patterns against the embedded reporter
// table.
func NewService(logger arbor.ILogger) (*Service, error) {
	table, err := loadReporterTable()
	if err != nil {
		return nil, err
	}

	const ws = `[ \t\x{00a0}]`

	caseRe, err := regexp.Compile(
		`\b(\d{1,4})` + ws + `+(` + table.alternation + `)` + ws + `+(\d{1,5})(?:,` + ws + `*(\d{1,5}))?`)
	if err != nil {
		return nil, fmt.Errorf("failed to compile case citation pattern: %w", err)
	}

	// Used to tell a pincite from the volume of a following parallel
	// citation: ", 74 S. Ct. 686" is a citation, ", 495" is a pincite.
	reporterNext, err := regexp.Compile(`^` + ws + `*(?:` + table.alternation + `)` + ws + `+\d`)
	if err != nil {
		return nil, fmt.Errorf("failed to compile reporter lookahead pattern: %w", err)
	}

	statuteRe := regexp.MustCompile(`\b(\d{1,3})` + ws + `+U\.` + ws + `*S\.` + ws + `*C\.` + ws + `*§{1,2}` + ws + `*([0-9][0-9a-zA-Z().\-]*)`)
	regulationRe := regexp.MustCompile(`\b(\d{1,3})` + ws + `+C\.` + ws + `*F\.` + ws + `*R\.` + ws + `*§{1,2}` + ws + `*([0-9][0-9a-zA-Z().\-]*)`)

	// Longest alternatives first; Go regexp alternation is leftmost-first.
	signalRe := regexp.MustCompile(`(?i)\b(see,? e\.g\.,?|see also|but see|see|citing|quoting|compare|accord|cf\.|e\.g\.)`)
	shortFormRe := regexp.MustCompile(`\b[Ii]d\.|\b[Ss]upra\b`)

	return &Service{
		logger:       logger,
		table:        table,
		caseRe:       caseRe,
		reporterNext: reporterNext,
		statuteRe:    statuteRe,
		regulationRe: regulationRe,
		signalRe:     signalRe,
		shortFormRe:  shortFormRe,
	}, nil
}

// Extract scans the text and returns the ordered occurrence list. Offsets
// index into the exact text passed in; StartOffset < EndOffset holds for
// every emitted occurrence and no two occurrences overlap.
func (s *Service) Extract(ctx context.Context, text string) (*models.Extraction, error) {
	if strings.TrimSpace(text) == "" {
		return &models.Extraction{
			Occurrences: []models.CitationOccurrence{},
			Warnings:    []string{"empty input text"},
		}, nil
	}

	occurrences := s.scanCases(text)
	occurrences = append(occurrences, s.scanSections(text, s.statuteRe, models.CitationKindStatute, "U.S.C.")...)
	occurrences = append(occurrences, s.scanSections(text, s.regulationRe, models.CitationKindRegulation, "C.F.R.")...)

	occurrences = suppressOverlaps(occurrences)
	markParentheticals(text, occurrences)

	extraction := &models.Extraction{
		Occurrences: occurrences,
		Anchors:     s.scanAnchors(text),
	}

	s.logger.Debug().
		Int("occurrences", len(occurrences)).
		Int("anchors", len(extraction.Anchors)).
		Msg("Citation extraction complete")

	return extraction, nil
}

// scanCases walks the text collecting case-reporter citations. The walk is
// manual so a pincite misread as the volume of a following parallel citation
// can be given back to the scanner.
func (s *Service) scanCases(text string) []models.CitationOccurrence {
	var out []models.CitationOccurrence

	pos := 0
	for pos < len(text) {
		loc := s.caseRe.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}

		start := pos + loc[0]
		end := pos + loc[1]
		volStr := text[pos+loc[2] : pos+loc[3]]
		reporterRaw := text[pos+loc[4] : pos+loc[5]]
		pageStr := text[pos+loc[6] : pos+loc[7]]
		pageEnd := pos + loc[7]

		var pin *int
		if loc[8] >= 0 {
			pinStr := text[pos+loc[8] : pos+loc[9]]
			if s.reporterNext.MatchString(text[pos+loc[9]:]) {
				// The "pincite" is the next citation's volume; shrink
				// this match and let the scanner reclaim it.
				end = pageEnd
			} else if n, err := strconv.Atoi(pinStr); err == nil {
				pin = &n
			}
		}

		volume, _ := strconv.Atoi(volStr)
		page, _ := strconv.Atoi(pageStr)
		reporter := s.table.Canonical(reporterRaw)

		out = append(out, models.CitationOccurrence{
			RawText:        text[start:end],
			NormalizedText: fmt.Sprintf("%d %s %d", volume, reporter, page),
			Reporter:       reporter,
			Volume:         volume,
			Page:           page,
			PinCite:        pin,
			StartOffset:    start,
			EndOffset:      end,
			Kind:           models.CitationKindCase,
		})

		pos = end
	}

	return out
}

// scanSections collects statute (U.S.C.) or regulation (C.F.R.) citations.
// These are carried through to the flat citation view but excluded from
// clustering and verification.
func (s *Service) scanSections(text string, re *regexp.Regexp, kind models.CitationKind, code string) []models.CitationOccurrence {
	var out []models.CitationOccurrence

	for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]
		title, _ := strconv.Atoi(text[loc[2]:loc[3]])
		section := strings.TrimRight(text[loc[4]:loc[5]], ".")

		out = append(out, models.CitationOccurrence{
			RawText:        text[start:end],
			NormalizedText: fmt.Sprintf("%d %s § %s", title, code, section),
			Volume:         title,
			Section:        section,
			StartOffset:    start,
			EndOffset:      end,
			Kind:           kind,
		})
	}

	return out
}

// scanAnchors tags signal phrases and id./supra references so the isolator
// can clamp context windows at them.
func (s *Service) scanAnchors(text string) []models.ContextAnchor {
	var anchors []models.ContextAnchor

	for _, loc := range s.signalRe.FindAllStringIndex(text, -1) {
		anchors = append(anchors, models.ContextAnchor{
			Start: loc[0],
			End:   loc[1],
			Kind:  models.AnchorSignal,
		})
	}
	for _, loc := range s.shortFormRe.FindAllStringIndex(text, -1) {
		anchors = append(anchors, models.ContextAnchor{
			Start: loc[0],
			End:   loc[1],
			Kind:  models.AnchorShortForm,
		})
	}

	sortAnchors(anchors)
	return anchors
}

func sortAnchors(anchors []models.ContextAnchor) {
	sort.SliceStable(anchors, func(i, j int) bool {
		return anchors[i].Start < anchors[j].Start
	})
}

// suppressOverlaps sorts occurrences by start offset and drops any that
// overlap an earlier claim. Ties prefer the longer span.
func suppressOverlaps(occurrences []models.CitationOccurrence) []models.CitationOccurrence {
	if len(occurrences) == 0 {
		return []models.CitationOccurrence{}
	}

	sorted := make([]models.CitationOccurrence, len(occurrences))
	copy(sorted, occurrences)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].StartOffset != sorted[j].StartOffset {
			return sorted[i].StartOffset < sorted[j].StartOffset
		}
		return sorted[i].EndOffset > sorted[j].EndOffset
	})

	out := sorted[:0]
	claimed := -1
	for i := range sorted {
		if sorted[i].StartOffset < claimed {
			continue
		}
		out = append(out, sorted[i])
		claimed = sorted[i].EndOffset
	}
	return out
}

// markParentheticals flags occurrences sitting wholly inside parentheses
// immediately after the previous citation. Parenthetical citations are
// parallel candidates but never case-name starting points.
func markParentheticals(text string, occurrences []models.CitationOccurrence) {
	for i := 1; i < len(occurrences); i++ {
		prev := &occurrences[i-1]
		occ := &occurrences[i]

		gap := text[prev.EndOffset:occ.StartOffset]
		if len(gap) > maxParentheticalGap {
			continue
		}
		open := strings.LastIndexByte(gap, '(')
		if open < 0 || strings.ContainsRune(gap[open:], ')') {
			continue
		}
		if !closesAfter(text, occ.EndOffset) {
			continue
		}
		occ.Parenthetical = true
	}
}

// closesAfter reports whether the parenthetical open before the occurrence
// is closed within a short window after it. Nested parens (a trailing date
// like "(1896)") are balanced out.
func closesAfter(text string, from int) bool {
	limit := from + 2*maxParentheticalGap
	if limit > len(text) {
		limit = len(text)
	}
	depth := 1
	for i := from; i < limit; i++ {
		switch text[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return true
			}
		}
	}
	return false
}
