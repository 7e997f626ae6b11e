// Package cluster groups citation occurrences that refer to the same case.
// Clustering is a single streaming pass over the occurrence list: each
// occurrence either joins an existing cluster or opens a new one, so the
// result depends only on the list, never on map iteration order.
package cluster

import (
	"fmt"
	"strings"

	"github.com/ternarybob/casestrainer/internal/models"
)

// MaxAdjacencyGap is the widest character gap the adjacency rule accepts
// between two occurrences of one citation string.
const MaxAdjacencyGap = 200

// Service implements the cluster builder.
type Service struct{}

// NewService creates a cluster builder.
func NewService() *Service {
	return &Service{}
}

// building is a cluster under construction plus the bookkeeping the joining
// rules need.
type building struct {
	members []int // indices into occurrences
	lastEnd int
	name    string // normalized extracted name, empty when none yet
	date    *int
}

// Build groups case-kind occurrences into clusters. An occurrence joins a
// cluster by adjacency (gap of at most 200 chars holding only separators),
// by parenthetical attachment to the preceding citation, or by sharing a
// normalized extracted name with a cluster while citing a different
// reporter and page. A date conflict (both present, different) vetoes any
// join. When several clusters are eligible the one whose last occurrence
// is nearest wins.
//
// Statute and regulation occurrences never cluster; the second return value
// counts them.
func (s *Service) Build(text string, occurrences []models.CitationOccurrence, names []models.ExtractedName) ([]*models.Cluster, int) {
	var clusters []*building
	byName := make(map[string][]*building)
	excluded := 0
	var prev *building

	for i := range occurrences {
		occ := &occurrences[i]
		if !occ.Verifiable() {
			excluded++
			continue
		}

		var name string
		var date *int
		if i < len(names) {
			if names[i].CaseName != nil {
				name = normalizeName(*names[i].CaseName)
			}
			date = names[i].Date
		}

		target := pick(text, occurrences, occ, name, date, prev, byName)
		if target == nil {
			target = &building{lastEnd: occ.EndOffset}
			clusters = append(clusters, target)
		}

		target.members = append(target.members, i)
		target.lastEnd = occ.EndOffset
		if target.date == nil {
			target.date = date
		}
		if name != "" {
			if target.name == "" {
				target.name = name
			}
			byName[name] = appendUnique(byName[name], target)
		}
		prev = target
	}

	out := make([]*models.Cluster, len(clusters))
	for n, b := range clusters {
		out[n] = finalize(n, b, occurrences, names)
	}
	return out, excluded
}

// pick returns the cluster the occurrence joins, or nil for a new one.
func pick(text string, occurrences []models.CitationOccurrence, occ *models.CitationOccurrence, name string, date *int, prev *building, byName map[string][]*building) *building {
	var eligible []*building

	if prev != nil && !dateConflict(prev.date, date) && attaches(text, prev, occ) {
		eligible = append(eligible, prev)
	}

	if name != "" {
		for _, b := range byName[name] {
			if containsBuilding(eligible, b) || dateConflict(b.date, date) {
				continue
			}
			if parallelEligible(b, occ, occurrences) {
				eligible = append(eligible, b)
			}
		}
	}

	var best *building
	for _, b := range eligible {
		if best == nil || b.lastEnd > best.lastEnd {
			best = b
		}
	}
	return best
}

// attaches applies the adjacency and parenthetical rules against the
// cluster's last occurrence.
func attaches(text string, b *building, occ *models.CitationOccurrence) bool {
	gap := occ.StartOffset - b.lastEnd
	if gap < 0 {
		return false
	}
	if occ.Parenthetical {
		return true
	}
	return gap <= MaxAdjacencyGap && separatorsOnly(text[b.lastEnd:occ.StartOffset])
}

// parallelEligible reports whether the occurrence reads as a parallel
// citation of the cluster: every member must cite a different reporter and
// a different page. Same reporter with a different page is a different
// decision that happens to share the name, not a parallel.
func parallelEligible(b *building, occ *models.CitationOccurrence, occurrences []models.CitationOccurrence) bool {
	if occ.Reporter == "" {
		return false
	}
	for _, idx := range b.members {
		m := &occurrences[idx]
		if m.Reporter == occ.Reporter || m.Page == occ.Page {
			return false
		}
	}
	return true
}

func dateConflict(a, b *int) bool {
	return a != nil && b != nil && *a != *b
}

func containsBuilding(list []*building, b *building) bool {
	for _, x := range list {
		if x == b {
			return true
		}
	}
	return false
}

func appendUnique(list []*building, b *building) []*building {
	if containsBuilding(list, b) {
		return list
	}
	return append(list, b)
}

// separatorsOnly reports whether the gap holds nothing but whitespace,
// commas, semicolons and the word "and".
func separatorsOnly(gap string) bool {
	fields := strings.FieldsFunc(gap, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == ',' || r == ';'
	})
	for _, f := range fields {
		if !strings.EqualFold(f, "and") {
			return false
		}
	}
	return true
}

// finalize turns a finished building into the output cluster. The canonical
// extraction is the highest-confidence non-null name; the member walk runs
// in offset order, so the earliest extraction wins ties.
func finalize(n int, b *building, occurrences []models.CitationOccurrence, names []models.ExtractedName) *models.Cluster {
	c := &models.Cluster{
		ClusterID:          fmt.Sprintf("cluster_%03d", n+1),
		Occurrences:        make([]models.CitationOccurrence, 0, len(b.members)),
		VerificationStatus: models.VerificationUnverified,
	}

	bestConf := -1.0
	for _, idx := range b.members {
		c.Occurrences = append(c.Occurrences, occurrences[idx])
		if idx >= len(names) || names[idx].CaseName == nil {
			continue
		}
		if names[idx].Confidence > bestConf {
			bestConf = names[idx].Confidence
			c.ExtractedName = names[idx].CaseName
			c.ExtractedDate = names[idx].Date
		}
	}
	if c.ExtractedDate == nil {
		c.ExtractedDate = b.date
	}
	return c
}

// normalizeName collapses whitespace and lowercases so name equality is not
// defeated by spacing or case differences.
func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
