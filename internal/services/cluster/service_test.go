package cluster

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/casestrainer/internal/models"
)

// doc builds a test document while tracking citation offsets.
type doc struct {
	b    strings.Builder
	occs []models.CitationOccurrence
}

func (d *doc) text(s string) *doc {
	d.b.WriteString(s)
	return d
}

func (d *doc) cite(raw, reporter string, volume, page int) *doc {
	start := d.b.Len()
	d.b.WriteString(raw)
	d.occs = append(d.occs, models.CitationOccurrence{
		RawText:        raw,
		NormalizedText: raw,
		Reporter:       reporter,
		Volume:         volume,
		Page:           page,
		StartOffset:    start,
		EndOffset:      d.b.Len(),
		Kind:           models.CitationKindCase,
	})
	return d
}

func (d *doc) statute(raw string) *doc {
	start := d.b.Len()
	d.b.WriteString(raw)
	d.occs = append(d.occs, models.CitationOccurrence{
		RawText:     raw,
		StartOffset: start,
		EndOffset:   d.b.Len(),
		Kind:        models.CitationKindStatute,
	})
	return d
}

func (d *doc) parenthetical() *doc {
	d.occs[len(d.occs)-1].Parenthetical = true
	return d
}

func named(name string, confidence float64, date *int) models.ExtractedName {
	return models.ExtractedName{CaseName: &name, Confidence: confidence, Date: date}
}

func unnamed() models.ExtractedName {
	return models.ExtractedName{}
}

func year(y int) *int { return &y }

func TestBuild_AdjacentParallelCitations(t *testing.T) {
	d := &doc{}
	d.text("Brown v. Board of Educ., ").
		cite("347 U.S. 483", "U.S.", 347, 483).
		text(", ").
		cite("74 S. Ct. 686", "S. Ct.", 74, 686).
		text(" (1954).")

	clusters, excluded := NewService().Build(d.b.String(), d.occs,
		[]models.ExtractedName{named("Brown v. Board of Education", 0.75, nil), unnamed()})

	require.Len(t, clusters, 1)
	assert.Zero(t, excluded)
	assert.Len(t, clusters[0].Occurrences, 2)
	require.NotNil(t, clusters[0].ExtractedName)
	assert.Equal(t, "Brown v. Board of Education", *clusters[0].ExtractedName)
}

func TestBuild_SeparatorWithAnd(t *testing.T) {
	d := &doc{}
	d.cite("410 U.S. 113", "U.S.", 410, 113).
		text(", and ").
		cite("93 S. Ct. 705", "S. Ct.", 93, 705)

	clusters, _ := NewService().Build(d.b.String(), d.occs,
		[]models.ExtractedName{unnamed(), unnamed()})

	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Occurrences, 2)
}

func TestBuild_ProseGapSplitsClusters(t *testing.T) {
	d := &doc{}
	d.text("Raines v. Byrd, ").
		cite("521 U.S. 811", "U.S.", 521, 811).
		text(" (1997); see also Clinton v. City of New York, ").
		cite("524 U.S. 417", "U.S.", 524, 417).
		text(" (1998).")

	clusters, _ := NewService().Build(d.b.String(), d.occs,
		[]models.ExtractedName{
			named("Raines v. Byrd", 0.75, year(1997)),
			named("Clinton v. City of New York", 0.75, year(1998)),
		})

	require.Len(t, clusters, 2)
	assert.Equal(t, "Raines v. Byrd", *clusters[0].ExtractedName)
	assert.Equal(t, "Clinton v. City of New York", *clusters[1].ExtractedName)
}

func TestBuild_ParallelByNameAcrossDistance(t *testing.T) {
	d := &doc{}
	d.text("Miranda v. Arizona, ").
		cite("384 U.S. 436", "U.S.", 384, 436).
		text(" (1966). " + strings.Repeat("Unrelated filler prose. ", 30) + "Miranda v. Arizona, ").
		cite("86 S. Ct. 1602", "S. Ct.", 86, 1602).
		text(" (1966).")

	clusters, _ := NewService().Build(d.b.String(), d.occs,
		[]models.ExtractedName{
			named("Miranda v. Arizona", 0.75, year(1966)),
			named("Miranda v. Arizona", 0.75, year(1966)),
		})

	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Occurrences, 2)
}

func TestBuild_SameReporterDifferentPageStaysApart(t *testing.T) {
	d := &doc{}
	d.text("Smith v. Jones, ").
		cite("100 F.3d 200", "F.3d", 100, 200).
		text(". " + strings.Repeat("More filler prose here. ", 20) + "Smith v. Jones, ").
		cite("120 F.3d 300", "F.3d", 120, 300)

	clusters, _ := NewService().Build(d.b.String(), d.occs,
		[]models.ExtractedName{
			named("Smith v. Jones", 0.75, nil),
			named("Smith v. Jones", 0.75, nil),
		})

	assert.Len(t, clusters, 2)
}

func TestBuild_DateConflictVetoesJoin(t *testing.T) {
	d := &doc{}
	d.text("Brown v. Board of Educ., ").
		cite("347 U.S. 483", "U.S.", 347, 483).
		text(" (1954) (overruling Plessy v. Ferguson, ").
		cite("163 U.S. 537", "U.S.", 163, 537).
		parenthetical().
		text(" (1896)).")

	clusters, _ := NewService().Build(d.b.String(), d.occs,
		[]models.ExtractedName{
			named("Brown v. Board of Education", 0.75, year(1954)),
			named("Plessy v. Ferguson", 0.75, year(1896)),
		})

	require.Len(t, clusters, 2)
	assert.Equal(t, "Plessy v. Ferguson", *clusters[1].ExtractedName)
}

func TestBuild_ParentheticalAttachesWithoutDateConflict(t *testing.T) {
	d := &doc{}
	d.cite("347 U.S. 483", "U.S.", 347, 483).
		text(" (quoting ").
		cite("74 S. Ct. 686", "S. Ct.", 74, 686).
		parenthetical().
		text(").")

	clusters, _ := NewService().Build(d.b.String(), d.occs,
		[]models.ExtractedName{unnamed(), unnamed()})

	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Occurrences, 2)
}

func TestBuild_StatutesExcluded(t *testing.T) {
	d := &doc{}
	d.statute("42 U.S.C. § 1983").
		text("; Roe v. Wade, ").
		cite("410 U.S. 113", "U.S.", 410, 113)

	clusters, excluded := NewService().Build(d.b.String(), d.occs,
		[]models.ExtractedName{unnamed(), named("Roe v. Wade", 0.75, nil)})

	assert.Equal(t, 1, excluded)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Occurrences, 1)
	assert.Equal(t, models.CitationKindCase, clusters[0].Occurrences[0].Kind)
}

func TestBuild_CanonicalNameByConfidence(t *testing.T) {
	d := &doc{}
	d.cite("347 U.S. 483", "U.S.", 347, 483).
		text(", ").
		cite("74 S. Ct. 686", "S. Ct.", 74, 686)

	clusters, _ := NewService().Build(d.b.String(), d.occs,
		[]models.ExtractedName{
			named("Brown v. Board", 0.6, nil),
			named("Brown v. Board of Education", 0.9, nil),
		})

	require.Len(t, clusters, 1)
	assert.Equal(t, "Brown v. Board of Education", *clusters[0].ExtractedName)
}

func TestBuild_CanonicalNameTieBreaksEarliest(t *testing.T) {
	d := &doc{}
	d.cite("347 U.S. 483", "U.S.", 347, 483).
		text(", ").
		cite("74 S. Ct. 686", "S. Ct.", 74, 686)

	clusters, _ := NewService().Build(d.b.String(), d.occs,
		[]models.ExtractedName{
			named("Earliest Name v. Wins", 0.8, nil),
			named("Later Name v. Loses", 0.8, nil),
		})

	require.Len(t, clusters, 1)
	assert.Equal(t, "Earliest Name v. Wins", *clusters[0].ExtractedName)
}

func TestBuild_NearestLastTieBreak(t *testing.T) {
	d := &doc{}
	d.text("Miranda v. Arizona, ").
		cite("384 U.S. 436", "U.S.", 384, 436).
		text(". " + strings.Repeat("Filler text in between. ", 20) + "Miranda v. Arizona, ").
		cite("384 Ariz. 436", "Ariz.", 384, 436).
		text(". " + strings.Repeat("More filler in between. ", 20) + "Miranda v. Arizona, ").
		cite("86 S. Ct. 1602", "S. Ct.", 86, 1602)

	// Occurrence 2 shares its page with occurrence 1, so they stay apart.
	// Occurrence 3 is name-eligible for both; the nearest cluster wins.
	clusters, _ := NewService().Build(d.b.String(), d.occs,
		[]models.ExtractedName{
			named("Miranda v. Arizona", 0.75, nil),
			named("Miranda v. Arizona", 0.75, nil),
			named("Miranda v. Arizona", 0.75, nil),
		})

	require.Len(t, clusters, 2)
	assert.Len(t, clusters[0].Occurrences, 1)
	assert.Len(t, clusters[1].Occurrences, 2)
}

func TestBuild_StableAcrossRuns(t *testing.T) {
	d := &doc{}
	d.cite("410 U.S. 113", "U.S.", 410, 113).
		text(", ").
		cite("93 S. Ct. 705", "S. Ct.", 93, 705).
		text("; and ").
		cite("35 L. Ed. 2d 147", "L. Ed. 2d", 35, 147)

	names := []models.ExtractedName{
		named("Roe v. Wade", 0.75, year(1973)), unnamed(), unnamed(),
	}

	first, _ := NewService().Build(d.b.String(), d.occs, names)
	for i := 0; i < 10; i++ {
		again, _ := NewService().Build(d.b.String(), d.occs, names)
		require.Equal(t, first, again)
	}
}

func TestBuild_DeterministicClusterIDs(t *testing.T) {
	d := &doc{}
	d.cite("410 U.S. 113", "U.S.", 410, 113).
		text(". " + strings.Repeat("Gap prose goes here now. ", 20)).
		cite("347 U.S. 483", "U.S.", 347, 483)

	clusters, _ := NewService().Build(d.b.String(), d.occs,
		[]models.ExtractedName{unnamed(), unnamed()})

	require.Len(t, clusters, 2)
	assert.Equal(t, "cluster_001", clusters[0].ClusterID)
	assert.Equal(t, "cluster_002", clusters[1].ClusterID)
}

func TestBuild_Empty(t *testing.T) {
	clusters, excluded := NewService().Build("", nil, nil)
	assert.Empty(t, clusters)
	assert.Zero(t, excluded)
}
