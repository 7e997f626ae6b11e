package isolate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/casestrainer/internal/models"
)

func occ(start, end int) models.CitationOccurrence {
	return models.CitationOccurrence{
		StartOffset: start,
		EndOffset:   end,
		Kind:        models.CitationKindCase,
	}
}

func extraction(occs ...models.CitationOccurrence) *models.Extraction {
	return &models.Extraction{Occurrences: occs}
}

func TestIsolate_WindowEndsAtCitationStart(t *testing.T) {
	text := "The Court ruled in Roe v. Wade, 410 U.S. 113 (1973)."
	start := strings.Index(text, "410")
	svc := NewService()

	contexts := svc.Isolate(text, extraction(occ(start, start+len("410 U.S. 113"))))
	require.Len(t, contexts, 1)

	ctx := contexts[0]
	assert.Equal(t, start, ctx.End)
	assert.Contains(t, ctx.Text, "Roe v. Wade")
	assert.NotContains(t, ctx.Text, "410")
}

func TestIsolate_WindowNeverCrossesPreviousCitation(t *testing.T) {
	text := "citing Raines v. Byrd, 521 U.S. 811 (1997); see also Clinton v. City of New York, 524 U.S. 417 (1998)."
	first := strings.Index(text, "521")
	second := strings.Index(text, "524")
	svc := NewService()

	contexts := svc.Isolate(text, extraction(
		occ(first, first+len("521 U.S. 811")),
		occ(second, second+len("524 U.S. 417")),
	))
	require.Len(t, contexts, 2)

	// The second window must not reach back into the first case's name.
	assert.NotContains(t, contexts[1].Text, "Raines")
	assert.Contains(t, contexts[1].Text, "Clinton v. City of New York")
	assert.GreaterOrEqual(t, contexts[1].Start, first+len("521 U.S. 811"))
}

func TestIsolate_WindowsDisjoint(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteString("Some case name here, 410 U.S. 113 (1973). ")
	}
	text := b.String()

	var occs []models.CitationOccurrence
	idx := 0
	for {
		pos := strings.Index(text[idx:], "410 U.S. 113")
		if pos < 0 {
			break
		}
		start := idx + pos
		occs = append(occs, occ(start, start+len("410 U.S. 113")))
		idx = start + 1
	}
	require.Len(t, occs, 10)

	contexts := NewService().Isolate(text, extraction(occs...))
	for i := 1; i < len(contexts); i++ {
		assert.GreaterOrEqual(t, contexts[i].Start, contexts[i-1].End,
			"backward windows must be disjoint")
	}
}

func TestIsolate_SentenceBoundaryBounds(t *testing.T) {
	text := "The prior holding was reversed. In Smith v. Jones, 100 F.3d 200 (2001), the court disagreed."
	start := strings.Index(text, "100")

	contexts := NewService().Isolate(text, extraction(occ(start, start+len("100 F.3d 200"))))
	require.Len(t, contexts, 1)

	assert.NotContains(t, contexts[0].Text, "reversed")
	assert.Contains(t, contexts[0].Text, "Smith v. Jones")
}

func TestIsolate_AbbreviationDoesNotSplit(t *testing.T) {
	text := "As held in State v. Johnson, 88 Wash. 2d 221 (1977), the rule stands."
	start := strings.Index(text, "88 Wash")

	contexts := NewService().Isolate(text, extraction(occ(start, start+len("88 Wash. 2d 221"))))
	require.Len(t, contexts, 1)

	// "v." must not be treated as a sentence end.
	assert.Contains(t, contexts[0].Text, "State v. Johnson")
}

func TestIsolate_WindowClampsAtSignalAnchor(t *testing.T) {
	text := "The lower court relied on earlier precedent; see also Clinton v. City of New York, 524 U.S. 417 (1998)."
	start := strings.Index(text, "524")
	sig := strings.Index(text, "see also")

	ex := extraction(occ(start, start+len("524 U.S. 417")))
	ex.Anchors = []models.ContextAnchor{
		{Start: sig, End: sig + len("see also"), Kind: models.AnchorSignal},
	}

	contexts := NewService().Isolate(text, ex)
	require.Len(t, contexts, 1)

	// No sentence boundary precedes the signal, so only the anchor keeps
	// the preceding clause out of the window.
	assert.NotContains(t, contexts[0].Text, "precedent")
	assert.NotContains(t, contexts[0].Text, "see also")
	assert.Contains(t, contexts[0].Text, "Clinton v. City of New York")
}

func TestIsolate_WindowClampsAtShortFormAnchor(t *testing.T) {
	text := "Id. at 230; accord Smith v. Jones, 100 F.3d 200 (2001)."
	start := strings.Index(text, "100")
	sig := strings.Index(text, "accord")

	ex := extraction(occ(start, start+len("100 F.3d 200")))
	ex.Anchors = []models.ContextAnchor{
		{Start: 0, End: len("Id."), Kind: models.AnchorShortForm},
		{Start: sig, End: sig + len("accord"), Kind: models.AnchorSignal},
	}

	contexts := NewService().Isolate(text, ex)
	require.Len(t, contexts, 1)

	assert.GreaterOrEqual(t, contexts[0].Start, len("Id."))
	assert.NotContains(t, contexts[0].Text, "Id.")
	assert.Contains(t, contexts[0].Text, "Smith v. Jones")
}

func TestIsolate_WindowCappedAt200(t *testing.T) {
	text := strings.Repeat("x", 500) + " 410 U.S. 113"
	start := strings.Index(text, "410")

	contexts := NewService().Isolate(text, extraction(occ(start, start+len("410 U.S. 113"))))
	require.Len(t, contexts, 1)
	assert.LessOrEqual(t, contexts[0].End-contexts[0].Start, MaxBackwardWindow)
}

func TestIsolate_OffsetZeroYieldsEmptyContext(t *testing.T) {
	text := "410 U.S. 113 (1973) settled it."

	contexts := NewService().Isolate(text, extraction(occ(0, len("410 U.S. 113"))))
	require.Len(t, contexts, 1)
	assert.Empty(t, contexts[0].Text)
	assert.Equal(t, 0, contexts[0].Start)
	assert.Equal(t, 0, contexts[0].End)
}

func TestIsolate_ForwardWindowCapturesDate(t *testing.T) {
	text := "Roe v. Wade, 410 U.S. 113 (1973), held that..."
	start := strings.Index(text, "410")

	contexts := NewService().Isolate(text, extraction(occ(start, start+len("410 U.S. 113"))))
	require.Len(t, contexts, 1)
	assert.Contains(t, contexts[0].Forward, "(1973)")
}

func TestIsolate_ForwardWindowStopsAtNextCitation(t *testing.T) {
	text := "Brown v. Board, 347 U.S. 483, 74 S. Ct. 686 (1954)."
	first := strings.Index(text, "347")
	second := strings.Index(text, "74 S")

	contexts := NewService().Isolate(text, extraction(
		occ(first, first+len("347 U.S. 483")),
		occ(second, second+len("74 S. Ct. 686")),
	))
	require.Len(t, contexts, 2)
	assert.NotContains(t, contexts[0].Forward, "686")
	assert.Contains(t, contexts[1].Forward, "(1954)")
}

func TestIsolate_EmptyExtraction(t *testing.T) {
	assert.Empty(t, NewService().Isolate("text", extraction()))
	assert.Empty(t, NewService().Isolate("text", nil))
}
