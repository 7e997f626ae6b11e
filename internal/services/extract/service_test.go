package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/casestrainer/internal/common"
	"github.com/ternarybob/casestrainer/internal/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(common.GetLogger())
	require.NoError(t, err)
	return svc
}

func extractText(t *testing.T, text string) *models.Extraction {
	t.Helper()
	svc := newTestService(t)
	result, err := svc.Extract(context.Background(), text)
	require.NoError(t, err)
	return result
}

func TestExtract_SingleCitation(t *testing.T) {
	text := "The Court ruled in Roe v. Wade, 410 U.S. 113 (1973), that..."
	result := extractText(t, text)

	require.Len(t, result.Occurrences, 1)
	occ := result.Occurrences[0]
	assert.Equal(t, models.CitationKindCase, occ.Kind)
	assert.Equal(t, 410, occ.Volume)
	assert.Equal(t, "U.S.", occ.Reporter)
	assert.Equal(t, 113, occ.Page)
	assert.Nil(t, occ.PinCite)
	assert.Equal(t, "410 U.S. 113", occ.NormalizedText)
	assert.Equal(t, "410 U.S. 113", text[occ.StartOffset:occ.EndOffset])
}

func TestExtract_ParallelCitationsWithPincite(t *testing.T) {
	text := "See Brown v. Board of Educ., 347 U.S. 483, 495, 74 S. Ct. 686 (1954)."
	result := extractText(t, text)

	require.Len(t, result.Occurrences, 2)

	first := result.Occurrences[0]
	assert.Equal(t, "347 U.S. 483", first.NormalizedText)
	require.NotNil(t, first.PinCite)
	assert.Equal(t, 495, *first.PinCite)

	second := result.Occurrences[1]
	assert.Equal(t, "74 S. Ct. 686", second.NormalizedText)
	assert.Equal(t, "S. Ct.", second.Reporter)
	assert.Nil(t, second.PinCite)
}

func TestExtract_ParallelVolumeNotMistakenForPincite(t *testing.T) {
	// No pincite here: the 74 is the S. Ct. volume and must not be
	// swallowed by the first citation's pincite group.
	text := "Brown v. Board of Educ., 347 U.S. 483, 74 S. Ct. 686 (1954)."
	result := extractText(t, text)

	require.Len(t, result.Occurrences, 2)
	assert.Nil(t, result.Occurrences[0].PinCite)
	assert.Equal(t, "347 U.S. 483", result.Occurrences[0].NormalizedText)
	assert.Equal(t, "74 S. Ct. 686", result.Occurrences[1].NormalizedText)
}

func TestExtract_StatuteAndRegulation(t *testing.T) {
	text := "Claims under 42 U.S.C. § 1983 and guidance at 29 C.F.R. § 1604.11 apply."
	result := extractText(t, text)

	require.Len(t, result.Occurrences, 2)

	statute := result.Occurrences[0]
	assert.Equal(t, models.CitationKindStatute, statute.Kind)
	assert.Equal(t, 42, statute.Volume)
	assert.Equal(t, "1983", statute.Section)
	assert.Equal(t, "42 U.S.C. § 1983", statute.NormalizedText)
	assert.False(t, statute.Verifiable())

	reg := result.Occurrences[1]
	assert.Equal(t, models.CitationKindRegulation, reg.Kind)
	assert.Equal(t, "1604.11", reg.Section)
}

func TestExtract_StatuteDoesNotProduceCaseMatch(t *testing.T) {
	result := extractText(t, "42 U.S.C. § 1983")
	require.Len(t, result.Occurrences, 1)
	assert.Equal(t, models.CitationKindStatute, result.Occurrences[0].Kind)
}

func TestExtract_OrderedAndNonOverlapping(t *testing.T) {
	text := "Raines v. Byrd, 521 U.S. 811 (1997); see also Clinton v. City of New York, " +
		"524 U.S. 417 (1998); 42 U.S.C. § 1983; Miranda v. Arizona, 384 U.S. 436, 86 S. Ct. 1602 (1966)."
	result := extractText(t, text)

	require.GreaterOrEqual(t, len(result.Occurrences), 5)
	for i, occ := range result.Occurrences {
		assert.Less(t, occ.StartOffset, occ.EndOffset)
		if i > 0 {
			assert.GreaterOrEqual(t, occ.StartOffset, result.Occurrences[i-1].EndOffset,
				"occurrences must not overlap")
		}
	}
}

func TestExtract_ReporterNormalization(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"100 F.Supp.2d 200", "100 F. Supp. 2d 200"},
		{"12 S.Ct. 34", "12 S. Ct. 34"},
		{"5 L.Ed.2d 100", "5 L. Ed. 2d 100"},
		{"88 Wn.2d 221", "88 Wash. 2d 221"},
	}
	for _, tt := range tests {
		result := extractText(t, "In "+tt.raw+" the court held.")
		require.Len(t, result.Occurrences, 1, tt.raw)
		assert.Equal(t, tt.want, result.Occurrences[0].NormalizedText)
	}
}

func TestExtract_RawTextPreservesSourceBytes(t *testing.T) {
	text := "Smith v. Jones, 100 F.3d 200 (2001)."
	result := extractText(t, text)

	require.Len(t, result.Occurrences, 1)
	occ := result.Occurrences[0]
	assert.Contains(t, occ.RawText, " ")
	assert.Equal(t, "100 F.3d 200", occ.NormalizedText)
	assert.Equal(t, occ.RawText, text[occ.StartOffset:occ.EndOffset])
}

func TestExtract_SignalAnchors(t *testing.T) {
	text := "See Roe v. Wade, 410 U.S. 113 (1973); but see id. at 120; supra note 3."
	result := extractText(t, text)

	var signals, shortForms int
	for _, a := range result.Anchors {
		switch a.Kind {
		case models.AnchorSignal:
			signals++
		case models.AnchorShortForm:
			shortForms++
		}
	}
	assert.GreaterOrEqual(t, signals, 1)
	assert.GreaterOrEqual(t, shortForms, 2)
}

func TestExtract_ParentheticalCitation(t *testing.T) {
	text := "Brown v. Board of Educ., 347 U.S. 483 (1954) (overruling Plessy v. Ferguson, 163 U.S. 537 (1896))."
	result := extractText(t, text)

	require.Len(t, result.Occurrences, 2)
	assert.False(t, result.Occurrences[0].Parenthetical)
	assert.True(t, result.Occurrences[1].Parenthetical)
}

func TestExtract_EmptyInput(t *testing.T) {
	result := extractText(t, "   \n\t  ")
	assert.Empty(t, result.Occurrences)
	assert.NotEmpty(t, result.Warnings)
}

func TestExtract_NoCitations(t *testing.T) {
	result := extractText(t, "This document contains no legal citations whatsoever.")
	assert.Empty(t, result.Occurrences)
	assert.Empty(t, result.Warnings)
}

func TestExtract_Idempotent(t *testing.T) {
	text := "Roe v. Wade, 410 U.S. 113, 93 S. Ct. 705 (1973); 42 U.S.C. § 1983."
	first := extractText(t, text)
	require.NotEmpty(t, first.Occurrences)

	// Reassemble the normalized citations and re-extract: the normalized
	// forms must survive a second pass unchanged.
	parts := make([]string, len(first.Occurrences))
	for i, occ := range first.Occurrences {
		parts[i] = occ.NormalizedText
	}
	second := extractText(t, strings.Join(parts, "; "))

	require.Len(t, second.Occurrences, len(first.Occurrences))
	for i := range second.Occurrences {
		assert.Equal(t, first.Occurrences[i].NormalizedText, second.Occurrences[i].NormalizedText)
		assert.Equal(t, first.Occurrences[i].Kind, second.Occurrences[i].Kind)
	}
}

func TestExtract_CitationAtOffsetZero(t *testing.T) {
	result := extractText(t, "410 U.S. 113 (1973) settled the question.")
	require.Len(t, result.Occurrences, 1)
	assert.Equal(t, 0, result.Occurrences[0].StartOffset)
}

func TestExtract_LargeInput(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 2000; i++ {
		b.WriteString("Case v. Other, 410 U.S. 113 (1973). Filler sentence follows here. ")
	}
	result := extractText(t, b.String())
	assert.Len(t, result.Occurrences, 2000)
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, `"fine" flag - ok`, NormalizeText("“ﬁne”  ﬂag — ok"))
	assert.Equal(t, "410 U.S. 113", NormalizeText("410 U.S.\n 113"))
}
