package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/casestrainer/internal/common"
	"github.com/ternarybob/casestrainer/internal/models"
)

func completedJob() *models.Job {
	name := "Roe v. Wade"
	date := 1973
	completed := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	return &models.Job{
		ID:     "job-report",
		Status: models.JobStatusCompleted,
		InputDescriptor: models.InputDescriptor{
			Type: models.InputTypeText,
		},
		CompletedAt: &completed,
		Result: &models.JobResult{
			Clusters: []models.Cluster{
				{
					ClusterID: "cluster_001",
					Occurrences: []models.CitationOccurrence{
						{NormalizedText: "410 U.S. 113", Kind: models.CitationKindCase},
						{NormalizedText: "93 S. Ct. 705", Kind: models.CitationKindCase},
					},
					ExtractedName:      &name,
					ExtractedDate:      &date,
					CanonicalName:      "Roe v. Wade",
					CanonicalDate:      "1973-01-22",
					CanonicalCourt:     "Supreme Court of the United States",
					CanonicalURL:       "https://www.courtlistener.com/opinion/108713/roe-v-wade/",
					VerificationStatus: models.VerificationVerified,
				},
				{
					ClusterID: "cluster_002",
					Occurrences: []models.CitationOccurrence{
						{NormalizedText: "999 U.S. 1", Kind: models.CitationKindCase},
					},
					VerificationStatus: models.VerificationUnverified,
				},
			},
			Citations: []models.CitationOccurrence{
				{NormalizedText: "410 U.S. 113", Kind: models.CitationKindCase},
				{NormalizedText: "93 S. Ct. 705", Kind: models.CitationKindCase},
				{NormalizedText: "999 U.S. 1", Kind: models.CitationKindCase},
			},
			Metadata: models.ResultMetadata{
				Total:            3,
				TotalClusters:    2,
				Verified:         1,
				Unverified:       1,
				StatutesExcluded: 1,
				Warnings:         []string{"document truncated at 10 MB"},
			},
		},
	}
}

func TestMarkdown(t *testing.T) {
	svc := NewService(common.GetLogger())
	out, err := svc.Markdown(completedJob())
	require.NoError(t, err)

	assert.Contains(t, out, "# Citation Verification Report")
	assert.Contains(t, out, "Roe v. Wade (1973)")
	assert.Contains(t, out, "410 U.S. 113; 93 S. Ct. 705")
	assert.Contains(t, out, "[Roe v. Wade](https://www.courtlistener.com/opinion/108713/roe-v-wade/)")
	assert.Contains(t, out, "**verified**")
	assert.Contains(t, out, "**unverified**")
	assert.Contains(t, out, "| 3 | 2 | 1 | 0 | 1 | 0 | 1 |")
	assert.Contains(t, out, "document truncated at 10 MB")
}

func TestMarkdown_UnnamedClusterFallsBackToCitation(t *testing.T) {
	svc := NewService(common.GetLogger())
	out, err := svc.Markdown(completedJob())
	require.NoError(t, err)
	assert.Contains(t, out, "### 2. 999 U.S. 1")
}

func TestMarkdown_RequiresCompletedJob(t *testing.T) {
	svc := NewService(common.GetLogger())

	_, err := svc.Markdown(&models.Job{ID: "j", Status: models.JobStatusRunning})
	assert.ErrorIs(t, err, ErrNoResult)

	_, err = svc.Markdown(&models.Job{ID: "j", Status: models.JobStatusCompleted})
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestHTML(t *testing.T) {
	svc := NewService(common.GetLogger())
	out, err := svc.HTML(completedJob())
	require.NoError(t, err)

	html := string(out)
	assert.Contains(t, html, "<h1")
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, `<a href="https://www.courtlistener.com/opinion/108713/roe-v-wade/"`)
	assert.Contains(t, html, "Roe v. Wade")
}

func TestPDF(t *testing.T) {
	svc := NewService(common.GetLogger())
	out, err := svc.PDF(completedJob())
	require.NoError(t, err)

	require.NotEmpty(t, out)
	assert.Equal(t, "%PDF", string(out[:4]))
}
