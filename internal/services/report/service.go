// Package report renders the verification report for a completed job as
// markdown, HTML or PDF.
package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/ternarybob/casestrainer/internal/interfaces"
	"github.com/ternarybob/casestrainer/internal/models"
)

// Service builds verification reports from job results.
type Service struct {
	logger arbor.ILogger
}

var _ interfaces.ReportService = (*Service)(nil)

// NewService creates a report service.
func NewService(logger arbor.ILogger) *Service {
	return &Service{logger: logger}
}

// ErrNoResult is returned when a report is requested for a job that has not
// completed.
var ErrNoResult = fmt.Errorf("job has no result to report on")

// Markdown renders the report source. Every other format derives from it.
func (s *Service) Markdown(job *models.Job) (string, error) {
	if job.Status != models.JobStatusCompleted || job.Result == nil {
		return "", ErrNoResult
	}
	result := job.Result

	var b strings.Builder
	fmt.Fprintf(&b, "# Citation Verification Report\n\n")
	fmt.Fprintf(&b, "Job `%s`", job.ID)
	if job.CompletedAt != nil {
		fmt.Fprintf(&b, ", completed %s", job.CompletedAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	if job.InputDescriptor.URL != "" {
		fmt.Fprintf(&b, ", source %s", job.InputDescriptor.URL)
	} else if job.InputDescriptor.Filename != "" {
		fmt.Fprintf(&b, ", source %s", job.InputDescriptor.Filename)
	}
	b.WriteString(".\n\n")

	m := result.Metadata
	b.WriteString("| Citations | Clusters | Verified | By parallel | Unverified | Failed | Statutes excluded |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d | %d | %d | %d |\n\n",
		m.Total, m.TotalClusters, m.Verified, m.VerifiedByParallel, m.Unverified, m.Failed, m.StatutesExcluded)

	if len(result.Clusters) > 0 {
		b.WriteString("## Clusters\n\n")
	}
	for i, c := range result.Clusters {
		fmt.Fprintf(&b, "### %d. %s\n\n", i+1, clusterTitle(&c))
		fmt.Fprintf(&b, "- Status: **%s**\n", c.VerificationStatus)
		fmt.Fprintf(&b, "- Citations: %s\n", citationList(&c))
		if c.CanonicalName != "" {
			b.WriteString("- Canonical: ")
			if c.CanonicalURL != "" {
				fmt.Fprintf(&b, "[%s](%s)", c.CanonicalName, c.CanonicalURL)
			} else {
				b.WriteString(c.CanonicalName)
			}
			if c.CanonicalDate != "" {
				fmt.Fprintf(&b, ", %s", c.CanonicalDate)
			}
			if c.CanonicalCourt != "" {
				fmt.Fprintf(&b, " (%s)", c.CanonicalCourt)
			}
			if c.CanonicalDocket != "" {
				fmt.Fprintf(&b, ", docket %s", c.CanonicalDocket)
			}
			b.WriteString("\n")
		}
		if c.VerificationError != "" {
			fmt.Fprintf(&b, "- Error: %s\n", c.VerificationError)
		}
		b.WriteString("\n")
	}

	if len(m.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range m.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n")
	}

	return b.String(), nil
}

// HTML renders the markdown report through goldmark.
func (s *Service) HTML(job *models.Job) ([]byte, error) {
	markdown, err := s.Markdown(job)
	if err != nil {
		return nil, err
	}
	md := goldmark.New(
		goldmark.WithExtensions(extension.Table, extension.Linkify),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return nil, fmt.Errorf("failed to render report html: %w", err)
	}
	return buf.Bytes(), nil
}

// PDF renders the markdown report to PDF.
func (s *Service) PDF(job *models.Job) ([]byte, error) {
	markdown, err := s.Markdown(job)
	if err != nil {
		return nil, err
	}
	out, err := renderPDF(markdown)
	if err != nil {
		s.logger.Error().Str("job_id", job.ID).Err(err).Msg("Failed to render report PDF")
		return nil, err
	}
	s.logger.Debug().Str("job_id", job.ID).Int("pdf_size", len(out)).Msg("Report PDF generated")
	return out, nil
}

// clusterTitle prefers the canonical name, then the extracted name, then the
// primary citation text.
func clusterTitle(c *models.Cluster) string {
	name := c.CanonicalName
	if name == "" && c.ExtractedName != nil {
		name = *c.ExtractedName
	}
	if name == "" {
		if primary := c.PrimaryCitation(); primary != nil {
			name = primary.NormalizedText
		} else {
			name = c.ClusterID
		}
	}
	if c.ExtractedDate != nil {
		return fmt.Sprintf("%s (%d)", name, *c.ExtractedDate)
	}
	return name
}

func citationList(c *models.Cluster) string {
	parts := make([]string, len(c.Occurrences))
	for i, occ := range c.Occurrences {
		parts[i] = occ.NormalizedText
	}
	return strings.Join(parts, "; ")
}
