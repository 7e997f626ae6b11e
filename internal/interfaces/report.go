package interfaces

import "github.com/ternarybob/casestrainer/internal/models"

// ReportService renders a completed job's verification report. All three
// renderers require a completed job with a result.
type ReportService interface {
	// Markdown builds the canonical report (clusters, statuses, counts)
	Markdown(job *models.Job) (string, error)

	// HTML renders the markdown report to an HTML fragment
	HTML(job *models.Job) ([]byte, error)

	// PDF renders the report as a PDF document
	PDF(job *models.Job) ([]byte, error)
}
