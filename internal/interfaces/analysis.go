package interfaces

import (
	"context"

	"github.com/ternarybob/casestrainer/internal/models"
)

// AnalysisService runs the citation pipeline:
// extract -> isolate -> name extraction -> cluster -> verify.
type AnalysisService interface {
	// Run executes the full pipeline for a queued job, updating the job
	// record (progress, step, ETA, counts) as stages complete. The returned
	// error carries a models.ErrorKind for terminal failure classification.
	Run(ctx context.Context, job *models.Job, text string) (*models.JobResult, error)

	// AnalyzeSync runs extraction only, for the small-input synchronous path.
	// No verification is performed and no job record is written.
	AnalyzeSync(ctx context.Context, text string) (*models.JobResult, error)
}
