package interfaces

import (
	"context"

	"github.com/ternarybob/casestrainer/internal/models"
)

// CitationExtractor scans document text and yields citation occurrences with
// character offsets, plus the anchors (signal phrases, short-form references)
// the isolator uses to bound context windows.
type CitationExtractor interface {
	Extract(ctx context.Context, text string) (*models.Extraction, error)
}

// ContextIsolator carves a bounded backward window (and a short forward
// window for date detection) around each occurrence. Windows of distinct
// occurrences never overlap and never cross a prior citation's span.
type ContextIsolator interface {
	Isolate(text string, extraction *models.Extraction) []models.IsolatedContext
}

// CaseNameExtractor recovers the case name from a backward context window and
// the decision year from the forward window. A nil case name is a valid
// result, not an error.
type CaseNameExtractor interface {
	ExtractName(backward, forward string) models.ExtractedName
}

// ClusterBuilder groups case-kind occurrences into clusters of parallel
// citations. The text is the document the offsets index into; names aligns
// index-for-index with occurrences. Statute and regulation occurrences are
// excluded; the second return value reports how many were excluded.
type ClusterBuilder interface {
	Build(text string, occurrences []models.CitationOccurrence, names []models.ExtractedName) ([]*models.Cluster, int)
}
