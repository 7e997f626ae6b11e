package interfaces

import (
	"context"

	"github.com/ternarybob/casestrainer/internal/models"
)

// CitationDatabase is the external citation lookup consumed by the verifier.
// One Lookup is one backend call; classification, retry and rate limiting
// live in the verifier.
type CitationDatabase interface {
	// Lookup resolves a normalized citation ("410 U.S. 113") to its
	// canonical case. A well-formed "not found" answer is returned as
	// Found=false with a nil error.
	Lookup(ctx context.Context, normalizedCitation string) (*models.CitationMatch, error)

	// RemainingQuota reports the lookups left in the current budget window,
	// -1 when the backend has not told us yet.
	RemainingQuota() int
}

// Verifier resolves each cluster's canonical fields against the citation
// database, consulting the verification cache first. Progress is reported
// after every cluster through the callback.
type Verifier interface {
	VerifyClusters(ctx context.Context, clusters []*models.Cluster, progress func(done, total int)) error
}
