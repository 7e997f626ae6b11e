package interfaces

import (
	"context"

	"github.com/ternarybob/casestrainer/internal/models"
)

// DocumentLoader turns a submission (pasted text, fetched URL, uploaded file)
// into UTF-8 plain text with normalized line endings. Loader failures are
// input errors: models.ErrUnsupportedType, models.ErrFetchFailed,
// models.ErrDecodeFailed.
type DocumentLoader interface {
	// LoadText wraps pasted text in a snapshot after encoding cleanup
	LoadText(ctx context.Context, text string) (*models.DocumentSnapshot, error)

	// LoadURL fetches a URL and decodes HTML or PDF bodies to text
	LoadURL(ctx context.Context, url string) (*models.DocumentSnapshot, error)

	// LoadFile decodes an uploaded file (txt, html, pdf, docx) to text
	LoadFile(ctx context.Context, filename, contentType string, data []byte) (*models.DocumentSnapshot, error)
}
