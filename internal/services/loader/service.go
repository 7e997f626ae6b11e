// Package loader turns submissions (pasted text, fetched URLs, uploaded
// files) into UTF-8 plain text snapshots for the extraction pipeline.
package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/casestrainer/internal/common"
	"github.com/ternarybob/casestrainer/internal/interfaces"
	"github.com/ternarybob/casestrainer/internal/models"
)

var _ interfaces.DocumentLoader = (*Service)(nil)

// Service implements the document loader. Every failure it returns wraps
// one of the models loader sentinels so handlers can map it to an input
// error without string matching.
type Service struct {
	config     common.LoaderConfig
	logger     arbor.ILogger
	httpClient *http.Client
}

// NewService creates a document loader.
func NewService(config common.LoaderConfig, logger arbor.ILogger) *Service {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		config: config,
		logger: logger,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// LoadText wraps pasted text in a snapshot after encoding cleanup.
func (s *Service) LoadText(ctx context.Context, text string) (*models.DocumentSnapshot, error) {
	clean := normalizeEncoding(text)
	if strings.TrimSpace(clean) == "" {
		return nil, fmt.Errorf("%w: empty text", models.ErrDecodeFailed)
	}
	return s.snapshot(clean, "", ""), nil
}

// LoadURL fetches a URL and decodes the body. HTML pages keep a markdown
// rendering in the snapshot; PDFs are decoded to plain text.
func (s *Service) LoadURL(ctx context.Context, rawURL string) (*models.DocumentSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFetchFailed, err)
	}
	if s.config.UserAgent != "" {
		req.Header.Set("User-Agent", s.config.UserAgent)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d from %s", models.ErrFetchFailed, resp.StatusCode, rawURL)
	}

	body, err := s.readBody(resp.Body)
	if err != nil {
		return nil, err
	}

	contentType := resp.Header.Get("Content-Type")
	s.logger.Debug().
		Str("url", rawURL).
		Str("content_type", contentType).
		Int("bytes", len(body)).
		Msg("Fetched document")

	switch {
	case strings.Contains(contentType, "text/html"):
		text, markdown, err := decodeHTML(body)
		if err != nil {
			return nil, err
		}
		snap := s.snapshot(text, markdown, rawURL)
		return snap, nil
	case strings.Contains(contentType, "application/pdf"):
		text, err := extractPDFText(body)
		if err != nil {
			return nil, err
		}
		return s.snapshot(text, "", rawURL), nil
	case strings.Contains(contentType, "text/"), contentType == "":
		return s.snapshot(normalizeEncoding(string(body)), "", rawURL), nil
	default:
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedType, contentType)
	}
}

// LoadFile decodes an uploaded file. Supported: txt, html, pdf, docx.
func (s *Service) LoadFile(ctx context.Context, filename, contentType string, data []byte) (*models.DocumentSnapshot, error) {
	if s.config.MaxBodySize > 0 && len(data) > s.config.MaxBodySize {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", models.ErrDecodeFailed, s.config.MaxBodySize)
	}

	switch detectType(filename, contentType) {
	case "txt":
		return s.snapshot(normalizeEncoding(string(data)), "", filename), nil
	case "html":
		text, markdown, err := decodeHTML(data)
		if err != nil {
			return nil, err
		}
		return s.snapshot(text, markdown, filename), nil
	case "pdf":
		text, err := extractPDFText(data)
		if err != nil {
			return nil, err
		}
		return s.snapshot(text, "", filename), nil
	case "docx":
		text, err := extractDocxText(data)
		if err != nil {
			return nil, err
		}
		return s.snapshot(text, "", filename), nil
	default:
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedType, filename)
	}
}

func (s *Service) snapshot(text, markdown, sourceRef string) *models.DocumentSnapshot {
	return &models.DocumentSnapshot{
		Text:      text,
		Markdown:  markdown,
		SourceRef: sourceRef,
		SizeBytes: len(text),
		LoadedAt:  time.Now(),
	}
}

func (s *Service) readBody(r io.Reader) ([]byte, error) {
	limit := s.config.MaxBodySize
	if limit <= 0 {
		limit = 10 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFetchFailed, err)
	}
	if len(body) > limit {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", models.ErrFetchFailed, limit)
	}
	return body, nil
}

// detectType maps filename extension and declared content type to a decoder.
func detectType(filename, contentType string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".text", ".md":
		return "txt"
	case ".html", ".htm":
		return "html"
	case ".pdf":
		return "pdf"
	case ".docx":
		return "docx"
	}
	switch {
	case strings.Contains(contentType, "text/html"):
		return "html"
	case strings.Contains(contentType, "application/pdf"):
		return "pdf"
	case strings.Contains(contentType, "officedocument.wordprocessingml"):
		return "docx"
	case strings.Contains(contentType, "text/"):
		return "txt"
	}
	return ""
}

// normalizeEncoding normalizes line endings and drops invalid UTF-8.
func normalizeEncoding(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.ToValidUTF8(text, "")
}
