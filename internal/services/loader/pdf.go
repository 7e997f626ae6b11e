package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/ternarybob/casestrainer/internal/models"
)

// extractPDFText decodes a PDF body to plain text. pdfcpu works on files,
// so the body goes through a temp directory that is removed afterwards.
func extractPDFText(body []byte) (string, error) {
	tempDir, err := os.MkdirTemp("", "casestrainer-pdf-")
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrDecodeFailed, err)
	}
	defer os.RemoveAll(tempDir)

	tempFile := filepath.Join(tempDir, "upload.pdf")
	if err := os.WriteFile(tempFile, body, 0644); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrDecodeFailed, err)
	}

	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrDecodeFailed, err)
	}
	pageCount := pdfCtx.PageCount

	outDir := filepath.Join(tempDir, "pages")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrDecodeFailed, err)
	}
	if err := api.ExtractContentFile(tempFile, outDir, nil, model.NewDefaultConfiguration()); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrDecodeFailed, err)
	}

	pageTexts := make(map[int]string)
	files, _ := os.ReadDir(outDir)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(file.Name(), "Content_page_%d", &pageNum); err == nil {
			pageTexts[pageNum] = string(content)
		} else if _, err := fmt.Sscanf(file.Name(), "page_%d", &pageNum); err == nil {
			pageTexts[pageNum] = string(content)
		}
	}

	var b strings.Builder
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		text, ok := pageTexts[pageNum]
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}

	if strings.TrimSpace(b.String()) == "" {
		return "", fmt.Errorf("%w: no extractable text in PDF", models.ErrDecodeFailed)
	}
	return normalizeEncoding(b.String()), nil
}
