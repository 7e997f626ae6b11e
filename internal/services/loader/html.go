package loader

import (
	"bytes"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/casestrainer/internal/models"
)

// decodeHTML extracts plain text for the pipeline and a markdown rendering
// for the document snapshot. Script, style and nav chrome are dropped
// before either conversion.
func decodeHTML(body []byte) (text, markdown string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", models.ErrDecodeFailed, err)
	}

	doc.Find("script, style, noscript, nav, header, footer").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	text = normalizeEncoding(collapseBlankLines(root.Text()))

	html, err := root.Html()
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", models.ErrDecodeFailed, err)
	}
	converter := md.NewConverter("", true, nil)
	markdown, err = converter.ConvertString(html)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", models.ErrDecodeFailed, err)
	}

	return text, markdown, nil
}

// collapseBlankLines trims per-line whitespace and squeezes runs of blank
// lines left behind by removed block elements.
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
