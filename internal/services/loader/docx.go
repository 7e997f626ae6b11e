package loader

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/ternarybob/casestrainer/internal/models"
)

// extractDocxText pulls the text runs out of a docx body. A docx is a zip
// holding word/document.xml; text lives in <w:t> elements and paragraphs
// (<w:p>) become newlines.
func extractDocxText(body []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrDecodeFailed, err)
	}

	var docXML io.ReadCloser
	for _, f := range reader.File {
		if f.Name == "word/document.xml" {
			docXML, err = f.Open()
			if err != nil {
				return "", fmt.Errorf("%w: %v", models.ErrDecodeFailed, err)
			}
			break
		}
	}
	if docXML == nil {
		return "", fmt.Errorf("%w: docx has no word/document.xml", models.ErrDecodeFailed)
	}
	defer docXML.Close()

	var b strings.Builder
	decoder := xml.NewDecoder(docXML)
	inText := false
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", models.ErrDecodeFailed, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}

	text := normalizeEncoding(strings.TrimSpace(b.String()))
	if text == "" {
		return "", fmt.Errorf("%w: docx contains no text", models.ErrDecodeFailed)
	}
	return text, nil
}
