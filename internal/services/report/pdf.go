package report

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

const (
	pdfFont     = "Arial"
	pdfFontSize = 10.0
	pdfLineH    = 5.0
	tableWidth  = 190.0
)

// renderPDF parses the report markdown with goldmark and walks the AST into
// an A4 document. Links are printed as their visible text; the URL stays in
// the markdown and HTML renditions.
func renderPDF(markdown string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 10)
	pdf.AddPage()
	pdf.SetFont(pdfFont, "", pdfFontSize)

	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	source := []byte(markdown)
	doc := md.Parser().Parse(text.NewReader(source))

	w := &pdfWriter{pdf: pdf, source: source}
	if err := ast.Walk(doc, w.walk); err != nil {
		return nil, fmt.Errorf("failed to lay out report: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write report pdf: %w", err)
	}
	return buf.Bytes(), nil
}

type pdfWriter struct {
	pdf    *fpdf.Fpdf
	source []byte
	bold   bool
	italic bool
}

func (w *pdfWriter) style() string {
	style := ""
	if w.bold {
		style += "B"
	}
	if w.italic {
		style += "I"
	}
	return style
}

func (w *pdfWriter) bodyFont() {
	w.pdf.SetFont(pdfFont, w.style(), pdfFontSize)
}

func (w *pdfWriter) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		if entering {
			size := pdfFontSize + float64(8-2*node.Level)
			if size < pdfFontSize {
				size = pdfFontSize
			}
			w.pdf.Ln(4)
			w.pdf.SetFont(pdfFont, "B", size)
		} else {
			w.pdf.Ln(8)
			w.bodyFont()
		}
	case *ast.Paragraph:
		if !entering {
			w.pdf.Ln(6)
		}
	case *ast.Text:
		if entering {
			w.pdf.Write(pdfLineH, string(node.Text(w.source)))
		}
	case *ast.Emphasis:
		if node.Level == 2 {
			w.bold = entering
		} else {
			w.italic = entering
		}
		w.bodyFont()
	case *ast.CodeSpan:
		if entering {
			w.pdf.SetFont("Courier", "", pdfFontSize)
			for c := node.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					w.pdf.Write(pdfLineH, string(t.Segment.Value(w.source)))
				}
			}
			w.bodyFont()
		}
		return ast.WalkSkipChildren, nil
	case *ast.ListItem:
		if entering {
			w.pdf.Ln(pdfLineH)
			w.pdf.SetX(14)
			w.pdf.Write(pdfLineH, "- ")
		}
	case *ast.List:
		if !entering {
			w.pdf.Ln(7)
		}
	case *ast.ThematicBreak:
		if entering {
			w.pdf.Ln(3)
			w.pdf.Line(10, w.pdf.GetY(), 200, w.pdf.GetY())
			w.pdf.Ln(3)
		}
	case *extast.Table:
		if entering {
			w.renderTable(node)
		}
		return ast.WalkSkipChildren, nil
	}
	return ast.WalkContinue, nil
}

// renderTable lays the table out with equal column widths. Report tables are
// the single counts row, so uniform columns read fine.
func (w *pdfWriter) renderTable(table *extast.Table) {
	rows := tableRows(table, w.source)
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}

	colWidth := tableWidth / float64(len(rows[0]))
	w.pdf.Ln(2)
	for i, row := range rows {
		if i == 0 {
			w.pdf.SetFont(pdfFont, "B", 9)
			w.pdf.SetFillColor(230, 230, 230)
		} else {
			w.pdf.SetFont(pdfFont, "", 9)
			w.pdf.SetFillColor(255, 255, 255)
		}
		for _, cell := range row {
			w.pdf.CellFormat(colWidth, 6, cell, "1", 0, "L", i == 0, 0, "")
		}
		w.pdf.Ln(6)
	}
	w.pdf.Ln(2)
	w.bodyFont()
}

func tableRows(table *extast.Table, source []byte) [][]string {
	var rows [][]string
	var collect func(node ast.Node)
	collect = func(node ast.Node) {
		for child := node.FirstChild(); child != nil; child = child.NextSibling() {
			switch row := child.(type) {
			case *extast.TableHeader:
				collect(child)
			case *extast.TableRow:
				var cells []string
				for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
					cells = append(cells, string(cell.Text(source)))
				}
				rows = append(rows, cells)
			}
		}
	}
	collect(table)
	return rows
}
