package loader

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/casestrainer/internal/common"
	"github.com/ternarybob/casestrainer/internal/models"
)

func newTestLoader() *Service {
	return NewService(common.LoaderConfig{
		RequestTimeout: 5 * time.Second,
		MaxBodySize:    1 << 20,
		UserAgent:      "casestrainer-test",
	}, common.GetLogger())
}

func TestLoadText_NormalizesLineEndings(t *testing.T) {
	snap, err := newTestLoader().LoadText(context.Background(), "Roe v. Wade,\r\n410 U.S. 113\r(1973).")
	require.NoError(t, err)

	assert.Equal(t, "Roe v. Wade,\n410 U.S. 113\n(1973).", snap.Text)
	assert.Equal(t, len(snap.Text), snap.SizeBytes)
	assert.False(t, snap.LoadedAt.IsZero())
}

func TestLoadText_DropsInvalidUTF8(t *testing.T) {
	snap, err := newTestLoader().LoadText(context.Background(), "410 U.S. \xff113")
	require.NoError(t, err)
	assert.Equal(t, "410 U.S. 113", snap.Text)
}

func TestLoadText_EmptyIsDecodeError(t *testing.T) {
	_, err := newTestLoader().LoadText(context.Background(), "  \n ")
	assert.ErrorIs(t, err, models.ErrDecodeFailed)
}

func TestLoadURL_HTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><style>p{color:red}</style></head>
<body><nav>Menu</nav><h1>Opinion</h1><p>See Roe v. Wade, 410 U.S. 113 (1973).</p>
<script>alert(1)</script></body></html>`))
	}))
	defer server.Close()

	snap, err := newTestLoader().LoadURL(context.Background(), server.URL)
	require.NoError(t, err)

	assert.Contains(t, snap.Text, "410 U.S. 113")
	assert.NotContains(t, snap.Text, "alert(1)")
	assert.NotContains(t, snap.Text, "Menu")
	assert.Contains(t, snap.Markdown, "Opinion")
	assert.Equal(t, server.URL, snap.SourceRef)
}

func TestLoadURL_PlainText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("410 U.S. 113"))
	}))
	defer server.Close()

	snap, err := newTestLoader().LoadURL(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "410 U.S. 113", snap.Text)
	assert.Empty(t, snap.Markdown)
}

func TestLoadURL_StatusErrorIsFetchFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := newTestLoader().LoadURL(context.Background(), server.URL)
	assert.ErrorIs(t, err, models.ErrFetchFailed)
}

func TestLoadURL_NetworkErrorIsFetchFailed(t *testing.T) {
	_, err := newTestLoader().LoadURL(context.Background(), "http://127.0.0.1:1/none")
	assert.ErrorIs(t, err, models.ErrFetchFailed)
}

func TestLoadURL_UnsupportedContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 0x50})
	}))
	defer server.Close()

	_, err := newTestLoader().LoadURL(context.Background(), server.URL)
	assert.ErrorIs(t, err, models.ErrUnsupportedType)
}

func TestLoadURL_BodyTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write(bytes.Repeat([]byte("x"), 2<<20))
	}))
	defer server.Close()

	_, err := newTestLoader().LoadURL(context.Background(), server.URL)
	assert.ErrorIs(t, err, models.ErrFetchFailed)
}

func TestLoadFile_Text(t *testing.T) {
	snap, err := newTestLoader().LoadFile(context.Background(), "brief.txt", "text/plain",
		[]byte("Brown v. Board, 347 U.S. 483 (1954)."))
	require.NoError(t, err)
	assert.Contains(t, snap.Text, "347 U.S. 483")
	assert.Equal(t, "brief.txt", snap.SourceRef)
}

func TestLoadFile_HTML(t *testing.T) {
	snap, err := newTestLoader().LoadFile(context.Background(), "opinion.html", "",
		[]byte("<html><body><p>See 410 U.S. 113.</p></body></html>"))
	require.NoError(t, err)
	assert.Contains(t, snap.Text, "410 U.S. 113")
	assert.NotEmpty(t, snap.Markdown)
}

func TestLoadFile_Docx(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	doc, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = doc.Write([]byte(`<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body><w:p><w:r><w:t>Miranda v. Arizona, 384 U.S. 436 (1966).</w:t></w:r></w:p>
<w:p><w:r><w:t>Second paragraph.</w:t></w:r></w:p></w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	snap, err := newTestLoader().LoadFile(context.Background(), "brief.docx",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document", buf.Bytes())
	require.NoError(t, err)

	assert.Contains(t, snap.Text, "384 U.S. 436")
	lines := strings.Split(snap.Text, "\n")
	assert.Len(t, lines, 2)
}

func TestLoadFile_UnsupportedType(t *testing.T) {
	_, err := newTestLoader().LoadFile(context.Background(), "image.png", "image/png", []byte{0x89})
	assert.ErrorIs(t, err, models.ErrUnsupportedType)
}

func TestLoadFile_TooLarge(t *testing.T) {
	svc := NewService(common.LoaderConfig{MaxBodySize: 10}, common.GetLogger())
	_, err := svc.LoadFile(context.Background(), "brief.txt", "text/plain", bytes.Repeat([]byte("x"), 11))
	assert.ErrorIs(t, err, models.ErrDecodeFailed)
}

func TestDetectType(t *testing.T) {
	assert.Equal(t, "txt", detectType("a.TXT", ""))
	assert.Equal(t, "html", detectType("a.htm", ""))
	assert.Equal(t, "pdf", detectType("a.pdf", ""))
	assert.Equal(t, "docx", detectType("a.docx", ""))
	assert.Equal(t, "pdf", detectType("upload", "application/pdf"))
	assert.Equal(t, "", detectType("a.png", "image/png"))
}
