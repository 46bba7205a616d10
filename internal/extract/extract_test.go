package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"

	"coursesearch/internal/logging"
	"coursesearch/internal/util"

	"github.com/stretchr/testify/require"
)

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const sampleDocument = `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Syllabus</w:t></w:r></w:p>
    <w:p><w:r><w:t xml:space="preserve">Week one: </w:t></w:r><w:r><w:t>cells.</w:t></w:r></w:p>
    <w:tbl><w:tr><w:tc><w:p><w:r><w:t>Table cell</w:t></w:r></w:p></w:tc></w:tr></w:tbl>
  </w:body>
</w:document>`

func TestExtractTextDocx(t *testing.T) {
	text, err := ExtractText(buildDocx(t, sampleDocument), "Syllabus.DOCX")
	require.NoError(t, err)
	require.Equal(t, "Syllabus\nWeek one: cells.\nTable cell", text)
}

func TestExtractTextDocFallsBackToOOXML(t *testing.T) {
	text, err := ExtractText(buildDocx(t, sampleDocument), "legacy.doc")
	require.NoError(t, err)
	require.Contains(t, text, "Week one")

	_, err = ExtractText([]byte("\xd0\xcf\x11\xe0 binary word"), "legacy.doc")
	require.ErrorIs(t, err, util.ErrExtraction)
}

func TestExtractTextPlain(t *testing.T) {
	text, err := ExtractText([]byte("\xef\xbb\xbfHello\x00 class\n"), "notes.txt")
	require.NoError(t, err)
	require.Equal(t, "Hello class", text)
}

func TestExtractTextUnsupported(t *testing.T) {
	_, err := ExtractText([]byte("x"), "slides.pptx")
	require.ErrorIs(t, err, util.ErrExtraction)
}

func TestExtractTextBrokenPDF(t *testing.T) {
	_, err := ExtractText([]byte("%PDF-1.4 not really"), "broken.pdf")
	require.Error(t, err)
	require.True(t, errors.Is(err, util.ErrExtraction))
}

func TestExtractorDegradesToEmpty(t *testing.T) {
	e := New(logging.Discard())
	require.Equal(t, "", e.ExtractTextFromFile([]byte("garbage"), "a.pdf"))
	require.Equal(t, "", e.ExtractTextFromFile([]byte("x"), "a.png"))
	require.Equal(t, "plain", e.ExtractTextFromFile([]byte("plain"), "a.txt"))
}

func TestValidateFile(t *testing.T) {
	require.True(t, ValidateFile(FileInfo{Name: "a.pdf", Size: 1024}, 0).Valid)

	res := ValidateFile(FileInfo{Name: "a.pdf", Size: DefaultMaxFileBytes + 1}, 0)
	require.False(t, res.Valid)
	require.Contains(t, res.Error, "10 MB")

	res = ValidateFile(FileInfo{Name: "a.exe", Size: 10}, 0)
	require.False(t, res.Valid)
	require.Contains(t, res.Error, "unsupported")

	require.False(t, ValidateFile(FileInfo{Name: "", Size: 10}, 0).Valid)
	require.False(t, ValidateFile(FileInfo{Name: "a.txt", Size: -1}, 0).Valid)
	require.True(t, ValidateFile(FileInfo{Name: "a.txt", Size: DefaultMaxFileBytes}, 0).Valid)
}
