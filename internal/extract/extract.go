// Package extract converts course attachments into plain text.
package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"coursesearch/internal/util"

	"github.com/ledongthuc/pdf"
)

// DefaultMaxFileBytes is the size ceiling applied by ValidateFile.
const DefaultMaxFileBytes int64 = 10 * 1024 * 1024

var supported = map[string]struct{}{
	"pdf":  {},
	"docx": {},
	"doc":  {},
	"txt":  {},
}

// Extension returns the lower-case extension of fileName without the dot.
func Extension(fileName string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
}

func Supported(fileName string) bool {
	_, ok := supported[Extension(fileName)]
	return ok
}

type Extractor struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger.With("component", "extract")}
}

// ExtractTextFromFile never fails: unsupported types and extraction errors
// are logged and yield "".
func (e *Extractor) ExtractTextFromFile(data []byte, fileName string) string {
	text, err := ExtractText(data, fileName)
	if err != nil {
		e.logger.Warn("text extraction skipped", "file", fileName, "err", err)
		return ""
	}
	return text
}

// ExtractText dispatches on the file extension. Errors wrap util.ErrExtraction.
func ExtractText(data []byte, fileName string) (string, error) {
	var (
		text string
		err  error
	)
	switch ext := Extension(fileName); ext {
	case "pdf":
		text, err = pdfText(data)
	case "docx", "doc":
		text, err = wordText(data)
	case "txt":
		text = plainText(data)
	default:
		return "", fmt.Errorf("%w: unsupported file type %q", util.ErrExtraction, ext)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", util.ErrExtraction, fileName, err)
	}
	return util.SanitizeText(text), nil
}

func pdfText(data []byte) (text string, err error) {
	// the pdf reader panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("read pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, reader); err != nil {
		return "", fmt.Errorf("read extracted text: %w", err)
	}
	out := strings.TrimSpace(buf.String())
	if out == "" {
		return "", util.ErrNoExtractableText
	}
	return out, nil
}

// wordText reads word/document.xml from an OOXML package. Legacy binary .doc
// files are not zip archives and fail here.
func wordText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open word archive: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open document.xml: %w", err)
		}
		defer rc.Close()
		return documentXMLText(rc)
	}
	return "", fmt.Errorf("word/document.xml missing")
}

func documentXMLText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func plainText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "")
}

type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type ValidationResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ValidateFile checks size and extension before any bytes are fetched.
func ValidateFile(f FileInfo, maxBytes int64) ValidationResult {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	if strings.TrimSpace(f.Name) == "" {
		return ValidationResult{Error: "file name is required"}
	}
	if f.Size < 0 {
		return ValidationResult{Error: "file size is invalid"}
	}
	if f.Size > maxBytes {
		return ValidationResult{Error: fmt.Sprintf("file exceeds %d MB limit", maxBytes/(1024*1024))}
	}
	if !Supported(f.Name) {
		return ValidationResult{Error: fmt.Sprintf("unsupported file type %q", Extension(f.Name))}
	}
	return ValidationResult{Valid: true}
}
