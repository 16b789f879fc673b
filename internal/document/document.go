// Package document turns input files into the plain text an extraction runs
// on. Plain text, HTML, EML, DOCX and BibTeX are supported. Images need OCR
// and are rejected with ErrUnsupportedFormat; PDF is not read yet and fails
// with ErrPDFNotSupported.
package document

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

// ErrUnsupportedFormat is returned for inputs no loader can read.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// ErrPDFNotSupported is returned for PDF input. It wraps ErrUnsupportedFormat.
// TODO: read PDF text once a pure-Go reader can be pinned in go.mod.
var ErrPDFNotSupported = fmt.Errorf("pdf text extraction is not supported, convert the file to text or docx first: %w", ErrUnsupportedFormat)

// Format names a loader.
type Format string

const (
	FormatText Format = "text"
	FormatHTML Format = "html"
	FormatEML  Format = "eml"
	FormatDOCX Format = "docx"
	FormatBIB  Format = "bib"
)

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// Document is a loaded input file.
type Document struct {
	Name     string
	Format   Format
	MIMEType string
	Text     string
}

// Load reads and converts the file at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return LoadBytes(filepath.Base(path), data)
}

// LoadBytes converts data. The name's extension picks the loader; content
// sniffing decides when the extension is unknown.
func LoadBytes(name string, data []byte) (*Document, error) {
	mtype := mimetype.Detect(data)
	format, err := detectFormat(name, mtype)
	if err != nil {
		return nil, fmt.Errorf("%s (%s): %w", name, mtype.String(), err)
	}

	var text string
	switch format {
	case FormatHTML:
		text, err = htmlText(data)
	case FormatEML:
		text, err = emlText(data)
	case FormatDOCX:
		text, err = docxText(data)
	default:
		text = plainText(data)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return &Document{Name: name, Format: format, MIMEType: mtype.String(), Text: text}, nil
}

func detectFormat(name string, mtype *mimetype.MIME) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".text", ".md", ".csv", ".json":
		return FormatText, nil
	case ".html", ".htm", ".xhtml":
		return FormatHTML, nil
	case ".eml":
		return FormatEML, nil
	case ".docx":
		return FormatDOCX, nil
	case ".bib":
		return FormatBIB, nil
	case ".pdf":
		return "", ErrPDFNotSupported
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".doc":
		return "", ErrUnsupportedFormat
	}

	switch {
	case mtype.Is("application/pdf"):
		return "", ErrPDFNotSupported
	case mtype.Is("text/html"):
		return FormatHTML, nil
	case mtype.Is(docxMIME):
		return FormatDOCX, nil
	case mtype.Is("message/rfc822"):
		return FormatEML, nil
	}
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return FormatText, nil
		}
	}
	return "", ErrUnsupportedFormat
}

// plainText decodes data as UTF-8, dropping invalid sequences.
func plainText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "")
}
