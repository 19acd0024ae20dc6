// Package export renders a content item together with its inline comments as
// a standalone HTML page or a PDF.
package export

import (
	"errors"

	"lessonmark/api/internal/comments"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ParseFormat maps a query value to a Format. Empty means HTML.
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Request contains parameters for an export operation
type Request struct {
	ContentID       string
	Format          Format
	IncludeResolved bool
	Caller          comments.Caller
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrUnsupportedFormat indicates the requested format is not one of FormatHTML or FormatPDF.
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrContentUnavailable indicates content could not be decoded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrContentChanged indicates the content kept changing while the export was assembled.
	ErrContentChanged = errors.New("export content changed")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrPDFDisabled indicates PDF export was turned off by configuration.
	ErrPDFDisabled = errors.New("export pdf disabled")
)
