// Package export renders a profile to HTML and prints it to PDF with
// headless Chrome.
package export

import "errors"

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates the PDF runtime dependency (chromium)
// is unavailable on this host.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
