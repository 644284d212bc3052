package blob

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// SniffDetector is the default MIME detector: content sniffing over
// the first 512 bytes, falling back to the path extension when
// sniffing is inconclusive.
type SniffDetector struct{}

// Detect returns the MIME type of data.
func (SniffDetector) Detect(name string, data []byte) (string, error) {
	sniffed := http.DetectContentType(data)
	if sniffed != "application/octet-stream" {
		// Sniffing reports parameters (e.g. "; charset=utf-8") that the
		// ledger does not record.
		if mediaType, _, err := mime.ParseMediaType(sniffed); err == nil {
			return mediaType, nil
		}
		return sniffed, nil
	}

	if ext := filepath.Ext(name); ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
				return mediaType, nil
			}
			return byExt, nil
		}
	}
	return "application/octet-stream", nil
}

// FixedDetector always reports the same MIME type. Use in tests.
type FixedDetector struct {
	MimeType string
}

// Detect returns the configured MIME type regardless of content.
func (d FixedDetector) Detect(name string, data []byte) (string, error) {
	if strings.TrimSpace(d.MimeType) == "" {
		return "application/octet-stream", nil
	}
	return d.MimeType, nil
}
