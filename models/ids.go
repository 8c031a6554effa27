package models

import (
	"fmt"
	"strings"
)

// SanitizeFilename keeps only [A-Za-z0-9._-], dropping every other rune.
// The sanitized name is load-bearing: it keys FileSummary and SlideRecord
// documents, so it must be applied identically wherever an id is formed.
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SlideRecordID is the deterministic per-page document id. Re-runs of the
// same file produce the same ids and overwrite previous records.
func SlideRecordID(sanitizedFilename string, pageNumber int) string {
	return fmt.Sprintf("%s_p%d", sanitizedFilename, pageNumber)
}

// ResultItemID keys a ResultItem by batch and sanitized filename.
func ResultItemID(batchID, filename string) string {
	return batchID + "_" + SanitizeFilename(filename)
}
