// Package classify categorizes files into the ingestion pipelines by extension.
package classify

import (
	"path/filepath"
	"strings"

	"github.com/healthfolio/folio/internal/model"
)

// Structured formats import directly into records: FHIR bundles, archives,
// and Epic EHI tabular exports.
var structuredExtensions = map[string]bool{
	".json": true,
	".zip":  true,
	".tsv":  true,
	".csv":  true,
}

// Unstructured formats require AI extraction before they can become records.
var unstructuredExtensions = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".md":   true,
	".rtf":  true,
	".docx": true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tiff": true,
}

// Classify returns the ingestion category for a filename. Files matching
// neither allow-list come back as CategoryUnknown; callers skip those rather
// than treating them as an error.
func Classify(filename string) model.FileCategory {
	ext := strings.ToLower(filepath.Ext(filename))

	switch {
	case structuredExtensions[ext]:
		return model.CategoryStructured
	case unstructuredExtensions[ext]:
		return model.CategoryUnstructured
	default:
		return model.CategoryUnknown
	}
}

// Partition splits payloads into structured and unstructured sets, preserving
// input order within each set. Unclassified files are dropped.
func Partition(files []model.FilePayload) (structured, unstructured []model.FilePayload) {
	for _, f := range files {
		switch Classify(f.Name) {
		case model.CategoryStructured:
			structured = append(structured, f)
		case model.CategoryUnstructured:
			unstructured = append(unstructured, f)
		}
	}
	return structured, unstructured
}
