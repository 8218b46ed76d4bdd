package filetype

import (
	"sort"
	"strings"
)

// Extensions the index provider can parse and embed. Images and other
// binary formats are rejected before any remote call is made.
var supportedExtensions = map[string]struct{}{
	".pdf": {}, ".docx": {}, ".doc": {}, ".pptx": {}, ".ppt": {},
	".xlsx": {}, ".xls": {}, ".txt": {}, ".rtf": {},
	".odt": {}, ".ods": {}, ".odp": {}, ".csv": {}, ".tsv": {},
	".json": {}, ".xml": {}, ".html": {}, ".htm": {},
	".md": {}, ".markdown": {}, ".tex": {}, ".latex": {},
	".epub": {}, ".mobi": {}, ".azw3": {},
}

// Extension returns the lowercase dotted extension of a file name, or
// "" when there is none.
func Extension(fileName string) string {
	idx := strings.LastIndex(fileName, ".")
	if idx < 0 || idx == len(fileName)-1 {
		return ""
	}
	return strings.ToLower(fileName[idx:])
}

// Supported reports whether the file's extension is indexable.
func Supported(fileName string) bool {
	_, ok := supportedExtensions[Extension(fileName)]
	return ok
}

// IsPDF reports whether the file is a PDF, the only type the pipeline
// probes locally before uploading.
func IsPDF(fileName string) bool {
	return Extension(fileName) == ".pdf"
}

// SupportedList returns the sorted extension set for error messages.
func SupportedList() string {
	exts := make([]string, 0, len(supportedExtensions))
	for ext := range supportedExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return strings.Join(exts, ", ")
}
