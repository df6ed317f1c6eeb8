package bronze

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Source names a producer whose files share one record layout.
type Source string

const (
	SourceAgmarknet Source = "agmarknet"
	SourceEnam      Source = "enam"
)

var knownSources = []Source{SourceAgmarknet, SourceEnam}

// ParseSource accepts the canonical names plus a few spellings seen in directory names.
func ParseSource(v string) (Source, error) {
	s := strings.ToLower(strings.TrimSpace(v))
	switch s {
	case "agmarknet", "agmarket", "agmark":
		return SourceAgmarknet, nil
	case "enam", "e-nam", "e_nam":
		return SourceEnam, nil
	default:
		return "", fmt.Errorf("unknown source %q", v)
	}
}

// InferSource guesses the source from directory segments of the path.
func InferSource(path string) (Source, bool) {
	for _, part := range strings.Split(strings.ToLower(filepath.ToSlash(path)), "/") {
		if src, err := ParseSource(part); err == nil {
			return src, true
		}
	}
	return "", false
}

const (
	FormatJSON  = "json"
	FormatJSONL = "jsonl"

	CompressionGzip = "gzip"
)

// DetectFormat maps a file name to its payload format. Only .json and .jsonl,
// optionally gzip-compressed, are recognized.
func DetectFormat(path string) (format string, compression string, ok bool) {
	name := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(name, ".gz") {
		compression = CompressionGzip
		name = strings.TrimSuffix(name, ".gz")
	}
	switch filepath.Ext(name) {
	case ".json":
		return FormatJSON, compression, true
	case ".jsonl":
		return FormatJSONL, compression, true
	default:
		return "", "", false
	}
}

// stripDataExt removes .json/.jsonl and an optional .gz from a base name.
func stripDataExt(base string) string {
	lower := strings.ToLower(base)
	for _, ext := range []string{".jsonl.gz", ".json.gz", ".jsonl", ".json"} {
		if strings.HasSuffix(lower, ext) {
			return base[:len(base)-len(ext)]
		}
	}
	return base
}
