package bronze

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	sentinelTooLarge  = "[PAYLOAD_TOO_LARGE:"
	sentinelReadError = "[READ_ERROR:"
)

func tooLargeSentinel(size int64) string {
	return fmt.Sprintf("%s %d bytes]", sentinelTooLarge, size)
}

func readErrorSentinel(err error) string {
	return fmt.Sprintf("%s %v]", sentinelReadError, err)
}

// IsSentinel reports payloads that stand in for content that was never stored.
func IsSentinel(raw string) bool {
	return strings.HasPrefix(raw, sentinelTooLarge) || strings.HasPrefix(raw, sentinelReadError)
}

// PayloadWarning describes one JSON-Lines line that could not be used.
type PayloadWarning struct {
	Line int    `json:"line"`
	Err  string `json:"error"`
}

// ParsePayload splits a stored payload into raw record objects. A whole-text
// JSON array or object is tried first, then one object per line. Bad lines are
// reported and skipped.
func ParsePayload(raw string) ([]json.RawMessage, []PayloadWarning) {
	text := strings.TrimSpace(raw)
	if text == "" || IsSentinel(text) {
		return nil, nil
	}

	var whole any
	if err := json.Unmarshal([]byte(text), &whole); err == nil {
		switch v := whole.(type) {
		case []any:
			return splitArray([]byte(text), len(v))
		case map[string]any:
			return []json.RawMessage{json.RawMessage(text)}, nil
		}
	}
	return parseLines(strings.NewReader(text))
}

func splitArray(text []byte, n int) ([]json.RawMessage, []PayloadWarning) {
	var items []json.RawMessage
	if err := json.Unmarshal(text, &items); err != nil {
		return nil, []PayloadWarning{{Line: 0, Err: err.Error()}}
	}
	out := make([]json.RawMessage, 0, n)
	var warnings []PayloadWarning
	for i, it := range items {
		if !isObject(it) {
			warnings = append(warnings, PayloadWarning{Line: i + 1, Err: "array element is not an object"})
			continue
		}
		out = append(out, it)
	}
	return out, warnings
}

func parseLines(r io.Reader) ([]json.RawMessage, []PayloadWarning) {
	var out []json.RawMessage
	var warnings []PayloadWarning
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		if !json.Valid(b) {
			warnings = append(warnings, PayloadWarning{Line: line, Err: "malformed JSON"})
			continue
		}
		if !isObject(b) {
			warnings = append(warnings, PayloadWarning{Line: line, Err: "line is not a JSON object"})
			continue
		}
		out = append(out, json.RawMessage(append([]byte(nil), b...)))
	}
	if err := sc.Err(); err != nil {
		warnings = append(warnings, PayloadWarning{Line: line + 1, Err: err.Error()})
	}
	return out, warnings
}

func isObject(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '{'
}

// maxLineBytes bounds a single JSON-Lines record.
const maxLineBytes = 16 * 1024 * 1024

// countRows returns the row count stored on a bronze file: non-blank lines for
// JSON-Lines, array length for JSON arrays, otherwise 1.
func countRows(format string, r io.Reader) (int, error) {
	if format == FormatJSONL {
		n := 0
		br := bufio.NewReaderSize(r, 64*1024)
		nonBlank := false
		for {
			chunk, err := br.ReadSlice('\n')
			if len(bytes.TrimSpace(chunk)) > 0 {
				nonBlank = true
			}
			if err == bufio.ErrBufferFull {
				continue
			}
			if nonBlank {
				n++
			}
			nonBlank = false
			if err == io.EOF {
				return n, nil
			}
			if err != nil {
				return n, err
			}
		}
	}
	// Arrays are counted element by element so oversized files are never held whole.
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return 1, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return 1, nil
	}
	n := 0
	for dec.More() {
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return n, err
		}
		n++
	}
	if _, err := dec.Token(); err != nil {
		return n, err
	}
	return n, nil
}
