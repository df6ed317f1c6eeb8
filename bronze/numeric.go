package bronze

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// NullableNumber decodes a measurement from JSON numbers or loosely formatted
// strings. Present is true when the key appeared in the record at all.
type NullableNumber struct {
	Value   *float64
	Present bool
}

func (n *NullableNumber) UnmarshalJSON(b []byte) error {
	n.Present = true
	n.Value = nil
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		n.Value = ParseNumeric(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		// booleans, objects and arrays are not measurements
		return nil
	}
	n.Value = &f
	return nil
}

// Null reports a key that was present but carried no usable value.
func (n NullableNumber) Null() bool {
	return n.Present && n.Value == nil
}

var missingTokens = map[string]struct{}{
	"na":   {},
	"n/a":  {},
	"null": {},
	"none": {},
	"-":    {},
}

// ParseNumeric applies the coercion policy: blanks, na/n/a/null/none and
// unparseable text are missing; thousands separators are ignored.
func ParseNumeric(s string) *float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return nil
	}
	if _, ok := missingTokens[strings.ToLower(s)]; ok {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
