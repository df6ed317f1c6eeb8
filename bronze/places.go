package bronze

import "strings"

var indianStates = []string{
	"Andhra Pradesh", "Arunachal Pradesh", "Assam", "Bihar", "Chhattisgarh", "Goa", "Gujarat",
	"Haryana", "Himachal Pradesh", "Jharkhand", "Karnataka", "Kerala", "Madhya Pradesh",
	"Maharashtra", "Manipur", "Meghalaya", "Mizoram", "Nagaland", "Odisha", "Punjab",
	"Rajasthan", "Sikkim", "Tamil Nadu", "Telangana", "Tripura", "Uttar Pradesh", "Uttarakhand",
	"West Bengal", "Jammu and Kashmir", "Ladakh", "Delhi", "Puducherry",
}

// stateByKey maps "madhya_pradesh" style keys to canonical names.
var stateByKey = func() map[string]string {
	m := make(map[string]string, len(indianStates))
	for _, s := range indianStates {
		m[NormalizeKey(s)] = s
	}
	return m
}()

// Place is the geography recovered from filename tokens.
type Place struct {
	State    *string
	District *string
	Market   *string
}

// ExtractPlace scans underscore-separated tokens for a state name of up to three
// tokens; the next two tokens are taken as district and market.
func ExtractPlace(tokens []string) Place {
	n := len(tokens)
	for i := 0; i < n; i++ {
		for take := 3; take >= 1; take-- {
			if i+take > n {
				continue
			}
			key := strings.ToLower(strings.Join(tokens[i:i+take], "_"))
			state, ok := stateByKey[key]
			if !ok {
				continue
			}
			p := Place{State: &state}
			if i+take < n && isPlaceToken(tokens[i+take]) {
				d := tokens[i+take]
				p.District = &d
			}
			if i+take+1 < n && isPlaceToken(tokens[i+take+1]) {
				m := tokens[i+take+1]
				p.Market = &m
			}
			return p
		}
	}
	return Place{}
}

// isPlaceToken rejects dates, coordinates and hash-like suffixes.
func isPlaceToken(tok string) bool {
	if tok == "" {
		return false
	}
	letters := 0
	for _, r := range tok {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			letters++
		}
	}
	if letters == 0 {
		return false
	}
	if _, ok := monthByName[strings.ToLower(tok)]; ok {
		return false
	}
	return true
}
