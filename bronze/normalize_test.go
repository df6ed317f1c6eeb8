package bronze

import "testing"

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		"  Alpha Market ":        "alpha_market",
		"Madhya-Pradesh":         "madhya_pradesh",
		"APMC (Indore), Main":    "apmc_indore_main",
		"__already__normal__":    "already_normal",
		"Wheat":                  "wheat",
		"":                       "",
		"Lasalgaon(Niphad) APMC": "lasalgaon_niphad_apmc",
	}
	for in, want := range cases {
		if got := NormalizeKey(in); got != want {
			t.Fatalf("NormalizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeOptional(t *testing.T) {
	if NormalizeOptional(nil) != nil {
		t.Fatalf("expected nil for nil input")
	}
	blank := " -- "
	if NormalizeOptional(&blank) != nil {
		t.Fatalf("expected nil for punctuation-only input")
	}
	v := "FAQ Grade"
	if got := NormalizeOptional(&v); got == nil || *got != "faq_grade" {
		t.Fatalf("unexpected normalized value: %v", got)
	}
}

func TestHashHex(t *testing.T) {
	full := HashHex("foo", 0)
	if len(full) != 64 {
		t.Fatalf("expected full sha256 hex, got %d chars", len(full))
	}
	if HashHex("foo", 32) != full[:32] {
		t.Fatalf("truncated hash should be a prefix of the full hash")
	}
	if HashHex("foo", 32) == HashHex("bar", 32) {
		t.Fatalf("different input should hash differently")
	}
}
