package sqlutil

import "testing"

func TestValidIdentifier(t *testing.T) {
	cases := map[string]bool{
		"parcels":       true,
		"parcels_2024":  true,
		"_hidden":       true,
		"2fast":         false,
		"has space":     false,
		"drop table x;": false,
		"":              false,
	}
	for in, want := range cases {
		if got := ValidIdentifier(in); got != want {
			t.Errorf("ValidIdentifier(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestQuoteIdent(t *testing.T) {
	if got := QuoteIdent("owner"); got != `"owner"` {
		t.Errorf("QuoteIdent = %q", got)
	}
	if got := QuoteIdent(`weird"name`); got != `"weird""name"` {
		t.Errorf("QuoteIdent embedded quote = %q", got)
	}
}

func TestQuoteQualified(t *testing.T) {
	if got := QuoteQualified("public", "parcels"); got != `"public"."parcels"` {
		t.Errorf("QuoteQualified = %q", got)
	}
}

func TestQuoteIdentList(t *testing.T) {
	got := QuoteIdentList([]string{"a", "b", "c"})
	want := `"a", "b", "c"`
	if got != want {
		t.Errorf("QuoteIdentList = %q, want %q", got, want)
	}
}
