package fuzzy

import (
	"strings"
	"testing"
)

func TestLevenshteinRatio(t *testing.T) {
	if r := LevenshteinRatio("acme", "acme"); r != 1.0 {
		t.Errorf("identical strings should score 1.0, got %f", r)
	}
	// "kitten" -> "sitting": 3 edits over max length 7
	r := LevenshteinRatio("kitten", "sitting")
	want := 1.0 - 3.0/7.0
	if diff := r - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("kitten/sitting: got %f want %f", r, want)
	}
	if r := LevenshteinRatio("", ""); r != 1.0 {
		t.Errorf("two empty strings should score 1.0, got %f", r)
	}
	if r := LevenshteinRatio("abc", ""); r != 0.0 {
		t.Errorf("empty vs non-empty should score 0.0, got %f", r)
	}
}

func TestTokenSortRatio_Reordered(t *testing.T) {
	// Reordered tokens must score 1.0 under token-sort.
	if r := TokenSortRatio("ACME Corporation", "Corporation ACME"); r != 1.0 {
		t.Errorf("reordered tokens should score 1.0, got %f", r)
	}
}

func TestTokenSetRatio_DuplicatedTokens(t *testing.T) {
	// Duplicated tokens collapse under set semantics.
	if r := TokenSetRatio("acme acme corp", "acme corp"); r != 1.0 {
		t.Errorf("duplicated tokens should score 1.0 as sets, got %f", r)
	}
}

func TestCompositeScore_Bounds(t *testing.T) {
	pairs := [][2]string{
		{"ACME Corporation", "ACME Corp"},
		{"Beta Industries", "Gamma Logistics"},
		{"", "anything"},
	}
	for _, p := range pairs {
		s := CompositeScore(p[0], p[1])
		if s < 0.0 || s > 1.0 {
			t.Errorf("CompositeScore(%q, %q) = %f out of [0,1]", p[0], p[1], s)
		}
	}
	if s := CompositeScore("ACME Corporation", "ACME Corporation"); s < 0.999 {
		t.Errorf("identical names should score ~1.0, got %f", s)
	}
}

func TestSoundex(t *testing.T) {
	cases := map[string]string{
		"Robert":   "R163",
		"Rupert":   "R163",
		"Ashcraft": "A261",
		"Tymczak":  "T522",
		"Pfister":  "P236",
	}
	for in, want := range cases {
		if got := Soundex(in); got != want {
			t.Errorf("Soundex(%q) = %q, want %q", in, got, want)
		}
	}
	if Soundex("12345") != "" {
		t.Error("digit-only input should yield empty soundex")
	}
}

func TestPhoneticMatch(t *testing.T) {
	if PhoneticMatch("Robert", "Rupert") != 1.0 {
		t.Error("Robert/Rupert share a soundex code")
	}
	if PhoneticMatch("Robert", "Acme") != 0.0 {
		t.Error("Robert/Acme do not share a soundex code")
	}
}

func TestOCRVariants_Bounded(t *testing.T) {
	// Variant count must stay bounded regardless of input composition.
	inputs := []string{
		"PO-12345",
		"P0-l2345",
		"00000000001111111111",
		"rnrnrnrnrn",
		strings.Repeat("0", 40),
	}
	for _, in := range inputs {
		vs := OCRVariants(in)
		if len(vs) > maxOCRVariants+1 {
			t.Errorf("OCRVariants(%q) produced %d entries, cap is %d", in, len(vs), maxOCRVariants+1)
		}
		if vs[0] != in {
			t.Errorf("first entry should be the input itself, got %q", vs[0])
		}
	}
}

func TestOCRVariants_LongInputUnchanged(t *testing.T) {
	long := strings.Repeat("0", 51)
	vs := OCRVariants(long)
	if len(vs) != 1 || vs[0] != long {
		t.Errorf("inputs over 50 chars must be returned unchanged, got %d variants", len(vs))
	}
}

func TestOCRVariants_ConfusionTable(t *testing.T) {
	vs := OCRVariants("P0")
	found := false
	for _, v := range vs {
		if v == "PO" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected 0->O substitution in variants of P0, got %v", vs)
	}
}

func TestTFIDF_BestMatch(t *testing.T) {
	corpus := []string{"ACME Corporation", "Beta Industries", "Gamma Logistics"}
	m := NewTFIDF(corpus)

	best, cos := m.BestMatch("ACME Corp")
	if best != "ACME Corporation" {
		t.Errorf("best match = %q, want ACME Corporation", best)
	}
	if cos <= 0.0 || cos > 1.0 {
		t.Errorf("cosine %f out of (0,1]", cos)
	}

	// Similarity is gated on the argmax corpus entry.
	if s := m.Similarity("ACME Corp", "Beta Industries"); s != 0.0 {
		t.Errorf("non-argmax candidate should score 0, got %f", s)
	}
	if s := m.Similarity("ACME Corp", "ACME Corporation"); s != cos {
		t.Errorf("argmax candidate should return the cosine %f, got %f", cos, s)
	}
}

func TestTFIDF_EmptyCorpus(t *testing.T) {
	m := NewTFIDF(nil)
	if s := m.Similarity("anything", "anything"); s != 0.0 {
		t.Errorf("empty corpus must score 0, got %f", s)
	}
}

func TestFindBestVendorMatch_OCRNoise(t *testing.T) {
	vm := NewVendorMatcher([]string{"ACME Corporation", "Beta Industries"}, true, false)

	// "ACME C0rporation" carries a 0/O confusion.
	m := vm.FindBestVendorMatch("ACME C0rporation", []string{"ACME Corporation", "Beta Industries"})
	if m.Candidate != "ACME Corporation" {
		t.Errorf("best candidate = %q, want ACME Corporation", m.Candidate)
	}
	if m.Score < 0.9 {
		t.Errorf("OCR-corrected score should be high, got %f", m.Score)
	}
}
