package fusion

import (
	"reflect"
	"testing"
)

func TestTokenize_splits_punctuation(t *testing.T) {
	got := Tokenize("Les grandes villes sont Marseille,")
	want := []string{"Les", "grandes", "villes", "sont", "Marseille", ","}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokenize: got %v, want %v", got, want)
	}
}

func TestTokenize_empty(t *testing.T) {
	if got := Tokenize(""); got != nil {
		t.Errorf("Tokenize(\"\") = %v, want nil", got)
	}
	if got := Tokenize("   \t "); len(got) != 0 {
		t.Errorf("Tokenize(whitespace) = %v, want empty", got)
	}
}

func TestTokenize_guillemets(t *testing.T) {
	got := Tokenize("« Bonjour » dit-il.")
	want := []string{"«", "Bonjour", "»", "dit-il", "."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokenize: got %v, want %v", got, want)
	}
}

func TestDetokenize_attaches_closing_punctuation(t *testing.T) {
	got := Detokenize([]string{"Nice", "et", "Toulon", "."})
	if got != "Nice et Toulon." {
		t.Errorf("Detokenize: got %q", got)
	}
}

func TestDetokenize_attaches_opening_quote(t *testing.T) {
	// No space after the opening guillemet, none before the closing one.
	got := Detokenize([]string{"«", "Bonjour", "»"})
	if got != "«Bonjour»" {
		t.Errorf("Detokenize: got %q", got)
	}
}

func TestDetokenize_empty(t *testing.T) {
	if got := Detokenize(nil); got != "" {
		t.Errorf("Detokenize(nil) = %q", got)
	}
}

func TestNormalize_round_trip(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Bonjour.", "Bonjour."},
		{"un  deux   trois", "un deux trois"},
		{"salut , toi", "salut, toi"},
		{"Les grandes villes sont Marseille,", "Les grandes villes sont Marseille,"},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSimilarity_identical(t *testing.T) {
	if got := Similarity("Marseille", "marseille"); got != 1 {
		t.Errorf("case-insensitive identical words: got %v, want 1", got)
	}
}

func TestSimilarity_both_empty_is_zero(t *testing.T) {
	if got := Similarity("", ""); got != 0 {
		t.Errorf("Similarity(\"\", \"\") = %v, want 0", got)
	}
}

func TestSimilarity_one_empty_is_zero(t *testing.T) {
	if got := Similarity("mot", ""); got != 0 {
		t.Errorf("Similarity(\"mot\", \"\") = %v, want 0", got)
	}
}

func TestSimilarity_close_words(t *testing.T) {
	// One added letter on a nine-letter word.
	if got := Similarity("Marseille", "Marseilles"); got < 0.8 {
		t.Errorf("expected >= 0.8, got %v", got)
	}
	if got := Similarity("chat", "vélo"); got >= 0.8 {
		t.Errorf("unrelated words should score low, got %v", got)
	}
}

func TestFindOverlap_empty_sides(t *testing.T) {
	a := []string{"un", "deux"}
	if n, _ := FindOverlap(a, nil); n != 0 {
		t.Errorf("FindOverlap(A, []) = %d, want 0", n)
	}
	if n, _ := FindOverlap(nil, a); n != 0 {
		t.Errorf("FindOverlap([], B) = %d, want 0", n)
	}
}

func TestFindOverlap_self_is_full_length(t *testing.T) {
	a := []string{"un", "deux", "trois", "quatre"}
	n, suffix := FindOverlap(a, a)
	if n != len(a) {
		t.Errorf("FindOverlap(A, A) = %d, want %d", n, len(a))
	}
	if !reflect.DeepEqual(suffix, a) {
		t.Errorf("suffix = %v, want %v", suffix, a)
	}
}

func TestFindOverlap_self_capped_at_15(t *testing.T) {
	a := make([]string, 20)
	for i := range a {
		a[i] = string(rune('a' + i))
	}
	n, _ := FindOverlap(a, a)
	if n != 15 {
		t.Errorf("FindOverlap over long input = %d, want 15", n)
	}
}

func TestFindOverlap_scenario_prefix(t *testing.T) {
	prev := Tokenize("Les grandes villes sont Marseille,")
	next := Tokenize("sont Marseille, Nice et Toulon")
	n, suffix := FindOverlap(prev, next)
	if n != 3 {
		t.Fatalf("overlap length = %d, want 3", n)
	}
	if got := Detokenize(suffix); got != "sont Marseille," {
		t.Errorf("overlap suffix = %q, want %q", got, "sont Marseille,")
	}
}

func TestFindOverlap_no_overlap(t *testing.T) {
	prev := Tokenize("le ciel est bleu")
	next := Tokenize("demain il pleuvra")
	if n, _ := FindOverlap(prev, next); n != 0 {
		t.Errorf("expected no overlap, got %d", n)
	}
}

func TestFindOverlap_fuzzy_tolerates_typo(t *testing.T) {
	// Two of three aligned pairs are exact, one is a near miss: the typo
	// still clears 0.8 similarity so the full overlap is kept.
	prev := Tokenize("il habite à Marseille depuis")
	next := Tokenize("à Marseile depuis longtemps")
	n, _ := FindOverlap(prev, next)
	if n != 3 {
		t.Errorf("expected fuzzy overlap of 3, got %d", n)
	}
}
