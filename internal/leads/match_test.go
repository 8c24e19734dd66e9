package leads

import "testing"

func TestMatchCandidatesOrder(t *testing.T) {
	candidates := MatchCandidates("+15551234567")
	if len(candidates) == 0 {
		t.Fatalf("expected candidates")
	}
	if candidates[0] != "+15551234567" {
		t.Fatalf("expected exact candidate first, got %q", candidates[0])
	}

	want := map[string]bool{
		"+15551234567": false,
		"15551234567":  false,
		"5551234567":   false,
		"+5551234567":  false,
	}
	for _, c := range candidates {
		if _, ok := want[c]; ok {
			want[c] = true
		}
	}
	for c, found := range want {
		if !found {
			t.Fatalf("expected candidate %q in %v", c, candidates)
		}
	}
}

func TestMatchCandidatesAddsCountryCode(t *testing.T) {
	candidates := MatchCandidates("5551234567")
	var found bool
	for _, c := range candidates {
		if c == "+15551234567" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected country-code candidate in %v", candidates)
	}
}

func TestMatchCandidatesDeduplicates(t *testing.T) {
	candidates := MatchCandidates("15551234567")
	seen := make(map[string]int)
	for _, c := range candidates {
		seen[c]++
		if seen[c] > 1 {
			t.Fatalf("duplicate candidate %q in %v", c, candidates)
		}
	}
}

func TestMatchCandidatesEmptyInput(t *testing.T) {
	if got := MatchCandidates("  "); len(got) != 0 {
		t.Fatalf("expected no candidates for blank input, got %v", got)
	}
}

func TestStrategyNamesAreUnique(t *testing.T) {
	names := make(map[string]struct{})
	for _, s := range PhoneMatchStrategies {
		if _, dup := names[s.Name]; dup {
			t.Fatalf("duplicate strategy name %q", s.Name)
		}
		names[s.Name] = struct{}{}
	}
}
