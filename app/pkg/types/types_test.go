package types

import "testing"

func TestParseCategory(t *testing.T) {
	cases := map[string]struct {
		want Category
		ok   bool
	}{
		"code":        {CategoryCode, true},
		"  Business ": {CategoryBusiness, true},
		"SUMMARY":     {CategorySummary, true},
		"nonsense":    {"", false},
		"":            {"", false},
	}
	for raw, expected := range cases {
		got, ok := ParseCategory(raw)
		if ok != expected.ok || got != expected.want {
			t.Fatalf("ParseCategory(%q) = %q, %v", raw, got, ok)
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusProcessing},
		{StatusPending, StatusCompleted},
		{StatusPending, StatusFailed},
		{StatusProcessing, StatusCompleted},
		{StatusProcessing, StatusFailed},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Fatalf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusProcessing, StatusPending},
		{StatusCompleted, StatusPending},
		{StatusCompleted, StatusProcessing},
		{StatusCompleted, StatusFailed},
		{StatusFailed, StatusPending},
		{StatusFailed, StatusCompleted},
	}
	for _, tc := range denied {
		if tc.from.CanTransitionTo(tc.to) {
			t.Fatalf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusPending.Terminal() || StatusProcessing.Terminal() {
		t.Fatal("pending and processing are not terminal")
	}
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Fatal("completed and failed are terminal")
	}
}

func TestCategoriesCoverAllHandlers(t *testing.T) {
	if len(Categories()) != 8 {
		t.Fatalf("expected 8 categories, got %d", len(Categories()))
	}
}
