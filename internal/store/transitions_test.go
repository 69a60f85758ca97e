package store

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"claim_next", "waiting", true},
		{"claim_next", "serving", false},
		{"claim_next", "done", false},
		{"complete", "serving", true},
		{"complete", "waiting", false},
		{"complete", "done", false},
		{"skip", "serving", true},
		{"skip", "waiting", false},
		{"skip", "skipped", false},
		{"cancel", "serving", true},
		{"cancel", "waiting", false},
		{"cancel", "cancelled", false},
		{"transfer", "waiting", true},
		{"transfer", "serving", true},
		{"transfer", "done", false},
		{"transfer", "skipped", false},
		{"unknown", "waiting", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []string{"done", "skipped", "cancelled"}
	for _, status := range terminal {
		if !IsTerminal(status) {
			t.Fatalf("expected %q terminal", status)
		}
	}
	active := []string{"waiting", "serving", ""}
	for _, status := range active {
		if IsTerminal(status) {
			t.Fatalf("expected %q not terminal", status)
		}
	}
}
