package auth

import (
	"strings"
	"testing"
)

func TestGenerateState_HasNamespacePrefix(t *testing.T) {
	state := GenerateState("eu")

	if !strings.HasPrefix(state, "eu"+StateSeparator) {
		t.Errorf("state = %q, want prefix %q", state, "eu_")
	}

	// The random part must be non-empty and separator-free so the namespace
	// prefix parses unambiguously.
	random := strings.TrimPrefix(state, "eu"+StateSeparator)
	if random == "" {
		t.Fatal("state has empty random part")
	}
	if strings.Contains(random, StateSeparator) {
		t.Errorf("random part %q contains the separator", random)
	}
}

func TestGenerateState_IsUnguessable(t *testing.T) {
	// Two consecutive tokens must never collide.
	a := GenerateState("eu")
	b := GenerateState("eu")
	if a == b {
		t.Errorf("two generated states are identical: %q", a)
	}
}

func TestValidateState(t *testing.T) {
	cases := []struct {
		name     string
		received string
		expected string
		want     bool
	}{
		{"exact match", "eu_AbC123", "eu_AbC123", true},
		{"mismatch", "eu_WRONG", "eu_AbC123", false},
		{"prefix is not a match", "eu_AbC", "eu_AbC123", false},
		{"no pending state", "eu_AbC123", "", false},
		{"both empty", "", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidateState(tc.received, tc.expected); got != tc.want {
				t.Errorf("ValidateState(%q, %q) = %v, want %v", tc.received, tc.expected, got, tc.want)
			}
		})
	}
}
