package wildcard

import (
	"strings"
	"testing"
)

func TestCompileAnchoring(t *testing.T) {
	cases := []struct {
		wildcard string
		text     string
		want     bool
	}{
		{"*cat*", "concatenate", true},
		{"cat*", "category", true},
		{"cat*", "concatenate", false},
		{"*cat", "concat", true},
		{"*cat", "category", false},
		{"cat", "a cat sat", true},
		{"cat", "category", false},
		{"cat", "CAT", true},
	}

	for _, tc := range cases {
		if got := Test(tc.wildcard, tc.text); got != tc.want {
			t.Fatalf("Test(%q, %q) = %t, want %t", tc.wildcard, tc.text, got, tc.want)
		}
	}
}

func TestCompileMatchesCoreLiteral(t *testing.T) {
	for _, wildcard := range []string{"spam", "*spam", "spam*", "*spam*", "fr*ee"} {
		patterns, errs := Compile(wildcard)
		if len(errs) > 0 {
			t.Fatalf("Compile(%q) errors: %v", wildcard, errs)
		}
		if len(patterns) != 1 {
			t.Fatalf("Compile(%q) returned %d patterns", wildcard, len(patterns))
		}
		core := strings.ReplaceAll(wildcard, "*", "")
		if !Test(wildcard, core) {
			t.Fatalf("Compile(%q) does not match its own literal %q", wildcard, core)
		}
	}
}

func TestCompileRejectsBroadAndShort(t *testing.T) {
	patterns, errs := Compile("***")
	if len(patterns) != 0 || len(errs) != 1 {
		t.Fatalf("expected single rejection for all-wildcard input, got %v / %v", patterns, errs)
	}
	if !strings.Contains(errs[0].Reason, "non-wildcard") {
		t.Fatalf("unexpected reason: %s", errs[0].Reason)
	}

	_, errs = Compile("a")
	if len(errs) != 1 || !strings.Contains(errs[0].Reason, "too short") {
		t.Fatalf("expected too-short rejection, got %v", errs)
	}
}

func TestCompilePartialFailureKeepsSiblings(t *testing.T) {
	patterns, errs := Compile("badword, *, spam*")
	if len(patterns) != 2 {
		t.Fatalf("expected 2 valid patterns, got %d", len(patterns))
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 validation error, got %d", len(errs))
	}
	if patterns[0].Wildcard != "badword" || patterns[1].Wildcard != "spam*" {
		t.Fatalf("unexpected surviving patterns: %+v", patterns)
	}
}

func TestCompileEscapesRegexSpecials(t *testing.T) {
	patterns, errs := Compile("1.5")
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if !Test("1.5", "version 1.5 rocks") {
		t.Fatalf("escaped literal should match itself")
	}
	if Test("1.5", "1x5") {
		t.Fatalf("regex specials must not keep their meaning")
	}
	if patterns[0].Flags != "i" {
		t.Fatalf("expected case-insensitive flag, got %q", patterns[0].Flags)
	}
}

func TestInteriorWildcard(t *testing.T) {
	if !Test("fr*ee", "claim your frrrree prize") {
		t.Fatalf("interior wildcard should match a non-whitespace run")
	}
	if Test("fr*ee", "fr ee") {
		t.Fatalf("interior wildcard must not cross whitespace")
	}
}

func TestDescribe(t *testing.T) {
	cases := map[string]string{
		"*word*": "Contains word",
		"word*":  "Starts with word",
		"*word":  "Ends with word",
		"word":   "Exact word word",
	}
	for segment, want := range cases {
		if got := Describe(segment); got != want {
			t.Fatalf("Describe(%q) = %q, want %q", segment, got, want)
		}
	}
}

func TestTestSwallowsInvalidInput(t *testing.T) {
	if Test("***", "anything") {
		t.Fatalf("invalid wildcard should report false, not error")
	}
	if Test("", "anything") {
		t.Fatalf("empty wildcard should report false")
	}
}
