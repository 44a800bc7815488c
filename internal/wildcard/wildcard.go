// Package wildcard compiles staff-authored wildcard expressions into
// regular expressions. The syntax is deliberately small: `*` matches any
// run of non-whitespace characters, everything else is literal. A segment
// without a leading/trailing `*` is anchored to word boundaries, so `cat`
// matches the word "cat" but not "category".
//
// Compiled patterns run on Go's regexp package, which guarantees linear
// scan time. Staff-authored patterns are adversarial input, so a
// backtracking engine is off the table here.
package wildcard

import (
	"fmt"
	"regexp"
	"strings"
)

// Flags applied to every compiled pattern.
const Flags = "i"

// Pattern is an immutable compiled wildcard segment.
type Pattern struct {
	Wildcard string `json:"wildcard"`
	Regex    string `json:"regex"`
	Flags    string `json:"flags"`
	Label    string `json:"label"`
}

// ValidationError reports a single rejected segment. Sibling segments are
// unaffected; staff get the exact segment back so they can fix it.
type ValidationError struct {
	Segment string
	Reason  string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("pattern %q: %s", e.Segment, e.Reason)
}

// Compile splits input on commas and compiles each trimmed, non-empty
// segment. Invalid segments are collected as validation errors; valid
// segments still compile.
func Compile(input string) ([]Pattern, []ValidationError) {
	var patterns []Pattern
	var errs []ValidationError

	for _, raw := range strings.Split(input, ",") {
		segment := strings.TrimSpace(raw)
		if segment == "" {
			continue
		}

		if len(strings.ReplaceAll(segment, "*", "")) == 0 {
			errs = append(errs, ValidationError{Segment: segment, Reason: "must contain at least one non-wildcard character"})
			continue
		}
		if !strings.Contains(segment, "*") && len([]rune(segment)) < 2 {
			errs = append(errs, ValidationError{Segment: segment, Reason: "too short, use at least 2 characters"})
			continue
		}

		expr := toRegex(segment)
		if _, err := regexp.Compile("(?" + Flags + ")" + expr); err != nil {
			errs = append(errs, ValidationError{Segment: segment, Reason: "does not compile: " + err.Error()})
			continue
		}

		patterns = append(patterns, Pattern{
			Wildcard: segment,
			Regex:    expr,
			Flags:    Flags,
			Label:    Describe(segment),
		})
	}

	return patterns, errs
}

// Describe renders a human summary of a segment based on which sides carry
// wildcards: "Contains X", "Starts with X", "Ends with X" or "Exact word X".
func Describe(segment string) string {
	leading := strings.HasPrefix(segment, "*")
	trailing := strings.HasSuffix(segment, "*")
	core := strings.Trim(segment, "*")

	switch {
	case leading && trailing:
		return "Contains " + core
	case leading:
		return "Ends with " + core
	case trailing:
		return "Starts with " + core
	default:
		return "Exact word " + core
	}
}

// Test compiles a single wildcard segment and runs it against text. Used
// for live previews; any compile failure is reported as a non-match.
func Test(wildcard, text string) bool {
	patterns, errs := Compile(wildcard)
	if len(errs) > 0 || len(patterns) == 0 {
		return false
	}
	re, err := patterns[0].Compiled()
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// Compiled returns the executable form of the pattern.
func (p Pattern) Compiled() (*regexp.Regexp, error) {
	return regexp.Compile("(?" + p.Flags + ")" + p.Regex)
}

// toRegex converts one segment. Regex metacharacters are escaped except
// `*`; an interior `*` becomes a non-whitespace run; a boundary `*` drops
// the word anchor on that side.
func toRegex(segment string) string {
	leading := strings.HasPrefix(segment, "*")
	trailing := strings.HasSuffix(segment, "*")
	core := strings.Trim(segment, "*")

	var body strings.Builder
	for _, r := range core {
		if r == '*' {
			body.WriteString(`\S*`)
			continue
		}
		body.WriteString(regexp.QuoteMeta(string(r)))
	}

	left := `\b`
	if leading {
		left = `\S*`
	}
	right := `\b`
	if trailing {
		right = `\S*`
	}

	return left + body.String() + right
}
