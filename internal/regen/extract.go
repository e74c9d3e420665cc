package regen

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```[A-Za-z]*[ \\t]*\\r?\\n(.*?)```")

// ExtractCode returns the first fenced code block in the response, or the
// whole response when there is none.
func ExtractCode(response string) string {
	if m := fencedBlock.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(response)
}

// A regenerated test must contain each of these constructs.
var requiredConstructs = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"test declaration", regexp.MustCompile(`\b(?:test|it)(?:\.\w+)?\s*\(`)},
	{"assertion", regexp.MustCompile(`\bexpect\s*\(`)},
	{"await", regexp.MustCompile(`\bawait\b`)},
	{"request fixture", regexp.MustCompile(`\brequest\b`)},
}

// ValidationError lists the constructs a regenerated test is missing.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("regenerated test rejected: missing %s", strings.Join(e.Missing, ", "))
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// Validate checks that code still looks like a runnable API test.
func Validate(code string) error {
	var missing []string
	for _, c := range requiredConstructs {
		if !c.pattern.MatchString(code) {
			missing = append(missing, c.name)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}
