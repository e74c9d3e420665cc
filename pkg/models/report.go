package models

import "time"

// TestStatus represents the status of a test case
type TestStatus string

const (
	StatusPassed   TestStatus = "passed"
	StatusFailed   TestStatus = "failed"
	StatusError    TestStatus = "error"
	StatusTimedOut TestStatus = "timeout"
	StatusSkipped  TestStatus = "skipped"
)

// Failing reports whether the status counts as a failure worth healing.
func (s TestStatus) Failing() bool {
	return s == StatusFailed || s == StatusError || s == StatusTimedOut
}

// TestCase represents a single test result. It doubles as the outcome
// returned by a test runner for one execution.
type TestCase struct {
	Name         string     `json:"name"`
	Status       TestStatus `json:"status"`
	DurationMS   int64      `json:"duration_ms,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ErrorStack   string     `json:"error_stack,omitempty"`
	FilePath     string     `json:"file_path,omitempty"`
	LineNumber   int        `json:"line_number,omitempty"`
}

// Duration returns the test duration as a time.Duration.
func (tc TestCase) Duration() time.Duration {
	return time.Duration(tc.DurationMS) * time.Millisecond
}

// FailureDetail joins the error message and stack, whichever are present.
func (tc TestCase) FailureDetail() string {
	switch {
	case tc.ErrorMessage != "" && tc.ErrorStack != "":
		return tc.ErrorMessage + "\n" + tc.ErrorStack
	case tc.ErrorMessage != "":
		return tc.ErrorMessage
	default:
		return tc.ErrorStack
	}
}

// TestSuite represents a collection of test cases
type TestSuite struct {
	Name     string      `json:"name"`
	Tests    []TestCase  `json:"tests"`
	Suites   []TestSuite `json:"suites,omitempty"`
	FilePath string      `json:"file_path,omitempty"`
}

// Report represents a normalized test report
type Report struct {
	Framework    string      `json:"framework"`
	TotalTests   int         `json:"total_tests"`
	PassedTests  int         `json:"passed_tests"`
	FailedTests  int         `json:"failed_tests"`
	SkippedTests int         `json:"skipped_tests"`
	DurationMS   int64       `json:"duration_ms,omitempty"`
	Suites       []TestSuite `json:"suites"`
}

// HasFailures returns true if the report contains any failures
func (r *Report) HasFailures() bool {
	return r.FailedTests > 0
}

// AllTestCases returns every test case from the report in suite order.
func (r *Report) AllTestCases() []TestCase {
	var all []TestCase
	for _, suite := range r.Suites {
		all = append(all, collectTests(suite, nil)...)
	}
	return all
}

// FailedTestCases returns all failed test cases from the report
func (r *Report) FailedTestCases() []TestCase {
	var failed []TestCase
	for _, suite := range r.Suites {
		failed = append(failed, collectTests(suite, TestStatus.Failing)...)
	}
	return failed
}

func collectTests(suite TestSuite, keep func(TestStatus) bool) []TestCase {
	var out []TestCase
	for _, test := range suite.Tests {
		if keep == nil || keep(test.Status) {
			if test.FilePath == "" {
				test.FilePath = suite.FilePath
			}
			out = append(out, test)
		}
	}
	for _, nested := range suite.Suites {
		out = append(out, collectTests(nested, keep)...)
	}
	return out
}
