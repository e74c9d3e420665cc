// Package runner executes Playwright tests and reads their JSON reports.
package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/kamilpajak/testmend/pkg/models"
)

// playwrightReport represents the raw Playwright JSON structure
type playwrightReport struct {
	Suites []playwrightSuite `json:"suites"`
	Stats  playwrightStats   `json:"stats"`
	Errors []playwrightError `json:"errors"`
}

type playwrightStats struct {
	Expected   int     `json:"expected"`
	Unexpected int     `json:"unexpected"`
	Flaky      int     `json:"flaky"`
	Skipped    int     `json:"skipped"`
	Duration   float64 `json:"duration"`
}

type playwrightSuite struct {
	Title  string            `json:"title"`
	File   string            `json:"file"`
	Specs  []playwrightSpec  `json:"specs"`
	Suites []playwrightSuite `json:"suites"`
}

type playwrightSpec struct {
	Title string           `json:"title"`
	File  string           `json:"file"`
	Line  int              `json:"line"`
	Tests []playwrightTest `json:"tests"`
}

type playwrightTest struct {
	Results []playwrightResult `json:"results"`
}

type playwrightResult struct {
	Status   string            `json:"status"`
	Duration int64             `json:"duration"`
	Errors   []playwrightError `json:"errors"`
}

type playwrightError struct {
	Message string `json:"message"`
	Stack   string `json:"stack"`
}

// ParseReportFile reads and parses a Playwright JSON report file.
func ParseReportFile(path string) (*models.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	return ParseReport(data)
}

// ParseReport parses Playwright JSON from raw bytes.
func ParseReport(data []byte) (*models.Report, error) {
	var raw playwrightReport
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	if len(raw.Suites) == 0 && len(raw.Errors) > 0 {
		return nil, fmt.Errorf("playwright reported errors: %s", firstLine(raw.Errors[0].Message))
	}
	return normalize(raw), nil
}

func normalize(raw playwrightReport) *models.Report {
	failed := raw.Stats.Unexpected + raw.Stats.Flaky
	report := &models.Report{
		Framework:    "playwright",
		TotalTests:   raw.Stats.Expected + failed + raw.Stats.Skipped,
		PassedTests:  raw.Stats.Expected,
		FailedTests:  failed,
		SkippedTests: raw.Stats.Skipped,
		DurationMS:   int64(raw.Stats.Duration),
		Suites:       make([]models.TestSuite, 0, len(raw.Suites)),
	}
	for _, suite := range raw.Suites {
		report.Suites = append(report.Suites, normalizeSuite(suite))
	}
	return report
}

func normalizeSuite(raw playwrightSuite) models.TestSuite {
	suite := models.TestSuite{
		Name:     raw.Title,
		FilePath: raw.File,
		Tests:    make([]models.TestCase, 0, len(raw.Specs)),
	}
	for _, spec := range raw.Specs {
		if test, ok := normalizeSpec(spec); ok {
			suite.Tests = append(suite.Tests, test)
		}
	}
	for _, nested := range raw.Suites {
		suite.Suites = append(suite.Suites, normalizeSuite(nested))
	}
	return suite
}

// normalizeSpec keeps the final retry of the first project run.
func normalizeSpec(spec playwrightSpec) (models.TestCase, bool) {
	if len(spec.Tests) == 0 || len(spec.Tests[0].Results) == 0 {
		return models.TestCase{}, false
	}
	results := spec.Tests[0].Results
	result := results[len(results)-1]

	tc := models.TestCase{
		Name:       spec.Title,
		FilePath:   spec.File,
		LineNumber: spec.Line,
		DurationMS: result.Duration,
		Status:     mapStatus(result.Status),
	}
	if len(result.Errors) > 0 {
		tc.ErrorMessage = result.Errors[0].Message
		tc.ErrorStack = result.Errors[0].Stack
	}
	return tc, true
}

func mapStatus(s string) models.TestStatus {
	switch s {
	case "passed":
		return models.StatusPassed
	case "skipped":
		return models.StatusSkipped
	case "timedOut":
		return models.StatusTimedOut
	case "interrupted":
		return models.StatusError
	default:
		return models.StatusFailed
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
