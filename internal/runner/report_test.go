package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamilpajak/testmend/pkg/models"
)

const sampleReport = `{
	"suites": [{
		"title": "users.spec.ts",
		"file": "users.spec.ts",
		"specs": [{
			"title": "lists users",
			"file": "users.spec.ts",
			"line": 10,
			"tests": [{
				"results": [{"status": "passed", "duration": 100}]
			}]
		}, {
			"title": "creates user",
			"file": "users.spec.ts",
			"line": 20,
			"tests": [{
				"results": [
					{"status": "failed", "duration": 150, "errors": [{"message": "first try"}]},
					{
						"status": "failed",
						"duration": 200,
						"errors": [{
							"message": "Expected status 200, received 201",
							"stack": "Error: Expected status 200\n    at users.spec.ts:25"
						}]
					}
				]
			}]
		}],
		"suites": [{
			"title": "admin",
			"file": "users.spec.ts",
			"specs": [{
				"title": "slow report",
				"file": "users.spec.ts",
				"line": 40,
				"tests": [{
					"results": [{"status": "timedOut", "duration": 30000,
						"errors": [{"message": "Test timeout of 30000ms exceeded."}]}]
				}]
			}, {
				"title": "never ran",
				"file": "users.spec.ts",
				"tests": []
			}]
		}]
	}],
	"stats": {"expected": 1, "unexpected": 2, "flaky": 0, "skipped": 0, "duration": 1234.5}
}`

func TestParseReport(t *testing.T) {
	report, err := ParseReport([]byte(sampleReport))
	require.NoError(t, err)

	if report.Framework != "playwright" {
		t.Errorf("Expected framework 'playwright', got '%s'", report.Framework)
	}
	assert.Equal(t, 3, report.TotalTests)
	assert.Equal(t, 1, report.PassedTests)
	assert.Equal(t, 2, report.FailedTests)
	assert.Equal(t, int64(1234), report.DurationMS)
	assert.True(t, report.HasFailures())

	failed := report.FailedTestCases()
	require.Len(t, failed, 2)

	assert.Equal(t, "creates user", failed[0].Name)
	assert.Equal(t, models.StatusFailed, failed[0].Status)
	assert.Equal(t, "Expected status 200, received 201", failed[0].ErrorMessage, "last retry wins")
	assert.Equal(t, int64(200), failed[0].DurationMS)
	assert.Equal(t, 20, failed[0].LineNumber)

	assert.Equal(t, "slow report", failed[1].Name)
	assert.Equal(t, models.StatusTimedOut, failed[1].Status)
	assert.Len(t, report.AllTestCases(), 3, "specs without results are skipped")
}

func TestParseReport_NoFailures(t *testing.T) {
	report, err := ParseReport([]byte(`{"suites": [], "stats": {"expected": 5}}`))
	require.NoError(t, err)
	assert.False(t, report.HasFailures())
	assert.Equal(t, 5, report.TotalTests)
}

func TestParseReport_Errors(t *testing.T) {
	_, err := ParseReport([]byte(`{not json`))
	assert.ErrorContains(t, err, "failed to parse report")

	_, err = ParseReport([]byte(`{"suites": [], "errors": [{"message": "Error: No tests found\nmore"}]}`))
	assert.EqualError(t, err, "playwright reported errors: Error: No tests found")
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		in   string
		want models.TestStatus
	}{
		{"passed", models.StatusPassed},
		{"failed", models.StatusFailed},
		{"timedOut", models.StatusTimedOut},
		{"skipped", models.StatusSkipped},
		{"interrupted", models.StatusError},
		{"something-new", models.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, mapStatus(tt.in))
		})
	}
}

func TestParseReportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleReport), 0o644))

	report, err := ParseReportFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, report.FailedTests)

	_, err = ParseReportFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "failed to read report")
}

type mapReader map[string]string

func (m mapReader) Read(path string) (string, error) {
	s, ok := m[path]
	if !ok {
		return "", os.ErrNotExist
	}
	return s, nil
}

func TestFailures(t *testing.T) {
	report, err := ParseReport([]byte(sampleReport))
	require.NoError(t, err)

	src := mapReader{
		filepath.Join("tests", "users.spec.ts"): "await request.post('/users', { data });",
	}
	got := Failures(report, "tests", src, nil)
	require.Len(t, got, 2)

	path := filepath.Join("tests", "users.spec.ts")
	assert.Equal(t, models.TestID(path, "creates user"), got[0].ID)
	assert.Equal(t, path, got[0].FilePath)
	assert.Equal(t, path, got[0].Outcome.FilePath)
	assert.NotEmpty(t, got[0].Source)
	assert.Equal(t, []models.Endpoint{{Method: "POST", Path: "/users"}}, got[0].Endpoints)

	none := Failures(report, "tests", mapReader{}, nil)
	assert.Empty(t, none[0].Source)
	assert.Nil(t, none[0].Endpoints)
}
