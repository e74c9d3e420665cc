package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFailureKind(t *testing.T) {
	k, ok := ParseFailureKind("status-code-changed")
	assert.True(t, ok)
	assert.Equal(t, FailureStatusCodeChanged, k)

	_, ok = ParseFailureKind("flaky")
	assert.False(t, ok)

	for _, k := range DefaultHealableKinds() {
		assert.True(t, k.Valid(), k)
	}
	kinds := AllFailureKinds()
	kinds[0] = "mutated"
	assert.Equal(t, FailureFieldMissing, AllFailureKinds()[0])
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityBreaking.Rank(), SeverityMajor.Rank())
	assert.Greater(t, SeverityMajor.Rank(), SeverityMinor.Rank())
	assert.Greater(t, SeverityMinor.Rank(), SeverityPatch.Rank())
	assert.Equal(t, 0, Severity("other").Rank())
}

func TestSpecDiffHelpers(t *testing.T) {
	d := SpecDiff{Changes: []SpecChange{
		{Kind: ChangeStatusCodeChanged, Endpoint: "GET /users/{id}", Severity: SeverityBreaking},
		{Kind: ChangePropertyAdded, Schema: "User", Severity: SeverityMinor, AffectedEndpoints: []string{"GET /users"}},
	}}

	assert.False(t, d.IsBackwardCompatible())
	require.Len(t, d.BreakingChanges(), 1)
	assert.True(t, d.Changes[0].Affects("GET /users/{id}"))
	assert.True(t, d.Changes[1].Affects("GET /users"))
	assert.False(t, d.Changes[1].Affects("POST /users"))

	s := Summarize(d.Changes, nil, []string{"DELETE /b", "DELETE /a"}, nil)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Breaking)
	assert.Equal(t, 1, s.Minor)
	assert.Equal(t, []string{"DELETE /a", "DELETE /b"}, s.RemovedEndpoints)
	assert.Empty(t, s.AddedEndpoints)
	assert.NotNil(t, s.AddedEndpoints)
	assert.False(t, s.IsBackwardCompatible)
	assert.Equal(t, 1, s.ByKind[ChangePropertyAdded])
}

func TestReportFailedTestCases(t *testing.T) {
	r := &Report{
		FailedTests: 2,
		Suites: []TestSuite{{
			FilePath: "users.spec.ts",
			Tests: []TestCase{
				{Name: "ok", Status: StatusPassed},
				{Name: "broken", Status: StatusFailed},
			},
			Suites: []TestSuite{{
				Tests: []TestCase{{Name: "slow", Status: StatusTimedOut, FilePath: "admin.spec.ts"}},
			}},
		}},
	}

	assert.True(t, r.HasFailures())
	assert.Len(t, r.AllTestCases(), 3)
	failed := r.FailedTestCases()
	require.Len(t, failed, 2)
	assert.Equal(t, "users.spec.ts", failed[0].FilePath)
	assert.Equal(t, "admin.spec.ts", failed[1].FilePath)
}

func TestTestCaseHelpers(t *testing.T) {
	tc := TestCase{DurationMS: 1500, ErrorMessage: "boom", ErrorStack: "at x"}
	assert.Equal(t, 1500*time.Millisecond, tc.Duration())
	assert.Equal(t, "boom\nat x", tc.FailureDetail())
	assert.Equal(t, "at x", TestCase{ErrorStack: "at x"}.FailureDetail())
	assert.False(t, StatusSkipped.Failing())
}

func TestIdentifiers(t *testing.T) {
	assert.Equal(t, "tests/users.spec.ts::creates user", TestID("tests/users.spec.ts", "creates user"))
	assert.Equal(t, "GET /users", Endpoint{Method: "GET", Path: "/users"}.String())

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := HealingAttempt{StartedAt: start, FinishedAt: start.Add(3 * time.Second)}
	assert.Equal(t, 3*time.Second, a.Duration())
}
