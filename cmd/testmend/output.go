package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/kamilpajak/testmend/pkg/models"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cutEndpoint(s string) (method, path string, ok bool) {
	method, path, ok = strings.Cut(strings.TrimSpace(s), " ")
	path = strings.TrimSpace(path)
	if !ok || method == "" || !strings.HasPrefix(path, "/") {
		return "", "", false
	}
	return strings.ToUpper(method), path, true
}

func outcomeBadge(o models.HealOutcome) (string, *color.Color) {
	switch o {
	case models.OutcomeHealed:
		return "HEALED", color.New(color.FgGreen, color.Bold)
	case models.OutcomeFailed:
		return "FAILED", color.New(color.FgRed, color.Bold)
	case models.OutcomeNonHealable:
		return "SKIPPED", color.New(color.FgYellow)
	case models.OutcomeBudgetExceeded:
		return "BUDGET", color.New(color.FgMagenta)
	default:
		return strings.ToUpper(string(o)), color.New(color.Reset)
	}
}

// printReport writes per-test results to stdout and the run summary to
// stderr.
func printReport(stderr, stdout io.Writer, r *models.HealingReport) {
	bold := color.New(color.Bold)
	dim := color.New(color.FgHiBlack)

	for _, res := range r.Results {
		label, c := outcomeBadge(res.Outcome)
		_, _ = c.Fprintf(stdout, "%-8s", label)
		fmt.Fprintf(stdout, " %s", res.TestName)
		if res.FilePath != "" {
			_, _ = dim.Fprintf(stdout, " (%s)", res.FilePath)
		}
		fmt.Fprintln(stdout)

		if res.Analysis != nil {
			_, _ = dim.Fprintf(stdout, "         %s, confidence %d%%\n", res.Analysis.Kind, percent(res.Analysis.Confidence))
		}
		if res.Attempt != nil {
			_, _ = dim.Fprintf(stdout, "         strategy: %s\n", res.Attempt.Strategy)
			for _, rule := range res.Attempt.AppliedRules {
				_, _ = dim.Fprintf(stdout, "         - %s\n", rule)
			}
		}
		if res.Reason != "" {
			fmt.Fprintf(stdout, "         %s\n", res.Reason)
		}
		if res.Outcome == models.OutcomeHealed && res.Attempt != nil && res.Attempt.SourceDiff != "" {
			printSourceDiff(stdout, res.Attempt.SourceDiff)
		}
	}

	fmt.Fprintln(stderr)
	_, _ = dim.Fprintln(stderr, "  "+strings.Repeat("━", 50))
	_, _ = bold.Fprintf(stderr, "  Healed %d of %d healable (%d tests, %d processed)\n", r.Healed, r.Healable, r.TotalTests, r.Processed)
	if r.NonHealable > 0 || r.BudgetExceeded > 0 {
		fmt.Fprintf(stderr, "  Skipped: %d non-healable, %d over budget\n", r.NonHealable, r.BudgetExceeded)
	}
	if r.Stopped {
		yellow := color.New(color.FgYellow)
		_, _ = yellow.Fprintln(stderr, "  Run stopped early: time budget exhausted or interrupted.")
	}
	printRateBar(stderr, "Success rate", percent(r.Stats.SuccessRate))
	if r.Stats.TotalTokens > 0 {
		fmt.Fprintf(stderr, "  Tokens: %d | Cost: $%.4f | Cached attempts: %d\n", r.Stats.TotalTokens, r.Stats.TotalCostUSD, r.Stats.CachedAttempts)
	}
	if len(r.Stats.TopFailureKinds) > 0 {
		parts := make([]string, len(r.Stats.TopFailureKinds))
		for i, kc := range r.Stats.TopFailureKinds {
			parts[i] = fmt.Sprintf("%s (%d)", kc.Kind, kc.Count)
		}
		_, _ = dim.Fprintf(stderr, "  Top failures: %s\n", strings.Join(parts, ", "))
	}
}

func printSourceDiff(w io.Writer, diff string) {
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	for _, line := range strings.Split(strings.TrimSuffix(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			_, _ = cyan.Fprintf(w, "         %s\n", line)
		case strings.HasPrefix(line, "-"):
			_, _ = red.Fprintf(w, "         %s\n", line)
		case strings.HasPrefix(line, "+"):
			_, _ = green.Fprintf(w, "         %s\n", line)
		default:
			fmt.Fprintf(w, "         %s\n", line)
		}
	}
}

func percent(f float64) int {
	return int(f*100 + 0.5)
}

func printRateBar(w io.Writer, label string, pct int) {
	const barWidth = 24
	filled := pct * barWidth / 100
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}

	var barColor *color.Color
	switch {
	case pct >= 80:
		barColor = color.New(color.FgGreen)
	case pct >= 40:
		barColor = color.New(color.FgYellow)
	default:
		barColor = color.New(color.FgRed)
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	fmt.Fprintf(w, "  %s: %d%% ", label, pct)
	_, _ = barColor.Fprintln(w, bar)
}

func printClassification(w io.Writer, c classification) {
	bold := color.New(color.Bold)
	dim := color.New(color.FgHiBlack)

	_, _ = bold.Fprint(w, c.Name)
	if c.FilePath != "" {
		_, _ = dim.Fprintf(w, " (%s)", c.FilePath)
	}
	fmt.Fprintln(w)
	if c.Analysis == nil {
		fmt.Fprintf(w, "  error: %s\n\n", c.Error)
		return
	}

	a := c.Analysis
	healable := color.New(color.FgRed).Sprint("not healable")
	if a.Healable {
		healable = color.New(color.FgGreen).Sprint("healable")
	}
	fmt.Fprintf(w, "  %s, %s\n", strings.ToUpper(string(a.Kind)), healable)
	printRateBar(w, "Confidence", percent(a.Confidence))
	if a.RootCause != "" {
		fmt.Fprintf(w, "  Root cause: %s\n", a.RootCause)
	}
	if a.Suggestion != "" {
		fmt.Fprintf(w, "  Suggestion: %s\n", a.Suggestion)
	}
	for _, ch := range a.RelatedChanges {
		_, _ = dim.Fprintf(w, "  related: [%s] %s\n", strings.ToUpper(string(ch.Severity)), ch.Description)
	}
	fmt.Fprintln(w)
}

func severityColor(s models.Severity) *color.Color {
	switch s {
	case models.SeverityBreaking:
		return color.New(color.FgRed, color.Bold)
	case models.SeverityMajor:
		return color.New(color.FgYellow)
	case models.SeverityMinor:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgHiBlack)
	}
}

func printDiff(w io.Writer, d models.SpecDiff) {
	bold := color.New(color.Bold)
	if d.OldVersion != "" || d.NewVersion != "" {
		_, _ = bold.Fprintf(w, "%s -> %s\n\n", d.OldVersion, d.NewVersion)
	}
	if len(d.Changes) == 0 {
		fmt.Fprintln(w, "No changes.")
		return
	}
	for _, ch := range d.Changes {
		_, _ = severityColor(ch.Severity).Fprintf(w, "%-9s", strings.ToUpper(string(ch.Severity)))
		fmt.Fprintf(w, " %s", ch.Description)
		if ch.Endpoint != "" {
			fmt.Fprintf(w, " [%s]", ch.Endpoint)
		}
		fmt.Fprintln(w)
	}

	s := d.Summary
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d changes: %d breaking, %d major, %d minor, %d patch\n", s.Total, s.Breaking, s.Major, s.Minor, s.Patch)
	if len(s.AddedEndpoints) > 0 {
		fmt.Fprintf(w, "Added endpoints: %s\n", strings.Join(s.AddedEndpoints, ", "))
	}
	if len(s.RemovedEndpoints) > 0 {
		fmt.Fprintf(w, "Removed endpoints: %s\n", strings.Join(s.RemovedEndpoints, ", "))
	}
	if s.IsBackwardCompatible {
		_, _ = color.New(color.FgGreen).Fprintln(w, "Backward compatible")
	} else {
		_, _ = color.New(color.FgRed).Fprintln(w, "Not backward compatible")
	}
}
