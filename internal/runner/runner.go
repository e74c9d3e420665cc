package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kamilpajak/testmend/pkg/models"
)

// DefaultTimeout bounds a single test re-run.
const DefaultTimeout = 2 * time.Minute

var defaultCommand = []string{"npx", "playwright", "test"}

// execFunc runs a command and returns its combined output.
type execFunc func(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

// Runner re-executes single Playwright tests with the JSON reporter.
type Runner struct {
	dir     string
	command []string
	timeout time.Duration
	exec    execFunc
	logger  *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithCommand replaces the "npx playwright test" invocation.
func WithCommand(cmd ...string) Option {
	return func(r *Runner) {
		if len(cmd) > 0 {
			r.command = cmd
		}
	}
}

// WithTimeout sets the per-run timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Runner that executes tests from the project directory dir.
func New(dir string, opts ...Option) *Runner {
	r := &Runner{
		dir:     dir,
		command: defaultCommand,
		timeout: DefaultTimeout,
		exec:    runCommand,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunTest runs one test and reports its outcome. A failing test is an
// outcome, not an error; errors mean the test could not be run at all.
func (r *Runner) RunTest(ctx context.Context, path, name string) (models.TestCase, error) {
	tmp, err := os.MkdirTemp("", "testmend-run-*")
	if err != nil {
		return models.TestCase{}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)
	reportPath := filepath.Join(tmp, "report.json")

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := append(append([]string{}, r.command[1:]...),
		path,
		"--grep", regexp.QuoteMeta(name)+"$",
		"--reporter=json",
		"--retries=0",
	)
	env := []string{"PLAYWRIGHT_JSON_OUTPUT_FILE=" + reportPath, "FORCE_COLOR=0"}

	start := time.Now()
	output, runErr := r.exec(runCtx, r.dir, env, r.command[0], args...)
	elapsed := time.Since(start)
	r.logger.Debug("test re-run finished",
		zap.String("path", path),
		zap.String("test", name),
		zap.Duration("elapsed", elapsed),
		zap.Error(runErr))

	if ctx.Err() != nil {
		return models.TestCase{}, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return models.TestCase{
			Name:         name,
			FilePath:     path,
			Status:       models.StatusTimedOut,
			DurationMS:   elapsed.Milliseconds(),
			ErrorMessage: fmt.Sprintf("Test run timeout of %dms exceeded", r.timeout.Milliseconds()),
		}, nil
	}

	report, err := ParseReportFile(reportPath)
	if err != nil {
		if runErr != nil {
			return models.TestCase{}, fmt.Errorf("playwright run failed: %w\nOutput: %s", runErr, truncate(string(output), 2000))
		}
		return models.TestCase{}, err
	}

	tc, ok := findTest(report, path, name)
	if !ok {
		return models.TestCase{}, fmt.Errorf("test %q not found in report for %s", name, path)
	}
	return tc, nil
}

// findTest prefers a case whose file matches path; Playwright reports files
// relative to its test directory.
func findTest(report *models.Report, path, name string) (models.TestCase, bool) {
	var fallback *models.TestCase
	for _, tc := range report.AllTestCases() {
		if tc.Name != name {
			continue
		}
		if tc.FilePath == "" || strings.HasSuffix(filepath.ToSlash(path), filepath.ToSlash(tc.FilePath)) {
			return tc, true
		}
		if fallback == nil {
			fallback = &tc
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return models.TestCase{}, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... [truncated]"
}
