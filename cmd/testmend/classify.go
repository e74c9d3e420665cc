package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kamilpajak/testmend/internal/classifier"
	"github.com/kamilpajak/testmend/internal/filestore"
	"github.com/kamilpajak/testmend/internal/runner"
	"github.com/kamilpajak/testmend/pkg/models"
)

var (
	classifyFormat  string
	classifyOldSpec string
	classifyNewSpec string
)

var classifyCmd = &cobra.Command{
	Use:   "classify <report.json>",
	Short: "Classify the failing tests of a Playwright JSON report",
	Long: `Classify reports the failure kind, confidence and healability of every
failing test without changing any file.

Examples:
  testmend classify ./results.json
  testmend classify ./results.json --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().StringVarP(&classifyFormat, "format", "f", "text", "Output format (text, json)")
	classifyCmd.Flags().StringVar(&classifyOldSpec, "old-spec", "", "OpenAPI document the tests were written against")
	classifyCmd.Flags().StringVar(&classifyNewSpec, "new-spec", "", "Current OpenAPI document")
}

// classification pairs a failing test with its analysis.
type classification struct {
	TestID   string                  `json:"test_id"`
	Name     string                  `json:"name"`
	FilePath string                  `json:"file_path"`
	Analysis *models.FailureAnalysis `json:"analysis,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	report, err := runner.ParseReportFile(args[0])
	if err != nil {
		return err
	}
	changes, err := loadChanges(classifyOldSpec, classifyNewSpec, logger)
	if err != nil {
		return err
	}
	c, err := newClassifier(cfg, logger)
	if err != nil {
		return err
	}

	failures := runner.Failures(report, cfg.Runner.TestDir, filestore.New(cfg.Runner.ProjectDir), logger)
	results := classifyAll(c, failures, changes)

	if classifyFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), results)
	}
	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No test failures found.")
		return nil
	}
	for _, r := range results {
		printClassification(cmd.OutOrStdout(), r)
	}
	return nil
}

func classifyAll(c *classifier.Classifier, failures []models.FailedTestCase, changes []models.SpecChange) []classification {
	results := make([]classification, 0, len(failures))
	for _, f := range failures {
		r := classification{TestID: f.ID, Name: f.Name, FilePath: f.FilePath}
		analysis, err := c.ClassifyOutcome(f.Outcome, f.Source, changes)
		if err != nil {
			r.Error = err.Error()
		} else {
			r.Analysis = &analysis
		}
		results = append(results, r)
	}
	return results
}
