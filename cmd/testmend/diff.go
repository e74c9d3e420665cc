package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kamilpajak/testmend/internal/openapi"
	"github.com/kamilpajak/testmend/internal/specdiff"
	"github.com/kamilpajak/testmend/pkg/models"
)

var (
	diffFormat       string
	diffBreakingOnly bool
	diffEndpoint     string
)

var diffCmd = &cobra.Command{
	Use:   "diff <old-spec> <new-spec>",
	Short: "List the changes between two OpenAPI documents",
	Long: `Diff compares two OpenAPI 3 or Swagger 2 documents and reports every
change with its severity.

Examples:
  testmend diff api-v1.yaml api-v2.yaml
  testmend diff api-v1.yaml api-v2.yaml --breaking
  testmend diff api-v1.yaml api-v2.yaml --endpoint "GET /users/42"`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func init() {
	diffCmd.Flags().StringVarP(&diffFormat, "format", "f", "text", "Output format (text, json)")
	diffCmd.Flags().BoolVar(&diffBreakingOnly, "breaking", false, "Only list breaking changes")
	diffCmd.Flags().StringVar(&diffEndpoint, "endpoint", "", `Only list changes relevant to a request, e.g. "GET /users/42"`)
}

func runDiff(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	diff, err := diffFiles(args[0], args[1], logger)
	if err != nil {
		return err
	}
	if diffBreakingOnly {
		diff.Changes = diff.BreakingChanges()
	}
	if diffEndpoint != "" {
		method, path, ok := cutEndpoint(diffEndpoint)
		if !ok {
			return fmt.Errorf("invalid endpoint %q, use: METHOD /path", diffEndpoint)
		}
		diff.Changes = specdiff.ChangesForEndpoint(diff, method, path)
	}

	if diffFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), diff)
	}
	printDiff(cmd.OutOrStdout(), diff)
	return nil
}

func diffFiles(oldPath, newPath string, logger *zap.Logger) (models.SpecDiff, error) {
	oldDoc, err := openapi.Load(oldPath)
	if err != nil {
		return models.SpecDiff{}, err
	}
	newDoc, err := openapi.Load(newPath)
	if err != nil {
		return models.SpecDiff{}, err
	}
	return specdiff.New(logger).Diff(oldDoc, newDoc), nil
}

// loadChanges diffs the two documents when both are given.
func loadChanges(oldPath, newPath string, logger *zap.Logger) ([]models.SpecChange, error) {
	if oldPath == "" && newPath == "" {
		return nil, nil
	}
	if oldPath == "" || newPath == "" {
		return nil, fmt.Errorf("--old-spec and --new-spec must be given together")
	}
	diff, err := diffFiles(oldPath, newPath, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("specification diff loaded",
		zap.Int("changes", diff.Summary.Total),
		zap.Int("breaking", diff.Summary.Breaking))
	return diff.Changes, nil
}
