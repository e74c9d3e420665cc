package runner

import (
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kamilpajak/testmend/internal/rules"
	"github.com/kamilpajak/testmend/pkg/models"
)

// SourceReader reads test sources.
type SourceReader interface {
	Read(path string) (string, error)
}

// Failures converts the failing cases of a report into healing input.
// Paths are resolved against testDir, where Playwright reports them
// relative to. Sources that cannot be read are left empty.
func Failures(report *models.Report, testDir string, src SourceReader, logger *zap.Logger) []models.FailedTestCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	var out []models.FailedTestCase
	for _, tc := range report.FailedTestCases() {
		path := tc.FilePath
		if testDir != "" && path != "" && !filepath.IsAbs(path) {
			path = filepath.Join(testDir, path)
		}
		tc.FilePath = path

		f := models.FailedTestCase{
			ID:       models.TestID(path, tc.Name),
			Name:     tc.Name,
			FilePath: path,
			Outcome:  tc,
		}
		if src != nil && path != "" {
			source, err := src.Read(path)
			if err != nil {
				logger.Warn("failed to read test source", zap.String("path", path), zap.Error(err))
			} else {
				f.Source = source
				f.Endpoints = rules.InferEndpoints(source)
			}
		}
		out = append(out, f)
	}
	return out
}
