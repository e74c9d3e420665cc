package healing

import (
	"errors"
	"fmt"
	"time"

	"github.com/kamilpajak/testmend/pkg/models"
)

// NonHealableError records a policy decision not to heal a failure.
type NonHealableError struct {
	Kind          models.FailureKind
	Confidence    float64
	MinConfidence float64
}

func (e *NonHealableError) Error() string {
	if e.Confidence < e.MinConfidence {
		return fmt.Sprintf("%s failure not healable: confidence %.2f below %.2f", e.Kind, e.Confidence, e.MinConfidence)
	}
	return fmt.Sprintf("%s failures are not healable", e.Kind)
}

// IsNonHealableError checks if an error is a NonHealableError.
func IsNonHealableError(err error) bool {
	var e *NonHealableError
	return errors.As(err, &e)
}

// Budget scopes.
const (
	ScopeTest = "test"
	ScopeRun  = "run"
)

// BudgetExceededError halts attempts for one test or for the whole run.
type BudgetExceededError struct {
	Scope    string
	TestID   string
	Attempts int
	Limit    int
	Elapsed  time.Duration
	MaxTotal time.Duration
}

func (e *BudgetExceededError) Error() string {
	if e.Scope == ScopeRun {
		return fmt.Sprintf("run budget exceeded: %s elapsed of %s", e.Elapsed.Round(time.Millisecond), e.MaxTotal)
	}
	return fmt.Sprintf("attempt budget exceeded for %s: %d of %d attempts used", e.TestID, e.Attempts, e.Limit)
}

// IsBudgetExceededError checks if an error is a BudgetExceededError.
func IsBudgetExceededError(err error) bool {
	var e *BudgetExceededError
	return errors.As(err, &e)
}
