package models

import "slices"

// FailureKind is the closed set of failure categories the classifier assigns.
type FailureKind string

const (
	FailureFieldMissing      FailureKind = "field-missing"
	FailureTypeMismatch      FailureKind = "type-mismatch"
	FailureStatusCodeChanged FailureKind = "status-code-changed"
	FailureEndpointNotFound  FailureKind = "endpoint-not-found"
	FailureSchemaValidation  FailureKind = "schema-validation"
	FailureAuth              FailureKind = "auth"
	FailureTimeout           FailureKind = "timeout"
	FailureNetwork           FailureKind = "network-error"
	FailureSelectorNotFound  FailureKind = "selector-not-found"
	FailureSelectorChanged   FailureKind = "selector-changed"
	FailureNavigation        FailureKind = "navigation-error"
	FailureValidation        FailureKind = "validation-error"
	FailureUnknown           FailureKind = "unknown"
)

var allFailureKinds = []FailureKind{
	FailureFieldMissing,
	FailureTypeMismatch,
	FailureStatusCodeChanged,
	FailureEndpointNotFound,
	FailureSchemaValidation,
	FailureAuth,
	FailureTimeout,
	FailureNetwork,
	FailureSelectorNotFound,
	FailureSelectorChanged,
	FailureNavigation,
	FailureValidation,
	FailureUnknown,
}

// AllFailureKinds returns every known failure kind in declaration order.
func AllFailureKinds() []FailureKind {
	return slices.Clone(allFailureKinds)
}

// Valid reports whether k is a member of the closed enumeration.
func (k FailureKind) Valid() bool {
	return slices.Contains(allFailureKinds, k)
}

// ParseFailureKind converts a string into a FailureKind.
func ParseFailureKind(s string) (FailureKind, bool) {
	k := FailureKind(s)
	return k, k.Valid()
}

// DefaultHealableKinds are the kinds an API contract change can explain.
func DefaultHealableKinds() []FailureKind {
	return []FailureKind{
		FailureFieldMissing,
		FailureTypeMismatch,
		FailureStatusCodeChanged,
		FailureEndpointNotFound,
		FailureSchemaValidation,
	}
}

// FailureDetail holds structured fields pulled out of a failure message.
// Zero values mean "not found".
type FailureDetail struct {
	Field          string `json:"field,omitempty"`
	ExpectedType   string `json:"expected_type,omitempty"`
	ActualType     string `json:"actual_type,omitempty"`
	ExpectedStatus int    `json:"expected_status,omitempty"`
	ActualStatus   int    `json:"actual_status,omitempty"`
	Method         string `json:"method,omitempty"`
	Endpoint       string `json:"endpoint,omitempty"`
	Selector       string `json:"selector,omitempty"`
	TimeoutMS      int    `json:"timeout_ms,omitempty"`
	ExpectedValue  string `json:"expected_value,omitempty"`
	ActualValue    string `json:"actual_value,omitempty"`
}

// FailureAnalysis is the classifier's verdict for one failure. Treat it as
// an immutable value: copy before changing.
type FailureAnalysis struct {
	Kind           FailureKind   `json:"kind"`
	RootCause      string        `json:"root_cause"`
	Confidence     float64       `json:"confidence"`
	Healable       bool          `json:"healable"`
	Suggestion     string        `json:"suggestion,omitempty"`
	MatchedPattern string        `json:"matched_pattern,omitempty"`
	Detail         FailureDetail `json:"detail"`
	RelatedChanges []SpecChange  `json:"related_changes,omitempty"`
}

// Endpoint identifies an API operation by method and path template.
type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// String renders the endpoint as "METHOD /path".
func (e Endpoint) String() string {
	return e.Method + " " + e.Path
}

// FailedTestCase is a previously passing test that now fails.
type FailedTestCase struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	FilePath      string     `json:"file_path"`
	Source        string     `json:"source,omitempty"`
	Outcome       TestCase   `json:"outcome"`
	PriorAttempts int        `json:"prior_attempts"`
	Endpoints     []Endpoint `json:"endpoints,omitempty"`
}

// TestID builds the stable ledger key for a test.
func TestID(filePath, name string) string {
	return filePath + "::" + name
}
