package models

import (
	"slices"
	"sort"
)

// ChangeKind categorizes a single difference between two API specifications.
type ChangeKind string

const (
	ChangeEndpointAdded          ChangeKind = "endpoint-added"
	ChangeEndpointRemoved        ChangeKind = "endpoint-removed"
	ChangeParameterAdded         ChangeKind = "parameter-added"
	ChangeParameterRemoved       ChangeKind = "parameter-removed"
	ChangeParameterRequired      ChangeKind = "parameter-required-changed"
	ChangeTypeChanged            ChangeKind = "type-changed"
	ChangeFormatChanged          ChangeKind = "format-changed"
	ChangePropertyAdded          ChangeKind = "property-added"
	ChangePropertyRemoved        ChangeKind = "property-removed"
	ChangeRequiredChanged        ChangeKind = "required-changed"
	ChangeEnumChanged            ChangeKind = "enum-changed"
	ChangeSchemaAdded            ChangeKind = "schema-added"
	ChangeSchemaRemoved          ChangeKind = "schema-removed"
	ChangeResponseAdded          ChangeKind = "response-added"
	ChangeResponseRemoved        ChangeKind = "response-removed"
	ChangeStatusCodeChanged      ChangeKind = "status-code-changed"
	ChangeSecurityAdded          ChangeKind = "security-added"
	ChangeSecurityRemoved        ChangeKind = "security-removed"
	ChangeSecurityTypeChanged    ChangeKind = "security-type-changed"
	ChangeDescriptionChanged     ChangeKind = "description-changed"
	ChangeRequestBodyRequirement ChangeKind = "request-body-required-changed"
)

// Severity tiers, most severe first.
type Severity string

const (
	SeverityBreaking Severity = "breaking"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
	SeverityPatch    Severity = "patch"
)

// Rank orders severities: breaking=4 > major=3 > minor=2 > patch=1.
func (s Severity) Rank() int {
	switch s {
	case SeverityBreaking:
		return 4
	case SeverityMajor:
		return 3
	case SeverityMinor:
		return 2
	case SeverityPatch:
		return 1
	default:
		return 0
	}
}

// FieldSpec describes a schema property well enough to synthesize a value.
type FieldSpec struct {
	Type      string   `json:"type,omitempty"`
	Format    string   `json:"format,omitempty"`
	Minimum   *float64 `json:"minimum,omitempty"`
	Maximum   *float64 `json:"maximum,omitempty"`
	MinLength *int     `json:"min_length,omitempty"`
	MaxLength *int     `json:"max_length,omitempty"`
	Enum      []any    `json:"enum,omitempty"`
	Example   any      `json:"example,omitempty"`
	Default   any      `json:"default,omitempty"`
	Required  bool     `json:"required"`
}

// SpecChange is one detected difference between two specification snapshots.
type SpecChange struct {
	Kind              ChangeKind `json:"kind"`
	Path              string     `json:"path"`
	Endpoint          string     `json:"endpoint,omitempty"`
	Schema            string     `json:"schema,omitempty"`
	Field             string     `json:"field,omitempty"`
	OldValue          any        `json:"old_value,omitempty"`
	NewValue          any        `json:"new_value,omitempty"`
	Severity          Severity   `json:"severity"`
	Description       string     `json:"description"`
	Required          bool       `json:"required,omitempty"`
	FieldSpec         *FieldSpec `json:"field_spec,omitempty"`
	AffectedEndpoints []string   `json:"affected_endpoints,omitempty"`
}

// IsBreaking reports whether the change carries breaking severity.
func (c SpecChange) IsBreaking() bool {
	return c.Severity == SeverityBreaking
}

// Affects reports whether the change names the endpoint directly or lists it
// among affected endpoints. Keys are "METHOD /path".
func (c SpecChange) Affects(endpoint string) bool {
	return c.Endpoint == endpoint || slices.Contains(c.AffectedEndpoints, endpoint)
}

// DiffSummary holds totals derived from a SpecDiff.
type DiffSummary struct {
	Total                int                `json:"total"`
	Breaking             int                `json:"breaking"`
	Major                int                `json:"major"`
	Minor                int                `json:"minor"`
	Patch                int                `json:"patch"`
	ByKind               map[ChangeKind]int `json:"by_kind"`
	AddedEndpoints       []string           `json:"added_endpoints"`
	RemovedEndpoints     []string           `json:"removed_endpoints"`
	ModifiedEndpoints    []string           `json:"modified_endpoints"`
	IsBackwardCompatible bool               `json:"is_backward_compatible"`
}

// SpecDiff aggregates the changes between an old and a new specification.
// Diffing is directional: old -> new.
type SpecDiff struct {
	OldVersion string       `json:"old_version,omitempty"`
	NewVersion string       `json:"new_version,omitempty"`
	Changes    []SpecChange `json:"changes"`
	Summary    DiffSummary  `json:"summary"`
}

// IsBackwardCompatible is true iff no change carries breaking severity.
func (d SpecDiff) IsBackwardCompatible() bool {
	for _, c := range d.Changes {
		if c.IsBreaking() {
			return false
		}
	}
	return true
}

// BreakingChanges returns only the breaking changes.
func (d SpecDiff) BreakingChanges() []SpecChange {
	var out []SpecChange
	for _, c := range d.Changes {
		if c.IsBreaking() {
			out = append(out, c)
		}
	}
	return out
}

// Summarize computes the derived summary from the change list.
func Summarize(changes []SpecChange, added, removed, modified []string) DiffSummary {
	s := DiffSummary{
		Total:             len(changes),
		ByKind:            make(map[ChangeKind]int),
		AddedEndpoints:    sortedCopy(added),
		RemovedEndpoints:  sortedCopy(removed),
		ModifiedEndpoints: sortedCopy(modified),
	}
	for _, c := range changes {
		s.ByKind[c.Kind]++
		switch c.Severity {
		case SeverityBreaking:
			s.Breaking++
		case SeverityMajor:
			s.Major++
		case SeverityMinor:
			s.Minor++
		case SeverityPatch:
			s.Patch++
		}
	}
	s.IsBackwardCompatible = s.Breaking == 0
	return s
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
