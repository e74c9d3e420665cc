// Package classifier turns raw test failure output into a typed FailureAnalysis.
package classifier

import (
	"errors"
	"regexp"
	"slices"
	"strings"

	"github.com/kamilpajak/testmend/pkg/models"
	"go.uber.org/zap"
)

// ErrNoErrorInformation is returned when a failure carries no message to classify.
var ErrNoErrorInformation = errors.New("no error information")

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)

// StripANSI removes terminal color and cursor escape sequences.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// Policy decides which classified failures are worth healing.
type Policy struct {
	HealableKinds []models.FailureKind
	MinConfidence float64
}

// DefaultPolicy returns the default healable set with a 0.6 threshold.
func DefaultPolicy() Policy {
	return Policy{
		HealableKinds: models.DefaultHealableKinds(),
		MinConfidence: 0.6,
	}
}

// Healable applies the policy to a kind and confidence.
func (p Policy) Healable(kind models.FailureKind, confidence float64) bool {
	return slices.Contains(p.HealableKinds, kind) && confidence >= p.MinConfidence
}

// Input is everything the classifier looks at for one failure.
type Input struct {
	Message string
	Source  string
	Changes []models.SpecChange
}

// Classifier evaluates an ordered pattern table against failure messages.
type Classifier struct {
	patterns []Pattern
	policy   Policy
	logger   *zap.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithPatterns replaces the pattern table.
func WithPatterns(p []Pattern) Option {
	return func(c *Classifier) { c.patterns = slices.Clone(p) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Classifier with the default pattern table.
func New(policy Policy, opts ...Option) *Classifier {
	c := &Classifier{
		patterns: slices.Clone(defaultPatterns),
		policy:   policy,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the healability policy in use.
func (c *Classifier) Policy() Policy {
	return c.policy
}

// ClassifyOutcome classifies a runner outcome.
func (c *Classifier) ClassifyOutcome(tc models.TestCase, source string, changes []models.SpecChange) (models.FailureAnalysis, error) {
	return c.Classify(Input{Message: tc.FailureDetail(), Source: source, Changes: changes})
}

// Classify returns the analysis for one failure message. It is pure: the same
// input always yields the same analysis.
func (c *Classifier) Classify(in Input) (models.FailureAnalysis, error) {
	msg := strings.TrimSpace(StripANSI(in.Message))
	if msg == "" {
		return models.FailureAnalysis{}, ErrNoErrorInformation
	}

	kind, pattern, detail, fromFallback := c.match(msg)
	detail = refineDetail(kind, msg, in.Source, detail)

	confidence := BaseConfidence(kind)
	if fromFallback {
		confidence *= FallbackConfidenceFactor
	}

	analysis := models.FailureAnalysis{
		Kind:           kind,
		RootCause:      rootCause(kind, detail),
		Confidence:     confidence,
		Healable:       c.policy.Healable(kind, confidence),
		MatchedPattern: pattern,
		Detail:         detail,
		RelatedChanges: relatedChanges(kind, detail, in.Changes),
	}
	analysis.Suggestion = Suggest(analysis)

	c.logger.Debug("classified failure",
		zap.String("kind", string(kind)),
		zap.String("pattern", pattern),
		zap.Float64("confidence", confidence),
		zap.Bool("healable", analysis.Healable))

	return analysis, nil
}

// match finds the winning pattern. The highest priority wins; on equal
// priority the earlier table row wins.
func (c *Classifier) match(msg string) (models.FailureKind, string, models.FailureDetail, bool) {
	best := -1
	var bestMatch []string
	for i, p := range c.patterns {
		if best >= 0 && p.Priority <= c.patterns[best].Priority {
			continue
		}
		m := p.Regexp.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		best = i
		bestMatch = m
	}

	if best < 0 {
		kind := categorizeByKeyword(msg)
		return kind, "", models.FailureDetail{}, true
	}

	p := c.patterns[best]
	var d models.FailureDetail
	if p.Extract != nil {
		p.Extract(bestMatch, &d)
	}
	return p.Kind, p.Name, d, false
}

// categorizeByKeyword is the fallback when no pattern matches.
func categorizeByKeyword(msg string) models.FailureKind {
	lower := strings.ToLower(msg)
	for _, rule := range fallbackKeywords {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.kind
			}
		}
	}
	return models.FailureUnknown
}

// relatedChanges keeps spec changes that plausibly explain the failure.
func relatedChanges(kind models.FailureKind, d models.FailureDetail, changes []models.SpecChange) []models.SpecChange {
	if len(changes) == 0 {
		return nil
	}
	var out []models.SpecChange
	schemas := make(map[string]bool)
	for _, ch := range changes {
		if changeExplains(kind, d, ch) {
			out = append(out, ch)
			if ch.Schema != "" {
				schemas[ch.Schema] = true
			}
		}
	}
	if kind != models.FailureFieldMissing || d.Field == "" || len(schemas) == 0 {
		return out
	}
	// Properties added beside a removed one are rename candidates.
	for _, ch := range changes {
		if ch.Kind == models.ChangePropertyAdded && schemas[ch.Schema] && !fieldMatches(d.Field, ch.Field) {
			out = append(out, ch)
		}
	}
	return out
}

func changeExplains(kind models.FailureKind, d models.FailureDetail, ch models.SpecChange) bool {
	switch kind {
	case models.FailureStatusCodeChanged:
		return ch.Kind == models.ChangeStatusCodeChanged || ch.Kind == models.ChangeResponseRemoved
	case models.FailureEndpointNotFound:
		return ch.Kind == models.ChangeEndpointRemoved || ch.Kind == models.ChangeEndpointAdded
	case models.FailureFieldMissing, models.FailureSchemaValidation:
		switch ch.Kind {
		case models.ChangePropertyRemoved, models.ChangePropertyAdded, models.ChangeRequiredChanged,
			models.ChangeParameterAdded, models.ChangeParameterRemoved, models.ChangeParameterRequired:
			return d.Field == "" || fieldMatches(d.Field, ch.Field)
		}
		return false
	case models.FailureTypeMismatch:
		if ch.Kind != models.ChangeTypeChanged && ch.Kind != models.ChangeFormatChanged && ch.Kind != models.ChangeEnumChanged {
			return false
		}
		return d.Field == "" || fieldMatches(d.Field, ch.Field)
	case models.FailureAuth:
		switch ch.Kind {
		case models.ChangeSecurityAdded, models.ChangeSecurityRemoved, models.ChangeSecurityTypeChanged:
			return true
		}
		return false
	default:
		return false
	}
}

// fieldMatches compares the last path segment of both names.
func fieldMatches(detail, change string) bool {
	if change == "" {
		return false
	}
	last := func(s string) string {
		if i := strings.LastIndexAny(s, ".["); i >= 0 {
			s = s[i+1:]
		}
		return strings.Trim(s, "]'\"")
	}
	return strings.EqualFold(last(detail), last(change))
}
