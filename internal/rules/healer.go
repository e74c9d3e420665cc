package rules

import (
	"regexp"
	"strings"

	"github.com/kamilpajak/testmend/pkg/models"
	"go.uber.org/zap"
)

// Result is the outcome of one rule-based healing pass.
type Result struct {
	Success    bool
	Source     string
	Applied    []Rule
	Confidence float64
	Problems   []string
}

// AppliedNames describes the applied rules.
func (r Result) AppliedNames() []string {
	names := make([]string, len(r.Applied))
	for i, rule := range r.Applied {
		names[i] = rule.Describe()
	}
	return names
}

// Healer applies detected rules to test source.
type Healer struct {
	threshold float64
	logger    *zap.Logger
}

// Option configures a Healer.
type Option func(*Healer)

// WithSimilarityThreshold sets the rename similarity threshold.
func WithSimilarityThreshold(t float64) Option {
	return func(h *Healer) {
		if t > 0 {
			h.threshold = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Healer) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates a Healer.
func New(opts ...Option) *Healer {
	h := &Healer{threshold: DefaultSimilarityThreshold, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Detect returns the candidate rules for a change set.
func (h *Healer) Detect(changes []models.SpecChange) []Rule {
	return Detect(changes, h.threshold)
}

// Heal applies rules in detection order. Only rules that change the text
// count; the rewrite must pass Validate to be reported as a success.
func (h *Healer) Heal(source string, changes []models.SpecChange) Result {
	candidates := h.Detect(changes)
	if len(candidates) == 0 {
		return Result{Source: source, Problems: []string{"no applicable rules"}}
	}

	current := source
	var applied []Rule
	var total float64
	for _, rule := range candidates {
		next := rule.apply(current)
		if next == current {
			h.logger.Debug("rule did not match", zap.String("rule", rule.Describe()))
			continue
		}
		current = next
		applied = append(applied, rule)
		total += rule.Confidence()
	}

	res := Result{Source: current, Applied: applied}
	if len(applied) > 0 {
		res.Confidence = total / float64(len(applied))
	}

	res.Problems = Validate(source, current)
	if len(res.Problems) > 0 {
		h.logger.Debug("rewrite rejected",
			zap.Int("applied", len(applied)),
			zap.Strings("problems", res.Problems))
		res.Source = source
		return res
	}

	res.Success = true
	h.logger.Debug("rewrite accepted",
		zap.Int("applied", len(applied)),
		zap.Float64("confidence", res.Confidence))
	return res
}

var requestCall = regexp.MustCompile("\\brequest\\s*\\.\\s*(get|post|put|patch|delete|head)\\s*\\(\\s*['\"`]([^'\"`]+)['\"`]")

var absoluteURL = regexp.MustCompile(`^https?://[^/]+`)

// InferEndpoints lists the requests a Playwright API test makes.
func InferEndpoints(source string) []models.Endpoint {
	var out []models.Endpoint
	seen := make(map[string]bool)
	for _, m := range requestCall.FindAllStringSubmatch(source, -1) {
		path := absoluteURL.ReplaceAllString(m[2], "")
		if i := strings.IndexAny(path, "?#"); i >= 0 {
			path = path[:i]
		}
		if path == "" {
			path = "/"
		}
		ep := models.Endpoint{Method: strings.ToUpper(m[1]), Path: path}
		if seen[ep.String()] {
			continue
		}
		seen[ep.String()] = true
		out = append(out, ep)
	}
	return out
}
