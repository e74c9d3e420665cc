// Package rules rewrites API test source deterministically from
// specification changes, without a language model.
package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind names a rule variant.
type Kind string

const (
	KindRename        Kind = "rename"
	KindFieldAddition Kind = "field-addition"
	KindFieldRemoval  Kind = "field-removal"
	KindPathChange    Kind = "path-change"
	KindStatusCode    Kind = "status-code"
)

// Rule confidences that are not rename-dependent.
const (
	ConfidenceFieldAddition = 0.85
	ConfidenceFieldRemoval  = 0.8
	ConfidencePathChange    = 0.95
	ConfidenceKnownStatus   = 0.95
	ConfidenceUnknownStatus = 0.7
)

// Rule is a textual transformation derived from one or two spec changes.
// The set of variants is closed: only this package implements it.
type Rule interface {
	Kind() Kind
	Confidence() float64
	Describe() string
	apply(source string) string
}

// Apply runs a rule against source text.
func Apply(r Rule, source string) string {
	return r.apply(source)
}

// quoteRepl escapes a literal for use in a regexp replacement template.
func quoteRepl(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}

// RenameRule renames a property in accessors, literals and assertions.
type RenameRule struct {
	From    string
	To      string
	Pattern string
	conf    float64
}

func (r RenameRule) Kind() Kind          { return KindRename }
func (r RenameRule) Confidence() float64 { return r.conf }

func (r RenameRule) Describe() string {
	return fmt.Sprintf("rename '%s' to '%s' (%s)", r.From, r.To, r.Pattern)
}

func (r RenameRule) apply(src string) string {
	from, to := regexp.QuoteMeta(r.From), quoteRepl(r.To)
	rewrites := []struct {
		re   *regexp.Regexp
		repl string
	}{
		// body.user_id, body?.user_id
		{regexp.MustCompile(`(\??\.)` + from + `([^\w$]|$)`), "${1}" + to + "${2}"},
		// body['user_id']
		{regexp.MustCompile(`(\[\s*['"])` + from + `(['"]\s*\])`), "${1}" + to + "${2}"},
		// { user_id: 1 } and { "user_id": 1 }
		{regexp.MustCompile(`([{,]\s*)(['"]?)` + from + `(['"]?\s*:)`), "${1}${2}" + to + "${3}"},
		// toHaveProperty('user_id'), property('user_id')
		{regexp.MustCompile(`((?:toHaveProperty|property|have\.property)\(\s*['"])` + from + `(['"])`), "${1}" + to + "${2}"},
	}
	for _, rw := range rewrites {
		src = rw.re.ReplaceAllString(src, rw.repl)
	}
	return src
}

// FieldAdditionRule inserts a newly required field into request bodies.
type FieldAdditionRule struct {
	Field string
	Value any
}

func (r FieldAdditionRule) Kind() Kind          { return KindFieldAddition }
func (r FieldAdditionRule) Confidence() float64 { return ConfidenceFieldAddition }

func (r FieldAdditionRule) Describe() string {
	return fmt.Sprintf("add required field '%s' = %s", r.Field, RenderLiteral(r.Value))
}

var bodyLiteral = regexp.MustCompile(`((?:data|json|body|form)\s*:\s*\{)`)

func (r FieldAdditionRule) apply(src string) string {
	present := regexp.MustCompile(`([{,]\s*)['"]?` + regexp.QuoteMeta(r.Field) + `['"]?\s*:`)
	if present.MatchString(src) {
		return src
	}
	insert := " " + r.Field + ": " + RenderLiteral(r.Value) + ","
	return bodyLiteral.ReplaceAllString(src, "${1}"+quoteRepl(insert))
}

// FieldRemovalRule strips a removed field from literals and weakens
// assertions that reference it.
type FieldRemovalRule struct {
	Field    string
	Breaking bool
}

func (r FieldRemovalRule) Kind() Kind          { return KindFieldRemoval }
func (r FieldRemovalRule) Confidence() float64 { return ConfidenceFieldRemoval }

func (r FieldRemovalRule) Describe() string {
	if r.Breaking {
		return fmt.Sprintf("remove required field '%s' (breaking)", r.Field)
	}
	return fmt.Sprintf("remove field '%s'", r.Field)
}

const jsValue = `(?:'[^'\n]*'|"[^"\n]*"|` + "`[^`\\n]*`" + `|[-\w.$]+)`

func (r FieldRemovalRule) apply(src string) string {
	f := regexp.QuoteMeta(r.Field)
	literal := regexp.MustCompile(`([{,]\s*)['"]?` + f + `['"]?\s*:\s*` + jsValue + `\s*,?[ \t]*`)
	src = literal.ReplaceAllString(src, "${1}")

	equality := regexp.MustCompile(`expect\(([^()]*?\??\.` + f + `)\)\s*\.\s*(?:toBe|toEqual|toStrictEqual|toBeDefined|toBeTruthy)\([^()]*\)`)
	src = equality.ReplaceAllString(src, "expect(${1}).toBeUndefined()")

	has := regexp.MustCompile(`\.toHaveProperty\((\s*['"])` + f + `(['"])`)
	return has.ReplaceAllString(src, ".not.toHaveProperty(${1}"+quoteRepl(r.Field)+"${2}")
}

// PathChangeType classifies how an endpoint path moved.
type PathChangeType string

const (
	PathVersioned    PathChangeType = "versioned"
	PathRenamed      PathChangeType = "renamed"
	PathRestructured PathChangeType = "restructured"
)

// PathChangeRule rewrites literal request URLs from one path template to
// another, carrying path parameter values across.
type PathChangeRule struct {
	Method  string
	OldPath string
	NewPath string
	Type    PathChangeType
}

func (r PathChangeRule) Kind() Kind          { return KindPathChange }
func (r PathChangeRule) Confidence() float64 { return ConfidencePathChange }

func (r PathChangeRule) Describe() string {
	return fmt.Sprintf("move %s %s to %s (%s)", r.Method, r.OldPath, r.NewPath, r.Type)
}

var (
	versionSegment = regexp.MustCompile(`^v\d+$`)
	paramSegment   = regexp.MustCompile(`\{([^/{}]+)\}`)
)

// ClassifyPathChange compares segment counts and version prefixes.
func ClassifyPathChange(oldPath, newPath string) PathChangeType {
	oldSegs, newSegs := segments(oldPath), segments(newPath)
	if strings.Join(stripVersions(oldSegs), "/") == strings.Join(stripVersions(newSegs), "/") {
		return PathVersioned
	}
	if len(oldSegs) == len(newSegs) {
		return PathRenamed
	}
	return PathRestructured
}

func segments(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func stripVersions(segs []string) []string {
	var out []string
	for _, s := range segs {
		if !versionSegment.MatchString(s) {
			out = append(out, s)
		}
	}
	return out
}

const quoteChars = `'"` + "`"

func (r PathChangeRule) apply(src string) string {
	oldParams := paramSegment.FindAllStringSubmatch(r.OldPath, -1)
	parts := paramSegment.Split(r.OldPath, -1)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	pathExpr := strings.Join(parts, `([^/`+quoteChars+`?#]+)`)
	re := regexp.MustCompile(`([` + quoteChars + `])((?:https?://[^/` + quoteChars + `]+)?[^` + quoteChars + `\s]*?)` +
		pathExpr + `((?:[?#][^` + quoteChars + `]*)?)([` + quoteChars + `])`)

	return re.ReplaceAllStringFunc(src, func(match string) string {
		m := re.FindStringSubmatch(match)
		open, prefix := m[1], m[2]
		values := make(map[string]string, len(oldParams))
		positional := make([]string, 0, len(oldParams))
		for i, p := range oldParams {
			values[p[1]] = m[3+i]
			positional = append(positional, m[3+i])
		}
		suffix, closing := m[3+len(oldParams)], m[4+len(oldParams)]
		if open != closing {
			return match
		}

		idx := 0
		newPath := paramSegment.ReplaceAllStringFunc(r.NewPath, func(seg string) string {
			name := seg[1 : len(seg)-1]
			defer func() { idx++ }()
			if v, ok := values[name]; ok {
				return v
			}
			if idx < len(positional) {
				return positional[idx]
			}
			return seg
		})
		return open + prefix + newPath + suffix + closing
	})
}

// StatusCodeRule updates literal status expectations.
type StatusCodeRule struct {
	Old    int
	New    int
	Reason string
	conf   float64
}

func (r StatusCodeRule) Kind() Kind          { return KindStatusCode }
func (r StatusCodeRule) Confidence() float64 { return r.conf }

func (r StatusCodeRule) Describe() string {
	if r.Reason != "" {
		return fmt.Sprintf("expect status %d instead of %d: %s", r.New, r.Old, r.Reason)
	}
	return fmt.Sprintf("expect status %d instead of %d", r.New, r.Old)
}

func (r StatusCodeRule) apply(src string) string {
	old, repl := fmt.Sprintf("%d", r.Old), fmt.Sprintf("%d", r.New)
	rewrites := []*regexp.Regexp{
		// expect(res.status()).toBe(200), expect(res.status).toEqual(200)
		regexp.MustCompile(`(\.status(?:Code)?(?:\(\))?\s*\)\s*\.\s*(?:toBe|toEqual|toStrictEqual)\(\s*)` + old + `(\s*\))`),
		// res.status() === 200
		regexp.MustCompile(`(\bstatus(?:Code)?(?:\(\))?\s*(?:===|==|!==|!=)\s*)` + old + `()\b`),
		// supertest .expect(200)
		regexp.MustCompile(`(\.expect\(\s*)` + old + `(\s*[,)])`),
		// expect(res).toHaveStatus(200)
		regexp.MustCompile(`(\.toHaveStatus(?:Code)?\(\s*)` + old + `(\s*\))`),
	}
	for _, re := range rewrites {
		src = re.ReplaceAllString(src, "${1}"+repl+"${2}")
	}
	return src
}

var knownTransitions = map[[2]int]string{
	{200, 201}: "created instead of ok",
	{200, 204}: "no content instead of ok",
	{200, 202}: "accepted for asynchronous processing",
	{201, 200}: "ok instead of created",
	{204, 200}: "body returned instead of no content",
	{400, 422}: "unprocessable entity for validation errors",
	{422, 400}: "bad request for validation errors",
	{401, 403}: "forbidden instead of unauthorized",
	{403, 401}: "unauthorized instead of forbidden",
	{404, 410}: "gone instead of not found",
	{302, 301}: "permanent redirect",
	{302, 307}: "method-preserving redirect",
	{301, 308}: "method-preserving permanent redirect",
}

// StatusTransition looks up a known status code change.
func StatusTransition(oldCode, newCode int) (string, bool) {
	reason, ok := knownTransitions[[2]int{oldCode, newCode}]
	return reason, ok
}

// NewStatusCodeRule builds a rule with the confidence implied by the
// transition table.
func NewStatusCodeRule(oldCode, newCode int) StatusCodeRule {
	if reason, ok := StatusTransition(oldCode, newCode); ok {
		return StatusCodeRule{Old: oldCode, New: newCode, Reason: reason, conf: ConfidenceKnownStatus}
	}
	return StatusCodeRule{Old: oldCode, New: newCode, conf: ConfidenceUnknownStatus}
}

// NewRenameRule builds a rename rule from a detected match.
func NewRenameRule(from, to string, m RenameMatch) RenameRule {
	return RenameRule{From: from, To: to, Pattern: m.Pattern, conf: m.Confidence}
}
