package classifier

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kamilpajak/testmend/pkg/models"
)

// Base confidence per failure kind. These are policy constants, not derived
// from message text.
const (
	ConfidenceFieldMissing      = 0.85
	ConfidenceTypeMismatch      = 0.8
	ConfidenceStatusCodeChanged = 0.8
	ConfidenceEndpointNotFound  = 0.85
	ConfidenceSchemaValidation  = 0.75
	ConfidenceAuth              = 0.9
	ConfidenceTimeout           = 0.3
	ConfidenceNetwork           = 0.3
	ConfidenceSelector          = 0.7
	ConfidenceNavigation        = 0.5
	ConfidenceValidation        = 0.6
	ConfidenceUnknown           = 0.1

	// FallbackConfidenceFactor scales the base confidence when the kind was
	// assigned by keyword fallback rather than a pattern.
	FallbackConfidenceFactor = 0.75
)

// BaseConfidence returns the policy confidence for a failure kind.
func BaseConfidence(kind models.FailureKind) float64 {
	switch kind {
	case models.FailureFieldMissing:
		return ConfidenceFieldMissing
	case models.FailureTypeMismatch:
		return ConfidenceTypeMismatch
	case models.FailureStatusCodeChanged:
		return ConfidenceStatusCodeChanged
	case models.FailureEndpointNotFound:
		return ConfidenceEndpointNotFound
	case models.FailureSchemaValidation:
		return ConfidenceSchemaValidation
	case models.FailureAuth:
		return ConfidenceAuth
	case models.FailureTimeout:
		return ConfidenceTimeout
	case models.FailureNetwork:
		return ConfidenceNetwork
	case models.FailureSelectorNotFound, models.FailureSelectorChanged:
		return ConfidenceSelector
	case models.FailureNavigation:
		return ConfidenceNavigation
	case models.FailureValidation:
		return ConfidenceValidation
	default:
		return ConfidenceUnknown
	}
}

// extractor copies regex submatches into the detail.
type extractor func(m []string, d *models.FailureDetail)

// Pattern is one row of the classification table.
type Pattern struct {
	Name     string
	Kind     models.FailureKind
	Regexp   *regexp.Regexp
	Priority int
	Extract  extractor
}

const httpMethods = `GET|POST|PUT|PATCH|DELETE|HEAD|OPTIONS`

const jsTypes = `string|number|integer|boolean|object|array|null|undefined|bigint`

// defaultPatterns is evaluated in full; the highest priority match wins and
// ties go to the earlier row.
var defaultPatterns = []Pattern{
	{
		Name:     "auth-status-text",
		Kind:     models.FailureAuth,
		Regexp:   regexp.MustCompile(`(?i)\b(401|403)\b[^\n]*?\b(unauthori[sz]ed|forbidden)\b`),
		Priority: 93,
		Extract:  func(m []string, d *models.FailureDetail) { d.ActualStatus = atoi(m[1]) },
	},
	{
		Name:     "auth-keyword",
		Kind:     models.FailureAuth,
		Regexp:   regexp.MustCompile(`(?i)\b(unauthori[sz]ed|forbidden|authentication (?:failed|required)|invalid (?:api[ _-]?key|token|credentials)|jwt (?:expired|malformed)|access denied|token (?:has )?expired)\b`),
		Priority: 86,
	},
	{
		Name:     "express-cannot-method",
		Kind:     models.FailureEndpointNotFound,
		Regexp:   regexp.MustCompile(`(?i)\bcannot\s+(` + httpMethods + `)\s+(/\S*)`),
		Priority: 95,
		Extract: func(m []string, d *models.FailureDetail) {
			d.Method = strings.ToUpper(m[1])
			d.Endpoint = trimPath(m[2])
			d.ActualStatus = 404
		},
	},
	{
		Name:     "endpoint-not-found",
		Kind:     models.FailureEndpointNotFound,
		Regexp:   regexp.MustCompile("(?i)\\b(?:endpoint|route|path|resource)\\s+['\"`]?(?:(" + httpMethods + ")\\s+)?(/[^\\s'\"`]*)['\"`]?\\s+(?:was\\s+)?(?:not found|does not exist|is not defined)"),
		Priority: 92,
		Extract: func(m []string, d *models.FailureDetail) {
			d.Method = strings.ToUpper(m[1])
			d.Endpoint = trimPath(m[2])
			d.ActualStatus = 404
		},
	},
	{
		Name:     "status-expected-received",
		Kind:     models.FailureStatusCodeChanged,
		Regexp:   regexp.MustCompile(`(?i)expected\s+(?:http\s+)?(?:status(?:\s+code)?|response\s+status)\s+(?:to\s+(?:be|equal)\s+)?(\d{3}),?\s+(?:but\s+)?(?:received|got|was)\s+(\d{3})`),
		Priority: 90,
		Extract: func(m []string, d *models.FailureDetail) {
			d.ExpectedStatus = atoi(m[1])
			d.ActualStatus = atoi(m[2])
		},
	},
	{
		Name:     "plain-404-not-found",
		Kind:     models.FailureEndpointNotFound,
		Regexp:   regexp.MustCompile(`(?i)\b404\b[\s:-]*not\s+found\b`),
		Priority: 88,
		Extract:  func(m []string, d *models.FailureDetail) { d.ActualStatus = 404 },
	},
	{
		Name:     "status-jest-diff",
		Kind:     models.FailureStatusCodeChanged,
		Regexp:   regexp.MustCompile(`(?is)status(?:code)?\(?\)?\)\s*\.\s*to(?:Be|Equal|StrictEqual)\(.*?Expected:\s*(\d{3})\s*\n\s*Received:\s*(\d{3})`),
		Priority: 85,
		Extract: func(m []string, d *models.FailureDetail) {
			d.ExpectedStatus = atoi(m[1])
			d.ActualStatus = atoi(m[2])
		},
	},
	{
		Name:     "status-jest-diff-codeframe",
		Kind:     models.FailureStatusCodeChanged,
		Regexp:   regexp.MustCompile(`(?is)Expected:\s*(\d{3})\s*\n\s*Received:\s*(\d{3})\b.*?\bstatus(?:Code)?\b`),
		Priority: 85,
		Extract: func(m []string, d *models.FailureDetail) {
			d.ExpectedStatus = atoi(m[1])
			d.ActualStatus = atoi(m[2])
		},
	},
	{
		Name:     "http-code-diff",
		Kind:     models.FailureStatusCodeChanged,
		Regexp:   regexp.MustCompile(`(?s)Expected:\s*([1-5]\d{2})\s*\n\s*Received:\s*([1-5]\d{2})\s*(?:\n|$)`),
		Priority: 45,
		Extract: func(m []string, d *models.FailureDetail) {
			d.ExpectedStatus = atoi(m[1])
			d.ActualStatus = atoi(m[2])
		},
	},
	{
		Name:     "typeof-jest-diff",
		Kind:     models.FailureTypeMismatch,
		Regexp:   regexp.MustCompile(`(?is)expect\(\s*typeof\s+[\w$.\[\]'"]*?([\w$]+)['"\]]*\s*\)\s*\.\s*to(?:Be|Equal)\(.*?Expected:\s*"(\w+)"\s*\n\s*Received:\s*"(\w+)"`),
		Priority: 84,
		Extract: func(m []string, d *models.FailureDetail) {
			d.Field = m[1]
			d.ExpectedType = m[2]
			d.ActualType = m[3]
		},
	},
	{
		Name:     "field-should-be-type",
		Kind:     models.FailureTypeMismatch,
		Regexp:   regexp.MustCompile(`(?i)(?:field|property|key)\s+['"` + "`" + `]?([\w.\-\[\]]+)['"` + "`" + `]?\s+(?:should be|must be|is not)(?:\s+of\s+type|\s+an?)?\s+(` + jsTypes + `)\b`),
		Priority: 82,
		Extract: func(m []string, d *models.FailureDetail) {
			d.Field = m[1]
			d.ExpectedType = strings.ToLower(m[2])
		},
	},
	{
		Name:     "expected-type-got-type",
		Kind:     models.FailureTypeMismatch,
		Regexp:   regexp.MustCompile(`(?i)expected\s+(?:type\s+)?['"]?(` + jsTypes + `)['"]?,?\s+(?:but\s+)?(?:got|received|found)\s+(?:type\s+)?['"]?(` + jsTypes + `)['"]?`),
		Priority: 80,
		Extract: func(m []string, d *models.FailureDetail) {
			d.ExpectedType = strings.ToLower(m[1])
			d.ActualType = strings.ToLower(m[2])
		},
	},
	{
		Name:     "field-missing",
		Kind:     models.FailureFieldMissing,
		Regexp:   regexp.MustCompile(`(?i)(?:property|field|key|attribute)\s+['"` + "`" + `]?([\w.\-\[\]]+?)['"` + "`" + `]?\s+(?:is\s+)?(?:missing|not found|does not exist|is undefined|was not present|not present)`),
		Priority: 80,
		Extract:  func(m []string, d *models.FailureDetail) { d.Field = m[1] },
	},
	{
		Name:     "jest-to-have-property",
		Kind:     models.FailureFieldMissing,
		Regexp:   regexp.MustCompile(`(?is)toHaveProperty\(.*?Expected path:\s*"?([\w.\-\[\]]+)"?`),
		Priority: 78,
		Extract:  func(m []string, d *models.FailureDetail) { d.Field = m[1] },
	},
	{
		Name:     "chai-have-property",
		Kind:     models.FailureFieldMissing,
		Regexp:   regexp.MustCompile(`(?i)expected\s+.*?\s+to\s+have\s+(?:a\s+|own\s+)?property\s+['"` + "`" + `]([\w.\-]+)['"` + "`" + `]`),
		Priority: 76,
		Extract:  func(m []string, d *models.FailureDetail) { d.Field = m[1] },
	},
	{
		Name:     "ajv-required-property",
		Kind:     models.FailureSchemaValidation,
		Regexp:   regexp.MustCompile(`(?i)must have required property\s+['"]([\w.\-]+)['"]`),
		Priority: 72,
		Extract:  func(m []string, d *models.FailureDetail) { d.Field = m[1] },
	},
	{
		Name:     "ajv-additional-property",
		Kind:     models.FailureSchemaValidation,
		Regexp:   regexp.MustCompile(`(?i)(?:must not have|has)\s+additional\s+propert(?:y|ies)\s*:?\s*['"]?([\w.\-]+)?`),
		Priority: 71,
		Extract:  func(m []string, d *models.FailureDetail) { d.Field = m[1] },
	},
	{
		Name:     "cannot-read-property",
		Kind:     models.FailureFieldMissing,
		Regexp:   regexp.MustCompile(`(?i)cannot read propert(?:y|ies) of (?:undefined|null) \(reading ['"]([\w$]+)['"]\)`),
		Priority: 70,
		Extract:  func(m []string, d *models.FailureDetail) { d.Field = m[1] },
	},
	{
		Name:     "schema-validation",
		Kind:     models.FailureSchemaValidation,
		Regexp:   regexp.MustCompile(`(?i)(?:(?:json\s+)?schema|response|payload)\s+validation\s+(?:failed|error)|does not match (?:the )?schema`),
		Priority: 70,
	},
	{
		Name:     "network-errno",
		Kind:     models.FailureNetwork,
		Regexp:   regexp.MustCompile(`(?i)\b(ECONNREFUSED|ECONNRESET|ENOTFOUND|EAI_AGAIN|EHOSTUNREACH|EPIPE|socket hang up|getaddrinfo|network error|connection refused)\b`),
		Priority: 68,
	},
	{
		Name:     "timeout-ms",
		Kind:     models.FailureTimeout,
		Regexp:   regexp.MustCompile(`(?i)(?:timeout|timed out)\s+(?:of\s+|after\s+)?(\d+)\s*ms(?:\s+exceeded)?`),
		Priority: 65,
		Extract:  func(m []string, d *models.FailureDetail) { d.TimeoutMS = atoi(m[1]) },
	},
	{
		Name:     "navigation-net-error",
		Kind:     models.FailureNavigation,
		Regexp:   regexp.MustCompile(`(?i)(?:page\.goto|navigat(?:ion|ing)\s+to)\b.*?(net::ERR_[A-Z_]+)`),
		Priority: 62,
	},
	{
		Name:     "navigation-failed",
		Kind:     models.FailureNavigation,
		Regexp:   regexp.MustCompile(`(?i)navigation\s+(?:failed|timeout|was interrupted)`),
		Priority: 61,
	},
	{
		Name:     "unexpected-status",
		Kind:     models.FailureStatusCodeChanged,
		Regexp:   regexp.MustCompile(`(?i)unexpected\s+(?:http\s+)?status(?:\s+code)?:?\s*(\d{3})`),
		Priority: 60,
		Extract:  func(m []string, d *models.FailureDetail) { d.ActualStatus = atoi(m[1]) },
	},
	{
		Name:     "timeout-keyword",
		Kind:     models.FailureTimeout,
		Regexp:   regexp.MustCompile(`(?i)\b(?:timed out|timeout exceeded|ETIMEDOUT)\b`),
		Priority: 60,
	},
	{
		Name:     "strict-mode-violation",
		Kind:     models.FailureSelectorChanged,
		Regexp:   regexp.MustCompile(`(?i)strict mode violation:\s*(?:locator|getBy\w+)\(['"](.+?)['"]\)\s+resolved to (\d+) elements`),
		Priority: 57,
		Extract:  func(m []string, d *models.FailureDetail) { d.Selector = m[1] },
	},
	{
		Name:     "waiting-for-locator",
		Kind:     models.FailureSelectorNotFound,
		Regexp:   regexp.MustCompile("(?i)waiting for (?:locator|selector)\\s*\\(?['\"`](.+?)['\"`]\\)?"),
		Priority: 55,
		Extract:  func(m []string, d *models.FailureDetail) { d.Selector = m[1] },
	},
	{
		Name:     "no-element-for-selector",
		Kind:     models.FailureSelectorNotFound,
		Regexp:   regexp.MustCompile("(?i)no (?:element|node)s? (?:found )?(?:for|matching) selector:?\\s*['\"`]?([^'\"`\\n]+)"),
		Priority: 54,
		Extract:  func(m []string, d *models.FailureDetail) { d.Selector = strings.TrimSpace(m[1]) },
	},
	{
		Name:     "assertion-value-diff",
		Kind:     models.FailureValidation,
		Regexp:   regexp.MustCompile(`(?is)\.\s*to(?:Be|Equal|StrictEqual|Match\w*|Contain\w*)\(.*?Expected:?\s*([^\n]+?)\s*\n\s*Received:?\s*([^\n]+)`),
		Priority: 40,
		Extract: func(m []string, d *models.FailureDetail) {
			d.ExpectedValue = strings.TrimSpace(m[1])
			d.ActualValue = strings.TrimSpace(m[2])
		},
	},
}

// keywordRule maps a keyword set to a kind for the fallback categorizer.
type keywordRule struct {
	kind     models.FailureKind
	keywords []string
}

// fallbackKeywords is scanned in order; the first hit wins.
var fallbackKeywords = []keywordRule{
	{models.FailureTimeout, []string{"timeout", "timed out", "exceeded"}},
	{models.FailureNetwork, []string{"econnrefused", "econnreset", "network", "socket", "dns"}},
	{models.FailureAuth, []string{"401", "403", "unauthorized", "forbidden", "token", "credential"}},
	{models.FailureEndpointNotFound, []string{"404", "not found", "no route"}},
	{models.FailureStatusCodeChanged, []string{"status"}},
	{models.FailureFieldMissing, []string{"undefined", "missing", "property"}},
	{models.FailureTypeMismatch, []string{"type", "typeof"}},
	{models.FailureSchemaValidation, []string{"schema"}},
	{models.FailureSelectorNotFound, []string{"selector", "locator"}},
	{models.FailureNavigation, []string{"navigat", "goto"}},
	{models.FailureValidation, []string{"expect", "assert"}},
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

// trimPath drops a query string, fragment and trailing punctuation.
func trimPath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return strings.TrimRight(p, ".,;:)'\"`")
}
