package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kamilpajak/testmend/pkg/models"
)

var (
	statusPairPattern = regexp.MustCompile(`(?i)expected[^\d\n]{0,40}(\d{3})[^\d\n]{0,40}(?:received|got|actual|was)[^\d\n]{0,10}(\d{3})`)
	quotedField       = regexp.MustCompile("['\"`]([A-Za-z_$][\\w$.\\-]*)['\"`]")
	urlPath           = regexp.MustCompile(`https?://[^/\s'"]+(/[^\s'"` + "`" + `)]*)`)
	methodAndPath     = regexp.MustCompile(`\b(` + httpMethods + `)\s+(/[^\s'"` + "`" + `)]*)`)
	requestCall       = regexp.MustCompile("(?i)\\brequest\\s*\\.\\s*(get|post|put|patch|delete|head|fetch)\\s*\\(\\s*['\"`]([^'\"`]+)['\"`]")
	sourceField       = regexp.MustCompile(`expect\(\s*[\w$]+(?:\.[\w$]+)*\.([\w$]+)\s*\)`)
)

// refineDetail fills gaps the matched pattern left empty. It never
// overwrites a value the pattern extracted.
func refineDetail(kind models.FailureKind, msg, source string, d models.FailureDetail) models.FailureDetail {
	switch kind {
	case models.FailureStatusCodeChanged:
		if d.ExpectedStatus == 0 || d.ActualStatus == 0 {
			if m := statusPairPattern.FindStringSubmatch(msg); m != nil {
				if d.ExpectedStatus == 0 {
					d.ExpectedStatus = atoi(m[1])
				}
				if d.ActualStatus == 0 {
					d.ActualStatus = atoi(m[2])
				}
			}
		}
	case models.FailureFieldMissing, models.FailureTypeMismatch, models.FailureSchemaValidation:
		if d.Field == "" {
			if m := quotedField.FindStringSubmatch(msg); m != nil && !isTypeName(m[1]) {
				d.Field = m[1]
			} else if source != "" && kind == models.FailureTypeMismatch {
				if m := sourceField.FindStringSubmatch(source); m != nil {
					d.Field = m[1]
				}
			}
		}
	}

	if kind == models.FailureEndpointNotFound || kind == models.FailureStatusCodeChanged {
		if d.Endpoint == "" {
			if m := methodAndPath.FindStringSubmatch(msg); m != nil {
				d.Method = strings.ToUpper(m[1])
				d.Endpoint = trimPath(m[2])
			} else if m := urlPath.FindStringSubmatch(msg); m != nil {
				d.Endpoint = trimPath(m[1])
			}
		}
		if d.Endpoint == "" && source != "" {
			if m := requestCall.FindStringSubmatch(source); m != nil {
				d.Endpoint = trimPath(pathOnly(m[2]))
				if d.Method == "" && !strings.EqualFold(m[1], "fetch") {
					d.Method = strings.ToUpper(m[1])
				}
			}
		}
		if d.Method == "" && d.Endpoint != "" && source != "" {
			if m := requestCall.FindStringSubmatch(source); m != nil && trimPath(pathOnly(m[2])) == d.Endpoint &&
				!strings.EqualFold(m[1], "fetch") {
				d.Method = strings.ToUpper(m[1])
			}
		}
	}
	return d
}

func pathOnly(u string) string {
	if m := urlPath.FindStringSubmatch(u); m != nil {
		return m[1]
	}
	return u
}

func isTypeName(s string) bool {
	switch strings.ToLower(s) {
	case "string", "number", "integer", "boolean", "object", "array", "null", "undefined", "bigint":
		return true
	}
	return false
}

// rootCause renders a one-line explanation for the kind and detail.
func rootCause(kind models.FailureKind, d models.FailureDetail) string {
	switch kind {
	case models.FailureFieldMissing:
		if d.Field != "" {
			return fmt.Sprintf("Response no longer contains field '%s'", d.Field)
		}
		return "Response is missing an expected field"
	case models.FailureTypeMismatch:
		switch {
		case d.Field != "" && d.ExpectedType != "" && d.ActualType != "":
			return fmt.Sprintf("Field '%s' changed type from %s to %s", d.Field, d.ExpectedType, d.ActualType)
		case d.ExpectedType != "" && d.ActualType != "":
			return fmt.Sprintf("Value type changed from %s to %s", d.ExpectedType, d.ActualType)
		}
		return "A response value has a different type than expected"
	case models.FailureStatusCodeChanged:
		if d.ExpectedStatus != 0 && d.ActualStatus != 0 {
			return fmt.Sprintf("API returned status %d instead of %d", d.ActualStatus, d.ExpectedStatus)
		}
		if d.ActualStatus != 0 {
			return fmt.Sprintf("API returned unexpected status %d", d.ActualStatus)
		}
		return "API returned an unexpected status code"
	case models.FailureEndpointNotFound:
		if d.Endpoint != "" {
			return fmt.Sprintf("Endpoint %s was not found", strings.TrimSpace(d.Method+" "+d.Endpoint))
		}
		return "The requested endpoint was not found"
	case models.FailureSchemaValidation:
		if d.Field != "" {
			return fmt.Sprintf("Response failed schema validation at '%s'", d.Field)
		}
		return "Response failed schema validation"
	case models.FailureAuth:
		return "Request was rejected by authentication or authorization"
	case models.FailureTimeout:
		if d.TimeoutMS > 0 {
			return fmt.Sprintf("Operation timed out after %dms", d.TimeoutMS)
		}
		return "Operation timed out"
	case models.FailureNetwork:
		return "Network error while contacting the API"
	case models.FailureSelectorNotFound:
		if d.Selector != "" {
			return fmt.Sprintf("Selector %q matched no element", d.Selector)
		}
		return "Selector matched no element"
	case models.FailureSelectorChanged:
		return fmt.Sprintf("Selector %q is ambiguous after a page change", d.Selector)
	case models.FailureNavigation:
		return "Page navigation failed"
	case models.FailureValidation:
		if d.ExpectedValue != "" || d.ActualValue != "" {
			return fmt.Sprintf("Assertion expected %s but received %s", d.ExpectedValue, d.ActualValue)
		}
		return "An assertion failed"
	default:
		return "Unrecognized failure"
	}
}
