package rules

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/kamilpajak/testmend/pkg/models"
)

// formatSamples are representative values for common string formats.
var formatSamples = map[string]string{
	"email":     "user@example.com",
	"uuid":      "123e4567-e89b-12d3-a456-426614174000",
	"date":      "2024-01-01",
	"date-time": "2024-01-01T00:00:00Z",
	"uri":       "https://example.com",
	"url":       "https://example.com",
	"hostname":  "example.com",
	"ipv4":      "192.0.2.1",
	"ipv6":      "2001:db8::1",
	"byte":      "ZXhhbXBsZQ==",
	"password":  "Passw0rd!",
	"phone":     "+15555550100",
}

const defaultString = "example"

// InferDefault picks a representative value for a field. Explicit example,
// default and enum values win over synthesized ones.
func InferDefault(fs models.FieldSpec) any {
	switch {
	case fs.Example != nil:
		return fs.Example
	case fs.Default != nil:
		return fs.Default
	case len(fs.Enum) > 0:
		return fs.Enum[0]
	}

	switch fs.Type {
	case "string":
		return inferString(fs)
	case "integer":
		return int(math.Floor(midpoint(fs.Minimum, fs.Maximum)))
	case "number":
		return midpoint(fs.Minimum, fs.Maximum)
	case "boolean":
		return false
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	default:
		return nil
	}
}

func inferString(fs models.FieldSpec) string {
	v := defaultString
	if sample, ok := formatSamples[fs.Format]; ok {
		v = sample
		// Fall back to the plain default if the registry rejects the sample.
		if strfmt.Default.ContainsName(fs.Format) && !strfmt.Default.Validates(fs.Format, v) {
			v = defaultString
		}
	}
	if fs.MinLength != nil && len(v) < *fs.MinLength {
		v += strings.Repeat("x", *fs.MinLength-len(v))
	}
	if fs.MaxLength != nil && *fs.MaxLength >= 0 && len(v) > *fs.MaxLength {
		v = v[:*fs.MaxLength]
	}
	return v
}

func midpoint(minimum, maximum *float64) float64 {
	switch {
	case minimum != nil && maximum != nil:
		return (*minimum + *maximum) / 2
	case minimum != nil:
		return *minimum
	case maximum != nil:
		return math.Min(*maximum, 1)
	default:
		return 1
	}
}

// RenderLiteral formats a value as a JavaScript literal.
func RenderLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`).Replace(t) + "'"
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = RenderLiteral(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		if len(t) == 0 {
			return "{}"
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + RenderLiteral(t[k])
		}
		return "{ " + strings.Join(parts, ", ") + " }"
	default:
		return fmt.Sprint(t)
	}
}
