package rules

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// Rename confidences.
const (
	ConfidenceCasingRename     = 0.95
	ConfidenceSimilarityRename = 0.7

	// DefaultSimilarityThreshold is the minimum edit-distance ratio for a
	// similarity rename.
	DefaultSimilarityThreshold = 0.8

	minAbbreviationLen = 3
)

// Transform is a named casing conversion.
type Transform struct {
	Name string
	Fn   func(string) string
}

// Transforms are tried in this order; the first exact match names the rename.
var Transforms = []Transform{
	{"snake-to-camel", SnakeToCamel},
	{"camel-to-snake", CamelToSnake},
	{"snake-to-kebab", SnakeToKebab},
	{"kebab-to-snake", KebabToSnake},
	{"camel-to-pascal", CamelToPascal},
	{"pascal-to-camel", PascalToCamel},
	{"kebab-to-camel", KebabToCamel},
	{"camel-to-kebab", CamelToKebab},
	{"snake-to-pascal", SnakeToPascal},
	{"pascal-to-snake", PascalToSnake},
}

// SnakeToCamel converts user_id to userId.
func SnakeToCamel(s string) string {
	return joinCapitalized(strings.Split(s, "_"), false)
}

// CamelToSnake converts userId to user_id.
func CamelToSnake(s string) string {
	return splitUpper(s, '_')
}

// SnakeToKebab converts user_id to user-id.
func SnakeToKebab(s string) string {
	return strings.ReplaceAll(s, "_", "-")
}

// KebabToSnake converts user-id to user_id.
func KebabToSnake(s string) string {
	return strings.ReplaceAll(s, "-", "_")
}

// CamelToPascal converts userId to UserId.
func CamelToPascal(s string) string {
	return upperFirst(s)
}

// PascalToCamel converts UserId to userId.
func PascalToCamel(s string) string {
	return lowerFirst(s)
}

// KebabToCamel converts user-id to userId.
func KebabToCamel(s string) string {
	return joinCapitalized(strings.Split(s, "-"), false)
}

// CamelToKebab converts userId to user-id.
func CamelToKebab(s string) string {
	return splitUpper(s, '-')
}

// SnakeToPascal converts user_id to UserId.
func SnakeToPascal(s string) string {
	return joinCapitalized(strings.Split(s, "_"), true)
}

// PascalToSnake converts UserId to user_id.
func PascalToSnake(s string) string {
	return splitUpper(lowerFirst(s), '_')
}

func joinCapitalized(parts []string, capFirst bool) string {
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 && !capFirst {
			b.WriteString(p)
			continue
		}
		b.WriteString(upperFirst(p))
	}
	return b.String()
}

// splitUpper lower-cases every upper-case rune and prefixes it with sep,
// except at the start of the string.
func splitUpper(s string, sep rune) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteRune(sep)
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// Similarity returns 1 - editDistance/maxLen over lower-cased inputs.
func Similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// RenameMatch explains why two names are considered the same field.
type RenameMatch struct {
	Pattern    string
	Confidence float64
}

// DetectRename decides whether newName is a rename of oldName. Casing
// transforms are tried first, then edit-distance similarity, then prefix
// abbreviation or expansion.
func DetectRename(oldName, newName string, threshold float64) (RenameMatch, bool) {
	if oldName == "" || newName == "" || oldName == newName {
		return RenameMatch{}, false
	}
	for _, t := range Transforms {
		if t.Fn(oldName) == newName {
			return RenameMatch{Pattern: t.Name, Confidence: ConfidenceCasingRename}, true
		}
	}
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	if Similarity(oldName, newName) >= threshold {
		return RenameMatch{Pattern: "similarity", Confidence: ConfidenceSimilarityRename}, true
	}

	o, n := normalizeName(oldName), normalizeName(newName)
	switch {
	case len(n) >= minAbbreviationLen && len(n) < len(o) && strings.HasPrefix(o, n):
		return RenameMatch{Pattern: "abbreviation", Confidence: ConfidenceSimilarityRename}, true
	case len(o) >= minAbbreviationLen && len(o) < len(n) && strings.HasPrefix(n, o):
		return RenameMatch{Pattern: "expansion", Confidence: ConfidenceSimilarityRename}, true
	}
	return RenameMatch{}, false
}

// normalizeName drops separators and case so user_desc and userDesc compare equal.
func normalizeName(s string) string {
	s = strings.ToLower(s)
	return strings.NewReplacer("_", "", "-", "").Replace(s)
}
