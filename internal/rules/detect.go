package rules

import (
	"strings"

	"github.com/kamilpajak/testmend/pkg/models"
)

// Detect converts textually representable changes into rules, in detection
// order: renames, additions, removals, path changes, status codes.
func Detect(changes []models.SpecChange, threshold float64) []Rule {
	var out []Rule
	consumed := make(map[int]bool)

	out = append(out, detectRenames(changes, threshold, consumed)...)

	for i, ch := range changes {
		if consumed[i] || ch.Kind != models.ChangePropertyAdded || !ch.Required {
			continue
		}
		var fs models.FieldSpec
		if ch.FieldSpec != nil {
			fs = *ch.FieldSpec
		}
		out = append(out, FieldAdditionRule{Field: ch.Field, Value: InferDefault(fs)})
	}

	for i, ch := range changes {
		if consumed[i] || ch.Kind != models.ChangePropertyRemoved {
			continue
		}
		out = append(out, FieldRemovalRule{Field: ch.Field, Breaking: ch.Required})
	}

	out = append(out, detectPathChanges(changes)...)

	for _, ch := range changes {
		if ch.Kind != models.ChangeStatusCodeChanged {
			continue
		}
		oldCode, ok1 := ch.OldValue.(int)
		newCode, ok2 := ch.NewValue.(int)
		if ok1 && ok2 {
			out = append(out, NewStatusCodeRule(oldCode, newCode))
		}
	}
	return out
}

// parentPath strips the trailing property segment from a change path.
func parentPath(path string) string {
	if i := strings.LastIndex(path, ".properties."); i >= 0 {
		return path[:i]
	}
	return path
}

// detectRenames pairs each removed property with the best added property
// under the same parent. Paired changes are marked consumed.
func detectRenames(changes []models.SpecChange, threshold float64, consumed map[int]bool) []Rule {
	var out []Rule
	for i, removed := range changes {
		if removed.Kind != models.ChangePropertyRemoved && removed.Kind != models.ChangeParameterRemoved {
			continue
		}
		addedKind := models.ChangePropertyAdded
		if removed.Kind == models.ChangeParameterRemoved {
			addedKind = models.ChangeParameterAdded
		}

		best := -1
		var bestMatch RenameMatch
		for j, added := range changes {
			if consumed[j] || added.Kind != addedKind || !sameParent(removed, added) {
				continue
			}
			m, ok := DetectRename(removed.Field, added.Field, threshold)
			if ok && m.Confidence > bestMatch.Confidence {
				best, bestMatch = j, m
			}
		}
		if best < 0 {
			continue
		}
		consumed[i], consumed[best] = true, true
		out = append(out, NewRenameRule(removed.Field, changes[best].Field, bestMatch))
	}
	return out
}

func sameParent(a, b models.SpecChange) bool {
	if a.Kind == models.ChangeParameterRemoved {
		return a.Endpoint == b.Endpoint
	}
	return a.Schema == b.Schema && a.Endpoint == b.Endpoint && parentPath(a.Path) == parentPath(b.Path)
}

// detectPathChanges pairs removed and added endpoints with the same method.
func detectPathChanges(changes []models.SpecChange) []Rule {
	var out []Rule
	used := make(map[int]bool)
	for _, removed := range changes {
		if removed.Kind != models.ChangeEndpointRemoved {
			continue
		}
		method, oldPath, ok := strings.Cut(removed.Endpoint, " ")
		if !ok {
			continue
		}

		best, bestScore := -1, 0
		for j, added := range changes {
			if used[j] || added.Kind != models.ChangeEndpointAdded {
				continue
			}
			m, newPath, ok := strings.Cut(added.Endpoint, " ")
			if !ok || m != method {
				continue
			}
			if score := pathAffinity(oldPath, newPath); score > bestScore {
				best, bestScore = j, score
			}
		}
		if best < 0 {
			continue
		}
		used[best] = true
		_, newPath, _ := strings.Cut(changes[best].Endpoint, " ")
		out = append(out, PathChangeRule{
			Method:  method,
			OldPath: oldPath,
			NewPath: newPath,
			Type:    ClassifyPathChange(oldPath, newPath),
		})
	}
	return out
}

// pathAffinity ranks how likely newPath replaced oldPath.
func pathAffinity(oldPath, newPath string) int {
	switch ClassifyPathChange(oldPath, newPath) {
	case PathVersioned:
		return 4
	case PathRenamed:
		o, n := segments(oldPath), segments(newPath)
		if len(o) > 0 && o[len(o)-1] == n[len(n)-1] {
			return 3
		}
		return 2
	default:
		return 1
	}
}
