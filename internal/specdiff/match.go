package specdiff

import (
	"regexp"
	"strings"

	"github.com/kamilpajak/testmend/pkg/models"
)

var placeholder = regexp.MustCompile(`\{[^/{}]+\}`)

// templatePattern turns "/users/{id}" into a regexp matching concrete paths
// such as "/api/users/42". Any leading prefix is accepted so tests that
// call through a base path still match.
func templatePattern(template string) *regexp.Regexp {
	parts := placeholder.Split(template, -1)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	expr := strings.Join(parts, `[^/]+`)
	return regexp.MustCompile(`^(?:.*?)` + expr + `/?$`)
}

// MatchEndpoint reports whether a concrete request matches an endpoint key
// "METHOD /template". An empty method matches any method.
func MatchEndpoint(key, method, path string) bool {
	epMethod, template, ok := strings.Cut(key, " ")
	if !ok {
		return false
	}
	if method != "" && !strings.EqualFold(method, epMethod) {
		return false
	}
	if path == template {
		return true
	}
	return templatePattern(template).MatchString(path)
}

// ForEndpoint selects the changes relevant to one request. A change is
// relevant when it names the endpoint directly or lists it as affected.
// When the endpoint itself was removed, endpoints added with the same method
// are included as candidates for a path change.
func ForEndpoint(changes []models.SpecChange, method, path string) []models.SpecChange {
	var out []models.SpecChange
	removedMethods := make(map[string]bool)
	for _, ch := range changes {
		if !changeMatches(ch, method, path) {
			continue
		}
		out = append(out, ch)
		if ch.Kind == models.ChangeEndpointRemoved {
			m, _, _ := strings.Cut(ch.Endpoint, " ")
			removedMethods[m] = true
		}
	}
	if len(removedMethods) == 0 {
		return out
	}
	for _, ch := range changes {
		if ch.Kind != models.ChangeEndpointAdded {
			continue
		}
		m, _, _ := strings.Cut(ch.Endpoint, " ")
		if removedMethods[m] && !changeMatches(ch, method, path) {
			out = append(out, ch)
		}
	}
	return out
}

func changeMatches(ch models.SpecChange, method, path string) bool {
	if ch.Endpoint != "" && MatchEndpoint(ch.Endpoint, method, path) {
		return true
	}
	for _, ep := range ch.AffectedEndpoints {
		if MatchEndpoint(ep, method, path) {
			return true
		}
	}
	return false
}

// ChangesForEndpoint is ForEndpoint over a whole diff.
func ChangesForEndpoint(diff models.SpecDiff, method, path string) []models.SpecChange {
	return ForEndpoint(diff.Changes, method, path)
}
