package specdiff

import (
	"testing"

	"github.com/kamilpajak/testmend/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestMatchEndpoint(t *testing.T) {
	tests := []struct {
		key, method, path string
		want              bool
	}{
		{"GET /users/{id}", "GET", "/users/42", true},
		{"GET /users/{id}", "get", "/users/42", true},
		{"GET /users/{id}", "", "/users/42", true},
		{"GET /users/{id}", "POST", "/users/42", false},
		{"GET /users/{id}", "GET", "/users/42/posts", false},
		{"GET /users/{id}", "GET", "/api/v1/users/42", true},
		{"GET /users", "GET", "/users/", true},
		{"GET /orgs/{org}/repos/{repo}", "GET", "/orgs/acme/repos/web", true},
		{"GET /users", "GET", "/users/{id}", false},
		{"malformed", "GET", "/users", false},
	}

	for _, tt := range tests {
		t.Run(tt.key+" "+tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchEndpoint(tt.key, tt.method, tt.path))
		})
	}
}

func TestForEndpoint(t *testing.T) {
	changes := []models.SpecChange{
		{Kind: models.ChangeStatusCodeChanged, Endpoint: "POST /users"},
		{Kind: models.ChangePropertyRemoved, Field: "user_id", AffectedEndpoints: []string{"GET /users/{id}"}},
		{Kind: models.ChangeEndpointRemoved, Endpoint: "GET /orders"},
		{Kind: models.ChangeEndpointAdded, Endpoint: "GET /v2/orders"},
		{Kind: models.ChangeEndpointAdded, Endpoint: "POST /v2/orders"},
	}

	got := ForEndpoint(changes, "GET", "/users/7")
	assert.Len(t, got, 1)
	assert.Equal(t, "user_id", got[0].Field)

	got = ForEndpoint(changes, "GET", "/orders")
	if assert.Len(t, got, 2) {
		assert.Equal(t, models.ChangeEndpointRemoved, got[0].Kind)
		assert.Equal(t, "GET /v2/orders", got[1].Endpoint)
	}

	assert.Empty(t, ForEndpoint(changes, "DELETE", "/nothing"))

	diff := models.SpecDiff{Changes: changes}
	assert.Len(t, ChangesForEndpoint(diff, "POST", "/users"), 1)
}
