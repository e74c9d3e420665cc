// Package openapi loads OpenAPI 3 and Swagger 2 documents into typed structures.
package openapi

import (
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the subset of an OpenAPI or Swagger document that diffing needs.
type Document struct {
	OpenAPI             string                     `yaml:"openapi,omitempty" json:"openapi,omitempty"`
	Swagger             string                     `yaml:"swagger,omitempty" json:"swagger,omitempty"`
	Info                *Info                      `yaml:"info,omitempty" json:"info,omitempty"`
	Paths               map[string]*PathItem       `yaml:"paths,omitempty" json:"paths,omitempty"`
	Components          *Components                `yaml:"components,omitempty" json:"components,omitempty"`
	Definitions         map[string]*Schema         `yaml:"definitions,omitempty" json:"definitions,omitempty"`
	SecurityDefinitions map[string]*SecurityScheme `yaml:"securityDefinitions,omitempty" json:"securityDefinitions,omitempty"`
	Security            []SecurityRequirement      `yaml:"security,omitempty" json:"security,omitempty"`
}

// Info carries document metadata.
type Info struct {
	Title       string `yaml:"title,omitempty" json:"title,omitempty"`
	Version     string `yaml:"version,omitempty" json:"version,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Components holds reusable OpenAPI 3 definitions.
type Components struct {
	Schemas         map[string]*Schema         `yaml:"schemas,omitempty" json:"schemas,omitempty"`
	SecuritySchemes map[string]*SecurityScheme `yaml:"securitySchemes,omitempty" json:"securitySchemes,omitempty"`
}

// PathItem lists the operations available on one path.
type PathItem struct {
	Get        *Operation   `yaml:"get,omitempty" json:"get,omitempty"`
	Put        *Operation   `yaml:"put,omitempty" json:"put,omitempty"`
	Post       *Operation   `yaml:"post,omitempty" json:"post,omitempty"`
	Delete     *Operation   `yaml:"delete,omitempty" json:"delete,omitempty"`
	Patch      *Operation   `yaml:"patch,omitempty" json:"patch,omitempty"`
	Head       *Operation   `yaml:"head,omitempty" json:"head,omitempty"`
	Options    *Operation   `yaml:"options,omitempty" json:"options,omitempty"`
	Parameters []*Parameter `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// MethodOperation pairs an upper-case HTTP method with its operation.
type MethodOperation struct {
	Method    string
	Operation *Operation
}

// Operations returns the defined operations in a fixed method order.
func (p *PathItem) Operations() []MethodOperation {
	if p == nil {
		return nil
	}
	all := []MethodOperation{
		{"GET", p.Get},
		{"PUT", p.Put},
		{"POST", p.Post},
		{"DELETE", p.Delete},
		{"PATCH", p.Patch},
		{"HEAD", p.Head},
		{"OPTIONS", p.Options},
	}
	out := all[:0]
	for _, mo := range all {
		if mo.Operation != nil {
			out = append(out, mo)
		}
	}
	return out
}

// Operation is a single API operation.
type Operation struct {
	OperationID string                `yaml:"operationId,omitempty" json:"operationId,omitempty"`
	Summary     string                `yaml:"summary,omitempty" json:"summary,omitempty"`
	Description string                `yaml:"description,omitempty" json:"description,omitempty"`
	Parameters  []*Parameter          `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	RequestBody *RequestBody          `yaml:"requestBody,omitempty" json:"requestBody,omitempty"`
	Responses   map[string]*Response  `yaml:"responses,omitempty" json:"responses,omitempty"`
	Security    []SecurityRequirement `yaml:"security,omitempty" json:"security,omitempty"`
	Deprecated  bool                  `yaml:"deprecated,omitempty" json:"deprecated,omitempty"`
}

// Parameter describes a path, query, header, cookie or (Swagger 2) body parameter.
type Parameter struct {
	Ref         string  `yaml:"$ref,omitempty" json:"$ref,omitempty"`
	Name        string  `yaml:"name,omitempty" json:"name,omitempty"`
	In          string  `yaml:"in,omitempty" json:"in,omitempty"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool    `yaml:"required,omitempty" json:"required,omitempty"`
	Schema      *Schema `yaml:"schema,omitempty" json:"schema,omitempty"`
	Type        string  `yaml:"type,omitempty" json:"type,omitempty"`
	Format      string  `yaml:"format,omitempty" json:"format,omitempty"`
}

// Key identifies a parameter within an operation.
func (p *Parameter) Key() string {
	return p.In + ":" + p.Name
}

// TypeName returns the parameter's declared type from its schema or, for
// Swagger 2, from the inline type.
func (p *Parameter) TypeName() string {
	if p.Schema != nil && len(p.Schema.Type) > 0 {
		return p.Schema.Type.String()
	}
	return p.Type
}

// RequestBody is an OpenAPI 3 request body.
type RequestBody struct {
	Ref         string                `yaml:"$ref,omitempty" json:"$ref,omitempty"`
	Description string                `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool                  `yaml:"required,omitempty" json:"required,omitempty"`
	Content     map[string]*MediaType `yaml:"content,omitempty" json:"content,omitempty"`
}

// Response is a single response definition.
type Response struct {
	Ref         string                `yaml:"$ref,omitempty" json:"$ref,omitempty"`
	Description string                `yaml:"description,omitempty" json:"description,omitempty"`
	Content     map[string]*MediaType `yaml:"content,omitempty" json:"content,omitempty"`
	Schema      *Schema               `yaml:"schema,omitempty" json:"schema,omitempty"`
}

// MediaType wraps the schema for one content type.
type MediaType struct {
	Schema *Schema `yaml:"schema,omitempty" json:"schema,omitempty"`
}

// SecurityScheme is a named authentication mechanism.
type SecurityScheme struct {
	Type         string `yaml:"type,omitempty" json:"type,omitempty"`
	Scheme       string `yaml:"scheme,omitempty" json:"scheme,omitempty"`
	BearerFormat string `yaml:"bearerFormat,omitempty" json:"bearerFormat,omitempty"`
	In           string `yaml:"in,omitempty" json:"in,omitempty"`
	Name         string `yaml:"name,omitempty" json:"name,omitempty"`
	Description  string `yaml:"description,omitempty" json:"description,omitempty"`
}

// SecurityRequirement maps scheme names to required scopes.
type SecurityRequirement map[string][]string

// Schema is a JSON Schema as used by OpenAPI.
type Schema struct {
	Ref         string             `yaml:"$ref,omitempty" json:"$ref,omitempty"`
	Type        SchemaType         `yaml:"type,omitempty" json:"type,omitempty"`
	Format      string             `yaml:"format,omitempty" json:"format,omitempty"`
	Description string             `yaml:"description,omitempty" json:"description,omitempty"`
	Properties  map[string]*Schema `yaml:"properties,omitempty" json:"properties,omitempty"`
	Required    []string           `yaml:"required,omitempty" json:"required,omitempty"`
	Items       *Schema            `yaml:"items,omitempty" json:"items,omitempty"`
	Enum        []any              `yaml:"enum,omitempty" json:"enum,omitempty"`
	Minimum     *float64           `yaml:"minimum,omitempty" json:"minimum,omitempty"`
	Maximum     *float64           `yaml:"maximum,omitempty" json:"maximum,omitempty"`
	MinLength   *int               `yaml:"minLength,omitempty" json:"minLength,omitempty"`
	MaxLength   *int               `yaml:"maxLength,omitempty" json:"maxLength,omitempty"`
	Example     any                `yaml:"example,omitempty" json:"example,omitempty"`
	Default     any                `yaml:"default,omitempty" json:"default,omitempty"`
	Nullable    bool               `yaml:"nullable,omitempty" json:"nullable,omitempty"`
	AllOf       []*Schema          `yaml:"allOf,omitempty" json:"allOf,omitempty"`
	OneOf       []*Schema          `yaml:"oneOf,omitempty" json:"oneOf,omitempty"`
	AnyOf       []*Schema          `yaml:"anyOf,omitempty" json:"anyOf,omitempty"`
}

// IsRequired reports whether name appears in the schema's required list.
func (s *Schema) IsRequired(name string) bool {
	if s == nil {
		return false
	}
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// PropertyNames returns property names in sorted order.
func (s *Schema) PropertyNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Properties))
	for n := range s.Properties {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SchemaType accepts both `type: string` and the OpenAPI 3.1 list form
// `type: [string, "null"]`.
type SchemaType []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *SchemaType) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*t = SchemaType{node.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*t = list
		return nil
	default:
		*t = nil
		return nil
	}
}

// String joins multiple types with "|".
func (t SchemaType) String() string {
	return strings.Join(t, "|")
}

// Primary returns the first non-null type.
func (t SchemaType) Primary() string {
	for _, s := range t {
		if s != "null" {
			return s
		}
	}
	return ""
}
