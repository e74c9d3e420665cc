package openapi

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseError is returned when a document cannot be read or lacks a required
// top-level field.
type ParseError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	where := e.Path
	if where == "" {
		where = "document"
	}
	if e.Err != nil {
		return fmt.Sprintf("failed to parse %s: %s: %v", where, e.Reason, e.Err)
	}
	return fmt.Sprintf("failed to parse %s: %s", where, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError checks if an error is a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Load reads and parses a YAML or JSON specification file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Reason: "cannot read file", Err: err}
	}
	doc, err := Parse(data)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}
	return doc, nil
}

// Parse decodes a specification from YAML or JSON bytes.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Reason: "invalid YAML or JSON", Err: err}
	}
	if doc.OpenAPI == "" && doc.Swagger == "" {
		return nil, &ParseError{Reason: "missing openapi or swagger version field"}
	}
	if doc.Info == nil {
		return nil, &ParseError{Reason: "missing info section"}
	}
	if doc.Paths == nil {
		return nil, &ParseError{Reason: "missing paths section"}
	}
	return &doc, nil
}

// Version returns info.version.
func (d *Document) Version() string {
	if d == nil || d.Info == nil {
		return ""
	}
	return d.Info.Version
}

// Schemas returns reusable schemas from components (OpenAPI 3) or
// definitions (Swagger 2).
func (d *Document) Schemas() map[string]*Schema {
	if d == nil {
		return nil
	}
	if d.Components != nil && len(d.Components.Schemas) > 0 {
		return d.Components.Schemas
	}
	return d.Definitions
}

// SecuritySchemes returns the declared security schemes.
func (d *Document) SecuritySchemes() map[string]*SecurityScheme {
	if d == nil {
		return nil
	}
	if d.Components != nil && len(d.Components.SecuritySchemes) > 0 {
		return d.Components.SecuritySchemes
	}
	return d.SecurityDefinitions
}

// SchemaRef returns the reference string used for a named schema in this
// document's dialect.
func (d *Document) SchemaRef(name string) string {
	if d != nil && d.Swagger != "" && d.OpenAPI == "" {
		return "#/definitions/" + name
	}
	return "#/components/schemas/" + name
}

// RefName returns the last segment of a local reference.
func RefName(ref string) string {
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

// Resolve follows a schema reference one level. Unknown references resolve
// to nil.
func (d *Document) Resolve(s *Schema) *Schema {
	if s == nil || s.Ref == "" {
		return s
	}
	return d.Schemas()[RefName(s.Ref)]
}

// Endpoint is one operation addressed by method and path.
type Endpoint struct {
	Method    string
	Path      string
	Operation *Operation
	PathItem  *PathItem
}

// Key renders "METHOD /path".
func (e Endpoint) Key() string {
	return e.Method + " " + e.Path
}

// Parameters merges path-level and operation-level parameters; operation
// parameters override path parameters with the same name and location.
func (e Endpoint) Parameters() []*Parameter {
	byKey := make(map[string]*Parameter)
	var order []string
	add := func(params []*Parameter) {
		for _, p := range params {
			if p == nil {
				continue
			}
			k := p.Key()
			if _, seen := byKey[k]; !seen {
				order = append(order, k)
			}
			byKey[k] = p
		}
	}
	if e.PathItem != nil {
		add(e.PathItem.Parameters)
	}
	if e.Operation != nil {
		add(e.Operation.Parameters)
	}
	out := make([]*Parameter, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}

// Endpoints returns every operation keyed by "METHOD /path".
func (d *Document) Endpoints() map[string]Endpoint {
	out := make(map[string]Endpoint)
	if d == nil {
		return out
	}
	for path, item := range d.Paths {
		for _, mo := range item.Operations() {
			ep := Endpoint{Method: mo.Method, Path: path, Operation: mo.Operation, PathItem: item}
			out[ep.Key()] = ep
		}
	}
	return out
}

// EndpointKeys returns the sorted endpoint keys.
func (d *Document) EndpointKeys() []string {
	eps := d.Endpoints()
	keys := make([]string, 0, len(eps))
	for k := range eps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RequestSchema returns the JSON request body schema, falling back to a
// Swagger 2 body parameter.
func (e Endpoint) RequestSchema() *Schema {
	if e.Operation == nil {
		return nil
	}
	if rb := e.Operation.RequestBody; rb != nil {
		return pickContent(rb.Content)
	}
	for _, p := range e.Parameters() {
		if p.In == "body" {
			return p.Schema
		}
	}
	return nil
}

// ResponseSchema returns the JSON schema of a response.
func (r *Response) ResponseSchema() *Schema {
	if r == nil {
		return nil
	}
	if s := pickContent(r.Content); s != nil {
		return s
	}
	return r.Schema
}

func pickContent(content map[string]*MediaType) *Schema {
	if len(content) == 0 {
		return nil
	}
	if mt, ok := content["application/json"]; ok && mt != nil {
		return mt.Schema
	}
	keys := make([]string, 0, len(content))
	for k := range content {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if mt := content[k]; mt != nil && mt.Schema != nil {
			return mt.Schema
		}
	}
	return nil
}
