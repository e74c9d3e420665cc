// Package specdiff compares two API specification documents and reports
// categorized, severity-ranked changes.
package specdiff

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kamilpajak/testmend/internal/openapi"
	"github.com/kamilpajak/testmend/pkg/models"
	"go.uber.org/zap"
)

// Differ produces a SpecDiff from an old and a new document.
type Differ struct {
	logger *zap.Logger
}

// New creates a Differ.
func New(logger *zap.Logger) *Differ {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Differ{logger: logger}
}

// comparison accumulates changes for one old->new diff.
type comparison struct {
	old, new *openapi.Document
	changes  []models.SpecChange
	modified map[string]bool

	// refIndex maps a schema reference string to the endpoints whose
	// serialized operation contains it.
	refIndex map[string][]string
}

// Diff compares old against new. Diffing is directional.
func (d *Differ) Diff(old, new *openapi.Document) models.SpecDiff {
	c := &comparison{
		old:      old,
		new:      new,
		modified: make(map[string]bool),
	}

	added, removed := c.compareEndpoints()
	c.compareSchemas()
	c.compareSecuritySchemes()

	modified := make([]string, 0, len(c.modified))
	for k := range c.modified {
		modified = append(modified, k)
	}

	diff := models.SpecDiff{
		OldVersion: old.Version(),
		NewVersion: new.Version(),
		Changes:    c.changes,
		Summary:    models.Summarize(c.changes, added, removed, modified),
	}

	d.logger.Debug("spec diff computed",
		zap.String("old_version", diff.OldVersion),
		zap.String("new_version", diff.NewVersion),
		zap.Int("changes", diff.Summary.Total),
		zap.Int("breaking", diff.Summary.Breaking))

	return diff
}

func (c *comparison) add(ch models.SpecChange) {
	c.changes = append(c.changes, ch)
	if ch.Endpoint != "" && ch.Kind != models.ChangeEndpointAdded && ch.Kind != models.ChangeEndpointRemoved {
		c.modified[ch.Endpoint] = true
	}
	for _, ep := range ch.AffectedEndpoints {
		c.modified[ep] = true
	}
}

func (c *comparison) compareEndpoints() (added, removed []string) {
	oldEps := c.old.Endpoints()
	newEps := c.new.Endpoints()

	for _, key := range c.old.EndpointKeys() {
		if _, ok := newEps[key]; ok {
			continue
		}
		ep := oldEps[key]
		removed = append(removed, key)
		c.add(models.SpecChange{
			Kind:        models.ChangeEndpointRemoved,
			Path:        operationPath(ep.Path, ep.Method),
			Endpoint:    key,
			OldValue:    key,
			Severity:    models.SeverityBreaking,
			Description: fmt.Sprintf("Endpoint %s was removed", key),
		})
	}

	for _, key := range c.new.EndpointKeys() {
		if _, ok := oldEps[key]; ok {
			continue
		}
		ep := newEps[key]
		added = append(added, key)
		c.add(models.SpecChange{
			Kind:        models.ChangeEndpointAdded,
			Path:        operationPath(ep.Path, ep.Method),
			Endpoint:    key,
			NewValue:    key,
			Severity:    models.SeverityMinor,
			Description: fmt.Sprintf("Endpoint %s was added", key),
		})
	}

	for _, key := range c.old.EndpointKeys() {
		newEp, ok := newEps[key]
		if !ok {
			continue
		}
		c.compareOperation(key, oldEps[key], newEp)
	}
	return added, removed
}

func operationPath(path, method string) string {
	return "paths." + path + "." + strings.ToLower(method)
}

func (c *comparison) compareOperation(key string, oldEp, newEp openapi.Endpoint) {
	base := operationPath(oldEp.Path, oldEp.Method)

	if oldEp.Operation.Description != newEp.Operation.Description {
		c.add(models.SpecChange{
			Kind:        models.ChangeDescriptionChanged,
			Path:        base + ".description",
			Endpoint:    key,
			OldValue:    oldEp.Operation.Description,
			NewValue:    newEp.Operation.Description,
			Severity:    models.SeverityPatch,
			Description: fmt.Sprintf("Description of %s changed", key),
		})
	}

	c.compareParameters(key, base, oldEp.Parameters(), newEp.Parameters())
	c.compareRequestBody(key, base, oldEp, newEp)
	c.compareResponses(key, base, oldEp.Operation.Responses, newEp.Operation.Responses)
}

func (c *comparison) compareParameters(key, base string, oldParams, newParams []*openapi.Parameter) {
	oldByKey := indexParameters(oldParams)
	newByKey := indexParameters(newParams)

	for _, p := range oldParams {
		if p.In == "body" {
			continue
		}
		path := base + ".parameters." + p.Key()
		np, ok := newByKey[p.Key()]
		if !ok {
			c.add(models.SpecChange{
				Kind:        models.ChangeParameterRemoved,
				Path:        path,
				Endpoint:    key,
				Field:       p.Name,
				OldValue:    p.Name,
				Severity:    models.SeverityBreaking,
				Required:    p.Required,
				Description: fmt.Sprintf("Parameter '%s' (%s) was removed from %s", p.Name, p.In, key),
			})
			continue
		}

		if p.Required != np.Required {
			sev := models.SeverityMinor
			desc := fmt.Sprintf("Parameter '%s' of %s is now optional", p.Name, key)
			if np.Required {
				sev = models.SeverityBreaking
				desc = fmt.Sprintf("Parameter '%s' of %s is now required", p.Name, key)
			}
			c.add(models.SpecChange{
				Kind:        models.ChangeParameterRequired,
				Path:        path + ".required",
				Endpoint:    key,
				Field:       p.Name,
				OldValue:    p.Required,
				NewValue:    np.Required,
				Severity:    sev,
				Required:    np.Required,
				Description: desc,
			})
		}

		if ot, nt := p.TypeName(), np.TypeName(); ot != nt && ot != "" && nt != "" {
			c.add(models.SpecChange{
				Kind:        models.ChangeTypeChanged,
				Path:        path + ".type",
				Endpoint:    key,
				Field:       p.Name,
				OldValue:    ot,
				NewValue:    nt,
				Severity:    models.SeverityBreaking,
				Description: fmt.Sprintf("Parameter '%s' of %s changed type from %s to %s", p.Name, key, ot, nt),
			})
		}
	}

	for _, np := range newParams {
		if np.In == "body" {
			continue
		}
		if _, ok := oldByKey[np.Key()]; ok {
			continue
		}
		sev := models.SeverityMinor
		if np.Required {
			sev = models.SeverityBreaking
		}
		c.add(models.SpecChange{
			Kind:        models.ChangeParameterAdded,
			Path:        base + ".parameters." + np.Key(),
			Endpoint:    key,
			Field:       np.Name,
			NewValue:    np.Name,
			Severity:    sev,
			Required:    np.Required,
			FieldSpec:   parameterFieldSpec(np),
			Description: fmt.Sprintf("Parameter '%s' (%s) was added to %s", np.Name, np.In, key),
		})
	}
}

func indexParameters(params []*openapi.Parameter) map[string]*openapi.Parameter {
	out := make(map[string]*openapi.Parameter, len(params))
	for _, p := range params {
		out[p.Key()] = p
	}
	return out
}

func parameterFieldSpec(p *openapi.Parameter) *models.FieldSpec {
	if p.Schema != nil {
		fs := fieldSpec(p.Schema, p.Required)
		return &fs
	}
	return &models.FieldSpec{Type: p.Type, Format: p.Format, Required: p.Required}
}

func (c *comparison) compareRequestBody(key, base string, oldEp, newEp openapi.Endpoint) {
	oldRB, newRB := oldEp.Operation.RequestBody, newEp.Operation.RequestBody
	if oldRB != nil && newRB != nil && oldRB.Required != newRB.Required {
		sev := models.SeverityMinor
		if newRB.Required {
			sev = models.SeverityBreaking
		}
		c.add(models.SpecChange{
			Kind:        models.ChangeRequestBodyRequirement,
			Path:        base + ".requestBody.required",
			Endpoint:    key,
			OldValue:    oldRB.Required,
			NewValue:    newRB.Required,
			Severity:    sev,
			Description: fmt.Sprintf("Request body requirement of %s changed", key),
		})
	}

	w := schemaWalk{c: c, endpoint: key}
	w.compare(base+".requestBody", oldEp.RequestSchema(), newEp.RequestSchema())
}

func (c *comparison) compareResponses(key, base string, oldResp, newResp map[string]*openapi.Response) {
	var removed, added []string
	for _, code := range sortedKeys(oldResp) {
		if _, ok := newResp[code]; !ok {
			removed = append(removed, code)
		}
	}
	for _, code := range sortedKeys(newResp) {
		if _, ok := oldResp[code]; !ok {
			added = append(added, code)
		}
	}

	// A single success code swapped for another is a status code change.
	oldOK, newOK := successCodes(removed), successCodes(added)
	if len(oldOK) == 1 && len(newOK) == 1 {
		c.add(models.SpecChange{
			Kind:        models.ChangeStatusCodeChanged,
			Path:        base + ".responses",
			Endpoint:    key,
			OldValue:    statusInt(oldOK[0]),
			NewValue:    statusInt(newOK[0]),
			Severity:    models.SeverityBreaking,
			Description: fmt.Sprintf("Success status of %s changed from %s to %s", key, oldOK[0], newOK[0]),
		})
		removed = without(removed, oldOK[0])
		added = without(added, newOK[0])
		w := schemaWalk{c: c, endpoint: key}
		w.compare(base+".responses."+newOK[0], oldResp[oldOK[0]].ResponseSchema(), newResp[newOK[0]].ResponseSchema())
	}

	for _, code := range removed {
		c.add(models.SpecChange{
			Kind:        models.ChangeResponseRemoved,
			Path:        base + ".responses." + code,
			Endpoint:    key,
			OldValue:    statusInt(code),
			Severity:    models.SeverityMajor,
			Description: fmt.Sprintf("Response %s was removed from %s", code, key),
		})
	}
	for _, code := range added {
		c.add(models.SpecChange{
			Kind:        models.ChangeResponseAdded,
			Path:        base + ".responses." + code,
			Endpoint:    key,
			NewValue:    statusInt(code),
			Severity:    models.SeverityMinor,
			Description: fmt.Sprintf("Response %s was added to %s", code, key),
		})
	}

	for _, code := range sortedKeys(oldResp) {
		nr, ok := newResp[code]
		if !ok {
			continue
		}
		w := schemaWalk{c: c, endpoint: key}
		w.compare(base+".responses."+code, oldResp[code].ResponseSchema(), nr.ResponseSchema())
	}
}

func successCodes(codes []string) []string {
	var out []string
	for _, c := range codes {
		if strings.HasPrefix(c, "2") && len(c) == 3 {
			out = append(out, c)
		}
	}
	return out
}

func statusInt(code string) any {
	var n int
	if _, err := fmt.Sscanf(code, "%d", &n); err == nil && len(code) == 3 {
		return n
	}
	return code
}

func without(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

func (c *comparison) compareSchemas() {
	oldSchemas := c.old.Schemas()
	newSchemas := c.new.Schemas()

	for _, name := range sortedKeys(oldSchemas) {
		path := "components.schemas." + name
		ns, ok := newSchemas[name]
		if !ok {
			c.add(models.SpecChange{
				Kind:              models.ChangeSchemaRemoved,
				Path:              path,
				Schema:            name,
				OldValue:          name,
				Severity:          models.SeverityBreaking,
				Description:       fmt.Sprintf("Schema '%s' was removed", name),
				AffectedEndpoints: c.endpointsReferencing(name),
			})
			continue
		}
		w := schemaWalk{c: c, schema: name, affected: c.endpointsReferencing(name)}
		w.compareResolved(path, oldSchemas[name], ns)
	}

	for _, name := range sortedKeys(newSchemas) {
		if _, ok := oldSchemas[name]; ok {
			continue
		}
		c.add(models.SpecChange{
			Kind:        models.ChangeSchemaAdded,
			Path:        "components.schemas." + name,
			Schema:      name,
			NewValue:    name,
			Severity:    models.SeverityMinor,
			Description: fmt.Sprintf("Schema '%s' was added", name),
		})
	}
}

func (c *comparison) compareSecuritySchemes() {
	oldSchemes := nonNilSchemes(c.old.SecuritySchemes())
	newSchemes := nonNilSchemes(c.new.SecuritySchemes())

	for _, name := range sortedKeys(oldSchemes) {
		path := "components.securitySchemes." + name
		ns, ok := newSchemes[name]
		if !ok {
			c.add(models.SpecChange{
				Kind:              models.ChangeSecurityRemoved,
				Path:              path,
				Field:             name,
				OldValue:          oldSchemes[name].Type,
				Severity:          models.SeverityBreaking,
				Description:       fmt.Sprintf("Security scheme '%s' was removed", name),
				AffectedEndpoints: endpointsUsingScheme(c.old, name),
			})
			continue
		}
		if oldSchemes[name].Type != ns.Type || oldSchemes[name].Scheme != ns.Scheme {
			c.add(models.SpecChange{
				Kind:              models.ChangeSecurityTypeChanged,
				Path:              path + ".type",
				Field:             name,
				OldValue:          schemeLabel(oldSchemes[name]),
				NewValue:          schemeLabel(ns),
				Severity:          models.SeverityBreaking,
				Description:       fmt.Sprintf("Security scheme '%s' changed from %s to %s", name, schemeLabel(oldSchemes[name]), schemeLabel(ns)),
				AffectedEndpoints: endpointsUsingScheme(c.new, name),
			})
		}
	}

	for _, name := range sortedKeys(newSchemes) {
		if _, ok := oldSchemes[name]; ok {
			continue
		}
		c.add(models.SpecChange{
			Kind:              models.ChangeSecurityAdded,
			Path:              "components.securitySchemes." + name,
			Field:             name,
			NewValue:          newSchemes[name].Type,
			Severity:          models.SeverityMinor,
			Description:       fmt.Sprintf("Security scheme '%s' was added", name),
			AffectedEndpoints: endpointsUsingScheme(c.new, name),
		})
	}
}

// nonNilSchemes replaces schemes declared without a body with empty ones.
func nonNilSchemes(in map[string]*openapi.SecurityScheme) map[string]*openapi.SecurityScheme {
	out := make(map[string]*openapi.SecurityScheme, len(in))
	for name, s := range in {
		if s == nil {
			s = &openapi.SecurityScheme{}
		}
		out[name] = s
	}
	return out
}

func schemeLabel(s *openapi.SecurityScheme) string {
	if s.Scheme != "" {
		return s.Type + "/" + s.Scheme
	}
	return s.Type
}

// endpointsReferencing finds endpoints in either document whose operation
// text contains the schema reference. This is textual containment, so a
// reference nested under another schema is only found through that schema.
func (c *comparison) endpointsReferencing(name string) []string {
	if c.refIndex == nil {
		c.refIndex = make(map[string][]string)
	}
	if eps, ok := c.refIndex[name]; ok {
		return eps
	}
	seen := make(map[string]bool)
	var out []string
	for _, doc := range []*openapi.Document{c.old, c.new} {
		ref := doc.SchemaRef(name)
		for _, key := range doc.EndpointKeys() {
			if seen[key] {
				continue
			}
			if strings.Contains(operationText(doc.Endpoints()[key]), `"`+ref+`"`) {
				seen[key] = true
				out = append(out, key)
			}
		}
	}
	sort.Strings(out)
	c.refIndex[name] = out
	return out
}

func operationText(ep openapi.Endpoint) string {
	data, err := json.Marshal(struct {
		Op     *openapi.Operation   `json:"op"`
		Params []*openapi.Parameter `json:"params"`
	}{ep.Operation, ep.PathItem.Parameters})
	if err != nil {
		return ""
	}
	return string(data)
}

// endpointsUsingScheme lists endpoints whose effective security requirement
// names the scheme. Operation-level security overrides the global default.
func endpointsUsingScheme(doc *openapi.Document, scheme string) []string {
	var out []string
	eps := doc.Endpoints()
	for _, key := range doc.EndpointKeys() {
		reqs := eps[key].Operation.Security
		if reqs == nil {
			reqs = doc.Security
		}
		for _, r := range reqs {
			if _, ok := r[scheme]; ok {
				out = append(out, key)
				break
			}
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
