package specdiff

import (
	"fmt"
	"slices"
	"sort"

	"github.com/kamilpajak/testmend/internal/openapi"
	"github.com/kamilpajak/testmend/pkg/models"
)

// schemaWalk carries the context a schema comparison attributes its
// changes to.
type schemaWalk struct {
	c        *comparison
	endpoint string
	schema   string
	field    string
	affected []string
}

func (w schemaWalk) child(field string) schemaWalk {
	w.field = field
	return w
}

func (w schemaWalk) emit(ch models.SpecChange) {
	ch.Endpoint = w.endpoint
	ch.Schema = w.schema
	if ch.Field == "" {
		ch.Field = w.field
	}
	if len(w.affected) > 0 {
		ch.AffectedEndpoints = slices.Clone(w.affected)
	}
	w.c.add(ch)
}

func (w schemaWalk) subject() string {
	switch {
	case w.field != "" && w.schema != "":
		return fmt.Sprintf("'%s.%s'", w.schema, w.field)
	case w.field != "":
		return fmt.Sprintf("'%s'", w.field)
	case w.schema != "":
		return fmt.Sprintf("schema '%s'", w.schema)
	default:
		return "body of " + w.endpoint
	}
}

// compare handles reference identity before structural comparison. Two
// references to the same component name are equal here; the component
// itself is compared once in the component pass.
func (w schemaWalk) compare(path string, old, new *openapi.Schema) {
	if old == nil || new == nil {
		return
	}
	if old.Ref != "" || new.Ref != "" {
		if old.Ref != "" && new.Ref != "" {
			if openapi.RefName(old.Ref) == openapi.RefName(new.Ref) {
				return
			}
		}
		ol, nl := schemaLabel(old), schemaLabel(new)
		w.emit(models.SpecChange{
			Kind:        models.ChangeTypeChanged,
			Path:        path,
			OldValue:    ol,
			NewValue:    nl,
			Severity:    models.SeverityBreaking,
			Description: fmt.Sprintf("Type of %s changed from %s to %s", w.subject(), ol, nl),
		})
		return
	}
	w.compareResolved(path, old, new)
}

func schemaLabel(s *openapi.Schema) string {
	if s.Ref != "" {
		return openapi.RefName(s.Ref)
	}
	return s.Type.String()
}

// compareResolved compares two schema bodies. A component declared without
// a body compares as the empty schema.
func (w schemaWalk) compareResolved(path string, old, new *openapi.Schema) {
	if old == nil {
		old = &openapi.Schema{}
	}
	if new == nil {
		new = &openapi.Schema{}
	}
	if ot, nt := old.Type.String(), new.Type.String(); ot != nt && ot != "" && nt != "" {
		w.emit(models.SpecChange{
			Kind:        models.ChangeTypeChanged,
			Path:        path + ".type",
			OldValue:    ot,
			NewValue:    nt,
			Severity:    models.SeverityBreaking,
			FieldSpec:   specPtr(fieldSpec(new, false)),
			Description: fmt.Sprintf("Type of %s changed from %s to %s", w.subject(), ot, nt),
		})
		return
	}

	if old.Format != new.Format {
		w.emit(models.SpecChange{
			Kind:        models.ChangeFormatChanged,
			Path:        path + ".format",
			OldValue:    old.Format,
			NewValue:    new.Format,
			Severity:    models.SeverityMajor,
			FieldSpec:   specPtr(fieldSpec(new, false)),
			Description: fmt.Sprintf("Format of %s changed from %q to %q", w.subject(), old.Format, new.Format),
		})
	}

	if !sameEnum(old.Enum, new.Enum) {
		w.emit(models.SpecChange{
			Kind:        models.ChangeEnumChanged,
			Path:        path + ".enum",
			OldValue:    old.Enum,
			NewValue:    new.Enum,
			Severity:    models.SeverityBreaking,
			Description: fmt.Sprintf("Allowed values of %s changed", w.subject()),
		})
	}

	if old.Description != new.Description {
		w.emit(models.SpecChange{
			Kind:        models.ChangeDescriptionChanged,
			Path:        path + ".description",
			OldValue:    old.Description,
			NewValue:    new.Description,
			Severity:    models.SeverityPatch,
			Description: fmt.Sprintf("Description of %s changed", w.subject()),
		})
	}

	w.compareProperties(path, old, new)
	w.child(w.field).compare(path+".items", old.Items, new.Items)
}

func (w schemaWalk) compareProperties(path string, old, new *openapi.Schema) {
	for _, name := range old.PropertyNames() {
		propPath := path + ".properties." + name
		np, ok := new.Properties[name]
		if !ok {
			wasRequired := old.IsRequired(name)
			w.child(name).emit(models.SpecChange{
				Kind:        models.ChangePropertyRemoved,
				Path:        propPath,
				OldValue:    name,
				Severity:    models.SeverityBreaking,
				Required:    wasRequired,
				FieldSpec:   specPtr(fieldSpec(w.c.old.Resolve(old.Properties[name]), wasRequired)),
				Description: fmt.Sprintf("Property '%s' was removed from %s", name, w.subject()),
			})
			continue
		}

		if or, nr := old.IsRequired(name), new.IsRequired(name); or != nr {
			sev := models.SeverityMinor
			desc := fmt.Sprintf("Property '%s' of %s is now optional", name, w.subject())
			if nr {
				sev = models.SeverityBreaking
				desc = fmt.Sprintf("Property '%s' of %s is now required", name, w.subject())
			}
			w.child(name).emit(models.SpecChange{
				Kind:        models.ChangeRequiredChanged,
				Path:        propPath + ".required",
				OldValue:    or,
				NewValue:    nr,
				Severity:    sev,
				Required:    nr,
				FieldSpec:   specPtr(fieldSpec(w.c.new.Resolve(np), nr)),
				Description: desc,
			})
		}

		w.child(name).compare(propPath, old.Properties[name], np)
	}

	for _, name := range new.PropertyNames() {
		if _, ok := old.Properties[name]; ok {
			continue
		}
		required := new.IsRequired(name)
		sev := models.SeverityMinor
		if required {
			sev = models.SeverityBreaking
		}
		w.child(name).emit(models.SpecChange{
			Kind:        models.ChangePropertyAdded,
			Path:        path + ".properties." + name,
			NewValue:    name,
			Severity:    sev,
			Required:    required,
			FieldSpec:   specPtr(fieldSpec(w.c.new.Resolve(new.Properties[name]), required)),
			Description: fmt.Sprintf("Property '%s' was added to %s", name, w.subject()),
		})
	}
}

func sameEnum(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	as, bs := enumStrings(a), enumStrings(b)
	return slices.Equal(as, bs)
}

func enumStrings(values []any) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = fmt.Sprint(v)
	}
	sort.Strings(out)
	return out
}

// fieldSpec captures what value synthesis needs from a schema.
func fieldSpec(s *openapi.Schema, required bool) models.FieldSpec {
	if s == nil {
		return models.FieldSpec{Required: required}
	}
	typ := s.Type.Primary()
	if typ == "" && len(s.Properties) > 0 {
		typ = "object"
	}
	return models.FieldSpec{
		Type:      typ,
		Format:    s.Format,
		Minimum:   s.Minimum,
		Maximum:   s.Maximum,
		MinLength: s.MinLength,
		MaxLength: s.MaxLength,
		Enum:      s.Enum,
		Example:   s.Example,
		Default:   s.Default,
		Required:  required,
	}
}

func specPtr(fs models.FieldSpec) *models.FieldSpec {
	return &fs
}
