// Package catalog builds the Singer catalog: per-stream JSON schemas,
// discovery metadata and record validation.
package catalog

import (
	"fmt"
	"maps"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/JakeFAU/search-console-tap/internal/streams"
	"github.com/JakeFAU/search-console-tap/internal/tap"
)

func nullable(t string) *jsonschema.Schema {
	return &jsonschema.Schema{Types: []string{"null", t}}
}

func fieldSchema(field string) *jsonschema.Schema {
	switch field {
	case streams.FieldSiteURL, streams.FieldSearchType, streams.FieldDimensionsHashKey, streams.FieldSearchAppearance:
		return &jsonschema.Schema{Type: "string"}
	case streams.DimensionDate:
		return &jsonschema.Schema{Type: "string", Format: "date"}
	case streams.FieldClicks, streams.FieldImpressions:
		return nullable("integer")
	case streams.FieldCTR, streams.FieldPosition:
		return nullable("number")
	default:
		return nullable("string")
	}
}

// SchemaFor returns the record schema of d. Key properties are required.
func SchemaFor(d streams.Descriptor) *jsonschema.Schema {
	props := make(map[string]*jsonschema.Schema, len(d.Fields()))
	for _, field := range d.Fields() {
		props[field] = fieldSchema(field)
	}
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   append([]string(nil), d.KeyProperties...),
	}
}

// Validator checks records against resolved stream schemas.
type Validator struct {
	resolved map[string]*jsonschema.Resolved
}

// NewValidator resolves one schema per catalog entry.
func NewValidator(c Catalog) (*Validator, error) {
	v := &Validator{resolved: make(map[string]*jsonschema.Resolved, len(c.Streams))}
	for _, entry := range c.Streams {
		if entry.Schema == nil {
			return nil, fmt.Errorf("stream %s has no schema", entry.TapStreamID)
		}
		r, err := entry.Schema.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("resolve schema %s: %w", entry.TapStreamID, err)
		}
		v.resolved[entry.TapStreamID] = r
	}
	return v, nil
}

// Validate checks record against the schema of stream.
func (v *Validator) Validate(stream string, record tap.Record) error {
	r, ok := v.resolved[stream]
	if !ok {
		return fmt.Errorf("%w: %s", streams.ErrUnknownStream, stream)
	}
	instance := make(map[string]any, len(record))
	maps.Copy(instance, record)
	if err := r.Validate(instance); err != nil {
		return fmt.Errorf("record for %s does not match schema: %w", stream, err)
	}
	return nil
}
