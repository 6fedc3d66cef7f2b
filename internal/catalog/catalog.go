package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/JakeFAU/search-console-tap/internal/streams"
)

// Metadata keys understood by Singer targets and orchestrators.
const (
	MetaSelected                = "selected"
	MetaSelectedByDefault       = "selected-by-default"
	MetaInclusion               = "inclusion"
	MetaTableKeyProperties      = "table-key-properties"
	MetaValidReplicationKeys    = "valid-replication-keys"
	MetaForcedReplicationMethod = "forced-replication-method"

	InclusionAutomatic = "automatic"
	InclusionAvailable = "available"
	ReplicationMethod  = "INCREMENTAL"
)

// Catalog is the Singer catalog document.
type Catalog struct {
	Streams []Entry `json:"streams"`
}

// Entry describes one stream in the catalog.
type Entry struct {
	TapStreamID   string             `json:"tap_stream_id"`
	Stream        string             `json:"stream"`
	KeyProperties []string           `json:"key_properties"`
	Schema        *jsonschema.Schema `json:"schema"`
	Metadata      []Metadata         `json:"metadata"`
}

// Metadata attaches properties to the stream (empty breadcrumb) or to one
// of its fields (["properties", name]).
type Metadata struct {
	Breadcrumb []string       `json:"breadcrumb"`
	Metadata   map[string]any `json:"metadata"`
}

// Discover builds the catalog for every descriptor in r.
func Discover(r *streams.Registry) Catalog {
	descriptors := r.All()
	c := Catalog{Streams: make([]Entry, 0, len(descriptors))}
	for _, d := range descriptors {
		c.Streams = append(c.Streams, entryFor(d))
	}
	return c
}

func entryFor(d streams.Descriptor) Entry {
	md := []Metadata{{
		Breadcrumb: []string{},
		Metadata: map[string]any{
			MetaTableKeyProperties:      d.KeyProperties,
			MetaValidReplicationKeys:    d.ReplicationKeys,
			MetaForcedReplicationMethod: ReplicationMethod,
			MetaSelectedByDefault:       true,
		},
	}}
	automatic := map[string]bool{}
	for _, k := range d.KeyProperties {
		automatic[k] = true
	}
	for _, k := range d.ReplicationKeys {
		automatic[k] = true
	}
	for _, field := range d.Fields() {
		inclusion := InclusionAvailable
		if automatic[field] {
			inclusion = InclusionAutomatic
		}
		md = append(md, Metadata{
			Breadcrumb: []string{"properties", field},
			Metadata:   map[string]any{MetaInclusion: inclusion},
		})
	}
	return Entry{
		TapStreamID:   d.ID,
		Stream:        d.ID,
		KeyProperties: append([]string(nil), d.KeyProperties...),
		Schema:        SchemaFor(d),
		Metadata:      md,
	}
}

// Load reads a catalog file.
func Load(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	return c, nil
}

// Entry returns the entry for id.
func (c Catalog) Entry(id string) (Entry, bool) {
	for _, e := range c.Streams {
		if e.TapStreamID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Selected lists the selected stream ids in catalog order. An explicit
// "selected" wins; otherwise "selected-by-default" applies.
func (c Catalog) Selected() []string {
	var ids []string
	for _, e := range c.Streams {
		if e.IsSelected() {
			ids = append(ids, e.TapStreamID)
		}
	}
	return ids
}

// IsSelected reports whether the stream should be synced.
func (e Entry) IsSelected() bool {
	for _, md := range e.Metadata {
		if len(md.Breadcrumb) != 0 {
			continue
		}
		if v, ok := md.Metadata[MetaSelected].(bool); ok {
			return v
		}
		v, _ := md.Metadata[MetaSelectedByDefault].(bool)
		return v
	}
	return false
}

// ReplicationKeys returns the stream's valid-replication-keys metadata.
func (e Entry) ReplicationKeys() []string {
	for _, md := range e.Metadata {
		if len(md.Breadcrumb) != 0 {
			continue
		}
		switch v := md.Metadata[MetaValidReplicationKeys].(type) {
		case []string:
			return append([]string(nil), v...)
		case []any:
			keys := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					keys = append(keys, s)
				}
			}
			return keys
		}
	}
	return nil
}
