// Package streams declares the performance-report streams and drives the
// per-site extraction passes for each of them.
package streams

import (
	"errors"
	"fmt"
	"slices"
)

// Fields added to every record next to the body's dimensions.
const (
	FieldSiteURL           = "site_url"
	FieldSearchType        = "search_type"
	FieldDimensionsHashKey = "dimensions_hash_key"
	FieldSearchAppearance  = "search_appearance"
	FieldClicks            = "clicks"
	FieldImpressions       = "impressions"
	FieldCTR               = "ctr"
	FieldPosition          = "position"
)

// ErrUnknownStream is returned when a stream id is not registered.
var ErrUnknownStream = errors.New("unknown stream")

// Descriptor is the immutable declaration of one report stream.
type Descriptor struct {
	// ID is the stable external stream id.
	ID string `json:"tap_stream_id"`
	// KeyProperties form the record's unique key.
	KeyProperties []string `json:"key_properties"`
	// ReplicationKeys may be used as the incremental cursor.
	ReplicationKeys []string `json:"valid_replication_keys"`
	// SubTypes lists the search types the stream is synced for.
	SubTypes []SearchType `json:"sub_types"`
	// Body is the request template.
	Body Body `json:"body"`
	// PerSearchAppearance runs one pass per configured search appearance.
	PerSearchAppearance bool `json:"per_search_appearance,omitempty"`
}

// Clone returns a deep copy of d.
func (d Descriptor) Clone() Descriptor {
	out := d
	out.KeyProperties = cloneStrings(d.KeyProperties)
	out.ReplicationKeys = cloneStrings(d.ReplicationKeys)
	if d.SubTypes != nil {
		out.SubTypes = append([]SearchType(nil), d.SubTypes...)
	}
	out.Body = d.Body.Clone()
	return out
}

// SearchTypes returns the search types a pass iterates. A type pinned on the
// body wins over the descriptor's sub-types.
func (d Descriptor) SearchTypes() []SearchType {
	if d.Body.Type != "" {
		return []SearchType{d.Body.Type}
	}
	return append([]SearchType(nil), d.SubTypes...)
}

// IdentityFields are the non-dimension fields a record may be keyed on.
func (d Descriptor) IdentityFields() []string {
	fields := []string{FieldSiteURL, FieldSearchType}
	if d.HasHashKey() {
		fields = append(fields, FieldDimensionsHashKey)
	}
	if d.PerSearchAppearance {
		fields = append(fields, FieldSearchAppearance)
	}
	return fields
}

// Fields lists every field of an emitted record in schema order.
func (d Descriptor) Fields() []string {
	fields := d.IdentityFields()
	fields = append(fields, d.Body.Dimensions...)
	return append(fields, FieldClicks, FieldImpressions, FieldCTR, FieldPosition)
}

// HasHashKey reports whether records carry dimensions_hash_key.
func (d Descriptor) HasHashKey() bool {
	return slices.Contains(d.KeyProperties, FieldDimensionsHashKey)
}

// Validate checks the descriptor's internal consistency.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return errors.New("stream id is required")
	}
	switch d.Body.AggregationType {
	case AggregationAuto, AggregationByProperty, AggregationByPage:
	default:
		return fmt.Errorf("stream %s: unknown aggregation type %q", d.ID, d.Body.AggregationType)
	}
	if len(d.Body.Dimensions) == 0 {
		return fmt.Errorf("stream %s: at least one dimension is required", d.ID)
	}
	if len(d.KeyProperties) == 0 {
		return fmt.Errorf("stream %s: key properties are required", d.ID)
	}
	fixed := []string{FieldSiteURL, FieldSearchType, FieldDimensionsHashKey}
	for _, key := range d.KeyProperties {
		if !slices.Contains(fixed, key) && !d.Body.HasDimension(key) {
			return fmt.Errorf("stream %s: key property %q is neither a dimension nor an identity field", d.ID, key)
		}
	}
	if len(d.ReplicationKeys) == 0 {
		return fmt.Errorf("stream %s: replication keys are required", d.ID)
	}
	for _, key := range d.ReplicationKeys {
		if !slices.Contains(d.KeyProperties, key) && !d.Body.HasDimension(key) {
			return fmt.Errorf("stream %s: replication key %q is not a key property or dimension", d.ID, key)
		}
	}
	if len(d.SubTypes) == 0 {
		return fmt.Errorf("stream %s: sub types are required", d.ID)
	}
	for _, st := range d.SubTypes {
		if !st.Valid() {
			return fmt.Errorf("stream %s: unknown sub type %q", d.ID, st)
		}
	}
	if d.Body.Type != "" && !d.Body.Type.Valid() {
		return fmt.Errorf("stream %s: unknown pinned type %q", d.ID, d.Body.Type)
	}
	if d.PerSearchAppearance {
		if _, ok := d.Body.FilterExpression(DimensionSearchAppearance); !ok {
			return fmt.Errorf("stream %s: search appearance fan-out needs a %s filter", d.ID, DimensionSearchAppearance)
		}
	}
	return nil
}
