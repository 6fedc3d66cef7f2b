package streams

import "fmt"

// Registry is a fixed, ordered set of descriptors. It is built once and never
// mutated; lookups hand out copies.
type Registry struct {
	order []string
	byID  map[string]Descriptor
}

// NewRegistry validates descriptors and indexes them in the given order.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{byID: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate stream %s", d.ID)
		}
		r.order = append(r.order, d.ID)
		r.byID[d.ID] = d.Clone()
	}
	return r, nil
}

// Default returns the registry of the seven performance-report streams.
func Default() *Registry {
	r, err := NewRegistry(defaultDescriptors()...)
	if err != nil {
		panic(fmt.Sprintf("streams: invalid built-in descriptor: %v", err))
	}
	return r
}

// Get returns a copy of the descriptor registered under id.
func (r *Registry) Get(id string) (Descriptor, error) {
	d, ok := r.byID[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownStream, id)
	}
	return d.Clone(), nil
}

// All returns copies of every descriptor in registration order.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].Clone())
	}
	return out
}

// IDs returns the registered stream ids in registration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// Select resolves ids to descriptors, preserving registry order. An empty
// selection returns every descriptor.
func (r *Registry) Select(ids []string) ([]Descriptor, error) {
	if len(ids) == 0 {
		return r.All(), nil
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := r.byID[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStream, id)
		}
		wanted[id] = struct{}{}
	}
	out := make([]Descriptor, 0, len(wanted))
	for _, id := range r.order {
		if _, ok := wanted[id]; ok {
			out = append(out, r.byID[id].Clone())
		}
	}
	return out, nil
}
