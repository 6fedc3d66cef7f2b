// Package state models the tap's bookmark document and the stores that
// persist it between runs.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Store loads and saves the bookmark document.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, st *State) error
}

// State is the bookmark document exchanged with the orchestrator:
// bookmarks[stream][site][key] = last synced date.
type State struct {
	mu               sync.RWMutex
	bookmarks        map[string]map[string]map[string]string
	currentlySyncing string
}

type document struct {
	Bookmarks        map[string]map[string]map[string]string `json:"bookmarks"`
	CurrentlySyncing *string                                 `json:"currently_syncing"`
}

// New returns an empty state.
func New() *State {
	return &State{bookmarks: map[string]map[string]map[string]string{}}
}

// Parse decodes a state document. Empty input yields an empty state.
func Parse(data []byte) (*State, error) {
	st := New()
	if len(data) == 0 {
		return st, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	for stream, sites := range doc.Bookmarks {
		for site, keys := range sites {
			for key, value := range keys {
				st.setLocked(stream, site, key, value)
			}
		}
	}
	if doc.CurrentlySyncing != nil {
		st.currentlySyncing = *doc.CurrentlySyncing
	}
	return st, nil
}

// MarshalJSON renders the state document.
func (s *State) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc := document{Bookmarks: s.bookmarks}
	if s.currentlySyncing != "" {
		current := s.currentlySyncing
		doc.CurrentlySyncing = &current
	}
	return json.Marshal(doc)
}

// Bookmark returns the stored value for stream/site/key.
func (s *State) Bookmark(stream, site, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.bookmarks[stream][site][key]
	return value, ok
}

// SetBookmark records value for stream/site/key.
func (s *State) SetBookmark(stream, site, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(stream, site, key, value)
}

func (s *State) setLocked(stream, site, key, value string) {
	sites, ok := s.bookmarks[stream]
	if !ok {
		sites = map[string]map[string]string{}
		s.bookmarks[stream] = sites
	}
	keys, ok := sites[site]
	if !ok {
		keys = map[string]string{}
		sites[site] = keys
	}
	keys[key] = value
}

// CurrentlySyncing returns the stream marked in progress, if any.
func (s *State) CurrentlySyncing() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentlySyncing
}

// SetCurrentlySyncing marks stream in progress; empty clears the marker.
func (s *State) SetCurrentlySyncing(stream string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentlySyncing = stream
}

// Clone returns an independent copy.
func (s *State) Clone() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := New()
	for stream, sites := range s.bookmarks {
		for site, keys := range sites {
			for key, value := range keys {
				out.setLocked(stream, site, key, value)
			}
		}
	}
	out.currentlySyncing = s.currentlySyncing
	return out
}

// BookmarkKey names the per-site bookmark slot for a search type and an
// optional search-appearance filter.
func BookmarkKey(searchType, searchAppearance string, filtered bool) string {
	if !filtered {
		return searchType
	}
	return searchType + ":" + searchAppearance
}
