// Package shadow records what each prompt fragment would contribute to a
// prompt without handing marker text to the generation pipeline.
package shadow

import (
	"strings"
	"sync"

	"github.com/rcliao/promptscope/internal/marker"
	"github.com/rcliao/promptscope/internal/model"
)

// Entry is one recorded fragment.
type Entry struct {
	Identifier  string `json:"identifier"`
	Tag         string `json:"tag"`
	Wrapped     string `json:"wrapped"`
	Original    string `json:"original"`
	Role        string `json:"role,omitempty"`
	DisplayName string `json:"displayName,omitempty"`

	Meta *model.SectionMeta `json:"meta,omitempty"`
}

// Store holds the shadow entries of the current generation.
type Store struct {
	mu      sync.Mutex
	tagger  func(string) string
	entries map[string]Entry
	order   []string
	names   map[string]string
}

// NewStore returns an empty store keyed by marker.Sanitize.
func NewStore() *Store {
	return NewStoreWithTagger(nil)
}

// NewStoreWithTagger returns an empty store that maps identifiers to tags
// with tagger. tagger must return sanitized tags.
func NewStoreWithTagger(tagger func(string) string) *Store {
	if tagger == nil {
		tagger = marker.Sanitize
	}
	return &Store{
		tagger:  tagger,
		entries: make(map[string]Entry),
		names:   make(map[string]string),
	}
}

// Record stores the wrapped and original content under the sanitized
// identifier, replacing any earlier record for it.
func (s *Store) Record(identifier, content, role, displayName string) Entry {
	return s.RecordWithMeta(identifier, content, role, displayName, nil)
}

// RecordWithMeta is Record with the host's prompt-manager hints.
func (s *Store) RecordWithMeta(identifier, content, role, displayName string, meta *model.SectionMeta) Entry {
	tag := s.tagger(identifier)
	e := Entry{
		Identifier:  identifier,
		Tag:         tag,
		Original:    content,
		Role:        role,
		DisplayName: displayName,
		Meta:        meta,
	}
	if strings.TrimSpace(content) != "" {
		e.Wrapped = marker.Wrap(tag, content)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[tag]; !ok {
		s.order = append(s.order, tag)
	}
	s.entries[tag] = e
	if displayName != "" {
		s.names[tag] = displayName
	}
	return e
}

// Get returns the entry recorded for identifier.
func (s *Store) Get(identifier string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[s.tagger(identifier)]
	return e, ok
}

// Len returns the number of recorded entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Names returns a copy of the tag to display-name map.
func (s *Store) Names() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.names))
	for k, v := range s.names {
		out[k] = v
	}
	return out
}

// Drain returns all entries in first-recorded order and clears the store.
func (s *Store) Drain() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.order))
	for _, tag := range s.order {
		out = append(out, s.entries[tag])
	}
	s.clearLocked()
	return out
}

// Clear drops every entry, including the name map.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Store) clearLocked() {
	s.entries = make(map[string]Entry)
	s.order = nil
	s.names = make(map[string]string)
}
