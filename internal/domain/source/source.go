// Package source defines research sources and identity-merged source sets.
package source

import (
	"net/url"
	"strings"
	"time"
)

// Source is a single cited research source.
type Source struct {
	URL       string     `json:"url"`
	Title     string     `json:"title"`
	Published *time.Time `json:"published,omitempty"`
	Excerpt   string     `json:"excerpt,omitempty"`
}

// Key returns the identity key for merging: the normalized URL.
func (s Source) Key() string {
	return Normalize(s.URL)
}

// Normalize canonicalizes a source URL for identity comparison:
// lowercase scheme and host, no trailing slash, no fragment.
// The query string is preserved since distinct queries cite distinct pages.
// Unparseable URLs are compared verbatim.
func Normalize(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

// Set accumulates sources by identity. Later duplicates are dropped,
// not overwritten, so the first sighting of a URL wins.
type Set struct {
	byKey map[string]int
	order []Source
}

// NewSet returns an empty source set.
func NewSet() *Set {
	return &Set{byKey: make(map[string]int)}
}

// Add merges one source into the set. Returns true if it was new.
func (st *Set) Add(s Source) bool {
	k := s.Key()
	if _, ok := st.byKey[k]; ok {
		return false
	}
	st.byKey[k] = len(st.order)
	st.order = append(st.order, s)
	return true
}

// AddAll merges a batch of sources, returning the ones that were new,
// in batch order.
func (st *Set) AddAll(sources []Source) []Source {
	var added []Source
	for _, s := range sources {
		if st.Add(s) {
			added = append(added, s)
		}
	}
	return added
}

// Len returns the number of distinct sources.
func (st *Set) Len() int {
	return len(st.order)
}

// All returns the sources in first-seen order. The returned slice is a copy.
func (st *Set) All() []Source {
	out := make([]Source, len(st.order))
	copy(out, st.order)
	return out
}
