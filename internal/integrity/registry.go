// Package integrity aggregates cross-entity references to decide whether a
// parent record may be safely deleted, and scans linked resources for notes.
package integrity

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// RelatedNote is a note carried by a record linked to a parent.
type RelatedNote struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Source  string `json:"source"`
	PID     int64  `json:"pid"`
}

// LinkSource answers link queries for one resource kind referencing a parent.
// Implementations wrap a record lookup plus a filtered scan against the
// record store, so new linkable resource kinds only need a registration.
type LinkSource interface {
	CountLinksTo(ctx context.Context, parentID int64) (int, error)
	PIDsLinkedTo(ctx context.Context, parentID int64) ([]int64, error)
	NotesLinkedTo(ctx context.Context, parentID int64) ([]RelatedNote, error)
}

// ErrUnknownResource indicates a tag with no registered source.
var ErrUnknownResource = errors.New("integrity: unknown resource tag")

// Registry maps resource tags to link sources. It is populated at startup and
// read-only afterwards; guards resolve sources by tag instead of hard-coding
// per-entity branches.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]LinkSource
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]LinkSource)}
}

// Register binds a resource tag to its link source. Re-registering a tag
// replaces the previous source.
func (r *Registry) Register(tag string, source LinkSource) {
	if tag == "" || source == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[tag] = source
}

// Source resolves a tag.
func (r *Registry) Source(tag string) (LinkSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	source, ok := r.sources[tag]
	if !ok {
		return nil, ErrUnknownResource
	}
	return source, nil
}

// Tags returns all registered tags in deterministic order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := lo.Keys(r.sources)
	sort.Strings(tags)
	return tags
}
