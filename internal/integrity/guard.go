package integrity

import (
	"context"
	"fmt"
)

// Links maps a link kind to the number of referencing records. Kinds with a
// zero count are omitted.
type Links map[string]int

// Reasons is the structured deletion-safety report. An empty value means the
// record may be deleted; callers render specifics from Links and Others.
type Reasons struct {
	Links  Links             `json:"links,omitempty"`
	Others map[string]string `json:"others,omitempty"`
}

// Empty reports whether nothing blocks deletion.
func (r Reasons) Empty() bool {
	return len(r.Links) == 0 && len(r.Others) == 0
}

// ReasonFunc contributes a non-link blocking reason. It returns the reason
// key/value and whether the reason currently blocks deletion.
type ReasonFunc func(ctx context.Context, parentID int64) (key, value string, blocking bool, err error)

// Guard aggregates references to one parent kind for deletion-safety checks.
type Guard struct {
	registry *Registry
	kinds    []string
	cascade  map[string]bool
	reasons  []ReasonFunc
}

// GuardOption customises a Guard.
type GuardOption func(*Guard)

// WithKinds restricts the guard to the given link kinds. Without it the guard
// inspects every registered kind.
func WithKinds(tags ...string) GuardOption {
	return func(g *Guard) { g.kinds = tags }
}

// WithCascade marks kinds that are deleted together with the parent and
// therefore never block deletion. They still appear in LinksTo.
func WithCascade(tags ...string) GuardOption {
	return func(g *Guard) {
		for _, tag := range tags {
			g.cascade[tag] = true
		}
	}
}

// WithReason adds a non-link blocking reason check.
func WithReason(fn ReasonFunc) GuardOption {
	return func(g *Guard) {
		if fn != nil {
			g.reasons = append(g.reasons, fn)
		}
	}
}

// NewGuard builds a guard over the registry.
func NewGuard(registry *Registry, opts ...GuardOption) *Guard {
	g := &Guard{registry: registry, cascade: make(map[string]bool)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) linkKinds() []string {
	if len(g.kinds) > 0 {
		return g.kinds
	}
	return g.registry.Tags()
}

// LinksTo counts referencing records per link kind. Collaborator errors
// propagate untouched so callers can decide on retry.
func (g *Guard) LinksTo(ctx context.Context, parentID int64) (Links, error) {
	links := Links{}
	for _, tag := range g.linkKinds() {
		source, err := g.registry.Source(tag)
		if err != nil {
			return nil, err
		}
		count, err := source.CountLinksTo(ctx, parentID)
		if err != nil {
			return nil, fmt.Errorf("integrity: count %s links: %w", tag, err)
		}
		if count > 0 {
			links[tag] = count
		}
	}
	return links, nil
}

// PIDsTo lists referencing record identifiers per link kind.
func (g *Guard) PIDsTo(ctx context.Context, parentID int64) (map[string][]int64, error) {
	pids := map[string][]int64{}
	for _, tag := range g.linkKinds() {
		source, err := g.registry.Source(tag)
		if err != nil {
			return nil, err
		}
		ids, err := source.PIDsLinkedTo(ctx, parentID)
		if err != nil {
			return nil, fmt.Errorf("integrity: list %s pids: %w", tag, err)
		}
		if len(ids) > 0 {
			pids[tag] = ids
		}
	}
	return pids, nil
}

// ReasonsNotToDelete composes blocking links and extra reasons. Cascade kinds
// are excluded from the blocking set. The report is empty iff no non-cascading
// links exist and no reason func blocks.
func (g *Guard) ReasonsNotToDelete(ctx context.Context, parentID int64) (Reasons, error) {
	reasons := Reasons{}

	links, err := g.LinksTo(ctx, parentID)
	if err != nil {
		return reasons, err
	}
	for tag := range links {
		if g.cascade[tag] {
			delete(links, tag)
		}
	}
	if len(links) > 0 {
		reasons.Links = links
	}

	for _, fn := range g.reasons {
		key, value, blocking, err := fn(ctx, parentID)
		if err != nil {
			return Reasons{}, err
		}
		if !blocking {
			continue
		}
		if reasons.Others == nil {
			reasons.Others = map[string]string{}
		}
		reasons.Others[key] = value
	}
	return reasons, nil
}

// RelatedNotes collects notes from every record linked to the parent across
// the configured resource kinds.
func (g *Guard) RelatedNotes(ctx context.Context, parentID int64) ([]RelatedNote, error) {
	var notes []RelatedNote
	for _, tag := range g.linkKinds() {
		source, err := g.registry.Source(tag)
		if err != nil {
			return nil, err
		}
		found, err := source.NotesLinkedTo(ctx, parentID)
		if err != nil {
			return nil, fmt.Errorf("integrity: scan %s notes: %w", tag, err)
		}
		for _, note := range found {
			note.Source = tag
			notes = append(notes, note)
		}
	}
	return notes, nil
}
