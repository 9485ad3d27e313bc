package event

import (
	"sort"
	"sync"
)

// indexed pairs a handler with its owning plugin.
type indexed struct {
	owner   string
	handler Handler
}

// Index holds the event handlers of all ACTIVE plugins, grouped by kind.
// Handlers are added when a plugin is enabled and removed when it is
// disabled; reload clears the index wholesale.
type Index struct {
	mu     sync.RWMutex
	byKind map[Kind][]indexed
}

// NewIndex creates an empty handler index.
func NewIndex() *Index {
	return &Index{
		byKind: make(map[Kind][]indexed),
	}
}

// Add indexes all handlers for the named plugin.
// Nil handler bodies are rejected.
func (ix *Index) Add(owner string, handlers []Handler) error {
	for _, h := range handlers {
		if h.Fn == nil {
			return ErrNilHandler
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, h := range handlers {
		ix.byKind[h.Kind] = append(ix.byKind[h.Kind], indexed{owner: owner, handler: h})
	}
	return nil
}

// Remove drops every handler owned by the named plugin.
func (ix *Index) Remove(owner string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for kind, entries := range ix.byKind {
		kept := entries[:0]
		for _, e := range entries {
			if e.owner != owner {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(ix.byKind, kind)
		} else {
			ix.byKind[kind] = kept
		}
	}
}

// Clear drops all handlers. Used by reload.
func (ix *Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.byKind = make(map[Kind][]indexed)
}

// Count returns the number of indexed handlers for a kind.
func (ix *Index) Count(kind Kind) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byKind[kind])
}

// group is a set of handlers sharing one priority.
type group struct {
	priority int
	entries  []indexed
}

// groups returns the handlers for a kind bucketed by priority, ordered
// highest priority first. Within a group the index order is preserved but
// carries no dispatch guarantee.
func (ix *Index) groups(kind Kind) []group {
	ix.mu.RLock()
	entries := make([]indexed, len(ix.byKind[kind]))
	copy(entries, ix.byKind[kind])
	ix.mu.RUnlock()

	if len(entries) == 0 {
		return nil
	}

	byPriority := make(map[int][]indexed)
	for _, e := range entries {
		byPriority[e.handler.Priority] = append(byPriority[e.handler.Priority], e)
	}

	groups := make([]group, 0, len(byPriority))
	for p, es := range byPriority {
		groups = append(groups, group{priority: p, entries: es})
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].priority > groups[j].priority
	})
	return groups
}
