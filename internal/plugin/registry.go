package plugin

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/stormbot/internal/command"
)

// record is the registry's runtime state for one plugin.
type record struct {
	plugin  Plugin
	state   State
	err     string
	version string
}

// Registry owns the set of known plugins and their lifecycle state.
// Registration order is stable and doubles as the documented tie-break for
// duplicate command names.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*record
	order   []string
	log     *logrus.Entry
}

// NewRegistry creates an empty plugin registry.
func NewRegistry(log *logrus.Entry) *Registry {
	return &Registry{
		records: make(map[string]*record),
		log:     log,
	}
}

// Register adds a plugin in the DISABLED state. A duplicate name is logged
// and ignored.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return ErrNilPlugin
	}
	name := p.Name()
	if name == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[name]; exists {
		r.log.WithField("plugin", name).Warn("duplicate plugin registration ignored")
		return ErrDuplicatePlugin
	}

	r.records[name] = &record{
		plugin:  p,
		state:   StateDisabled,
		version: versionOf(p),
	}
	r.order = append(r.order, name)
	r.log.WithField("plugin", name).Debug("plugin registered")
	return nil
}

// Remove drops a plugin from the registry entirely.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[name]; !exists {
		return
	}
	delete(r.records, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Clear drops every plugin. Used by reload before re-discovery.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]*record)
	r.order = nil
}

// Get returns a registered plugin.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[name]
	if !ok {
		return nil, false
	}
	return rec.plugin, true
}

// StateOf returns a plugin's lifecycle state. Unregistered names report
// StateDisabled and false.
func (r *Registry) StateOf(name string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[name]
	if !ok {
		return StateDisabled, false
	}
	return rec.state, true
}

// ErrorOf returns the recorded error message for a plugin in StateError.
func (r *Registry) ErrorOf(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rec, ok := r.records[name]; ok {
		return rec.err
	}
	return ""
}

// VersionOf returns the plugin's declared version, if any.
func (r *Registry) VersionOf(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rec, ok := r.records[name]; ok {
		return rec.version
	}
	return ""
}

// List returns all registered plugin names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// ListActive returns the names of ACTIVE plugins in registration order.
func (r *Registry) ListActive() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for _, name := range r.order {
		if r.records[name].state == StateActive {
			names = append(names, name)
		}
	}
	return names
}

// ActiveCommands returns the commands of all ACTIVE plugins in stable
// registration order. It implements command.Provider.
func (r *Registry) ActiveCommands() []command.Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []command.Candidate
	for _, name := range r.order {
		rec := r.records[name]
		if rec.state != StateActive {
			continue
		}
		for _, spec := range rec.plugin.Commands() {
			candidates = append(candidates, command.Candidate{Plugin: name, Spec: spec})
		}
	}
	return candidates
}

// MaxActiveCooldown returns the longest cooldown declared by any command
// of an ACTIVE plugin. The governor uses it as the sweep horizon.
func (r *Registry) MaxActiveCooldown() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var longest time.Duration
	for _, name := range r.order {
		rec := r.records[name]
		if rec.state != StateActive {
			continue
		}
		for _, spec := range rec.plugin.Commands() {
			if spec.Cooldown > longest {
				longest = spec.Cooldown
			}
		}
	}
	return longest
}

// setState transitions a plugin's state, clearing any stale error on a
// non-error transition.
func (r *Registry) setState(name string, s State, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[name]
	if !ok {
		return
	}
	rec.state = s
	rec.err = errMsg
}

// activeDependents returns the ACTIVE plugins declaring name as a
// dependency.
func (r *Registry) activeDependents(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var dependents []string
	for _, n := range r.order {
		rec := r.records[n]
		if n == name || rec.state != StateActive {
			continue
		}
		for _, dep := range dependenciesOf(rec.plugin) {
			if dep == name {
				dependents = append(dependents, n)
				break
			}
		}
	}
	return dependents
}
