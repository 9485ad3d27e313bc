package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dshills/stormbot/internal/command"
	"github.com/dshills/stormbot/internal/event"
)

// errCycle signals a dependency cycle during recursive enabling. It never
// escapes the manager; callers see a DependencyError.
var errCycle = errors.New("plugin: dependency cycle")

// HandleFactory builds the collaborator bundle handed to a plugin's load
// hook.
type HandleFactory func(p Plugin) Handle

// Manager drives plugin lifecycle transitions and keeps the event index
// and command cache consistent with the ACTIVE set.
type Manager struct {
	// mu serializes lifecycle transitions. Reads of registry state go
	// through the registry's own lock.
	mu sync.Mutex

	registry  *Registry
	index     *event.Index
	cache     *command.Cache
	sources   []Source
	handleFor HandleFactory
	log       *logrus.Entry

	permMu      sync.RWMutex
	permissions map[string][]string // plugin -> declared permissions
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Registry is the plugin registry the manager owns.
	Registry *Registry

	// Index is the event handler index kept in sync with the ACTIVE set.
	Index *event.Index

	// Cache is the command candidate cache, cleared on reload.
	Cache *command.Cache

	// Sources discover plugins on reload and dependency auto-load.
	Sources []Source

	// HandleFor builds per-plugin collaborator bundles. Optional.
	HandleFor HandleFactory

	// Log is the manager's logger.
	Log *logrus.Entry
}

// NewManager creates a lifecycle manager.
func NewManager(cfg ManagerConfig) *Manager {
	handleFor := cfg.HandleFor
	if handleFor == nil {
		handleFor = func(Plugin) Handle { return Handle{Log: cfg.Log} }
	}
	return &Manager{
		registry:    cfg.Registry,
		index:       cfg.Index,
		cache:       cfg.Cache,
		sources:     cfg.Sources,
		handleFor:   handleFor,
		log:         cfg.Log,
		permissions: make(map[string][]string),
	}
}

// Registry returns the managed registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Register adds a plugin in the DISABLED state.
func (m *Manager) Register(p Plugin) error {
	return m.registry.Register(p)
}

// Enable transitions a plugin to ACTIVE. With autoDeps set, missing or
// inactive dependencies are discovered and enabled recursively; otherwise
// an unsatisfied dependency marks the plugin ERROR and the enable fails.
func (m *Manager) Enable(ctx context.Context, name string, autoDeps bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enableLocked(ctx, name, autoDeps, make(map[string]bool))
}

func (m *Manager) enableLocked(ctx context.Context, name string, autoDeps bool, visiting map[string]bool) error {
	if visiting[name] {
		return errCycle
	}

	state, registered := m.registry.StateOf(name)
	if !registered {
		return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}
	if state == StateActive {
		return nil
	}

	p, _ := m.registry.Get(name)
	visiting[name] = true
	defer delete(visiting, name)

	for _, dep := range dependenciesOf(p) {
		if err := m.resolveDependency(ctx, name, dep, autoDeps, visiting); err != nil {
			return err
		}
	}

	if lh, ok := p.(LoadHook); ok {
		if err := m.runLoadHook(ctx, p, lh); err != nil {
			hookErr := &HookError{Plugin: name, Hook: "load", Err: err}
			m.registry.setState(name, StateError, hookErr.Error())
			m.log.WithField("plugin", name).WithError(err).Error("load hook failed")
			return hookErr
		}
	}

	if err := m.index.Add(name, p.Handlers()); err != nil {
		m.registry.setState(name, StateError, err.Error())
		return err
	}
	m.indexPermissions(name, p.Permissions())

	m.registry.setState(name, StateActive, "")
	m.log.WithField("plugin", name).Info("plugin enabled")
	return nil
}

// resolveDependency brings one dependency to ACTIVE or marks the dependent
// plugin ERROR.
func (m *Manager) resolveDependency(ctx context.Context, name, dep string, autoDeps bool, visiting map[string]bool) error {
	depState, registered := m.registry.StateOf(dep)
	if !registered {
		if !autoDeps {
			return m.failDependency(name, dep, "is not registered")
		}
		found, err := m.discoverOne(dep)
		if err != nil || found == nil {
			return m.failDependency(name, dep, "could not be discovered")
		}
		if err := m.registry.Register(found); err != nil && err != ErrDuplicatePlugin {
			return m.failDependency(name, dep, "failed to register")
		}
		depState = StateDisabled
	}

	if depState == StateActive {
		return nil
	}
	if !autoDeps {
		return m.failDependency(name, dep, "is not active")
	}
	if err := m.enableLocked(ctx, dep, autoDeps, visiting); err != nil {
		if errors.Is(err, errCycle) {
			m.log.WithFields(logrus.Fields{
				"plugin":     name,
				"dependency": dep,
			}).Warn("dependency cycle detected during enable")
			return m.failDependency(name, dep, "forms a dependency cycle")
		}
		return m.failDependency(name, dep, "failed to enable")
	}
	return nil
}

// failDependency records the unsatisfied dependency on the plugin and
// returns the enable error.
func (m *Manager) failDependency(name, dep, reason string) error {
	depErr := &DependencyError{Plugin: name, Dependency: dep, Reason: reason}
	m.registry.setState(name, StateError, depErr.Error())
	m.log.WithFields(logrus.Fields{
		"plugin":     name,
		"dependency": dep,
	}).Warnf("enable failed: dependency %s", reason)
	return depErr
}

// runLoadHook calls the load hook with panic containment.
func (m *Manager) runLoadHook(ctx context.Context, p Plugin, lh LoadHook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return lh.Load(ctx, m.handleFor(p))
}

// runUnloadHook calls the unload hook with panic containment.
func (m *Manager) runUnloadHook(ctx context.Context, uh UnloadHook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return uh.Unload(ctx)
}

// Disable transitions an ACTIVE plugin to DISABLED. It fails without any
// mutation while another ACTIVE plugin declares the target as a dependency.
func (m *Manager) Disable(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, registered := m.registry.StateOf(name)
	if !registered {
		return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}
	if state != StateActive {
		return nil
	}

	if dependents := m.registry.activeDependents(name); len(dependents) > 0 {
		return &HeldError{Plugin: name, Dependent: dependents[0]}
	}

	m.deactivateLocked(ctx, name)
	return nil
}

// Remove disables a plugin if needed and drops its registration entirely,
// so a later source discovery can register a replacement under the same
// name. Like Disable it fails while an ACTIVE plugin depends on the target.
func (m *Manager) Remove(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, registered := m.registry.StateOf(name)
	if !registered {
		return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}

	if state == StateActive {
		if dependents := m.registry.activeDependents(name); len(dependents) > 0 {
			return &HeldError{Plugin: name, Dependent: dependents[0]}
		}
		m.deactivateLocked(ctx, name)
	}

	m.registry.Remove(name)
	if m.cache != nil {
		m.cache.Clear()
	}
	m.log.WithField("plugin", name).Info("plugin removed")
	return nil
}

// deactivateLocked runs the unload hook, removes the plugin's handlers from
// the dispatch index, and records the final state. Hook failures are
// recorded as an ERROR transition, never propagated.
func (m *Manager) deactivateLocked(ctx context.Context, name string) {
	p, ok := m.registry.Get(name)
	if !ok {
		return
	}

	var hookErr error
	if uh, ok := p.(UnloadHook); ok {
		hookErr = m.runUnloadHook(ctx, uh)
	}

	m.index.Remove(name)
	m.dropPermissions(name)

	if hookErr != nil {
		m.registry.setState(name, StateError, (&HookError{Plugin: name, Hook: "unload", Err: hookErr}).Error())
		m.log.WithField("plugin", name).WithError(hookErr).Error("unload hook failed")
		return
	}
	m.registry.setState(name, StateDisabled, "")
	m.log.WithField("plugin", name).Info("plugin disabled")
}

// EnableAll enables every registered plugin in dependency order. Plugins in
// detected cycles are skipped (logged by the sort). Individual failures are
// collected, not fatal.
func (m *Manager) EnableAll(ctx context.Context) []error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, _ := topoSort(m.graphLocked(), m.log)
	var errs []error
	for _, name := range order {
		if err := m.enableLocked(ctx, name, false, make(map[string]bool)); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// DisableAll deactivates every ACTIVE plugin in reverse dependency order,
// so the held-dependency check never applies. Used at shutdown.
func (m *Manager) DisableAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disableAllLocked(ctx)
}

func (m *Manager) disableAllLocked(ctx context.Context) {
	order, cyclic := topoSort(m.graphLocked(), m.log)
	for i := len(order) - 1; i >= 0; i-- {
		if state, _ := m.registry.StateOf(order[i]); state == StateActive {
			m.deactivateLocked(ctx, order[i])
		}
	}
	for _, name := range cyclic {
		if state, _ := m.registry.StateOf(name); state == StateActive {
			m.deactivateLocked(ctx, name)
		}
	}
}

// Reload tears the runtime down and builds it back up: every plugin is
// disabled, derived indexes are cleared (the config cache and cooldowns
// survive), plugins are re-discovered from the sources and re-registered,
// and the previously ACTIVE set is re-enabled in dependency-ordered
// concurrent waves. Plugins that can never become ready are returned as
// blocked.
func (m *Manager) Reload(ctx context.Context) (blocked []string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	previouslyActive := m.registry.ListActive()

	m.disableAllLocked(ctx)

	m.index.Clear()
	if m.cache != nil {
		m.cache.Clear()
	}
	m.registry.Clear()

	// Re-discover and re-register.
	for _, src := range m.sources {
		plugins, derr := src.Discover()
		if derr != nil {
			m.log.WithError(derr).Error("plugin discovery failed")
			continue
		}
		for _, p := range plugins {
			if rerr := m.registry.Register(p); rerr != nil && rerr != ErrDuplicatePlugin {
				m.log.WithError(rerr).Warn("plugin re-registration failed")
			}
		}
	}

	// Re-enable the previously ACTIVE set in waves: a plugin is ready once
	// none of its declared dependencies is still waiting.
	remaining := make(map[string]bool)
	for _, name := range previouslyActive {
		if _, ok := m.registry.Get(name); ok {
			remaining[name] = true
		}
	}

	for len(remaining) > 0 {
		var wave []string
		for name := range remaining {
			p, _ := m.registry.Get(name)
			ready := true
			for _, dep := range dependenciesOf(p) {
				if remaining[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, name)
			}
		}

		if len(wave) == 0 {
			for name := range remaining {
				blocked = append(blocked, name)
			}
			m.log.WithField("blocked", blocked).Warn("reload: plugins blocked, no further progress")
			break
		}

		var wg sync.WaitGroup
		for _, name := range wave {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				if werr := m.enableLocked(ctx, name, false, make(map[string]bool)); werr != nil {
					m.log.WithField("plugin", name).WithError(werr).Warn("reload: enable failed")
				}
			}(name)
			delete(remaining, name)
		}
		wg.Wait()
	}

	m.log.WithFields(logrus.Fields{
		"registered": len(m.registry.List()),
		"active":     len(m.registry.ListActive()),
	}).Info("plugin reload complete")
	return blocked, nil
}

// graphLocked builds the dependency graph over all registered plugins.
func (m *Manager) graphLocked() graph {
	g := make(graph)
	for _, name := range m.registry.List() {
		p, _ := m.registry.Get(name)
		g[name] = dependenciesOf(p)
	}
	return g
}

// discoverOne searches the sources for a plugin by name.
func (m *Manager) discoverOne(name string) (Plugin, error) {
	for _, src := range m.sources {
		plugins, err := src.Discover()
		if err != nil {
			continue
		}
		for _, p := range plugins {
			if p.Name() == name {
				return p, nil
			}
		}
	}
	return nil, fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
}

// indexPermissions records the permissions a plugin declares.
func (m *Manager) indexPermissions(name string, perms []string) {
	if len(perms) == 0 {
		return
	}
	m.permMu.Lock()
	defer m.permMu.Unlock()
	m.permissions[name] = append([]string(nil), perms...)
}

// dropPermissions forgets a plugin's declared permissions.
func (m *Manager) dropPermissions(name string) {
	m.permMu.Lock()
	defer m.permMu.Unlock()
	delete(m.permissions, name)
}

// DeclaredPermissions returns all permissions declared by ACTIVE plugins.
func (m *Manager) DeclaredPermissions() []string {
	m.permMu.RLock()
	defer m.permMu.RUnlock()

	var perms []string
	for _, ps := range m.permissions {
		perms = append(perms, ps...)
	}
	return perms
}

// ActiveCommands implements command.Provider by delegating to the registry.
func (m *Manager) ActiveCommands() []command.Candidate {
	return m.registry.ActiveCommands()
}
