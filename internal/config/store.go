package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"
)

// Store persists per-plugin configuration as one JSON file per plugin and
// keeps a merged in-memory cache. The cache survives plugin reloads; it is
// refreshed on save and pruned by the governor for plugins that left the
// active set.
type Store struct {
	dir string
	log *logrus.Entry

	mu    sync.RWMutex
	cache map[string]map[string]any
}

// NewStore creates a store over dir. The directory is created lazily on
// the first save.
func NewStore(dir string, log *logrus.Entry) *Store {
	return &Store{
		dir:   dir,
		log:   log,
		cache: make(map[string]map[string]any),
	}
}

// Load returns a plugin's configuration: the declared defaults overlaid by
// whatever is persisted on disk. A missing or malformed file degrades to
// the defaults with a warning, never to an error.
func (s *Store) Load(name string, defaults map[string]any) map[string]any {
	s.mu.RLock()
	cached, ok := s.cache[name]
	s.mu.RUnlock()
	if ok {
		return merge(defaults, cached)
	}

	persisted := s.read(name)

	s.mu.Lock()
	s.cache[name] = persisted
	s.mu.Unlock()

	return merge(defaults, persisted)
}

// read loads the persisted values for one plugin, empty on any failure.
func (s *Store) read(name string) map[string]any {
	path := s.path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.WithField("plugin", name).WithError(err).Warn("plugin config unreadable, using defaults")
		}
		return map[string]any{}
	}

	var persisted map[string]any
	if err := sonic.Unmarshal(data, &persisted); err != nil {
		s.log.WithField("plugin", name).WithError(err).Warn("plugin config malformed, using defaults")
		return map[string]any{}
	}
	if persisted == nil {
		persisted = map[string]any{}
	}
	return persisted
}

// Save persists a plugin's configuration and refreshes the cache entry.
func (s *Store) Save(name string, cfg map[string]any) error {
	data, err := sonic.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config for plugin %q: %w", name, err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(s.path(name), data, 0o644); err != nil {
		return fmt.Errorf("writing config for plugin %q: %w", name, err)
	}

	s.mu.Lock()
	s.cache[name] = clone(cfg)
	s.mu.Unlock()

	s.log.WithField("plugin", name).Debug("plugin config saved")
	return nil
}

// Invalidate drops a plugin's cache entry so the next load hits the disk.
func (s *Store) Invalidate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, name)
}

// Prune drops cached entries for plugins outside the active set and
// returns the number dropped. Called by the governor.
func (s *Store) Prune(active []string) int {
	keep := make(map[string]bool, len(active))
	for _, name := range active {
		keep[name] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for name := range s.cache {
		if !keep[name] {
			delete(s.cache, name)
			dropped++
		}
	}
	return dropped
}

// CacheLen returns the number of cached plugin configurations.
func (s *Store) CacheLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// merge overlays persisted values on the defaults. Neither input is
// mutated.
func merge(defaults, persisted map[string]any) map[string]any {
	out := make(map[string]any, len(defaults)+len(persisted))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range persisted {
		out[k] = v
	}
	return out
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Accessor binds the store to one plugin with its declared defaults.
type Accessor struct {
	store    *Store
	name     string
	defaults map[string]any
}

// AccessorFor returns a plugin-scoped view of the store.
func (s *Store) AccessorFor(name string, defaults map[string]any) *Accessor {
	return &Accessor{store: s, name: name, defaults: defaults}
}

// Get returns the plugin's merged configuration.
func (a *Accessor) Get() (map[string]any, error) {
	return a.store.Load(a.name, a.defaults), nil
}

// Save persists the configuration and refreshes the cache.
func (a *Accessor) Save(cfg map[string]any) error {
	return a.store.Save(a.name, cfg)
}
