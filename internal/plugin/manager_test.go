package plugin

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/stormbot/internal/command"
	"github.com/dshills/stormbot/internal/event"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// fakePlugin is a configurable plugin for lifecycle tests.
type fakePlugin struct {
	name     string
	deps     []string
	commands []command.Spec
	handlers []event.Handler
	perms    []string

	loadErr   error
	loadPanic bool
	unloadErr error

	mu          sync.Mutex
	loadCalls   int
	unloadCalls int
	loadedAt    time.Time
}

func (f *fakePlugin) Name() string              { return f.name }
func (f *fakePlugin) Commands() []command.Spec  { return f.commands }
func (f *fakePlugin) Handlers() []event.Handler { return f.handlers }
func (f *fakePlugin) Permissions() []string     { return f.perms }
func (f *fakePlugin) Dependencies() []string    { return f.deps }

func (f *fakePlugin) Load(ctx context.Context, h Handle) error {
	f.mu.Lock()
	f.loadCalls++
	f.loadedAt = time.Now()
	f.mu.Unlock()
	if f.loadPanic {
		panic("load exploded")
	}
	return f.loadErr
}

func (f *fakePlugin) Unload(ctx context.Context) error {
	f.mu.Lock()
	f.unloadCalls++
	f.mu.Unlock()
	return f.unloadErr
}

func (f *fakePlugin) loads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadCalls
}

func (f *fakePlugin) unloads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unloadCalls
}

func newTestManager(sources ...Source) *Manager {
	log := testLog()
	return NewManager(ManagerConfig{
		Registry: NewRegistry(log),
		Index:    event.NewIndex(),
		Cache:    command.NewCache(command.DefaultCacheTTL, command.DefaultCacheCapacity),
		Sources:  sources,
		Log:      log,
	})
}

func noopHandler(kind event.Kind) event.Handler {
	return event.Handler{
		Kind: kind,
		Fn:   func(ctx context.Context, ec *event.Context) error { return nil },
	}
}

func TestManagerEnableDisable(t *testing.T) {
	m := newTestManager()
	p := &fakePlugin{
		name:     "greeter",
		handlers: []event.Handler{noopHandler(event.KindMessage)},
		perms:    []string{"greeter.use"},
	}
	if err := m.Register(p); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if state, _ := m.Registry().StateOf("greeter"); state != StateDisabled {
		t.Fatalf("state after register = %v, want disabled", state)
	}

	if err := m.Enable(context.Background(), "greeter", false); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if state, _ := m.Registry().StateOf("greeter"); state != StateActive {
		t.Errorf("state after enable = %v, want active", state)
	}
	if p.loads() != 1 {
		t.Errorf("load calls = %d, want 1", p.loads())
	}
	if got := m.index.Count(event.KindMessage); got != 1 {
		t.Errorf("indexed handlers = %d, want 1", got)
	}
	if got := m.DeclaredPermissions(); len(got) != 1 || got[0] != "greeter.use" {
		t.Errorf("DeclaredPermissions() = %v, want [greeter.use]", got)
	}

	// Enabling an active plugin is a no-op.
	if err := m.Enable(context.Background(), "greeter", false); err != nil {
		t.Fatalf("second Enable() error = %v", err)
	}
	if p.loads() != 1 {
		t.Errorf("load calls after re-enable = %d, want 1", p.loads())
	}

	if err := m.Disable(context.Background(), "greeter"); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	if state, _ := m.Registry().StateOf("greeter"); state != StateDisabled {
		t.Errorf("state after disable = %v, want disabled", state)
	}
	if p.unloads() != 1 {
		t.Errorf("unload calls = %d, want 1", p.unloads())
	}
	if got := m.index.Count(event.KindMessage); got != 0 {
		t.Errorf("indexed handlers after disable = %d, want 0", got)
	}
	if got := m.DeclaredPermissions(); len(got) != 0 {
		t.Errorf("DeclaredPermissions() after disable = %v, want empty", got)
	}
}

func TestManagerEnableUnknownPlugin(t *testing.T) {
	m := newTestManager()
	err := m.Enable(context.Background(), "ghost", false)
	if !errors.Is(err, ErrPluginNotFound) {
		t.Fatalf("Enable() error = %v, want ErrPluginNotFound", err)
	}
}

func TestManagerEnableMissingDependency(t *testing.T) {
	m := newTestManager()
	a := &fakePlugin{name: "alerts", deps: []string{"storage"}}
	if err := m.Register(a); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	err := m.Enable(context.Background(), "alerts", false)
	var depErr *DependencyError
	if !errors.As(err, &depErr) {
		t.Fatalf("Enable() error = %v, want *DependencyError", err)
	}
	if depErr.Dependency != "storage" {
		t.Errorf("Dependency = %q, want storage", depErr.Dependency)
	}

	if state, _ := m.Registry().StateOf("alerts"); state != StateError {
		t.Errorf("state = %v, want error", state)
	}
	if msg := m.Registry().ErrorOf("alerts"); msg == "" {
		t.Error("ErrorOf() is empty, want a descriptive message")
	}
	if a.loads() != 0 {
		t.Errorf("load calls = %d, want 0", a.loads())
	}
}

func TestManagerEnableInactiveDependency(t *testing.T) {
	m := newTestManager()
	m.Register(&fakePlugin{name: "storage"})
	m.Register(&fakePlugin{name: "alerts", deps: []string{"storage"}})

	// Without autoDeps a registered-but-disabled dependency blocks the
	// enable.
	err := m.Enable(context.Background(), "alerts", false)
	var depErr *DependencyError
	if !errors.As(err, &depErr) {
		t.Fatalf("Enable() error = %v, want *DependencyError", err)
	}
	if state, _ := m.Registry().StateOf("storage"); state != StateDisabled {
		t.Errorf("dependency state = %v, want disabled", state)
	}
}

func TestManagerEnableAutoDeps(t *testing.T) {
	m := newTestManager()
	storage := &fakePlugin{name: "storage"}
	alerts := &fakePlugin{name: "alerts", deps: []string{"storage"}}
	m.Register(storage)
	m.Register(alerts)

	if err := m.Enable(context.Background(), "alerts", true); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	for _, name := range []string{"storage", "alerts"} {
		if state, _ := m.Registry().StateOf(name); state != StateActive {
			t.Errorf("state of %s = %v, want active", name, state)
		}
	}
	if storage.loadedAt.After(alerts.loadedAt) {
		t.Error("dependency loaded after its dependent")
	}
}

func TestManagerEnableAutoDepsDiscovers(t *testing.T) {
	storage := &fakePlugin{name: "storage"}
	m := newTestManager(NewStaticSource(storage))
	m.Register(&fakePlugin{name: "alerts", deps: []string{"storage"}})

	if err := m.Enable(context.Background(), "alerts", true); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if state, _ := m.Registry().StateOf("storage"); state != StateActive {
		t.Errorf("discovered dependency state = %v, want active", state)
	}
}

func TestManagerEnableDependencyCycle(t *testing.T) {
	m := newTestManager()
	m.Register(&fakePlugin{name: "ping", deps: []string{"pong"}})
	m.Register(&fakePlugin{name: "pong", deps: []string{"ping"}})

	done := make(chan error, 1)
	go func() {
		done <- m.Enable(context.Background(), "ping", true)
	}()

	select {
	case err := <-done:
		var depErr *DependencyError
		if !errors.As(err, &depErr) {
			t.Fatalf("Enable() error = %v, want *DependencyError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Enable() hung on a dependency cycle")
	}

	if state, _ := m.Registry().StateOf("ping"); state != StateError {
		t.Errorf("state of ping = %v, want error", state)
	}
	if state, _ := m.Registry().StateOf("pong"); state == StateActive {
		t.Error("pong became active inside a cycle")
	}
}

func TestManagerEnableLoadHookFailure(t *testing.T) {
	tests := []struct {
		name   string
		plugin *fakePlugin
	}{
		{"returns error", &fakePlugin{name: "broken", loadErr: errors.New("no database")}},
		{"panics", &fakePlugin{name: "broken", loadPanic: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.plugin.handlers = []event.Handler{noopHandler(event.KindMessage)}
			m := newTestManager()
			m.Register(tt.plugin)

			err := m.Enable(context.Background(), "broken", false)
			var hookErr *HookError
			if !errors.As(err, &hookErr) {
				t.Fatalf("Enable() error = %v, want *HookError", err)
			}
			if hookErr.Hook != "load" {
				t.Errorf("Hook = %q, want load", hookErr.Hook)
			}
			if state, _ := m.Registry().StateOf("broken"); state != StateError {
				t.Errorf("state = %v, want error", state)
			}
			if got := m.index.Count(event.KindMessage); got != 0 {
				t.Errorf("indexed handlers = %d, want 0", got)
			}
		})
	}
}

func TestManagerDisableHeldByDependent(t *testing.T) {
	m := newTestManager()
	m.Register(&fakePlugin{name: "storage"})
	m.Register(&fakePlugin{name: "alerts", deps: []string{"storage"}})
	if err := m.Enable(context.Background(), "alerts", true); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}

	err := m.Disable(context.Background(), "storage")
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("Disable() error = %v, want *HeldError", err)
	}
	if held.Dependent != "alerts" {
		t.Errorf("Dependent = %q, want alerts", held.Dependent)
	}
	if state, _ := m.Registry().StateOf("storage"); state != StateActive {
		t.Errorf("state after refused disable = %v, want active", state)
	}

	// Once the dependent is gone the disable goes through.
	if err := m.Disable(context.Background(), "alerts"); err != nil {
		t.Fatalf("Disable(alerts) error = %v", err)
	}
	if err := m.Disable(context.Background(), "storage"); err != nil {
		t.Fatalf("Disable(storage) error = %v", err)
	}
}

func TestManagerDisableUnloadFailure(t *testing.T) {
	m := newTestManager()
	p := &fakePlugin{
		name:      "flaky",
		handlers:  []event.Handler{noopHandler(event.KindMessage)},
		unloadErr: errors.New("flush failed"),
	}
	m.Register(p)
	if err := m.Enable(context.Background(), "flaky", false); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}

	// Unload failures are recorded, not propagated; the plugin still comes
	// out of dispatch.
	if err := m.Disable(context.Background(), "flaky"); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	if state, _ := m.Registry().StateOf("flaky"); state != StateError {
		t.Errorf("state = %v, want error", state)
	}
	if got := m.index.Count(event.KindMessage); got != 0 {
		t.Errorf("indexed handlers = %d, want 0", got)
	}
}

func TestManagerDisableNonActive(t *testing.T) {
	m := newTestManager()
	m.Register(&fakePlugin{name: "idle"})
	if err := m.Disable(context.Background(), "idle"); err != nil {
		t.Fatalf("Disable() on disabled plugin error = %v", err)
	}
	if err := m.Disable(context.Background(), "ghost"); !errors.Is(err, ErrPluginNotFound) {
		t.Fatalf("Disable(ghost) error = %v, want ErrPluginNotFound", err)
	}
}

func TestManagerRemove(t *testing.T) {
	m := newTestManager()
	storage := &fakePlugin{name: "storage"}
	m.Register(storage)
	m.Register(&fakePlugin{name: "alerts", deps: []string{"storage"}})
	if err := m.Enable(context.Background(), "alerts", true); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}

	// Held by an active dependent, exactly like Disable.
	err := m.Remove(context.Background(), "storage")
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("Remove() error = %v, want *HeldError", err)
	}
	if _, registered := m.Registry().StateOf("storage"); !registered {
		t.Fatal("refused Remove() dropped the registration")
	}

	if err := m.Remove(context.Background(), "alerts"); err != nil {
		t.Fatalf("Remove(alerts) error = %v", err)
	}
	if _, registered := m.Registry().StateOf("alerts"); registered {
		t.Error("removed plugin still registered")
	}

	// An active plugin is unloaded on the way out.
	if err := m.Remove(context.Background(), "storage"); err != nil {
		t.Fatalf("Remove(storage) error = %v", err)
	}
	if storage.unloads() != 1 {
		t.Errorf("unload calls = %d, want 1", storage.unloads())
	}

	if err := m.Remove(context.Background(), "storage"); !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("Remove() on unregistered plugin = %v, want ErrPluginNotFound", err)
	}
}

func TestManagerEnableAll(t *testing.T) {
	m := newTestManager()
	storage := &fakePlugin{name: "storage"}
	alerts := &fakePlugin{name: "alerts", deps: []string{"storage"}}
	m.Register(alerts)
	m.Register(storage)

	if errs := m.EnableAll(context.Background()); len(errs) != 0 {
		t.Fatalf("EnableAll() errors = %v", errs)
	}
	for _, name := range []string{"storage", "alerts"} {
		if state, _ := m.Registry().StateOf(name); state != StateActive {
			t.Errorf("state of %s = %v, want active", name, state)
		}
	}
}

func TestManagerReload(t *testing.T) {
	storage := &fakePlugin{name: "storage"}
	alerts := &fakePlugin{name: "alerts", deps: []string{"storage"}}
	idle := &fakePlugin{name: "idle"}
	m := newTestManager(NewStaticSource(storage, alerts, idle))

	m.Register(storage)
	m.Register(alerts)
	m.Register(idle)
	if err := m.Enable(context.Background(), "alerts", true); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	// idle stays disabled.

	m.cache.Put("roll", []command.Candidate{})

	blocked, err := m.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if len(blocked) != 0 {
		t.Fatalf("Reload() blocked = %v, want none", blocked)
	}

	for _, name := range []string{"storage", "alerts"} {
		if state, _ := m.Registry().StateOf(name); state != StateActive {
			t.Errorf("state of %s after reload = %v, want active", name, state)
		}
	}
	if state, _ := m.Registry().StateOf("idle"); state != StateDisabled {
		t.Errorf("state of idle after reload = %v, want disabled", state)
	}

	if m.cache.Len() != 0 {
		t.Errorf("command cache has %d entries after reload, want 0", m.cache.Len())
	}
	if storage.unloads() != 1 || alerts.unloads() != 1 {
		t.Errorf("unload calls = %d/%d, want 1/1", storage.unloads(), alerts.unloads())
	}
	if storage.loads() != 2 || alerts.loads() != 2 {
		t.Errorf("load calls = %d/%d, want 2/2", storage.loads(), alerts.loads())
	}
	if storage.loadedAt.After(alerts.loadedAt) {
		t.Error("dependency wave ran after its dependent's wave")
	}
}

// mutableSource lets a test swap the discovered plugin set between reloads.
type mutableSource struct {
	mu      sync.Mutex
	plugins []Plugin
}

func (s *mutableSource) Discover() ([]Plugin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Plugin, len(s.plugins))
	copy(out, s.plugins)
	return out, nil
}

func (s *mutableSource) set(plugins ...Plugin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plugins = plugins
}

func TestManagerReloadBlockedCycle(t *testing.T) {
	src := &mutableSource{}
	src.set(&fakePlugin{name: "ping"}, &fakePlugin{name: "pong"})
	m := newTestManager(src)

	blocked, err := m.Reload(context.Background())
	if err != nil || len(blocked) != 0 {
		t.Fatalf("initial Reload() = (%v, %v)", blocked, err)
	}
	if errs := m.EnableAll(context.Background()); len(errs) != 0 {
		t.Fatalf("EnableAll() errors = %v", errs)
	}

	// The rediscovered set forms a cycle; neither plugin can ever be
	// ready, so both come back blocked.
	src.set(
		&fakePlugin{name: "ping", deps: []string{"pong"}},
		&fakePlugin{name: "pong", deps: []string{"ping"}},
	)

	blocked, err = m.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if len(blocked) != 2 {
		t.Fatalf("Reload() blocked = %v, want both plugins", blocked)
	}
	for _, name := range []string{"ping", "pong"} {
		if state, _ := m.Registry().StateOf(name); state == StateActive {
			t.Errorf("%s is active after a blocked reload", name)
		}
	}
}

func TestManagerReloadDroppedPlugin(t *testing.T) {
	src := &mutableSource{}
	src.set(&fakePlugin{name: "old"}, &fakePlugin{name: "keep"})
	m := newTestManager(src)

	if _, err := m.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if errs := m.EnableAll(context.Background()); len(errs) != 0 {
		t.Fatalf("EnableAll() errors = %v", errs)
	}

	src.set(&fakePlugin{name: "keep"})
	blocked, err := m.Reload(context.Background())
	if err != nil || len(blocked) != 0 {
		t.Fatalf("Reload() = (%v, %v)", blocked, err)
	}

	if _, ok := m.Registry().Get("old"); ok {
		t.Error("plugin absent from sources survived reload")
	}
	if state, _ := m.Registry().StateOf("keep"); state != StateActive {
		t.Errorf("state of keep = %v, want active", state)
	}
}
