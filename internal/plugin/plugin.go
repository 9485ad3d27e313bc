package plugin

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/dshills/stormbot/internal/command"
	"github.com/dshills/stormbot/internal/event"
	"github.com/dshills/stormbot/internal/platform"
)

// Plugin is the contract every feature module implements.
// All methods must be cheap and side-effect free; real work belongs in
// command and event handlers and in the optional lifecycle hooks.
type Plugin interface {
	// Name is the unique plugin identifier.
	Name() string

	// Commands returns the commands the plugin declares.
	Commands() []command.Spec

	// Handlers returns the event handlers the plugin declares.
	Handlers() []event.Handler

	// Permissions returns the permission names the plugin declares.
	Permissions() []string
}

// DependencyProvider is implemented by plugins that require other plugins
// to be ACTIVE before they can be enabled.
type DependencyProvider interface {
	Dependencies() []string
}

// LoadHook is implemented by plugins that need setup before activation.
// A failing hook leaves the plugin in the ERROR state.
type LoadHook interface {
	Load(ctx context.Context, h Handle) error
}

// UnloadHook is implemented by plugins that need teardown before
// deactivation.
type UnloadHook interface {
	Unload(ctx context.Context) error
}

// Versioned is implemented by plugins that report a version string.
type Versioned interface {
	Version() string
}

// ConfigDefaults is implemented by plugins that declare default
// configuration, overlaid by the persisted per-plugin JSON blob.
type ConfigDefaults interface {
	Defaults() map[string]any
}

// ConfigAccessor reads and writes one plugin's merged configuration.
type ConfigAccessor interface {
	// Get returns declared defaults overlaid by persisted values.
	Get() (map[string]any, error)

	// Save persists the configuration and refreshes the config cache.
	Save(cfg map[string]any) error
}

// Handle bundles the collaborators a plugin may use at runtime. It is
// passed to the load hook; plugins never get direct access to the core's
// shared state.
type Handle struct {
	// Log is the plugin-scoped logger.
	Log *logrus.Entry

	// Config accesses the plugin's merged configuration.
	Config ConfigAccessor

	// Permission checks a user's permission through the external
	// collaborator.
	Permission platform.PermissionFunc

	// Client is the opaque chat-platform handle.
	Client platform.Client
}

// dependenciesOf returns the declared dependencies, nil for plugins
// without the capability.
func dependenciesOf(p Plugin) []string {
	if dp, ok := p.(DependencyProvider); ok {
		return dp.Dependencies()
	}
	return nil
}

// versionOf returns the declared version, empty for unversioned plugins.
func versionOf(p Plugin) string {
	if v, ok := p.(Versioned); ok {
		return v.Version()
	}
	return ""
}
