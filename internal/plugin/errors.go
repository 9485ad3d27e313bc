package plugin

import (
	"errors"
	"fmt"
)

// Plugin system errors.
var (
	// ErrPluginNotFound is returned when a plugin name is not registered
	// and cannot be discovered from any source.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrDuplicatePlugin is returned when registering a name that is
	// already taken. Registration is a no-op in that case.
	ErrDuplicatePlugin = errors.New("plugin name already registered")

	// ErrNilPlugin is returned when registering a nil plugin value.
	ErrNilPlugin = errors.New("plugin is nil")

	// ErrEmptyName is returned when a plugin declares an empty name.
	ErrEmptyName = errors.New("plugin name is empty")
)

// DependencyError reports an enable blocked by an unsatisfied dependency.
type DependencyError struct {
	Plugin     string
	Dependency string
	Reason     string
}

// Error implements the error interface.
func (e *DependencyError) Error() string {
	return fmt.Sprintf("plugin %q: dependency %q %s", e.Plugin, e.Dependency, e.Reason)
}

// HookError reports a lifecycle hook failure, recorded as the plugin's
// error message.
type HookError struct {
	Plugin string
	Hook   string
	Err    error
}

// Error implements the error interface.
func (e *HookError) Error() string {
	return fmt.Sprintf("plugin %q: %s hook failed: %v", e.Plugin, e.Hook, e.Err)
}

// Unwrap returns the underlying hook error.
func (e *HookError) Unwrap() error { return e.Err }

// HeldError reports a disable refused because another ACTIVE plugin
// depends on the target.
type HeldError struct {
	Plugin    string
	Dependent string
}

// Error implements the error interface.
func (e *HeldError) Error() string {
	return fmt.Sprintf("plugin %q: still required by active plugin %q", e.Plugin, e.Dependent)
}
