// Package plugin owns the set of known plugins, their dependency graph,
// and their lifecycle state.
//
// A plugin is any value satisfying the Plugin interface; optional
// capabilities (dependencies, lifecycle hooks, version, config defaults)
// are declared through additional interfaces probed at registration time.
//
// The Manager drives lifecycle transitions: enabling resolves and,
// optionally, auto-loads dependencies; disabling is refused while another
// ACTIVE plugin depends on the target; reload tears everything down,
// re-discovers plugins from the configured sources, and re-enables the
// previously ACTIVE set in dependency-ordered concurrent waves. Dependency
// cycles are detected by depth-first topological sort and logged, never
// fatal.
package plugin
