// Package command parses prefixed command text, resolves candidate handlers
// across ACTIVE plugins, and executes the selected handler under permission,
// cooldown, and timeout policy.
//
// Candidate resolution is cached per command name with a TTL and LRU
// eviction. Execution is serialized per user: commands from one user run
// strictly FIFO, bounded by the overall command timeout, while commands
// from different users are fully independent.
package command
