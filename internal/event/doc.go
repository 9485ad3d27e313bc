// Package event delivers inbound chat events to registered plugin handlers.
//
// Handlers declare an event kind, an integer priority, and optionally a
// filter predicate and a callback action name. Dispatch groups matching
// handlers by priority and runs each group concurrently, joining the whole
// group before the next lower one starts. Handler failures and timeouts are
// isolated: they are logged and never abort siblings or the dispatch call.
//
// Callback payloads are colon-delimited (plugin:action:param0:...). A
// handler with a declared name only matches when the action segment equals
// that name; positional parameters are then parsed into typed values and
// exposed through the Match structure on the context.
package event
