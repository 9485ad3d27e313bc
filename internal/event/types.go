package event

import "context"

// Kind identifies the class of inbound event a handler subscribes to.
type Kind int

const (
	// KindMessage is free-text chat messages.
	KindMessage Kind = iota

	// KindCommandText is message text that begins with the command prefix.
	// It is dispatched in addition to command routing so plugins can observe
	// command traffic without owning the command.
	KindCommandText

	// KindCallback is interactive payload-carrying events.
	KindCallback
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindCommandText:
		return "command-text"
	case KindCallback:
		return "callback"
	default:
		return "unknown"
	}
}

// DefaultPriority is used when a handler does not declare one.
const DefaultPriority = 0

// HandlerFunc processes a single event occurrence.
type HandlerFunc func(ctx context.Context, ec *Context) error

// FilterFunc is a fast predicate run before a handler is considered for
// dispatch. Return false to skip the handler for this event.
type FilterFunc func(ec *Context) bool

// Handler is a plugin-declared event handler.
type Handler struct {
	// Kind is the event class the handler receives.
	Kind Kind

	// Priority orders dispatch; higher priorities run earlier. Handlers
	// sharing a priority run concurrently. Defaults to DefaultPriority.
	Priority int

	// Name matches callback payloads: a KindCallback handler only fires
	// when the payload's action segment equals Name. Ignored for other
	// kinds.
	Name string

	// Filter, if set, must return true for the handler to run.
	Filter FilterFunc

	// Fn is the handler body.
	Fn HandlerFunc
}
