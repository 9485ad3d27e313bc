package event

import (
	"strconv"
	"strings"

	"github.com/dshills/stormbot/internal/platform"
)

// Context carries everything a handler may need about one event occurrence.
// Fields that do not apply to the event kind are zero.
type Context struct {
	// Client is the opaque chat-platform handle used to reply.
	Client platform.Client

	// ChatID identifies the conversation.
	ChatID string

	// UserID identifies the acting user.
	UserID string

	// HasPermission reports whether UserID holds a named permission.
	HasPermission func(permission string) bool

	// Message is the inbound message, when the event originated from one.
	Message *platform.Message

	// Text is the raw message text for message and command-text events.
	Text string

	// Data is the raw callback payload for callback events.
	Data string

	// Payload is the parsed callback payload for callback events.
	Payload *Payload

	// Match is populated for callback events whose action segment matched
	// the handler's declared name.
	Match *Match
}

// Payload provides structured access to a colon-delimited callback payload
// of the form "plugin:action:param0:param1:...".
type Payload struct {
	raw      string
	segments []string
}

// ParsePayload splits a raw callback payload into its segments.
func ParsePayload(raw string) *Payload {
	return &Payload{
		raw:      raw,
		segments: strings.Split(raw, ":"),
	}
}

// Raw returns the unparsed payload string.
func (p *Payload) Raw() string { return p.raw }

// Len returns the number of colon-delimited segments.
func (p *Payload) Len() int { return len(p.segments) }

// Part returns the i'th segment, or "" when out of range.
func (p *Payload) Part(i int) string {
	if i < 0 || i >= len(p.segments) {
		return ""
	}
	return p.segments[i]
}

// Prefix returns the first segment, conventionally the owning plugin name.
func (p *Payload) Prefix() string { return p.Part(0) }

// Command returns the second segment, conventionally the action name.
func (p *Payload) Command() string { return p.Part(1) }

// Subcommand returns the third segment when present.
func (p *Payload) Subcommand() string { return p.Part(2) }

// Params returns the typed positional parameters following the action
// segment.
func (p *Payload) Params() []any {
	if len(p.segments) <= 2 {
		return nil
	}
	params := make([]any, 0, len(p.segments)-2)
	for _, seg := range p.segments[2:] {
		params = append(params, typedSegment(seg))
	}
	return params
}

// Match describes a callback payload that matched a handler's declared name.
type Match struct {
	// Plugin is the payload's plugin segment.
	Plugin string

	// Action is the matched action name.
	Action string

	// Params are the typed positional parameters.
	Params []any
}

// typedSegment converts a payload segment to its typed value:
// "true"/"false" become bool, digit-only strings become int, everything
// else stays a string.
func typedSegment(seg string) any {
	switch seg {
	case "true":
		return true
	case "false":
		return false
	}
	if n, ok := parseDigits(seg); ok {
		return n
	}
	return seg
}

// parseDigits parses a non-empty all-digit string. Unlike strconv.Atoi it
// rejects signs so "-1" stays a string, matching payload conventions.
// Digit strings too large for int also stay strings.
func parseDigits(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
