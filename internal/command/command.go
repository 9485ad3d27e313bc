package command

import (
	"context"
	"time"

	"github.com/dshills/stormbot/internal/platform"
)

// HandlerFunc is the body of a command.
type HandlerFunc func(ctx context.Context, cc *Context) error

// Spec declares a command owned by a plugin.
type Spec struct {
	// Name is the primary command token, lower case.
	Name string

	// Aliases are alternative tokens that resolve to this command.
	Aliases []string

	// Permission, when set, names the permission a user must hold.
	Permission string

	// Cooldown, when positive, is the minimum interval between successive
	// invocations by the same user.
	Cooldown time.Duration

	// Fn is the command handler.
	Fn HandlerFunc
}

// Matches reports whether the token equals the command name or an alias.
func (s Spec) Matches(token string) bool {
	if s.Name == token {
		return true
	}
	for _, a := range s.Aliases {
		if a == token {
			return true
		}
	}
	return false
}

// Candidate pairs a command spec with its owning plugin.
type Candidate struct {
	Plugin string
	Spec   Spec
}

// Provider supplies the commands of all currently ACTIVE plugins in stable
// registration order. Registration order is the documented tie-break when
// two plugins declare the same command name.
type Provider interface {
	ActiveCommands() []Candidate
}

// Context carries everything a command handler may need.
type Context struct {
	// Client is the opaque chat-platform handle used to reply.
	Client platform.Client

	// ChatID identifies the conversation.
	ChatID string

	// UserID identifies the invoking user.
	UserID string

	// HasPermission reports whether UserID holds a named permission.
	HasPermission func(permission string) bool

	// Command is the parsed, case-folded command token without prefix.
	Command string

	// Args are the whitespace-separated arguments.
	Args []string

	// Content is the argument portion joined back into one string.
	Content string

	// Raw is the unmodified inbound text.
	Raw string

	// Level is the platform-reported numeric permission level of the user.
	Level int

	// Message is the inbound message the command arrived in.
	Message *platform.Message
}
