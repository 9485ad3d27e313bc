// Package platform defines the contracts between the runtime core and the
// chat platform it is attached to. The core never inspects the transport;
// it only hands the opaque client to plugins so they can reply.
package platform

import (
	"context"
	"time"
)

// Client is the chat-platform handle exposed to plugins.
// The core treats it as opaque.
type Client interface {
	// SendMessage sends a text reply to the given chat.
	SendMessage(ctx context.Context, chatID string, text string) error
}

// Message is an inbound chat message.
type Message struct {
	// ID is the platform-assigned message identifier.
	ID string

	// ChatID identifies the conversation the message belongs to.
	ChatID string

	// UserID identifies the sender.
	UserID string

	// Text is the raw message text.
	Text string

	// Time is when the platform received the message.
	Time time.Time
}

// Callback is an inbound interactive event (button press, menu selection).
// Data carries the colon-delimited payload declared by the sending plugin.
type Callback struct {
	// ID is the platform-assigned callback identifier.
	ID string

	// ChatID identifies the originating conversation.
	ChatID string

	// UserID identifies the interacting user.
	UserID string

	// Data is the raw callback payload.
	Data string

	// Time is when the platform received the callback.
	Time time.Time
}

// PermissionFunc reports whether a user holds a named permission.
// Permission storage and administration live outside the core.
type PermissionFunc func(userID, permission string) bool
