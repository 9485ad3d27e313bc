package command

import (
	"errors"
	"fmt"
	"time"
)

// Router errors.
var (
	// ErrNotCommand indicates the text does not start with the command
	// prefix and was not routed.
	ErrNotCommand = errors.New("command: text is not a command")

	// ErrNoCommand indicates no ACTIVE plugin declares the command.
	ErrNoCommand = errors.New("command: no such command")

	// ErrPermissionDenied indicates the user lacks the required permission
	// for every candidate.
	ErrPermissionDenied = errors.New("command: permission denied")

	// ErrCommandTimeout indicates the selected handler exceeded the overall
	// command timeout.
	ErrCommandTimeout = errors.New("command: handler timeout")

	// ErrHandlerPanic indicates the selected handler panicked. The panic is
	// logged with its stack; callers see only this generic failure.
	ErrHandlerPanic = errors.New("command: handler panic")

	// ErrQueueTimeout indicates the command waited on the user's in-flight
	// command for longer than the overall timeout.
	ErrQueueTimeout = errors.New("command: queued behind in-flight command too long")
)

// CooldownError reports an invocation rejected because the command's
// cooldown has not elapsed for this user.
type CooldownError struct {
	Command   string
	Remaining time.Duration
}

// Error implements the error interface.
func (e *CooldownError) Error() string {
	return fmt.Sprintf("command %q on cooldown, %ds remaining",
		e.Command, e.RemainingSeconds())
}

// RemainingSeconds returns the remaining cooldown rounded up to whole
// seconds, as surfaced to the end user.
func (e *CooldownError) RemainingSeconds() int {
	return int((e.Remaining + time.Second - 1) / time.Second)
}
