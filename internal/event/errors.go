package event

import "errors"

// Dispatcher errors.
var (
	// ErrHandlerTimeout indicates a handler did not settle within the
	// per-handler timeout. The handler's goroutine is not terminated.
	ErrHandlerTimeout = errors.New("event: handler timeout")

	// ErrHandlerPanic indicates a handler panicked during dispatch.
	ErrHandlerPanic = errors.New("event: handler panic")

	// ErrNilHandler indicates a handler with a nil body was indexed.
	ErrNilHandler = errors.New("event: nil handler function")
)
