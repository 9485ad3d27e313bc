package event

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultHandlerTimeout bounds how long Dispatch waits for one handler.
const DefaultHandlerTimeout = 10 * time.Second

// Dispatcher fans inbound events out to indexed handlers.
//
// Matching handlers are grouped by priority and iterated highest to lowest.
// Handlers sharing a priority start together and the dispatcher joins the
// whole group before the next one begins. Each handler races a fixed
// timeout: timing out is logged as a failure but does not terminate the
// handler's goroutine, which may still finish later. The handler's context
// is cancelled on timeout so cooperative handlers can stop early.
type Dispatcher struct {
	index   *Index
	timeout time.Duration
	log     *logrus.Entry
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithHandlerTimeout sets the per-handler timeout.
func WithHandlerTimeout(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.timeout = d
		}
	}
}

// NewDispatcher creates a dispatcher over the given handler index.
func NewDispatcher(index *Index, log *logrus.Entry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		index:   index,
		timeout: DefaultHandlerTimeout,
		log:     log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Index returns the dispatcher's handler index.
func (d *Dispatcher) Index() *Index { return d.index }

// Dispatch delivers one event to all matching handlers.
//
// It returns once every matching handler has settled or timed out. Handler
// errors are logged individually and never propagate to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, kind Kind, ec *Context) {
	if kind == KindCallback && ec.Payload == nil {
		ec.Payload = ParsePayload(ec.Data)
	}

	eventID := uuid.NewString()
	log := d.log.WithFields(logrus.Fields{
		"event": eventID,
		"kind":  kind.String(),
	})

	for _, g := range d.index.groups(kind) {
		var wg sync.WaitGroup
		for _, e := range g.entries {
			hc, ok := d.match(e.handler, ec)
			if !ok {
				continue
			}
			wg.Add(1)
			go func(e indexed, hc *Context) {
				defer wg.Done()
				d.invoke(ctx, log.WithField("plugin", e.owner), e.handler, hc)
			}(e, hc)
		}
		// Join the entire priority group before starting the next one.
		wg.Wait()
	}
}

// match decides whether a handler receives the event and builds its
// per-handler context. Callback handlers get a populated Match when their
// declared name equals the payload's action segment.
func (d *Dispatcher) match(h Handler, ec *Context) (*Context, bool) {
	hc := ec
	if h.Kind == KindCallback && h.Name != "" {
		if ec.Payload == nil || ec.Payload.Command() != h.Name {
			return nil, false
		}
		clone := *ec
		clone.Match = &Match{
			Plugin: ec.Payload.Prefix(),
			Action: ec.Payload.Command(),
			Params: ec.Payload.Params(),
		}
		hc = &clone
	}
	if h.Filter != nil && !h.Filter(hc) {
		return nil, false
	}
	return hc, true
}

// invoke runs one handler with panic recovery and the per-handler timeout.
func (d *Dispatcher) invoke(ctx context.Context, log *logrus.Entry, h Handler, hc *Context) {
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithField("stack", string(debug.Stack())).
					Errorf("handler panic: %v", r)
				done <- ErrHandlerPanic
			}
		}()
		done <- h.Fn(hctx, hc)
	}()

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil && err != ErrHandlerPanic {
			log.WithError(err).Warn("handler failed")
		}
	case <-timer.C:
		// The goroutine keeps running; cancel only signals cooperative
		// handlers. Its eventual result is discarded.
		log.WithError(ErrHandlerTimeout).
			WithField("timeout", d.timeout).Warn("handler timed out")
	case <-ctx.Done():
		log.WithError(ctx.Err()).Warn("dispatch cancelled while handler running")
	}
}
