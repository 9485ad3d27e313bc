package command

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultCommandTimeout bounds one command execution, including the time
// spent waiting behind the same user's in-flight command.
const DefaultCommandTimeout = 30 * time.Second

// Router resolves and executes prefixed commands.
type Router struct {
	provider  Provider
	cache     *Cache
	cooldowns *Cooldowns
	prefix    string
	timeout   time.Duration
	log       *logrus.Entry

	// inflight holds the serialization token of each user's most recently
	// queued command. The token channel is closed when that command
	// settles, letting the next one start. Entries are removed once the
	// chain drains.
	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithCommandTimeout sets the overall per-command timeout.
func WithCommandTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithCache sets the candidate cache. Mainly for sharing with the governor.
func WithCache(c *Cache) RouterOption {
	return func(r *Router) {
		if c != nil {
			r.cache = c
		}
	}
}

// WithCooldowns sets the cooldown table. Mainly for sharing with the
// governor.
func WithCooldowns(c *Cooldowns) RouterOption {
	return func(r *Router) {
		if c != nil {
			r.cooldowns = c
		}
	}
}

// NewRouter creates a command router.
func NewRouter(provider Provider, prefix string, log *logrus.Entry, opts ...RouterOption) *Router {
	r := &Router{
		provider:  provider,
		cache:     NewCache(DefaultCacheTTL, DefaultCacheCapacity),
		cooldowns: NewCooldowns(),
		prefix:    prefix,
		timeout:   DefaultCommandTimeout,
		log:       log,
		inflight:  make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Prefix returns the command prefix the router triggers on.
func (r *Router) Prefix() string { return r.prefix }

// Cache returns the candidate cache for governor maintenance.
func (r *Router) Cache() *Cache { return r.cache }

// Cooldowns returns the cooldown table for governor maintenance.
func (r *Router) Cooldowns() *Cooldowns { return r.cooldowns }

// Route parses and executes prefixed command text.
//
// It returns ErrNotCommand when the text carries no command, ErrNoCommand
// when no ACTIVE plugin declares it, ErrPermissionDenied or *CooldownError
// when no candidate passes policy, and ErrCommandTimeout/ErrQueueTimeout
// on overall timeout. Handler errors are returned as-is.
func (r *Router) Route(ctx context.Context, raw string, cc *Context) error {
	inv, ok := Parse(raw, r.prefix)
	if !ok {
		return ErrNotCommand
	}

	cc.Command = inv.Name
	cc.Args = inv.Args
	cc.Content = inv.Content
	cc.Raw = inv.Raw

	deadline := time.NewTimer(r.timeout)
	defer deadline.Stop()

	// Same-user commands run strictly FIFO: wait for the predecessor's
	// token, bounded by the overall timeout. Cross-user commands never
	// touch each other's tokens.
	release, err := r.acquire(ctx, cc.UserID, deadline.C)
	if err != nil {
		return err
	}
	defer release()

	candidates := r.FindCandidates(inv.Name)
	if len(candidates) == 0 {
		return ErrNoCommand
	}

	selected, policyErr := r.selectCandidate(candidates, cc)
	if policyErr != nil {
		return policyErr
	}

	if err := r.execute(ctx, selected, cc, deadline.C); err != nil {
		return err
	}

	if selected.Spec.Cooldown > 0 {
		r.cooldowns.Stamp(cc.UserID, selected.Spec.Name)
	}
	return nil
}

// FindCandidates returns the ordered candidate list for a command name,
// serving from the cache when fresh and rescanning ACTIVE plugins on a
// miss.
func (r *Router) FindCandidates(name string) []Candidate {
	name = strings.ToLower(name)
	if candidates, ok := r.cache.Get(name); ok {
		return candidates
	}

	var candidates []Candidate
	for _, c := range r.provider.ActiveCommands() {
		if c.Spec.Matches(name) {
			candidates = append(candidates, c)
		}
	}
	r.cache.Put(name, candidates)
	return candidates
}

// selectCandidate checks permission and cooldown for each candidate
// concurrently and picks the first one, in registration order, that passes
// both. When none pass, permission failures take precedence over cooldown
// failures.
func (r *Router) selectCandidate(candidates []Candidate, cc *Context) (Candidate, error) {
	var firstCooldown *CooldownError
	permissionDenied := false

	for _, candidate := range candidates {
		var (
			wg        sync.WaitGroup
			permOK    bool
			remaining time.Duration
			cdOK      bool
		)

		wg.Add(2)
		go func() {
			defer wg.Done()
			permOK = candidate.Spec.Permission == "" ||
				(cc.HasPermission != nil && cc.HasPermission(candidate.Spec.Permission))
		}()
		go func() {
			defer wg.Done()
			remaining, cdOK = r.cooldowns.Check(cc.UserID, candidate.Spec.Name, candidate.Spec.Cooldown)
		}()
		wg.Wait()

		if permOK && cdOK {
			return candidate, nil
		}
		if !permOK {
			permissionDenied = true
		}
		if !cdOK && firstCooldown == nil {
			firstCooldown = &CooldownError{Command: candidate.Spec.Name, Remaining: remaining}
		}
	}

	if permissionDenied {
		return Candidate{}, ErrPermissionDenied
	}
	if firstCooldown != nil {
		return Candidate{}, firstCooldown
	}
	return Candidate{}, ErrNoCommand
}

// execute runs the handler under the overall timeout. Timing out abandons
// the handler goroutine; its result is discarded (soft cancellation, the
// handler context is cancelled for cooperative handlers).
func (r *Router) execute(ctx context.Context, c Candidate, cc *Context, deadline <-chan time.Time) error {
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.WithFields(logrus.Fields{
					"plugin":  c.Plugin,
					"command": c.Spec.Name,
					"stack":   string(debug.Stack()),
				}).Errorf("command handler panic: %v", rec)
				done <- ErrHandlerPanic
			}
		}()
		done <- c.Spec.Fn(hctx, cc)
	}()

	select {
	case err := <-done:
		return err
	case <-deadline:
		r.log.WithFields(logrus.Fields{
			"plugin":  c.Plugin,
			"command": c.Spec.Name,
			"user":    cc.UserID,
		}).Warn("command timed out")
		return ErrCommandTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquire appends this command to the user's serialization chain and waits,
// bounded by the overall timeout, for the predecessor to settle. The
// returned release function settles this command's token and prunes the
// chain entry once it is the tail.
func (r *Router) acquire(ctx context.Context, userID string, deadline <-chan time.Time) (func(), error) {
	token := make(chan struct{})

	r.mu.Lock()
	prev := r.inflight[userID]
	r.inflight[userID] = token
	r.mu.Unlock()

	release := func() {
		close(token)
		r.mu.Lock()
		if r.inflight[userID] == token {
			delete(r.inflight, userID)
		}
		r.mu.Unlock()
	}

	if prev != nil {
		select {
		case <-prev:
		case <-deadline:
			// The chain entry still settles, so successors are not stuck
			// behind a command that never ran.
			release()
			return nil, ErrQueueTimeout
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}
