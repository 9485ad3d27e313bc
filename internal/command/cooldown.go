package command

import (
	"sync"
	"time"
)

// Cooldowns tracks the last invocation time of cooldown-bearing commands
// per user. Records are removed lazily on the next check past expiry and
// eagerly by the resource governor's sweep.
type Cooldowns struct {
	mu     sync.Mutex
	byUser map[string]map[string]time.Time

	now func() time.Time
}

// NewCooldowns creates an empty cooldown table.
func NewCooldowns() *Cooldowns {
	return &Cooldowns{
		byUser: make(map[string]map[string]time.Time),
		now:    time.Now,
	}
}

// Check reports whether the user may invoke the command now. When the
// cooldown has not elapsed it returns the remaining duration and false.
// Expired records are deleted as a side effect.
func (c *Cooldowns) Check(userID, command string, cooldown time.Duration) (time.Duration, bool) {
	if cooldown <= 0 {
		return 0, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cmds, ok := c.byUser[userID]
	if !ok {
		return 0, true
	}
	last, ok := cmds[command]
	if !ok {
		return 0, true
	}

	elapsed := c.now().Sub(last)
	if elapsed >= cooldown {
		delete(cmds, command)
		if len(cmds) == 0 {
			delete(c.byUser, userID)
		}
		return 0, true
	}
	return cooldown - elapsed, false
}

// Stamp records a successful invocation time for the user and command.
func (c *Cooldowns) Stamp(userID, command string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmds, ok := c.byUser[userID]
	if !ok {
		cmds = make(map[string]time.Time)
		c.byUser[userID] = cmds
	}
	cmds[command] = c.now()
}

// Sweep deletes records older than maxAge and drops emptied per-user maps.
// Returns the number of records removed.
func (c *Cooldowns) Sweep(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-maxAge)
	removed := 0
	for userID, cmds := range c.byUser {
		for command, last := range cmds {
			if last.Before(cutoff) {
				delete(cmds, command)
				removed++
			}
		}
		if len(cmds) == 0 {
			delete(c.byUser, userID)
		}
	}
	return removed
}

// Len returns the number of live cooldown records.
func (c *Cooldowns) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, cmds := range c.byUser {
		n += len(cmds)
	}
	return n
}
