// Package governor runs the background resource maintenance loop: cooldown
// sweeps, candidate cache upkeep, config cache pruning, and memory
// watermark checks. Everything here is best effort and advisory; the
// runtime stays correct if the governor never runs.
package governor

import (
	"context"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// Default tuning. Overridable through Config.
const (
	DefaultInterval    = time.Minute
	DefaultHeapWarn    = 256 << 20 // bytes
	DefaultRSSWarn     = 512 << 20 // bytes
	DefaultLeakSamples = 5
)

// minSweepHorizon keeps the cooldown sweep from discarding entries that a
// command with a short cooldown could still need.
const minSweepHorizon = time.Minute

// CooldownSweeper drops cooldown stamps older than the horizon.
type CooldownSweeper interface {
	Sweep(maxAge time.Duration) int
}

// CandidateCache is the command lookup cache the governor maintains.
type CandidateCache interface {
	// ClearIfExpired drops everything once the cache clock passes its
	// TTL, reporting whether it fired.
	ClearIfExpired() bool

	// Trim evicts least recently used entries down to capacity.
	Trim()

	Len() int
}

// ConfigPruner drops cached configuration for plugins outside the active
// set.
type ConfigPruner interface {
	Prune(active []string) int
}

// ActiveSet exposes the plugin registry facts the governor needs.
type ActiveSet interface {
	ListActive() []string
	MaxActiveCooldown() time.Duration
}

// Config tunes a Governor. Zero values fall back to the defaults.
type Config struct {
	Interval    time.Duration
	HeapWarn    uint64
	RSSWarn     uint64
	LeakSamples int
}

func (c *Config) fill() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.HeapWarn == 0 {
		c.HeapWarn = DefaultHeapWarn
	}
	if c.RSSWarn == 0 {
		c.RSSWarn = DefaultRSSWarn
	}
	if c.LeakSamples <= 0 {
		c.LeakSamples = DefaultLeakSamples
	}
}

// Governor owns the maintenance loop.
type Governor struct {
	cfg       Config
	cooldowns CooldownSweeper
	cache     CandidateCache
	configs   ConfigPruner
	plugins   ActiveSet
	log       *logrus.Entry

	// readHeap and readRSS are swappable for tests.
	readHeap func() uint64
	readRSS  func() (uint64, bool)

	prevHeap   uint64
	growthRun  int
	leakActive bool
}

// New creates a governor over the given collaborators. Any collaborator
// may be nil; its maintenance step is skipped.
func New(cfg Config, cooldowns CooldownSweeper, cache CandidateCache, configs ConfigPruner, plugins ActiveSet, log *logrus.Entry) *Governor {
	cfg.fill()
	return &Governor{
		cfg:       cfg,
		cooldowns: cooldowns,
		cache:     cache,
		configs:   configs,
		plugins:   plugins,
		log:       log,
		readHeap:  heapAlloc,
		readRSS:   residentSetSize,
	}
}

// Run executes the maintenance loop until the context is cancelled.
func (g *Governor) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	g.log.WithField("interval", g.cfg.Interval).Debug("governor started")
	for {
		select {
		case <-ctx.Done():
			g.log.Debug("governor stopped")
			return
		case <-ticker.C:
			g.Cycle()
		}
	}
}

// Cycle runs one full maintenance pass.
func (g *Governor) Cycle() {
	g.sweepCooldowns()
	g.maintainCache()
	g.pruneConfigs()
	g.checkMemory()
}

func (g *Governor) sweepCooldowns() {
	if g.cooldowns == nil {
		return
	}
	horizon := minSweepHorizon
	if g.plugins != nil {
		if longest := g.plugins.MaxActiveCooldown(); longest > horizon {
			horizon = longest
		}
	}
	if n := g.cooldowns.Sweep(horizon); n > 0 {
		g.log.WithFields(logrus.Fields{
			"swept":   n,
			"horizon": horizon,
		}).Debug("cooldown sweep")
	}
}

func (g *Governor) maintainCache() {
	if g.cache == nil {
		return
	}
	if g.cache.ClearIfExpired() {
		g.log.Debug("command cache expired, cleared")
		return
	}
	g.cache.Trim()
}

func (g *Governor) pruneConfigs() {
	if g.configs == nil {
		return
	}
	var active []string
	if g.plugins != nil {
		active = g.plugins.ListActive()
	}
	if n := g.configs.Prune(active); n > 0 {
		g.log.WithField("pruned", n).Debug("config cache prune")
	}
}

// checkMemory samples the heap and, best effort, the OS resident set, and
// raises advisory warnings on threshold and sustained-growth conditions.
func (g *Governor) checkMemory() {
	heap := g.readHeap()

	if heap > g.cfg.HeapWarn {
		g.log.WithFields(logrus.Fields{
			"heap_bytes": heap,
			"threshold":  g.cfg.HeapWarn,
		}).Warn("heap above watermark")
	}

	if rss, ok := g.readRSS(); ok && rss > g.cfg.RSSWarn {
		g.log.WithFields(logrus.Fields{
			"rss_bytes": rss,
			"threshold": g.cfg.RSSWarn,
		}).Warn("resident set above watermark")
	}

	switch {
	case g.prevHeap == 0:
		// First sample, nothing to compare against.
	case heap > g.prevHeap:
		g.growthRun++
	default:
		g.growthRun = 0
		g.leakActive = false
	}
	g.prevHeap = heap

	if g.growthRun >= g.cfg.LeakSamples && !g.leakActive {
		g.leakActive = true
		g.log.WithFields(logrus.Fields{
			"samples":    g.growthRun,
			"heap_bytes": heap,
		}).Warn("heap grew across consecutive samples, possible leak")
	}
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}
