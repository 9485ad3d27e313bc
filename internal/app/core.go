// Package app wires the runtime together: registry, lifecycle manager,
// dispatcher, router, governor, and the script source, owned by one Core
// value rather than package globals.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/dshills/stormbot/internal/command"
	"github.com/dshills/stormbot/internal/config"
	"github.com/dshills/stormbot/internal/event"
	"github.com/dshills/stormbot/internal/governor"
	"github.com/dshills/stormbot/internal/platform"
	"github.com/dshills/stormbot/internal/plugin"
	"github.com/dshills/stormbot/internal/script"
)

// ErrAlreadyRunning is returned when Start is called twice.
var ErrAlreadyRunning = errors.New("app: already running")

// Options configures a Core.
type Options struct {
	// ConfigPath is the runtime TOML configuration file. Optional; a
	// missing file yields the defaults.
	ConfigPath string

	// Client is the chat-platform handle used to send replies.
	Client platform.Client

	// Permission resolves user permission checks. Optional; without it
	// every permission check fails closed.
	Permission platform.PermissionFunc

	// Plugins are compiled-in plugins, registered ahead of the script
	// directory scan.
	Plugins []plugin.Plugin

	// PluginDir overrides the configured script directory when set.
	PluginDir string

	// LogLevel overrides the configured log level when set.
	LogLevel string

	// Log overrides the configured logger. Used by tests.
	Log *logrus.Logger
}

// Core is the bot runtime.
type Core struct {
	cfg        config.Runtime
	log        *logrus.Entry
	client     platform.Client
	permission platform.PermissionFunc

	store      *config.Store
	registry   *plugin.Registry
	manager    *plugin.Manager
	index      *event.Index
	dispatcher *event.Dispatcher
	router     *command.Router
	governor   *governor.Governor
	watcher    *script.Watcher

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds an unstarted Core in dependency order.
func New(opts Options) (*Core, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.PluginDir != "" {
		cfg.PluginDir = opts.PluginDir
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}

	logger := opts.Log
	if logger == nil {
		logger = newLogger(cfg.LogLevel)
	}
	log := logrus.NewEntry(logger)

	core := &Core{
		cfg:        cfg,
		log:        log,
		client:     opts.Client,
		permission: opts.Permission,
	}

	core.store = config.NewStore(cfg.ConfigDir, log)
	core.index = event.NewIndex()
	core.registry = plugin.NewRegistry(log)

	sources := []plugin.Source{
		plugin.NewStaticSource(opts.Plugins...),
		script.NewSource(cfg.PluginDir, log),
	}

	cache := command.NewCache(cfg.CacheTTL.Std(), cfg.CacheCapacity)
	cooldowns := command.NewCooldowns()

	core.manager = plugin.NewManager(plugin.ManagerConfig{
		Registry:  core.registry,
		Index:     core.index,
		Cache:     cache,
		Sources:   sources,
		HandleFor: core.handleFor,
		Log:       log,
	})

	core.dispatcher = event.NewDispatcher(core.index, log,
		event.WithHandlerTimeout(cfg.HandlerTimeout.Std()))

	core.router = command.NewRouter(core.registry, cfg.Prefix, log,
		command.WithCommandTimeout(cfg.CommandTimeout.Std()),
		command.WithCache(cache),
		command.WithCooldowns(cooldowns))

	core.governor = governor.New(governor.Config{
		Interval:    cfg.GovernorInterval.Std(),
		HeapWarn:    uint64(cfg.HeapWarnMB) << 20,
		RSSWarn:     uint64(cfg.RSSWarnMB) << 20,
		LeakSamples: cfg.LeakSamples,
	}, cooldowns, cache, core.store, core.registry, log)

	core.watcher = script.NewWatcher(cfg.PluginDir, log)

	return core, nil
}

// handleFor builds the collaborator bundle handed to one plugin.
func (c *Core) handleFor(p plugin.Plugin) plugin.Handle {
	var defaults map[string]any
	if cd, ok := p.(plugin.ConfigDefaults); ok {
		defaults = cd.Defaults()
	}
	return plugin.Handle{
		Log:        c.log.WithField("plugin", p.Name()),
		Config:     c.store.AccessorFor(p.Name(), defaults),
		Permission: c.permission,
		Client:     c.client,
	}
}

// Manager exposes the lifecycle manager for operator surfaces.
func (c *Core) Manager() *plugin.Manager { return c.manager }

// Start discovers and enables every plugin, then launches the governor
// and the script watcher.
func (c *Core) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	if _, err := c.manager.Reload(ctx); err != nil {
		c.running.Store(false)
		return fmt.Errorf("initial plugin discovery: %w", err)
	}
	for _, err := range c.manager.EnableAll(ctx) {
		c.log.WithError(err).Warn("plugin failed to enable at startup")
	}

	bg, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.governor.Run(bg)
	}()
	go func() {
		defer c.wg.Done()
		c.watcher.Run(bg)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.watchScripts(bg)
	}()

	c.log.WithFields(logrus.Fields{
		"plugins": len(c.registry.List()),
		"active":  len(c.registry.ListActive()),
		"prefix":  c.cfg.Prefix,
	}).Info("runtime started")
	return nil
}

// watchScripts reloads the plugin set when the script directory changes.
func (c *Core) watchScripts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.watcher.Changes():
			c.log.Info("script change, reloading plugins")
			if blocked, err := c.manager.Reload(ctx); err != nil {
				c.log.WithError(err).Error("plugin reload failed")
			} else if len(blocked) > 0 {
				c.log.WithField("blocked", blocked).Warn("plugins blocked after reload")
			}
		}
	}
}

// Shutdown stops background work and disables every plugin.
func (c *Core) Shutdown(ctx context.Context) {
	if !c.running.CompareAndSwap(true, false) {
		return
	}

	c.cancel()
	c.wg.Wait()
	c.manager.DisableAll(ctx)
	c.log.Info("runtime stopped")
}

// HandleMessage is the inbound entry point for chat messages. Text carrying
// the command prefix is routed as a command and also dispatched to
// command-text handlers; everything else goes to message handlers.
func (c *Core) HandleMessage(ctx context.Context, msg *platform.Message) {
	ec := &event.Context{
		Client:        c.client,
		ChatID:        msg.ChatID,
		UserID:        msg.UserID,
		HasPermission: c.permissionCheck(msg.UserID),
		Message:       msg,
		Text:          msg.Text,
	}

	if !strings.HasPrefix(msg.Text, c.cfg.Prefix) {
		c.dispatcher.Dispatch(ctx, event.KindMessage, ec)
		return
	}

	c.dispatcher.Dispatch(ctx, event.KindCommandText, ec)

	cc := &command.Context{
		Client:        c.client,
		ChatID:        msg.ChatID,
		UserID:        msg.UserID,
		HasPermission: c.permissionCheck(msg.UserID),
		Message:       msg,
	}
	if err := c.router.Route(ctx, msg.Text, cc); err != nil {
		c.reportCommandError(ctx, msg.ChatID, err)
	}
}

// HandleCallback is the inbound entry point for callback queries.
func (c *Core) HandleCallback(ctx context.Context, cb *platform.Callback) {
	ec := &event.Context{
		Client:        c.client,
		ChatID:        cb.ChatID,
		UserID:        cb.UserID,
		HasPermission: c.permissionCheck(cb.UserID),
		Data:          cb.Data,
	}
	c.dispatcher.Dispatch(ctx, event.KindCallback, ec)
}

func (c *Core) permissionCheck(userID string) func(string) bool {
	return func(permission string) bool {
		if c.permission == nil {
			return false
		}
		return c.permission(userID, permission)
	}
}

// reportCommandError turns user-facing routing failures into chat replies
// and keeps the internal ones in the log.
func (c *Core) reportCommandError(ctx context.Context, chatID string, err error) {
	var cdErr *command.CooldownError
	switch {
	case errors.Is(err, command.ErrNotCommand), errors.Is(err, command.ErrNoCommand):
		// Unknown or malformed commands are ignored, like any other chat
		// noise.
		c.log.WithError(err).Debug("command not routed")
	case errors.As(err, &cdErr):
		c.reply(ctx, chatID, fmt.Sprintf("Command %s is on cooldown, try again in %ds.",
			cdErr.Command, cdErr.RemainingSeconds()))
	case errors.Is(err, command.ErrPermissionDenied):
		c.reply(ctx, chatID, "You don't have permission to use that command.")
	case errors.Is(err, command.ErrCommandTimeout), errors.Is(err, command.ErrQueueTimeout):
		c.log.WithError(err).Warn("command timed out")
		c.reply(ctx, chatID, "That command took too long, please try again.")
	default:
		c.log.WithError(err).Error("command failed")
	}
}

func (c *Core) reply(ctx context.Context, chatID, text string) {
	if c.client == nil {
		return
	}
	if err := c.client.SendMessage(ctx, chatID, text); err != nil {
		c.log.WithError(err).Warn("reply failed")
	}
}
