package script

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/stormbot/internal/command"
	"github.com/dshills/stormbot/internal/event"
	"github.com/dshills/stormbot/internal/plugin"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("writing script: %v", err)
	}
}

// fakeClient records sent messages.
type fakeClient struct {
	chatIDs []string
	texts   []string
}

func (c *fakeClient) SendMessage(ctx context.Context, chatID, text string) error {
	c.chatIDs = append(c.chatIDs, chatID)
	c.texts = append(c.texts, text)
	return nil
}

const diceScript = `
stormbot.plugin{
	name = "Dice",
	version = "1.2.0",
	depends = {"storage"},
	permissions = {"dice.roll"},
	config = { sides = 6 },
	commands = {
		{
			name = "Roll",
			aliases = {"r"},
			permission = "dice.roll",
			cooldown = 5,
			run = function(ctx)
				return "rolled " .. ctx.args[1] .. " for " .. ctx.user_id
			end,
		},
	},
	handlers = {
		{
			kind = "message",
			priority = 10,
			handler = function(ev)
				return "saw " .. ev.text
			end,
		},
	},
}
`

func discoverOne(t *testing.T, dir string) plugin.Plugin {
	t.Helper()
	src := NewSource(dir, testLog())
	plugins, err := src.Discover()
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(plugins) != 1 {
		t.Fatalf("Discover() found %d plugins, want 1", len(plugins))
	}
	return plugins[0]
}

func TestSourceDiscoverDeclaration(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "dice.lua", diceScript)
	p := discoverOne(t, dir)

	if p.Name() != "Dice" {
		t.Errorf("Name() = %q, want Dice", p.Name())
	}
	if v, ok := p.(plugin.Versioned); !ok || v.Version() != "1.2.0" {
		t.Errorf("Version() = %v, want 1.2.0", p)
	}
	if dp, ok := p.(plugin.DependencyProvider); !ok || len(dp.Dependencies()) != 1 || dp.Dependencies()[0] != "storage" {
		t.Errorf("Dependencies() wrong: %v", p)
	}
	if perms := p.Permissions(); len(perms) != 1 || perms[0] != "dice.roll" {
		t.Errorf("Permissions() = %v, want [dice.roll]", perms)
	}
	if cd, ok := p.(plugin.ConfigDefaults); !ok || cd.Defaults()["sides"] != int64(6) {
		t.Errorf("Defaults() wrong: %v", p)
	}

	specs := p.Commands()
	if len(specs) != 1 {
		t.Fatalf("Commands() returned %d specs, want 1", len(specs))
	}
	spec := specs[0]
	if spec.Name != "roll" {
		t.Errorf("command name = %q, want roll (lower cased)", spec.Name)
	}
	if len(spec.Aliases) != 1 || spec.Aliases[0] != "r" {
		t.Errorf("aliases = %v, want [r]", spec.Aliases)
	}
	if spec.Permission != "dice.roll" {
		t.Errorf("permission = %q", spec.Permission)
	}
	if spec.Cooldown != 5*time.Second {
		t.Errorf("cooldown = %v, want 5s", spec.Cooldown)
	}

	handlers := p.Handlers()
	if len(handlers) != 1 {
		t.Fatalf("Handlers() returned %d, want 1", len(handlers))
	}
	if handlers[0].Kind != event.KindMessage || handlers[0].Priority != 10 {
		t.Errorf("handler = %+v, want message kind priority 10", handlers[0])
	}
}

func TestSourceSkipsBrokenScripts(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "broken.lua", `this is not lua ][`)
	writeScript(t, dir, "silent.lua", `local x = 1`)
	writeScript(t, dir, "readme.txt", `not a script`)
	writeScript(t, dir, "good.lua", `stormbot.plugin{ name = "good" }`)

	p := discoverOne(t, dir)
	if p.Name() != "good" {
		t.Errorf("Name() = %q, want good", p.Name())
	}
}

func TestSourceMissingDir(t *testing.T) {
	src := NewSource(filepath.Join(t.TempDir(), "absent"), testLog())
	plugins, err := src.Discover()
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(plugins) != 0 {
		t.Errorf("Discover() = %v, want none", plugins)
	}
}

func TestScriptCommandDispatch(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "dice.lua", diceScript)
	p := discoverOne(t, dir)

	client := &fakeClient{}
	cc := &command.Context{
		Client:  client,
		ChatID:  "chat-9",
		UserID:  "user-1",
		Command: "roll",
		Args:    []string{"d20"},
	}
	if err := p.Commands()[0].Fn(context.Background(), cc); err != nil {
		t.Fatalf("command Fn error = %v", err)
	}

	if len(client.texts) != 1 {
		t.Fatalf("sent %d messages, want 1", len(client.texts))
	}
	if client.texts[0] != "rolled d20 for user-1" {
		t.Errorf("reply = %q", client.texts[0])
	}
	if client.chatIDs[0] != "chat-9" {
		t.Errorf("reply chat = %q, want chat-9", client.chatIDs[0])
	}
}

func TestScriptHandlerDispatch(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "dice.lua", diceScript)
	p := discoverOne(t, dir)

	client := &fakeClient{}
	ec := &event.Context{
		Client: client,
		ChatID: "chat-1",
		UserID: "user-2",
		Text:   "hello",
	}
	if err := p.Handlers()[0].Fn(context.Background(), ec); err != nil {
		t.Fatalf("handler Fn error = %v", err)
	}
	if len(client.texts) != 1 || client.texts[0] != "saw hello" {
		t.Errorf("replies = %v, want [saw hello]", client.texts)
	}
}

func TestScriptCommandError(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "bad.lua", `
stormbot.plugin{
	name = "bad",
	commands = {
		{ name = "boom", run = function(ctx) error("kaput") end },
	},
}
`)
	p := discoverOne(t, dir)

	err := p.Commands()[0].Fn(context.Background(), &command.Context{})
	if err == nil {
		t.Fatal("command Fn returned nil for a failing script")
	}
}

// fakeAccessor is an in-memory plugin.ConfigAccessor.
type fakeAccessor struct {
	values map[string]any
	saved  map[string]any
}

func (a *fakeAccessor) Get() (map[string]any, error) { return a.values, nil }
func (a *fakeAccessor) Save(cfg map[string]any) error {
	a.saved = cfg
	return nil
}

func TestScriptHostModule(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "cfg.lua", `
stormbot.plugin{
	name = "cfg",
	load = function()
		host.log("loading")
	end,
	commands = {
		{
			name = "mode",
			run = function(ctx)
				local cfg = host.config()
				cfg.mode = ctx.args[1]
				host.save_config(cfg)
				return "mode is " .. cfg.mode
			end,
		},
	},
}
`)
	p := discoverOne(t, dir)

	accessor := &fakeAccessor{values: map[string]any{"mode": "quiet"}}
	lh, ok := p.(plugin.LoadHook)
	if !ok {
		t.Fatal("script plugin does not expose a load hook")
	}
	if err := lh.Load(context.Background(), plugin.Handle{Log: testLog(), Config: accessor}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	client := &fakeClient{}
	cc := &command.Context{Client: client, ChatID: "c", Args: []string{"loud"}}
	if err := p.Commands()[0].Fn(context.Background(), cc); err != nil {
		t.Fatalf("command Fn error = %v", err)
	}

	if accessor.saved == nil || accessor.saved["mode"] != "loud" {
		t.Errorf("saved config = %v, want mode=loud", accessor.saved)
	}
	if len(client.texts) != 1 || client.texts[0] != "mode is loud" {
		t.Errorf("replies = %v", client.texts)
	}
}

func TestScriptUnloadHook(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "hooked.lua", `
down = false
stormbot.plugin{
	name = "hooked",
	unload = function() down = true end,
	commands = {
		{ name = "down", run = function(ctx) return tostring(down) end },
	},
}
`)
	p := discoverOne(t, dir)

	uh, ok := p.(plugin.UnloadHook)
	if !ok {
		t.Fatal("script plugin does not expose an unload hook")
	}
	if err := uh.Unload(context.Background()); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}

	client := &fakeClient{}
	if err := p.Commands()[0].Fn(context.Background(), &command.Context{Client: client, ChatID: "c"}); err != nil {
		t.Fatalf("command Fn error = %v", err)
	}
	if len(client.texts) != 1 || client.texts[0] != "true" {
		t.Errorf("replies = %v, want [true]", client.texts)
	}
}
