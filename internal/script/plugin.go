package script

import (
	"context"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/stormbot/internal/command"
	"github.com/dshills/stormbot/internal/event"
	"github.com/dshills/stormbot/internal/plugin"
)

// commandDecl is one command declared by a script.
type commandDecl struct {
	name       string
	aliases    []string
	permission string
	cooldown   time.Duration
	run        *lua.LFunction
}

// handlerDecl is one event handler declared by a script.
type handlerDecl struct {
	kind     event.Kind
	priority int
	name     string
	fn       *lua.LFunction
}

// scriptPlugin adapts one Lua script declaration to the plugin contract.
// The script's interpreter state is owned here; its mutex serializes all
// dispatch into the script.
type scriptPlugin struct {
	state *State
	path  string

	name        string
	version     string
	depends     []string
	permissions []string
	defaults    map[string]any

	loadFn   *lua.LFunction
	unloadFn *lua.LFunction
	commands []commandDecl
	handlers []handlerDecl
}

var _ plugin.Plugin = (*scriptPlugin)(nil)
var _ plugin.DependencyProvider = (*scriptPlugin)(nil)
var _ plugin.LoadHook = (*scriptPlugin)(nil)
var _ plugin.UnloadHook = (*scriptPlugin)(nil)
var _ plugin.Versioned = (*scriptPlugin)(nil)
var _ plugin.ConfigDefaults = (*scriptPlugin)(nil)

func (p *scriptPlugin) Name() string           { return p.name }
func (p *scriptPlugin) Version() string        { return p.version }
func (p *scriptPlugin) Dependencies() []string { return p.depends }
func (p *scriptPlugin) Permissions() []string  { return p.permissions }

func (p *scriptPlugin) Defaults() map[string]any { return p.defaults }

// Load runs the script's optional load function and wires the host module
// to the granted collaborators.
func (p *scriptPlugin) Load(ctx context.Context, h plugin.Handle) error {
	p.installHostModule(h)
	if p.loadFn == nil {
		return nil
	}
	_, err := p.state.Call(p.loadFn)
	if err != nil {
		return fmt.Errorf("script %s: %w", p.path, err)
	}
	return nil
}

// Unload runs the script's optional unload function.
func (p *scriptPlugin) Unload(ctx context.Context) error {
	if p.unloadFn == nil {
		return nil
	}
	_, err := p.state.Call(p.unloadFn)
	if err != nil {
		return fmt.Errorf("script %s: %w", p.path, err)
	}
	return nil
}

// installHostModule exposes log and config access to the script. Installed
// at load time so a disabled script has no live collaborators.
func (p *scriptPlugin) installHostModule(h plugin.Handle) {
	p.state.RegisterModule("host", map[string]lua.LGFunction{
		"log": func(l *lua.LState) int {
			if h.Log != nil {
				h.Log.Info(l.CheckString(1))
			}
			return 0
		},
		"config": func(l *lua.LState) int {
			if h.Config == nil {
				l.Push(l.NewTable())
				return 1
			}
			cfg, err := h.Config.Get()
			if err != nil {
				l.Push(l.NewTable())
				return 1
			}
			l.Push(toLuaValue(l, cfg))
			return 1
		},
		"save_config": func(l *lua.LState) int {
			if h.Config == nil {
				l.Push(lua.LFalse)
				return 1
			}
			decoded, ok := toGoValue(l.CheckTable(1)).(map[string]any)
			if !ok {
				l.Push(lua.LFalse)
				return 1
			}
			if err := h.Config.Save(decoded); err != nil {
				l.Push(lua.LFalse)
				return 1
			}
			l.Push(lua.LTrue)
			return 1
		},
	})
}

// Commands builds the command specs, each dispatching into the script.
func (p *scriptPlugin) Commands() []command.Spec {
	specs := make([]command.Spec, 0, len(p.commands))
	for _, decl := range p.commands {
		specs = append(specs, command.Spec{
			Name:       decl.name,
			Aliases:    decl.aliases,
			Permission: decl.permission,
			Cooldown:   decl.cooldown,
			Fn:         p.commandFn(decl.run),
		})
	}
	return specs
}

func (p *scriptPlugin) commandFn(run *lua.LFunction) command.HandlerFunc {
	return func(ctx context.Context, cc *command.Context) error {
		var reply string
		err := p.state.Do(func(l *lua.LState) error {
			t := l.NewTable()
			t.RawSetString("command", lua.LString(cc.Command))
			t.RawSetString("args", toLuaValue(l, cc.Args))
			t.RawSetString("content", lua.LString(cc.Content))
			t.RawSetString("raw", lua.LString(cc.Raw))
			t.RawSetString("chat_id", lua.LString(cc.ChatID))
			t.RawSetString("user_id", lua.LString(cc.UserID))

			result, err := p.call(l, run, t)
			if err != nil {
				return err
			}
			if s, ok := result.(lua.LString); ok {
				reply = string(s)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("script %s: %w", p.name, err)
		}
		if reply != "" && cc.Client != nil {
			return cc.Client.SendMessage(ctx, cc.ChatID, reply)
		}
		return nil
	}
}

// Handlers builds the event handlers, each dispatching into the script.
func (p *scriptPlugin) Handlers() []event.Handler {
	handlers := make([]event.Handler, 0, len(p.handlers))
	for _, decl := range p.handlers {
		handlers = append(handlers, event.Handler{
			Kind:     decl.kind,
			Priority: decl.priority,
			Name:     decl.name,
			Fn:       p.handlerFn(decl.fn),
		})
	}
	return handlers
}

func (p *scriptPlugin) handlerFn(fn *lua.LFunction) event.HandlerFunc {
	return func(ctx context.Context, ec *event.Context) error {
		var reply string
		err := p.state.Do(func(l *lua.LState) error {
			t := l.NewTable()
			t.RawSetString("chat_id", lua.LString(ec.ChatID))
			t.RawSetString("user_id", lua.LString(ec.UserID))
			t.RawSetString("text", lua.LString(ec.Text))
			t.RawSetString("data", lua.LString(ec.Data))
			if ec.Match != nil {
				match := l.NewTable()
				match.RawSetString("action", lua.LString(ec.Match.Action))
				params := l.NewTable()
				for i, param := range ec.Match.Params {
					params.RawSetInt(i+1, toLuaValue(l, param))
				}
				match.RawSetString("params", params)
				t.RawSetString("match", match)
			}

			result, err := p.call(l, fn, t)
			if err != nil {
				return err
			}
			if s, ok := result.(lua.LString); ok {
				reply = string(s)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("script %s: %w", p.name, err)
		}
		if reply != "" && ec.Client != nil {
			return ec.Client.SendMessage(ctx, ec.ChatID, reply)
		}
		return nil
	}
}

// call invokes a script function with one argument and returns its first
// result. Must run inside State.Do.
func (p *scriptPlugin) call(l *lua.LState, fn *lua.LFunction, arg lua.LValue) (lua.LValue, error) {
	top := l.GetTop()
	l.Push(fn)
	l.Push(arg)
	if err := l.PCall(1, lua.MultRet, nil); err != nil {
		l.SetTop(top)
		return lua.LNil, err
	}
	nret := l.GetTop() - top
	if nret <= 0 {
		return lua.LNil, nil
	}
	result := l.Get(top + 1)
	l.Pop(nret)
	return result, nil
}
