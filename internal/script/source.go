package script

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/stormbot/internal/event"
	"github.com/dshills/stormbot/internal/plugin"
)

// Source discovers plugins from Lua scripts in a directory. Each .lua file
// gets its own interpreter; the script declares itself by calling
// stormbot.plugin{...} at load time.
type Source struct {
	dir string
	log *logrus.Entry
}

// NewSource creates a script source over dir.
func NewSource(dir string, log *logrus.Entry) *Source {
	return &Source{dir: dir, log: log}
}

// Discover scans the directory and loads every script. A script that fails
// to load or declare itself is logged and skipped; one bad script never
// blocks the rest.
func (s *Source) Discover() ([]plugin.Plugin, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading script dir %s: %w", s.dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lua") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var plugins []plugin.Plugin
	for _, name := range names {
		path := filepath.Join(s.dir, name)
		p, err := loadScript(path)
		if err != nil {
			s.log.WithField("script", path).WithError(err).Warn("plugin script skipped")
			continue
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}

// loadScript runs one script file and captures its declaration.
func loadScript(path string) (*scriptPlugin, error) {
	state := NewState()
	p := &scriptPlugin{state: state, path: path}

	declared := false
	state.RegisterModule("stormbot", map[string]lua.LGFunction{
		"plugin": func(l *lua.LState) int {
			if declared {
				l.RaiseError("stormbot.plugin called twice")
				return 0
			}
			declared = true
			if err := p.fromTable(l.CheckTable(1)); err != nil {
				l.RaiseError("%v", err)
			}
			return 0
		},
	})

	if err := state.DoFile(path); err != nil {
		state.Close()
		return nil, err
	}
	if !declared {
		state.Close()
		return nil, fmt.Errorf("script never called stormbot.plugin")
	}
	return p, nil
}

// fromTable fills the plugin from the declaration table.
func (p *scriptPlugin) fromTable(t *lua.LTable) error {
	name, ok := toGoValue(t.RawGetString("name")).(string)
	if !ok || name == "" {
		return fmt.Errorf("plugin declaration needs a name")
	}
	p.name = name

	if v, ok := toGoValue(t.RawGetString("version")).(string); ok {
		p.version = v
	}
	p.depends = stringsFrom(toGoValue(t.RawGetString("depends")))
	p.permissions = stringsFrom(toGoValue(t.RawGetString("permissions")))
	if defaults, ok := toGoValue(t.RawGetString("config")).(map[string]any); ok {
		p.defaults = defaults
	}

	p.loadFn = functionAt(t, "load")
	p.unloadFn = functionAt(t, "unload")

	if err := p.commandsFromTable(t.RawGetString("commands")); err != nil {
		return err
	}
	return p.handlersFromTable(t.RawGetString("handlers"))
}

func (p *scriptPlugin) commandsFromTable(v lua.LValue) error {
	commands, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}

	var declErr error
	commands.ForEach(func(_, entry lua.LValue) {
		if declErr != nil {
			return
		}
		t, ok := entry.(*lua.LTable)
		if !ok {
			declErr = fmt.Errorf("command declaration is not a table")
			return
		}
		name, _ := toGoValue(t.RawGetString("name")).(string)
		run := functionAt(t, "run")
		if name == "" || run == nil {
			declErr = fmt.Errorf("command declaration needs name and run")
			return
		}

		decl := commandDecl{
			name:    strings.ToLower(name),
			aliases: stringsFrom(toGoValue(t.RawGetString("aliases"))),
			run:     run,
		}
		if perm, ok := toGoValue(t.RawGetString("permission")).(string); ok {
			decl.permission = perm
		}
		switch secs := toGoValue(t.RawGetString("cooldown")).(type) {
		case int64:
			decl.cooldown = time.Duration(secs) * time.Second
		case float64:
			decl.cooldown = time.Duration(secs * float64(time.Second))
		}
		p.commands = append(p.commands, decl)
	})
	return declErr
}

func (p *scriptPlugin) handlersFromTable(v lua.LValue) error {
	handlers, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}

	var declErr error
	handlers.ForEach(func(_, entry lua.LValue) {
		if declErr != nil {
			return
		}
		t, ok := entry.(*lua.LTable)
		if !ok {
			declErr = fmt.Errorf("handler declaration is not a table")
			return
		}
		fn := functionAt(t, "handler")
		if fn == nil {
			declErr = fmt.Errorf("handler declaration needs a handler function")
			return
		}
		kindName, _ := toGoValue(t.RawGetString("kind")).(string)
		kind, err := kindFromName(kindName)
		if err != nil {
			declErr = err
			return
		}

		decl := handlerDecl{kind: kind, fn: fn}
		if prio, ok := toGoValue(t.RawGetString("priority")).(int64); ok {
			decl.priority = int(prio)
		}
		if name, ok := toGoValue(t.RawGetString("name")).(string); ok {
			decl.name = name
		}
		p.handlers = append(p.handlers, decl)
	})
	return declErr
}

func functionAt(t *lua.LTable, key string) *lua.LFunction {
	if fn, ok := t.RawGetString(key).(*lua.LFunction); ok {
		return fn
	}
	return nil
}

func kindFromName(name string) (event.Kind, error) {
	switch name {
	case "message":
		return event.KindMessage, nil
	case "command":
		return event.KindCommandText, nil
	case "callback":
		return event.KindCallback, nil
	default:
		return 0, fmt.Errorf("unknown handler kind %q", name)
	}
}
