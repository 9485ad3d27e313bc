// Package script hosts Lua plugin scripts: a sandboxed interpreter state
// per script, a Go/Lua value bridge, and a plugin.Source that turns
// declarations made by the scripts into runnable plugins.
package script

import (
	"errors"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// ErrStateClosed is returned when operating on a closed interpreter state.
var ErrStateClosed = errors.New("script: lua state is closed")

// State wraps one gopher-lua interpreter. LState is not goroutine-safe, so
// every entry point takes the state mutex; one script therefore executes
// one command or handler at a time.
type State struct {
	mu     sync.Mutex
	l      *lua.LState
	closed bool
}

// NewState creates an interpreter with the safe base libraries only. The
// io, os, debug, and package libraries stay closed to keep scripts away
// from the host system.
func NewState() *State {
	l := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(l)
	lua.OpenTable(l)
	lua.OpenString(l)
	lua.OpenMath(l)
	return &State{l: l}
}

// RegisterModule installs a named table of Go functions as a global.
func (s *State) RegisterModule(name string, funcs map[string]lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	mod := s.l.SetFuncs(s.l.NewTable(), funcs)
	s.l.SetGlobal(name, mod)
}

// DoFile executes a script file.
func (s *State) DoFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStateClosed
	}
	return s.protect(func() error {
		return s.l.DoFile(path)
	})
}

// Call invokes a Lua function value and returns its first result.
func (s *State) Call(fn *lua.LFunction, args ...lua.LValue) (lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return lua.LNil, ErrStateClosed
	}

	top := s.l.GetTop()
	s.l.Push(fn)
	for _, arg := range args {
		s.l.Push(arg)
	}

	err := s.protect(func() error {
		return s.l.PCall(len(args), lua.MultRet, nil)
	})
	if err != nil {
		s.l.SetTop(top)
		return lua.LNil, err
	}

	nret := s.l.GetTop() - top
	if nret <= 0 {
		return lua.LNil, nil
	}
	result := s.l.Get(top + 1)
	s.l.Pop(nret)
	return result, nil
}

// Do runs fn under the state mutex with panic protection. It is the entry
// point for work that needs direct interpreter access, such as building
// argument tables and calling into script functions.
func (s *State) Do(fn func(l *lua.LState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStateClosed
	}
	return s.protect(func() error {
		return fn(s.l)
	})
}

// protect converts interpreter panics into errors. Must hold the mutex.
func (s *State) protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// Close releases the interpreter. Further calls fail with ErrStateClosed.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.l.Close()
	s.closed = true
}
