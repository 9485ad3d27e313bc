package script

import (
	"reflect"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestToGoValue(t *testing.T) {
	l := lua.NewState()
	defer l.Close()

	tests := []struct {
		name string
		code string
		want any
	}{
		{"integer number", `return 42`, int64(42)},
		{"fractional number", `return 2.5`, float64(2.5)},
		{"string", `return "hello"`, "hello"},
		{"boolean", `return true`, true},
		{"nil", `return nil`, nil},
		{"array table", `return {"a", "b"}`, []any{"a", "b"}},
		{"map table", `return {x = 1, y = "two"}`, map[string]any{"x": int64(1), "y": "two"}},
		{
			"nested",
			`return {items = {1, 2}, on = true}`,
			map[string]any{"items": []any{int64(1), int64(2)}, "on": true},
		},
		{"sparse array becomes map", `return {[1] = "a", [3] = "c"}`, map[string]any{"1": "a", "3": "c"}},
		{"function dropped", `return function() end`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := l.DoString(tt.code); err != nil {
				t.Fatalf("DoString() error = %v", err)
			}
			got := toGoValue(l.Get(-1))
			l.Pop(1)

			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("toGoValue() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestToGoValueCircularTable(t *testing.T) {
	l := lua.NewState()
	defer l.Close()

	if err := l.DoString(`local t = {name = "loop"}; t.self = t; return t`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	got, ok := toGoValue(l.Get(-1)).(map[string]any)
	if !ok {
		t.Fatalf("toGoValue() = %T, want map", got)
	}
	if got["name"] != "loop" {
		t.Errorf("name = %v, want loop", got["name"])
	}
	if got["self"] != nil {
		t.Errorf("circular reference not cut: self = %v", got["self"])
	}
}

func TestToLuaValueRoundTrip(t *testing.T) {
	l := lua.NewState()
	defer l.Close()

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"string", "hi", "hi"},
		{"int", 7, int64(7)},
		{"float", 1.5, float64(1.5)},
		{"bool", true, true},
		{"nil", nil, nil},
		{"string slice", []string{"a", "b"}, []any{"a", "b"}},
		{"map", map[string]any{"k": "v"}, map[string]any{"k": "v"}},
		{"unsupported type dropped", struct{}{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toGoValue(toLuaValue(l, tt.in))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("round trip = %#v, want %#v", got, tt.want)
			}
		})
	}
}
