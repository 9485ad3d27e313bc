package event

import (
	"reflect"
	"testing"
)

func TestParsePayload_Segments(t *testing.T) {
	p := ParsePayload("feeds:subscribe:42:true:golang")

	if p.Prefix() != "feeds" {
		t.Errorf("Prefix() = %q, want %q", p.Prefix(), "feeds")
	}
	if p.Command() != "subscribe" {
		t.Errorf("Command() = %q, want %q", p.Command(), "subscribe")
	}
	if p.Subcommand() != "42" {
		t.Errorf("Subcommand() = %q, want %q", p.Subcommand(), "42")
	}
	if p.Len() != 5 {
		t.Errorf("Len() = %d, want 5", p.Len())
	}
	if p.Part(10) != "" {
		t.Errorf("Part(10) = %q, want empty", p.Part(10))
	}
	if p.Raw() != "feeds:subscribe:42:true:golang" {
		t.Errorf("Raw() = %q", p.Raw())
	}
}

func TestPayload_Params_Typed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []any
	}{
		{
			name: "mixed types",
			raw:  "p:a:true:false:7:words",
			want: []any{true, false, 7, "words"},
		},
		{
			name: "no params",
			raw:  "p:a",
			want: nil,
		},
		{
			name: "negative number stays string",
			raw:  "p:a:-3",
			want: []any{"-3"},
		},
		{
			name: "empty segment stays string",
			raw:  "p:a:",
			want: []any{""},
		},
		{
			name: "large number",
			raw:  "p:a:123456",
			want: []any{123456},
		},
		{
			name: "digits beyond int range stay string",
			raw:  "p:a:99999999999999999999999999",
			want: []any{"99999999999999999999999999"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePayload(tt.raw).Params()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Params() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindMessage, "message"},
		{KindCommandText, "command-text"},
		{KindCallback, "callback"},
		{Kind(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
