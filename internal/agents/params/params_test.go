package params

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	m := map[string]any{"a": "x", "empty": "", "n": 5}
	if got := String(m, "a", "d"); got != "x" {
		t.Errorf("got %q", got)
	}
	if got := String(m, "empty", "d"); got != "d" {
		t.Errorf("expected default for empty string, got %q", got)
	}
	if got := String(m, "missing", "d"); got != "d" {
		t.Errorf("expected default, got %q", got)
	}
	if got := String(m, "n", "d"); got != "5" {
		t.Errorf("expected formatted number, got %q", got)
	}
}

func TestInt(t *testing.T) {
	m := map[string]any{
		"int":    3,
		"float":  float64(42),
		"str":    " 7 ",
		"number": json.Number("9"),
		"bad":    "x",
	}
	cases := map[string]int{"int": 3, "float": 42, "str": 7, "number": 9, "bad": -1, "missing": -1}
	for key, want := range cases {
		if got := Int(m, key, -1); got != want {
			t.Errorf("Int(%s) = %d, want %d", key, got, want)
		}
	}
}

func TestBool(t *testing.T) {
	m := map[string]any{"t": true, "s": "true", "bad": "maybe"}
	if !Bool(m, "t", false) || !Bool(m, "s", false) {
		t.Error("expected true values")
	}
	if Bool(m, "bad", false) {
		t.Error("expected default for unparsable value")
	}
}

func TestStringsAndMaps(t *testing.T) {
	m := map[string]any{
		"list":   []any{"a", 1},
		"single": "b",
		"maps":   []any{map[string]any{"k": "v"}, "skip"},
	}
	if got := Strings(m, "list"); !slices.Equal(got, []string{"a", "1"}) {
		t.Errorf("got %v", got)
	}
	if got := Strings(m, "single"); !slices.Equal(got, []string{"b"}) {
		t.Errorf("got %v", got)
	}
	if got := Maps(m, "maps"); len(got) != 1 || got[0]["k"] != "v" {
		t.Errorf("got %v", got)
	}
}

func TestQuote(t *testing.T) {
	cases := map[string]string{
		"":                  "''",
		"10.0.0.1":          "10.0.0.1",
		"scanme.nmap.org":   "scanme.nmap.org",
		"a b":               "'a b'",
		"x; rm -rf /":       "'x; rm -rf /'",
		"it's":              `'it'\''s'`,
		"$(whoami)":         "'$(whoami)'",
		"192.168.1.0/24":    "192.168.1.0/24",
		"nginx:1.27-alpine": "nginx:1.27-alpine",
	}
	for in, want := range cases {
		if got := Quote(in); got != want {
			t.Errorf("Quote(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestTarget(t *testing.T) {
	cases := []struct {
		in      any
		want    string
		wantErr bool
	}{
		{"10.0.0.5", "10.0.0.5", false},
		{" scanme.nmap.org ", "scanme.nmap.org", false},
		{"192.168.1.0/24", "192.168.1.0/24", false},
		{"10.0.0.1-20", "10.0.0.1-20", false},
		{"fe80::1", "fe80::1", false},
		{"my_host.local", "my_host.local", false},
		{nil, "localhost", false},
		{"-oN=/tmp/out", "", true},
		{"-iL", "", true},
		{"--script=exploit", "", true},
		{"host; rm -rf /", "", true},
		{"a b", "", true},
		{"$(whoami)", "", true},
		{"host=x", "", true},
		{strings.Repeat("a", 254), "", true},
	}
	for _, tc := range cases {
		got, err := Target(map[string]any{"target": tc.in}, "target", "localhost")
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidTarget) {
				t.Errorf("Target(%v): err = %v, want ErrInvalidTarget", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("Target(%v) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestJSONLines(t *testing.T) {
	out := `{"Names":"web","State":"running"}
not json

{"Names":"db","State":"exited"}`
	got := JSONLines(out)
	if len(got) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(got))
	}
	if got[1]["Names"] != "db" {
		t.Errorf("unexpected second object: %v", got[1])
	}
}
