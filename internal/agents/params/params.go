// Package params reads typed values out of a task context and builds safe
// shell arguments from them.
package params

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// String returns m[key] as a string, or def when absent or empty.
func String(m map[string]any, key, def string) string {
	switch v := m[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case fmt.Stringer:
		if s := v.String(); s != "" {
			return s
		}
	case nil:
	default:
		return fmt.Sprint(v)
	}
	return def
}

// Int returns m[key] as an int. Context decoded from JSON carries numbers
// as float64, so those are accepted along with numeric strings.
func Int(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Bool returns m[key] as a bool.
func Bool(m map[string]any, key string, def bool) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Strings returns m[key] as a string slice. A single string becomes a
// one-element slice.
func Strings(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			out = append(out, fmt.Sprint(e))
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}

// Map returns m[key] as a map, or nil.
func Map(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}

// Maps returns m[key] as a slice of maps, skipping non-map elements.
func Maps(m map[string]any, key string) []map[string]any {
	switch v := m[key].(type) {
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, e := range v {
			if mm, ok := e.(map[string]any); ok {
				out = append(out, mm)
			}
		}
		return out
	}
	return nil
}

// ErrInvalidTarget is returned by Target for values that are not a host
// name, IP address, address range or CIDR block.
var ErrInvalidTarget = errors.New("invalid target")

const maxTargetLen = 253

// Target returns m[key] (or def) as a scan target. Only host, IP and CIDR
// characters are accepted and a leading '-' is refused so the value can
// never be read as a command-line option.
func Target(m map[string]any, key, def string) (string, error) {
	t := strings.TrimSpace(String(m, key, def))
	switch {
	case t == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidTarget)
	case len(t) > maxTargetLen:
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidTarget, maxTargetLen)
	case t[0] == '-':
		return "", fmt.Errorf("%w: %q starts with '-'", ErrInvalidTarget, t)
	}
	for _, r := range t {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune(".-:/_", r):
		default:
			return "", fmt.Errorf("%w: %q contains %q", ErrInvalidTarget, t, r)
		}
	}
	return t, nil
}

// Quote single-quotes s for /bin/sh.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !isSafe(r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("-_./:,=@+%", r)
}

// JSONLines decodes one JSON object per non-empty line, skipping lines
// that do not parse. docker --format '{{json .}}' emits this shape.
func JSONLines(output string) []map[string]any {
	var out []map[string]any
	for line := range strings.SplitSeq(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			out = append(out, obj)
		}
	}
	return out
}
