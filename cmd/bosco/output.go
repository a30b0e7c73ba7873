package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// errFailed reports a task or workflow failure that has already been
// printed. main exits 1 without repeating it.
var errFailed = errors.New("failed")

var outputJSON bool

// printResult writes v as indented JSON when --json is set and text
// otherwise, then maps success to the exit status.
func printResult(v any, text string, success bool) error {
	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return err
		}
	} else {
		fmt.Println(text)
	}
	if !success {
		return errFailed
	}
	return nil
}

// parseParams parses key=value pairs into strings.
func parseParams(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q (want key=value)", p)
		}
		out[k] = v
	}
	return out, nil
}

// parseContext parses key=value pairs, decoding each value as a YAML
// scalar so "true" and "3" arrive as a bool and an int.
func parseContext(pairs []string) (map[string]any, error) {
	params, err := parseParams(pairs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		var decoded any
		if err := yaml.Unmarshal([]byte(v), &decoded); err != nil || decoded == nil {
			out[k] = v
			continue
		}
		switch decoded.(type) {
		case string, bool, int, float64:
			out[k] = decoded
		default:
			out[k] = v
		}
	}
	return out, nil
}
