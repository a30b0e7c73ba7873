package research

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/bosco-os/bosco/internal/agent"
	"github.com/bosco-os/bosco/internal/agents/params"
)

var skipDirs = map[string]bool{
	".git":         true,
	"vendor":       true,
	"node_modules": true,
	"venv":         true,
	".venv":        true,
	"__pycache__":  true,
}

var languages = map[string]string{
	".go":   "Go",
	".py":   "Python",
	".js":   "JavaScript",
	".ts":   "TypeScript",
	".java": "Java",
	".rs":   "Rust",
	".rb":   "Ruby",
	".c":    "C",
	".h":    "C",
	".cpp":  "C++",
	".cs":   "C#",
	".php":  "PHP",
	".sh":   "Shell",
	".sql":  "SQL",
}

var entryPointNames = map[string]bool{
	"main.go":     true,
	"main.py":     true,
	"__main__.py": true,
	"app.py":      true,
	"index.js":    true,
	"index.ts":    true,
	"server.js":   true,
	"Makefile":    true,
	"Dockerfile":  true,
}

const (
	maxSearchMatches = 50
	maxScanBytes     = 1 << 20
)

func (h *handler) codebase(ctx context.Context, task *agent.Task) (map[string]any, error) {
	c := task.Context
	root := params.String(c, "path", h.cfg.CodebaseRoot)
	target := params.String(c, "target", "")
	kind := params.String(c, "analysis_type", "overview")
	if kind == "overview" && target != "" {
		kind = "search"
	}
	switch kind {
	case "overview":
		return h.overview(ctx, root)
	case "file":
		if target == "" {
			return nil, errors.New("target file required")
		}
		return h.fileInfo(filepath.Join(root, target))
	case "function":
		if target == "" {
			return nil, errors.New("target function required")
		}
		return h.searchCode(ctx, root, funcPattern(target), target)
	case "search":
		if target == "" {
			return nil, errors.New("search target required")
		}
		return h.searchCode(ctx, root, regexp.MustCompile(regexp.QuoteMeta(target)), target)
	default:
		return nil, fmt.Errorf("unknown analysis type: %s", kind)
	}
}

// walkFiles visits regular files under root, skipping vendored and VCS
// directories.
func walkFiles(ctx context.Context, root string, fn func(path string, d fs.DirEntry) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return fn(path, d)
	})
}

func (h *handler) overview(ctx context.Context, root string) (map[string]any, error) {
	byExt := map[string]int{}
	byLang := map[string]int{}
	var entryPoints []string
	files, lines := 0, 0

	err := walkFiles(ctx, root, func(path string, d fs.DirEntry) error {
		files++
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext != "" {
			byExt[ext]++
		}
		if entryPointNames[d.Name()] {
			if rel, err := filepath.Rel(root, path); err == nil {
				entryPoints = append(entryPoints, rel)
			}
		}
		lang, ok := languages[ext]
		if !ok {
			return nil
		}
		n, err := countLines(path)
		if err != nil {
			return nil
		}
		byLang[lang] += n
		lines += n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("analyzing %s: %w", root, err)
	}
	slices.Sort(entryPoints)

	primary := ""
	for _, lang := range slices.Sorted(maps.Keys(byLang)) {
		if primary == "" || byLang[lang] > byLang[primary] {
			primary = lang
		}
	}

	return map[string]any{
		"path":             root,
		"total_files":      files,
		"total_lines":      lines,
		"files_by_type":    byExt,
		"lines_by_lang":    byLang,
		"primary_language": primary,
		"entry_points":     entryPoints,
	}, nil
}

func (h *handler) fileInfo(path string) (map[string]any, error) {
	b, err := h.readFile(path)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	out := map[string]any{
		"file":     path,
		"size":     len(b),
		"lines":    bytes.Count(b, []byte("\n")),
		"language": languages[ext],
	}
	if ext == ".go" || ext == ".py" {
		out["functions"] = declaredFuncs(b)
	}
	return out, nil
}

var declPattern = regexp.MustCompile(`(?m)^\s*(?:func\s+(?:\([^)]*\)\s*)?|def\s+)([A-Za-z_][A-Za-z0-9_]*)`)

func declaredFuncs(b []byte) []string {
	var out []string
	for _, m := range declPattern.FindAllSubmatch(b, -1) {
		out = append(out, string(m[1]))
	}
	return out
}

func funcPattern(name string) *regexp.Regexp {
	q := regexp.QuoteMeta(name)
	return regexp.MustCompile(`(?:func\s+(?:\([^)]*\)\s*)?|def\s+|function\s+)` + q + `\b`)
}

func (h *handler) searchCode(ctx context.Context, root string, re *regexp.Regexp, target string) (map[string]any, error) {
	var matches []map[string]any
	truncated := false
	err := walkFiles(ctx, root, func(path string, d fs.DirEntry) error {
		if _, ok := languages[strings.ToLower(filepath.Ext(d.Name()))]; !ok {
			return nil
		}
		if len(matches) >= maxSearchMatches {
			truncated = true
			return filepath.SkipAll
		}
		found, err := grepFile(path, re, maxSearchMatches-len(matches))
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		for _, f := range found {
			f["file"] = rel
			matches = append(matches, f)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", root, err)
	}
	return map[string]any{
		"target":    target,
		"matches":   matches,
		"count":     len(matches),
		"truncated": truncated,
	}, nil
}

func grepFile(path string, re *regexp.Regexp, limit int) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxScanBytes)
	n := 0
	for sc.Scan() && len(out) < limit {
		n++
		if line := sc.Text(); re.MatchString(line) {
			out = append(out, map[string]any{"line": n, "content": strings.TrimSpace(line)})
		}
	}
	return out, sc.Err()
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxScanBytes)
	n := 0
	for sc.Scan() {
		n++
	}
	return n, sc.Err()
}
