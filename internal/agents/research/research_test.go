package research

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bosco-os/bosco/internal/agent"
)

type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	results []SearchResult
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int) ([]SearchResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	return f.results, f.err
}

var sample = []SearchResult{
	{Title: "Go", Content: "Go is an open source programming language.", Type: "abstract"},
	{Title: "Related", Content: "Go (game)", Type: "related"},
}

func newTestAgent(s Searcher, cfg Config) *agent.Agent {
	return New(s, cfg, nil, agent.Options{})
}

func run(t *testing.T, a *agent.Agent, taskType string, ctx map[string]any) agent.Outcome {
	t.Helper()
	return a.Run(context.Background(), agent.NewTask("test", taskType, agent.PriorityNormal, ctx))
}

func TestCanHandle(t *testing.T) {
	a := newTestAgent(&fakeSearcher{}, Config{})
	for _, tt := range []string{"web_search", "research", "codebase_analysis", "documentation", "fact_check", "summarize", "what_is"} {
		if !a.CanHandle(&agent.Task{Type: tt}) {
			t.Errorf("expected %s to be handled", tt)
		}
	}
	for _, tt := range []string{"docker", "network_scan", ""} {
		if a.CanHandle(&agent.Task{Type: tt}) {
			t.Errorf("expected %q to be rejected", tt)
		}
	}
}

// --- Web search ---

func TestWebSearch(t *testing.T) {
	s := &fakeSearcher{results: sample}
	out := run(t, newTestAgent(s, Config{}), "web_search", map[string]any{"query": "golang"})
	if !out.Success {
		t.Fatalf("search failed: %s", out.Error)
	}
	if out.Result["count"] != 2 {
		t.Errorf("count = %v, want 2", out.Result["count"])
	}
	if len(s.queries) != 1 || s.queries[0] != "golang" {
		t.Errorf("queries = %v", s.queries)
	}
}

func TestWebSearch_RequiresQuery(t *testing.T) {
	out := run(t, newTestAgent(&fakeSearcher{}, Config{}), "web_search", nil)
	if out.Success || out.Error != errQueryRequired.Error() {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestWebSearch_SearcherError(t *testing.T) {
	s := &fakeSearcher{err: errors.New("offline")}
	out := run(t, newTestAgent(s, Config{}), "search", map[string]any{"query": "x"})
	if out.Success || out.Error != "offline" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestWebSearch_NotConfigured(t *testing.T) {
	out := run(t, newTestAgent(nil, Config{}), "web_search", map[string]any{"query": "x"})
	if out.Success || !strings.Contains(out.Error, "not configured") {
		t.Fatalf("outcome = %+v", out)
	}
}

// --- Fact check, explain, compare, general ---

func TestFactCheck(t *testing.T) {
	out := run(t, newTestAgent(&fakeSearcher{results: sample}, Config{}), "fact_check", map[string]any{"claim": "Go has generics"})
	if !out.Success {
		t.Fatalf("fact check failed: %s", out.Error)
	}
	if out.Result["verdict"] != "evidence_found" || out.Result["confidence"] != factCheckConfidence {
		t.Errorf("result = %v", out.Result)
	}

	out = run(t, newTestAgent(&fakeSearcher{}, Config{}), "fact_check", map[string]any{"claim": "nothing"})
	if out.Result["verdict"] != "unverified" || out.Result["confidence"] != 0.0 {
		t.Errorf("result = %v", out.Result)
	}
}

func TestExplain_PrefersAbstract(t *testing.T) {
	s := &fakeSearcher{results: []SearchResult{
		{Content: "related text", Type: "related"},
		{Content: "abstract text", Type: "abstract"},
	}}
	out := run(t, newTestAgent(s, Config{}), "explain", map[string]any{"concept": "TCP"})
	if out.Result["explanation"] != "abstract text" {
		t.Errorf("explanation = %v", out.Result["explanation"])
	}
	if s.queries[0] != "What is TCP" {
		t.Errorf("query = %q", s.queries[0])
	}
}

func TestCompare(t *testing.T) {
	s := &fakeSearcher{results: sample}
	out := run(t, newTestAgent(s, Config{}), "compare", map[string]any{"items": []any{"go", "rust"}})
	if !out.Success {
		t.Fatalf("compare failed: %s", out.Error)
	}
	if len(s.queries) != 2 {
		t.Errorf("queries = %v, want 2", s.queries)
	}

	out = run(t, newTestAgent(s, Config{}), "compare", map[string]any{"items": []any{"go"}})
	if out.Success {
		t.Error("expected failure with a single item")
	}
}

func TestGeneral_FallsBackToTaskType(t *testing.T) {
	s := &fakeSearcher{results: sample}
	out := run(t, newTestAgent(s, Config{}), "learn_kubernetes", nil)
	if !out.Success {
		t.Fatalf("general failed: %s", out.Error)
	}
	if s.queries[0] != "learn kubernetes" {
		t.Errorf("query = %q", s.queries[0])
	}
}

// --- Summarize ---

func TestSummarize_Text(t *testing.T) {
	text := "First one. Second one. Third one. Fourth one."
	out := run(t, newTestAgent(nil, Config{}), "summarize", map[string]any{"text": text})
	if !out.Success {
		t.Fatalf("summarize failed: %s", out.Error)
	}
	if got, want := out.Result["summary"], "First one. Second one. Third one."; got != want {
		t.Errorf("summary = %q, want %q", got, want)
	}
	if out.Result["word_count"] != 8 {
		t.Errorf("word_count = %v", out.Result["word_count"])
	}
}

func TestSummarize_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("Only sentence here"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := run(t, newTestAgent(nil, Config{}), "summarize", map[string]any{"file": path})
	if !out.Success {
		t.Fatalf("summarize failed: %s", out.Error)
	}
	if out.Result["summary"] != "Only sentence here." || out.Result["source"] != path {
		t.Errorf("result = %v", out.Result)
	}
}

func TestSummarize_FileTooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.txt")
	if err := os.WriteFile(path, []byte(strings.Repeat("a", 100)), 0o644); err != nil {
		t.Fatal(err)
	}
	out := run(t, newTestAgent(nil, Config{MaxFileBytes: 10}), "summarize", map[string]any{"file": path})
	if out.Success || !strings.Contains(out.Error, "too large") {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestFirstSentences(t *testing.T) {
	cases := map[string]string{
		"":                 "",
		"One.":             "One.",
		"A. B. C. D. E.":   "A. B. C.",
		"Line\nbreak. Two": "Line break. Two.",
	}
	for in, want := range cases {
		if got := firstSentences(in, 3); got != want {
			t.Errorf("firstSentences(%q) = %q, want %q", in, got, want)
		}
	}
}

// --- Codebase ---

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestCodebase_Overview(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.go":                 "package main\n\nfunc main() {}\n",
		"pkg/util.go":             "package pkg\n\nfunc Helper() {}\n",
		"scripts/run.py":          "def run():\n    pass\n",
		"README.md":               "# readme\n",
		"vendor/dep/dep.go":       "package dep\n",
		"node_modules/x/index.js": "module.exports = 1\n",
	})
	out := run(t, newTestAgent(nil, Config{}), "codebase_analysis", map[string]any{"path": root})
	if !out.Success {
		t.Fatalf("overview failed: %s", out.Error)
	}
	r := out.Result
	if r["total_files"] != 4 {
		t.Errorf("total_files = %v, want 4", r["total_files"])
	}
	if r["total_lines"] != 8 {
		t.Errorf("total_lines = %v, want 8", r["total_lines"])
	}
	if r["primary_language"] != "Go" {
		t.Errorf("primary_language = %v", r["primary_language"])
	}
	eps := r["entry_points"].([]string)
	if len(eps) != 1 || eps[0] != "main.go" {
		t.Errorf("entry_points = %v", eps)
	}
}

func TestCodebase_TargetSearches(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.go": "package a\n\n// uses Widget\nvar x = Widget{}\n",
		"b.go": "package a\n\ntype Widget struct{}\n",
	})
	out := run(t, newTestAgent(nil, Config{}), "codebase", map[string]any{"path": root, "target": "Widget"})
	if !out.Success {
		t.Fatalf("search failed: %s", out.Error)
	}
	if out.Result["count"] != 3 {
		t.Errorf("count = %v, want 3", out.Result["count"])
	}
}

func TestCodebase_Function(t *testing.T) {
	root := writeTree(t, map[string]string{
		"svc.go": "package svc\n\nfunc (s *Server) Start() error { return nil }\n\nfunc other() { Start() }\n",
	})
	out := run(t, newTestAgent(nil, Config{}), "codebase", map[string]any{
		"path": root, "target": "Start", "analysis_type": "function",
	})
	if !out.Success {
		t.Fatalf("function search failed: %s", out.Error)
	}
	matches := out.Result["matches"].([]map[string]any)
	if len(matches) != 1 || matches[0]["line"] != 3 {
		t.Errorf("matches = %v", matches)
	}
}

func TestCodebase_File(t *testing.T) {
	root := writeTree(t, map[string]string{
		"tool.py": "import os\n\ndef alpha():\n    pass\n\ndef beta():\n    pass\n",
	})
	out := run(t, newTestAgent(nil, Config{}), "codebase", map[string]any{
		"path": root, "target": "tool.py", "analysis_type": "file",
	})
	if !out.Success {
		t.Fatalf("file analysis failed: %s", out.Error)
	}
	funcs := out.Result["functions"].([]string)
	if len(funcs) != 2 || funcs[0] != "alpha" || funcs[1] != "beta" {
		t.Errorf("functions = %v", funcs)
	}
	if out.Result["language"] != "Python" {
		t.Errorf("language = %v", out.Result["language"])
	}
}

func TestCodebase_MissingRoot(t *testing.T) {
	out := run(t, newTestAgent(nil, Config{}), "codebase", map[string]any{"path": filepath.Join(t.TempDir(), "nope")})
	if out.Success {
		t.Fatal("expected failure for a missing path")
	}
}

// --- DuckDuckGo client ---

const ddgBody = `{
  "Answer": "42",
  "Heading": "Golang",
  "AbstractText": "Go is a language.",
  "AbstractURL": "https://go.dev",
  "RelatedTopics": [
    {"Text": "Topic one", "FirstURL": "https://a"},
    {"Name": "Group", "Topics": [
      {"Text": "Topic two", "FirstURL": "https://b"},
      {"Text": "Topic three", "FirstURL": "https://c"}
    ]},
    {"Text": "Topic four", "FirstURL": "https://d"}
  ]
}`

func TestDuckDuckGo_Search(t *testing.T) {
	var gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotUA = r.Header.Get("User-Agent")
		if r.URL.Query().Get("format") != "json" {
			t.Errorf("format = %q", r.URL.Query().Get("format"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(ddgBody))
	}))
	defer srv.Close()

	d := NewDuckDuckGo(DuckDuckGoConfig{Endpoint: srv.URL}, nil)
	results, err := d.Search(context.Background(), "go lang", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotQuery != "go lang" || gotUA != "Bosco/1.0" {
		t.Errorf("query = %q, user agent = %q", gotQuery, gotUA)
	}
	// Answer, abstract, then two related topics.
	if len(results) != 4 {
		t.Fatalf("len(results) = %d, want 4: %+v", len(results), results)
	}
	if results[0].Type != "instant_answer" || results[0].Content != "42" {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].URL != "https://go.dev" {
		t.Errorf("results[1] = %+v", results[1])
	}
	if results[3].Content != "Topic two" || results[3].URL != "https://b" {
		t.Errorf("results[3] = %+v", results[3])
	}
}

func TestDuckDuckGo_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewDuckDuckGo(DuckDuckGoConfig{Endpoint: srv.URL}, nil)
	if _, err := d.Search(context.Background(), "x", 5); err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("err = %v, want HTTP 503", err)
	}
}

func TestDuckDuckGo_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	d := NewDuckDuckGo(DuckDuckGoConfig{Endpoint: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	if _, err := d.Search(context.Background(), "slow", 5); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestDuckDuckGo_EmptyQuery(t *testing.T) {
	d := NewDuckDuckGo(DuckDuckGoConfig{}, nil)
	if _, err := d.Search(context.Background(), "", 5); err == nil {
		t.Fatal("expected error for empty query")
	}
}
