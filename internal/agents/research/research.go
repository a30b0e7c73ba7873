// Package research implements the research agent: web search, codebase
// analysis, documentation lookup, fact checking, summaries, comparisons
// and explanations.
package research

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bosco-os/bosco/internal/agent"
	"github.com/bosco-os/bosco/internal/agents/params"
)

// ID is the registry id of the research agent.
const ID = "research_agent"

// Keywords are matched exactly or as substrings of the task type.
var Keywords = agent.KeywordMatcher{
	"search", "research", "lookup", "find", "analyze",
	"documentation", "fact_check", "summarize", "compare",
	"web", "codebase", "learn", "explain", "what_is", "how_to",
}

var capabilities = []string{
	"web_search",
	"codebase_analysis",
	"documentation_lookup",
	"fact_checking",
	"summarization",
	"comparison",
	"explanation",
}

var errQueryRequired = errors.New("query required")

// Config tunes the research agent.
type Config struct {
	SearchLimit  int    // Related topics per search. Default: 5.
	CodebaseRoot string // Default path for codebase analysis. Default: ".".
	MaxFileBytes int64  // Largest file read for summaries. Default: 1 MB.
}

func (c Config) withDefaults() Config {
	if c.SearchLimit <= 0 {
		c.SearchLimit = 5
	}
	if c.CodebaseRoot == "" {
		c.CodebaseRoot = "."
	}
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = 1 << 20
	}
	return c
}

type handler struct {
	searcher Searcher
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	dispatch *agent.Dispatcher
}

// New creates the research agent. searcher may be nil, in which case web
// searches fail.
func New(searcher Searcher, cfg Config, logger *slog.Logger, opts agent.Options) *agent.Agent {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &handler{
		searcher: searcher,
		cfg:      cfg.withDefaults(),
		logger:   logger.With(slog.String("agent", ID)),
		now:      time.Now,
	}
	h.dispatch = agent.NewDispatcher(
		agent.Route{Keywords: []string{"search", "find", "lookup"}, Handle: h.webSearch},
		agent.Route{Keywords: []string{"codebase", "code"}, Handle: h.codebase},
		agent.Route{Keywords: []string{"doc"}, Handle: h.documentation},
		agent.Route{Keywords: []string{"fact", "verify"}, Handle: h.factCheck},
		agent.Route{Keywords: []string{"summarize"}, Handle: h.summarize},
		agent.Route{Keywords: []string{"compare"}, Handle: h.compare},
		agent.Route{Keywords: []string{"explain", "what_is", "how_to"}, Handle: h.explain},
	).WithFallback(h.general)
	if opts.Logger == nil {
		opts.Logger = logger
	}
	return agent.New(agent.Info{
		ID:           ID,
		Name:         "Research Agent",
		Description:  "Information gathering, codebase analysis and research",
		Capabilities: capabilities,
	}, h, opts)
}

func (h *handler) CanHandle(task *agent.Task) bool { return Keywords.Match(task.Type) }

func (h *handler) ExecuteTask(ctx context.Context, task *agent.Task) (map[string]any, error) {
	h.logger.InfoContext(ctx, "executing research task",
		slog.String("task_id", task.ID),
		slog.String("task_type", task.Type),
	)
	return h.dispatch.Dispatch(ctx, task)
}

// query reads the search text from the usual context keys.
func query(c map[string]any) string {
	for _, key := range []string{"query", "topic", "target", "concept"} {
		if v := strings.TrimSpace(params.String(c, key, "")); v != "" {
			return v
		}
	}
	return ""
}

func (h *handler) search(ctx context.Context, q string) ([]SearchResult, error) {
	if h.searcher == nil {
		return nil, errors.New("web search is not configured")
	}
	return h.searcher.Search(ctx, q, h.cfg.SearchLimit)
}

func (h *handler) webSearch(ctx context.Context, task *agent.Task) (map[string]any, error) {
	q := query(task.Context)
	if q == "" {
		return nil, errQueryRequired
	}
	results, err := h.search(ctx, q)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"query":     q,
		"results":   results,
		"count":     len(results),
		"source":    "duckduckgo",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}, nil
}

func (h *handler) documentation(ctx context.Context, task *agent.Task) (map[string]any, error) {
	c := task.Context
	tech := params.String(c, "technology", "")
	topic := params.String(c, "topic", "")
	if tech == "" && topic == "" {
		return nil, errors.New("technology or topic required")
	}
	q := strings.TrimSpace(tech + " " + topic + " documentation")
	results, err := h.search(ctx, q)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"technology": tech,
		"topic":      topic,
		"results":    results,
	}, nil
}

// factCheckConfidence is reported when search returns any evidence.
const factCheckConfidence = 0.6

func (h *handler) factCheck(ctx context.Context, task *agent.Task) (map[string]any, error) {
	claim := strings.TrimSpace(params.String(task.Context, "claim", ""))
	if claim == "" {
		return nil, errors.New("claim required")
	}
	results, err := h.search(ctx, claim)
	if err != nil {
		return nil, err
	}
	verdict, confidence := "unverified", 0.0
	if len(results) > 0 {
		verdict, confidence = "evidence_found", factCheckConfidence
	}
	return map[string]any{
		"claim":      claim,
		"verdict":    verdict,
		"confidence": confidence,
		"evidence":   results,
		"note":       "Review the evidence before relying on this result.",
	}, nil
}

func (h *handler) summarize(_ context.Context, task *agent.Task) (map[string]any, error) {
	c := task.Context
	text := params.String(c, "text", "")
	source := "text"
	if file := params.String(c, "file", ""); file != "" && text == "" {
		b, err := h.readFile(file)
		if err != nil {
			return nil, err
		}
		text, source = string(b), file
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text or file required")
	}
	return map[string]any{
		"source":          source,
		"summary":         firstSentences(text, 3),
		"original_length": len(text),
		"word_count":      len(strings.Fields(text)),
	}, nil
}

func (h *handler) readFile(name string) ([]byte, error) {
	info, err := os.Stat(name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if info.Size() > h.cfg.MaxFileBytes {
		return nil, fmt.Errorf("%s is too large (%d bytes, max %d)", name, info.Size(), h.cfg.MaxFileBytes)
	}
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return b, nil
}

func (h *handler) compare(ctx context.Context, task *agent.Task) (map[string]any, error) {
	items := params.Strings(task.Context, "items")
	if len(items) < 2 {
		return nil, errors.New("at least two items required")
	}
	found := make(map[string]any, len(items))
	for _, item := range items {
		results, err := h.search(ctx, item)
		if err != nil {
			return nil, fmt.Errorf("searching %q: %w", item, err)
		}
		found[item] = results
	}
	return map[string]any{
		"items":    items,
		"criteria": params.Strings(task.Context, "criteria"),
		"results":  found,
	}, nil
}

func (h *handler) explain(ctx context.Context, task *agent.Task) (map[string]any, error) {
	concept := query(task.Context)
	if concept == "" {
		return nil, errors.New("concept required")
	}
	results, err := h.search(ctx, "What is "+concept)
	if err != nil {
		return nil, err
	}
	explanation := ""
	for _, r := range results {
		if r.Type == "instant_answer" || r.Type == "abstract" {
			explanation = r.Content
			break
		}
	}
	if explanation == "" && len(results) > 0 {
		explanation = results[0].Content
	}
	return map[string]any{
		"concept":     concept,
		"explanation": explanation,
		"sources":     results,
	}, nil
}

// general answers any research-flavored task type no route claims.
func (h *handler) general(ctx context.Context, task *agent.Task) (map[string]any, error) {
	q := query(task.Context)
	if q == "" {
		q = strings.ReplaceAll(task.Type, "_", " ")
	}
	results, err := h.search(ctx, q)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"task_type": task.Type,
		"query":     q,
		"results":   results,
	}, nil
}

// firstSentences returns at most n sentences of text, split on ". ".
func firstSentences(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	var out []string
	for s := range strings.SplitSeq(text, ". ") {
		if len(out) == n {
			break
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.TrimSuffix(s, "."))
		}
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, ". ") + "."
}
