package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// SearchResult is one hit from a Searcher.
type SearchResult struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url,omitempty"`
	Type    string `json:"type"` // instant_answer, abstract or related.
}

// Searcher looks up a query on the web.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// DuckDuckGoConfig configures the instant-answer client.
type DuckDuckGoConfig struct {
	Endpoint         string        // Default: https://api.duckduckgo.com/
	Timeout          time.Duration // Default: 10s.
	MaxResponseBytes int64         // Default: 2 MB.
}

const (
	defaultEndpoint         = "https://api.duckduckgo.com/"
	defaultSearchTimeout    = 10 * time.Second
	defaultMaxResponseBytes = 2 << 20
	maxRedirects            = 5
)

// DuckDuckGo queries the DuckDuckGo instant answer API.
type DuckDuckGo struct {
	config DuckDuckGoConfig
	client *http.Client
	logger *slog.Logger
}

// NewDuckDuckGo creates a search client.
func NewDuckDuckGo(cfg DuckDuckGoConfig, logger *slog.Logger) *DuckDuckGo {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSearchTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}
	return &DuckDuckGo{
		config: cfg,
		client: &http.Client{
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects (max %d)", maxRedirects)
				}
				return nil
			},
		},
		logger: logger,
	}
}

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Name     string     `json:"Name"`
	Topics   []ddgTopic `json:"Topics"`
}

type ddgResponse struct {
	Answer        string     `json:"Answer"`
	AbstractText  string     `json:"AbstractText"`
	AbstractURL   string     `json:"AbstractURL"`
	Heading       string     `json:"Heading"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

// Search returns the instant answer, the abstract and up to limit related
// topics.
func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if query == "" {
		return nil, errors.New("empty search query")
	}
	if limit <= 0 {
		limit = 5
	}

	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.config.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "Bosco/1.0")

	d.logger.DebugContext(ctx, "web search", slog.String("query", query))

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.config.MaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var data ddgResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	var results []SearchResult
	if data.Answer != "" {
		results = append(results, SearchResult{Title: "Instant Answer", Content: data.Answer, Type: "instant_answer"})
	}
	if data.AbstractText != "" {
		results = append(results, SearchResult{
			Title:   data.Heading,
			Content: data.AbstractText,
			URL:     data.AbstractURL,
			Type:    "abstract",
		})
	}
	related := 0
	for _, t := range flattenTopics(data.RelatedTopics) {
		if related >= limit {
			break
		}
		results = append(results, SearchResult{
			Title:   truncate(t.Text, 60),
			Content: t.Text,
			URL:     t.FirstURL,
			Type:    "related",
		})
		related++
	}
	return results, nil
}

// flattenTopics expands grouped topics into their members.
func flattenTopics(topics []ddgTopic) []ddgTopic {
	var out []ddgTopic
	for _, t := range topics {
		if len(t.Topics) > 0 {
			out = append(out, flattenTopics(t.Topics)...)
			continue
		}
		if t.Text != "" {
			out = append(out, t)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
