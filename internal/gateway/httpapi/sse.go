package httpapi

import (
	"strings"

	"github.com/jkaninda/okapi"

	"github.com/bosco-os/bosco/internal/router"
)

// SSEEvent represents a server-sent event for streaming responses.
type SSEEvent struct {
	Type    string         `json:"type"`              // "intent", "result", "done", "error"
	Content string         `json:"content,omitempty"` // Rendered text.
	Intent  *router.Intent `json:"intent,omitempty"`
	Success bool           `json:"success,omitempty"`
}

// handleCommandStream handles POST /v1/command/stream with SSE responses.
// The parsed intent is sent before the command runs so clients can show
// progress on long workflows.
func (g *Gateway) handleCommandStream(c *okapi.Context) error {
	var req CommandRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return c.AbortBadRequest("text is required")
	}

	in := router.Parse(req.Text)
	c.SSEvent("intent", SSEEvent{Type: "intent", Intent: &in})

	resp, err := g.router.Handle(c.Context(), req.Text)
	if err != nil {
		c.SSEvent("error", SSEEvent{Type: "error", Content: err.Error()})
		return nil
	}
	c.SSEvent("result", SSEEvent{Type: "result", Content: resp.Message, Success: resp.Success})
	c.SSEvent("done", SSEEvent{Type: "done"})
	return nil
}
