// Package cli implements the interactive Bosco shell.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bosco-os/bosco/internal/router"
)

const prompt = "bosco> "

// Handler runs one free-text command.
type Handler interface {
	Handle(ctx context.Context, text string) (router.Response, error)
}

// Gateway is the interactive read-eval-print loop.
type Gateway struct {
	handler   Handler
	in        io.Reader
	out       io.Writer
	logger    *slog.Logger
	done      chan struct{} // closed by Stop
	sessionID string
}

// NewGateway creates a shell reading commands from in and writing replies to
// out. logger may be nil.
func NewGateway(h Handler, in io.Reader, out io.Writer, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Gateway{
		handler:   h,
		in:        in,
		out:       out,
		logger:    logger,
		done:      make(chan struct{}),
		sessionID: uuid.New().String(),
	}
}

// Start runs the REPL. Blocks until ctx is cancelled, Stop is called, the
// input ends, or the user types "exit".
func (g *Gateway) Start(ctx context.Context) error {
	scanner := bufio.NewScanner(g.in)

	fmt.Fprintln(g.out, "Bosco multi-agent shell")
	fmt.Fprintln(g.out, `Type a command, "help" for examples, or "exit" to quit.`)
	fmt.Fprintln(g.out)

	for {
		fmt.Fprint(g.out, prompt)

		select {
		case <-ctx.Done():
			fmt.Fprintln(g.out, "\nShutting down.")
			return nil
		case <-g.done:
			fmt.Fprintln(g.out, "\nShutting down.")
			return nil
		default:
		}

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch strings.ToLower(line) {
		case "exit", "quit":
			fmt.Fprintln(g.out, "Goodbye.")
			return nil
		}

		g.logger.DebugContext(ctx, "shell command",
			slog.String("session_id", g.sessionID),
			slog.String("command", line),
		)

		resp, err := g.handler.Handle(ctx, line)
		if err != nil {
			g.logger.ErrorContext(ctx, "command failed",
				slog.String("session_id", g.sessionID),
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(g.out, "Error: %v\n\n", err)
			continue
		}

		fmt.Fprintln(g.out, resp.Message)
		fmt.Fprintln(g.out)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	fmt.Fprintln(g.out)
	return nil
}

// Stop signals the REPL to shut down after the current command.
func (g *Gateway) Stop(_ context.Context) error {
	select {
	case <-g.done:
	default:
		close(g.done)
	}
	return nil
}
