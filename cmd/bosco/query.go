package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
)

// Exit codes for the query command.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitUnauthorized = 2
	ExitUnavailable  = 3
)

var (
	queryMessage   string
	queryServerURL string
	queryAPIKey    string
	queryStream    bool
	queryTimeout   int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Send a free-text command to a running Bosco server",
	Long: `Send a command to the HTTP API of a running "bosco serve".

Examples:
  bosco query -m "scan 10.0.0.1"
  bosco query -m "pentest 10.0.0.5" --stream

Exit codes:
  0  success
  1  command failed
  2  unauthorized
  3  server unavailable`,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryMessage, "message", "m", "", "command to send (required)")
	queryCmd.Flags().StringVar(&queryServerURL, "server-url", "http://localhost:8080", "server HTTP API URL (or BOSCO_SERVER_URL env)")
	queryCmd.Flags().StringVar(&queryAPIKey, "api-key", "", "API key (or BOSCO_API_KEY env)")
	queryCmd.Flags().BoolVar(&queryStream, "stream", false, "stream progress via SSE")
	queryCmd.Flags().IntVar(&queryTimeout, "timeout", 900, "timeout in seconds")

	_ = queryCmd.MarkFlagRequired("message")
}

func runQuery(_ *cobra.Command, _ []string) error {
	if queryMessage == "" {
		return fmt.Errorf("message is required: use -m flag")
	}
	apiKey := goutils.Env("BOSCO_API_KEY", queryAPIKey)
	serverURL := strings.TrimRight(goutils.Env("BOSCO_SERVER_URL", queryServerURL), "/")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(queryTimeout)*time.Second)
	defer cancel()

	var code int
	if queryStream {
		code = runQuerySSE(ctx, serverURL, apiKey, os.Stdout, os.Stderr)
	} else {
		code = runQueryHTTP(ctx, serverURL, apiKey, os.Stdout, os.Stderr)
	}
	if code != ExitSuccess {
		os.Exit(code)
	}
	return nil
}

func newQueryRequest(ctx context.Context, url, apiKey string) (*http.Request, error) {
	body, _ := json.Marshal(map[string]string{"text": queryMessage})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req, nil
}

// statusExitCode maps a non-200 response to an exit code and prints why.
func statusExitCode(resp *http.Response, stderr io.Writer) int {
	body, _ := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		fmt.Fprintln(stderr, "Error: unauthorized (check API key)")
		return ExitUnauthorized
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		fmt.Fprintf(stderr, "Error: server unavailable (%d)\n", resp.StatusCode)
		return ExitUnavailable
	default:
		fmt.Fprintf(stderr, "Error: server returned %d: %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
		return ExitFailure
	}
}

// runQueryHTTP sends a synchronous command and prints the rendered result.
func runQueryHTTP(ctx context.Context, serverURL, apiKey string, stdout, stderr io.Writer) int {
	req, err := newQueryRequest(ctx, serverURL+"/v1/command", apiKey)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitFailure
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(stderr, "Error: cannot reach server at %s: %v\n", serverURL, err)
		return ExitUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusExitCode(resp, stderr)
	}
	var result struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		fmt.Fprintf(stderr, "Error: decoding response: %v\n", err)
		return ExitFailure
	}
	fmt.Fprintln(stdout, result.Message)
	if !result.Success {
		return ExitFailure
	}
	return ExitSuccess
}

// runQuerySSE sends a streaming command and prints events as they arrive.
func runQuerySSE(ctx context.Context, serverURL, apiKey string, stdout, stderr io.Writer) int {
	req, err := newQueryRequest(ctx, serverURL+"/v1/command/stream", apiKey)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitFailure
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(stderr, "Error: cannot reach server at %s: %v\n", serverURL, err)
		return ExitUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusExitCode(resp, stderr)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)
	exitCode := ExitFailure

	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}

		var event struct {
			Type    string `json:"type"`
			Content string `json:"content"`
			Success bool   `json:"success"`
			Intent  *struct {
				Name string `json:"name"`
			} `json:"intent"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "intent":
			if event.Intent != nil {
				fmt.Fprintf(stderr, "[intent: %s]\n", event.Intent.Name)
			}
		case "result":
			fmt.Fprintln(stdout, event.Content)
			if event.Success {
				exitCode = ExitSuccess
			}
		case "error":
			fmt.Fprintf(stderr, "Error: %s\n", event.Content)
			return ExitFailure
		case "done":
			return exitCode
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(stderr, "Error: stream interrupted: %v\n", err)
	}
	return ExitFailure
}
