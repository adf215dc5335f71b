// Package websearch implements the web fetch tool.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prismlabs/prism/internal/tools"
)

const (
	maxBodyBytes   = 500000
	defaultTimeout = 30 * time.Second
	userAgent      = "prism/1.0"
)

// FetchTool retrieves the contents of an HTTP(S) URL.
type FetchTool struct {
	client *http.Client
}

type fetchParams struct {
	URL string `json:"url" jsonschema:"required,description=HTTP or HTTPS URL to fetch"`
}

// NewFetchTool creates a fetch tool with a bounded HTTP client.
func NewFetchTool() *FetchTool {
	return &FetchTool{
		client: &http.Client{Timeout: defaultTimeout},
	}
}

// Name returns the tool name.
func (t *FetchTool) Name() string {
	return "web_fetch"
}

// Description returns the tool description.
func (t *FetchTool) Description() string {
	return "Fetch the contents of a URL. Returns the response body as text, truncated if large."
}

// Schema returns the JSON schema for the tool parameters.
func (t *FetchTool) Schema() json.RawMessage {
	return tools.ReflectSchema(&fetchParams{})
}

// Execute fetches the URL.
func (t *FetchTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input fetchParams
	if err := json.Unmarshal(params, &input); err != nil {
		return tools.Errorf("invalid parameters: %v", err), nil
	}

	parsed, err := url.Parse(strings.TrimSpace(input.URL))
	if err != nil {
		return tools.Errorf("invalid url: %v", err), nil
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return tools.Errorf("unsupported scheme %q: only http and https are allowed", parsed.Scheme), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return tools.Errorf("build request: %v", err), nil
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/json,text/plain,*/*")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return tools.Errorf("fetch failed: %v", err), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return tools.Errorf("read body: %v", err), nil
	}

	truncated := false
	if len(body) > maxBodyBytes {
		body = body[:maxBodyBytes]
		truncated = true
	}

	content := string(body)
	if truncated {
		content += fmt.Sprintf("\n[truncated at %d bytes]", maxBodyBytes)
	}
	if resp.StatusCode >= 400 {
		return &tools.Result{
			Content: fmt.Sprintf("HTTP %d\n%s", resp.StatusCode, content),
			IsError: true,
		}, nil
	}
	return &tools.Result{
		Content: content,
		Metadata: map[string]any{
			"status":       resp.StatusCode,
			"content_type": resp.Header.Get("Content-Type"),
			"bytes":        len(body),
			"truncated":    truncated,
		},
	}, nil
}
