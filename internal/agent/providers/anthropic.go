// Package providers adapts LLM SDK clients to the agent.Provider
// streaming interface. Each adapter converts the session message log
// into its provider's wire format and maps the provider's stream events
// onto the neutral chunk kinds the stream parser consumes.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/prismlabs/prism/internal/agent"
	"github.com/prismlabs/prism/internal/backoff"
	"github.com/prismlabs/prism/pkg/models"
)

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	// APIKey authenticates against the API. Required.
	APIKey string

	// BaseURL overrides the default API endpoint.
	BaseURL string

	// MaxRetries caps attempts for transient request failures. Default 3.
	MaxRetries int

	// RetryDelay is the backoff base; actual delay doubles per attempt.
	// Default 1s.
	RetryDelay time.Duration
}

// Anthropic streams completions from the Anthropic Messages API.
// Safe for concurrent use; each Stream call owns its own goroutine.
type Anthropic struct {
	client     anthropic.Client
	maxRetries int
	retry      backoff.Policy
}

// NewAnthropic creates the adapter.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	retry := backoff.Default()
	if cfg.RetryDelay > 0 {
		retry.Initial = cfg.RetryDelay
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &Anthropic{
		client:     anthropic.NewClient(options...),
		maxRetries: cfg.MaxRetries,
		retry:      retry,
	}, nil
}

// Name returns the provider identifier.
func (p *Anthropic) Name() string {
	return "anthropic"
}

// Stream opens a streaming completion and returns its chunk channel.
// The channel closes after message_stop or one error chunk.
func (p *Anthropic) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.Chunk)
	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var streamErr error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream = p.client.Messages.NewStreaming(ctx, params)
			streamErr = stream.Err()
			if streamErr == nil {
				break
			}
			if !transient(streamErr) {
				send(ctx, chunks, &agent.Chunk{Kind: agent.ChunkError, Err: streamErr})
				return
			}
			if attempt < p.maxRetries {
				if err := p.retry.Wait(ctx, attempt); err != nil {
					send(ctx, chunks, &agent.Chunk{Kind: agent.ChunkError, Err: err})
					return
				}
			}
		}
		if streamErr != nil {
			send(ctx, chunks, &agent.Chunk{
				Kind: agent.ChunkError,
				Err:  fmt.Errorf("anthropic: max retries exceeded: %w", streamErr),
			})
			return
		}

		p.forward(ctx, stream, chunks)
	}()

	return chunks, nil
}

// forward maps SDK stream events onto neutral chunks one-for-one.
func (p *Anthropic) forward(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.Chunk) {
	var outputTokens int

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if !send(ctx, chunks, &agent.Chunk{
				Kind:        agent.ChunkMessageStart,
				MessageID:   start.Message.ID,
				InputTokens: int(start.Message.Usage.InputTokens),
			}) {
				return
			}

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				if !send(ctx, chunks, &agent.Chunk{
					Kind:     agent.ChunkToolUseStart,
					ToolID:   toolUse.ID,
					ToolName: toolUse.Name,
				}) {
					return
				}
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !send(ctx, chunks, &agent.Chunk{Kind: agent.ChunkTextDelta, Text: delta.Text}) {
						return
					}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					if !send(ctx, chunks, &agent.Chunk{Kind: agent.ChunkToolInputDelta, PartialJSON: delta.PartialJSON}) {
						return
					}
				}
			}

		case "content_block_stop":
			if !send(ctx, chunks, &agent.Chunk{Kind: agent.ChunkBlockStop}) {
				return
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				outputTokens = int(delta.Usage.OutputTokens)
			}

		case "message_stop":
			send(ctx, chunks, &agent.Chunk{Kind: agent.ChunkMessageStop, OutputTokens: outputTokens})
			return

		case "error":
			send(ctx, chunks, &agent.Chunk{
				Kind: agent.ChunkError,
				Err:  fmt.Errorf("anthropic: stream error"),
			})
			return
		}
	}

	if err := stream.Err(); err != nil {
		send(ctx, chunks, &agent.Chunk{Kind: agent.ChunkError, Err: err})
	}
}

// buildParams converts the neutral request into Anthropic API parameters.
func (p *Anthropic) buildParams(req *agent.CompletionRequest) (anthropic.MessageNewParams, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(req.MaxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: req.System,
			},
		}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

// convertMessages maps the session log onto Anthropic content blocks.
// Tool results travel as user-role messages; the tool_use ids carried on
// the blocks let the API correlate them.
func convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		for _, part := range msg.Content {
			switch part.Type {
			case models.ContentText:
				content = append(content, anthropic.NewTextBlock(part.Text))

			case models.ContentToolUse:
				var input map[string]any
				if err := json.Unmarshal(part.Input, &input); err != nil {
					return nil, fmt.Errorf("anthropic: invalid tool input for %s: %w", part.ToolUseID, err)
				}
				content = append(content, anthropic.NewToolUseBlock(part.ToolUseID, input, part.ToolName))

			case models.ContentToolResult:
				content = append(content, anthropic.NewToolResultBlock(part.ToolUseID, part.Content, part.IsError))
			}
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func convertTools(specs []agent.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(spec.Schema, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid tool schema for %s: %w", spec.Name, err)
		}

		tool := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if tool.OfTool == nil {
			return nil, fmt.Errorf("anthropic: invalid tool definition for %s", spec.Name)
		}
		tool.OfTool.Description = anthropic.String(spec.Description)
		result = append(result, tool)
	}
	return result, nil
}

// send delivers a chunk unless the context is done first.
func send(ctx context.Context, chunks chan<- *agent.Chunk, chunk *agent.Chunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
