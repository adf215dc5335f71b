package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/prismlabs/prism/internal/agent"
	"github.com/prismlabs/prism/internal/backoff"
	"github.com/prismlabs/prism/pkg/models"
)

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	// APIKey authenticates against the API. Required.
	APIKey string

	// BaseURL overrides the default endpoint, which also enables
	// OpenAI-compatible gateways.
	BaseURL string

	// MaxRetries caps attempts for transient request failures. Default 3.
	MaxRetries int

	// RetryDelay is the base delay; backoff doubles per attempt.
	// Default 1s.
	RetryDelay time.Duration
}

// OpenAI streams completions from the Chat Completions API. Tool calls
// arrive incrementally and are accumulated per index, then replayed as
// tool_use_start / tool_input_delta / block_stop chunk triples at end
// of stream so the parser sees the same shape for every backend.
type OpenAI struct {
	client     *openai.Client
	maxRetries int
	retry      backoff.Policy
}

// NewOpenAI creates the adapter.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	retry := backoff.Default()
	if cfg.RetryDelay > 0 {
		retry.Initial = cfg.RetryDelay
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAI{
		client:     openai.NewClientWithConfig(clientCfg),
		maxRetries: cfg.MaxRetries,
		retry:      retry,
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAI) Name() string {
	return "openai"
}

// Stream opens a streaming chat completion and returns its chunk
// channel.
func (p *OpenAI) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.Chunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			if err := p.retry.Wait(ctx, attempt-1); err != nil {
				return nil, err
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !transient(lastErr) {
			return nil, lastErr
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("openai: max retries exceeded: %w", lastErr)
	}

	chunks := make(chan *agent.Chunk)
	go p.forward(ctx, stream, chunks)
	return chunks, nil
}

// pendingCall accumulates one tool call's fragments across deltas.
type pendingCall struct {
	index int
	id    string
	name  string
	args  string
}

func (p *OpenAI) forward(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.Chunk) {
	defer close(chunks)
	defer stream.Close()

	started := false
	var outputTokens int
	calls := make(map[int]*pendingCall)

	finish := func() {
		// Replay accumulated tool calls in index order so the parser
		// sees deterministic ordering.
		ordered := make([]*pendingCall, 0, len(calls))
		for _, call := range calls {
			if call.id != "" && call.name != "" {
				ordered = append(ordered, call)
			}
		}
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].index < ordered[j].index })

		for _, call := range ordered {
			if !send(ctx, chunks, &agent.Chunk{Kind: agent.ChunkToolUseStart, ToolID: call.id, ToolName: call.name}) {
				return
			}
			if call.args != "" {
				if !send(ctx, chunks, &agent.Chunk{Kind: agent.ChunkToolInputDelta, PartialJSON: call.args}) {
					return
				}
			}
			if !send(ctx, chunks, &agent.Chunk{Kind: agent.ChunkBlockStop}) {
				return
			}
		}
		send(ctx, chunks, &agent.Chunk{Kind: agent.ChunkMessageStop, OutputTokens: outputTokens})
	}

	for {
		if ctx.Err() != nil {
			send(ctx, chunks, &agent.Chunk{Kind: agent.ChunkError, Err: ctx.Err()})
			return
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				finish()
				return
			}
			send(ctx, chunks, &agent.Chunk{Kind: agent.ChunkError, Err: err})
			return
		}

		if !started {
			started = true
			if !send(ctx, chunks, &agent.Chunk{Kind: agent.ChunkMessageStart, MessageID: response.ID}) {
				return
			}
		}
		if response.Usage != nil {
			outputTokens = response.Usage.CompletionTokens
		}
		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta

		if delta.Content != "" {
			if !send(ctx, chunks, &agent.Chunk{Kind: agent.ChunkTextDelta, Text: delta.Content}) {
				return
			}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call := calls[index]
			if call == nil {
				call = &pendingCall{index: index}
				calls[index] = call
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			call.args += tc.Function.Arguments
		}
	}
}

// convertOpenAIMessages flattens the session log into chat messages.
// The system prompt is injected as the first message; each tool result
// becomes its own tool-role message, which is how this API correlates
// results to calls.
func convertOpenAIMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		if msg.Role == models.RoleAssistant {
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Text(),
			}
			for _, part := range msg.ToolUses() {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   part.ToolUseID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      part.ToolName,
						Arguments: string(part.Input),
					},
				})
			}
			result = append(result, oaiMsg)
			continue
		}

		results := msg.ToolResults()
		if len(results) > 0 {
			for _, part := range results {
				content := part.Content
				if part.IsError {
					content = "Error: " + content
				}
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    content,
					ToolCallID: part.ToolUseID,
				})
			}
			continue
		}

		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: msg.Text(),
		})
	}

	return result
}

func convertOpenAITools(specs []agent.ToolSpec) []openai.Tool {
	tools := make([]openai.Tool, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Schema,
			},
		})
	}
	return tools
}
