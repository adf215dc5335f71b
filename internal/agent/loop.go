// Package agent implements the turn-based ReAct driver: it alternates
// streaming LLM calls with tool executions until the model produces a
// final text answer or the turn budget runs out.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/prismlabs/prism/internal/config"
	"github.com/prismlabs/prism/internal/observability"
	"github.com/prismlabs/prism/internal/scheduler"
	"github.com/prismlabs/prism/internal/tools"
	"github.com/prismlabs/prism/pkg/models"
)

// Phase is the session-visible state of a run.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseThinking    Phase = "thinking"
	PhaseToolCalling Phase = "tool-calling"
	PhaseResponding  Phase = "responding"
	PhaseError       Phase = "error"
)

// Context is the view over a session handed to a run. The loop reads
// and appends the message log and updates the mutable state record; it
// never touches manager-level invariants. All fields are mutated only
// under the session's serialization lock.
type Context struct {
	SessionID string
	System    string
	Messages  *[]models.Message
	Phase     *Phase
	Turn      *int

	// AddUsage accumulates token counts on the session. May be nil.
	AddUsage func(input, output int)
}

func (c *Context) setPhase(p Phase) {
	if c.Phase != nil {
		*c.Phase = p
	}
}

func (c *Context) setTurn(n int) {
	if c.Turn != nil {
		*c.Turn = n
	}
}

// Loop drives one user request to completion.
type Loop struct {
	provider Provider
	sched    *scheduler.Scheduler
	registry *tools.Registry
	log      *observability.Logger
	metrics  *observability.Metrics

	model       string
	maxTokens   int
	temperature float64
	maxTurns    int
}

// NewLoop creates a loop bound to a provider, scheduler, and registry.
func NewLoop(provider Provider, sched *scheduler.Scheduler, registry *tools.Registry, cfg *config.Config, log *observability.Logger, metrics *observability.Metrics) *Loop {
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = config.DefaultMaxTurns
	}
	return &Loop{
		provider:    provider,
		sched:       sched,
		registry:    registry,
		log:         log,
		metrics:     metrics,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxTurns:    maxTurns,
	}
}

// turnResult is what one streamed LLM call produced.
type turnResult struct {
	messageID    string
	text         string
	calls        []*models.ToolCall
	inputTokens  int
	outputTokens int
}

// Run appends the user message to the log and runs turns until the
// model answers, the turn budget is exhausted, or ctx is cancelled.
// Cancellation returns ctx.Err() without emitting further events and
// without appending a partial assistant message.
func (l *Loop) Run(ctx context.Context, actx *Context, userText string, emit func(*models.StreamEvent)) error {
	*actx.Messages = append(*actx.Messages, *models.NewTextMessage(models.RoleUser, userText))

	// Tool-call ids must stay unique across the whole conversation, not
	// just within one turn, so every turn's parser is seeded with the
	// ids already in the log.
	seenIDs := usedToolCallIDs(*actx.Messages)

	for turn := 1; turn <= l.maxTurns; turn++ {
		actx.setTurn(turn)
		actx.setPhase(PhaseThinking)
		emit(models.ThinkingEvent(actx.SessionID, thinkingContent(turn)))

		result, err := l.runTurn(ctx, actx, seenIDs, emit)
		if err != nil {
			if ctx.Err() != nil {
				actx.setPhase(PhaseIdle)
				return ctx.Err()
			}
			if retryable(err) && turn < l.maxTurns-1 {
				l.log.Warn(ctx, "turn failed, retrying",
					"session_id", actx.SessionID, "turn", turn, "error", err)
				l.countTurn("retried")
				continue
			}
			actx.setPhase(PhaseError)
			l.countTurn("failed")
			return err
		}

		// The assistant message must carry both the text and the
		// tool_use parts so the provider can correlate the
		// tool_result parts sent on the next turn.
		if result.text != "" || len(result.calls) > 0 {
			*actx.Messages = append(*actx.Messages, l.assistantMessage(result))
		}
		for _, call := range result.calls {
			seenIDs[call.ID] = true
		}
		if actx.AddUsage != nil {
			actx.AddUsage(result.inputTokens, result.outputTokens)
		}

		if len(result.calls) > 0 {
			actx.setPhase(PhaseToolCalling)
			results, err := l.runTools(ctx, actx, result.calls, emit)
			if err != nil {
				actx.setPhase(PhaseIdle)
				return err
			}
			*actx.Messages = append(*actx.Messages, models.Message{
				ID:        result.messageID + "-results",
				Role:      models.RoleUser,
				Content:   results,
				CreatedAt: time.Now(),
			})
			l.countTurn("tool_calls")
			continue
		}

		if result.text != "" {
			final := (*actx.Messages)[len(*actx.Messages)-1]
			actx.setPhase(PhaseIdle)
			l.countTurn("completed")
			emit(models.CompleteEvent(actx.SessionID, &final))
			return nil
		}

		l.log.Warn(ctx, "wasted turn: no text and no tool calls",
			"session_id", actx.SessionID, "turn", turn)
		l.countTurn("wasted")
	}

	actx.setPhase(PhaseError)
	return fmt.Errorf("%w (limit %d)", ErrMaxTurns, l.maxTurns)
}

// runTurn performs one streaming LLM call, forwarding text deltas as
// response events. The cancellation handle is checked at every chunk
// boundary.
func (l *Loop) runTurn(ctx context.Context, actx *Context, seenIDs map[string]bool, emit func(*models.StreamEvent)) (*turnResult, error) {
	req := l.buildRequest(actx)

	start := time.Now()
	chunks, err := l.provider.Stream(ctx, req)
	if err != nil {
		return nil, Upstream(err)
	}

	parser := NewParser()
	for id := range seenIDs {
		parser.Observe(id)
	}
	responding := false
	for chunk := range chunks {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if chunk.Kind == ChunkError {
			return nil, Upstream(chunk.Err)
		}
		event, err := parser.Feed(chunk)
		if err != nil {
			return nil, Upstream(err)
		}
		if event == nil {
			continue
		}
		if event.Kind == ParseTextDelta {
			if !responding {
				responding = true
				actx.setPhase(PhaseResponding)
			}
			emit(models.ResponseEvent(actx.SessionID, event.Text))
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	input, output := parser.Usage()
	if l.metrics != nil {
		l.metrics.LLMRequestDuration.WithLabelValues(l.provider.Name(), l.model).Observe(time.Since(start).Seconds())
		l.metrics.LLMTokens.WithLabelValues(l.provider.Name(), l.model, "input").Add(float64(input))
		l.metrics.LLMTokens.WithLabelValues(l.provider.Name(), l.model, "output").Add(float64(output))
	}

	return &turnResult{
		messageID:    parser.MessageID(),
		text:         parser.Text(),
		calls:        parser.Calls(),
		inputTokens:  input,
		outputTokens: output,
	}, nil
}

// runTools executes the turn's calls serially in arrival order so that
// tool-result ordering matches tool-use ordering, and assembles the
// ordered tool_result parts for the follow-up user message.
func (l *Loop) runTools(ctx context.Context, actx *Context, calls []*models.ToolCall, emit func(*models.StreamEvent)) ([]models.ContentPart, error) {
	results := make([]models.ContentPart, 0, len(calls))
	for _, call := range calls {
		if call.Status == models.ToolCallFailed {
			// Parameter JSON failed to parse at block stop; surface the
			// failure without scheduling.
			emit(models.ToolCompleteEvent(actx.SessionID, call))
		} else if err := l.sched.Schedule(ctx, call, scheduler.Options{
			SessionID: actx.SessionID,
			Emit:      emit,
		}); err != nil {
			return nil, err
		}

		content := call.Result
		isError := call.Status != models.ToolCallCompleted
		if isError {
			content = call.Error
		}
		results = append(results, models.ToolResultPart(call.ID, content, isError))
	}
	return results, nil
}

// buildRequest converts the session log into the provider-neutral
// request shape. System-role messages are filtered from the list; the
// system prompt travels in its own field.
func (l *Loop) buildRequest(actx *Context) *CompletionRequest {
	messages := make([]models.Message, 0, len(*actx.Messages))
	for _, msg := range *actx.Messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		messages = append(messages, msg)
	}

	catalogue := l.registry.All()
	specs := make([]ToolSpec, 0, len(catalogue))
	for _, tool := range catalogue {
		specs = append(specs, ToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
	}

	return &CompletionRequest{
		Model:       l.model,
		MaxTokens:   l.maxTokens,
		Temperature: l.temperature,
		System:      actx.System,
		Messages:    messages,
		Tools:       specs,
	}
}

func (l *Loop) assistantMessage(result *turnResult) models.Message {
	parts := make([]models.ContentPart, 0, len(result.calls)+1)
	if result.text != "" {
		parts = append(parts, models.TextPart(result.text))
	}
	for _, call := range result.calls {
		input := call.Params
		if input == nil {
			input = []byte(`{}`)
		}
		parts = append(parts, models.ToolUsePart(call.ID, call.Name, input))
	}
	return models.Message{
		ID:        result.messageID,
		Role:      models.RoleAssistant,
		Content:   parts,
		CreatedAt: time.Now(),
		Meta: &models.MessageMeta{
			Model:        l.model,
			InputTokens:  result.inputTokens,
			OutputTokens: result.outputTokens,
		},
	}
}

func (l *Loop) countTurn(outcome string) {
	if l.metrics != nil {
		l.metrics.TurnsTotal.WithLabelValues(outcome).Inc()
	}
}

// usedToolCallIDs collects the tool_use ids already present in the
// message log.
func usedToolCallIDs(messages []models.Message) map[string]bool {
	ids := make(map[string]bool)
	for _, msg := range messages {
		for _, part := range msg.ToolUses() {
			ids[part.ToolUseID] = true
		}
	}
	return ids
}

func thinkingContent(turn int) string {
	if turn == 1 {
		return "Analyzing your request..."
	}
	return "Reviewing tool results..."
}
