package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/prismlabs/prism/pkg/models"
)

// ParseEventKind discriminates the parser's typed output events.
type ParseEventKind string

const (
	ParseMessageStart   ParseEventKind = "message-start"
	ParseTextDelta      ParseEventKind = "text-delta"
	ParseToolUseStart   ParseEventKind = "tool-use-start"
	ParseToolInputDelta ParseEventKind = "tool-use-input-delta"
	ParseToolUseStop    ParseEventKind = "tool-use-stop"
	ParseMessageStop    ParseEventKind = "message-stop"
)

// ParseEvent is one typed event produced from the provider chunk stream.
type ParseEvent struct {
	Kind ParseEventKind

	// MessageID for message-start.
	MessageID string

	// Text fragment for text-delta.
	Text string

	// Call for the tool-use events. At tool-use-stop the call's input
	// JSON has been finalised; a parse failure leaves the call failed
	// with a validation error and does not abort the turn.
	Call *models.ToolCall
}

// Parser converts a provider chunk stream into typed events while
// accumulating the turn's text and tool calls. It holds minimal state
// and is reset between turns.
type Parser struct {
	messageID    string
	text         strings.Builder
	calls        []*models.ToolCall
	seen         map[string]bool
	inputTokens  int
	outputTokens int

	// current tool-use block under construction
	cur      *models.ToolCall
	curInput strings.Builder
}

// NewParser creates an empty parser.
func NewParser() *Parser {
	return &Parser{seen: make(map[string]bool)}
}

// Observe marks ids as already used, so the duplicate-id guard also
// rejects ids replayed from earlier turns of the conversation.
func (p *Parser) Observe(ids ...string) {
	for _, id := range ids {
		p.seen[id] = true
	}
}

// Reset clears all per-turn state.
func (p *Parser) Reset() {
	p.messageID = ""
	p.text.Reset()
	p.calls = nil
	p.seen = make(map[string]bool)
	p.inputTokens = 0
	p.outputTokens = 0
	p.cur = nil
	p.curInput.Reset()
}

// Feed consumes one chunk and returns the typed event it produced, or
// nil for chunks that only update internal state. A non-nil error means
// the stream itself is malformed; per-call JSON parse failures are
// reported through the call's status instead.
func (p *Parser) Feed(chunk *Chunk) (*ParseEvent, error) {
	switch chunk.Kind {
	case ChunkMessageStart:
		p.messageID = chunk.MessageID
		p.inputTokens = chunk.InputTokens
		return &ParseEvent{Kind: ParseMessageStart, MessageID: chunk.MessageID}, nil

	case ChunkTextDelta:
		p.text.WriteString(chunk.Text)
		return &ParseEvent{Kind: ParseTextDelta, Text: chunk.Text}, nil

	case ChunkToolUseStart:
		if p.cur != nil {
			return nil, fmt.Errorf("parser: tool_use_start before previous block stopped")
		}
		if p.seen[chunk.ToolID] {
			return nil, fmt.Errorf("parser: duplicate tool call id %q", chunk.ToolID)
		}
		p.seen[chunk.ToolID] = true
		p.cur = models.NewToolCall(chunk.ToolID, chunk.ToolName)
		p.curInput.Reset()
		return &ParseEvent{Kind: ParseToolUseStart, Call: p.cur}, nil

	case ChunkToolInputDelta:
		if p.cur == nil {
			return nil, fmt.Errorf("parser: tool_input_delta outside a tool_use block")
		}
		p.curInput.WriteString(chunk.PartialJSON)
		return &ParseEvent{Kind: ParseToolInputDelta, Call: p.cur}, nil

	case ChunkBlockStop:
		if p.cur == nil {
			// Text blocks need no finalisation.
			return nil, nil
		}
		call := p.cur
		p.cur = nil
		p.finalizeInput(call)
		p.calls = append(p.calls, call)
		return &ParseEvent{Kind: ParseToolUseStop, Call: call}, nil

	case ChunkMessageStop:
		p.outputTokens = chunk.OutputTokens
		if p.cur != nil {
			// Truncated stream: finalise the dangling block so the
			// call still gets a matching tool result.
			call := p.cur
			p.cur = nil
			p.finalizeInput(call)
			p.calls = append(p.calls, call)
		}
		return &ParseEvent{Kind: ParseMessageStop}, nil

	default:
		return nil, fmt.Errorf("parser: unknown chunk kind %q", chunk.Kind)
	}
}

// finalizeInput parses the accumulated input JSON. Parse failures mark
// just this call failed so the rest of the turn proceeds.
func (p *Parser) finalizeInput(call *models.ToolCall) {
	raw := p.curInput.String()
	p.curInput.Reset()
	if raw == "" {
		raw = "{}"
	}
	if !json.Valid([]byte(raw)) {
		call.Status = models.ToolCallFailed
		call.Error = fmt.Sprintf("[%s] tool %q parameters are not valid JSON", models.ErrCodeValidation, call.Name)
		return
	}
	call.Params = json.RawMessage(raw)
}

// MessageID returns the provider-assigned assistant message id.
func (p *Parser) MessageID() string { return p.messageID }

// Text returns the turn's accumulated assistant text.
func (p *Parser) Text() string { return p.text.String() }

// Calls returns the turn's completed tool calls in arrival order.
func (p *Parser) Calls() []*models.ToolCall { return p.calls }

// Usage returns the input and output token counts reported by the
// provider for the turn.
func (p *Parser) Usage() (input, output int) {
	return p.inputTokens, p.outputTokens
}
