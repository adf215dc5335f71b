package agent

import (
	"testing"

	"github.com/prismlabs/prism/pkg/models"
)

func feedAll(t *testing.T, p *Parser, chunks []*Chunk) []*ParseEvent {
	t.Helper()
	var events []*ParseEvent
	for _, chunk := range chunks {
		ev, err := p.Feed(chunk)
		if err != nil {
			t.Fatalf("Feed(%s): %v", chunk.Kind, err)
		}
		if ev != nil {
			events = append(events, ev)
		}
	}
	return events
}

func TestParserTextOnly(t *testing.T) {
	p := NewParser()
	events := feedAll(t, p, []*Chunk{
		{Kind: ChunkMessageStart, MessageID: "msg_1", InputTokens: 12},
		{Kind: ChunkTextDelta, Text: "Hello"},
		{Kind: ChunkTextDelta, Text: ", world"},
		{Kind: ChunkBlockStop},
		{Kind: ChunkMessageStop, OutputTokens: 7},
	})

	kinds := []ParseEventKind{ParseMessageStart, ParseTextDelta, ParseTextDelta, ParseMessageStop}
	if len(events) != len(kinds) {
		t.Fatalf("events = %d, want %d", len(events), len(kinds))
	}
	for i, kind := range kinds {
		if events[i].Kind != kind {
			t.Errorf("event %d = %s, want %s", i, events[i].Kind, kind)
		}
	}

	if p.MessageID() != "msg_1" {
		t.Errorf("MessageID = %q", p.MessageID())
	}
	if p.Text() != "Hello, world" {
		t.Errorf("Text = %q", p.Text())
	}
	if len(p.Calls()) != 0 {
		t.Errorf("Calls = %d, want 0", len(p.Calls()))
	}
	in, out := p.Usage()
	if in != 12 || out != 7 {
		t.Errorf("Usage = %d, %d", in, out)
	}
}

func TestParserToolUseAccumulatesInput(t *testing.T) {
	p := NewParser()
	feedAll(t, p, []*Chunk{
		{Kind: ChunkMessageStart, MessageID: "msg_1"},
		{Kind: ChunkToolUseStart, ToolID: "tu_1", ToolName: "read_file"},
		{Kind: ChunkToolInputDelta, PartialJSON: `{"pa`},
		{Kind: ChunkToolInputDelta, PartialJSON: `th":"ma`},
		{Kind: ChunkToolInputDelta, PartialJSON: `in.go"}`},
		{Kind: ChunkBlockStop},
		{Kind: ChunkMessageStop},
	})

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("Calls = %d, want 1", len(calls))
	}
	call := calls[0]
	if call.ID != "tu_1" || call.Name != "read_file" {
		t.Errorf("call = %s %s", call.ID, call.Name)
	}
	if string(call.Params) != `{"path":"main.go"}` {
		t.Errorf("params = %s", call.Params)
	}
	if call.Status != models.ToolCallPending {
		t.Errorf("status = %s", call.Status)
	}
}

func TestParserEmptyInputDefaultsToObject(t *testing.T) {
	p := NewParser()
	feedAll(t, p, []*Chunk{
		{Kind: ChunkToolUseStart, ToolID: "tu_1", ToolName: "list_files"},
		{Kind: ChunkBlockStop},
	})

	if got := string(p.Calls()[0].Params); got != "{}" {
		t.Errorf("params = %q", got)
	}
}

func TestParserInvalidInputFailsOnlyThatCall(t *testing.T) {
	p := NewParser()
	feedAll(t, p, []*Chunk{
		{Kind: ChunkToolUseStart, ToolID: "tu_1", ToolName: "read_file"},
		{Kind: ChunkToolInputDelta, PartialJSON: `{"path": truncat`},
		{Kind: ChunkBlockStop},
		{Kind: ChunkToolUseStart, ToolID: "tu_2", ToolName: "list_files"},
		{Kind: ChunkToolInputDelta, PartialJSON: `{}`},
		{Kind: ChunkBlockStop},
		{Kind: ChunkMessageStop},
	})

	calls := p.Calls()
	if len(calls) != 2 {
		t.Fatalf("Calls = %d, want 2", len(calls))
	}
	if calls[0].Status != models.ToolCallFailed {
		t.Errorf("first call status = %s", calls[0].Status)
	}
	if calls[0].Error == "" {
		t.Error("first call should carry a validation error")
	}
	if calls[1].Status != models.ToolCallPending {
		t.Errorf("second call status = %s", calls[1].Status)
	}
}

func TestParserMixedTextAndTools(t *testing.T) {
	p := NewParser()
	feedAll(t, p, []*Chunk{
		{Kind: ChunkMessageStart, MessageID: "msg_1"},
		{Kind: ChunkTextDelta, Text: "Let me check. "},
		{Kind: ChunkBlockStop},
		{Kind: ChunkToolUseStart, ToolID: "tu_1", ToolName: "search"},
		{Kind: ChunkToolInputDelta, PartialJSON: `{"pattern":"TODO"}`},
		{Kind: ChunkBlockStop},
		{Kind: ChunkMessageStop},
	})

	if p.Text() != "Let me check. " {
		t.Errorf("Text = %q", p.Text())
	}
	if len(p.Calls()) != 1 {
		t.Errorf("Calls = %d", len(p.Calls()))
	}
}

func TestParserRejectsDuplicateToolID(t *testing.T) {
	p := NewParser()
	feedAll(t, p, []*Chunk{
		{Kind: ChunkToolUseStart, ToolID: "tu_1", ToolName: "search"},
		{Kind: ChunkBlockStop},
	})
	if _, err := p.Feed(&Chunk{Kind: ChunkToolUseStart, ToolID: "tu_1", ToolName: "search"}); err == nil {
		t.Error("expected error for duplicate tool call id")
	}
}

func TestParserObserveRejectsEarlierIDs(t *testing.T) {
	p := NewParser()
	p.Observe("tu_1")

	if _, err := p.Feed(&Chunk{Kind: ChunkToolUseStart, ToolID: "tu_1", ToolName: "search"}); err == nil {
		t.Error("expected error for an id observed in an earlier turn")
	}
	if _, err := p.Feed(&Chunk{Kind: ChunkToolUseStart, ToolID: "tu_2", ToolName: "search"}); err != nil {
		t.Errorf("fresh id rejected: %v", err)
	}
}

func TestParserFinalizesDanglingBlockAtMessageStop(t *testing.T) {
	p := NewParser()
	feedAll(t, p, []*Chunk{
		{Kind: ChunkToolUseStart, ToolID: "tu_1", ToolName: "search"},
		{Kind: ChunkToolInputDelta, PartialJSON: `{"pattern":"x"}`},
		{Kind: ChunkMessageStop},
	})

	if len(p.Calls()) != 1 {
		t.Fatalf("Calls = %d, want 1", len(p.Calls()))
	}
	if string(p.Calls()[0].Params) != `{"pattern":"x"}` {
		t.Errorf("params = %s", p.Calls()[0].Params)
	}
}

func TestParserReset(t *testing.T) {
	p := NewParser()
	feedAll(t, p, []*Chunk{
		{Kind: ChunkMessageStart, MessageID: "msg_1", InputTokens: 5},
		{Kind: ChunkTextDelta, Text: "hi"},
		{Kind: ChunkToolUseStart, ToolID: "tu_1", ToolName: "search"},
		{Kind: ChunkBlockStop},
		{Kind: ChunkMessageStop, OutputTokens: 2},
	})

	p.Reset()
	if p.Text() != "" || len(p.Calls()) != 0 || p.MessageID() != "" {
		t.Error("Reset did not clear state")
	}
	// Reset also clears the duplicate-id guard.
	if _, err := p.Feed(&Chunk{Kind: ChunkToolUseStart, ToolID: "tu_1", ToolName: "search"}); err != nil {
		t.Errorf("Feed after Reset: %v", err)
	}
}
