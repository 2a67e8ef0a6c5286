package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/checkpoint"
	"github.com/haasonsaas/nexus/internal/threadlock"
	"github.com/haasonsaas/nexus/pkg/models"
)

// fakeProvider answers with one of a queued list of completion responses,
// each scripted as a slice of chunks.
type fakeProvider struct {
	turns [][]*CompletionChunk
	index int
}

func (p *fakeProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if p.index >= len(p.turns) {
		p.index++
		ch := make(chan *CompletionChunk, 1)
		ch <- &CompletionChunk{Done: true}
		close(ch)
		return ch, nil
	}
	chunks := p.turns[p.index]
	p.index++
	ch := make(chan *CompletionChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *fakeProvider) Name() string                           { return "fake" }
func (p *fakeProvider) Models() []Model                        { return nil }
func (p *fakeProvider) SupportsTools() bool                    { return true }
func (p *fakeProvider) CountTokens(req *CompletionRequest) int { return 0 }

func textTurn(text string) []*CompletionChunk {
	return []*CompletionChunk{{Text: text}, {Done: true}}
}

func toolCallTurn(callID, name string, input json.RawMessage) []*CompletionChunk {
	return []*CompletionChunk{
		{ToolCall: &models.ToolCall{CallID: callID, Name: name, Input: input}},
		{Done: true},
	}
}

func newTestLoop(t *testing.T, provider LLMProvider, dispatch ToolDispatcher) (*Loop, checkpoint.Store, *threadlock.Locker) {
	t.Helper()
	store := checkpoint.NewMemStore()
	locks := threadlock.New()
	loop := NewLoop(provider, dispatch, nil, store, locks, DefaultLoopOptions())
	return loop, store, locks
}

func drainEvents(t *testing.T, events <-chan *Event, timeout time.Duration) []*Event {
	t.Helper()
	var got []*Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestLoop_SimpleTextTurn(t *testing.T) {
	provider := &fakeProvider{turns: [][]*CompletionChunk{textTurn("hello there")}}
	loop, _, _ := newTestLoop(t, provider, &fakeDispatcher{})

	events, err := loop.RunTurn(context.Background(), TurnConfig{ThreadID: "t1", UserID: "u1", RecursionLimit: 10}, "hi", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := drainEvents(t, events, time.Second)

	if got[0].Type != EventMessageStart {
		t.Errorf("expected first event message_start, got %v", got[0].Type)
	}
	last := got[len(got)-1]
	if last.Type != EventDone {
		t.Fatalf("expected final event done, got %v", last.Type)
	}
	if len(last.Messages) != 2 {
		t.Fatalf("expected 2 messages (user+assistant), got %d", len(last.Messages))
	}
	if last.Messages[1].Content != "hello there" {
		t.Errorf("unexpected assistant content: %q", last.Messages[1].Content)
	}
}

func TestLoop_ToolCallThenAnswer(t *testing.T) {
	provider := &fakeProvider{turns: [][]*CompletionChunk{
		toolCallTurn("call_1", "shell_exec", json.RawMessage(`{"command":"ls"}`)),
		textTurn("done"),
	}}
	dispatch := &fakeDispatcher{fn: func(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
		return &ToolResult{Content: "file.txt"}, nil
	}}
	loop, _, _ := newTestLoop(t, provider, dispatch)

	events, err := loop.RunTurn(context.Background(), TurnConfig{ThreadID: "t2", UserID: "u1", RecursionLimit: 10}, "list files", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := drainEvents(t, events, time.Second)

	var sawToolStart, sawToolInput, sawToolEnd, sawDone bool
	for _, ev := range got {
		switch ev.Type {
		case EventToolStart:
			sawToolStart = true
			if ev.ToolCallID != "call_1" {
				t.Errorf("unexpected tool_start id: %q", ev.ToolCallID)
			}
		case EventToolInput:
			sawToolInput = true
		case EventToolEnd:
			sawToolEnd = true
			if ev.Status != "succeeded" {
				t.Errorf("expected succeeded tool_end, got %q", ev.Status)
			}
		case EventDone:
			sawDone = true
		}
	}
	if !sawToolStart || !sawToolInput || !sawToolEnd || !sawDone {
		t.Fatalf("missing expected events: start=%v input=%v end=%v done=%v", sawToolStart, sawToolInput, sawToolEnd, sawDone)
	}
}

func TestLoop_ToolFailureSurfacesInNextStep(t *testing.T) {
	provider := &fakeProvider{turns: [][]*CompletionChunk{
		toolCallTurn("call_1", "shell_exec", json.RawMessage(`{}`)),
		textTurn("handled the failure"),
	}}
	dispatch := &fakeDispatcher{fn: func(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
		return &ToolResult{Content: "permission denied", IsError: true}, nil
	}}
	loop, _, _ := newTestLoop(t, provider, dispatch)

	events, err := loop.RunTurn(context.Background(), TurnConfig{ThreadID: "t3", UserID: "u1", RecursionLimit: 10}, "run it", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := drainEvents(t, events, time.Second)
	last := got[len(got)-1]
	if last.Type != EventDone {
		t.Fatalf("expected turn to complete despite tool failure, got %v", last.Type)
	}
}

func TestLoop_ThreadBusyFailsFast(t *testing.T) {
	provider := &fakeProvider{turns: [][]*CompletionChunk{textTurn("slow")}}
	store := checkpoint.NewMemStore()
	locks := threadlock.New()
	loop := NewLoop(provider, &fakeDispatcher{}, nil, store, locks, DefaultLoopOptions())

	if !locks.TryLock("busy-thread") {
		t.Fatal("setup: failed to pre-lock thread")
	}
	defer locks.Unlock("busy-thread")

	_, err := loop.RunTurn(context.Background(), TurnConfig{ThreadID: "busy-thread", UserID: "u1", RecursionLimit: 10}, "hi", nil)
	if err == nil {
		t.Fatal("expected thread-busy error")
	}
	if KindOf(err) != KindThreadBusy {
		t.Errorf("expected KindThreadBusy, got %v", KindOf(err))
	}
}

func TestLoop_RecursionLimitExceeded(t *testing.T) {
	// Every step emits a tool call and never stops, so the loop should hit
	// its recursion limit rather than loop forever.
	turn := toolCallTurn("call_x", "shell_exec", json.RawMessage(`{}`))
	provider := &fakeProvider{turns: [][]*CompletionChunk{turn, turn, turn}}
	dispatch := &fakeDispatcher{fn: func(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
		return &ToolResult{Content: "ok"}, nil
	}}
	loop, _, _ := newTestLoop(t, provider, dispatch)

	events, err := loop.RunTurn(context.Background(), TurnConfig{ThreadID: "t4", UserID: "u1", RecursionLimit: 3}, "loop forever", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := drainEvents(t, events, time.Second)
	last := got[len(got)-1]
	if last.Type != EventError || last.Kind != KindRecursionExceeded {
		t.Fatalf("expected recursion-exceeded error, got type=%v kind=%v", last.Type, last.Kind)
	}
}

func TestLoop_CancelSignalStopsAndPersists(t *testing.T) {
	block := make(chan *CompletionChunk)
	provider := &blockingProvider{ch: block}
	loop, store, _ := newTestLoop(t, provider, &fakeDispatcher{})

	cancel := make(chan struct{})
	events, err := loop.RunTurn(context.Background(), TurnConfig{ThreadID: "t5", UserID: "u1", RecursionLimit: 10}, "hi", cancel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	close(cancel)
	got := drainEvents(t, events, time.Second)
	last := got[len(got)-1]
	if last.Type != EventStopped {
		t.Fatalf("expected stopped event, got %v", last.Type)
	}

	if _, err := store.Latest(context.Background(), "t5"); err != nil {
		t.Errorf("expected a checkpoint to be persisted on cancel, got error: %v", err)
	}
}

// blockingProvider never produces a chunk until its channel is read from
// externally, simulating an in-flight LLM call for cancellation tests.
type blockingProvider struct {
	ch chan *CompletionChunk
}

func (p *blockingProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	out := make(chan *CompletionChunk)
	go func() {
		defer close(out)
		select {
		case v := <-p.ch:
			out <- v
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (p *blockingProvider) Name() string                           { return "blocking" }
func (p *blockingProvider) Models() []Model                        { return nil }
func (p *blockingProvider) SupportsTools() bool                    { return true }
func (p *blockingProvider) CountTokens(req *CompletionRequest) int { return 0 }

func TestReconcile_PrunesEmptyAssistantMessages(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: ""},
		{Role: models.RoleAssistant, Content: "answer"},
	}
	out := reconcile(history)
	if len(out) != 2 {
		t.Fatalf("expected empty assistant message pruned, got %d messages", len(out))
	}
	for i, m := range out {
		if m.OrderIndex != i {
			t.Errorf("expected strictly increasing order index, got %d at position %d", m.OrderIndex, i)
		}
	}
}

func TestToCompletionMessages_ToolRoleBecomesUserWithResults(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleTool, ToolCallID: "c1", Content: "output", Metadata: map[string]any{"is_error": true}},
	}
	out := toCompletionMessages(history)
	if out[0].Role != "user" {
		t.Errorf("expected tool role mapped to user, got %q", out[0].Role)
	}
	if len(out[0].ToolResults) != 1 || out[0].ToolResults[0].ToolCallID != "c1" || !out[0].ToolResults[0].IsError {
		t.Errorf("unexpected tool results: %+v", out[0].ToolResults)
	}
}
