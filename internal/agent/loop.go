package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/nexus/internal/checkpoint"
	"github.com/haasonsaas/nexus/internal/metrics"
	"github.com/haasonsaas/nexus/internal/retry"
	"github.com/haasonsaas/nexus/internal/threadlock"
	"github.com/haasonsaas/nexus/pkg/models"
)

var tracer = otel.Tracer("github.com/haasonsaas/nexus/internal/agent")

// EventType is the public event taxonomy a turn's stream emits.
type EventType string

const (
	EventMessageStart EventType = "message_start"
	EventContent      EventType = "content"
	EventToolStart    EventType = "tool_start"
	EventToolInput    EventType = "tool_input"
	EventToolEnd      EventType = "tool_end"
	EventMessageEnd   EventType = "message_end"
	EventDone         EventType = "done"
	EventStopped      EventType = "stopped"
	EventError        EventType = "error"
)

// Event is one frame of a turn's stream. Only the fields relevant to Type
// are populated; the rest are left zero so C7's transport can serialize it
// directly without a per-type union.
type Event struct {
	Type EventType `json:"type"`

	// Node distinguishes which part of the loop produced a content event:
	// "model" for LLM token deltas, "tools" for tool-originated text.
	Node  string `json:"node,omitempty"`
	Delta string `json:"delta,omitempty"`

	ToolCallID  string          `json:"tool_call_id,omitempty"`
	ToolName    string          `json:"tool_name,omitempty"`
	InputJSON   json.RawMessage `json:"input_json,omitempty"`
	OutputValue string          `json:"output_value,omitempty"`
	Status      string          `json:"status,omitempty"`

	Messages []models.Message `json:"messages,omitempty"`

	Kind   Kind   `json:"kind,omitempty"`
	Detail string `json:"detail,omitempty"`

	// ThreadID is set only on the very first event of a turn started with no
	// thread_id, so the client learns the server-assigned id.
	ThreadID string `json:"thread_id,omitempty"`
}

// Middleware transforms a turn's reconciled history immediately before it is
// sent to the model. The Agent Factory composes these per compiled agent —
// summarization (threadlock.Compactor), tool-call-pairing repair
// (threadlock.RepairToolCallPairing), and any task-tracking augmentation —
// and the loop applies them once per model step, in order.
type Middleware func(ctx context.Context, history []models.Message) ([]models.Message, error)

// turnContextKey is the context key the loop attaches thread/user identity
// under, for a ToolDispatcher implementation to recover. toolset.Set cannot
// be imported here (it imports agent), so the Agent Factory's wiring is
// expected to wrap the concrete dispatcher with an adapter that reads
// TurnContextFrom and calls toolset.WithSessionContext before delegating.
type turnContextKey struct{}

// TurnContext carries the identity of the turn driving a tool dispatch.
type TurnContext struct {
	ThreadID string
	UserID   string
}

// WithTurnContext attaches TurnContext to ctx for a ToolDispatcher adapter to read.
func WithTurnContext(ctx context.Context, threadID, userID string) context.Context {
	return context.WithValue(ctx, turnContextKey{}, TurnContext{ThreadID: threadID, UserID: userID})
}

// TurnContextFrom extracts the TurnContext attached by WithTurnContext.
func TurnContextFrom(ctx context.Context) (TurnContext, bool) {
	tc, ok := ctx.Value(turnContextKey{}).(TurnContext)
	return tc, ok
}

// turnState is the JSON payload persisted to the Checkpoint Store. Schema
// changes to this struct are forward-compatible only if fields are additive;
// there is no version field because the store requires exact byte
// preservation of whatever was written, not migration.
type turnState struct {
	Messages []models.Message `json:"messages"`
}

// Loop drives one turn of an agent: resolve history, stream the model,
// dispatch tool calls, persist a checkpoint, and emit the public event
// taxonomy throughout. One Loop is shared by every turn a compiled agent
// serves; all per-turn state lives on the stack of RunTurn's goroutine.
type Loop struct {
	provider    LLMProvider
	executor    *Executor
	tools       []Tool
	checkpoints checkpoint.Store
	locks       *threadlock.Locker
	middleware  []Middleware
	options     LoopOptions
}

// NewLoop builds a Loop. dispatch is wrapped in an Executor with
// options.ToolParallelism/ToolTimeout; middleware runs in order before every
// model step.
func NewLoop(provider LLMProvider, dispatch ToolDispatcher, tools []Tool, checkpoints checkpoint.Store, locks *threadlock.Locker, options LoopOptions, middleware ...Middleware) *Loop {
	execConfig := DefaultExecutorConfig()
	if options.ToolParallelism > 0 {
		execConfig.MaxConcurrency = options.ToolParallelism
	}
	if options.ToolTimeout > 0 {
		execConfig.DefaultTimeout = options.ToolTimeout
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Loop{
		provider:    provider,
		executor:    NewExecutor(dispatch, execConfig),
		tools:       tools,
		checkpoints: checkpoints,
		locks:       locks,
		middleware:  middleware,
		options:     options,
	}
}

// RunTurn drives one turn to completion, returning a stream of Events. The
// channel is closed once a terminal event (done, stopped, or error) has been
// sent. cancel, if closed, aborts the in-flight LLM call and any running
// tool, persists a checkpoint, and ends the stream with a stopped event.
//
// RunTurn fails fast with a thread-busy CoreError, returning before spawning
// anything, if another turn already holds cfg.ThreadID's lock.
func (l *Loop) RunTurn(ctx context.Context, cfg TurnConfig, userMessageText string, cancel <-chan struct{}) (<-chan *Event, error) {
	if !l.locks.TryLock(cfg.ThreadID) {
		return nil, NewCoreError(KindThreadBusy, nil).WithDetail("thread " + cfg.ThreadID + " is busy")
	}

	history, parentSeq, err := l.loadHistory(ctx, cfg.ThreadID)
	if err != nil {
		l.locks.Unlock(cfg.ThreadID)
		return nil, NewCoreError(KindStorageUnavail, err)
	}

	history = append(history, models.Message{
		Role:       models.RoleUser,
		Content:    userMessageText,
		CreatedAt:  time.Now(),
		OrderIndex: len(history),
	})

	events := make(chan *Event)
	go l.drive(ctx, cfg, history, parentSeq, cancel, events)
	return events, nil
}

func (l *Loop) loadHistory(ctx context.Context, threadID string) ([]models.Message, *int64, error) {
	entry, err := l.checkpoints.Latest(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	var state turnState
	if err := json.Unmarshal(entry.Payload, &state); err != nil {
		return nil, nil, fmt.Errorf("decode checkpoint for thread %s: %w", threadID, err)
	}
	seq := entry.Sequence
	return state.Messages, &seq, nil
}

// drive runs the recursive model/tool loop and always unlocks the thread and
// closes events before returning.
func (l *Loop) drive(ctx context.Context, cfg TurnConfig, history []models.Message, parentSeq *int64, cancel <-chan struct{}, events chan<- *Event) {
	defer l.locks.Unlock(cfg.ThreadID)
	defer close(events)

	ctx, span := tracer.Start(ctx, "agent.run_turn", trace.WithAttributes(
		attribute.String("thread_id", cfg.ThreadID),
	))
	defer span.End()

	turnStart := time.Now()
	outcome := "internal"
	defer func() {
		metrics.TurnDuration.Observe(time.Since(turnStart).Seconds())
		metrics.TurnsTotal.WithLabelValues(outcome).Inc()
		span.SetAttributes(attribute.String("outcome", outcome))
	}()

	turnCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-cancel:
			stop()
		case <-turnCtx.Done():
		}
	}()

	for _, mw := range l.middleware {
		reduced, err := mw(turnCtx, history)
		if err != nil {
			l.emit(turnCtx, events, &Event{Type: EventError, Kind: KindInternal, Detail: err.Error()})
			return
		}
		history = reduced
	}

	limit := cfg.RecursionLimit
	if limit <= 0 {
		limit = 1000
	}

	completed := false
	var loopErr error

	for iteration := 0; iteration < limit; iteration++ {
		if turnCtx.Err() != nil {
			l.persistAndStop(ctx, cfg.ThreadID, history, parentSeq, events)
			outcome = "stopped"
			return
		}

		if !l.emit(turnCtx, events, &Event{Type: EventMessageStart}) {
			return
		}

		assistantMsg, toolCalls, stepErr := l.runModelStep(turnCtx, cfg, history, events)
		if stepErr != nil {
			if turnCtx.Err() != nil {
				l.persistAndStop(ctx, cfg.ThreadID, history, parentSeq, events)
				outcome = "stopped"
				return
			}
			loopErr = stepErr
			break
		}

		history = append(history, assistantMsg)

		if len(toolCalls) == 0 {
			l.emit(turnCtx, events, &Event{Type: EventMessageEnd})
			completed = true
			break
		}

		results := l.dispatchTools(turnCtx, cfg, toolCalls, events)
		history[len(history)-1].ToolCalls = ResultsToToolCalls(toolCalls, results)
		for _, tc := range history[len(history)-1].ToolCalls {
			history = append(history, toolResultMessage(tc, l.options.ToolResultGuard))
		}

		if !l.emit(turnCtx, events, &Event{Type: EventMessageEnd}) {
			return
		}

		if turnCtx.Err() != nil {
			l.persistAndStop(ctx, cfg.ThreadID, history, parentSeq, events)
			outcome = "stopped"
			return
		}
	}

	if loopErr != nil {
		kind := KindLLMUnavailable
		var ce *CoreError
		if errors.As(loopErr, &ce) {
			kind = ce.Kind
		}
		outcome = string(kind)
		l.emit(turnCtx, events, &Event{Type: EventError, Kind: kind, Detail: loopErr.Error()})
		return
	}

	if !completed {
		outcome = string(KindRecursionExceeded)
		l.emit(turnCtx, events, &Event{Type: EventError, Kind: KindRecursionExceeded, Detail: "turn exceeded its recursion limit without completing"})
		return
	}

	final := reconcile(history)
	if err := l.persist(ctx, cfg.ThreadID, parentSeq, final); err != nil {
		l.options.Logger.Error("checkpoint persist failed", "thread_id", cfg.ThreadID, "error", err)
	}
	outcome = "done"
	l.emit(turnCtx, events, &Event{Type: EventDone, Messages: final})
}

func (l *Loop) persistAndStop(ctx context.Context, threadID string, history []models.Message, parentSeq *int64, events chan<- *Event) {
	final := reconcile(history)
	if err := l.persist(ctx, threadID, parentSeq, final); err != nil {
		l.options.Logger.Error("checkpoint persist failed on cancel", "thread_id", threadID, "error", err)
	}
	events <- &Event{Type: EventStopped}
}

func (l *Loop) persist(ctx context.Context, threadID string, parentSeq *int64, messages []models.Message) error {
	payload, err := json.Marshal(turnState{Messages: messages})
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	_, err = l.checkpoints.Put(ctx, threadID, parentSeq, payload)
	return err
}

// runModelStep runs one LLM call against the current history, translating
// its streamed chunks into content/tool_start/tool_input events, and returns
// the resulting assistant message plus its (not yet dispatched) tool calls.
func (l *Loop) runModelStep(ctx context.Context, cfg TurnConfig, history []models.Message, events chan<- *Event) (models.Message, []models.ToolCall, error) {
	req := &CompletionRequest{
		Messages: toCompletionMessages(history),
		Tools:    l.tools,
	}

	chunks, attempt := retry.DoWithValue(ctx, retry.LLMTransientConfig(), func() (<-chan *CompletionChunk, error) {
		return l.provider.Complete(ctx, req)
	})
	if attempt.Err != nil {
		return models.Message{}, nil, NewCoreError(KindLLMUnavailable, attempt.Err)
	}

	var text string
	var calls []models.ToolCall
	started := map[string]bool{}
	streamDone := false

	for chunk := range chunks {
		if chunk.Error != nil {
			return models.Message{}, nil, NewCoreError(KindLLMInvalidResp, chunk.Error)
		}
		if chunk.Text != "" {
			if !l.emit(ctx, events, &Event{Type: EventContent, Node: "model", Delta: chunk.Text}) {
				return models.Message{}, nil, ErrContextCancelled
			}
			text += chunk.Text
		}
		if chunk.ToolCall != nil {
			tc := *chunk.ToolCall
			if tc.Status == "" {
				tc.Status = models.ToolCallPending
			}
			if !started[tc.CallID] {
				started[tc.CallID] = true
				l.emit(ctx, events, &Event{Type: EventToolStart, ToolCallID: tc.CallID, ToolName: tc.Name})
				l.emit(ctx, events, &Event{Type: EventToolInput, ToolCallID: tc.CallID, InputJSON: tc.Input})
			}
			calls = append(calls, tc)
		}
		if chunk.Done {
			streamDone = true
			break
		}
	}

	if !streamDone && ctx.Err() != nil {
		// The provider's stream was torn down by our own context
		// cancellation before it reached a terminal chunk.
		return models.Message{}, nil, ErrContextCancelled
	}

	msg := models.Message{
		Role:      models.RoleAssistant,
		Content:   text,
		CreatedAt: time.Now(),
		ToolCalls: calls,
	}
	return msg, calls, nil
}

// dispatchTools runs toolCalls through the Executor, retrying a sandbox
// provisioning failure once per call before giving up and reporting
// tool_end{status=failed}. Tool failures themselves are never retried: the
// failure becomes the next model step's input.
func (l *Loop) dispatchTools(ctx context.Context, cfg TurnConfig, calls []models.ToolCall, events chan<- *Event) []*ExecutionResult {
	dispatchCtx := WithTurnContext(ctx, cfg.ThreadID, cfg.UserID)
	results := l.executor.ExecuteAll(dispatchCtx, calls)

	// SandboxStartConfig().MaxAttempts is 2: ExecuteAll above was the first
	// attempt, so a sandbox-unavailable failure gets exactly one more try
	// after the sandbox has had a chance to re-ensure itself.
	for i, res := range results {
		if res.Error != nil && isSandboxUnavailable(res.Error) {
			results[i] = l.executor.Execute(dispatchCtx, calls[i])
		}
	}

	for _, res := range results {
		status := "succeeded"
		output := ""
		if res.Error != nil {
			status = "failed"
			output = res.Error.Error()
		} else if res.Result != nil {
			output = res.Result.Content
			if res.Result.IsError {
				status = "failed"
			}
		}
		l.emit(ctx, events, &Event{
			Type:        EventToolEnd,
			ToolCallID:  res.ToolCallID,
			OutputValue: output,
			Status:      status,
		})
	}

	return results
}

func isSandboxUnavailable(err error) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind == KindSandboxUnavail
	}
	var te *ToolError
	if errors.As(err, &te) {
		return errors.As(te.Cause, &ce) && ce.Kind == KindSandboxUnavail
	}
	return false
}

// emit sends ev to events, applying any configured middleware-independent
// backpressure handling: it blocks until accepted or ctx is done, in which
// case it returns false so the caller can stop driving the turn.
func (l *Loop) emit(ctx context.Context, events chan<- *Event, ev *Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func toolResultMessage(tc models.ToolCall, guard ToolResultGuard) models.Message {
	content := ""
	isError := tc.Status == models.ToolCallFailed
	if len(tc.Output) > 0 {
		var decoded struct {
			Content string `json:"content"`
			IsError bool   `json:"is_error"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(tc.Output, &decoded); err == nil {
			if decoded.Error != "" {
				content = decoded.Error
				isError = true
			} else {
				content = decoded.Content
				isError = isError || decoded.IsError
			}
		}
	}

	guarded := guard.Apply(tc.Name, ToolResult{Content: content, IsError: isError})

	return models.Message{
		Role:       models.RoleTool,
		Content:    guarded.Content,
		ToolCallID: tc.CallID,
		CreatedAt:  time.Now(),
		Metadata:   map[string]any{"is_error": guarded.IsError},
	}
}

// toCompletionMessages maps thread history onto the provider's wire shape.
// role=="tool" entries become a synthetic user turn carrying a ToolResults
// entry, mirroring how Anthropic-style APIs have no dedicated tool role.
func toCompletionMessages(history []models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case models.RoleTool:
			isError, _ := m.Metadata["is_error"].(bool)
			out = append(out, CompletionMessage{
				Role: "user",
				ToolResults: []ToolResultMessage{{
					ToolCallID: m.ToolCallID,
					Content:    m.Content,
					IsError:    isError,
				}},
			})
		case models.RoleAssistant:
			out = append(out, CompletionMessage{
				Role:      "assistant",
				Content:   m.Content,
				ToolCalls: m.ToolCalls,
			})
		default:
			out = append(out, CompletionMessage{Role: "user", Content: m.Content})
		}
	}
	return out
}

// reconcile prunes transient tool-only-turn artifacts (an assistant message
// with neither content nor tool calls can appear if a model step was
// interrupted mid-stream) and reassigns OrderIndex so it is strictly
// increasing before the list is persisted or handed to a client.
func reconcile(history []models.Message) []models.Message {
	out := make([]models.Message, 0, len(history))
	for _, m := range history {
		if m.Role == models.RoleAssistant && m.Content == "" && len(m.ToolCalls) == 0 {
			continue
		}
		out = append(out, m)
	}
	for i := range out {
		out[i].OrderIndex = i
	}
	return out
}
