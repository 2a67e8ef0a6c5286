package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/internal/metrics"
	"github.com/haasonsaas/nexus/pkg/models"
)

// ToolDispatcher executes a single named tool call. toolset.Set satisfies
// this directly; the loop never talks to individual Tool implementations.
type ToolDispatcher interface {
	Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error)
}

// ExecutorConfig configures the parallel tool executor's concurrency cap and
// per-call timeout. There is no retry count here: per the loop's retry
// policy, a tool failure is reported as tool_end{status=failed} and never
// retried by the executor itself — only the caller-visible LLM can decide to
// try again with a new tool call.
type ExecutorConfig struct {
	// MaxConcurrency limits the number of parallel tool executions within
	// one assistant message's tool-call batch. Default: 5.
	MaxConcurrency int

	// DefaultTimeout bounds a single tool call. Default: 30s.
	DefaultTimeout time.Duration
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency: 5,
		DefaultTimeout: 30 * time.Second,
	}
}

// Executor runs the tool calls from one assistant message in parallel,
// bounded by a semaphore so a message with many calls can't exhaust the
// sandbox's concurrency budget.
type Executor struct {
	dispatch ToolDispatcher
	config   *ExecutorConfig

	mu      sync.RWMutex
	timeout map[string]time.Duration

	sem chan struct{}
}

// NewExecutor creates a parallel tool executor dispatching through d. If
// config is nil, DefaultExecutorConfig is used.
func NewExecutor(d ToolDispatcher, config *ExecutorConfig) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	return &Executor{
		dispatch: d,
		config:   config,
		timeout:  make(map[string]time.Duration),
		sem:      make(chan struct{}, config.MaxConcurrency),
	}
}

// ConfigureTool overrides the default timeout for one named tool.
func (e *Executor) ConfigureTool(name string, timeout time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timeout[name] = timeout
}

func (e *Executor) toolTimeout(name string) time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if d, ok := e.timeout[name]; ok && d > 0 {
		return d
	}
	return e.config.DefaultTimeout
}

// ExecutionResult holds the result of one dispatched tool call.
type ExecutionResult struct {
	ToolCallID string
	ToolName   string
	Result     *ToolResult
	Error      error
	Duration   time.Duration
}

// ExecuteAll runs every call in calls concurrently, bounded by
// ExecutorConfig.MaxConcurrency, and returns results aligned to the input
// order regardless of completion order.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []*ExecutionResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]*ExecutionResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, tc)
		}(i, call)
	}
	wg.Wait()
	return results
}

// Execute runs a single tool call under the executor's semaphore and
// per-tool timeout. It never retries: a failure comes back as a populated
// Error, for the loop to turn into tool_end{status=failed}.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) *ExecutionResult {
	start := time.Now()
	result := &ExecutionResult{ToolCallID: call.CallID, ToolName: call.Name}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		result.Error = NewToolError(call.Name, ctx.Err()).WithType(ToolErrorTimeout).WithToolCallID(call.CallID)
		result.Duration = time.Since(start)
		return result
	}

	timeout := e.toolTimeout(call.Name)
	execResult, execErr := e.executeWithTimeout(ctx, call, timeout)
	result.Duration = time.Since(start)
	if execErr != nil {
		result.Error = execErr
		metrics.ToolExecTotal.WithLabelValues(call.Name, "error").Inc()
		return result
	}
	result.Result = execResult
	status := "ok"
	if execResult != nil && execResult.IsError {
		status = "tool_error"
	}
	metrics.ToolExecTotal.WithLabelValues(call.Name, status).Inc()
	return result
}

// executeWithTimeout guards a single dispatch with a timeout and recovers a
// panicking tool handler into a ToolError rather than crashing the loop.
func (e *Executor) executeWithTimeout(ctx context.Context, call models.ToolCall, timeout time.Duration) (*ToolResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *ToolResult
		err    error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				err := NewToolError(call.Name, fmt.Errorf("panic: %v\n%s", r, stack)).
					WithType(ToolErrorPanic).
					WithToolCallID(call.CallID)
				resultCh <- outcome{err: err}
			}
		}()

		result, err := e.dispatch.Execute(execCtx, call.Name, call.Input)
		if err != nil {
			resultCh <- outcome{err: NewToolError(call.Name, err).WithToolCallID(call.CallID)}
			return
		}
		resultCh <- outcome{result: result}
	}()

	select {
	case res := <-resultCh:
		return res.result, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, NewToolError(call.Name, ctx.Err()).
				WithType(ToolErrorTimeout).
				WithToolCallID(call.CallID).
				WithMessage("context cancelled")
		}
		return nil, NewToolError(call.Name, ErrToolTimeout).
			WithType(ToolErrorTimeout).
			WithToolCallID(call.CallID).
			WithMessage(fmt.Sprintf("execution timed out after %s", timeout))
	}
}

// ResultsToToolCalls folds execution results back onto the assistant
// message's tool calls, setting Output/Status for checkpoint persistence.
func ResultsToToolCalls(calls []models.ToolCall, results []*ExecutionResult) []models.ToolCall {
	byID := make(map[string]*ExecutionResult, len(results))
	for _, r := range results {
		byID[r.ToolCallID] = r
	}

	out := make([]models.ToolCall, len(calls))
	for i, call := range calls {
		r, ok := byID[call.CallID]
		if !ok {
			out[i] = call
			continue
		}
		call.Status = models.ToolCallSucceeded
		switch {
		case r.Error != nil:
			call.Status = models.ToolCallFailed
			call.Output, _ = json.Marshal(map[string]string{"error": r.Error.Error()})
		case r.Result != nil:
			if r.Result.IsError {
				call.Status = models.ToolCallFailed
			}
			call.Output, _ = json.Marshal(map[string]any{"content": r.Result.Content, "is_error": r.Result.IsError})
		}
		out[i] = call
	}
	return out
}

// AnyErrors returns true if any execution result contains an error.
func AnyErrors(results []*ExecutionResult) bool {
	for _, r := range results {
		if r.Error != nil {
			return true
		}
	}
	return false
}
