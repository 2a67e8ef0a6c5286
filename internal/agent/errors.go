package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the error taxonomy surfaced to clients and used to choose
// propagation behavior (turn-level fatal, mid-stream fatal, tool-level,
// or silently retried).
type Kind string

const (
	KindAuthRequired      Kind = "auth-required"
	KindThreadBusy        Kind = "thread-busy"
	KindThreadNotFound    Kind = "thread-not-found"
	KindLLMUnavailable    Kind = "llm-unavailable"
	KindLLMInvalidResp    Kind = "llm-invalid-response"
	KindToolFailed        Kind = "tool-failed"
	KindSandboxUnavail    Kind = "sandbox-unavailable"
	KindPathEscape        Kind = "path-escape"
	KindTimeout           Kind = "timeout"
	KindRecursionExceeded Kind = "recursion-exceeded"
	KindStorageUnavail    Kind = "storage-unavailable"
	KindStaleParent       Kind = "stale-parent"
	KindCancelled         Kind = "cancelled"
	KindInternal          Kind = "internal"
)

// CoreError is the structured error type carried across component boundaries.
// It attaches a Kind from the taxonomy above plus enough context to render a
// diagnostic without leaking internals (stdout/stderr values, stack traces).
type CoreError struct {
	Kind       Kind
	Detail     string
	ToolCallID string
	Cause      error
}

func (e *CoreError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *CoreError) Unwrap() error { return e.Cause }

// NewCoreError builds a CoreError, deriving Detail from cause when unset.
func NewCoreError(kind Kind, cause error) *CoreError {
	e := &CoreError{Kind: kind, Cause: cause}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}

func (e *CoreError) WithDetail(detail string) *CoreError {
	e.Detail = detail
	return e
}

func (e *CoreError) WithToolCallID(id string) *CoreError {
	e.ToolCallID = id
	return e
}

// KindOf extracts the Kind from an error chain, defaulting to internal.
func KindOf(err error) Kind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// Common sentinel errors for agent operations.
var (
	ErrMaxIterations    = errors.New("max iterations exceeded")
	ErrContextCancelled = errors.New("context cancelled")
	ErrNoProvider       = errors.New("no provider configured")
	ErrToolNotFound     = errors.New("tool not found")
	ErrToolTimeout      = errors.New("tool execution timed out")
	ErrToolPanic        = errors.New("tool panicked")
	ErrBackpressure     = errors.New("backpressure: system overloaded")
)

// ToolErrorType categorizes tool execution errors for retry logic.
type ToolErrorType string

const (
	ToolErrorNotFound     ToolErrorType = "not_found"
	ToolErrorInvalidInput ToolErrorType = "invalid_input"
	ToolErrorTimeout      ToolErrorType = "timeout"
	ToolErrorNetwork      ToolErrorType = "network"
	ToolErrorPermission   ToolErrorType = "permission"
	ToolErrorRateLimit    ToolErrorType = "rate_limit"
	ToolErrorPathEscape   ToolErrorType = "path_escape"
	ToolErrorExecution    ToolErrorType = "execution"
	ToolErrorPanic        ToolErrorType = "panic"
	ToolErrorUnknown      ToolErrorType = "unknown"
)

// IsRetryable reports whether this error type is worth retrying. Per spec
// §4.6, tool failures are never retried by the loop itself — this is
// informational for callers building their own retry policy (e.g. the
// sandbox-start-failure single retry), not used to auto-retry tool_end.
func (t ToolErrorType) IsRetryable() bool {
	switch t {
	case ToolErrorTimeout, ToolErrorNetwork, ToolErrorRateLimit:
		return true
	default:
		return false
	}
}

// Kind maps a ToolErrorType onto the §7 taxonomy.
func (t ToolErrorType) Kind() Kind {
	switch t {
	case ToolErrorTimeout:
		return KindTimeout
	case ToolErrorPathEscape:
		return KindPathEscape
	default:
		return KindToolFailed
	}
}

// ToolError is a structured error from tool execution.
type ToolError struct {
	Type       ToolErrorType
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
	Retryable  bool
	Attempts   int
}

func (e *ToolError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Type))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if e.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("(attempts=%d)", e.Attempts))
	}
	return strings.Join(parts, " ")
}

func (e *ToolError) Unwrap() error { return e.Cause }

// NewToolError creates a ToolError, classifying the type from cause.
func NewToolError(toolName string, cause error) *ToolError {
	err := &ToolError{ToolName: toolName, Cause: cause, Type: ToolErrorUnknown, Attempts: 1}
	if cause != nil {
		err.Message = cause.Error()
		err.Type = classifyToolError(cause)
		err.Retryable = err.Type.IsRetryable()
	}
	return err
}

func (e *ToolError) WithType(t ToolErrorType) *ToolError {
	e.Type = t
	e.Retryable = t.IsRetryable()
	return e
}

func (e *ToolError) WithToolCallID(id string) *ToolError {
	e.ToolCallID = id
	return e
}

func (e *ToolError) WithMessage(msg string) *ToolError {
	e.Message = msg
	return e
}

func (e *ToolError) WithAttempts(n int) *ToolError {
	e.Attempts = n
	return e
}

// classifyToolError infers a ToolErrorType from error content when the
// caller hasn't set one explicitly.
func classifyToolError(err error) ToolErrorType {
	if err == nil {
		return ToolErrorUnknown
	}

	if errors.Is(err, ErrToolNotFound) {
		return ToolErrorNotFound
	}
	if errors.Is(err, ErrToolTimeout) {
		return ToolErrorTimeout
	}
	if errors.Is(err, ErrToolPanic) {
		return ToolErrorPanic
	}
	var ce *CoreError
	if errors.As(err, &ce) && ce.Kind == KindPathEscape {
		return ToolErrorPathEscape
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline exceeded"),
		strings.Contains(errStr, "context deadline"):
		return ToolErrorTimeout
	case strings.Contains(errStr, "escapes workspace"),
		strings.Contains(errStr, "path-escape"),
		strings.Contains(errStr, "path escape"):
		return ToolErrorPathEscape
	case strings.Contains(errStr, "connection"),
		strings.Contains(errStr, "network"),
		strings.Contains(errStr, "dns"),
		strings.Contains(errStr, "refused"),
		strings.Contains(errStr, "unreachable"):
		return ToolErrorNetwork
	case strings.Contains(errStr, "rate limit"),
		strings.Contains(errStr, "rate_limit"),
		strings.Contains(errStr, "too many requests"),
		strings.Contains(errStr, "429"):
		return ToolErrorRateLimit
	case strings.Contains(errStr, "permission"),
		strings.Contains(errStr, "forbidden"),
		strings.Contains(errStr, "unauthorized"),
		strings.Contains(errStr, "access denied"):
		return ToolErrorPermission
	case strings.Contains(errStr, "invalid"),
		strings.Contains(errStr, "validation"),
		strings.Contains(errStr, "required"),
		strings.Contains(errStr, "missing"):
		return ToolErrorInvalidInput
	default:
		return ToolErrorExecution
	}
}

// IsToolError reports whether err is or wraps a ToolError.
func IsToolError(err error) bool {
	var toolErr *ToolError
	return errors.As(err, &toolErr)
}

// GetToolError extracts a ToolError from an error chain.
func GetToolError(err error) (*ToolError, bool) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// IsToolRetryable reports whether a tool error should be retried based on
// its classified type.
func IsToolRetryable(err error) bool {
	if toolErr, ok := GetToolError(err); ok {
		return toolErr.Retryable
	}
	return classifyToolError(err).IsRetryable()
}

// LoopError carries phase/iteration context for an error raised inside the
// agent execution loop.
type LoopError struct {
	Phase     LoopPhase
	Iteration int
	Message   string
	Cause     error
}

func (e *LoopError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("loop error at %s (iteration %d): %s", e.Phase, e.Iteration, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("loop error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
	}
	return fmt.Sprintf("loop error at %s (iteration %d)", e.Phase, e.Iteration)
}

func (e *LoopError) Unwrap() error { return e.Cause }

// LoopPhase is a distinct phase in the agent execution loop lifecycle.
type LoopPhase string

const (
	PhaseInit         LoopPhase = "init"
	PhaseStream       LoopPhase = "stream"
	PhaseExecuteTools LoopPhase = "execute_tools"
	PhaseContinue     LoopPhase = "continue"
	PhaseComplete     LoopPhase = "complete"
)
