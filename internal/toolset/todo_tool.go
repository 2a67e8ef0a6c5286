package toolset

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/haasonsaas/nexus/internal/agent"
)

// TodoItem is one entry in a thread's task list.
type TodoItem struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

func isValidTodoStatus(status string) bool {
	switch status {
	case "pending", "in_progress", "completed", "canceled":
		return true
	default:
		return false
	}
}

// TodoManager holds the task list for every thread that has used
// todo_write. Entries survive across turns on the same thread for the
// lifetime of the process; they are not part of the persisted checkpoint.
type TodoManager struct {
	mu    sync.RWMutex
	items map[string][]TodoItem
}

// NewTodoManager builds an empty manager.
func NewTodoManager() *TodoManager {
	return &TodoManager{items: map[string][]TodoItem{}}
}

// Get returns threadID's current task list.
func (m *TodoManager) Get(threadID string) []TodoItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]TodoItem{}, m.items[threadID]...)
}

func (m *TodoManager) write(threadID string, todos []TodoItem, merge bool) []TodoItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !merge {
		m.items[threadID] = todos
		return m.items[threadID]
	}

	existing := m.items[threadID]
	byID := make(map[string]int, len(existing))
	for i, item := range existing {
		byID[item.ID] = i
	}
	for _, item := range todos {
		if i, ok := byID[item.ID]; ok {
			existing[i] = item
		} else {
			existing = append(existing, item)
			byID[item.ID] = len(existing) - 1
		}
	}
	m.items[threadID] = existing
	return existing
}

// TodoWriteTool lets the agent track a structured task list per thread.
// Grounded on kadirpekel-hector's todotool.TodoManager (v2/tool/todotool),
// kept per-session state and merge-or-replace semantics, adapted from its
// FunctionTool/jsonschema-tag shape to this repo's hand-written-schema
// agent.Tool convention.
type TodoWriteTool struct {
	manager *TodoManager
}

// NewTodoWriteTool builds a todo_write tool backed by manager.
func NewTodoWriteTool(manager *TodoManager) *TodoWriteTool {
	return &TodoWriteTool{manager: manager}
}

func (t *TodoWriteTool) Name() string { return "todo_write" }

func (t *TodoWriteTool) Description() string {
	return "Create and manage a structured task list for tracking progress on complex, " +
		"multi-step work. The todos array must always contain at least one item; " +
		"completed todos remain in the list rather than being cleared."
}

func (t *TodoWriteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"merge": {"type": "boolean", "description": "If true, merge with the existing list by id. If false, replace it entirely."},
			"todos": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"properties": {
						"id": {"type": "string"},
						"content": {"type": "string"},
						"status": {"type": "string", "enum": ["pending", "in_progress", "completed", "canceled"]}
					},
					"required": ["id", "content", "status"]
				}
			}
		},
		"required": ["merge", "todos"]
	}`)
}

func (t *TodoWriteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Merge bool       `json:"merge"`
		Todos []TodoItem `json:"todos"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if len(input.Todos) == 0 {
		return errorResult("todos array cannot be empty; completed todos remain in the list"), nil
	}
	for i, item := range input.Todos {
		if item.ID == "" || item.Content == "" || item.Status == "" {
			return errorResult(fmt.Sprintf("todo item %d is missing id, content, or status", i)), nil
		}
		if !isValidTodoStatus(item.Status) {
			return errorResult(fmt.Sprintf("todo item %d has invalid status %q", i, item.Status)), nil
		}
	}

	sc, ok := SessionContextFrom(ctx)
	if !ok || sc.ThreadID == "" {
		return errorResult("no session context for this call"), nil
	}

	updated := t.manager.write(sc.ThreadID, input.Todos, input.Merge)
	return &agent.ToolResult{Content: fmt.Sprintf("%d task(s) tracked for this thread", len(updated))}, nil
}
