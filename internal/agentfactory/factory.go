// Package agentfactory implements the Agent Factory (C4): memoized
// construction of compiled agents keyed by (model, api_key, base_url,
// max_tokens), composing the required tool set, the todo-list tool, and
// the summarization and tool-call-repair middleware.
package agentfactory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/agent/providers"
	"github.com/haasonsaas/nexus/internal/cache"
	"github.com/haasonsaas/nexus/internal/checkpoint"
	"github.com/haasonsaas/nexus/internal/sandbox"
	"github.com/haasonsaas/nexus/internal/threadlock"
	"github.com/haasonsaas/nexus/internal/toolset"
	"github.com/haasonsaas/nexus/pkg/models"
)

const defaultCacheCapacity = 32

// Factory builds and caches compiled agents: an agent.Loop wired to a
// provider client specific to one AgentKey, but sharing the tool set,
// checkpoint store, thread locks, and repair middleware across every key.
// Grounded on internal/cache/dedupe.go's hand-rolled bounded-cache idiom,
// generalized to recency (AgentLRU) per DESIGN.md.
type Factory struct {
	cache       *cache.AgentLRU[models.AgentKey, *agent.Loop]
	tools       *toolset.Set
	todoTool    *toolset.TodoWriteTool
	checkpoints checkpoint.Store
	locks       *threadlock.Locker
	compaction  threadlock.CompactionConfig
	loopOptions agent.LoopOptions
}

// New builds a Factory sharing sb's tool set and cp/locks across every
// compiled agent it produces.
func New(sb *sandbox.Sandbox, cp checkpoint.Store, locks *threadlock.Locker) (*Factory, error) {
	tools, err := toolset.New(sb)
	if err != nil {
		return nil, fmt.Errorf("agentfactory: build tool set: %w", err)
	}
	todoManager := toolset.NewTodoManager()

	return &Factory{
		cache:       cache.NewAgentLRU[models.AgentKey, *agent.Loop](defaultCacheCapacity),
		tools:       tools,
		todoTool:    toolset.NewTodoWriteTool(todoManager),
		checkpoints: cp,
		locks:       locks,
		compaction:  threadlock.DefaultCompactionConfig(),
		loopOptions: agent.DefaultLoopOptions(),
	}, nil
}

// Get returns the compiled agent for key, building and caching it on the
// first request. Concurrent requests for the same uncached key block on
// one another rather than double-constructing (AgentLRU.GetOrCreate holds
// its lock across the build callback).
func (f *Factory) Get(key models.AgentKey) (*agent.Loop, error) {
	return f.cache.GetOrCreate(key, func() (*agent.Loop, error) {
		return f.build(key)
	})
}

func (f *Factory) build(key models.AgentKey) (*agent.Loop, error) {
	provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
		APIKey:       key.APIKey,
		BaseURL:      key.BaseURL,
		DefaultModel: key.LLMModel,
	})
	if err != nil {
		return nil, fmt.Errorf("agentfactory: build provider for model %s: %w", key.LLMModel, err)
	}

	allTools := append(append([]agent.Tool{}, f.tools.Tools()...), f.todoTool)
	dispatch := &combinedDispatcher{tools: f.tools, todo: f.todoTool}

	middleware := []agent.Middleware{
		toolCallRepairMiddleware(),
		summarizationMiddleware(threadlock.NewCompactor(f.compaction, &providerSummarizer{provider: provider})),
	}

	return agent.NewLoop(provider, dispatch, allTools, f.checkpoints, f.locks, f.loopOptions, middleware...), nil
}

// combinedDispatcher routes todo_write to the in-process TodoManager and
// everything else to the sandbox-backed toolset.Set, presenting both
// under one agent.ToolDispatcher since the loop only knows one dispatcher.
type combinedDispatcher struct {
	tools *toolset.Set
	todo  *toolset.TodoWriteTool
}

func (d *combinedDispatcher) Execute(ctx context.Context, name string, params json.RawMessage) (*agent.ToolResult, error) {
	if name == d.todo.Name() {
		return d.todo.Execute(ctx, params)
	}
	return d.tools.Execute(ctx, name, params)
}
