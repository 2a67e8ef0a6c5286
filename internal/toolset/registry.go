package toolset

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/sandbox"
)

// Set is the declarative catalog of tools backed by one Sandbox: shell_exec,
// write_file, read_file. Each tool's input is validated against its own
// JSON Schema before dispatch, so a malformed call from the LLM comes back
// as an in-band tool error instead of reaching the handler.
type Set struct {
	tools   []agent.Tool
	schemas map[string]*jsonschema.Schema
}

// New builds the required tool set against sb.
func New(sb *sandbox.Sandbox) (*Set, error) {
	tools := []agent.Tool{
		NewShellExecTool(sb),
		NewWriteFileTool(sb),
		NewReadFileTool(sb),
	}

	schemas := make(map[string]*jsonschema.Schema, len(tools))
	for _, t := range tools {
		compiled, err := compileSchema(t.Name(), t.Schema())
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", t.Name(), err)
		}
		schemas[t.Name()] = compiled
	}

	return &Set{tools: tools, schemas: schemas}, nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	return jsonschema.CompileString(name+".schema.json", string(raw))
}

// Tools returns the catalog for LLM function-calling declarations.
func (s *Set) Tools() []agent.Tool {
	return s.tools
}

// Execute validates params against the named tool's schema, then dispatches.
// A schema violation is returned as an in-band error result (the LLM should
// see and correct it), not a Go error (reserved for sandbox-level failures).
func (s *Set) Execute(ctx context.Context, name string, params json.RawMessage) (*agent.ToolResult, error) {
	schema, ok := s.schemas[name]
	if !ok {
		return errorResult("tool not found: " + name), nil
	}

	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if err := schema.Validate(decoded); err != nil {
		return errorResult(fmt.Sprintf("parameters do not match schema: %v", err)), nil
	}

	for _, t := range s.tools {
		if t.Name() == name {
			return t.Execute(ctx, params)
		}
	}
	return errorResult("tool not found: " + name), nil
}
