package domain

import (
	"context"
	"encoding/json"
)

// ToolSchema describes a tool for the LLM function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents an LLM's request to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing a tool. Tool failures are
// reported through Content/IsError, not through an error return, so
// the model always receives something it can explain to the user.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// Tool is the interface every agent tool must implement. Execute
// receives the raw JSON arguments from the model; the invoking user's
// identity travels in the context (see UserIDFromContext) and can never
// be supplied or overridden by the model.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolExecutor abstracts tool lookup and schema enumeration.
type ToolExecutor interface {
	Get(name string) (Tool, error)
	Schemas() []ToolSchema
}
