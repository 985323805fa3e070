package core

import "time"

// ToolCall is one ad-hoc synchronous tool invocation routed by the tool
// router, bypassing the scheduler's queue.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// ToolCallResult is the uniform envelope returned for every routed tool
// call. Success is false on any failure; Error then carries the message and
// ExecutedBy is "none" when no target could be reached.
type ToolCallResult struct {
	Success       bool           `json:"success"`
	Result        any            `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	ExecutedBy    string         `json:"executedBy"`
	ExecutionTime time.Duration  `json:"executionTime"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}
