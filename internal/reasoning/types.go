package reasoning

import (
	"encoding/json"
	"errors"
	"strings"
)

// ToolDefinition describes one callable tool advertised to the remote
// reasoning API. Parameters holds a JSON schema for the tool's arguments.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is a structured request from the API asking the caller to execute
// a named action and submit its result before final text is produced.
type ToolCall struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// TurnRequest starts a reasoning turn. ContinuationToken chains server-side
// memory from the previous turn; leaving it empty starts a fresh thread.
type TurnRequest struct {
	Model             string           `json:"model,omitempty"`
	Instructions      string           `json:"instructions,omitempty"`
	Input             string           `json:"input"`
	ContinuationToken string           `json:"continuation_token,omitempty"`
	Tools             []ToolDefinition `json:"tools,omitempty"`
}

func (r *TurnRequest) validate() error {
	if strings.TrimSpace(r.Input) == "" {
		return errors.New("reasoning: input required")
	}
	return nil
}

// ToolOutput acknowledges one tool call on an open turn.
type ToolOutput struct {
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

func (o *ToolOutput) validate() error {
	if strings.TrimSpace(o.CallID) == "" {
		return errors.New("reasoning: call id required")
	}
	return nil
}

// TurnResponse is the API's answer to a turn submission or a tool-output
// acknowledgement. TurnID doubles as the continuation token for the next
// round; every round-trip yields a fresh one.
type TurnResponse struct {
	TurnID    string     `json:"turn_id"`
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// HasToolCalls reports whether the model paused for tool execution.
func (r *TurnResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// TurnStatus describes a previously created turn, used to discover tool
// calls left unacknowledged by a crashed request.
type TurnStatus struct {
	TurnID           string     `json:"turn_id"`
	PendingToolCalls []ToolCall `json:"pending_tool_calls,omitempty"`
}
