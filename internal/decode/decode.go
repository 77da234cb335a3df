// Package decode parses line-delimited JSON records emitted by a backend
// CLI's stdout into a tagged union of Records. Invalid JSON is a
// recoverable DecodeError, never fatal; tool-call argument strings are
// parsed lazily, on first access, since most callers only need a handful
// of well-known keys out of them.
//
// Grounded on: original_source/src/takopi/schemas/kimi.py (msgspec tagged
// union by "role") and other_examples/…streamjson_mess.go's handling of
// Claude Code's JSONL protocol.
package decode

import (
	"encoding/json"

	"github.com/classicrob/takopi-go/internal/apperrors"
)

// Role is the discriminant field every Record is tagged with.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
)

// ToolCallFunction is the function-call payload of a ToolCall.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is one entry of an assistant record's tool_calls list.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`

	parsedArgs map[string]any
	argsParsed bool
}

// Arguments lazily parses Function.Arguments (itself a JSON string) into a
// map, caching the result. A parse failure returns a DecodeError and an
// empty map rather than panicking — the caller decides whether a malformed
// tool-call argument is fatal to the current action.
func (t *ToolCall) Arguments() (map[string]any, error) {
	if t.argsParsed {
		return t.parsedArgs, nil
	}
	t.argsParsed = true
	if t.Function.Arguments == "" {
		t.parsedArgs = map[string]any{}
		return t.parsedArgs, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(t.Function.Arguments), &args); err != nil {
		t.parsedArgs = map[string]any{}
		return t.parsedArgs, apperrors.NewDecodeError("invalid tool_call arguments", err)
	}
	t.parsedArgs = args
	return t.parsedArgs, nil
}

// ToolResult is one tool_result content block. Most backends emit one
// result per stdout line (ToolCallID/Content/IsError below suffice), but
// Claude Code batches parallel tool calls' results into a single user
// message; ToolResults carries that case without forcing every backend to
// go through it.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// Record is one decoded line of backend stdout. Content may hold either a
// plain string or, for some tool-result records, a list of content-block
// objects; RawContent preserves the original JSON for callers that need to
// distinguish the two shapes.
type Record struct {
	Role        Role       `json:"role"`
	Content     string     `json:"-"`
	RawContent  json.RawMessage `json:"content,omitempty"`
	ToolCalls   []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID  string     `json:"tool_call_id,omitempty"`
	SessionID   string     `json:"session_id,omitempty"`
	IsError     bool       `json:"is_error,omitempty"`
	ToolResults []ToolResult `json:"-"`
}

// ContentText returns the record's content as a single string: if
// RawContent is a JSON string, that string; if it is a list of content
// blocks, their "text" fields joined with newlines; otherwise empty.
func (r *Record) ContentText() string {
	if len(r.RawContent) == 0 {
		return r.Content
	}
	var s string
	if err := json.Unmarshal(r.RawContent, &s); err == nil {
		return s
	}
	var blocks []map[string]any
	if err := json.Unmarshal(r.RawContent, &blocks); err == nil {
		out := ""
		for i, b := range blocks {
			if i > 0 {
				out += "\n"
			}
			if t, ok := b["text"].(string); ok {
				out += t
			}
		}
		return out
	}
	return ""
}

// DecodeLine parses one line of backend stdout into a Record. A syntax
// error is wrapped as a *apperrors.Error with Kind=DecodeError; the caller
// is expected to log it and continue (per §4.3 step 4 / §7).
func DecodeLine(line []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, apperrors.NewDecodeError("invalid JSON line", err)
	}
	return &rec, nil
}
