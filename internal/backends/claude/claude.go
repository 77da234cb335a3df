// Package claude implements the claude backend adapter: argv construction
// for the Claude Code CLI's `--output-format stream-json` protocol, and
// translation of its native message shape (system/assistant/user/result,
// content blocks rather than kimi's flat role+content) into canonical
// events and a shared decode.Record.
//
// Grounded on: other_examples/…streamjson_mess.go's handleSystemMessage/
// handleAssistantMessage/handleUserMessage split, adapted from a
// multi-session backend adapter down to this module's single-run Backend
// capability record.
package claude

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/classicrob/takopi-go/internal/apperrors"
	"github.com/classicrob/takopi-go/internal/decode"
	"github.com/classicrob/takopi-go/internal/exec"
	"github.com/classicrob/takopi-go/internal/model"
	"github.com/classicrob/takopi-go/internal/runner"
)

const engineID = model.EngineID("claude")

var resumeRe = regexp.MustCompile("(?i)^\\s*`?claude\\s+(?:--resume|-r)\\s+(?P<token>[^`\\s]+)`?\\s*$")

// FormatResume renders a ResumeToken as the echoable "claude --resume <id>"
// line.
func FormatResume(token model.ResumeToken) (string, error) {
	if token.Engine != engineID {
		return "", fmt.Errorf("claude: cannot format resume token for engine %q", token.Engine)
	}
	return fmt.Sprintf("`claude --resume %s`", token.Value), nil
}

// ExtractResume scans one line of text for an echoed claude resume command.
func ExtractResume(line string) *model.ResumeToken {
	m := resumeRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	idx := resumeRe.SubexpIndex("token")
	return &model.ResumeToken{Engine: engineID, Value: m[idx]}
}

// State is claude's per-run translation state.
type State struct {
	pendingActions map[string]model.Action
	lastAssistant  string
	foundSession   string
}

func newState() runner.State {
	return &State{pendingActions: make(map[string]model.Action)}
}

func seedSession(st runner.State, sessionID string) {
	st.(*State).foundSession = sessionID
}

func buildArgv(prompt string, resume *model.ResumeToken) ([]string, error) {
	args := []string{"claude", "--print", "--output-format", "stream-json", "--verbose"}
	if resume != nil {
		args = append(args, "--resume", resume.Value)
	}
	args = append(args, "-p", prompt)
	return args, nil
}

// contentBlock mirrors one entry of Claude's content-block array, covering
// the three block types this adapter cares about (text, tool_use,
// tool_result). Fields unused by a given type are simply zero.
type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

func (b contentBlock) contentText() string {
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	var blocks []contentBlock
	if err := json.Unmarshal(b.Content, &blocks); err == nil {
		out := ""
		for i, nested := range blocks {
			if i > 0 {
				out += "\n"
			}
			out += nested.Text
		}
		return out
	}
	return ""
}

// cliMessage is the top-level shape of one Claude Code stream-json line.
type cliMessage struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	Message   *struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
	IsError bool `json:"is_error"`
	Result  string `json:"result"`
}

func (m cliMessage) contentBlocks() []contentBlock {
	if m.Message == nil || len(m.Message.Content) == 0 {
		return nil
	}
	var blocks []contentBlock
	if err := json.Unmarshal(m.Message.Content, &blocks); err == nil {
		return blocks
	}
	var s string
	if err := json.Unmarshal(m.Message.Content, &s); err == nil && s != "" {
		return []contentBlock{{Type: "text", Text: s}}
	}
	return nil
}

// decodeLine translates one raw Claude Code stream-json line into the
// shared decode.Record shape, so Translate can reuse the same tool-call
// bookkeeping pattern as kimi's adapter despite the different wire format.
func decodeLine(line []byte) (*decode.Record, error) {
	var msg cliMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, apperrors.NewDecodeError("invalid claude stream-json line", err)
	}

	rec := &decode.Record{SessionID: msg.SessionID}
	switch msg.Type {
	case "system":
		rec.Role = decode.RoleSystem
	case "assistant":
		rec.Role = decode.RoleAssistant
		var textParts string
		for _, b := range msg.contentBlocks() {
			switch b.Type {
			case "text":
				if textParts != "" {
					textParts += "\n"
				}
				textParts += b.Text
			case "tool_use":
				rec.ToolCalls = append(rec.ToolCalls, decode.ToolCall{
					ID:   b.ID,
					Type: "function",
					Function: decode.ToolCallFunction{
						Name:      b.Name,
						Arguments: string(b.Input),
					},
				})
			}
		}
		rec.Content = textParts
	case "user":
		rec.Role = decode.RoleTool
		for _, b := range msg.contentBlocks() {
			if b.Type != "tool_result" {
				continue
			}
			rec.ToolResults = append(rec.ToolResults, decode.ToolResult{
				ToolCallID: b.ToolUseID,
				Content:    b.contentText(),
				IsError:    b.IsError,
			})
		}
	case "result":
		rec.Role = decode.RoleSystem
		rec.Content = msg.Result
		rec.IsError = msg.IsError
	default:
		rec.Role = decode.RoleSystem
	}
	return rec, nil
}

func toolKindAndTitle(name string, args map[string]any) (model.ActionKind, string) {
	switch name {
	case "Bash":
		cmd, _ := args["command"].(string)
		return model.ActionCommand, cmd
	case "Edit", "Write", "MultiEdit":
		path, _ := args["file_path"].(string)
		return model.ActionFileChange, path
	case "WebSearch", "WebFetch":
		q, _ := args["query"].(string)
		if q == "" {
			q, _ = args["url"].(string)
		}
		return model.ActionWebSearch, q
	case "Task":
		desc, _ := args["description"].(string)
		return model.ActionTool, desc
	default:
		return model.ActionTool, name
	}
}

func toolAction(tc decode.ToolCall) model.Action {
	args, _ := tc.Arguments()
	kind, title := toolKindAndTitle(tc.Function.Name, args)
	detail := map[string]any{"tool_name": tc.Function.Name}
	if kind == model.ActionFileChange && title != "" {
		detail["changes"] = []model.FileChange{{Path: title, Kind: model.FileChangeUpdate}}
	}
	return model.Action{ID: tc.ID, Kind: kind, Title: title, Detail: detail}
}

const resultPreviewMaxBytes = 2000

func resultPreview(content string) string {
	limited, truncated := exec.LimitOutput([]byte(content))
	if len(limited) > resultPreviewMaxBytes {
		limited = limited[:resultPreviewMaxBytes]
		truncated = true
	}
	if truncated {
		return string(limited) + "…"
	}
	return string(limited)
}

func translate(rec *decode.Record, st runner.State) []model.Event {
	s := st.(*State)
	var events []model.Event

	switch rec.Role {
	case decode.RoleAssistant:
		if token := ExtractResume(rec.ContentText()); token != nil {
			s.foundSession = token.Value
		}
		if rec.SessionID != "" {
			s.foundSession = rec.SessionID
		}
		if text := rec.Content; text != "" {
			s.lastAssistant = text
		}
		for _, tc := range rec.ToolCalls {
			action := toolAction(tc)
			s.pendingActions[tc.ID] = action
			events = append(events, model.NewAction(model.ActionEvent{
				Engine: engineID,
				Action: action,
				Phase:  model.PhaseStarted,
			}))
		}
	case decode.RoleTool:
		for _, tr := range rec.ToolResults {
			action, found := s.pendingActions[tr.ToolCallID]
			if !found {
				action = model.Action{ID: tr.ToolCallID, Kind: model.ActionTool, Title: tr.ToolCallID}
			} else {
				delete(s.pendingActions, tr.ToolCallID)
			}
			detail := map[string]any{}
			for k, v := range action.Detail {
				detail[k] = v
			}
			detail["tool_use_id"] = tr.ToolCallID
			detail["result_preview"] = resultPreview(tr.Content)
			detail["result_len"] = len(tr.Content)
			detail["is_error"] = tr.IsError
			action.Detail = detail
			ok := !tr.IsError
			events = append(events, model.NewAction(model.ActionEvent{
				Engine: engineID,
				Action: action,
				Phase:  model.PhaseCompleted,
				OK:     &ok,
			}))
		}
	case decode.RoleSystem:
		if rec.SessionID != "" {
			s.foundSession = rec.SessionID
		}
	}
	return events
}

func streamEndEvents(st runner.State) []model.Event {
	s := st.(*State)
	if s.lastAssistant != "" {
		var resume *model.ResumeToken
		if s.foundSession != "" {
			resume = &model.ResumeToken{Engine: engineID, Value: s.foundSession}
		}
		return []model.Event{model.NewCompleted(model.CompletedEvent{
			Engine: engineID,
			OK:     true,
			Answer: s.lastAssistant,
			Resume: resume,
		})}
	}
	return []model.Event{model.NewCompleted(model.CompletedEvent{
		Engine: engineID,
		OK:     false,
		Error:  "claude finished but no assistant text was captured",
	})}
}

func onNonZeroExit(rc int, st runner.State) []model.Event {
	s := st.(*State)
	var resume *model.ResumeToken
	if s.foundSession != "" {
		resume = &model.ResumeToken{Engine: engineID, Value: s.foundSession}
	}
	warnOK := false
	return []model.Event{
		model.NewAction(model.ActionEvent{
			Engine:  engineID,
			Action:  model.Action{ID: "claude-exit", Kind: model.ActionWarning, Title: "claude exited non-zero"},
			Phase:   model.PhaseCompleted,
			OK:      &warnOK,
			Level:   "warning",
			Message: fmt.Sprintf("claude failed (rc=%d).", rc),
		}),
		model.NewCompleted(model.CompletedEvent{
			Engine: engineID,
			OK:     false,
			Error:  fmt.Sprintf("claude failed (rc=%d).", rc),
			Resume: resume,
		}),
	}
}

// Backend returns the registrable runner.Backend for claude.
func Backend() runner.Backend {
	return runner.Backend{
		ID:              engineID,
		InstallCmd:      "npm install -g @anthropic-ai/claude-code",
		BuildArgv:       buildArgv,
		NewState:        newState,
		DecodeLine:      decodeLine,
		Translate:       translate,
		StreamEndEvents: streamEndEvents,
		OnNonZeroExit:   onNonZeroExit,
		FormatResume:    FormatResume,
		ExtractResume:   ExtractResume,
		SeedSession:     seedSession,
	}
}
