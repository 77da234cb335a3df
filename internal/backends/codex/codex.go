// Package codex implements the codex backend adapter. The Codex CLI's
// `--json` experimental output is a flat role-tagged JSONL stream close
// enough to kimi's that this adapter reuses decode.Record directly rather
// than writing a bespoke decoder as claude's does.
//
// Grounded on: original_source/src/takopi/runners/kimi.py's
// JsonlSubprocessRunner, applied to the codex CLI's analogous protocol.
package codex

import (
	"fmt"
	"regexp"

	"github.com/classicrob/takopi-go/internal/decode"
	"github.com/classicrob/takopi-go/internal/exec"
	"github.com/classicrob/takopi-go/internal/model"
	"github.com/classicrob/takopi-go/internal/runner"
)

const engineID = model.EngineID("codex")

var resumeRe = regexp.MustCompile("(?i)^\\s*`?codex\\s+(?:exec\\s+)?(?:--resume|resume)\\s+(?P<token>[^`\\s]+)`?\\s*$")

// FormatResume renders a ResumeToken as the echoable "codex resume <id>"
// line.
func FormatResume(token model.ResumeToken) (string, error) {
	if token.Engine != engineID {
		return "", fmt.Errorf("codex: cannot format resume token for engine %q", token.Engine)
	}
	return fmt.Sprintf("`codex resume %s`", token.Value), nil
}

// ExtractResume scans one line of text for an echoed codex resume command.
func ExtractResume(line string) *model.ResumeToken {
	m := resumeRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	idx := resumeRe.SubexpIndex("token")
	return &model.ResumeToken{Engine: engineID, Value: m[idx]}
}

// State is codex's per-run translation state.
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
	args := []string{"codex", "exec", "--json"}
	if resume != nil {
		args = append(args, "resume", resume.Value)
	}
	args = append(args, prompt)
	return args, nil
}

func toolKindAndTitle(name string, args map[string]any) (model.ActionKind, string) {
	switch name {
	case "shell", "exec_command", "run_command":
		cmd, _ := args["command"].(string)
		if cmd == "" {
			cmd, _ = args["cmd"].(string)
		}
		return model.ActionCommand, cmd
	case "apply_patch", "edit_file", "write_file":
		path, _ := args["path"].(string)
		if path == "" {
			path, _ = args["file_path"].(string)
		}
		return model.ActionFileChange, path
	case "web_search":
		q, _ := args["query"].(string)
		return model.ActionWebSearch, q
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
		if text := rec.ContentText(); text != "" {
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
		action, found := s.pendingActions[rec.ToolCallID]
		if !found {
			action = model.Action{ID: rec.ToolCallID, Kind: model.ActionTool, Title: rec.ToolCallID}
		} else {
			delete(s.pendingActions, rec.ToolCallID)
		}
		content := rec.ContentText()
		detail := map[string]any{}
		for k, v := range action.Detail {
			detail[k] = v
		}
		detail["tool_use_id"] = rec.ToolCallID
		detail["result_preview"] = resultPreview(content)
		detail["result_len"] = len(content)
		detail["is_error"] = rec.IsError
		action.Detail = detail
		ok := !rec.IsError
		events = append(events, model.NewAction(model.ActionEvent{
			Engine: engineID,
			Action: action,
			Phase:  model.PhaseCompleted,
			OK:     &ok,
		}))
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
		Error:  "codex finished but no assistant text was captured",
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
			Action:  model.Action{ID: "codex-exit", Kind: model.ActionWarning, Title: "codex exited non-zero"},
			Phase:   model.PhaseCompleted,
			OK:      &warnOK,
			Level:   "warning",
			Message: fmt.Sprintf("codex failed (rc=%d).", rc),
		}),
		model.NewCompleted(model.CompletedEvent{
			Engine: engineID,
			OK:     false,
			Error:  fmt.Sprintf("codex failed (rc=%d).", rc),
			Resume: resume,
		}),
	}
}

// Backend returns the registrable runner.Backend for codex.
func Backend() runner.Backend {
	return runner.Backend{
		ID:              engineID,
		InstallCmd:      "npm install -g @openai/codex",
		BuildArgv:       buildArgv,
		NewState:        newState,
		Translate:       translate,
		StreamEndEvents: streamEndEvents,
		OnNonZeroExit:   onNonZeroExit,
		FormatResume:    FormatResume,
		ExtractResume:   ExtractResume,
		SeedSession:     seedSession,
	}
}
