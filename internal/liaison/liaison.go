package liaison

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/classicrob/takopi-go/internal/apperrors"
	"github.com/classicrob/takopi-go/internal/coordinator"
	"github.com/classicrob/takopi-go/internal/escalation"
	"github.com/classicrob/takopi-go/internal/model"
)

// completionMarkers are scanned as case-insensitive substrings of a pane's
// captured buffer to detect that a worker has finished.
var completionMarkers = []string{
	"task completed",
	"done.",
	"finished.",
	"all tasks complete",
}

// questionPatterns mirror the escalation package's pattern families but are
// applied per captured line to decide whether a line even looks like a
// question worth running through the escalation policy at all.
var questionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\?\s*$`),
	regexp.MustCompile(`(?i)^(should i|shall i|do you want|would you like|confirm)\b`),
}

// Config parameterizes one liaison run.
type Config struct {
	PollInterval        time.Duration // default 500ms
	CaptureLines        int           // default 50
	MaxIdleTicksCaptain  int          // default 3600 (~30min at 500ms)
	MaxIdleTicksPlain    int          // default 600 (~5min at 500ms)
	CaptainChair        bool
	SessionsDir         string
	CoordinationFolder  string
	Engine              model.EngineID // the brain pane's coding-agent CLI id
	BrainCommand        func(prompt string) string
	Policy              *escalation.Policy
	Logger              *zap.Logger
}

func (c *Config) fillDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.CaptureLines == 0 {
		c.CaptureLines = 50
	}
	if c.MaxIdleTicksCaptain == 0 {
		c.MaxIdleTicksCaptain = 3600
	}
	if c.MaxIdleTicksPlain == 0 {
		c.MaxIdleTicksPlain = 600
	}
	if c.Policy == nil {
		c.Policy = escalation.NewDefault()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Liaison drives a tmux-backed swarm session and emits the canonical event
// stream, honoring the same outward Runner contract as a subprocess
// backend (§6) while internally polling panes instead of reading stdout.
type Liaison struct {
	cfg Config
	mux Multiplexer

	graph       *Graph
	idleTicks   int
	pendingReqs map[string]string // request_id -> pane target

	coord *coordinator.Coordinator
}

// New returns a Liaison using the real tmux binary. Pass a fake
// Multiplexer via NewWithMultiplexer in tests.
func New(cfg Config) *Liaison {
	return NewWithMultiplexer(cfg, NewTmux())
}

// NewWithMultiplexer allows substituting the Multiplexer for tests.
func NewWithMultiplexer(cfg Config, mux Multiplexer) *Liaison {
	cfg.fillDefaults()
	return &Liaison{cfg: cfg, mux: mux, pendingReqs: make(map[string]string)}
}

// Run starts or resumes a liaison session and streams canonical events
// until completion or cancellation, per §4.4.
func (l *Liaison) Run(ctx context.Context, prompt string, resume *model.ResumeToken) (<-chan model.Event, error) {
	out := make(chan model.Event, 64)

	graph, restored, err := l.startOrRestore(resume)
	if err != nil {
		msg := err.Error()
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			msg = appErr.Message
			if appErr.Cause != nil {
				msg += ": " + appErr.Cause.Error()
			}
		}
		go func() {
			defer close(out)
			out <- model.NewCompleted(model.CompletedEvent{Engine: "liaison", OK: false, Error: msg})
		}()
		return out, nil
	}
	l.graph = graph

	coord, err := coordinator.New(l.cfg.CoordinationFolder, graph.SessionID, l.cfg.Logger)
	if err != nil {
		go func() {
			defer close(out)
			out <- model.NewCompleted(model.CompletedEvent{Engine: "liaison", OK: false, Error: err.Error()})
		}()
		return out, nil
	}
	l.coord = coord

	go func() {
		defer close(out)

		resumeTok := model.ResumeToken{Engine: "liaison", Value: graph.SessionID}
		out <- model.NewStarted(model.StartedEvent{
			Engine: "liaison",
			Resume: resumeTok,
			Meta: map[string]any{
				"tmux_session":        graph.TmuxSession,
				"coordination_folder": graph.CoordinationFolder,
			},
		})

		if !restored {
			if err := l.spawnBrain(prompt); err != nil {
				out <- model.NewCompleted(model.CompletedEvent{Engine: "liaison", OK: false, Error: "Failed to spawn liaison brain", Resume: &resumeTok})
				return
			}
		}

		l.pollLoop(ctx, out, resumeTok)
	}()

	return out, nil
}

func (l *Liaison) startOrRestore(resume *model.ResumeToken) (*Graph, bool, error) {
	if resume != nil {
		if resume.Engine != "liaison" {
			return nil, false, apperrors.NewSessionMissing(fmt.Sprintf("resume token for engine %q cannot restore a liaison session", resume.Engine))
		}
		graph, err := LoadGraph(l.cfg.SessionsDir, resume.Value)
		if err != nil {
			return nil, false, apperrors.NewSessionMissing(fmt.Sprintf("Failed to restore liaison session %q: %v", resume.Value, err))
		}
		if !l.mux.HasSession(graph.TmuxSession) {
			return nil, false, apperrors.NewSessionMissing(fmt.Sprintf("Failed to restore liaison session: tmux session %q is gone", graph.TmuxSession))
		}
		for _, pane := range graph.Panes {
			if pane.PendingInputRequest != "" {
				l.pendingReqs[pane.PendingInputRequest] = pane.Target()
			}
		}
		return graph, true, nil
	}

	sessionID, err := NewSessionID()
	if err != nil {
		return nil, false, err
	}
	tmuxName := "takopi_" + sessionID
	if err := l.mux.NewSession(tmuxName, "brain"); err != nil {
		return nil, false, apperrors.NewMultiplexerError("failed to create tmux session", err)
	}
	graph := &Graph{
		SessionID:          sessionID,
		TmuxSession:        tmuxName,
		CreatedAt:          time.Now().Unix(),
		CoordinationFolder: l.cfg.CoordinationFolder,
		Panes: []Pane{{
			PaneID:      "0.0",
			SessionName: tmuxName,
			WindowIndex: 0,
			PaneIndex:   0,
			Engine:      l.cfg.Engine,
			Role:        RoleLiaison,
		}},
	}
	return graph, false, nil
}

func (l *Liaison) brainPane() *Pane { return &l.graph.Panes[0] }

func (l *Liaison) systemPrompt() string {
	if l.cfg.CaptainChair {
		return BuildCaptainChairPrompt(l.cfg.CoordinationFolder)
	}
	return BuildPlainLiaisonPrompt(l.cfg.CoordinationFolder)
}

func (l *Liaison) spawnBrain(prompt string) error {
	var shellCmd string
	if l.cfg.BrainCommand != nil {
		shellCmd = l.cfg.BrainCommand(prompt)
	} else {
		fullPrompt := fmt.Sprintf("%s\n%s", l.systemPrompt(), prompt)
		shellCmd = fmt.Sprintf("%s %s", string(l.cfg.Engine), ShellEscape(fullPrompt))
	}
	return l.mux.SendKeys(l.brainPane().Target(), shellCmd, true)
}

func (l *Liaison) pollLoop(ctx context.Context, out chan<- model.Event, resumeTok model.ResumeToken) {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	// An inbox watcher only nudges the loop early; the ticker above is the
	// spec-mandated fallback and keeps working even where fsnotify can't
	// watch this folder (e.g. some network filesystems).
	var inboxEvents <-chan struct{}
	if l.coord != nil {
		if ch, stop, err := l.coord.WatchInbox(); err == nil {
			inboxEvents = ch
			defer stop()
		}
	}

	tickCount := 0
	runTick := func() bool {
		tickCount++
		done, completed := l.tick(out, resumeTok)
		if done {
			if completed != nil {
				out <- *completed
			}
			return true
		}
		if tickCount%20 == 0 {
			_ = l.graph.Save(l.cfg.SessionsDir)
		}
		return false
	}

	for {
		select {
		case <-ctx.Done():
			out <- model.NewCompleted(model.CompletedEvent{Engine: "liaison", OK: false, Error: "cancelled", Resume: &resumeTok})
			return
		case <-ticker.C:
			if runTick() {
				return
			}
		case _, ok := <-inboxEvents:
			if !ok {
				inboxEvents = nil
				continue
			}
			if runTick() {
				return
			}
		}
	}
}

// tick runs a single poll cycle. Returns done=true when the run should
// terminate, with an optional terminal event to emit.
func (l *Liaison) tick(out chan<- model.Event, resumeTok model.ResumeToken) (bool, *model.CompletedEvent) {
	if !l.mux.HasSession(l.graph.TmuxSession) {
		ev := model.NewCompleted(model.CompletedEvent{Engine: "liaison", OK: false, Error: "Tmux session crashed", Resume: &resumeTok})
		return true, &ev
	}

	l.drainInbox(out)

	activity := false
	for i := range l.graph.Panes {
		pane := &l.graph.Panes[i]
		buf, err := l.mux.CapturePane(pane.Target(), l.cfg.CaptureLines)
		if err != nil {
			continue
		}
		sum := sha256.Sum256([]byte(buf))
		hash := hex.EncodeToString(sum[:])
		if hash == pane.lastCaptureHash {
			continue
		}
		pane.lastCaptureHash = hash
		activity = true

		out <- model.NewAction(model.ActionEvent{
			Engine: "liaison",
			Action: model.Action{
				ID:     "pane:" + pane.PaneID,
				Kind:   model.ActionPaneActivity,
				Title:  fmt.Sprintf("%s (%s)", pane.Engine, pane.Role),
				Detail: map[string]any{"preview": tailLines(buf, 5)},
			},
			Phase: model.PhaseStarted,
		})

		for _, line := range strings.Split(buf, "\n") {
			l.handleCapturedLine(out, pane, line)
		}

		if !l.cfg.CaptainChair && containsCompletionMarker(buf) {
			ev := model.NewCompleted(model.CompletedEvent{Engine: "liaison", OK: true, Answer: buf, Resume: &resumeTok})
			return true, &ev
		}
	}

	if activity {
		l.idleTicks = 0
	} else {
		l.idleTicks++
	}

	maxIdle := l.cfg.MaxIdleTicksPlain
	if l.cfg.CaptainChair {
		maxIdle = l.cfg.MaxIdleTicksCaptain
	}
	if l.idleTicks >= maxIdle {
		ev := model.NewCompleted(model.CompletedEvent{Engine: "liaison", OK: false, Error: "Liaison timed out waiting for activity", Resume: &resumeTok})
		return true, &ev
	}

	return false, nil
}

func (l *Liaison) drainInbox(out chan<- model.Event) {
	if l.coord == nil {
		return
	}
	msgs, err := l.coord.ReceiveMessages()
	if err != nil {
		l.cfg.Logger.Warn("drain coordination inbox", zap.Error(err))
		return
	}
	for _, msg := range msgs {
		text := fmt.Sprintf("NEW USER REQUEST: %v", msg.Payload)
		if err := l.mux.SendKeys(l.brainPane().Target(), EscapeSendKeys(text), true); err != nil {
			out <- model.NewAction(model.ActionEvent{
				Engine: "liaison",
				Action: model.Action{ID: "inbox:" + msg.MessageID, Kind: model.ActionWarning, Title: "failed to dispatch inbox message"},
				Phase:  model.PhaseStarted,
			})
			continue
		}
		out <- model.NewAction(model.ActionEvent{
			Engine: "liaison",
			Action: model.Action{ID: "inbox:" + msg.MessageID, Kind: model.ActionNote, Title: "dispatched coordination message to brain pane"},
			Phase:  model.PhaseStarted,
		})
	}
}

func (l *Liaison) handleCapturedLine(out chan<- model.Event, pane *Pane, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	if !looksLikeQuestion(line) {
		return
	}
	if l.cfg.Policy.ShouldEscalate(line, "") {
		if pane.PendingInputRequest != "" {
			return
		}
		reqID := "liaison-" + pane.PaneID + "-" + hashShort(line)
		pane.PendingInputRequest = reqID
		l.pendingReqs[reqID] = pane.Target()
		out <- model.NewInputRequest(model.InputRequestEvent{
			RequestID: reqID,
			Question:  line,
			Source:    model.SourceSubagent,
			Urgency:   model.Urgency(escalation.AssessUrgency(line)),
			Context:   fmt.Sprintf("From %s in pane %s", pane.Engine, pane.Role),
		})
		return
	}

	response := escalation.AutoResponse(line)
	if err := l.mux.SendKeys(pane.Target(), EscapeSendKeys(response), true); err != nil {
		out <- model.NewAction(model.ActionEvent{
			Engine: "liaison",
			Action: model.Action{ID: "auto:" + pane.PaneID, Kind: model.ActionWarning, Title: "auto-response send failed"},
			Phase:  model.PhaseStarted,
		})
		return
	}
	out <- model.NewAction(model.ActionEvent{
		Engine: "liaison",
		Action: model.Action{ID: "auto:" + pane.PaneID, Kind: model.ActionNote, Title: "auto-responded", Detail: map[string]any{"response": response}},
		Phase:  model.PhaseStarted,
	})
}

// HandleInputResponse routes a user's answer to the pane that raised it,
// per §4.4's input-response routing rule.
func (l *Liaison) HandleInputResponse(resp model.InputResponseEvent) error {
	target, ok := l.pendingReqs[resp.RequestID]
	if !ok {
		l.cfg.Logger.Info("liaison.response.unknown_request", zap.String("request_id", resp.RequestID))
		return nil
	}
	delete(l.pendingReqs, resp.RequestID)
	for i := range l.graph.Panes {
		if l.graph.Panes[i].PendingInputRequest == resp.RequestID {
			l.graph.Panes[i].PendingInputRequest = ""
		}
	}
	if err := l.mux.SendKeys(target, EscapeSendKeys(resp.Response), true); err != nil {
		return fmt.Errorf("liaison: send response to pane %s: %w", target, err)
	}
	return nil
}

func looksLikeQuestion(line string) bool {
	for _, p := range questionPatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

func containsCompletionMarker(buf string) bool {
	lower := strings.ToLower(buf)
	for _, m := range completionMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func hashShort(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}
