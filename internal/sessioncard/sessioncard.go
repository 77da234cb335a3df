// Package sessioncard implements the §4.6 "superset view" of the progress
// tracker: per-engine badges, a bounded activity feed, pending inputs, and
// an overall session status with the transition rules of §4.6's last
// paragraph.
//
// Grounded on: original_source/src/takopi/session_card.py
package sessioncard

import (
	"sort"

	"github.com/classicrob/takopi-go/internal/model"
)

// AgentStatus is one badge's lifecycle state.
type AgentStatus string

const (
	AgentActive  AgentStatus = "active"
	AgentWaiting AgentStatus = "waiting"
	AgentDone    AgentStatus = "done"
	AgentError   AgentStatus = "error"
)

// Status is the session card's overall status.
type Status string

const (
	StatusWorking      Status = "working"
	StatusWaitingInput Status = "waiting_input"
	StatusDone         Status = "done"
	StatusCancelled    Status = "cancelled"
	StatusError        Status = "error"
)

// AgentBadge is one engine's status indicator.
type AgentBadge struct {
	Engine       model.EngineID
	Status       AgentStatus
	StepCount    int
	LastActivity float64 // unix seconds; 0 means unset
}

// ActivityItem is one entry of the bounded activity feed.
type ActivityItem struct {
	Timestamp float64
	Engine    model.EngineID
	Kind      string
	Summary   string
	Detail    map[string]any
}

// PendingInput is a question currently waiting on a response.
type PendingInput struct {
	RequestID  string
	Question   string
	Source     model.InputSource
	Urgency    model.Urgency
	Options    []string
	Context    string
	ReceivedAt float64
}

// State is the immutable snapshot a presenter renders.
type State struct {
	SessionID        string
	StartedAt        float64
	Badges           []AgentBadge
	PrimaryEngine    model.EngineID
	ActivityItems    []ActivityItem
	ActivityTruncated bool
	ActivityTotal    int
	PendingInputs    []PendingInput
	ContextLine      string
	ResumeLine       string
	Status           Status
	ErrorMessage     string
	Answer           string
}

// IsMultiAgent reports whether more than one engine is tracked.
func (s State) IsMultiAgent() bool { return len(s.Badges) > 1 }

// HasPendingInputs reports whether any question is awaiting a response.
func (s State) HasPendingInputs() bool { return len(s.PendingInputs) > 0 }

// IsComplete reports whether the session reached a terminal status.
func (s State) IsComplete() bool {
	switch s.Status {
	case StatusDone, StatusCancelled, StatusError:
		return true
	default:
		return false
	}
}

// Builder incrementally constructs a State as events arrive, then Build
// renders an immutable snapshot.
type Builder struct {
	sessionID     string
	startedAt     float64
	primaryEngine model.EngineID

	badges        map[model.EngineID]AgentBadge
	activity      []ActivityItem
	pendingInputs map[string]PendingInput
	contextLine   string
	resumeLine    string
	status        Status
	errorMessage  string
	answer        string

	maxActivityItems int
	now              func() float64
}

// NewBuilder returns a Builder seeded with an active badge for
// primaryEngine. now supplies the current time in unix seconds (injected
// for deterministic tests); pass nil to use a clock fixed at startedAt,
// since callers that need wall-clock time provide their own now func.
func NewBuilder(sessionID string, startedAt float64, primaryEngine model.EngineID, now func() float64) *Builder {
	if now == nil {
		now = func() float64 { return startedAt }
	}
	b := &Builder{
		sessionID:        sessionID,
		startedAt:        startedAt,
		primaryEngine:    primaryEngine,
		badges:           make(map[model.EngineID]AgentBadge),
		pendingInputs:    make(map[string]PendingInput),
		status:           StatusWorking,
		maxActivityItems: 50,
		now:              now,
	}
	b.badges[primaryEngine] = AgentBadge{Engine: primaryEngine, Status: AgentActive, LastActivity: now()}
	return b
}

// AddAgent adds or replaces a badge for engine.
func (b *Builder) AddAgent(engine model.EngineID, status AgentStatus) {
	existing, ok := b.badges[engine]
	step := 0
	if ok {
		step = existing.StepCount
	}
	b.badges[engine] = AgentBadge{Engine: engine, Status: status, StepCount: step, LastActivity: b.now()}
}

// UpdateAgentStatus changes an existing badge's status, a no-op if engine
// is not yet tracked.
func (b *Builder) UpdateAgentStatus(engine model.EngineID, status AgentStatus) {
	if existing, ok := b.badges[engine]; ok {
		existing.Status = status
		existing.LastActivity = b.now()
		b.badges[engine] = existing
	}
}

// IncrementStep bumps an engine's step count, creating its badge if absent.
func (b *Builder) IncrementStep(engine model.EngineID) {
	existing, ok := b.badges[engine]
	if !ok {
		b.badges[engine] = AgentBadge{Engine: engine, Status: AgentActive, StepCount: 1, LastActivity: b.now()}
		return
	}
	existing.StepCount++
	existing.LastActivity = b.now()
	b.badges[engine] = existing
}

// AddActivity appends one item to the feed, trimming to maxActivityItems.
func (b *Builder) AddActivity(engine model.EngineID, kind, summary string, detail map[string]any) {
	b.activity = append(b.activity, ActivityItem{
		Timestamp: b.now(),
		Engine:    engine,
		Kind:      kind,
		Summary:   summary,
		Detail:    detail,
	})
	if len(b.activity) > b.maxActivityItems {
		b.activity = b.activity[len(b.activity)-b.maxActivityItems:]
	}
}

// AddPendingInput records a pending question and moves status to
// waiting_input.
func (b *Builder) AddPendingInput(e model.InputRequestEvent) {
	b.pendingInputs[e.RequestID] = PendingInput{
		RequestID:  e.RequestID,
		Question:   e.Question,
		Source:     e.Source,
		Urgency:    e.Urgency,
		Options:    e.Options,
		Context:    e.Context,
		ReceivedAt: b.now(),
	}
	b.status = StatusWaitingInput
}

// RemovePendingInput clears a pending question, reverting to working if
// none remain.
func (b *Builder) RemovePendingInput(requestID string) {
	delete(b.pendingInputs, requestID)
	if len(b.pendingInputs) == 0 && b.status == StatusWaitingInput {
		b.status = StatusWorking
	}
}

// SetContext sets the context line.
func (b *Builder) SetContext(line string) { b.contextLine = line }

// SetResume sets the resume line.
func (b *Builder) SetResume(line string) { b.resumeLine = line }

// SetComplete marks the session done or error and all badges done.
// answer is the engine's final markdown-formatted response text, if any.
func (b *Builder) SetComplete(ok bool, errMsg, answer string) {
	b.answer = answer
	if errMsg != "" {
		b.status = StatusError
		b.errorMessage = errMsg
	} else if ok {
		b.status = StatusDone
	} else {
		b.status = StatusError
	}
	for engine := range b.badges {
		b.UpdateAgentStatus(engine, AgentDone)
	}
}

// SetCancelled marks the session cancelled.
func (b *Builder) SetCancelled() { b.status = StatusCancelled }

// Build renders an immutable State, keeping only the most recent
// maxVisibleActivity feed items (default 5 when 0 is passed).
func (b *Builder) Build(maxVisibleActivity int) State {
	if maxVisibleActivity <= 0 {
		maxVisibleActivity = 5
	}

	badges := make([]AgentBadge, 0, len(b.badges))
	for _, bd := range b.badges {
		badges = append(badges, bd)
	}
	sort.SliceStable(badges, func(i, j int) bool {
		iPrimary := badges[i].Engine == b.primaryEngine
		jPrimary := badges[j].Engine == b.primaryEngine
		if iPrimary != jPrimary {
			return iPrimary
		}
		return badges[i].LastActivity > badges[j].LastActivity
	})

	visible := b.activity
	truncated := false
	if len(visible) > maxVisibleActivity {
		truncated = true
		visible = visible[len(visible)-maxVisibleActivity:]
	}
	visibleCopy := append([]ActivityItem(nil), visible...)

	pending := make([]PendingInput, 0, len(b.pendingInputs))
	for _, p := range b.pendingInputs {
		pending = append(pending, p)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ReceivedAt < pending[j].ReceivedAt })

	return State{
		SessionID:         b.sessionID,
		StartedAt:         b.startedAt,
		Badges:            badges,
		PrimaryEngine:     b.primaryEngine,
		ActivityItems:     visibleCopy,
		ActivityTruncated: truncated,
		ActivityTotal:     len(b.activity),
		PendingInputs:     pending,
		ContextLine:       b.contextLine,
		ResumeLine:        b.resumeLine,
		Status:            b.status,
		ErrorMessage:      b.errorMessage,
		Answer:            b.answer,
	}
}
