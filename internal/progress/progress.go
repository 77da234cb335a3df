// Package progress implements the deterministic fold over a canonical
// event stream described in §4.6: ProgressTracker consumes events and
// Snapshot renders the current ProgressState.
//
// Grounded on: original_source/src/takopi/progress.py
package progress

import (
	"sort"

	"github.com/classicrob/takopi-go/internal/model"
)

// ActionState is the latest known state of one action id.
type ActionState struct {
	Action      model.Action
	Phase       model.ActionPhase
	OK          *bool
	DisplayPhase model.ActionPhase
	Completed   bool
	FirstSeen   int
	LastUpdate  int
}

// InputRequestState is a still-pending input request.
type InputRequestState struct {
	RequestID string
	Question  string
	Source    model.InputSource
	Urgency   model.Urgency
	SeenAt    int
}

// ProgressState is the tracker's renderable snapshot.
type ProgressState struct {
	Engine        model.EngineID
	ActionCount   int
	Actions       []ActionState
	Resume        *model.ResumeToken
	ResumeLine    string
	ContextLine   string
	InputRequests []InputRequestState
	Answer        string
}

// Tracker folds a canonical event stream into ProgressState. The zero
// value is not usable; construct with New.
type Tracker struct {
	engine        model.EngineID
	resume        *model.ResumeToken
	actionCount   int
	actions       map[string]*ActionState
	inputRequests map[string]*InputRequestState
	seq           int
	answer        string
}

// New returns a Tracker for engine.
func New(engine model.EngineID) *Tracker {
	return &Tracker{
		engine:        engine,
		actions:       make(map[string]*ActionState),
		inputRequests: make(map[string]*InputRequestState),
	}
}

// NoteEvent folds one event into the tracker's state, returning whether
// the event was applied (false for dropped actions: turn-kind or empty id,
// and for input_response events, which the tracker never stores — the
// caller clears pending requests explicitly via ClearInputRequest).
func (t *Tracker) NoteEvent(e model.Event) bool {
	switch e.Kind {
	case model.EventStarted:
		t.SetResume(&e.Started.Resume)
		return true
	case model.EventAction:
		return t.noteAction(e.Action)
	case model.EventInputRequest:
		t.seq++
		req := e.InputRequest
		t.inputRequests[req.RequestID] = &InputRequestState{
			RequestID: req.RequestID,
			Question:  req.Question,
			Source:    req.Source,
			Urgency:   req.Urgency,
			SeenAt:    t.seq,
		}
		return true
	case model.EventCompleted:
		t.answer = e.Completed.Answer
		if e.Completed.Resume != nil {
			t.SetResume(e.Completed.Resume)
		}
		return true
	default:
		return false
	}
}

func (t *Tracker) noteAction(e *model.ActionEvent) bool {
	if e.Action.Kind == model.ActionTurn || e.Action.ID == "" {
		return false
	}
	existing, hasExisting := t.actions[e.Action.ID]
	completed := e.Phase == model.PhaseCompleted
	hasOpen := hasExisting && !existing.Completed
	isUpdate := e.Phase == model.PhaseUpdated || (e.Phase == model.PhaseStarted && hasOpen)
	displayPhase := e.Phase
	if isUpdate && !completed {
		displayPhase = model.PhaseUpdated
	}

	t.seq++
	firstSeen := t.seq
	if hasExisting {
		firstSeen = existing.FirstSeen
	} else {
		t.actionCount++
	}

	t.actions[e.Action.ID] = &ActionState{
		Action:       e.Action,
		Phase:        e.Phase,
		OK:           e.OK,
		DisplayPhase: displayPhase,
		Completed:    completed,
		FirstSeen:    firstSeen,
		LastUpdate:   t.seq,
	}
	return true
}

// ClearInputRequest removes a pending request, called by the caller once
// an input_response for it has been observed.
func (t *Tracker) ClearInputRequest(requestID string) {
	delete(t.inputRequests, requestID)
}

// SetResume overwrites the tracked resume token only when resume is
// non-nil, matching §4.6's "started ⇒ set resume" (a nil resume never
// clears a previously observed one).
func (t *Tracker) SetResume(resume *model.ResumeToken) {
	if resume != nil {
		t.resume = resume
	}
}

// Snapshot renders the current ProgressState. resumeFormatter, if
// non-nil, formats the tracked resume token into ResumeLine.
func (t *Tracker) Snapshot(resumeFormatter func(model.ResumeToken) string, contextLine string) ProgressState {
	actions := make([]ActionState, 0, len(t.actions))
	for _, a := range t.actions {
		actions = append(actions, *a)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].FirstSeen < actions[j].FirstSeen })

	requests := make([]InputRequestState, 0, len(t.inputRequests))
	for _, r := range t.inputRequests {
		requests = append(requests, *r)
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].SeenAt < requests[j].SeenAt })

	var resumeLine string
	if t.resume != nil && resumeFormatter != nil {
		resumeLine = resumeFormatter(*t.resume)
	}

	return ProgressState{
		Engine:        t.engine,
		ActionCount:   t.actionCount,
		Actions:       actions,
		Resume:        t.resume,
		ResumeLine:    resumeLine,
		ContextLine:   contextLine,
		InputRequests: requests,
		Answer:        t.answer,
	}
}
