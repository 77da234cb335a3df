package model

import "fmt"

// SequenceValidator checks the §8 invariant that a run's event stream
// matches started (action|input_request|input_response)* completed, with
// every input_response.request_id referencing a previously seen
// input_request in the same run. Only this package's own tests use it;
// no runner, liaison or consumer calls it.
type SequenceValidator struct {
	started     bool
	completed   bool
	seenRequest map[string]bool
}

// NewSequenceValidator returns a validator ready to observe a fresh run.
func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{seenRequest: make(map[string]bool)}
}

// Observe feeds one event into the validator, returning an error the
// moment the sequence is violated.
func (v *SequenceValidator) Observe(e Event) error {
	if v.completed {
		return fmt.Errorf("event %s observed after completed", e.Kind)
	}
	switch e.Kind {
	case EventStarted:
		if v.started {
			return fmt.Errorf("duplicate started event")
		}
		v.started = true
	case EventCompleted:
		if !v.started {
			return fmt.Errorf("completed observed before started")
		}
		v.completed = true
	case EventAction:
		if !v.started {
			return fmt.Errorf("action observed before started")
		}
	case EventInputRequest:
		if !v.started {
			return fmt.Errorf("input_request observed before started")
		}
		if e.InputRequest == nil {
			return fmt.Errorf("input_request event missing payload")
		}
		v.seenRequest[e.InputRequest.RequestID] = true
	case EventInputResponse:
		if !v.started {
			return fmt.Errorf("input_response observed before started")
		}
		if e.InputResponse == nil {
			return fmt.Errorf("input_response event missing payload")
		}
		if !v.seenRequest[e.InputResponse.RequestID] {
			return fmt.Errorf("input_response for unknown request_id %q", e.InputResponse.RequestID)
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// Done reports whether the run reached its terminal completed event.
func (v *SequenceValidator) Done() bool { return v.completed }
