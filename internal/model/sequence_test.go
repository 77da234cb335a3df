package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceValidatorHappyPath(t *testing.T) {
	v := NewSequenceValidator()
	require.NoError(t, v.Observe(NewStarted(StartedEvent{Engine: "kimi", Resume: ResumeToken{Engine: "kimi", Value: "s1"}})))
	require.NoError(t, v.Observe(NewAction(ActionEvent{Engine: "kimi", Action: Action{ID: "tc_1", Kind: ActionCommand}, Phase: PhaseStarted})))
	require.NoError(t, v.Observe(NewInputRequest(InputRequestEvent{Engine: "kimi", RequestID: "r1", Question: "Delete logs?"})))
	require.NoError(t, v.Observe(NewInputResponse(InputResponseEvent{Engine: "kimi", RequestID: "r1", Response: "yes"})))
	require.NoError(t, v.Observe(NewCompleted(CompletedEvent{Engine: "kimi", OK: true, Answer: "Done."})))
	assert.True(t, v.Done())
}

func TestSequenceValidatorRejectsUnknownRequestID(t *testing.T) {
	v := NewSequenceValidator()
	require.NoError(t, v.Observe(NewStarted(StartedEvent{Engine: "kimi"})))
	err := v.Observe(NewInputResponse(InputResponseEvent{Engine: "kimi", RequestID: "ghost"}))
	assert.ErrorContains(t, err, "unknown request_id")
}

func TestSequenceValidatorRejectsEventsAfterCompleted(t *testing.T) {
	v := NewSequenceValidator()
	require.NoError(t, v.Observe(NewStarted(StartedEvent{Engine: "kimi"})))
	require.NoError(t, v.Observe(NewCompleted(CompletedEvent{Engine: "kimi", OK: true})))
	err := v.Observe(NewAction(ActionEvent{Engine: "kimi", Action: Action{ID: "x"}, Phase: PhaseStarted}))
	assert.ErrorContains(t, err, "after completed")
}

func TestSequenceValidatorRejectsDuplicateStarted(t *testing.T) {
	v := NewSequenceValidator()
	require.NoError(t, v.Observe(NewStarted(StartedEvent{Engine: "kimi"})))
	err := v.Observe(NewStarted(StartedEvent{Engine: "kimi"}))
	assert.ErrorContains(t, err, "duplicate started")
}
