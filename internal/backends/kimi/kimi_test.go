package kimi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classicrob/takopi-go/internal/decode"
	"github.com/classicrob/takopi-go/internal/model"
)

func decodeMust(t *testing.T, line string) *decode.Record {
	t.Helper()
	rec, err := decode.DecodeLine([]byte(line))
	require.NoError(t, err)
	return rec
}

// TestS1KimiHappyPath mirrors spec scenario S1: a 4-record stream ending in
// a plain assistant "Done." message synthesizes the terminal completed.
func TestS1KimiHappyPath(t *testing.T) {
	st := newState()

	ev1 := translate(decodeMust(t, `{"role":"assistant","content":"Let me check.","tool_calls":[{"type":"function","id":"tc_1","function":{"name":"Shell","arguments":"{\"command\":\"ls\"}"}}]}`), st)
	require.Len(t, ev1, 1)
	assert.Equal(t, model.EventAction, ev1[0].Kind)
	assert.Equal(t, model.PhaseStarted, ev1[0].Action.Phase)
	assert.Equal(t, model.ActionCommand, ev1[0].Action.Action.Kind)
	assert.Equal(t, "tc_1", ev1[0].Action.Action.ID)

	ev2 := translate(decodeMust(t, `{"role":"tool","tool_call_id":"tc_1","content":"file1.txt\nfile2.txt"}`), st)
	require.Len(t, ev2, 1)
	assert.Equal(t, model.PhaseCompleted, ev2[0].Action.Phase)
	assert.True(t, *ev2[0].Action.OK)

	ev3 := translate(decodeMust(t, `{"role":"assistant","content":"Done."}`), st)
	assert.Empty(t, ev3)

	end := streamEndEvents(st)
	require.Len(t, end, 1)
	assert.Equal(t, model.EventCompleted, end[0].Kind)
	assert.True(t, end[0].Completed.OK)
	assert.Equal(t, "Done.", end[0].Completed.Answer)
}

// TestS2FileChangeDetection mirrors spec scenario S2.
func TestS2FileChangeDetection(t *testing.T) {
	st := newState()
	events := translate(decodeMust(t, `{"role":"assistant","content":"","tool_calls":[{"type":"function","id":"tc_2","function":{"name":"Write","arguments":"{\"file_path\":\"notes.md\",\"content\":\"...\"}"}}]}`), st)
	require.Len(t, events, 1)
	action := events[0].Action.Action
	assert.Equal(t, model.ActionFileChange, action.Kind)
	changes, ok := action.Detail["changes"].([]model.FileChange)
	require.True(t, ok)
	require.Len(t, changes, 1)
	assert.Equal(t, "notes.md", changes[0].Path)
	assert.Equal(t, model.FileChangeUpdate, changes[0].Kind)
}

func TestStreamEndEventsWithoutAssistantTextIsError(t *testing.T) {
	st := newState()
	end := streamEndEvents(st)
	require.Len(t, end, 1)
	assert.False(t, end[0].Completed.OK)
	assert.Contains(t, end[0].Completed.Error, "no session_id was captured")
}

func TestFormatResumeExtractResumeRoundTrip(t *testing.T) {
	token := model.ResumeToken{Engine: engineID, Value: "abc123"}
	line, err := FormatResume(token)
	require.NoError(t, err)
	got := ExtractResume(line)
	require.NotNil(t, got)
	assert.Equal(t, token, *got)
}

func TestFormatResumeRejectsWrongEngine(t *testing.T) {
	_, err := FormatResume(model.ResumeToken{Engine: "codex", Value: "x"})
	assert.Error(t, err)
}

func TestOnNonZeroExit(t *testing.T) {
	st := newState()
	events := onNonZeroExit(7, st)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventCompleted, events[1].Kind)
	assert.Equal(t, "kimi failed (rc=7).", events[1].Completed.Error)
}

func TestToolResultWithoutMatchingActionSynthesizesGenericTool(t *testing.T) {
	st := newState()
	events := translate(decodeMust(t, `{"role":"tool","tool_call_id":"ghost","content":"ok"}`), st)
	require.Len(t, events, 1)
	assert.Equal(t, model.ActionTool, events[0].Action.Action.Kind)
}

func TestSeedSessionFallsBackToSynthesizedID(t *testing.T) {
	st := newState()
	seedSession(st, "synth-123")
	events := translate(decodeMust(t, `{"role":"assistant","content":"Done."}`), st)
	require.Empty(t, events)
	completed := streamEndEvents(st)
	require.Len(t, completed, 1)
	require.NotNil(t, completed[0].Completed.Resume)
	assert.Equal(t, "synth-123", completed[0].Completed.Resume.Value)
}
