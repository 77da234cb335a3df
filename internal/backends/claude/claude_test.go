package claude

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classicrob/takopi-go/internal/model"
)

func TestDecodeLineSystemInitCapturesSessionID(t *testing.T) {
	rec, err := decodeLine([]byte(`{"type":"system","subtype":"init","session_id":"sess_1"}`))
	require.NoError(t, err)
	assert.Equal(t, "sess_1", rec.SessionID)
}

func TestDecodeAndTranslateToolUseThenResult(t *testing.T) {
	st := newState()

	rec1, err := decodeLine([]byte(`{"type":"assistant","session_id":"sess_1","message":{"content":[{"type":"text","text":"Checking."},{"type":"tool_use","id":"tc_1","name":"Bash","input":{"command":"ls"}}]}}`))
	require.NoError(t, err)
	ev1 := translate(rec1, st)
	require.Len(t, ev1, 1)
	assert.Equal(t, model.ActionCommand, ev1[0].Action.Action.Kind)
	assert.Equal(t, model.PhaseStarted, ev1[0].Action.Phase)

	rec2, err := decodeLine([]byte(`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tc_1","content":"file1.txt"}]}}`))
	require.NoError(t, err)
	ev2 := translate(rec2, st)
	require.Len(t, ev2, 1)
	assert.Equal(t, model.PhaseCompleted, ev2[0].Action.Phase)
	assert.True(t, *ev2[0].Action.OK)

	rec3, err := decodeLine([]byte(`{"type":"assistant","session_id":"sess_1","message":{"content":[{"type":"text","text":"Done."}]}}`))
	require.NoError(t, err)
	translate(rec3, st)

	end := streamEndEvents(st)
	require.Len(t, end, 1)
	assert.True(t, end[0].Completed.OK)
	assert.Equal(t, "Done.", end[0].Completed.Answer)
	require.NotNil(t, end[0].Completed.Resume)
	assert.Equal(t, "sess_1", end[0].Completed.Resume.Value)
}

func TestDecodeLineBatchedToolResults(t *testing.T) {
	st := newState()
	rec, err := decodeLine([]byte(`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"a","content":"ok"},{"type":"tool_result","tool_use_id":"b","content":"oops","is_error":true}]}}`))
	require.NoError(t, err)
	events := translate(rec, st)
	require.Len(t, events, 2)
	assert.True(t, *events[0].Action.OK)
	assert.False(t, *events[1].Action.OK)
}

func TestStreamEndEventsWithoutAssistantTextIsError(t *testing.T) {
	st := newState()
	end := streamEndEvents(st)
	require.Len(t, end, 1)
	assert.False(t, end[0].Completed.OK)
}

func TestFormatResumeExtractResumeRoundTrip(t *testing.T) {
	token := model.ResumeToken{Engine: engineID, Value: "sess_9"}
	line, err := FormatResume(token)
	require.NoError(t, err)
	got := ExtractResume(line)
	require.NotNil(t, got)
	assert.Equal(t, token, *got)
}

func TestOnNonZeroExit(t *testing.T) {
	st := newState()
	events := onNonZeroExit(2, st)
	require.Len(t, events, 2)
	assert.Equal(t, "claude failed (rc=2).", events[1].Completed.Error)
}

func TestSeedSessionFallsBackToSynthesizedID(t *testing.T) {
	st := newState()
	seedSession(st, "synth-123")

	rec, err := decodeLine([]byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"Done."}]}}`))
	require.NoError(t, err)
	translate(rec, st)

	end := streamEndEvents(st)
	require.Len(t, end, 1)
	require.NotNil(t, end[0].Completed.Resume)
	assert.Equal(t, "synth-123", end[0].Completed.Resume.Value)
}
