package codex

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

func TestHappyPath(t *testing.T) {
	st := newState()

	ev1 := translate(decodeMust(t, `{"role":"assistant","content":"Checking.","tool_calls":[{"type":"function","id":"tc_1","function":{"name":"shell","arguments":"{\"command\":\"ls\"}"}}]}`), st)
	require.Len(t, ev1, 1)
	assert.Equal(t, model.ActionCommand, ev1[0].Action.Action.Kind)

	ev2 := translate(decodeMust(t, `{"role":"tool","tool_call_id":"tc_1","content":"a.txt"}`), st)
	require.Len(t, ev2, 1)
	assert.True(t, *ev2[0].Action.OK)

	translate(decodeMust(t, `{"role":"assistant","content":"Done.","session_id":"sess_1"}`), st)

	end := streamEndEvents(st)
	require.Len(t, end, 1)
	assert.True(t, end[0].Completed.OK)
	require.NotNil(t, end[0].Completed.Resume)
	assert.Equal(t, "sess_1", end[0].Completed.Resume.Value)
}

func TestApplyPatchIsFileChange(t *testing.T) {
	st := newState()
	events := translate(decodeMust(t, `{"role":"assistant","content":"","tool_calls":[{"type":"function","id":"tc_2","function":{"name":"apply_patch","arguments":"{\"path\":\"a.go\"}"}}]}`), st)
	require.Len(t, events, 1)
	assert.Equal(t, model.ActionFileChange, events[0].Action.Action.Kind)
}

func TestFormatResumeExtractResumeRoundTrip(t *testing.T) {
	token := model.ResumeToken{Engine: engineID, Value: "abc"}
	line, err := FormatResume(token)
	require.NoError(t, err)
	got := ExtractResume(line)
	require.NotNil(t, got)
	assert.Equal(t, token, *got)
}

func TestOnNonZeroExit(t *testing.T) {
	st := newState()
	events := onNonZeroExit(3, st)
	require.Len(t, events, 2)
	assert.Equal(t, "codex failed (rc=3).", events[1].Completed.Error)
}

func TestSeedSessionFallsBackToSynthesizedID(t *testing.T) {
	st := newState()
	seedSession(st, "synth-123")
	translate(decodeMust(t, `{"role":"assistant","content":"Done."}`), st)

	end := streamEndEvents(st)
	require.Len(t, end, 1)
	require.NotNil(t, end[0].Completed.Resume)
	assert.Equal(t, "synth-123", end[0].Completed.Resume.Value)
}
