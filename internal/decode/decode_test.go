package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLineAssistantWithToolCalls(t *testing.T) {
	line := []byte(`{"role":"assistant","content":"Let me check.","tool_calls":[{"type":"function","id":"tc_1","function":{"name":"Shell","arguments":"{\"command\":\"ls\"}"}}]}`)
	rec, err := DecodeLine(line)
	require.NoError(t, err)
	assert.Equal(t, RoleAssistant, rec.Role)
	require.Len(t, rec.ToolCalls, 1)
	args, err := rec.ToolCalls[0].Arguments()
	require.NoError(t, err)
	assert.Equal(t, "ls", args["command"])
}

func TestDecodeLineToolResultStringContent(t *testing.T) {
	line := []byte(`{"role":"tool","tool_call_id":"tc_1","content":"file1.txt\nfile2.txt"}`)
	rec, err := DecodeLine(line)
	require.NoError(t, err)
	assert.Equal(t, "tc_1", rec.ToolCallID)
	assert.Equal(t, "file1.txt\nfile2.txt", rec.ContentText())
}

func TestDecodeLineToolResultListContent(t *testing.T) {
	line := []byte(`{"role":"tool","tool_call_id":"tc_1","content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`)
	rec, err := DecodeLine(line)
	require.NoError(t, err)
	assert.Equal(t, "a\nb", rec.ContentText())
}

func TestDecodeLineInvalidJSON(t *testing.T) {
	_, err := DecodeLine([]byte(`{not json`))
	assert.Error(t, err)
}

func TestToolCallArgumentsCachesAndReportsDecodeError(t *testing.T) {
	tc := ToolCall{Function: ToolCallFunction{Arguments: "{bad"}}
	_, err := tc.Arguments()
	assert.Error(t, err)
	// Second call returns the cached empty map without re-erroring loudly.
	args, err2 := tc.Arguments()
	require.NoError(t, err2)
	assert.Empty(t, args)
}
