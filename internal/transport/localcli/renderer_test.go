package localcli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderRawStylesStatusLines(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out, DefaultStyles())
	r.RenderRaw("? pending question\nerror: boom\nresume: codex --resume s1\n")
	assert.Contains(t, out.String(), "pending question")
	assert.Contains(t, out.String(), "boom")
	assert.Contains(t, out.String(), "codex --resume s1")
}

func TestRenderRawRendersAnswerMarkerThroughGlamour(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out, PlainStyles())
	r.RenderRaw("[codex] done\n" + AnswerMarker + "\n# Fixed it\n\nSee `main.go`.\n")
	assert.True(t, strings.Contains(out.String(), "Fixed it"))
	assert.True(t, strings.Contains(out.String(), "main.go"))
}

func TestRenderRawClearsPreviousLinesOnRedraw(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out, PlainStyles())
	r.RenderRaw("first\nsecond\n")
	r.RenderRaw("third\n")
	assert.Contains(t, out.String(), "\x1b[1A\x1b[2K")
}
