package localcli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// AnswerMarker is the sentinel line renderState/renderProgressState emit
// before an engine's final markdown answer, so Renderer knows where plain
// status lines end and markdown begins.
const AnswerMarker = "ANSWER:"

// Renderer draws already-formatted status text to a writer, clearing the
// previous render's lines first so repeated Send/Edit calls behave like a
// live status display rather than scrolling a new block each time —
// matching the density of internal/cli/renderer.go's turn-by-turn output
// without Temporal's workflow-item model.
type Renderer struct {
	out           io.Writer
	styles        Styles
	lastLineCount int
	answerRender  *glamour.TermRenderer
}

// NewRenderer returns a Renderer writing to out with styles. Any text
// following an AnswerMarker line is rendered through glamour at the
// detected terminal width (falling back to 80 columns when out isn't a
// tty, e.g. piped output or tests).
func NewRenderer(out io.Writer, styles Styles) *Renderer {
	width := 80
	if f, ok := out.(*os.File); ok {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			width = w
		}
	}
	answerRender, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	return &Renderer{out: out, styles: styles, answerRender: answerRender}
}

func (r *Renderer) clear() {
	for i := 0; i < r.lastLineCount; i++ {
		fmt.Fprint(r.out, "\x1b[1A\x1b[2K")
	}
}

// RenderRaw clears the previous render and prints text built by
// renderState/renderProgressState, styling recognizable status-line
// prefixes and glamour-rendering anything past an AnswerMarker line as
// markdown.
func (r *Renderer) RenderRaw(text string) {
	r.clear()
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")

	var rendered []string
	for i, line := range lines {
		if line == AnswerMarker {
			rendered = append(rendered, r.renderAnswer(strings.Join(lines[i+1:], "\n"))...)
			break
		}
		rendered = append(rendered, r.styleRawLine(line))
	}

	for _, line := range rendered {
		fmt.Fprintln(r.out, line)
	}
	r.lastLineCount = len(rendered)
}

// renderAnswer formats the engine's final markdown response through
// glamour, falling back to the raw text if rendering fails (e.g. an
// answerRender construction error at startup left it nil).
func (r *Renderer) renderAnswer(answer string) []string {
	text := answer
	if r.answerRender != nil {
		if out, err := r.answerRender.Render(answer); err == nil {
			text = out
		}
	}
	return strings.Split(strings.TrimRight(text, "\n"), "\n")
}

func (r *Renderer) styleRawLine(line string) string {
	switch {
	case strings.HasPrefix(line, "error:"):
		return r.styles.ErrorLine.Render(line)
	case strings.HasPrefix(line, "?"):
		return r.styles.PendingLine.Render(line)
	case strings.HasPrefix(line, "resume:"):
		return r.styles.ResumeLine.Render(line)
	default:
		return line
	}
}
