package localcli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/classicrob/takopi-go/internal/transport"
)

// Transport is the single-user local terminal chat transport: it prints
// messages to stdout and reads prompts line-by-line from stdin. Since
// there is exactly one channel ("local"), Send/Edit/Delete operate on
// synthetic incrementing refs rather than a remote API's message ids.
// Output goes through a Renderer, which redraws in place the way a
// status line would rather than scrolling a new block per update.
type Transport struct {
	in     *bufio.Scanner
	out    io.Writer
	errOut io.Writer
	logger *zap.Logger

	renderer *Renderer

	messages  chan transport.IncomingMessage
	callbacks chan transport.Callback

	nextRef atomic.Int64

	mu   sync.Mutex
	sent map[transport.MessageRef]string
}

// New returns a local-terminal Transport. Call Run to start the stdin
// reader loop; it stops when ctx is cancelled or stdin reaches EOF. Color
// output is used when out is a tty and NO_COLOR is unset, matching the
// convention most terminal CLIs in the ecosystem follow. A nil logger is
// replaced with a no-op logger.
func New(in io.Reader, out, errOut io.Writer, logger *zap.Logger) *Transport {
	styles := PlainStyles()
	if f, ok := out.(*os.File); ok && os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(f.Fd())) {
		styles = DefaultStyles()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		in:        bufio.NewScanner(in),
		out:       out,
		errOut:    errOut,
		logger:    logger,
		renderer:  NewRenderer(out, styles),
		messages:  make(chan transport.IncomingMessage, 16),
		callbacks: make(chan transport.Callback, 16),
		sent:      make(map[transport.MessageRef]string),
	}
}

// Run drains stdin line by line, forwarding each non-empty line as an
// IncomingMessage on channel "local". Lines beginning with "/" are
// forwarded as Callback.Data with the leading slash stripped, matching
// the prefixed-namespace convention of §6 (e.g. "/cancel" -> Callback{Data: "cancel"}).
func (t *Transport) Run(ctx context.Context) {
	defer close(t.messages)
	defer close(t.callbacks)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for t.in.Scan() {
			lines <- t.in.Text()
		}
		if err := t.in.Err(); err != nil {
			t.logger.Warn("stdin scan", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "/") {
				cb := transport.Callback{Channel: "local", Data: strings.TrimPrefix(line, "/")}
				select {
				case t.callbacks <- cb:
				case <-ctx.Done():
					return
				}
				continue
			}
			msg := transport.IncomingMessage{Channel: "local", Text: line, UserID: "local"}
			select {
			case t.messages <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (t *Transport) Send(ctx context.Context, channel, message string, opts transport.Options) (transport.MessageRef, error) {
	ref := transport.MessageRef(fmt.Sprintf("local-%d", t.nextRef.Add(1)))
	t.renderer.RenderRaw(message)
	t.mu.Lock()
	t.sent[ref] = message
	t.mu.Unlock()
	return ref, nil
}

func (t *Transport) Edit(ctx context.Context, ref transport.MessageRef, message string) (transport.MessageRef, error) {
	t.mu.Lock()
	_, ok := t.sent[ref]
	if ok {
		t.sent[ref] = message
	}
	t.mu.Unlock()
	if !ok {
		return ref, fmt.Errorf("localcli: unknown message ref %q", ref)
	}
	t.renderer.RenderRaw(message)
	return ref, nil
}

func (t *Transport) Delete(ctx context.Context, ref transport.MessageRef) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sent[ref]; !ok {
		return false, nil
	}
	delete(t.sent, ref)
	return true, nil
}

func (t *Transport) IncomingMessages() <-chan transport.IncomingMessage { return t.messages }

func (t *Transport) Callbacks() <-chan transport.Callback { return t.callbacks }

var _ transport.Transport = (*Transport)(nil)
