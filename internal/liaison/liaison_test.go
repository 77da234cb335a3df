package liaison

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classicrob/takopi-go/internal/model"
)

type fakeMux struct {
	mu       sync.Mutex
	sessions map[string]bool
	captures map[string][]string // target -> queue of capture results
	sentKeys []string
}

func newFakeMux() *fakeMux {
	return &fakeMux{sessions: make(map[string]bool), captures: make(map[string][]string)}
}

func (f *fakeMux) NewSession(name, window string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[name] = true
	return nil
}

func (f *fakeMux) HasSession(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[name]
}

func (f *fakeMux) SendKeys(target, keys string, enter bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentKeys = append(f.sentKeys, keys)
	return nil
}

func (f *fakeMux) CapturePane(target string, lines int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.captures[target]
	if len(q) == 0 {
		return "", nil
	}
	next := q[0]
	if len(q) > 1 {
		f.captures[target] = q[1:]
	}
	return next, nil
}

func (f *fakeMux) KillSession(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, name)
	return nil
}

func (f *fakeMux) SplitWindow(name string) (int, error) { return 1, nil }

func (f *fakeMux) queueCapture(target string, lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures[target] = append(f.captures[target], lines...)
}

func collectEvents(ch <-chan model.Event, timeout time.Duration) []model.Event {
	var events []model.Event
	deadline := time.After(timeout)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, e)
		case <-deadline:
			return events
		}
	}
}

func TestLiaisonNewSessionCancellation(t *testing.T) {
	mux := newFakeMux()
	cfg := Config{
		PollInterval:       10 * time.Millisecond,
		SessionsDir:        t.TempDir(),
		CoordinationFolder: t.TempDir(),
		Engine:             "kimi",
	}
	l := NewWithMultiplexer(cfg, mux)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := l.Run(ctx, "build the thing", nil)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	cancel()

	events := collectEvents(ch, time.Second)
	require.NotEmpty(t, events)
	assert.Equal(t, model.EventStarted, events[0].Kind)
	last := events[len(events)-1]
	require.Equal(t, model.EventCompleted, last.Kind)
	assert.False(t, last.Completed.OK)
	assert.Equal(t, "cancelled", last.Completed.Error)

	assert.Len(t, mux.sentKeys, 1)
	assert.Contains(t, mux.sentKeys[0], "build the thing")
}

func TestLiaisonResumeWithMissingTmuxSession(t *testing.T) {
	sessionsDir := t.TempDir()
	graph := &Graph{
		SessionID:          "liaison_abc123",
		TmuxSession:        "takopi_liaison_abc123",
		CoordinationFolder: t.TempDir(),
		Panes: []Pane{{
			PaneID: "0.0", SessionName: "takopi_liaison_abc123", Engine: "kimi", Role: RoleLiaison,
		}},
	}
	require.NoError(t, graph.Save(sessionsDir))

	mux := newFakeMux() // HasSession returns false for everything: session absent

	cfg := Config{SessionsDir: sessionsDir, CoordinationFolder: graph.CoordinationFolder, Engine: "kimi"}
	l := NewWithMultiplexer(cfg, mux)

	resume := &model.ResumeToken{Engine: "liaison", Value: "liaison_abc123"}
	ch, err := l.Run(context.Background(), "", resume)
	require.NoError(t, err)

	events := collectEvents(ch, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventCompleted, events[0].Kind)
	assert.False(t, events[0].Completed.OK)
	assert.True(t, strings.HasPrefix(events[0].Completed.Error, "Failed to restore liaison session"))
}

func TestLiaisonEscalatesQuestionAndRoutesResponse(t *testing.T) {
	mux := newFakeMux()
	cfg := Config{
		PollInterval:       10 * time.Millisecond,
		SessionsDir:        t.TempDir(),
		CoordinationFolder: t.TempDir(),
		Engine:             "kimi",
	}
	l := NewWithMultiplexer(cfg, mux)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := l.Run(ctx, "do the risky thing", nil)
	require.NoError(t, err)

	time.Sleep(15 * time.Millisecond)
	target := l.brainPane().Target()
	mux.queueCapture(target, "Delete the production database?")

	var reqID string
	deadline := time.After(time.Second)
loop:
	for {
		select {
		case e := <-ch:
			if e.Kind == model.EventInputRequest {
				reqID = e.InputRequest.RequestID
				break loop
			}
		case <-deadline:
			t.Fatal("timed out waiting for input_request")
		}
	}
	require.NotEmpty(t, reqID)

	require.NoError(t, l.HandleInputResponse(model.InputResponseEvent{RequestID: reqID, Response: "no"}))
	assert.Contains(t, mux.sentKeys, "no")
}
