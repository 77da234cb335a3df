package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classicrob/takopi-go/internal/decode"
	"github.com/classicrob/takopi-go/internal/model"
)

type echoState struct {
	lastText     string
	foundSession string
}

func echoBackend(script string) Backend {
	return Backend{
		ID: "echo",
		BuildArgv: func(prompt string, resume *model.ResumeToken) ([]string, error) {
			return []string{"sh", "-c", script}, nil
		},
		NewState: func() State { return &echoState{} },
		Translate: func(rec *decode.Record, st State) []model.Event {
			s := st.(*echoState)
			s.lastText = rec.ContentText()
			return nil
		},
		StreamEndEvents: func(st State) []model.Event {
			s := st.(*echoState)
			var resume *model.ResumeToken
			if s.foundSession != "" {
				resume = &model.ResumeToken{Engine: "echo", Value: s.foundSession}
			}
			return []model.Event{model.NewCompleted(model.CompletedEvent{Engine: "echo", OK: true, Answer: s.lastText, Resume: resume})}
		},
		OnNonZeroExit: func(rc int, st State) []model.Event {
			return []model.Event{model.NewCompleted(model.CompletedEvent{Engine: "echo", OK: false, Error: "echo failed"})}
		},
		ExtractResume: func(line string) *model.ResumeToken { return nil },
		SeedSession: func(st State, sessionID string) {
			st.(*echoState).foundSession = sessionID
		},
	}
}

func TestDefaultSubprocessEnvStripsSecretsUnlessBackendOverrides(t *testing.T) {
	t.Setenv("TAKOPI_TEST_API_KEY", "shh")
	t.Setenv("TAKOPI_TEST_PLAIN", "visible")

	env := defaultSubprocessEnv()
	var sawKey, sawPlain bool
	for _, kv := range env {
		if kv == "TAKOPI_TEST_API_KEY=shh" {
			sawKey = true
		}
		if kv == "TAKOPI_TEST_PLAIN=visible" {
			sawPlain = true
		}
	}
	assert.False(t, sawKey, "default env should filter *KEY* vars")
	assert.True(t, sawPlain, "default env should keep unrelated vars")
}

func collect(ch <-chan model.Event) []model.Event {
	var out []model.Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func TestRunnerHappyPathEmitsStartedThenCompleted(t *testing.T) {
	b := echoBackend(`echo '{"role":"assistant","content":"hi"}'`)
	r := New(b, nil)
	ch, err := r.Run(context.Background(), "prompt", nil)
	require.NoError(t, err)

	events := collect(ch)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventStarted, events[0].Kind)
	assert.NotEmpty(t, events[0].Started.Resume.Value)
	assert.Equal(t, model.EventCompleted, events[1].Kind)
	assert.True(t, events[1].Completed.OK)
	assert.Equal(t, "hi", events[1].Completed.Answer)
}

func TestRunnerSeedsSynthesizedSessionIntoCompletedResume(t *testing.T) {
	b := echoBackend(`echo '{"role":"assistant","content":"hi"}'`)
	r := New(b, nil)
	ch, err := r.Run(context.Background(), "prompt", nil)
	require.NoError(t, err)

	events := collect(ch)
	require.Len(t, events, 2)
	started := events[0].Started.Resume.Value
	require.NotEmpty(t, started)
	require.NotNil(t, events[1].Completed.Resume)
	assert.Equal(t, started, events[1].Completed.Resume.Value)
}

func TestRunnerNonZeroExit(t *testing.T) {
	b := echoBackend(`echo '{"role":"assistant","content":"x"}'; exit 5`)
	r := New(b, nil)
	ch, err := r.Run(context.Background(), "prompt", nil)
	require.NoError(t, err)

	events := collect(ch)
	last := events[len(events)-1]
	assert.False(t, last.Completed.OK)
}

func TestRunnerRejectsMismatchedResumeEngine(t *testing.T) {
	b := echoBackend(`true`)
	r := New(b, nil)
	_, err := r.Run(context.Background(), "prompt", &model.ResumeToken{Engine: "other", Value: "x"})
	assert.Error(t, err)
}

func TestRunnerCancellationYieldsCancelledCompleted(t *testing.T) {
	b := echoBackend(`sleep 30`)
	r := New(b, nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := r.Run(ctx, "prompt", nil)
	require.NoError(t, err)

	cancel()

	select {
	case events, ok := <-drainUntilClosed(ch):
		_ = events
		_ = ok
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not terminate after cancellation")
	}
}

// drainUntilClosed collects every event and returns a closed channel
// carrying the final completed event, for tests that just need to know
// the run terminated rather than inspect every event.
func drainUntilClosed(ch <-chan model.Event) <-chan model.Event {
	out := make(chan model.Event, 1)
	go func() {
		var last model.Event
		for e := range ch {
			last = e
		}
		out <- last
		close(out)
	}()
	return out
}
