package execsession

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(ch <-chan string) []string {
	var out []string
	for line := range ch {
		out = append(out, line)
	}
	return out
}

func TestSessionPipeModeStreamsLinesAndExitCode(t *testing.T) {
	s, err := Start(Opts{Command: []string{"sh", "-c", "echo one; echo two; exit 3"}})
	require.NoError(t, err)

	lines := drain(s.Lines)
	_ = drain(s.Stderr)
	code := s.Wait()

	assert.Equal(t, []string{"one", "two"}, lines)
	assert.Equal(t, 3, code)
	assert.True(t, s.HasExited())
}

func TestSessionStdinPayload(t *testing.T) {
	s, err := Start(Opts{Command: []string{"cat"}, Stdin: []byte("hello\n")})
	require.NoError(t, err)
	lines := drain(s.Lines)
	assert.Equal(t, []string{"hello"}, lines)
	assert.Equal(t, 0, s.Wait())
}

func TestSessionTerminateIsIdempotentAndBounded(t *testing.T) {
	s, err := Start(Opts{Command: []string{"sleep", "30"}})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		s.Terminate(200 * time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Terminate did not return in time")
	}
	assert.True(t, s.HasExited())
	// A second Terminate on an exited process returns at once.
	s.Terminate(200 * time.Millisecond)
	s.Close() // must not panic on an already-exited process
}
