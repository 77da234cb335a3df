// Package runner implements the backend-parameterized state machine of
// §4.3: spawn a subprocess, read its stdout line-by-line, translate lines
// into canonical events via a per-backend capability record, and
// synthesize terminal events on EOF or non-zero exit.
//
// Grounded on: internal/execsession's subprocess lifecycle, and
// original_source/src/takopi/runners/kimi.py's JsonlSubprocessRunner for
// the step-by-step translation loop.
package runner

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classicrob/takopi-go/internal/apperrors"
	"github.com/classicrob/takopi-go/internal/decode"
	"github.com/classicrob/takopi-go/internal/execenv"
	"github.com/classicrob/takopi-go/internal/execsession"
	"github.com/classicrob/takopi-go/internal/model"
)

// State is opaque per-run backend state (e.g. pending tool calls, last
// assistant text). Each Backend constructs its own concrete type.
type State interface{}

// Backend is the capability record of §9 "Dynamic dispatch": a value, not
// a subclass, supplying every hook the runner needs to drive one kind of
// agent CLI.
type Backend struct {
	// ID is the engine identifier ("claude", "codex", "kimi", ...).
	ID model.EngineID

	// InstallCmd is a human-readable hint shown when the backend binary is
	// missing from PATH.
	InstallCmd string

	// BuildArgv composes the subprocess argv from a prompt and optional
	// resume token. Returning an error fails the run before spawn.
	BuildArgv func(prompt string, resume *model.ResumeToken) ([]string, error)

	// Env returns the subprocess environment, or nil to inherit the
	// current process's environment.
	Env func() []string

	// StdinPayload returns the initial stdin payload, or nil if the
	// backend takes its prompt purely via argv.
	StdinPayload func(prompt string) []byte

	// TTY requests PTY-mode spawning for backends that only emit
	// structured output when attached to a terminal.
	TTY bool

	// NewState constructs a fresh per-run State.
	NewState func() State

	// DecodeLine parses one stdout line into a decode.Record. Defaults to
	// decode.DecodeLine when nil.
	DecodeLine func(line []byte) (*decode.Record, error)

	// Translate turns one decoded record into zero or more canonical
	// events, mutating st as needed (pending actions, last assistant
	// text, discovered resume token, etc).
	Translate func(rec *decode.Record, st State) []model.Event

	// StreamEndEvents synthesizes the terminal completed event (and any
	// trailing notes) when the backend's own stream did not already
	// produce one.
	StreamEndEvents func(st State) []model.Event

	// OnNonZeroExit synthesizes events for a subprocess that exited
	// non-zero.
	OnNonZeroExit func(rc int, st State) []model.Event

	// FormatResume renders a ResumeToken as an echoable resume line.
	FormatResume func(token model.ResumeToken) (string, error)

	// ExtractResume scans one line of agent-authored text for a resume
	// token, per the backend's resume-line regex.
	ExtractResume func(line string) *model.ResumeToken

	// SeedSession primes st with the session id the runner already
	// committed to in the started event (the backend's own id when decoded,
	// or a synthesized uuid otherwise), so StreamEndEvents/OnNonZeroExit
	// fall back to it per §4.3 step 6's
	// resume=found_session??synthesized_session_id when the backend's own
	// translation never discovers a session id of its own.
	SeedSession func(st State, sessionID string)
}

// Registry is the process-wide map from engine id to Backend named in §9
// "Global state". The zero value is ready to use; a package-level
// DefaultRegistry is provided for process-wide registration.
type Registry struct {
	backends map[model.EngineID]Backend
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[model.EngineID]Backend)}
}

// Register adds b to the registry. Registering a duplicate id is a
// programmer error and panics, matching §9's "duplicate ids are a
// programmer-error at registration".
func (r *Registry) Register(b Backend) {
	if _, exists := r.backends[b.ID]; exists {
		panic(fmt.Sprintf("runner: duplicate backend id %q", b.ID))
	}
	r.backends[b.ID] = b
}

// Get looks up a backend by id.
func (r *Registry) Get(id model.EngineID) (Backend, bool) {
	b, ok := r.backends[id]
	return b, ok
}

// IDs returns all registered backend ids.
func (r *Registry) IDs() []model.EngineID {
	ids := make([]model.EngineID, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	return ids
}

// DefaultRegistry is the process-wide backend registry used by cmd/takopi
// and by tests that want realistic end-to-end wiring.
var DefaultRegistry = NewRegistry()

// Runner drives one Backend's subprocess lifecycle and emits canonical
// events on Events until the run's terminal completed event.
type Runner struct {
	backend Backend
	logger  *zap.Logger
}

// New constructs a Runner for backend, logging decode/subprocess issues to
// logger (a no-op logger is used if logger is nil).
func New(backend Backend, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{backend: backend, logger: logger}
}

// Run executes one agent invocation end to end, returning a channel of
// canonical events in emission order. The channel is closed after the
// terminal completed event is sent. Run returns an error, and no channel,
// for failures up to and including spawn: a resume token tagged for a
// different engine, a BuildArgv error, or a subprocess that cannot be
// started. Once the subprocess is spawned, every failure becomes a
// completed(ok=false) event instead.
func (r *Runner) Run(ctx context.Context, prompt string, resume *model.ResumeToken) (<-chan model.Event, error) {
	if resume != nil && resume.Engine != r.backend.ID {
		return nil, fmt.Errorf("runner: resume token engine %q does not match backend %q", resume.Engine, r.backend.ID)
	}

	argv, err := r.backend.BuildArgv(prompt, resume)
	if err != nil {
		return nil, fmt.Errorf("runner: build argv: %w", err)
	}

	var env []string
	if r.backend.Env != nil {
		env = r.backend.Env()
	} else {
		env = defaultSubprocessEnv()
	}
	var stdin []byte
	if r.backend.StdinPayload != nil {
		stdin = r.backend.StdinPayload(prompt)
	}

	sess, err := execsession.Start(execsession.Opts{
		Command: argv,
		Env:     env,
		TTY:     r.backend.TTY,
		Stdin:   stdin,
	})
	if err != nil {
		return nil, fmt.Errorf("runner: spawn: %w", err)
	}

	out := make(chan model.Event, 16)
	go r.drive(ctx, sess, out)
	return out, nil
}

func (r *Runner) decodeLine(line []byte) (*decode.Record, error) {
	if r.backend.DecodeLine != nil {
		return r.backend.DecodeLine(line)
	}
	return decode.DecodeLine(line)
}

func (r *Runner) drive(ctx context.Context, sess *execsession.Session, out chan<- model.Event) {
	defer close(out)

	st := r.backend.NewState()
	didStart := false
	send := func(e model.Event) { out <- e }

	var cancelled atomic.Bool
	runDone := make(chan struct{})
	defer close(runDone)
	go func() {
		select {
		case <-ctx.Done():
			cancelled.Store(true)
			sess.Terminate(5 * time.Second)
		case <-runDone:
		}
	}()

	for {
		line, ok := <-sess.Lines
		if !ok {
			break
		}
		if line == "" {
			continue
		}
		rec, err := r.decodeLine([]byte(line))
		if err != nil {
			r.logger.Warn("dropping malformed backend line",
				zap.String("engine", string(r.backend.ID)), zap.Error(err))
			continue
		}
		if !didStart {
			didStart = true
			value := rec.SessionID
			if value == "" {
				value = uuid.NewString()
			}
			if r.backend.SeedSession != nil {
				r.backend.SeedSession(st, value)
			}
			send(model.NewStarted(model.StartedEvent{
				Engine: r.backend.ID,
				Resume: model.ResumeToken{Engine: r.backend.ID, Value: value},
			}))
		}
		for _, ev := range r.backend.Translate(rec, st) {
			send(ev)
		}
	}
	// drain stderr without blocking stdout processing above
	for range sess.Stderr {
	}

	rc := sess.Wait()

	if !didStart {
		value := uuid.NewString()
		if r.backend.SeedSession != nil {
			r.backend.SeedSession(st, value)
		}
		send(model.NewStarted(model.StartedEvent{
			Engine: r.backend.ID,
			Resume: model.ResumeToken{Engine: r.backend.ID, Value: value},
		}))
	}

	if cancelled.Load() {
		send(model.NewCompleted(model.CompletedEvent{
			Engine: r.backend.ID,
			OK:     false,
			Error:  apperrors.NewCancelled().Message,
		}))
		return
	}

	if rc != 0 {
		for _, ev := range r.backend.OnNonZeroExit(rc, st) {
			send(ev)
		}
		return
	}

	for _, ev := range r.backend.StreamEndEvents(st) {
		send(ev)
	}
}

// defaultSubprocessEnv is used for any Backend that doesn't supply its own
// Env hook. Unlike codex-rs's own default (inherit everything, unfiltered),
// takopi spawns engine CLIs on behalf of a long-running supervisor process
// rather than a single sandboxed exec call, so *KEY*/*SECRET*/*TOKEN*-named
// variables are stripped by default: a stray env dump in an engine's debug
// logs shouldn't leak the supervisor's own credentials.
func defaultSubprocessEnv() []string {
	policy := execenv.ShellEnvironmentPolicy{Inherit: execenv.InheritAll}
	vars := execenv.CreateEnv(&policy)
	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	return env
}
