// takopi is the supervisor entrypoint: it loads the TOML config, resolves
// an engine via the smart router, drives that engine's runner (or the
// liaison orchestrator for multi-agent work) to completion, and renders
// the resulting session card over a chat transport.
//
// Usage:
//
//	takopi -p "fix the failing test"            Route automatically, print to stdout
//	takopi -p "..." --engine claude             Force a specific engine
//	takopi -p "..." --resume sess_abc123        Resume a prior session
//	takopi -p "..." --transport telegram        Serve over a Telegram bot instead of stdio
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/classicrob/takopi-go/internal/backends/claude"
	"github.com/classicrob/takopi-go/internal/backends/codex"
	"github.com/classicrob/takopi-go/internal/backends/kimi"
	"github.com/classicrob/takopi-go/internal/config"
	"github.com/classicrob/takopi-go/internal/escalation"
	"github.com/classicrob/takopi-go/internal/liaison"
	"github.com/classicrob/takopi-go/internal/model"
	"github.com/classicrob/takopi-go/internal/progress"
	"github.com/classicrob/takopi-go/internal/router"
	"github.com/classicrob/takopi-go/internal/runner"
	"github.com/classicrob/takopi-go/internal/sessioncard"
	"github.com/classicrob/takopi-go/internal/transport"
	"github.com/classicrob/takopi-go/internal/transport/localcli"
	"github.com/classicrob/takopi-go/internal/transport/telegram"
	"github.com/classicrob/takopi-go/internal/version"
)

func registerBackends(reg *runner.Registry) {
	reg.Register(kimi.Backend())
	reg.Register(claude.Backend())
	reg.Register(codex.Backend())
}

func main() {
	prompt := flag.String("p", "", "prompt to send to the resolved engine")
	engineFlag := flag.String("engine", "", "force a specific engine (claude, codex, kimi, liaison)")
	resumeFlag := flag.String("resume", "", "resume token from a prior run")
	configPath := flag.String("config", "", "explicit config file path (bypasses candidate search)")
	transportFlag := flag.String("transport", "local", "chat transport: local or telegram")
	telegramToken := flag.String("telegram-token", "", "bot token for --transport telegram")
	autoSwitch := flag.Bool("auto-switch", false, "let the router actually switch to liaison on a high multi-agent score")
	devLog := flag.Bool("dev-log", false, "use zap's development logger instead of production")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if *prompt == "" {
		fmt.Fprintln(os.Stderr, "takopi: -p <prompt> is required")
		os.Exit(2)
	}

	logger, err := newLogger(*devLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "takopi: logger init: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	reg := runner.NewRegistry()
	registerBackends(reg)

	decision := router.SelectBackend(*prompt, router.Config{
		DefaultEngine:    firstAvailableEngine(cfg),
		AvailableEngines: availableEngines(cfg),
		ExplicitEngine:   model.EngineID(*engineFlag),
		AutoSwitch:       *autoSwitch,
	})
	logger.Info("router decision",
		zap.String("engine", string(decision.Engine)),
		zap.String("reason", string(decision.Reason)),
		zap.Float64("confidence", decision.Confidence))

	tport, runTransport, err := buildTransport(*transportFlag, *telegramToken, logger)
	if err != nil {
		logger.Fatal("build transport", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runTransport != nil {
		go func() {
			if err := runTransport(ctx); err != nil {
				logger.Warn("transport run loop exited", zap.Error(err))
			}
		}()
	}

	var resume *model.ResumeToken
	if *resumeFlag != "" {
		resume = &model.ResumeToken{Engine: decision.Engine, Value: *resumeFlag}
	}

	var events <-chan model.Event
	if decision.Engine == "liaison" {
		var l *liaison.Liaison
		l, events, err = runLiaison(ctx, cfg, logger, *prompt, resume)
		if err != nil {
			logger.Fatal("start run", zap.Error(err))
		}
		// Liaison runs are multi-agent by nature, so §4.6's session-card
		// superset view (per-engine badges, bounded activity log) is the
		// right presentation.
		renderLoopSessionCard(ctx, logger, tport, "cli", decision.Engine, events, l)
		return
	}

	events, err = runBackend(ctx, reg, logger, decision.Engine, *prompt, resume)
	if err != nil {
		logger.Fatal("start run", zap.Error(err))
	}
	// A single backend run has no badges to show; the plain §4.6 progress
	// tracker snapshot is the whole presentation.
	renderLoopProgress(ctx, logger, tport, "cli", decision.Engine, events)
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func firstAvailableEngine(cfg config.Config) model.EngineID {
	for name := range cfg.Backends {
		return model.EngineID(name)
	}
	return "kimi"
}

func availableEngines(cfg config.Config) []model.EngineID {
	ids := make([]model.EngineID, 0, len(cfg.Backends)+1)
	for name := range cfg.Backends {
		ids = append(ids, model.EngineID(name))
	}
	ids = append(ids, "liaison")
	return ids
}

func buildTransport(kind, telegramToken string, logger *zap.Logger) (transport.Transport, func(context.Context) error, error) {
	switch kind {
	case "telegram":
		if telegramToken == "" {
			return nil, nil, fmt.Errorf("--telegram-token is required for --transport telegram")
		}
		t, err := telegram.New(telegramToken, logger)
		if err != nil {
			return nil, nil, err
		}
		return t, t.Run, nil
	case "local", "":
		t := localcli.New(os.Stdin, os.Stdout, os.Stderr, logger)
		return t, t.Run, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", kind)
	}
}

func runBackend(ctx context.Context, reg *runner.Registry, logger *zap.Logger, engine model.EngineID, prompt string, resume *model.ResumeToken) (<-chan model.Event, error) {
	backend, ok := reg.Get(engine)
	if !ok {
		return nil, fmt.Errorf("unknown engine %q (install with its documented InstallCmd)", engine)
	}
	r := runner.New(backend, logger)
	return r.Run(ctx, prompt, resume)
}

func runLiaison(ctx context.Context, cfg config.Config, logger *zap.Logger, prompt string, resume *model.ResumeToken) (*liaison.Liaison, <-chan model.Event, error) {
	l := liaison.New(liaison.Config{
		PollInterval:       time.Duration(cfg.Liaison.PollIntervalS * float64(time.Second)),
		CaptureLines:       cfg.Liaison.CaptureLines,
		CaptainChair:       cfg.Liaison.CaptainChair,
		CoordinationFolder: cfg.Liaison.CoordinationFolder,
		Engine:             "claude",
		Policy:             escalation.NewDefault(),
		Logger:             logger,
	})
	events, err := l.Run(ctx, prompt, resume)
	return l, events, err
}

// renderLoopSessionCard folds the canonical event stream into a session
// card and pushes each change to the transport, mirroring §4.6's
// multi-agent presenter contract. Questions without an auto-answer are
// shown inside the card, and the next incoming transport message is
// routed back as the answer to the most recent input request (only one
// request id is tracked at a time, the common single-user case).
func renderLoopSessionCard(ctx context.Context, logger *zap.Logger, tport transport.Transport, channel string, engine model.EngineID, events <-chan model.Event, l *liaison.Liaison) {
	builder := sessioncard.NewBuilder(fmt.Sprintf("run-%d", time.Now().UnixNano()), 0, engine, func() float64 {
		return float64(time.Now().Unix())
	})
	var ref transport.MessageRef
	var pendingRequestID string

	renderAndSend := func() {
		state := builder.Build(5)
		text := renderState(state)
		if ref == "" {
			r, err := tport.Send(ctx, channel, text, transport.Options{})
			if err != nil {
				logger.Warn("send failed", zap.Error(err))
				return
			}
			ref = r
			return
		}
		if _, err := tport.Edit(ctx, ref, text); err != nil {
			logger.Warn("edit failed", zap.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-tport.IncomingMessages():
			if !ok {
				continue
			}
			if pendingRequestID != "" {
				if err := l.HandleInputResponse(model.InputResponseEvent{
					RequestID: pendingRequestID,
					Response:  msg.Text,
					Responder: model.ResponderUser,
				}); err != nil {
					logger.Warn("route input response", zap.Error(err))
				}
				builder.RemovePendingInput(pendingRequestID)
				renderAndSend()
				pendingRequestID = ""
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			applySessionCardEvent(builder, ev)
			if ev.Kind == model.EventInputRequest {
				pendingRequestID = ev.InputRequest.RequestID
			}
			renderAndSend()
			if ev.Kind == model.EventCompleted {
				return
			}
		}
	}
}

func applySessionCardEvent(b *sessioncard.Builder, ev model.Event) {
	switch ev.Kind {
	case model.EventStarted:
		if ev.Started.Resume.Value != "" {
			b.SetResume(fmt.Sprintf("%s --resume %s", ev.Started.Engine, ev.Started.Resume.Value))
		}
	case model.EventAction:
		b.IncrementStep(ev.Action.Engine)
		b.AddActivity(ev.Action.Engine, "action", activitySummary(ev.Action.Action), ev.Action.Action.Detail)
	case model.EventInputRequest:
		b.AddPendingInput(*ev.InputRequest)
	case model.EventInputResponse:
		b.RemovePendingInput(ev.InputResponse.RequestID)
	case model.EventCompleted:
		b.SetComplete(ev.Completed.OK, ev.Completed.Error, ev.Completed.Answer)
	}
}

func activitySummary(a model.Action) string {
	if a.Title != "" {
		return fmt.Sprintf("%s: %s", a.Kind, a.Title)
	}
	return string(a.Kind)
}

func renderState(s sessioncard.State) string {
	out := fmt.Sprintf("[%s] %s\n", s.PrimaryEngine, s.Status)
	for _, b := range s.Badges {
		out += sessioncard.FormatBadge(b) + " "
	}
	out += "\n"
	for _, item := range s.ActivityItems {
		out += sessioncard.FormatActivityItem(item, s.IsMultiAgent()) + "\n"
	}
	for _, p := range s.PendingInputs {
		out += fmt.Sprintf("? %s\n", p.Question)
	}
	if s.ErrorMessage != "" {
		out += fmt.Sprintf("error: %s\n", s.ErrorMessage)
	}
	if s.Answer != "" {
		out += localcli.AnswerMarker + "\n" + s.Answer + "\n"
	}
	return out
}

// renderLoopProgress drives a single-backend run through §4.6's plain
// progress tracker: no badges, just the ordered action/input-request fold
// it was designed for.
func renderLoopProgress(ctx context.Context, logger *zap.Logger, tport transport.Transport, channel string, engine model.EngineID, events <-chan model.Event) {
	tracker := progress.New(engine)
	var ref transport.MessageRef
	var pendingRequestID string
	var done bool

	renderAndSend := func() {
		state := tracker.Snapshot(formatResumeLine, "")
		text := renderProgressState(state, done)
		if ref == "" {
			r, err := tport.Send(ctx, channel, text, transport.Options{})
			if err != nil {
				logger.Warn("send failed", zap.Error(err))
				return
			}
			ref = r
			return
		}
		if _, err := tport.Edit(ctx, ref, text); err != nil {
			logger.Warn("edit failed", zap.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-tport.IncomingMessages():
			if !ok {
				continue
			}
			if pendingRequestID != "" {
				tracker.ClearInputRequest(pendingRequestID)
				renderAndSend()
				pendingRequestID = ""
			}
			_ = msg
		case ev, ok := <-events:
			if !ok {
				return
			}
			tracker.NoteEvent(ev)
			if ev.Kind == model.EventInputRequest {
				pendingRequestID = ev.InputRequest.RequestID
			}
			if ev.Kind == model.EventCompleted {
				done = true
			}
			renderAndSend()
			if ev.Kind == model.EventCompleted {
				return
			}
		}
	}
}

func formatResumeLine(token model.ResumeToken) string {
	return fmt.Sprintf("`%s --resume %s`", token.Engine, token.Value)
}

func renderProgressState(s progress.ProgressState, done bool) string {
	out := fmt.Sprintf("[%s]\n", s.Engine)
	for _, a := range s.Actions {
		status := "…"
		if a.OK != nil {
			if *a.OK {
				status = "ok"
			} else {
				status = "failed"
			}
		}
		out += fmt.Sprintf("- %s: %s [%s]\n", a.Action.Kind, a.Action.Title, status)
	}
	for _, r := range s.InputRequests {
		out += fmt.Sprintf("? %s\n", r.Question)
	}
	if s.ResumeLine != "" {
		out += fmt.Sprintf("resume: %s\n", s.ResumeLine)
	}
	if done {
		out += "done\n"
	}
	if s.Answer != "" {
		out += localcli.AnswerMarker + "\n" + s.Answer + "\n"
	}
	return out
}
