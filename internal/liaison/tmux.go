// Package liaison implements the §4.4 liaison orchestrator: a runner that
// drives other coding-agent CLIs inside terminal-multiplexer panes instead
// of spawning a single subprocess per run.
//
// Grounded on: original_source/src/takopi/runners/liaison.py (pane
// lifecycle, polling loop, tmux command shapes) and
// internal/cli/poller.go's ticker-driven polling loop, generalized from
// Temporal workflow queries to tmux pane captures.
package liaison

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Multiplexer abstracts the terminal-multiplexer commands the liaison
// needs, so the polling loop can be tested without a real tmux binary.
type Multiplexer interface {
	NewSession(sessionName, windowName string) error
	HasSession(sessionName string) bool
	SendKeys(target, keys string, enter bool) error
	CapturePane(target string, lines int) (string, error)
	KillSession(sessionName string) error
	SplitWindow(sessionName string) (paneIndex int, err error)
}

// Tmux shells out to the real tmux(1) binary.
type Tmux struct {
	Bin string // defaults to "tmux"
}

// NewTmux returns a Multiplexer backed by the tmux binary on PATH.
func NewTmux() *Tmux { return &Tmux{Bin: "tmux"} }

func (t *Tmux) bin() string {
	if t.Bin == "" {
		return "tmux"
	}
	return t.Bin
}

func (t *Tmux) run(args ...string) (string, error) {
	cmd := exec.Command(t.bin(), args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	err := cmd.Run()
	if err != nil {
		return out.String(), fmt.Errorf("tmux %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(errBuf.String()))
	}
	return out.String(), nil
}

func (t *Tmux) NewSession(sessionName, windowName string) error {
	_, err := t.run("new-session", "-d", "-s", sessionName, "-n", windowName)
	return err
}

func (t *Tmux) HasSession(sessionName string) bool {
	_, err := t.run("has-session", "-t", sessionName)
	return err == nil
}

func (t *Tmux) SendKeys(target, keys string, enter bool) error {
	args := []string{"send-keys", "-t", target, keys}
	if enter {
		args = append(args, "Enter")
	}
	_, err := t.run(args...)
	return err
}

func (t *Tmux) CapturePane(target string, lines int) (string, error) {
	return t.run("capture-pane", "-t", target, "-p", "-S", "-"+strconv.Itoa(lines))
}

func (t *Tmux) KillSession(sessionName string) error {
	_, err := t.run("kill-session", "-t", sessionName)
	return err
}

func (t *Tmux) SplitWindow(sessionName string) (int, error) {
	out, err := t.run("split-window", "-t", sessionName, "-P", "-F", "#{pane_index}")
	if err != nil {
		return 0, err
	}
	idx, convErr := strconv.Atoi(strings.TrimSpace(out))
	if convErr != nil {
		return 0, fmt.Errorf("tmux split-window: unexpected pane index output %q", out)
	}
	return idx, nil
}
