// Package execsession hosts a backend CLI subprocess and streams its
// stdout as discrete lines, for the runner framework's "read stdout
// line-by-line" contract (§4.3 step 4). It supports both PTY mode (for
// backends that refuse to emit structured output unless attached to a
// tty) and plain pipe mode.
//
// Adapted from: internal/execsession/session.go's PTY/pipe dual-mode
// subprocess spawning and drain-before-Wait discipline, generalized from
// periodic blob snapshots to a continuous line channel.
package execsession

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// ErrStdinClosed is returned by WriteStdin when the session has no usable
// stdin (pipe-mode stdin was already closed after the initial payload, or
// the process has exited).
var ErrStdinClosed = errors.New("stdin is closed")

// Opts configures a new session.
type Opts struct {
	Command []string // [program, args...]
	Cwd     string
	Env     []string // nil = inherit
	TTY     bool
	// Stdin, if non-nil, is written once and the pipe closed immediately
	// after — most backend CLIs that want stdin want the whole prompt
	// payload up front, not an interactive stream.
	Stdin []byte
}

// Session wraps a running subprocess, exposing its stdout as a line
// channel and its stderr as a separate line channel.
type Session struct {
	Lines  chan string // stdout, one line per send, closed on EOF
	Stderr chan string // stderr, one line per send, closed on EOF

	cmd       *exec.Cmd
	ptyFile   *os.File
	stdinPipe io.WriteCloser
	exitCode  atomic.Int32
	exited    atomic.Bool
	exitCh    chan struct{}
	readerWg  sync.WaitGroup
	mu        sync.Mutex
}

// Start spawns the subprocess described by opts and begins streaming its
// output in the background.
func Start(opts Opts) (*Session, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("empty command")
	}

	s := &Session{
		Lines:  make(chan string, 64),
		Stderr: make(chan string, 64),
		exitCh: make(chan struct{}),
	}
	s.exitCode.Store(-1)

	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	s.cmd = cmd

	var err error
	if opts.TTY {
		err = s.startPTY(cmd)
	} else {
		err = s.startPipes(cmd)
	}
	if err != nil {
		return nil, err
	}

	if opts.Stdin != nil {
		_ = s.WriteStdin(opts.Stdin)
		s.closeStdin()
	}

	go s.waitForExit()
	return s, nil
}

func (s *Session) startPTY(cmd *exec.Cmd) error {
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 80})
	if err != nil {
		return err
	}
	s.ptyFile = ptmx
	s.readerWg.Add(1)
	go s.readLineLoop(ptmx, s.Lines)
	close(s.Stderr) // PTY combines stdout+stderr; stderr channel stays empty.
	return nil
}

func (s *Session) startPipes(cmd *exec.Cmd) error {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	s.stdinPipe = stdin

	if err := cmd.Start(); err != nil {
		return err
	}

	s.readerWg.Add(2)
	go s.readLineLoop(stdout, s.Lines)
	go s.readLineLoop(stderr, s.Stderr)
	return nil
}

func (s *Session) readLineLoop(r io.Reader, out chan<- string) {
	defer s.readerWg.Done()
	defer close(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func (s *Session) waitForExit() {
	// Drain readers before Wait(): cmd.Wait() closes the pipe read ends,
	// and os/exec's docs say it is incorrect to call Wait before all reads
	// from the pipe have completed.
	s.readerWg.Wait()
	err := s.cmd.Wait()

	code := -1
	if err == nil {
		code = 0
	} else {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
	}
	s.exitCode.Store(int32(code))
	s.exited.Store(true)
	close(s.exitCh)
}

// WriteStdin writes data to the process's stdin (PTY master, or the pipe
// before it is closed).
func (s *Session) WriteStdin(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ptyFile != nil {
		_, err := s.ptyFile.Write(data)
		return err
	}
	if s.stdinPipe != nil {
		_, err := s.stdinPipe.Write(data)
		return err
	}
	return ErrStdinClosed
}

func (s *Session) closeStdin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdinPipe != nil {
		_ = s.stdinPipe.Close()
		s.stdinPipe = nil
	}
}

// Wait blocks until the process exits and returns its exit code.
func (s *Session) Wait() int {
	<-s.exitCh
	return int(s.exitCode.Load())
}

// HasExited reports whether the process has terminated.
func (s *Session) HasExited() bool { return s.exited.Load() }

// Terminate sends SIGTERM, then SIGKILL if the process is still alive
// after grace. Used by the cancellation path (§5): cancellation always
// goes through this, never a bare Kill, so a well-behaved backend gets a
// chance to flush its completion record.
func (s *Session) Terminate(grace time.Duration) {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	_ = s.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-s.exitCh:
		return
	case <-time.After(grace):
	}
	_ = s.cmd.Process.Kill()
}

// Close forcibly terminates the process and releases its resources.
// Idempotent.
func (s *Session) Close() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	if s.ptyFile != nil {
		_ = s.ptyFile.Close()
	}
	s.closeStdin()
}
