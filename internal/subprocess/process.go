//////////////////////////////////////////////////////////////////////////////
//
// External encode/decode engine, driven as a subprocess
//
// The engine is ffmpeg. It is treated as two byte streams (stdin, stdout)
// plus a stream of log lines on stderr, which are parsed into Events.
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package subprocess

import (
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/alohacast/internal/logging"
)

var log = logging.DefaultLogger.WithTag("subprocess")

const (
	// Default engine binary, looked up in $PATH.
	DefaultBinary = "ffmpeg"

	// How long Quit waits at each escalation step.
	DefaultGracePeriod = 2 * time.Second

	eventBufferLength = 64
)

// Command describes a subprocess to spawn.
type Command struct {
	// Binary to run. Defaults to DefaultBinary.
	Binary string

	Args []string

	// Send "q" on stdin to ask the process to quit, as ffmpeg does for
	// interactive sessions. Only valid when stdin is not a data stream.
	QuitKey bool

	// Keep stdin open for the caller to write to.
	Stdin bool

	// Parse stderr as ffmpeg log output. Otherwise stderr is only logged.
	ParseEvents bool
}

func (c Command) String() string {
	bin := c.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	return bin + " " + strings.Join(c.Args, " ")
}

// Process is a running subprocess.
type Process struct {
	cmd     *exec.Cmd
	quitKey bool

	// Stdin is nil unless Command.Stdin was set.
	Stdin io.WriteCloser

	// Stdout is the process output stream.
	Stdout io.ReadCloser

	events chan Event

	stdinOnce sync.Once
	waitOnce  sync.Once
	exited    chan struct{}
	waitErr   error
}

// Start spawns the command. A failure here is a spawn failure: the process
// never ran.
func Start(c Command) (*Process, error) {
	bin := c.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, errors.Wrapf(err, "spawn %s", bin)
	}

	cmd := exec.Command(path, c.Args...)
	p := &Process{
		cmd:     cmd,
		quitKey: c.QuitKey,
		events:  make(chan Event, eventBufferLength),
		exited:  make(chan struct{}),
	}

	if c.Stdin || c.QuitKey {
		if p.Stdin, err = cmd.StdinPipe(); err != nil {
			return nil, errors.Wrap(err, "stdin pipe")
		}
	}
	if p.Stdout, err = cmd.StdoutPipe(); err != nil {
		return nil, errors.Wrap(err, "stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "spawn %s", bin)
	}
	log.Info("Started pid %d: %s", cmd.Process.Pid, c)

	go p.readStderr(stderr, c.ParseEvents)

	return p, nil
}

// Pid of the running process.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Events yields parsed stderr events. Closed when stderr reaches EOF, which
// happens when the process exits.
func (p *Process) Events() <-chan Event {
	return p.events
}

func (p *Process) readStderr(r io.Reader, parse bool) {
	defer close(p.events)

	var parser Parser
	for line := range Lines(r) {
		log.Trace(5, "[%d] %s", p.Pid(), line)
		if !parse {
			continue
		}
		ev := parser.ParseLine(line)
		if ev == nil {
			continue
		}
		select {
		case p.events <- ev:
		default:
			if _, ok := ev.(StreamEvent); ok {
				log.Warn("[%d] event queue full, dropped %v", p.Pid(), ev)
			}
		}
	}
}

// CloseStdin signals end of input. Safe to call more than once.
func (p *Process) CloseStdin() error {
	var err error
	p.stdinOnce.Do(func() {
		if p.Stdin != nil {
			err = p.Stdin.Close()
		}
	})
	return err
}

// Wait blocks until the process exits and returns its exit error. Safe to
// call from several goroutines.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		go func() {
			p.waitErr = p.cmd.Wait()
			close(p.exited)
		}()
	})
	<-p.exited
	return p.waitErr
}

// Exited is closed once the process has been reaped. Wait must have been
// called, or be called, for this to happen.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Quit asks the process to exit and waits for it, escalating if it does not:
// "q" on stdin (when enabled) or end of input, then SIGINT, then SIGKILL,
// with grace between each step.
func (p *Process) Quit(grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	// Reap in the background so the escalation can watch p.exited.
	go p.Wait()

	if p.quitKey && p.Stdin != nil {
		io.WriteString(p.Stdin, "q")
	}
	p.CloseStdin()

	select {
	case <-p.exited:
		return p.waitErr
	case <-time.After(grace):
	}

	log.Debug("[%d] still running, sending SIGINT", p.Pid())
	if err := interrupt(p.cmd.Process); err != nil {
		log.Debug("[%d] interrupt: %v", p.Pid(), err)
	}

	select {
	case <-p.exited:
		return p.waitErr
	case <-time.After(grace):
	}

	log.Warn("[%d] did not exit, killing", p.Pid())
	p.cmd.Process.Kill()
	<-p.exited
	return p.waitErr
}
