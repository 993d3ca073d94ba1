// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package supervise owns the lifecycle of one external process: start,
// stream its output as lines, detect termination and perform
// graceful-then-forced cancellation. A Supervisor is single-use; a new one
// must be created for every process. Whatever path the run takes, the OS
// process is always reaped before Wait returns.
package supervise

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/matt-FFFFFF/neurobatch/internal/ctxlog"
	"golang.org/x/sync/errgroup"
)

const (
	maxBufferSize  = 8 * 1024 * 1024 // 8MB output retention cap
	maxLineSize    = 1024 * 1024     // scanner token limit
	lineChanBuffer = 256
	defaultGrace   = 2 * time.Second
	killReapWait   = time.Second
)

var (
	// ErrCouldNotStartProcess is returned when the process could not be started.
	ErrCouldNotStartProcess = errors.New("could not start process")
	// ErrCouldNotKillProcess is returned when the process could not be killed.
	ErrCouldNotKillProcess = errors.New("could not kill process after grace period")
	// ErrFailedToCreatePipe is returned when the operating system pipe could not be created.
	ErrFailedToCreatePipe = errors.New("failed to create pipe")
	// ErrFailedToReadOutput is returned when the output pipes could not be read.
	ErrFailedToReadOutput = errors.New("failed to read process output")
	// ErrTimeoutExceeded is returned when the process exceeds its deadline.
	ErrTimeoutExceeded = errors.New("timeout exceeded")
	// ErrCancelled is returned when the process was terminated on request.
	ErrCancelled = errors.New("process cancelled")
	// ErrSignalReceived is returned when the process was terminated by a signal
	// that the supervisor did not send.
	ErrSignalReceived = errors.New("process terminated by signal")
	// ErrNotStarted is returned when Wait is called on a supervisor that never started.
	ErrNotStarted = errors.New("process was never started")
)

// Spec describes one process invocation.
type Spec struct {
	Path     string            // executable name or path; names are resolved against PATH
	Args     []string          // arguments, not including the executable name itself
	Dir      string            // working directory
	Env      map[string]string // additional environment variables
	Deadline time.Duration     // optional per-process deadline; 0 means none
	Grace    time.Duration     // graceful-stop window before a forced kill; defaults to 2s
}

// Supervisor supervises a single external process. It is created with New,
// started once, and must be Waited on to release the OS process resource.
type Supervisor struct {
	spec Spec

	mu        sync.Mutex
	ps        *os.Process
	state     State
	startedAt time.Time

	startOutcome *ExitOutcome // set when Start failed; consumed by Wait

	lines  chan string
	output *LineBuffer

	done       chan struct{} // closed once the process has been reaped
	killReason chan error    // why the supervisor terminated the process, capacity 1

	eg         *errgroup.Group
	waitOnce   sync.Once
	outcome    ExitOutcome
	cancelOnce sync.Once
}

// New creates a supervisor for the given spec. The process is not started.
func New(spec Spec) *Supervisor {
	if spec.Grace <= 0 {
		spec.Grace = defaultGrace
	}

	return &Supervisor{
		spec:       spec,
		state:      StateStarting,
		lines:      make(chan string, lineChanBuffer),
		output:     NewLineBuffer(0),
		done:       make(chan struct{}),
		killReason: make(chan error, 1),
	}
}

// Start launches the process. It returns an error joined with
// ErrCouldNotStartProcess when the executable is missing or cannot be
// launched; in that case Wait reports ClassStartFailed and no process
// resource exists.
func (s *Supervisor) Start(ctx context.Context) error {
	logger := ctxlog.Logger(ctx).With("component", "supervisor").With("executable", s.spec.Path)

	path := s.spec.Path
	if !strings.ContainsRune(path, os.PathSeparator) {
		resolved, err := exec.LookPath(path)
		if err != nil {
			return s.failStart(ClassStartFailed, errors.Join(ErrCouldNotStartProcess, err))
		}

		path = resolved
	}

	rOut, wOut, err := os.Pipe()
	if err != nil {
		return s.failStart(ClassWriteError, errors.Join(ErrFailedToCreatePipe, err))
	}

	rErr, wErr, err := os.Pipe()
	if err != nil {
		_ = rOut.Close()
		_ = wOut.Close()

		return s.failStart(ClassWriteError, errors.Join(ErrFailedToCreatePipe, err))
	}

	env := os.Environ()
	for k, v := range s.spec.Env {
		env = append(env, k+"="+v)
	}

	args := slices.Concat([]string{filepath.Base(path)}, s.spec.Args)

	logger.Debug("starting process", "cwd", s.spec.Dir, "args", s.spec.Args)

	ps, err := os.StartProcess(path, args, &os.ProcAttr{
		Dir:   s.spec.Dir,
		Env:   env,
		Files: []*os.File{os.Stdin, wOut, wErr},
	})

	// The child holds its own copies of the write ends; closing ours lets the
	// readers see EOF when the child exits.
	_ = wOut.Close()
	_ = wErr.Close()

	if err != nil {
		_ = rOut.Close()
		_ = rErr.Close()

		return s.failStart(ClassStartFailed, errors.Join(ErrCouldNotStartProcess, err))
	}

	s.mu.Lock()
	s.ps = ps
	s.state = StateRunning
	s.startedAt = time.Now()
	s.mu.Unlock()

	logger.Debug("process started", "pid", ps.Pid)

	s.eg = &errgroup.Group{}
	s.eg.Go(func() error { return s.scan(rOut) })
	s.eg.Go(func() error { return s.scan(rErr) })

	go func() {
		_ = s.eg.Wait()
		close(s.lines)
	}()

	go s.watchdog(ctx, ps)

	return nil
}

// Lines returns the stream of output lines (stdout and stderr interleaved).
// The channel is closed when the process closes its output pipes. Callers
// must drain it until closed before calling Wait.
func (s *Supervisor) Lines() <-chan string {
	return s.lines
}

// Output returns the retained output buffer.
func (s *Supervisor) Output() *LineBuffer {
	return s.output
}

// State returns the current lifecycle state of the handle.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Pid returns the OS process id, or -1 if the process never started.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ps == nil {
		return -1
	}

	return s.ps.Pid
}

// Wait blocks until the process terminates and returns its classified
// outcome. It always reaps the OS process resource. Calling Wait more than
// once returns the same outcome.
func (s *Supervisor) Wait(ctx context.Context) ExitOutcome {
	s.waitOnce.Do(func() {
		if s.startOutcome != nil {
			s.outcome = *s.startOutcome
			return
		}

		if s.ps == nil {
			s.outcome = ExitOutcome{Class: ClassStartFailed, Code: -1, Err: ErrNotStarted}
			return
		}

		state, psErr := s.ps.Wait()
		close(s.done)

		scanErr := s.eg.Wait()

		var killErr error
		select {
		case killErr = <-s.killReason:
		default:
		}

		logger := ctxlog.Logger(ctx)
		code := state.ExitCode()

		logger.Debug("process finished",
			"pid", s.ps.Pid, "exitCode", code, "killReason", killErr, "waitError", psErr)

		switch {
		case killErr != nil && errors.Is(killErr, ErrTimeoutExceeded):
			s.setState(StateKilled)

			s.outcome = ExitOutcome{Class: ClassTimedOut, Code: -1, Err: killErr}
		case killErr != nil:
			s.setState(StateKilled)

			s.outcome = ExitOutcome{Class: ClassCancelled, Code: -1, Err: killErr}
		case psErr != nil:
			s.setState(StateKilled)

			s.outcome = ExitOutcome{Class: ClassCrashed, Code: -1, Err: psErr}
		case code == -1:
			s.setState(StateKilled)

			s.outcome = ExitOutcome{Class: ClassCrashed, Code: -1, Err: ErrSignalReceived}
		case scanErr != nil:
			s.setState(StateCompleted)

			s.outcome = ExitOutcome{Class: ClassReadError, Code: code, Err: scanErr}
		default:
			s.setState(StateCompleted)

			s.outcome = ExitOutcome{Class: ClassCompleted, Code: code}
		}
	})

	return s.outcome
}

// Cancel requests termination: it sends SIGTERM, waits up to grace, then
// kills the process if it is still running. It is idempotent and a no-op on
// a handle whose process has already terminated. A non-positive grace uses
// the Grace configured on the Spec.
func (s *Supervisor) Cancel(grace time.Duration) {
	s.mu.Lock()
	ps := s.ps
	s.mu.Unlock()

	if ps == nil {
		return
	}

	select {
	case <-s.done:
		return
	default:
	}

	if grace <= 0 {
		grace = s.spec.Grace
	}

	s.cancelOnce.Do(func() {
		select {
		case s.killReason <- ErrCancelled:
		default:
		}

		if err := ps.Signal(syscall.SIGTERM); err != nil {
			if errors.Is(err, os.ErrProcessDone) {
				return
			}
		}

		select {
		case <-s.done:
		case <-time.After(grace):
			killPs(context.Background(), ps)

			select {
			case <-s.done:
			case <-time.After(killReapWait):
			}
		}
	})
}

func (s *Supervisor) failStart(class Class, err error) error {
	s.mu.Lock()
	s.state = StateStartFailed
	s.startOutcome = &ExitOutcome{Class: class, Code: -1, Err: err}
	s.mu.Unlock()

	close(s.lines)
	close(s.done)

	return err
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Supervisor) scan(r *os.File) error {
	defer r.Close() //nolint:errcheck

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)

	for sc.Scan() {
		line := sc.Text()
		s.output.Append(line)
		s.lines <- line
	}

	if err := sc.Err(); err != nil {
		return errors.Join(ErrFailedToReadOutput, err)
	}

	return nil
}

// watchdog enforces the per-process deadline and reacts to context
// cancellation while the process runs.
func (s *Supervisor) watchdog(ctx context.Context, ps *os.Process) {
	var deadlineCh <-chan time.Time

	if s.spec.Deadline > 0 {
		t := time.NewTimer(s.spec.Deadline)
		defer t.Stop()

		deadlineCh = t.C
	}

	select {
	case <-deadlineCh:
		ctxlog.Logger(ctx).Info("process deadline exceeded, terminating", "pid", ps.Pid)

		select {
		case s.killReason <- ErrTimeoutExceeded:
		default:
		}

		_ = ps.Signal(syscall.SIGTERM)

		select {
		case <-s.done:
		case <-time.After(s.spec.Grace):
			killPs(ctx, ps)
		}

	case <-ctx.Done():
		ctxlog.Logger(ctx).Info("context done, killing process", "pid", ps.Pid)

		select {
		case s.killReason <- errors.Join(ErrCancelled, ctx.Err()):
		default:
		}

		killPs(ctx, ps)

	case <-s.done:
	}
}

// killPs kills the process, tolerating one that has already exited.
func killPs(ctx context.Context, ps *os.Process) {
	if err := ps.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			ctxlog.Logger(ctx).Debug("process already done", "pid", ps.Pid)
			return
		}

		ctxlog.Logger(ctx).Error("process kill error", "pid", ps.Pid, "error", err)

		return
	}

	ctxlog.Logger(ctx).Info("process killed", "pid", ps.Pid)
}
