package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

var (
	ErrNotStarted = errors.New("process not started")
	ErrInProgress = errors.New("process in progress")
)

// DefaultWaitDelay bounds how long a signalled collector may take to exit
// before it is killed.
const DefaultWaitDelay = 5 * time.Second

// LineFunc receives every line a process writes. stream is "stdout" or
// "stderr".
type LineFunc func(ctx context.Context, stream, line string)

type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
	// WaitDelay is the grace period between SIGTERM and SIGKILL once the
	// context passed to Start is done.
	WaitDelay time.Duration
}

type Result struct {
	Path    string
	Args    []string
	Started time.Time
	Stopped time.Time
	State   *os.ProcessState
	Err     error
}

// ExitCode returns the exit code of the process, -1 if it did not exit.
func (r Result) ExitCode() int {
	if r.State == nil {
		return -1
	}
	return r.State.ExitCode()
}

// Runner is a single-use wrapper around one os/exec process.
type Runner struct {
	mx     sync.RWMutex
	cmd    *exec.Cmd
	result Result
	done   chan struct{}
}

func NewRunner() *Runner {
	return &Runner{
		result: Result{Err: ErrNotStarted},
		done:   make(chan struct{}),
	}
}

// Start spawns the process and returns without waiting on it. Cancelling
// ctx sends SIGTERM and, after WaitDelay, SIGKILL. Output is split into lines
// and passed to lineFunc, which may be nil.
func (r *Runner) Start(ctx context.Context, proto Command, lineFunc LineFunc) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd != nil {
		return ErrInProgress
	}
	select {
	case <-r.done:
		return ErrInProgress
	default:
	}

	r.result = Result{
		Path: proto.Path,
		Args: append([]string(nil), proto.Args...),
	}

	cmd := exec.CommandContext(ctx, proto.Path, proto.Args...)
	cmd.Env = proto.Env
	cmd.Dir = proto.Dir
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = proto.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	stdout := newLineWriter(ctx, "stdout", lineFunc)
	stderr := newLineWriter(ctx, "stderr", lineFunc)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	r.result.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		r.result.Stopped = time.Now().UTC()
		r.result.Err = err
		close(r.done)
		return err
	}
	r.cmd = cmd

	go r.wait(cmd, stdout, stderr)
	return nil
}

func (r *Runner) wait(cmd *exec.Cmd, writers ...*lineWriter) {
	err := cmd.Wait()
	for _, w := range writers {
		w.flush()
	}
	stopped := time.Now().UTC()

	r.mx.Lock()
	defer r.mx.Unlock()
	r.result.Stopped = stopped
	r.result.State = cmd.ProcessState
	r.result.Err = err
	close(r.done)
}

// Pid returns the process id, 0 when not running.
func (r *Runner) Pid() int {
	r.mx.RLock()
	defer r.mx.RUnlock()
	if r.cmd == nil || r.cmd.Process == nil {
		return 0
	}
	return r.cmd.Process.Pid
}

// Signal delivers sig to a started process. Signalling a process which has
// already exited is not an error.
func (r *Runner) Signal(sig os.Signal) error {
	r.mx.RLock()
	cmd := r.cmd
	r.mx.RUnlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	err := cmd.Process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Done is closed once the process has exited or failed to start.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Result returns the last result, ErrNotStarted before Start and a nil
// State while the process runs.
func (r *Runner) Result() Result {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return r.result
}

// lineWriter splits what os/exec copies from a pipe into lines.
type lineWriter struct {
	ctx    context.Context
	stream string
	fn     LineFunc
	buf    bytes.Buffer
}

func newLineWriter(ctx context.Context, stream string, fn LineFunc) *lineWriter {
	return &lineWriter{ctx: ctx, stream: stream, fn: fn}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	if w.fn == nil {
		return len(p), nil
	}
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := w.buf.Next(i + 1)
		w.fn(w.ctx, w.stream, string(bytes.TrimRight(line, "\r\n")))
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if w.fn == nil || w.buf.Len() == 0 {
		return
	}
	w.fn(w.ctx, w.stream, w.buf.String())
	w.buf.Reset()
}
