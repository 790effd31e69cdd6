// Package procstream runs an external command and exposes its standard
// output as a finite stream of trimmed, non-blank lines. One Stream per
// invocation; the subprocess never outlives the Stream.
package procstream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// DefaultGrace is how long teardown waits after SIGTERM before the process
// is killed and its pipes force-closed.
const DefaultGrace = 5 * time.Second

type Stream struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc

	lines   chan string
	stopped chan struct{}

	exited  chan struct{}
	done    chan struct{}
	waitErr error

	closeOnce sync.Once
}

// Spawn starts shellCommand under /bin/sh -c with the given extra
// environment. The command runs in its own process group bound to ctx: when
// ctx ends, the whole group is sent SIGTERM and killed after the grace
// period. A start failure is returned immediately; the caller gets no Stream
// to tear down.
func Spawn(ctx context.Context, shellCommand string, extraEnv []string) (*Stream, error) {
	cctx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(cctx, "/bin/sh", "-c", shellCommand)
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// negative pid: signal the group, shell children included
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = DefaultGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %q: %w", shellCommand, err)
	}

	s := &Stream{
		cmd:     cmd,
		stdin:   stdin,
		cancel:  cancel,
		lines:   make(chan string),
		stopped: make(chan struct{}),
		exited:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	// Reaper. Runs alongside the scanner so WaitDelay can force the pipes
	// closed if a stray child keeps stdout open past teardown.
	go func() {
		s.waitErr = cmd.Wait()
		cancel()
		close(s.exited)
	}()

	go func() {
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scan:
		for sc.Scan() {
			line := strings.TrimRight(sc.Text(), " \t\r")
			if line == "" {
				continue
			}
			select {
			case s.lines <- line:
			case <-s.stopped:
				break scan
			}
		}
		// the pipe drained dry before we report the end of the stream, so
		// trailing buffered output is never dropped
		close(s.lines)
		<-s.exited
		close(s.done)
	}()

	return s, nil
}

// Lines yields stdout lines in order. The channel closes when the process
// has exited and its output is drained, or after Close.
func (s *Stream) Lines() <-chan string {
	return s.lines
}

// Close tears the subprocess down: stdin is closed, the process group is
// asked to terminate, and after the grace period it is killed. Close blocks
// until the process is reaped and is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopped)
		_ = s.stdin.Close()
		s.cancel()
	})
	<-s.done
	return s.waitErr
}

// Err reports the process exit error once the stream has ended.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.waitErr
	default:
		return nil
	}
}
