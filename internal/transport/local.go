package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/charliek/logtap/internal/constants"
)

// outputDrainTimeout is the maximum time to wait for output readers to finish
// after the bridge exits. The bridge may leave a device-side shell attached to
// the pipe for a moment after the local process is gone.
const outputDrainTimeout = 2 * time.Second

// Launcher creates and starts processes
type Launcher interface {
	Start(ctx context.Context, name string, args []string, env map[string]string) (Process, error)
}

// Process represents a running process
type Process interface {
	PID() int
	Wait() error
	Signal(sig os.Signal) error
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser
}

// ExecLauncher implements Launcher using os/exec. Commands are run directly
// from the argument vector, never through a shell.
type ExecLauncher struct{}

// NewExecLauncher creates a new ExecLauncher
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{}
}

// Start starts a new process
func (l *ExecLauncher) Start(ctx context.Context, name string, args []string, env map[string]string) (Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	// Manual pipes: Wait must not close the read side before the readers drain it.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	// Own process group so the whole bridge tree can be signalled
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, fmt.Errorf("starting process: %w", err)
	}

	// The child holds its own copies of the write ends
	stdoutW.Close()
	stderrW.Close()

	return &execProcess{
		cmd:    cmd,
		pgid:   cmd.Process.Pid, // Setpgid makes the child its own group leader
		stdout: stdoutR,
		stderr: stderrR,
	}, nil
}

// execProcess wraps exec.Cmd to implement Process interface
type execProcess struct {
	cmd    *exec.Cmd
	pgid   int
	stdout io.ReadCloser
	stderr io.ReadCloser
}

func (p *execProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}

// Signal signals the whole process group recorded at start. The group
// outlives a reaped leader while any member still runs, and its id is not
// reused for a new process until the group is empty.
func (p *execProcess) Signal(sig os.Signal) error {
	if p.pgid <= 0 {
		return nil
	}
	return syscall.Kill(-p.pgid, sig.(syscall.Signal))
}

func (p *execProcess) Stdout() io.ReadCloser {
	return p.stdout
}

func (p *execProcess) Stderr() io.ReadCloser {
	return p.stderr
}

// LocalConfig holds settings for the local device-bridge transport
type LocalConfig struct {
	BridgePath string            // Device bridge executable
	Env        map[string]string // Extra environment for the bridge
	KillGrace  time.Duration     // Time between SIGTERM and SIGKILL on Stop
}

// Local captures logs by spawning the device bridge as a subprocess
type Local struct {
	config   LocalConfig
	launcher Launcher
	logger   *slog.Logger
}

// NewLocal creates a local transport. A nil launcher uses ExecLauncher.
func NewLocal(config LocalConfig, launcher Launcher, logger *slog.Logger) *Local {
	if launcher == nil {
		launcher = NewExecLauncher()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.BridgePath == "" {
		config.BridgePath = constants.DefaultBridgePath
	}
	if config.KillGrace <= 0 {
		config.KillGrace = constants.DefaultKillGrace
	}
	return &Local{config: config, launcher: launcher, logger: logger}
}

// BridgeArgs returns the full bridge argument vector for a device and command tokens
func BridgeArgs(target string, argv []string) []string {
	args := make([]string, 0, len(argv)+3)
	args = append(args, "-s", target, "shell")
	return append(args, argv...)
}

// Start launches the bridge for target with the resolved command tokens.
// A launch failure is returned as an *Error of kind LaunchFailure and no
// events are delivered.
func (l *Local) Start(target string, argv []string, events Events) (Handle, error) {
	ctx, cancel := context.WithCancel(context.Background())

	args := BridgeArgs(target, argv)
	proc, err := l.launcher.Start(ctx, l.config.BridgePath, args, l.config.Env)
	if err != nil {
		cancel()
		return nil, newError(LaunchFailure, err)
	}

	h := &localHandle{
		proc:      proc,
		events:    events,
		killGrace: l.config.KillGrace,
		logger:    l.logger.With("transport", "local", "target", target, "pid", proc.PID()),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	h.logger.Debug("bridge started", "path", l.config.BridgePath, "args", args)

	h.outputWg.Add(2)
	go func() {
		defer h.outputWg.Done()
		h.readStdout(proc.Stdout())
	}()
	go func() {
		defer h.outputWg.Done()
		h.drainStderr(proc.Stderr())
	}()
	go h.monitor()

	return h, nil
}

// localHandle owns one bridge process
type localHandle struct {
	proc      Process
	events    Events
	killGrace time.Duration
	logger    *slog.Logger
	cancel    context.CancelFunc

	stopped  atomic.Bool
	stopOnce sync.Once
	errOnce  sync.Once
	done     chan struct{}

	// outputWg tracks completion of output reader goroutines
	outputWg sync.WaitGroup
}

// Stop sends SIGTERM to the bridge process group and escalates to SIGKILL
// if it has not exited after the grace period.
func (h *localHandle) Stop() {
	h.stopOnce.Do(func() {
		h.stopped.Store(true)
		if err := h.proc.Signal(syscall.SIGTERM); err != nil {
			h.logger.Debug("SIGTERM failed (process may have already exited)", "error", err)
		}
		go func() {
			select {
			case <-h.done:
			case <-time.After(h.killGrace):
				h.logger.Debug("sending SIGKILL (graceful shutdown timed out)")
				if err := h.proc.Signal(syscall.SIGKILL); err != nil {
					h.logger.Debug("SIGKILL failed", "error", err)
				}
			}
		}()
	})
}

func (h *localHandle) Done() <-chan struct{} {
	return h.done
}

// readStdout forwards raw stdout chunks without line buffering
func (h *localHandle) readStdout(r io.Reader) {
	if r == nil {
		return
	}
	buf := make([]byte, constants.ReadChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 && !h.stopped.Load() {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.events.data(chunk)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && !h.stopped.Load() {
				h.runtimeError(fmt.Errorf("reading bridge output: %w", err))
			}
			return
		}
	}
}

// runtimeError reports the first failure of a running bridge. A failed read
// is usually followed by a failed Wait for the same cause.
func (h *localHandle) runtimeError(err error) {
	h.errOnce.Do(func() {
		h.events.error(newError(ProcessRuntimeError, err))
	})
}

// drainStderr keeps the bridge from blocking on a full stderr pipe
func (h *localHandle) drainStderr(r io.Reader) {
	if r == nil {
		return
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		h.logger.Debug("bridge stderr", "line", scanner.Text())
	}
}

// monitor waits for the bridge to exit and reports unexpected exits
func (h *localHandle) monitor() {
	defer close(h.done)
	defer h.cancel()

	err := h.proc.Wait()

	outputDone := make(chan struct{})
	go func() {
		h.outputWg.Wait()
		close(outputDone)
	}()

	select {
	case <-outputDone:
	case <-time.After(outputDrainTimeout):
		h.logger.Debug("output capture timed out (some logs may be missing)")
	}

	closeQuietly(h.proc.Stdout())
	closeQuietly(h.proc.Stderr())

	rc := exitCode(err)
	if h.stopped.Load() {
		h.logger.Debug("bridge stopped", "rc", rc)
		return
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			h.runtimeError(fmt.Errorf("bridge exited unexpectedly (rc=%d)", rc))
		} else {
			h.runtimeError(err)
		}
	}
	h.logger.Debug("bridge exited", "rc", rc)
	h.events.close()
}

// exitCode extracts the exit code from a Wait error.
// Signal termination is reported as the negative signal number.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return -int(status.Signal())
			}
			return status.ExitStatus()
		}
		return exitErr.ExitCode()
	}
	return 1
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
