package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/charliek/logtap/internal/constants"
	"github.com/charliek/logtap/internal/domain"
)

// Dialer opens an authenticated connection to a remote host
type Dialer interface {
	Dial(ctx context.Context, req domain.RemoteRequest) (ShellClient, error)
}

// ShellClient is an authenticated remote connection
type ShellClient interface {
	// OpenShell allocates an interactive shell channel
	OpenShell() (Shell, error)
	// Wait blocks until the connection is gone and returns the reason
	Wait() error
	// Close ends the connection and every channel on it
	Close() error
}

// Shell is an interactive shell channel
type Shell interface {
	io.Writer
	Output() io.Reader
	Close() error
}

// RemoteState is a state of the remote capture state machine
type RemoteState string

const (
	StateIdle       RemoteState = "idle"
	StateConnecting RemoteState = "connecting"
	StateReady      RemoteState = "ready"
	StateShellOpen  RemoteState = "shell_open"
	StateStreaming  RemoteState = "streaming"
	StateClosed     RemoteState = "closed"
	StateErrored    RemoteState = "errored"
)

// IsTerminal returns true for states the machine never leaves
func (s RemoteState) IsTerminal() bool {
	return s == StateClosed || s == StateErrored
}

// RemoteConfig holds settings for the SSH shell transport
type RemoteConfig struct {
	SettleDelay    time.Duration // Wait between shell allocation and writing the command
	ConnectTimeout time.Duration // Bound on dial and authentication
}

// Remote captures logs by running the command in an interactive SSH shell
type Remote struct {
	config RemoteConfig
	dialer Dialer
	logger *slog.Logger
}

// NewRemote creates a remote transport. A nil dialer uses SSHDialer.
func NewRemote(config RemoteConfig, dialer Dialer, logger *slog.Logger) *Remote {
	if config.SettleDelay < 0 {
		config.SettleDelay = 0
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = constants.DefaultConnectTimeout
	}
	if dialer == nil {
		dialer = &SSHDialer{ConnectTimeout: config.ConnectTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{config: config, dialer: dialer, logger: logger}
}

// Start begins connecting and returns immediately. Progress and failures are
// reported through events; nothing is written to the shell before it is open
// and the settle delay has elapsed.
func (r *Remote) Start(req domain.RemoteRequest, command string, events Events) *RemoteSession {
	s := &RemoteSession{
		req:     req,
		command: command,
		config:  r.config,
		dialer:  r.dialer,
		events:  events,
		logger:  r.logger.With("transport", "remote", "target", req.Target()),
		state:   StateIdle,
		msgs:    make(chan remoteMsg),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

type msgKind int

const (
	msgReady msgKind = iota
	msgShellOpen
	msgTimerFired
	msgData
	msgEOF
	msgError
)

// remoteMsg is one entry of the session's ordered queue
type remoteMsg struct {
	kind   msgKind
	client ShellClient
	shell  Shell
	data   []byte
	err    error
}

// RemoteSession owns one SSH connection and its shell channel.
// All transitions happen on the run goroutine.
type RemoteSession struct {
	req     domain.RemoteRequest
	command string
	config  RemoteConfig
	dialer  Dialer
	events  Events
	logger  *slog.Logger

	mu    sync.Mutex
	state RemoteState

	msgs     chan remoteMsg
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// owned by run
	client ShellClient
	shell  Shell
	timer  *time.Timer
}

// State returns the current state
func (s *RemoteSession) State() RemoteState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *RemoteSession) setState(state RemoteState) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	s.logger.Debug("remote state", "from", prev, "to", state)
}

// Stop ends the connection. Safe to call from any goroutine, any number of times.
func (s *RemoteSession) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Done is closed after the connection has been released
func (s *RemoteSession) Done() <-chan struct{} {
	return s.done
}

// post delivers a message to the run loop. It returns false once the loop
// has exited, in which case the caller still owns any resource in m.
func (s *RemoteSession) post(m remoteMsg) bool {
	select {
	case s.msgs <- m:
		return true
	case <-s.done:
		return false
	}
}

func (s *RemoteSession) stopRequested() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *RemoteSession) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.release()
		close(s.done)
	}()

	s.setState(StateConnecting)
	go s.connect(ctx)

	for {
		// Stop wins over anything already queued
		if s.stopRequested() {
			s.setState(StateClosed)
			return
		}

		select {
		case <-s.stopCh:
			s.setState(StateClosed)
			return
		case m := <-s.msgs:
			if s.stopRequested() {
				s.discard(m)
				s.setState(StateClosed)
				return
			}
			if finished := s.handle(m); finished {
				return
			}
		}
	}
}

// handle applies one message and reports whether the session is over
func (s *RemoteSession) handle(m remoteMsg) bool {
	switch m.kind {
	case msgReady:
		s.client = m.client
		s.setState(StateReady)
		go s.watchConnection(m.client)
		go s.openShell(m.client)

	case msgShellOpen:
		s.shell = m.shell
		s.setState(StateShellOpen)
		go s.readOutput(m.shell)
		s.timer = time.AfterFunc(s.config.SettleDelay, func() {
			s.post(remoteMsg{kind: msgTimerFired})
		})

	case msgTimerFired:
		if s.State() != StateShellOpen {
			return false
		}
		if _, err := io.WriteString(s.shell, s.command+"\n"); err != nil {
			return s.fail(newError(ChannelError, fmt.Errorf("writing command: %w", err)))
		}
		s.setState(StateStreaming)
		s.logger.Debug("command sent", "command", s.command)

	case msgData:
		s.events.data(m.data)

	case msgEOF:
		s.setState(StateClosed)
		s.events.close()
		return true

	case msgError:
		return s.fail(m.err)
	}
	return false
}

func (s *RemoteSession) fail(err error) bool {
	s.setState(StateErrored)
	s.events.error(err)
	s.events.close()
	return true
}

// connect dials and authenticates off the run loop
func (s *RemoteSession) connect(ctx context.Context) {
	dialCtx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	defer cancel()

	client, err := s.dialer.Dial(dialCtx, s.req)
	if err != nil {
		var terr *Error
		if !errors.As(err, &terr) {
			err = newError(ConnectionError, err)
		}
		s.post(remoteMsg{kind: msgError, err: err})
		return
	}
	if !s.post(remoteMsg{kind: msgReady, client: client}) {
		_ = client.Close()
	}
}

func (s *RemoteSession) openShell(client ShellClient) {
	shell, err := client.OpenShell()
	if err != nil {
		s.post(remoteMsg{kind: msgError, err: newError(ChannelError, fmt.Errorf("opening shell: %w", err))})
		return
	}
	if !s.post(remoteMsg{kind: msgShellOpen, shell: shell}) {
		_ = shell.Close()
	}
}

// watchConnection reports the connection dropping underneath the session
func (s *RemoteSession) watchConnection(client ShellClient) {
	err := client.Wait()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	s.post(remoteMsg{kind: msgError, err: newError(ConnectionError, fmt.Errorf("connection closed: %w", err))})
}

func (s *RemoteSession) readOutput(shell Shell) {
	r := shell.Output()
	if r == nil {
		return
	}
	buf := make([]byte, constants.ReadChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !s.post(remoteMsg{kind: msgData, data: chunk}) {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.post(remoteMsg{kind: msgEOF})
			} else {
				s.post(remoteMsg{kind: msgError, err: newError(ChannelError, err)})
			}
			return
		}
	}
}

// discard releases resources carried by a message that arrived after stop
func (s *RemoteSession) discard(m remoteMsg) {
	switch m.kind {
	case msgReady:
		_ = m.client.Close()
	case msgShellOpen:
		_ = m.shell.Close()
	}
}

// release ends the connection, which also closes the shell channel
func (s *RemoteSession) release() {
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.shell != nil {
		_ = s.shell.Close()
	}
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.Debug("closing connection", "error", err)
		}
	}
}
