// Package session binds client connections to capture sessions.
//
// Every client owns a slot in the manager's table. A slot holds at most one
// live session; starting a new capture first tears down the one already
// there. Lifecycle calls for the same client are serialized by the slot,
// while different clients never contend beyond the table lookup.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/charliek/logtap/internal/command"
	"github.com/charliek/logtap/internal/constants"
	"github.com/charliek/logtap/internal/domain"
	"github.com/charliek/logtap/internal/transport"
)

// Options configures a Manager
type Options struct {
	Resolver       command.Resolver  // Builds command lines; defaults to command.DefaultTemplates()
	Local          *transport.Local  // Local bridge transport; required for local captures
	Remote         *transport.Remote // SSH transport; required for remote captures
	Recorder       Recorder          // Optional capture history
	DefaultSSHPort int               // Port used when a remote request has none
	Logger         *slog.Logger
}

// Manager owns the capture sessions of all connected clients
type Manager struct {
	// resolver turns a template and tags into the command to run
	resolver command.Resolver
	// local and remote start the underlying transports
	local  *transport.Local
	remote *transport.Remote
	// recorder receives a copy of every forwarded chunk
	recorder    Recorder
	defaultPort int
	logger      *slog.Logger
	now         func() time.Time

	// mu protects slots and closing
	mu      sync.Mutex
	slots   map[string]*slot
	closing bool
}

// slot is a client's entry in the session table
type slot struct {
	client string
	sink   Sink

	// mu serializes start, stop and disconnect for this client
	mu      sync.Mutex
	current *session
	gone    bool
}

// NewManager creates a session manager
func NewManager(opts Options) *Manager {
	if opts.Resolver == nil {
		opts.Resolver = command.DefaultTemplates()
	}
	if opts.DefaultSSHPort == 0 {
		opts.DefaultSSHPort = constants.DefaultSSHPort
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		resolver:    opts.Resolver,
		local:       opts.Local,
		remote:      opts.Remote,
		recorder:    opts.Recorder,
		defaultPort: opts.DefaultSSHPort,
		logger:      opts.Logger,
		now:         time.Now,
		slots:       make(map[string]*slot),
	}
}

// Connect registers a client connection and the sink its events go to
func (m *Manager) Connect(clientID string, sink Sink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing {
		return domain.ErrShutdownInProgress
	}
	if _, exists := m.slots[clientID]; exists {
		return fmt.Errorf("%w: client %s is already connected", domain.ErrInvalidRequest, clientID)
	}
	m.slots[clientID] = &slot{client: clientID, sink: sink}
	m.logger.Debug("client connected", "client", clientID)
	return nil
}

// StartLocal replaces the client's session with a capture through the local
// device bridge. Request problems are returned; transport failures are
// reported to the client as local-transport-error events.
//
// The request is validated before the existing session is torn down, so an
// invalid request leaves the current capture running.
func (m *Manager) StartLocal(clientID string, req domain.LocalRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if m.local == nil {
		return fmt.Errorf("%w: local capture is not available", domain.ErrInvalidRequest)
	}

	return m.start(clientID, domain.TransportLocal, req.DeviceID, req.Command, req.Tags,
		func(cmd string, events transport.Events) (transport.Handle, error) {
			return m.local.Start(req.DeviceID, command.Argv(cmd), events)
		})
}

// StartRemote replaces the client's session with a capture through an SSH
// shell. As with StartLocal, an invalid request leaves the current capture
// running.
func (m *Manager) StartRemote(clientID string, req domain.RemoteRequest) error {
	if err := req.Validate(m.defaultPort); err != nil {
		return err
	}
	if m.remote == nil {
		return fmt.Errorf("%w: remote capture is not available", domain.ErrInvalidRequest)
	}

	return m.start(clientID, domain.TransportRemote, req.Target(), req.Command, req.Tags,
		func(cmd string, events transport.Events) (transport.Handle, error) {
			return m.remote.Start(req, cmd, events), nil
		})
}

type startFunc func(cmd string, events transport.Events) (transport.Handle, error)

func (m *Manager) start(clientID string, kind domain.TransportKind, target, template string, tags []string, launch startFunc) error {
	sl, err := m.lookup(clientID)
	if err != nil {
		return err
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.gone {
		return domain.ErrClientNotFound
	}

	// The old session is fully detached before the new transport exists
	m.teardown(sl, true)

	cmd := m.resolver.Resolve(template, tags, kind)
	s := &session{
		info: domain.SessionInfo{
			Client:    clientID,
			Transport: kind,
			Target:    target,
			Command:   cmd,
			StartedAt: m.now(),
		},
		sink:     sl.sink,
		recorder: m.recorder,
		ended:    func(s *session) { m.release(sl, s) },
	}
	logger := m.logger.With("client", clientID, "transport", kind, "target", target)

	// Hold callbacks back until capture-started is out
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := launch(cmd, s.events())
	if err != nil {
		s.detached = true
		logger.Warn("capture failed to start", "error", err)
		sl.sink.Emit(domain.TransportErrorEvent(kind), errorPayload(err))
		return nil
	}

	s.handle = h
	sl.current = s
	logger.Info("capture started", "command", cmd)
	sl.sink.Emit(domain.EventCaptureStarted, domain.CapturePayload{Transport: kind, Target: target, Command: cmd})
	return nil
}

// Stop ends the client's current capture but keeps the client connected
func (m *Manager) Stop(clientID string) error {
	sl, err := m.lookup(clientID)
	if err != nil {
		return err
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.current == nil {
		return domain.ErrSessionNotFound
	}
	m.teardown(sl, true)
	return nil
}

// Disconnect tears down the client's session and forgets the client.
// Unknown clients are ignored.
func (m *Manager) Disconnect(clientID string) {
	m.mu.Lock()
	sl, ok := m.slots[clientID]
	delete(m.slots, clientID)
	m.mu.Unlock()
	if !ok {
		return
	}

	sl.mu.Lock()
	sl.gone = true
	m.teardown(sl, false)
	sl.mu.Unlock()
	m.logger.Debug("client disconnected", "client", clientID)
}

// Sessions lists the live sessions ordered by start time
func (m *Manager) Sessions() []domain.SessionInfo {
	m.mu.Lock()
	slots := make([]*slot, 0, len(m.slots))
	for _, sl := range m.slots {
		slots = append(slots, sl)
	}
	m.mu.Unlock()

	infos := make([]domain.SessionInfo, 0, len(slots))
	for _, sl := range slots {
		sl.mu.Lock()
		if sl.current != nil {
			infos = append(infos, sl.current.info)
		}
		sl.mu.Unlock()
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].Client < infos[j].Client
		}
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// Clients returns the number of connected clients
func (m *Manager) Clients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

// Close tears down every session, refuses new clients and waits until the
// transports have terminated or ctx is done.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	slots := m.slots
	m.slots = make(map[string]*slot)
	m.mu.Unlock()

	var handles []transport.Handle
	for _, sl := range slots {
		sl.mu.Lock()
		sl.gone = true
		if s := sl.current; s != nil && s.handle != nil {
			handles = append(handles, s.handle)
		}
		m.teardown(sl, false)
		sl.mu.Unlock()
	}

	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for captures to stop: %w", ctx.Err())
		}
	}
	return nil
}

func (m *Manager) lookup(clientID string) (*slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return nil, domain.ErrShutdownInProgress
	}
	sl, ok := m.slots[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrClientNotFound, clientID)
	}
	return sl, nil
}

// teardown detaches and stops the slot's session. Caller holds sl.mu.
func (m *Manager) teardown(sl *slot, notify bool) {
	s := sl.current
	if s == nil {
		return
	}
	sl.current = nil

	if s.detach() {
		m.logger.Info("capture stopped", "client", sl.client, "transport", s.info.Transport, "target", s.info.Target)
		if notify {
			sl.sink.Emit(domain.EventCaptureEnded, domain.CapturePayload{Transport: s.info.Transport, Target: s.info.Target})
		}
	}
}

// release clears a session that ended on its own
func (m *Manager) release(sl *slot, s *session) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.current == s {
		sl.current = nil
		m.logger.Info("capture ended", "client", sl.client, "transport", s.info.Transport, "target", s.info.Target)
	}
}
