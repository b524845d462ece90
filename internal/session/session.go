package session

import (
	"errors"
	"sync"
	"unicode/utf8"

	"github.com/charliek/logtap/internal/domain"
	"github.com/charliek/logtap/internal/transport"
)

// Sink delivers outbound events to one client connection.
// Emit must be safe for concurrent use and must not block for long.
type Sink interface {
	Emit(event string, payload any)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(event string, payload any)

// Emit calls f
func (f SinkFunc) Emit(event string, payload any) {
	f(event, payload)
}

// Recorder stores forwarded chunks in the capture history
type Recorder interface {
	Record(client string, kind domain.TransportKind, target, text string)
}

// session is one live capture. Its mutex gates every transport callback so
// that once detach has run nothing more reaches the sink.
type session struct {
	info     domain.SessionInfo
	sink     Sink
	recorder Recorder

	mu       sync.Mutex
	detached bool
	handle   transport.Handle
	pending  []byte // trailing bytes of a rune split across chunks
	ended    func(*session)
}

// events builds the transport callbacks for this session
func (s *session) events() transport.Events {
	return transport.Events{
		OnData:  s.onData,
		OnError: s.onError,
		OnClose: s.onClose,
	}
}

func (s *session) onData(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return
	}

	text := s.decode(chunk)
	if text == "" {
		return
	}
	s.sink.Emit(domain.EventLogData, text)
	if s.recorder != nil {
		s.recorder.Record(s.info.Client, s.info.Transport, s.info.Target, text)
	}
}

func (s *session) onError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return
	}
	s.sink.Emit(domain.TransportErrorEvent(s.info.Transport), errorPayload(err))
}

// onClose runs when the transport terminates on its own
func (s *session) onClose() {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return
	}
	s.detached = true
	s.flush()
	s.sink.Emit(domain.EventCaptureEnded, domain.CapturePayload{Transport: s.info.Transport, Target: s.info.Target})
	s.mu.Unlock()

	if s.ended != nil {
		s.ended(s)
	}
}

// detach cuts the session off from its sink and stops the transport. Bytes
// still held back by decode are emitted first. It reports whether this call
// did the detaching.
func (s *session) detach() bool {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return false
	}
	s.flush()
	s.detached = true
	h := s.handle
	s.mu.Unlock()

	if h != nil {
		h.Stop()
	}
	return true
}

// decode converts a chunk to text, holding back an incomplete trailing rune
// until the next chunk completes it. Caller holds s.mu.
func (s *session) decode(chunk []byte) string {
	if len(s.pending) > 0 {
		chunk = append(s.pending, chunk...)
		s.pending = nil
	}

	cut := len(chunk)
	for i := len(chunk) - 1; i >= 0 && i >= len(chunk)-utf8.UTFMax; i-- {
		if utf8.RuneStart(chunk[i]) {
			if !utf8.FullRune(chunk[i:]) {
				cut = i
			}
			break
		}
	}
	if cut < len(chunk) {
		s.pending = append([]byte(nil), chunk[cut:]...)
	}
	return string(chunk[:cut])
}

// flush emits whatever decode held back. Caller holds s.mu.
func (s *session) flush() {
	if len(s.pending) == 0 {
		return
	}
	text := string(s.pending)
	s.pending = nil
	s.sink.Emit(domain.EventLogData, text)
	if s.recorder != nil {
		s.recorder.Record(s.info.Client, s.info.Transport, s.info.Target, text)
	}
}

func errorPayload(err error) domain.ErrorPayload {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return domain.ErrorPayload{Message: terr.Message(), Kind: string(terr.Kind)}
	}
	return domain.ErrorPayload{Message: err.Error()}
}
