package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/charliek/logtap/internal/domain"
	"github.com/charliek/logtap/internal/transport"
)

func TestSession_DecodeSplitRune(t *testing.T) {
	sink := &sinkRecorder{}
	s := &session{info: domain.SessionInfo{Client: "c1", Transport: domain.TransportLocal}, sink: sink}

	euro := []byte("€") // 3 bytes
	s.onData(append([]byte("price "), euro[:2]...))
	s.onData(append(euro[2:], []byte(" ok\n")...))

	data := sink.named(domain.EventLogData)
	assert.Len(t, data, 2)
	assert.Equal(t, "price ", data[0].payload)
	assert.Equal(t, "€ ok\n", data[1].payload)
}

func TestSession_FlushOnClose(t *testing.T) {
	sink := &sinkRecorder{}
	s := &session{info: domain.SessionInfo{Transport: domain.TransportRemote}, sink: sink}

	s.onData([]byte{0xe2, 0x82})
	assert.Empty(t, sink.named(domain.EventLogData))

	s.onClose()
	assert.Len(t, sink.named(domain.EventLogData), 1)
	assert.Equal(t, []string{domain.EventLogData, domain.EventCaptureEnded}, sink.names())
}

func TestSession_FlushOnDetach(t *testing.T) {
	sink := &sinkRecorder{}
	s := &session{info: domain.SessionInfo{Transport: domain.TransportLocal}, sink: sink}

	s.onData([]byte{0xe2, 0x82})
	assert.Empty(t, sink.named(domain.EventLogData))

	assert.True(t, s.detach())
	data := sink.named(domain.EventLogData)
	assert.Len(t, data, 1)
	assert.Equal(t, string([]byte{0xe2, 0x82}), data[0].payload)

	s.onData([]byte{0xac})
	assert.Len(t, sink.named(domain.EventLogData), 1)
}

func TestSession_DetachGatesEvents(t *testing.T) {
	sink := &sinkRecorder{}
	s := &session{info: domain.SessionInfo{Transport: domain.TransportLocal}, sink: sink}

	assert.True(t, s.detach())
	assert.False(t, s.detach())

	s.onData([]byte("late"))
	s.onError(errors.New("late"))
	s.onClose()
	assert.Empty(t, sink.names())
}

func TestErrorPayload(t *testing.T) {
	p := errorPayload(&transport.Error{Kind: transport.ChannelError, Err: errors.New("channel closed")})
	assert.Equal(t, domain.ErrorPayload{Message: "channel closed", Kind: "channel_error"}, p)

	p = errorPayload(errors.New("plain"))
	assert.Equal(t, domain.ErrorPayload{Message: "plain"}, p)
}
