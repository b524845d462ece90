package domain

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// TransportKind identifies how a capture session reaches the device
type TransportKind string

const (
	// TransportLocal spawns the device bridge executable as a subprocess
	TransportLocal TransportKind = "local"
	// TransportRemote runs the command in an interactive SSH shell
	TransportRemote TransportKind = "remote"
)

// String returns the string representation of TransportKind
func (k TransportKind) String() string {
	return string(k)
}

// Valid reports whether k is a known transport kind
func (k TransportKind) Valid() bool {
	return k == TransportLocal || k == TransportRemote
}

// Inbound client events
const (
	EventStartLocalCapture  = "start-local-capture"
	EventStartRemoteCapture = "start-remote-capture"
	EventStopCapture        = "stop-capture"
)

// Outbound client events
const (
	EventLogData              = "log-data"
	EventLocalTransportError  = "local-transport-error"
	EventRemoteTransportError = "remote-transport-error"
	EventCaptureStarted       = "capture-started"
	EventCaptureEnded         = "capture-ended"
	EventRequestError         = "request-error"
)

// TransportErrorEvent returns the outbound error event name for a transport kind
func TransportErrorEvent(kind TransportKind) string {
	if kind == TransportRemote {
		return EventRemoteTransportError
	}
	return EventLocalTransportError
}

// LocalRequest asks for a capture through the local device bridge
type LocalRequest struct {
	DeviceID string   `json:"deviceId"`
	Command  string   `json:"command,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Validate checks the request and fills defaults
func (r *LocalRequest) Validate() error {
	r.DeviceID = strings.TrimSpace(r.DeviceID)
	if r.DeviceID == "" {
		return fmt.Errorf("%w: deviceId is required", ErrInvalidRequest)
	}
	if r.Tags == nil {
		r.Tags = []string{}
	}
	return nil
}

// RemoteRequest asks for a capture through an SSH shell
type RemoteRequest struct {
	Host       string   `json:"host"`
	Port       int      `json:"port,omitempty"`
	Username   string   `json:"username"`
	Password   string   `json:"password,omitempty"`
	PrivateKey string   `json:"privateKey,omitempty"`
	Passphrase string   `json:"passphrase,omitempty"`
	Command    string   `json:"command,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// Validate checks the request and fills defaults. defaultPort is used when Port is zero.
func (r *RemoteRequest) Validate(defaultPort int) error {
	r.Host = strings.TrimSpace(r.Host)
	if r.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidRequest)
	}
	if r.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidRequest)
	}
	if r.Password == "" && r.PrivateKey == "" {
		return fmt.Errorf("%w: password or privateKey is required", ErrInvalidRequest)
	}
	if r.Port == 0 {
		r.Port = defaultPort
	}
	if r.Port < 1 || r.Port > 65535 {
		return fmt.Errorf("%w: port must be between 1 and 65535, got %d", ErrInvalidRequest, r.Port)
	}
	if r.Tags == nil {
		r.Tags = []string{}
	}
	return nil
}

// Address returns host:port
func (r RemoteRequest) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// Target identifies the remote end without credentials
func (r RemoteRequest) Target() string {
	return r.Username + "@" + r.Address()
}

// SessionInfo describes a live capture session
type SessionInfo struct {
	Client    string        `json:"client"`
	Transport TransportKind `json:"transport"`
	Target    string        `json:"target"`
	Command   string        `json:"command"`
	StartedAt time.Time     `json:"started_at"`
}

// UptimeSeconds returns the number of seconds the session has been running
func (s SessionInfo) UptimeSeconds() int64 {
	if s.StartedAt.IsZero() {
		return 0
	}
	return int64(time.Since(s.StartedAt).Seconds())
}

// ErrorPayload is the body of transport and request error events
type ErrorPayload struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// CapturePayload is the body of capture-started and capture-ended events
type CapturePayload struct {
	Transport TransportKind `json:"transport"`
	Target    string        `json:"target,omitempty"`
	Command   string        `json:"command,omitempty"`
}
