// Package constants provides shared configuration values used across the logtap application.
package constants

import "time"

// Configuration file defaults
const (
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "logtap.yaml"

	// DefaultAPIHost is the default host for the API server
	DefaultAPIHost = "127.0.0.1"

	// DefaultAPIPort is the default port for the API server
	DefaultAPIPort = 5556

	// DefaultAPIAddress is the default API address for client connections
	DefaultAPIAddress = "http://127.0.0.1:5556"
)

// Capture defaults
const (
	// TagsPlaceholder is replaced by the space-joined tag list in command templates
	TagsPlaceholder = "$(TAGS)"

	// DefaultLocalCommand is the command run through the device bridge when none is given
	DefaultLocalCommand = "dlogutil -v kerneltime " + TagsPlaceholder

	// DefaultRemoteCommand is the command written to the remote shell when none is given
	DefaultRemoteCommand = "dlogutil -v kerneltime " + TagsPlaceholder

	// DefaultBridgePath is the device bridge executable
	DefaultBridgePath = "sdb"

	// DefaultSSHPort is used when a remote capture request carries no port
	DefaultSSHPort = 22
)

// Timeout and duration defaults
const (
	// DefaultRequestTimeout is the default timeout for API requests
	DefaultRequestTimeout = 30 * time.Second

	// DefaultShutdownTimeout is the default timeout for graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultSettleDelay is how long to wait after a remote shell opens before writing the command
	DefaultSettleDelay = time.Second

	// DefaultConnectTimeout bounds the SSH dial and handshake
	DefaultConnectTimeout = 15 * time.Second

	// DefaultKillGrace is how long a stopped bridge process gets before SIGKILL
	DefaultKillGrace = 3 * time.Second
)

// Log configuration
const (
	// DefaultLogLimit is the default number of history entries to return
	DefaultLogLimit = 100

	// MaxLogLines caps the number of history entries a single request can ask for
	MaxLogLines = 10000
)

// Buffer sizes
const (
	// DefaultLogBufferSize is the default size for the capture history
	DefaultLogBufferSize = 5000

	// DefaultSubscriptionBuffer is the default size for subscription buffers
	DefaultSubscriptionBuffer = 100

	// ReadChunkSize is the read size for transport output streams
	ReadChunkSize = 32 * 1024
)

// Client connection defaults
const (
	// DefaultClientRate is the number of inbound events per second a connection may send
	DefaultClientRate = 20

	// DefaultClientBurst is the inbound event burst allowance
	DefaultClientBurst = 10

	// DefaultClientSendBuffer is the outbound event queue size per connection
	DefaultClientSendBuffer = 1024

	// MaxInboundMessageSize caps a single inbound websocket frame
	MaxInboundMessageSize = 64 * 1024
)

// Terminal colors
var (
	// ClientColors are the colors used for client ids in terminal output
	ClientColors = []string{
		"\033[36m", // cyan
		"\033[33m", // yellow
		"\033[32m", // green
		"\033[35m", // magenta
		"\033[34m", // blue
	}

	// ColorReset resets the terminal color
	ColorReset = "\033[0m"
)
