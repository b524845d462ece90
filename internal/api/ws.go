package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/charliek/logtap/internal/constants"
	"github.com/charliek/logtap/internal/domain"
	"github.com/charliek/logtap/internal/session"
)

// Frame is the envelope of every websocket message in both directions
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outFrame is a Frame whose payload has not been encoded yet
type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// localCapturePayload accepts the device under either of its names
type localCapturePayload struct {
	DeviceID         string   `json:"deviceId"`
	TargetIdentifier string   `json:"targetIdentifier"`
	Command          string   `json:"command"`
	Tags             []string `json:"tags"`
}

// WSConfig holds per-connection limits
type WSConfig struct {
	Rate         float64       // Inbound events per second
	Burst        int           // Inbound burst allowance
	SendBuffer   int           // Outbound frames queued before dropping
	WriteWait    time.Duration // Deadline for a single write
	PongWait     time.Duration // Read deadline extended by each pong
	PingInterval time.Duration // Must be shorter than PongWait
}

// DefaultWSConfig returns the default connection limits
func DefaultWSConfig() WSConfig {
	return WSConfig{
		Rate:         constants.DefaultClientRate,
		Burst:        constants.DefaultClientBurst,
		SendBuffer:   constants.DefaultClientSendBuffer,
		WriteWait:    10 * time.Second,
		PongWait:     60 * time.Second,
		PingInterval: 54 * time.Second,
	}
}

// WSHandler upgrades HTTP requests to capture client connections
type WSHandler struct {
	manager  *session.Manager
	config   WSConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]*wsClient
}

// NewWSHandler creates the websocket entry point
func NewWSHandler(manager *session.Manager, config WSConfig, logger *slog.Logger) *WSHandler {
	defaults := DefaultWSConfig()
	if config.Rate <= 0 {
		config.Rate = defaults.Rate
	}
	if config.Burst <= 0 {
		config.Burst = defaults.Burst
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = defaults.SendBuffer
	}
	if config.WriteWait <= 0 {
		config.WriteWait = defaults.WriteWait
	}
	if config.PongWait <= 0 {
		config.PongWait = defaults.PongWait
	}
	if config.PingInterval <= 0 || config.PingInterval >= config.PongWait {
		config.PingInterval = config.PongWait * 9 / 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &WSHandler{
		manager: manager,
		config:  config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger:  logger,
		clients: make(map[string]*wsClient),
	}
}

// checkOrigin admits non-browser clients, localhost pages and same-host pages
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || isLocalhostOrigin(origin) {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// ServeHTTP handles GET /ws
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		id:      uuid.NewString(),
		conn:    conn,
		handler: h,
		send:    make(chan []byte, h.config.SendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(h.config.Rate), h.config.Burst),
	}
	c.logger = h.logger.With("client", c.id, "remote", r.RemoteAddr)

	if err := h.manager.Connect(c.id, c); err != nil {
		c.logger.Warn("rejecting client", "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(h.config.WriteWait))
		conn.Close()
		return
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	c.logger.Info("client connected")

	go c.writePump()
	c.readPump()
}

// clientCount returns the number of open connections
func (h *WSHandler) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll closes every open connection. Hijacked connections are not
// touched by http.Server.Shutdown, so the server calls this on shutdown.
func (h *WSHandler) CloseAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *WSHandler) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
}

// wsClient is one websocket connection. It is the session.Sink for its client id.
type wsClient struct {
	id      string
	conn    *websocket.Conn
	handler *WSHandler
	logger  *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64

	limiter *rate.Limiter
}

// Emit queues an event without blocking; it is dropped if the queue is full
func (c *wsClient) Emit(event string, payload any) {
	data, err := json.Marshal(outFrame{Event: event, Data: payload})
	if err != nil {
		c.logger.Error("encoding event", "event", event, "error", err)
		return
	}

	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- data:
	case <-c.done:
	default:
		if n := c.dropped.Add(1); n == 1 || n%1000 == 0 {
			c.logger.Warn("client too slow, dropping events", "dropped", n)
		}
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump dispatches inbound frames until the connection goes away
func (c *wsClient) readPump() {
	defer func() {
		c.handler.manager.Disconnect(c.id)
		c.handler.remove(c)
		c.close()
		c.logger.Info("client disconnected")
	}()

	c.conn.SetReadLimit(constants.MaxInboundMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.handler.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.handler.config.PongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read error", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		if !c.limiter.Allow() {
			c.Emit(domain.EventRequestError, domain.ErrorPayload{
				Message: "rate limit exceeded",
				Kind:    domain.ErrCodeRateLimited,
			})
			continue
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.requestError(fmt.Errorf("%w: malformed frame: %v", domain.ErrInvalidRequest, err))
			continue
		}
		if err := c.dispatch(frame); err != nil {
			c.requestError(err)
		}
	}
}

// dispatch maps an inbound event to a session manager call
func (c *wsClient) dispatch(frame Frame) error {
	manager := c.handler.manager

	switch frame.Event {
	case domain.EventStartLocalCapture:
		var p localCapturePayload
		if err := decodeData(frame.Data, &p); err != nil {
			return err
		}
		if p.DeviceID == "" {
			p.DeviceID = p.TargetIdentifier
		}
		if p.Tags == nil {
			p.Tags = []string{}
		}
		return manager.StartLocal(c.id, domain.LocalRequest{DeviceID: p.DeviceID, Command: p.Command, Tags: p.Tags})

	case domain.EventStartRemoteCapture:
		var req domain.RemoteRequest
		if err := decodeData(frame.Data, &req); err != nil {
			return err
		}
		if req.Tags == nil {
			req.Tags = []string{}
		}
		return manager.StartRemote(c.id, req)

	case domain.EventStopCapture:
		return manager.Stop(c.id)

	case "":
		return fmt.Errorf("%w: frame has no event name", domain.ErrInvalidRequest)

	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownEvent, frame.Event)
	}
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

func (c *wsClient) requestError(err error) {
	code := domain.ErrorCode(err)
	if code == "INTERNAL_ERROR" {
		c.logger.Error("request failed", "error", err)
	}
	c.Emit(domain.EventRequestError, domain.ErrorPayload{Message: err.Error(), Kind: code})
}

// writePump owns all writes to the connection
func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.handler.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := c.handler.config.WriteWait
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write error", "error", err)
				c.close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
