package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/charliek/logtap/internal/constants"
)

// ServerConfig holds configuration for the API server
type ServerConfig struct {
	Host        string
	Port        int
	AuthEnabled bool   // Whether authentication is required
	Token       string // Authentication token (only used if AuthEnabled is true)
}

// Server represents the HTTP API server
type Server struct {
	config     ServerConfig
	router     *chi.Mux
	httpServer *http.Server
	listener   net.Listener
	handlers   *Handlers
	ws         *WSHandler
	logger     *slog.Logger
	mu         sync.Mutex
}

// NewServer creates a new API server
func NewServer(config ServerConfig, handlers *Handlers, ws *WSHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(logger.Handler(), slog.LevelDebug),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	// CORS - restricted to localhost only
	r.Use(corsMiddleware())

	s := &Server{
		config:   config,
		router:   r,
		handlers: handlers,
		ws:       ws,
		logger:   logger,
	}

	s.registerRoutes()

	return s
}

// corsMiddleware returns a CORS middleware restricted to localhost
func corsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if isLocalhostOrigin(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isLocalhostOrigin reports whether a browser origin points at this machine
func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// authMiddleware checks the bearer token. Websocket clients in browsers cannot
// set headers, so a token query parameter is accepted as well.
func authMiddleware(authEnabled bool, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authEnabled {
				next.ServeHTTP(w, r)
				return
			}

			provided, problem := requestToken(r)
			if problem == "" && subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				problem = "invalid token"
			}
			if problem != "" {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: problem, Code: "UNAUTHORIZED"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func requestToken(r *http.Request) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if q := r.URL.Query().Get("token"); q != "" {
			return q, ""
		}
		return "", "missing authorization header"
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return "", "invalid authorization header format"
	}
	return strings.TrimPrefix(authHeader, prefix), ""
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	// Health check at root (no auth required)
	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	auth := authMiddleware(s.config.AuthEnabled, s.config.Token)

	if s.ws != nil {
		s.router.With(auth).Get("/ws", s.ws.ServeHTTP)
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(auth)

		// Request/response routes get a deadline; streams do not
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(constants.DefaultRequestTimeout))

			r.Get("/status", s.handlers.GetStatus)

			r.Get("/sessions", s.handlers.GetSessions)
			r.Post("/sessions/{client}/stop", s.handlers.StopSession)

			r.Get("/logs", s.handlers.GetLogs)

			r.Post("/shutdown", s.handlers.Shutdown)
		})

		r.Get("/logs/stream", s.handlers.StreamLogs)
	})
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen binds the server address. A zero port picks a free one.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port)))
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.Addr(), err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Start serves HTTP until Shutdown. Listen is called first if needed.
func (s *Server) Start() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	if ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
		s.mu.Lock()
		ln = s.listener
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disable for SSE and websockets
		IdleTimeout:  60 * time.Second,
	}
	server := s.httpServer
	s.mu.Unlock()

	s.logger.Info("api server listening", "addr", ln.Addr().String())
	return server.Serve(ln)
}

// Shutdown gracefully shuts down the server and closes websocket clients
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.httpServer
	ln := s.listener
	s.mu.Unlock()

	if s.ws != nil {
		s.ws.CloseAll()
	}

	if server == nil {
		if ln != nil {
			return ln.Close()
		}
		return nil
	}
	return server.Shutdown(ctx)
}

// Addr returns the server address, the bound one once listening
func (s *Server) Addr() string {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		return ln.Addr().String()
	}
	return net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
}
