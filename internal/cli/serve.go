package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/charliek/logtap/internal/api"
	"github.com/charliek/logtap/internal/config"
	"github.com/charliek/logtap/internal/constants"
	"github.com/charliek/logtap/internal/daemon"
	"github.com/charliek/logtap/internal/domain"
	"github.com/charliek/logtap/internal/logs"
	"github.com/charliek/logtap/internal/session"
	"github.com/charliek/logtap/internal/transport"
)

var (
	servePort   int
	serveDetach bool
	serveQuiet  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture server",
	Long: `Run the capture server. Clients connect to /ws and start local or
remote captures; everything captured is also kept in a shared history
served under /api/v1.

Examples:
  # Foreground, printing captured output
  logtap serve

  # Background daemon on a fixed port
  logtap serve -d --port 5600`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort < 0 || servePort > 65535 {
			return fmt.Errorf("invalid port: %d (must be 1-65535)", servePort)
		}

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}

		if serveDetach && !daemon.IsDaemonChild() {
			return startDetached(cmd.OutOrStdout(), cwd)
		}

		out := cmd.OutOrStdout()
		if daemon.IsDaemonChild() {
			logFile, err := daemon.SetupLogging(cwd)
			if err != nil {
				return err
			}
			defer logFile.Close()
			out = logFile
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runServe(ctx, serveOptions{
			ConfigPath: configPath,
			StateDir:   cwd,
			Port:       servePort,
			Out:        out,
			PrintLogs:  !serveQuiet && !daemon.IsDaemonChild(),
		})
	},
}

// startDetached re-executes serve in the background
func startDetached(out io.Writer, dir string) error {
	if err := daemon.CleanupStaleFiles(dir); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return fmt.Errorf("%w (see 'logtap status')", err)
		}
		return err
	}

	pid, err := daemon.Daemonize()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "logtap started in background (PID %d)\n", pid)
	fmt.Fprintf(out, "Logs: %s\n", daemon.LogPath(dir))
	return nil
}

// serveOptions controls one server run
type serveOptions struct {
	ConfigPath string
	StateDir   string    // Directory holding .logtap
	Port       int       // Overrides api.port when non-zero
	Out        io.Writer // Startup messages and server logs
	PrintLogs  bool      // Echo captured output to Out
	// ready is called with the bound address once the server accepts connections
	ready func(addr string)
}

// runServe runs the server until ctx is cancelled or shutdown is requested
// through the API
func runServe(ctx context.Context, opts serveOptions) error {
	logger := newLogger(opts.Out)

	if err := daemon.CleanupStaleFiles(opts.StateDir); err != nil {
		return err
	}
	if err := daemon.EnsureStateDir(opts.StateDir); err != nil {
		return err
	}
	pidFile := daemon.NewPIDFile(daemon.PIDPath(opts.StateDir))
	if err := pidFile.Create(); err != nil {
		return err
	}
	defer func() {
		if err := pidFile.Release(); err != nil {
			logger.Warn("Releasing PID file", "error", err)
		}
	}()

	cfg, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.Port > 0 {
		cfg.API.Port = opts.Port
	}

	configDir := filepath.Dir(opts.ConfigPath)
	if abs, err := filepath.Abs(opts.ConfigPath); err == nil {
		configDir = filepath.Dir(abs)
	}
	bridgeEnv, err := cfg.BridgeEnv(configDir)
	if err != nil {
		return err
	}

	history := logs.NewManager(logs.ManagerConfig{
		BufferSize:         cfg.Logs.BufferSize,
		SubscriptionBuffer: cfg.Logs.SubscriptionBuffer,
	}, logger)
	defer history.Close()

	local := transport.NewLocal(transport.LocalConfig{
		BridgePath: cfg.Bridge.Path,
		Env:        bridgeEnv,
		KillGrace:  cfg.Bridge.KillGrace.Std(),
	}, nil, logger)
	remote := transport.NewRemote(transport.RemoteConfig{
		SettleDelay:    cfg.Remote.SettleDelay.Std(),
		ConnectTimeout: cfg.Remote.ConnectTimeout.Std(),
	}, &transport.SSHDialer{
		ConnectTimeout: cfg.Remote.ConnectTimeout.Std(),
		KnownHostsFile: cfg.Remote.KnownHosts,
	}, logger)

	sessions := session.NewManager(session.Options{
		Resolver:       cfg.CommandTemplates(),
		Local:          local,
		Remote:         remote,
		Recorder:       history,
		DefaultSSHPort: cfg.Remote.DefaultPort,
		Logger:         logger,
	})

	ws := api.NewWSHandler(sessions, api.WSConfig{
		Rate:       cfg.Client.Rate,
		Burst:      cfg.Client.Burst,
		SendBuffer: cfg.Client.SendBuffer,
	}, logger)

	authEnabled := isAuthRequired(cfg)
	var token string
	if authEnabled {
		if token, err = generateToken(); err != nil {
			return fmt.Errorf("generating auth token: %w", err)
		}
		if err := saveToken(token); err != nil {
			return err
		}
	} else if !isLocalhost(cfg.API.Host) {
		logger.Warn("Auth disabled while binding to a network interface; any client can start captures",
			"host", cfg.API.Host)
	}

	shutdownCh := make(chan struct{})
	var shutdownOnce sync.Once
	handlers := api.NewHandlers(sessions, history, api.HandlersConfig{
		ConfigFile: opts.ConfigPath,
		BridgePath: cfg.Bridge.Path,
		BridgeEnv:  bridgeEnv,
		ShutdownFn: func() { shutdownOnce.Do(func() { close(shutdownCh) }) },
		Logger:     logger,
	})
	server := api.NewServer(api.ServerConfig{
		Host:        cfg.API.Host,
		Port:        cfg.API.Port,
		AuthEnabled: authEnabled,
		Token:       token,
	}, handlers, ws, logger)

	if err := server.Listen(); err != nil {
		return err
	}

	state, err := newState(server.Addr(), opts.ConfigPath, authEnabled)
	if err != nil {
		return err
	}
	if err := state.Write(opts.StateDir); err != nil {
		return err
	}
	defer func() {
		if err := daemon.RemoveState(opts.StateDir); err != nil {
			logger.Warn("Removing state file", "error", err)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.Info("logtap server started",
		"addr", "http://"+server.Addr(),
		"auth", authEnabled,
		"bridge", cfg.Bridge.Path)
	if authEnabled {
		logger.Info("Auth token saved", "path", tokenPath())
	}
	if opts.PrintLogs {
		go printHistory(history, NewLogPrinter(opts.Out, useColor()))
	}
	if opts.ready != nil {
		opts.ready(server.Addr())
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case <-shutdownCh:
		logger.Info("Shutdown requested via API")
	case runErr = <-serverErr:
		logger.Error("API server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Stopping API server", "error", err)
	}
	if err := sessions.Close(shutdownCtx); err != nil {
		logger.Warn("Stopping capture sessions", "error", err)
	}

	logger.Info("Shutdown complete")
	return runErr
}

// newState describes this process for client discovery
func newState(addr, configFile string, authEnabled bool) (*daemon.State, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("parsing listen address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parsing listen port: %w", err)
	}
	return &daemon.State{
		PID:         os.Getpid(),
		Port:        port,
		Host:        host,
		StartedAt:   time.Now(),
		ConfigFile:  configFile,
		AuthEnabled: authEnabled,
	}, nil
}

// printHistory echoes every recorded chunk until the history is closed
func printHistory(history *logs.Manager, printer *LogPrinter) {
	_, ch, err := history.Subscribe(domain.LogFilter{})
	if err != nil {
		slog.Debug("Subscribing to history", "error", err)
		return
	}
	for entry := range ch {
		printer.PrintEntry(entry)
	}
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "API port (overrides config)")
	serveCmd.Flags().BoolVarP(&serveDetach, "detach", "d", false, "Run in background (daemon mode)")
	serveCmd.Flags().BoolVarP(&serveQuiet, "quiet", "q", false, "Do not print captured output")

	rootCmd.AddCommand(serveCmd)
}
