package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/charliek/logtap/internal/api"
	"github.com/charliek/logtap/internal/domain"
	"github.com/charliek/logtap/internal/transport"
)

// PasswordEnvVar supplies the SSH password without putting it on the command line
const PasswordEnvVar = "LOGTAP_SSH_PASSWORD"

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture device logs through a running server",
}

var (
	captureCommand string
	captureTags    []string
)

var captureLocalCmd = &cobra.Command{
	Use:   "local <device>",
	Short: "Capture logs through the local device bridge",
	Long: `Capture logs from a device attached to the server through the device bridge.

Examples:
  # Default dlogutil command
  logtap capture local emulator-26101

  # Only two tags
  logtap capture local emulator-26101 --tag launcher --tag wm`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := domain.LocalRequest{
			DeviceID: args[0],
			Command:  captureCommand,
			Tags:     captureTags,
		}
		return capture(cmd, domain.EventStartLocalCapture, req)
	},
}

var remoteOpts struct {
	user       string
	port       int
	password   string
	keyFile    string
	passphrase string
}

var captureRemoteCmd = &cobra.Command{
	Use:   "remote <host>",
	Short: "Capture logs through an SSH shell",
	Long: `Capture logs from a device reachable over SSH. The server opens an
interactive shell on the device and runs the command in it.

The password may also be given in ` + PasswordEnvVar + `.

Examples:
  logtap capture remote 10.0.0.5 --user owner --key-file ~/.ssh/tv_ed25519`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := remoteRequest(args[0])
		if err != nil {
			return err
		}
		return capture(cmd, domain.EventStartRemoteCapture, req)
	},
}

// remoteRequest builds the start request from the remote flags
func remoteRequest(host string) (domain.RemoteRequest, error) {
	req := domain.RemoteRequest{
		Host:       host,
		Port:       remoteOpts.port,
		Username:   remoteOpts.user,
		Password:   remoteOpts.password,
		Passphrase: remoteOpts.passphrase,
		Command:    captureCommand,
		Tags:       captureTags,
	}
	if req.Password == "" {
		req.Password = os.Getenv(PasswordEnvVar)
	}
	if remoteOpts.keyFile != "" {
		key, err := os.ReadFile(remoteOpts.keyFile)
		if err != nil {
			return req, fmt.Errorf("reading key file: %w", err)
		}
		req.PrivateKey = string(key)
	}
	return req, nil
}

func capture(cmd *cobra.Command, event string, req any) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := NewClient(apiAddr).DialCapture(ctx)
	if err != nil {
		return err
	}
	return runCapture(ctx, conn, event, req, cmd.OutOrStdout(), newLogger(cmd.ErrOrStderr()))
}

// errTransport is returned when the capture ended with a transport error
var errTransport = errors.New("capture failed")

// runCapture starts a capture on conn and copies its output to out until the
// capture ends or ctx is cancelled. Cancelling sends stop-capture and closes
// the connection.
func runCapture(ctx context.Context, conn *websocket.Conn, event string, req any, out io.Writer, logger *slog.Logger) error {
	defer conn.Close()

	if err := conn.WriteJSON(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{event, req}); err != nil {
		return fmt.Errorf("sending %s: %w", event, err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteJSON(map[string]string{"event": domain.EventStopCapture})
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.SetReadDeadline(deadline)
		case <-done:
		}
	}()

	for {
		var frame api.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("reading from server: %w", err)
		}

		switch frame.Event {
		case domain.EventLogData:
			var text string
			if err := json.Unmarshal(frame.Data, &text); err != nil {
				logger.Debug("Malformed log-data frame", "error", err)
				continue
			}
			if _, err := io.WriteString(out, text); err != nil {
				return err
			}

		case domain.EventCaptureStarted:
			var p domain.CapturePayload
			_ = json.Unmarshal(frame.Data, &p)
			logger.Info("Capture started", "transport", p.Transport, "target", p.Target, "command", p.Command)

		case domain.EventCaptureEnded:
			var p domain.CapturePayload
			_ = json.Unmarshal(frame.Data, &p)
			logger.Info("Capture ended", "transport", p.Transport, "target", p.Target)
			return nil

		case domain.EventLocalTransportError, domain.EventRemoteTransportError:
			var p domain.ErrorPayload
			_ = json.Unmarshal(frame.Data, &p)
			// The session may keep running after a runtime error; wait for capture-ended
			logger.Error("Transport error", "kind", p.Kind, "message", p.Message)
			if p.Kind != string(transport.ProcessRuntimeError) {
				return fmt.Errorf("%w: %s", errTransport, p.Message)
			}

		case domain.EventRequestError:
			var p domain.ErrorPayload
			_ = json.Unmarshal(frame.Data, &p)
			return fmt.Errorf("%s: %s", p.Kind, p.Message)

		default:
			logger.Debug("Ignoring frame", "event", frame.Event)
		}
	}
}

func init() {
	captureCmd.PersistentFlags().StringVar(&captureCommand, "command", "", "Command template; $(TAGS) is replaced by the tags")
	captureCmd.PersistentFlags().StringArrayVar(&captureTags, "tag", nil, "Log tag to capture (repeatable)")

	captureRemoteCmd.Flags().StringVarP(&remoteOpts.user, "user", "u", "", "SSH username")
	captureRemoteCmd.Flags().IntVarP(&remoteOpts.port, "ssh-port", "p", 0, "SSH port (default from server config)")
	captureRemoteCmd.Flags().StringVar(&remoteOpts.password, "password", "", "SSH password")
	captureRemoteCmd.Flags().StringVarP(&remoteOpts.keyFile, "key-file", "i", "", "Private key file")
	captureRemoteCmd.Flags().StringVar(&remoteOpts.passphrase, "passphrase", "", "Private key passphrase")
	_ = captureRemoteCmd.MarkFlagRequired("user")

	captureCmd.AddCommand(captureLocalCmd, captureRemoteCmd)
	rootCmd.AddCommand(captureCmd)
}
