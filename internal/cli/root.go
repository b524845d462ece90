package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/charliek/logtap/internal/config"
	"github.com/charliek/logtap/internal/constants"
	"github.com/charliek/logtap/internal/daemon"
)

// Version is set during build
var Version = "dev"

// Global flags
var (
	configPath           string
	apiAddr              string
	apiAddrExplicitlySet bool
	verbose              bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "logtap",
	Short: "Stream device logs to websocket clients",
	Long: `logtap captures device logs and streams them to connected clients.
Each client can run one capture at a time:
  - Local captures through the device bridge executable (sdb)
  - Remote captures through an interactive SSH shell
  - A shared, searchable history of everything captured
  - Background daemon mode`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("addr") {
			apiAddrExplicitlySet = true
		}
		// Without -c, pick up any of the accepted config names in the working directory
		if !cmd.Flags().Changed("config") {
			if found, err := config.FindConfigFile("."); err == nil {
				configPath = found
			}
		}

		// Client commands follow the running server unless --addr was given
		clientCommands := map[string]bool{
			"status":   true,
			"sessions": true,
			"logs":     true,
			"stop":     true,
			"local":    true,
			"remote":   true,
		}
		if clientCommands[cmd.Name()] && !apiAddrExplicitlySet {
			apiAddr = discoverAPIAddress()
		}
	},
}

// Execute runs the root command
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "logtap version %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", constants.DefaultConfigFile, "Config file")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", constants.DefaultAPIAddress, "API address for client commands")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.SetVersionTemplate("logtap version {{.Version}}\n")

	rootCmd.AddCommand(versionCmd)
}

// newLogger returns a text logger writing to w, at debug level with --verbose
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadAPIAddrFromConfig attempts to read the API address from the config file.
// Returns empty string if config doesn't exist or can't be read.
func loadAPIAddrFromConfig() string {
	cfg, err := config.Load(configPath)
	if err != nil {
		return ""
	}

	host := cfg.API.Host
	if host == "" || host == "0.0.0.0" {
		host = constants.DefaultAPIHost
	}
	port := cfg.API.Port
	if port == 0 {
		port = constants.DefaultAPIPort
	}

	return fmt.Sprintf("http://%s:%d", host, port)
}

// discoverAPIAddress attempts to discover the API address.
// Priority:
// 1. State file (.logtap/logtap.state) of a server that is still alive
// 2. Config file (logtap.yaml) - for configured port
// 3. Default address
func discoverAPIAddress() string {
	cwd, err := os.Getwd()
	if err == nil {
		if state, err := daemon.GetRunningState(cwd); err == nil {
			return state.URL()
		}
	}

	if addr := loadAPIAddrFromConfig(); addr != "" {
		return addr
	}

	return constants.DefaultAPIAddress
}
