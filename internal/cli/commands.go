package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/charliek/logtap/internal/api"
	"github.com/charliek/logtap/internal/constants"
)

// useColor reports whether terminal output should be colored
func useColor() bool {
	_, disabled := os.LookupEnv("NO_COLOR")
	return !disabled
}

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(NewClient(apiAddr), cmd.OutOrStdout(), statusJSON)
	},
}

func runStatus(client *Client, out io.Writer, jsonOutput bool) error {
	status, err := client.GetStatus()
	if err != nil {
		return fmt.Errorf("%w\nIs logtap running? Try 'logtap serve' first", err)
	}

	if jsonOutput {
		return json.NewEncoder(out).Encode(status)
	}

	fmt.Fprintf(out, "Status:   %s\n", status.Status)
	fmt.Fprintf(out, "Uptime:   %s\n", formatDuration(time.Duration(status.UptimeSeconds)*time.Second))
	if status.ConfigFile != "" {
		fmt.Fprintf(out, "Config:   %s\n", status.ConfigFile)
	}
	fmt.Fprintf(out, "Clients:  %d\n", status.Clients)
	fmt.Fprintf(out, "Sessions: %d\n", status.Sessions)
	fmt.Fprintf(out, "History:  %d/%d entries, %d subscribers\n",
		status.History.Entries, status.History.Capacity, status.History.Subscribers)
	if status.History.Evicted > 0 || status.History.Dropped > 0 {
		fmt.Fprintf(out, "          %d evicted, %d dropped for slow followers\n",
			status.History.Evicted, status.History.Dropped)
	}
	fmt.Fprintf(out, "Bridge:   %s\n", status.Bridge.Path)
	return nil
}

var sessionsJSON bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List live capture sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessions(NewClient(apiAddr), cmd.OutOrStdout(), sessionsJSON)
	},
}

func runSessions(client *Client, out io.Writer, jsonOutput bool) error {
	resp, err := client.GetSessions()
	if err != nil {
		return err
	}

	if jsonOutput {
		return json.NewEncoder(out).Encode(resp)
	}

	if len(resp.Sessions) == 0 {
		fmt.Fprintln(out, "No active capture sessions")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLIENT\tTRANSPORT\tTARGET\tUPTIME\tCOMMAND")
	fmt.Fprintln(w, "------\t---------\t------\t------\t-------")
	for _, s := range resp.Sessions {
		uptime := formatDuration(time.Duration(s.UptimeSeconds) * time.Second)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Client, s.Transport, s.Target, uptime, s.Command)
	}
	return w.Flush()
}

var (
	logsParams LogParams
	logsFollow bool
	logsJSON   bool
)

var logsCmd = &cobra.Command{
	Use:   "logs [client...]",
	Short: "Show captured history",
	Long: `Show entries from the capture history of a running server.

Examples:
  # Last 100 entries from every capture
  logtap logs

  # Follow error lines from remote captures
  logtap logs -f --transport remote --pattern 'E/'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		params := logsParams
		params.Clients = append(params.Clients, args...)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runLogs(ctx, NewClient(apiAddr), cmd.OutOrStdout(), params, logsFollow, logsJSON, useColor())
	},
}

func runLogs(ctx context.Context, client *Client, out io.Writer, params LogParams, follow, jsonOutput, color bool) error {
	printer := NewLogPrinter(out, color)
	enc := json.NewEncoder(out)

	if follow {
		return client.StreamLogs(ctx, params, func(entry api.LogEntryResponse) {
			if jsonOutput {
				_ = enc.Encode(entry)
				return
			}
			printer.PrintAPIEntry(entry)
		})
	}

	resp, err := client.GetLogs(params)
	if err != nil {
		return err
	}

	if jsonOutput {
		return enc.Encode(resp)
	}

	for _, entry := range resp.Logs {
		printer.PrintAPIEntry(entry)
	}
	if resp.FilteredCount < resp.TotalCount {
		fmt.Fprintf(out, "\n(showing %d of %d entries)\n", resp.FilteredCount, resp.TotalCount)
	}
	return nil
}

var stopCmd = &cobra.Command{
	Use:   "stop [client]",
	Short: "Stop the server, or one client's capture session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := ""
		if len(args) == 1 {
			client = args[0]
		}
		return runStop(NewClient(apiAddr), cmd.OutOrStdout(), client)
	},
}

func runStop(client *Client, out io.Writer, target string) error {
	if target != "" {
		if err := client.StopSession(target); err != nil {
			return fmt.Errorf("stopping session of %s: %w", target, err)
		}
		fmt.Fprintf(out, "Stopped capture session of %s\n", target)
		return nil
	}

	if err := client.Shutdown(); err != nil {
		return err
	}
	fmt.Fprintln(out, "Shutdown initiated")
	return nil
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")

	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Output as JSON")

	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Stream new entries")
	logsCmd.Flags().BoolVar(&logsJSON, "json", false, "Output as JSON")
	logsCmd.Flags().IntVarP(&logsParams.Lines, "lines", "n", constants.DefaultLogLimit, "Number of entries to show")
	logsCmd.Flags().StringSliceVar(&logsParams.Clients, "client", nil, "Only entries from these client ids")
	logsCmd.Flags().StringVar(&logsParams.Transport, "transport", "", "Only entries from one transport (local or remote)")
	logsCmd.Flags().StringVar(&logsParams.Pattern, "pattern", "", "Only entries containing pattern")
	logsCmd.Flags().BoolVar(&logsParams.Regex, "regex", false, "Treat pattern as a regular expression")

	rootCmd.AddCommand(statusCmd, sessionsCmd, logsCmd, stopCmd)
}
