package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charliek/logtap/internal/api"
	"github.com/charliek/logtap/internal/constants"
	"github.com/charliek/logtap/internal/domain"
)

// LogPrinter handles consistent history formatting and color assignment
type LogPrinter struct {
	out        io.Writer
	color      bool
	colors     map[string]string
	colorIndex int
}

// NewLogPrinter creates a new LogPrinter writing to out
func NewLogPrinter(out io.Writer, color bool) *LogPrinter {
	return &LogPrinter{
		out:    out,
		color:  color,
		colors: make(map[string]string),
	}
}

// PrintEntry prints a history entry recorded in this process
func (lp *LogPrinter) PrintEntry(entry domain.LogEntry) {
	lp.print(entry.Timestamp, entry.Client, entry.Target, entry.Text)
}

// PrintAPIEntry prints a history entry returned by the API
func (lp *LogPrinter) PrintAPIEntry(entry api.LogEntryResponse) {
	ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
	if err != nil {
		ts = time.Now()
	}
	lp.print(ts, entry.Client, entry.Target, entry.Text)
}

// print writes one prefixed line per line of text. Chunks are not line
// aligned, so a trailing partial line is printed as is.
func (lp *LogPrinter) print(ts time.Time, client, target, text string) {
	prefix := fmt.Sprintf("%s %s", ts.Format("15:04:05"), lp.label(client, target))
	for _, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		fmt.Fprintf(lp.out, "%s | %s\n", prefix, strings.TrimSuffix(line, "\r"))
	}
}

func (lp *LogPrinter) label(client, target string) string {
	name := shortID(client)
	if target != "" {
		name += " " + target
	}
	if !lp.color {
		return name
	}
	return lp.getColor(client) + name + constants.ColorReset
}

func (lp *LogPrinter) getColor(client string) string {
	color, ok := lp.colors[client]
	if !ok {
		color = constants.ClientColors[lp.colorIndex%len(constants.ClientColors)]
		lp.colors[client] = color
		lp.colorIndex++
	}
	return color
}

// shortID trims a connection id to its first group
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// formatDuration formats a duration nicely
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
