package domain

import "time"

// LogEntry is one chunk of captured output recorded in the capture history
type LogEntry struct {
	Timestamp time.Time     `json:"timestamp"`
	Client    string        `json:"client"`
	Transport TransportKind `json:"transport"`
	Target    string        `json:"target"`
	Text      string        `json:"text"`
}

// LogFilter defines criteria for filtering history entries
type LogFilter struct {
	Clients   []string      // Filter to specific client connections
	Transport TransportKind // Filter to one transport kind; empty means both
	Pattern   string        // Filter by pattern match
	IsRegex   bool          // If true, Pattern is a regex; otherwise substring match
}

// IsEmpty returns true if no filters are set
func (f LogFilter) IsEmpty() bool {
	return len(f.Clients) == 0 && f.Transport == "" && f.Pattern == ""
}

// MatchesClient returns true if the client id matches the filter
func (f LogFilter) MatchesClient(id string) bool {
	if len(f.Clients) == 0 {
		return true
	}
	for _, c := range f.Clients {
		if c == id {
			return true
		}
	}
	return false
}

// MatchesTransport returns true if the transport kind matches the filter
func (f LogFilter) MatchesTransport(kind TransportKind) bool {
	return f.Transport == "" || f.Transport == kind
}

// LogStats contains statistics about the capture history
type LogStats struct {
	TotalEntries int
	BufferSize   int
	Subscribers  int
	Evicted      uint64 // entries overwritten once the buffer was full
	Dropped      uint64 // entries skipped for followers that fell behind
}
