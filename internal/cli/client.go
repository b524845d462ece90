package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charliek/logtap/internal/api"
	"github.com/charliek/logtap/internal/constants"
)

// Client is an HTTP client for the logtap API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	// streamClient has no overall timeout for long-lived SSE responses
	streamClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	// The token only exists when the server runs with auth
	token, _ := loadToken()

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: constants.DefaultRequestTimeout,
		},
		streamClient: &http.Client{},
	}
}

// GetStatus gets server status
func (c *Client) GetStatus() (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.get("/api/v1/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSessions gets all live capture sessions
func (c *Client) GetSessions() (*api.SessionListResponse, error) {
	var resp api.SessionListResponse
	if err := c.get("/api/v1/sessions", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StopSession stops the capture session of one client connection
func (c *Client) StopSession(client string) error {
	var resp api.SuccessResponse
	return c.post("/api/v1/sessions/"+url.PathEscape(client)+"/stop", &resp)
}

// Shutdown shuts down the server
func (c *Client) Shutdown() error {
	var resp api.SuccessResponse
	return c.post("/api/v1/shutdown", &resp)
}

// LogParams contains parameters for history queries
type LogParams struct {
	Clients   []string
	Transport string
	Lines     int
	Pattern   string
	Regex     bool
}

func (p LogParams) query(withLines bool) url.Values {
	query := url.Values{}
	if len(p.Clients) > 0 {
		query.Set("client", strings.Join(p.Clients, ","))
	}
	if p.Transport != "" {
		query.Set("transport", p.Transport)
	}
	if withLines && p.Lines > 0 {
		query.Set("lines", strconv.Itoa(p.Lines))
	}
	if p.Pattern != "" {
		query.Set("pattern", p.Pattern)
	}
	if p.Regex {
		query.Set("regex", "true")
	}
	return query
}

// GetLogs gets history entries with optional filtering
func (c *Client) GetLogs(params LogParams) (*api.LogsResponse, error) {
	path := "/api/v1/logs"
	if query := params.query(true); len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp api.LogsResponse
	if err := c.get(path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StreamLogs streams new history entries and calls the callback for each
// until ctx is cancelled or the server closes the stream
func (c *Client) StreamLogs(ctx context.Context, params LogParams, callback func(api.LogEntryResponse)) error {
	path := "/api/v1/logs/stream"
	if query := params.query(false); len(query) > 0 {
		path += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.addAuthHeader(req.Header)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		if data, ok := strings.CutPrefix(line, "data: "); ok {
			var entry api.LogEntryResponse
			if err := json.Unmarshal([]byte(data), &entry); err == nil {
				callback(entry)
			}
		}
	}
}

// DialCapture opens a capture connection on the websocket endpoint
func (c *Client) DialCapture(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing address: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	header := http.Header{}
	c.addAuthHeader(header)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, decodeError(resp)
		}
		return nil, fmt.Errorf("connecting to %s: %w", u.String(), err)
	}
	return conn, nil
}

func (c *Client) get(path string, v any) error {
	return c.do("GET", path, v)
}

func (c *Client) post(path string, v any) error {
	return c.do("POST", path, v)
}

func (c *Client) do(method, path string, v any) error {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if method == "POST" {
		req.Header.Set("Content-Type", "application/json")
	}
	c.addAuthHeader(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

// decodeError turns an error response into an error value
func decodeError(resp *http.Response) error {
	var errResp api.ErrorResponse
	if resp.Body != nil {
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Code != "" {
			return fmt.Errorf("%s: %s", errResp.Code, errResp.Error)
		}
	}
	return fmt.Errorf("request failed with status %d", resp.StatusCode)
}

// addAuthHeader adds the Authorization header if a token is available
func (c *Client) addAuthHeader(header http.Header) {
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
}
