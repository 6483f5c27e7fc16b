package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	coorderr "github.com/harborhq/contextd/errors"
	"github.com/harborhq/contextd/pkg/models"
)

// RemoteClient implements Client by calling the daemon's HTTP API over
// a Unix socket.
type RemoteClient struct {
	httpClient *http.Client
	socketPath string
	staleAfter time.Duration
}

// NewRemoteClient creates a new RemoteClient connected to the daemon socket.
func NewRemoteClient(socketPath string) (*RemoteClient, error) {
	// Create HTTP client that dials Unix socket
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
		DisableKeepAlives: false,
		MaxIdleConns:      10,
		IdleConnTimeout:   90 * time.Second,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   10 * time.Second,
	}

	return &RemoteClient{
		httpClient: client,
		socketPath: socketPath,
	}, nil
}

// baseURL is the dummy host used for Unix socket HTTP requests.
// The actual connection goes through the Unix socket, not this URL.
const baseURL = "http://unix"

// do performs one API call and decodes the response into out (when
// non-nil). Error bodies decode back into CoordError so callers can
// match on codes across the process boundary.
func (c *RemoteClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return coorderr.Wrap(err, coorderr.ErrCodeDaemonUnreachable, "daemon request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr coorderr.CoordError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Code != "" {
			return &apiErr
		}
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Register creates a session record.
func (c *RemoteClient) Register(ctx context.Context, req models.RegisterRequest) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	if err := c.do(ctx, http.MethodPost, "/api/sessions", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetSession returns one session record.
func (c *RemoteClient) GetSession(ctx context.Context, sessionID string) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListSessions returns all sessions passing the filter.
func (c *RemoteClient) ListSessions(ctx context.Context, filter models.SessionFilter) ([]*models.SessionRecord, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Role != "" {
		q.Set("role", string(filter.Role))
	}
	if filter.ParentSessionID != "" {
		q.Set("parent", filter.ParentSessionID)
	}
	if filter.LiveOnly {
		q.Set("live", "true")
	}
	path := "/api/sessions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var sessions []*models.SessionRecord
	if err := c.do(ctx, http.MethodGet, path, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// PatchSession applies a partial update atomically.
func (c *RemoteClient) PatchSession(ctx context.Context, sessionID string, patch models.SessionPatch) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	if err := c.do(ctx, http.MethodPatch, "/api/sessions/"+url.PathEscape(sessionID), patch, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Deregister marks the session terminated.
func (c *RemoteClient) Deregister(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// Heartbeat reports a usage sample and returns the updated record.
func (c *RemoteClient) Heartbeat(ctx context.Context, sessionID string, usage float64) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	req := models.HeartbeatRequest{UsageFraction: usage}
	if err := c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/heartbeat", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// RequestCheckpoint asks for a checkpoint and returns its id.
func (c *RemoteClient) RequestCheckpoint(ctx context.Context, sessionID string, trigger models.CheckpointTrigger) (string, error) {
	var accepted struct {
		CheckpointID string `json:"checkpoint_id"`
	}
	req := models.CheckpointRequest{Trigger: trigger}
	if err := c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/checkpoint", req, &accepted); err != nil {
		return "", err
	}
	return accepted.CheckpointID, nil
}

// ListCheckpoints returns a session's checkpoint history in trigger order.
func (c *RemoteClient) ListCheckpoints(ctx context.Context, sessionID string) ([]*models.CheckpointRecord, error) {
	var cps []*models.CheckpointRecord
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID)+"/checkpoints", nil, &cps); err != nil {
		return nil, err
	}
	return cps, nil
}

// GetConfig returns the daemon's active configuration document.
func (c *RemoteClient) GetConfig(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/config", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ReloadConfig asks the daemon to re-read its config file.
func (c *RemoteClient) ReloadConfig(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/config/reload", nil, nil)
}

// IsRunning returns true if the daemon is available and responding.
func (c *RemoteClient) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/ready", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close cleans up any resources used by the client.
func (c *RemoteClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Ensure RemoteClient implements Client interface.
var _ Client = (*RemoteClient)(nil)
