package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	coorderr "github.com/harborhq/contextd/errors"
	"github.com/harborhq/contextd/pkg/models"
)

// defaultStaleAfter is the observer-side staleness cutoff. The daemon
// emits heartbeat frames far more often than this, so silence past the
// cutoff means the channel is dead even if the TCP-level connection
// still looks open.
const defaultStaleAfter = 45 * time.Second

// SetStaleAfter overrides the staleness cutoff for StreamState. Zero
// keeps the default.
func (c *RemoteClient) SetStaleAfter(d time.Duration) {
	c.staleAfter = d
}

// StreamState subscribes to real-time state updates via Server-Sent
// Events (SSE). The connection is supervised: a dropped or stale
// channel is redialed with backoff, and because the daemon opens every
// connection with a snapshot frame, consumers recover simply by
// discarding cached state whenever a snapshot arrives. The returned
// channel closes when ctx is canceled.
func (c *RemoteClient) StreamState(ctx context.Context) (<-chan models.StateUpdate, error) {
	staleAfter := c.staleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}

	// First connect is synchronous so the caller learns immediately
	// whether the daemon is reachable at all.
	body, err := c.openStream(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan models.StateUpdate, 10)
	go func() {
		defer close(ch)
		for {
			err := c.consumeStream(ctx, body, ch, staleAfter)
			if ctx.Err() != nil {
				return
			}
			_ = err // a stale or broken channel is handled the same way: reconnect

			body, err = c.redial(ctx)
			if err != nil {
				return
			}
		}
	}()
	return ch, nil
}

// openStream starts one SSE connection.
func (c *RemoteClient) openStream(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/stream", nil)
	if err != nil {
		return nil, err
	}

	// Use a separate client with no timeout for streaming
	transport := &http.Transport{
		DialContext: func(dialCtx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(dialCtx, "unix", c.socketPath)
		},
	}
	streamClient := &http.Client{Transport: transport}

	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, coorderr.Wrap(err, coorderr.ErrCodeDaemonUnreachable, "failed to connect to stream")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, coorderr.New(coorderr.ErrCodeDaemonUnreachable,
			"stream returned status "+resp.Status)
	}
	return resp, nil
}

// redial reconnects with exponential backoff until the context ends.
func (c *RemoteClient) redial(ctx context.Context) (*http.Response, error) {
	var resp *http.Response
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	err := backoff.Retry(func() error {
		r, err := c.openStream(ctx)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, policy)
	return resp, err
}

// consumeStream reads frames from one connection until it breaks, goes
// stale, or the context ends. Every frame, heartbeats included, feeds
// the staleness watchdog.
func (c *RemoteClient) consumeStream(ctx context.Context, resp *http.Response, ch chan<- models.StateUpdate, staleAfter time.Duration) error {
	defer resp.Body.Close()

	// Unblock the scanner when the watchdog fires or ctx ends.
	frames := make(chan struct{}, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		watchdog := time.NewTimer(staleAfter)
		defer watchdog.Stop()
		for {
			select {
			case <-frames:
				if !watchdog.Stop() {
					<-watchdog.C
				}
				watchdog.Reset(staleAfter)
			case <-watchdog.C:
				resp.Body.Close()
				return
			case <-ctx.Done():
				resp.Body.Close()
				return
			case <-done:
				return
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		select {
		case frames <- struct{}{}:
		default:
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var update models.StateUpdate
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &update); err != nil {
			continue // Skip malformed data
		}
		// Heartbeat frames only feed the watchdog; consumers never see
		// them.
		if update.UpdateType == "heartbeat" {
			continue
		}

		select {
		case ch <- update:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return coorderr.StaleChannel(staleAfter.String())
}
