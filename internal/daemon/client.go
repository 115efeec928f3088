package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/runnerr0/filterx/internal/app"
)

// Client talks to a running daemon. The CLI uses it so that settings
// changes reach the live pipeline.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient returns a client for the daemon at addr (host:port or URL).
func NewClient(addr, token string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 3 * time.Second},
	}
}

// Status fetches GET /status. An error means the daemon is unreachable or
// unhealthy.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settings fetches the live settings.
func (c *Client) Settings(ctx context.Context) (*app.Settings, error) {
	var out app.Settings
	if err := c.do(ctx, http.MethodGet, "/v1/settings", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateSettings sends a settings patch and returns the resulting settings.
func (c *Client) UpdateSettings(ctx context.Context, patch SettingsPatch) (*app.Settings, error) {
	var out app.Settings
	if err := c.do(ctx, http.MethodPut, "/v1/settings", patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Send posts a control message and returns the raw JSON reply.
func (c *Client) Send(ctx context.Context, msg Message) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/v1/messages", msg, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read daemon response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("daemon: %s", e.Error)
		}
		return fmt.Errorf("daemon: HTTP %d", resp.StatusCode)
	}
	return json.Unmarshal(data, out)
}
