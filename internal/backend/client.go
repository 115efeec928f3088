// Package backend is the HTTP client for the remote classification service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/runnerr0/filterx/internal/classify"
	"github.com/runnerr0/filterx/internal/config"
)

const (
	classifyPath = "/api/classify/"
	healthPath   = "/api/health/"

	// maxErrorBody caps how much of a failed response is quoted in errors.
	maxErrorBody = 512
	// maxResponseBody caps decoded verdict bodies.
	maxResponseBody = 1 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	Protocol   string // config.ProtocolJSON or config.ProtocolLegacyMultipart
	Timeout    time.Duration
	MaxRPS     float64
	Burst      int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the classification service. It is safe for concurrent use.
type Client struct {
	protocol string
	http     *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger

	mu      sync.RWMutex
	baseURL string
}

// New validates opts and builds a client.
func New(opts Options) (*Client, error) {
	protocol := opts.Protocol
	if protocol == "" {
		protocol = config.ProtocolJSON
	}
	if protocol != config.ProtocolJSON && protocol != config.ProtocolLegacyMultipart {
		return nil, fmt.Errorf("unsupported backend protocol %q", protocol)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{protocol: protocol, http: hc, logger: logger}
	if opts.MaxRPS > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.MaxRPS), burst)
	}
	if err := c.SetBaseURL(opts.BaseURL); err != nil {
		return nil, err
	}
	return c, nil
}

// FromConfig builds a client from the backend section of the config.
func FromConfig(cfg config.BackendConfig, logger *slog.Logger) (*Client, error) {
	return New(Options{
		BaseURL:  cfg.URL,
		Protocol: cfg.Protocol,
		Timeout:  cfg.Timeout(),
		MaxRPS:   cfg.MaxRPS,
		Burst:    cfg.Burst,
		Logger:   logger,
	})
}

// SetBaseURL points the client at a different service. Requests already in
// flight keep the old address.
func (c *Client) SetBaseURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid backend url %q", raw)
	}
	c.mu.Lock()
	c.baseURL = strings.TrimRight(u.String(), "/")
	c.mu.Unlock()
	return nil
}

// BaseURL returns the current service address.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// Protocol returns the wire protocol in use.
func (c *Client) Protocol() string {
	return c.protocol
}

// classifyRequest is the canonical JSON request body.
type classifyRequest struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// classifyResponse is the canonical JSON verdict.
type classifyResponse struct {
	Label      *string  `json:"label"`
	Confidence *float64 `json:"confidence"`
	Action     *string  `json:"action"`
	Reason     string   `json:"reason"`
}

// legacyResponse is the verdict of the multipart protocol.
type legacyResponse struct {
	Decision *string  `json:"decision"`
	Score    *float64 `json:"score"`
}

// Classify sends one request to the service and decodes its verdict.
// A verdict without a decision is returned as allow and logged.
func (c *Client) Classify(ctx context.Context, req classify.Request) (classify.Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return classify.Result{}, fmt.Errorf("%w: rate limiter: %w", classify.ErrNetwork, err)
		}
	}

	var (
		body        io.Reader
		contentType string
		err         error
	)
	if c.protocol == config.ProtocolLegacyMultipart {
		body, contentType, err = legacyBody(req)
	} else {
		body, contentType, err = jsonBody(req)
	}
	if err != nil {
		return classify.Result{}, err
	}

	endpoint := c.BaseURL() + classifyPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return classify.Result{}, fmt.Errorf("%w: build request: %w", classify.ErrNetwork, err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return classify.Result{}, fmt.Errorf("%w: POST %s: %w", classify.ErrNetwork, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return classify.Result{}, fmt.Errorf("%w: POST %s: status %d: %s",
			classify.ErrNetwork, endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return classify.Result{}, fmt.Errorf("%w: reading response: %w", classify.ErrNetwork, err)
	}

	var result classify.Result
	if c.protocol == config.ProtocolLegacyMultipart {
		result, err = decodeLegacy(data)
	} else {
		result, err = decodeJSON(data)
	}
	if err != nil {
		if errors.Is(err, classify.ErrDecisionMissing) {
			c.logger.Warn("backend response has no decision, allowing",
				"kind", req.Kind.String(), "endpoint", endpoint)
			return classify.Result{
				Label:  classify.Safe,
				Action: classify.Allow,
				Reason: "backend decision missing",
				Source: classify.Remote,
			}, nil
		}
		return classify.Result{}, err
	}

	c.logger.Debug("classified",
		"kind", req.Kind.String(), "label", result.Label, "action", result.Action,
		"confidence", result.Confidence, "elapsed_ms", time.Since(start).Milliseconds())
	return result, nil
}

func jsonBody(req classify.Request) (io.Reader, string, error) {
	data, err := json.Marshal(classifyRequest{Type: req.Kind.String(), Content: req.Payload})
	if err != nil {
		return nil, "", fmt.Errorf("encoding request: %w", err)
	}
	return bytes.NewReader(data), "application/json", nil
}

func legacyBody(req classify.Request) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("type", req.Kind.String()); err != nil {
		return nil, "", err
	}
	switch req.Kind {
	case classify.Image:
		img, err := classify.DecodeImage(req.Payload)
		if err != nil {
			return nil, "", err
		}
		fw, err := mw.CreateFormFile("file", "image")
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(img); err != nil {
			return nil, "", err
		}
	case classify.URL:
		if err := mw.WriteField("url", req.Payload); err != nil {
			return nil, "", err
		}
	default:
		if err := mw.WriteField("content", req.Payload); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func decodeJSON(data []byte) (classify.Result, error) {
	var resp classifyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return classify.Result{}, fmt.Errorf("%w: %w", classify.ErrParse, err)
	}
	if resp.Label == nil {
		return classify.Result{}, classify.ErrDecisionMissing
	}
	// Anything but the two known labels carries no usable decision.
	label := strings.ToLower(strings.TrimSpace(*resp.Label))
	if label != classify.NSFW && label != classify.Safe {
		return classify.Result{}, classify.ErrDecisionMissing
	}

	r := classify.Result{
		Label:  label,
		Reason: resp.Reason,
		Source: classify.Remote,
	}
	if resp.Confidence != nil {
		r.Confidence = clamp01(*resp.Confidence)
	}
	var action string
	if resp.Action != nil {
		action = strings.ToLower(strings.TrimSpace(*resp.Action))
	}
	switch {
	case action == classify.Allow || action == classify.Blur || action == classify.Block:
		r.Action = action
	case label == classify.NSFW:
		r.Action = classify.Block
	default:
		r.Action = classify.Allow
	}
	return r, nil
}

func decodeLegacy(data []byte) (classify.Result, error) {
	var resp legacyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return classify.Result{}, fmt.Errorf("%w: %w", classify.ErrParse, err)
	}
	if resp.Decision == nil {
		return classify.Result{}, classify.ErrDecisionMissing
	}

	r := classify.Result{Source: classify.Remote}
	if resp.Score != nil {
		r.Confidence = clamp01(*resp.Score)
	}
	switch strings.ToLower(*resp.Decision) {
	case classify.Block:
		r.Label, r.Action = classify.NSFW, classify.Block
	case classify.Blur:
		r.Label, r.Action = classify.NSFW, classify.Blur
	case classify.Allow:
		r.Label, r.Action = classify.Safe, classify.Allow
	default:
		return classify.Result{}, classify.ErrDecisionMissing
	}
	return r, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Health calls the service health endpoint.
func (c *Client) Health(ctx context.Context) error {
	endpoint := c.BaseURL() + healthPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", classify.ErrNetwork, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %w", classify.ErrNetwork, endpoint, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: GET %s: status %d", classify.ErrNetwork, endpoint, resp.StatusCode)
	}
	return nil
}
