package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"table-sync/core/middleware/auth"
	"table-sync/core/sync"
	"table-sync/feature/syncserver"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Config configures the HTTP client.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL string
	// ApiKey is sent in the X-API-Key header when set.
	ApiKey string
	// Timeout bounds a single request.
	Timeout time.Duration
}

// Client is a sync.Remote talking to a sync server over HTTP.
type Client struct {
	base    string
	apiKey  string
	timeout time.Duration
	logger  *zap.Logger
}

var _ sync.Remote = (*Client)(nil)

// New creates a client for the server at cfg.BaseURL.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("%w: server url %q must start with http:// or https://", sync.ErrInvalidConfig, cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{base: base, apiKey: cfg.ApiKey, timeout: cfg.Timeout, logger: logger}, nil
}

// BeginSession implements sync.Remote.
func (c *Client) BeginSession(ctx context.Context, req sync.BeginRequest) (*sync.BeginResponse, error) {
	var resp sync.BeginResponse
	if err := c.do(ctx, fiber.MethodPost, syncserver.SessionsPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ComputeChanges implements sync.Remote.
func (c *Client) ComputeChanges(ctx context.Context, sessionID string) (*sync.ComputeResponse, error) {
	var resp sync.ComputeResponse
	if err := c.do(ctx, fiber.MethodPost, sessionPath(sessionID, "changes"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadBatch implements sync.Remote.
func (c *Client) UploadBatch(ctx context.Context, sessionID string, batch sync.Batch) error {
	return c.do(ctx, fiber.MethodPost, sessionPath(sessionID, "upload"), batch, nil)
}

// ApplyChanges implements sync.Remote.
func (c *Client) ApplyChanges(ctx context.Context, sessionID string) (*sync.ApplyResponse, error) {
	var resp sync.ApplyResponse
	if err := c.do(ctx, fiber.MethodPost, sessionPath(sessionID, "apply"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DownloadBatch implements sync.Remote.
func (c *Client) DownloadBatch(ctx context.Context, sessionID string, index int) (*sync.Batch, error) {
	var batch sync.Batch
	if err := c.do(ctx, fiber.MethodGet, sessionPath(sessionID, "download", strconv.Itoa(index)), nil, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

// CommitSession implements sync.Remote.
func (c *Client) CommitSession(ctx context.Context, sessionID string) (*sync.CommitResponse, error) {
	var resp sync.CommitResponse
	if err := c.do(ctx, fiber.MethodPost, sessionPath(sessionID, "commit"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AbortSession implements sync.Remote.
func (c *Client) AbortSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, fiber.MethodDelete, sessionPath(sessionID), nil, nil)
}

func sessionPath(sessionID string, parts ...string) string {
	return strings.Join(append([]string{syncserver.SessionsPath, sessionID}, parts...), "/")
}

// do sends one request. The agent is not context aware, so the context is
// checked before sending and its deadline caps the request timeout.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	a := fiber.AcquireAgent()
	req := a.Request()
	req.Header.SetMethod(method)
	req.SetRequestURI(c.base + path)
	if err := a.Parse(); err != nil {
		fiber.ReleaseAgent(a)
		return fmt.Errorf("%w: invalid request url %s: %v", sync.ErrInvalidConfig, c.base+path, err)
	}

	a.Timeout(timeout)
	if c.apiKey != "" {
		a.Set(auth.HeaderName, c.apiKey)
	}
	if in != nil {
		a.JSON(in)
	}

	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		err := errors.Join(errs...)
		if errors.Is(err, fasthttp.ErrTimeout) {
			return fmt.Errorf("%w: %s %s: %v", sync.ErrTimeout, method, path, err)
		}
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}

	c.logger.Debug("Sync request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", code))

	if code >= fiber.StatusBadRequest {
		return decodeError(code, body)
	}
	if out == nil || code == fiber.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response of %s %s: %w", method, path, err)
	}
	return nil
}

// decodeError turns an error response back into the engine error it came from.
func decodeError(code int, body []byte) error {
	var resp syncserver.ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Error == "" {
		return fmt.Errorf("sync server returned status %d: %s", code, strings.TrimSpace(string(body)))
	}
	if sentinel := syncserver.SentinelFor(resp.Code); sentinel != nil {
		return fmt.Errorf("%w (server: %s)", sentinel, resp.Error)
	}
	return fmt.Errorf("sync server returned status %d: %s", code, resp.Error)
}
