// internal/common/agent/client.go
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"plan-generator/internal/common/config"
	"plan-generator/internal/common/logger"
)

// Event names on the trigger stream.
const (
	EventOutputs  = "outputs"
	EventComplete = "complete"
	EventError    = "error"
)

// ErrStreamEnded is reported through OnError when the stream closes before a
// complete or error event.
var ErrStreamEnded = errors.New("agent stream ended without a terminal event")

// Frame is one payload pushed by the agent.
type Frame struct {
	Outputs map[string]interface{} `json:"outputs"`
	Frame   map[string]interface{} `json:"frame"`
}

// InvokeConfig describes one agent call and its callbacks. Callbacks run on
// the stream goroutine, in stream order: every OnOutputs precedes the single
// OnComplete or OnError.
type InvokeConfig struct {
	AppID      string
	AgentID    string
	Variables  map[string]interface{}
	OnOutputs  func(Frame)
	OnComplete func(Frame)
	OnError    func(error)
}

// Invoker starts agent calls.
type Invoker interface {
	Invoke(ctx context.Context, cfg InvokeConfig) (*Invocation, error)
}

// Client invokes agents over HTTP and reads their Server-Sent Events stream.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logger.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the agent service in cfg.
func NewClient(cfg config.AgentConfig, log logger.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{},
		logger:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type triggerRequest struct {
	Variables map[string]interface{} `json:"variables"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// Invoke opens the trigger stream. Connection and status failures are
// returned synchronously and fire no callback; everything after that is
// reported through the callbacks.
func (c *Client) Invoke(ctx context.Context, cfg InvokeConfig) (*Invocation, error) {
	if cfg.AppID == "" || cfg.AgentID == "" {
		return nil, fmt.Errorf("agent: app id and agent id are required")
	}

	vars := cfg.Variables
	if vars == nil {
		vars = map[string]interface{}{}
	}
	body, err := json.Marshal(triggerRequest{Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("agent: encode variables: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/apps/%s/agents/%s/trigger",
		c.baseURL, url.PathEscape(cfg.AppID), url.PathEscape(cfg.AgentID))

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agent: build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Request-ID", requestID)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agent: trigger request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("agent: trigger returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	c.logger.Debug("agent stream opened", map[string]interface{}{
		"appId":     cfg.AppID,
		"agentId":   cfg.AgentID,
		"requestId": requestID,
	})

	inv := NewInvocation(cancel)
	go c.consume(streamCtx, resp.Body, cfg, inv)
	return inv, nil
}

func (c *Client) consume(ctx context.Context, body io.ReadCloser, cfg InvokeConfig, inv *Invocation) {
	defer body.Close()

	fail := func(err error) {
		if ctx.Err() != nil {
			inv.Finish(ctx.Err())
			return
		}
		if cfg.OnError != nil {
			cfg.OnError(err)
		}
		inv.Finish(err)
	}

	reader := NewSSEReader(body)
	for {
		event, data, err := reader.ReadEvent()
		if err != nil {
			if errors.Is(err, io.EOF) {
				fail(ErrStreamEnded)
			} else {
				fail(fmt.Errorf("agent: read stream: %w", err))
			}
			return
		}
		if ctx.Err() != nil {
			inv.Finish(ctx.Err())
			return
		}

		switch event {
		case EventOutputs:
			var frame Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				c.logger.Warn("dropping malformed outputs frame", map[string]interface{}{"error": err})
				continue
			}
			if cfg.OnOutputs != nil {
				cfg.OnOutputs(frame)
			}

		case EventComplete:
			var frame Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				fail(fmt.Errorf("agent: decode completion: %w", err))
				return
			}
			if cfg.OnComplete != nil {
				cfg.OnComplete(frame)
			}
			inv.Finish(nil)
			return

		case EventError:
			var payload errorPayload
			msg := strings.TrimSpace(string(data))
			if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
				msg = payload.Error
			}
			fail(fmt.Errorf("agent error: %s", msg))
			return

		default:
			c.logger.Debug("ignoring agent event", map[string]interface{}{"event": event})
		}
	}
}
