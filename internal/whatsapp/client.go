// ABOUTME: Outbound provider client posting composed payloads to the Cloud API
// ABOUTME: Single attempt per send, bearer authenticated and rate limited

package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/switchboard/internal/composer"
)

var (
	// ErrDelivery is returned when the provider could not be reached or
	// rejected the message.
	ErrDelivery = errors.New("delivery failed")

	// ErrParse is returned when a provider payload cannot be decoded into the
	// expected shape.
	ErrParse = errors.New("unexpected provider response")
)

const (
	DefaultBaseURL = "https://graph.facebook.com/v15.0"
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 1 << 20
)

// SendResponse is the provider's answer to a send.
type SendResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// MessageID returns the first provider message id.
func (r *SendResponse) MessageID() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0].ID
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL       string
	PhoneNumberID string
	AccessToken   string
	Timeout       time.Duration

	// RatePerSecond limits outbound sends. Zero disables the limiter.
	RatePerSecond float64
	Burst         int
}

// Client sends messages through the Cloud API.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewClient creates a client from cfg.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		endpoint: strings.TrimRight(base, "/") + "/" + cfg.PhoneNumberID + "/messages",
		token:    cfg.AccessToken,
		http:     &http.Client{Timeout: timeout},
		logger:   logger.With("component", "whatsapp"),
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return c
}

// Send posts one payload and returns the decoded provider response.
func (c *Client) Send(ctx context.Context, payload *composer.Payload) (*SendResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %w", ErrDelivery, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrDelivery, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrDelivery, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("%w: status %d: %s", ErrDelivery, resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("%w: status %d", ErrDelivery, resp.StatusCode)
	}

	var out SendResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if out.MessageID() == "" {
		return nil, fmt.Errorf("%w: no message id in response", ErrParse)
	}

	c.logger.Debug("message sent",
		"to", payload.To,
		"kind", string(payload.Kind()),
		"message_id", out.MessageID(),
	)
	return &out, nil
}
