// Package payment is the HTTP client for the external payment gateway.
//
// The gateway speaks client-credentials auth plus a single charge endpoint.
// A declined charge is a successful call with a declined status, not an
// error; only transport faults, auth failures and unexpected statuses are
// errors, and all of them wrap ErrGatewayUnavailable so the checkout path
// can map them to one response.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// StatusApproved is the gateway's marker for an accepted charge. Any other
// status on a 201/402 body is a decline.
const StatusApproved = "APROBADO"

// ErrGatewayUnavailable covers every outcome where no charge result could be
// obtained: network faults, auth rejection, malformed bodies, unexpected
// status codes.
var ErrGatewayUnavailable = fmt.Errorf("payment: gateway unavailable")

// Request is the charge payload sent to POST /payments/.
type Request struct {
	Amount     float64 `json:"amount"`
	CardNumber string  `json:"cardNumber"`
	CVV        string  `json:"cvv"`
	ExpiryDate string  `json:"expiryDate"`
	Currency   string  `json:"currency"`

	// IdempotencyKey is sent as the X-Idempotency-Key header so that the
	// one retry after a token refresh cannot double-charge. It never goes
	// in the JSON body.
	IdempotencyKey string `json:"-"`
}

// Result is the gateway's charge outcome, returned on both HTTP 201
// (approved) and HTTP 402 (declined).
type Result struct {
	ID                   string `json:"id"`
	TransactionReference string `json:"transactionReference"`
	Status               string `json:"status"`
	CardNumber           string `json:"cardNumber"`
	Timestamp            string `json:"timestamp"`
}

func (r *Result) Approved() bool {
	return r.Status == StatusApproved
}

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Client holds the bearer token in memory and refreshes it once when the
// gateway reports it expired.
type Client struct {
	cfg  Config
	http *http.Client

	mu    sync.Mutex
	token string
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// ProcessPayment submits one charge. On a 401 whose body mentions an expired
// token it re-authenticates and retries exactly once; there is no further
// retry on any path.
func (c *Client) ProcessPayment(ctx context.Context, req Request) (*Result, error) {
	if c.currentToken() == "" {
		if err := c.authenticate(ctx); err != nil {
			return nil, err
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		status, body, err := c.postPayment(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("payment: charge request failed: %v: %w", err, ErrGatewayUnavailable)
		}

		switch {
		case status == http.StatusCreated || status == http.StatusPaymentRequired:
			var res Result
			if err := json.Unmarshal(body, &res); err != nil {
				return nil, fmt.Errorf("payment: malformed gateway response: %v: %w", err, ErrGatewayUnavailable)
			}
			return &res, nil

		case status == http.StatusUnauthorized && attempt == 0 &&
			strings.Contains(strings.ToLower(string(body)), "expired"):
			slog.WarnContext(ctx, "gateway token expired, re-authenticating")
			if err := c.authenticate(ctx); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("payment: gateway returned %d: %s: %w",
				status, strings.TrimSpace(string(body)), ErrGatewayUnavailable)
		}
	}
	return nil, fmt.Errorf("payment: charge rejected after token refresh: %w", ErrGatewayUnavailable)
}

// authenticate exchanges client credentials for a bearer token and stores it.
func (c *Client) authenticate(ctx context.Context) error {
	payload, _ := json.Marshal(map[string]string{
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/auth/token/", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("payment: build auth request: %v: %w", err, ErrGatewayUnavailable)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("payment: auth request failed: %v: %w", err, ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("payment: authentication rejected (%d): %s: %w",
			resp.StatusCode, strings.TrimSpace(string(body)), ErrGatewayUnavailable)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil || tokenResp.AccessToken == "" {
		return fmt.Errorf("payment: malformed token response: %w", ErrGatewayUnavailable)
	}

	c.mu.Lock()
	c.token = tokenResp.AccessToken
	c.mu.Unlock()
	return nil
}

func (c *Client) postPayment(ctx context.Context, req Request) (int, []byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return 0, nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/payments/", bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.currentToken())
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("X-Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}
