// Package payment is a client for the PayPal REST payments API (v1), covering
// the redirect checkout: create a sale, send the buyer to the approval URL,
// then execute the approved payment.
package payment

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
	"sync"
	"time"
)

const (
	SandboxBaseURL = "https://api-m.sandbox.paypal.com"
	LiveBaseURL    = "https://api-m.paypal.com"
)

// ErrNoApprovalURL is returned when a created payment carries no approval link.
var ErrNoApprovalURL = errors.New("payment has no approval_url link")

// ErrNotApproved is returned when an executed payment is not in the approved state.
var ErrNotApproved = errors.New("payment not approved")

// APIError is a non-2xx response from PayPal.
type APIError struct {
	StatusCode int
	Name       string `json:"name"`
	Message    string `json:"message"`
	DebugID    string `json:"debug_id"`
}

func (e *APIError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("paypal: http %d", e.StatusCode)
	}
	return fmt.Sprintf("paypal: http %d %s: %s (debug_id=%s)", e.StatusCode, e.Name, e.Message, e.DebugID)
}

// IsAlreadyExecuted reports whether err is PayPal refusing to execute a
// payment that has already been executed. The buyer has been charged.
func IsAlreadyExecuted(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Name == "PAYMENT_ALREADY_DONE"
}

// Item is a single purchased line.
type Item struct {
	Name     string
	SKU      string
	Price    string // decimal string, two places
	Currency string
	Quantity int
}

// SessionRequest describes a sale to open.
type SessionRequest struct {
	Item        Item
	Description string
	ReturnURL   string
	CancelURL   string
}

// Session is a created payment awaiting buyer approval.
type Session struct {
	ID          string
	ApprovalURL string
}

// Execution is the gateway's view of an executed payment.
type Execution struct {
	ID    string
	State string
}

// Config configures Client.
type Config struct {
	Mode         string // "live" or anything else for sandbox
	ClientID     string
	ClientSecret string
	BaseURL      string // overrides Mode when set
	HTTPClient   *http.Client
}

// Client talks to the PayPal REST API.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	http         *http.Client
	nowFunc      func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient returns a PayPal client.
func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = SandboxBaseURL
		if strings.EqualFold(cfg.Mode, "live") {
			base = LiveBaseURL
		}
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:      strings.TrimRight(base, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		http:         hc,
		nowFunc:      time.Now,
	}
}

type link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type paymentResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Links []link `json:"links"`
}

// CreateSession creates a sale payment and returns its approval URL.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	body := map[string]any{
		"intent": "sale",
		"payer":  map[string]any{"payment_method": "paypal"},
		"redirect_urls": map[string]any{
			"return_url": req.ReturnURL,
			"cancel_url": req.CancelURL,
		},
		"transactions": []any{
			map[string]any{
				"item_list": map[string]any{
					"items": []any{
						map[string]any{
							"name":     req.Item.Name,
							"sku":      req.Item.SKU,
							"price":    req.Item.Price,
							"currency": req.Item.Currency,
							"quantity": req.Item.Quantity,
						},
					},
				},
				"amount": map[string]any{
					"currency": req.Item.Currency,
					"total":    req.Item.Price,
				},
				"description": req.Description,
			},
		},
	}

	var out paymentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/payments/payment", body, &out); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	for _, l := range out.Links {
		if l.Rel == "approval_url" {
			return &Session{ID: out.ID, ApprovalURL: l.Href}, nil
		}
	}
	return nil, ErrNoApprovalURL
}

// Execute captures an approved payment for payerID.
func (c *Client) Execute(ctx context.Context, sessionID, payerID string) (*Execution, error) {
	path := "/v1/payments/payment/" + url.PathEscape(sessionID) + "/execute"
	var out paymentResponse
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"payer_id": payerID}, &out); err != nil {
		return nil, fmt.Errorf("execute payment: %w", err)
	}
	if out.State != "approved" {
		return nil, fmt.Errorf("%w: state %q", ErrNotApproved, out.State)
	}
	return &Execution{ID: out.ID, State: out.State}, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		return apiErr
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// accessToken returns a cached OAuth2 token, refreshing it a minute before expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.nowFunc().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := c.send(req, &tok); err != nil {
		return "", fmt.Errorf("oauth token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("oauth token: empty access_token")
	}
	c.token = tok.AccessToken
	c.tokenExpiry = c.nowFunc().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return c.token, nil
}
