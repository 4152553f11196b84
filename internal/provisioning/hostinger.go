package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultHostingerURL is the Hostinger API root.
const DefaultHostingerURL = "https://api.hostinger.com/v1"

// ProviderError is a non-2xx response from the hosting provider.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("hostinger: http %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed if retried.
func (e *ProviderError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Hostinger provisions instances through the Hostinger VPS API.
type Hostinger struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHostinger returns a Hostinger client. An empty baseURL uses DefaultHostingerURL.
func NewHostinger(baseURL, token string, hc *http.Client) *Hostinger {
	if baseURL == "" {
		baseURL = DefaultHostingerURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Hostinger{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: hc}
}

type createVPSRequest struct {
	Plan      string `json:"plan"`
	OS        string `json:"os"`
	Email     string `json:"email"`
	Reference string `json:"reference,omitempty"`
}

type createVPSResponse struct {
	ID     json.RawMessage `json:"id"` // numeric or string depending on endpoint version
	Status string          `json:"status"`
}

// Create requests a new VPS.
func (h *Hostinger) Create(ctx context.Context, req Request) (*Instance, error) {
	payload, err := json.Marshal(createVPSRequest{
		Plan:      req.Plan,
		OS:        req.OSImage,
		Email:     req.Email,
		Reference: req.OrderID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal vps request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/vps/create", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build vps request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+h.token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("create vps: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read vps response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out createVPSResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode vps response: %w", err)
		}
	}
	return &Instance{ID: strings.Trim(string(out.ID), `"`), Status: out.Status}, nil
}
