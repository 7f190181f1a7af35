// Package backend is the HTTP client for the shared multi-tenant POS backend.
package backend

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
	"time"

	"github.com/shopspring/decimal"

	"github.com/mwren/tillpoint/internal/models"
)

// SubmitSaleRequest is the payload of the backend's submit-sale endpoint.
// The idempotency key makes the call safe to repeat: the backend recognizes
// a duplicate submission of the same logical sale and returns the original
// server sale id instead of creating a second record.
type SubmitSaleRequest struct {
	IdempotencyKey string             `json:"idempotency_key"`
	TenantID       string             `json:"tenant_id"`
	StoreID        string             `json:"store_id"`
	CashierID      string             `json:"cashier_id"`
	Items          []models.SaleItem  `json:"items"`
	Total          decimal.Decimal    `json:"total"`
	PaymentMethod  string             `json:"payment_method"`
	CreatedAt      int64              `json:"created_at"`
}

// SubmitSaleResponse is the backend's acknowledgment.
type SubmitSaleResponse struct {
	ServerSaleID string `json:"server_sale_id"`
}

// RejectionError is a definitive backend rejection of a sale: validation
// failure, a product that no longer exists, and so on. Retrying the same
// submission can never succeed, so the drain must not keep trying.
type RejectionError struct {
	StatusCode int
	Code       string
	Reason     string
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("sale rejected (%s): %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("sale rejected (HTTP %d): %s", e.StatusCode, e.Reason)
}

// IsPermanent reports whether err is a definitive rejection as opposed to a
// transient failure worth retrying.
func IsPermanent(err error) bool {
	var rejection *RejectionError
	return errors.As(err, &rejection)
}

// errorBody is the backend's structured error envelope.
type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Permanent bool   `json:"permanent"`
	} `json:"error"`
}

// Client talks to the backend's submit-sale and catalog endpoints.
type Client struct {
	baseURL       string
	authToken     string
	httpClient    *http.Client
	submitTimeout time.Duration
	fetchTimeout  time.Duration
}

// NewClient creates a backend Client. Timeouts bound each attempt; an expired
// attempt surfaces as a transient failure, never as a hang.
func NewClient(baseURL, authToken string, submitTimeout, fetchTimeout time.Duration) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		authToken:     authToken,
		httpClient:    &http.Client{},
		submitTimeout: submitTimeout,
		fetchTimeout:  fetchTimeout,
	}
}

// SubmitSale submits one sale. Returns *RejectionError for definitive
// rejections; any other error is transient (network failure, timeout, 5xx).
func (c *Client) SubmitSale(ctx context.Context, req *SubmitSaleRequest) (*SubmitSaleResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sale: %w", err)
	}

	submitCtx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(submitCtx, http.MethodPost, c.baseURL+"/api/v1/sales", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("submit sale: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		var ack SubmitSaleResponse
		if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
			// The sale may have landed server-side; treat a garbled
			// acknowledgment as transient so the retry (same key) resolves it.
			return nil, fmt.Errorf("decode submit response: %w", err)
		}
		return &ack, nil
	}

	return nil, c.classify(resp)
}

// FetchCatalog returns the tenant's current product list with per-item
// updated_at, for cache refresh.
func (c *Client) FetchCatalog(ctx context.Context, tenantID string) ([]models.CachedProduct, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	endpoint := c.baseURL + "/api/v1/products?tenant_id=" + url.QueryEscape(tenantID)
	httpReq, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch catalog: HTTP %d", resp.StatusCode)
	}

	var payload struct {
		Products []models.CachedProduct `json:"products"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return payload.Products, nil
}

// Health checks backend reachability. Used by the connectivity probe.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return err
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("backend unhealthy: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// classify turns a non-2xx submit response into a permanent RejectionError or
// a transient error. 408 and 429 are pressure, not verdicts; 5xx is the
// backend's problem. Everything else in 4xx is a rejection of this sale.
func (c *Client) classify(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var body errorBody
	structured := json.Unmarshal(raw, &body) == nil && body.Error.Message != ""

	transientStatus := resp.StatusCode >= 500 ||
		resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode == http.StatusTooManyRequests

	if transientStatus {
		if structured {
			return fmt.Errorf("backend error (HTTP %d, %s): %s", resp.StatusCode, body.Error.Code, body.Error.Message)
		}
		return fmt.Errorf("backend error: HTTP %d", resp.StatusCode)
	}

	rejection := &RejectionError{StatusCode: resp.StatusCode}
	if structured {
		rejection.Code = body.Error.Code
		rejection.Reason = body.Error.Message
		if !body.Error.Permanent {
			// The backend says this 4xx is retryable; believe it.
			return fmt.Errorf("backend error (HTTP %d, %s): %s", resp.StatusCode, body.Error.Code, body.Error.Message)
		}
	} else {
		rejection.Reason = strings.TrimSpace(string(raw))
		if rejection.Reason == "" {
			rejection.Reason = http.StatusText(resp.StatusCode)
		}
	}
	return rejection
}
