package distribution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPConfig holds connection settings for the provider API
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPTransport calls the provider's JSON order API
type HTTPTransport struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *logrus.Logger
}

// NewHTTPTransport creates a new provider HTTP transport
func NewHTTPTransport(cfg HTTPConfig, logger *logrus.Logger) *HTTPTransport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// errorResponse is the provider's error body
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateOrder books the offers. The client reference doubles as an idempotency
// key so a replayed request returns the order created by the first attempt.
func (t *HTTPTransport) CreateOrder(ctx context.Context, req *OrderRequest) (*OrderSnapshot, error) {
	return t.do(ctx, http.MethodPost, "/orders", req, req.ClientReference)
}

// CancelOrder cancels an existing order
func (t *HTTPTransport) CancelOrder(ctx context.Context, orderID string) (*OrderSnapshot, error) {
	return t.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/cancel", nil, "cancel-"+orderID)
}

// GetOrder reads the current order state
func (t *HTTPTransport) GetOrder(ctx context.Context, orderID string) (*OrderSnapshot, error) {
	return t.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, "")
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, payload interface{}, idempotencyKey string) (*OrderSnapshot, error) {
	var body io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTemporary, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrTemporary, err)
	}

	t.logger.WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status_code": resp.StatusCode,
	}).Debug("Provider response received")

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var snapshot OrderSnapshot
		if err := json.Unmarshal(respBody, &snapshot); err != nil {
			// A 2xx we cannot read leaves the remote state unknown
			return nil, fmt.Errorf("%w: failed to parse response: %v", ErrTemporary, err)
		}
		return &snapshot, nil

	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: provider returned status %d", ErrTemporary, resp.StatusCode)

	default:
		var errResp errorResponse
		_ = json.Unmarshal(respBody, &errResp)
		if errResp.Code == "" {
			errResp.Code = fmt.Sprintf("HTTP_%d", resp.StatusCode)
		}
		return nil, &RejectionError{
			ReasonCode: errResp.Code,
			Message:    errResp.Message,
			StatusCode: resp.StatusCode,
		}
	}
}
