package payments

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

	"github.com/pkg/errors"

	"example.com/backstage/services/auctions/config"
)

// Gateway is the external payment provider
type Gateway interface {
	CreateAuthorization(ctx context.Context, req AuthorizationRequest) (*GatewayIntent, error)
	CaptureAuthorization(ctx context.Context, intentID string) (*GatewayIntent, error)
	CancelAuthorization(ctx context.Context, intentID string) error
	ChargeNow(ctx context.Context, req AuthorizationRequest) (*GatewayIntent, error)
}

// AuthorizationRequest describes a hold or a one-shot charge
type AuthorizationRequest struct {
	CustomerID      string            `json:"customer_id"`
	PaymentMethodID string            `json:"payment_method_id"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	Description     string            `json:"description,omitempty"`
	IdempotencyKey  string            `json:"-"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// GatewayIntent is the provider's view of a payment intent
type GatewayIntent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

// APIError wraps non-2xx gateway responses
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payment gateway error: status=%d body=%s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the same call may succeed
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsTemporary reports whether err is a retryable gateway failure. Transport
// errors count as temporary.
func IsTemporary(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return err != nil
}

// HTTPGateway talks JSON to the payment provider
type HTTPGateway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPGateway creates a gateway client
func NewHTTPGateway(cfg config.PaymentsConfig) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CreateAuthorization places a manual-capture hold
func (g *HTTPGateway) CreateAuthorization(ctx context.Context, req AuthorizationRequest) (*GatewayIntent, error) {
	var out GatewayIntent
	body := struct {
		AuthorizationRequest
		CaptureMethod string `json:"capture_method"`
	}{req, "manual"}
	if err := g.do(ctx, http.MethodPost, "payment_intents", req.IdempotencyKey, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CaptureAuthorization captures a hold for its full amount
func (g *HTTPGateway) CaptureAuthorization(ctx context.Context, intentID string) (*GatewayIntent, error) {
	var out GatewayIntent
	endpoint := fmt.Sprintf("payment_intents/%s/capture", url.PathEscape(intentID))
	if err := g.do(ctx, http.MethodPost, endpoint, "capture-"+intentID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelAuthorization releases a hold
func (g *HTTPGateway) CancelAuthorization(ctx context.Context, intentID string) error {
	endpoint := fmt.Sprintf("payment_intents/%s/cancel", url.PathEscape(intentID))
	return g.do(ctx, http.MethodPost, endpoint, "cancel-"+intentID, nil, nil)
}

// ChargeNow confirms an off-session charge immediately
func (g *HTTPGateway) ChargeNow(ctx context.Context, req AuthorizationRequest) (*GatewayIntent, error) {
	var out GatewayIntent
	body := struct {
		AuthorizationRequest
		Confirm    bool `json:"confirm"`
		OffSession bool `json:"off_session"`
	}{req, true, true}
	if err := g.do(ctx, http.MethodPost, "payment_intents", req.IdempotencyKey, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *HTTPGateway) do(ctx context.Context, method, endpoint, idempotencyKey string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return errors.Wrap(err, "failed to encode gateway request")
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+"/"+endpoint, &buf)
	if err != nil {
		return errors.Wrap(err, "failed to build gateway request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "payment gateway request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(err, "failed to decode gateway response")
		}
	}
	return nil
}
