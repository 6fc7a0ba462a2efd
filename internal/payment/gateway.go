package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/aurelia-commerce/fulfillment/pkg/errors"
	"github.com/aurelia-commerce/fulfillment/pkg/httpclient"
)

// HTTPDoer is the interface for executing HTTP requests. Both
// httpclient.Client and httpclient.CircuitBreakerClient satisfy this.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// RefundInput holds the parameters for a gateway refund.
type RefundInput struct {
	PaymentID string          `json:"payment_id"`
	OrderID   string          `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Method    string          `json:"method"`
}

// Receipt is the gateway's confirmation of a processed refund.
type Receipt struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	ProcessedAt   time.Time       `json:"processed_at"`
}

// Gateway issues refunds against the payment provider.
type Gateway interface {
	Refund(ctx context.Context, input *RefundInput) (*Receipt, error)
}

// HTTPGateway calls the payment service over HTTP.
type HTTPGateway struct {
	client  HTTPDoer
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
}

// NewHTTPGateway creates a payment gateway client. A zero timeout inherits
// the parent context deadline.
func NewHTTPGateway(client HTTPDoer, baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPGateway {
	return &HTTPGateway{
		client:  client,
		baseURL: baseURL,
		timeout: timeout,
		logger:  logger,
	}
}

// Refund asks the payment service to return money to the customer. A
// non-2xx reply or transport failure surfaces as a dependency error so the
// caller can keep the refund in its current state and retry later.
func (g *HTTPGateway) Refund(ctx context.Context, input *RefundInput) (*Receipt, error) {
	if input.PaymentID == "" {
		return nil, apperrors.InvalidInput("payment id is required for a gateway refund")
	}
	if !input.Amount.IsPositive() {
		return nil, apperrors.InvalidInput("refund amount must be positive")
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal refund request: %w", err)
	}

	url := fmt.Sprintf("%s/api/payments/%s/refunds", g.baseURL, input.PaymentID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create refund request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(ctx, httpReq)
	if err != nil {
		return nil, apperrors.DependencyFailed("payment gateway", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, httpclient.ParseResponseError(resp, "payment")
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("decode refund receipt: %w", err)
	}

	g.logger.InfoContext(ctx, "gateway refund processed",
		slog.String("payment_id", input.PaymentID),
		slog.String("transaction_id", receipt.TransactionID),
		slog.String("amount", receipt.Amount.StringFixed(2)),
	)

	return &receipt, nil
}
