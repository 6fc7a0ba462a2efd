package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aurelia-commerce/fulfillment/pkg/httpclient"
)

// HTTPDoer is the interface for executing HTTP requests.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Quote describes a shipment to be priced.
type Quote struct {
	WeightKg decimal.Decimal `json:"weight_kg"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Country  string          `json:"country,omitempty"`
}

// Calculator prices a shipment.
type Calculator interface {
	Cost(ctx context.Context, quote *Quote) (decimal.Decimal, error)
}

// FlatRateCalculator prices shipments locally: free above the subtotal
// threshold, otherwise base rate plus a per-kilogram charge.
type FlatRateCalculator struct {
	BaseRate      decimal.Decimal
	PerKg         decimal.Decimal
	FreeThreshold decimal.Decimal
}

// Cost implements Calculator.
func (c *FlatRateCalculator) Cost(_ context.Context, quote *Quote) (decimal.Decimal, error) {
	if c.FreeThreshold.IsPositive() && quote.Subtotal.GreaterThanOrEqual(c.FreeThreshold) {
		return decimal.Zero, nil
	}
	cost := c.BaseRate.Add(c.PerKg.Mul(quote.WeightKg)).Round(2)
	if cost.IsNegative() {
		cost = decimal.Zero
	}
	return cost, nil
}

// HTTPCalculator asks the shipping service for a quote and falls back to a
// local flat-rate table when the service is unavailable, so order placement
// does not stall on a shipping outage.
type HTTPCalculator struct {
	client   HTTPDoer
	baseURL  string
	timeout  time.Duration
	fallback *FlatRateCalculator
	logger   *slog.Logger
}

// NewHTTPCalculator creates a shipping calculator client.
func NewHTTPCalculator(client HTTPDoer, baseURL string, timeout time.Duration, fallback *FlatRateCalculator, logger *slog.Logger) *HTTPCalculator {
	return &HTTPCalculator{
		client:   client,
		baseURL:  baseURL,
		timeout:  timeout,
		fallback: fallback,
		logger:   logger,
	}
}

// Cost implements Calculator.
func (c *HTTPCalculator) Cost(ctx context.Context, quote *Quote) (decimal.Decimal, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cost, err := c.remoteQuote(ctx, quote)
	if err == nil {
		return cost, nil
	}
	if c.fallback == nil {
		return decimal.Zero, err
	}

	c.logger.WarnContext(ctx, "shipping service unavailable, using flat-rate fallback",
		slog.String("error", err.Error()),
	)
	return c.fallback.Cost(ctx, quote)
}

func (c *HTTPCalculator) remoteQuote(ctx context.Context, quote *Quote) (decimal.Decimal, error) {
	type quoteResponse struct {
		Cost decimal.Decimal `json:"cost"`
	}

	body, err := json.Marshal(quote)
	if err != nil {
		return decimal.Zero, fmt.Errorf("marshal quote request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/shipping/quotes", bytes.NewReader(body))
	if err != nil {
		return decimal.Zero, fmt.Errorf("create quote request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(ctx, httpReq)
	if err != nil {
		return decimal.Zero, fmt.Errorf("call shipping service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, httpclient.ParseResponseError(resp, "shipping")
	}

	var qr quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return decimal.Zero, fmt.Errorf("decode quote response: %w", err)
	}

	return qr.Cost.Round(2), nil
}
