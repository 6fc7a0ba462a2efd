package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aurelia-commerce/fulfillment/pkg/httpclient"
)

// HTTPDoer is the interface for executing HTTP requests.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Item is one line of a cart snapshot.
type Item struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	WeightKg  decimal.Decimal `json:"weight_kg"`
}

// Snapshot is the cart contents captured at order placement. Orders embed a
// copy of these lines, so later cart edits never touch a placed order.
type Snapshot struct {
	CartID   string `json:"cart_id"`
	UserID   string `json:"user_id"`
	Items    []Item `json:"items"`
	Currency string `json:"currency"`
}

// Provider fetches cart snapshots.
type Provider interface {
	Snapshot(ctx context.Context, cartID string) (*Snapshot, error)
}

// HTTPProvider fetches carts from the cart service.
type HTTPProvider struct {
	client  HTTPDoer
	baseURL string
	timeout time.Duration
}

// NewHTTPProvider creates a cart provider client.
func NewHTTPProvider(client HTTPDoer, baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{client: client, baseURL: baseURL, timeout: timeout}
}

// Snapshot implements Provider.
func (p *HTTPProvider) Snapshot(ctx context.Context, cartID string) (*Snapshot, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/carts/"+cartID, nil)
	if err != nil {
		return nil, fmt.Errorf("create cart request: %w", err)
	}

	resp, err := p.client.Do(ctx, httpReq)
	if err != nil {
		return nil, fmt.Errorf("call cart service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, "cart")
	}

	var snapshot Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("decode cart snapshot: %w", err)
	}

	return &snapshot, nil
}
