package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockGateway approves every refund locally. Used in development when no
// payment service URL is configured.
type MockGateway struct {
	mu       sync.Mutex
	receipts []Receipt
}

// NewMockGateway creates a mock gateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

// Refund implements Gateway.
func (m *MockGateway) Refund(_ context.Context, input *RefundInput) (*Receipt, error) {
	receipt := Receipt{
		TransactionID: "mock-" + uuid.New().String(),
		Amount:        input.Amount,
		ProcessedAt:   time.Now().UTC(),
	}
	m.mu.Lock()
	m.receipts = append(m.receipts, receipt)
	m.mu.Unlock()
	return &receipt, nil
}

// Receipts returns the refunds processed so far.
func (m *MockGateway) Receipts() []Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Receipt, len(m.receipts))
	copy(out, m.receipts)
	return out
}
