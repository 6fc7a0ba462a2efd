package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aurelia-commerce/fulfillment/internal/domain"
	"github.com/aurelia-commerce/fulfillment/internal/event"
	"github.com/aurelia-commerce/fulfillment/internal/payment"
	"github.com/aurelia-commerce/fulfillment/internal/repository"
	"github.com/aurelia-commerce/fulfillment/pkg/database"
	apperrors "github.com/aurelia-commerce/fulfillment/pkg/errors"
)

// RefundService implements the refund lifecycle and reconciliation.
type RefundService struct {
	refunds  repository.RefundRepository
	orders   repository.OrderRepository
	gateway  payment.Gateway
	pool     database.DBTX
	producer *event.Producer
	logger   *slog.Logger
}

// NewRefundService creates a new refund service. The pool is used to span
// the completion status write and the gateway call with one transaction.
func NewRefundService(
	refunds repository.RefundRepository,
	orders repository.OrderRepository,
	gateway payment.Gateway,
	pool database.DBTX,
	producer *event.Producer,
	logger *slog.Logger,
) *RefundService {
	return &RefundService{
		refunds:  refunds,
		orders:   orders,
		gateway:  gateway,
		pool:     pool,
		producer: producer,
		logger:   logger,
	}
}

// RefundItemInput claims a quantity of one order item.
type RefundItemInput struct {
	OrderItemID string `json:"order_item_id" validate:"required"`
	Quantity    int    `json:"quantity" validate:"required,gt=0"`
}

// RequestRefundInput holds the parameters for requesting a refund.
type RequestRefundInput struct {
	OrderID      string            `json:"order_id" validate:"required"`
	PaymentID    string            `json:"payment_id,omitempty"`
	Reason       string            `json:"reason" validate:"required"`
	ReasonDetail string            `json:"reason_detail,omitempty"`
	Method       string            `json:"method" validate:"required"`
	Items        []RefundItemInput `json:"items" validate:"required,min=1,dive"`
}

// RequestRefund opens a refund for part or all of a delivered or completed
// order. Item claims are reconciled against sibling refunds at insert time.
func (s *RefundService) RequestRefund(ctx context.Context, requestedBy string, input *RequestRefundInput) (*domain.Refund, error) {
	if requestedBy == "" {
		return nil, apperrors.InvalidInput("requesting user is required")
	}
	if input == nil {
		return nil, apperrors.InvalidInput("refund input is required")
	}
	if len(input.Items) == 0 {
		return nil, apperrors.InvalidInput("at least one refund item is required")
	}

	order, err := s.orders.GetByID(ctx, input.OrderID)
	if err != nil {
		return nil, fmt.Errorf("get order for refund: %w", err)
	}
	if order.Status != domain.OrderStatusDelivered && order.Status != domain.OrderStatusCompleted {
		return nil, apperrors.InvalidInput(fmt.Sprintf(
			"refunds require a delivered or completed order, order %s is %q",
			order.OrderNumber, order.Status,
		))
	}

	open, err := s.refunds.HasOpenRefund(ctx, input.OrderID, "")
	if err != nil {
		return nil, fmt.Errorf("check open refunds: %w", err)
	}
	if open {
		return nil, apperrors.Conflict("order already has an open refund")
	}

	itemsByID := make(map[string]*domain.OrderItem, len(order.Items))
	for i := range order.Items {
		itemsByID[order.Items[i].ID] = &order.Items[i]
	}

	now := time.Now().UTC()
	refundID := uuid.New().String()

	refund := &domain.Refund{
		ID:           refundID,
		RefundNumber: domain.GenerateRefundNumber(now),
		OrderID:      input.OrderID,
		PaymentID:    input.PaymentID,
		RequestedBy:  requestedBy,
		Status:       domain.RefundStatusPending,
		Reason:       input.Reason,
		ReasonDetail: input.ReasonDetail,
		Method:       input.Method,
		RequestedAt:  now,
		AuditRecord:  domain.NewAuditRecord(now),
	}

	for _, in := range input.Items {
		orderItem, ok := itemsByID[in.OrderItemID]
		if !ok || orderItem.IsDeleted {
			return nil, apperrors.InvalidInput(fmt.Sprintf("order item %s does not belong to order %s", in.OrderItemID, input.OrderID))
		}
		item := domain.RefundItem{
			ID:          uuid.New().String(),
			RefundID:    refundID,
			OrderItemID: in.OrderItemID,
			Quantity:    in.Quantity,
			UnitPrice:   orderItem.UnitPrice,
		}
		if err := item.Validate(); err != nil {
			return nil, apperrors.InvalidInput(err.Error())
		}
		refund.Items = append(refund.Items, item)
	}

	if refund.RecomputeRequested().IsZero() {
		return nil, apperrors.InvalidInput("refund amount is zero, nothing to refund")
	}
	if err := refund.Validate(); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	if err := s.refunds.Create(ctx, refund); err != nil {
		return nil, fmt.Errorf("create refund: %w", err)
	}

	// Publish event; log but do not fail on error.
	if err := s.producer.PublishRefundRequested(ctx, refund); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish refund.requested event",
			slog.String("refund_id", refund.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "refund requested",
		slog.String("refund_id", refund.ID),
		slog.String("refund_number", refund.RefundNumber),
		slog.String("order_id", refund.OrderID),
		slog.String("amount_requested", refund.AmountRequested.StringFixed(2)),
	)

	return refund, nil
}

// GetRefund retrieves a refund by ID.
func (s *RefundService) GetRefund(ctx context.Context, id string) (*domain.Refund, error) {
	refund, err := s.refunds.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get refund: %w", err)
	}
	return refund, nil
}

// ListRefunds returns refunds matching the filter with the total count.
func (s *RefundService) ListRefunds(ctx context.Context, filter repository.RefundFilter) ([]domain.Refund, int, error) {
	refunds, total, err := s.refunds.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list refunds: %w", err)
	}
	return refunds, total, nil
}

// Approve moves a pending refund to approved for the given amount,
// re-verifying the per-item reconciliation inside a transaction in case
// sibling refunds changed since the request.
func (s *RefundService) Approve(ctx context.Context, refundID string, amount decimal.Decimal, actor string) (*domain.Refund, error) {
	if actor == "" {
		return nil, apperrors.InvalidInput("acting user is required")
	}

	refund, err := s.refunds.GetByID(ctx, refundID)
	if err != nil {
		return nil, fmt.Errorf("get refund for approval: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	txRepo := s.refunds.WithTx(tx)

	if err := txRepo.Reconcile(ctx, refund); err != nil {
		return nil, fmt.Errorf("reconcile refund items: %w", err)
	}

	if err := refund.Approve(amount, actor, time.Now().UTC()); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	if err := txRepo.Save(ctx, refund); err != nil {
		return nil, fmt.Errorf("save approved refund: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "refund approved",
		slog.String("refund_id", refundID),
		slog.String("amount_approved", refund.AmountApproved.StringFixed(2)),
		slog.String("actor", actor),
	)

	return refund, nil
}

// Complete pays out an approved refund. The status write and the gateway
// call share one transaction: a gateway failure rolls the write back and the
// refund stays approved for a later retry.
func (s *RefundService) Complete(ctx context.Context, refundID, actor string) (*domain.Refund, error) {
	if actor == "" {
		return nil, apperrors.InvalidInput("acting user is required")
	}

	refund, err := s.refunds.GetByID(ctx, refundID)
	if err != nil {
		return nil, fmt.Errorf("get refund for completion: %w", err)
	}

	amount := refund.AmountApproved

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	txRepo := s.refunds.WithTx(tx)

	if err := refund.Complete(amount, actor, time.Now().UTC()); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	if err := txRepo.Save(ctx, refund); err != nil {
		return nil, fmt.Errorf("save completed refund: %w", err)
	}

	if _, err := s.gateway.Refund(ctx, &payment.RefundInput{
		PaymentID: refund.PaymentID,
		OrderID:   refund.OrderID,
		Amount:    amount,
		Method:    refund.Method,
	}); err != nil {
		// Rollback leaves the refund approved; the gateway error already
		// carries the dependency classification.
		return nil, fmt.Errorf("gateway refund: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.moveOrderOnFullRefund(ctx, refund, actor)

	// Publish event; log but do not fail on error.
	if err := s.producer.PublishRefundCompleted(ctx, refund); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish refund.completed event",
			slog.String("refund_id", refund.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "refund completed",
		slog.String("refund_id", refundID),
		slog.String("amount_refunded", refund.AmountRefunded.StringFixed(2)),
		slog.String("actor", actor),
	)

	return refund, nil
}

// moveOrderOnFullRefund transitions the order to refunded when the refund
// covers the full order total. Partial refunds leave the order status alone.
func (s *RefundService) moveOrderOnFullRefund(ctx context.Context, refund *domain.Refund, actor string) {
	order, err := s.orders.GetByID(ctx, refund.OrderID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load order after refund completion",
			slog.String("order_id", refund.OrderID),
			slog.String("error", err.Error()),
		)
		return
	}

	if refund.AmountRefunded.LessThan(order.TotalAmount) {
		return
	}
	if !order.CanTransitionTo(domain.OrderStatusRefunded) {
		return
	}

	note := fmt.Sprintf("fully refunded via %s", refund.RefundNumber)
	if err := s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusRefunded, note, actor); err != nil {
		s.logger.ErrorContext(ctx, "failed to move order to refunded",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Reject moves a pending refund to rejected with a mandatory reason.
func (s *RefundService) Reject(ctx context.Context, refundID, reason, actor string) (*domain.Refund, error) {
	if actor == "" {
		return nil, apperrors.InvalidInput("acting user is required")
	}

	refund, err := s.refunds.GetByID(ctx, refundID)
	if err != nil {
		return nil, fmt.Errorf("get refund for rejection: %w", err)
	}

	if err := refund.Reject(reason, actor, time.Now().UTC()); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	if err := s.refunds.Save(ctx, refund); err != nil {
		return nil, fmt.Errorf("save rejected refund: %w", err)
	}

	s.logger.InfoContext(ctx, "refund rejected",
		slog.String("refund_id", refundID),
		slog.String("reason", reason),
		slog.String("actor", actor),
	)

	return refund, nil
}

// Cancel withdraws a pending or approved refund, releasing its item claims.
func (s *RefundService) Cancel(ctx context.Context, refundID, actor string) (*domain.Refund, error) {
	if actor == "" {
		return nil, apperrors.InvalidInput("acting user is required")
	}

	refund, err := s.refunds.GetByID(ctx, refundID)
	if err != nil {
		return nil, fmt.Errorf("get refund for cancellation: %w", err)
	}

	if err := refund.Cancel(actor, time.Now().UTC()); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	if err := s.refunds.Save(ctx, refund); err != nil {
		return nil, fmt.Errorf("save cancelled refund: %w", err)
	}

	s.logger.InfoContext(ctx, "refund cancelled",
		slog.String("refund_id", refundID),
		slog.String("actor", actor),
	)

	return refund, nil
}

// RemoveItem soft-deletes one refund item and recomputes amount_requested. A
// zero remaining amount auto-cancels the refund.
func (s *RefundService) RemoveItem(ctx context.Context, refundID, itemID, actor string) (*domain.Refund, error) {
	if actor == "" {
		return nil, apperrors.InvalidInput("acting user is required")
	}

	refund, err := s.refunds.GetByID(ctx, refundID)
	if err != nil {
		return nil, fmt.Errorf("get refund for item removal: %w", err)
	}
	if refund.Status != domain.RefundStatusPending && refund.Status != domain.RefundStatusProcessing {
		return nil, apperrors.Conflict(fmt.Sprintf("items cannot be removed from a refund in status %q", refund.Status))
	}

	if err := s.refunds.SoftDeleteItem(ctx, refundID, itemID); err != nil {
		return nil, fmt.Errorf("soft delete refund item: %w", err)
	}

	now := time.Now().UTC()
	for i := range refund.Items {
		if refund.Items[i].ID == itemID {
			refund.Items[i].MarkDeleted(now)
		}
	}

	if refund.RecomputeRequested().IsZero() {
		if err := refund.Cancel(actor, now); err == nil {
			s.logger.InfoContext(ctx, "refund auto-cancelled, no items remain",
				slog.String("refund_id", refundID),
			)
		}
	}
	refund.UpdatedAt = now

	if err := s.refunds.Save(ctx, refund); err != nil {
		return nil, fmt.Errorf("save refund after item removal: %w", err)
	}

	return refund, nil
}
