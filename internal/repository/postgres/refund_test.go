package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelia-commerce/fulfillment/internal/domain"
	"github.com/aurelia-commerce/fulfillment/pkg/database"
	apperrors "github.com/aurelia-commerce/fulfillment/pkg/errors"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func newRefundRepo(t *testing.T) (*RefundRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	return NewRefundRepository(mock), mock
}

func sampleRefund() *domain.Refund {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Refund{
		ID:              "ref-1",
		RefundNumber:    "REF-20260801-AB12CD34",
		OrderID:         "order-1",
		RequestedBy:     "user-1",
		Status:          domain.RefundStatusPending,
		Reason:          domain.RefundReasonCustomerRequest,
		Method:          domain.RefundMethodOriginalPayment,
		AmountRequested: dec("10.00"),
		Items: []domain.RefundItem{
			{ID: "ri-1", RefundID: "ref-1", OrderItemID: "item-1", Quantity: 1, UnitPrice: dec("10.00")},
		},
		RequestedAt: now,
		AuditRecord: domain.AuditRecord{CreatedAt: now, UpdatedAt: now},
	}
}

func expectItemClaimCheck(mock pgxmock.PgxPoolIface, orderItemID, refundID string, itemQuantity, siblingClaimed int) {
	mock.ExpectQuery("SELECT quantity FROM order_items").
		WithArgs(orderItemID).
		WillReturnRows(pgxmock.NewRows([]string{"quantity"}).AddRow(itemQuantity))
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs(orderItemID, refundID).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(siblingClaimed))
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestRefundRepository_Create_Success(t *testing.T) {
	repo, mock := newRefundRepo(t)
	defer mock.Close()

	r := sampleRefund()

	mock.ExpectBegin()
	expectItemClaimCheck(mock, "item-1", r.ID, 2, 0)
	mock.ExpectExec("INSERT INTO refunds").
		WithArgs(
			r.ID, r.RefundNumber, r.OrderID, r.PaymentID, r.RequestedBy,
			r.Status, r.Reason, r.ReasonDetail, r.Method,
			r.AmountRequested, r.AmountApproved, r.AmountRefunded,
			r.RequestedAt, r.CreatedAt, r.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO refund_items").
		WithArgs("ri-1", r.ID, "item-1", 1, dec("10.00"), r.CreatedAt, r.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundRepository_Create_OverClaimRejected(t *testing.T) {
	repo, mock := newRefundRepo(t)
	defer mock.Close()

	// The order item has 2 units and sibling refunds already claim both.
	r := sampleRefund()

	mock.ExpectBegin()
	expectItemClaimCheck(mock, "item-1", r.ID, 2, 2)
	mock.ExpectRollback()

	err := repo.Create(context.Background(), r)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Contains(t, err.Error(), "exceeds remaining refundable quantity")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundRepository_Create_OrderItemMissing(t *testing.T) {
	repo, mock := newRefundRepo(t)
	defer mock.Close()

	r := sampleRefund()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT quantity FROM order_items").
		WithArgs("item-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := repo.Create(context.Background(), r)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// GetByID
// ---------------------------------------------------------------------------

func TestRefundRepository_GetByID_Success(t *testing.T) {
	repo, mock := newRefundRepo(t)
	defer mock.Close()

	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	itemsJSON := []byte(`[{"id":"ri-1","refund_id":"ref-1","order_item_id":"item-1","quantity":1,"unit_price":10.00}]`)

	mock.ExpectQuery("SELECT").
		WithArgs("ref-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "refund_number", "order_id", "payment_id", "requested_by",
			"status", "reason", "reason_detail", "method",
			"amount_requested", "amount_approved", "amount_refunded",
			"requested_at", "processed_at", "processed_by",
			"created_at", "updated_at", "is_deleted", "deleted_at", "items",
		}).AddRow(
			"ref-1", "REF-20260801-AB12CD34", "order-1", "", "user-1",
			domain.RefundStatusPending, domain.RefundReasonCustomerRequest, "", domain.RefundMethodOriginalPayment,
			dec("10.00"), dec("0"), dec("0"),
			now, nil, "",
			now, now, false, nil, itemsJSON,
		))

	r, err := repo.GetByID(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "REF-20260801-AB12CD34", r.RefundNumber)
	require.Len(t, r.Items, 1)
	assert.Equal(t, "item-1", r.Items[0].OrderItemID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := newRefundRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	r, err := repo.GetByID(context.Background(), "missing")
	assert.Nil(t, r)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Save
// ---------------------------------------------------------------------------

func TestRefundRepository_Save_Success(t *testing.T) {
	repo, mock := newRefundRepo(t)
	defer mock.Close()

	r := sampleRefund()
	now := time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, r.Approve(dec("10.00"), "staff-1", now))

	mock.ExpectExec("UPDATE refunds").
		WithArgs(
			r.Status, r.ReasonDetail,
			r.AmountRequested, r.AmountApproved, r.AmountRefunded,
			r.ProcessedAt, r.ProcessedBy,
			r.UpdatedAt, r.IsDeleted, r.DeletedAt, r.ID,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.Save(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundRepository_Save_NotFound(t *testing.T) {
	repo, mock := newRefundRepo(t)
	defer mock.Close()

	r := sampleRefund()
	r.ID = "missing"

	mock.ExpectExec("UPDATE refunds").
		WithArgs(
			r.Status, r.ReasonDetail,
			r.AmountRequested, r.AmountApproved, r.AmountRefunded,
			r.ProcessedAt, r.ProcessedBy,
			r.UpdatedAt, r.IsDeleted, r.DeletedAt, r.ID,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.Save(context.Background(), r)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Reconcile
// ---------------------------------------------------------------------------

func TestRefundRepository_Reconcile_SkipsDeletedItems(t *testing.T) {
	repo, mock := newRefundRepo(t)
	defer mock.Close()

	r := sampleRefund()
	deleted := domain.RefundItem{ID: "ri-2", RefundID: r.ID, OrderItemID: "item-2", Quantity: 1, UnitPrice: dec("5.00")}
	deleted.MarkDeleted(time.Now())
	r.Items = append(r.Items, deleted)

	expectItemClaimCheck(mock, "item-1", r.ID, 2, 1)

	require.NoError(t, repo.Reconcile(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundRepository_Reconcile_SiblingsChanged(t *testing.T) {
	repo, mock := newRefundRepo(t)
	defer mock.Close()

	// Another refund approved since this one was created now claims both units.
	r := sampleRefund()
	expectItemClaimCheck(mock, "item-1", r.ID, 2, 2)

	err := repo.Reconcile(context.Background(), r)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// HasOpenRefund / ExistsForOrder
// ---------------------------------------------------------------------------

func TestRefundRepository_HasOpenRefund(t *testing.T) {
	repo, mock := newRefundRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("order-1", "ref-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	open, err := repo.HasOpenRefund(context.Background(), "order-1", "ref-1")
	require.NoError(t, err)
	assert.True(t, open)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundRepository_HasOpenRefund_NoExclusion(t *testing.T) {
	repo, mock := newRefundRepo(t)
	defer mock.Close()

	// A new refund request has no refund of its own to exclude yet, so the
	// check runs against every open refund on the order.
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("order-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	open, err := repo.HasOpenRefund(context.Background(), "order-1", "")
	require.NoError(t, err)
	assert.False(t, open)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundRepository_ExistsForOrder(t *testing.T) {
	repo, mock := newRefundRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("order-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	exists, err := repo.ExistsForOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}
