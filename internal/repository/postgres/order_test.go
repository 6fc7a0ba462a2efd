package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelia-commerce/fulfillment/internal/domain"
	"github.com/aurelia-commerce/fulfillment/internal/repository"
	"github.com/aurelia-commerce/fulfillment/pkg/database"
	apperrors "github.com/aurelia-commerce/fulfillment/pkg/errors"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newOrderRepo(t *testing.T) (*OrderRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	return NewOrderRepository(mock), mock
}

func sampleOrder() *domain.Order {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Order{
		ID:             "order-1",
		UserID:         "user-1",
		Status:         domain.OrderStatusPending,
		CouponCode:     "SAVE10",
		DiscountAmount: dec("7.00"),
		ShippingCost:   dec("5.00"),
		TotalAmount:    dec("68.00"),
		Currency:       "USD",
		Items: []domain.OrderItem{
			{
				ID:        "item-1",
				OrderID:   "order-1",
				ProductID: "prod-1",
				VariantID: "var-1",
				Name:      "Widget",
				SKU:       "WID-1",
				UnitPrice: dec("10.00"),
				Quantity:  2,
				WeightKg:  dec("0.5"),
			},
		},
		Taxes: []domain.OrderTax{
			{
				ID:              "tax-1",
				OrderID:         "order-1",
				Name:            "VAT",
				Rate:            dec("0.18"),
				Amount:          dec("70.00"),
				TaxValue:        dec("12.60"),
				AmountWithTaxes: dec("82.60"),
			},
		},
		AuditRecord: domain.AuditRecord{CreatedAt: now, UpdatedAt: now},
	}
}

func uniqueViolation(constraint string) *pgconn.PgError {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

func expectOrderInsert(mock pgxmock.PgxPoolIface, o *domain.Order) {
	mock.ExpectQuery("SELECT nextval").
		WillReturnRows(pgxmock.NewRows([]string{"nextval"}).AddRow(int64(42)))
	mock.ExpectExec("INSERT INTO orders").
		WithArgs(
			o.ID, "ORD-000042", o.UserID, o.Status, o.CouponCode,
			o.DiscountAmount, o.ShippingCost, o.TotalAmount, o.Currency,
			pgxmock.AnyArg(), o.Notes, o.CancelReason,
			o.CreatedAt, o.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	for _, item := range o.Items {
		mock.ExpectExec("INSERT INTO order_items").
			WithArgs(
				item.ID, item.OrderID, item.ProductID, item.VariantID,
				item.Name, item.SKU, item.UnitPrice, item.Quantity,
				item.WeightKg, item.TotalPrice(), o.CreatedAt, o.UpdatedAt,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	for _, tax := range o.Taxes {
		mock.ExpectExec("INSERT INTO order_taxes").
			WithArgs(
				tax.ID, tax.OrderID, tax.Name, tax.Rate,
				tax.Amount, tax.TaxValue, tax.AmountWithTaxes,
				o.CreatedAt, o.UpdatedAt,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectExec("INSERT INTO order_status_history").
		WithArgs(o.ID, o.Status, "order created", o.UserID, o.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestOrderRepository_Create_Success(t *testing.T) {
	repo, mock := newOrderRepo(t)
	defer mock.Close()

	o := sampleOrder()

	mock.ExpectBegin()
	expectOrderInsert(mock, o)
	mock.ExpectCommit()

	err := repo.Create(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, "ORD-000042", o.OrderNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_Create_ItemWithoutVariant(t *testing.T) {
	repo, mock := newOrderRepo(t)
	defer mock.Close()

	o := sampleOrder()
	o.Items[0].VariantID = ""

	mock.ExpectBegin()
	expectOrderInsert(mock, o)
	mock.ExpectCommit()

	err := repo.Create(context.Background(), o)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_Create_RetriesOnOrderNumberCollision(t *testing.T) {
	repo, mock := newOrderRepo(t)
	defer mock.Close()

	o := sampleOrder()

	// First attempt draws a number that collides with an existing order.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT nextval").
		WillReturnRows(pgxmock.NewRows([]string{"nextval"}).AddRow(int64(41)))
	mock.ExpectExec("INSERT INTO orders").
		WithArgs(
			o.ID, "ORD-000041", o.UserID, o.Status, o.CouponCode,
			o.DiscountAmount, o.ShippingCost, o.TotalAmount, o.Currency,
			pgxmock.AnyArg(), o.Notes, o.CancelReason,
			o.CreatedAt, o.UpdatedAt,
		).
		WillReturnError(uniqueViolation("orders_order_number_key"))
	mock.ExpectRollback()

	// Second attempt draws a fresh number and succeeds.
	mock.ExpectBegin()
	expectOrderInsert(mock, o)
	mock.ExpectCommit()

	err := repo.Create(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, "ORD-000042", o.OrderNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_Create_BeginError(t *testing.T) {
	repo, mock := newOrderRepo(t)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err := repo.Create(context.Background(), sampleOrder())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "begin transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// GetByID
// ---------------------------------------------------------------------------

var orderSelectColumns = []string{
	"id", "order_number", "user_id", "status", "coupon_code",
	"discount_amount", "shipping_cost", "total_amount", "currency",
	"shipping_address", "notes", "cancel_reason",
	"created_at", "updated_at", "is_deleted", "deleted_at",
	"items", "taxes",
}

func TestOrderRepository_GetByID_Success(t *testing.T) {
	repo, mock := newOrderRepo(t)
	defer mock.Close()

	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	itemsJSON := []byte(`[{"id":"item-1","order_id":"order-1","product_id":"prod-1","variant_id":"var-1","name":"Widget","sku":"WID-1","unit_price":10.00,"quantity":2,"weight_kg":0.5,"is_deleted":false}]`)
	taxesJSON := []byte(`[{"id":"tax-1","order_id":"order-1","name":"VAT","rate":0.18,"amount":70.00,"tax_value":12.60,"amount_with_taxes":82.60}]`)

	mock.ExpectQuery("SELECT").
		WithArgs("order-1").
		WillReturnRows(pgxmock.NewRows(orderSelectColumns).AddRow(
			"order-1", "ORD-000042", "user-1", "paid", "SAVE10",
			dec("7.00"), dec("5.00"), dec("68.00"), "USD",
			[]byte(nil), "", "",
			now, now, false, nil,
			itemsJSON, taxesJSON,
		))

	o, err := repo.GetByID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, "ORD-000042", o.OrderNumber)
	assert.Equal(t, "paid", o.Status)
	require.Len(t, o.Items, 1)
	assert.Equal(t, 2, o.Items[0].Quantity)
	assert.Equal(t, "10.00", o.Items[0].UnitPrice.StringFixed(2))
	require.Len(t, o.Taxes, 1)
	assert.Equal(t, "12.60", o.Taxes[0].TaxValue.StringFixed(2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := newOrderRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	o, err := repo.GetByID(context.Background(), "missing")
	assert.Nil(t, o)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestOrderRepository_List_WithFilters(t *testing.T) {
	repo, mock := newOrderRepo(t)
	defer mock.Close()

	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	userID := "user-1"
	status := "paid"

	mock.ExpectQuery("SELECT .+ FROM orders").
		WithArgs(userID, status, 10, 10).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "order_number", "user_id", "status", "coupon_code",
			"discount_amount", "shipping_cost", "total_amount", "currency",
			"notes", "cancel_reason", "created_at", "updated_at", "total_count",
		}).AddRow(
			"order-1", "ORD-000042", userID, status, "",
			dec("0"), dec("5.00"), dec("75.00"), "USD",
			"", "", now, now, 25,
		))

	orders, total, err := repo.List(context.Background(), repository.OrderFilter{
		UserID:  &userID,
		Status:  &status,
		Page:    2,
		PerPage: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 25, total)
	require.Len(t, orders, 1)
	assert.Equal(t, "ORD-000042", orders[0].OrderNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_List_Empty(t *testing.T) {
	repo, mock := newOrderRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM orders").
		WithArgs(20, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "order_number", "user_id", "status", "coupon_code",
			"discount_amount", "shipping_cost", "total_amount", "currency",
			"notes", "cancel_reason", "created_at", "updated_at", "total_count",
		}))

	orders, total, err := repo.List(context.Background(), repository.OrderFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, orders)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// UpdateStatus
// ---------------------------------------------------------------------------

func TestOrderRepository_UpdateStatus_WritesHistoryInSameTx(t *testing.T) {
	repo, mock := newOrderRepo(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs("paid", pgxmock.AnyArg(), "order-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO order_status_history").
		WithArgs("order-1", "paid", "payment confirmed", "staff-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := repo.UpdateStatus(context.Background(), "order-1", "paid", "payment confirmed", "staff-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_UpdateStatus_CancelledStoresReason(t *testing.T) {
	repo, mock := newOrderRepo(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs(domain.OrderStatusCancelled, "customer changed mind", pgxmock.AnyArg(), "order-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO order_status_history").
		WithArgs("order-1", domain.OrderStatusCancelled, "customer changed mind", "user-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := repo.UpdateStatus(context.Background(), "order-1", domain.OrderStatusCancelled, "customer changed mind", "user-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_UpdateStatus_NotFound(t *testing.T) {
	repo, mock := newOrderRepo(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs("paid", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := repo.UpdateStatus(context.Background(), "missing", "paid", "", "staff-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// ListStatusHistory
// ---------------------------------------------------------------------------

func TestOrderRepository_ListStatusHistory(t *testing.T) {
	repo, mock := newOrderRepo(t)
	defer mock.Close()

	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT .+ FROM order_status_history").
		WithArgs("order-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "order_id", "status", "note", "actor", "created_at"}).
			AddRow("h2", "order-1", "paid", "payment confirmed", "staff-1", now.Add(time.Hour)).
			AddRow("h1", "order-1", "pending", "order created", "user-1", now))

	history, err := repo.ListStatusHistory(context.Background(), "order-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "paid", history[0].Status)
	assert.Equal(t, "pending", history[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// SaveTax
// ---------------------------------------------------------------------------

func TestOrderRepository_SaveTax_Upsert(t *testing.T) {
	repo, mock := newOrderRepo(t)
	defer mock.Close()

	tax := domain.OrderTax{
		ID:      "tax-1",
		OrderID: "order-1",
		Name:    "VAT",
		Rate:    dec("0.18"),
		Amount:  dec("70.00"),
	}
	tax.Recompute()

	mock.ExpectExec("INSERT INTO order_taxes").
		WithArgs(
			tax.ID, tax.OrderID, tax.Name, tax.Rate,
			tax.Amount, tax.TaxValue, tax.AmountWithTaxes,
			pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.SaveTax(context.Background(), &tax)
	require.NoError(t, err)
	assert.Equal(t, "12.60", tax.TaxValue.StringFixed(2))
	assert.Equal(t, "82.60", tax.AmountWithTaxes.StringFixed(2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// SoftDelete / HasShipments
// ---------------------------------------------------------------------------

func TestOrderRepository_SoftDelete(t *testing.T) {
	repo, mock := newOrderRepo(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE orders SET is_deleted").
		WithArgs(pgxmock.AnyArg(), "order-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.SoftDelete(context.Background(), "order-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_SoftDelete_NotFound(t *testing.T) {
	repo, mock := newOrderRepo(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE orders SET is_deleted").
		WithArgs(pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.SoftDelete(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_HasShipments(t *testing.T) {
	repo, mock := newOrderRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("order-1").
		WillReturnRows(pgxmock.NewRows([]string{"has"}).AddRow(true))

	has, err := repo.HasShipments(context.Background(), "order-1")
	require.NoError(t, err)
	assert.True(t, has)
	assert.NoError(t, mock.ExpectationsWereMet())
}
