package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kelasku/kelasku-api/internal/models"
)

// PaymentRepository handles persistence of checkout payments.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create persists a new payment record.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	payment.CreatedAt = now
	payment.UpdatedAt = now
	const query = `INSERT INTO payments (id, subscription_id, order_id, amount_idr, status, snap_token, redirect_url, settled_at, created_at, updated_at)
        VALUES (:id, :subscription_id, :order_id, :amount_idr, :status, :snap_token, :redirect_url, :settled_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// FindByOrderID returns a payment by the gateway order ID.
func (r *PaymentRepository) FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	const query = `SELECT id, subscription_id, order_id, amount_idr, status, snap_token, redirect_url, settled_at, created_at, updated_at
        FROM payments WHERE order_id = $1 LIMIT 1`
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, orderID); err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindPendingBySubscription returns the latest pending payment for a
// subscription, so repeated checkout attempts reuse the open order.
func (r *PaymentRepository) FindPendingBySubscription(ctx context.Context, subscriptionID string) (*models.Payment, error) {
	const query = `SELECT id, subscription_id, order_id, amount_idr, status, snap_token, redirect_url, settled_at, created_at, updated_at
        FROM payments WHERE subscription_id = $1 AND status = 'PENDING'
        ORDER BY created_at DESC LIMIT 1`
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, subscriptionID); err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdateStatus transitions a payment's status and records settlement time.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, status models.PaymentStatus, settledAt *time.Time) error {
	const query = `UPDATE payments SET status = $2, settled_at = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, settledAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}
