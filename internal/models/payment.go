package models

import "time"

// PaymentStatus is the lifecycle of a checkout payment.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusSettled PaymentStatus = "SETTLED"
	PaymentStatusFailed  PaymentStatus = "FAILED"
	PaymentStatusExpired PaymentStatus = "EXPIRED"
)

// Payment is one checkout attempt for a subscription.
type Payment struct {
	ID             string        `db:"id" json:"id"`
	SubscriptionID string        `db:"subscription_id" json:"subscription_id"`
	OrderID        string        `db:"order_id" json:"order_id"`
	AmountIDR      int64         `db:"amount_idr" json:"amount_idr"`
	Status         PaymentStatus `db:"status" json:"status"`
	SnapToken      string        `db:"snap_token" json:"snap_token,omitempty"`
	RedirectURL    string        `db:"redirect_url" json:"redirect_url,omitempty"`
	SettledAt      *time.Time    `db:"settled_at" json:"settled_at,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}
