// Package models provides data model definitions for the Tillpoint register engine.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod is how the customer settled the sale.
type PaymentMethod string

const (
	PaymentCash    PaymentMethod = "cash"
	PaymentCard    PaymentMethod = "card"
	PaymentDigital PaymentMethod = "digital"
)

// Valid reports whether the payment method is one the backend accepts.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentDigital:
		return true
	}
	return false
}

// SaleItem is one line of a completed sale. It is a frozen snapshot of the
// cart line at checkout time; price is never recomputed from the live catalog.
type SaleItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// OfflineSale is a completed sale recorded locally, pending backend
// confirmation. LocalID is assigned by the local store and never travels to
// the server as the sale's identity; the server mints its own id on first
// successful submission.
type OfflineSale struct {
	LocalID           int64         `db:"local_id" json:"local_id"`
	TenantID          string        `db:"tenant_id" json:"tenant_id"`
	StoreID           string        `db:"store_id" json:"store_id"`
	CashierID         string        `db:"cashier_id" json:"cashier_id"`
	Items             []SaleItem    `db:"items" json:"items"`
	Total             decimal.Decimal `db:"total" json:"total"`
	PaymentMethod     PaymentMethod `db:"payment_method" json:"payment_method"`
	CreatedAt         int64         `db:"created_at" json:"created_at"`
	Synced            bool          `db:"synced" json:"synced"`
	ServerRef         string        `db:"server_ref" json:"server_ref,omitempty"`
	FailedPermanently bool          `db:"failed_permanently" json:"failed_permanently"`
	FailureReason     string        `db:"failure_reason" json:"failure_reason,omitempty"`
	SyncedAt          int64         `db:"synced_at" json:"synced_at,omitempty"`
}

// TableName returns the table name for OfflineSale.
func (OfflineSale) TableName() string {
	return "offline_sales"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (s *OfflineSale) CreatedAtTime() time.Time {
	return time.Unix(s.CreatedAt, 0)
}

// ComputeTotal sums price * quantity over the given items.
// A sale's Total is fixed to this value at creation time.
func ComputeTotal(items []SaleItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}
