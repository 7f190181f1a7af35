// Package models provides data model definitions for the Tillpoint register engine.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CachedProduct is a local mirror of one catalog entry. It tracks server truth
// with bounded staleness: the stock figure may run ahead of the server between
// an optimistic decrement and the next catalog refresh.
type CachedProduct struct {
	ID        string          `db:"id" json:"id"`
	TenantID  string          `db:"tenant_id" json:"tenant_id"`
	Name      string          `db:"name" json:"name"`
	SKU       string          `db:"sku" json:"sku"`
	Barcode   string          `db:"barcode" json:"barcode,omitempty"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Stock     int             `db:"stock" json:"stock"`
	Category  string          `db:"category" json:"category"`
	ImageURL  string          `db:"image_url" json:"image_url,omitempty"`
	UpdatedAt int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for CachedProduct.
func (CachedProduct) TableName() string {
	return "products"
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (p *CachedProduct) UpdatedAtTime() time.Time {
	return time.Unix(p.UpdatedAt, 0)
}
