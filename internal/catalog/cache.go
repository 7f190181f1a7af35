// Package catalog provides read access to the locally cached product catalog.
package catalog

import (
	"database/sql"
	stderrors "errors"

	"github.com/mwren/tillpoint/internal/db"
	"github.com/mwren/tillpoint/internal/errors"
	"github.com/mwren/tillpoint/internal/logging"
	"github.com/mwren/tillpoint/internal/models"
)

// Cache is the local product cache: a persistent mirror of one tenant's
// catalog that keeps the register pricing items while the backend is
// unreachable, and absorbs optimistic stock decrements until the next
// successful refresh replaces them with server truth.
type Cache struct {
	repo     *db.Repository
	tenantID string
}

// NewCache creates a Cache for one tenant over the local repository.
func NewCache(repo *db.Repository, tenantID string) *Cache {
	return &Cache{
		repo:     repo,
		tenantID: tenantID,
	}
}

// TenantID returns the tenant this cache mirrors.
func (c *Cache) TenantID() string {
	return c.tenantID
}

// Get looks up a product by id. A miss returns (nil, nil): offline, an
// unknown product means "cannot price this item", a recoverable condition,
// not a failure.
func (c *Cache) Get(id string) (*models.CachedProduct, error) {
	return c.lookup(func() (*models.CachedProduct, error) {
		return c.repo.GetProduct(id)
	})
}

// GetByBarcode looks up a product by barcode within the tenant.
func (c *Cache) GetByBarcode(barcode string) (*models.CachedProduct, error) {
	return c.lookup(func() (*models.CachedProduct, error) {
		return c.repo.GetProductByBarcode(c.tenantID, barcode)
	})
}

// GetBySKU looks up a product by SKU within the tenant.
func (c *Cache) GetBySKU(sku string) (*models.CachedProduct, error) {
	return c.lookup(func() (*models.CachedProduct, error) {
		return c.repo.GetProductBySKU(c.tenantID, sku)
	})
}

func (c *Cache) lookup(fetch func() (*models.CachedProduct, error)) (*models.CachedProduct, error) {
	product, err := fetch()
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		// Storage trouble degrades the cache; it must not crash a checkout
		// that can still price from cart snapshots.
		return nil, errors.Wrap(errors.ErrCacheDegraded, "product cache unavailable", err)
	}
	return product, nil
}

// Refresh replaces the tenant's cached catalog with a freshly fetched one.
// Only called after a successful catalog fetch; the fetched snapshot carries
// authoritative stock, replacing any optimistic decrements.
func (c *Cache) Refresh(products []models.CachedProduct) error {
	if err := c.repo.ReplaceCatalog(c.tenantID, products); err != nil {
		return errors.Wrap(errors.ErrCacheDegraded, "catalog refresh failed", err)
	}
	logging.Info("catalog refreshed", map[string]interface{}{
		"tenant_id": c.tenantID,
		"products":  len(products),
	})
	return nil
}

// ApplyOptimisticDecrement subtracts qty from the cached stock, floored at 0.
// This is a local display hint only, never a reservation; the server remains
// the arbiter of real stock and the next Refresh restores its figure.
func (c *Cache) ApplyOptimisticDecrement(productID string, qty int) error {
	if err := c.repo.DecrementStock(productID, qty); err != nil {
		return errors.Wrap(errors.ErrCacheDegraded, "optimistic decrement failed", err)
	}
	return nil
}

// Size returns the number of cached products for the tenant.
func (c *Cache) Size() (int, error) {
	n, err := c.repo.CountProducts(c.tenantID)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCacheDegraded, "product cache unavailable", err)
	}
	return n, nil
}
