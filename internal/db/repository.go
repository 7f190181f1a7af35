// Package db provides CRUD repository operations for the register's local store.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mwren/tillpoint/internal/models"
)

// Repository provides SQL operations for the product cache and the offline
// sale queue. Both live in the same SQLite file so a checkout can insert the
// sale and decrement cached stock in one transaction.
type Repository struct {
	db *sql.DB

	// Prepared statement cache for frequently used lookups.
	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate.
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Product Cache Operations
// =====================================================

const productColumns = `id, tenant_id, name, sku, barcode, price, stock, category, image_url, updated_at`

// UpsertProduct inserts or updates a cached product. Last writer wins per
// product id, keyed by updated_at, so a stale refresh cannot clobber a newer
// entry.
func (r *Repository) UpsertProduct(p *models.CachedProduct) error {
	query := `
	INSERT INTO products (id, tenant_id, name, sku, barcode, price, stock, category, image_url, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		tenant_id = excluded.tenant_id,
		name = excluded.name,
		sku = excluded.sku,
		barcode = excluded.barcode,
		price = excluded.price,
		stock = excluded.stock,
		category = excluded.category,
		image_url = excluded.image_url,
		updated_at = excluded.updated_at
	WHERE excluded.updated_at >= products.updated_at
	`
	_, err := r.db.Exec(query, p.ID, p.TenantID, p.Name, p.SKU, nullable(p.Barcode),
		p.Price.String(), p.Stock, p.Category, nullable(p.ImageURL), p.UpdatedAt)
	return err
}

// GetProduct retrieves a cached product by id.
func (r *Repository) GetProduct(id string) (*models.CachedProduct, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanProduct(stmt.QueryRow(id))
}

// GetProductByBarcode retrieves a cached product by barcode within a tenant.
func (r *Repository) GetProductByBarcode(tenantID, barcode string) (*models.CachedProduct, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE tenant_id = ? AND barcode = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanProduct(stmt.QueryRow(tenantID, barcode))
}

// GetProductBySKU retrieves a cached product by SKU within a tenant.
func (r *Repository) GetProductBySKU(tenantID, sku string) (*models.CachedProduct, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE tenant_id = ? AND sku = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanProduct(stmt.QueryRow(tenantID, sku))
}

// ReplaceCatalog replaces the full cached catalog for a tenant.
func (r *Repository) ReplaceCatalog(tenantID string, products []models.CachedProduct) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM products WHERE tenant_id = ?", tenantID); err != nil {
		return fmt.Errorf("failed to clear catalog: %w", err)
	}

	query := `
	INSERT INTO products (id, tenant_id, name, sku, barcode, price, stock, category, image_url, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i := range products {
		p := &products[i]
		if _, err := tx.Exec(query, p.ID, tenantID, p.Name, p.SKU, nullable(p.Barcode),
			p.Price.String(), p.Stock, p.Category, nullable(p.ImageURL), p.UpdatedAt); err != nil {
			return fmt.Errorf("failed to insert product %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// DecrementStock subtracts qty from a product's cached stock, floored at 0.
func (r *Repository) DecrementStock(id string, qty int) error {
	query := `UPDATE products SET stock = MAX(stock - ?, 0) WHERE id = ?`
	_, err := r.db.Exec(query, qty, id)
	return err
}

// CountProducts returns the number of cached products for a tenant.
func (r *Repository) CountProducts(tenantID string) (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM products WHERE tenant_id = ?", tenantID).Scan(&count)
	return count, err
}

// =====================================================
// Offline Sale Queue Operations
// =====================================================

const saleColumns = `local_id, tenant_id, store_id, cashier_id, items, total, payment_method,
	created_at, synced, server_ref, failed_permanently, failure_reason, synced_at`

// EnqueueSale inserts a completed sale with synced = 0 and applies the
// optimistic stock decrement for every item, all in one transaction. Queue
// state and cache state move together: either the sale is durably recorded
// with its decrements applied, or nothing changed.
func (r *Repository) EnqueueSale(sale *models.OfflineSale) (int64, error) {
	itemsJSON, err := json.Marshal(sale.Items)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal sale items: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO offline_sales (tenant_id, store_id, cashier_id, items, total, payment_method, created_at, synced)
	VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	`
	result, err := tx.Exec(query, sale.TenantID, sale.StoreID, sale.CashierID,
		string(itemsJSON), sale.Total.String(), string(sale.PaymentMethod), sale.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert sale: %w", err)
	}

	localID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read local id: %w", err)
	}

	decrement := `UPDATE products SET stock = MAX(stock - ?, 0) WHERE id = ?`
	for _, item := range sale.Items {
		if _, err := tx.Exec(decrement, item.Quantity, item.ProductID); err != nil {
			return 0, fmt.Errorf("failed to decrement stock for %s: %w", item.ProductID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sale: %w", err)
	}

	sale.LocalID = localID
	return localID, nil
}

// GetSale retrieves a sale by local id.
func (r *Repository) GetSale(localID int64) (*models.OfflineSale, error) {
	query := `SELECT ` + saleColumns + ` FROM offline_sales WHERE local_id = ?`
	return scanSale(r.db.QueryRow(query, localID))
}

// ListPendingSales returns unsynced sales, oldest first. Later sales may
// depend on earlier stock decrements being applied server-side, so the drain
// submits in this order.
func (r *Repository) ListPendingSales() ([]*models.OfflineSale, error) {
	query := `SELECT ` + saleColumns + ` FROM offline_sales WHERE synced = 0 ORDER BY created_at ASC, local_id ASC`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSales(rows)
}

// ListSales returns sales newest first, for the audit trail.
func (r *Repository) ListSales(limit, offset int) ([]*models.OfflineSale, error) {
	query := `SELECT ` + saleColumns + ` FROM offline_sales ORDER BY created_at DESC, local_id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.Query(query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSales(rows)
}

// MarkSaleSynced records the backend's acknowledgment of a sale. Marking an
// already-synced sale again is a no-op, not an error: the acknowledgment of a
// submission may be processed twice.
func (r *Repository) MarkSaleSynced(localID int64, serverRef string) error {
	query := `UPDATE offline_sales SET synced = 1, server_ref = ?, synced_at = ? WHERE local_id = ? AND synced = 0`
	result, err := r.db.Exec(query, serverRef, time.Now().Unix(), localID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Either already synced (fine) or the sale does not exist.
		var exists int
		if err := r.db.QueryRow("SELECT COUNT(*) FROM offline_sales WHERE local_id = ?", localID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return sql.ErrNoRows
		}
	}
	return nil
}

// MarkSaleFailed records a definitive backend rejection. The sale leaves the
// pending queue (synced = 1) but stays flagged for operator review. Idempotent
// like MarkSaleSynced.
func (r *Repository) MarkSaleFailed(localID int64, reason string) error {
	query := `UPDATE offline_sales SET synced = 1, failed_permanently = 1, failure_reason = ?, synced_at = ?
			  WHERE local_id = ? AND synced = 0`
	result, err := r.db.Exec(query, reason, time.Now().Unix(), localID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists int
		if err := r.db.QueryRow("SELECT COUNT(*) FROM offline_sales WHERE local_id = ?", localID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return sql.ErrNoRows
		}
	}
	return nil
}

// CountPendingSales returns the number of unsynced sales.
func (r *Repository) CountPendingSales() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM offline_sales WHERE synced = 0").Scan(&count)
	return count, err
}

// PurgeSyncedBefore deletes synced sales created before cutoff. Unsynced
// sales are never purged regardless of age.
func (r *Repository) PurgeSyncedBefore(cutoff int64) (int64, error) {
	result, err := r.db.Exec("DELETE FROM offline_sales WHERE synced = 1 AND created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// =====================================================
// Scan helpers
// =====================================================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner) (*models.CachedProduct, error) {
	var p models.CachedProduct
	var barcode, imageURL sql.NullString
	var price string
	err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.SKU, &barcode, &price,
		&p.Stock, &p.Category, &imageURL, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if barcode.Valid {
		p.Barcode = barcode.String
	}
	if imageURL.Valid {
		p.ImageURL = imageURL.String
	}
	p.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("corrupt price for product %s: %w", p.ID, err)
	}
	return &p, nil
}

func scanSale(row rowScanner) (*models.OfflineSale, error) {
	var s models.OfflineSale
	var itemsJSON, total string
	var serverRef, failureReason sql.NullString
	var syncedAt sql.NullInt64
	err := row.Scan(&s.LocalID, &s.TenantID, &s.StoreID, &s.CashierID, &itemsJSON,
		&total, &s.PaymentMethod, &s.CreatedAt, &s.Synced, &serverRef,
		&s.FailedPermanently, &failureReason, &syncedAt)
	if err != nil {
		return nil, err
	}
	if serverRef.Valid {
		s.ServerRef = serverRef.String
	}
	if failureReason.Valid {
		s.FailureReason = failureReason.String
	}
	if syncedAt.Valid {
		s.SyncedAt = syncedAt.Int64
	}
	if err := json.Unmarshal([]byte(itemsJSON), &s.Items); err != nil {
		return nil, fmt.Errorf("corrupt items for sale %d: %w", s.LocalID, err)
	}
	s.Total, err = decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("corrupt total for sale %d: %w", s.LocalID, err)
	}
	return &s, nil
}

func collectSales(rows *sql.Rows) ([]*models.OfflineSale, error) {
	var sales []*models.OfflineSale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
