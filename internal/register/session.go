// Package register owns one register session: the cart in progress plus the
// engine components that record and reconcile its sales.
package register

import (
	"context"
	"sync"
	"time"

	"github.com/mwren/tillpoint/internal/cart"
	"github.com/mwren/tillpoint/internal/catalog"
	"github.com/mwren/tillpoint/internal/connectivity"
	"github.com/mwren/tillpoint/internal/errors"
	"github.com/mwren/tillpoint/internal/logging"
	"github.com/mwren/tillpoint/internal/models"
	"github.com/mwren/tillpoint/internal/queue"
	syncpkg "github.com/mwren/tillpoint/internal/sync"
)

// QueuedListener is notified when a sale lands in the offline queue.
type QueuedListener interface {
	SaleQueued(sale *models.OfflineSale)
}

// Session is the explicit context object for one register: it owns the cart
// and wires it to the cache, queue, synchronizer and connectivity monitor.
// Nothing here is ambient global state, so tests can run several simulated
// registers side by side.
//
// The session serializes all cart and checkout access behind one mutex; the
// cart itself stays lock-free because a register has exactly one active
// checkout flow.
type Session struct {
	tenantID string
	storeID  string

	mu      sync.Mutex
	cart    *cart.Cart
	cache   *catalog.Cache
	queue   *queue.SaleQueue
	syncer  *syncpkg.Synchronizer
	monitor *connectivity.Monitor

	listener QueuedListener
}

// NewSession creates a register session.
func NewSession(tenantID, storeID string, cache *catalog.Cache, q *queue.SaleQueue,
	syncer *syncpkg.Synchronizer, monitor *connectivity.Monitor) *Session {
	return &Session{
		tenantID: tenantID,
		storeID:  storeID,
		cart:     cart.New(),
		cache:    cache,
		queue:    q,
		syncer:   syncer,
		monitor:  monitor,
	}
}

// SetQueuedListener wires sale-queued events to a listener. Optional.
func (s *Session) SetQueuedListener(l QueuedListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// TenantID returns the tenant this register belongs to.
func (s *Session) TenantID() string {
	return s.tenantID
}

// StoreID returns the store this register belongs to.
func (s *Session) StoreID() string {
	return s.storeID
}

// AddProduct adds one unit of a product to the cart by id.
func (s *Session) AddProduct(id string) (*models.CachedProduct, error) {
	return s.add(func() (*models.CachedProduct, error) {
		return s.cache.Get(id)
	})
}

// AddByBarcode adds one unit of a product scanned by barcode.
func (s *Session) AddByBarcode(barcode string) (*models.CachedProduct, error) {
	return s.add(func() (*models.CachedProduct, error) {
		return s.cache.GetByBarcode(barcode)
	})
}

// AddBySKU adds one unit of a product typed in by SKU.
func (s *Session) AddBySKU(sku string) (*models.CachedProduct, error) {
	return s.add(func() (*models.CachedProduct, error) {
		return s.cache.GetBySKU(sku)
	})
}

func (s *Session) add(lookup func() (*models.CachedProduct, error)) (*models.CachedProduct, error) {
	product, err := lookup()
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, errors.New(errors.ErrNotFound, "product not in local cache")
	}

	s.mu.Lock()
	s.cart.Add(product)
	s.mu.Unlock()
	return product, nil
}

// RemoveLine removes a cart line. Idempotent.
func (s *Session) RemoveLine(productID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart.Remove(productID)
}

// SetQuantity sets a cart line's quantity, clamped to its stock snapshot.
func (s *Session) SetQuantity(productID string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart.SetQuantity(productID, qty)
}

// ClearCart empties the cart.
func (s *Session) ClearCart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart.Clear()
}

// CartView is a point-in-time view of the cart for the UI.
type CartView struct {
	Lines []cart.Line `json:"lines"`
	Total string      `json:"total"`
}

// Cart returns the current cart contents.
func (s *Session) Cart() CartView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CartView{
		Lines: s.cart.Lines(),
		Total: s.cart.Total().String(),
	}
}

// Checkout completes the sale in progress: it freezes the cart into an
// OfflineSale, records it durably in the queue (optimistic stock decrements
// included, same transaction), clears the cart, and kicks an asynchronous
// drain when the monitor says the backend is reachable.
//
// The sale is always queued first, online or not; inline submission would
// lose the at-least-once guarantee the queue exists to provide. A storage
// failure is returned to the caller as a hard error and the cart is kept:
// the operator must know the sale was NOT recorded.
func (s *Session) Checkout(ctx context.Context, cashierID string, payment models.PaymentMethod) (*models.OfflineSale, error) {
	if cashierID == "" {
		return nil, errors.New(errors.ErrValidation, "cashier id is required")
	}
	if !payment.Valid() {
		return nil, errors.New(errors.ErrValidation, "unknown payment method")
	}

	s.mu.Lock()
	if s.cart.IsEmpty() {
		s.mu.Unlock()
		return nil, errors.New(errors.ErrCartEmpty, "nothing to check out")
	}

	items := s.cart.Snapshot()
	sale := &models.OfflineSale{
		TenantID:      s.tenantID,
		StoreID:       s.storeID,
		CashierID:     cashierID,
		Items:         items,
		Total:         models.ComputeTotal(items),
		PaymentMethod: payment,
		CreatedAt:     time.Now().Unix(),
	}

	if _, err := s.queue.Enqueue(sale); err != nil {
		// Cart intact: the cashier retries once storage recovers.
		s.mu.Unlock()
		return nil, err
	}

	s.cart.Clear()
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.SaleQueued(sale)
	}

	if s.monitor.Online() {
		go func() {
			if _, err := s.syncer.Drain(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, errors.ErrSyncInProgress) {
				logging.Debug("post-checkout drain did not complete", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}()
	}

	return sale, nil
}
