// Package register tests for the checkout flow end to end over a real local
// database.
package register

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mwren/tillpoint/internal/backend"
	"github.com/mwren/tillpoint/internal/catalog"
	"github.com/mwren/tillpoint/internal/connectivity"
	"github.com/mwren/tillpoint/internal/db"
	apperrors "github.com/mwren/tillpoint/internal/errors"
	"github.com/mwren/tillpoint/internal/models"
	"github.com/mwren/tillpoint/internal/queue"
	syncpkg "github.com/mwren/tillpoint/internal/sync"
)

// stubBackend acknowledges every submission.
type stubBackend struct {
	mu        sync.Mutex
	submitted int
}

func (s *stubBackend) SubmitSale(ctx context.Context, req *backend.SubmitSaleRequest) (*backend.SubmitSaleResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted++
	return &backend.SubmitSaleResponse{ServerSaleID: "srv-1"}, nil
}

func (s *stubBackend) FetchCatalog(ctx context.Context, tenantID string) ([]models.CachedProduct, error) {
	return nil, nil
}

func (s *stubBackend) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted
}

type testRig struct {
	session *Session
	queue   *queue.SaleQueue
	cache   *catalog.Cache
	monitor *connectivity.Monitor
	backend *stubBackend
}

func newTestRig(t *testing.T, online bool) *testRig {
	t.Helper()
	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	m := db.NewMigrator(database.DB, db.Migrations())
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	repo := db.NewRepository(database.DB)
	t.Cleanup(func() { repo.Close() })

	cache := catalog.NewCache(repo, "tenant-1")
	now := time.Now().Unix()
	err = cache.Refresh([]models.CachedProduct{
		{ID: "p1", TenantID: "tenant-1", Name: "Coffee", SKU: "SKU-1", Barcode: "111",
			Price: decimal.RequireFromString("3.50"), Stock: 10, UpdatedAt: now},
		{ID: "p2", TenantID: "tenant-1", Name: "Croissant", SKU: "SKU-2", Barcode: "222",
			Price: decimal.RequireFromString("6.00"), Stock: 5, UpdatedAt: now},
	})
	if err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}

	q := queue.New(repo)
	be := &stubBackend{}
	monitor := connectivity.NewMonitor(online)
	syncer := syncpkg.New(q, cache, be, "tenant-1", "store-1", 25)

	return &testRig{
		session: NewSession("tenant-1", "store-1", cache, q, syncer, monitor),
		queue:   q,
		cache:   cache,
		monitor: monitor,
		backend: be,
	}
}

// TestAddLookups verifies adding by id, barcode and SKU.
func TestAddLookups(t *testing.T) {
	rig := newTestRig(t, false)

	if _, err := rig.session.AddProduct("p1"); err != nil {
		t.Fatalf("AddProduct() failed: %v", err)
	}
	if _, err := rig.session.AddByBarcode("222"); err != nil {
		t.Fatalf("AddByBarcode() failed: %v", err)
	}
	if _, err := rig.session.AddBySKU("SKU-1"); err != nil {
		t.Fatalf("AddBySKU() failed: %v", err)
	}

	view := rig.session.Cart()
	if len(view.Lines) != 2 {
		t.Fatalf("cart lines = %d, want 2", len(view.Lines))
	}
	if view.Lines[0].Quantity != 2 {
		t.Errorf("p1 quantity = %d, want 2", view.Lines[0].Quantity)
	}
}

// TestAddUnknownProduct verifies a cache miss surfaces as NOT_FOUND.
func TestAddUnknownProduct(t *testing.T) {
	rig := newTestRig(t, false)

	_, err := rig.session.AddByBarcode("no-such-barcode")
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("AddByBarcode(miss) = %v, want NOT_FOUND", err)
	}
}

// TestCheckoutOffline verifies the sale queues durably while offline, the
// cart clears and the cached stock drops optimistically.
func TestCheckoutOffline(t *testing.T) {
	rig := newTestRig(t, false)

	rig.session.AddProduct("p1")
	rig.session.AddProduct("p1")
	rig.session.AddProduct("p2")

	sale, err := rig.session.Checkout(context.Background(), "cashier-1", models.PaymentCash)
	if err != nil {
		t.Fatalf("Checkout() failed: %v", err)
	}

	want := decimal.RequireFromString("13.00")
	if !sale.Total.Equal(want) {
		t.Errorf("sale total = %s, want %s", sale.Total, want)
	}
	if sale.LocalID == 0 {
		t.Error("sale has no local id")
	}

	view := rig.session.Cart()
	if len(view.Lines) != 0 {
		t.Error("cart should clear after checkout")
	}

	depth, _ := rig.queue.PendingDepth()
	if depth != 1 {
		t.Errorf("PendingDepth() = %d, want 1", depth)
	}
	if rig.backend.count() != 0 {
		t.Error("offline checkout must not reach the backend")
	}

	p, err := rig.cache.Get("p1")
	if err != nil {
		t.Fatalf("cache.Get() failed: %v", err)
	}
	if p.Stock != 8 {
		t.Errorf("p1 stock = %d, want 8 after optimistic decrement", p.Stock)
	}
}

// TestCheckoutOnlineDrains verifies an online checkout kicks an asynchronous
// drain that delivers the sale.
func TestCheckoutOnlineDrains(t *testing.T) {
	rig := newTestRig(t, true)

	rig.session.AddProduct("p1")
	if _, err := rig.session.Checkout(context.Background(), "cashier-1", models.PaymentCard); err != nil {
		t.Fatalf("Checkout() failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if depth, _ := rig.queue.PendingDepth(); depth == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	depth, _ := rig.queue.PendingDepth()
	if depth != 0 {
		t.Fatalf("sale not drained after online checkout, depth = %d", depth)
	}
	if rig.backend.count() != 1 {
		t.Errorf("backend submissions = %d, want 1", rig.backend.count())
	}
}

// TestCheckoutEmptyCart verifies an empty cart cannot check out.
func TestCheckoutEmptyCart(t *testing.T) {
	rig := newTestRig(t, false)

	_, err := rig.session.Checkout(context.Background(), "cashier-1", models.PaymentCash)
	if !apperrors.Is(err, apperrors.ErrCartEmpty) {
		t.Errorf("Checkout(empty) = %v, want CART_EMPTY", err)
	}
}

// TestCheckoutValidation verifies cashier and payment method are required.
func TestCheckoutValidation(t *testing.T) {
	rig := newTestRig(t, false)
	rig.session.AddProduct("p1")

	if _, err := rig.session.Checkout(context.Background(), "", models.PaymentCash); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Checkout(no cashier) = %v, want VALIDATION_ERROR", err)
	}
	if _, err := rig.session.Checkout(context.Background(), "cashier-1", "check"); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Checkout(bad payment) = %v, want VALIDATION_ERROR", err)
	}

	// Failed validation must keep the cart.
	if len(rig.session.Cart().Lines) != 1 {
		t.Error("cart should survive failed validation")
	}
}

// TestQueuedListener verifies the sale-queued event fires after a checkout.
func TestQueuedListener(t *testing.T) {
	rig := newTestRig(t, false)

	var mu sync.Mutex
	var queued []*models.OfflineSale
	rig.session.SetQueuedListener(queuedFunc(func(sale *models.OfflineSale) {
		mu.Lock()
		defer mu.Unlock()
		queued = append(queued, sale)
	}))

	rig.session.AddProduct("p1")
	if _, err := rig.session.Checkout(context.Background(), "cashier-1", models.PaymentCash); err != nil {
		t.Fatalf("Checkout() failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(queued) != 1 || queued[0].LocalID == 0 {
		t.Errorf("queued events = %+v", queued)
	}
}

// queuedFunc adapts a function to the QueuedListener interface.
type queuedFunc func(*models.OfflineSale)

func (f queuedFunc) SaleQueued(sale *models.OfflineSale) { f(sale) }
