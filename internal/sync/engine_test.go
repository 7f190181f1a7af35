// Package sync tests for drain semantics: ordering, stop-early, rejection
// flagging and single-flight.
package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mwren/tillpoint/internal/backend"
	"github.com/mwren/tillpoint/internal/catalog"
	"github.com/mwren/tillpoint/internal/db"
	apperrors "github.com/mwren/tillpoint/internal/errors"
	"github.com/mwren/tillpoint/internal/models"
	"github.com/mwren/tillpoint/internal/queue"
)

// fakeBackend scripts per-call outcomes and records submission order.
type fakeBackend struct {
	mu sync.Mutex

	// fail maps a (1-based) submission attempt number to an error.
	fail map[int]error

	attempts  int
	submitted []string // idempotency keys in submission order

	catalog    []models.CachedProduct
	catalogErr error

	// block, when non-nil, is closed to release an in-flight submission.
	block chan struct{}
}

func (f *fakeBackend) SubmitSale(ctx context.Context, req *backend.SubmitSaleRequest) (*backend.SubmitSaleResponse, error) {
	f.mu.Lock()
	f.attempts++
	attempt := f.attempts
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[attempt]; ok {
		return nil, err
	}
	f.submitted = append(f.submitted, req.IdempotencyKey)
	return &backend.SubmitSaleResponse{ServerSaleID: "srv-" + req.IdempotencyKey[:8]}, nil
}

func (f *fakeBackend) FetchCatalog(ctx context.Context, tenantID string) ([]models.CachedProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.catalog, f.catalogErr
}

func (f *fakeBackend) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.submitted))
	copy(out, f.submitted)
	return out
}

func newTestEngine(t *testing.T, be Backend) (*Synchronizer, *queue.SaleQueue) {
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
	q := queue.New(repo)
	return New(q, cache, be, "tenant-1", "store-1", 25), q
}

func enqueueSales(t *testing.T, q *queue.SaleQueue, n int) []int64 {
	t.Helper()
	base := time.Now().Unix()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		items := []models.SaleItem{
			{ProductID: "p1", Name: "Coffee", Quantity: 1, Price: decimal.RequireFromString("3.50")},
		}
		sale := &models.OfflineSale{
			TenantID:      "tenant-1",
			StoreID:       "store-1",
			CashierID:     "cashier-1",
			Items:         items,
			Total:         models.ComputeTotal(items),
			PaymentMethod: models.PaymentCash,
			CreatedAt:     base + int64(i),
		}
		id, err := q.Enqueue(sale)
		if err != nil {
			t.Fatalf("Enqueue() failed: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

// TestDrainEmpty verifies an empty queue drains clean without touching the
// backend.
func TestDrainEmpty(t *testing.T) {
	be := &fakeBackend{}
	engine, _ := newTestEngine(t, be)

	result, err := engine.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if !result.Clean || result.Submitted != 0 {
		t.Errorf("result = %+v, want clean empty pass", result)
	}
	if be.attempts != 0 {
		t.Errorf("backend touched %d times on empty queue", be.attempts)
	}
}

// TestDrainAll verifies a full clean pass marks every sale synced.
func TestDrainAll(t *testing.T) {
	be := &fakeBackend{}
	engine, q := newTestEngine(t, be)
	ids := enqueueSales(t, q, 3)

	result, err := engine.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if !result.Clean || result.Submitted != 3 || result.Remaining != 0 {
		t.Errorf("result = %+v", result)
	}

	depth, _ := q.PendingDepth()
	if depth != 0 {
		t.Errorf("PendingDepth() = %d, want 0", depth)
	}

	for _, id := range ids {
		sale, err := q.Get(id)
		if err != nil {
			t.Fatalf("Get(%d) failed: %v", id, err)
		}
		if !sale.Synced || sale.ServerRef == "" {
			t.Errorf("sale %d = %+v, want synced with server ref", id, sale)
		}
	}
}

// TestDrainStopsEarlyOnTransient verifies a transient failure mid-pass leaves
// the remainder pending in order, and the retry pass resumes oldest first.
func TestDrainStopsEarlyOnTransient(t *testing.T) {
	be := &fakeBackend{fail: map[int]error{2: errors.New("connection reset")}}
	engine, q := newTestEngine(t, be)
	ids := enqueueSales(t, q, 3)

	result, err := engine.Drain(context.Background())
	if err == nil {
		t.Fatal("Drain() should report the transient failure")
	}
	if result.Clean {
		t.Error("pass stopped early must not be clean")
	}
	if result.Submitted != 1 || result.Remaining != 2 {
		t.Errorf("result = %+v, want 1 submitted / 2 remaining", result)
	}

	first, _ := q.Get(ids[0])
	if !first.Synced {
		t.Error("first sale should be synced")
	}
	for _, id := range ids[1:] {
		sale, _ := q.Get(id)
		if sale.Synced {
			t.Errorf("sale %d should still be pending", id)
		}
	}

	// Retry pass succeeds and resumes with the oldest pending sale; the
	// resubmission carries the same idempotency key as the failed attempt.
	result, err = engine.Drain(context.Background())
	if err != nil {
		t.Fatalf("retry Drain() failed: %v", err)
	}
	if !result.Clean || result.Submitted != 2 {
		t.Errorf("retry result = %+v", result)
	}

	depth, _ := q.PendingDepth()
	if depth != 0 {
		t.Errorf("PendingDepth() after retry = %d, want 0", depth)
	}
}

// TestDrainFlagsPermanentRejection verifies a definitive rejection is flagged,
// skipped on later passes, and does not stop the drain.
func TestDrainFlagsPermanentRejection(t *testing.T) {
	rejection := &backend.RejectionError{StatusCode: 422, Code: "UNKNOWN_PRODUCT", Reason: "product gone"}
	be := &fakeBackend{fail: map[int]error{1: rejection}}
	engine, q := newTestEngine(t, be)
	ids := enqueueSales(t, q, 2)

	var rejectedIDs []int64
	notifier := &recordingNotifier{}
	notifier.onRejected = func(localID int64, reason string) {
		rejectedIDs = append(rejectedIDs, localID)
	}
	engine.SetNotifier(notifier)

	result, err := engine.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if !result.Clean || result.Rejected != 1 || result.Submitted != 1 {
		t.Errorf("result = %+v", result)
	}

	rejected, _ := q.Get(ids[0])
	if !rejected.FailedPermanently || rejected.FailureReason != "product gone" {
		t.Errorf("rejected sale = %+v", rejected)
	}
	if len(rejectedIDs) != 1 || rejectedIDs[0] != ids[0] {
		t.Errorf("rejected notifications = %v", rejectedIDs)
	}

	// A later pass must not resubmit the flagged sale.
	attempts := be.attempts
	if _, err := engine.Drain(context.Background()); err != nil {
		t.Fatalf("second Drain() failed: %v", err)
	}
	if be.attempts != attempts {
		t.Errorf("flagged sale was resubmitted: attempts %d -> %d", attempts, be.attempts)
	}
}

// TestDrainSingleFlight verifies a second drain trigger during a pass is
// refused rather than queued.
func TestDrainSingleFlight(t *testing.T) {
	be := &fakeBackend{block: make(chan struct{})}
	engine, q := newTestEngine(t, be)
	enqueueSales(t, q, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.Drain(context.Background())
	}()

	// Wait until the first drain is inside SubmitSale.
	deadline := time.Now().Add(2 * time.Second)
	for {
		be.mu.Lock()
		started := be.attempts > 0
		be.mu.Unlock()
		if started {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first drain never reached the backend")
		}
		time.Sleep(time.Millisecond)
	}

	if engine.State() != StateDraining {
		t.Errorf("State() = %s, want %s", engine.State(), StateDraining)
	}

	_, err := engine.Drain(context.Background())
	if !apperrors.Is(err, apperrors.ErrSyncInProgress) {
		t.Errorf("concurrent Drain() = %v, want SYNC_IN_PROGRESS", err)
	}

	close(be.block)
	<-done

	if engine.State() != StateIdle {
		t.Errorf("State() after drain = %s, want %s", engine.State(), StateIdle)
	}
}

// TestDrainRefreshesCatalog verifies a clean pass pulls server stock truth
// into the cache.
func TestDrainRefreshesCatalog(t *testing.T) {
	be := &fakeBackend{
		catalog: []models.CachedProduct{
			{ID: "p1", TenantID: "tenant-1", Name: "Coffee", SKU: "SKU-1",
				Price: decimal.RequireFromString("3.50"), Stock: 42, UpdatedAt: time.Now().Unix()},
		},
	}
	engine, q := newTestEngine(t, be)
	enqueueSales(t, q, 1)

	if _, err := engine.Drain(context.Background()); err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}

	p, err := engine.cache.Get("p1")
	if err != nil {
		t.Fatalf("cache.Get() failed: %v", err)
	}
	if p == nil || p.Stock != 42 {
		t.Errorf("cache after drain = %+v, want stock 42", p)
	}
}

// TestDrainAlertThreshold verifies deep queues flag the result for operators.
func TestDrainAlertThreshold(t *testing.T) {
	be := &fakeBackend{fail: map[int]error{1: errors.New("down")}}
	engine, q := newTestEngine(t, be)
	engine.alertPending = 2
	enqueueSales(t, q, 3)

	result, err := engine.Drain(context.Background())
	if err == nil {
		t.Fatal("Drain() should fail")
	}
	if !result.Alert {
		t.Error("result.Alert = false, want true above threshold")
	}
}

// recordingNotifier captures notifier callbacks.
type recordingNotifier struct {
	mu         sync.Mutex
	started    []int
	completed  []*DrainResult
	onRejected func(localID int64, reason string)
}

func (n *recordingNotifier) DrainStarted(pending int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, pending)
}

func (n *recordingNotifier) DrainCompleted(result *DrainResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, result)
}

func (n *recordingNotifier) SaleRejected(localID int64, reason string) {
	if n.onRejected != nil {
		n.onRejected(localID, reason)
	}
}
