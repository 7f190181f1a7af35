// Package scheduler tests for drain triggering and retry backoff.
package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mwren/tillpoint/internal/connectivity"
	"github.com/mwren/tillpoint/internal/db"
	"github.com/mwren/tillpoint/internal/models"
	"github.com/mwren/tillpoint/internal/queue"
	syncpkg "github.com/mwren/tillpoint/internal/sync"
)

// fakeDrainer counts drain calls and scripts their results.
type fakeDrainer struct {
	mu     sync.Mutex
	calls  int
	result *syncpkg.DrainResult
	err    error
}

func (f *fakeDrainer) Drain(ctx context.Context) (*syncpkg.DrainResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

func (f *fakeDrainer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeDrainer) set(result *syncpkg.DrainResult, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = result
	f.err = err
}

func newTestQueue(t *testing.T) *queue.SaleQueue {
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
	return queue.New(repo)
}

func testConfig() *Config {
	return &Config{
		SyncInterval: time.Hour, // keep the periodic tick out of these tests
		BackoffBase:  5 * time.Millisecond,
		BackoffMax:   20 * time.Millisecond,
	}
}

func waitForCalls(t *testing.T, d *fakeDrainer, want int, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d.callCount() >= want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("%s: drain calls = %d, want >= %d", msg, d.callCount(), want)
}

// TestReconnectTriggersDrain verifies the offline-to-online transition fires
// a drain and the reverse transition does not.
func TestReconnectTriggersDrain(t *testing.T) {
	drainer := &fakeDrainer{result: &syncpkg.DrainResult{Clean: true}}
	monitor := connectivity.NewMonitor(false)
	s := New(drainer, newTestQueue(t), monitor, testConfig())
	s.Start(context.Background())
	defer s.Stop()

	monitor.SetOnline(true)
	waitForCalls(t, drainer, 1, "reconnect should trigger a drain")

	calls := drainer.callCount()
	monitor.SetOnline(false)
	time.Sleep(30 * time.Millisecond)
	if drainer.callCount() != calls {
		t.Error("going offline should not trigger a drain")
	}
}

// TestStartupDrainWithPendingQueue verifies a restart with an undrained queue
// drains immediately.
func TestStartupDrainWithPendingQueue(t *testing.T) {
	q := newTestQueue(t)
	items := []models.SaleItem{{ProductID: "p1", Quantity: 1, Price: decimal.RequireFromString("1.00")}}
	_, err := q.Enqueue(&models.OfflineSale{
		TenantID: "tenant-1", StoreID: "store-1", CashierID: "cashier-1",
		Items: items, Total: models.ComputeTotal(items),
		PaymentMethod: models.PaymentCash, CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	drainer := &fakeDrainer{result: &syncpkg.DrainResult{Clean: true}}
	s := New(drainer, q, connectivity.NewMonitor(true), testConfig())
	s.Start(context.Background())
	defer s.Stop()

	waitForCalls(t, drainer, 1, "startup with pending sales should drain")
}

// TestRetryAfterDirtyDrain verifies a stopped-early pass schedules a retry and
// a clean pass stops the retry chain.
func TestRetryAfterDirtyDrain(t *testing.T) {
	drainer := &fakeDrainer{}
	drainer.set(&syncpkg.DrainResult{Clean: false, Remaining: 1}, errTransient)

	monitor := connectivity.NewMonitor(true)
	s := New(drainer, newTestQueue(t), monitor, testConfig())
	s.Start(context.Background())
	defer s.Stop()

	s.TriggerDrain(context.Background())
	waitForCalls(t, drainer, 2, "dirty drain should schedule a retry")

	// Flip to clean; the chain must stop soon after.
	drainer.set(&syncpkg.DrainResult{Clean: true}, nil)
	waitForCalls(t, drainer, 3, "retry chain should keep running until clean")

	time.Sleep(60 * time.Millisecond)
	settled := drainer.callCount()
	time.Sleep(60 * time.Millisecond)
	if drainer.callCount() > settled+1 {
		t.Errorf("retry chain kept firing after a clean pass: %d -> %d", settled, drainer.callCount())
	}
}

// TestInProgressDrainIsNoOp verifies the busy signal neither retries nor
// counts as failure.
func TestInProgressDrainIsNoOp(t *testing.T) {
	drainer := &fakeDrainer{result: nil, err: syncpkg.ErrDrainInProgress}
	s := New(drainer, newTestQueue(t), connectivity.NewMonitor(true), testConfig())
	s.Start(context.Background())
	defer s.Stop()

	s.TriggerDrain(context.Background())
	waitForCalls(t, drainer, 1, "trigger should reach the drainer")

	time.Sleep(50 * time.Millisecond)
	if drainer.callCount() > 1 {
		t.Errorf("busy drain scheduled a retry: calls = %d", drainer.callCount())
	}
}

// TestStopIdempotent verifies Stop is safe to call twice.
func TestStopIdempotent(t *testing.T) {
	s := New(&fakeDrainer{result: &syncpkg.DrainResult{Clean: true}},
		newTestQueue(t), connectivity.NewMonitor(false), testConfig())
	s.Start(context.Background())

	s.Stop()
	s.Stop()
}

var errTransient = &transientErr{}

type transientErr struct{}

func (*transientErr) Error() string { return "backend unreachable" }
