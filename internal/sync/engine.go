// Package sync drives pending offline sales into the backend.
package sync

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/mwren/tillpoint/internal/backend"
	"github.com/mwren/tillpoint/internal/catalog"
	"github.com/mwren/tillpoint/internal/errors"
	"github.com/mwren/tillpoint/internal/idempotency"
	"github.com/mwren/tillpoint/internal/logging"
	"github.com/mwren/tillpoint/internal/models"
	"github.com/mwren/tillpoint/internal/queue"
)

// State represents the synchronizer's current activity.
type State string

const (
	StateIdle     State = "idle"
	StateDraining State = "draining"
)

// Backend is the slice of the backend client the synchronizer needs.
type Backend interface {
	SubmitSale(ctx context.Context, req *backend.SubmitSaleRequest) (*backend.SubmitSaleResponse, error)
	FetchCatalog(ctx context.Context, tenantID string) ([]models.CachedProduct, error)
}

// Notifier receives drain lifecycle events, typically for the register UI.
type Notifier interface {
	DrainStarted(pending int)
	DrainCompleted(result *DrainResult)
	SaleRejected(localID int64, reason string)
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Submitted int   // sales acknowledged by the backend
	Rejected  int   // sales definitively rejected and flagged
	Remaining int   // sales still pending after this pass
	Clean     bool  // true when no transient failure stopped the pass
	Alert     bool  // true when pending depth crossed the operator threshold
	Err       error // the transient failure that stopped the pass, if any
	Duration  time.Duration

	start time.Time
}

// Synchronizer drains the offline sale queue into the backend,
// exactly-once-effective: delivery is at-least-once, and the idempotency key
// plus idempotent local state transitions make repeats harmless.
type Synchronizer struct {
	queue    *queue.SaleQueue
	cache    *catalog.Cache
	backend  Backend
	tenantID string
	storeID  string

	alertPending int

	mu        sync.Mutex
	draining  bool
	lastDrain time.Time
	lastErr   error
	notifier  Notifier
}

// New creates a Synchronizer. alertPending is the pending-queue depth above
// which drains log at warning level and flag their results for the operator.
func New(q *queue.SaleQueue, cache *catalog.Cache, be Backend, tenantID, storeID string, alertPending int) *Synchronizer {
	return &Synchronizer{
		queue:        q,
		cache:        cache,
		backend:      be,
		tenantID:     tenantID,
		storeID:      storeID,
		alertPending: alertPending,
	}
}

// SetNotifier wires drain lifecycle events to a listener. Optional.
func (s *Synchronizer) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// State returns the synchronizer's current activity.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return StateDraining
	}
	return StateIdle
}

// LastDrain returns when the last drain pass finished, zero if never.
func (s *Synchronizer) LastDrain() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDrain
}

// LastError returns the transient failure that stopped the most recent pass,
// or nil after a clean pass.
func (s *Synchronizer) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ErrDrainInProgress is returned when a drain trigger finds one already
// running. Triggers treat it as a no-op: single-flight, never two concurrent
// drains on one device.
var ErrDrainInProgress = errors.New(errors.ErrSyncInProgress, "drain already in progress")

// Drain performs one complete pass over the sales pending at its start.
// Sales enqueued during the pass wait for the next drain, which bounds each
// pass and avoids an unbounded loop under continuous new sales.
//
// Per sale: success marks it synced; a definitive rejection marks it failed
// permanently and moves on; a transient failure leaves it pending and stops
// the pass early rather than hammering a struggling backend with the rest of
// the snapshot, preserving submission order for the retry.
func (s *Synchronizer) Drain(ctx context.Context) (*DrainResult, error) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return nil, ErrDrainInProgress
	}
	s.draining = true
	notifier := s.notifier
	s.mu.Unlock()

	start := time.Now()
	result := &DrainResult{start: start}

	defer func() {
		s.mu.Lock()
		s.draining = false
		s.lastDrain = time.Now()
		s.lastErr = result.Err
		s.mu.Unlock()
	}()

	pending, err := s.queue.ListPending()
	if err != nil {
		result.Err = err
		return result, err
	}
	result.Remaining = len(pending)

	if len(pending) == 0 {
		result.Clean = true
		return result, nil
	}

	if notifier != nil {
		notifier.DrainStarted(len(pending))
	}
	logging.Info("drain started", map[string]interface{}{
		"pending": len(pending),
	})

	for _, sale := range pending {
		select {
		case <-ctx.Done():
			result.Err = errors.Wrap(errors.ErrSyncFailed, "drain cancelled", ctx.Err())
			return s.finish(result, notifier)
		default:
		}

		if err := s.submit(ctx, sale, result, notifier); err != nil {
			// Transient: stop early, the entry stays pending for the next pass.
			result.Err = err
			logging.Warn("drain stopped on transient failure", map[string]interface{}{
				"local_id":  sale.LocalID,
				"remaining": result.Remaining,
				"error":     err.Error(),
			})
			return s.finish(result, notifier)
		}
	}

	result.Clean = true

	// Pull authoritative post-sale stock, replacing optimistic decrements
	// with server truth. A refresh failure does not dirty the drain: every
	// sale was delivered.
	if products, err := s.backend.FetchCatalog(ctx, s.tenantID); err != nil {
		logging.Warn("post-drain catalog refresh failed", map[string]interface{}{
			"error": err.Error(),
		})
	} else if err := s.cache.Refresh(products); err != nil {
		logging.Error("failed to apply catalog refresh", err, nil)
	}

	return s.finish(result, notifier)
}

// submit sends one sale. A nil return means the entry left the pending queue
// (synced or rejected); an error return is a transient failure.
func (s *Synchronizer) submit(ctx context.Context, sale *models.OfflineSale, result *DrainResult, notifier Notifier) error {
	req := &backend.SubmitSaleRequest{
		IdempotencyKey: idempotency.Key(sale.TenantID, sale.StoreID, sale.CashierID, sale.LocalID),
		TenantID:       sale.TenantID,
		StoreID:        sale.StoreID,
		CashierID:      sale.CashierID,
		Items:          sale.Items,
		Total:          sale.Total,
		PaymentMethod:  string(sale.PaymentMethod),
		CreatedAt:      sale.CreatedAt,
	}

	ack, err := s.backend.SubmitSale(ctx, req)
	if err == nil {
		if err := s.queue.MarkSynced(sale.LocalID, ack.ServerSaleID); err != nil {
			// The sale landed but we could not record it. The next pass
			// resubmits with the same key and the backend deduplicates.
			return err
		}
		result.Submitted++
		result.Remaining--
		logging.Debug("sale synced", map[string]interface{}{
			"local_id":   sale.LocalID,
			"server_ref": ack.ServerSaleID,
		})
		return nil
	}

	var rejection *backend.RejectionError
	if stderrors.As(err, &rejection) {
		// Definitive: this sale can never succeed and must not block the
		// queue forever. Flag it for the operator and move on.
		if err := s.queue.MarkFailed(sale.LocalID, rejection.Reason); err != nil {
			return err
		}
		result.Rejected++
		result.Remaining--
		if notifier != nil {
			notifier.SaleRejected(sale.LocalID, rejection.Reason)
		}
		return nil
	}

	return errors.Wrap(errors.ErrSyncFailed, "sale submission failed", err)
}

func (s *Synchronizer) finish(result *DrainResult, notifier Notifier) (*DrainResult, error) {
	result.Duration = time.Since(result.start)

	if depth, err := s.queue.PendingDepth(); err == nil && depth >= s.alertPending {
		result.Alert = true
		logging.Warn("pending sale queue above alert threshold", map[string]interface{}{
			"pending":   depth,
			"threshold": s.alertPending,
		})
	}

	if notifier != nil {
		notifier.DrainCompleted(result)
	}
	logging.Info("drain finished", map[string]interface{}{
		"submitted": result.Submitted,
		"rejected":  result.Rejected,
		"remaining": result.Remaining,
		"clean":     result.Clean,
		"duration":  result.Duration.String(),
	})

	if result.Err != nil {
		return result, result.Err
	}
	return result, nil
}
