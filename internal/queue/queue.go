// Package queue provides the durable offline sale queue.
package queue

import (
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/mwren/tillpoint/internal/db"
	"github.com/mwren/tillpoint/internal/errors"
	"github.com/mwren/tillpoint/internal/logging"
	"github.com/mwren/tillpoint/internal/models"
)

// SaleQueue is the crash-safe store of completed sales awaiting backend
// confirmation. Every completed sale passes through here, online or not:
// queuing first is what guarantees at-least-once durability.
type SaleQueue struct {
	repo *db.Repository
}

// New creates a SaleQueue over the local repository.
func New(repo *db.Repository) *SaleQueue {
	return &SaleQueue{repo: repo}
}

// Enqueue durably records a completed sale with synced = false and applies
// the optimistic stock decrement for its items in the same transaction. When
// Enqueue returns, the sale is on disk: the cashier can be told the sale is
// recorded even with zero connectivity.
//
// A failure here is the one hard error of the whole engine: a sale that
// cannot be recorded must block the checkout, because silently losing a
// completed sale is the outcome this system exists to prevent.
func (q *SaleQueue) Enqueue(sale *models.OfflineSale) (int64, error) {
	localID, err := q.repo.EnqueueSale(sale)
	if err != nil {
		return 0, errors.Wrap(errors.ErrStorageFailure, "failed to record sale", err)
	}

	logging.Info("sale queued", map[string]interface{}{
		"local_id":       localID,
		"total":          sale.Total.String(),
		"items":          len(sale.Items),
		"payment_method": string(sale.PaymentMethod),
	})
	return localID, nil
}

// ListPending returns unsynced sales in created_at order, oldest first.
func (q *SaleQueue) ListPending() ([]*models.OfflineSale, error) {
	sales, err := q.repo.ListPendingSales()
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to list pending sales", err)
	}
	return sales, nil
}

// MarkSynced records the backend's acknowledgment. Idempotent: marking an
// already-synced entry again is a no-op so a duplicate acknowledgment is
// harmless.
func (q *SaleQueue) MarkSynced(localID int64, serverRef string) error {
	if err := q.repo.MarkSaleSynced(localID, serverRef); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return errors.New(errors.ErrNotFound, "no such sale")
		}
		return errors.Wrap(errors.ErrDatabase, "failed to mark sale synced", err)
	}
	return nil
}

// MarkFailed flags a sale the backend definitively rejected. The entry leaves
// the pending queue so it can never block later sales, but stays on disk,
// flagged with the server's reason for operator review.
func (q *SaleQueue) MarkFailed(localID int64, reason string) error {
	if err := q.repo.MarkSaleFailed(localID, reason); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return errors.New(errors.ErrNotFound, "no such sale")
		}
		return errors.Wrap(errors.ErrDatabase, "failed to mark sale rejected", err)
	}
	logging.Warn("sale rejected by backend", map[string]interface{}{
		"local_id": localID,
		"reason":   reason,
	})
	return nil
}

// PendingDepth returns how many sales await submission.
func (q *SaleQueue) PendingDepth() (int, error) {
	n, err := q.repo.CountPendingSales()
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "failed to count pending sales", err)
	}
	return n, nil
}

// Get retrieves one sale by local id.
func (q *SaleQueue) Get(localID int64) (*models.OfflineSale, error) {
	sale, err := q.repo.GetSale(localID)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.New(errors.ErrNotFound, "no such sale")
		}
		return nil, errors.Wrap(errors.ErrDatabase, "failed to load sale", err)
	}
	return sale, nil
}

// List returns recorded sales newest first, for the audit trail.
func (q *SaleQueue) List(limit, offset int) ([]*models.OfflineSale, error) {
	sales, err := q.repo.ListSales(limit, offset)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to list sales", err)
	}
	return sales, nil
}

// PurgeSynced deletes synced sales older than the retention window. Unsynced
// sales are never purged regardless of age.
func (q *SaleQueue) PurgeSynced(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	purged, err := q.repo.PurgeSyncedBefore(cutoff)
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "failed to purge synced sales", err)
	}
	if purged > 0 {
		logging.Info("purged synced sales", map[string]interface{}{
			"purged":      purged,
			"older_than": olderThan.String(),
		})
	}
	return purged, nil
}
