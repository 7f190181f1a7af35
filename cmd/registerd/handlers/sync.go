package handlers

import (
	"net/http"

	"github.com/mwren/tillpoint/internal/connectivity"
	"github.com/mwren/tillpoint/internal/queue"
	syncpkg "github.com/mwren/tillpoint/internal/sync"
)

// SyncHandler exposes queue depth, connectivity and drain controls.
type SyncHandler struct {
	syncer  *syncpkg.Synchronizer
	queue   *queue.SaleQueue
	monitor *connectivity.Monitor
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(syncer *syncpkg.Synchronizer, q *queue.SaleQueue, monitor *connectivity.Monitor) *SyncHandler {
	return &SyncHandler{
		syncer:  syncer,
		queue:   q,
		monitor: monitor,
	}
}

// Health handles GET /api/v1/health
// Always 200: the register works offline; "online" reports backend
// reachability, not service health.
func (h *SyncHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"online": h.monitor.Online(),
	})
}

// GetStatus handles GET /api/v1/sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	depth, err := h.queue.PendingDepth()
	if err != nil {
		writeError(w, err)
		return
	}

	response := map[string]interface{}{
		"state":   string(h.syncer.State()),
		"online":  h.monitor.Online(),
		"pending": depth,
	}
	if last := h.syncer.LastDrain(); !last.IsZero() {
		response["last_drain"] = last.Unix()
	}
	if lastErr := h.syncer.LastError(); lastErr != nil {
		response["last_error"] = lastErr.Error()
	}

	writeJSON(w, http.StatusOK, response)
}

// TriggerDrain handles POST /api/v1/sync/now
// Runs one drain pass synchronously. A drain already in flight answers 409;
// the caller watches its completion over the WebSocket instead.
func (h *SyncHandler) TriggerDrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result, err := h.syncer.Drain(r.Context())
	if err != nil && result == nil {
		writeError(w, err)
		return
	}

	response := map[string]interface{}{
		"submitted": result.Submitted,
		"rejected":  result.Rejected,
		"remaining": result.Remaining,
		"clean":     result.Clean,
		"alert":     result.Alert,
		"duration":  result.Duration.Milliseconds(),
	}
	if result.Err != nil {
		response["error"] = result.Err.Error()
	}

	writeJSON(w, http.StatusOK, response)
}
