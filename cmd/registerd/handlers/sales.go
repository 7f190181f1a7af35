package handlers

import (
	"net/http"
	"strconv"

	"github.com/mwren/tillpoint/internal/queue"
)

// SalesHandler serves the locally recorded sales log.
type SalesHandler struct {
	queue *queue.SaleQueue
}

// NewSalesHandler creates a new SalesHandler.
func NewSalesHandler(q *queue.SaleQueue) *SalesHandler {
	return &SalesHandler{queue: q}
}

// List handles GET /api/v1/sales
// ?pending=true restricts to undelivered sales; otherwise the full log is
// returned newest first with ?page= and ?per_page= pagination.
func (h *SalesHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Query().Get("pending") == "true" {
		sales, err := h.queue.ListPending()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sales": sales,
			"total": len(sales),
		})
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	sales, err := h.queue.List(perPage, (page-1)*perPage)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sales":    sales,
		"page":     page,
		"per_page": perPage,
	})
}

// Get handles GET /api/v1/sales/{local_id} via ?local_id= query.
func (h *SalesHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	localID, err := strconv.ParseInt(r.URL.Query().Get("local_id"), 10, 64)
	if err != nil {
		http.Error(w, "local_id is required", http.StatusBadRequest)
		return
	}

	sale, err := h.queue.Get(localID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sale)
}
