package handlers

import (
	"net/http"

	"github.com/mwren/tillpoint/internal/catalog"
	"github.com/mwren/tillpoint/internal/models"
)

// ProductHandler serves lookups against the local product cache.
type ProductHandler struct {
	cache *catalog.Cache
}

// NewProductHandler creates a new ProductHandler.
func NewProductHandler(cache *catalog.Cache) *ProductHandler {
	return &ProductHandler{cache: cache}
}

// Lookup handles GET /api/v1/products
// One of ?id=, ?barcode= or ?sku= selects the product. Lookups never touch
// the network; a miss is a miss even when the backend is reachable.
func (h *ProductHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()

	var (
		product *models.CachedProduct
		err     error
	)
	switch {
	case q.Get("id") != "":
		product, err = h.cache.Get(q.Get("id"))
	case q.Get("barcode") != "":
		product, err = h.cache.GetByBarcode(q.Get("barcode"))
	case q.Get("sku") != "":
		product, err = h.cache.GetBySKU(q.Get("sku"))
	default:
		http.Error(w, "id, barcode or sku is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if product == nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error": map[string]interface{}{
				"code":    "NOT_FOUND",
				"message": "product not in local cache",
			},
		})
		return
	}

	writeJSON(w, http.StatusOK, product)
}
