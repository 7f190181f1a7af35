package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/mwren/tillpoint/internal/models"
	"github.com/mwren/tillpoint/internal/register"
)

// RegisterHandler handles cart and checkout operations for one register.
type RegisterHandler struct {
	session *register.Session
}

// NewRegisterHandler creates a new RegisterHandler.
func NewRegisterHandler(session *register.Session) *RegisterHandler {
	return &RegisterHandler{session: session}
}

// GetCart handles GET /api/v1/cart
func (h *RegisterHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.session.Cart())
}

// AddItem handles POST /api/v1/cart/items
// Exactly one of product_id, barcode or sku identifies the product to add.
func (h *RegisterHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request struct {
		ProductID string `json:"product_id"`
		Barcode   string `json:"barcode"`
		SKU       string `json:"sku"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var (
		product *models.CachedProduct
		err     error
	)
	switch {
	case request.ProductID != "":
		product, err = h.session.AddProduct(request.ProductID)
	case request.Barcode != "":
		product, err = h.session.AddByBarcode(request.Barcode)
	case request.SKU != "":
		product, err = h.session.AddBySKU(request.SKU)
	default:
		http.Error(w, "product_id, barcode or sku is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"added": product,
		"cart":  h.session.Cart(),
	})
}

// SetQuantity handles POST /api/v1/cart/items/quantity
// Quantity is clamped to the stock snapshot taken when the line was added;
// zero removes the line.
func (h *RegisterHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if request.ProductID == "" {
		http.Error(w, "product_id is required", http.StatusBadRequest)
		return
	}
	if request.Quantity < 0 {
		http.Error(w, "quantity must not be negative", http.StatusBadRequest)
		return
	}

	h.session.SetQuantity(request.ProductID, request.Quantity)
	writeJSON(w, http.StatusOK, h.session.Cart())
}

// RemoveItem handles POST /api/v1/cart/items/remove
func (h *RegisterHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request struct {
		ProductID string `json:"product_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if request.ProductID == "" {
		http.Error(w, "product_id is required", http.StatusBadRequest)
		return
	}

	h.session.RemoveLine(request.ProductID)
	writeJSON(w, http.StatusOK, h.session.Cart())
}

// ClearCart handles POST /api/v1/cart/clear
func (h *RegisterHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.session.ClearCart()
	writeJSON(w, http.StatusOK, h.session.Cart())
}

// Checkout handles POST /api/v1/checkout
// The sale is recorded in the local queue before this returns; delivery to
// the backend happens asynchronously.
func (h *RegisterHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request struct {
		CashierID     string `json:"cashier_id"`
		PaymentMethod string `json:"payment_method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sale, err := h.session.Checkout(r.Context(), request.CashierID, models.PaymentMethod(request.PaymentMethod))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"sale": sale,
	})
}
