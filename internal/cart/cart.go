// Package cart provides the in-memory working set for the sale being built.
package cart

import (
	"github.com/shopspring/decimal"

	"github.com/mwren/tillpoint/internal/models"
)

// Line is one cart line: a read-only snapshot of the product's price and
// stock taken when the product was first added. Concurrent cache refreshes
// mid-checkout cannot change a line under the cashier.
type Line struct {
	ProductID  string          `json:"product_id"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
	StockAtAdd int             `json:"stock_at_add"`
}

// Subtotal returns unit price times quantity for this line.
func (l *Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart accumulates line items for the transaction in progress. A line never
// holds quantity <= 0 or quantity > its stock snapshot.
//
// The cart belongs to exactly one register session and is accessed from a
// single goroutine at a time (the session serializes callers), so it carries
// no lock of its own. It does no I/O.
type Cart struct {
	lines []*Line
}

// New creates an empty Cart.
func New() *Cart {
	return &Cart{}
}

// Add adds one unit of the product. If a line already exists its quantity is
// incremented, clamped to the stock snapshot: cached stock is a best-effort
// figure, not a reservation, so exceeding it clamps silently instead of
// erroring.
func (c *Cart) Add(product *models.CachedProduct) {
	for _, line := range c.lines {
		if line.ProductID == product.ID {
			if line.Quantity < line.StockAtAdd {
				line.Quantity++
			}
			return
		}
	}

	if product.Stock < 1 {
		// Nothing to sell; never create a zero-quantity line.
		return
	}

	c.lines = append(c.lines, &Line{
		ProductID:  product.ID,
		Name:       product.Name,
		UnitPrice:  product.Price,
		Quantity:   1,
		StockAtAdd: product.Stock,
	})
}

// Remove deletes the line for productID. Removing an absent line is a no-op.
func (c *Cart) Remove(productID string) {
	for i, line := range c.lines {
		if line.ProductID == productID {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return
		}
	}
}

// SetQuantity sets the quantity for productID, clamped to [0, stock snapshot].
// A resulting quantity of 0 removes the line.
func (c *Cart) SetQuantity(productID string, qty int) {
	for _, line := range c.lines {
		if line.ProductID != productID {
			continue
		}
		if qty > line.StockAtAdd {
			qty = line.StockAtAdd
		}
		if qty <= 0 {
			c.Remove(productID)
			return
		}
		line.Quantity = qty
		return
	}
}

// Clear empties the cart. Used after checkout or cancellation.
func (c *Cart) Clear() {
	c.lines = nil
}

// Total returns the sum of price * quantity over current lines. It is
// recomputed on every call so it always reflects current line state exactly.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.lines {
		total = total.Add(line.Subtotal())
	}
	return total
}

// Lines returns a copy of the current lines in insertion order.
func (c *Cart) Lines() []Line {
	lines := make([]Line, 0, len(c.lines))
	for _, line := range c.lines {
		lines = append(lines, *line)
	}
	return lines
}

// Len returns the number of lines in the cart.
func (c *Cart) Len() int {
	return len(c.lines)
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

// Snapshot freezes the cart into sale items for checkout. The snapshot drops
// the stock figure: a recorded sale captures what was sold at what price,
// nothing else.
func (c *Cart) Snapshot() []models.SaleItem {
	items := make([]models.SaleItem, 0, len(c.lines))
	for _, line := range c.lines {
		items = append(items, models.SaleItem{
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			Price:     line.UnitPrice,
		})
	}
	return items
}
