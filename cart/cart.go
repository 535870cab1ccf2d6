// Package cart keeps the shopping cart in one of two modes: a guest cart
// persisted locally, or the server's cart once the user is logged in and the
// guest cart has been merged into it.
package cart

// Product is what a caller adds to the cart.
type Product struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Price Money  `json:"price"`
}

type Item struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Variant   string `json:"variant,omitempty"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice Money  `json:"unit_price"`
	LineTotal Money  `json:"line_total"`
	// MergedQty is how much of Quantity already reached the server cart
	// during an unfinished login merge. Local carts only.
	MergedQty int `json:"merged_qty,omitempty"`
}

// Merged reports whether the whole line already reached the server.
func (it Item) Merged() bool { return it.MergedQty > 0 && it.MergedQty >= it.Quantity }

type Cart struct {
	Items []Item `json:"items"`
	Total Money  `json:"total_amount"`
	Count int    `json:"items_count"`

	// set by the server only
	Subtotal Money  `json:"subtotal,omitempty"`
	Tax      Money  `json:"tax,omitempty"`
	Shipping Money  `json:"shipping,omitempty"`
	Discount Money  `json:"discount,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// Recalculate derives line totals, Total, Count and Subtotal from Items.
func (c *Cart) Recalculate() {
	var total Money
	count := 0
	for i := range c.Items {
		it := &c.Items[i]
		it.LineTotal = it.UnitPrice.Mul(it.Quantity)
		total += it.LineTotal
		count += it.Quantity
	}
	c.Total = total
	c.Subtotal = total
	c.Count = count
}

func (c Cart) Clone() Cart {
	out := c
	if c.Items != nil {
		out.Items = append([]Item(nil), c.Items...)
	}
	return out
}

func (c Cart) Empty() bool { return len(c.Items) == 0 }

// Find returns the index of the item with id, or -1.
func (c Cart) Find(id string) int {
	for i, it := range c.Items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (c Cart) findLine(productID, variant string) int {
	for i, it := range c.Items {
		if it.ProductID == productID && it.Variant == variant {
			return i
		}
	}
	return -1
}

// add sums qty into the (product, variant) line or appends a new one.
func (c *Cart) add(p Product, qty int, variant string, newID func() string) {
	if i := c.findLine(p.ID, variant); i >= 0 {
		c.Items[i].Quantity += qty
		if p.Price != 0 {
			c.Items[i].UnitPrice = p.Price
		}
		if p.Name != "" {
			c.Items[i].Name = p.Name
		}
	} else {
		c.Items = append(c.Items, Item{
			ID:        newID(),
			ProductID: p.ID,
			Variant:   variant,
			Name:      p.Name,
			Quantity:  qty,
			UnitPrice: p.Price,
		})
	}
	c.Recalculate()
}

func (c *Cart) remove(i int) {
	c.Items = append(c.Items[:i:i], c.Items[i+1:]...)
	c.Recalculate()
}
