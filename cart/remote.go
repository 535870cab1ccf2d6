package cart

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/unkn0wn-root/shopsync/client"
)

// Remote is the server cart API.
type Remote interface {
	Get(ctx context.Context) (Cart, error)
	AddItem(ctx context.Context, add AddItem, idempotencyKey string) (Cart, error)
	UpdateItem(ctx context.Context, itemID string, qty int) (Cart, error)
	RemoveItem(ctx context.Context, itemID string) (Cart, error)
	Clear(ctx context.Context) (Cart, error)
}

type AddItem struct {
	ProductID string `json:"product_id"`
	Variant   string `json:"variant,omitempty"`
	Quantity  int    `json:"quantity"`
}

// Service is Remote over the request pipeline.
type Service struct {
	c client.Executor
}

var _ Remote = (*Service)(nil)

func NewService(c client.Executor) *Service { return &Service{c: c} }

func (s *Service) Get(ctx context.Context) (Cart, error) {
	return s.do(ctx, client.Request{Method: http.MethodGet, Path: "/cart"})
}

// AddItem posts one line. With an idempotency key the call is also retried
// on transient failures, since the server can drop duplicates.
func (s *Service) AddItem(ctx context.Context, add AddItem, idempotencyKey string) (Cart, error) {
	req := client.Request{Method: http.MethodPost, Path: "/cart/items", Body: add}
	if idempotencyKey != "" {
		req.Headers = http.Header{"Idempotency-Key": {idempotencyKey}}
		req.Retryable = true
	}
	return s.do(ctx, req)
}

func (s *Service) UpdateItem(ctx context.Context, itemID string, qty int) (Cart, error) {
	return s.do(ctx, client.Request{
		Method:     http.MethodPut,
		Path:       "/cart/items/{id}",
		PathParams: map[string]string{"id": itemID},
		Body:       map[string]int{"quantity": qty},
	})
}

func (s *Service) RemoveItem(ctx context.Context, itemID string) (Cart, error) {
	return s.do(ctx, client.Request{
		Method:     http.MethodDelete,
		Path:       "/cart/items/{id}",
		PathParams: map[string]string{"id": itemID},
	})
}

func (s *Service) Clear(ctx context.Context) (Cart, error) {
	return s.do(ctx, client.Request{Method: http.MethodDelete, Path: "/cart"})
}

func (s *Service) do(ctx context.Context, req client.Request) (Cart, error) {
	resp, err := s.c.Execute(ctx, req)
	if err != nil {
		return Cart{}, err
	}
	var w wireCart
	if err := resp.Decode(&w); err != nil {
		return Cart{}, err
	}
	return w.cart(), nil
}

// flexID accepts JSON strings and numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*f = flexID(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexID(n.String())
	return nil
}

type wireItem struct {
	ID        flexID `json:"id"`
	ProductID flexID `json:"product_id"`
	Variant   string `json:"variant"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice Money  `json:"unit_price"`
	LineTotal Money  `json:"line_total"`
}

type wireCart struct {
	Items       []wireItem `json:"items"`
	TotalAmount Money      `json:"total_amount"`
	ItemsCount  int        `json:"items_count"`
	Subtotal    Money      `json:"subtotal"`
	Tax         Money      `json:"tax"`
	Shipping    Money      `json:"shipping"`
	Discount    Money      `json:"discount"`
	Currency    string     `json:"currency"`
}

// cart keeps the server's figures as given; only missing line totals are
// derived.
func (w wireCart) cart() Cart {
	c := Cart{
		Items:    make([]Item, 0, len(w.Items)),
		Total:    w.TotalAmount,
		Count:    w.ItemsCount,
		Subtotal: w.Subtotal,
		Tax:      w.Tax,
		Shipping: w.Shipping,
		Discount: w.Discount,
		Currency: w.Currency,
	}
	for _, it := range w.Items {
		line := it.LineTotal
		if line == 0 {
			line = it.UnitPrice.Mul(it.Quantity)
		}
		c.Items = append(c.Items, Item{
			ID:        string(it.ID),
			ProductID: string(it.ProductID),
			Variant:   it.Variant,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: line,
		})
	}
	return c
}
