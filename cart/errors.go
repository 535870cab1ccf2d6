package cart

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidQuantity  = errors.New("cart: quantity must be positive")
	ErrInvalidProduct   = errors.New("cart: product id is required")
	ErrItemNotFound     = errors.New("cart: item not found")
	ErrNotAuthenticated = errors.New("cart: not authenticated")
	// ErrLoginChanged is returned when the user logged in or out while a
	// server call was in flight; its response was discarded.
	ErrLoginChanged = errors.New("cart: login changed during request")
)

// PartialFailureError reports a login merge that stopped at Item. The guest
// cart is intact and records what was merged, so calling ReconcileOnLogin
// again resumes after the last merged line.
type PartialFailureError struct {
	Merged    int // lines fully merged, this run and earlier ones
	Remaining int // lines still to merge, Item included
	Item      Item
	Err       error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("cart: merge stopped at product %s (%d merged, %d remaining): %v",
		e.Item.ProductID, e.Merged, e.Remaining, e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }
