package orders

import (
	"errors"
	"fmt"
)

var (
	// ErrStockContention: the CAS loop exhausted its attempts because another
	// writer kept winning. Safe for the client to resubmit.
	ErrStockContention = errors.New("stock changed while creating your order, please try again")

	// ErrProductMissing: a referenced product row no longer exists.
	ErrProductMissing = errors.New("one or more products in the order no longer exist")

	ErrRateLimited   = errors.New("too many requests, please try again shortly")
	ErrOrderNotFound = errors.New("order not found")
)

// ValidationError carries a machine-readable rejection reason for a 400.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// StockConflictError reports which product could not cover the requested
// quantity. Maps to 409 with diagnostic fields.
type StockConflictError struct {
	ProductID string
	Available int
	Requested int
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

// TransitionError rejects an illegal status change.
type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}
