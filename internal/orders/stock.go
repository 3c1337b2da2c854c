package orders

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// StockUpdateAttempts bounds the CAS retry loop per product.
const StockUpdateAttempts = 3

// StockStore is the conditional-write surface over the products table. The
// stock column is never locked, only swapped when unchanged since the read.
type StockStore interface {
	// GetStock returns the current stock; found=false when the row is gone.
	GetStock(ctx context.Context, productID string) (stock int, found bool, err error)
	// GetStocks fetches stock for the given ids; missing ids are absent from the map.
	GetStocks(ctx context.Context, productIDs []string) (map[string]int, error)
	// CompareAndSwapStock writes newStock only if the column still equals
	// oldStock. swapped=false means a concurrent writer got there first.
	CompareAndSwapStock(ctx context.Context, productID string, oldStock, newStock int) (swapped bool, err error)
}

// MergedLine is one product's total requested quantity across all line items.
type MergedLine struct {
	ProductID string
	Quantity  int
}

// MergeQuantities folds duplicate product lines into one quantity per product,
// preserving first-appearance order.
func MergeQuantities(items []ItemInput) []MergedLine {
	idx := make(map[string]int, len(items))
	merged := make([]MergedLine, 0, len(items))
	for _, it := range items {
		if i, ok := idx[it.ProductID]; ok {
			merged[i].Quantity += it.Quantity
			continue
		}
		idx[it.ProductID] = len(merged)
		merged = append(merged, MergedLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return merged
}

type StockEngine struct {
	Store StockStore
	Log   *zap.Logger
}

// PreCheck is the advisory read-only pass: fail fast before any writes when
// stock obviously cannot cover the order. Stock can still move between here
// and Commit; Commit re-verifies under CAS.
func (e *StockEngine) PreCheck(ctx context.Context, lines []MergedLine) error {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	stocks, err := e.Store.GetStocks(ctx, ids)
	if err != nil {
		return fmt.Errorf("stock pre-check: %w", err)
	}
	for _, l := range lines {
		available, ok := stocks[l.ProductID]
		if !ok {
			return ErrProductMissing
		}
		if available < l.Quantity {
			return &StockConflictError{ProductID: l.ProductID, Available: available, Requested: l.Quantity}
		}
	}
	return nil
}

// ApplyDelta adjusts one product's stock by delta (negative = sale, positive =
// rollback) with up to StockUpdateAttempts rounds of read, verify, conditional
// write. A conditional write that hits no row means another writer won; retry
// from the read. Exhausting attempts surfaces ErrStockContention, which the
// client may safely retry.
func (e *StockEngine) ApplyDelta(ctx context.Context, productID string, delta int) error {
	if delta == 0 {
		return nil
	}
	for attempt := 1; attempt <= StockUpdateAttempts; attempt++ {
		current, found, err := e.Store.GetStock(ctx, productID)
		if err != nil {
			return fmt.Errorf("read stock for %s: %w", productID, err)
		}
		if !found {
			return ErrProductMissing
		}
		if delta < 0 && current < -delta {
			return &StockConflictError{ProductID: productID, Available: current, Requested: -delta}
		}
		swapped, err := e.Store.CompareAndSwapStock(ctx, productID, current, current+delta)
		if err != nil {
			return fmt.Errorf("swap stock for %s: %w", productID, err)
		}
		if swapped {
			return nil
		}
	}
	return ErrStockContention
}

// CommitDecrements applies the sale decrement for every merged line. On any
// failure it restores the decrements already applied in this request, in
// reverse, before returning the triggering error. Restore failures are logged
// and swallowed so the primary error reaches the client.
func (e *StockEngine) CommitDecrements(ctx context.Context, lines []MergedLine) error {
	applied := make([]MergedLine, 0, len(lines))
	for _, l := range lines {
		if err := e.ApplyDelta(ctx, l.ProductID, -l.Quantity); err != nil {
			e.rollback(ctx, applied)
			return err
		}
		applied = append(applied, l)
	}
	return nil
}

func (e *StockEngine) rollback(ctx context.Context, applied []MergedLine) {
	for i := len(applied) - 1; i >= 0; i-- {
		l := applied[i]
		if err := e.ApplyDelta(ctx, l.ProductID, l.Quantity); err != nil {
			e.Log.Error("stock rollback failed",
				zap.String("product_id", l.ProductID),
				zap.Int("quantity", l.Quantity),
				zap.Error(err))
		}
	}
}
