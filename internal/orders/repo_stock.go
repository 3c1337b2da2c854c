package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StockRepo implements StockStore over the products table.
type StockRepo struct{ DB *pgxpool.Pool }

func (r *StockRepo) GetStock(ctx context.Context, productID string) (int, bool, error) {
	var stock int
	err := r.DB.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1`, productID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return stock, true, nil
}

func (r *StockRepo) GetStocks(ctx context.Context, productIDs []string) (map[string]int, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, stock FROM products WHERE id = ANY($1)`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int, len(productIDs))
	for rows.Next() {
		var id string
		var stock int
		if err := rows.Scan(&id, &stock); err != nil {
			return nil, err
		}
		out[id] = stock
	}
	return out, rows.Err()
}

// CompareAndSwapStock succeeds only if nobody changed the row since the read.
func (r *StockRepo) CompareAndSwapStock(ctx context.Context, productID string, oldStock, newStock int) (bool, error) {
	ct, err := r.DB.Exec(ctx,
		`UPDATE products SET stock=$3, updated_at=now() WHERE id=$1 AND stock=$2`,
		productID, oldStock, newStock)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *StockRepo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, sku, name, stock, price, created_at, updated_at
	                              FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.Price, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
