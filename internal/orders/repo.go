package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrDuplicateKey: the unique constraint on idempotency_key fired on insert,
// meaning a concurrent request with the same key won the race.
var ErrDuplicateKey = errors.New("idempotency key already used")

const pgUniqueViolation = "23505"

type Repo struct {
	DB  *pgxpool.Pool
	Log *zap.Logger
}

// NewOrder is everything the writer needs to insert an order header.
type NewOrder struct {
	UserID          *string
	OrderNumber     string
	TotalAmount     float64
	ShippingAddress ShippingAddress
	DeliveryMethod  string
	IdempotencyKey  string
	Discount        DiscountInput
	PreDiscount     float64
}

// FindByIdempotencyKey returns the order previously created under key, or nil.
func (r *Repo) FindByIdempotencyKey(ctx context.Context, key string) (*OrderRef, error) {
	var ref OrderRef
	err := r.DB.QueryRow(ctx,
		`SELECT id, order_number, status FROM orders WHERE idempotency_key=$1`,
		key).Scan(&ref.ID, &ref.OrderNumber, &ref.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// NextOrderNumber asks the database's generator for the next human-readable
// number. When the generator is unavailable it falls back to a local number;
// uniqueness of the fallback is best-effort only, the row id and idempotency
// key remain the real keys.
func (r *Repo) NextOrderNumber(ctx context.Context) string {
	var n string
	err := r.DB.QueryRow(ctx, `SELECT generate_order_number()`).Scan(&n)
	if err != nil || n == "" {
		r.Log.Warn("order number generator unavailable, using local fallback", zap.Error(err))
		return LocalOrderNumber(time.Now())
	}
	return n
}

// LocalOrderNumber builds ORD-<year>-<last 9 digits of unix-ms>-<3 random digits>.
func LocalOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%d-%09d-%03d", now.Year(), now.UnixMilli()%1_000_000_000, rand.Intn(1000))
}

// InsertOrder creates the order header in the awaiting-payment status.
// A unique violation on idempotency_key comes back as ErrDuplicateKey.
func (r *Repo) InsertOrder(ctx context.Context, o *NewOrder) (*OrderRef, error) {
	addr, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return nil, fmt.Errorf("marshal shipping address: %w", err)
	}
	var ref OrderRef
	err = r.DB.QueryRow(ctx, `
		INSERT INTO orders(
			id, user_id, order_number, total_amount, status,
			shipping_address, payment_reference, delivery_method, idempotency_key,
			discount_code_id, discount_code, discount_type, discount_value,
			discount_amount, pre_discount_total,
			discount_customer_email, discount_customer_phone)
		VALUES ($1,$2,$3,$4,$5,$6,NULL,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING id, order_number, status`,
		uuid.NewString(), o.UserID, o.OrderNumber, o.TotalAmount, StatusPending,
		addr, o.DeliveryMethod, o.IdempotencyKey,
		o.Discount.CodeID, o.Discount.Code, o.Discount.Type, o.Discount.Value,
		o.Discount.Amount, o.PreDiscount,
		o.Discount.CustomerEmail, o.Discount.CustomerPhone,
	).Scan(&ref.ID, &ref.OrderNumber, &ref.Status)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrDuplicateKey
		}
		return nil, err
	}
	return &ref, nil
}

// InsertItems writes all line items in one batch. The caller deletes the order
// header if this fails; no orphan pending orders.
func (r *Repo) InsertItems(ctx context.Context, orderID string, items []ItemInput) error {
	b := &pgx.Batch{}
	for _, it := range items {
		b.Queue(`INSERT INTO order_items(id, order_id, product_id, quantity, price)
		         VALUES ($1,$2,$3,$4,$5)`,
			uuid.NewString(), orderID, it.ProductID, it.Quantity, it.Price)
	}
	br := r.DB.SendBatch(ctx, b)
	defer br.Close()
	for range items {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// DeleteOrder removes the order and its items (compensation path).
func (r *Repo) DeleteOrder(ctx context.Context, orderID string) error {
	if _, err := r.DB.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, orderID); err != nil {
		return err
	}
	_, err := r.DB.Exec(ctx, `DELETE FROM orders WHERE id=$1`, orderID)
	return err
}

// GetOrder loads the full order with its line items.
func (r *Repo) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var (
		o      Order
		status string
		addr   []byte
	)
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, order_number, total_amount, status,
		       shipping_address, payment_reference, delivery_method, idempotency_key,
		       discount_code_id, discount_code, discount_type, discount_value,
		       discount_amount, pre_discount_total,
		       discount_customer_email, discount_customer_phone,
		       created_at, updated_at
		FROM orders WHERE id=$1`, orderID).Scan(
		&o.ID, &o.UserID, &o.OrderNumber, &o.TotalAmount, &status,
		&addr, &o.PaymentReference, &o.DeliveryMethod, &o.IdempotencyKey,
		&o.Discount.CodeID, &o.Discount.Code, &o.Discount.Type, &o.Discount.Value,
		&o.Discount.Amount, &o.PreDiscountTotal,
		&o.Discount.CustomerEmail, &o.Discount.CustomerPhone,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	if err := json.Unmarshal(addr, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}

	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, quantity, price
		FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Price); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repo) GetOrderStatus(ctx context.Context, orderID string) (Status, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrOrderNotFound
	}
	if err != nil {
		return "", err
	}
	return Status(s), nil
}

// UpdateStatus moves the order along the lifecycle, rejecting transitions the
// map does not allow. The conditional WHERE keeps two admins from racing past
// each other.
func (r *Repo) UpdateStatus(ctx context.Context, orderID string, to Status) error {
	from, err := r.GetOrderStatus(ctx, orderID)
	if err != nil {
		return err
	}
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	ct, err := r.DB.Exec(ctx,
		`UPDATE orders SET status=$2, updated_at=now() WHERE id=$1 AND status=$3`,
		orderID, to, from)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
