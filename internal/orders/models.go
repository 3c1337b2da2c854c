package orders

import "time"

type Product struct {
	ID        string    `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Stock     int       `json:"stock"`
	Price     float64   `json:"price"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ShippingAddress is denormalized onto the order row so later address edits
// never alter historical orders.
type ShippingAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
	Country string `json:"country"`
}

// DiscountSnapshot captures the discount exactly as it was validated at
// submission time. All fields nullable: a nil CodeID means no discount.
type DiscountSnapshot struct {
	CodeID        *string  `json:"code_id"`
	Code          *string  `json:"code"`
	Type          *string  `json:"type"` // "percentage" | "fixed"
	Value         *float64 `json:"value"`
	Amount        float64  `json:"amount"`
	CustomerEmail *string  `json:"customer_email"`
	CustomerPhone *string  `json:"customer_phone"`
}

type Order struct {
	ID               string           `json:"id"`
	OrderNumber      string           `json:"order_number"`
	UserID           *string          `json:"user_id"` // nil = guest checkout
	TotalAmount      float64          `json:"total_amount"`
	Status           Status           `json:"status"`
	ShippingAddress  ShippingAddress  `json:"shipping_address"`
	PaymentReference *string          `json:"payment_reference"` // attached later by the payment flow
	DeliveryMethod   string           `json:"delivery_method"`
	IdempotencyKey   string           `json:"idempotency_key"`
	Discount         DiscountSnapshot `json:"discount"`
	PreDiscountTotal float64          `json:"pre_discount_total"`
	Items            []OrderItem      `json:"items"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

type OrderItem struct {
	ID        string  `json:"id"`
	OrderID   string  `json:"order_id"`
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"` // unit price captured at order time
}

// OrderRef is the slice of the order returned to clients on creation.
type OrderRef struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      Status `json:"status"`
}
