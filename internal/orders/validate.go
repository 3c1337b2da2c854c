package orders

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	IdempotencyKeyMinLen = 16
	IdempotencyKeyMaxLen = 128
	MaxItemsPerOrder     = 25
	MaxQuantityPerItem   = 20
	MaxUnitPrice         = 5_000_000 // sanity ceiling, not a business rule
	MaxOrderTotal        = 50_000_000
)

type ShippingInfo struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Address   string `json:"address" validate:"required"`
	City      string `json:"city" validate:"required"`
	State     string `json:"state" validate:"required"`
	ZipCode   string `json:"zipCode" validate:"required"`
	Country   string `json:"country" validate:"required"`
	Email     string `json:"email" validate:"required"`
	Phone     string `json:"phone" validate:"required"`
}

type ItemInput struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type DiscountInput struct {
	CodeID        *string  `json:"codeId"`
	Code          *string  `json:"code"`
	Type          *string  `json:"type"`
	Value         *float64 `json:"value"`
	Amount        float64  `json:"amount"`
	CustomerEmail *string  `json:"customerEmail"`
	CustomerPhone *string  `json:"customerPhone"`
}

type CreateOrderPayload struct {
	IdempotencyKey             string        `json:"idempotencyKey"`
	OrderTotal                 float64       `json:"orderTotal"`
	OriginalTotal              float64       `json:"originalTotal"`
	SelectedDeliveryMethodName string        `json:"selectedDeliveryMethodName" validate:"required"`
	ShippingInfo               ShippingInfo  `json:"shippingInfo"`
	Items                      []ItemInput   `json:"items"`
	Discount                   DiscountInput `json:"discount"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidatePayload bounds-checks the inbound payload. Categories are checked in
// a fixed order and the first failing category wins, but every item in a
// category (all line items) is inspected together. No side effects.
func ValidatePayload(p *CreateOrderPayload) error {
	key := strings.TrimSpace(p.IdempotencyKey)
	if n := utf8.RuneCountInString(key); n < IdempotencyKeyMinLen || n > IdempotencyKeyMaxLen {
		return invalid("invalid idempotency key")
	}
	p.IdempotencyKey = key

	if len(p.Items) == 0 {
		return invalid("no valid items to create order")
	}
	if len(p.Items) > MaxItemsPerOrder {
		return invalid("too many items in one order")
	}
	for _, it := range p.Items {
		if it.ProductID == "" ||
			it.Quantity < 1 || it.Quantity > MaxQuantityPerItem ||
			!isFinite(it.Price) || it.Price <= 0 || it.Price > MaxUnitPrice {
			return invalid("invalid order items")
		}
	}

	if !isFinite(p.OrderTotal) || p.OrderTotal <= 0 || p.OrderTotal > MaxOrderTotal {
		return invalid("invalid order total")
	}
	if !isFinite(p.OriginalTotal) || p.OriginalTotal <= 0 || p.OriginalTotal > MaxOrderTotal {
		return invalid("invalid original total")
	}

	if t := p.Discount.Type; t != nil && *t != "percentage" && *t != "fixed" {
		return invalid("invalid discount type")
	}

	// Presence of shipping/delivery fields; format is the UI layer's problem.
	if err := validate.Struct(p); err != nil {
		return invalid("missing shipping information")
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
