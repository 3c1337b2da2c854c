package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"github.com/ariefcatur/go-storefront-orders/internal/guard"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
)

// OrderStore is the write surface the creation flow needs from the database.
type OrderStore interface {
	FindByIdempotencyKey(ctx context.Context, key string) (*OrderRef, error)
	NextOrderNumber(ctx context.Context) string
	InsertOrder(ctx context.Context, o *NewOrder) (*OrderRef, error)
	InsertItems(ctx context.Context, orderID string, items []ItemInput) error
	DeleteOrder(ctx context.Context, orderID string) error
}

// Limiter is the shared windowed counter (redis in production).
type Limiter interface {
	Allow(ctx context.Context, route, identifier string, limit int) (bool, error)
}

// EventPublisher is satisfied by the async kafka producer.
type EventPublisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Service struct {
	Orders   OrderStore
	Stock    *StockEngine
	Guard    *guard.Guard
	Limiter  Limiter
	Resolver auth.Resolver
	Producer EventPublisher // optional
	Redis    *redis.Client  // optional: idempotency replay hint
	Name     string
	Log      *zap.Logger
}

// CreateRequest is the payload plus everything the guards need from the
// transport layer.
type CreateRequest struct {
	Payload   CreateOrderPayload
	UserAgent string
	Origin    string
	ClientIP  string
	Bearer    string
	TraceID   string
}

type CreateResult struct {
	Order OrderRef
	// Reused: an idempotent replay returned a pre-existing order without any
	// new side effects.
	Reused bool
}

// CreateOrder runs the whole pipeline: validate, admit, resolve identity,
// rate-limit, idempotency fast-path, stock pre-check, write order+items,
// commit stock decrements. Any failure after the first write triggers
// compensation so that partial application is never externally visible.
func (s *Service) CreateOrder(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := ValidatePayload(&req.Payload); err != nil {
		return nil, err
	}
	if err := s.Guard.CheckUserAgent(req.UserAgent); err != nil {
		return nil, err
	}
	if err := s.Guard.CheckOrigin(req.Origin); err != nil {
		return nil, err
	}

	// Best-effort: inconclusive resolution just means guest checkout.
	userID, authenticated := s.Resolver.Resolve(ctx, req.Bearer)

	identifier, limit := guard.Identity(userID, req.ClientIP)
	allowed, err := s.Limiter.Allow(ctx, guard.RouteCreateOrder, identifier, limit)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		return nil, ErrRateLimited
	}

	// Idempotency fast-path: a replayed key returns the original order and
	// stops here, before any stock reads or writes. The redis hint saves the
	// DB round trip; the unique constraint remains the source of truth.
	if hinted, ok := s.hintedOrder(ctx, req.Payload.IdempotencyKey); ok {
		return &CreateResult{Order: *hinted, Reused: true}, nil
	}
	if existing, err := s.Orders.FindByIdempotencyKey(ctx, req.Payload.IdempotencyKey); err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	} else if existing != nil {
		return &CreateResult{Order: *existing, Reused: true}, nil
	}

	// Advisory fail-fast; stock may still move before commit.
	merged := MergeQuantities(req.Payload.Items)
	if err := s.Stock.PreCheck(ctx, merged); err != nil {
		return nil, err
	}

	var owner *string
	if authenticated {
		owner = &userID
	}
	p := req.Payload
	ref, err := s.Orders.InsertOrder(ctx, &NewOrder{
		UserID:      owner,
		OrderNumber: s.Orders.NextOrderNumber(ctx),
		TotalAmount: p.OrderTotal,
		ShippingAddress: ShippingAddress{
			Name:    p.ShippingInfo.FirstName + " " + p.ShippingInfo.LastName,
			Address: p.ShippingInfo.Address,
			City:    p.ShippingInfo.City,
			State:   p.ShippingInfo.State,
			ZipCode: p.ShippingInfo.ZipCode,
			Country: p.ShippingInfo.Country,
		},
		DeliveryMethod: p.SelectedDeliveryMethodName,
		IdempotencyKey: p.IdempotencyKey,
		Discount:       p.Discount,
		PreDiscount:    p.OriginalTotal,
	})
	if errors.Is(err, ErrDuplicateKey) {
		// Lost the insert race on a concurrent duplicate: the winner's row is
		// the canonical result, not an error.
		raced, ferr := s.Orders.FindByIdempotencyKey(ctx, p.IdempotencyKey)
		if ferr != nil {
			return nil, fmt.Errorf("fetch raced order: %w", ferr)
		}
		if raced == nil {
			return nil, fmt.Errorf("order for idempotency key vanished after insert conflict")
		}
		return &CreateResult{Order: *raced, Reused: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	if err := s.Orders.InsertItems(ctx, ref.ID, p.Items); err != nil {
		s.deleteOrder(ctx, ref.ID)
		return nil, fmt.Errorf("insert order items: %w", err)
	}

	if err := s.Stock.CommitDecrements(ctx, merged); err != nil {
		// The engine already reversed its own partial decrements.
		s.deleteOrder(ctx, ref.ID)
		return nil, err
	}

	s.afterCreate(ctx, ref, owner, &p, req.TraceID)
	return &CreateResult{Order: *ref, Reused: false}, nil
}

func (s *Service) deleteOrder(ctx context.Context, orderID string) {
	if err := s.Orders.DeleteOrder(ctx, orderID); err != nil {
		s.Log.Error("order cleanup failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

// hintedOrder checks the redis idempotency hint. A hit carries the original
// order ref from creation time, which is exactly what a checkout replay needs.
func (s *Service) hintedOrder(ctx context.Context, key string) (*OrderRef, bool) {
	if s.Redis == nil {
		return nil, false
	}
	raw, err := s.Redis.Get(ctx, fmt.Sprintf(redisx.KeyIdemOrderCreate, key)).Bytes()
	if err != nil {
		return nil, false
	}
	var ref OrderRef
	if err := json.Unmarshal(raw, &ref); err != nil || ref.ID == "" {
		return nil, false
	}
	return &ref, true
}

// afterCreate publishes order.created and stores the idempotency hint. All
// best-effort: the order is already durable.
func (s *Service) afterCreate(ctx context.Context, ref *OrderRef, owner *string, p *CreateOrderPayload, traceID string) {
	if s.Redis != nil {
		if b, err := json.Marshal(ref); err == nil {
			idemKey := fmt.Sprintf(redisx.KeyIdemOrderCreate, p.IdempotencyKey)
			_ = s.Redis.Set(ctx, idemKey, b, redisx.TTLIdempotency).Err()
		}
	}

	if s.Producer == nil {
		return
	}
	items := make([]ItemQty, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, ItemQty{ProductID: it.ProductID, Qty: it.Quantity, Price: it.Price})
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventOrderCreated,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.Name,
		TraceID:       traceID,
		CorrelationID: ref.ID,
		Payload: kafkax.MustMarshal(OrderCreatedPayload{
			OrderID:     ref.ID,
			OrderNumber: ref.OrderNumber,
			UserID:      owner,
			Items:       items,
			TotalAmount: p.OrderTotal,
		}),
	}
	s.Producer.Publish(PartitionKey(ref.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(EventOrderCreated)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
