package orders

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-orders/internal/guard"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
)

// memOrderStore mirrors the orders table: unique idempotency key, items owned
// by their order, delete frees the key.
type memOrderStore struct {
	mu       sync.Mutex
	byKey    map[string]*OrderRef
	items    map[string][]ItemInput
	owners   map[string]*string
	seq      int
	finds    int
	failItem bool // force InsertItems to fail
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{
		byKey:  map[string]*OrderRef{},
		items:  map[string][]ItemInput{},
		owners: map[string]*string{},
	}
}

func (s *memOrderStore) FindByIdempotencyKey(_ context.Context, key string) (*OrderRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	if ref, ok := s.byKey[key]; ok {
		cp := *ref
		return &cp, nil
	}
	return nil, nil
}

func (s *memOrderStore) NextOrderNumber(context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return fmt.Sprintf("ORD-2026-%09d-%03d", s.seq, s.seq%1000)
}

func (s *memOrderStore) InsertOrder(_ context.Context, o *NewOrder) (*OrderRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[o.IdempotencyKey]; ok {
		return nil, ErrDuplicateKey
	}
	ref := &OrderRef{
		ID:          fmt.Sprintf("order-%s", o.IdempotencyKey),
		OrderNumber: o.OrderNumber,
		Status:      StatusPending,
	}
	s.byKey[o.IdempotencyKey] = ref
	s.owners[ref.ID] = o.UserID
	cp := *ref
	return &cp, nil
}

func (s *memOrderStore) InsertItems(_ context.Context, orderID string, items []ItemInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failItem {
		return fmt.Errorf("order_items insert failed")
	}
	s.items[orderID] = items
	return nil
}

func (s *memOrderStore) DeleteOrder(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, orderID)
	delete(s.owners, orderID)
	for key, ref := range s.byKey {
		if ref.ID == orderID {
			delete(s.byKey, key)
		}
	}
	return nil
}

func (s *memOrderStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

func (s *memOrderStore) findCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finds
}

// memLimiter is a window counter without the clock: Reset stands in for the
// window elapsing.
type memLimiter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newMemLimiter() *memLimiter { return &memLimiter{counts: map[string]int{}} }

func (l *memLimiter) Allow(_ context.Context, route, identifier string, limit int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := route + ":" + identifier
	l.counts[k]++
	return l.counts[k] <= limit, nil
}

func (l *memLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts = map[string]int{}
}

type staticResolver struct{ users map[string]string }

func (r *staticResolver) Resolve(_ context.Context, token string) (string, bool) {
	id, ok := r.users[token]
	return id, ok
}

// splitStore reports generous stock at pre-check time while commits see the
// live numbers: the window where a concurrent order drains a product between
// pre-check and commit.
type splitStore struct {
	*memStockStore
	precheck map[string]int
}

func (s *splitStore) GetStocks(_ context.Context, ids []string) (map[string]int, error) {
	out := make(map[string]int, len(ids))
	for _, id := range ids {
		if v, ok := s.precheck[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func newService(store *memOrderStore, stock StockStore) (*Service, *memLimiter) {
	lim := newMemLimiter()
	return &Service{
		Orders:   store,
		Stock:    &StockEngine{Store: stock, Log: zap.NewNop()},
		Guard:    &guard.Guard{},
		Limiter:  lim,
		Resolver: &staticResolver{users: map[string]string{"tok-1": "user-1"}},
		Name:     "storefront-orders-test",
		Log:      zap.NewNop(),
	}, lim
}

func browserReq(payload CreateOrderPayload) CreateRequest {
	return CreateRequest{
		Payload:   payload,
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101 Firefox/128.0",
		ClientIP:  "203.0.113.7",
	}
}

func TestCreateOrderHappyPath(t *testing.T) {
	store := newMemOrderStore()
	stock := newMemStockStore(map[string]int{"p-1": 5})
	svc, _ := newService(store, stock)

	res, err := svc.CreateOrder(context.Background(), browserReq(validPayload()))
	require.NoError(t, err)
	assert.False(t, res.Reused)
	assert.Equal(t, StatusPending, res.Order.Status)
	assert.NotEmpty(t, res.Order.OrderNumber)
	assert.Equal(t, 3, stock.current("p-1")) // 5 - 2
	assert.Equal(t, 1, store.count())
	assert.Nil(t, store.owners[res.Order.ID]) // guest checkout
}

func TestCreateOrderAuthenticatedOwner(t *testing.T) {
	store := newMemOrderStore()
	svc, _ := newService(store, newMemStockStore(map[string]int{"p-1": 5}))

	req := browserReq(validPayload())
	req.Bearer = "tok-1"
	res, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, store.owners[res.Order.ID])
	assert.Equal(t, "user-1", *store.owners[res.Order.ID])
}

func TestCreateOrderUnresolvableTokenStaysGuest(t *testing.T) {
	store := newMemOrderStore()
	svc, _ := newService(store, newMemStockStore(map[string]int{"p-1": 5}))

	req := browserReq(validPayload())
	req.Bearer = "garbage-token"
	res, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, store.owners[res.Order.ID])
}

func TestIdempotentReplay(t *testing.T) {
	store := newMemOrderStore()
	stock := newMemStockStore(map[string]int{"p-1": 5})
	svc, _ := newService(store, stock)

	first, err := svc.CreateOrder(context.Background(), browserReq(validPayload()))
	require.NoError(t, err)
	assert.False(t, first.Reused)

	second, err := svc.CreateOrder(context.Background(), browserReq(validPayload()))
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.Order.ID, second.Order.ID)

	// Stock moved exactly once across both submissions.
	assert.Equal(t, 3, stock.current("p-1"))
	assert.Equal(t, 1, store.count())
}

func TestConcurrentDuplicateSubmission(t *testing.T) {
	store := newMemOrderStore()
	stock := newMemStockStore(map[string]int{"p-1": 100})
	svc, _ := newService(store, stock)

	const callers = 8
	results := make(chan *CreateResult, callers)
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := browserReq(validPayload())
			req.Bearer = "tok-1" // authenticated ceiling covers all callers
			res, err := svc.CreateOrder(context.Background(), req)
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	var ids []string
	fresh := 0
	for res := range results {
		ids = append(ids, res.Order.ID)
		if !res.Reused {
			fresh++
		}
	}
	require.Len(t, ids, callers)
	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id, "every caller sees the same order")
	}
	assert.Equal(t, 1, fresh, "exactly one caller created the order")
	assert.Equal(t, 1, store.count())
	assert.Equal(t, 98, stock.current("p-1"), "stock decremented exactly once")
}

func TestRollbackAtomicity(t *testing.T) {
	payload := validPayload()
	payload.Items = []ItemInput{
		{ProductID: "p-a", Quantity: 2, Price: 10},
		{ProductID: "p-b", Quantity: 1, Price: 10},
	}
	payload.OrderTotal = 30
	payload.OriginalTotal = 30

	// Pre-check sees both in stock; by commit time p-b is gone.
	live := newMemStockStore(map[string]int{"p-a": 10, "p-b": 0})
	stock := &splitStore{memStockStore: live, precheck: map[string]int{"p-a": 10, "p-b": 5}}
	store := newMemOrderStore()
	svc, _ := newService(store, stock)

	_, err := svc.CreateOrder(context.Background(), browserReq(payload))
	var sc *StockConflictError
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, "p-b", sc.ProductID)

	// Externally invisible: no order, no items, first decrement reversed.
	assert.Equal(t, 0, store.count())
	assert.Empty(t, store.items)
	assert.Equal(t, 10, live.current("p-a"))
	assert.Equal(t, 0, live.current("p-b"))
}

func TestItemInsertFailureDeletesOrder(t *testing.T) {
	store := newMemOrderStore()
	store.failItem = true
	stock := newMemStockStore(map[string]int{"p-1": 5})
	svc, _ := newService(store, stock)

	_, err := svc.CreateOrder(context.Background(), browserReq(validPayload()))
	require.Error(t, err)
	assert.Equal(t, 0, store.count(), "no orphan order header")
	assert.Equal(t, 5, stock.current("p-1"), "stock untouched")
}

func TestGuestRateLimit(t *testing.T) {
	store := newMemOrderStore()
	svc, lim := newService(store, newMemStockStore(map[string]int{"p-1": 1000}))

	for i := 0; i < guard.GuestLimit; i++ {
		payload := validPayload()
		payload.IdempotencyKey = fmt.Sprintf("key-%032d", i)
		_, err := svc.CreateOrder(context.Background(), browserReq(payload))
		require.NoError(t, err, "request %d within the window", i+1)
	}

	payload := validPayload()
	payload.IdempotencyKey = fmt.Sprintf("key-%032d", guard.GuestLimit)
	_, err := svc.CreateOrder(context.Background(), browserReq(payload))
	require.ErrorIs(t, err, ErrRateLimited)

	// Window elapses; same caller is admitted again.
	lim.Reset()
	_, err = svc.CreateOrder(context.Background(), browserReq(payload))
	require.NoError(t, err)
}

func TestBlockedUserAgent(t *testing.T) {
	svc, _ := newService(newMemOrderStore(), newMemStockStore(map[string]int{"p-1": 5}))

	req := browserReq(validPayload())
	req.UserAgent = "curl/8.5.0"
	_, err := svc.CreateOrder(context.Background(), req)
	require.ErrorIs(t, err, guard.ErrBlockedClient)
}

func TestOriginAllowList(t *testing.T) {
	store := newMemOrderStore()
	svc, _ := newService(store, newMemStockStore(map[string]int{"p-1": 5}))
	svc.Guard = &guard.Guard{AllowedOrigins: []string{"https://shop.example.com"}}

	req := browserReq(validPayload())
	req.Origin = "https://evil.example.net"
	_, err := svc.CreateOrder(context.Background(), req)
	require.ErrorIs(t, err, guard.ErrOriginNotAllowed)

	req.Origin = "https://shop.example.com"
	_, err = svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
}

// A hint hit serves the replay entirely from redis: no idempotency lookup
// against the database at all.
func TestIdempotencyHintSkipsDatabaseLookup(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := newMemOrderStore()
	svc, _ := newService(store, newMemStockStore(map[string]int{"p-1": 5}))
	svc.Redis = rdb

	first, err := svc.CreateOrder(context.Background(), browserReq(validPayload()))
	require.NoError(t, err)
	findsAfterCreate := store.findCount()

	second, err := svc.CreateOrder(context.Background(), browserReq(validPayload()))
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.Order, second.Order)
	assert.Equal(t, findsAfterCreate, store.findCount(), "replay never reached the store")
}

// A missing or expired hint falls through to the database lookup.
func TestIdempotencyHintExpiryFallsBackToStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := newMemOrderStore()
	svc, _ := newService(store, newMemStockStore(map[string]int{"p-1": 5}))
	svc.Redis = rdb

	first, err := svc.CreateOrder(context.Background(), browserReq(validPayload()))
	require.NoError(t, err)

	mr.FastForward(redisx.TTLIdempotency + time.Minute)

	second, err := svc.CreateOrder(context.Background(), browserReq(validPayload()))
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.Order.ID, second.Order.ID)
}

// The replay fast-path must stop before any stock access.
func TestReplayPerformsNoStockReads(t *testing.T) {
	store := newMemOrderStore()
	stock := newMemStockStore(map[string]int{"p-1": 5})
	svc, _ := newService(store, stock)

	_, err := svc.CreateOrder(context.Background(), browserReq(validPayload()))
	require.NoError(t, err)

	// Drain the product entirely; a replay must still succeed.
	stock.mu.Lock()
	stock.stock["p-1"] = 0
	stock.mu.Unlock()

	res, err := svc.CreateOrder(context.Background(), browserReq(validPayload()))
	require.NoError(t, err)
	assert.True(t, res.Reused)
	assert.Equal(t, 0, stock.current("p-1"))
}
