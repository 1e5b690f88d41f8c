package booking_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/popupshop/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/popupshop/pkg/booking"
	"github.com/shopspring/decimal"
)

// Wednesday 2024-05-01 09:30 UTC.
var fixedNow = time.Date(2024, time.May, 1, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time {
	return fixedNow
}

func fastRetry() booking.RetryPolicy {
	return booking.RetryPolicy{MaxAttempts: 200, BaseDelay: 50 * time.Microsecond, MaxDelay: time.Millisecond}
}

func mustNewService(test *testing.T, store booking.Store, options ...booking.Option) *booking.Service {
	test.Helper()
	options = append([]booking.Option{booking.WithRetryPolicy(fastRetry())}, options...)
	service, err := booking.NewService(store, fixedClock, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustDate(test *testing.T, raw string) booking.Date {
	test.Helper()
	date, err := booking.ParseDate(raw)
	if err != nil {
		test.Fatalf("parse date %q: %v", raw, err)
	}
	return date
}

func mustTimeOfDay(test *testing.T, raw string) booking.TimeOfDay {
	test.Helper()
	timeOfDay, err := booking.ParseTimeOfDay(raw)
	if err != nil {
		test.Fatalf("parse time %q: %v", raw, err)
	}
	return timeOfDay
}

func mustCustomer(test *testing.T, email string) booking.Customer {
	test.Helper()
	customer, err := booking.NewCustomer(email, "Test Customer", "+1 555 0100")
	if err != nil {
		test.Fatalf("new customer: %v", err)
	}
	return customer
}

func mustItem(test *testing.T, productID booking.ProductID, quantity int) booking.LineItem {
	test.Helper()
	item, err := booking.NewLineItem(productID.String(), quantity)
	if err != nil {
		test.Fatalf("new line item: %v", err)
	}
	return item
}

func mustSlot(test *testing.T, service *booking.Service, date string, timeOfDay string, capacity int) booking.TimeSlot {
	test.Helper()
	slot, err := service.Slots().Create(context.Background(), mustDate(test, date), mustTimeOfDay(test, timeOfDay), capacity)
	if err != nil {
		test.Fatalf("create slot %s %s: %v", date, timeOfDay, err)
	}
	return slot
}

func mustGetSlot(test *testing.T, service *booking.Service, key booking.SlotKey) booking.TimeSlot {
	test.Helper()
	slot, err := service.Slots().Get(context.Background(), key)
	if err != nil {
		test.Fatalf("get slot %s: %v", key, err)
	}
	return slot
}

// mustProduct creates a product whose order window spans the fixed clock.
func mustProduct(test *testing.T, service *booking.Service, input booking.NewProductInput) booking.Product {
	test.Helper()
	if input.Name == "" {
		input.Name = "Tote bag"
	}
	if input.Price.IsZero() {
		input.Price = decimal.RequireFromString("12.50")
	}
	if input.OrderStart.IsZero() {
		input.OrderStart = fixedNow.AddDate(0, 0, -7)
	}
	if input.OrderEnd.IsZero() {
		input.OrderEnd = fixedNow.AddDate(0, 0, 30)
	}
	product, err := service.Products().Create(context.Background(), input)
	if err != nil {
		test.Fatalf("create product: %v", err)
	}
	return product
}

func mustGetProduct(test *testing.T, service *booking.Service, productID booking.ProductID) booking.Product {
	test.Helper()
	product, err := service.Products().Get(context.Background(), productID)
	if err != nil {
		test.Fatalf("get product %s: %v", productID, err)
	}
	return product
}

func mustCreateReservation(test *testing.T, service *booking.Service, slot booking.TimeSlot, email string, items ...booking.LineItem) booking.Reservation {
	test.Helper()
	reservation, err := service.Create(context.Background(), booking.CreateReservationRequest{
		Customer:  mustCustomer(test, email),
		VisitDate: slot.Date,
		VisitTime: slot.Time,
		Items:     items,
	})
	if err != nil {
		test.Fatalf("create reservation: %v", err)
	}
	return reservation
}

func newMemoryService(test *testing.T, options ...booking.Option) *booking.Service {
	test.Helper()
	return mustNewService(test, memstore.New(), options...)
}

type recorderLogger struct {
	mu      sync.Mutex
	entries []booking.OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry booking.OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recorderLogger) byOperation(operation string) []booking.OperationLog {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	var matched []booking.OperationLog
	for _, entry := range logger.entries {
		if entry.Operation == operation {
			matched = append(matched, entry)
		}
	}
	return matched
}

// sequenceNumbers hands out fixed reservation numbers in order, then repeats the last one.
type sequenceNumbers struct {
	mu      sync.Mutex
	numbers []string
	next    int
}

func (generator *sequenceNumbers) Next(time.Time) booking.ReservationNumber {
	generator.mu.Lock()
	defer generator.mu.Unlock()
	raw := generator.numbers[min(generator.next, len(generator.numbers)-1)]
	generator.next++
	number, _ := booking.NewReservationNumber(raw)
	return number
}

// conflictingStore fails every conditional slot write with ErrConflict.
type conflictingStore struct {
	booking.Store
	mu     sync.Mutex
	writes int
}

func (store *conflictingStore) UpdateSlot(context.Context, booking.TimeSlot, int64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.writes++
	return booking.ErrConflict
}

// budgetedSlotStore lets a fixed number of conditional slot writes through and fails the rest as unavailable.
type budgetedSlotStore struct {
	booking.Store
	mu     sync.Mutex
	budget int
}

func (store *budgetedSlotStore) UpdateSlot(ctx context.Context, slot booking.TimeSlot, expectedRevision int64) error {
	store.mu.Lock()
	allowed := store.budget > 0
	store.budget--
	store.mu.Unlock()
	if !allowed {
		return booking.Unavailable(context.DeadlineExceeded)
	}
	return store.Store.UpdateSlot(ctx, slot, expectedRevision)
}

// txDecoratingStore hands every transaction a store wrapped by decorate.
type txDecoratingStore struct {
	booking.Store
	decorate func(txStore booking.Store) booking.Store
}

func (store *txDecoratingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	return store.Store.WithTx(ctx, func(ctx context.Context, txStore booking.Store) error {
		return fn(ctx, store.decorate(txStore))
	})
}

// losingProductStore fails conditional product writes with ErrConflict while losses remain.
type losingProductStore struct {
	booking.Store
	losses *atomic.Int32
}

func (store *losingProductStore) UpdateProduct(ctx context.Context, product booking.Product, expectedRevision int64) error {
	if store.losses.Add(-1) >= 0 {
		return booking.ErrConflict
	}
	return store.Store.UpdateProduct(ctx, product, expectedRevision)
}
