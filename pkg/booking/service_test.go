package booking_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/MarkoPoloResearchLab/popupshop/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/popupshop/pkg/booking"
)

func TestNewServiceValidatesDependencies(test *testing.T) {
	test.Parallel()
	if _, err := booking.NewService(nil, fixedClock); !errors.Is(err, booking.ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil store, got %v", err)
	}
	if _, err := booking.NewService(memstore.New(), nil); !errors.Is(err, booking.ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil clock, got %v", err)
	}
	if _, err := booking.NewService(memstore.New(), fixedClock, booking.WithRetryPolicy(booking.RetryPolicy{})); !errors.Is(err, booking.ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for empty retry policy, got %v", err)
	}
}

func TestCreateReservationAllocatesSeatAndItems(test *testing.T) {
	test.Parallel()
	service := newMemoryService(test)
	slot := mustSlot(test, service, "2024-05-10", "10:00", 4)
	product := mustProduct(test, service, booking.NewProductInput{TotalOrderLimit: 10})

	reservation := mustCreateReservation(test, service, slot, "visitor@example.com", mustItem(test, product.ID, 2), mustItem(test, product.ID, 1))

	if reservation.Status != booking.ReservationStatusConfirmed || reservation.Revision != 1 {
		test.Fatalf("unexpected reservation %+v", reservation)
	}
	if len(reservation.Items) != 1 || reservation.Items[0].Quantity != 3 {
		test.Fatalf("expected merged line items, got %+v", reservation.Items)
	}
	if reservation.SlotKey() != slot.Key {
		test.Fatalf("unexpected slot key %s", reservation.SlotKey())
	}
	if reserved := mustGetSlot(test, service, slot.Key).Reserved; reserved != 1 {
		test.Fatalf("expected 1 reserved seat, got %d", reserved)
	}
	if count := mustGetProduct(test, service, product.ID).CurrentOrderCount; count != 3 {
		test.Fatalf("expected order count 3, got %d", count)
	}
	byNumber, err := service.GetByNumber(context.Background(), reservation.Number)
	if err != nil || byNumber.ID != reservation.ID {
		test.Fatalf("lookup by number: %+v %v", byNumber, err)
	}
}

func TestCreateReservationNeverCreatesSlots(test *testing.T) {
	test.Parallel()
	service := newMemoryService(test)
	_, err := service.Create(context.Background(), booking.CreateReservationRequest{
		Customer:  mustCustomer(test, "visitor@example.com"),
		VisitDate: mustDate(test, "2024-05-10"),
		VisitTime: mustTimeOfDay(test, "10:00"),
	})
	if !errors.Is(err, booking.ErrUnknownSlot) {
		test.Fatalf("expected ErrUnknownSlot, got %v", err)
	}
}

func TestConcurrentCreatesOnLastSeat(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	service := newMemoryService(test)
	slot := mustSlot(test, service, "2024-05-10", "10:00", 1)
	customer := mustCustomer(test, "racer@example.com")

	results := make([]error, 2)
	var wg sync.WaitGroup
	for index := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[index] = service.Create(ctx, booking.CreateReservationRequest{
				Customer:  customer,
				VisitDate: slot.Date,
				VisitTime: slot.Time,
			})
		}()
	}
	wg.Wait()

	succeeded, full := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, booking.ErrSlotFull):
			full++
		default:
			test.Fatalf("unexpected error %v", err)
		}
	}
	if succeeded != 1 || full != 1 {
		test.Fatalf("expected one winner and one ErrSlotFull, got %d/%d", succeeded, full)
	}
	if reserved := mustGetSlot(test, service, slot.Key).Reserved; reserved != 1 {
		test.Fatalf("expected reserved 1, got %d", reserved)
	}
}

func TestCreateReservationCompensatesOnLimitViolation(test *testing.T) {
	test.Parallel()
	service := newMemoryService(test)
	slot := mustSlot(test, service, "2024-05-10", "10:00", 4)
	product := mustProduct(test, service, booking.NewProductInput{TotalOrderLimit: 5})
	mustCreateReservation(test, service, slot, "early@example.com", mustItem(test, product.ID, 4))

	_, err := service.Create(context.Background(), booking.CreateReservationRequest{
		Customer:  mustCustomer(test, "late@example.com"),
		VisitDate: slot.Date,
		VisitTime: slot.Time,
		Items:     []booking.LineItem{mustItem(test, product.ID, 2)},
	})
	if !errors.Is(err, booking.ErrLimitExceeded) {
		test.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
	if reasons := booking.LimitReasons(err); len(reasons) != 1 || reasons[0] != booking.LimitTotalOrders {
		test.Fatalf("expected total_orders reason, got %v", reasons)
	}
	if reserved := mustGetSlot(test, service, slot.Key).Reserved; reserved != 1 {
		test.Fatalf("expected seat released by compensation, reserved %d", reserved)
	}
	if count := mustGetProduct(test, service, product.ID).CurrentOrderCount; count != 4 {
		test.Fatalf("expected order count to stay 4, got %d", count)
	}
}

func TestCreateReservationSurfacesCompensationFailure(test *testing.T) {
	test.Parallel()
	base := memstore.New()
	seed := mustNewService(test, base)
	slot := mustSlot(test, seed, "2024-05-10", "10:00", 4)
	product := mustProduct(test, seed, booking.NewProductInput{TotalOrderLimit: 1})

	logger := &recorderLogger{}
	service := mustNewService(test, &budgetedSlotStore{Store: base, budget: 1}, booking.WithOperationLogger(logger))
	_, err := service.Create(context.Background(), booking.CreateReservationRequest{
		Customer:  mustCustomer(test, "visitor@example.com"),
		VisitDate: slot.Date,
		VisitTime: slot.Time,
		Items:     []booking.LineItem{mustItem(test, product.ID, 2)},
	})
	if !errors.Is(err, booking.ErrStoreUnavailable) {
		test.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	var operationError booking.OperationError
	if !errors.As(err, &operationError) || operationError.Code() != "compensation" {
		test.Fatalf("expected compensation error code, got %v", err)
	}
	if entries := logger.byOperation(booking.OperationCompensate); len(entries) != 1 || entries[0].Status != booking.OperationStatusError {
		test.Fatalf("expected one failed compensation log entry, got %+v", entries)
	}
}

func TestCreateThenCancelRestoresCounters(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	service := newMemoryService(test)
	slot := mustSlot(test, service, "2024-05-10", "10:00", 4)
	product := mustProduct(test, service, booking.NewProductInput{TotalOrderLimit: 10})
	reservation := mustCreateReservation(test, service, slot, "visitor@example.com", mustItem(test, product.ID, 3))

	cancelled, err := service.Cancel(ctx, reservation.ID)
	if err != nil {
		test.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != booking.ReservationStatusCancelled || cancelled.Revision != reservation.Revision+1 {
		test.Fatalf("unexpected cancelled reservation %+v", cancelled)
	}
	if reserved := mustGetSlot(test, service, slot.Key).Reserved; reserved != 0 {
		test.Fatalf("expected reserved 0, got %d", reserved)
	}
	if count := mustGetProduct(test, service, product.ID).CurrentOrderCount; count != 0 {
		test.Fatalf("expected order count 0, got %d", count)
	}

	if _, err := service.Cancel(ctx, reservation.ID); !errors.Is(err, booking.ErrAlreadyCancelled) {
		test.Fatalf("expected ErrAlreadyCancelled, got %v", err)
	}
	if reserved := mustGetSlot(test, service, slot.Key).Reserved; reserved != 0 {
		test.Fatalf("second cancel must not release again, reserved %d", reserved)
	}
}

func TestConcurrentCancelsReleaseOnce(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	service := newMemoryService(test)
	slot := mustSlot(test, service, "2024-05-10", "10:00", 4)
	product := mustProduct(test, service, booking.NewProductInput{})
	mustCreateReservation(test, service, slot, "stays@example.com", mustItem(test, product.ID, 1))
	target := mustCreateReservation(test, service, slot, "leaves@example.com", mustItem(test, product.ID, 2))

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for index := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[index] = service.Cancel(ctx, target.ID)
		}()
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		if !errors.Is(err, booking.ErrAlreadyCancelled) {
			test.Fatalf("unexpected cancel error %v", err)
		}
	}
	if winners != 1 {
		test.Fatalf("expected exactly one successful cancel, got %d", winners)
	}
	if reserved := mustGetSlot(test, service, slot.Key).Reserved; reserved != 1 {
		test.Fatalf("expected reserved 1, got %d", reserved)
	}
	if count := mustGetProduct(test, service, product.ID).CurrentOrderCount; count != 1 {
		test.Fatalf("expected order count 1, got %d", count)
	}
}

func TestCancelIsAllOrNothing(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	base := memstore.New()
	healthy := mustNewService(test, base)
	slot := mustSlot(test, healthy, "2024-05-10", "10:00", 4)
	product := mustProduct(test, healthy, booking.NewProductInput{})
	reservation := mustCreateReservation(test, healthy, slot, "visitor@example.com", mustItem(test, product.ID, 2))

	broken := mustNewService(test, &txDecoratingStore{Store: base, decorate: func(txStore booking.Store) booking.Store {
		return &budgetedSlotStore{Store: txStore}
	}})
	if _, err := broken.Cancel(ctx, reservation.ID); !errors.Is(err, booking.ErrStoreUnavailable) {
		test.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	stored, err := healthy.Get(ctx, reservation.ID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if stored.Status != booking.ReservationStatusConfirmed || stored.Revision != reservation.Revision {
		test.Fatalf("failed cancel must leave the reservation untouched, got %+v", stored)
	}
	if count := mustGetProduct(test, healthy, product.ID).CurrentOrderCount; count != 2 {
		test.Fatalf("failed cancel must keep items allocated, got %d", count)
	}

	if _, err := healthy.Cancel(ctx, reservation.ID); err != nil {
		test.Fatalf("retried cancel: %v", err)
	}
	if reserved := mustGetSlot(test, healthy, slot.Key).Reserved; reserved != 0 {
		test.Fatalf("expected seat released on retry, reserved %d", reserved)
	}
	if count := mustGetProduct(test, healthy, product.ID).CurrentOrderCount; count != 0 {
		test.Fatalf("expected items released on retry, got %d", count)
	}
}

func TestCompleteIsTerminal(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	service := newMemoryService(test)
	slot := mustSlot(test, service, "2024-05-10", "10:00", 4)
	product := mustProduct(test, service, booking.NewProductInput{})
	reservation := mustCreateReservation(test, service, slot, "visitor@example.com", mustItem(test, product.ID, 1))

	completed, err := service.Complete(ctx, reservation.ID)
	if err != nil {
		test.Fatalf("complete: %v", err)
	}
	if completed.Status != booking.ReservationStatusCompleted {
		test.Fatalf("unexpected status %s", completed.Status)
	}
	if _, err := service.Complete(ctx, reservation.ID); !errors.Is(err, booking.ErrAlreadyCompleted) {
		test.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}
	if _, err := service.Cancel(ctx, reservation.ID); !errors.Is(err, booking.ErrImmutable) {
		test.Fatalf("expected ErrImmutable on cancel, got %v", err)
	}
	later := mustDate(test, "2024-05-20")
	if _, err := service.Reschedule(ctx, reservation.ID, booking.RescheduleRequest{VisitDate: &later}); !errors.Is(err, booking.ErrImmutable) {
		test.Fatalf("expected ErrImmutable on reschedule, got %v", err)
	}
	if reserved := mustGetSlot(test, service, slot.Key).Reserved; reserved != 1 {
		test.Fatalf("completion must keep the seat counted, reserved %d", reserved)
	}
}

func TestCompleteCancelledReservationIsImmutable(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	service := newMemoryService(test)
	slot := mustSlot(test, service, "2024-05-10", "10:00", 4)
	reservation := mustCreateReservation(test, service, slot, "visitor@example.com")
	if _, err := service.Cancel(ctx, reservation.ID); err != nil {
		test.Fatalf("cancel: %v", err)
	}
	if _, err := service.Complete(ctx, reservation.ID); !errors.Is(err, booking.ErrImmutable) {
		test.Fatalf("expected ErrImmutable, got %v", err)
	}
}

func TestRescheduleMovesSeatAndItems(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	service := newMemoryService(test)
	from := mustSlot(test, service, "2024-05-04", "10:00", 2)
	to := mustSlot(test, service, "2024-05-08", "15:30", 2)
	tote := mustProduct(test, service, booking.NewProductInput{Name: "Tote", TotalOrderLimit: 10})
	hat := mustProduct(test, service, booking.NewProductInput{Name: "Cap", TotalOrderLimit: 10})
	reservation := mustCreateReservation(test, service, from, "visitor@example.com", mustItem(test, tote.ID, 3))

	rescheduled, err := service.Reschedule(ctx, reservation.ID, booking.RescheduleRequest{
		VisitDate:    &to.Date,
		VisitTime:    &to.Time,
		Items:        []booking.LineItem{mustItem(test, tote.ID, 1), mustItem(test, hat.ID, 2)},
		ReplaceItems: true,
	})
	if err != nil {
		test.Fatalf("reschedule: %v", err)
	}
	if rescheduled.SlotKey() != to.Key || rescheduled.Number != reservation.Number || rescheduled.Revision != reservation.Revision+1 {
		test.Fatalf("unexpected rescheduled reservation %+v", rescheduled)
	}
	if reserved := mustGetSlot(test, service, from.Key).Reserved; reserved != 0 {
		test.Fatalf("expected old slot released, reserved %d", reserved)
	}
	if reserved := mustGetSlot(test, service, to.Key).Reserved; reserved != 1 {
		test.Fatalf("expected new slot reserved, reserved %d", reserved)
	}
	if count := mustGetProduct(test, service, tote.ID).CurrentOrderCount; count != 1 {
		test.Fatalf("expected tote count 1, got %d", count)
	}
	if count := mustGetProduct(test, service, hat.ID).CurrentOrderCount; count != 2 {
		test.Fatalf("expected cap count 2, got %d", count)
	}
}

func TestRescheduleRollsBackWhenOldSeatCannotBeReleased(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	base := memstore.New()
	healthy := mustNewService(test, base)
	from := mustSlot(test, healthy, "2024-05-04", "10:00", 2)
	to := mustSlot(test, healthy, "2024-05-08", "15:30", 2)
	tote := mustProduct(test, healthy, booking.NewProductInput{TotalOrderLimit: 10})
	reservation := mustCreateReservation(test, healthy, from, "visitor@example.com", mustItem(test, tote.ID, 3))

	broken := mustNewService(test, &txDecoratingStore{Store: base, decorate: func(txStore booking.Store) booking.Store {
		return &budgetedSlotStore{Store: txStore}
	}})
	_, err := broken.Reschedule(ctx, reservation.ID, booking.RescheduleRequest{
		VisitDate:    &to.Date,
		VisitTime:    &to.Time,
		Items:        []booking.LineItem{mustItem(test, tote.ID, 1)},
		ReplaceItems: true,
	})
	if !errors.Is(err, booking.ErrStoreUnavailable) {
		test.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	stored, err := healthy.Get(ctx, reservation.ID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if stored.SlotKey() != from.Key || stored.Revision != reservation.Revision || stored.Items[0].Quantity != 3 {
		test.Fatalf("failed reschedule must leave the reservation untouched, got %+v", stored)
	}
	if reserved := mustGetSlot(test, healthy, from.Key).Reserved; reserved != 1 {
		test.Fatalf("expected old seat kept, reserved %d", reserved)
	}
	if reserved := mustGetSlot(test, healthy, to.Key).Reserved; reserved != 0 {
		test.Fatalf("expected new seat given back, reserved %d", reserved)
	}
	if count := mustGetProduct(test, healthy, tote.ID).CurrentOrderCount; count != 3 {
		test.Fatalf("expected tote count 3, got %d", count)
	}
}

func TestRescheduleRacingCancelKeepsCountersConsistent(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	service := newMemoryService(test)
	from := mustSlot(test, service, "2024-05-10", "10:00", 50)
	to := mustSlot(test, service, "2024-05-12", "14:00", 50)
	tote := mustProduct(test, service, booking.NewProductInput{Name: "Tote", TotalOrderLimit: 100})
	hat := mustProduct(test, service, booking.NewProductInput{Name: "Cap", TotalOrderLimit: 100})
	replacement := []booking.LineItem{mustItem(test, tote.ID, 1), mustItem(test, hat.ID, 1)}
	stays := mustCreateReservation(test, service, from, "stays@example.com", mustItem(test, tote.ID, 1))
	ids := []booking.ReservationID{stays.ID}

	for round := range 20 {
		target := mustCreateReservation(test, service, from, fmt.Sprintf("racer%d@example.com", round), mustItem(test, tote.ID, 2))
		ids = append(ids, target.ID)

		var (
			wg            sync.WaitGroup
			rescheduleErr error
			cancelErr     error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, rescheduleErr = service.Reschedule(ctx, target.ID, booking.RescheduleRequest{
				VisitDate:    &to.Date,
				VisitTime:    &to.Time,
				Items:        replacement,
				ReplaceItems: true,
			})
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = service.Cancel(ctx, target.ID)
		}()
		wg.Wait()

		if rescheduleErr != nil && !errors.Is(rescheduleErr, booking.ErrImmutable) {
			test.Fatalf("round %d: unexpected reschedule error %v", round, rescheduleErr)
		}
		if cancelErr != nil {
			test.Fatalf("round %d: cancel: %v", round, cancelErr)
		}

		seats := map[booking.SlotKey]int{}
		units := map[booking.ProductID]int{}
		for _, id := range ids {
			reservation, err := service.Get(ctx, id)
			if err != nil {
				test.Fatalf("get %s: %v", id, err)
			}
			if reservation.Status != booking.ReservationStatusConfirmed {
				continue
			}
			seats[reservation.SlotKey()]++
			for _, item := range reservation.Items {
				units[item.ProductID] += item.Quantity
			}
		}
		for _, slot := range []booking.TimeSlot{from, to} {
			if reserved := mustGetSlot(test, service, slot.Key).Reserved; reserved != seats[slot.Key] {
				test.Fatalf("round %d: slot %s reserved %d, confirmed reservations hold %d", round, slot.Key, reserved, seats[slot.Key])
			}
		}
		for _, product := range []booking.Product{tote, hat} {
			if count := mustGetProduct(test, service, product.ID).CurrentOrderCount; count != units[product.ID] {
				test.Fatalf("round %d: product %s count %d, confirmed reservations hold %d", round, product.Name, count, units[product.ID])
			}
		}
	}
}

func TestRescheduleToFullSlotLeavesStateUnchanged(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	service := newMemoryService(test)
	from := mustSlot(test, service, "2024-05-04", "10:00", 2)
	full := mustSlot(test, service, "2024-05-08", "10:00", 1)
	product := mustProduct(test, service, booking.NewProductInput{})
	mustCreateReservation(test, service, full, "first@example.com")
	reservation := mustCreateReservation(test, service, from, "visitor@example.com", mustItem(test, product.ID, 1))

	_, err := service.Reschedule(ctx, reservation.ID, booking.RescheduleRequest{
		VisitDate:    &full.Date,
		VisitTime:    &full.Time,
		Items:        []booking.LineItem{mustItem(test, product.ID, 4)},
		ReplaceItems: true,
	})
	if !errors.Is(err, booking.ErrSlotFull) {
		test.Fatalf("expected ErrSlotFull, got %v", err)
	}
	stored, err := service.Get(ctx, reservation.ID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if stored.SlotKey() != from.Key || stored.Revision != reservation.Revision || stored.QuantityOf(product.ID) != 1 {
		test.Fatalf("reservation changed after failed reschedule: %+v", stored)
	}
	if reserved := mustGetSlot(test, service, from.Key).Reserved; reserved != 1 {
		test.Fatalf("expected original seat kept, reserved %d", reserved)
	}
	if reserved := mustGetSlot(test, service, full.Key).Reserved; reserved != 1 {
		test.Fatalf("expected full slot untouched, reserved %d", reserved)
	}
	if count := mustGetProduct(test, service, product.ID).CurrentOrderCount; count != 1 {
		test.Fatalf("expected order count 1, got %d", count)
	}
}

func TestRescheduleLimitViolationReleasesNewSeat(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	service := newMemoryService(test)
	from := mustSlot(test, service, "2024-05-04", "10:00", 2)
	to := mustSlot(test, service, "2024-05-08", "10:00", 2)
	product := mustProduct(test, service, booking.NewProductInput{MaxPerReservation: 3})
	reservation := mustCreateReservation(test, service, from, "visitor@example.com", mustItem(test, product.ID, 1))

	_, err := service.Reschedule(ctx, reservation.ID, booking.RescheduleRequest{
		VisitDate:    &to.Date,
		Items:        []booking.LineItem{mustItem(test, product.ID, 5)},
		ReplaceItems: true,
	})
	if reasons := booking.LimitReasons(err); len(reasons) == 0 || reasons[0] != booking.LimitPerReservation {
		test.Fatalf("expected per_reservation violation, got %v", err)
	}
	if reserved := mustGetSlot(test, service, to.Key).Reserved; reserved != 0 {
		test.Fatalf("expected new seat compensated, reserved %d", reserved)
	}
	if reserved := mustGetSlot(test, service, from.Key).Reserved; reserved != 1 {
		test.Fatalf("expected original seat kept, reserved %d", reserved)
	}
}

func TestRescheduleWindow(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	service := newMemoryService(test)
	tomorrow := mustSlot(test, service, "2024-05-02", "10:00", 2)
	inThreeDays := mustSlot(test, service, "2024-05-04", "10:00", 2)
	target := mustSlot(test, service, "2024-05-09", "10:00", 4)
	product := mustProduct(test, service, booking.NewProductInput{})

	soon := mustCreateReservation(test, service, tomorrow, "soon@example.com", mustItem(test, product.ID, 1))
	if _, err := service.Reschedule(ctx, soon.ID, booking.RescheduleRequest{VisitDate: &target.Date}); !errors.Is(err, booking.ErrTooLate) {
		test.Fatalf("expected ErrTooLate for a next-day visit, got %v", err)
	}
	items, err := service.Reschedule(ctx, soon.ID, booking.RescheduleRequest{
		Items:        []booking.LineItem{mustItem(test, product.ID, 2)},
		ReplaceItems: true,
	})
	if err != nil {
		test.Fatalf("item-only change should ignore the window: %v", err)
	}
	if items.QuantityOf(product.ID) != 2 {
		test.Fatalf("unexpected items %+v", items.Items)
	}

	later := mustCreateReservation(test, service, inThreeDays, "later@example.com")
	moved, err := service.Reschedule(ctx, later.ID, booking.RescheduleRequest{VisitDate: &target.Date})
	if err != nil {
		test.Fatalf("reschedule three days out: %v", err)
	}
	if moved.SlotKey() != target.Key {
		test.Fatalf("unexpected slot %s", moved.SlotKey())
	}
}

func TestRescheduleExcludesOwnItemsFromUserLimit(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	service := newMemoryService(test)
	slot := mustSlot(test, service, "2024-05-10", "10:00", 4)
	product := mustProduct(test, service, booking.NewProductInput{MaxPerUser: 3, TotalOrderLimit: 3})
	reservation := mustCreateReservation(test, service, slot, "visitor@example.com", mustItem(test, product.ID, 3))

	updated, err := service.Reschedule(ctx, reservation.ID, booking.RescheduleRequest{
		Items:        []booking.LineItem{mustItem(test, product.ID, 3)},
		ReplaceItems: true,
	})
	if err != nil {
		test.Fatalf("expected replacement at the limit to pass, got %v", err)
	}
	if count := mustGetProduct(test, service, product.ID).CurrentOrderCount; count != 3 || updated.QuantityOf(product.ID) != 3 {
		test.Fatalf("unexpected counters after replacement: count %d, items %+v", count, updated.Items)
	}
}

func TestReservationNumberCollisionIsRegenerated(test *testing.T) {
	test.Parallel()
	numbers := &sequenceNumbers{numbers: []string{"JJS-2024-AAAAAA", "JJS-2024-AAAAAA", "JJS-2024-BBBBBB"}}
	service := newMemoryService(test, booking.WithReservationNumbers(numbers))
	slot := mustSlot(test, service, "2024-05-10", "10:00", 4)

	first := mustCreateReservation(test, service, slot, "first@example.com")
	second := mustCreateReservation(test, service, slot, "second@example.com")
	if first.Number.String() != "JJS-2024-AAAAAA" || second.Number.String() != "JJS-2024-BBBBBB" {
		test.Fatalf("unexpected numbers %s and %s", first.Number, second.Number)
	}
}

func TestReservationNumberExhaustionCompensates(test *testing.T) {
	test.Parallel()
	numbers := &sequenceNumbers{numbers: []string{"JJS-2024-AAAAAA"}}
	service := newMemoryService(test, booking.WithReservationNumbers(numbers))
	slot := mustSlot(test, service, "2024-05-10", "10:00", 4)
	mustCreateReservation(test, service, slot, "first@example.com")

	_, err := service.Create(context.Background(), booking.CreateReservationRequest{
		Customer:  mustCustomer(test, "second@example.com"),
		VisitDate: slot.Date,
		VisitTime: slot.Time,
	})
	if !errors.Is(err, booking.ErrReservationNumberTaken) {
		test.Fatalf("expected ErrReservationNumberTaken, got %v", err)
	}
	if reserved := mustGetSlot(test, service, slot.Key).Reserved; reserved != 1 {
		test.Fatalf("expected failed create to release its seat, reserved %d", reserved)
	}
}

func TestSearchAndDetails(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	service := newMemoryService(test)
	slot := mustSlot(test, service, "2024-05-10", "10:00", 10)
	other := mustSlot(test, service, "2024-05-11", "10:00", 10)
	product := mustProduct(test, service, booking.NewProductInput{Name: "Poster"})
	first := mustCreateReservation(test, service, slot, "ana@example.com", mustItem(test, product.ID, 2))
	mustCreateReservation(test, service, other, "ana@example.com")
	mustCreateReservation(test, service, slot, "ben@example.com")

	mine, err := service.ListByEmail(ctx, first.Customer.Email)
	if err != nil || len(mine) != 2 {
		test.Fatalf("expected two reservations for ana, got %d (%v)", len(mine), err)
	}
	onDay, err := service.Search(ctx, booking.ReservationQuery{VisitDate: slot.Date})
	if err != nil || len(onDay) != 2 {
		test.Fatalf("expected two reservations on %s, got %d (%v)", slot.Date, len(onDay), err)
	}
	limited, err := service.Search(ctx, booking.ReservationQuery{Limit: 1})
	if err != nil || len(limited) != 1 {
		test.Fatalf("expected limit to apply, got %d (%v)", len(limited), err)
	}
	byName, err := service.Search(ctx, booking.ReservationQuery{Name: "test cust", Status: booking.ReservationStatusConfirmed})
	if err != nil || len(byName) != 3 {
		test.Fatalf("expected name search to match all, got %d (%v)", len(byName), err)
	}

	details, err := service.Details(ctx, first)
	if err != nil {
		test.Fatalf("details: %v", err)
	}
	if len(details.Lines) != 1 || details.Lines[0].Name != "Poster" || !details.Lines[0].Known {
		test.Fatalf("unexpected details %+v", details.Lines)
	}
	if total := details.Total().String(); total != "25" {
		test.Fatalf("expected total 25, got %s", total)
	}

	missing, err := booking.NewProductID("gone")
	if err != nil {
		test.Fatalf("product id: %v", err)
	}
	orphan := first
	orphan.Items = []booking.LineItem{mustItem(test, missing, 1)}
	orphanDetails, err := service.Details(ctx, orphan)
	if err != nil {
		test.Fatalf("details for missing product: %v", err)
	}
	if orphanDetails.Lines[0].Known || orphanDetails.Lines[0].Name != "unknown product" {
		test.Fatalf("expected placeholder line, got %+v", orphanDetails.Lines[0])
	}
}

func TestServiceLogsOperations(test *testing.T) {
	test.Parallel()
	logger := &recorderLogger{}
	service := newMemoryService(test, booking.WithOperationLogger(logger))
	slot := mustSlot(test, service, "2024-05-10", "10:00", 1)
	reservation := mustCreateReservation(test, service, slot, "visitor@example.com")
	_, err := service.Create(context.Background(), booking.CreateReservationRequest{
		Customer:  mustCustomer(test, "late@example.com"),
		VisitDate: slot.Date,
		VisitTime: slot.Time,
	})
	if !errors.Is(err, booking.ErrSlotFull) {
		test.Fatalf("expected ErrSlotFull, got %v", err)
	}

	created := logger.byOperation(booking.OperationCreateReservation)
	if len(created) != 2 {
		test.Fatalf("expected two create log entries, got %d", len(created))
	}
	if created[0].Status != booking.OperationStatusOK || created[0].ReservationID != reservation.ID || created[0].SlotKey != slot.Key {
		test.Fatalf("unexpected success entry %+v", created[0])
	}
	if created[1].Status != booking.OperationStatusError || !errors.Is(created[1].Error, booking.ErrSlotFull) {
		test.Fatalf("unexpected failure entry %+v", created[1])
	}
	if reserves := logger.byOperation(booking.OperationReserveSlot); len(reserves) != 2 || reserves[0].Attempts != 1 {
		test.Fatalf("unexpected try_reserve entries %+v", reserves)
	}
}
