package booking_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/popupshop/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/popupshop/pkg/booking"
)

func seedCalendarMonth(test *testing.T, service *booking.Service) {
	test.Helper()
	ctx := context.Background()
	full := mustSlot(test, service, "2024-05-05", "10:00", 4)
	for range 4 {
		if err := service.Slots().TryReserve(ctx, full.Key); err != nil {
			test.Fatalf("try_reserve: %v", err)
		}
	}
	limited := mustSlot(test, service, "2024-05-06", "10:00", 5)
	for range 3 {
		if err := service.Slots().TryReserve(ctx, limited.Key); err != nil {
			test.Fatalf("try_reserve: %v", err)
		}
	}
	mustSlot(test, service, "2024-05-08", "10:00", 2)
	mustSlot(test, service, "2024-05-08", "14:00", 2)
	closedSlot := mustSlot(test, service, "2024-05-09", "10:00", 8)
	closed := false
	if _, err := service.Slots().Update(ctx, closedSlot.Key, booking.SlotUpdate{Available: &closed}); err != nil {
		test.Fatalf("update: %v", err)
	}
	mustSlot(test, service, "2024-06-01", "10:00", 10)
}

func TestMonthViewClassifiesDays(test *testing.T) {
	test.Parallel()
	service := newMemoryService(test)
	seedCalendarMonth(test, service)

	view, err := service.Calendar().MonthView(context.Background(), 2024, time.May)
	if err != nil {
		test.Fatalf("month view: %v", err)
	}
	if len(view.Days) != 31 {
		test.Fatalf("expected 31 days, got %d", len(view.Days))
	}
	cases := []struct {
		day       int
		status    booking.DayStatus
		available int
	}{
		{day: 5, status: booking.DayFull, available: 0},
		{day: 6, status: booking.DayLimited, available: 2},
		{day: 7, status: booking.DayUnavailable, available: 0},
		{day: 8, status: booking.DayAvailable, available: 4},
		{day: 9, status: booking.DayFull, available: 0},
		{day: 31, status: booking.DayUnavailable, available: 0},
	}
	for _, testCase := range cases {
		cell, found := view.Day(testCase.day)
		if !found {
			test.Fatalf("day %d missing", testCase.day)
		}
		if cell.Status != testCase.status || cell.AvailableSlots != testCase.available {
			test.Fatalf("day %d: expected %s/%d, got %s/%d", testCase.day, testCase.status, testCase.available, cell.Status, cell.AvailableSlots)
		}
	}
}

func TestMonthViewStrategiesAgree(test *testing.T) {
	test.Parallel()
	ranged := mustNewService(test, memstore.New())
	scanned := mustNewService(test, memstore.New(memstore.WithoutRangeQueries()))
	seedCalendarMonth(test, ranged)
	seedCalendarMonth(test, scanned)

	fromRange, err := ranged.Calendar().MonthView(context.Background(), 2024, time.May)
	if err != nil {
		test.Fatalf("range month view: %v", err)
	}
	fromScan, err := scanned.Calendar().MonthView(context.Background(), 2024, time.May)
	if err != nil {
		test.Fatalf("per-day month view: %v", err)
	}
	if !reflect.DeepEqual(fromRange, fromScan) {
		test.Fatalf("strategies disagree:\n%+v\n%+v", fromRange, fromScan)
	}
}

func TestMonthViewRejectsInvalidMonth(test *testing.T) {
	test.Parallel()
	service := newMemoryService(test)
	for _, month := range []time.Month{0, 13} {
		if _, err := service.Calendar().MonthView(context.Background(), 2024, month); !errors.Is(err, booking.ErrInvalidMonth) {
			test.Fatalf("expected ErrInvalidMonth for %d, got %v", month, err)
		}
	}
}

func TestMonthViewHandlesLeapFebruary(test *testing.T) {
	test.Parallel()
	service := newMemoryService(test)
	view, err := service.Calendar().MonthView(context.Background(), 2024, time.February)
	if err != nil {
		test.Fatalf("month view: %v", err)
	}
	if len(view.Days) != 29 {
		test.Fatalf("expected 29 days, got %d", len(view.Days))
	}
}
