package booking_test

import (
	"context"
	"testing"

	"github.com/MarkoPoloResearchLab/popupshop/pkg/booking"
)

func TestJoinOperationLoggersFansOut(test *testing.T) {
	test.Parallel()
	first := &recorderLogger{}
	second := &recorderLogger{}
	joined := booking.JoinOperationLoggers(first, nil, second)

	service := newMemoryService(test, booking.WithOperationLogger(joined))
	mustSlot(test, service, "2024-05-10", "10:00", 2)

	for name, logger := range map[string]*recorderLogger{"first": first, "second": second} {
		entries := logger.byOperation(booking.OperationCreateSlot)
		if len(entries) != 1 || entries[0].Status != booking.OperationStatusOK || entries[0].SlotKey.String() != "2024-05-10_1000" {
			test.Fatalf("%s logger: unexpected entries %+v", name, entries)
		}
	}
}

func TestFailedOperationsAreLoggedWithError(test *testing.T) {
	test.Parallel()
	logger := &recorderLogger{}
	service := newMemoryService(test, booking.WithOperationLogger(logger))
	slot := mustSlot(test, service, "2024-05-10", "10:00", 2)
	_, _ = service.Slots().Create(context.Background(), slot.Date, slot.Time, 2)

	entries := logger.byOperation(booking.OperationCreateSlot)
	if len(entries) != 2 {
		test.Fatalf("expected two create entries, got %d", len(entries))
	}
	if entries[1].Status != booking.OperationStatusError || entries[1].Error == nil {
		test.Fatalf("expected error entry, got %+v", entries[1])
	}
}
