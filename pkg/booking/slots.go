package booking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

// Clock returns the current instant.
type Clock func() time.Time

// SlotLedger owns capacity and reserved counts of timeslots.
type SlotLedger struct {
	store    Store
	clock    Clock
	settings settings
}

// SlotUpdate is a partial update of a slot; nil fields are left unchanged.
type SlotUpdate struct {
	Capacity  *int
	Available *bool
}

// SlotStats summarizes upcoming availability.
type SlotStats struct {
	From            Date
	To              Date
	TotalSlots      int
	TotalCapacity   int
	TotalReserved   int
	AvailableSeats  int
	FullSlots       int
	ReservationRate float64
	ByDate          []DayStats
}

// DayStats is the per-date breakdown of SlotStats.
type DayStats struct {
	Date           Date
	TotalSlots     int
	TotalCapacity  int
	TotalReserved  int
	AvailableSeats int
	FullSlots      int
}

// NewSlotLedger wires a SlotLedger.
func NewSlotLedger(store Store, clock Clock, options ...Option) (*SlotLedger, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if clock == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	current, err := newSettings(options)
	if err != nil {
		return nil, err
	}
	return &SlotLedger{store: store, clock: clock, settings: current}, nil
}

// Create adds a slot. It fails with ErrSlotExists rather than overwriting an existing key.
func (ledger *SlotLedger) Create(ctx context.Context, date Date, timeOfDay TimeOfDay, capacity int) (TimeSlot, error) {
	key := NewSlotKey(date, timeOfDay)
	slot, err := ledger.create(ctx, key, date, timeOfDay, capacity)
	ledger.settings.logOperation(ctx, OperationLog{
		Operation: OperationCreateSlot,
		SlotKey:   key,
		Attempts:  1,
		Error:     err,
	})
	return slot, err
}

func (ledger *SlotLedger) create(ctx context.Context, key SlotKey, date Date, timeOfDay TimeOfDay, capacity int) (TimeSlot, error) {
	if date.IsZero() {
		return TimeSlot{}, fmt.Errorf("%w: date is required", ErrInvalidDate)
	}
	if capacity <= 0 {
		return TimeSlot{}, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	now := ledger.clock().UTC()
	slot := TimeSlot{
		Key:       key,
		Date:      date,
		Time:      timeOfDay,
		Capacity:  capacity,
		Available: true,
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ledger.store.InsertSlot(ctx, slot); err != nil {
		return TimeSlot{}, err
	}
	return slot, nil
}

// Get returns the slot stored under key.
func (ledger *SlotLedger) Get(ctx context.Context, key SlotKey) (TimeSlot, error) {
	return ledger.store.GetSlot(ctx, key)
}

// ListByDate returns the slots of date ordered by time.
func (ledger *SlotLedger) ListByDate(ctx context.Context, date Date) ([]TimeSlot, error) {
	slots, err := ledger.store.ListSlots(ctx, SlotFilter{Date: date})
	if err != nil {
		return nil, err
	}
	sortSlots(slots)
	return slots, nil
}

// ListByRange returns the slots dated start..end inclusive, ordered by date and time.
// Stores without range query support are scanned one day at a time.
// Spans longer than maxRangeDays are rejected.
func (ledger *SlotLedger) ListByRange(ctx context.Context, start Date, end Date) ([]TimeSlot, error) {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return nil, fmt.Errorf("%w: %s..%s", ErrInvalidRange, start, end)
	}
	if end.After(start.AddDays(maxRangeDays - 1)) {
		return nil, fmt.Errorf("%w: %s..%s spans more than %d days", ErrInvalidRange, start, end, maxRangeDays)
	}
	var (
		slots []TimeSlot
		err   error
	)
	if ledger.store.Capabilities().RangeQueries {
		slots, err = ledger.store.ListSlots(ctx, SlotFilter{From: start, To: end})
	} else {
		slots, err = ledger.listDayByDay(ctx, start, end)
	}
	if err != nil {
		return nil, err
	}
	sortSlots(slots)
	return slots, nil
}

func (ledger *SlotLedger) listDayByDay(ctx context.Context, start Date, end Date) ([]TimeSlot, error) {
	var slots []TimeSlot
	for day := start; !day.After(end); day = day.AddDays(1) {
		daySlots, err := ledger.store.ListSlots(ctx, SlotFilter{Date: day})
		if err != nil {
			return nil, err
		}
		slots = append(slots, daySlots...)
	}
	return slots, nil
}

// Update applies a partial capacity/availability change.
func (ledger *SlotLedger) Update(ctx context.Context, key SlotKey, update SlotUpdate) (TimeSlot, error) {
	var updated TimeSlot
	attempts, err := ledger.settings.retry.run(ctx, func(ctx context.Context) error {
		slot, err := ledger.store.GetSlot(ctx, key)
		if err != nil {
			return err
		}
		if update.Capacity != nil {
			if *update.Capacity <= 0 {
				return fmt.Errorf("%w: %d", ErrInvalidCapacity, *update.Capacity)
			}
			if *update.Capacity < slot.Reserved {
				return fmt.Errorf("%w: %d is below %d reserved seats", ErrInvalidCapacity, *update.Capacity, slot.Reserved)
			}
			slot.Capacity = *update.Capacity
		}
		if update.Available != nil {
			slot.Available = *update.Available
		}
		return ledger.writeSlot(ctx, ledger.store, &slot, &updated)
	})
	ledger.settings.logOperation(ctx, OperationLog{
		Operation: OperationUpdateSlot,
		SlotKey:   key,
		Attempts:  attempts,
		Error:     err,
	})
	if err != nil {
		return TimeSlot{}, err
	}
	return updated, nil
}

// Delete removes a slot and reports whether it existed.
// Slots that still hold reserved seats are kept and ErrSlotInUse is returned.
func (ledger *SlotLedger) Delete(ctx context.Context, key SlotKey) (bool, error) {
	deleted := false
	attempts, err := ledger.settings.retry.run(ctx, func(ctx context.Context) error {
		slot, err := ledger.store.GetSlot(ctx, key)
		if errors.Is(err, ErrUnknownSlot) {
			return nil
		}
		if err != nil {
			return err
		}
		if slot.Reserved > 0 {
			return fmt.Errorf("%w: %d reserved seats", ErrSlotInUse, slot.Reserved)
		}
		err = ledger.store.DeleteSlot(ctx, key, slot.Revision)
		if errors.Is(err, ErrUnknownSlot) {
			return nil
		}
		if err != nil {
			return err
		}
		deleted = true
		return nil
	})
	ledger.settings.logOperation(ctx, OperationLog{
		Operation: OperationDeleteSlot,
		SlotKey:   key,
		Attempts:  attempts,
		Error:     err,
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// TryReserve takes one seat of the slot if it is available and not full.
func (ledger *SlotLedger) TryReserve(ctx context.Context, key SlotKey) error {
	attempts, err := ledger.settings.retry.run(ctx, func(ctx context.Context) error {
		slot, err := ledger.store.GetSlot(ctx, key)
		if err != nil {
			return err
		}
		if !slot.Available {
			return fmt.Errorf("%w: %s", ErrSlotUnavailable, key)
		}
		if slot.Reserved >= slot.Capacity {
			return fmt.Errorf("%w: %s", ErrSlotFull, key)
		}
		slot.Reserved++
		return ledger.writeSlot(ctx, ledger.store, &slot, nil)
	})
	ledger.settings.logOperation(ctx, OperationLog{
		Operation: OperationReserveSlot,
		SlotKey:   key,
		Attempts:  attempts,
		Error:     err,
	})
	return err
}

// Release gives one seat back, never taking the reserved count below zero.
func (ledger *SlotLedger) Release(ctx context.Context, key SlotKey) error {
	attempts, err := ledger.settings.retry.run(ctx, func(ctx context.Context) error {
		slot, err := ledger.store.GetSlot(ctx, key)
		if err != nil {
			return err
		}
		if slot.Reserved <= 0 {
			return nil
		}
		slot.Reserved--
		return ledger.writeSlot(ctx, ledger.store, &slot, nil)
	})
	ledger.settings.logOperation(ctx, OperationLog{
		Operation: OperationReleaseSlot,
		SlotKey:   key,
		Attempts:  attempts,
		Error:     err,
	})
	return err
}

// Stats summarizes available slots dated from today through today+days.
func (ledger *SlotLedger) Stats(ctx context.Context, days int) (SlotStats, error) {
	if days <= 0 {
		days = defaultStatsHorizonDays
	}
	days = min(days, maxRangeDays-1)
	from := ledger.settings.today(ledger.clock)
	to := from.AddDays(days)
	slots, err := ledger.ListByRange(ctx, from, to)
	if err != nil {
		return SlotStats{}, err
	}
	stats := SlotStats{From: from, To: to}
	for _, slot := range slots {
		if !slot.Available {
			continue
		}
		full := 0
		if slot.Reserved >= slot.Capacity {
			full = 1
		}
		if len(stats.ByDate) == 0 || stats.ByDate[len(stats.ByDate)-1].Date != slot.Date {
			stats.ByDate = append(stats.ByDate, DayStats{Date: slot.Date})
		}
		day := &stats.ByDate[len(stats.ByDate)-1]
		day.TotalSlots++
		day.TotalCapacity += slot.Capacity
		day.TotalReserved += slot.Reserved
		day.AvailableSeats += slot.OpenSeats()
		day.FullSlots += full

		stats.TotalSlots++
		stats.TotalCapacity += slot.Capacity
		stats.TotalReserved += slot.Reserved
		stats.AvailableSeats += slot.OpenSeats()
		stats.FullSlots += full
	}
	if stats.TotalCapacity > 0 {
		rate := float64(stats.TotalReserved) / float64(stats.TotalCapacity) * 100
		stats.ReservationRate = math.Round(rate*100) / 100
	}
	return stats, nil
}

// writeSlot persists slot conditioned on its current revision and, when out is non-nil, stores the written state there.
// releaseIn gives one seat back through store with a single conditional write.
// A conflict is returned as is so the enclosing transaction can be retried whole.
func (ledger *SlotLedger) releaseIn(ctx context.Context, store Store, key SlotKey) error {
	slot, err := store.GetSlot(ctx, key)
	if errors.Is(err, ErrUnknownSlot) {
		return nil
	}
	if err != nil {
		return err
	}
	if slot.Reserved <= 0 {
		return nil
	}
	slot.Reserved--
	return ledger.writeSlot(ctx, store, &slot, nil)
}

func (ledger *SlotLedger) writeSlot(ctx context.Context, store Store, slot *TimeSlot, out *TimeSlot) error {
	expected := slot.Revision
	slot.UpdatedAt = ledger.clock().UTC()
	if err := store.UpdateSlot(ctx, *slot, expected); err != nil {
		return err
	}
	slot.Revision = expected + 1
	if out != nil {
		*out = *slot
	}
	return nil
}

func sortSlots(slots []TimeSlot) {
	slices.SortFunc(slots, func(left TimeSlot, right TimeSlot) int {
		if byDate := left.Date.Compare(right.Date); byDate != 0 {
			return byDate
		}
		return left.Time.Compare(right.Time)
	})
}
