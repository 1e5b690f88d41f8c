package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const compensationTimeout = 10 * time.Second

// Service drives the reservation lifecycle across the slot and product ledgers.
type Service struct {
	store    Store
	clock    Clock
	settings settings
	slots    *SlotLedger
	products *ProductLedger
	calendar *Calendar
}

// CreateReservationRequest describes a new booking.
type CreateReservationRequest struct {
	Customer  Customer
	VisitDate Date
	VisitTime TimeOfDay
	Items     []LineItem
}

// RescheduleRequest changes the visit and optionally the items of a reservation.
// Nil date or time keeps the current value. When ReplaceItems is set, Items
// replaces the current item set entirely, an empty Items clearing it.
type RescheduleRequest struct {
	VisitDate    *Date
	VisitTime    *TimeOfDay
	Items        []LineItem
	ReplaceItems bool
}

type compensationStep func(ctx context.Context) error

// NewService validates dependencies and constructs the lifecycle service with its ledgers.
func NewService(store Store, clock Clock, options ...Option) (*Service, error) {
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
	slots := &SlotLedger{store: store, clock: clock, settings: current}
	products := &ProductLedger{store: store, clock: clock, settings: current}
	calendar, err := NewCalendar(slots)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:    store,
		clock:    clock,
		settings: current,
		slots:    slots,
		products: products,
		calendar: calendar,
	}, nil
}

// Slots exposes the timeslot ledger.
func (service *Service) Slots() *SlotLedger {
	return service.slots
}

// Products exposes the product ledger.
func (service *Service) Products() *ProductLedger {
	return service.products
}

// Calendar exposes the month view aggregator.
func (service *Service) Calendar() *Calendar {
	return service.calendar
}

// Create books a seat, allocates the requested items, and persists a confirmed reservation.
// Any failure after the seat is taken gives back everything acquired so far.
func (service *Service) Create(ctx context.Context, request CreateReservationRequest) (Reservation, error) {
	key := NewSlotKey(request.VisitDate, request.VisitTime)
	reservation, err := service.create(ctx, key, request)
	service.settings.logOperation(ctx, OperationLog{
		Operation:         OperationCreateReservation,
		SlotKey:           key,
		Items:             reservation.Items,
		ReservationID:     reservation.ID,
		ReservationNumber: reservation.Number,
		Attempts:          1,
		Error:             err,
	})
	return reservation, err
}

func (service *Service) create(ctx context.Context, key SlotKey, request CreateReservationRequest) (Reservation, error) {
	if request.Customer.Email.IsZero() || request.Customer.Name == "" {
		return Reservation{}, fmt.Errorf("%w: email and name are required", ErrInvalidCustomer)
	}
	if request.VisitDate.IsZero() {
		return Reservation{}, fmt.Errorf("%w: visit date is required", ErrInvalidDate)
	}
	items := mergeLineItems(request.Items)
	for _, item := range items {
		if item.Quantity <= 0 {
			return Reservation{}, fmt.Errorf("%w: %d for product %s", ErrInvalidQuantity, item.Quantity, item.ProductID)
		}
	}

	if err := service.slots.TryReserve(ctx, key); err != nil {
		return Reservation{}, err
	}
	undo := []compensationStep{func(ctx context.Context) error {
		return service.slots.Release(ctx, key)
	}}

	if len(items) > 0 {
		check := AllocationRequest{Items: items, UserEmail: request.Customer.Email}
		if err := service.products.CheckAllocation(ctx, check); err != nil {
			return Reservation{}, service.compensate(ctx, undo, key, err)
		}
		if err := service.products.TryAllocate(ctx, items); err != nil {
			return Reservation{}, service.compensate(ctx, undo, key, err)
		}
		undo = append(undo, func(ctx context.Context) error {
			return service.products.Release(ctx, items)
		})
	}

	now := service.clock().UTC()
	reservation := Reservation{
		ID:        ReservationID{value: uuid.NewString()},
		Customer:  request.Customer,
		VisitDate: request.VisitDate,
		VisitTime: request.VisitTime,
		Status:    ReservationStatusConfirmed,
		Items:     items,
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := service.insertReservation(ctx, &reservation); err != nil {
		return Reservation{}, service.compensate(ctx, undo, key, err)
	}
	return reservation, nil
}

// insertReservation draws a fresh number for every attempt that hits a taken one.
func (service *Service) insertReservation(ctx context.Context, reservation *Reservation) error {
	for attempt := 1; ; attempt++ {
		reservation.Number = service.settings.numbers.Next(service.clock().In(service.settings.location))
		err := service.store.InsertReservation(ctx, *reservation)
		if err == nil || !errors.Is(err, ErrReservationNumberTaken) || attempt >= service.settings.numberAttempts {
			return err
		}
	}
}

// Reschedule moves a reservation to another slot and/or replaces its items.
// The new side is acquired first. The rewrite of the record and the release
// of the old side then commit in one transaction.
func (service *Service) Reschedule(ctx context.Context, reservationID ReservationID, request RescheduleRequest) (Reservation, error) {
	var rescheduled Reservation
	attempts, err := service.settings.retry.run(ctx, func(ctx context.Context) error {
		updated, err := service.reschedule(ctx, reservationID, request)
		if err != nil {
			return err
		}
		rescheduled = updated
		return nil
	})
	service.settings.logOperation(ctx, OperationLog{
		Operation:         OperationRescheduleReservation,
		SlotKey:           rescheduled.SlotKey(),
		Items:             rescheduled.Items,
		ReservationID:     reservationID,
		ReservationNumber: rescheduled.Number,
		Attempts:          attempts,
		Error:             err,
	})
	if err != nil {
		return Reservation{}, err
	}
	return rescheduled, nil
}

func (service *Service) reschedule(ctx context.Context, reservationID ReservationID, request RescheduleRequest) (Reservation, error) {
	current, err := service.store.GetReservation(ctx, reservationID)
	if err != nil {
		return Reservation{}, err
	}
	if current.Status.IsTerminal() {
		return Reservation{}, fmt.Errorf("%w: status %s", ErrImmutable, current.Status)
	}

	updated := current
	if request.VisitDate != nil {
		updated.VisitDate = *request.VisitDate
	}
	if request.VisitTime != nil {
		updated.VisitTime = *request.VisitTime
	}
	if request.ReplaceItems {
		updated.Items = mergeLineItems(request.Items)
		for _, item := range updated.Items {
			if item.Quantity <= 0 {
				return Reservation{}, fmt.Errorf("%w: %d for product %s", ErrInvalidQuantity, item.Quantity, item.ProductID)
			}
		}
	}
	if updated.VisitDate.IsZero() {
		return Reservation{}, fmt.Errorf("%w: visit date is required", ErrInvalidDate)
	}

	oldKey := current.SlotKey()
	newKey := updated.SlotKey()
	slotChanged := oldKey != newKey
	if slotChanged {
		cutoff := service.settings.today(service.clock).AddDays(rescheduleLeadDays)
		if !current.VisitDate.After(cutoff) {
			return Reservation{}, fmt.Errorf("%w: visit on %s", ErrTooLate, current.VisitDate)
		}
	}
	grow, shrink := itemDelta(current.Items, updated.Items)

	var undo []compensationStep
	if slotChanged {
		if err := service.slots.TryReserve(ctx, newKey); err != nil {
			return Reservation{}, err
		}
		undo = append(undo, func(ctx context.Context) error {
			return service.slots.Release(ctx, newKey)
		})
	}
	if request.ReplaceItems && len(updated.Items) > 0 {
		check := AllocationRequest{
			Items:              updated.Items,
			UserEmail:          current.Customer.Email,
			ExcludeReservation: current.ID,
			Previous:           current.Items,
		}
		if err := service.products.CheckAllocation(ctx, check); err != nil {
			return Reservation{}, service.compensate(ctx, undo, newKey, err)
		}
	}
	if len(grow) > 0 {
		if err := service.products.TryAllocate(ctx, grow); err != nil {
			return Reservation{}, service.compensate(ctx, undo, newKey, err)
		}
		undo = append(undo, func(ctx context.Context) error {
			return service.products.Release(ctx, grow)
		})
	}

	updated.UpdatedAt = service.clock().UTC()
	err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if err := txStore.UpdateReservation(ctx, updated, current.Revision); err != nil {
			return err
		}
		if slotChanged {
			if err := service.slots.releaseIn(ctx, txStore, oldKey); err != nil {
				return err
			}
		}
		return service.products.releaseIn(ctx, txStore, shrink)
	})
	if err != nil {
		return Reservation{}, service.compensate(ctx, undo, newKey, err)
	}
	updated.Revision = current.Revision + 1
	return updated, nil
}

// Cancel marks a reservation cancelled and returns its seat and items exactly once.
// The status change and both releases commit in one transaction.
func (service *Service) Cancel(ctx context.Context, reservationID ReservationID) (Reservation, error) {
	var cancelled Reservation
	attempts, err := service.settings.retry.run(ctx, func(ctx context.Context) error {
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			current, err := txStore.GetReservation(ctx, reservationID)
			if err != nil {
				return err
			}
			switch current.Status {
			case ReservationStatusCancelled:
				return fmt.Errorf("%w: %s", ErrAlreadyCancelled, current.Number)
			case ReservationStatusCompleted:
				return fmt.Errorf("%w: status %s", ErrImmutable, current.Status)
			}
			next := current
			next.Status = ReservationStatusCancelled
			next.UpdatedAt = service.clock().UTC()
			if err := txStore.UpdateReservation(ctx, next, current.Revision); err != nil {
				return err
			}
			if err := service.slots.releaseIn(ctx, txStore, next.SlotKey()); err != nil {
				return err
			}
			if err := service.products.releaseIn(ctx, txStore, next.Items); err != nil {
				return err
			}
			next.Revision = current.Revision + 1
			cancelled = next
			return nil
		})
	})
	service.settings.logOperation(ctx, OperationLog{
		Operation:         OperationCancelReservation,
		SlotKey:           cancelled.SlotKey(),
		Items:             cancelled.Items,
		ReservationID:     reservationID,
		ReservationNumber: cancelled.Number,
		Attempts:          attempts,
		Error:             err,
	})
	if err != nil {
		return Reservation{}, err
	}
	return cancelled, nil
}

// Complete marks a confirmed reservation as fulfilled. Allocations stay counted.
func (service *Service) Complete(ctx context.Context, reservationID ReservationID) (Reservation, error) {
	var completed Reservation
	attempts, err := service.settings.retry.run(ctx, func(ctx context.Context) error {
		current, err := service.store.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		switch current.Status {
		case ReservationStatusCompleted:
			return fmt.Errorf("%w: %s", ErrAlreadyCompleted, current.Number)
		case ReservationStatusCancelled:
			return fmt.Errorf("%w: status %s", ErrImmutable, current.Status)
		}
		next := current
		next.Status = ReservationStatusCompleted
		next.UpdatedAt = service.clock().UTC()
		if err := service.store.UpdateReservation(ctx, next, current.Revision); err != nil {
			return err
		}
		next.Revision = current.Revision + 1
		completed = next
		return nil
	})
	service.settings.logOperation(ctx, OperationLog{
		Operation:         OperationCompleteReservation,
		ReservationID:     reservationID,
		ReservationNumber: completed.Number,
		Attempts:          attempts,
		Error:             err,
	})
	if err != nil {
		return Reservation{}, err
	}
	return completed, nil
}

// compensate unwinds steps in reverse order and returns cause unchanged when
// every step succeeds. The unwind ignores cancellation of ctx.
func (service *Service) compensate(ctx context.Context, steps []compensationStep, key SlotKey, cause error) error {
	if len(steps) == 0 {
		return cause
	}
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	var failures []error
	for index := len(steps) - 1; index >= 0; index-- {
		if err := steps[index](detached); err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) == 0 {
		return cause
	}
	failure := errors.Join(failures...)
	service.settings.logOperation(ctx, OperationLog{
		Operation: OperationCompensate,
		SlotKey:   key,
		Attempts:  1,
		Error:     failure,
	})
	return WrapError(errorOperationService, errorSubjectReservation, errorCodeCompensation,
		fmt.Errorf("%w: %v; compensation failed: %v", ErrStoreUnavailable, cause, failure))
}
