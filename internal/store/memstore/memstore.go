// Package memstore keeps booking state in process memory (for testing/dev).
package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/MarkoPoloResearchLab/popupshop/pkg/booking"
)

const (
	errorOperationStore     = "store"
	errorSubjectSlot        = "slot"
	errorSubjectProduct     = "product"
	errorSubjectReservation = "reservation"
	errorCodeInsert         = "insert"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeList           = "list"
	errorCodeUpdate         = "update"
	errorCodeDelete         = "delete"
)

// Option configures a Store.
type Option func(*Store)

// WithoutRangeQueries makes the store refuse From/To slot filters, as a
// document store without a sorted date index would.
func WithoutRangeQueries() Option {
	return func(store *Store) {
		store.shared.capabilities.RangeQueries = false
	}
}

// Store implements booking.Store in memory. WithTx serializes transactions
// against every other call and applies their writes only on success.
type Store struct {
	shared *shared
	// tx is the working copy of a transaction view; nil outside transactions.
	tx *data
}

type shared struct {
	mu           sync.Mutex
	current      *data
	capabilities booking.Capabilities
}

type data struct {
	slots        map[string]booking.TimeSlot
	products     map[string]booking.Product
	reservations map[string]booking.Reservation
	numbers      map[string]string
}

// New returns an empty Store.
func New(options ...Option) *Store {
	store := &Store{shared: &shared{
		current:      newData(),
		capabilities: booking.Capabilities{RangeQueries: true},
	}}
	for _, option := range options {
		if option != nil {
			option(store)
		}
	}
	return store
}

func newData() *data {
	return &data{
		slots:        make(map[string]booking.TimeSlot),
		products:     make(map[string]booking.Product),
		reservations: make(map[string]booking.Reservation),
		numbers:      make(map[string]string),
	}
}

func (state *data) clone() *data {
	return &data{
		slots:        cloneMap(state.slots),
		products:     cloneMap(state.products),
		reservations: cloneMap(state.reservations),
		numbers:      cloneMap(state.numbers),
	}
}

func cloneMap[V any](source map[string]V) map[string]V {
	cloned := make(map[string]V, len(source))
	for key, value := range source {
		cloned[key] = value
	}
	return cloned
}

// access runs fn against the transaction copy, or against shared state under the lock.
func (store *Store) access(fn func(state *data) error) error {
	if store.tx != nil {
		return fn(store.tx)
	}
	store.shared.mu.Lock()
	defer store.shared.mu.Unlock()
	return fn(store.shared.current)
}

// WithTx executes fn on a private copy of the state and publishes it when fn succeeds.
// Nested calls join the outer transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	if store.tx != nil {
		return fn(ctx, store)
	}
	store.shared.mu.Lock()
	defer store.shared.mu.Unlock()
	working := store.shared.current.clone()
	if err := fn(ctx, &Store{shared: store.shared, tx: working}); err != nil {
		return err
	}
	store.shared.current = working
	return nil
}

// Capabilities reports the configured query support.
func (store *Store) Capabilities() booking.Capabilities {
	return store.shared.capabilities
}

func (store *Store) InsertSlot(_ context.Context, slot booking.TimeSlot) error {
	return store.access(func(state *data) error {
		key := slot.Key.String()
		if _, exists := state.slots[key]; exists {
			return wrapStoreError(errorSubjectSlot, errorCodeDuplicate, fmt.Errorf("%w: %s", booking.ErrSlotExists, key))
		}
		state.slots[key] = slot
		return nil
	})
}

func (store *Store) GetSlot(_ context.Context, key booking.SlotKey) (booking.TimeSlot, error) {
	var slot booking.TimeSlot
	err := store.access(func(state *data) error {
		found, exists := state.slots[key.String()]
		if !exists {
			return wrapStoreError(errorSubjectSlot, errorCodeGet, fmt.Errorf("%w: %s", booking.ErrUnknownSlot, key))
		}
		slot = found
		return nil
	})
	return slot, err
}

func (store *Store) ListSlots(_ context.Context, filter booking.SlotFilter) ([]booking.TimeSlot, error) {
	ranged := filter.Date.IsZero() && (!filter.From.IsZero() || !filter.To.IsZero())
	if ranged && !store.shared.capabilities.RangeQueries {
		return nil, wrapStoreError(errorSubjectSlot, errorCodeList, fmt.Errorf("%w: range queries are not supported", booking.ErrStoreUnavailable))
	}
	var slots []booking.TimeSlot
	err := store.access(func(state *data) error {
		for _, slot := range state.slots {
			if matchesSlot(slot, filter) {
				slots = append(slots, slot)
			}
		}
		return nil
	})
	return slots, err
}

func matchesSlot(slot booking.TimeSlot, filter booking.SlotFilter) bool {
	if !filter.Date.IsZero() {
		return slot.Date == filter.Date
	}
	if !filter.From.IsZero() && slot.Date.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && slot.Date.After(filter.To) {
		return false
	}
	return true
}

func (store *Store) UpdateSlot(_ context.Context, slot booking.TimeSlot, expectedRevision int64) error {
	return store.access(func(state *data) error {
		key := slot.Key.String()
		current, exists := state.slots[key]
		if !exists {
			return wrapStoreError(errorSubjectSlot, errorCodeUpdate, fmt.Errorf("%w: %s", booking.ErrUnknownSlot, key))
		}
		if current.Revision != expectedRevision {
			return wrapStoreError(errorSubjectSlot, errorCodeUpdate, fmt.Errorf("%w: slot %s at revision %d", booking.ErrConflict, key, current.Revision))
		}
		slot.Revision = expectedRevision + 1
		state.slots[key] = slot
		return nil
	})
}

func (store *Store) DeleteSlot(_ context.Context, key booking.SlotKey, expectedRevision int64) error {
	return store.access(func(state *data) error {
		current, exists := state.slots[key.String()]
		if !exists {
			return wrapStoreError(errorSubjectSlot, errorCodeDelete, fmt.Errorf("%w: %s", booking.ErrUnknownSlot, key))
		}
		if current.Revision != expectedRevision {
			return wrapStoreError(errorSubjectSlot, errorCodeDelete, fmt.Errorf("%w: slot %s at revision %d", booking.ErrConflict, key, current.Revision))
		}
		delete(state.slots, key.String())
		return nil
	})
}

func (store *Store) InsertProduct(_ context.Context, product booking.Product) error {
	return store.access(func(state *data) error {
		id := product.ID.String()
		if _, exists := state.products[id]; exists {
			return wrapStoreError(errorSubjectProduct, errorCodeDuplicate, fmt.Errorf("%w: %s", booking.ErrProductExists, id))
		}
		state.products[id] = product
		return nil
	})
}

func (store *Store) GetProduct(_ context.Context, productID booking.ProductID) (booking.Product, error) {
	var product booking.Product
	err := store.access(func(state *data) error {
		found, exists := state.products[productID.String()]
		if !exists {
			return wrapStoreError(errorSubjectProduct, errorCodeGet, fmt.Errorf("%w: %s", booking.ErrUnknownProduct, productID))
		}
		product = found
		return nil
	})
	return product, err
}

func (store *Store) ListProducts(_ context.Context, filter booking.ProductFilter) ([]booking.Product, error) {
	var products []booking.Product
	err := store.access(func(state *data) error {
		for _, product := range state.products {
			if filter.ActiveOnly && !product.Active {
				continue
			}
			products = append(products, product)
		}
		return nil
	})
	return products, err
}

func (store *Store) UpdateProduct(_ context.Context, product booking.Product, expectedRevision int64) error {
	return store.access(func(state *data) error {
		id := product.ID.String()
		current, exists := state.products[id]
		if !exists {
			return wrapStoreError(errorSubjectProduct, errorCodeUpdate, fmt.Errorf("%w: %s", booking.ErrUnknownProduct, id))
		}
		if current.Revision != expectedRevision {
			return wrapStoreError(errorSubjectProduct, errorCodeUpdate, fmt.Errorf("%w: product %s at revision %d", booking.ErrConflict, id, current.Revision))
		}
		product.Revision = expectedRevision + 1
		state.products[id] = product
		return nil
	})
}

func (store *Store) InsertReservation(_ context.Context, reservation booking.Reservation) error {
	return store.access(func(state *data) error {
		id := reservation.ID.String()
		if _, exists := state.reservations[id]; exists {
			return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, fmt.Errorf("%w: %s", booking.ErrReservationExists, id))
		}
		number := reservation.Number.String()
		if _, taken := state.numbers[number]; taken {
			return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, fmt.Errorf("%w: %s", booking.ErrReservationNumberTaken, number))
		}
		reservation.Items = slices.Clone(reservation.Items)
		state.reservations[id] = reservation
		state.numbers[number] = id
		return nil
	})
}

func (store *Store) GetReservation(_ context.Context, reservationID booking.ReservationID) (booking.Reservation, error) {
	var reservation booking.Reservation
	err := store.access(func(state *data) error {
		found, exists := state.reservations[reservationID.String()]
		if !exists {
			return wrapStoreError(errorSubjectReservation, errorCodeGet, fmt.Errorf("%w: %s", booking.ErrUnknownReservation, reservationID))
		}
		reservation = found
		reservation.Items = slices.Clone(found.Items)
		return nil
	})
	return reservation, err
}

func (store *Store) GetReservationByNumber(_ context.Context, number booking.ReservationNumber) (booking.Reservation, error) {
	var reservation booking.Reservation
	err := store.access(func(state *data) error {
		id, exists := state.numbers[number.String()]
		if !exists {
			return wrapStoreError(errorSubjectReservation, errorCodeGet, fmt.Errorf("%w: number %s", booking.ErrUnknownReservation, number))
		}
		reservation = state.reservations[id]
		reservation.Items = slices.Clone(reservation.Items)
		return nil
	})
	return reservation, err
}

func (store *Store) ListReservations(_ context.Context, filter booking.ReservationFilter) ([]booking.Reservation, error) {
	var reservations []booking.Reservation
	err := store.access(func(state *data) error {
		for _, reservation := range state.reservations {
			if matchesReservation(reservation, filter) {
				reservation.Items = slices.Clone(reservation.Items)
				reservations = append(reservations, reservation)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if filter.Limit > 0 {
		slices.SortStableFunc(reservations, func(left booking.Reservation, right booking.Reservation) int {
			return right.CreatedAt.Compare(left.CreatedAt)
		})
		if len(reservations) > filter.Limit {
			reservations = reservations[:filter.Limit]
		}
	}
	return reservations, nil
}

func matchesReservation(reservation booking.Reservation, filter booking.ReservationFilter) bool {
	if !filter.Email.IsZero() && reservation.Customer.Email != filter.Email {
		return false
	}
	if filter.Number.String() != "" && reservation.Number != filter.Number {
		return false
	}
	if filter.Name != "" && !strings.Contains(strings.ToLower(reservation.Customer.Name), strings.ToLower(filter.Name)) {
		return false
	}
	if !filter.VisitDate.IsZero() && reservation.VisitDate != filter.VisitDate {
		return false
	}
	if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, reservation.Status) {
		return false
	}
	return true
}

func (store *Store) UpdateReservation(_ context.Context, reservation booking.Reservation, expectedRevision int64) error {
	return store.access(func(state *data) error {
		id := reservation.ID.String()
		current, exists := state.reservations[id]
		if !exists {
			return wrapStoreError(errorSubjectReservation, errorCodeUpdate, fmt.Errorf("%w: %s", booking.ErrUnknownReservation, id))
		}
		if current.Revision != expectedRevision {
			return wrapStoreError(errorSubjectReservation, errorCodeUpdate, fmt.Errorf("%w: reservation %s at revision %d", booking.ErrConflict, id, current.Revision))
		}
		reservation.Revision = expectedRevision + 1
		reservation.Items = slices.Clone(reservation.Items)
		reservation.Number = current.Number
		reservation.CreatedAt = current.CreatedAt
		state.reservations[id] = reservation
		return nil
	})
}

func wrapStoreError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationStore, subject, code, err)
}
