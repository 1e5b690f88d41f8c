package booking

import "context"

// Capabilities describes optional query support of a Store.
type Capabilities struct {
	// RangeQueries reports whether ListSlots can serve a From/To range in a single query.
	RangeQueries bool
}

// SlotFilter selects slots by exact date or by an inclusive date range.
// A non-zero Date takes precedence over From/To; an empty filter lists every slot.
type SlotFilter struct {
	Date Date
	From Date
	To   Date
}

// ProductFilter selects products.
type ProductFilter struct {
	ActiveOnly bool
}

// ReservationFilter selects reservations by each non-zero field. Name matches
// as a case-insensitive substring, every other field by equality.
// With Limit > 0 stores return the newest reservations first.
type ReservationFilter struct {
	Email     Email
	Number    ReservationNumber
	Name      string
	VisitDate Date
	Statuses  []ReservationStatus
	Limit     int
}

// Store is the persistence port of the booking engine.
//
// Update and delete methods are conditional writes: they succeed only while the
// stored revision equals expectedRevision and fail with ErrConflict otherwise.
// A successful update stores the record with revision expectedRevision+1.
// Transport and driver failures are reported wrapped in ErrStoreUnavailable.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	Capabilities() Capabilities

	InsertSlot(ctx context.Context, slot TimeSlot) error
	GetSlot(ctx context.Context, key SlotKey) (TimeSlot, error)
	ListSlots(ctx context.Context, filter SlotFilter) ([]TimeSlot, error)
	UpdateSlot(ctx context.Context, slot TimeSlot, expectedRevision int64) error
	DeleteSlot(ctx context.Context, key SlotKey, expectedRevision int64) error

	InsertProduct(ctx context.Context, product Product) error
	GetProduct(ctx context.Context, productID ProductID) (Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
	UpdateProduct(ctx context.Context, product Product, expectedRevision int64) error

	InsertReservation(ctx context.Context, reservation Reservation) error
	GetReservation(ctx context.Context, reservationID ReservationID) (Reservation, error)
	GetReservationByNumber(ctx context.Context, number ReservationNumber) (Reservation, error)
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
	UpdateReservation(ctx context.Context, reservation Reservation, expectedRevision int64) error
}
