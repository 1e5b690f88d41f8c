package booking

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// ReservationQuery filters the staff reservation search. Zero fields match everything.
type ReservationQuery struct {
	Number    ReservationNumber
	Name      string
	Email     Email
	VisitDate Date
	Status    ReservationStatus
	Limit     int
}

// ReservationDetails is a reservation with its line items resolved against the catalog.
type ReservationDetails struct {
	Reservation Reservation
	Lines       []LineDetail
}

// LineDetail is one resolved line item. Known is false when the product no longer exists.
type LineDetail struct {
	ProductID   ProductID
	Name        string
	Description string
	Price       decimal.Decimal
	Quantity    int
	Known       bool
}

// Get returns a reservation by id.
func (service *Service) Get(ctx context.Context, reservationID ReservationID) (Reservation, error) {
	return service.store.GetReservation(ctx, reservationID)
}

// GetByNumber returns a reservation by its customer-facing number.
func (service *Service) GetByNumber(ctx context.Context, number ReservationNumber) (Reservation, error) {
	return service.store.GetReservationByNumber(ctx, number)
}

// ListByEmail returns every reservation of a customer, newest first.
func (service *Service) ListByEmail(ctx context.Context, email Email) ([]Reservation, error) {
	reservations, err := service.store.ListReservations(ctx, ReservationFilter{Email: email})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(reservations)
	return reservations, nil
}

// Search returns reservations matching query, newest first. The limit
// defaults to 100 and is capped at 1000.
func (service *Service) Search(ctx context.Context, query ReservationQuery) ([]Reservation, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	filter := ReservationFilter{
		Email:     query.Email,
		Number:    query.Number,
		Name:      strings.TrimSpace(query.Name),
		VisitDate: query.VisitDate,
		Limit:     limit,
	}
	if query.Status != "" {
		filter.Statuses = []ReservationStatus{query.Status}
	}
	reservations, err := service.store.ListReservations(ctx, filter)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(reservations)
	if len(reservations) > limit {
		reservations = reservations[:limit]
	}
	return reservations, nil
}

// Details resolves the line items of a reservation. Products that were
// removed from the catalog are reported with a placeholder name.
func (service *Service) Details(ctx context.Context, reservation Reservation) (ReservationDetails, error) {
	details := ReservationDetails{Reservation: reservation, Lines: make([]LineDetail, 0, len(reservation.Items))}
	for _, item := range reservation.Items {
		line := LineDetail{ProductID: item.ProductID, Name: unknownProductName, Quantity: item.Quantity}
		product, err := service.store.GetProduct(ctx, item.ProductID)
		switch {
		case err == nil:
			line.Name = product.Name
			line.Description = product.Description
			line.Price = product.Price
			line.Known = true
		case !errors.Is(err, ErrUnknownProduct):
			return ReservationDetails{}, err
		}
		details.Lines = append(details.Lines, line)
	}
	return details, nil
}

// Total sums price times quantity over the known lines.
func (details ReservationDetails) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range details.Lines {
		if line.Known {
			total = total.Add(line.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}
	}
	return total
}

func sortNewestFirst(reservations []Reservation) {
	slices.SortStableFunc(reservations, func(left Reservation, right Reservation) int {
		return right.CreatedAt.Compare(left.CreatedAt)
	})
}
