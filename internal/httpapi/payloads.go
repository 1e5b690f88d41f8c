package httpapi

import (
	"time"

	"github.com/MarkoPoloResearchLab/popupshop/pkg/booking"
)

const priceDecimals = 2

type lineItemPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type createReservationRequest struct {
	Email     string            `json:"email"`
	Name      string            `json:"name"`
	Phone     string            `json:"phone"`
	VisitDate string            `json:"visit_date"`
	VisitTime string            `json:"visit_time"`
	Items     []lineItemPayload `json:"items"`
}

type rescheduleRequest struct {
	VisitDate *string            `json:"visit_date"`
	VisitTime *string            `json:"visit_time"`
	Items     *[]lineItemPayload `json:"items"`
}

type createSlotRequest struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	Capacity int    `json:"capacity"`
}

type updateSlotRequest struct {
	Capacity  *int  `json:"capacity"`
	Available *bool `json:"available"`
}

type productRequest struct {
	Name              *string    `json:"name"`
	Description       *string    `json:"description"`
	ImageURL          *string    `json:"image_url"`
	Price             *string    `json:"price"`
	OrderStart        *time.Time `json:"order_start"`
	OrderEnd          *time.Time `json:"order_end"`
	MaxPerReservation *int       `json:"max_per_reservation"`
	MaxPerUser        *int       `json:"max_per_user"`
	TotalOrderLimit   *int       `json:"total_order_limit"`
	Active            *bool      `json:"active"`
}

type slotPayload struct {
	Key       string `json:"key"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Capacity  int    `json:"capacity"`
	Reserved  int    `json:"reserved"`
	Available bool   `json:"available"`
	OpenSeats int    `json:"open_seats"`
}

type productPayload struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Description       string     `json:"description"`
	ImageURL          string     `json:"image_url"`
	Price             string     `json:"price"`
	OrderStart        *time.Time `json:"order_start,omitempty"`
	OrderEnd          *time.Time `json:"order_end,omitempty"`
	MaxPerReservation int        `json:"max_per_reservation"`
	MaxPerUser        int        `json:"max_per_user"`
	TotalOrderLimit   int        `json:"total_order_limit"`
	CurrentOrderCount int        `json:"current_order_count"`
	Active            bool       `json:"active"`
}

type availabilityPayload struct {
	Available         bool `json:"available"`
	AvailableCount    int  `json:"available_count"`
	MaxPerReservation int  `json:"max_per_reservation"`
	MaxPerUser        int  `json:"max_per_user"`
	CurrentOrderCount int  `json:"current_order_count"`
	TotalOrderLimit   int  `json:"total_order_limit"`
}

type lineDetailPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Price     string `json:"price"`
	Quantity  int    `json:"quantity"`
	Known     bool   `json:"known"`
}

type reservationPayload struct {
	ID        string              `json:"id"`
	Number    string              `json:"number"`
	Email     string              `json:"email"`
	Name      string              `json:"name"`
	Phone     string              `json:"phone"`
	VisitDate string              `json:"visit_date"`
	VisitTime string              `json:"visit_time"`
	Status    string              `json:"status"`
	Items     []lineItemPayload   `json:"items"`
	Lines     []lineDetailPayload `json:"lines,omitempty"`
	Total     string              `json:"total,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type dayPayload struct {
	Day            int    `json:"day"`
	Status         string `json:"status"`
	AvailableSlots int    `json:"available_slots"`
}

type monthPayload struct {
	Year  int          `json:"year"`
	Month int          `json:"month"`
	Days  []dayPayload `json:"days"`
}

type dayStatsPayload struct {
	Date           string `json:"date"`
	TotalSlots     int    `json:"total_slots"`
	TotalCapacity  int    `json:"total_capacity"`
	TotalReserved  int    `json:"total_reserved"`
	AvailableSeats int    `json:"available_seats"`
	FullSlots      int    `json:"full_slots"`
}

type statsPayload struct {
	From            string            `json:"from"`
	To              string            `json:"to"`
	TotalSlots      int               `json:"total_slots"`
	TotalCapacity   int               `json:"total_capacity"`
	TotalReserved   int               `json:"total_reserved"`
	AvailableSeats  int               `json:"available_seats"`
	FullSlots       int               `json:"full_slots"`
	ReservationRate float64           `json:"reservation_rate"`
	ByDate          []dayStatsPayload `json:"by_date"`
}

func parseLineItems(payloads []lineItemPayload) ([]booking.LineItem, error) {
	items := make([]booking.LineItem, 0, len(payloads))
	for _, payload := range payloads {
		item, err := booking.NewLineItem(payload.ProductID, payload.Quantity)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func newSlotPayload(slot booking.TimeSlot) slotPayload {
	return slotPayload{
		Key:       slot.Key.String(),
		Date:      slot.Date.String(),
		Time:      slot.Time.String(),
		Capacity:  slot.Capacity,
		Reserved:  slot.Reserved,
		Available: slot.Available,
		OpenSeats: slot.OpenSeats(),
	}
}

func newSlotPayloads(slots []booking.TimeSlot) []slotPayload {
	payloads := make([]slotPayload, 0, len(slots))
	for _, slot := range slots {
		payloads = append(payloads, newSlotPayload(slot))
	}
	return payloads
}

func newProductPayload(product booking.Product) productPayload {
	return productPayload{
		ID:                product.ID.String(),
		Name:              product.Name,
		Description:       product.Description,
		ImageURL:          product.ImageURL,
		Price:             product.Price.StringFixed(priceDecimals),
		OrderStart:        optionalTime(product.OrderStart),
		OrderEnd:          optionalTime(product.OrderEnd),
		MaxPerReservation: product.MaxPerReservation,
		MaxPerUser:        product.MaxPerUser,
		TotalOrderLimit:   product.TotalOrderLimit,
		CurrentOrderCount: product.CurrentOrderCount,
		Active:            product.Active,
	}
}

func newProductPayloads(products []booking.Product) []productPayload {
	payloads := make([]productPayload, 0, len(products))
	for _, product := range products {
		payloads = append(payloads, newProductPayload(product))
	}
	return payloads
}

func newReservationPayload(reservation booking.Reservation) reservationPayload {
	items := make([]lineItemPayload, 0, len(reservation.Items))
	for _, item := range reservation.Items {
		items = append(items, lineItemPayload{ProductID: item.ProductID.String(), Quantity: item.Quantity})
	}
	return reservationPayload{
		ID:        reservation.ID.String(),
		Number:    reservation.Number.String(),
		Email:     reservation.Customer.Email.String(),
		Name:      reservation.Customer.Name,
		Phone:     reservation.Customer.Phone,
		VisitDate: reservation.VisitDate.String(),
		VisitTime: reservation.VisitTime.String(),
		Status:    reservation.Status.String(),
		Items:     items,
		CreatedAt: reservation.CreatedAt,
		UpdatedAt: reservation.UpdatedAt,
	}
}

func newReservationPayloads(reservations []booking.Reservation) []reservationPayload {
	payloads := make([]reservationPayload, 0, len(reservations))
	for _, reservation := range reservations {
		payloads = append(payloads, newReservationPayload(reservation))
	}
	return payloads
}

func newDetailsPayload(details booking.ReservationDetails) reservationPayload {
	payload := newReservationPayload(details.Reservation)
	payload.Lines = make([]lineDetailPayload, 0, len(details.Lines))
	for _, line := range details.Lines {
		payload.Lines = append(payload.Lines, lineDetailPayload{
			ProductID: line.ProductID.String(),
			Name:      line.Name,
			Price:     line.Price.StringFixed(priceDecimals),
			Quantity:  line.Quantity,
			Known:     line.Known,
		})
	}
	payload.Total = details.Total().StringFixed(priceDecimals)
	return payload
}

func newMonthPayload(view booking.MonthView) monthPayload {
	days := make([]dayPayload, 0, len(view.Days))
	for _, day := range view.Days {
		days = append(days, dayPayload{Day: day.Day, Status: string(day.Status), AvailableSlots: day.AvailableSlots})
	}
	return monthPayload{Year: view.Year, Month: int(view.Month), Days: days}
}

func newStatsPayload(stats booking.SlotStats) statsPayload {
	byDate := make([]dayStatsPayload, 0, len(stats.ByDate))
	for _, day := range stats.ByDate {
		byDate = append(byDate, dayStatsPayload{
			Date:           day.Date.String(),
			TotalSlots:     day.TotalSlots,
			TotalCapacity:  day.TotalCapacity,
			TotalReserved:  day.TotalReserved,
			AvailableSeats: day.AvailableSeats,
			FullSlots:      day.FullSlots,
		})
	}
	return statsPayload{
		From:            stats.From.String(),
		To:              stats.To.String(),
		TotalSlots:      stats.TotalSlots,
		TotalCapacity:   stats.TotalCapacity,
		TotalReserved:   stats.TotalReserved,
		AvailableSeats:  stats.AvailableSeats,
		FullSlots:       stats.FullSlots,
		ReservationRate: stats.ReservationRate,
		ByDate:          byDate,
	}
}

func optionalTime(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	return &value
}
