package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	dateLayout      = "2006-01-02"
	timeOfDayLayout = "%02d:%02d"
)

// Date is a calendar day without a time zone.
type Date struct {
	year  int
	month time.Month
	day   int
}

// NewDate validates a year, month, and day triple.
func NewDate(year int, month time.Month, day int) (Date, error) {
	normalized := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if normalized.Year() != year || normalized.Month() != month || normalized.Day() != day {
		return Date{}, fmt.Errorf("%w: %04d-%02d-%02d", ErrInvalidDate, year, int(month), day)
	}
	return Date{year: year, month: month, day: day}, nil
}

// ParseDate parses a YYYY-MM-DD value.
func ParseDate(raw string) (Date, error) {
	parsed, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return DateOf(parsed), nil
}

// DateOf returns the calendar day of instant in its own location.
func DateOf(instant time.Time) Date {
	year, month, day := instant.Date()
	return Date{year: year, month: month, day: day}
}

func (date Date) Year() int         { return date.year }
func (date Date) Month() time.Month { return date.month }
func (date Date) Day() int          { return date.day }

// IsZero reports whether the date is unset.
func (date Date) IsZero() bool {
	return date.year == 0 && date.month == 0 && date.day == 0
}

// String formats the date as YYYY-MM-DD, or "" when unset.
func (date Date) String() string {
	if date.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", date.year, int(date.month), date.day)
}

// AddDays returns the date shifted by days.
func (date Date) AddDays(days int) Date {
	return DateOf(date.midnightUTC().AddDate(0, 0, days))
}

// Compare returns -1, 0, or 1.
func (date Date) Compare(other Date) int {
	return date.midnightUTC().Compare(other.midnightUTC())
}

func (date Date) Before(other Date) bool { return date.Compare(other) < 0 }
func (date Date) After(other Date) bool  { return date.Compare(other) > 0 }

func (date Date) midnightUTC() time.Time {
	return time.Date(date.year, date.month, date.day, 0, 0, 0, 0, time.UTC)
}

// TimeOfDay is a wall-clock time with minute granularity.
type TimeOfDay struct {
	hour   int
	minute int
}

// NewTimeOfDay validates an hour and minute pair.
func NewTimeOfDay(hour int, minute int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: %02d:%02d", ErrInvalidTimeOfDay, hour, minute)
	}
	return TimeOfDay{hour: hour, minute: minute}, nil
}

// ParseTimeOfDay parses an HH:MM value.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) != 5 || trimmed[2] != ':' || !isDigits(trimmed[:2]) || !isDigits(trimmed[3:]) {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, raw)
	}
	hour := int(trimmed[0]-'0')*10 + int(trimmed[1]-'0')
	minute := int(trimmed[3]-'0')*10 + int(trimmed[4]-'0')
	return NewTimeOfDay(hour, minute)
}

func (timeOfDay TimeOfDay) Hour() int   { return timeOfDay.hour }
func (timeOfDay TimeOfDay) Minute() int { return timeOfDay.minute }

// String formats the time as HH:MM.
func (timeOfDay TimeOfDay) String() string {
	return fmt.Sprintf(timeOfDayLayout, timeOfDay.hour, timeOfDay.minute)
}

// Compare returns -1, 0, or 1.
func (timeOfDay TimeOfDay) Compare(other TimeOfDay) int {
	left := timeOfDay.hour*60 + timeOfDay.minute
	right := other.hour*60 + other.minute
	switch {
	case left < right:
		return -1
	case left > right:
		return 1
	default:
		return 0
	}
}

// ProductID identifies a product.
type ProductID struct {
	value string
}

// NewProductID validates and normalizes a product id.
func NewProductID(raw string) (ProductID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ProductID{}, fmt.Errorf("%w: empty value", ErrInvalidProductID)
	}
	return ProductID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ProductID) String() string {
	return id.value
}

// ReservationID identifies a reservation.
type ReservationID struct {
	value string
}

// NewReservationID validates and normalizes a reservation id.
func NewReservationID(raw string) (ReservationID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ReservationID{}, fmt.Errorf("%w: empty value", ErrInvalidReservationID)
	}
	return ReservationID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ReservationID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id ReservationID) IsZero() bool {
	return id.value == ""
}

// ReservationNumber is the customer-facing reservation code.
type ReservationNumber struct {
	value string
}

// NewReservationNumber validates and normalizes a reservation number.
func NewReservationNumber(raw string) (ReservationNumber, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	if trimmed == "" {
		return ReservationNumber{}, fmt.Errorf("%w: empty value", ErrInvalidReservationNumber)
	}
	return ReservationNumber{value: trimmed}, nil
}

// String returns the normalized number.
func (number ReservationNumber) String() string {
	return number.value
}

// Email is a normalized customer email address.
type Email struct {
	value string
}

// NewEmail trims and lower-cases an address and checks its basic shape.
func NewEmail(raw string) (Email, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	at := strings.LastIndex(normalized, "@")
	if at <= 0 || at == len(normalized)-1 || strings.ContainsAny(normalized, " \t\r\n") {
		return Email{}, fmt.Errorf("%w: %q", ErrInvalidEmail, raw)
	}
	return Email{value: normalized}, nil
}

// String returns the normalized address.
func (email Email) String() string {
	return email.value
}

// IsZero reports whether the address is unset.
func (email Email) IsZero() bool {
	return email.value == ""
}

// Customer holds reservation contact details.
type Customer struct {
	Email Email
	Name  string
	Phone string
}

// NewCustomer validates contact details.
func NewCustomer(email string, name string, phone string) (Customer, error) {
	parsedEmail, err := NewEmail(email)
	if err != nil {
		return Customer{}, err
	}
	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		return Customer{}, fmt.Errorf("%w: empty name", ErrInvalidCustomer)
	}
	return Customer{Email: parsedEmail, Name: trimmedName, Phone: strings.TrimSpace(phone)}, nil
}

// LineItem is a product quantity attached to a reservation.
type LineItem struct {
	ProductID ProductID
	Quantity  int
}

// NewLineItem validates a product quantity pair.
func NewLineItem(productID string, quantity int) (LineItem, error) {
	id, err := NewProductID(productID)
	if err != nil {
		return LineItem{}, err
	}
	if quantity <= 0 {
		return LineItem{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	return LineItem{ProductID: id, Quantity: quantity}, nil
}

// ReservationStatus defines the reservation lifecycle.
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "pending"
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	ReservationStatusCancelled ReservationStatus = "cancelled"
	ReservationStatusCompleted ReservationStatus = "completed"
)

// ActiveReservationStatuses lists the statuses whose allocations count against the ledgers.
// Every call returns a fresh slice.
func ActiveReservationStatuses() []ReservationStatus {
	return []ReservationStatus{ReservationStatusPending, ReservationStatusConfirmed}
}

// ParseReservationStatus validates a raw status value.
func ParseReservationStatus(raw string) (ReservationStatus, error) {
	status := ReservationStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case ReservationStatusPending, ReservationStatusConfirmed, ReservationStatusCancelled, ReservationStatusCompleted:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidReservationStatus, raw)
	}
}

// String returns the raw status.
func (status ReservationStatus) String() string {
	return string(status)
}

// IsTerminal reports whether no further transition is allowed.
func (status ReservationStatus) IsTerminal() bool {
	return status == ReservationStatusCancelled || status == ReservationStatusCompleted
}

// TimeSlot is a bookable (date, time) unit with finite capacity.
type TimeSlot struct {
	Key       SlotKey
	Date      Date
	Time      TimeOfDay
	Capacity  int
	Reserved  int
	Available bool
	Revision  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OpenSeats returns the seats a customer could still book.
func (slot TimeSlot) OpenSeats() int {
	if !slot.Available || slot.Reserved >= slot.Capacity {
		return 0
	}
	return slot.Capacity - slot.Reserved
}

// Product is merchandise that can be pre-ordered with a reservation.
type Product struct {
	ID                ProductID
	Name              string
	Description       string
	ImageURL          string
	Price             decimal.Decimal
	OrderStart        time.Time
	OrderEnd          time.Time
	MaxPerReservation int
	MaxPerUser        int
	// TotalOrderLimit of zero means unbounded.
	TotalOrderLimit   int
	CurrentOrderCount int
	Active            bool
	Revision          int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasTotalLimit reports whether the product caps its total orders.
func (product Product) HasTotalLimit() bool {
	return product.TotalOrderLimit > 0
}

// Reservation is a customer's visit booking with optional pre-orders.
type Reservation struct {
	ID        ReservationID
	Number    ReservationNumber
	Customer  Customer
	VisitDate Date
	VisitTime TimeOfDay
	Status    ReservationStatus
	Items     []LineItem
	Revision  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SlotKey returns the key of the slot the reservation occupies.
func (reservation Reservation) SlotKey() SlotKey {
	return NewSlotKey(reservation.VisitDate, reservation.VisitTime)
}

// QuantityOf sums the reservation's quantity for productID.
func (reservation Reservation) QuantityOf(productID ProductID) int {
	total := 0
	for _, item := range reservation.Items {
		if item.ProductID == productID {
			total += item.Quantity
		}
	}
	return total
}

func isDigits(raw string) bool {
	for _, character := range raw {
		if character < '0' || character > '9' {
			return false
		}
	}
	return raw != ""
}
