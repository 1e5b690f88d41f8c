package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	slotKeySeparator         = "_"
	reservationSuffixLength  = 6
	defaultReservationPrefix = "JJS"
)

// SlotKey is the primary key of a TimeSlot, derived from its date and time.
type SlotKey struct {
	value string
}

// NewSlotKey derives the key for (date, time), e.g. 2024-05-01_1000.
func NewSlotKey(date Date, timeOfDay TimeOfDay) SlotKey {
	return SlotKey{value: fmt.Sprintf("%s%s%02d%02d", date.String(), slotKeySeparator, timeOfDay.hour, timeOfDay.minute)}
}

// ParseSlotKey validates a raw key and returns it normalized.
func ParseSlotKey(raw string) (SlotKey, error) {
	date, timeOfDay, err := splitSlotKey(strings.TrimSpace(raw))
	if err != nil {
		return SlotKey{}, err
	}
	return NewSlotKey(date, timeOfDay), nil
}

// String returns the encoded key.
func (key SlotKey) String() string {
	return key.value
}

// IsZero reports whether the key is unset.
func (key SlotKey) IsZero() bool {
	return key.value == ""
}

// Decode returns the date and time the key was derived from.
func (key SlotKey) Decode() (Date, TimeOfDay, error) {
	return splitSlotKey(key.value)
}

func splitSlotKey(raw string) (Date, TimeOfDay, error) {
	datePart, timePart, found := strings.Cut(raw, slotKeySeparator)
	if !found || len(timePart) != 4 || !isDigits(timePart) {
		return Date{}, TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidSlotKey, raw)
	}
	date, err := ParseDate(datePart)
	if err != nil {
		return Date{}, TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidSlotKey, raw)
	}
	timeOfDay, err := ParseTimeOfDay(timePart[:2] + ":" + timePart[2:])
	if err != nil {
		return Date{}, TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidSlotKey, raw)
	}
	return date, timeOfDay, nil
}

// ReservationNumberGenerator produces customer-facing reservation codes.
// Codes are for display; uniqueness is enforced by the store, not by the generator.
type ReservationNumberGenerator interface {
	Next(now time.Time) ReservationNumber
}

type randomReservationNumbers struct {
	prefix string
}

// NewReservationNumberGenerator returns a generator of PREFIX-YYYY-XXXXXX codes with a random hex suffix.
func NewReservationNumberGenerator(prefix string) (ReservationNumberGenerator, error) {
	normalized := strings.ToUpper(strings.TrimSpace(prefix))
	if normalized == "" {
		normalized = defaultReservationPrefix
	}
	if strings.ContainsAny(normalized, " -\t") {
		return nil, fmt.Errorf("%w: reservation prefix %q", ErrInvalidServiceConfig, prefix)
	}
	return randomReservationNumbers{prefix: normalized}, nil
}

func (generator randomReservationNumbers) Next(now time.Time) ReservationNumber {
	suffix := strings.ToUpper(uuid.NewString()[:reservationSuffixLength])
	return ReservationNumber{value: fmt.Sprintf("%s-%d-%s", generator.prefix, now.Year(), suffix)}
}
