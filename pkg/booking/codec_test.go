package booking_test

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/popupshop/pkg/booking"
)

func TestSlotKeyRoundTrip(test *testing.T) {
	test.Parallel()
	date := mustDate(test, "2024-05-01")
	timeOfDay := mustTimeOfDay(test, "10:00")

	key := booking.NewSlotKey(date, timeOfDay)
	if key.String() != "2024-05-01_1000" {
		test.Fatalf("unexpected key %q", key)
	}
	decodedDate, decodedTime, err := key.Decode()
	if err != nil {
		test.Fatalf("decode: %v", err)
	}
	if decodedDate != date || decodedTime != timeOfDay {
		test.Fatalf("decoded %s %s, want %s %s", decodedDate, decodedTime, date, timeOfDay)
	}
	parsed, err := booking.ParseSlotKey(" 2024-05-01_1000 ")
	if err != nil {
		test.Fatalf("parse: %v", err)
	}
	if parsed != key {
		test.Fatalf("parsed key %q differs from %q", parsed, key)
	}
}

func TestSlotKeysDoNotCollide(test *testing.T) {
	test.Parallel()
	seen := make(map[booking.SlotKey]string)
	for _, date := range []string{"2024-05-01", "2024-05-02", "2024-12-31"} {
		for _, clock := range []string{"00:00", "09:05", "10:00", "10:30", "23:59"} {
			key := booking.NewSlotKey(mustDate(test, date), mustTimeOfDay(test, clock))
			if previous, exists := seen[key]; exists {
				test.Fatalf("key %s produced by %s and %s %s", key, previous, date, clock)
			}
			seen[key] = date + " " + clock
		}
	}
}

func TestParseSlotKeyRejectsMalformedInput(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"", "2024-05-01", "2024-05-01_10:00", "2024-05-01_2400", "2024-13-01_1000", "2024-05-01-1000", "2024-05-01_10a0"} {
		if _, err := booking.ParseSlotKey(raw); !errors.Is(err, booking.ErrInvalidSlotKey) {
			test.Fatalf("expected ErrInvalidSlotKey for %q, got %v", raw, err)
		}
	}
}

func TestParseTimeOfDayIsStrict(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"9:00", "09:60", "24:00", "0900", "09:00:00"} {
		if _, err := booking.ParseTimeOfDay(raw); !errors.Is(err, booking.ErrInvalidTimeOfDay) {
			test.Fatalf("expected ErrInvalidTimeOfDay for %q, got %v", raw, err)
		}
	}
}

func TestDateArithmeticCrossesMonthAndYear(test *testing.T) {
	test.Parallel()
	if got := mustDate(test, "2024-02-28").AddDays(1).String(); got != "2024-02-29" {
		test.Fatalf("leap day: got %s", got)
	}
	if got := mustDate(test, "2024-12-31").AddDays(1).String(); got != "2025-01-01" {
		test.Fatalf("year rollover: got %s", got)
	}
	if !mustDate(test, "2024-05-01").Before(mustDate(test, "2024-05-02")) {
		test.Fatalf("expected ordering by day")
	}
	if _, err := booking.NewDate(2023, time.February, 29); !errors.Is(err, booking.ErrInvalidDate) {
		test.Fatalf("expected ErrInvalidDate for 2023-02-29, got %v", err)
	}
}

func TestReservationNumberFormat(test *testing.T) {
	test.Parallel()
	generator, err := booking.NewReservationNumberGenerator("")
	if err != nil {
		test.Fatalf("generator: %v", err)
	}
	pattern := regexp.MustCompile(`^JJS-2024-[0-9A-F]{6}$`)
	first := generator.Next(fixedNow)
	if !pattern.MatchString(first.String()) {
		test.Fatalf("unexpected reservation number %q", first)
	}

	custom, err := booking.NewReservationNumberGenerator("pop")
	if err != nil {
		test.Fatalf("custom generator: %v", err)
	}
	if got := custom.Next(time.Date(2031, time.January, 1, 0, 0, 0, 0, time.UTC)).String(); !regexp.MustCompile(`^POP-2031-[0-9A-F]{6}$`).MatchString(got) {
		test.Fatalf("unexpected custom number %q", got)
	}
}

func TestReservationNumberGeneratorRejectsSeparatorInPrefix(test *testing.T) {
	test.Parallel()
	if _, err := booking.NewReservationNumberGenerator("JJ-S"); !errors.Is(err, booking.ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
	}
}

func TestNewEmailNormalizes(test *testing.T) {
	test.Parallel()
	email, err := booking.NewEmail("  Visitor@Example.COM ")
	if err != nil {
		test.Fatalf("new email: %v", err)
	}
	if email.String() != "visitor@example.com" {
		test.Fatalf("unexpected normalized email %q", email)
	}
	for _, raw := range []string{"", "visitor", "@example.com", "visitor@", "a b@example.com"} {
		if _, err := booking.NewEmail(raw); !errors.Is(err, booking.ErrInvalidEmail) {
			test.Fatalf("expected ErrInvalidEmail for %q, got %v", raw, err)
		}
	}
}
