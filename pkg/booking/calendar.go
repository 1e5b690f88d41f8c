package booking

import (
	"context"
	"fmt"
	"time"
)

// DayStatus classifies a calendar day for customers.
type DayStatus string

const (
	DayUnavailable DayStatus = "unavailable"
	DayFull        DayStatus = "full"
	DayLimited     DayStatus = "limited"
	DayAvailable   DayStatus = "available"
)

// DayAvailability is the calendar cell of one day. AvailableSlots counts open seats.
type DayAvailability struct {
	Day            int
	Status         DayStatus
	AvailableSlots int
}

// MonthView lists every day of a month in order.
type MonthView struct {
	Year  int
	Month time.Month
	Days  []DayAvailability
}

// Day returns the cell of a day of the month.
func (view MonthView) Day(day int) (DayAvailability, bool) {
	if day < 1 || day > len(view.Days) {
		return DayAvailability{}, false
	}
	return view.Days[day-1], true
}

// Calendar derives month views from slot state. It never writes.
type Calendar struct {
	slots *SlotLedger
}

// NewCalendar wires a Calendar over a slot ledger.
func NewCalendar(slots *SlotLedger) (*Calendar, error) {
	if slots == nil {
		return nil, fmt.Errorf("%w: slot ledger dependency is nil", ErrInvalidServiceConfig)
	}
	return &Calendar{slots: slots}, nil
}

// MonthView classifies each day of the month by the open seats of its available slots.
// A day without slots is unavailable; zero open seats is full, one or two is
// limited, and three or more is available.
func (calendar *Calendar) MonthView(ctx context.Context, year int, month time.Month) (MonthView, error) {
	if month < time.January || month > time.December || year < 1 {
		return MonthView{}, fmt.Errorf("%w: %d-%02d", ErrInvalidMonth, year, int(month))
	}
	first, err := NewDate(year, month, 1)
	if err != nil {
		return MonthView{}, fmt.Errorf("%w: %v", ErrInvalidMonth, err)
	}
	last := first.AddDays(daysIn(year, month) - 1)
	slots, err := calendar.slots.ListByRange(ctx, first, last)
	if err != nil {
		return MonthView{}, err
	}

	seats := make(map[int]int)
	for _, slot := range slots {
		seats[slot.Date.Day()] += slot.OpenSeats()
	}

	view := MonthView{Year: year, Month: month, Days: make([]DayAvailability, 0, daysIn(year, month))}
	for day := 1; day <= daysIn(year, month); day++ {
		cell := DayAvailability{Day: day, Status: DayUnavailable}
		if open, found := seats[day]; found {
			cell.AvailableSlots = open
			switch {
			case open == 0:
				cell.Status = DayFull
			case open <= limitedSlotThreshold:
				cell.Status = DayLimited
			default:
				cell.Status = DayAvailable
			}
		}
		view.Days = append(view.Days, cell)
	}
	return view, nil
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
