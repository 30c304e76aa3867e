package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxAdvisoryDuration is the length above which a booking is flagged but
// still accepted.
const MaxAdvisoryDuration = 24 * time.Hour

// Warning is a non-fatal finding from interval validation.
type Warning struct {
	Code    string
	Message string
}

const WarnLongDuration = "long_duration"

// ValidateInterval builds an Interval and reports advisory warnings. Only an
// end that is not after start is an error.
func ValidateInterval(start, end time.Time) (Interval, []Warning, error) {
	iv, err := NewInterval(start, end)
	if err != nil {
		return Interval{}, nil, err
	}
	var warnings []Warning
	if d := iv.Duration(); d > MaxAdvisoryDuration {
		warnings = append(warnings, Warning{
			Code:    WarnLongDuration,
			Message: fmt.Sprintf("appointment lasts %s, longer than %s", d, MaxAdvisoryDuration),
		})
	}
	return iv, warnings, nil
}

// FindConflict returns the first appointment in existing that blocks
// candidate, or nil. candidateID excludes the appointment being moved;
// pass uuid.Nil for a new booking.
func FindConflict(candidate Interval, candidateID uuid.UUID, existing []*Appointment) *Appointment {
	for _, a := range existing {
		if a == nil {
			continue
		}
		if candidateID != uuid.Nil && a.ID == candidateID {
			continue
		}
		if !a.Status.Blocking() {
			continue
		}
		if Overlaps(candidate, a.Interval) {
			return a
		}
	}
	return nil
}

func HasConflict(candidate Interval, candidateID uuid.UUID, existing []*Appointment) bool {
	return FindConflict(candidate, candidateID, existing) != nil
}

// SlotConfig describes how a business day is cut into bookable slots.
type SlotConfig struct {
	SlotMinutes  int
	DayStartHour int
	DayEndHour   int
}

func DefaultSlotConfig() SlotConfig {
	return SlotConfig{SlotMinutes: 30, DayStartHour: 8, DayEndHour: 18}
}

// AvailableSlots cuts [DayStartHour, DayEndHour) of day, in day's location,
// into consecutive slots and drops every slot that overlaps a non-cancelled
// appointment. Appointments that began on an earlier day and run into
// business hours count. Only whole slots are returned.
func AvailableSlots(existing []*Appointment, day time.Time, cfg SlotConfig) []Interval {
	if cfg.SlotMinutes <= 0 || cfg.DayEndHour <= cfg.DayStartHour {
		return nil
	}
	loc := day.Location()
	y, m, d := day.Date()
	dayStart := time.Date(y, m, d, cfg.DayStartHour, 0, 0, 0, loc)
	dayEnd := time.Date(y, m, d, cfg.DayEndHour, 0, 0, 0, loc)
	step := time.Duration(cfg.SlotMinutes) * time.Minute

	window := Interval{start: dayStart, end: dayEnd}
	var busy []Interval
	for _, a := range existing {
		if a == nil || a.Status == StatusCancelled {
			continue
		}
		if Overlaps(window, a.Interval) {
			busy = append(busy, a.Interval)
		}
	}

	var slots []Interval
	for cur := dayStart; !cur.Add(step).After(dayEnd); cur = cur.Add(step) {
		slot := Interval{start: cur, end: cur.Add(step)}
		free := true
		for _, b := range busy {
			if Overlaps(slot, b) {
				free = false
				break
			}
		}
		if free {
			slots = append(slots, slot)
		}
	}
	return slots
}
