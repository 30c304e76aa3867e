package scheduling

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
)

var knownStatuses = map[Status]bool{
	StatusScheduled: true,
	StatusConfirmed: true,
	StatusCancelled: true,
	StatusCompleted: true,
	StatusMissed:    true,
}

// ParseStatus is the only way external input becomes a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !knownStatuses[st] {
		return "", &StatusError{Value: s}
	}
	return st, nil
}

func (s Status) String() string { return string(s) }

// Blocking reports whether an appointment in this state occupies its slot
// for conflict detection.
func (s Status) Blocking() bool {
	return s != StatusCancelled && s != StatusCompleted
}

// Appointment maps to the appointments table.
type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Interval  Interval
	Status    Status
	Reason    *string
	Notes     *string
	CreatedAt time.Time
	UpdatedAt time.Time
	IsActive  bool
}

func (a *Appointment) DurationMinutes() int {
	return int(a.Interval.Duration() / time.Minute)
}

func (a *Appointment) Confirm(now time.Time) {
	a.Status = StatusConfirmed
	a.UpdatedAt = now
}

// Cancel records the reason, when given, in the appointment notes.
func (a *Appointment) Cancel(reason string, now time.Time) {
	a.Status = StatusCancelled
	if reason != "" {
		r := reason
		a.Notes = &r
	}
	a.UpdatedAt = now
}

func (a *Appointment) Complete(now time.Time) {
	a.Status = StatusCompleted
	a.UpdatedAt = now
}

func (a *Appointment) MarkMissed(now time.Time) {
	a.Status = StatusMissed
	a.UpdatedAt = now
}

// Reschedule moves the appointment and puts it back in the scheduled state.
func (a *Appointment) Reschedule(iv Interval, now time.Time) {
	a.Interval = iv
	a.Status = StatusScheduled
	a.UpdatedAt = now
}

type appointmentJSON struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          Status    `json:"status"`
	Reason          *string   `json:"reason,omitempty"`
	Notes           *string   `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	IsActive        bool      `json:"is_active"`
}

func (a *Appointment) MarshalJSON() ([]byte, error) {
	return json.Marshal(appointmentJSON{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		StartTime:       a.Interval.Start(),
		EndTime:         a.Interval.End(),
		DurationMinutes: a.DurationMinutes(),
		Status:          a.Status,
		Reason:          a.Reason,
		Notes:           a.Notes,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
		IsActive:        a.IsActive,
	})
}

// AppointmentPatch holds the optional changes accepted by UpdateAppointment.
// Nil fields are left untouched.
type AppointmentPatch struct {
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Status    *string    `json:"status,omitempty"`
	Reason    *string    `json:"reason,omitempty"`
	Notes     *string    `json:"notes,omitempty"`
}

// BookingRequest is the input to BookAppointment.
type BookingRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Reason    *string   `json:"reason,omitempty"`
	Notes     *string   `json:"notes,omitempty"`
}
