package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medisecure/clinic/internal/platform/db"
)

// Routing keys for appointment events.
const (
	EventAppointmentBooked    = "appointment.booked"
	EventAppointmentUpdated   = "appointment.updated"
	EventAppointmentCancelled = "appointment.cancelled"
	EventAppointmentMissed    = "appointment.missed"
)

const (
	defaultSnapshotPage = 1000
	defaultSweepBatch   = 500
)

// EventPublisher delivers domain events to interested consumers.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

type AppointmentEvent struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	Status        Status    `json:"status"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type ServiceConfig struct {
	Slots SlotConfig
	// SnapshotPage is the page size used when loading a doctor's calendar.
	SnapshotPage int
	// MissedGrace is how long after its end an unattended appointment is
	// marked missed.
	MissedGrace time.Duration
	Now         func() time.Time
	NewID       func() uuid.UUID
}

type Service struct {
	patients     PatientLookup
	appointments AppointmentRepository
	events       EventPublisher
	logger       zerolog.Logger
	metrics      *metrics

	slots        SlotConfig
	snapshotPage int
	missedGrace  time.Duration
	now          func() time.Time
	newID        func() uuid.UUID
}

func NewService(patients PatientLookup, appts AppointmentRepository, events EventPublisher, logger zerolog.Logger, cfg ServiceConfig) *Service {
	s := &Service{
		patients:     patients,
		appointments: appts,
		events:       events,
		logger:       logger.With().Str("component", "scheduling").Logger(),
		metrics:      newMetrics(),
		slots:        cfg.Slots,
		snapshotPage: cfg.SnapshotPage,
		missedGrace:  cfg.MissedGrace,
		now:          cfg.Now,
		newID:        cfg.NewID,
	}
	if s.slots.SlotMinutes == 0 {
		s.slots = DefaultSlotConfig()
	}
	if s.snapshotPage <= 0 {
		s.snapshotPage = defaultSnapshotPage
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.New
	}
	return s
}

// BookAppointment validates the interval, checks the patient exists and the
// doctor is free, then stores a new appointment in the scheduled state.
func (s *Service) BookAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	iv, warnings, err := ValidateInterval(req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}
	if req.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id", ErrMissingField)
	}
	if req.DoctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: doctor_id", ErrMissingField)
	}
	s.logWarnings(warnings, req.DoctorID, uuid.Nil)

	if err := s.requirePatient(ctx, req.PatientID); err != nil {
		return nil, err
	}

	var appt *Appointment
	err = s.appointments.WithDoctorLock(ctx, req.DoctorID, func(ctx context.Context) error {
		existing, err := s.doctorSnapshot(ctx, req.DoctorID)
		if err != nil {
			return err
		}
		if err := s.checkConflict(ctx, iv, uuid.Nil, req.DoctorID, existing); err != nil {
			return err
		}

		now := s.now()
		appt = &Appointment{
			ID:        s.newID(),
			PatientID: req.PatientID,
			DoctorID:  req.DoctorID,
			Interval:  iv,
			Status:    StatusScheduled,
			Reason:    req.Reason,
			Notes:     req.Notes,
			CreatedAt: now,
			UpdatedAt: now,
			IsActive:  true,
		}
		if err := s.appointments.Create(ctx, appt); err != nil {
			return s.translateStoreError(ctx, err, req.DoctorID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.booked.Add(ctx, 1)
	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("doctor_id", appt.DoctorID.String()).
		Time("start", iv.Start()).
		Msg("appointment booked")
	s.publish(ctx, EventAppointmentBooked, appt)
	return appt, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

// UpdateAppointment applies patch. A supplied start or end is combined with
// the stored value of the other and the result is validated and checked for
// conflicts against the doctor's other appointments.
func (s *Service) UpdateAppointment(ctx context.Context, id uuid.UUID, patch AppointmentPatch) (*Appointment, error) {
	return s.mutate(ctx, id, EventAppointmentUpdated, func(a *Appointment) ([]Warning, error) {
		var newStatus *Status
		if patch.Status != nil {
			st, err := ParseStatus(*patch.Status)
			if err != nil {
				return nil, err
			}
			newStatus = &st
		}

		var warnings []Warning
		if patch.StartTime != nil || patch.EndTime != nil {
			start, end := a.Interval.Start(), a.Interval.End()
			if patch.StartTime != nil {
				start = *patch.StartTime
			}
			if patch.EndTime != nil {
				end = *patch.EndTime
			}
			iv, w, err := ValidateInterval(start, end)
			if err != nil {
				return nil, err
			}
			warnings = w
			a.Interval = iv
		}
		if newStatus != nil {
			a.Status = *newStatus
		}
		if patch.Reason != nil {
			a.Reason = patch.Reason
		}
		if patch.Notes != nil {
			a.Notes = patch.Notes
		}
		a.UpdatedAt = s.now()
		return warnings, nil
	})
}

func (s *Service) ConfirmAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.mutate(ctx, id, EventAppointmentUpdated, func(a *Appointment) ([]Warning, error) {
		a.Confirm(s.now())
		return nil, nil
	})
}

func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	return s.mutate(ctx, id, EventAppointmentCancelled, func(a *Appointment) ([]Warning, error) {
		a.Cancel(reason, s.now())
		return nil, nil
	})
}

func (s *Service) CompleteAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.mutate(ctx, id, EventAppointmentUpdated, func(a *Appointment) ([]Warning, error) {
		a.Complete(s.now())
		return nil, nil
	})
}

// RescheduleAppointment moves the appointment and resets it to scheduled.
func (s *Service) RescheduleAppointment(ctx context.Context, id uuid.UUID, start, end time.Time) (*Appointment, error) {
	iv, warnings, err := ValidateInterval(start, end)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, EventAppointmentUpdated, func(a *Appointment) ([]Warning, error) {
		a.Reschedule(iv, s.now())
		return warnings, nil
	})
}

func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	return s.appointments.Delete(ctx, id)
}

// mutate loads the appointment under its doctor's lock, applies change and
// persists it. A conflict check runs whenever the appointment ends up
// blocking and either moved or was not blocking before.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, event string, change func(a *Appointment) ([]Warning, error)) (*Appointment, error) {
	current, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var updated *Appointment
	err = s.appointments.WithDoctorLock(ctx, current.DoctorID, func(ctx context.Context) error {
		a, err := s.appointments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		before := *a

		warnings, err := change(a)
		if err != nil {
			return err
		}
		s.logWarnings(warnings, a.DoctorID, a.ID)

		moved := !a.Interval.Start().Equal(before.Interval.Start()) || !a.Interval.End().Equal(before.Interval.End())
		reactivated := a.Status.Blocking() && !before.Status.Blocking()
		if a.Status.Blocking() && (moved || reactivated) {
			existing, err := s.doctorSnapshot(ctx, a.DoctorID)
			if err != nil {
				return err
			}
			if err := s.checkConflict(ctx, a.Interval, a.ID, a.DoctorID, existing); err != nil {
				return err
			}
		}

		if err := s.appointments.Update(ctx, a); err != nil {
			return s.translateStoreError(ctx, err, a.DoctorID)
		}
		if a.Status != before.Status {
			s.metrics.statusChanged(ctx, a.Status)
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, event, updated)
	return updated, nil
}

func (s *Service) ListDoctorAppointments(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.ListByDoctor(ctx, doctorID, limit, offset)
}

// ListPatientAppointments fails with ErrPatientNotFound for unknown patients
// rather than returning an empty page.
func (s *Service) ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	if err := s.requirePatient(ctx, patientID); err != nil {
		return nil, 0, err
	}
	return s.appointments.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListAppointmentsBetween(ctx context.Context, from, to time.Time, limit, offset int) ([]*Appointment, int, error) {
	if _, err := NewInterval(from, to); err != nil {
		return nil, 0, err
	}
	return s.appointments.ListByDateRange(ctx, from, to, limit, offset)
}

// AvailableSlotsForDoctor lists the free slots of doctorID on day using the
// configured business hours.
func (s *Service) AvailableSlotsForDoctor(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Interval, error) {
	existing, err := s.doctorSnapshot(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return AvailableSlots(existing, day, s.slots), nil
}

// MarkMissedAppointments moves scheduled and confirmed appointments that
// ended more than the grace period ago into the missed state. It returns the
// number of appointments updated.
func (s *Service) MarkMissedAppointments(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.missedGrace)
	overdue, err := s.appointments.ListOverdue(ctx, cutoff, defaultSweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list overdue appointments: %w", err)
	}

	var (
		count int
		errs  []error
	)
	for _, a := range overdue {
		marked, err := s.markMissed(ctx, a.ID, a.DoctorID, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("mark appointment %s missed: %w", a.ID, err))
			continue
		}
		if marked == nil {
			continue
		}
		count++
		s.metrics.missed.Add(ctx, 1)
		s.publish(ctx, EventAppointmentMissed, marked)
	}
	if count > 0 {
		s.logger.Info().Int("count", count).Time("cutoff", cutoff).Msg("appointments marked missed")
	}
	return count, errors.Join(errs...)
}

// markMissed re-reads the appointment under its doctor's lock and marks it
// missed only if it is still pending and still ended before cutoff. It
// returns nil when a concurrent change (reschedule, cancel, delete) made the
// sweep's snapshot stale.
func (s *Service) markMissed(ctx context.Context, id, doctorID uuid.UUID, cutoff time.Time) (*Appointment, error) {
	var marked *Appointment
	err := s.appointments.WithDoctorLock(ctx, doctorID, func(ctx context.Context) error {
		a, err := s.appointments.GetByID(ctx, id)
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if (a.Status != StatusScheduled && a.Status != StatusConfirmed) || !a.Interval.End().Before(cutoff) {
			return nil
		}
		a.MarkMissed(s.now())
		if err := s.appointments.Update(ctx, a); err != nil {
			return err
		}
		marked = a
		return nil
	})
	return marked, err
}

func (s *Service) requirePatient(ctx context.Context, id uuid.UUID) error {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return err
		}
		return fmt.Errorf("look up patient %s: %w", id, err)
	}
	if p == nil {
		return ErrPatientNotFound
	}
	return nil
}

// doctorSnapshot loads every appointment of the doctor, page by page.
func (s *Service) doctorSnapshot(ctx context.Context, doctorID uuid.UUID) ([]*Appointment, error) {
	var all []*Appointment
	for offset := 0; ; offset += s.snapshotPage {
		page, total, err := s.appointments.ListByDoctor(ctx, doctorID, s.snapshotPage, offset)
		if err != nil {
			return nil, fmt.Errorf("load appointments for doctor %s: %w", doctorID, err)
		}
		all = append(all, page...)
		if len(page) < s.snapshotPage || len(all) >= total {
			return all, nil
		}
	}
}

func (s *Service) checkConflict(ctx context.Context, iv Interval, selfID, doctorID uuid.UUID, existing []*Appointment) error {
	blocking := FindConflict(iv, selfID, existing)
	if blocking == nil {
		return nil
	}
	s.metrics.conflicts.Add(ctx, 1)
	s.logger.Info().
		Str("doctor_id", doctorID.String()).
		Str("blocking_appointment_id", blocking.ID.String()).
		Time("start", iv.Start()).
		Time("end", iv.End()).
		Msg("scheduling conflict")
	return &ConflictError{DoctorID: doctorID.String(), AppointmentID: blocking.ID.String()}
}

// translateStoreError turns constraint violations into domain errors. A
// unique or exclusion violation means a concurrent booking won the slot.
func (s *Service) translateStoreError(ctx context.Context, err error, doctorID uuid.UUID) error {
	switch {
	case errors.Is(err, ErrAppointmentNotFound):
		return err
	case db.IsConstraintViolation(err):
		s.metrics.conflicts.Add(ctx, 1)
		s.logger.Info().Str("doctor_id", doctorID.String()).Msg("scheduling conflict detected by storage")
		return &ConflictError{DoctorID: doctorID.String()}
	case errors.Is(err, db.ErrForeignKeyViolation):
		return ErrInvalidReference
	default:
		s.logger.Error().Err(err).Str("doctor_id", doctorID.String()).Msg("failed to persist appointment")
		return fmt.Errorf("persist appointment: %w", err)
	}
}

func (s *Service) logWarnings(warnings []Warning, doctorID, appointmentID uuid.UUID) {
	for _, w := range warnings {
		evt := s.logger.Warn().Str("code", w.Code).Str("doctor_id", doctorID.String())
		if appointmentID != uuid.Nil {
			evt = evt.Str("appointment_id", appointmentID.String())
		}
		evt.Msg(w.Message)
	}
}

// publish is best effort: the appointment is already stored.
func (s *Service) publish(ctx context.Context, key string, a *Appointment) {
	if s.events == nil {
		return
	}
	evt := AppointmentEvent{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		Status:        a.Status,
		StartTime:     a.Interval.Start(),
		EndTime:       a.Interval.End(),
		OccurredAt:    s.now().UTC(),
	}
	if err := s.events.Publish(ctx, key, evt); err != nil {
		s.logger.Error().Err(err).Str("event", key).Str("appointment_id", a.ID.String()).Msg("failed to publish event")
	}
}
