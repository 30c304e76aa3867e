package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medisecure/clinic/internal/domain/identity"
	"github.com/medisecure/clinic/internal/platform/db"
)

// -- Mock Patient Lookup --

type mockPatients struct {
	patients map[uuid.UUID]*identity.Patient
	err      error
}

func (m *mockPatients) GetByID(_ context.Context, id uuid.UUID) (*identity.Patient, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.patients[id]
	if !ok {
		return nil, identity.ErrPatientNotFound
	}
	return p, nil
}

func (m *mockPatients) GetByEmail(_ context.Context, email string) (*identity.Patient, error) {
	return nil, identity.ErrPatientNotFound
}

// -- Mock Appointment Repository --

type mockAppointmentRepo struct {
	mu    sync.Mutex
	lock  sync.Mutex
	items map[uuid.UUID]*Appointment

	createErr error
	updateErr error
	listErr   error
	listCalls int
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{items: make(map[uuid.UUID]*Appointment)}
}

func (m *mockAppointmentRepo) put(a *Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.items[a.ID] = &cp
}

func (m *mockAppointmentRepo) stored(id uuid.UUID) *Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id]
}

func (m *mockAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.put(a)
	return nil
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentRepo) Update(_ context.Context, a *Appointment) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	if m.stored(a.ID) == nil {
		return ErrAppointmentNotFound
	}
	m.put(a)
	return nil
}

func (m *mockAppointmentRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *mockAppointmentRepo) filter(keep func(a *Appointment) bool) []*Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		if keep(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Interval.Start().Before(out[j].Interval.Start()) })
	return out
}

func page(items []*Appointment, limit, offset int) ([]*Appointment, int) {
	total := len(items)
	if offset >= total {
		return nil, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return items[offset:end], total
}

func (m *mockAppointmentRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	m.listCalls++
	m.mu.Unlock()
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	items, total := page(m.filter(func(a *Appointment) bool { return a.DoctorID == doctorID }), limit, offset)
	return items, total, nil
}

func (m *mockAppointmentRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	items, total := page(m.filter(func(a *Appointment) bool { return a.PatientID == patientID }), limit, offset)
	return items, total, nil
}

func (m *mockAppointmentRepo) ListByDateRange(_ context.Context, from, to time.Time, limit, offset int) ([]*Appointment, int, error) {
	items, total := page(m.filter(func(a *Appointment) bool {
		s := a.Interval.Start()
		return !s.Before(from) && s.Before(to)
	}), limit, offset)
	return items, total, nil
}

func (m *mockAppointmentRepo) ListOverdue(_ context.Context, cutoff time.Time, limit int) ([]*Appointment, error) {
	items := m.filter(func(a *Appointment) bool {
		return (a.Status == StatusScheduled || a.Status == StatusConfirmed) && a.Interval.End().Before(cutoff)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *mockAppointmentRepo) WithDoctorLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	return fn(ctx)
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingPublisher) Publish(_ context.Context, key string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	return nil
}

func (r *recordingPublisher) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		return ""
	}
	return r.keys[len(r.keys)-1]
}

// -- Test Environment --

var (
	patientP = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	doctorB  = uuid.MustParse("00000000-0000-0000-0000-00000000d0c2")
	clock    = at(7, 0)
)

type testEnv struct {
	svc      *Service
	repo     *mockAppointmentRepo
	patients *mockPatients
	events   *recordingPublisher
}

func newTestEnv(cfg ServiceConfig) *testEnv {
	env := &testEnv{
		repo:     newMockAppointmentRepo(),
		patients: &mockPatients{patients: map[uuid.UUID]*identity.Patient{patientP: {ID: patientP, HasConsent: true}}},
		events:   &recordingPublisher{},
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return clock }
	}
	env.svc = NewService(env.patients, env.repo, env.events, zerolog.Nop(), cfg)
	return env
}

func booking(doctor uuid.UUID, start, end time.Time) BookingRequest {
	return BookingRequest{PatientID: patientP, DoctorID: doctor, StartTime: start, EndTime: end}
}

func mustBook(t *testing.T, env *testEnv, req BookingRequest) *Appointment {
	t.Helper()
	a, err := env.svc.BookAppointment(context.Background(), req)
	if err != nil {
		t.Fatalf("BookAppointment: %v", err)
	}
	return a
}

// -- Booking --

func TestBookAppointment_Succeeds(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	a := mustBook(t, env, booking(doctorA, at(9, 0), at(9, 30)))

	if a.Status != StatusScheduled || !a.IsActive {
		t.Errorf("expected active scheduled appointment, got %+v", a)
	}
	if !a.CreatedAt.Equal(clock) {
		t.Errorf("expected createdAt from clock, got %v", a.CreatedAt)
	}
	if env.repo.stored(a.ID) == nil {
		t.Error("appointment not persisted")
	}
	if env.events.last() != EventAppointmentBooked {
		t.Errorf("expected booked event, got %v", env.events.keys)
	}
}

func TestBookAppointment_OverlapConflicts(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	first := mustBook(t, env, booking(doctorA, at(9, 0), at(9, 30)))

	_, err := env.svc.BookAppointment(context.Background(), booking(doctorA, at(9, 15), at(9, 45)))
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if ce.AppointmentID != first.ID.String() || !errors.Is(err, ErrSchedulingConflict) {
		t.Errorf("unexpected conflict %+v", ce)
	}
	if len(env.repo.items) != 1 {
		t.Errorf("conflicting booking must not be stored")
	}
}

func TestBookAppointment_TouchingBoundary(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	mustBook(t, env, booking(doctorA, at(9, 0), at(9, 30)))
	mustBook(t, env, booking(doctorA, at(9, 30), at(10, 0)))
}

func TestBookAppointment_OtherDoctorAndCancelledDoNotBlock(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	a := mustBook(t, env, booking(doctorA, at(9, 0), at(9, 30)))
	mustBook(t, env, booking(doctorB, at(9, 0), at(9, 30)))

	if _, err := env.svc.CancelAppointment(context.Background(), a.ID, "moved away"); err != nil {
		t.Fatal(err)
	}
	mustBook(t, env, booking(doctorA, at(9, 0), at(9, 30)))
}

func TestBookAppointment_Validation(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	tests := []struct {
		name string
		req  BookingRequest
		want error
	}{
		{"end before start", booking(doctorA, at(10, 0), at(9, 0)), ErrInvalidInterval},
		{"zero length", booking(doctorA, at(10, 0), at(10, 0)), ErrInvalidInterval},
		{"no doctor", booking(uuid.Nil, at(9, 0), at(9, 30)), ErrMissingField},
		{"unknown patient", BookingRequest{PatientID: uuid.New(), DoctorID: doctorA, StartTime: at(9, 0), EndTime: at(9, 30)}, ErrPatientNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.svc.BookAppointment(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if len(env.repo.items) != 0 {
		t.Error("invalid bookings must not be stored")
	}
}

func TestBookAppointment_LongDurationIsAccepted(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	mustBook(t, env, booking(doctorA, at(9, 0), at(9, 0).Add(30*time.Hour)))
}

func TestBookAppointment_PatientLookupFailurePropagates(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	boom := errors.New("connection reset")
	env.patients.err = boom

	_, err := env.svc.BookAppointment(context.Background(), booking(doctorA, at(9, 0), at(9, 30)))
	if !errors.Is(err, boom) || errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected wrapped infrastructure error, got %v", err)
	}
}

func TestBookAppointment_StorageErrors(t *testing.T) {
	boom := errors.New("disk full")
	tests := []struct {
		name      string
		createErr error
		check     func(t *testing.T, err error)
	}{
		{"exclusion violation", fmt.Errorf("%w: appointments_no_overlap", db.ErrExclusionViolation), func(t *testing.T, err error) {
			var ce *ConflictError
			if !errors.As(err, &ce) || ce.DoctorID != doctorA.String() {
				t.Errorf("expected ConflictError, got %v", err)
			}
		}},
		{"unique violation", db.ErrUniqueViolation, func(t *testing.T, err error) {
			if !errors.Is(err, ErrSchedulingConflict) {
				t.Errorf("expected conflict, got %v", err)
			}
		}},
		{"foreign key", db.ErrForeignKeyViolation, func(t *testing.T, err error) {
			if !errors.Is(err, ErrInvalidReference) {
				t.Errorf("expected ErrInvalidReference, got %v", err)
			}
		}},
		{"opaque", boom, func(t *testing.T, err error) {
			if !errors.Is(err, boom) || errors.Is(err, ErrSchedulingConflict) {
				t.Errorf("expected opaque error, got %v", err)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(ServiceConfig{})
			env.repo.createErr = tt.createErr
			_, err := env.svc.BookAppointment(context.Background(), booking(doctorA, at(9, 0), at(9, 30)))
			tt.check(t, err)
			if env.events.last() != "" {
				t.Error("failed booking must not publish")
			}
		})
	}
}

func TestBookAppointment_SnapshotPagesThroughCalendar(t *testing.T) {
	env := newTestEnv(ServiceConfig{SnapshotPage: 2})
	for h := 8; h < 13; h++ {
		mustBook(t, env, booking(doctorA, at(h, 0), at(h, 30)))
	}

	_, err := env.svc.BookAppointment(context.Background(), booking(doctorA, at(12, 15), at(12, 45)))
	if !errors.Is(err, ErrSchedulingConflict) {
		t.Fatalf("conflict on the last page must be found, got %v", err)
	}
}

func TestBookAppointment_SnapshotErrorPropagates(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	boom := errors.New("timeout")
	env.repo.listErr = boom
	if _, err := env.svc.BookAppointment(context.Background(), booking(doctorA, at(9, 0), at(9, 30))); !errors.Is(err, boom) {
		t.Errorf("expected snapshot error, got %v", err)
	}
}

func TestBookAppointment_ConcurrentSameSlot(t *testing.T) {
	env := newTestEnv(ServiceConfig{})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.BookAppointment(context.Background(), booking(doctorA, at(9, 0), at(9, 30)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrSchedulingConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || conflicts != 19 {
		t.Errorf("expected exactly one booking, got %d succeeded and %d conflicts", succeeded, conflicts)
	}
}

// -- Lifecycle --

func TestRescheduleAppointment_SelfExclusion(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	a := mustBook(t, env, booking(doctorA, at(9, 0), at(9, 30)))
	if _, err := env.svc.ConfirmAppointment(context.Background(), a.ID); err != nil {
		t.Fatal(err)
	}

	moved, err := env.svc.RescheduleAppointment(context.Background(), a.ID, at(9, 0), at(9, 45))
	if err != nil {
		t.Fatalf("expected reschedule to succeed, got %v", err)
	}
	if moved.Status != StatusScheduled || moved.DurationMinutes() != 45 {
		t.Errorf("unexpected appointment %+v", moved)
	}
}

func TestRescheduleAppointment_OntoOtherBooking(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	a := mustBook(t, env, booking(doctorA, at(9, 0), at(9, 30)))
	b := mustBook(t, env, booking(doctorA, at(10, 0), at(10, 30)))

	_, err := env.svc.RescheduleAppointment(context.Background(), a.ID, at(10, 15), at(10, 45))
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.AppointmentID != b.ID.String() {
		t.Fatalf("expected conflict with %s, got %v", b.ID, err)
	}
	if !env.repo.stored(a.ID).Interval.Start().Equal(at(9, 0)) {
		t.Error("rejected reschedule must not be persisted")
	}
}

func TestRescheduleAppointment_InvalidInterval(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	a := mustBook(t, env, booking(doctorA, at(9, 0), at(9, 30)))
	if _, err := env.svc.RescheduleAppointment(context.Background(), a.ID, at(9, 0), at(8, 0)); !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("expected ErrInvalidInterval, got %v", err)
	}
}

func TestLifecycle_NotFound(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	id := uuid.New()
	ops := map[string]func() error{
		"confirm":  func() error { _, err := env.svc.ConfirmAppointment(context.Background(), id); return err },
		"cancel":   func() error { _, err := env.svc.CancelAppointment(context.Background(), id, ""); return err },
		"complete": func() error { _, err := env.svc.CompleteAppointment(context.Background(), id); return err },
		"get":      func() error { _, err := env.svc.GetAppointment(context.Background(), id); return err },
		"delete":   func() error { return env.svc.DeleteAppointment(context.Background(), id) },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, ErrAppointmentNotFound) {
			t.Errorf("%s: expected ErrAppointmentNotFound, got %v", name, err)
		}
	}
}

func TestCancelAndComplete_StampAndPublish(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	a := mustBook(t, env, booking(doctorA, at(9, 0), at(9, 30)))

	later := clock.Add(time.Hour)
	env.svc.now = func() time.Time { return later }

	cancelled, err := env.svc.CancelAppointment(context.Background(), a.ID, "no longer needed")
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != StatusCancelled || !cancelled.UpdatedAt.Equal(later) {
		t.Errorf("unexpected appointment %+v", cancelled)
	}
	if env.events.last() != EventAppointmentCancelled {
		t.Errorf("expected cancelled event, got %v", env.events.keys)
	}

	b := mustBook(t, env, booking(doctorA, at(11, 0), at(11, 30)))
	done, err := env.svc.CompleteAppointment(context.Background(), b.ID)
	if err != nil || done.Status != StatusCompleted {
		t.Fatalf("complete: %v %+v", err, done)
	}
}

func TestUpdateAppointment(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	a := mustBook(t, env, booking(doctorA, at(9, 0), at(9, 30)))
	mustBook(t, env, booking(doctorA, at(10, 0), at(10, 30)))

	newEnd := at(9, 50)
	notes := "fasting"
	updated, err := env.svc.UpdateAppointment(context.Background(), a.ID, AppointmentPatch{EndTime: &newEnd, Notes: &notes})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.Interval.Start().Equal(at(9, 0)) || !updated.Interval.End().Equal(newEnd) || *updated.Notes != "fasting" {
		t.Errorf("unexpected appointment %+v", updated)
	}

	tooLate := at(10, 10)
	if _, err := env.svc.UpdateAppointment(context.Background(), a.ID, AppointmentPatch{EndTime: &tooLate}); !errors.Is(err, ErrSchedulingConflict) {
		t.Errorf("expected conflict, got %v", err)
	}

	beforeStart := at(8, 0)
	if _, err := env.svc.UpdateAppointment(context.Background(), a.ID, AppointmentPatch{EndTime: &beforeStart}); !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("expected ErrInvalidInterval, got %v", err)
	}
}

func TestUpdateAppointment_InvalidStatus(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	a := mustBook(t, env, booking(doctorA, at(9, 0), at(9, 30)))
	calls := env.repo.listCalls

	bogus := "postponed"
	_, err := env.svc.UpdateAppointment(context.Background(), a.ID, AppointmentPatch{Status: &bogus})
	var se *StatusError
	if !errors.As(err, &se) || se.Value != "postponed" {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if env.repo.stored(a.ID).Status != StatusScheduled || env.repo.listCalls != calls {
		t.Error("invalid status must not be persisted or trigger a conflict check")
	}
}

func TestUpdateAppointment_UnknownIDWinsOverInvalidStatus(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	bogus := "postponed"
	_, err := env.svc.UpdateAppointment(context.Background(), uuid.New(), AppointmentPatch{Status: &bogus})
	if !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func TestUpdateAppointment_ReactivationChecksConflicts(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	a := mustBook(t, env, booking(doctorA, at(9, 0), at(9, 30)))
	if _, err := env.svc.CancelAppointment(context.Background(), a.ID, ""); err != nil {
		t.Fatal(err)
	}
	mustBook(t, env, booking(doctorA, at(9, 0), at(9, 30)))

	scheduled := "Scheduled"
	if _, err := env.svc.UpdateAppointment(context.Background(), a.ID, AppointmentPatch{Status: &scheduled}); !errors.Is(err, ErrSchedulingConflict) {
		t.Errorf("reviving a cancelled appointment into a taken slot must conflict, got %v", err)
	}
}

// -- Listings --

func TestListPatientAppointments(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	mustBook(t, env, booking(doctorA, at(9, 0), at(9, 30)))
	mustBook(t, env, booking(doctorB, at(9, 0), at(9, 30)))

	items, total, err := env.svc.ListPatientAppointments(context.Background(), patientP, 20, 0)
	if err != nil || total != 2 || len(items) != 2 {
		t.Fatalf("expected 2 appointments, got %d (%v)", total, err)
	}

	if _, _, err := env.svc.ListPatientAppointments(context.Background(), uuid.New(), 20, 0); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestListDoctorAppointments_ErrorNotSwallowed(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	boom := errors.New("connection refused")
	env.repo.listErr = boom
	items, _, err := env.svc.ListDoctorAppointments(context.Background(), doctorA, 20, 0)
	if !errors.Is(err, boom) || items != nil {
		t.Errorf("expected error, got %v (%d items)", err, len(items))
	}
}

func TestListAppointmentsBetween(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	mustBook(t, env, booking(doctorA, at(9, 0), at(9, 30)))
	mustBook(t, env, booking(doctorA, at(9, 0).Add(48*time.Hour), at(9, 30).Add(48*time.Hour)))

	items, total, err := env.svc.ListAppointmentsBetween(context.Background(), day, day.Add(24*time.Hour), 20, 0)
	if err != nil || total != 1 || len(items) != 1 {
		t.Fatalf("expected 1 appointment on the day, got %d (%v)", total, err)
	}
	if _, _, err := env.svc.ListAppointmentsBetween(context.Background(), day, day, 20, 0); !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("expected ErrInvalidInterval for empty range, got %v", err)
	}
}

func TestAvailableSlotsForDoctor(t *testing.T) {
	env := newTestEnv(ServiceConfig{Slots: SlotConfig{SlotMinutes: 60, DayStartHour: 9, DayEndHour: 12}})
	mustBook(t, env, booking(doctorA, at(10, 0), at(10, 30)))

	slots, err := env.svc.AvailableSlotsForDoctor(context.Background(), doctorA, day)
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 2 || !slots[0].Start().Equal(at(9, 0)) || !slots[1].Start().Equal(at(11, 0)) {
		t.Errorf("unexpected slots %v", slots)
	}
}

// -- Missed sweep --

func TestMarkMissedAppointments(t *testing.T) {
	env := newTestEnv(ServiceConfig{MissedGrace: 15 * time.Minute})
	old := mustBook(t, env, booking(doctorA, at(8, 0), at(8, 30)))
	confirmed := mustBook(t, env, booking(doctorA, at(9, 0), at(9, 30)))
	env.svc.ConfirmAppointment(context.Background(), confirmed.ID)
	recent := mustBook(t, env, booking(doctorA, at(10, 0), at(10, 30)))
	done := mustBook(t, env, booking(doctorA, at(7, 0), at(7, 30)))
	env.svc.CompleteAppointment(context.Background(), done.ID)

	env.svc.now = func() time.Time { return at(10, 40) }
	n, err := env.svc.MarkMissedAppointments(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 missed, got %d", n)
	}
	for id, want := range map[uuid.UUID]Status{
		old.ID:       StatusMissed,
		confirmed.ID: StatusMissed,
		recent.ID:    StatusScheduled,
		done.ID:      StatusCompleted,
	} {
		if got := env.repo.stored(id).Status; got != want {
			t.Errorf("appointment %s: status %s, want %s", id, got, want)
		}
	}
	if env.events.last() != EventAppointmentMissed {
		t.Errorf("expected missed event, got %v", env.events.keys)
	}
}

func TestMarkMissedAppointments_CollectsFailures(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	mustBook(t, env, booking(doctorA, at(8, 0), at(8, 30)))
	mustBook(t, env, booking(doctorA, at(9, 0), at(9, 30)))

	boom := errors.New("write failed")
	env.repo.updateErr = boom
	env.svc.now = func() time.Time { return at(12, 0) }

	n, err := env.svc.MarkMissedAppointments(context.Background())
	if n != 0 || !errors.Is(err, boom) {
		t.Errorf("expected 0 and joined error, got %d, %v", n, err)
	}
}

// rescheduleDuringSweep moves an appointment right after the sweep has read
// its overdue snapshot.
type rescheduleDuringSweep struct {
	*mockAppointmentRepo
	onListed func()
}

func (r *rescheduleDuringSweep) ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]*Appointment, error) {
	items, err := r.mockAppointmentRepo.ListOverdue(ctx, cutoff, limit)
	if r.onListed != nil {
		r.onListed()
	}
	return items, err
}

func TestMarkMissedAppointments_KeepsConcurrentReschedule(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	a := mustBook(t, env, booking(doctorA, at(9, 0), at(9, 30)))

	repo := &rescheduleDuringSweep{mockAppointmentRepo: env.repo}
	svc := NewService(env.patients, repo, env.events, zerolog.Nop(), ServiceConfig{Now: func() time.Time { return at(12, 0) }})
	repo.onListed = func() {
		if _, err := svc.RescheduleAppointment(context.Background(), a.ID, at(15, 0), at(15, 30)); err != nil {
			t.Errorf("RescheduleAppointment: %v", err)
		}
	}

	n, err := svc.MarkMissedAppointments(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected nothing marked, got %d, %v", n, err)
	}
	got := env.repo.stored(a.ID)
	if got.Status != StatusScheduled || !got.Interval.Start().Equal(at(15, 0)) {
		t.Errorf("reschedule lost: status %s, interval [%s, %s)", got.Status, got.Interval.Start(), got.Interval.End())
	}
}

func TestMarkMissedAppointments_SkipsDeletedAppointment(t *testing.T) {
	env := newTestEnv(ServiceConfig{})
	a := mustBook(t, env, booking(doctorA, at(9, 0), at(9, 30)))

	repo := &rescheduleDuringSweep{mockAppointmentRepo: env.repo}
	repo.onListed = func() { env.repo.Delete(context.Background(), a.ID) }
	svc := NewService(env.patients, repo, env.events, zerolog.Nop(), ServiceConfig{Now: func() time.Time { return at(12, 0) }})

	if n, err := svc.MarkMissedAppointments(context.Background()); err != nil || n != 0 {
		t.Errorf("expected a silent skip, got %d, %v", n, err)
	}
}
