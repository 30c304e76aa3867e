package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/crypto/bcrypt"
)

// Routing keys for patient events.
const (
	EventPatientCreated = "patient.created"
	EventPatientUpdated = "patient.updated"
	EventPatientDeleted = "patient.deleted"
)

const MinPasswordLength = 8

type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// TokenIssuer signs access tokens for authenticated staff.
type TokenIssuer interface {
	IssueToken(userID, email, name string, roles []string) (token string, expiresAt time.Time, err error)
}

type PatientEvent struct {
	PatientID  uuid.UUID `json:"patient_id"`
	HasConsent bool      `json:"has_consent"`
	IsActive   bool      `json:"is_active"`
	OccurredAt time.Time `json:"occurred_at"`
}

type LoginResult struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresAt   time.Time  `json:"expires_at"`
	User        *StaffUser `json:"user"`
}

type NewStaffUser struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

type Service struct {
	patients PatientRepository
	users    UserRepository
	tokens   TokenIssuer
	events   EventPublisher
	rules    Eligibility
	logger   zerolog.Logger

	consentDenied metric.Int64Counter
	logins        metric.Int64Counter

	now   func() time.Time
	newID func() uuid.UUID
}

func NewService(patients PatientRepository, users UserRepository, tokens TokenIssuer, events EventPublisher, logger zerolog.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	meter := otel.Meter("github.com/medisecure/clinic/identity")
	consentDenied, _ := meter.Int64Counter("clinic.patients.consent_denied",
		metric.WithDescription("Requests refused by a consent rule"))
	logins, _ := meter.Int64Counter("clinic.auth.logins",
		metric.WithDescription("Login attempts by outcome"))

	return &Service{
		patients:      patients,
		users:         users,
		tokens:        tokens,
		events:        events,
		rules:         NewEligibility(now),
		logger:        logger.With().Str("component", "identity").Logger(),
		consentDenied: consentDenied,
		logins:        logins,
		now:           now,
		newID:         uuid.New,
	}
}

// -- Patients --

// CreatePatient validates the data, rejects a duplicate email, and requires
// guardian consent for minors before storing the record.
func (s *Service) CreatePatient(ctx context.Context, req NewPatientRequest) (*Patient, error) {
	if err := s.rules.ValidatePatientData(req.FirstName, req.LastName, req.DateOfBirth, req.Gender); err != nil {
		return nil, err
	}
	if req.Email != nil && *req.Email != "" {
		if err := s.ensureEmailFree(ctx, *req.Email, uuid.Nil); err != nil {
			return nil, err
		}
	}

	now := s.now()
	p := &Patient{
		ID:                 s.newID(),
		FirstName:          strings.TrimSpace(req.FirstName),
		LastName:           strings.TrimSpace(req.LastName),
		DateOfBirth:        req.DateOfBirth,
		Gender:             req.Gender,
		Address:            req.Address,
		City:               req.City,
		PostalCode:         req.PostalCode,
		Country:            req.Country,
		PhoneNumber:        req.PhoneNumber,
		Email:              req.Email,
		BloodType:          req.BloodType,
		Allergies:          req.Allergies,
		ChronicDiseases:    req.ChronicDiseases,
		CurrentMedications: req.CurrentMedications,
		HasConsent:         req.HasConsent,
		GDPRConsent:        req.GDPRConsent,
		InsuranceProvider:  req.InsuranceProvider,
		InsuranceID:        req.InsuranceID,
		Notes:              req.Notes,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if p.HasConsent {
		p.ConsentDate = &now
	}

	if err := s.rules.CheckConsentForMinor(p, req.HasGuardianConsent); err != nil {
		s.denied(ctx, "guardian", p.ID, "")
		return nil, err
	}

	if err := s.patients.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info().Str("patient_id", p.ID.String()).Msg("patient created")
	s.publish(ctx, EventPatientCreated, p)
	return p, nil
}

// GetPatient returns the record if the patient has consented to access.
func (s *Service) GetPatient(ctx context.Context, id uuid.UUID, actorID string) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.rules.CheckAccessPermission(p, actorID); err != nil {
		s.denied(ctx, "patient", p.ID, actorID)
		return nil, err
	}
	return p, nil
}

// UpdatePatient applies only the fields present in patch. A new birth date
// is validated again.
func (s *Service) UpdatePatient(ctx context.Context, id uuid.UUID, patch PatientPatch) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()

	if patch.FirstName != nil {
		if strings.TrimSpace(*patch.FirstName) == "" {
			return nil, &MissingFieldError{Field: "first_name"}
		}
		p.FirstName = strings.TrimSpace(*patch.FirstName)
	}
	if patch.LastName != nil {
		if strings.TrimSpace(*patch.LastName) == "" {
			return nil, &MissingFieldError{Field: "last_name"}
		}
		p.LastName = strings.TrimSpace(*patch.LastName)
	}
	if patch.DateOfBirth != nil {
		if err := s.rules.ValidateDateOfBirth(*patch.DateOfBirth); err != nil {
			return nil, err
		}
		p.DateOfBirth = *patch.DateOfBirth
	}
	if patch.Gender != nil {
		if strings.TrimSpace(*patch.Gender) == "" {
			return nil, &MissingFieldError{Field: "gender"}
		}
		p.Gender = *patch.Gender
	}

	if patch.hasContact() {
		if e := patch.ContactUpdate.Email; e != nil && *e != "" {
			if err := s.ensureEmailFree(ctx, *e, p.ID); err != nil {
				return nil, err
			}
		}
		p.UpdateContact(patch.ContactUpdate, now)
	}
	if patch.hasMedical() {
		p.UpdateMedical(patch.MedicalUpdate, now)
	}
	if patch.hasConsent() {
		p.UpdateConsent(patch.ConsentUpdate, now)
	}
	if patch.hasInsurance() {
		p.UpdateInsurance(patch.InsuranceUpdate, now)
	}
	if patch.Notes != nil {
		p.Notes = patch.Notes
	}
	if patch.IsActive != nil {
		p.IsActive = *patch.IsActive
	}
	p.UpdatedAt = now

	if err := s.patients.Update(ctx, p); err != nil {
		return nil, err
	}
	s.publish(ctx, EventPatientUpdated, p)
	return p, nil
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	if err := s.patients.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("patient_id", id.String()).Msg("patient deleted")
	s.publish(ctx, EventPatientDeleted, &Patient{ID: id})
	return nil
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

func (s *Service) SearchPatients(ctx context.Context, criteria SearchCriteria, limit, offset int) ([]*Patient, int, error) {
	if criteria.IsEmpty() {
		return s.patients.List(ctx, limit, offset)
	}
	return s.patients.Search(ctx, criteria, limit, offset)
}

func (s *Service) ensureEmailFree(ctx context.Context, email string, self uuid.UUID) error {
	existing, err := s.patients.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrPatientNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("check patient email: %w", err)
	case existing != nil && existing.ID != self:
		return &DuplicateError{Field: "email", Value: email}
	}
	return nil
}

func (s *Service) denied(ctx context.Context, rule string, patientID uuid.UUID, actorID string) {
	s.consentDenied.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
	s.logger.Warn().
		Str("rule", rule).
		Str("patient_id", patientID.String()).
		Str("actor_id", actorID).
		Msg("consent check failed")
}

func (s *Service) publish(ctx context.Context, key string, p *Patient) {
	if s.events == nil {
		return
	}
	evt := PatientEvent{PatientID: p.ID, HasConsent: p.HasConsent, IsActive: p.IsActive, OccurredAt: s.now().UTC()}
	if err := s.events.Publish(ctx, key, evt); err != nil {
		s.logger.Error().Err(err).Str("event", key).Str("patient_id", p.ID.String()).Msg("failed to publish event")
	}
}

// -- Staff --

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// dummyPasswordHash is compared against when the email is unknown so every
// login attempt costs one bcrypt comparison.
func dummyPasswordHash() []byte {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("clinic-unknown-user"), bcrypt.DefaultCost)
	})
	return dummyHash
}

// Authenticate verifies the password against the stored bcrypt hash and
// issues an access token.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	hash := dummyPasswordHash()
	if user != nil {
		hash = []byte(user.PasswordHash)
	}
	if cmpErr := bcrypt.CompareHashAndPassword(hash, []byte(password)); cmpErr != nil || user == nil {
		s.loginOutcome(ctx, "invalid")
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		s.loginOutcome(ctx, "inactive")
		return nil, ErrInactiveUser
	}

	token, expiresAt, err := s.tokens.IssueToken(user.ID.String(), user.Email, user.FullName(), []string{string(user.Role)})
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	s.loginOutcome(ctx, "success")
	s.logger.Info().Str("user_id", user.ID.String()).Str("role", string(user.Role)).Msg("user logged in")
	return &LoginResult{AccessToken: token, TokenType: "bearer", ExpiresAt: expiresAt, User: user}, nil
}

func (s *Service) loginOutcome(ctx context.Context, outcome string) {
	s.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (s *Service) CreateStaffUser(ctx context.Context, req NewStaffUser) (*StaffUser, error) {
	role, err := ParseRole(req.Role)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.TrimSpace(req.Email) == "":
		return nil, &MissingFieldError{Field: "email"}
	case strings.TrimSpace(req.FirstName) == "":
		return nil, &MissingFieldError{Field: "first_name"}
	case strings.TrimSpace(req.LastName) == "":
		return nil, &MissingFieldError{Field: "last_name"}
	case len(req.Password) < MinPasswordLength:
		return nil, fmt.Errorf("%w: minimum %d characters", ErrWeakPassword, MinPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	u := &StaffUser{
		ID:           s.newID(),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: string(hash),
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("role", string(role)).Msg("staff user created")
	return u, nil
}

func (s *Service) GetStaffUser(ctx context.Context, id uuid.UUID) (*StaffUser, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) ListDoctors(ctx context.Context, limit, offset int) ([]*StaffUser, int, error) {
	return s.users.ListByRole(ctx, RoleDoctor, limit, offset)
}
