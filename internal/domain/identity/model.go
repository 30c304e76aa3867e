package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patients table.
type Patient struct {
	ID          uuid.UUID `db:"id" json:"id"`
	FirstName   string    `db:"first_name" json:"first_name"`
	LastName    string    `db:"last_name" json:"last_name"`
	DateOfBirth time.Time `db:"date_of_birth" json:"date_of_birth"`
	Gender      string    `db:"gender" json:"gender"`

	Address     *string `db:"address" json:"address,omitempty"`
	City        *string `db:"city" json:"city,omitempty"`
	PostalCode  *string `db:"postal_code" json:"postal_code,omitempty"`
	Country     *string `db:"country" json:"country,omitempty"`
	PhoneNumber *string `db:"phone_number" json:"phone_number,omitempty"`
	Email       *string `db:"email" json:"email,omitempty"`

	BloodType          *string        `db:"blood_type" json:"blood_type,omitempty"`
	Allergies          map[string]any `db:"allergies" json:"allergies"`
	ChronicDiseases    map[string]any `db:"chronic_diseases" json:"chronic_diseases"`
	CurrentMedications map[string]any `db:"current_medications" json:"current_medications"`

	HasConsent  bool       `db:"has_consent" json:"has_consent"`
	ConsentDate *time.Time `db:"consent_date" json:"consent_date,omitempty"`
	GDPRConsent bool       `db:"gdpr_consent" json:"gdpr_consent"`

	InsuranceProvider *string `db:"insurance_provider" json:"insurance_provider,omitempty"`
	InsuranceID       *string `db:"insurance_id" json:"insurance_id,omitempty"`

	Notes     *string   `db:"notes" json:"notes,omitempty"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// AgeAt returns the patient's age in whole years on now's calendar date.
// The birth date is a calendar date: its own fields are compared, never a
// conversion into now's location.
func (p *Patient) AgeAt(now time.Time) int {
	by, bm, bd := p.DateOfBirth.Date()
	ny, nm, nd := now.Date()
	age := ny - by
	if nm < bm || (nm == bm && nd < bd) {
		age--
	}
	return age
}

// calendarDate drops the clock and location of t, keeping its own date.
func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type ContactUpdate struct {
	Address     *string `json:"address,omitempty"`
	City        *string `json:"city,omitempty"`
	PostalCode  *string `json:"postal_code,omitempty"`
	Country     *string `json:"country,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	Email       *string `json:"email,omitempty"`
}

func (p *Patient) UpdateContact(u ContactUpdate, now time.Time) {
	setIfPresent(&p.Address, u.Address)
	setIfPresent(&p.City, u.City)
	setIfPresent(&p.PostalCode, u.PostalCode)
	setIfPresent(&p.Country, u.Country)
	setIfPresent(&p.PhoneNumber, u.PhoneNumber)
	setIfPresent(&p.Email, u.Email)
	p.UpdatedAt = now
}

type MedicalUpdate struct {
	BloodType          *string         `json:"blood_type,omitempty"`
	Allergies          *map[string]any `json:"allergies,omitempty"`
	ChronicDiseases    *map[string]any `json:"chronic_diseases,omitempty"`
	CurrentMedications *map[string]any `json:"current_medications,omitempty"`
}

func (p *Patient) UpdateMedical(u MedicalUpdate, now time.Time) {
	setIfPresent(&p.BloodType, u.BloodType)
	if u.Allergies != nil {
		p.Allergies = *u.Allergies
	}
	if u.ChronicDiseases != nil {
		p.ChronicDiseases = *u.ChronicDiseases
	}
	if u.CurrentMedications != nil {
		p.CurrentMedications = *u.CurrentMedications
	}
	p.UpdatedAt = now
}

type ConsentUpdate struct {
	HasConsent  *bool `json:"has_consent,omitempty"`
	GDPRConsent *bool `json:"gdpr_consent,omitempty"`
}

// UpdateConsent stamps ConsentDate whenever consent is granted.
func (p *Patient) UpdateConsent(u ConsentUpdate, now time.Time) {
	if u.HasConsent != nil {
		p.HasConsent = *u.HasConsent
		if p.HasConsent {
			t := now
			p.ConsentDate = &t
		}
	}
	if u.GDPRConsent != nil {
		p.GDPRConsent = *u.GDPRConsent
	}
	p.UpdatedAt = now
}

type InsuranceUpdate struct {
	Provider *string `json:"insurance_provider,omitempty"`
	ID       *string `json:"insurance_id,omitempty"`
}

func (p *Patient) UpdateInsurance(u InsuranceUpdate, now time.Time) {
	setIfPresent(&p.InsuranceProvider, u.Provider)
	setIfPresent(&p.InsuranceID, u.ID)
	p.UpdatedAt = now
}

func setIfPresent(dst **string, v *string) {
	if v != nil {
		s := *v
		*dst = &s
	}
}

// PatientPatch is the partial update accepted by UpdatePatient.
type PatientPatch struct {
	FirstName   *string    `json:"first_name,omitempty"`
	LastName    *string    `json:"last_name,omitempty"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Gender      *string    `json:"gender,omitempty"`

	ContactUpdate
	MedicalUpdate
	ConsentUpdate
	InsuranceUpdate

	Notes    *string `json:"notes,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

func (pp PatientPatch) hasContact() bool {
	c := pp.ContactUpdate
	return c.Address != nil || c.City != nil || c.PostalCode != nil || c.Country != nil ||
		c.PhoneNumber != nil || c.Email != nil
}

func (pp PatientPatch) hasMedical() bool {
	m := pp.MedicalUpdate
	return m.BloodType != nil || m.Allergies != nil || m.ChronicDiseases != nil || m.CurrentMedications != nil
}

func (pp PatientPatch) hasConsent() bool {
	return pp.ConsentUpdate.HasConsent != nil || pp.ConsentUpdate.GDPRConsent != nil
}

func (pp PatientPatch) hasInsurance() bool {
	return pp.InsuranceUpdate.Provider != nil || pp.InsuranceUpdate.ID != nil
}

// NewPatientRequest is the input to CreatePatient.
type NewPatientRequest struct {
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	DateOfBirth time.Time `json:"date_of_birth"`
	Gender      string    `json:"gender"`

	Address     *string `json:"address,omitempty"`
	City        *string `json:"city,omitempty"`
	PostalCode  *string `json:"postal_code,omitempty"`
	Country     *string `json:"country,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	Email       *string `json:"email,omitempty"`

	BloodType          *string        `json:"blood_type,omitempty"`
	Allergies          map[string]any `json:"allergies,omitempty"`
	ChronicDiseases    map[string]any `json:"chronic_diseases,omitempty"`
	CurrentMedications map[string]any `json:"current_medications,omitempty"`

	HasConsent         bool `json:"has_consent"`
	GDPRConsent        bool `json:"gdpr_consent"`
	HasGuardianConsent bool `json:"has_guardian_consent"`

	InsuranceProvider *string `json:"insurance_provider,omitempty"`
	InsuranceID       *string `json:"insurance_id,omitempty"`
	Notes             *string `json:"notes,omitempty"`
}

// SearchCriteria filters patient searches. Name and phone match partially,
// email and date of birth exactly.
type SearchCriteria struct {
	Name        string
	Email       string
	Phone       string
	DateOfBirth *time.Time
}

func (c SearchCriteria) IsEmpty() bool {
	return c.Name == "" && c.Email == "" && c.Phone == "" && c.DateOfBirth == nil
}

// Role is a staff authorization role.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleDoctor       Role = "doctor"
	RoleNurse        Role = "nurse"
	RoleReceptionist Role = "receptionist"
	RolePatient      Role = "patient"
)

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleAdmin, RoleDoctor, RoleNurse, RoleReceptionist, RolePatient:
		return r, nil
	}
	return "", &RoleError{Value: s}
}

// StaffUser maps to the staff_users table. Doctors are staff users with
// RoleDoctor; appointments reference them by ID.
type StaffUser struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	FirstName    string    `db:"first_name" json:"first_name"`
	LastName     string    `db:"last_name" json:"last_name"`
	Role         Role      `db:"role" json:"role"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

func (u *StaffUser) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
