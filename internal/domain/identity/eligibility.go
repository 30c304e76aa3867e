package identity

import (
	"strings"
	"time"
)

// AgeOfMajority is the age from which a patient no longer needs a
// guardian's consent.
const AgeOfMajority = 18

// Eligibility evaluates patient data and consent rules against a clock.
type Eligibility struct {
	Now func() time.Time
}

func NewEligibility(now func() time.Time) Eligibility {
	if now == nil {
		now = time.Now
	}
	return Eligibility{Now: now}
}

// ValidatePatientData checks the four mandatory fields, in order, and that
// the birth date is not in the future.
func (e Eligibility) ValidatePatientData(firstName, lastName string, dob time.Time, gender string) error {
	switch {
	case strings.TrimSpace(firstName) == "":
		return &MissingFieldError{Field: "first_name"}
	case strings.TrimSpace(lastName) == "":
		return &MissingFieldError{Field: "last_name"}
	case dob.IsZero():
		return &MissingFieldError{Field: "date_of_birth"}
	case strings.TrimSpace(gender) == "":
		return &MissingFieldError{Field: "gender"}
	}
	return e.ValidateDateOfBirth(dob)
}

// ValidateDateOfBirth rejects birth dates after today's date on the clock.
func (e Eligibility) ValidateDateOfBirth(dob time.Time) error {
	if calendarDate(dob).After(calendarDate(e.Now())) {
		return ErrInvalidDateOfBirth
	}
	return nil
}

func (e Eligibility) RequiresGuardianConsent(p *Patient) bool {
	return p.AgeAt(e.Now()) < AgeOfMajority
}

// CheckConsentForMinor fails only for minors without guardian consent.
func (e Eligibility) CheckConsentForMinor(p *Patient, guardianConsent bool) error {
	if e.RequiresGuardianConsent(p) && !guardianConsent {
		return &ConsentError{PatientID: p.ID, Reason: ErrMissingGuardianConsent}
	}
	return nil
}

// CheckAccessPermission gates record access on the patient's own consent.
// The requesting actor is not evaluated here; role checks happen in the
// route middleware.
func (e Eligibility) CheckAccessPermission(p *Patient, actorID string) error {
	if !p.HasConsent {
		return &ConsentError{PatientID: p.ID, Reason: ErrMissingPatientConsent}
	}
	return nil
}
