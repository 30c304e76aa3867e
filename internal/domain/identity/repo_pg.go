package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medisecure/clinic/internal/platform/db"
)

// -- Patient Repository --

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, first_name, last_name, date_of_birth, gender,
	address, city, postal_code, country, phone_number, email,
	blood_type, allergies, chronic_diseases, current_medications,
	has_consent, consent_date, gdpr_consent, insurance_provider, insurance_id,
	notes, is_active, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.DateOfBirth, &p.Gender,
		&p.Address, &p.City, &p.PostalCode, &p.Country, &p.PhoneNumber, &p.Email,
		&p.BloodType, &p.Allergies, &p.ChronicDiseases, &p.CurrentMedications,
		&p.HasConsent, &p.ConsentDate, &p.GDPRConsent, &p.InsuranceProvider, &p.InsuranceID,
		&p.Notes, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func emptyIfNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patients (`+patientCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		p.ID, p.FirstName, p.LastName, p.DateOfBirth, p.Gender,
		p.Address, p.City, p.PostalCode, p.Country, p.PhoneNumber, p.Email,
		p.BloodType, emptyIfNil(p.Allergies), emptyIfNil(p.ChronicDiseases), emptyIfNil(p.CurrentMedications),
		p.HasConsent, p.ConsentDate, p.GDPRConsent, p.InsuranceProvider, p.InsuranceID,
		p.Notes, p.IsActive, p.CreatedAt, p.UpdatedAt)
	return r.translate(db.ClassifyError(err), p)
}

// translate turns an email uniqueness violation into a DuplicateError.
func (r *patientRepoPG) translate(err error, p *Patient) error {
	if errors.Is(err, db.ErrUniqueViolation) && p.Email != nil {
		return &DuplicateError{Field: "email", Value: *p.Email}
	}
	return err
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *patientRepoPG) GetByEmail(ctx context.Context, email string) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE lower(email) = lower($1)`, email))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET first_name=$2, last_name=$3, date_of_birth=$4, gender=$5,
			address=$6, city=$7, postal_code=$8, country=$9, phone_number=$10, email=$11,
			blood_type=$12, allergies=$13, chronic_diseases=$14, current_medications=$15,
			has_consent=$16, consent_date=$17, gdpr_consent=$18, insurance_provider=$19, insurance_id=$20,
			notes=$21, is_active=$22, updated_at=$23
		WHERE id = $1`,
		p.ID, p.FirstName, p.LastName, p.DateOfBirth, p.Gender,
		p.Address, p.City, p.PostalCode, p.Country, p.PhoneNumber, p.Email,
		p.BloodType, emptyIfNil(p.Allergies), emptyIfNil(p.ChronicDiseases), emptyIfNil(p.CurrentMedications),
		p.HasConsent, p.ConsentDate, p.GDPRConsent, p.InsuranceProvider, p.InsuranceID,
		p.Notes, p.IsActive, p.UpdatedAt)
	if err != nil {
		return r.translate(db.ClassifyError(err), p)
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return db.ClassifyError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return r.find(ctx, db.NewQuery("patients", patientCols), limit, offset)
}

func (r *patientRepoPG) Search(ctx context.Context, c SearchCriteria, limit, offset int) ([]*Patient, int, error) {
	q := db.NewQuery("patients", patientCols)
	if c.Name != "" {
		q.Contains(strings.TrimSpace(c.Name), "first_name", "last_name")
	}
	if c.Email != "" {
		q.Where("lower(email) = lower(?)", c.Email)
	}
	if c.Phone != "" {
		q.Contains(c.Phone, "phone_number")
	}
	if c.DateOfBirth != nil {
		q.Where("date_of_birth = ?::date", c.DateOfBirth.Format("2006-01-02"))
	}
	return r.find(ctx, q, limit, offset)
}

func (r *patientRepoPG) find(ctx context.Context, q *db.Query, limit, offset int) ([]*Patient, int, error) {
	q.OrderBy("last_name, first_name, id")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

// -- Staff User Repository --

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

const userCols = `id, email, password_hash, first_name, last_name, role, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (*StaffUser, error) {
	var (
		u    StaffUser
		role string
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &role,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *StaffUser) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO staff_users (`+userCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		u.ID, strings.ToLower(u.Email), u.PasswordHash, u.FirstName, u.LastName, string(u.Role),
		u.IsActive, u.CreatedAt, u.UpdatedAt)
	err = db.ClassifyError(err)
	if errors.Is(err, db.ErrUniqueViolation) {
		return ErrUserAlreadyExists
	}
	return err
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*StaffUser, error) {
	return scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM staff_users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*StaffUser, error) {
	return scanUser(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+userCols+` FROM staff_users WHERE email = lower($1)`, email))
}

func (r *userRepoPG) ListByRole(ctx context.Context, role Role, limit, offset int) ([]*StaffUser, int, error) {
	q := db.NewQuery("staff_users", userCols).Eq("role", string(role)).OrderBy("last_name, first_name, id")

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, q.CountSQL(), q.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []*StaffUser
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}
