package repository

import (
	"context"
	"database/sql"
	"errors"

	"academy-ledger/internal/domain"
)

// ReferenceRepository reads students, courses and cohorts. Those records are
// owned elsewhere; this service only looks them up.
type ReferenceRepository struct {
	db *sql.DB
}

func NewReferenceRepository(db *sql.DB) *ReferenceRepository {
	return &ReferenceRepository{db: db}
}

func (r *ReferenceRepository) FindStudent(ctx context.Context, tenantID, id string) (*domain.Student, error) {
	query := `SELECT id, tenant_id, name, email, phone, course_id, cohort_id FROM students WHERE tenant_id = $1 AND id = $2`

	var (
		s        domain.Student
		courseID sql.NullString
		cohortID sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, tenantID, id).Scan(
		&s.ID, &s.TenantID, &s.Name, &s.Email, &s.Phone, &courseID, &cohortID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Errorf(domain.ErrStudentNotFound, "student %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if courseID.Valid && courseID.String != "" {
		s.CourseID = &courseID.String
	}
	if cohortID.Valid && cohortID.String != "" {
		s.CohortID = &cohortID.String
	}
	return &s, nil
}

// FindCourse returns nil without error when the course does not exist.
func (r *ReferenceRepository) FindCourse(ctx context.Context, tenantID, id string) (*domain.Course, error) {
	var c domain.Course
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, price, type FROM courses WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	).Scan(&c.ID, &c.Name, &c.Price, &c.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindCohort returns nil without error when the cohort does not exist.
func (r *ReferenceRepository) FindCohort(ctx context.Context, tenantID, id string) (*domain.Cohort, error) {
	var (
		c        domain.Cohort
		courseID sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, course_id FROM cohorts WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	).Scan(&c.ID, &c.Name, &courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if courseID.Valid && courseID.String != "" {
		c.CourseID = &courseID.String
	}
	return &c, nil
}
