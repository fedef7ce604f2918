package service

import (
	"context"

	"github.com/shopspring/decimal"

	"academy-ledger/internal/domain"
)

type ReferenceRepository interface {
	FindStudent(ctx context.Context, tenantID, id string) (*domain.Student, error)
	FindCourse(ctx context.Context, tenantID, id string) (*domain.Course, error)
	FindCohort(ctx context.Context, tenantID, id string) (*domain.Cohort, error)
}

type FeeDefaults struct {
	CourseRegistration  decimal.Decimal
	StudentRegistration decimal.Decimal
	DefaultCourseType   string
}

// FeeResolver derives a student's chargeable fees from course reference data.
type FeeResolver struct {
	refs     ReferenceRepository
	defaults FeeDefaults
}

func NewFeeResolver(refs ReferenceRepository, defaults FeeDefaults) *FeeResolver {
	return &FeeResolver{refs: refs, defaults: defaults}
}

// NeedsResolution reports whether a ledger is missing or carries no fees.
// Ledgers with any positive fee are never re-resolved, so manual fee
// adjustments survive.
func NeedsResolution(l *domain.Ledger) bool {
	return l == nil || !l.Sum().IsPositive()
}

// Resolve looks up the student's course directly, then through the cohort.
// Without a course the fees are zero and the default course type applies.
func (r *FeeResolver) Resolve(ctx context.Context, tenantID string, student domain.Student) (domain.ResolvedFees, error) {
	courseID, err := r.courseID(ctx, tenantID, student)
	if err != nil {
		return domain.ResolvedFees{}, err
	}

	fees := domain.ResolvedFees{CourseType: r.defaults.DefaultCourseType}
	if courseID == "" {
		return fees, nil
	}
	course, err := r.refs.FindCourse(ctx, tenantID, courseID)
	if err != nil {
		return domain.ResolvedFees{}, err
	}
	if course == nil {
		return fees, nil
	}

	fees.CourseID = course.ID
	if course.Type != "" {
		fees.CourseType = course.Type
	}
	fees.Components = domain.FeeComponents{
		CourseFee:              course.Price,
		CourseRegistrationFee:  r.defaults.CourseRegistration,
		StudentRegistrationFee: r.defaults.StudentRegistration,
	}
	return fees, nil
}

func (r *FeeResolver) courseID(ctx context.Context, tenantID string, student domain.Student) (string, error) {
	if student.CourseID != nil && *student.CourseID != "" {
		return *student.CourseID, nil
	}
	if student.CohortID == nil || *student.CohortID == "" {
		return "", nil
	}
	cohort, err := r.refs.FindCohort(ctx, tenantID, *student.CohortID)
	if err != nil || cohort == nil || cohort.CourseID == nil {
		return "", err
	}
	return *cohort.CourseID, nil
}
