package db

import (
	"context"
	"errors"

	"github.com/elkanatum/tarpaulin-api/internal/model"
)

var (
	ErrNotFound  = errors.New("not_found")
	ErrDuplicate = errors.New("duplicate")
	// ErrRoleChanged is returned when a subject is re-registered with a
	// different role. Roles are assigned once.
	ErrRoleChanged = errors.New("role_changed")
)

// EnrollmentFilter selects enrollments by equality. Zero fields match
// everything.
type EnrollmentFilter struct {
	CourseID  int64
	StudentID int64
}

func (f EnrollmentFilter) Matches(e model.Enrollment) bool {
	if f.CourseID != 0 && e.CourseID != f.CourseID {
		return false
	}
	if f.StudentID != 0 && e.StudentID != f.StudentID {
		return false
	}
	return true
}

// Queries is the set of record operations available both directly and
// inside a transaction.
type Queries interface {
	GetUser(ctx context.Context, id int64) (model.User, error)
	FindUsersBySubject(ctx context.Context, subject string) ([]model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	EnsureUser(ctx context.Context, subject string, role model.Role) (model.User, error)

	GetCourse(ctx context.Context, id int64) (model.Course, error)
	LockCourse(ctx context.Context, id int64) error
	ListCourses(ctx context.Context, limit, offset int) ([]model.Course, error)
	ListCoursesByInstructor(ctx context.Context, instructorID int64) ([]model.Course, error)
	CreateCourse(ctx context.Context, course model.Course) (model.Course, error)
	UpdateCourse(ctx context.Context, course model.Course) (model.Course, error)
	DeleteCourse(ctx context.Context, id int64) error

	ListEnrollments(ctx context.Context, filter EnrollmentFilter) ([]model.Enrollment, error)
	CreateEnrollment(ctx context.Context, enrollment model.Enrollment) error
	DeleteEnrollments(ctx context.Context, filter EnrollmentFilter) (int64, error)
}

// Store is a document store with multi-record transactions.
type Store interface {
	Queries
	WithTx(ctx context.Context, fn func(Queries) error) error
	Ping(ctx context.Context) error
}

var (
	_ Store = (*PGStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
