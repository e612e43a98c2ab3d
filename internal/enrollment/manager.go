// Package enrollment maintains course membership.
package enrollment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/elkanatum/tarpaulin-api/internal/db"
	"github.com/elkanatum/tarpaulin-api/internal/model"
)

var ErrConflict = errors.New("enrollment_conflict")

type Manager struct {
	store db.Store
}

func NewManager(store db.Store) *Manager {
	return &Manager{store: store}
}

// Update enrolls adds and unenrolls removes in course. The value 0 is an
// empty id: it is skipped for writes but still counts for duplicate
// detection. Nothing is written unless the whole request is valid.
func (m *Manager) Update(ctx context.Context, course model.Course, adds, removes []int64) error {
	return m.store.WithTx(ctx, func(q db.Queries) error {
		if err := q.LockCourse(ctx, course.ID); err != nil {
			return fmt.Errorf("lock course: %w", err)
		}
		if err := validate(ctx, q, adds, removes); err != nil {
			return err
		}

		for _, studentID := range adds {
			if studentID == 0 {
				continue
			}
			err := q.CreateEnrollment(ctx, model.Enrollment{
				ID:        uuid.New(),
				CourseID:  course.ID,
				StudentID: studentID,
			})
			if err != nil {
				return fmt.Errorf("create enrollment: %w", err)
			}
		}
		for _, studentID := range removes {
			if studentID == 0 {
				continue
			}
			filter := db.EnrollmentFilter{CourseID: course.ID, StudentID: studentID}
			if _, err := q.DeleteEnrollments(ctx, filter); err != nil {
				return fmt.Errorf("delete enrollment: %w", err)
			}
		}
		return nil
	})
}

func validate(ctx context.Context, q db.Queries, adds, removes []int64) error {
	seen := make(map[int64]struct{}, len(adds)+len(removes))
	ids := make([]int64, 0, len(adds)+len(removes))
	ids = append(ids, adds...)
	ids = append(ids, removes...)
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: id %d listed more than once", ErrConflict, id)
		}
		seen[id] = struct{}{}
	}

	for _, id := range ids {
		if id == 0 {
			continue
		}
		user, err := q.GetUser(ctx, id)
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%w: user %d does not exist", ErrConflict, id)
		}
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}
		if user.Role != model.RoleStudent {
			return fmt.Errorf("%w: user %d is not a student", ErrConflict, id)
		}
	}
	return nil
}

// List returns the ids of the students enrolled in a course.
func (m *Manager) List(ctx context.Context, courseID int64) ([]int64, error) {
	enrollments, err := m.store.ListEnrollments(ctx, db.EnrollmentFilter{CourseID: courseID})
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	seen := make(map[int64]struct{}, len(enrollments))
	ids := make([]int64, 0, len(enrollments))
	for _, enrollment := range enrollments {
		if _, ok := seen[enrollment.StudentID]; ok {
			continue
		}
		seen[enrollment.StudentID] = struct{}{}
		ids = append(ids, enrollment.StudentID)
	}
	return ids, nil
}
