package db

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/elkanatum/tarpaulin-api/internal/model"
)

// MemoryStore keeps every record in process memory. Transactions run on a
// copy of the data set that replaces the original only when fn succeeds.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

type memoryState struct {
	users        map[int64]model.User
	courses      map[int64]model.Course
	enrollments  map[uuid.UUID]model.Enrollment
	nextUserID   int64
	nextCourseID int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		users:       make(map[int64]model.User),
		courses:     make(map[int64]model.Course),
		enrollments: make(map[uuid.UUID]model.Enrollment),
	}
}

func (s *memoryState) clone() *memoryState {
	next := newMemoryState()
	for id, user := range s.users {
		next.users[id] = user
	}
	for id, course := range s.courses {
		next.courses[id] = course
	}
	for id, enrollment := range s.enrollments {
		next.enrollments[id] = enrollment
	}
	next.nextUserID = s.nextUserID
	next.nextCourseID = s.nextCourseID
	return next
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	working := m.state.clone()
	if err := fn(memQueries{st: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = working
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) queries() (memQueries, func()) {
	m.mu.Lock()
	return memQueries{st: m.state}, m.mu.Unlock
}

func (m *MemoryStore) GetUser(ctx context.Context, id int64) (model.User, error) {
	q, unlock := m.queries()
	defer unlock()
	return q.GetUser(ctx, id)
}

func (m *MemoryStore) FindUsersBySubject(ctx context.Context, subject string) ([]model.User, error) {
	q, unlock := m.queries()
	defer unlock()
	return q.FindUsersBySubject(ctx, subject)
}

func (m *MemoryStore) ListUsers(ctx context.Context) ([]model.User, error) {
	q, unlock := m.queries()
	defer unlock()
	return q.ListUsers(ctx)
}

func (m *MemoryStore) EnsureUser(ctx context.Context, subject string, role model.Role) (model.User, error) {
	q, unlock := m.queries()
	defer unlock()
	return q.EnsureUser(ctx, subject, role)
}

func (m *MemoryStore) GetCourse(ctx context.Context, id int64) (model.Course, error) {
	q, unlock := m.queries()
	defer unlock()
	return q.GetCourse(ctx, id)
}

func (m *MemoryStore) LockCourse(ctx context.Context, id int64) error {
	q, unlock := m.queries()
	defer unlock()
	return q.LockCourse(ctx, id)
}

func (m *MemoryStore) ListCourses(ctx context.Context, limit, offset int) ([]model.Course, error) {
	q, unlock := m.queries()
	defer unlock()
	return q.ListCourses(ctx, limit, offset)
}

func (m *MemoryStore) ListCoursesByInstructor(ctx context.Context, instructorID int64) ([]model.Course, error) {
	q, unlock := m.queries()
	defer unlock()
	return q.ListCoursesByInstructor(ctx, instructorID)
}

func (m *MemoryStore) CreateCourse(ctx context.Context, course model.Course) (model.Course, error) {
	q, unlock := m.queries()
	defer unlock()
	return q.CreateCourse(ctx, course)
}

func (m *MemoryStore) UpdateCourse(ctx context.Context, course model.Course) (model.Course, error) {
	q, unlock := m.queries()
	defer unlock()
	return q.UpdateCourse(ctx, course)
}

func (m *MemoryStore) DeleteCourse(ctx context.Context, id int64) error {
	q, unlock := m.queries()
	defer unlock()
	return q.DeleteCourse(ctx, id)
}

func (m *MemoryStore) ListEnrollments(ctx context.Context, filter EnrollmentFilter) ([]model.Enrollment, error) {
	q, unlock := m.queries()
	defer unlock()
	return q.ListEnrollments(ctx, filter)
}

func (m *MemoryStore) CreateEnrollment(ctx context.Context, enrollment model.Enrollment) error {
	q, unlock := m.queries()
	defer unlock()
	return q.CreateEnrollment(ctx, enrollment)
}

func (m *MemoryStore) DeleteEnrollments(ctx context.Context, filter EnrollmentFilter) (int64, error) {
	q, unlock := m.queries()
	defer unlock()
	return q.DeleteEnrollments(ctx, filter)
}

// memQueries operates on a state without locking; callers hold the lock.
type memQueries struct {
	st *memoryState
}

func (q memQueries) GetUser(ctx context.Context, id int64) (model.User, error) {
	if err := ctx.Err(); err != nil {
		return model.User{}, err
	}
	user, ok := q.st.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return user, nil
}

func (q memQueries) FindUsersBySubject(ctx context.Context, subject string) ([]model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	users := make([]model.User, 0, 1)
	for _, user := range q.st.users {
		if user.Subject == subject {
			users = append(users, user)
		}
	}
	sortUsers(users)
	return users, nil
}

func (q memQueries) ListUsers(ctx context.Context) ([]model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	users := make([]model.User, 0, len(q.st.users))
	for _, user := range q.st.users {
		users = append(users, user)
	}
	sortUsers(users)
	return users, nil
}

func (q memQueries) EnsureUser(ctx context.Context, subject string, role model.Role) (model.User, error) {
	if err := ctx.Err(); err != nil {
		return model.User{}, err
	}
	for _, user := range q.st.users {
		if user.Subject == subject {
			if user.Role != role {
				return user, fmt.Errorf("%w: %s is %s", ErrRoleChanged, subject, user.Role)
			}
			return user, nil
		}
	}
	q.st.nextUserID++
	user := model.User{ID: q.st.nextUserID, Subject: subject, Role: role}
	q.st.users[user.ID] = user
	return user, nil
}

func (q memQueries) GetCourse(ctx context.Context, id int64) (model.Course, error) {
	if err := ctx.Err(); err != nil {
		return model.Course{}, err
	}
	course, ok := q.st.courses[id]
	if !ok {
		return model.Course{}, ErrNotFound
	}
	return course, nil
}

func (q memQueries) LockCourse(ctx context.Context, id int64) error {
	_, err := q.GetCourse(ctx, id)
	return err
}

func (q memQueries) ListCourses(ctx context.Context, limit, offset int) ([]model.Course, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	courses := make([]model.Course, 0, len(q.st.courses))
	for _, course := range q.st.courses {
		courses = append(courses, course)
	}
	sort.Slice(courses, func(i, j int) bool {
		if courses[i].Subject != courses[j].Subject {
			return courses[i].Subject < courses[j].Subject
		}
		return courses[i].ID < courses[j].ID
	})
	if offset >= len(courses) {
		return []model.Course{}, nil
	}
	courses = courses[offset:]
	if limit >= 0 && limit < len(courses) {
		courses = courses[:limit]
	}
	return courses, nil
}

func (q memQueries) ListCoursesByInstructor(ctx context.Context, instructorID int64) ([]model.Course, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	courses := make([]model.Course, 0)
	for _, course := range q.st.courses {
		if course.InstructorID == instructorID {
			courses = append(courses, course)
		}
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].ID < courses[j].ID })
	return courses, nil
}

func (q memQueries) CreateCourse(ctx context.Context, course model.Course) (model.Course, error) {
	if err := ctx.Err(); err != nil {
		return model.Course{}, err
	}
	q.st.nextCourseID++
	course.ID = q.st.nextCourseID
	q.st.courses[course.ID] = course
	return course, nil
}

func (q memQueries) UpdateCourse(ctx context.Context, course model.Course) (model.Course, error) {
	if err := ctx.Err(); err != nil {
		return model.Course{}, err
	}
	if _, ok := q.st.courses[course.ID]; !ok {
		return model.Course{}, ErrNotFound
	}
	q.st.courses[course.ID] = course
	return course, nil
}

func (q memQueries) DeleteCourse(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := q.st.courses[id]; !ok {
		return ErrNotFound
	}
	delete(q.st.courses, id)
	return nil
}

func (q memQueries) ListEnrollments(ctx context.Context, filter EnrollmentFilter) ([]model.Enrollment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	enrollments := make([]model.Enrollment, 0)
	for _, enrollment := range q.st.enrollments {
		if filter.Matches(enrollment) {
			enrollments = append(enrollments, enrollment)
		}
	}
	sort.Slice(enrollments, func(i, j int) bool {
		if enrollments[i].CourseID != enrollments[j].CourseID {
			return enrollments[i].CourseID < enrollments[j].CourseID
		}
		return enrollments[i].StudentID < enrollments[j].StudentID
	})
	return enrollments, nil
}

func (q memQueries) CreateEnrollment(ctx context.Context, enrollment model.Enrollment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pair := EnrollmentFilter{CourseID: enrollment.CourseID, StudentID: enrollment.StudentID}
	for _, existing := range q.st.enrollments {
		if pair.Matches(existing) {
			return nil
		}
	}
	if _, ok := q.st.enrollments[enrollment.ID]; ok {
		return ErrDuplicate
	}
	q.st.enrollments[enrollment.ID] = enrollment
	return nil
}

func (q memQueries) DeleteEnrollments(ctx context.Context, filter EnrollmentFilter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var deleted int64
	for id, enrollment := range q.st.enrollments {
		if filter.Matches(enrollment) {
			delete(q.st.enrollments, id)
			deleted++
		}
	}
	return deleted, nil
}

func sortUsers(users []model.User) {
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
}
