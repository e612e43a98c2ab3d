package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/elkanatum/tarpaulin-api/internal/model"
)

type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PGQueries struct {
	db DBTX
}

func NewQueries(db DBTX) *PGQueries {
	return &PGQueries{db: db}
}

func (q *PGQueries) WithTx(tx pgx.Tx) *PGQueries {
	return &PGQueries{db: tx}
}

type PGStore struct {
	Pool *pgxpool.Pool
	*PGQueries
}

func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{Pool: pool, PGQueries: NewQueries(pool)}
}

func (s *PGStore) WithTx(ctx context.Context, fn func(Queries) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	queries := s.PGQueries.WithTx(tx)
	if err := fn(queries); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (q *PGQueries) GetUser(ctx context.Context, id int64) (model.User, error) {
	var user model.User
	err := q.db.QueryRow(ctx, `SELECT id, sub, role FROM users WHERE id = $1`, id).
		Scan(&user.ID, &user.Subject, &user.Role)
	return user, notFound(err)
}

func (q *PGQueries) FindUsersBySubject(ctx context.Context, subject string) ([]model.User, error) {
	rows, err := q.db.Query(ctx, `SELECT id, sub, role FROM users WHERE sub = $1 ORDER BY id`, subject)
	if err != nil {
		return nil, err
	}
	return scanUsers(rows)
}

func (q *PGQueries) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := q.db.Query(ctx, `SELECT id, sub, role FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return scanUsers(rows)
}

// EnsureUser creates the user for subject, or returns the existing one.
// An existing user with another role yields ErrRoleChanged.
func (q *PGQueries) EnsureUser(ctx context.Context, subject string, role model.Role) (model.User, error) {
	var user model.User
	err := q.db.QueryRow(ctx, `
		WITH inserted AS (
			INSERT INTO users (sub, role)
			VALUES ($1, $2)
			ON CONFLICT (sub) DO NOTHING
			RETURNING id, sub, role
		)
		SELECT id, sub, role FROM inserted
		UNION ALL
		SELECT id, sub, role FROM users WHERE sub = $1
		LIMIT 1
	`, subject, role).Scan(&user.ID, &user.Subject, &user.Role)
	if err != nil {
		return model.User{}, err
	}
	if user.Role != role {
		return user, fmt.Errorf("%w: %s is %s", ErrRoleChanged, subject, user.Role)
	}
	return user, nil
}

const courseColumns = `id, subject, number, title, term, instructor_id`

func (q *PGQueries) GetCourse(ctx context.Context, id int64) (model.Course, error) {
	row := q.db.QueryRow(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = $1`, id)
	course, err := scanCourse(row)
	return course, notFound(err)
}

func (q *PGQueries) LockCourse(ctx context.Context, id int64) error {
	var locked int64
	err := q.db.QueryRow(ctx, `SELECT id FROM courses WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	return notFound(err)
}

func (q *PGQueries) ListCourses(ctx context.Context, limit, offset int) ([]model.Course, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+courseColumns+`
		FROM courses
		ORDER BY subject, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanCourses(rows)
}

func (q *PGQueries) ListCoursesByInstructor(ctx context.Context, instructorID int64) ([]model.Course, error) {
	rows, err := q.db.Query(ctx, `SELECT `+courseColumns+` FROM courses WHERE instructor_id = $1 ORDER BY id`, instructorID)
	if err != nil {
		return nil, err
	}
	return scanCourses(rows)
}

func (q *PGQueries) CreateCourse(ctx context.Context, course model.Course) (model.Course, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO courses (subject, number, title, term, instructor_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+courseColumns,
		course.Subject, course.Number, course.Title, course.Term, course.InstructorID)
	return scanCourse(row)
}

func (q *PGQueries) UpdateCourse(ctx context.Context, course model.Course) (model.Course, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE courses
		SET subject = $2, number = $3, title = $4, term = $5, instructor_id = $6
		WHERE id = $1
		RETURNING `+courseColumns,
		course.ID, course.Subject, course.Number, course.Title, course.Term, course.InstructorID)
	updated, err := scanCourse(row)
	return updated, notFound(err)
}

func (q *PGQueries) DeleteCourse(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *PGQueries) ListEnrollments(ctx context.Context, filter EnrollmentFilter) ([]model.Enrollment, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, course_id, student_id
		FROM enrollments
		WHERE ($1::BIGINT = 0 OR course_id = $1) AND ($2::BIGINT = 0 OR student_id = $2)
		ORDER BY course_id, student_id
	`, filter.CourseID, filter.StudentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	enrollments := make([]model.Enrollment, 0)
	for rows.Next() {
		var enrollment model.Enrollment
		if err := rows.Scan(&enrollment.ID, &enrollment.CourseID, &enrollment.StudentID); err != nil {
			return nil, err
		}
		enrollments = append(enrollments, enrollment)
	}
	return enrollments, rows.Err()
}

func (q *PGQueries) CreateEnrollment(ctx context.Context, enrollment model.Enrollment) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO enrollments (id, course_id, student_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (course_id, student_id) DO NOTHING
	`, enrollment.ID, enrollment.CourseID, enrollment.StudentID)
	return err
}

func (q *PGQueries) DeleteEnrollments(ctx context.Context, filter EnrollmentFilter) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM enrollments
		WHERE ($1::BIGINT = 0 OR course_id = $1) AND ($2::BIGINT = 0 OR student_id = $2)
	`, filter.CourseID, filter.StudentID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanUsers(rows pgx.Rows) ([]model.User, error) {
	defer rows.Close()
	users := make([]model.User, 0)
	for rows.Next() {
		var user model.User
		if err := rows.Scan(&user.ID, &user.Subject, &user.Role); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func scanCourse(row pgx.Row) (model.Course, error) {
	var course model.Course
	err := row.Scan(&course.ID, &course.Subject, &course.Number, &course.Title, &course.Term, &course.InstructorID)
	return course, err
}

func scanCourses(rows pgx.Rows) ([]model.Course, error) {
	defer rows.Close()
	courses := make([]model.Course, 0)
	for rows.Next() {
		course, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		courses = append(courses, course)
	}
	return courses, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
