package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/elkanatum/tarpaulin-api/internal/authz"
	"github.com/elkanatum/tarpaulin-api/internal/db"
	"github.com/elkanatum/tarpaulin-api/internal/events"
	"github.com/elkanatum/tarpaulin-api/internal/model"
)

const defaultPageLimit = 3

// errCourseGone reports a course deleted between lookup and write. Gated
// endpoints answer it like any other missing target.
var errCourseGone = fmt.Errorf("%w: course no longer exists", authz.ErrForbidden)

type courseResponse struct {
	ID           int64  `json:"id"`
	Subject      string `json:"subject"`
	Number       string `json:"number"`
	Title        string `json:"title"`
	Term         string `json:"term"`
	InstructorID int64  `json:"instructor_id"`
	Self         string `json:"self"`
}

type courseListResponse struct {
	Courses []courseResponse `json:"courses"`
	Next    string           `json:"next,omitempty"`
}

// courseFields holds the writable course attributes. Nil means absent.
type courseFields struct {
	Subject      *string `json:"subject"`
	Number       *string `json:"number"`
	Title        *string `json:"title"`
	Term         *string `json:"term"`
	InstructorID *int64  `json:"instructor_id"`
}

func (f courseFields) complete() bool {
	return f.Subject != nil && f.Number != nil && f.Title != nil && f.Term != nil && f.InstructorID != nil
}

func (f courseFields) apply(course *model.Course) {
	if f.Subject != nil {
		course.Subject = *f.Subject
	}
	if f.Number != nil {
		course.Number = *f.Number
	}
	if f.Title != nil {
		course.Title = *f.Title
	}
	if f.Term != nil {
		course.Term = *f.Term
	}
	if f.InstructorID != nil {
		course.InstructorID = *f.InstructorID
	}
}

func (s *Server) courseURL(r *http.Request, id int64) string {
	return s.baseURL(r) + "/courses/" + strconv.FormatInt(id, 10)
}

func (s *Server) toCourseResponse(r *http.Request, course model.Course) courseResponse {
	return courseResponse{
		ID:           course.ID,
		Subject:      course.Subject,
		Number:       course.Number,
		Title:        course.Title,
		Term:         course.Term,
		InstructorID: course.InstructorID,
		Self:         s.courseURL(r, course.ID),
	}
}

// lookupCourse returns nil when the path id names no course.
func (s *Server) lookupCourse(ctx context.Context, r *http.Request) (*model.Course, error) {
	id, ok := pathID(r, "courseId")
	if !ok {
		return nil, nil
	}
	course, err := s.store.GetCourse(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	return &course, nil
}

// requireInstructor checks that id references a user with the instructor
// role.
func requireInstructor(ctx context.Context, q db.Queries, id int64) error {
	user, err := q.GetUser(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: instructor %d does not exist", errInvalidBody, id)
	}
	if err != nil {
		return fmt.Errorf("get instructor: %w", err)
	}
	if user.Role != model.RoleInstructor {
		return fmt.Errorf("%w: user %d is not an instructor", errInvalidBody, id)
	}
	return nil
}

func (s *Server) handleListCourses(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, authz.ListCourses, authz.Target{}) {
		return
	}
	limit := defaultPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			offset = parsed
		}
	}

	courses, err := s.store.ListCourses(r.Context(), limit, offset)
	if err != nil {
		s.writeAppError(w, r, fmt.Errorf("list courses: %w", err))
		return
	}
	resp := courseListResponse{Courses: make([]courseResponse, 0, len(courses))}
	for _, course := range courses {
		resp.Courses = append(resp.Courses, s.toCourseResponse(r, course))
	}
	if len(courses) == limit {
		resp.Next = fmt.Sprintf("%s/courses?limit=%d&offset=%d", s.baseURL(r), limit, offset+limit)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	course, err := s.lookupCourse(r.Context(), r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if course == nil {
		s.writeAppError(w, r, db.ErrNotFound)
		return
	}
	if !s.authorize(w, r, authz.ViewCourse, authz.Target{Course: course}) {
		return
	}
	writeJSON(w, http.StatusOK, s.toCourseResponse(r, *course))
}

func (s *Server) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, authz.CreateCourse, authz.Target{}) {
		return
	}
	var req courseFields
	if err := decodeJSON(r, &req); err != nil || !req.complete() {
		s.writeAppError(w, r, errInvalidBody)
		return
	}

	course := model.Course{}
	req.apply(&course)
	var created model.Course
	err := s.store.WithTx(r.Context(), func(q db.Queries) error {
		if err := requireInstructor(r.Context(), q, course.InstructorID); err != nil {
			return err
		}
		var err error
		created, err = q.CreateCourse(r.Context(), course)
		return err
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.publish(r.Context(), events.CourseCreated, events.CourseEvent{Course: created, OccurredAt: time.Now().UTC()})
	writeJSON(w, http.StatusCreated, s.toCourseResponse(r, created))
}

func (s *Server) handlePatchCourse(w http.ResponseWriter, r *http.Request) {
	course, err := s.lookupCourse(r.Context(), r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if !s.authorize(w, r, authz.UpdateCourse, authz.Target{Course: course}) {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeAppError(w, r, errInvalidBody)
		return
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || len(raw) == 0 {
		s.writeAppError(w, r, errInvalidBody)
		return
	}
	// A present instructor_id must name an instructor; null is not one.
	if value, ok := raw["instructor_id"]; ok && string(bytes.TrimSpace(value)) == "null" {
		s.writeAppError(w, r, errInvalidBody)
		return
	}
	var req courseFields
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeAppError(w, r, errInvalidBody)
		return
	}

	updated := *course
	req.apply(&updated)
	err = s.store.WithTx(r.Context(), func(q db.Queries) error {
		if req.InstructorID != nil {
			if err := requireInstructor(r.Context(), q, *req.InstructorID); err != nil {
				return err
			}
		}
		var err error
		updated, err = q.UpdateCourse(r.Context(), updated)
		return err
	})
	if errors.Is(err, db.ErrNotFound) {
		err = errCourseGone
	}
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.publish(r.Context(), events.CourseUpdated, events.CourseEvent{Course: updated, OccurredAt: time.Now().UTC()})
	writeJSON(w, http.StatusOK, s.toCourseResponse(r, updated))
}

func (s *Server) handleDeleteCourse(w http.ResponseWriter, r *http.Request) {
	course, err := s.lookupCourse(r.Context(), r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if !s.authorize(w, r, authz.DeleteCourse, authz.Target{Course: course}) {
		return
	}

	err = s.store.WithTx(r.Context(), func(q db.Queries) error {
		if _, err := q.DeleteEnrollments(r.Context(), db.EnrollmentFilter{CourseID: course.ID}); err != nil {
			return fmt.Errorf("delete enrollments: %w", err)
		}
		return q.DeleteCourse(r.Context(), course.ID)
	})
	if errors.Is(err, db.ErrNotFound) {
		err = errCourseGone
	}
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.publish(r.Context(), events.CourseDeleted, events.CourseEvent{Course: *course, OccurredAt: time.Now().UTC()})
	w.WriteHeader(http.StatusNoContent)
}

// Enrollment

type enrollmentRequest struct {
	Add    *[]*int64 `json:"add"`
	Remove *[]*int64 `json:"remove"`
}

func flattenIDs(ids []*int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == nil {
			out = append(out, 0)
			continue
		}
		out = append(out, *id)
	}
	return out
}

func (s *Server) handleGetCourseStudents(w http.ResponseWriter, r *http.Request) {
	course, err := s.lookupCourse(r.Context(), r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if !s.authorize(w, r, authz.ViewEnrollment, authz.Target{Course: course}) {
		return
	}
	students, err := s.enrollment.List(r.Context(), course.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, students)
}

func (s *Server) handlePatchCourseStudents(w http.ResponseWriter, r *http.Request) {
	course, err := s.lookupCourse(r.Context(), r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if !s.authorize(w, r, authz.ManageEnrollment, authz.Target{Course: course}) {
		return
	}

	var req enrollmentRequest
	if err := decodeJSON(r, &req); err != nil || req.Add == nil || req.Remove == nil {
		writeError(w, http.StatusConflict, msgConflict)
		return
	}
	adds, removes := flattenIDs(*req.Add), flattenIDs(*req.Remove)
	err = s.enrollment.Update(r.Context(), *course, adds, removes)
	if errors.Is(err, db.ErrNotFound) {
		err = errCourseGone
	}
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.publish(r.Context(), events.EnrollmentUpdated, events.EnrollmentEvent{
		CourseID:   course.ID,
		Added:      nonEmpty(adds),
		Removed:    nonEmpty(removes),
		OccurredAt: time.Now().UTC(),
	})
	w.WriteHeader(http.StatusOK)
}

func nonEmpty(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != 0 {
			out = append(out, id)
		}
	}
	return out
}
