package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/elkanatum/tarpaulin-api/internal/authz"
	"github.com/elkanatum/tarpaulin-api/internal/blob"
	"github.com/elkanatum/tarpaulin-api/internal/clients"
	"github.com/elkanatum/tarpaulin-api/internal/db"
	"github.com/elkanatum/tarpaulin-api/internal/model"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID      int64      `json:"id"`
	Role    model.Role `json:"role"`
	Subject string     `json:"sub"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, errInvalidBody)
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		s.writeAppError(w, r, errInvalidBody)
		return
	}
	if s.login == nil {
		s.writeAppError(w, r, clients.ErrNotConfigured)
		return
	}

	token, err := s.login.Login(r.Context(), req.Username, req.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"token": token})
	case errors.Is(err, clients.ErrBadCredentials):
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
	case errors.Is(err, clients.ErrNotConfigured):
		s.writeAppError(w, r, err)
	default:
		s.writeAppError(w, r, fmt.Errorf("%w: %v", errInvalidBody, err))
	}
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, authz.ListUsers, authz.Target{}) {
		return
	}
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.writeAppError(w, r, fmt.Errorf("list users: %w", err))
		return
	}
	resp := make([]userResponse, 0, len(users))
	for _, user := range users {
		resp = append(resp, userResponse{ID: user.ID, Role: user.Role, Subject: user.Subject})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	var target *model.User
	if id, ok := pathID(r, "userId"); ok {
		user, err := s.store.GetUser(r.Context(), id)
		switch {
		case err == nil:
			target = &user
		case !errors.Is(err, db.ErrNotFound):
			s.writeAppError(w, r, fmt.Errorf("get user: %w", err))
			return
		}
	}
	if !s.authorize(w, r, authz.ViewUser, authz.Target{User: target}) {
		return
	}

	resp := map[string]interface{}{
		"id":   target.ID,
		"role": target.Role,
		"sub":  target.Subject,
	}
	hasAvatar, err := s.bucket.Exists(r.Context(), blob.AvatarKey(target.ID))
	if err != nil {
		s.writeAppError(w, r, fmt.Errorf("check avatar: %w", err))
		return
	}
	if hasAvatar {
		resp["avatar_url"] = s.avatarURL(r, target.ID)
	}
	if target.Role == model.RoleInstructor || target.Role == model.RoleStudent {
		courses, err := s.userCourseURLs(r.Context(), r, *target)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		resp["courses"] = courses
	}
	writeJSON(w, http.StatusOK, resp)
}

// userCourseURLs lists the courses an instructor teaches or a student is
// enrolled in.
func (s *Server) userCourseURLs(ctx context.Context, r *http.Request, user model.User) ([]string, error) {
	urls := make([]string, 0)
	switch user.Role {
	case model.RoleInstructor:
		courses, err := s.store.ListCoursesByInstructor(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("list instructor courses: %w", err)
		}
		for _, course := range courses {
			urls = append(urls, s.courseURL(r, course.ID))
		}
	case model.RoleStudent:
		enrollments, err := s.store.ListEnrollments(ctx, db.EnrollmentFilter{StudentID: user.ID})
		if err != nil {
			return nil, fmt.Errorf("list student enrollments: %w", err)
		}
		for _, enrollment := range enrollments {
			urls = append(urls, s.courseURL(r, enrollment.CourseID))
		}
	}
	return urls, nil
}

func (s *Server) avatarURL(r *http.Request, userID int64) string {
	return s.baseURL(r) + "/users/" + strconv.FormatInt(userID, 10) + "/avatar"
}
