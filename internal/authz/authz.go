// Package authz decides whether a requester may perform an action on a
// target. Decisions are pure functions of their inputs.
package authz

import (
	"errors"
	"fmt"

	"github.com/elkanatum/tarpaulin-api/internal/model"
)

var ErrForbidden = errors.New("forbidden")

type Action string

const (
	CreateCourse     Action = "course.create"
	UpdateCourse     Action = "course.update"
	DeleteCourse     Action = "course.delete"
	ViewCourse       Action = "course.view"
	ListCourses      Action = "course.list"
	ListUsers        Action = "user.list"
	ViewUser         Action = "user.view"
	ManageEnrollment Action = "enrollment.manage"
	ViewEnrollment   Action = "enrollment.view"
	CreateAvatar     Action = "avatar.create"
	GetAvatar        Action = "avatar.get"
	DeleteAvatar     Action = "avatar.delete"
)

// Target carries whatever the action applies to. A nil Course or User means
// the record does not exist.
type Target struct {
	Course *model.Course
	User   *model.User
	// UserID is the id named by the request path, used for ownership checks
	// that do not need the record itself.
	UserID int64
}

type Decision struct {
	Allowed bool
	Reason  string
}

func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrForbidden, d.Reason)
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

func Authorize(requester *model.User, action Action, target Target) Decision {
	switch action {
	case ViewCourse, ListCourses:
		return allow()
	}
	if requester == nil {
		return deny("no requester")
	}

	switch action {
	case CreateCourse:
		return requireAdmin(requester)
	case UpdateCourse, DeleteCourse:
		if target.Course == nil {
			return deny("course does not exist")
		}
		return requireAdmin(requester)
	case ListUsers:
		return requireAdmin(requester)
	case ViewUser:
		if target.User == nil {
			return deny("user does not exist")
		}
		if requester.Role == model.RoleAdmin || requester.ID == target.User.ID {
			return allow()
		}
		return deny("not the requested user")
	case ManageEnrollment, ViewEnrollment:
		if target.Course == nil {
			return deny("course does not exist")
		}
		if requester.Role == model.RoleAdmin {
			return allow()
		}
		if requester.Role == model.RoleInstructor && requester.ID == target.Course.InstructorID {
			return allow()
		}
		return deny("not the course instructor")
	case CreateAvatar, GetAvatar, DeleteAvatar:
		if requester.ID == target.UserID {
			return allow()
		}
		return deny("avatar belongs to another user")
	}
	return deny("unknown action")
}

func requireAdmin(requester *model.User) Decision {
	if requester.Role != model.RoleAdmin {
		return deny("admin role required")
	}
	return allow()
}
