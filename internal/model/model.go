package model

import "github.com/google/uuid"

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleInstructor, RoleStudent:
		return true
	}
	return false
}

type User struct {
	ID      int64  `json:"id"`
	Subject string `json:"sub"`
	Role    Role   `json:"role"`
}

type Course struct {
	ID           int64  `json:"id"`
	Subject      string `json:"subject"`
	Number       string `json:"number"`
	Title        string `json:"title"`
	Term         string `json:"term"`
	InstructorID int64  `json:"instructor_id"`
}

type Enrollment struct {
	ID        uuid.UUID `json:"id"`
	CourseID  int64     `json:"course_id"`
	StudentID int64     `json:"student_id"`
}
