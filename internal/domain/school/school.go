// Package school holds the read models the reminder jobs and campaigns query:
// users, teachers, classes and their scheduled sessions.
package school

import (
	"database/sql"
	"time"
)

// User is a parent or student account.
type User struct {
	ID        int64          `db:"id"`
	Email     string         `db:"email"`
	FirstName string         `db:"first_name"`
	LastName  sql.NullString `db:"last_name"`
	TimeZone  sql.NullString `db:"time_zone"`
	CreatedAt time.Time      `db:"created_at"`
}

// FullName joins first and last name when the latter is set.
func (u User) FullName() string {
	if u.LastName.Valid && u.LastName.String != "" {
		return u.FirstName + " " + u.LastName.String
	}
	return u.FirstName
}

// Teacher runs classes.
type Teacher struct {
	ID        int64          `db:"id"`
	Email     string         `db:"email"`
	FirstName string         `db:"first_name"`
	LastName  sql.NullString `db:"last_name"`
	IsActive  bool           `db:"is_active"`
}

// Class is a course offered by a teacher.
type Class struct {
	ID          int64  `db:"id"`
	Title       string `db:"title"`
	TeacherID   int64  `db:"teacher_id"`
	ClassroomID int64  `db:"classroom_id"`
}

// Session is one scheduled meeting of a class.
type Session struct {
	ID       int64     `db:"id"`
	ClassID  int64     `db:"class_id"`
	StartsAt time.Time `db:"starts_at"`
	EndsAt   time.Time `db:"ends_at"`
}

// SessionDetail is a session with its class and teacher.
type SessionDetail struct {
	Session Session
	Class   Class
	Teacher Teacher
}

// Attendee is a student enrolled in a session.
type Attendee struct {
	SessionID int64
	User      User
	Attended  bool
}

// NoShow is an enrolled student who did not attend a finished session.
type NoShow struct {
	Session SessionDetail
	User    User
}
