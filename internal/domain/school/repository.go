package school

import (
	"context"
	"errors"
	"time"

	"school_mailman/internal/domain/window"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrClassNotFound = errors.New("class not found")
)

// Repository exposes the typed queries used by candidate selection. Every
// window argument is half-open. Only EnrollInSessions writes.
type Repository interface {
	GetUser(ctx context.Context, id int64) (*User, error)
	UsersByIDs(ctx context.Context, ids []int64) ([]User, error)

	// InactiveNewUserIDs returns users who registered inside w and have
	// neither booked a session nor paid.
	InactiveNewUserIDs(ctx context.Context, w window.Window) ([]int64, error)
	// InactiveTrialStudentIDs returns users whose first (trial) session ended
	// inside w and who have no later booking and no payment.
	InactiveTrialStudentIDs(ctx context.Context, w window.Window) ([]int64, error)
	// PaidUserIDs returns the subset of ids with at least one successful payment.
	PaidUserIDs(ctx context.Context, ids []int64) ([]int64, error)

	SessionsWithClassAndTeacher(ctx context.Context, w window.Window) ([]SessionDetail, error)
	SessionsEndedWithClassAndTeacher(ctx context.Context, w window.Window) ([]SessionDetail, error)
	AttendeesOfSessions(ctx context.Context, sessionIDs []int64) ([]Attendee, error)
	NoShows(ctx context.Context, w window.Window) ([]NoShow, error)

	ClassroomMembers(ctx context.Context, classroomID int64) ([]User, error)
	GetClass(ctx context.Context, id int64) (*Class, error)
	UpcomingSessionsOfClass(ctx context.Context, classID int64, after time.Time) ([]Session, error)
	// EnrollInSessions books the user into sessions, skipping existing bookings.
	EnrollInSessions(ctx context.Context, userID int64, sessionIDs []int64) (int, error)
}
