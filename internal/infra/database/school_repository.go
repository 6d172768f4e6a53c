package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"school_mailman/internal/domain/query"
	"school_mailman/internal/domain/school"
	"school_mailman/internal/domain/window"
)

// Custom errors
var (
	ErrUserNotFound  = school.ErrUserNotFound
	ErrClassNotFound = school.ErrClassNotFound
)

const paymentSucceeded = "succeeded"

const userColumns = `u.id, u.email, u.first_name, u.last_name, u.time_zone, u.created_at`

const sessionDetailColumns = `s.id AS session_id, s.class_id, s.starts_at, s.ends_at,
       c.title AS class_title, c.classroom_id,
       t.id AS teacher_id, t.email AS teacher_email, t.first_name AS teacher_first_name,
       t.last_name AS teacher_last_name, t.is_active AS teacher_is_active`

const sessionDetailJoins = `FROM sessions s
  JOIN classes c ON c.id = s.class_id
  JOIN teachers t ON t.id = c.teacher_id`

const prefixedUserColumns = `u.id AS user_id, u.email AS user_email, u.first_name AS user_first_name,
       u.last_name AS user_last_name, u.time_zone AS user_time_zone, u.created_at AS user_created_at`

var notPaid = query.Raw{
	SQL:  "NOT EXISTS (SELECT 1 FROM payments p WHERE p.user_id = u.id AND p.status = ?)",
	Args: []any{paymentSucceeded},
}

// SchoolRepository answers the candidate queries over the back-office tables.
type SchoolRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ school.Repository = (*SchoolRepository)(nil)

func NewSchoolRepository(db *sqlx.DB) *SchoolRepository {
	return &SchoolRepository{db: db, now: time.Now}
}

type sessionRow struct {
	SessionID        int64          `db:"session_id"`
	ClassID          int64          `db:"class_id"`
	StartsAt         time.Time      `db:"starts_at"`
	EndsAt           time.Time      `db:"ends_at"`
	ClassTitle       string         `db:"class_title"`
	ClassroomID      int64          `db:"classroom_id"`
	TeacherID        int64          `db:"teacher_id"`
	TeacherEmail     string         `db:"teacher_email"`
	TeacherFirstName string         `db:"teacher_first_name"`
	TeacherLastName  sql.NullString `db:"teacher_last_name"`
	TeacherIsActive  bool           `db:"teacher_is_active"`
}

func (r sessionRow) detail() school.SessionDetail {
	return school.SessionDetail{
		Session: school.Session{ID: r.SessionID, ClassID: r.ClassID, StartsAt: r.StartsAt, EndsAt: r.EndsAt},
		Class:   school.Class{ID: r.ClassID, Title: r.ClassTitle, TeacherID: r.TeacherID, ClassroomID: r.ClassroomID},
		Teacher: school.Teacher{
			ID:        r.TeacherID,
			Email:     r.TeacherEmail,
			FirstName: r.TeacherFirstName,
			LastName:  r.TeacherLastName,
			IsActive:  r.TeacherIsActive,
		},
	}
}

type userRow struct {
	UserID        int64          `db:"user_id"`
	UserEmail     string         `db:"user_email"`
	UserFirstName string         `db:"user_first_name"`
	UserLastName  sql.NullString `db:"user_last_name"`
	UserTimeZone  sql.NullString `db:"user_time_zone"`
	UserCreatedAt time.Time      `db:"user_created_at"`
}

func (r userRow) user() school.User {
	return school.User{
		ID:        r.UserID,
		Email:     r.UserEmail,
		FirstName: r.UserFirstName,
		LastName:  r.UserLastName,
		TimeZone:  r.UserTimeZone,
		CreatedAt: r.UserCreatedAt,
	}
}

// selectWhere appends the translated predicate to base and runs it.
func (r *SchoolRepository) selectWhere(ctx context.Context, dest any, base string, p query.Predicate, suffix string) error {
	where, args := BuildWhere(p)
	q := r.db.Rebind(base + " WHERE " + where + " " + suffix)
	return r.db.SelectContext(ctx, dest, q, args...)
}

func (r *SchoolRepository) GetUser(ctx context.Context, id int64) (*school.User, error) {
	u := &school.User{}
	err := r.db.GetContext(ctx, u, r.db.Rebind(`SELECT `+userColumns+` FROM users u WHERE u.id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("error getting user by ID: %w", err)
	}
	return u, nil
}

func (r *SchoolRepository) UsersByIDs(ctx context.Context, ids []int64) ([]school.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []school.User
	err := r.selectWhere(ctx, &users, `SELECT `+userColumns+` FROM users u`,
		query.In{Column: "u.id", Values: query.Int64s(ids)}, "ORDER BY u.id")
	if err != nil {
		return nil, fmt.Errorf("error getting users by IDs: %w", err)
	}
	return users, nil
}

func (r *SchoolRepository) InactiveNewUserIDs(ctx context.Context, w window.Window) ([]int64, error) {
	var ids []int64
	err := r.selectWhere(ctx, &ids, `SELECT u.id FROM users u`, query.And{
		query.InWindow("u.created_at", w),
		query.Raw{SQL: "NOT EXISTS (SELECT 1 FROM session_enrollments se WHERE se.user_id = u.id)"},
		notPaid,
	}, "ORDER BY u.id")
	if err != nil {
		return nil, fmt.Errorf("error finding inactive new users in %s: %w", w, err)
	}
	return ids, nil
}

func (r *SchoolRepository) InactiveTrialStudentIDs(ctx context.Context, w window.Window) ([]int64, error) {
	var ids []int64
	err := r.selectWhere(ctx, &ids, `SELECT DISTINCT u.id FROM users u
  JOIN session_enrollments se ON se.user_id = u.id
  JOIN sessions s ON s.id = se.session_id`, query.And{
		query.InWindow("s.ends_at", w),
		query.Raw{SQL: "NOT EXISTS (SELECT 1 FROM session_enrollments o WHERE o.user_id = u.id AND o.session_id <> se.session_id)"},
		notPaid,
	}, "ORDER BY u.id")
	if err != nil {
		return nil, fmt.Errorf("error finding inactive trial students in %s: %w", w, err)
	}
	return ids, nil
}

func (r *SchoolRepository) PaidUserIDs(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var paid []int64
	err := r.selectWhere(ctx, &paid, `SELECT DISTINCT p.user_id FROM payments p`, query.And{
		query.In{Column: "p.user_id", Values: query.Int64s(ids)},
		query.Eq{Column: "p.status", Value: paymentSucceeded},
	}, "ORDER BY p.user_id")
	if err != nil {
		return nil, fmt.Errorf("error finding paid users: %w", err)
	}
	return paid, nil
}

func (r *SchoolRepository) sessionDetails(ctx context.Context, p query.Predicate) ([]school.SessionDetail, error) {
	var rows []sessionRow
	if err := r.selectWhere(ctx, &rows, `SELECT `+sessionDetailColumns+` `+sessionDetailJoins, p, "ORDER BY s.starts_at, s.id"); err != nil {
		return nil, err
	}
	details := make([]school.SessionDetail, len(rows))
	for i, row := range rows {
		details[i] = row.detail()
	}
	return details, nil
}

func (r *SchoolRepository) SessionsWithClassAndTeacher(ctx context.Context, w window.Window) ([]school.SessionDetail, error) {
	details, err := r.sessionDetails(ctx, query.And{
		query.InWindow("s.starts_at", w),
		query.Eq{Column: "t.is_active", Value: true},
	})
	if err != nil {
		return nil, fmt.Errorf("error finding sessions starting in %s: %w", w, err)
	}
	return details, nil
}

func (r *SchoolRepository) SessionsEndedWithClassAndTeacher(ctx context.Context, w window.Window) ([]school.SessionDetail, error) {
	details, err := r.sessionDetails(ctx, query.And{
		query.InWindow("s.ends_at", w),
		query.Eq{Column: "t.is_active", Value: true},
	})
	if err != nil {
		return nil, fmt.Errorf("error finding sessions ended in %s: %w", w, err)
	}
	return details, nil
}

func (r *SchoolRepository) AttendeesOfSessions(ctx context.Context, sessionIDs []int64) ([]school.Attendee, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	var rows []struct {
		SessionID int64 `db:"session_id"`
		Attended  bool  `db:"attended"`
		userRow
	}
	err := r.selectWhere(ctx, &rows, `SELECT se.session_id, se.attended, `+prefixedUserColumns+`
  FROM session_enrollments se
  JOIN users u ON u.id = se.user_id`,
		query.In{Column: "se.session_id", Values: query.Int64s(sessionIDs)}, "ORDER BY se.session_id, u.id")
	if err != nil {
		return nil, fmt.Errorf("error finding attendees: %w", err)
	}
	attendees := make([]school.Attendee, len(rows))
	for i, row := range rows {
		attendees[i] = school.Attendee{SessionID: row.SessionID, User: row.user(), Attended: row.Attended}
	}
	return attendees, nil
}

func (r *SchoolRepository) NoShows(ctx context.Context, w window.Window) ([]school.NoShow, error) {
	var rows []struct {
		sessionRow
		userRow
	}
	err := r.selectWhere(ctx, &rows, `SELECT `+sessionDetailColumns+`, `+prefixedUserColumns+`
  `+sessionDetailJoins+`
  JOIN session_enrollments se ON se.session_id = s.id
  JOIN users u ON u.id = se.user_id`, query.And{
		query.InWindow("s.ends_at", w),
		query.Eq{Column: "se.attended", Value: false},
	}, "ORDER BY s.starts_at, s.id, u.id")
	if err != nil {
		return nil, fmt.Errorf("error finding no-shows in %s: %w", w, err)
	}
	noShows := make([]school.NoShow, len(rows))
	for i, row := range rows {
		noShows[i] = school.NoShow{Session: row.detail(), User: row.user()}
	}
	return noShows, nil
}

func (r *SchoolRepository) ClassroomMembers(ctx context.Context, classroomID int64) ([]school.User, error) {
	var users []school.User
	err := r.selectWhere(ctx, &users, `SELECT `+userColumns+` FROM users u
  JOIN classroom_members m ON m.user_id = u.id`,
		query.Eq{Column: "m.classroom_id", Value: classroomID}, "ORDER BY u.id")
	if err != nil {
		return nil, fmt.Errorf("error finding members of classroom %d: %w", classroomID, err)
	}
	return users, nil
}

func (r *SchoolRepository) GetClass(ctx context.Context, id int64) (*school.Class, error) {
	c := &school.Class{}
	err := r.db.GetContext(ctx, c, r.db.Rebind(`SELECT id, title, teacher_id, classroom_id FROM classes WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClassNotFound
		}
		return nil, fmt.Errorf("error getting class by ID: %w", err)
	}
	return c, nil
}

func (r *SchoolRepository) UpcomingSessionsOfClass(ctx context.Context, classID int64, after time.Time) ([]school.Session, error) {
	var sessions []school.Session
	err := r.selectWhere(ctx, &sessions, `SELECT id, class_id, starts_at, ends_at FROM sessions`, query.And{
		query.Eq{Column: "class_id", Value: classID},
		query.Since{Column: "starts_at", At: after},
	}, "ORDER BY starts_at, id")
	if err != nil {
		return nil, fmt.Errorf("error finding upcoming sessions of class %d: %w", classID, err)
	}
	return sessions, nil
}

func (r *SchoolRepository) EnrollInSessions(ctx context.Context, userID int64, sessionIDs []int64) (int, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}

	txn, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for session enrollment: %w", err)
	}
	defer txn.Rollback()

	stmt, err := txn.PreparexContext(ctx, r.db.Rebind(`INSERT INTO session_enrollments (session_id, user_id, attended, created_at)
               VALUES (?, ?, ?, ?)
               ON CONFLICT (session_id, user_id) DO NOTHING`))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare session enrollment: %w", err)
	}
	defer stmt.Close()

	now := dbTime(r.now())
	enrolled := 0
	for _, sid := range sessionIDs {
		res, err := stmt.ExecContext(ctx, sid, userID, false, now)
		if err != nil {
			return 0, fmt.Errorf("error enrolling user %d in session %d: %w", userID, sid, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("error reading enrolled rows: %w", err)
		}
		enrolled += int(n)
	}

	if err := txn.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit session enrollment: %w", err)
	}
	return enrolled, nil
}
