package database

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = Migrate(ctx, db)
	require.NoError(t, err)
	return db
}

// fixtures inserts back-office rows for repository tests.
type fixtures struct {
	t  *testing.T
	db *sqlx.DB
}

func (f fixtures) exec(q string, args ...any) int64 {
	f.t.Helper()
	res, err := f.db.Exec(f.db.Rebind(q), args...)
	require.NoError(f.t, err)
	id, err := res.LastInsertId()
	require.NoError(f.t, err)
	return id
}

func (f fixtures) user(email string, createdAt time.Time) int64 {
	return f.exec(`INSERT INTO users (email, first_name, created_at) VALUES (?, ?, ?)`, email, "Ada", dbTime(createdAt))
}

func (f fixtures) teacher(email string, active bool) int64 {
	return f.exec(`INSERT INTO teachers (email, first_name, is_active) VALUES (?, ?, ?)`, email, "Grace", active)
}

func (f fixtures) class(title string, teacherID int64) (classID, classroomID int64) {
	classroomID = f.exec(`INSERT INTO classrooms (name) VALUES (?)`, title+" room")
	classID = f.exec(`INSERT INTO classes (title, teacher_id, classroom_id) VALUES (?, ?, ?)`, title, teacherID, classroomID)
	return classID, classroomID
}

func (f fixtures) session(classID int64, startsAt time.Time, d time.Duration) int64 {
	return f.exec(`INSERT INTO sessions (class_id, starts_at, ends_at) VALUES (?, ?, ?)`,
		classID, dbTime(startsAt), dbTime(startsAt.Add(d)))
}

func (f fixtures) booking(sessionID, userID int64, attended bool) {
	f.exec(`INSERT INTO session_enrollments (session_id, user_id, attended, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, userID, attended, dbTime(time.Now()))
}

func (f fixtures) payment(userID int64, status string) {
	f.exec(`INSERT INTO payments (user_id, status, amount_cents, created_at) VALUES (?, ?, ?, ?)`,
		userID, status, 1500, dbTime(time.Now()))
}

func (f fixtures) member(classroomID, userID int64) {
	f.exec(`INSERT INTO classroom_members (classroom_id, user_id) VALUES (?, ?)`, classroomID, userID)
}

func TestMigrate_IsIdempotent(t *testing.T) {
	db := openTestDB(t)

	version, err := Migrate(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "root@/mailman")
	assert.Error(t, err)
}
