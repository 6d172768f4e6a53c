package app

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"school_mailman/internal/domain/campaign"
	"school_mailman/internal/domain/mail"
	"school_mailman/internal/domain/school"
	"school_mailman/internal/domain/telemetry"
	"school_mailman/internal/domain/window"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// fakeSchool serves canned query results and records the windows asked for.
type fakeSchool struct {
	school.Repository

	users        map[int64]school.User
	newUsers     map[string][]int64 // keyed by window start
	trial        map[string][]int64
	paid         map[int64]bool
	starting     []school.SessionDetail
	ended        []school.SessionDetail
	attendees    []school.Attendee
	noShows      []school.NoShow
	classrooms   map[int64][]int64
	classes      map[int64]school.Class
	upcoming     map[int64][]school.Session
	enrollments  map[int64]map[int64]bool
	windows      []window.Window
	scanErr      error
}

func newFakeSchool() *fakeSchool {
	return &fakeSchool{
		users:       map[int64]school.User{},
		newUsers:    map[string][]int64{},
		trial:       map[string][]int64{},
		paid:        map[int64]bool{},
		classrooms:  map[int64][]int64{},
		classes:     map[int64]school.Class{},
		upcoming:    map[int64][]school.Session{},
		enrollments: map[int64]map[int64]bool{},
	}
}

func (f *fakeSchool) addUser(id int64, email, first string) school.User {
	u := school.User{ID: id, Email: email, FirstName: first}
	f.users[id] = u
	return u
}

func key(w window.Window) string { return w.Start.UTC().Format(time.RFC3339) }

func (f *fakeSchool) GetUser(_ context.Context, id int64) (*school.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, school.ErrUserNotFound
	}
	return &u, nil
}

func (f *fakeSchool) UsersByIDs(_ context.Context, ids []int64) ([]school.User, error) {
	var out []school.User
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeSchool) InactiveNewUserIDs(_ context.Context, w window.Window) ([]int64, error) {
	f.windows = append(f.windows, w)
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return f.newUsers[key(w)], nil
}

func (f *fakeSchool) InactiveTrialStudentIDs(_ context.Context, w window.Window) ([]int64, error) {
	f.windows = append(f.windows, w)
	return f.trial[key(w)], nil
}

func (f *fakeSchool) PaidUserIDs(_ context.Context, ids []int64) ([]int64, error) {
	var out []int64
	for _, id := range ids {
		if f.paid[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeSchool) SessionsWithClassAndTeacher(_ context.Context, w window.Window) ([]school.SessionDetail, error) {
	f.windows = append(f.windows, w)
	var out []school.SessionDetail
	for _, s := range f.starting {
		if w.Contains(s.Session.StartsAt) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSchool) SessionsEndedWithClassAndTeacher(_ context.Context, w window.Window) ([]school.SessionDetail, error) {
	f.windows = append(f.windows, w)
	var out []school.SessionDetail
	for _, s := range f.ended {
		if w.Contains(s.Session.EndsAt) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSchool) AttendeesOfSessions(_ context.Context, ids []int64) ([]school.Attendee, error) {
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []school.Attendee
	for _, a := range f.attendees {
		if want[a.SessionID] {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeSchool) NoShows(_ context.Context, w window.Window) ([]school.NoShow, error) {
	f.windows = append(f.windows, w)
	var out []school.NoShow
	for _, n := range f.noShows {
		if w.Contains(n.Session.Session.EndsAt) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeSchool) ClassroomMembers(_ context.Context, classroomID int64) ([]school.User, error) {
	var out []school.User
	for _, id := range f.classrooms[classroomID] {
		out = append(out, f.users[id])
	}
	return out, nil
}

func (f *fakeSchool) GetClass(_ context.Context, id int64) (*school.Class, error) {
	c, ok := f.classes[id]
	if !ok {
		return nil, school.ErrClassNotFound
	}
	return &c, nil
}

func (f *fakeSchool) UpcomingSessionsOfClass(_ context.Context, classID int64, after time.Time) ([]school.Session, error) {
	var out []school.Session
	for _, s := range f.upcoming[classID] {
		if !s.StartsAt.Before(after) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSchool) EnrollInSessions(_ context.Context, userID int64, ids []int64) (int, error) {
	n := 0
	for _, id := range ids {
		if f.enrollments[id] == nil {
			f.enrollments[id] = map[int64]bool{}
		}
		if !f.enrollments[id][userID] {
			f.enrollments[id][userID] = true
			n++
		}
	}
	return n, nil
}

// fakeCampaigns keeps enrollments in memory with the (campaign, user) unique key.
type fakeCampaigns struct {
	rows   map[int64]campaign.Enrollment
	nextID int64
	calls  []string
}

func newFakeCampaigns() *fakeCampaigns {
	return &fakeCampaigns{rows: map[int64]campaign.Enrollment{}}
}

func (f *fakeCampaigns) find(name string, userID int64) (campaign.Enrollment, bool) {
	for _, e := range f.rows {
		if e.Campaign == name && e.UserID == userID {
			return e, true
		}
	}
	return campaign.Enrollment{}, false
}

func (f *fakeCampaigns) InsertEnrollments(_ context.Context, name string, userIDs []int64) (int, error) {
	f.calls = append(f.calls, "insert")
	n := 0
	for _, id := range userIDs {
		if _, ok := f.find(name, id); ok {
			continue
		}
		f.nextID++
		f.rows[f.nextID] = campaign.Enrollment{ID: f.nextID, Campaign: name, UserID: id}
		n++
	}
	return n, nil
}

func (f *fakeCampaigns) ListEnrollments(_ context.Context, name string) ([]campaign.Enrollment, error) {
	f.calls = append(f.calls, "list")
	var out []campaign.Enrollment
	for _, e := range f.rows {
		if e.Campaign == name {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeCampaigns) UpsertEnrollments(_ context.Context, es []campaign.Enrollment) error {
	f.calls = append(f.calls, "upsert")
	for _, e := range es {
		if existing, ok := f.find(e.Campaign, e.UserID); ok {
			e.ID = existing.ID
		} else {
			f.nextID++
			e.ID = f.nextID
		}
		f.rows[e.ID] = e
	}
	return nil
}

func (f *fakeCampaigns) DeleteEnrollments(_ context.Context, ids []int64) (int, error) {
	f.calls = append(f.calls, "delete")
	n := 0
	for _, id := range ids {
		if _, ok := f.rows[id]; ok {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

// fakeSender records batches; recipients in fail are reported as a failed chunk.
type fakeSender struct {
	mu      sync.Mutex
	batches []mail.Batch
	fail    map[string]bool
}

func (f *fakeSender) Send(_ context.Context, b mail.Batch) mail.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b)

	res := mail.Result{Chunks: 1}
	var failed []string
	for _, p := range b.Personalizations {
		if f.fail[p.To.Address] {
			failed = append(failed, p.To.Address)
			continue
		}
		res.Delivered = append(res.Delivered, p.To.Address)
	}
	if len(failed) > 0 {
		res.Failed = []mail.ChunkFailure{{Index: 0, Recipients: failed, Err: io.ErrUnexpectedEOF}}
	}
	return res
}

func (f *fakeSender) recipients() []string {
	var out []string
	for _, b := range f.batches {
		for _, p := range b.Personalizations {
			out = append(out, p.To.Address)
		}
	}
	return out
}

type recordingReporter struct {
	reports []telemetry.Report
}

func (r *recordingReporter) Report(_ context.Context, rep telemetry.Report) {
	r.reports = append(r.reports, rep)
}
