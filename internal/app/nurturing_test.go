package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school_mailman/internal/domain/campaign"
	"school_mailman/internal/domain/window"
)

const newUserNurturing = "New User Nurturing"

func nurturingCatalog() campaign.Catalog {
	return campaign.Catalog{Campaigns: []campaign.Definition{{
		Name:      newUserNurturing,
		Audiences: []string{AudienceInactiveNewUsers, AudienceInactiveTrialStudents},
		Cooldown:  72 * time.Hour,
		Category:  "nurturing",
		Stages:    []campaign.Stage{{TemplateID: "d-first"}, {TemplateID: "d-second"}},
	}}}
}

type nurturingFixture struct {
	school    *fakeSchool
	campaigns *fakeCampaigns
	sender    *fakeSender
	reporter  *recordingReporter
	svc       *NurturingService
}

func newNurturingFixture(t *testing.T) *nurturingFixture {
	t.Helper()
	f := &nurturingFixture{
		school:    newFakeSchool(),
		campaigns: newFakeCampaigns(),
		sender:    &fakeSender{fail: map[string]bool{}},
		reporter:  &recordingReporter{},
	}
	svc, err := NewNurturingService(nurturingCatalog(), f.campaigns, f.school, f.sender, f.reporter,
		testLog(), time.UTC, Links{BaseURL: "https://school.test"})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *nurturingFixture) yesterdayOf(now time.Time) string {
	return key(window.Day(now).Prev())
}

func (f *nurturingFixture) run(t *testing.T, now time.Time) NurturingReport {
	t.Helper()
	reports, err := f.svc.Run(context.Background(), now, nil)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	return reports[0]
}

func (f *nurturingFixture) enrollment(t *testing.T, userID int64) (campaign.Enrollment, bool) {
	t.Helper()
	return f.campaigns.find(newUserNurturing, userID)
}

func TestNurturing_AdvancesThenRemovesAfterLastStage(t *testing.T) {
	f := newNurturingFixture(t)
	now := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	f.school.addUser(1, "ada@example.com", "Ada")
	f.school.newUsers[f.yesterdayOf(now)] = []int64{1}

	first := f.run(t, now)
	assert.Equal(t, 1, first.Enrolled)
	assert.Equal(t, 1, first.Sent)
	assert.Equal(t, 1, first.Advanced)
	e, ok := f.enrollment(t, 1)
	require.True(t, ok, "enrollment must survive stage 0")
	assert.Equal(t, 1, e.Stage)
	assert.True(t, e.SentAt.Valid)
	assert.True(t, now.Equal(e.SentAt.Time))

	later := now.Add(73 * time.Hour)
	second := f.run(t, later)
	assert.Equal(t, 1, second.Sent)
	assert.Equal(t, 1, second.Completed)
	assert.Equal(t, 1, second.Removed)
	_, ok = f.enrollment(t, 1)
	assert.False(t, ok, "enrollment must be removed after its last stage")

	require.Len(t, f.sender.batches, 2)
	assert.Equal(t, "d-first", f.sender.batches[0].TemplateID)
	assert.Equal(t, "d-second", f.sender.batches[1].TemplateID)
	assert.Equal(t, "nurturing", f.sender.batches[0].Category)
	assert.Equal(t, "0", f.sender.batches[0].Personalizations[0].CustomArgs["stage"])
	assert.Equal(t, []string{"insert", "list", "upsert", "delete", "insert", "list", "upsert", "delete"}, f.campaigns.calls)
}

func TestNurturing_CooldownHoldsStage(t *testing.T) {
	f := newNurturingFixture(t)
	now := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	f.school.addUser(1, "ada@example.com", "Ada")
	f.school.newUsers[f.yesterdayOf(now)] = []int64{1}

	f.run(t, now)
	report := f.run(t, now.Add(24*time.Hour))

	assert.Equal(t, 1, report.Held)
	assert.Zero(t, report.Sent)
	e, ok := f.enrollment(t, 1)
	require.True(t, ok)
	assert.Equal(t, 1, e.Stage)
	assert.Len(t, f.sender.batches, 1)
}

func TestNurturing_EnrollmentIsIdempotent(t *testing.T) {
	f := newNurturingFixture(t)
	now := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	f.school.addUser(1, "ada@example.com", "Ada")
	f.school.addUser(2, "bob@example.com", "Bob")
	f.school.newUsers[f.yesterdayOf(now)] = []int64{1, 2}
	f.school.trial[f.yesterdayOf(now)] = []int64{2}

	first := f.run(t, now)
	assert.Equal(t, 2, first.Candidates)
	assert.Equal(t, 2, first.Enrolled)

	second := f.run(t, now.Add(time.Hour))
	assert.Zero(t, second.Enrolled)
	assert.Len(t, f.campaigns.rows, 2)
	for _, e := range f.campaigns.rows {
		assert.Equal(t, 1, e.Stage)
	}
	assert.Equal(t, []string{"ada@example.com", "bob@example.com"}, f.sender.recipients())
}

func TestNurturing_PaidUsersAreRemovedWithoutEmail(t *testing.T) {
	f := newNurturingFixture(t)
	now := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	f.school.addUser(1, "ada@example.com", "Ada")
	f.school.addUser(2, "bob@example.com", "Bob")
	f.school.newUsers[f.yesterdayOf(now)] = []int64{1, 2}
	f.school.paid[2] = true

	first := f.run(t, now)
	assert.Equal(t, 1, first.Disqualified)
	assert.Equal(t, []string{"ada@example.com"}, f.sender.recipients())
	_, ok := f.enrollment(t, 2)
	assert.False(t, ok)

	f.school.paid[1] = true
	second := f.run(t, now.Add(100*time.Hour))
	assert.Equal(t, 1, second.Disqualified)
	assert.Zero(t, second.Sent)
	assert.Empty(t, f.campaigns.rows)
	assert.Len(t, f.sender.batches, 1)
}

func TestNurturing_FailedRecipientsDoNotAdvance(t *testing.T) {
	f := newNurturingFixture(t)
	now := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	f.school.addUser(1, "ada@example.com", "Ada")
	f.school.addUser(2, "bob@example.com", "Bob")
	f.school.newUsers[f.yesterdayOf(now)] = []int64{1, 2}
	f.sender.fail["bob@example.com"] = true

	report := f.run(t, now)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.Failed)

	bob, ok := f.enrollment(t, 2)
	require.True(t, ok)
	assert.Equal(t, 0, bob.Stage)
	assert.False(t, bob.SentAt.Valid)
}

func TestNurturing_SweepsLeftoversAndMissingUsers(t *testing.T) {
	f := newNurturingFixture(t)
	now := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	f.school.addUser(1, "ada@example.com", "Ada")
	require.NoError(t, f.campaigns.UpsertEnrollments(context.Background(), []campaign.Enrollment{
		{Campaign: newUserNurturing, UserID: 1, Stage: 2},
		{Campaign: newUserNurturing, UserID: 99, Stage: 0},
	}))

	report := f.run(t, now)
	assert.Equal(t, 2, report.Swept)
	assert.Equal(t, 2, report.Removed)
	assert.Empty(t, f.campaigns.rows)
	assert.Empty(t, f.sender.batches)
}

func TestNurturing_ScansYesterdayInServiceLocation(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata not available")
	}
	f := newNurturingFixture(t)
	f.svc.loc = berlin

	now := time.Date(2024, 1, 9, 23, 30, 0, 0, time.UTC) // 00:30 on the 10th in Berlin
	f.run(t, now)

	require.NotEmpty(t, f.school.windows)
	want := time.Date(2024, 1, 9, 0, 0, 0, 0, berlin)
	assert.True(t, want.Equal(f.school.windows[0].Start))
}

func TestNurturing_Errors(t *testing.T) {
	f := newNurturingFixture(t)
	now := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)

	_, err := f.svc.Run(context.Background(), now, []string{"Nope"})
	assert.ErrorIs(t, err, ErrUnknownCampaign)

	boom := errors.New("replica lag")
	f.school.scanErr = boom
	_, err = f.svc.Run(context.Background(), now, []string{newUserNurturing})
	assert.ErrorIs(t, err, boom)
	require.Len(t, f.reporter.reports, 1)
	assert.Equal(t, newUserNurturing, f.reporter.reports[0].Fields["campaign"])
}

func TestNewNurturingService_ValidatesCatalog(t *testing.T) {
	catalog := nurturingCatalog()
	catalog.Campaigns[0].Audiences = []string{"everyone"}
	_, err := NewNurturingService(catalog, newFakeCampaigns(), newFakeSchool(), &fakeSender{}, &recordingReporter{},
		testLog(), time.UTC, Links{})
	assert.Error(t, err)
}
