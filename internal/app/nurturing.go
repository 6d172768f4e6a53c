package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"school_mailman/internal/domain/campaign"
	"school_mailman/internal/domain/mail"
	"school_mailman/internal/domain/school"
	"school_mailman/internal/domain/telemetry"
	"school_mailman/internal/domain/window"
)

// Audiences a campaign can draw candidates from.
const (
	AudienceInactiveNewUsers      = "inactive_new_users"
	AudienceInactiveTrialStudents = "inactive_trial_students"
)

// KnownAudiences is the set accepted in campaign catalogs.
var KnownAudiences = []string{AudienceInactiveNewUsers, AudienceInactiveTrialStudents}

var ErrUnknownCampaign = errors.New("unknown campaign")

// Nurturer runs nurturing campaigns.
type Nurturer interface {
	Run(ctx context.Context, now time.Time, campaigns []string) ([]NurturingReport, error)
	Campaigns() []string
}

// NurturingReport counts what one campaign run did.
type NurturingReport struct {
	Campaign     string `json:"campaign"`
	Candidates   int    `json:"candidates"`
	Enrolled     int    `json:"enrolled"`
	Sent         int    `json:"sent"`
	Failed       int    `json:"failed"`
	Held         int    `json:"held"`
	Advanced     int    `json:"advanced"`
	Completed    int    `json:"completed"`
	Disqualified int    `json:"disqualified"`
	Swept        int    `json:"swept"`
	Removed      int    `json:"removed"`
}

// NurturingService moves users through multi-stage email campaigns.
type NurturingService struct {
	catalog   campaign.Catalog
	campaigns campaign.Repository
	school    school.Repository
	sender    mail.Sender
	reporter  telemetry.Reporter
	log       *logrus.Entry
	loc       *time.Location
	links     Links
	tracer    trace.Tracer
}

var _ Nurturer = (*NurturingService)(nil)

func NewNurturingService(
	catalog campaign.Catalog,
	campaigns campaign.Repository,
	schoolRepo school.Repository,
	sender mail.Sender,
	reporter telemetry.Reporter,
	log *logrus.Entry,
	loc *time.Location,
	links Links,
) (*NurturingService, error) {
	if err := catalog.Validate(KnownAudiences); err != nil {
		return nil, errors.Wrap(err, "campaign catalog")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &NurturingService{
		catalog:   catalog,
		campaigns: campaigns,
		school:    schoolRepo,
		sender:    sender,
		reporter:  reporter,
		log:       log,
		loc:       loc,
		links:     links,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

func (s *NurturingService) Campaigns() []string { return s.catalog.Names() }

// Run processes the named campaigns, or all of them when names is empty.
// A failing campaign is reported and the remaining ones still run; the first
// failure is returned.
func (s *NurturingService) Run(ctx context.Context, now time.Time, names []string) ([]NurturingReport, error) {
	defs := s.catalog.Campaigns
	if len(names) > 0 {
		defs = make([]campaign.Definition, 0, len(names))
		for _, name := range names {
			def, ok := s.catalog.Get(name)
			if !ok {
				return nil, errors.Wrapf(ErrUnknownCampaign, "%q", name)
			}
			defs = append(defs, def)
		}
	}

	runID := uuid.NewString()
	var (
		reports  []NurturingReport
		firstErr error
	)
	for _, def := range defs {
		report, err := s.runCampaign(ctx, def, now, runID)
		reports = append(reports, report)
		if err != nil {
			err = errors.Wrapf(err, "campaign %s", def.Name)
			s.log.WithError(err).WithField("campaign", def.Name).Error("Nurturing campaign failed")
			s.reporter.Report(ctx, telemetry.Report{
				Job:    "nurturing",
				Err:    err,
				Fields: map[string]any{"campaign": def.Name, "run_id": runID},
			})
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return reports, reportedError{firstErr}
	}
	return reports, nil
}

func (s *NurturingService) runCampaign(ctx context.Context, def campaign.Definition, now time.Time, runID string) (report NurturingReport, err error) {
	report.Campaign = def.Name
	ctx, span := s.tracer.Start(ctx, "nurturing.campaign", trace.WithAttributes(
		attribute.String("campaign", def.Name),
		attribute.String("run_id", runID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	log := s.log.WithFields(logrus.Fields{"campaign": def.Name, "run_id": runID})

	candidates := campaign.NewCandidateSet()
	for _, audience := range def.Audiences {
		ids, err := s.scan(ctx, audience, now)
		if err != nil {
			return report, errors.Wrapf(err, "audience %s", audience)
		}
		candidates.Add(ids...)
	}
	report.Candidates = candidates.Len()

	report.Enrolled, err = s.campaigns.InsertEnrollments(ctx, def.Name, candidates.IDs())
	if err != nil {
		return report, errors.Wrap(err, "enroll candidates")
	}

	enrollments, err := s.campaigns.ListEnrollments(ctx, def.Name)
	if err != nil {
		return report, errors.Wrap(err, "list enrollments")
	}
	if len(enrollments) == 0 {
		log.Info("No enrollments to process")
		return report, nil
	}

	userIDs := make([]int64, len(enrollments))
	for i, e := range enrollments {
		userIDs[i] = e.UserID
	}
	paidIDs, err := s.school.PaidUserIDs(ctx, userIDs)
	if err != nil {
		return report, errors.Wrap(err, "paid users")
	}
	paid := make(map[int64]bool, len(paidIDs))
	for _, id := range paidIDs {
		paid[id] = true
	}
	users, err := s.school.UsersByIDs(ctx, userIDs)
	if err != nil {
		return report, errors.Wrap(err, "load users")
	}
	byID := make(map[int64]school.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	var removals []int64
	due := make(map[int][]campaign.Enrollment)
	for _, e := range enrollments {
		if _, ok := byID[e.UserID]; !ok {
			removals = append(removals, e.ID)
			report.Swept++
			continue
		}
		switch def.Decide(e, paid[e.UserID], now) {
		case campaign.Disqualify:
			removals = append(removals, e.ID)
			report.Disqualified++
		case campaign.SweepLeftover:
			removals = append(removals, e.ID)
			report.Swept++
		case campaign.Send:
			due[e.Stage] = append(due[e.Stage], e)
		default:
			report.Held++
		}
	}

	var advanced []campaign.Enrollment
	for _, stage := range sortedStages(due) {
		sent := s.sendStage(ctx, def, stage, due[stage], byID, runID)
		report.Sent += len(sent)
		report.Failed += len(due[stage]) - len(sent)
		for _, e := range sent {
			next, done := def.Advance(e, now)
			if done {
				removals = append(removals, e.ID)
				report.Completed++
				continue
			}
			advanced = append(advanced, next)
			report.Advanced++
		}
	}

	// Advance first, then remove. A crash in between leaves completed rows
	// that the next run sweeps.
	if err := s.campaigns.UpsertEnrollments(ctx, advanced); err != nil {
		return report, errors.Wrap(err, "advance enrollments")
	}
	report.Removed, err = s.campaigns.DeleteEnrollments(ctx, removals)
	if err != nil {
		return report, errors.Wrap(err, "remove enrollments")
	}

	log.WithFields(logrus.Fields{
		"candidates":   report.Candidates,
		"enrolled":     report.Enrolled,
		"sent":         report.Sent,
		"failed":       report.Failed,
		"advanced":     report.Advanced,
		"completed":    report.Completed,
		"disqualified": report.Disqualified,
		"removed":      report.Removed,
	}).Info("Nurturing campaign processed")
	return report, nil
}

// sendStage emails one stage and returns the enrollments whose recipient was
// accepted by the provider.
func (s *NurturingService) sendStage(
	ctx context.Context,
	def campaign.Definition,
	stage int,
	enrollments []campaign.Enrollment,
	users map[int64]school.User,
	runID string,
) []campaign.Enrollment {
	templateID, _ := def.TemplateFor(stage)
	ps := make([]mail.Personalization, 0, len(enrollments))
	for _, e := range enrollments {
		ps = append(ps, userPersonalization(users[e.UserID], map[string]string{
			"campaign": def.Name,
			"stage":    fmt.Sprint(stage),
			"run_id":   runID,
		}, map[string]any{
			"stage":       stage + 1,
			"total":       def.TotalStages(),
			"catalog_url": s.links.Catalog(),
		}))
	}

	res := s.sender.Send(ctx, mail.Batch{TemplateID: templateID, Category: def.Category, Personalizations: ps})
	failed := res.FailedRecipients()
	sent := make([]campaign.Enrollment, 0, len(enrollments))
	for _, e := range enrollments {
		if _, ok := failed[users[e.UserID].Email]; ok {
			continue
		}
		sent = append(sent, e)
	}
	return sent
}

// scan runs one audience query over yesterday's window.
func (s *NurturingService) scan(ctx context.Context, audience string, now time.Time) ([]int64, error) {
	w := window.Day(now.In(s.loc)).Prev()
	switch audience {
	case AudienceInactiveNewUsers:
		return s.school.InactiveNewUserIDs(ctx, w)
	case AudienceInactiveTrialStudents:
		return s.school.InactiveTrialStudentIDs(ctx, w)
	default:
		return nil, errors.Errorf("unknown audience %q", audience)
	}
}

func sortedStages(due map[int][]campaign.Enrollment) []int {
	stages := make([]int, 0, len(due))
	for stage := range due {
		stages = append(stages, stage)
	}
	sort.Ints(stages)
	return stages
}
