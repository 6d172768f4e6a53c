package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"

	"school_mailman/internal/domain/mail"
	"school_mailman/internal/domain/reminder"
	"school_mailman/internal/domain/school"
	"school_mailman/internal/domain/window"
)

// Reminder job names, also used as override names.
const (
	JobPreClassReminder  = "PreClassReminder"
	JobPostClassFollowUp = "PostClassFollowUp"
	JobNoShowFollowUp    = "NoShowFollowUp"
	JobTeacherSchedules  = "TeacherSchedules"
	JobTeacherReflection = "TeacherReflection"
)

const (
	noShowHour            = 9
	teacherSchedulesHour  = 19
	teacherReflectionHour = 20
)

// ReminderJobs builds the scheduled reminder jobs over the school store.
type ReminderJobs struct {
	School    school.Repository
	Sender    mail.Sender
	Templates Templates
	Links     Links
	Location  *time.Location
}

// All returns the jobs in registration order.
func (r *ReminderJobs) All() []reminder.Job {
	return []reminder.Job{
		reminder.Func{Name: JobPreClassReminder, Schedule: r.local(reminder.EveryHour()), Run: r.preClass},
		reminder.Func{Name: JobPostClassFollowUp, Schedule: r.local(reminder.EveryHour()), Run: r.postClass},
		reminder.Func{Name: JobNoShowFollowUp, Schedule: r.local(reminder.AtHour(noShowHour)), Run: r.noShow},
		reminder.Func{Name: JobTeacherSchedules, Schedule: r.local(reminder.AtHour(teacherSchedulesHour)), Run: r.teacherSchedules},
		reminder.Func{Name: JobTeacherReflection, Schedule: r.local(reminder.AtHour(teacherReflectionHour)), Run: r.teacherReflection},
	}
}

func (r *ReminderJobs) loc() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// local evaluates a schedule on the school's wall clock.
func (r *ReminderJobs) local(s reminder.Schedule) reminder.Schedule {
	return func(now time.Time) bool { return s(now.In(r.loc())) }
}

func (r *ReminderJobs) send(ctx context.Context, templateID, category string, ps []mail.Personalization) reminder.Outcome {
	out := reminder.Outcome{Candidates: len(ps)}
	if len(ps) == 0 {
		return out
	}
	res := r.Sender.Send(ctx, mail.Batch{TemplateID: templateID, Category: category, Personalizations: ps})
	out.Sent, out.Failed = outcomeOf(len(ps), res)
	return out
}

// preClass reminds students of sessions starting in the next hour.
func (r *ReminderJobs) preClass(ctx context.Context, now time.Time) (reminder.Outcome, error) {
	w := window.Hour(now.In(r.loc())).Next()
	sessions, err := r.School.SessionsWithClassAndTeacher(ctx, w)
	if err != nil {
		return reminder.Outcome{}, errors.Wrap(err, "upcoming sessions")
	}
	attendees, err := r.attendees(ctx, sessions)
	if err != nil {
		return reminder.Outcome{}, err
	}

	var ps []mail.Personalization
	for _, s := range sessions {
		for _, a := range attendees[s.Session.ID] {
			ps = append(ps, userPersonalization(a.User, map[string]string{
				"session_id": fmt.Sprint(s.Session.ID),
			}, map[string]any{
				"class_title":  s.Class.Title,
				"teacher_name": teacherAddress(s.Teacher).Name,
				"starts_at":    displayTime(s.Session.StartsAt, a.User.TimeZone.String, r.loc()),
				"class_url":    r.Links.Class(s.Class.ID),
			}))
		}
	}
	return r.send(ctx, r.Templates.PreClass, "pre-class-reminder", ps), nil
}

// postClass asks attendees of sessions that ended in the previous hour for a review.
func (r *ReminderJobs) postClass(ctx context.Context, now time.Time) (reminder.Outcome, error) {
	w := window.Hour(now.In(r.loc())).Prev()
	sessions, err := r.School.SessionsEndedWithClassAndTeacher(ctx, w)
	if err != nil {
		return reminder.Outcome{}, errors.Wrap(err, "ended sessions")
	}
	attendees, err := r.attendees(ctx, sessions)
	if err != nil {
		return reminder.Outcome{}, err
	}

	var ps []mail.Personalization
	for _, s := range sessions {
		for _, a := range attendees[s.Session.ID] {
			if !a.Attended {
				continue
			}
			ps = append(ps, userPersonalization(a.User, map[string]string{
				"session_id": fmt.Sprint(s.Session.ID),
			}, map[string]any{
				"class_title":  s.Class.Title,
				"teacher_name": teacherAddress(s.Teacher).Name,
				"review_url":   r.Links.Review(s.Session.ID),
			}))
		}
	}
	return r.send(ctx, r.Templates.PostClass, "post-class-follow-up", ps), nil
}

// noShow offers a reschedule to students absent from yesterday's sessions.
func (r *ReminderJobs) noShow(ctx context.Context, now time.Time) (reminder.Outcome, error) {
	w := window.Day(now.In(r.loc())).Prev()
	noShows, err := r.School.NoShows(ctx, w)
	if err != nil {
		return reminder.Outcome{}, errors.Wrap(err, "no-shows")
	}

	ps := make([]mail.Personalization, 0, len(noShows))
	for _, n := range noShows {
		ps = append(ps, userPersonalization(n.User, map[string]string{
			"session_id": fmt.Sprint(n.Session.Session.ID),
		}, map[string]any{
			"class_title":    n.Session.Class.Title,
			"missed_at":      displayTime(n.Session.Session.StartsAt, n.User.TimeZone.String, r.loc()),
			"reschedule_url": r.Links.Reschedule(n.Session.Class.ID),
		}))
	}
	return r.send(ctx, r.Templates.NoShow, "no-show-follow-up", ps), nil
}

// teacherSchedules sends every teacher tomorrow's sessions in one email.
func (r *ReminderJobs) teacherSchedules(ctx context.Context, now time.Time) (reminder.Outcome, error) {
	w := window.Day(now.In(r.loc())).Next()
	sessions, err := r.School.SessionsWithClassAndTeacher(ctx, w)
	if err != nil {
		return reminder.Outcome{}, errors.Wrap(err, "tomorrow's sessions")
	}
	attendees, err := r.attendees(ctx, sessions)
	if err != nil {
		return reminder.Outcome{}, err
	}

	var ps []mail.Personalization
	for _, g := range byTeacher(sessions) {
		items := make([]map[string]any, 0, len(g.sessions))
		for _, s := range g.sessions {
			items = append(items, map[string]any{
				"class_title": s.Class.Title,
				"starts_at":   displayTime(s.Session.StartsAt, "", r.loc()),
				"students":    len(attendees[s.Session.ID]),
				"class_url":   r.Links.Class(s.Class.ID),
			})
		}
		ps = append(ps, mail.Personalization{
			To:         teacherAddress(g.teacher),
			CustomArgs: map[string]string{"teacher_id": fmt.Sprint(g.teacher.ID)},
			TemplateData: map[string]any{
				"first_name":   g.teacher.FirstName,
				"date":         w.Start.Format("Monday, January 2"),
				"sessions":     items,
				"schedule_url": r.Links.Schedule(),
			},
		})
	}
	return r.send(ctx, r.Templates.TeacherSchedule, "teacher-schedule", ps), nil
}

// teacherReflection asks teachers to reflect on the sessions they finished today.
func (r *ReminderJobs) teacherReflection(ctx context.Context, now time.Time) (reminder.Outcome, error) {
	w := window.Day(now.In(r.loc()))
	sessions, err := r.School.SessionsEndedWithClassAndTeacher(ctx, w)
	if err != nil {
		return reminder.Outcome{}, errors.Wrap(err, "today's ended sessions")
	}

	var ps []mail.Personalization
	for _, g := range byTeacher(sessions) {
		items := make([]map[string]any, 0, len(g.sessions))
		for _, s := range g.sessions {
			items = append(items, map[string]any{
				"class_title": s.Class.Title,
				"review_url":  r.Links.Review(s.Session.ID),
			})
		}
		ps = append(ps, mail.Personalization{
			To:         teacherAddress(g.teacher),
			CustomArgs: map[string]string{"teacher_id": fmt.Sprint(g.teacher.ID)},
			TemplateData: map[string]any{
				"first_name": g.teacher.FirstName,
				"sessions":   items,
			},
		})
	}
	return r.send(ctx, r.Templates.TeacherReflection, "teacher-reflection", ps), nil
}

func (r *ReminderJobs) attendees(ctx context.Context, sessions []school.SessionDetail) (map[int64][]school.Attendee, error) {
	ids := make([]int64, len(sessions))
	for i, s := range sessions {
		ids[i] = s.Session.ID
	}
	list, err := r.School.AttendeesOfSessions(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "session attendees")
	}
	bySession := make(map[int64][]school.Attendee, len(sessions))
	for _, a := range list {
		bySession[a.SessionID] = append(bySession[a.SessionID], a)
	}
	return bySession, nil
}

type teacherSessions struct {
	teacher  school.Teacher
	sessions []school.SessionDetail
}

// byTeacher groups sessions per teacher, ordered by teacher id.
func byTeacher(sessions []school.SessionDetail) []teacherSessions {
	index := make(map[int64]int)
	var groups []teacherSessions
	for _, s := range sessions {
		i, ok := index[s.Teacher.ID]
		if !ok {
			i = len(groups)
			index[s.Teacher.ID] = i
			groups = append(groups, teacherSessions{teacher: s.Teacher})
		}
		groups[i].sessions = append(groups[i].sessions, s)
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].teacher.ID < groups[b].teacher.ID })
	return groups
}
