package app

import (
	"fmt"
	netmail "net/mail"
	"strings"
	"time"

	"school_mailman/internal/domain/mail"
	"school_mailman/internal/domain/school"
)

// Templates maps each reminder and event email to a provider template id.
type Templates struct {
	PreClass          string
	PostClass         string
	NoShow            string
	TeacherSchedule   string
	TeacherReflection string
	Credits           string
	ClassroomActivity string
	AutoEnroll        string
}

// Links builds frontend URLs placed in template data.
type Links struct {
	BaseURL string
}

func (l Links) url(format string, args ...any) string {
	return strings.TrimRight(l.BaseURL, "/") + fmt.Sprintf(format, args...)
}

func (l Links) Class(id int64) string { return l.url("/classes/%d", id) }
func (l Links) Review(sessionID int64) string { return l.url("/sessions/%d/review", sessionID) }
func (l Links) Reschedule(classID int64) string { return l.url("/classes/%d/reschedule", classID) }
func (l Links) Classroom(id int64) string { return l.url("/classrooms/%d", id) }
func (l Links) Schedule() string { return l.url("/teach/schedule") }
func (l Links) Credits() string { return l.url("/account/credits") }
func (l Links) Catalog() string { return l.url("/classes") }

const displayTimeLayout = "Mon, Jan 2 at 3:04 PM MST"

// displayTime renders t in the user's zone, falling back to loc.
func displayTime(t time.Time, tz string, loc *time.Location) string {
	if tz != "" {
		if userLoc, err := time.LoadLocation(tz); err == nil {
			return t.In(userLoc).Format(displayTimeLayout)
		}
	}
	return t.In(loc).Format(displayTimeLayout)
}

func userAddress(u school.User) netmail.Address {
	return netmail.Address{Name: u.FullName(), Address: u.Email}
}

func teacherAddress(t school.Teacher) netmail.Address {
	name := t.FirstName
	if t.LastName.Valid && t.LastName.String != "" {
		name += " " + t.LastName.String
	}
	return netmail.Address{Name: name, Address: t.Email}
}

func userPersonalization(u school.User, args map[string]string, data map[string]any) mail.Personalization {
	if args == nil {
		args = map[string]string{}
	}
	args["user_id"] = fmt.Sprint(u.ID)
	if data == nil {
		data = map[string]any{}
	}
	data["first_name"] = u.FirstName
	return mail.Personalization{To: userAddress(u), CustomArgs: args, TemplateData: data}
}

func outcomeOf(candidates int, res mail.Result) (sent, failed int) {
	failed = candidates - len(res.Delivered)
	if failed < 0 {
		failed = 0
	}
	return len(res.Delivered), failed
}
