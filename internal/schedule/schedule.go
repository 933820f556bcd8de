package schedule

import (
	"time"

	"github.com/sirupsen/logrus"
)

// CourseSchedule is one recurring meeting slot of a course. Reference
// data: authored elsewhere, read-only here.
type CourseSchedule struct {
	ScheduleID string       `json:"schedule_id"`
	CourseID   string       `json:"course_id"`
	DayOfWeek  time.Weekday `json:"day_of_week"`
	StartTime  string       `json:"start_time"`
	EndTime    string       `json:"end_time"`
	Room       string       `json:"room"`
	Type       string       `json:"type"`
}

// DateLayout is the wire format for session dates.
const DateLayout = "2006-01-02"

// DayOf maps a yyyy-MM-dd date to its weekday. Unparseable input degrades
// to Monday rather than failing; the schedule list for the wrong day is a
// recoverable display glitch, a hard error is not.
func DayOf(date string, log *logrus.Entry) time.Weekday {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		if log != nil {
			log.WithField("date", date).Warn("unparseable date, defaulting to Monday")
		}
		return time.Monday
	}
	return t.Weekday()
}

// For filters a course's schedule entries to those meeting on the given
// date's weekday. Insertion order of entries is preserved; no extra sort.
func For(entries []CourseSchedule, date string, log *logrus.Entry) []CourseSchedule {
	day := DayOf(date, log)
	var out []CourseSchedule
	for _, e := range entries {
		if e.DayOfWeek == day {
			out = append(out, e)
		}
	}
	return out
}
