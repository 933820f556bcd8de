package session

import (
	"strings"
	"time"
)

// MarkStatus is an explicit per-student attendance mark written by a
// teacher or by a student sign-in. Absence of a mark is meaningful and
// distinct from StatusAbsent.
type MarkStatus string

const (
	StatusPresent MarkStatus = "PRESENT"
	StatusAbsent  MarkStatus = "ABSENT"
	StatusLate    MarkStatus = "LATE"
	StatusExcused MarkStatus = "EXCUSED"
)

// Valid reports whether s is one of the four known mark statuses.
func (s MarkStatus) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusExcused:
		return true
	}
	return false
}

// SignInStatus is the four-valued icon state shown to a student for one
// session.
type SignInStatus string

const (
	SignInLocked   SignInStatus = "LOCKED"
	SignInUnlocked SignInStatus = "UNLOCKED"
	SignInSigned   SignInStatus = "SIGNED"
	SignInClosed   SignInStatus = "CLOSED"
)

// TodayClassStatus summarizes a session's lifecycle from a student's
// perspective.
type TodayClassStatus string

const (
	ClassUpcoming   TodayClassStatus = "UPCOMING"
	ClassInProgress TodayClassStatus = "IN_PROGRESS"
	ClassAttended   TodayClassStatus = "ATTENDED"
	ClassMissed     TodayClassStatus = "MISSED"
)

// StudentMark is one student's record in a session.
type StudentMark struct {
	Status      MarkStatus `json:"status"`
	CheckInTime *time.Time `json:"check_in_time,omitempty"`
}

// Snapshot is the decoded state of one session record. All defaulting for
// absent data happens when a Snapshot is built, never at read sites: a key
// with no stored record decodes to a locked, unstamped, empty session.
type Snapshot struct {
	ScheduleID      string                 `json:"schedule_id"`
	Date            string                 `json:"date"`
	IsLocked        bool                   `json:"is_locked"`
	FirstUnlockTime *time.Time             `json:"first_unlock_time,omitempty"`
	Students        map[string]StudentMark `json:"students"`
}

// DefaultSnapshot is the well-defined state of a session that has never
// been written: locked, never unlocked, no marks.
func DefaultSnapshot(scheduleID, date string) Snapshot {
	return Snapshot{
		ScheduleID: scheduleID,
		Date:       date,
		IsLocked:   true,
		Students:   map[string]StudentMark{},
	}
}

// Key returns the storage key for the snapshot's session.
func (s Snapshot) Key() string { return Key(s.ScheduleID, s.Date) }

// HasFirstUnlock reports whether the session ever offered a sign-in window.
func (s Snapshot) HasFirstUnlock() bool { return s.FirstUnlockTime != nil }

// Mark returns the student's mark, or nil when the student is unmarked.
func (s Snapshot) Mark(studentID string) *StudentMark {
	if m, ok := s.Students[studentID]; ok {
		return &m
	}
	return nil
}

// Key builds the canonical session key: scheduleID + "_" + date, with the
// date in yyyy-MM-dd.
func Key(scheduleID, date string) string {
	return scheduleID + "_" + date
}

// SplitKey is the inverse of Key. The date is the part after the last
// underscore, so schedule ids may themselves contain underscores.
func SplitKey(key string) (scheduleID, date string, ok bool) {
	i := strings.LastIndex(key, "_")
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}
