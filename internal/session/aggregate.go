package session

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Aggregator computes attendance ratios from a schedule's session history.
// It is a full scan over the schedule's sessions, deliberately
// correctness-first; read failures degrade to zero counts so attendance
// display never blocks a screen on a flaky backend.
type Aggregator struct {
	store Store
	log   *logrus.Entry
}

// NewAggregator creates an aggregator over the given store.
func NewAggregator(store Store, log *logrus.Entry) *Aggregator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Aggregator{store: store, log: log}
}

// Stats returns (attendedCount, totalCount) for one student on one
// schedule. Only sessions whose first-unlock marker is set count toward
// the denominator; a session that never opened a window is excluded from
// both counts even when it carries marks. On any read failure both counts
// are (0, 0) — partial sums are never returned.
func (a *Aggregator) Stats(ctx context.Context, scheduleID, studentID string) (attended, total int) {
	snaps, err := a.store.ListBySchedule(ctx, scheduleID)
	if err != nil {
		a.log.WithError(err).WithField("schedule_id", scheduleID).Warn("stats scan failed, returning zero counts")
		return 0, 0
	}
	for _, snap := range snaps {
		if !snap.HasFirstUnlock() {
			continue
		}
		total++
		if mark := snap.Mark(studentID); mark != nil && mark.Status == StatusPresent {
			attended++
		}
	}
	return attended, total
}

// TotalSessions returns how many sessions of the schedule ever opened a
// sign-in window. Used for the teacher's "N sessions held" display; read
// failure degrades to zero.
func (a *Aggregator) TotalSessions(ctx context.Context, scheduleID string) int {
	snaps, err := a.store.ListBySchedule(ctx, scheduleID)
	if err != nil {
		a.log.WithError(err).WithField("schedule_id", scheduleID).Warn("session count scan failed, returning zero")
		return 0
	}
	total := 0
	for _, snap := range snaps {
		if snap.HasFirstUnlock() {
			total++
		}
	}
	return total
}
