package session

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Publisher receives the new snapshot after every successful mutation.
// The subscription hub implements it; a nil publisher disables fan-out.
type Publisher interface {
	PublishSession(ctx context.Context, snap Snapshot)
}

// Controller is the teacher-facing session mutator. All writes go through
// the injected Store; on success the new snapshot is pushed to observers.
// Failures are returned to the caller untouched, with no retry and no
// locally cached state.
type Controller struct {
	store Store
	pub   Publisher
	now   func() time.Time
	log   *logrus.Entry
}

// NewController creates a controller. pub may be nil.
func NewController(store Store, pub Publisher, log *logrus.Entry) *Controller {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Controller{store: store, pub: pub, now: time.Now, log: log}
}

// Unlock opens the sign-in window for a session. The first successful
// unlock stamps the first-unlock marker; later unlocks, concurrent or not,
// only clear the lock flag.
func (c *Controller) Unlock(ctx context.Context, teacherID, scheduleID, date string) (Snapshot, error) {
	if scheduleID == "" || date == "" {
		return Snapshot{}, errors.New("schedule id and date required")
	}
	snap, err := c.store.Unlock(ctx, scheduleID, date, c.now())
	if err != nil {
		return Snapshot{}, err
	}
	c.log.WithFields(logrus.Fields{
		"teacher_id": teacherID,
		"session":    snap.Key(),
	}).Info("session unlocked")
	if c.pub != nil {
		c.pub.PublishSession(ctx, snap)
	}
	return snap, nil
}

// Lock closes the sign-in window. Locking a never-unlocked session changes
// nothing but is not an error, and locking twice is idempotent.
func (c *Controller) Lock(ctx context.Context, teacherID, scheduleID, date string) (Snapshot, error) {
	if scheduleID == "" || date == "" {
		return Snapshot{}, errors.New("schedule id and date required")
	}
	snap, err := c.store.Lock(ctx, scheduleID, date)
	if err != nil {
		return Snapshot{}, err
	}
	c.log.WithFields(logrus.Fields{
		"teacher_id": teacherID,
		"session":    snap.Key(),
	}).Info("session locked")
	if c.pub != nil {
		c.pub.PublishSession(ctx, snap)
	}
	return snap, nil
}

// SignIn records a student's own PRESENT mark. The caller upholds the
// only-while-unlocked precondition; it is re-checked here because this
// service is the writer.
func (c *Controller) SignIn(ctx context.Context, studentID, scheduleID, date string) (Snapshot, error) {
	if studentID == "" || scheduleID == "" || date == "" {
		return Snapshot{}, errors.New("student, schedule and date required")
	}
	cur, err := c.store.Get(ctx, scheduleID, date)
	if err != nil {
		return Snapshot{}, err
	}
	if cur.IsLocked {
		return Snapshot{}, ErrSessionLocked
	}
	now := c.now().UTC()
	snap, err := c.store.PutMark(ctx, scheduleID, date, studentID, StudentMark{
		Status:      StatusPresent,
		CheckInTime: &now,
	})
	if err != nil {
		return Snapshot{}, err
	}
	c.log.WithFields(logrus.Fields{
		"student_id": studentID,
		"session":    snap.Key(),
	}).Info("student signed in")
	if c.pub != nil {
		c.pub.PublishSession(ctx, snap)
	}
	return snap, nil
}

// MarkAttendance overwrites one student's mark on a teacher's behalf.
func (c *Controller) MarkAttendance(ctx context.Context, teacherID, studentID, scheduleID, date string, status MarkStatus) (Snapshot, error) {
	if studentID == "" || scheduleID == "" || date == "" {
		return Snapshot{}, errors.New("student, schedule and date required")
	}
	if !status.Valid() {
		return Snapshot{}, ErrInvalidStatus
	}
	snap, err := c.store.PutMark(ctx, scheduleID, date, studentID, StudentMark{Status: status})
	if err != nil {
		return Snapshot{}, err
	}
	c.log.WithFields(logrus.Fields{
		"teacher_id": teacherID,
		"student_id": studentID,
		"session":    snap.Key(),
		"status":     string(status),
	}).Info("attendance marked")
	if c.pub != nil {
		c.pub.PublishSession(ctx, snap)
	}
	return snap, nil
}

var (
	// ErrSessionLocked rejects a student sign-in outside an open window.
	ErrSessionLocked = errors.New("session is locked")
	// ErrInvalidStatus rejects an unknown mark status.
	ErrInvalidStatus = errors.New("invalid mark status")
)
