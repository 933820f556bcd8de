package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is the authoritative session record store. Implementations must
// honor the defaulting rule (a missing record reads as DefaultSnapshot)
// and the conditional-write semantics of Unlock: the first-unlock marker
// is stamped at most once per session, a compare-and-set rather than a
// blind overwrite, so a losing concurrent unlock never re-stamps it.
type Store interface {
	// Get reads one session. A key that was never written returns the
	// default snapshot, not an error.
	Get(ctx context.Context, scheduleID, date string) (Snapshot, error)

	// Unlock opens the sign-in window. It creates the record if absent and
	// stamps firstUnlockTime=now only when the marker is still unset.
	Unlock(ctx context.Context, scheduleID, date string, now time.Time) (Snapshot, error)

	// Lock closes the sign-in window. It never touches firstUnlockTime and
	// is idempotent; locking a never-unlocked session is not an error.
	Lock(ctx context.Context, scheduleID, date string) (Snapshot, error)

	// PutMark creates or overwrites one student's mark, last-writer-wins,
	// creating the session record (locked, unstamped) when absent.
	PutMark(ctx context.Context, scheduleID, date, studentID string, mark StudentMark) (Snapshot, error)

	// ListBySchedule returns every session recorded for the schedule, in
	// date order.
	ListBySchedule(ctx context.Context, scheduleID string) ([]Snapshot, error)
}

// Memory is a mutex-guarded in-memory Store. It backs dev deployments
// (SESSION_BACKEND=memory) and the property tests.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*memRecord
}

type memRecord struct {
	isLocked        bool
	firstUnlockTime *time.Time
	students        map[string]StudentMark
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*memRecord)}
}

func (m *Memory) Get(ctx context.Context, scheduleID, date string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[Key(scheduleID, date)]
	if !ok {
		return DefaultSnapshot(scheduleID, date), nil
	}
	return rec.snapshot(scheduleID, date), nil
}

func (m *Memory) Unlock(ctx context.Context, scheduleID, date string, now time.Time) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.ensure(Key(scheduleID, date))
	rec.isLocked = false
	if rec.firstUnlockTime == nil {
		t := now.UTC()
		rec.firstUnlockTime = &t
	}
	return rec.snapshot(scheduleID, date), nil
}

func (m *Memory) Lock(ctx context.Context, scheduleID, date string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.ensure(Key(scheduleID, date))
	rec.isLocked = true
	return rec.snapshot(scheduleID, date), nil
}

func (m *Memory) PutMark(ctx context.Context, scheduleID, date, studentID string, mark StudentMark) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.ensure(Key(scheduleID, date))
	rec.students[studentID] = mark
	return rec.snapshot(scheduleID, date), nil
}

func (m *Memory) ListBySchedule(ctx context.Context, scheduleID string) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Snapshot
	for key, rec := range m.sessions {
		sid, date, ok := SplitKey(key)
		if !ok || sid != scheduleID {
			continue
		}
		out = append(out, rec.snapshot(sid, date))
	}
	sortByDate(out)
	return out, nil
}

func (m *Memory) ensure(key string) *memRecord {
	rec, ok := m.sessions[key]
	if !ok {
		rec = &memRecord{isLocked: true, students: make(map[string]StudentMark)}
		m.sessions[key] = rec
	}
	return rec
}

func (r *memRecord) snapshot(scheduleID, date string) Snapshot {
	snap := Snapshot{
		ScheduleID: scheduleID,
		Date:       date,
		IsLocked:   r.isLocked,
		Students:   make(map[string]StudentMark, len(r.students)),
	}
	if r.firstUnlockTime != nil {
		t := *r.firstUnlockTime
		snap.FirstUnlockTime = &t
	}
	for id, mark := range r.students {
		snap.Students[id] = mark
	}
	return snap
}

func sortByDate(snaps []Snapshot) {
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Date < snaps[j].Date })
}
