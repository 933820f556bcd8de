package session

import (
	"context"
	"testing"
	"time"
)

func TestGetMissingNodeYieldsDefaults(t *testing.T) {
	store := NewMemory()
	snap, err := store.Get(context.Background(), "s1", "2026-03-02")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !snap.IsLocked {
		t.Fatalf("missing node must read as locked")
	}
	if snap.HasFirstUnlock() {
		t.Fatalf("missing node must have no first-unlock marker")
	}
	if len(snap.Students) != 0 {
		t.Fatalf("missing node must have no marks")
	}
	if snap.Key() != "s1_2026-03-02" {
		t.Fatalf("unexpected key %q", snap.Key())
	}
}

func TestPutMarkCreatesLockedUnstampedSession(t *testing.T) {
	store := NewMemory()
	snap, err := store.PutMark(context.Background(), "s1", "2026-03-02", "alice", StudentMark{Status: StatusPresent})
	if err != nil {
		t.Fatalf("put mark: %v", err)
	}
	if !snap.IsLocked || snap.HasFirstUnlock() {
		t.Fatalf("implicit creation must leave the session locked and unstamped: %+v", snap)
	}
}

func TestPutMarkLastWriterWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	if _, err := store.PutMark(ctx, "s1", "2026-03-02", "alice", StudentMark{Status: StatusPresent}); err != nil {
		t.Fatalf("first mark: %v", err)
	}
	snap, err := store.PutMark(ctx, "s1", "2026-03-02", "alice", StudentMark{Status: StatusExcused})
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if m := snap.Mark("alice"); m == nil || m.Status != StatusExcused {
		t.Fatalf("expected overwrite to EXCUSED, got %+v", m)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	snap, err := store.PutMark(ctx, "s1", "2026-03-02", "alice", StudentMark{Status: StatusPresent})
	if err != nil {
		t.Fatalf("put mark: %v", err)
	}
	// Mutating a returned snapshot must not leak into the store.
	snap.Students["alice"] = StudentMark{Status: StatusAbsent}
	fresh, _ := store.Get(ctx, "s1", "2026-03-02")
	if m := fresh.Mark("alice"); m == nil || m.Status != StatusPresent {
		t.Fatalf("snapshot mutation leaked into store: %+v", m)
	}
}

func TestListByScheduleOrderedByDate(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	for _, date := range []string{"2026-03-16", "2026-03-02", "2026-03-09"} {
		if _, err := store.Unlock(ctx, "s1", date, time.Now()); err != nil {
			t.Fatalf("unlock: %v", err)
		}
	}
	snaps, err := store.ListBySchedule(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(snaps))
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i].Date < snaps[i-1].Date {
			t.Fatalf("sessions out of date order: %v", snaps)
		}
	}
}

func TestUnlockKeepsEarlierStamp(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	t1 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(5 * time.Minute)

	if _, err := store.Unlock(ctx, "s1", "2026-03-02", t1); err != nil {
		t.Fatalf("first unlock: %v", err)
	}
	snap, err := store.Unlock(ctx, "s1", "2026-03-02", t2)
	if err != nil {
		t.Fatalf("second unlock: %v", err)
	}
	if !snap.FirstUnlockTime.Equal(t1) {
		t.Fatalf("later unlock re-stamped the marker: got %v, want %v", snap.FirstUnlockTime, t1)
	}
}

func TestSplitKeyRoundTrip(t *testing.T) {
	cases := []struct {
		scheduleID, date string
	}{
		{"s1", "2026-03-02"},
		{"course_42_slot_b", "2026-12-31"},
	}
	for _, tc := range cases {
		sid, date, ok := SplitKey(Key(tc.scheduleID, tc.date))
		if !ok || sid != tc.scheduleID || date != tc.date {
			t.Fatalf("round trip failed for %q/%q: got %q/%q ok=%v", tc.scheduleID, tc.date, sid, date, ok)
		}
	}
	if _, _, ok := SplitKey("nodate"); ok {
		t.Fatalf("key without separator must not split")
	}
}
