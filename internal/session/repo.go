package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository persists session records in Postgres. Records are split
// across two tables: sessions (lock flag, first-unlock marker) and
// session_marks (one row per student mark). The unlock conditional write
// is one upsert statement so two concurrent first-unlocks cannot both
// stamp the marker.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

// Get reads one session; a missing row yields the default snapshot.
func (r *Repository) Get(ctx context.Context, scheduleID, date string) (Snapshot, error) {
	snap := DefaultSnapshot(scheduleID, date)
	row := r.db.QueryRowContext(ctx, `
		SELECT is_locked, first_unlock_time
		FROM sessions
		WHERE schedule_id = $1 AND session_date = $2
	`, scheduleID, date)
	var firstUnlock sql.NullTime
	if err := row.Scan(&snap.IsLocked, &firstUnlock); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snap, nil
		}
		return Snapshot{}, err
	}
	if firstUnlock.Valid {
		t := firstUnlock.Time.UTC()
		snap.FirstUnlockTime = &t
	}
	if err := r.loadMarks(ctx, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Unlock opens the window and stamps first_unlock_time if still unset.
// COALESCE keeps an existing marker over the incoming one, which makes the
// stamp a compare-and-set: the statement that inserts the row wins, every
// later unlock only clears the lock flag.
func (r *Repository) Unlock(ctx context.Context, scheduleID, date string, now time.Time) (Snapshot, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (schedule_id, session_date, is_locked, first_unlock_time)
		VALUES ($1, $2, FALSE, $3)
		ON CONFLICT (schedule_id, session_date) DO UPDATE SET
			is_locked = FALSE,
			first_unlock_time = COALESCE(sessions.first_unlock_time, EXCLUDED.first_unlock_time),
			updated_at = NOW()
	`, scheduleID, date, now.UTC())
	if err != nil {
		return Snapshot{}, err
	}
	return r.Get(ctx, scheduleID, date)
}

// Lock closes the window. first_unlock_time is never written here.
func (r *Repository) Lock(ctx context.Context, scheduleID, date string) (Snapshot, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (schedule_id, session_date, is_locked)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (schedule_id, session_date) DO UPDATE SET
			is_locked = TRUE,
			updated_at = NOW()
	`, scheduleID, date)
	if err != nil {
		return Snapshot{}, err
	}
	return r.Get(ctx, scheduleID, date)
}

// PutMark upserts one student's mark, creating the session row if absent.
func (r *Repository) PutMark(ctx context.Context, scheduleID, date, studentID string, mark StudentMark) (Snapshot, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (schedule_id, session_date, is_locked)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (schedule_id, session_date) DO NOTHING
	`, scheduleID, date)
	if err != nil {
		return Snapshot{}, err
	}
	var checkIn interface{}
	if mark.CheckInTime != nil {
		checkIn = mark.CheckInTime.UTC()
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO session_marks (schedule_id, session_date, student_id, status, check_in_time)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (schedule_id, session_date, student_id) DO UPDATE SET
			status = EXCLUDED.status,
			check_in_time = EXCLUDED.check_in_time,
			updated_at = NOW()
	`, scheduleID, date, studentID, string(mark.Status), checkIn)
	if err != nil {
		return Snapshot{}, err
	}
	return r.Get(ctx, scheduleID, date)
}

// ListBySchedule returns all sessions of a schedule with their marks.
func (r *Repository) ListBySchedule(ctx context.Context, scheduleID string) ([]Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_date, is_locked, first_unlock_time
		FROM sessions
		WHERE schedule_id = $1
		ORDER BY session_date
	`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		snap := DefaultSnapshot(scheduleID, "")
		var firstUnlock sql.NullTime
		if err := rows.Scan(&snap.Date, &snap.IsLocked, &firstUnlock); err != nil {
			return nil, err
		}
		if firstUnlock.Valid {
			t := firstUnlock.Time.UTC()
			snap.FirstUnlockTime = &t
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range snaps {
		if err := r.loadMarks(ctx, &snaps[i]); err != nil {
			return nil, err
		}
	}
	return snaps, nil
}

func (r *Repository) loadMarks(ctx context.Context, snap *Snapshot) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id, status, check_in_time
		FROM session_marks
		WHERE schedule_id = $1 AND session_date = $2
	`, snap.ScheduleID, snap.Date)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var studentID, status string
		var checkIn sql.NullTime
		if err := rows.Scan(&studentID, &status, &checkIn); err != nil {
			return err
		}
		mark := StudentMark{Status: MarkStatus(status)}
		if checkIn.Valid {
			t := checkIn.Time.UTC()
			mark.CheckInTime = &t
		}
		snap.Students[studentID] = mark
	}
	return rows.Err()
}
