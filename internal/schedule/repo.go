package schedule

import (
	"context"
	"database/sql"
	"time"
)

// Repository reads schedule and enrollment reference data from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ListByCourse returns a course's schedule entries in authoring order.
func (r *Repository) ListByCourse(ctx context.Context, courseID string) ([]CourseSchedule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT schedule_id, course_id, day_of_week, start_time, end_time, room, type
		FROM course_schedules
		WHERE course_id = $1
		ORDER BY position
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CourseSchedule
	for rows.Next() {
		var e CourseSchedule
		var day int
		if err := rows.Scan(&e.ScheduleID, &e.CourseID, &day, &e.StartTime, &e.EndTime, &e.Room, &e.Type); err != nil {
			return nil, err
		}
		e.DayOfWeek = weekdayFromInt(day)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// EnrolledStudents returns the roster for a schedule, used by the
// absence-marking worker to find students who never signed in.
func (r *Repository) EnrolledStudents(ctx context.Context, scheduleID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id
		FROM enrollments
		WHERE schedule_id = $1
		ORDER BY student_id
	`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		students = append(students, id)
	}
	return students, rows.Err()
}

// weekdayFromInt maps the stored 0=Sunday..6=Saturday convention onto
// time.Weekday, which happens to use the same numbering.
func weekdayFromInt(day int) time.Weekday {
	if day < 0 || day > 6 {
		return time.Monday
	}
	return time.Weekday(day)
}
