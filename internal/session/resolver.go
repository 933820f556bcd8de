package session

// ResolvedState is the derived display state for one (session, student)
// pair. Both the teacher console and the student client render from this
// value; neither re-derives the branches below.
type ResolvedState struct {
	SignIn     SignInStatus     `json:"sign_in_status"`
	TodayClass TodayClassStatus `json:"today_class_status"`
	HasSigned  bool             `json:"has_signed"`
}

// Resolve maps a student's mark and the session's lock state to the
// displayed state. Branches are evaluated in strict priority order and the
// first match wins: an explicit mark always overrides lock-state inference,
// and among the mechanical branches a currently-open window beats a window
// that closed, which beats a window that never opened.
func Resolve(mark *StudentMark, isLocked, hasFirstUnlock bool) ResolvedState {
	switch {
	case mark != nil && mark.Status == StatusPresent:
		return ResolvedState{SignInSigned, ClassAttended, true}
	case mark != nil:
		// ABSENT, LATE and EXCUSED all close the window for this student.
		return ResolvedState{SignInClosed, ClassMissed, false}
	case !isLocked:
		return ResolvedState{SignInUnlocked, ClassInProgress, false}
	case hasFirstUnlock:
		// Window opened and closed again without a mark: the student
		// missed the sign-in and awaits an absence mark.
		return ResolvedState{SignInClosed, ClassUpcoming, false}
	default:
		return ResolvedState{SignInLocked, ClassUpcoming, false}
	}
}

// ResolveFor resolves the display state for one student from a snapshot.
func ResolveFor(snap Snapshot, studentID string) ResolvedState {
	return Resolve(snap.Mark(studentID), snap.IsLocked, snap.HasFirstUnlock())
}
