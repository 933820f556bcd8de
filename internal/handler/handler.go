package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"rollcall/internal/auth"
	"rollcall/internal/hub"
	"rollcall/internal/queue"
	"rollcall/internal/schedule"
	"rollcall/internal/session"
)

// ScheduleDirectory serves course schedule reference data. nil when the
// deployment has no schedule database (memory backend).
type ScheduleDirectory interface {
	ListByCourse(ctx context.Context, courseID string) ([]schedule.CourseSchedule, error)
}

// Handler binds the HTTP surface to the session core.
type Handler struct {
	ctrl      *session.Controller
	agg       *session.Aggregator
	store     session.Store
	schedules ScheduleDirectory
	hub       *hub.Hub
	events    queue.Queue
	log       *logrus.Entry

	jwtIssuer  string
	jwtKey     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// New creates a handler. schedules and events may be nil.
func New(ctrl *session.Controller, agg *session.Aggregator, store session.Store, schedules ScheduleDirectory, h *hub.Hub, events queue.Queue, log *logrus.Entry, jwtIssuer, jwtKey string, accessTTL, refreshTTL time.Duration) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{
		ctrl:       ctrl,
		agg:        agg,
		store:      store,
		schedules:  schedules,
		hub:        h,
		events:     events,
		log:        log,
		jwtIssuer:  jwtIssuer,
		jwtKey:     jwtKey,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// Register wires all routes onto the engine.
func (h *Handler) Register(r *gin.Engine) {
	r.POST("/v1/auth/token", h.IssueToken)

	authed := r.Group("/v1", auth.Bearer(h.jwtKey, h.jwtIssuer))
	teacher := authed.Group("", auth.RequireRole(auth.RoleTeacher))
	student := authed.Group("", auth.RequireRole(auth.RoleStudent))

	teacher.POST("/schedules/:scheduleID/sessions/:date/unlock", h.Unlock)
	teacher.POST("/schedules/:scheduleID/sessions/:date/lock", h.Lock)
	teacher.PUT("/schedules/:scheduleID/sessions/:date/marks/:studentID", h.MarkAttendance)
	student.POST("/schedules/:scheduleID/sessions/:date/signin", h.SignIn)

	authed.GET("/schedules/:scheduleID/sessions/:date", h.GetSession)
	authed.GET("/schedules/:scheduleID/sessions/:date/watch", h.WatchSession)
	authed.GET("/schedules/:scheduleID/stats", h.Stats)
	authed.GET("/schedules/:scheduleID/sessions/count", h.TotalSessions)
	authed.GET("/courses/:courseID/schedules", h.CourseSchedules)
	authed.GET("/courses/:courseID/day/:date/watch", h.WatchDay)
}

// ---------- Auth ----------

type tokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required"`
}

// IssueToken issues a role-scoped token pair. Identity verification is an
// upstream concern; this service only encodes the asserted subject+role.
func (h *Handler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role != auth.RoleTeacher && req.Role != auth.RoleStudent {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be teacher or student"})
		return
	}
	tokens, err := auth.Issue(req.UserID, req.Role, h.jwtIssuer, h.jwtKey, h.accessTTL, h.refreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// ---------- Lifecycle ----------

// Unlock opens the sign-in window for a session.
func (h *Handler) Unlock(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	scheduleID, date := c.Param("scheduleID"), c.Param("date")
	snap, err := h.ctrl.Unlock(c.Request.Context(), claims.Subject, scheduleID, date)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	h.publishEvent(c.Request.Context(), "unlock", scheduleID, date)
	c.JSON(http.StatusOK, snap)
}

// Lock closes the sign-in window.
func (h *Handler) Lock(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	scheduleID, date := c.Param("scheduleID"), c.Param("date")
	snap, err := h.ctrl.Lock(c.Request.Context(), claims.Subject, scheduleID, date)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	h.publishEvent(c.Request.Context(), "lock", scheduleID, date)
	c.JSON(http.StatusOK, snap)
}

// SignIn records the calling student's own PRESENT mark.
func (h *Handler) SignIn(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	snap, err := h.ctrl.SignIn(c.Request.Context(), claims.Subject, c.Param("scheduleID"), c.Param("date"))
	if err != nil {
		status := http.StatusBadGateway
		if err == session.ErrSessionLocked {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session": snap,
		"state":   session.ResolveFor(snap, claims.Subject),
	})
}

type markRequest struct {
	Status string `json:"status" binding:"required"`
}

// MarkAttendance overwrites one student's mark on the teacher's behalf.
func (h *Handler) MarkAttendance(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snap, err := h.ctrl.MarkAttendance(c.Request.Context(), claims.Subject, c.Param("studentID"),
		c.Param("scheduleID"), c.Param("date"), session.MarkStatus(req.Status))
	if err != nil {
		status := http.StatusBadGateway
		if err == session.ErrInvalidStatus {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ---------- Queries ----------

// GetSession returns the snapshot, plus the resolved display state when
// student_id is given.
func (h *Handler) GetSession(c *gin.Context) {
	snap, err := h.store.Get(c.Request.Context(), c.Param("scheduleID"), c.Param("date"))
	if err != nil {
		// Display reads degrade to the locked default rather than erroring.
		h.log.WithError(err).Warn("session read failed, serving default")
		snap = session.DefaultSnapshot(c.Param("scheduleID"), c.Param("date"))
	}
	resp := gin.H{"session": snap}
	if studentID := c.Query("student_id"); studentID != "" {
		resp["state"] = session.ResolveFor(snap, studentID)
	}
	c.JSON(http.StatusOK, resp)
}

// Stats returns (attended, total) for a student on a schedule.
func (h *Handler) Stats(c *gin.Context) {
	studentID := c.Query("student_id")
	if studentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "student_id required"})
		return
	}
	attended, total := h.agg.Stats(c.Request.Context(), c.Param("scheduleID"), studentID)
	c.JSON(http.StatusOK, gin.H{"attended": attended, "total": total})
}

// TotalSessions returns how many sessions of a schedule were ever held.
func (h *Handler) TotalSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"total": h.agg.TotalSessions(c.Request.Context(), c.Param("scheduleID")),
	})
}

// CourseSchedules returns a course's schedule entries, filtered to the
// given date's weekday when ?date= is present.
func (h *Handler) CourseSchedules(c *gin.Context) {
	if h.schedules == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "schedule data not configured"})
		return
	}
	entries, err := h.schedules.ListByCourse(c.Request.Context(), c.Param("courseID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if date := c.Query("date"); date != "" {
		entries = schedule.For(entries, date, h.log)
	}
	if entries == nil {
		entries = []schedule.CourseSchedule{}
	}
	c.JSON(http.StatusOK, gin.H{"schedules": entries})
}

// ---------- Streaming ----------

// WatchSession streams session snapshots over SSE until the client
// disconnects. The subscription is cancelled on every exit path.
func (h *Handler) WatchSession(c *gin.Context) {
	key := session.Key(c.Param("scheduleID"), c.Param("date"))
	updates := make(chan session.Snapshot, 8)
	errs := make(chan error, 1)
	sub := h.hub.Subscribe(key, func(snap session.Snapshot) {
		select {
		case updates <- snap:
		default:
			// slow client; it will catch up on the next event
		}
	}, func(err error) {
		errs <- err
	})
	defer sub.Cancel()

	// Initial snapshot so the client renders without waiting for a write.
	if snap, err := h.store.Get(c.Request.Context(), c.Param("scheduleID"), c.Param("date")); err == nil {
		c.SSEvent("session", snap)
		c.Writer.Flush()
	}

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case snap := <-updates:
			c.SSEvent("session", snap)
			return true
		case err := <-errs:
			c.SSEvent("error", gin.H{"error": err.Error()})
			return false
		case <-clientGone:
			return false
		}
	})
}

// WatchDay streams changes to every session of a course's schedules on one
// date: the daily-view feed. One subscription per schedule, all cancelled
// when the client goes away.
func (h *Handler) WatchDay(c *gin.Context) {
	if h.schedules == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "schedule data not configured"})
		return
	}
	date := c.Param("date")
	entries, err := h.schedules.ListByCourse(c.Request.Context(), c.Param("courseID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	entries = schedule.For(entries, date, h.log)

	updates := make(chan session.Snapshot, 16)
	errs := make(chan error, 1)
	subs := make([]*hub.Subscription, 0, len(entries))
	for _, e := range entries {
		sub := h.hub.Subscribe(session.Key(e.ScheduleID, date), func(snap session.Snapshot) {
			select {
			case updates <- snap:
			default:
			}
		}, func(err error) {
			select {
			case errs <- err:
			default:
			}
		})
		subs = append(subs, sub)
	}
	defer func() {
		for _, sub := range subs {
			sub.Cancel()
		}
	}()

	// Current state of each session first, so the view renders immediately.
	for _, e := range entries {
		if snap, err := h.store.Get(c.Request.Context(), e.ScheduleID, date); err == nil {
			c.SSEvent("session", snap)
		}
	}
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case snap := <-updates:
			c.SSEvent("session", snap)
			return true
		case err := <-errs:
			c.SSEvent("error", gin.H{"error": err.Error()})
			return false
		case <-clientGone:
			return false
		}
	})
}

func (h *Handler) publishEvent(ctx context.Context, typ, scheduleID, date string) {
	if h.events == nil {
		return
	}
	evt := queue.Event{Type: typ, ScheduleID: scheduleID, Date: date}
	if err := h.events.Publish(ctx, evt); err != nil {
		h.log.WithError(err).Warn("event publish failed")
	}
}
