package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"rollcall/internal/config"
	"rollcall/internal/hub"
	"rollcall/internal/queue"
	"rollcall/internal/schedule"
	"rollcall/internal/session"
	"rollcall/internal/store"
)

// Worker consumes session lifecycle events and, when enabled, marks
// enrolled students absent after a session's sign-in window closes.
func main() {
	cfg := config.Load()
	log := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("db connect failed")
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var events queue.Queue
	if cfg.QueueBackend == "memory" {
		events = queue.NewInMemory(64)
	} else {
		events = queue.NewRedisQueue(redisClient.Client, "rollcall:session-events")
	}

	sessions := session.NewRepository(db.Client)
	schedules := schedule.NewRepository(db.Client)
	changeHub := hub.New(redisClient.Client, log.WithField("component", "hub"))
	ctrl := session.NewController(sessions, changeHub, log.WithField("component", "lifecycle"))

	if !cfg.AbsenceAutomark {
		log.Warn("ABSENCE_AUTOMARK disabled: lock events will be consumed without marking")
	}

	messages, err := events.Consume(ctx)
	if err != nil {
		log.WithError(err).Fatal("queue consume init failed")
	}

	log.Info("worker started, waiting for session events")
	for evt := range messages {
		if evt.Type != "lock" || !cfg.AbsenceAutomark {
			continue
		}
		if err := markAbsences(ctx, ctrl, sessions, schedules, evt, log); err != nil {
			log.WithError(err).WithField("session", session.Key(evt.ScheduleID, evt.Date)).Warn("absence marking failed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	log.Info("worker stopped")
}

// markAbsences writes an ABSENT mark for every enrolled student who has no
// mark in a session that opened a window and is now locked. A session that
// was never unlocked is skipped: it never counted, so nobody missed it.
func markAbsences(ctx context.Context, ctrl *session.Controller, sessions session.Store, schedules *schedule.Repository, evt queue.Event, log *logrus.Entry) error {
	snap, err := sessions.Get(ctx, evt.ScheduleID, evt.Date)
	if err != nil {
		return err
	}
	if !snap.IsLocked || !snap.HasFirstUnlock() {
		return nil
	}
	roster, err := schedules.EnrolledStudents(ctx, evt.ScheduleID)
	if err != nil {
		return err
	}
	marked := 0
	for _, studentID := range roster {
		if snap.Mark(studentID) != nil {
			continue
		}
		if _, err := ctrl.MarkAttendance(ctx, "automark", studentID, evt.ScheduleID, evt.Date, session.StatusAbsent); err != nil {
			return err
		}
		marked++
	}
	if marked > 0 {
		log.WithFields(logrus.Fields{
			"session": snap.Key(),
			"marked":  marked,
		}).Info("absences marked")
	}
	return nil
}

func newLogger(cfg config.App) *logrus.Entry {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	if cfg.Env == "production" || cfg.Env == "prod" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger.WithField("service", "rollcall-worker")
}
