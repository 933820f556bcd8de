package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"rollcall/internal/session"
)

var (
	publishedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_hub_published_events_total",
		Help: "Session change events published to the hub.",
	})
	deliveredEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_hub_delivered_events_total",
		Help: "Session change events delivered to subscribers.",
	})
	failedSubscriptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_hub_failed_subscriptions_total",
		Help: "Subscriptions terminated by a transport error.",
	})
)

// ErrTransportClosed reports that the pub/sub transport shut down under
// the hub; affected subscriptions are terminated.
var ErrTransportClosed = errors.New("subscription transport closed")

// OnChange receives the new snapshot after every write to the subscribed
// path. Callbacks run on the hub's delivery goroutine and must be quick.
type OnChange func(session.Snapshot)

// OnError is invoked once when the subscription's transport fails; the
// subscription is terminated and must be re-established by the caller.
type OnError func(error)

// Subscription is a handle on one registered listener. Cancel is
// idempotent and safe to call after the subscription has already been
// terminated by an error.
type Subscription struct {
	id     string
	path   string
	change OnChange
	fail   OnError

	hub  *Hub
	once sync.Once
}

// Cancel removes the subscription from the hub.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() { s.hub.remove(s) })
}

// Path returns the session path the subscription watches.
func (s *Subscription) Path() string { return s.path }

// Hub fans session-change events out to every registered observer of a
// path. With a Redis client attached, publishes travel through Redis
// pub/sub so every service instance sees every write; without one the hub
// is purely in-process.
type Hub struct {
	rdb *redis.Client
	log *logrus.Entry

	mu   sync.RWMutex
	subs map[string]map[string]*Subscription // path -> id -> sub
}

// New creates a hub. rdb may be nil for a single-process deployment.
func New(rdb *redis.Client, log *logrus.Entry) *Hub {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Hub{rdb: rdb, log: log, subs: make(map[string]map[string]*Subscription)}
}

const channelPrefix = "rollcall:session:"

// Subscribe registers a listener on a session path. onError may be nil.
func (h *Hub) Subscribe(path string, onChange OnChange, onError OnError) *Subscription {
	sub := &Subscription{
		id:     uuid.NewString(),
		path:   path,
		change: onChange,
		fail:   onError,
		hub:    h,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[path] == nil {
		h.subs[path] = make(map[string]*Subscription)
	}
	h.subs[path][sub.id] = sub
	return sub
}

// PublishSession pushes a snapshot to all observers of its session path.
// It implements session.Publisher.
func (h *Hub) PublishSession(ctx context.Context, snap session.Snapshot) {
	publishedEvents.Inc()
	if h.rdb == nil {
		h.deliver(snap)
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		h.log.WithError(err).Error("snapshot marshal failed")
		return
	}
	if err := h.rdb.Publish(ctx, channelPrefix+snap.Key(), payload).Err(); err != nil {
		// Local observers still get the event; remote instances miss it
		// until the next write.
		h.log.WithError(err).Warn("redis publish failed, delivering locally only")
		h.deliver(snap)
	}
}

// Run consumes the Redis session channels and feeds local subscribers.
// It blocks until ctx is cancelled. No-op when the hub has no Redis
// client. A pub/sub receive error terminates all current subscriptions
// through their onError callbacks; callers re-subscribe explicitly.
func (h *Hub) Run(ctx context.Context) error {
	if h.rdb == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	pubsub := h.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				err := ErrTransportClosed
				h.failAll(err)
				return err
			}
			var snap session.Snapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
				h.log.WithError(err).Warn("dropping undecodable session event")
				continue
			}
			h.deliver(snap)
		}
	}
}

func (h *Hub) deliver(snap session.Snapshot) {
	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs[snap.Key()]))
	for _, sub := range h.subs[snap.Key()] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()
	for _, sub := range targets {
		if sub.change != nil {
			sub.change(snap)
			deliveredEvents.Inc()
		}
	}
}

// failAll terminates every subscription after a transport failure.
func (h *Hub) failAll(err error) {
	h.mu.Lock()
	var failed []*Subscription
	for _, byID := range h.subs {
		for _, sub := range byID {
			failed = append(failed, sub)
		}
	}
	h.subs = make(map[string]map[string]*Subscription)
	h.mu.Unlock()

	for _, sub := range failed {
		failedSubscriptions.Inc()
		sub.once.Do(func() {})
		if sub.fail != nil {
			sub.fail(err)
		}
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if byID, ok := h.subs[sub.path]; ok {
		delete(byID, sub.id)
		if len(byID) == 0 {
			delete(h.subs, sub.path)
		}
	}
}
