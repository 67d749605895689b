package sessions

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/FeedbackBox/internal/cache/rediscache"
	"github.com/BearBump/FeedbackBox/internal/queue"
	"github.com/BearBump/FeedbackBox/internal/services/submission"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var ErrInvalidSessionID = errors.New("invalid session id")

var sessionIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Registry держит по координатору на сессию веб-формы. Очередь каждой сессии
// лежит в Redis, поэтому переживает рестарт API.
type Registry struct {
	store submission.FeedbackStore
	rdb   *redis.Client

	maxQueueSize    int
	deliveryTimeout time.Duration
	queueEnabled    bool

	mu       sync.Mutex
	sessions map[string]*session
	online   bool
}

// session становится видимой для Get только после закрытия ready.
type session struct {
	c     *submission.Coordinator
	ready chan struct{}
}

// New: rdb may be nil, then session queues are kept in memory only.
func New(store submission.FeedbackStore, rdb *redis.Client) *Registry {
	return &Registry{
		store:        store,
		rdb:          rdb,
		queueEnabled: true,
		sessions:     make(map[string]*session),
		online:       true,
	}
}

func (r *Registry) WithSettings(maxQueueSize int, deliveryTimeout time.Duration, queueEnabled bool) *Registry {
	r.maxQueueSize = maxQueueSize
	r.deliveryTimeout = deliveryTimeout
	r.queueEnabled = queueEnabled
	return r
}

// Get returns the session's coordinator, creating and restoring it on first use.
// Concurrent callers for a new session wait until its queue is restored.
func (r *Registry) Get(ctx context.Context, sessionID string) (*submission.Coordinator, error) {
	if !sessionIDRe.MatchString(sessionID) {
		return nil, ErrInvalidSessionID
	}

	r.mu.Lock()
	if s, ok := r.sessions[sessionID]; ok {
		r.mu.Unlock()
		select {
		case <-s.ready:
			return s.c, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var persist queue.Store
	if r.rdb != nil {
		persist = rediscache.NewQueueStore(r.rdb, sessionID)
	}
	c := submission.New(r.store, persist).
		WithSettings(r.maxQueueSize, r.deliveryTimeout).
		WithQueueEnabled(r.queueEnabled)
	if !r.online {
		c.SetOnline(ctx, false)
	}
	s := &session{c: c, ready: make(chan struct{})}
	r.sessions[sessionID] = s
	r.mu.Unlock()

	if err := c.Restore(ctx); err != nil {
		slog.Error("session queue restore failed", "session_id", sessionID, "error", err.Error())
	}
	close(s.ready)

	if c.Online() && c.PendingCount() > 0 {
		c.OnConnectivityRestored(ctx)
	}
	return c, nil
}

// Broadcast передаёт состояние связи всем сессиям. Возвращает, сколько
// сессий начали выгрузку очереди.
func (r *Registry) Broadcast(ctx context.Context, online bool) int {
	r.mu.Lock()
	r.online = online
	list := make([]*submission.Coordinator, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s.c)
	}
	r.mu.Unlock()

	drained := 0
	for _, c := range list {
		if _, ran := c.SetOnline(ctx, online); ran {
			drained++
		}
	}
	return drained
}

// Watch consumes a connectivity stream until ctx is done or the channel closes.
func (r *Registry) Watch(ctx context.Context, signal <-chan bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case online, ok := <-signal:
			if !ok {
				return nil
			}
			n := r.Broadcast(ctx, online)
			slog.Info("sessions notified", "online", online, "drains", n)
		}
	}
}

// ResumePersisted поднимает сессии, у которых в Redis осталась очередь.
func (r *Registry) ResumePersisted(ctx context.Context) (int, error) {
	if r.rdb == nil {
		return 0, nil
	}
	ids, err := rediscache.QueueSessions(ctx, r.rdb)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if _, err := r.Get(ctx, id); err != nil {
			slog.Warn("skip persisted session", "session_id", id, "error", err.Error())
			continue
		}
		n++
	}
	return n, nil
}

func (r *Registry) Online() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

type Stats struct {
	Sessions int              `json:"sessions"`
	Online   bool             `json:"online"`
	Pending  int              `json:"pending"`
	Totals   submission.Stats `json:"totals"`
	IDs      []string         `json:"ids,omitempty"`
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	st := Stats{Sessions: len(r.sessions), Online: r.online}
	list := make(map[string]*submission.Coordinator, len(r.sessions))
	for id, s := range r.sessions {
		list[id] = s.c
	}
	r.mu.Unlock()

	for id, c := range list {
		cs := c.Stats()
		st.Pending += cs.Pending
		st.Totals.Submitted += cs.Submitted
		st.Totals.Delivered += cs.Delivered
		st.Totals.Duplicates += cs.Duplicates
		st.Totals.Queued += cs.Queued
		st.Totals.Failed += cs.Failed
		st.Totals.Evicted += cs.Evicted
		st.Totals.Drains += cs.Drains
		if cs.Pending > 0 {
			st.IDs = append(st.IDs, id)
		}
	}
	st.Totals.Pending = st.Pending
	sort.Strings(st.IDs)
	return st
}
