package submission

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/FeedbackBox/internal/models"
	"github.com/BearBump/FeedbackBox/internal/queue"
	"github.com/BearBump/FeedbackBox/internal/validation"
	"github.com/pkg/errors"
)

type State string

const (
	StateIdle               State = "idle"
	StateValidating         State = "validating"
	StateAttemptingDelivery State = "attempting_delivery"
	StateDelivered          State = "delivered"
	StateDuplicate          State = "duplicate"
	StateQueued             State = "queued"
	StateFailed             State = "failed"
	StateDrainingQueue      State = "draining_queue"
)

const (
	MessageDelivered    = "Feedback submitted successfully!"
	MessageDuplicate    = "Feedback already submitted for this order"
	MessageNoConnection = "No internet connection"
	MessageSubmitFailed = "Failed to submit feedback. Please try again later."
	messageQueuedFmt    = "Saved offline. Will sync when connected (%d pending)"

	DefaultDeliveryTimeout = 10 * time.Second
)

// FeedbackStore is the durable store with a uniqueness constraint on order id.
// Insert must return models.ErrDuplicateOrder on a unique violation and an error
// matching models.ErrStoreUnavailable when the store cannot be reached.
type FeedbackStore interface {
	Exists(ctx context.Context, orderID string) (bool, error)
	Insert(ctx context.Context, sub models.FeedbackSubmission) error
}

type Result struct {
	State        State  `json:"state"`
	Message      string `json:"message"`
	PendingCount int    `json:"pending_count"`
	OrderID      string `json:"order_id,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	Err          error  `json:"-"`
}

type Status struct {
	State        State  `json:"state"`
	Message      string `json:"message"`
	PendingCount int    `json:"pending_count"`
	Online       bool   `json:"online"`
	Draining     bool   `json:"draining"`
}

type FailedEntry struct {
	OrderID   string `json:"order_id"`
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
	Err       error  `json:"-"`
}

type DrainReport struct {
	Skipped     bool          `json:"skipped"`
	Attempted   int           `json:"attempted"`
	Delivered   int           `json:"delivered"`
	Duplicates  int           `json:"duplicates"`
	Failed      []FailedEntry `json:"failed,omitempty"`
	Interrupted bool          `json:"interrupted"`
	Remaining   int           `json:"remaining"`
}

type Stats struct {
	Submitted   int64      `json:"submitted"`
	Delivered   int64      `json:"delivered"`
	Duplicates  int64      `json:"duplicates"`
	Queued      int64      `json:"queued"`
	Failed      int64      `json:"failed"`
	Evicted     int64      `json:"evicted"`
	Drains      int64      `json:"drains"`
	LastDrainAt *time.Time `json:"lastDrainAt,omitempty"`
	Pending     int        `json:"pending"`
}

// Coordinator runs one session's submissions: validate, try the store, fall back
// to the offline queue, and replay the queue when connectivity comes back.
type Coordinator struct {
	store   FeedbackStore
	persist queue.Store

	maxQueueSize    int
	deliveryTimeout time.Duration
	queueEnabled    bool
	now             func() time.Time

	mu       sync.Mutex
	q        queue.Queue
	state    State
	message  string
	online   bool
	draining bool
	restored bool

	// сохранения идут строго по одному, иначе старый снимок может перезаписать новый
	saveMu sync.Mutex

	submitted         atomic.Int64
	delivered         atomic.Int64
	duplicates        atomic.Int64
	queued            atomic.Int64
	failed            atomic.Int64
	evicted           atomic.Int64
	drains            atomic.Int64
	lastDrainUnixNano atomic.Int64
}

// New: persist may be nil, then the queue lives only in memory.
func New(store FeedbackStore, persist queue.Store) *Coordinator {
	return &Coordinator{
		store:           store,
		persist:         persist,
		maxQueueSize:    queue.DefaultMaxSize,
		deliveryTimeout: DefaultDeliveryTimeout,
		queueEnabled:    true,
		now:             time.Now,
		state:           StateIdle,
		online:          true,
	}
}

func (c *Coordinator) WithSettings(maxQueueSize int, deliveryTimeout time.Duration) *Coordinator {
	if maxQueueSize > 0 {
		c.maxQueueSize = maxQueueSize
	}
	if deliveryTimeout > 0 {
		c.deliveryTimeout = deliveryTimeout
	}
	return c
}

func (c *Coordinator) WithQueueEnabled(enabled bool) *Coordinator {
	c.queueEnabled = enabled
	return c
}

func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	if now != nil {
		c.now = now
	}
	return c
}

// Restore loads the persisted queue. Entries enqueued before Restore are kept
// after the restored ones unless the persisted queue already holds them. Only
// the first successful call loads anything.
func (c *Coordinator) Restore(ctx context.Context) error {
	if c.persist == nil {
		return nil
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	return c.restoreLocked(ctx)
}

// restoreLocked требует saveMu.
func (c *Coordinator) restoreLocked(ctx context.Context) error {
	c.mu.Lock()
	done := c.restored
	c.mu.Unlock()
	if done {
		return nil
	}

	loaded, err := c.persist.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "restore offline queue")
	}

	c.mu.Lock()
	merged := loaded
	for _, it := range c.q.Snapshot() {
		if merged.Contains(it.RequestID) {
			continue
		}
		var evicted []models.FeedbackSubmission
		merged, evicted = merged.Enqueue(it, c.maxQueueSize)
		c.evicted.Add(int64(len(evicted)))
	}
	c.q = merged
	c.restored = true
	pending := merged.Len()
	c.mu.Unlock()

	if pending > 0 {
		slog.Info("offline queue restored", "pending", pending)
	}
	return nil
}

func (c *Coordinator) Submit(ctx context.Context, in models.FeedbackInput) Result {
	c.submitted.Add(1)
	c.setState(StateValidating)

	if err := validation.Validate(in); err != nil {
		slog.Warn("feedback rejected", "order_id", in.OrderID, "error", err.Error())
		return c.finish(Result{
			State:   StateFailed,
			Message: err.Error(),
			OrderID: in.OrderID,
			Err:     validationFailure(err),
		})
	}

	sub := models.NewSubmission(in, c.now())
	res := Result{OrderID: sub.OrderID, RequestID: sub.RequestID}

	if !c.Online() {
		slog.Info("offline, queueing feedback", "order_id", sub.OrderID, "request_id", sub.RequestID)
		return c.enqueue(ctx, sub, res, models.Unavailable(errors.New("connectivity is down")))
	}

	c.setState(StateAttemptingDelivery)
	err := c.deliver(ctx, sub)
	switch classify(err) {
	case outcomeDelivered:
		c.forget(ctx, sub.OrderID)
		slog.Info("feedback delivered",
			"order_id", sub.OrderID, "request_id", sub.RequestID, "needs_follow_up", sub.NeedsFollowUp)
		res.State, res.Message = StateDelivered, MessageDelivered
	case outcomeDuplicate:
		c.forget(ctx, sub.OrderID)
		slog.Info("feedback already recorded", "order_id", sub.OrderID, "request_id", sub.RequestID)
		res.State, res.Message = StateDuplicate, MessageDuplicate
	case outcomeConnectivity:
		slog.Warn("feedback store unreachable",
			"order_id", sub.OrderID, "request_id", sub.RequestID, "error", err.Error())
		return c.enqueue(ctx, sub, res, err)
	default:
		slog.Error("feedback submit failed",
			"order_id", sub.OrderID, "request_id", sub.RequestID, "error", err.Error())
		res.State = StateFailed
		res.Message = MessageSubmitFailed
		res.Err = &Failure{Kind: FailureStorage, Err: err}
	}
	return c.finish(res)
}

// OnConnectivityRestored replays the queue oldest first. A second call while a
// drain is running, or with an empty queue, does nothing.
func (c *Coordinator) OnConnectivityRestored(ctx context.Context) DrainReport {
	c.mu.Lock()
	c.online = true
	if c.draining || c.q.Len() == 0 {
		pending := c.q.Len()
		c.mu.Unlock()
		return DrainReport{Skipped: true, Remaining: pending}
	}
	c.draining = true
	snapshot := c.q.Snapshot()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.draining = false
		c.mu.Unlock()
	}()

	c.drains.Add(1)
	c.lastDrainUnixNano.Store(c.now().UTC().UnixNano())
	slog.Info("draining offline queue", "pending", len(snapshot))

	var report DrainReport
	changed := false

drain:
	for _, sub := range snapshot {
		if err := validation.Validate(sub.Input()); err != nil {
			c.dropEntry(sub.RequestID)
			changed = true
			report.Failed = append(report.Failed, failedEntry(sub, validationFailure(err)))
			slog.Error("dropping invalid queued feedback",
				"order_id", sub.OrderID, "request_id", sub.RequestID, "error", err.Error())
			continue
		}

		report.Attempted++
		err := c.deliver(ctx, sub)
		switch classify(err) {
		case outcomeDelivered:
			report.Delivered++
			c.delivered.Add(1)
			c.dequeue(sub.OrderID)
			changed = true
			slog.Info("queued feedback delivered", "order_id", sub.OrderID, "request_id", sub.RequestID)
		case outcomeDuplicate:
			report.Duplicates++
			c.duplicates.Add(1)
			c.dequeue(sub.OrderID)
			changed = true
			slog.Info("queued feedback already recorded", "order_id", sub.OrderID, "request_id", sub.RequestID)
		case outcomeConnectivity:
			// остальные записи упрутся в ту же сеть; ждём следующего восстановления связи
			report.Interrupted = true
			slog.Warn("drain interrupted, store unreachable",
				"order_id", sub.OrderID, "request_id", sub.RequestID, "error", err.Error())
			break drain
		default:
			c.failed.Add(1)
			c.dropEntry(sub.RequestID)
			changed = true
			report.Failed = append(report.Failed, failedEntry(sub, &Failure{Kind: FailureStorage, Err: err}))
			slog.Error("queued feedback failed permanently",
				"order_id", sub.OrderID, "request_id", sub.RequestID, "error", err.Error())
		}
	}

	if changed {
		c.persistQueue(ctx)
	}
	report.Remaining = c.PendingCount()
	slog.Info("offline queue drain finished",
		"delivered", report.Delivered, "duplicates", report.Duplicates,
		"failed", len(report.Failed), "remaining", report.Remaining)
	return report
}

// SetOnline records a connectivity observation. Only a false->true transition
// starts a drain.
func (c *Coordinator) SetOnline(ctx context.Context, online bool) (DrainReport, bool) {
	c.mu.Lock()
	was := c.online
	c.online = online
	c.mu.Unlock()

	if online && !was {
		return c.OnConnectivityRestored(ctx), true
	}
	return DrainReport{}, false
}

// Watch consumes a connectivity stream until ctx is done or the channel closes.
func (c *Coordinator) Watch(ctx context.Context, signal <-chan bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case online, ok := <-signal:
			if !ok {
				return nil
			}
			c.SetOnline(ctx, online)
		}
	}
}

func (c *Coordinator) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.q.Len()
}

func (c *Coordinator) Pending() []queue.Entry {
	c.mu.Lock()
	q := c.q
	c.mu.Unlock()
	return q.Entries(c.now())
}

func (c *Coordinator) State() State {
	return c.Status().State
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:        c.state,
		Message:      c.message,
		PendingCount: c.q.Len(),
		Online:       c.online,
		Draining:     c.draining,
	}
	if c.draining {
		st.State = StateDrainingQueue
	}
	return st
}

func (c *Coordinator) Stats() Stats {
	st := Stats{
		Submitted:  c.submitted.Load(),
		Delivered:  c.delivered.Load(),
		Duplicates: c.duplicates.Load(),
		Queued:     c.queued.Load(),
		Failed:     c.failed.Load(),
		Evicted:    c.evicted.Load(),
		Drains:     c.drains.Load(),
		Pending:    c.PendingCount(),
	}
	if n := c.lastDrainUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastDrainAt = &t
	}
	return st
}

func (c *Coordinator) deliver(ctx context.Context, sub models.FeedbackSubmission) error {
	ctx, cancel := context.WithTimeout(ctx, c.deliveryTimeout)
	defer cancel()

	exists, err := c.store.Exists(ctx, sub.OrderID)
	if err != nil {
		return errors.Wrap(err, "check existing feedback")
	}
	if exists {
		return models.ErrDuplicateOrder
	}
	// стор перепроверяет уникальность внутри транзакции
	if err := c.store.Insert(ctx, sub); err != nil {
		return errors.Wrap(err, "insert feedback")
	}
	return nil
}

func (c *Coordinator) enqueue(ctx context.Context, sub models.FeedbackSubmission, res Result, cause error) Result {
	if !c.queueEnabled {
		res.State = StateFailed
		res.Message = MessageNoConnection
		res.Err = &Failure{Kind: FailureConnectivity, Err: cause}
		return c.finish(res)
	}

	c.mu.Lock()
	next, evicted := c.q.Enqueue(sub, c.maxQueueSize)
	c.q = next
	c.mu.Unlock()

	for _, ev := range evicted {
		c.evicted.Add(1)
		slog.Warn("offline queue full, oldest feedback dropped",
			"order_id", ev.OrderID, "request_id", ev.RequestID, "max_queue_size", c.maxQueueSize)
	}
	c.persistQueue(ctx)

	res.State = StateQueued
	res.Message = fmt.Sprintf(messageQueuedFmt, next.Len())
	return c.finish(res)
}

// forget убирает из очереди записи заказа, который уже есть в сторе.
func (c *Coordinator) forget(ctx context.Context, orderID string) {
	if c.dequeue(orderID) > 0 {
		c.persistQueue(ctx)
	}
}

func (c *Coordinator) dequeue(orderID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, n := c.q.DequeueMatching(orderID)
	c.q = next
	return n
}

func (c *Coordinator) dropEntry(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.q, _ = c.q.Remove(requestID)
}

func (c *Coordinator) persistQueue(ctx context.Context) {
	if c.persist == nil {
		return
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	ctx = context.WithoutCancel(ctx)
	// сохранённую очередь нельзя перезаписать, пока она не прочитана
	if err := c.restoreLocked(ctx); err != nil {
		slog.Error("persist offline queue skipped", "error", err.Error())
		return
	}

	c.mu.Lock()
	q := c.q
	c.mu.Unlock()

	if err := c.persist.Save(ctx, q); err != nil {
		slog.Error("persist offline queue", "pending", q.Len(), "error", err.Error())
	}
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.message = ""
	c.mu.Unlock()
}

func (c *Coordinator) finish(r Result) Result {
	switch r.State {
	case StateDelivered:
		c.delivered.Add(1)
	case StateDuplicate:
		c.duplicates.Add(1)
	case StateQueued:
		c.queued.Add(1)
	case StateFailed:
		c.failed.Add(1)
	}

	c.mu.Lock()
	c.state = r.State
	c.message = r.Message
	r.PendingCount = c.q.Len()
	c.mu.Unlock()
	return r
}

func failedEntry(sub models.FeedbackSubmission, f *Failure) FailedEntry {
	return FailedEntry{
		OrderID:   sub.OrderID,
		RequestID: sub.RequestID,
		Reason:    f.Message(),
		Err:       f,
	}
}
