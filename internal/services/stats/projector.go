package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/FeedbackBox/internal/broker/messages"
	"github.com/BearBump/FeedbackBox/internal/models"
	"github.com/pkg/errors"
)

type Recorder interface {
	Record(ctx context.Context, courierID int64, orderID string, rating int, needsFollowUp bool) (bool, error)
}

type Consumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

// Projector складывает события feedback.submitted в агрегаты по курьерам.
type Projector struct {
	rec          Recorder
	retryBackoff time.Duration

	startedAtUnixNano int64
	lastEventUnixNano atomic.Int64
	processed         atomic.Int64
	applied           atomic.Int64
	duplicates        atomic.Int64
	skipped           atomic.Int64
	failures          atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(rec Recorder) *Projector {
	return &Projector{
		rec:               rec,
		retryBackoff:      time.Second,
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (p *Projector) WithRetryBackoff(d time.Duration) *Projector {
	if d > 0 {
		p.retryBackoff = d
	}
	return p
}

// Handle применяет одно сообщение. Битые сообщения пропускаются (nil), чтобы
// не застрять на них; ошибка Redis возвращается, и offset не коммитится.
func (p *Projector) Handle(ctx context.Context, key, value []byte) error {
	p.processed.Add(1)
	p.lastEventUnixNano.Store(time.Now().UTC().UnixNano())

	var ev messages.FeedbackSubmitted
	if err := json.Unmarshal(value, &ev); err != nil {
		p.skipped.Add(1)
		slog.Warn("skip malformed feedback event", "key", string(key), "error", err.Error())
		return nil
	}
	if ev.OrderID == "" || ev.CourierID <= 0 || ev.Rating < models.MinRating || ev.Rating > models.MaxRating {
		p.skipped.Add(1)
		slog.Warn("skip invalid feedback event", "order_id", ev.OrderID, "courier_id", ev.CourierID, "rating", ev.Rating)
		return nil
	}

	fresh, err := p.rec.Record(ctx, ev.CourierID, ev.OrderID, ev.Rating, ev.NeedsFollowUp)
	if err != nil {
		p.failures.Add(1)
		p.setLastError(err)
		return errors.Wrap(err, "record courier stats")
	}
	if !fresh {
		p.duplicates.Add(1)
		return nil
	}
	p.applied.Add(1)
	slog.Info("courier stats updated", "courier_id", ev.CourierID, "order_id", ev.OrderID, "rating", ev.Rating)
	return nil
}

// Run читает события, пока не отменят ctx. После ошибки ждёт и
// переподключается к тому же consumer.
func (p *Projector) Run(ctx context.Context, c Consumer) error {
	for {
		err := c.Consume(ctx, func(key, value []byte) error {
			return p.Handle(ctx, key, value)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			p.setLastError(err)
			slog.Error("stats consumer stopped, retrying", "error", err.Error(), "backoff", p.retryBackoff.String())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.retryBackoff):
		}
	}
}

type Stats struct {
	StartedAt   time.Time  `json:"startedAt"`
	LastEventAt *time.Time `json:"lastEventAt,omitempty"`
	Processed   int64      `json:"processed"`
	Applied     int64      `json:"applied"`
	Duplicates  int64      `json:"duplicates"`
	Skipped     int64      `json:"skipped"`
	Failures    int64      `json:"failures"`
	LastError   string     `json:"lastError,omitempty"`
}

func (p *Projector) Stats() Stats {
	st := Stats{
		StartedAt:  time.Unix(0, p.startedAtUnixNano).UTC(),
		Processed:  p.processed.Load(),
		Applied:    p.applied.Load(),
		Duplicates: p.duplicates.Load(),
		Skipped:    p.skipped.Load(),
		Failures:   p.failures.Load(),
	}
	if n := p.lastEventUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastEventAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

func (p *Projector) setLastError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}
