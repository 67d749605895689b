package replica

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/BearBump/FeedbackBox/internal/models"
	"github.com/pkg/errors"
)

// Store is a local-first copy of the feedback table kept in process memory.
// It honours the same one-feedback-per-order rule as the primary store.
type Store struct {
	mu   sync.RWMutex
	rows map[string]models.FeedbackSubmission
}

func New() *Store {
	return &Store{rows: make(map[string]models.FeedbackSubmission)}
}

func (s *Store) Exists(_ context.Context, orderID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rows[orderID]
	return ok, nil
}

func (s *Store) Insert(_ context.Context, sub models.FeedbackSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[sub.OrderID]; ok {
		return errors.Wrap(models.ErrDuplicateOrder, "replica insert")
	}
	s.rows[sub.OrderID] = sub
	return nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// List отдаёт записи в порядке времени отправки.
func (s *Store) List() []models.FeedbackSubmission {
	s.mu.RLock()
	out := make([]models.FeedbackSubmission, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

type FeedbackStore interface {
	Exists(ctx context.Context, orderID string) (bool, error)
	Insert(ctx context.Context, sub models.FeedbackSubmission) error
}

// Mirror writes to Primary and then, best effort, to Replica. The primary's
// answer is the only one the caller sees.
type Mirror struct {
	Primary FeedbackStore
	Replica FeedbackStore
}

func NewMirror(primary, replica FeedbackStore) *Mirror {
	return &Mirror{Primary: primary, Replica: replica}
}

func (m *Mirror) Exists(ctx context.Context, orderID string) (bool, error) {
	return m.Primary.Exists(ctx, orderID)
}

func (m *Mirror) Insert(ctx context.Context, sub models.FeedbackSubmission) error {
	if err := m.Primary.Insert(ctx, sub); err != nil {
		return err
	}
	if err := m.Replica.Insert(ctx, sub); err != nil && !errors.Is(err, models.ErrDuplicateOrder) {
		slog.Warn("replica write failed", "order_id", sub.OrderID, "request_id", sub.RequestID, "error", err.Error())
	}
	return nil
}
