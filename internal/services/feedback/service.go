package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/FeedbackBox/internal/broker/messages"
	"github.com/BearBump/FeedbackBox/internal/cache"
	"github.com/BearBump/FeedbackBox/internal/models"
	"github.com/BearBump/FeedbackBox/internal/validation"
	"github.com/pkg/errors"
)

type Repository interface {
	Exists(ctx context.Context, orderID string) (bool, error)
	Insert(ctx context.Context, sub models.FeedbackSubmission) (*models.Feedback, error)
	GetFeedback(ctx context.Context, id uint64) (*models.Feedback, error)
	GetFeedbackByOrderID(ctx context.Context, orderID string) (*models.Feedback, error)
	ListFeedback(ctx context.Context, filter models.FeedbackFilter) ([]*models.Feedback, error)
	GetCourier(ctx context.Context, id int64) (*models.Courier, error)
}

type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
}

type Service struct {
	repo       Repository
	cache      cache.BytesCache
	courierTTL time.Duration
	pub        Publisher
}

func New(repo Repository, c cache.BytesCache, courierTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, courierTTL: courierTTL}
}

// WithPublisher включает публикацию feedback.submitted после вставки.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.pub = p
	return s
}

// Submit валидирует форму и сохраняет отзыв с временем at.
func (s *Service) Submit(ctx context.Context, in models.FeedbackInput, at time.Time) (*models.Feedback, error) {
	if err := validation.Validate(in); err != nil {
		return nil, err
	}
	return s.store(ctx, models.NewSubmission(in, at))
}

// Store сохраняет уже собранную отправку (повтор из офлайн-очереди клиента),
// не меняя её timestamp и request_id.
func (s *Service) Store(ctx context.Context, sub models.FeedbackSubmission) (*models.Feedback, error) {
	if err := validation.Validate(sub.Input()); err != nil {
		return nil, err
	}
	if sub.Timestamp.IsZero() {
		sub.Timestamp = time.Now().UTC()
	}
	sub.NeedsFollowUp = models.NeedsFollowUp(sub.Rating)
	if sub.RequestID == "" {
		sub.RequestID = models.NewRequestID(sub.OrderID, sub.CourierID, sub.Timestamp)
	}
	return s.store(ctx, sub)
}

func (s *Service) store(ctx context.Context, sub models.FeedbackSubmission) (*models.Feedback, error) {
	f, err := s.repo.Insert(ctx, sub)
	if err != nil {
		return nil, err
	}

	slog.Info("feedback stored",
		"id", f.ID,
		"order_id", f.OrderID,
		"courier_id", f.CourierID,
		"rating", f.Rating,
		"request_id", f.RequestID,
	)

	if s.pub != nil {
		ev := messages.NewFeedbackSubmitted(f)
		if err := s.pub.PublishJSON(ctx, messages.TopicFeedbackSubmitted, f.OrderID, ev); err != nil {
			slog.Warn("publish feedback.submitted failed", "order_id", f.OrderID, "error", err.Error())
		}
	}
	return f, nil
}

// Insert и Exists делают сервис хранилищем для координаторов сессий.
func (s *Service) Insert(ctx context.Context, sub models.FeedbackSubmission) error {
	_, err := s.Store(ctx, sub)
	return err
}

func (s *Service) Exists(ctx context.Context, orderID string) (bool, error) {
	if orderID == "" {
		return false, errors.New("order_id is required")
	}
	return s.repo.Exists(ctx, orderID)
}

func (s *Service) GetFeedback(ctx context.Context, id uint64) (*models.Feedback, error) {
	if id == 0 {
		return nil, errors.New("id is required")
	}
	return s.repo.GetFeedback(ctx, id)
}

func (s *Service) GetFeedbackByOrderID(ctx context.Context, orderID string) (*models.Feedback, error) {
	return s.repo.GetFeedbackByOrderID(ctx, orderID)
}

func (s *Service) ListFeedback(ctx context.Context, filter models.FeedbackFilter) ([]*models.Feedback, error) {
	for _, r := range filter.Ratings {
		if r < models.MinRating || r > models.MaxRating {
			return nil, errors.Errorf("rating filter %d out of range", r)
		}
	}
	if filter.CreatedFrom != nil && filter.CreatedBefore != nil && !filter.CreatedFrom.Before(*filter.CreatedBefore) {
		return []*models.Feedback{}, nil
	}
	return s.repo.ListFeedback(ctx, filter)
}

func (s *Service) ListByCourier(ctx context.Context, courierID int64, limit, offset int) ([]*models.Feedback, error) {
	return s.ListFeedback(ctx, models.FeedbackFilter{CourierID: &courierID, Limit: limit, Offset: offset})
}

// GetCourier читает курьера через кэш. Кэш best effort: ошибки Redis не
// мешают отдать ответ из базы.
func (s *Service) GetCourier(ctx context.Context, id int64) (*models.Courier, error) {
	useCache := s.cache != nil && s.courierTTL > 0
	if useCache {
		b, ok, err := s.cache.Get(ctx, courierKey(id))
		if err == nil && ok {
			var c models.Courier
			if json.Unmarshal(b, &c) == nil {
				return &c, nil
			}
		}
	}

	c, err := s.repo.GetCourier(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, errors.Wrap(models.ErrCourierNotFound, err.Error())
		}
		return nil, err
	}

	if useCache {
		b, _ := json.Marshal(c)
		_ = s.cache.Set(ctx, courierKey(id), b, s.courierTTL)
	}
	return c, nil
}

func courierKey(id int64) string {
	return fmt.Sprintf("courier:%d", id)
}
