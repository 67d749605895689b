package pgfeedback

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/FeedbackBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const feedbackColumns = `
  f.id, f.order_id, f.courier_id, COALESCE(c.name, ''), f.rating, f.comment, f.reasons,
  f.publish_consent, f.needs_follow_up, f.request_id, f.submitted_at, f.created_at`

// Exists проверяет, есть ли уже отзыв по заказу.
func (s *Storage) Exists(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM feedback WHERE order_id = $1)`, orderID).Scan(&exists)
	if err != nil {
		return false, classify(err, "exists feedback")
	}
	return exists, nil
}

// Insert сохраняет отправку. Повтор по order_id отдаёт models.ErrDuplicateOrder.
func (s *Storage) Insert(ctx context.Context, sub models.FeedbackSubmission) (*models.Feedback, error) {
	reasons := sub.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	rawReasons, err := json.Marshal(reasons)
	if err != nil {
		return nil, errors.Wrap(err, "marshal reasons")
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, classify(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id uint64
	var createdAt time.Time
	err = tx.QueryRow(ctx, `
INSERT INTO feedback (order_id, courier_id, rating, comment, reasons, publish_consent, needs_follow_up, request_id, submitted_at)
VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9)
RETURNING id, created_at
`, sub.OrderID, sub.CourierID, sub.Rating, sub.Comment, string(rawReasons),
		sub.PublishConsent, sub.NeedsFollowUp, sub.RequestID, sub.Timestamp.UTC()).Scan(&id, &createdAt)
	if err != nil {
		return nil, classify(err, "insert feedback")
	}

	var courierName string
	if err := tx.QueryRow(ctx, `SELECT name FROM couriers WHERE id = $1`, sub.CourierID).Scan(&courierName); err != nil {
		return nil, classify(err, "select courier name")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify(err, "commit tx")
	}

	return &models.Feedback{
		ID:             id,
		OrderID:        sub.OrderID,
		CourierID:      sub.CourierID,
		CourierName:    courierName,
		Rating:         sub.Rating,
		Comment:        sub.Comment,
		Reasons:        reasons,
		PublishConsent: sub.PublishConsent,
		NeedsFollowUp:  sub.NeedsFollowUp,
		RequestID:      sub.RequestID,
		SubmittedAt:    sub.Timestamp.UTC(),
		CreatedAt:      createdAt.UTC(),
	}, nil
}

func (s *Storage) GetFeedback(ctx context.Context, id uint64) (*models.Feedback, error) {
	row := s.db.QueryRow(ctx, `SELECT `+feedbackColumns+`
FROM feedback f
LEFT JOIN couriers c ON c.id = f.courier_id
WHERE f.id = $1`, id)
	f, err := scanFeedback(row)
	if err != nil {
		return nil, classify(err, "get feedback")
	}
	return f, nil
}

func (s *Storage) GetFeedbackByOrderID(ctx context.Context, orderID string) (*models.Feedback, error) {
	row := s.db.QueryRow(ctx, `SELECT `+feedbackColumns+`
FROM feedback f
LEFT JOIN couriers c ON c.id = f.courier_id
WHERE f.order_id = $1`, orderID)
	f, err := scanFeedback(row)
	if err != nil {
		return nil, classify(err, "get feedback by order")
	}
	return f, nil
}

// ListFeedback отдаёт записи от новых к старым.
func (s *Storage) ListFeedback(ctx context.Context, filter models.FeedbackFilter) ([]*models.Feedback, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.CreatedFrom != nil {
		where = append(where, "f.created_at >= "+arg(filter.CreatedFrom.UTC()))
	}
	if filter.CreatedBefore != nil {
		where = append(where, "f.created_at < "+arg(filter.CreatedBefore.UTC()))
	}
	if len(filter.Ratings) > 0 {
		ratings := make([]int32, 0, len(filter.Ratings))
		for _, r := range filter.Ratings {
			ratings = append(ratings, int32(r))
		}
		where = append(where, "f.rating = ANY("+arg(ratings)+")")
	}
	if filter.CourierID != nil {
		where = append(where, "f.courier_id = "+arg(*filter.CourierID))
	}
	if filter.NeedsFollowUp != nil {
		where = append(where, "f.needs_follow_up = "+arg(*filter.NeedsFollowUp))
	}

	q := `SELECT ` + feedbackColumns + `
FROM feedback f
LEFT JOIN couriers c ON c.id = f.courier_id`
	if len(where) > 0 {
		q += "\nWHERE " + strings.Join(where, " AND ")
	}
	q += "\nORDER BY f.created_at DESC, f.id DESC\nLIMIT " + arg(limit) + " OFFSET " + arg(offset)

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, classify(err, "list feedback")
	}
	defer rows.Close()

	out := make([]*models.Feedback, 0, limit)
	for rows.Next() {
		f, err := scanFeedback(rows)
		if err != nil {
			return nil, classify(err, "scan feedback")
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "list feedback rows")
	}
	return out, nil
}

func scanFeedback(row pgx.Row) (*models.Feedback, error) {
	var (
		f          models.Feedback
		rawReasons []byte
	)
	if err := row.Scan(
		&f.ID, &f.OrderID, &f.CourierID, &f.CourierName, &f.Rating, &f.Comment, &rawReasons,
		&f.PublishConsent, &f.NeedsFollowUp, &f.RequestID, &f.SubmittedAt, &f.CreatedAt,
	); err != nil {
		return nil, err
	}
	f.Reasons = []string{}
	if len(rawReasons) > 0 {
		if err := json.Unmarshal(rawReasons, &f.Reasons); err != nil {
			return nil, errors.Wrap(err, "unmarshal reasons")
		}
	}
	f.SubmittedAt = f.SubmittedAt.UTC()
	f.CreatedAt = f.CreatedAt.UTC()
	return &f, nil
}
