package pgfeedback

import (
	"context"
	"strings"

	"github.com/BearBump/FeedbackBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// classify переводит ошибки драйвера в доменные: конфликт по order_id,
// неизвестный курьер или недоступность базы.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == uniqueOrderConstraint:
			return errors.Wrap(models.ErrDuplicateOrder, op)
		case pgErr.Code == pgForeignKeyViolation:
			return errors.Wrap(models.ErrCourierNotFound, op)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57P"):
			return models.Unavailable(errors.Wrap(err, op))
		}
		return errors.Wrap(err, op)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrap(models.ErrNotFound, op)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.Unavailable(errors.Wrap(err, op))
	}
	return errors.Wrap(err, op)
}
