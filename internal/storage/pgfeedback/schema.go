package pgfeedback

import (
	"context"

	"github.com/pkg/errors"
)

const (
	uniqueOrderConstraint  = "uq_feedback_order_id"
	feedbackCourierFKey    = "fk_feedback_courier"
	uniqueUsernameConstant = "uq_admin_users_username"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS couriers (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  phone TEXT NOT NULL,
  contact_link TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_couriers_name ON couriers(name)`,
		`
CREATE TABLE IF NOT EXISTS feedback (
  id BIGSERIAL PRIMARY KEY,
  order_id TEXT NOT NULL,
  courier_id BIGINT NOT NULL,
  rating INT NOT NULL,
  comment TEXT NOT NULL DEFAULT '',
  reasons JSONB NOT NULL DEFAULT '[]'::jsonb,
  publish_consent BOOLEAN NOT NULL DEFAULT false,
  needs_follow_up BOOLEAN NOT NULL DEFAULT false,
  request_id TEXT NOT NULL DEFAULT '',
  submitted_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT ` + uniqueOrderConstraint + ` UNIQUE (order_id),
  CONSTRAINT ` + feedbackCourierFKey + ` FOREIGN KEY (courier_id) REFERENCES couriers(id),
  CONSTRAINT chk_feedback_rating CHECK (rating BETWEEN 1 AND 5),
  CONSTRAINT chk_feedback_comment_len CHECK (char_length(comment) <= 500)
)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_created_at ON feedback(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_courier_id ON feedback(courier_id)`,
		`
CREATE TABLE IF NOT EXISTS admin_users (
  id BIGSERIAL PRIMARY KEY,
  username TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT ` + uniqueUsernameConstant + ` UNIQUE (username)
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
