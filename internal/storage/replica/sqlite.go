package replica

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/FeedbackBox/internal/models"
	"github.com/pkg/errors"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const fileSchema = `
CREATE TABLE IF NOT EXISTS feedback (
  order_id TEXT PRIMARY KEY,
  courier_id INTEGER NOT NULL,
  rating INTEGER NOT NULL,
  comment TEXT NOT NULL DEFAULT '',
  reasons TEXT NOT NULL DEFAULT '[]',
  publish_consent INTEGER NOT NULL DEFAULT 0,
  needs_follow_up INTEGER NOT NULL DEFAULT 0,
  request_id TEXT NOT NULL DEFAULT '',
  submitted_at INTEGER NOT NULL
)`

// FileStore is the replica kept in a SQLite file, so the one-row-per-order rule
// holds across separate CLI runs on the same kiosk.
type FileStore struct {
	pool *sqlitex.Pool
	path string
}

func OpenFile(path string) (*FileStore, error) {
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: 2,
		PrepareConn: func(conn *sqlite.Conn) error {
			for _, q := range []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA busy_timeout=5000",
				fileSchema,
			} {
				if err := sqlitex.ExecuteTransient(conn, q, nil); err != nil {
					return errors.Wrapf(err, "prepare %s", path)
				}
			}
			return nil
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open replica %s", path)
	}
	return &FileStore{pool: pool, path: path}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Exists(ctx context.Context, orderID string) (found bool, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, errors.Wrap(err, "replica take conn")
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `SELECT 1 FROM feedback WHERE order_id = ?`, &sqlitex.ExecOptions{
		Args: []any{orderID},
		ResultFunc: func(*sqlite.Stmt) error {
			found = true
			return nil
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "replica exists")
	}
	return found, nil
}

func (s *FileStore) Insert(ctx context.Context, sub models.FeedbackSubmission) error {
	reasons, err := json.Marshal(nonNilReasons(sub.Reasons))
	if err != nil {
		return errors.Wrap(err, "marshal reasons")
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return errors.Wrap(err, "replica take conn")
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
INSERT INTO feedback (order_id, courier_id, rating, comment, reasons,
  publish_consent, needs_follow_up, request_id, submitted_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(order_id) DO NOTHING`, &sqlitex.ExecOptions{
		Args: []any{
			sub.OrderID,
			sub.CourierID,
			sub.Rating,
			sub.Comment,
			string(reasons),
			boolInt(sub.PublishConsent),
			boolInt(sub.NeedsFollowUp),
			sub.RequestID,
			sub.Timestamp.UnixNano(),
		},
	})
	if err != nil {
		return errors.Wrap(err, "replica insert")
	}
	if conn.Changes() == 0 {
		return errors.Wrap(models.ErrDuplicateOrder, "replica insert")
	}
	return nil
}

// List отдаёт записи в порядке времени отправки.
func (s *FileStore) List(ctx context.Context) ([]models.FeedbackSubmission, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "replica take conn")
	}
	defer s.pool.Put(conn)

	var out []models.FeedbackSubmission
	err = sqlitex.Execute(conn, `
SELECT order_id, courier_id, rating, comment, reasons, publish_consent,
  needs_follow_up, request_id, submitted_at
FROM feedback ORDER BY submitted_at, order_id`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			sub := models.FeedbackSubmission{
				OrderID:        stmt.ColumnText(0),
				CourierID:      stmt.ColumnInt64(1),
				Rating:         stmt.ColumnInt(2),
				Comment:        stmt.ColumnText(3),
				PublishConsent: stmt.ColumnInt(5) != 0,
				NeedsFollowUp:  stmt.ColumnInt(6) != 0,
				RequestID:      stmt.ColumnText(7),
			}
			if err := json.Unmarshal([]byte(stmt.ColumnText(4)), &sub.Reasons); err != nil {
				return errors.Wrapf(err, "reasons of %s", sub.OrderID)
			}
			sub.Timestamp = time.Unix(0, stmt.ColumnInt64(8)).UTC()
			out = append(out, sub)
			return nil
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "replica list")
	}
	return out, nil
}

func (s *FileStore) Close() error {
	if err := s.pool.Close(); err != nil {
		return errors.Wrapf(err, "close replica %s", s.path)
	}
	return nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nonNilReasons(r []string) []string {
	if r == nil {
		return []string{}
	}
	return r
}
