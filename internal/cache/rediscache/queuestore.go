package rediscache

import (
	"context"

	"github.com/BearBump/FeedbackBox/internal/queue"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const queueKeyPrefix = "feedback:queue:"

// QueueStore хранит офлайн-очередь одной сессии как JSON-массив под ключом
// feedback:queue:<session>. Формат тот же, что у файлового хранилища.
type QueueStore struct {
	c   *redis.Client
	key string
}

func NewQueueStore(c *redis.Client, sessionID string) *QueueStore {
	return &QueueStore{c: c, key: queueKeyPrefix + sessionID}
}

func (s *QueueStore) Key() string {
	return s.key
}

func (s *QueueStore) Load(ctx context.Context) (queue.Queue, error) {
	b, err := s.c.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return queue.New(), nil
	}
	if err != nil {
		return queue.Queue{}, errors.Wrap(err, "redis get queue")
	}
	return queue.Decode(b)
}

// Save пишет очередь целиком; пустая очередь удаляет ключ.
func (s *QueueStore) Save(ctx context.Context, q queue.Queue) error {
	if q.Len() == 0 {
		if err := s.c.Del(ctx, s.key).Err(); err != nil {
			return errors.Wrap(err, "redis del queue")
		}
		return nil
	}
	b, err := queue.Encode(q)
	if err != nil {
		return err
	}
	if err := s.c.Set(ctx, s.key, b, 0).Err(); err != nil {
		return errors.Wrap(err, "redis set queue")
	}
	return nil
}

// QueueSessions возвращает id сессий, у которых есть сохранённая очередь.
func QueueSessions(ctx context.Context, c *redis.Client) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := c.Scan(ctx, cursor, queueKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, errors.Wrap(err, "redis scan queues")
		}
		for _, k := range keys {
			out = append(out, k[len(queueKeyPrefix):])
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}
