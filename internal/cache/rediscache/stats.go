package rediscache

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/BearBump/FeedbackBox/internal/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Повторная доставка события с тем же order_id не должна менять агрегат.
var recordScript = redis.NewScript(`
if redis.call("SADD", KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call("HINCRBY", KEYS[2], "count", 1)
redis.call("HINCRBY", KEYS[2], "rating_sum", ARGV[2])
redis.call("HINCRBY", KEYS[2], "rating_" .. ARGV[2], 1)
if ARGV[3] == "1" then
  redis.call("HINCRBY", KEYS[2], "follow_ups", 1)
end
return 1
`)

type CourierStats struct {
	c *redis.Client
}

func NewCourierStats(c *redis.Client) *CourierStats {
	return &CourierStats{c: c}
}

func statsKey(courierID int64) string  { return fmt.Sprintf("stats:courier:%d", courierID) }
func ordersKey(courierID int64) string { return fmt.Sprintf("stats:courier:%d:orders", courierID) }

// Record учитывает отзыв. false, если этот заказ уже был учтён.
func (s *CourierStats) Record(ctx context.Context, courierID int64, orderID string, rating int, needsFollowUp bool) (bool, error) {
	follow := "0"
	if needsFollowUp {
		follow = "1"
	}
	n, err := recordScript.Run(ctx, s.c,
		[]string{ordersKey(courierID), statsKey(courierID)},
		orderID, rating, follow,
	).Int()
	if err != nil {
		return false, errors.Wrap(err, "redis record stats")
	}
	return n == 1, nil
}

func (s *CourierStats) Get(ctx context.Context, courierID int64) (*models.CourierStats, error) {
	h, err := s.c.HGetAll(ctx, statsKey(courierID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis get stats")
	}

	st := &models.CourierStats{CourierID: courierID, ByRating: map[int]int64{}}
	for k, v := range h {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parse stats field %s", k)
		}
		switch {
		case k == "count":
			st.Count = n
		case k == "rating_sum":
			st.RatingSum = n
		case k == "follow_ups":
			st.FollowUps = n
		case strings.HasPrefix(k, "rating_"):
			r, err := strconv.Atoi(strings.TrimPrefix(k, "rating_"))
			if err != nil {
				continue
			}
			st.ByRating[r] = n
		}
	}
	if st.Count > 0 {
		st.AverageRating = float64(st.RatingSum) / float64(st.Count)
	}
	return st, nil
}
