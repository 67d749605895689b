package rediscache

import (
	"context"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/BearBump/FeedbackBox/internal/models"
	"github.com/BearBump/FeedbackBox/internal/queue"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSetDel(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	b, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), b)

	require.NoError(t, c.Del(ctx, "k"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "courier:1", []byte("x"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "courier:1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSubmitLimiter_FixedWindowPerClient(t *testing.T) {
	mr := miniredis.RunT(t)
	l := NewSubmitLimiter(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 2, time.Minute)
	ctx := context.Background()
	at := time.Date(2026, 5, 10, 12, 0, 15, 0, time.UTC)

	q, err := l.Allow(ctx, "10.0.0.1", at)
	require.NoError(t, err)
	require.True(t, q.Allowed)
	require.Equal(t, int64(1), q.Used)

	q, _ = l.Allow(ctx, "10.0.0.1", at.Add(10*time.Second))
	require.True(t, q.Allowed)

	q, _ = l.Allow(ctx, "10.0.0.1", at.Add(20*time.Second))
	require.False(t, q.Allowed)
	require.Equal(t, int64(3), q.Used)
	require.Equal(t, int64(2), q.Limit)
	require.Equal(t, 25*time.Second, q.RetryAfter)
	require.True(t, mr.Exists("feedback:ratelimit:10.0.0.1:"+strconv.FormatInt(at.Truncate(time.Minute).Unix(), 10)))

	q, _ = l.Allow(ctx, "10.0.0.2", at)
	require.True(t, q.Allowed, "other clients have their own window")

	q, _ = l.Allow(ctx, "10.0.0.1", at.Add(45*time.Second))
	require.True(t, q.Allowed, "next window starts at 12:01")
	require.Equal(t, int64(1), q.Used)
}

func TestSubmitLimiter_DisabledAndRedisDown(t *testing.T) {
	ctx := context.Background()
	off := NewSubmitLimiter(nil, 0, time.Minute)
	q, err := off.Allow(ctx, "x", time.Now())
	require.NoError(t, err)
	require.True(t, q.Allowed)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	l := NewSubmitLimiter(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 1, time.Minute)
	mr.Close()
	_, err = l.Allow(ctx, "x", time.Now())
	require.Error(t, err)
}

func queued(orderID string) models.FeedbackSubmission {
	courier := int64(123)
	rating := 4
	return models.NewSubmission(models.FeedbackInput{OrderID: orderID, CourierID: &courier, Rating: &rating}, time.Now())
}

func TestQueueStore_SaveLoad(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	s := NewQueueStore(rc, "sess-1")
	empty, err := s.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, empty.Len())

	q := queue.New(queued("A"), queued("B"))
	require.NoError(t, s.Save(ctx, q))

	raw, err := mr.Get("feedback:queue:sess-1")
	require.NoError(t, err)
	require.Equal(t, byte('['), raw[0])

	got, err := NewQueueStore(rc, "sess-1").Load(ctx)
	require.NoError(t, err)
	require.Equal(t, q.Snapshot(), got.Snapshot())

	sessions, err := QueueSessions(ctx, rc)
	require.NoError(t, err)
	require.Equal(t, []string{"sess-1"}, sessions)

	require.NoError(t, s.Save(ctx, queue.New()))
	require.False(t, mr.Exists("feedback:queue:sess-1"))
}

func TestQueueStore_Corrupt(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, mr.Set("feedback:queue:bad", "{not json"))

	_, err := NewQueueStore(rc, "bad").Load(context.Background())
	require.Error(t, err)
}

func TestCourierStats_RecordIsIdempotentPerOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := NewCourierStats(rc)
	ctx := context.Background()

	ok, err := st.Record(ctx, 123, "A", 5, false)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = st.Record(ctx, 123, "B", 2, true)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = st.Record(ctx, 123, "A", 5, false)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := st.Get(ctx, 123)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Count)
	require.Equal(t, int64(7), got.RatingSum)
	require.InDelta(t, 3.5, got.AverageRating, 0.0001)
	require.Equal(t, int64(1), got.FollowUps)

	ratings := make([]int, 0, len(got.ByRating))
	for r := range got.ByRating {
		ratings = append(ratings, r)
	}
	sort.Ints(ratings)
	require.Equal(t, []int{2, 5}, ratings)

	none, err := st.Get(ctx, 9)
	require.NoError(t, err)
	require.Zero(t, none.Count)
	require.Zero(t, none.AverageRating)
}
