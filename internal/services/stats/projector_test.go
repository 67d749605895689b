package stats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/FeedbackBox/internal/broker/messages"
	"github.com/BearBump/FeedbackBox/internal/cache/rediscache"
	"github.com/BearBump/FeedbackBox/internal/models"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func event(t *testing.T, orderID string, courierID int64, rating int) []byte {
	t.Helper()
	b, err := json.Marshal(messages.NewFeedbackSubmitted(&models.Feedback{
		ID: 1, OrderID: orderID, CourierID: courierID, Rating: rating,
		NeedsFollowUp: models.NeedsFollowUp(rating),
	}))
	require.NoError(t, err)
	return b
}

func TestProjector_HandleWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cs := rediscache.NewCourierStats(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	p := New(cs)
	ctx := context.Background()

	require.NoError(t, p.Handle(ctx, []byte("A"), event(t, "A", 123, 5)))
	require.NoError(t, p.Handle(ctx, []byte("B"), event(t, "B", 123, 1)))
	// повторная доставка
	require.NoError(t, p.Handle(ctx, []byte("A"), event(t, "A", 123, 5)))
	require.NoError(t, p.Handle(ctx, nil, []byte("{oops")))
	require.NoError(t, p.Handle(ctx, nil, event(t, "C", 123, 7)))

	got, err := cs.Get(ctx, 123)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Count)
	require.Equal(t, int64(1), got.FollowUps)
	require.InDelta(t, 3.0, got.AverageRating, 0.001)

	st := p.Stats()
	require.Equal(t, int64(5), st.Processed)
	require.Equal(t, int64(2), st.Applied)
	require.Equal(t, int64(1), st.Duplicates)
	require.Equal(t, int64(2), st.Skipped)
	require.NotNil(t, st.LastEventAt)
}

type brokenRecorder struct{}

func (brokenRecorder) Record(ctx context.Context, courierID int64, orderID string, rating int, f bool) (bool, error) {
	return false, errors.New("redis down")
}

func TestProjector_RecorderErrorPropagates(t *testing.T) {
	p := New(brokenRecorder{})
	err := p.Handle(context.Background(), nil, event(t, "A", 1, 4))
	require.Error(t, err)
	require.Equal(t, int64(1), p.Stats().Failures)
	require.Contains(t, p.Stats().LastError, "redis down")
}

type scriptedConsumer struct {
	batches [][]byte
	calls   int
	cancel  context.CancelFunc
}

func (c *scriptedConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	c.calls++
	if c.calls > len(c.batches) {
		c.cancel()
		<-ctx.Done()
		return ctx.Err()
	}
	if err := handler(nil, c.batches[c.calls-1]); err != nil {
		return err
	}
	return errors.New("connection reset")
}

func TestProjector_RunRetriesUntilCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	cs := rediscache.NewCourierStats(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	p := New(cs).WithRetryBackoff(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &scriptedConsumer{batches: [][]byte{event(t, "A", 9, 4), event(t, "B", 9, 2)}, cancel: cancel}

	require.ErrorIs(t, p.Run(ctx, c), context.Canceled)
	require.Equal(t, 3, c.calls)
	require.Equal(t, int64(2), p.Stats().Applied)
	require.Contains(t, p.Stats().LastError, "connection reset")
}
