package pgfeedback

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/FeedbackBox/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startStorage(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "feedbackbox_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/feedbackbox_test?sslmode=disable"

	// порт слушается раньше, чем postgres готов принимать запросы
	var st *Storage
	require.Eventually(t, func() bool {
		st, err = New(dsn)
		return err == nil
	}, 30*time.Second, 500*time.Millisecond)
	t.Cleanup(st.Close)
	return st
}

func submission(orderID string, courierID int64, rating int, at time.Time) models.FeedbackSubmission {
	return models.NewSubmission(models.FeedbackInput{
		OrderID:   orderID,
		CourierID: &courierID,
		Rating:    &rating,
		Comment:   "ok",
		Reasons:   []string{"Punctuality"},
	}, at)
}

func TestPGFeedback_RepoFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()
	st := startStorage(t)

	require.NoError(t, st.Ping(ctx))

	link := "https://t.me/alex_courier"
	c, err := st.UpsertCourier(ctx, models.Courier{ID: 123, Name: "Alex Doe", Phone: "+1-800-555-0101", ContactLink: &link})
	require.NoError(t, err)
	require.Equal(t, int64(123), c.ID)

	got, err := st.GetCourier(ctx, 123)
	require.NoError(t, err)
	require.Equal(t, "Alex Doe", got.Name)
	require.Equal(t, link, *got.ContactLink)

	_, err = st.GetCourier(ctx, 999)
	require.ErrorIs(t, err, models.ErrNotFound)

	exists, err := st.Exists(ctx, "ORD-1")
	require.NoError(t, err)
	require.False(t, exists)

	now := time.Now().UTC()
	f, err := st.Insert(ctx, submission("ORD-1", 123, 3, now))
	require.NoError(t, err)
	require.NotZero(t, f.ID)
	require.Equal(t, "Alex Doe", f.CourierName)
	require.True(t, f.NeedsFollowUp)

	exists, err = st.Exists(ctx, "ORD-1")
	require.NoError(t, err)
	require.True(t, exists)

	// второй раз тот же заказ
	_, err = st.Insert(ctx, submission("ORD-1", 123, 5, now))
	require.ErrorIs(t, err, models.ErrDuplicateOrder)

	_, err = st.Insert(ctx, submission("ORD-2", 777, 5, now))
	require.ErrorIs(t, err, models.ErrCourierNotFound)

	byID, err := st.GetFeedback(ctx, f.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"Punctuality"}, byID.Reasons)
	require.Equal(t, f.RequestID, byID.RequestID)

	byOrder, err := st.GetFeedbackByOrderID(ctx, "ORD-1")
	require.NoError(t, err)
	require.Equal(t, f.ID, byOrder.ID)

	_, err = st.Insert(ctx, submission("ORD-3", 123, 5, now))
	require.NoError(t, err)

	all, err := st.ListFeedback(ctx, models.FeedbackFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "ORD-3", all[0].OrderID)

	follow := true
	onlyFollow, err := st.ListFeedback(ctx, models.FeedbackFilter{NeedsFollowUp: &follow})
	require.NoError(t, err)
	require.Len(t, onlyFollow, 1)
	require.Equal(t, "ORD-1", onlyFollow[0].OrderID)

	fives, err := st.ListFeedback(ctx, models.FeedbackFilter{Ratings: []int{5}})
	require.NoError(t, err)
	require.Len(t, fives, 1)

	future := now.Add(time.Hour)
	none, err := st.ListFeedback(ctx, models.FeedbackFilter{CreatedFrom: &future})
	require.NoError(t, err)
	require.Empty(t, none)

	created, err := st.EnsureAdmin(ctx, "admin", "hash")
	require.NoError(t, err)
	require.True(t, created)
	created, err = st.EnsureAdmin(ctx, "admin", "other")
	require.NoError(t, err)
	require.False(t, created)

	admin, err := st.GetAdminByUsername(ctx, "admin")
	require.NoError(t, err)
	require.Equal(t, "hash", admin.PasswordHash)

	_, err = st.GetAdminByUsername(ctx, "nobody")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestPGFeedback_ConcurrentInsertSingleRow(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()
	st := startStorage(t)

	_, err := st.UpsertCourier(ctx, models.Courier{ID: 1, Name: "A", Phone: "1"})
	require.NoError(t, err)

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := st.Insert(ctx, submission("ORD-RACE", 1, 4, time.Now()))
			errs <- err
		}()
	}

	var ok, dup int
	for i := 0; i < n; i++ {
		err := <-errs
		switch {
		case err == nil:
			ok++
		default:
			require.ErrorIs(t, err, models.ErrDuplicateOrder)
			dup++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, n-1, dup)
}
