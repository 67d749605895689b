package feedback_api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/FeedbackBox/internal/cache/rediscache"
	"github.com/BearBump/FeedbackBox/internal/models"
	"github.com/BearBump/FeedbackBox/internal/services/auth"
	"github.com/BearBump/FeedbackBox/internal/services/feedback"
	"github.com/BearBump/FeedbackBox/internal/services/sessions"
	"github.com/BearBump/FeedbackBox/internal/services/submission"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu       sync.Mutex
	rows     []*models.Feedback
	couriers map[int64]*models.Courier
	admins   map[string]*models.AdminUser
	down     bool
	broken   error
}

func newMemRepo() *memRepo {
	link := "https://t.me/alex_courier"
	return &memRepo{
		couriers: map[int64]*models.Courier{123: {ID: 123, Name: "Alex Doe", Phone: "+1-800-555-0101", ContactLink: &link}},
		admins:   map[string]*models.AdminUser{},
	}
}

func (m *memRepo) Exists(ctx context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return false, models.Unavailable(context.DeadlineExceeded)
	}
	for _, r := range m.rows {
		if r.OrderID == orderID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) Insert(ctx context.Context, sub models.FeedbackSubmission) (*models.Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, models.Unavailable(context.DeadlineExceeded)
	}
	if m.broken != nil {
		return nil, m.broken
	}
	c, ok := m.couriers[sub.CourierID]
	if !ok {
		return nil, models.ErrCourierNotFound
	}
	for _, r := range m.rows {
		if r.OrderID == sub.OrderID {
			return nil, models.ErrDuplicateOrder
		}
	}
	f := &models.Feedback{
		ID: uint64(len(m.rows) + 1), OrderID: sub.OrderID, CourierID: sub.CourierID, CourierName: c.Name,
		Rating: sub.Rating, Comment: sub.Comment, Reasons: sub.Reasons, PublishConsent: sub.PublishConsent,
		NeedsFollowUp: sub.NeedsFollowUp, RequestID: sub.RequestID, SubmittedAt: sub.Timestamp, CreatedAt: sub.Timestamp,
	}
	m.rows = append(m.rows, f)
	return f, nil
}

func (m *memRepo) GetFeedback(ctx context.Context, id uint64) (*models.Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memRepo) GetFeedbackByOrderID(ctx context.Context, orderID string) (*models.Feedback, error) {
	return nil, models.ErrNotFound
}

func (m *memRepo) ListFeedback(ctx context.Context, f models.FeedbackFilter) ([]*models.Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Feedback{}
	for _, r := range m.rows {
		if f.CourierID != nil && r.CourierID != *f.CourierID {
			continue
		}
		if f.CreatedFrom != nil && r.CreatedAt.Before(*f.CreatedFrom) {
			continue
		}
		if f.CreatedBefore != nil && !r.CreatedAt.Before(*f.CreatedBefore) {
			continue
		}
		if len(f.Ratings) > 0 {
			match := false
			for _, want := range f.Ratings {
				match = match || r.Rating == want
			}
			if !match {
				continue
			}
		}
		out = append(out, r)
	}
	if f.Offset >= len(out) {
		return []*models.Feedback{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memRepo) GetCourier(ctx context.Context, id int64) (*models.Courier, error) {
	c, ok := m.couriers[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return c, nil
}

func (m *memRepo) GetAdminByUsername(ctx context.Context, username string) (*models.AdminUser, error) {
	u, ok := m.admins[username]
	if !ok {
		return nil, models.ErrNotFound
	}
	return u, nil
}

func (m *memRepo) EnsureAdmin(ctx context.Context, username, hash string) (bool, error) {
	if _, ok := m.admins[username]; ok {
		return false, nil
	}
	m.admins[username] = &models.AdminUser{ID: 1, Username: username, PasswordHash: hash}
	return true, nil
}

func (m *memRepo) setDown(v bool) {
	m.mu.Lock()
	m.down = v
	m.mu.Unlock()
}

type testEnv struct {
	srv   *httptest.Server
	repo  *memRepo
	mr    *miniredis.Miniredis
	stats *rediscache.CourierStats
	reg   *sessions.Registry
}

func newEnv(t *testing.T, rateLimit int64) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	repo := newMemRepo()
	svc := feedback.New(repo, rediscache.NewWithClient(rdb), time.Minute)
	authn := auth.New(repo, "test-secret", time.Hour)
	require.NoError(t, authn.EnsureAdmin(context.Background(), "admin", "password123"))

	stats := rediscache.NewCourierStats(rdb)
	reg := sessions.New(svc, rdb)

	api := New(svc, authn).
		WithStats(stats).
		WithSessions(reg).
		WithRateLimiter(rediscache.NewSubmitLimiter(rdb, rateLimit, time.Minute))
	api.now = func() time.Time { return time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC) }

	r := chi.NewRouter()
	api.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, repo: repo, mr: mr, stats: stats, reg: reg}
}

func (e *testEnv) do(t *testing.T, method, path, body string, mods ...func(*http.Request)) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, m := range mods {
		m(req)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

const validBody = `{"order_id":"ORD-12345","courier_id":123,"rating":4,"comment":"Late","reasons":["Punctuality"],"publish_consent":true}`

func TestCreateFeedback_CreatedThenConflict(t *testing.T) {
	e := newEnv(t, 0)

	resp, body := e.do(t, http.MethodPost, "/api/feedback", validBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, submission.MessageDelivered, body["message"])
	fb := body["feedback"].(map[string]any)
	require.Equal(t, true, fb["needs_follow_up"])
	require.Equal(t, "Alex Doe", fb["courier_name"])

	resp, body = e.do(t, http.MethodPost, "/api/feedback", validBody)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, submission.MessageDuplicate, body["error"])

	resp, body = e.do(t, http.MethodGet, "/api/feedback/exists?order_id=ORD-12345", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["exists"])

	resp, body = e.do(t, http.MethodGet, "/api/feedback/1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ORD-12345", body["order_id"])
}

func TestCreateFeedback_ErrorMapping(t *testing.T) {
	e := newEnv(t, 0)

	resp, body := e.do(t, http.MethodPost, "/api/feedback", `{"order_id":"A","courier_id":123,"rating":0}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Rating must be between 1 and 5", body["error"])

	resp, body = e.do(t, http.MethodPost, "/api/feedback", `{"order_id":"A","rating":3}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Missing required field: courier_id", body["error"])

	resp, _ = e.do(t, http.MethodPost, "/api/feedback", `{not json`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = e.do(t, http.MethodPost, "/api/feedback", `{"order_id":"A","courier_id":999,"rating":3}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "courier not found", body["error"])

	e.repo.setDown(true)
	resp, _ = e.do(t, http.MethodPost, "/api/feedback", validBody)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/feedback/42", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStorageFailure_HidesDriverText(t *testing.T) {
	e := newEnv(t, 0)
	e.repo.mu.Lock()
	e.repo.broken = errors.New(`ERROR: permission denied for table feedback (SQLSTATE 42501)`)
	e.repo.mu.Unlock()

	resp, body := e.do(t, http.MethodPost, "/api/feedback", validBody)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, messageInternal, body["error"])

	resp, body = e.do(t, http.MethodPost, "/api/sessions/kiosk-9/feedback", validBody)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, submission.MessageSubmitFailed, body["message"])
	require.NotContains(t, fmt.Sprint(body), "SQLSTATE")
}

func TestCreateFeedback_ReplayKeepsTimestampAndRequestID(t *testing.T) {
	e := newEnv(t, 0)
	body := `{"order_id":"ORD-9","courier_id":123,"rating":5,"timestamp":"2026-05-01T08:00:00Z","request_id":"req-1"}`

	resp, out := e.do(t, http.MethodPost, "/api/feedback", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	fb := out["feedback"].(map[string]any)
	require.Equal(t, "req-1", fb["request_id"])
	require.Equal(t, "2026-05-01T08:00:00Z", fb["submitted_at"])
	require.Equal(t, false, fb["needs_follow_up"])
}

func TestCreateFeedback_RateLimited(t *testing.T) {
	e := newEnv(t, 2)

	for i, order := range []string{"A", "B"} {
		body := strings.Replace(validBody, "ORD-12345", order, 1)
		resp, _ := e.do(t, http.MethodPost, "/api/feedback", body)
		require.Equal(t, http.StatusCreated, resp.StatusCode, "request %d", i)
	}
	resp, _ := e.do(t, http.MethodPost, "/api/feedback", strings.Replace(validBody, "ORD-12345", "C", 1))
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "60", resp.Header.Get("Retry-After"))
}

func TestCourierAndStats(t *testing.T) {
	e := newEnv(t, 0)

	resp, body := e.do(t, http.MethodGet, "/api/courier/123", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "https://t.me/alex_courier", body["contact_link"])
	require.True(t, e.mr.Exists("courier:123"))

	resp, _ = e.do(t, http.MethodGet, "/api/courier/5", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err := e.stats.Record(context.Background(), 123, "X", 4, true)
	require.NoError(t, err)
	resp, body = e.do(t, http.MethodGet, "/api/couriers/123/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(1), body["count"])

	e.do(t, http.MethodPost, "/api/feedback", validBody)
	resp, body = e.do(t, http.MethodGet, "/api/feedback?courier_id=123", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["items"], 1)

	resp, _ = e.do(t, http.MethodGet, "/api/feedback", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionFlow_QueuedThenDrained(t *testing.T) {
	e := newEnv(t, 0)
	in := `{"order_id":"ORD-77","courier_id":123,"rating":2}`

	e.repo.setDown(true)
	resp, body := e.do(t, http.MethodPost, "/api/sessions/kiosk-1/feedback", in)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, string(submission.StateQueued), body["state"])
	require.Equal(t, "Saved offline. Will sync when connected (1 pending)", body["message"])
	require.True(t, e.mr.Exists("feedback:queue:kiosk-1"))

	resp, body = e.do(t, http.MethodGet, "/api/sessions/kiosk-1/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["pending"], 1)

	e.reg.Broadcast(context.Background(), false)
	e.repo.setDown(false)
	require.Equal(t, 1, e.reg.Broadcast(context.Background(), true))

	resp, body = e.do(t, http.MethodPost, "/api/sessions/kiosk-1/feedback", in)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, string(submission.StateDuplicate), body["state"])

	resp, body = e.do(t, http.MethodPost, "/api/sessions/kiosk-1/feedback", `{"order_id":"x"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Missing required field: courier_id", body["message"])

	resp, _ = e.do(t, http.MethodGet, "/api/sessions/bad%20id/status", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdmin_LoginListExportLogout(t *testing.T) {
	e := newEnv(t, 0)
	for _, body := range []string{
		`{"order_id":"A","courier_id":123,"rating":5}`,
		`{"order_id":"B","courier_id":123,"rating":2,"comment":"cold, late","reasons":["Item Condition"]}`,
	} {
		resp, _ := e.do(t, http.MethodPost, "/api/feedback", body)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, _ := e.do(t, http.MethodGet, "/api/admin/feedback", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := e.do(t, http.MethodPost, "/api/admin/login", `{"username":"admin","password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "Invalid username or password.", body["error"])

	resp, body = e.do(t, http.MethodPost, "/api/admin/login", `{"username":"admin","password":"password123"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	withCookie := func(r *http.Request) { r.AddCookie(cookie) }
	bearer := func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+body["token"].(string)) }

	resp, body = e.do(t, http.MethodGet, "/api/admin/feedback?rating=1,2&from=2026-05-10&to=2026-05-10", "", withCookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["items"], 1)

	resp, body = e.do(t, http.MethodGet, "/api/admin/feedback?from=2026-05-11", "", bearer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["items"], 0)

	resp, _ = e.do(t, http.MethodGet, "/api/admin/feedback?rating=9", "", bearer)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/api/admin/feedback/export.csv", nil)
	require.NoError(t, err)
	withCookie(req)
	csvResp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer csvResp.Body.Close()
	require.Equal(t, http.StatusOK, csvResp.StatusCode)
	require.Contains(t, csvResp.Header.Get("Content-Disposition"), "feedback_export.csv")

	var buf bytes.Buffer
	_, err = buf.ReadFrom(csvResp.Body)
	require.NoError(t, err)
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "cold, late", records[2][4])

	resp, _ = e.do(t, http.MethodPost, "/api/admin/logout", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cleared bool
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	require.True(t, cleared)
}

func TestParseFilter(t *testing.T) {
	f, err := parseFilter(map[string][]string{
		"from":      {"2026-01-01"},
		"to":        {"2026-01-31"},
		"rating":    {"1,2", "5"},
		"follow_up": {"true"},
		"limit":     {"10"},
	})
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), *f.CreatedFrom)
	require.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), *f.CreatedBefore)
	require.Equal(t, []int{1, 2, 5}, f.Ratings)
	require.True(t, *f.NeedsFollowUp)
	require.Equal(t, 10, f.Limit)

	_, err = parseFilter(map[string][]string{"from": {"01/02/2026"}})
	require.Error(t, err)
}
