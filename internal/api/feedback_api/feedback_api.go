package feedback_api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/FeedbackBox/internal/cache/rediscache"
	"github.com/BearBump/FeedbackBox/internal/models"
	"github.com/BearBump/FeedbackBox/internal/services/auth"
	"github.com/BearBump/FeedbackBox/internal/services/sessions"
	"github.com/BearBump/FeedbackBox/internal/services/submission"
	"github.com/BearBump/FeedbackBox/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

const (
	SessionCookie = "admin_session"

	maxBodyBytes = 64 << 10

	messageInternal = "Something went wrong. Please try again later."
)

type FeedbackService interface {
	Submit(ctx context.Context, in models.FeedbackInput, at time.Time) (*models.Feedback, error)
	Store(ctx context.Context, sub models.FeedbackSubmission) (*models.Feedback, error)
	Exists(ctx context.Context, orderID string) (bool, error)
	GetFeedback(ctx context.Context, id uint64) (*models.Feedback, error)
	ListFeedback(ctx context.Context, filter models.FeedbackFilter) ([]*models.Feedback, error)
	ListByCourier(ctx context.Context, courierID int64, limit, offset int) ([]*models.Feedback, error)
	GetCourier(ctx context.Context, id int64) (*models.Courier, error)
	ExportCSV(ctx context.Context, w io.Writer, filter models.FeedbackFilter) (int, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
	Verify(token string) (*auth.Claims, error)
	TTL() time.Duration
}

type StatsReader interface {
	Get(ctx context.Context, courierID int64) (*models.CourierStats, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, client string, at time.Time) (rediscache.Quota, error)
}

type SessionRegistry interface {
	Get(ctx context.Context, sessionID string) (*submission.Coordinator, error)
}

type API struct {
	svc      FeedbackService
	auth     Authenticator
	stats    StatsReader
	sessions SessionRegistry

	rl RateLimiter

	secureCookie bool
	now          func() time.Time
}

func New(svc FeedbackService, authn Authenticator) *API {
	return &API{svc: svc, auth: authn, now: time.Now}
}

func (a *API) WithStats(s StatsReader) *API {
	a.stats = s
	return a
}

func (a *API) WithSessions(s SessionRegistry) *API {
	a.sessions = s
	return a
}

// WithRateLimiter ограничивает отправки с одного IP.
func (a *API) WithRateLimiter(rl RateLimiter) *API {
	a.rl = rl
	return a
}

func (a *API) WithSecureCookie(secure bool) *API {
	a.secureCookie = secure
	return a
}

func (a *API) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.With(a.rateLimited).Post("/feedback", a.createFeedback)
		r.Get("/feedback/exists", a.feedbackExists)
		r.Get("/feedback/{id}", a.getFeedback)
		r.Get("/feedback", a.listCourierFeedback)
		r.Get("/courier/{id}", a.getCourier)
		r.Get("/couriers/{id}/stats", a.getCourierStats)

		r.With(a.rateLimited).Post("/sessions/{sessionID}/feedback", a.sessionSubmit)
		r.Get("/sessions/{sessionID}/status", a.sessionStatus)

		r.Post("/admin/login", a.login)
		r.Post("/admin/logout", a.logout)
		r.Group(func(r chi.Router) {
			r.Use(a.requireAdmin)
			r.Get("/admin/feedback", a.adminList)
			r.Get("/admin/feedback/export.csv", a.adminExport)
		})
	})
}

type submitRequest struct {
	OrderID        string     `json:"order_id"`
	CourierID      *int64     `json:"courier_id"`
	Rating         *int       `json:"rating"`
	Comment        string     `json:"comment"`
	Reasons        []string   `json:"reasons"`
	PublishConsent bool       `json:"publish_consent"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	RequestID      string     `json:"request_id,omitempty"`
}

func (r submitRequest) input() models.FeedbackInput {
	return models.FeedbackInput{
		OrderID:        r.OrderID,
		CourierID:      r.CourierID,
		Rating:         r.Rating,
		Comment:        r.Comment,
		Reasons:        r.Reasons,
		PublishConsent: r.PublishConsent,
	}
}

type submitResponse struct {
	Message  string           `json:"message"`
	Feedback *models.Feedback `json:"feedback"`
}

func (a *API) createFeedback(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in := req.input()
	if err := validation.Validate(in); err != nil {
		writeServiceError(w, err)
		return
	}

	var (
		f   *models.Feedback
		err error
	)
	if req.Timestamp != nil {
		// повтор из офлайн-очереди клиента: сохраняем исходные timestamp и request_id
		sub := models.NewSubmission(in, *req.Timestamp)
		if req.RequestID != "" {
			sub.RequestID = req.RequestID
		}
		f, err = a.svc.Store(r.Context(), sub)
	} else {
		f, err = a.svc.Submit(r.Context(), in, a.now())
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitResponse{Message: submission.MessageDelivered, Feedback: f})
}

func (a *API) feedbackExists(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order_id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order_id is required")
		return
	}
	ok, err := a.svc.Exists(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": ok})
}

func (a *API) getFeedback(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	f, err := a.svc.GetFeedback(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (a *API) listCourierFeedback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	courierID, err := strconv.ParseInt(q.Get("courier_id"), 10, 64)
	if err != nil || courierID <= 0 {
		writeError(w, http.StatusBadRequest, "courier_id is required")
		return
	}
	limit, offset := pageParams(q.Get("limit"), q.Get("offset"))
	out, err := a.svc.ListByCourier(r.Context(), courierID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (a *API) getCourier(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid courier id")
		return
	}
	c, err := a.svc.GetCourier(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) getCourierStats(w http.ResponseWriter, r *http.Request) {
	if a.stats == nil {
		writeError(w, http.StatusServiceUnavailable, "stats not wired")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid courier id")
		return
	}
	st, err := a.stats.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) sessionSubmit(w http.ResponseWriter, r *http.Request) {
	c, ok := a.session(w, r)
	if !ok {
		return
	}
	var in models.FeedbackInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := c.Submit(r.Context(), in)
	writeJSON(w, resultStatus(res), res)
}

func (a *API) sessionStatus(w http.ResponseWriter, r *http.Request) {
	c, ok := a.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  c.Status(),
		"pending": c.Pending(),
	})
}

func (a *API) session(w http.ResponseWriter, r *http.Request) (*submission.Coordinator, bool) {
	if a.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions not wired")
		return nil, false
	}
	c, err := a.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	return c, true
}

func resultStatus(res submission.Result) int {
	switch res.State {
	case submission.StateDelivered:
		return http.StatusCreated
	case submission.StateDuplicate:
		return http.StatusConflict
	case submission.StateQueued:
		return http.StatusAccepted
	}
	var f *submission.Failure
	if errors.As(res.Err, &f) {
		switch f.Kind {
		case submission.FailureValidation:
			return http.StatusBadRequest
		case submission.FailureConnectivity:
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}

func (a *API) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.rl == nil {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r)
		q, err := a.rl.Allow(r.Context(), ip, a.now())
		if err != nil {
			// лимитер недоступен: пропускаем, а не роняем отправку
			slog.Warn("rate limiter unavailable", "error", err.Error())
			next.ServeHTTP(w, r)
			return
		}
		if !q.Allowed {
			retry := int(math.Ceil(q.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeError(w, http.StatusTooManyRequests, "too many submissions, try again later")
			slog.Warn("submission rate limited", "ip", ip, "used", q.Used, "limit", q.Limit)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func pageParams(limitRaw, offsetRaw string) (int, int) {
	limit, _ := strconv.Atoi(limitRaw)
	offset, _ := strconv.Atoi(offsetRaw)
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "invalid json body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeServiceError(w http.ResponseWriter, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Reason)
	case errors.Is(err, sessions.ErrInvalidSessionID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid username or password.")
	case errors.Is(err, models.ErrCourierNotFound):
		writeError(w, http.StatusNotFound, models.ErrCourierNotFound.Error())
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, models.ErrNotFound.Error())
	case errors.Is(err, models.ErrDuplicateOrder):
		writeError(w, http.StatusConflict, submission.MessageDuplicate)
	case errors.Is(err, models.ErrStoreUnavailable):
		slog.Warn("feedback store unavailable", "error", err.Error())
		writeError(w, http.StatusServiceUnavailable, models.ErrStoreUnavailable.Error())
	default:
		slog.Error("request failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, messageInternal)
	}
}
