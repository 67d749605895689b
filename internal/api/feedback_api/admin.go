package feedback_api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/FeedbackBox/internal/models"
	"github.com/BearBump/FeedbackBox/internal/services/auth"
)

type ctxKey struct{}

// AdminFromContext отдаёт claims, положенные requireAdmin.
func AdminFromContext(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*auth.Claims)
	return c, ok
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := a.auth.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(a.auth.TTL().Seconds()),
	})
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "token": token})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secureCookie,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": false})
}

func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if c, err := r.Cookie(SessionCookie); err == nil {
			token = c.Value
		}
		if h := r.Header.Get("Authorization"); token == "" && strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		claims, err := a.auth.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims)))
	})
}

func (a *API) adminList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := a.svc.ListFeedback(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (a *API) adminExport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="feedback_export.csv"`)
	n, err := a.svc.ExportCSV(r.Context(), w, filter)
	if err != nil {
		// заголовки уже ушли, статус не поменять
		slog.Error("csv export failed", "rows", n, "error", err.Error())
		return
	}
	slog.Info("feedback exported", "rows", n)
}

const dateLayout = "2006-01-02"

// parseFilter: from/to это даты включительно, rating можно передать несколько раз
// или через запятую.
func parseFilter(q url.Values) (models.FeedbackFilter, error) {
	var f models.FeedbackFilter

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return f, fmt.Errorf("invalid from date %q", v)
		}
		f.CreatedFrom = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return f, fmt.Errorf("invalid to date %q", v)
		}
		next := t.AddDate(0, 0, 1)
		f.CreatedBefore = &next
	}
	for _, raw := range q["rating"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n, err := strconv.Atoi(part)
			if err != nil || n < models.MinRating || n > models.MaxRating {
				return f, fmt.Errorf("invalid rating %q", part)
			}
			f.Ratings = append(f.Ratings, n)
		}
	}
	if v := q.Get("courier_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("invalid courier_id %q", v)
		}
		f.CourierID = &id
	}
	if v := q.Get("follow_up"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("invalid follow_up %q", v)
		}
		f.NeedsFollowUp = &b
	}
	f.Limit, f.Offset = pageParams(q.Get("limit"), q.Get("offset"))
	return f, nil
}
