package feedbackapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/FeedbackBox/internal/models"
	"github.com/pkg/errors"
)

// Client talks to a remote feedback-api and implements the same Exists/Insert
// contract as the Postgres store.
type Client struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		baseURL: baseURL,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) WithHTTPClient(httpc *http.Client) *Client {
	if httpc != nil {
		c.httpc = httpc
	}
	return c
}

type existsResp struct {
	Exists bool `json:"exists"`
}

type errorResp struct {
	Error string `json:"error"`
}

func (c *Client) Exists(ctx context.Context, orderID string) (bool, error) {
	u, err := c.url("/api/feedback/exists")
	if err != nil {
		return false, err
	}
	q := u.Query()
	q.Set("order_id", orderID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return false, models.Unavailable(errors.Wrap(err, "do request"))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, statusError(resp)
	}

	var rb existsResp
	if err := json.NewDecoder(resp.Body).Decode(&rb); err != nil {
		return false, errors.Wrap(err, "decode")
	}
	return rb.Exists, nil
}

func (c *Client) Insert(ctx context.Context, sub models.FeedbackSubmission) error {
	u, err := c.url("/api/feedback")
	if err != nil {
		return err
	}
	body, err := json.Marshal(sub)
	if err != nil {
		return errors.Wrap(err, "marshal submission")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", sub.RequestID)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return models.Unavailable(errors.Wrap(err, "do request"))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return statusError(resp)
}

func (c *Client) url(path string) (*url.URL, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = path
	return u, nil
}

// statusError: 409 это дубликат, 408/429/5xx считаем недоступностью,
// остальное это отказ по данным.
func statusError(resp *http.Response) error {
	var eb errorResp
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if json.Unmarshal(raw, &eb) != nil || eb.Error == "" {
		eb.Error = http.StatusText(resp.StatusCode)
	}
	err := fmt.Errorf("feedback api http %d: %s", resp.StatusCode, eb.Error)

	switch {
	case resp.StatusCode == http.StatusConflict:
		return errors.Wrap(models.ErrDuplicateOrder, err.Error())
	case resp.StatusCode == http.StatusNotFound && eb.Error == models.ErrCourierNotFound.Error():
		return errors.Wrap(models.ErrCourierNotFound, err.Error())
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return models.Unavailable(err)
	}
	return err
}
