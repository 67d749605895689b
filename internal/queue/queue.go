package queue

import (
	"encoding/json"
	"time"

	"github.com/BearBump/FeedbackBox/internal/models"
	"github.com/pkg/errors"
)

const DefaultMaxSize = 50

// Queue is an ordered bounded FIFO of pending submissions, oldest first.
// Every operation returns a new value and never writes into a backing array
// that another Queue value may still reference.
type Queue struct {
	items []models.FeedbackSubmission
}

type Entry struct {
	Position   int
	Age        time.Duration
	Submission models.FeedbackSubmission
}

func New(items ...models.FeedbackSubmission) Queue {
	return Queue{items: append([]models.FeedbackSubmission(nil), items...)}
}

func (q Queue) Len() int {
	return len(q.items)
}

// Enqueue appends item and then drops the oldest entries until at most maxSize
// remain. Dropped entries are returned so the caller can log them; they are lost.
func (q Queue) Enqueue(item models.FeedbackSubmission, maxSize int) (Queue, []models.FeedbackSubmission) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	next := make([]models.FeedbackSubmission, 0, len(q.items)+1)
	next = append(next, q.items...)
	next = append(next, item)

	var evicted []models.FeedbackSubmission
	if over := len(next) - maxSize; over > 0 {
		evicted = append(evicted, next[:over]...)
		next = next[over:]
	}
	return Queue{items: next}, evicted
}

// DequeueMatching removes every entry for orderID, not only the first one.
func (q Queue) DequeueMatching(orderID string) (Queue, int) {
	next := make([]models.FeedbackSubmission, 0, len(q.items))
	for _, it := range q.items {
		if it.OrderID != orderID {
			next = append(next, it)
		}
	}
	return Queue{items: next}, len(q.items) - len(next)
}

// Remove drops the first entry with the given request id.
func (q Queue) Remove(requestID string) (Queue, bool) {
	for i, it := range q.items {
		if it.RequestID != requestID {
			continue
		}
		next := make([]models.FeedbackSubmission, 0, len(q.items)-1)
		next = append(next, q.items[:i]...)
		next = append(next, q.items[i+1:]...)
		return Queue{items: next}, true
	}
	return q, false
}

func (q Queue) Contains(requestID string) bool {
	for _, it := range q.items {
		if it.RequestID == requestID {
			return true
		}
	}
	return false
}

// Snapshot returns an ordered copy that is safe to iterate while the queue changes.
func (q Queue) Snapshot() []models.FeedbackSubmission {
	return append([]models.FeedbackSubmission{}, q.items...)
}

func (q Queue) Entries(now time.Time) []Entry {
	out := make([]Entry, 0, len(q.items))
	for i, it := range q.items {
		age := now.Sub(it.Timestamp)
		if age < 0 {
			age = 0
		}
		out = append(out, Entry{Position: i, Age: age, Submission: it})
	}
	return out
}

func (q Queue) MarshalJSON() ([]byte, error) {
	if q.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(q.items)
}

func (q *Queue) UnmarshalJSON(b []byte) error {
	var items []models.FeedbackSubmission
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	q.items = items
	return nil
}

func Encode(q Queue) ([]byte, error) {
	b, err := json.Marshal(q)
	if err != nil {
		return nil, errors.Wrap(err, "encode queue")
	}
	return b, nil
}

// Decode treats empty input as an empty queue.
func Decode(b []byte) (Queue, error) {
	var q Queue
	if len(b) == 0 {
		return q, nil
	}
	if err := json.Unmarshal(b, &q); err != nil {
		return Queue{}, errors.Wrap(err, "decode queue")
	}
	return q, nil
}
