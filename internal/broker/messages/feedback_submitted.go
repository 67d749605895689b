package messages

import (
	"time"

	"github.com/BearBump/FeedbackBox/internal/models"
)

const TopicFeedbackSubmitted = "feedback.submitted"

// FeedbackSubmitted публикуется после успешной вставки отзыва.
type FeedbackSubmitted struct {
	FeedbackID     uint64    `json:"feedback_id"`
	OrderID        string    `json:"order_id"`
	CourierID      int64     `json:"courier_id"`
	Rating         int       `json:"rating"`
	Reasons        []string  `json:"reasons,omitempty"`
	PublishConsent bool      `json:"publish_consent"`
	NeedsFollowUp  bool      `json:"needs_follow_up"`
	RequestID      string    `json:"request_id"`
	SubmittedAt    time.Time `json:"submitted_at"`
	CreatedAt      time.Time `json:"created_at"`
}

func NewFeedbackSubmitted(f *models.Feedback) FeedbackSubmitted {
	return FeedbackSubmitted{
		FeedbackID:     f.ID,
		OrderID:        f.OrderID,
		CourierID:      f.CourierID,
		Rating:         f.Rating,
		Reasons:        f.Reasons,
		PublishConsent: f.PublishConsent,
		NeedsFollowUp:  f.NeedsFollowUp,
		RequestID:      f.RequestID,
		SubmittedAt:    f.SubmittedAt,
		CreatedAt:      f.CreatedAt,
	}
}
