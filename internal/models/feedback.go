package models

import "time"

const (
	MinRating        = 1
	MaxRating        = 5
	MaxCommentLength = 500

	// Оценка 5 единственная, которая не требует разбора.
	FollowUpMaxRating = 4
)

// ReasonOptions показываются в форме; валидатор их не навязывает.
var ReasonOptions = []string{"Punctuality", "Politeness", "Item Condition", "Packaging", "Other"}

// FeedbackInput это сырые данные формы. Указатели нужны, чтобы отличать
// "поле не передано" от нулевого значения.
type FeedbackInput struct {
	OrderID        string   `json:"order_id"`
	CourierID      *int64   `json:"courier_id"`
	Rating         *int     `json:"rating"`
	Comment        string   `json:"comment,omitempty"`
	Reasons        []string `json:"reasons,omitempty"`
	PublishConsent bool     `json:"publish_consent"`
}

// FeedbackSubmission is created once per user action and never mutated.
// Its JSON form is also the on-disk format of the offline queue.
type FeedbackSubmission struct {
	OrderID        string    `json:"order_id"`
	CourierID      int64     `json:"courier_id"`
	Rating         int       `json:"rating"`
	Comment        string    `json:"comment"`
	Reasons        []string  `json:"reasons"`
	PublishConsent bool      `json:"publish_consent"`
	NeedsFollowUp  bool      `json:"needs_follow_up"`
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"request_id"`
}

// NewSubmission ожидает уже провалидированный input.
func NewSubmission(in FeedbackInput, at time.Time) FeedbackSubmission {
	var courierID int64
	if in.CourierID != nil {
		courierID = *in.CourierID
	}
	var rating int
	if in.Rating != nil {
		rating = *in.Rating
	}
	at = at.UTC()

	return FeedbackSubmission{
		OrderID:        in.OrderID,
		CourierID:      courierID,
		Rating:         rating,
		Comment:        in.Comment,
		Reasons:        append([]string{}, in.Reasons...),
		PublishConsent: in.PublishConsent,
		NeedsFollowUp:  NeedsFollowUp(rating),
		Timestamp:      at,
		RequestID:      NewRequestID(in.OrderID, courierID, at),
	}
}

// Input converts a stored submission back to form data so queued entries can be
// re-validated before a replay.
func (s FeedbackSubmission) Input() FeedbackInput {
	courierID := s.CourierID
	rating := s.Rating
	return FeedbackInput{
		OrderID:        s.OrderID,
		CourierID:      &courierID,
		Rating:         &rating,
		Comment:        s.Comment,
		Reasons:        s.Reasons,
		PublishConsent: s.PublishConsent,
	}
}

func NeedsFollowUp(rating int) bool {
	return rating <= FollowUpMaxRating
}

// Feedback is a persisted row.
type Feedback struct {
	ID             uint64    `json:"id"`
	OrderID        string    `json:"order_id"`
	CourierID      int64     `json:"courier_id"`
	CourierName    string    `json:"courier_name,omitempty"`
	Rating         int       `json:"rating"`
	Comment        string    `json:"comment"`
	Reasons        []string  `json:"reasons"`
	PublishConsent bool      `json:"publish_consent"`
	NeedsFollowUp  bool      `json:"needs_follow_up"`
	RequestID      string    `json:"request_id"`
	SubmittedAt    time.Time `json:"submitted_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// FeedbackFilter: nil/пустые поля не фильтруют.
type FeedbackFilter struct {
	CreatedFrom   *time.Time
	CreatedBefore *time.Time
	Ratings       []int
	CourierID     *int64
	NeedsFollowUp *bool
	Limit         int
	Offset        int
}
