package models

import "time"

type Courier struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone"`
	ContactLink *string   `json:"contact_link,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type AdminUser struct {
	ID           uint64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// CourierStats агрегируется воркером из событий feedback.submitted.
type CourierStats struct {
	CourierID     int64         `json:"courier_id"`
	Count         int64         `json:"count"`
	RatingSum     int64         `json:"rating_sum"`
	AverageRating float64       `json:"average_rating"`
	FollowUps     int64         `json:"follow_ups"`
	ByRating      map[int]int64 `json:"by_rating"`
}
