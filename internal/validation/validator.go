package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/BearBump/FeedbackBox/internal/models"
)

type Kind string

const (
	KindMissingField Kind = "MissingField"
	KindOutOfRange   Kind = "OutOfRange"
	KindTooLong      Kind = "TooLong"
)

type Error struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return e.Reason
}

// Validate checks required fields first, then rating range, then comment length.
// It returns nil or *Error.
func Validate(in models.FeedbackInput) error {
	if strings.TrimSpace(in.OrderID) == "" {
		return missing("order_id")
	}
	if in.CourierID == nil {
		return missing("courier_id")
	}
	if in.Rating == nil {
		return missing("rating")
	}
	if r := *in.Rating; r < models.MinRating || r > models.MaxRating {
		return &Error{
			Kind:   KindOutOfRange,
			Field:  "rating",
			Reason: fmt.Sprintf("Rating must be between %d and %d", models.MinRating, models.MaxRating),
		}
	}
	// 500 символов ещё допустимо
	if utf8.RuneCountInString(in.Comment) > models.MaxCommentLength {
		return &Error{
			Kind:   KindTooLong,
			Field:  "comment",
			Reason: fmt.Sprintf("Comment exceeds %d characters", models.MaxCommentLength),
		}
	}
	return nil
}

// Check is the (ok, reason) form of Validate.
func Check(in models.FeedbackInput) (bool, string) {
	if err := Validate(in); err != nil {
		return false, err.Error()
	}
	return true, ""
}

func missing(field string) *Error {
	return &Error{
		Kind:   KindMissingField,
		Field:  field,
		Reason: "Missing required field: " + field,
	}
}
