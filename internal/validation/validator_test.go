package validation

import (
	"strings"
	"testing"

	"github.com/BearBump/FeedbackBox/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func validInput() models.FeedbackInput {
	return models.FeedbackInput{
		OrderID:   "A1",
		CourierID: int64Ptr(7),
		Rating:    intPtr(2),
		Comment:   "late",
		Reasons:   []string{"Punctuality"},
	}
}

func requireKind(t *testing.T, err error, kind Kind, field string) {
	t.Helper()
	var ve *Error
	require.True(t, errors.As(err, &ve), "expected *validation.Error, got %v", err)
	require.Equal(t, kind, ve.Kind)
	require.Equal(t, field, ve.Field)
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, Validate(validInput()))

	ok, reason := Check(validInput())
	require.True(t, ok)
	require.Empty(t, reason)
}

func TestValidate_MissingFields(t *testing.T) {
	in := validInput()
	in.OrderID = "   "
	err := Validate(in)
	requireKind(t, err, KindMissingField, "order_id")
	require.Equal(t, "Missing required field: order_id", err.Error())

	in = validInput()
	in.CourierID = nil
	requireKind(t, Validate(in), KindMissingField, "courier_id")

	in = validInput()
	in.Rating = nil
	requireKind(t, Validate(in), KindMissingField, "rating")
}

func TestValidate_RatingRange(t *testing.T) {
	for _, r := range []int{0, -1, 6, 7} {
		in := validInput()
		in.Rating = intPtr(r)
		err := Validate(in)
		requireKind(t, err, KindOutOfRange, "rating")
		require.Equal(t, "Rating must be between 1 and 5", err.Error())
	}
	for r := 1; r <= 5; r++ {
		in := validInput()
		in.Rating = intPtr(r)
		require.NoError(t, Validate(in))
	}
}

func TestValidate_CommentBoundary(t *testing.T) {
	in := validInput()
	in.Comment = strings.Repeat("a", 500)
	require.NoError(t, Validate(in))

	in.Comment = strings.Repeat("a", 501)
	err := Validate(in)
	requireKind(t, err, KindTooLong, "comment")

	ok, reason := Check(in)
	require.False(t, ok)
	require.Equal(t, "Comment exceeds 500 characters", reason)
}

func TestValidate_CommentCountsRunes(t *testing.T) {
	in := validInput()
	in.Comment = strings.Repeat("я", 500)
	require.NoError(t, Validate(in))
}

func TestValidate_ReasonsNotRestricted(t *testing.T) {
	in := validInput()
	in.Reasons = []string{"something custom"}
	require.NoError(t, Validate(in))
}

func TestValidate_MissingBeforeRange(t *testing.T) {
	in := validInput()
	in.CourierID = nil
	in.Rating = intPtr(9)
	requireKind(t, Validate(in), KindMissingField, "courier_id")
}
