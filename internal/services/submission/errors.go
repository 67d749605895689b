package submission

import (
	"context"
	"net"

	"github.com/BearBump/FeedbackBox/internal/models"
	"github.com/BearBump/FeedbackBox/internal/validation"
	"github.com/pkg/errors"
)

type FailureKind string

const (
	FailureValidation   FailureKind = "validation"
	FailureConnectivity FailureKind = "connectivity"
	FailureStorage      FailureKind = "storage"
)

// Failure is the only error type that leaves the coordinator.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

// Message is the text shown to the user; the underlying error stays in logs.
func (f *Failure) Message() string {
	switch f.Kind {
	case FailureValidation:
		var ve *validation.Error
		if errors.As(f.Err, &ve) {
			return ve.Error()
		}
		return "Invalid feedback"
	case FailureConnectivity:
		return MessageNoConnection
	default:
		return MessageSubmitFailed
	}
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeDuplicate
	outcomeConnectivity
	outcomeStorage
)

func classify(err error) outcome {
	switch {
	case err == nil:
		return outcomeDelivered
	case errors.Is(err, models.ErrDuplicateOrder):
		return outcomeDuplicate
	case isConnectivity(err):
		return outcomeConnectivity
	default:
		return outcomeStorage
	}
}

func isConnectivity(err error) bool {
	if errors.Is(err, models.ErrStoreUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func validationFailure(err error) *Failure {
	var ve *validation.Error
	if errors.As(err, &ve) {
		return &Failure{Kind: FailureValidation, Err: ve}
	}
	return &Failure{Kind: FailureValidation, Err: err}
}
