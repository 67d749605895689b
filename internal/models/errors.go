package models

import "github.com/pkg/errors"

var (
	ErrDuplicateOrder     = errors.New("feedback for this order already exists")
	ErrStoreUnavailable   = errors.New("feedback store unavailable")
	ErrNotFound           = errors.New("not found")
	ErrCourierNotFound    = errors.New("courier not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type unavailableError struct {
	cause error
}

func (e *unavailableError) Error() string { return e.cause.Error() }
func (e *unavailableError) Unwrap() error { return e.cause }

func (e *unavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// Unavailable помечает ошибку как сетевую: такая отправка уходит в офлайн-очередь.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return &unavailableError{cause: err}
}
