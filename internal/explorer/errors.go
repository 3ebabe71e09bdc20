package explorer

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingData is returned when the explorer response has no data object.
	ErrMissingData = errors.New("explorer response has no data field")
	// ErrMissingBalance is returned when the data object carries no balance.
	ErrMissingBalance = errors.New("explorer response has no balance field")
	// ErrBalanceOutOfRange is returned when the balance does not fit in int64 satoshis.
	ErrBalanceOutOfRange = errors.New("explorer balance out of range")
	// ErrUnexpectedStatus is returned for non-2xx explorer responses.
	ErrUnexpectedStatus = errors.New("unexpected explorer status")
)

// StatusError records the HTTP status of a failed explorer call.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d", ErrUnexpectedStatus, e.Code)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}
