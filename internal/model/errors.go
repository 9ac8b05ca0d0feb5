package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInput is returned before any write for empty text or unknown ids.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned by operations that require an existing user.
	ErrNotFound = errors.New("not found")
	// ErrPartialWrite means one of the two message views could not be persisted.
	ErrPartialWrite = errors.New("partial write failure")
	// ErrDeliveryFailure is recorded on a subscription torn down by a failing handler.
	ErrDeliveryFailure = errors.New("subscription delivery failure")
	// ErrMessageConflict means a view with the same message id but different content exists.
	ErrMessageConflict = errors.New("message id conflict")
	// ErrMessageNotFound means no stored or pending message has the id, or it
	// belongs to another sender. It matches ErrNotFound.
	ErrMessageNotFound = fmt.Errorf("message %w", ErrNotFound)
)

// InvalidInput builds an ErrInvalidInput with a reason.
func InvalidInput(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, reason)
}

// PartialWriteError carries the message and the views that failed to persist
// so the caller can retry just those.
type PartialWriteError struct {
	Message Message
	Missing []View
	Err     error
}

func (e *PartialWriteError) Error() string {
	missing := make([]string, 0, len(e.Missing))
	for _, v := range e.Missing {
		missing = append(missing, v.String())
	}
	return fmt.Sprintf("%v: message %s missing views [%s]: %v",
		ErrPartialWrite, e.Message.ID, strings.Join(missing, ", "), e.Err)
}

func (e *PartialWriteError) Is(target error) bool {
	return target == ErrPartialWrite
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}
