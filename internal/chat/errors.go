package chat

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrJobNotFound     = errors.New("job not found")
	ErrEmptyPrompt     = errors.New("prompt is empty")

	// ErrCredentialMissing marks the recognized outcome of a stream started
	// without an api key. It is reported through notifications, not as a failure.
	ErrCredentialMissing = errors.New("api key is not configured")
)

// StorageError wraps a persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
