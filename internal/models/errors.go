package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("action not found")
	ErrInvalidMethod = errors.New("unsupported http method")
	ErrInvalidURL    = errors.New("url is required")
	ErrInvalidBody   = errors.New("body is not valid json")
	ErrBodyTooLarge  = errors.New("body too large")
)

// StorageError reports a failure of the persistent medium behind a queue store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err unless it is nil or already a StorageError.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err came from the storage medium.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
