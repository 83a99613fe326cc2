package database

import (
	"errors"
	"fmt"
)

// ErrClosed is wrapped by a StorageError when the store has been closed.
var ErrClosed = errors.New("store is closed")

// StorageError reports a failed durable read or write.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}

	var se *StorageError
	if errors.As(err, &se) {
		return err
	}

	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
