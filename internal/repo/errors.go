package repo

import (
	"context"
	"errors"
	"fmt"
)

// StorageError wraps a document store failure. It is distinguishable from
// domain errors such as not-found and from payment errors.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
