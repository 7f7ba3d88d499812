package domain

import (
	"errors"
	"fmt"
)

// ErrConfiguration aborts before any cluster mutation: the workload template
// or local configuration is unusable.
var ErrConfiguration = errors.New("configuration error")

// ErrPrecondition aborts before submission: required cluster-side
// infrastructure (the storage relay) is missing or not running.
var ErrPrecondition = errors.New("precondition not met")

func ConfigurationErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func PreconditionErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

// TransferError is a retryable failure in the download path: a corrupt
// archive or broken connection. The partial local artifact has already been
// removed when this is returned; the caller decides whether to retry.
type TransferError struct {
	RunId string
	Cause error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of run %s failed: %s", e.RunId, e.Cause)
}

func (e *TransferError) Unwrap() error {
	return e.Cause
}

func IsRetryableTransfer(err error) bool {
	var transferErr *TransferError
	return errors.As(err, &transferErr)
}
