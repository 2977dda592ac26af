package datasource

import "errors"

// RunError wraps a driver failure with whether it is worth retrying.
// It satisfies retry.IsRetryable through its IsRetryable method, so driver
// error codes decide retries instead of message matching.
type RunError struct {
	Err       error
	Transient bool
}

func (e *RunError) Error() string { return e.Err.Error() }

func (e *RunError) Unwrap() error { return e.Err }

// IsRetryable reports whether the failure was transient.
func (e *RunError) IsRetryable() bool { return e.Transient }

// ClassifyError wraps err in a RunError when transient recognizes the
// driver's error type. Errors transient does not recognize are returned
// unchanged so message-based classification still applies.
func ClassifyError(err error, transient func(error) (bool, bool)) error {
	if err == nil || transient == nil {
		return err
	}
	var runErr *RunError
	if errors.As(err, &runErr) {
		return err
	}
	if isTransient, known := transient(err); known {
		return &RunError{Err: err, Transient: isTransient}
	}
	return err
}
