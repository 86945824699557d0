package pipeline

import "errors"

// FatalError marks a stage failure the session cannot recover from, such as
// rejected provider credentials. The resulting StageError control frame
// carries the fatal flag so the transport tears the session down instead of
// abandoning just the turn.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError wraps an error as session-fatal.
func NewFatalError(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether any error in the chain is session-fatal.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
