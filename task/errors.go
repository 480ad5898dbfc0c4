package task

import (
	"errors"
	"fmt"
)

var ErrUnknownTask = errors.New("unknown task")

// SkipError reports that a task had nothing to do. The pipeline carries on
// as if the task succeeded.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	if e.Reason == "" {
		return "skipped"
	}
	return "skipped: " + e.Reason
}

func Skip(reason string) error {
	return &SkipError{Reason: reason}
}

// FatalError aborts the whole run; Message is shown to the user.
type FatalError struct {
	Message string
	Err     error
}

func (e *FatalError) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func Fatal(message string) error {
	return &FatalError{Message: message}
}

// Fatalf formats like fmt.Errorf; a %w operand stays reachable through
// errors.Is and errors.As.
func Fatalf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	return &FatalError{Message: err.Error(), Err: errors.Unwrap(err)}
}

// Outcome is the result of running a task.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeSkipped
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFatal:
		return "fatal"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Classify maps the return values of Task.Run to an outcome. Errors other
// than SkipError and FatalError are ordinary failures.
func Classify(ok bool, err error) Outcome {
	if err != nil {
		var skip *SkipError
		if errors.As(err, &skip) {
			return OutcomeSkipped
		}
		var fatal *FatalError
		if errors.As(err, &fatal) {
			return OutcomeFatal
		}
		return OutcomeFailure
	}
	if !ok {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
