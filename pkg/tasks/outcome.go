package tasks

import "time"

// OutcomeKind enumerates the ways a task can end.
type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota + 1
	OutcomeFailed
	OutcomeBusinessError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeBusinessError:
		return "business_error"
	default:
		return "unknown"
	}
}

// Outcome is produced exactly once per executed task. Only the fields that
// belong to Kind are meaningful.
type Outcome struct {
	Kind OutcomeKind

	// Completed and BusinessError
	Variables Variables

	// Failed
	ErrorMessage string
	ErrorDetails string
	Retries      int
	RetryTimeout time.Duration

	// BusinessError
	ErrorCode string
}

// Completed builds a successful outcome carrying output variables.
func Completed(vars Variables) Outcome {
	return Outcome{Kind: OutcomeCompleted, Variables: vars}
}

// Failed builds a failure outcome. The engine decrements nothing on its own:
// retries is the number of attempts left after this one.
func Failed(message, details string, retries int, retryTimeout time.Duration) Outcome {
	return Outcome{
		Kind:         OutcomeFailed,
		ErrorMessage: message,
		ErrorDetails: details,
		Retries:      retries,
		RetryTimeout: retryTimeout,
	}
}

// BusinessFailure builds a non-retryable domain failure raised as a BPMN error.
func BusinessFailure(code, message string, vars Variables) Outcome {
	return Outcome{
		Kind:         OutcomeBusinessError,
		ErrorCode:    code,
		ErrorMessage: message,
		Variables:    vars,
	}
}
