package worker

import (
	"errors"
	"fmt"

	"github.com/guido-cesarano/claimworker/pkg/tasks"
)

// ValidationError reports a malformed input variable. It is raised before
// any remote call is made.
type ValidationError struct {
	Label    string
	Variable string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s (variable '%s')", e.Label, e.Reason, e.Variable)
}

// Category names the error in failure details.
func (e *ValidationError) Category() string { return "ValidationError" }

// BusinessError is a non-retryable domain failure. The template reports it
// as a BPMN error so the process model can route around it.
type BusinessError struct {
	Code      string
	Message   string
	Variables tasks.Variables
}

// NewBusinessError builds a BusinessError.
func NewBusinessError(code, message string) *BusinessError {
	return &BusinessError{Code: code, Message: message}
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("business error %s: %s", e.Code, e.Message)
}

// Category names the error in failure details.
func (e *BusinessError) Category() string { return "BusinessError" }

type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("handler panicked: %v", e.value) }

func (e *panicError) Category() string { return "Panic" }

type categorized interface {
	Category() string
}

// Category returns the first category found in err's chain, or
// "RuntimeError" when nothing in the chain names one.
func Category(err error) string {
	var c categorized
	if errors.As(err, &c) {
		return c.Category()
	}
	return "RuntimeError"
}

// Details renders the long failure reason sent alongside the short message.
func Details(err error) string {
	return Category(err) + ": " + err.Error()
}
