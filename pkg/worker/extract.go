package worker

import (
	"strings"

	"github.com/guido-cesarano/claimworker/pkg/tasks"
	"github.com/shopspring/decimal"
)

const reasonMissing = "cannot be null or empty"

// RequireString reads a required string variable. A missing, blank or
// whitespace-only value, or a value of another type, is a *ValidationError
// naming both label and key. The result is trimmed.
func RequireString(task tasks.ExternalTask, key, label string) (string, error) {
	v, ok := task.Variable(key)
	if !ok || v.Value == nil {
		return "", &ValidationError{Label: label, Variable: key, Reason: reasonMissing}
	}
	s, ok := v.Value.(string)
	if !ok {
		return "", &ValidationError{Label: label, Variable: key, Reason: "must be a string, got " + v.Type}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &ValidationError{Label: label, Variable: key, Reason: reasonMissing}
	}
	return s, nil
}

// RequireDecimal reads a required numeric variable.
func RequireDecimal(task tasks.ExternalTask, key, label string) (decimal.Decimal, error) {
	v, ok := task.Variable(key)
	if !ok || v.Value == nil {
		return decimal.Zero, &ValidationError{Label: label, Variable: key, Reason: reasonMissing}
	}
	d, ok := task.Decimal(key)
	if !ok {
		return decimal.Zero, &ValidationError{Label: label, Variable: key, Reason: "must be numeric, got " + v.Type}
	}
	return d, nil
}
