package handlers

import (
	"context"
	"fmt"

	"github.com/guido-cesarano/claimworker/pkg/tasks"
	"github.com/guido-cesarano/claimworker/pkg/worker"
)

// ValidatePolicy checks that the claim's policy is in force.
//
// Input: policy_number. Output: policyValid.
type ValidatePolicy struct {
	Policies PolicyChecker
}

// Topic implements worker.Handler.
func (ValidatePolicy) Topic() string { return TopicValidatePolicy }

// Execute implements worker.Handler.
func (h ValidatePolicy) Execute(ctx context.Context, task tasks.ExternalTask) (tasks.Variables, error) {
	number, err := worker.RequireString(task, "policy_number", "Policy number")
	if err != nil {
		return nil, err
	}

	valid, err := h.Policies.IsValid(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("check policy %s: %w", number, err)
	}
	return tasks.Variables{}.Set("policyValid", valid), nil
}
