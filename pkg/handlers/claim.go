package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/guido-cesarano/claimworker/pkg/services"
	"github.com/guido-cesarano/claimworker/pkg/tasks"
	"github.com/guido-cesarano/claimworker/pkg/worker"
)

func claimNotFound(claimID string) error {
	return worker.NewBusinessError(CodeClaimNotFound, "claim "+claimID+" does not exist")
}

// LoadClaim copies the claim record into the process.
//
// Input: claim_id. Output: policy_number, claimAmount, claimStatus, region.
type LoadClaim struct {
	Claims ClaimStore
}

// Topic implements worker.Handler.
func (LoadClaim) Topic() string { return TopicLoadClaim }

// Execute implements worker.Handler.
func (h LoadClaim) Execute(ctx context.Context, task tasks.ExternalTask) (tasks.Variables, error) {
	claimID, err := worker.RequireString(task, "claim_id", "Claim id")
	if err != nil {
		return nil, err
	}

	claim, err := h.Claims.Get(ctx, claimID)
	if errors.Is(err, services.ErrNotFound) {
		return nil, claimNotFound(claimID)
	}
	if err != nil {
		return nil, fmt.Errorf("load claim %s: %w", claimID, err)
	}

	return tasks.Variables{}.
		Set("policy_number", claim.PolicyNumber).
		Set("claimAmount", claim.Amount).
		Set("claimStatus", claim.Status).
		Set("region", claim.Region), nil
}

// UpdateClaimStatus writes the process decision back to the claims system.
//
// Input: claim_id, claim_status. No output.
type UpdateClaimStatus struct {
	Claims ClaimStore
}

// Topic implements worker.Handler.
func (UpdateClaimStatus) Topic() string { return TopicUpdateClaimStatus }

// Execute implements worker.Handler.
func (h UpdateClaimStatus) Execute(ctx context.Context, task tasks.ExternalTask) (tasks.Variables, error) {
	claimID, err := worker.RequireString(task, "claim_id", "Claim id")
	if err != nil {
		return nil, err
	}
	status, err := worker.RequireString(task, "claim_status", "Claim status")
	if err != nil {
		return nil, err
	}
	status = strings.ToUpper(status)

	err = h.Claims.UpdateStatus(ctx, claimID, status)
	if errors.Is(err, services.ErrNotFound) {
		return nil, claimNotFound(claimID)
	}
	if err != nil {
		return nil, fmt.Errorf("update claim %s to %s: %w", claimID, status, err)
	}
	return nil, nil
}
