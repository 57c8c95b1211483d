// Package handlers implements the claim-processing external tasks. Each
// handler reads its input variables, calls one domain service and returns
// the output variables; the worker template does the reporting.
package handlers

import (
	"context"
	"time"

	"github.com/guido-cesarano/claimworker/pkg/services"
	"github.com/guido-cesarano/claimworker/pkg/worker"
)

// Topics served by this package.
const (
	TopicValidatePolicy    = "validate-policy"
	TopicLoadClaim         = "load-claim"
	TopicCalculatePayment  = "calculate-payment"
	TopicAssignAdjuster    = "assign-adjuster"
	TopicNotifyClaimant    = "notify-claimant"
	TopicUpdateClaimStatus = "update-claim-status"
)

// Business error codes raised as BPMN errors.
const (
	CodeClaimNotFound          = "CLAIM_NOT_FOUND"
	CodeNoAdjusterAvailable    = "NO_ADJUSTER_AVAILABLE"
	CodeCoverageRateOutOfRange = "COVERAGE_RATE_OUT_OF_RANGE"
)

// PolicyChecker answers whether a policy is in force. *services.PolicyClient
// implements it.
type PolicyChecker interface {
	IsValid(ctx context.Context, policyNumber string) (bool, error)
}

// ClaimStore reads and updates claim records. Missing claims are reported
// as services.ErrNotFound.
type ClaimStore interface {
	Get(ctx context.Context, claimID string) (services.Claim, error)
	UpdateStatus(ctx context.Context, claimID, status string) error
}

// AdjusterFinder returns an available adjuster for a region, or
// services.ErrNotFound when nobody covers it.
type AdjusterFinder interface {
	FindAdjuster(ctx context.Context, region string) (services.Adjuster, error)
}

// Dependencies are the services handlers need. A nil dependency leaves the
// handlers that use it out of All.
type Dependencies struct {
	Policies  PolicyChecker
	Claims    ClaimStore
	Employees AdjusterFinder
	Notifier  services.Notifier
}

// All returns every handler whose dependencies are available.
func All(deps Dependencies) []worker.Handler {
	hs := []worker.Handler{CalculatePayment{}}
	if deps.Policies != nil {
		hs = append(hs, ValidatePolicy{Policies: deps.Policies})
	}
	if deps.Claims != nil {
		hs = append(hs, LoadClaim{Claims: deps.Claims}, UpdateClaimStatus{Claims: deps.Claims})
	}
	if deps.Employees != nil {
		hs = append(hs, AssignAdjuster{Employees: deps.Employees})
	}
	if deps.Notifier != nil {
		hs = append(hs, NewNotifyClaimant(deps.Notifier))
	}
	return hs
}

// notifyRetry gives mail delivery more room than the default policy.
var notifyRetry = worker.Retry{Count: 5, Timeout: 10 * time.Second}
