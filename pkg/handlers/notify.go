package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/guido-cesarano/claimworker/pkg/services"
	"github.com/guido-cesarano/claimworker/pkg/tasks"
	"github.com/guido-cesarano/claimworker/pkg/worker"
)

// NotifyClaimant sends the claimant a status notification. Delivery is
// flaky, so it retries more often and waits longer than the default.
//
// Input: claim_id, claimant_email, notification_text. Output: notifiedAt.
type NotifyClaimant struct {
	Notifier services.Notifier
	worker.Retry
}

// NewNotifyClaimant returns the handler with its notification retry policy.
func NewNotifyClaimant(n services.Notifier) NotifyClaimant {
	return NotifyClaimant{Notifier: n, Retry: notifyRetry}
}

// Topic implements worker.Handler.
func (NotifyClaimant) Topic() string { return TopicNotifyClaimant }

// Execute implements worker.Handler.
func (h NotifyClaimant) Execute(ctx context.Context, task tasks.ExternalTask) (tasks.Variables, error) {
	claimID, err := worker.RequireString(task, "claim_id", "Claim id")
	if err != nil {
		return nil, err
	}
	email, err := worker.RequireString(task, "claimant_email", "Claimant email")
	if err != nil {
		return nil, err
	}
	text, err := worker.RequireString(task, "notification_text", "Notification text")
	if err != nil {
		return nil, err
	}

	sent, err := h.Notifier.Notify(ctx, services.Notification{ClaimID: claimID, Email: email, Text: text})
	if err != nil {
		return nil, fmt.Errorf("notify claimant of %s: %w", claimID, err)
	}
	return tasks.Variables{}.Set("notifiedAt", sent.Format(time.RFC3339)), nil
}
