package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/guido-cesarano/claimworker/pkg/services"
	"github.com/guido-cesarano/claimworker/pkg/tasks"
	"github.com/guido-cesarano/claimworker/pkg/worker"
)

// AssignAdjuster picks an adjuster covering the claim region.
//
// Input: region. Output: adjusterId, adjusterEmail.
type AssignAdjuster struct {
	Employees AdjusterFinder
}

// Topic implements worker.Handler.
func (AssignAdjuster) Topic() string { return TopicAssignAdjuster }

// Execute implements worker.Handler.
func (h AssignAdjuster) Execute(ctx context.Context, task tasks.ExternalTask) (tasks.Variables, error) {
	region, err := worker.RequireString(task, "region", "Region")
	if err != nil {
		return nil, err
	}

	adj, err := h.Employees.FindAdjuster(ctx, region)
	if errors.Is(err, services.ErrNotFound) {
		return nil, worker.NewBusinessError(CodeNoAdjusterAvailable, "no adjuster available in region "+region)
	}
	if err != nil {
		return nil, fmt.Errorf("find adjuster in %s: %w", region, err)
	}

	return tasks.Variables{}.
		Set("adjusterId", adj.ID).
		Set("adjusterEmail", adj.Email), nil
}
