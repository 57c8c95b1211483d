package handlers

import (
	"context"

	"github.com/guido-cesarano/claimworker/pkg/tasks"
	"github.com/guido-cesarano/claimworker/pkg/worker"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CalculatePayment computes the approved amount of an invoice under the
// policy coverage rate, rounded half-up to cents.
//
// Input: invoice_amount, coverage_rate (percent). Output: approvedAmount.
type CalculatePayment struct{}

// Topic implements worker.Handler.
func (CalculatePayment) Topic() string { return TopicCalculatePayment }

// Execute implements worker.Handler.
func (CalculatePayment) Execute(_ context.Context, task tasks.ExternalTask) (tasks.Variables, error) {
	amount, err := worker.RequireDecimal(task, "invoice_amount", "Invoice amount")
	if err != nil {
		return nil, err
	}
	if amount.IsNegative() {
		return nil, &worker.ValidationError{Label: "Invoice amount", Variable: "invoice_amount", Reason: "must not be negative"}
	}
	rate, err := worker.RequireDecimal(task, "coverage_rate", "Coverage rate")
	if err != nil {
		return nil, err
	}
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return nil, worker.NewBusinessError(CodeCoverageRateOutOfRange,
			"coverage rate "+rate.String()+"% is outside 0-100")
	}

	return tasks.Variables{}.Set("approvedAmount", ApprovedAmount(amount, rate)), nil
}

// ApprovedAmount is amount * rate / 100, rounded half-up to two decimals.
func ApprovedAmount(amount, ratePercent decimal.Decimal) decimal.Decimal {
	return amount.Mul(ratePercent).Div(hundred).Round(2)
}
