package services

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Claim is the claims system view of one claim.
type Claim struct {
	ID           string          `json:"id"`
	PolicyNumber string          `json:"policyNumber"`
	Amount       decimal.Decimal `json:"amount"`
	Status       string          `json:"status"`
	Region       string          `json:"region"`
}

// ClaimClient reads and updates claims.
type ClaimClient struct {
	rest *restClient
}

func NewClaimClient(opts Options) (*ClaimClient, error) {
	rest, err := newRestClient("claims", "services.claims_url", opts)
	if err != nil {
		return nil, err
	}
	return &ClaimClient{rest: rest}, nil
}

// Get loads a claim. A missing claim is ErrNotFound.
func (c *ClaimClient) Get(ctx context.Context, claimID string) (Claim, error) {
	req, cancel := c.rest.request(ctx)
	defer cancel()

	var out Claim
	resp, err := req.
		SetPathParam("id", claimID).
		SetResult(&out).
		Get("/claims/{id}")
	if err := c.rest.check("get claim", resp, err); err != nil {
		return Claim{}, err
	}
	return out, nil
}

// UpdateStatus sets the workflow status of a claim.
func (c *ClaimClient) UpdateStatus(ctx context.Context, claimID, status string) error {
	req, cancel := c.rest.request(ctx)
	defer cancel()

	resp, err := req.
		SetPathParam("id", claimID).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"status": status}).
		Put("/claims/{id}/status")
	return c.rest.check("update status", resp, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
