package services

import (
	"context"
	"strings"
	"time"

	"github.com/guido-cesarano/claimworker/pkg/logger"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// PolicyClient checks policy validity. Answers are cached per policy number
// for a bounded time, so repeated claims on one policy hit the service once.
type PolicyClient struct {
	rest  *restClient
	cache *expirable.LRU[string, bool]
}

// NewPolicyClient builds a client with a cache of size entries living ttl.
func NewPolicyClient(opts Options, size int, ttl time.Duration) (*PolicyClient, error) {
	rest, err := newRestClient("policy", "services.policies_url", opts)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 1
	}
	return &PolicyClient{
		rest:  rest,
		cache: expirable.NewLRU[string, bool](size, nil, ttl),
	}, nil
}

type validityResponse struct {
	Valid bool `json:"valid"`
}

// IsValid reports whether the policy is in force. An unknown policy is
// reported as invalid rather than as an error.
func (c *PolicyClient) IsValid(ctx context.Context, policyNumber string) (bool, error) {
	key := strings.TrimSpace(policyNumber)
	if valid, ok := c.cache.Get(key); ok {
		return valid, nil
	}

	req, cancel := c.rest.request(ctx)
	defer cancel()

	var out validityResponse
	resp, err := req.
		SetPathParam("number", key).
		SetResult(&out).
		Get("/policies/{number}/validity")
	if err := c.rest.check("validity", resp, err); err != nil {
		if isNotFound(err) {
			logger.Log.Debug().Str("policy_number", key).Msg("Policy not found, treating as invalid")
			c.cache.Add(key, false)
			return false, nil
		}
		return false, err
	}

	c.cache.Add(key, out.Valid)
	return out.Valid, nil
}
