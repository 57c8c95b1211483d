package services

import "context"

// Adjuster is a claims adjuster able to take a new claim.
type Adjuster struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// EmployeeClient queries the employee directory.
type EmployeeClient struct {
	rest *restClient
}

func NewEmployeeClient(opts Options) (*EmployeeClient, error) {
	rest, err := newRestClient("employees", "services.employees_url", opts)
	if err != nil {
		return nil, err
	}
	return &EmployeeClient{rest: rest}, nil
}

// FindAdjuster returns the next available adjuster for region, or
// ErrNotFound when nobody covers it.
func (c *EmployeeClient) FindAdjuster(ctx context.Context, region string) (Adjuster, error) {
	req, cancel := c.rest.request(ctx)
	defer cancel()

	var out Adjuster
	resp, err := req.
		SetQueryParam("region", region).
		SetResult(&out).
		Get("/adjusters/available")
	if err := c.rest.check("find adjuster", resp, err); err != nil {
		return Adjuster{}, err
	}
	return out, nil
}
