// Package services holds the REST clients for the claim domain systems the
// handlers depend on: policies, claims, employees and notifications.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/guido-cesarano/claimworker/pkg/config"
	"github.com/guido-cesarano/claimworker/pkg/engine"
)

// ErrNotFound is returned when a service answers 404.
var ErrNotFound = errors.New("not found")

// StatusError is any other non-2xx answer from a domain service.
type StatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s service returned %d", e.Service, e.Status)
	}
	return fmt.Sprintf("%s service returned %d: %s", e.Service, e.Status, e.Body)
}

// Options configures one service client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type restClient struct {
	name    string
	rc      *resty.Client
	timeout time.Duration
}

func newRestClient(name, field string, opts Options) (*restClient, error) {
	base := engine.NormalizeBaseURL(opts.BaseURL)
	if base == "" {
		return nil, &config.ConfigurationError{Field: field, Reason: "must not be empty or blank"}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = config.Default().Services.Timeout
	}

	var rc *resty.Client
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(base).SetHeader("Accept", "application/json")

	return &restClient{name: name, rc: rc, timeout: timeout}, nil
}

func (c *restClient) request(ctx context.Context) (*resty.Request, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	return c.rc.R().SetContext(ctx), cancel
}

func (c *restClient) check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s %s: %w", c.name, op, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", c.name, op, ErrNotFound)
	case !resp.IsSuccess():
		return &StatusError{Service: c.name, Status: resp.StatusCode(), Body: strings.TrimSpace(resp.String())}
	}
	return nil
}
