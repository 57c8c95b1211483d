// Package engine is the HTTP client for the process engine's REST API.
// It fetches and locks external tasks, reports their outcomes and correlates
// messages. Every error it returns is either a *ConnectionError (the engine
// could not be reached) or an *ApplicationError (the engine said no, or
// something else went wrong).
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/guido-cesarano/claimworker/pkg/config"
	"github.com/guido-cesarano/claimworker/pkg/logger"
	"github.com/guido-cesarano/claimworker/pkg/tasks"
)

// DefaultRequestTimeout applies when Options.RequestTimeout is zero.
const DefaultRequestTimeout = 10 * time.Second

// Options configures a Client.
type Options struct {
	// BaseURL is the engine REST root, e.g. http://localhost:8080/engine-rest.
	BaseURL  string
	WorkerID string

	// RequestTimeout bounds each call except fetchAndLock, whose long poll
	// gets its asyncResponseTimeout on top of it.
	RequestTimeout time.Duration

	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
}

// Client talks to the engine. It is safe for concurrent use; the underlying
// transport is shared and no lock is held across network calls.
type Client struct {
	rc             *resty.Client
	baseURL        string
	workerID       string
	requestTimeout time.Duration
}

// NormalizeBaseURL trims whitespace and trailing slashes so that appending
// "/message" never produces a double slash. It is idempotent.
func NormalizeBaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// NewClient validates opts and builds a client. An empty or blank base URL
// is a *config.ConfigurationError.
func NewClient(opts Options) (*Client, error) {
	base := NormalizeBaseURL(opts.BaseURL)
	if base == "" {
		return nil, &config.ConfigurationError{Field: "engine.base_url", Reason: "must not be empty or blank"}
	}
	workerID := strings.TrimSpace(opts.WorkerID)
	if workerID == "" {
		workerID = config.Default().Engine.WorkerID
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	var rc *resty.Client
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(base).
		SetLogger(restyLogger{}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		rc:             rc,
		baseURL:        base,
		workerID:       workerID,
		requestTimeout: timeout,
	}, nil
}

// restyLogger routes resty's own diagnostics into the global logger.
type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...any) {
	logger.Log.Debug().Str("component", "resty").Msgf(format, v...)
}

func (restyLogger) Warnf(format string, v ...any) {
	logger.Log.Debug().Str("component", "resty").Msgf(format, v...)
}

func (restyLogger) Debugf(format string, v ...any) {
	logger.Log.Trace().Str("component", "resty").Msgf(format, v...)
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// WorkerID returns the identity sent with every task call.
func (c *Client) WorkerID() string { return c.workerID }

// post sends body to path and classifies the result. Path parameters are
// escaped by resty.
func (c *Client) post(
	ctx context.Context,
	op, path string,
	pathParams map[string]string,
	body, result any,
	timeout time.Duration,
) (*resty.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := c.rc.R().
		SetContext(ctx).
		SetPathParams(pathParams).
		SetBody(body)
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Post(path)
	if err != nil {
		return nil, classifyTransport(op, c.baseURL+path, err)
	}
	if !resp.IsSuccess() {
		return resp, classifyStatus(op, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return resp, nil
}

// Correlate delivers msg to the engine. 204 means it was correlated to a
// waiting execution, 200 that the engine processed it some other way (for
// example by starting an instance); callers see both as success.
func (c *Client) Correlate(ctx context.Context, msg CorrelationMessage) error {
	log := logger.Log.With().
		Str("message_name", msg.MessageName).
		Str("business_key", msg.BusinessKey).
		Logger()

	if err := msg.Validate(); err != nil {
		return &ApplicationError{Kind: KindBadRequest, Op: "correlate", Err: err}
	}

	log.Debug().Msg("Correlating message")
	resp, err := c.post(ctx, "correlate", "/message", nil, msg, nil, c.requestTimeout)
	if err != nil {
		log.Error().Err(err).Msg("Message correlation failed")
		return err
	}

	if resp.StatusCode() == http.StatusNoContent {
		log.Info().Msg("Message correlated to waiting execution")
	} else {
		log.Info().Int("status", resp.StatusCode()).Msg("Message processed by engine")
	}
	return nil
}

// TopicSubscription is one topic entry of a fetchAndLock request.
type TopicSubscription struct {
	TopicName    string   `json:"topicName"`
	LockDuration int64    `json:"lockDuration"`
	Variables    []string `json:"variables,omitempty"`
}

// FetchRequest is the fetchAndLock body. WorkerID defaults to the client's.
type FetchRequest struct {
	WorkerID             string              `json:"workerId"`
	MaxTasks             int                 `json:"maxTasks"`
	UsePriority          bool                `json:"usePriority"`
	AsyncResponseTimeout int64               `json:"asyncResponseTimeout,omitempty"`
	Topics               []TopicSubscription `json:"topics"`
}

// FetchAndLock long-polls for tasks on the given topics. The call may block
// for up to AsyncResponseTimeout milliseconds before returning an empty batch.
func (c *Client) FetchAndLock(ctx context.Context, req FetchRequest) ([]tasks.ExternalTask, error) {
	if req.WorkerID == "" {
		req.WorkerID = c.workerID
	}
	if len(req.Topics) == 0 {
		return nil, nil
	}

	timeout := c.requestTimeout + time.Duration(req.AsyncResponseTimeout)*time.Millisecond
	var fetched []tasks.ExternalTask
	if _, err := c.post(ctx, "fetchAndLock", "/external-task/fetchAndLock", nil, req, &fetched, timeout); err != nil {
		return nil, err
	}
	return fetched, nil
}

type completeRequest struct {
	WorkerID  string          `json:"workerId"`
	Variables tasks.Variables `json:"variables,omitempty"`
}

// Complete marks task as done, passing output variables to the process.
func (c *Client) Complete(ctx context.Context, task tasks.ExternalTask, vars tasks.Variables) error {
	_, err := c.post(ctx, "complete", "/external-task/{id}/complete",
		map[string]string{"id": task.ID},
		completeRequest{WorkerID: c.workerID, Variables: vars},
		nil, c.requestTimeout)
	return err
}

type failureRequest struct {
	WorkerID     string `json:"workerId"`
	ErrorMessage string `json:"errorMessage"`
	ErrorDetails string `json:"errorDetails,omitempty"`
	Retries      int    `json:"retries"`
	RetryTimeout int64  `json:"retryTimeout"`
}

// Fail reports a failed attempt. retriesLeft reaching zero makes the engine
// raise an incident instead of redelivering.
func (c *Client) Fail(
	ctx context.Context,
	task tasks.ExternalTask,
	errorMessage, errorDetails string,
	retriesLeft int,
	retryTimeoutMillis int64,
) error {
	if retriesLeft < 0 {
		retriesLeft = 0
	}
	if retryTimeoutMillis < 0 {
		retryTimeoutMillis = 0
	}
	_, err := c.post(ctx, "failure", "/external-task/{id}/failure",
		map[string]string{"id": task.ID},
		failureRequest{
			WorkerID:     c.workerID,
			ErrorMessage: errorMessage,
			ErrorDetails: errorDetails,
			Retries:      retriesLeft,
			RetryTimeout: retryTimeoutMillis,
		},
		nil, c.requestTimeout)
	return err
}

type bpmnErrorRequest struct {
	WorkerID     string          `json:"workerId"`
	ErrorCode    string          `json:"errorCode"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Variables    tasks.Variables `json:"variables,omitempty"`
}

// HandleBPMNError raises a business error inside the process, to be caught
// by a boundary event. It does not consume retries.
func (c *Client) HandleBPMNError(
	ctx context.Context,
	task tasks.ExternalTask,
	errorCode, errorMessage string,
	vars tasks.Variables,
) error {
	_, err := c.post(ctx, "bpmnError", "/external-task/{id}/bpmnError",
		map[string]string{"id": task.ID},
		bpmnErrorRequest{
			WorkerID:     c.workerID,
			ErrorCode:    errorCode,
			ErrorMessage: errorMessage,
			Variables:    vars,
		},
		nil, c.requestTimeout)
	return err
}

type extendLockRequest struct {
	WorkerID    string `json:"workerId"`
	NewDuration int64  `json:"newDuration"`
}

// ExtendLock pushes the lock expiry of task to now + d.
func (c *Client) ExtendLock(ctx context.Context, task tasks.ExternalTask, d time.Duration) error {
	_, err := c.post(ctx, "extendLock", "/external-task/{id}/extendLock",
		map[string]string{"id": task.ID},
		extendLockRequest{WorkerID: c.workerID, NewDuration: d.Milliseconds()},
		nil, c.requestTimeout)
	return err
}

// ErrUnknownOutcome is returned by Report for an outcome without a kind.
var ErrUnknownOutcome = errors.New("unknown outcome kind")

// Report sends outcome to the endpoint matching its kind.
func (c *Client) Report(ctx context.Context, task tasks.ExternalTask, outcome tasks.Outcome) error {
	switch outcome.Kind {
	case tasks.OutcomeCompleted:
		return c.Complete(ctx, task, outcome.Variables)
	case tasks.OutcomeFailed:
		return c.Fail(ctx, task, outcome.ErrorMessage, outcome.ErrorDetails,
			outcome.Retries, outcome.RetryTimeout.Milliseconds())
	case tasks.OutcomeBusinessError:
		return c.HandleBPMNError(ctx, task, outcome.ErrorCode, outcome.ErrorMessage, outcome.Variables)
	default:
		return fmt.Errorf("report task %s: %w", task.ID, ErrUnknownOutcome)
	}
}
