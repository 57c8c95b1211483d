// Package dispatcher long-polls the engine for the registered topics and
// hands every fetched task to its handler through the worker template.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guido-cesarano/claimworker/pkg/config"
	"github.com/guido-cesarano/claimworker/pkg/engine"
	"github.com/guido-cesarano/claimworker/pkg/logger"
	"github.com/guido-cesarano/claimworker/pkg/metrics"
	"github.com/guido-cesarano/claimworker/pkg/tasks"
	"github.com/guido-cesarano/claimworker/pkg/worker"
	"github.com/sethvargo/go-retry"
	"github.com/slok/goresilience"
	"github.com/slok/goresilience/circuitbreaker"
	resilienceerrors "github.com/slok/goresilience/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrUnknownTopic is returned by Dispatch for a task nobody subscribed to.
var ErrUnknownTopic = errors.New("no handler registered for topic")

// Fetcher fetches and locks tasks. *engine.Client implements it.
type Fetcher interface {
	FetchAndLock(ctx context.Context, req engine.FetchRequest) ([]tasks.ExternalTask, error)
}

// Limiter is a token bucket keyed by name. *journal.Client implements it.
type Limiter interface {
	Allow(ctx context.Context, key string, rate, burst int) (bool, error)
}

// Options tunes polling and execution.
type Options struct {
	LockDuration         time.Duration
	AsyncResponseTimeout time.Duration
	MaxTasks             int
	UsePriority          bool

	// Concurrency bounds the number of tasks executing at once. A poll
	// never asks for more tasks than there are free slots.
	Concurrency int

	// PollBackoffBase and PollBackoffMax shape the wait after failed polls.
	// PollBackoffBase is also the pause after an empty batch when
	// AsyncResponseTimeout is zero.
	PollBackoffBase time.Duration
	PollBackoffMax  time.Duration

	// RateLimit (tasks/sec per topic) and RateBurst throttle execution
	// through Limiter. Zero disables throttling.
	RateLimit int
	RateBurst int
	Limiter   Limiter
}

func (o *Options) defaults() {
	if o.LockDuration <= 0 {
		o.LockDuration = config.Default().Engine.LockDuration
	}
	if o.MaxTasks <= 0 {
		o.MaxTasks = 1
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.PollBackoffBase <= 0 {
		o.PollBackoffBase = 500 * time.Millisecond
	}
	if o.PollBackoffMax < o.PollBackoffBase {
		o.PollBackoffMax = 30 * time.Second
	}
	if o.RateBurst <= 0 {
		o.RateBurst = o.RateLimit
	}
}

// Dispatcher owns the poll loop and the bounded execution pool.
type Dispatcher struct {
	fetcher  Fetcher
	runner   *worker.Runner
	registry *Registry
	opts     Options
	breaker  goresilience.Runner
	slots    *semaphore.Weighted
}

// New builds a dispatcher. Handlers must already be subscribed in registry.
func New(fetcher Fetcher, runner *worker.Runner, registry *Registry, opts Options) *Dispatcher {
	opts.defaults()
	return &Dispatcher{
		fetcher:  fetcher,
		runner:   runner,
		registry: registry,
		opts:     opts,
		breaker: goresilience.RunnerChain(circuitbreaker.NewMiddleware(circuitbreaker.Config{
			ErrorPercentThresholdToOpen:        50,
			MinimumRequestToOpen:               5,
			SuccessfulRequiredOnHalfOpen:       1,
			WaitDurationInOpenState:            15 * time.Second,
			MetricsSlidingWindowBucketQuantity: 10,
			MetricsBucketDuration:              time.Second,
		})),
		slots: semaphore.NewWeighted(int64(opts.Concurrency)),
	}
}

// Run polls until ctx is cancelled, then waits for in-flight tasks. Running
// handlers are not cancelled; they finish and report normally.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.registry.Len() == 0 {
		return &config.ConfigurationError{Reason: "no handler could be subscribed"}
	}

	subs := d.subscriptions()
	logger.Log.Info().
		Strs("topics", d.registry.Topics()).
		Int("concurrency", d.opts.Concurrency).
		Dur("lock_duration", d.opts.LockDuration).
		Msg("Dispatcher started")

	var g errgroup.Group
	backoff := d.newBackoff()

	for ctx.Err() == nil {
		n := d.acquire(ctx)
		if n == 0 {
			break
		}

		fetched, err := d.poll(ctx, subs, n)
		if unused := n - len(fetched); unused > 0 {
			d.slots.Release(int64(unused))
		}

		if err != nil {
			if ctx.Err() != nil {
				break
			}
			wait, _ := backoff.Next()
			d.logPollError(err, wait)
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
			continue
		}
		backoff = d.newBackoff()

		if len(fetched) == 0 && d.opts.AsyncResponseTimeout <= 0 {
			// no long poll: the engine answered at once, pause before asking again
			select {
			case <-ctx.Done():
			case <-time.After(d.opts.PollBackoffBase):
			}
			continue
		}

		for _, task := range fetched {
			metrics.TasksFetched.WithLabelValues(task.Topic).Inc()
			g.Go(func() error {
				defer d.slots.Release(1)
				d.handle(ctx, task)
				return nil
			})
		}
	}

	logger.Log.Info().Msg("Dispatcher stopping, waiting for in-flight tasks")
	_ = g.Wait()
	logger.Log.Info().Msg("Dispatcher stopped")
	return nil
}

// acquire blocks for one free slot, then grabs as many more as are free,
// up to MaxTasks. It returns 0 when ctx is done.
func (d *Dispatcher) acquire(ctx context.Context) int {
	if err := d.slots.Acquire(ctx, 1); err != nil {
		return 0
	}
	n := 1
	for n < d.opts.MaxTasks && d.slots.TryAcquire(1) {
		n++
	}
	return n
}

func (d *Dispatcher) subscriptions() []engine.TopicSubscription {
	topics := d.registry.Topics()
	subs := make([]engine.TopicSubscription, 0, len(topics))
	for _, t := range topics {
		subs = append(subs, engine.TopicSubscription{
			TopicName:    t,
			LockDuration: d.opts.LockDuration.Milliseconds(),
		})
	}
	return subs
}

// poll runs one fetchAndLock through the circuit breaker. Only connection
// errors count against the breaker; engine rejections do not.
func (d *Dispatcher) poll(ctx context.Context, subs []engine.TopicSubscription, n int) ([]tasks.ExternalTask, error) {
	req := engine.FetchRequest{
		MaxTasks:             n,
		UsePriority:          d.opts.UsePriority,
		AsyncResponseTimeout: d.opts.AsyncResponseTimeout.Milliseconds(),
		Topics:               subs,
	}

	var (
		fetched []tasks.ExternalTask
		appErr  error
	)
	err := d.breaker.Run(ctx, func(ctx context.Context) error {
		res, err := d.fetcher.FetchAndLock(ctx, req)
		if err != nil && engine.IsConnectionError(err) {
			return err
		}
		fetched, appErr = res, err
		return nil
	})
	if err != nil {
		return nil, err
	}
	if appErr != nil {
		return nil, appErr
	}
	if len(fetched) > n {
		// never more than the slots we hold
		logger.Log.Warn().Int("requested", n).Int("received", len(fetched)).Msg("Engine returned more tasks than requested")
		fetched = fetched[:n]
	}
	return fetched, nil
}

func (d *Dispatcher) newBackoff() retry.Backoff {
	b := retry.NewExponential(d.opts.PollBackoffBase)
	b = retry.WithCappedDuration(d.opts.PollBackoffMax, b)
	return retry.WithJitterPercent(10, b)
}

func (d *Dispatcher) logPollError(err error, wait time.Duration) {
	kind := "application"
	switch {
	case errors.Is(err, resilienceerrors.ErrCircuitOpen):
		kind = "circuit_open"
	case engine.IsConnectionError(err):
		kind = "connection"
	}
	metrics.PollErrors.WithLabelValues(kind).Inc()
	logger.Log.Error().Err(err).Str("kind", kind).Dur("retry_in", wait).Msg("Failed to fetch tasks")
}

// handle routes one fetched task. Throttling and execution ignore
// cancellation of ctx; the lock already belongs to this worker. A task whose
// lock ran out while throttled is left to the engine, which redelivers it.
func (d *Dispatcher) handle(ctx context.Context, task tasks.ExternalTask) {
	if d.opts.Limiter != nil && d.opts.RateLimit > 0 {
		d.throttle(ctx, task.Topic)
		if expiry, ok := task.LockExpiry(); ok && time.Now().After(expiry) {
			metrics.TasksProcessed.WithLabelValues("lock_expired", task.Topic).Inc()
			logger.Log.Warn().Str("task_id", task.ID).Str("topic", task.Topic).Time("lock_expiry", expiry).Msg("Lock expired while throttled, skipping task")
			return
		}
	}
	if _, err := d.Dispatch(context.WithoutCancel(ctx), task); err != nil {
		logger.Log.Error().Err(err).Str("task_id", task.ID).Str("topic", task.Topic).Msg("Dropping task")
	}
}

// Dispatch runs task through the handler registered for its topic.
func (d *Dispatcher) Dispatch(ctx context.Context, task tasks.ExternalTask) (worker.Result, error) {
	h, ok := d.registry.Lookup(task.Topic)
	if !ok {
		return worker.Result{}, fmt.Errorf("%w: %q", ErrUnknownTopic, task.Topic)
	}

	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	res := d.runner.Run(ctx, h, task)

	status := res.Outcome.Kind.String()
	switch {
	case res.Skipped:
		status = "skipped"
	case res.ReportErr != nil:
		status = "unacknowledged"
	}
	metrics.TasksProcessed.WithLabelValues(status, task.Topic).Inc()
	metrics.TaskDuration.WithLabelValues(task.Topic).Observe(res.Duration.Seconds())
	return res, nil
}

// throttle waits for a token of the topic bucket. Limiter errors fail open,
// and so does shutdown: the task is locked to us and should run.
func (d *Dispatcher) throttle(ctx context.Context, topic string) {
	key := "ratelimit:" + topic
	for {
		allowed, err := d.opts.Limiter.Allow(ctx, key, d.opts.RateLimit, d.opts.RateBurst)
		if err != nil {
			logger.Log.Warn().Err(err).Str("topic", topic).Msg("Rate limit check failed, proceeding")
			return
		}
		if allowed {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}
