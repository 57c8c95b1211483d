package worker

import (
	"context"
	"errors"
	"time"

	"github.com/guido-cesarano/claimworker/pkg/logger"
	"github.com/guido-cesarano/claimworker/pkg/tasks"
	"github.com/rs/zerolog"
)

// Reporter acknowledges an outcome to the engine. *engine.Client implements it.
type Reporter interface {
	Report(ctx context.Context, task tasks.ExternalTask, outcome tasks.Outcome) error
}

// LockExtender pushes a task lock forward. *engine.Client implements it.
type LockExtender interface {
	ExtendLock(ctx context.Context, task tasks.ExternalTask, d time.Duration) error
}

// Journal remembers which fetched task instances already had an outcome
// reported. Both calls are best-effort; errors are handled internally.
type Journal interface {
	// Claim returns false when the instance was claimed before.
	Claim(ctx context.Context, task tasks.ExternalTask) (bool, error)
	Record(ctx context.Context, task tasks.ExternalTask, outcome tasks.Outcome, reportErr error)
}

// Result describes one pass through the template. ReportErr is the
// best-effort acknowledgement failure: logged, recorded, never returned as
// an error, since the engine redelivers the task once its lock expires.
type Result struct {
	Outcome   tasks.Outcome
	ReportErr error
	Skipped   bool
	Duration  time.Duration
}

// Acknowledged reports whether the engine accepted the outcome.
func (r Result) Acknowledged() bool {
	return !r.Skipped && r.ReportErr == nil
}

// Runner executes handlers through the fixed template:
// log start, execute, report exactly one outcome, log the result.
type Runner struct {
	reporter  Reporter
	journal   Journal
	extender  LockExtender
	extension time.Duration
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithJournal guards against reporting the same fetched instance twice.
func WithJournal(j Journal) RunnerOption {
	return func(r *Runner) { r.journal = j }
}

// WithLockExtension keeps the lock of a long running task alive: every d/2
// while the handler executes, the lock is pushed to now + d. A failed
// extension is logged and the handler keeps running.
func WithLockExtension(e LockExtender, d time.Duration) RunnerOption {
	return func(r *Runner) { r.extender, r.extension = e, d }
}

// NewRunner builds a Runner reporting through reporter.
func NewRunner(reporter Reporter, opts ...RunnerOption) *Runner {
	r := &Runner{reporter: reporter}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes h for task. It never panics and never returns an error.
func (r *Runner) Run(ctx context.Context, h Handler, task tasks.ExternalTask) Result {
	start := time.Now()
	log := logger.Log.With().
		Str("task_id", task.ID).
		Str("topic", task.Topic).
		Str("activity_id", task.ActivityID).
		Str("business_key", task.BusinessKey).
		Logger()

	log.Info().Msg("Executing task")

	if r.journal != nil {
		claimed, err := r.journal.Claim(ctx, task)
		if err != nil {
			log.Warn().Err(err).Msg("Outcome journal unavailable, continuing without it")
		} else if !claimed {
			log.Warn().Str("instance", task.InstanceKey()).Msg("Task instance already handled, skipping")
			return Result{Skipped: true, Duration: time.Since(start)}
		}
	}

	stop := r.keepLocked(ctx, task, log)
	vars, execErr := safeExecute(ctx, h, task)
	stop()
	outcome := decide(h, task, vars, execErr)

	// Reporting outlives cancellation so shutdown does not strand results.
	reportErr := r.reporter.Report(context.WithoutCancel(ctx), task, outcome)

	if r.journal != nil {
		r.journal.Record(context.WithoutCancel(ctx), task, outcome, reportErr)
	}

	res := Result{Outcome: outcome, ReportErr: reportErr, Duration: time.Since(start)}

	switch {
	case reportErr != nil:
		log.Error().
			Err(reportErr).
			Str("outcome", outcome.Kind.String()).
			Msg("Outcome report failed, engine will redeliver after lock expiry")
	case outcome.Kind == tasks.OutcomeCompleted:
		log.Info().Dur("duration", res.Duration).Msg("Task completed")
	case outcome.Kind == tasks.OutcomeBusinessError:
		log.Warn().Str("error_code", outcome.ErrorCode).Msg("Task raised business error")
	default:
		log.Error().
			Err(execErr).
			Int("retries", outcome.Retries).
			Dur("retry_timeout", outcome.RetryTimeout).
			Msg("Task failed")
	}
	return res
}

func safeExecute(ctx context.Context, h Handler, task tasks.ExternalTask) (vars tasks.Variables, err error) {
	defer func() {
		if p := recover(); p != nil {
			vars, err = nil, &panicError{value: p}
		}
	}()
	return h.Execute(ctx, task)
}

// decide maps the business logic result onto exactly one outcome.
func decide(h Handler, task tasks.ExternalTask, vars tasks.Variables, err error) tasks.Outcome {
	if err == nil {
		return tasks.Completed(vars)
	}

	var bizErr *BusinessError
	if errors.As(err, &bizErr) {
		return tasks.BusinessFailure(bizErr.Code, bizErr.Message, bizErr.Variables)
	}

	retries, timeout := RetryPolicy(h)
	// The engine stores the retries sent with the last failure and hands them
	// back on redelivery; counting down from them ends in an incident.
	if task.Retries != nil {
		retries = max(*task.Retries-1, 0)
	}
	return tasks.Failed(err.Error(), Details(err), retries, timeout)
}

// keepLocked starts the lock heartbeat, if configured. The returned func
// stops it and waits for an extension in progress.
func (r *Runner) keepLocked(ctx context.Context, task tasks.ExternalTask, log zerolog.Logger) func() {
	if r.extender == nil || r.extension <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(r.extension / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := r.extender.ExtendLock(context.WithoutCancel(ctx), task, r.extension); err != nil {
					log.Warn().Err(err).Msg("Failed to extend task lock")
					continue
				}
				log.Debug().Dur("extension", r.extension).Msg("Extended task lock")
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
