package gojob

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/twilio"
	"github.com/goliatone/go-relay/webhooks"
)

type StatusWaiter interface {
	WaitForFinalStatus(ctx context.Context, sid string, opts twilio.StatusWaitOptions) (twilio.Message, error)
}

type DeliveryPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Runner executes relay jobs pulled from a queue. Failed deliveries are
// nacked with a backoff delay capped by Bounds; bad input is dead-lettered.
type Runner struct {
	Waiter  StatusWaiter
	Pruner  DeliveryPruner
	Bounds  RetryBounds
	Backoff webhooks.RetryPolicy
	Hook    core.JobWorkerHook
	Logger  glog.Logger
	Now     func() time.Time

	mu       sync.Mutex
	attempts map[string]int
}

func NewRunner(waiter StatusWaiter, bounds RetryBounds) *Runner {
	return &Runner{
		Waiter:   waiter,
		Bounds:   bounds,
		Backoff:  webhooks.ExponentialRetryPolicy{},
		Logger:   glog.Nop(),
		attempts: map[string]int{},
	}
}

// Run processes jobs until ctx ends or the queue closes. Job failures are
// settled on their delivery and logged; only dequeue errors stop the loop.
func (r *Runner) Run(ctx context.Context, dequeuer core.JobDequeuer) error {
	if r == nil {
		return fmt.Errorf("gojob: runner is not configured")
	}
	if dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is required")
	}
	for {
		delivery, err := dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return nil
			}
			return err
		}
		if err := r.Process(ctx, delivery); err != nil {
			r.logger().Debug("relay job settled with error", "error", err)
		}
	}
}

func (r *Runner) ProcessNext(ctx context.Context, dequeuer core.JobDequeuer) error {
	if r == nil {
		return fmt.Errorf("gojob: runner is not configured")
	}
	if dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is required")
	}
	delivery, err := dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	return r.Process(ctx, delivery)
}

func (r *Runner) Process(ctx context.Context, delivery core.JobDelivery) error {
	if r == nil {
		return fmt.Errorf("gojob: runner is not configured")
	}
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	msg := delivery.Message()
	if msg == nil {
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: "empty job message"})
	}

	key := attemptKey(msg)
	attempt := r.nextAttempt(key)
	event := core.JobWorkerEvent{Message: msg, Attempt: attempt, StartedAt: r.now()}
	r.hookStart(ctx, event)

	err := r.execute(ctx, msg)
	event.Duration = r.now().Sub(event.StartedAt)
	if err == nil {
		r.resetAttempts(key)
		r.hookSuccess(ctx, event)
		return delivery.Ack(ctx)
	}
	event.Err = err

	if !retryable(err) {
		r.resetAttempts(key)
		r.logger().Warn("relay job dead-lettered", "job_id", msg.JobID, "attempt", attempt, "error", err)
		r.hookFailure(ctx, event)
		if nackErr := delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: err.Error()}); nackErr != nil {
			return errors.Join(err, nackErr)
		}
		return err
	}

	opts := r.Bounds.Clamp(core.JobNackOptions{
		Delay:   r.backoff().NextDelay(attempt),
		Requeue: true,
		Reason:  err.Error(),
	}, attempt)
	event.Delay = opts.Delay
	if opts.Requeue {
		r.logger().Info("relay job retry scheduled", "job_id", msg.JobID, "attempt", attempt, "delay", opts.Delay.String())
		r.hookRetry(ctx, event)
	} else {
		r.resetAttempts(key)
		r.logger().Warn("relay job gave up", "job_id", msg.JobID, "attempt", attempt, "error", err)
		r.hookFailure(ctx, event)
	}
	if nackErr := nackAttempt(ctx, delivery, opts, attempt); nackErr != nil {
		return errors.Join(err, nackErr)
	}
	return err
}

// attemptNacker is implemented by deliveries that apply their own bounds and
// need the attempt count to do so.
type attemptNacker interface {
	NackAttempt(ctx context.Context, opts core.JobNackOptions, attempt int) error
}

func nackAttempt(ctx context.Context, delivery core.JobDelivery, opts core.JobNackOptions, attempt int) error {
	if nacker, ok := delivery.(attemptNacker); ok {
		return nacker.NackAttempt(ctx, opts, attempt)
	}
	return delivery.Nack(ctx, opts)
}

func (r *Runner) execute(ctx context.Context, msg *core.JobExecutionMessage) error {
	switch strings.TrimSpace(msg.JobID) {
	case JobIDStatusWait:
		return r.runStatusWait(ctx, msg)
	case JobIDDeliveryPrune:
		return r.runDeliveryPrune(ctx, msg)
	default:
		return core.BadInput(fmt.Sprintf("gojob: unknown job %q", msg.JobID), map[string]any{"job_id": msg.JobID})
	}
}

func (r *Runner) runStatusWait(ctx context.Context, msg *core.JobExecutionMessage) error {
	if r.Waiter == nil {
		return fmt.Errorf("gojob: status waiter is not configured")
	}
	sid := strings.TrimSpace(fmt.Sprint(msg.Parameters["sid"]))
	if sid == "" || sid == "<nil>" {
		return core.BadInput("gojob: status wait job requires a message sid", nil)
	}
	opts := twilio.StatusWaitOptions{
		Timeout:      millis(msg.Parameters["timeout_ms"]),
		PollInterval: millis(msg.Parameters["poll_interval_ms"]),
	}
	result, err := r.Waiter.WaitForFinalStatus(ctx, sid, opts)
	var delivery *twilio.DeliveryError
	if errors.As(err, &delivery) {
		// The message settled; a failed status is an outcome, not a job failure.
		r.logger().Warn("message delivery failed", "sid", sid, "status", delivery.Status, "error_code", delivery.ErrorCode)
		return nil
	}
	if err != nil {
		return err
	}
	r.logger().Info("message reached final status", "sid", sid, "status", result.Status)
	return nil
}

func (r *Runner) runDeliveryPrune(ctx context.Context, msg *core.JobExecutionMessage) error {
	if r.Pruner == nil {
		return fmt.Errorf("gojob: delivery pruner is not configured")
	}
	retention := millis(msg.Parameters["retention_ms"])
	if retention <= 0 {
		return core.BadInput("gojob: prune job requires a positive retention", nil)
	}
	removed, err := r.Pruner.Prune(ctx, r.now().Add(-retention))
	if err != nil {
		return err
	}
	r.logger().Info("pruned webhook deliveries", "removed", removed)
	return nil
}

func retryable(err error) bool {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		switch rich.Category {
		case goerrors.CategoryBadInput, goerrors.CategoryValidation, goerrors.CategoryAuth, goerrors.CategoryAuthz, goerrors.CategoryNotFound:
			return false
		}
	}
	return true
}

func millis(value any) time.Duration {
	switch v := value.(type) {
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v) * time.Millisecond
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return 0
}

func attemptKey(msg *core.JobExecutionMessage) string {
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	return strings.TrimSpace(msg.JobID) + ":" + fmt.Sprint(msg.Parameters["sid"])
}

func (r *Runner) nextAttempt(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempts == nil {
		r.attempts = map[string]int{}
	}
	r.attempts[key]++
	return r.attempts[key]
}

func (r *Runner) resetAttempts(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attempts, key)
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Runner) backoff() webhooks.RetryPolicy {
	if r.Backoff == nil {
		return webhooks.ExponentialRetryPolicy{}
	}
	return r.Backoff
}

func (r *Runner) logger() glog.Logger {
	return glog.Ensure(r.Logger)
}

func (r *Runner) hookStart(ctx context.Context, event core.JobWorkerEvent) {
	if r.Hook != nil {
		r.Hook.OnStart(ctx, event)
	}
}

func (r *Runner) hookSuccess(ctx context.Context, event core.JobWorkerEvent) {
	if r.Hook != nil {
		r.Hook.OnSuccess(ctx, event)
	}
}

func (r *Runner) hookFailure(ctx context.Context, event core.JobWorkerEvent) {
	if r.Hook != nil {
		r.Hook.OnFailure(ctx, event)
	}
}

func (r *Runner) hookRetry(ctx context.Context, event core.JobWorkerEvent) {
	if r.Hook != nil {
		r.Hook.OnRetry(ctx, event)
	}
}
