package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-relay/core"
)

// ErrQueueClosed is returned by LocalQueue once Close has been called.
var ErrQueueClosed = errors.New("gojob: queue closed")

// RetryBounds caps how long and how often a relay job is retried.
type RetryBounds struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// Clamp applies the bounds to a nack for the given attempt. A nack that
// neither requeues nor dead-letters is turned into a requeue so jobs are
// never silently dropped.
func (b RetryBounds) Clamp(opts core.JobNackOptions, attempt int) core.JobNackOptions {
	opts.Reason = strings.TrimSpace(opts.Reason)
	opts.Delay = max(opts.Delay, 0)
	if b.MaxDelay > 0 {
		opts.Delay = min(opts.Delay, b.MaxDelay)
	}
	exhausted := b.MaxAttempts > 0 && attempt >= b.MaxAttempts
	switch {
	case opts.DeadLetter:
		opts.Requeue = false
	case exhausted:
		opts.Requeue = false
		opts.DeadLetter = b.DeadLetterOnMax
	}
	if !opts.Requeue && !opts.DeadLetter && !exhausted {
		opts.Requeue = true
	}
	return opts
}

// Publisher puts relay jobs on a go-job queue.
type Publisher struct {
	enqueuer queue.Enqueuer
}

func NewPublisher(enqueuer queue.Enqueuer) *Publisher {
	return &Publisher{enqueuer: enqueuer}
}

func (p *Publisher) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if p == nil || p.enqueuer == nil {
		return fmt.Errorf("gojob: publisher has no queue")
	}
	if msg == nil {
		return core.BadInput("gojob: job message is required", nil)
	}
	encoded := EncodeJob(msg)
	if !knownJob(encoded.JobID) {
		return core.BadInput(fmt.Sprintf("gojob: unknown job %q", encoded.JobID), map[string]any{"job_id": encoded.JobID})
	}
	return p.enqueuer.Enqueue(ctx, encoded)
}

// Consumer pulls relay jobs off a go-job queue. Nacks on its deliveries go
// through the configured RetryBounds.
type Consumer struct {
	dequeuer queue.Dequeuer
	bounds   RetryBounds
}

func NewConsumer(dequeuer queue.Dequeuer, bounds RetryBounds) *Consumer {
	return &Consumer{dequeuer: dequeuer, bounds: bounds}
}

func (c *Consumer) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if c == nil || c.dequeuer == nil {
		return nil, fmt.Errorf("gojob: consumer has no queue")
	}
	delivery, err := c.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	return &consumedJob{delivery: delivery, bounds: c.bounds}, nil
}

type consumedJob struct {
	delivery queue.Delivery
	bounds   RetryBounds
}

func (j *consumedJob) Message() *core.JobExecutionMessage {
	return DecodeJob(j.delivery.Message())
}

func (j *consumedJob) Ack(ctx context.Context) error {
	return j.delivery.Ack(ctx)
}

func (j *consumedJob) Nack(ctx context.Context, opts core.JobNackOptions) error {
	return j.NackAttempt(ctx, opts, 0)
}

// NackAttempt nacks with the attempt count known to the caller so the
// MaxAttempts bound can apply.
func (j *consumedJob) NackAttempt(ctx context.Context, opts core.JobNackOptions, attempt int) error {
	opts = j.bounds.Clamp(opts, attempt)
	return j.delivery.Nack(ctx, queue.NackOptions{
		Delay:      opts.Delay,
		Requeue:    opts.Requeue,
		DeadLetter: opts.DeadLetter,
		Reason:     opts.Reason,
	})
}

// DeadLetter is a job the queue gave up on.
type DeadLetter struct {
	Message *job.ExecutionMessage
	Reason  string
	At      time.Time
}

// LocalQueue is an in-process go-job queue for a single relay process.
// Pending jobs sharing an idempotency key follow their dedup policy: "drop"
// keeps the queued job, "merge" overwrites its parameters.
type LocalQueue struct {
	mu      sync.Mutex
	pending []*job.ExecutionMessage
	dead    []DeadLetter
	timers  map[*time.Timer]struct{}
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func NewLocalQueue() *LocalQueue {
	return &LocalQueue{
		timers: map[*time.Timer]struct{}{},
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *LocalQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return fmt.Errorf("gojob: nil execution message")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		for _, queued := range q.pending {
			if queued.IdempotencyKey != key {
				continue
			}
			if strings.EqualFold(string(msg.DedupPolicy), dedupMerge) {
				queued.Parameters = cloneParams(msg.Parameters)
			}
			return nil
		}
	}
	q.pending = append(q.pending, msg)
	q.signal()
	return nil
}

// Dequeue blocks until a job is pending, ctx ends, or the queue closes.
func (q *LocalQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			msg := q.pending[0]
			q.pending = q.pending[1:]
			if len(q.pending) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return &localDelivery{queue: q, msg: msg}, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
		case <-q.wake:
		}
	}
}

// Len reports pending jobs; delayed retries are not counted until due.
func (q *LocalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *LocalQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

// Close stops delayed retries and wakes blocked consumers.
func (q *LocalQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = nil
	close(q.done)
	return nil
}

func (q *LocalQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *LocalQueue) requeue(msg *job.ExecutionMessage, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if delay <= 0 {
		q.pending = append(q.pending, msg)
		q.signal()
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		q.requeue(msg, 0)
	})
	q.timers[timer] = struct{}{}
}

func (q *LocalQueue) bury(msg *job.ExecutionMessage, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, DeadLetter{Message: msg, Reason: reason, At: time.Now().UTC()})
}

type localDelivery struct {
	queue   *LocalQueue
	msg     *job.ExecutionMessage
	mu      sync.Mutex
	settled bool
}

func (d *localDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *localDelivery) Ack(context.Context) error {
	return d.settle()
}

func (d *localDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	if err := d.settle(); err != nil {
		return err
	}
	switch {
	case opts.DeadLetter:
		d.queue.bury(d.msg, opts.Reason)
	case opts.Requeue:
		d.queue.requeue(d.msg, opts.Delay)
	}
	return nil
}

func (d *localDelivery) settle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return fmt.Errorf("gojob: delivery for %q already settled", d.msg.JobID)
	}
	d.settled = true
	return nil
}

var (
	_ core.JobEnqueuer = (*Publisher)(nil)
	_ core.JobDequeuer = (*Consumer)(nil)
	_ core.JobDelivery = (*consumedJob)(nil)
	_ queue.Enqueuer   = (*LocalQueue)(nil)
	_ queue.Dequeuer   = (*LocalQueue)(nil)
	_ queue.Delivery   = (*localDelivery)(nil)
)
