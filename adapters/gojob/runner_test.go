package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/twilio"
)

func TestRunner_StatusWaitAcksOnFinalStatus(t *testing.T) {
	waiter := &stubWaiter{results: []waitResult{{msg: twilio.Message{SID: "SM1", Status: twilio.StatusDelivered}}}}
	hook := &countingHook{}
	runner := NewRunner(waiter, RetryBounds{MaxAttempts: 3})
	runner.Hook = hook

	delivery := &coreDelivery{msg: StatusWaitJob("SM1", twilio.StatusWaitOptions{Timeout: 5 * time.Second, PollInterval: time.Second})}
	if err := runner.Process(context.Background(), delivery); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !delivery.acked {
		t.Fatalf("expected ack")
	}
	if waiter.lastSID != "SM1" || waiter.lastOpts.Timeout != 5*time.Second || waiter.lastOpts.PollInterval != time.Second {
		t.Fatalf("unexpected wait call %q %#v", waiter.lastSID, waiter.lastOpts)
	}
	if hook.starts != 1 || hook.successes != 1 {
		t.Fatalf("expected start and success hooks, got %+v", hook)
	}
}

func TestRunner_FailedDeliveryIsAnOutcome(t *testing.T) {
	waiter := &stubWaiter{results: []waitResult{{err: &twilio.DeliveryError{SID: "SM1", Status: "undelivered", ErrorCode: 63016}}}}
	runner := NewRunner(waiter, RetryBounds{})
	delivery := &coreDelivery{msg: StatusWaitJob("SM1", twilio.StatusWaitOptions{})}
	if err := runner.Process(context.Background(), delivery); err != nil {
		t.Fatalf("expected failed delivery to complete the job, got %v", err)
	}
	if !delivery.acked {
		t.Fatalf("expected ack for settled message")
	}
}

func TestRunner_TimeoutRequeuesUntilMaxAttempts(t *testing.T) {
	timeout := core.ErrStatusTimeout
	waiter := &stubWaiter{results: []waitResult{{err: timeout}, {err: timeout}}}
	hook := &countingHook{}
	runner := NewRunner(waiter, RetryBounds{MaxAttempts: 2, MaxDelay: 10 * time.Second, DeadLetterOnMax: true})
	runner.Hook = hook
	msg := StatusWaitJob("SM1", twilio.StatusWaitOptions{})

	first := &coreDelivery{msg: msg}
	if err := runner.Process(context.Background(), first); !errors.Is(err, timeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if !first.nacked || !first.nackOpts.Requeue || first.nackOpts.Delay != time.Second {
		t.Fatalf("expected requeue with initial backoff, got %+v", first.nackOpts)
	}

	second := &coreDelivery{msg: msg}
	if err := runner.Process(context.Background(), second); !errors.Is(err, timeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if second.nackOpts.Requeue || !second.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %+v", second.nackOpts)
	}
	if hook.retries != 1 || hook.failures != 1 {
		t.Fatalf("expected one retry and one failure hook, got %+v", hook)
	}
}

func TestRunner_BadInputIsDeadLettered(t *testing.T) {
	runner := NewRunner(&stubWaiter{}, RetryBounds{MaxAttempts: 5})

	missingSID := &coreDelivery{msg: &core.JobExecutionMessage{JobID: JobIDStatusWait}}
	if err := runner.Process(context.Background(), missingSID); err == nil {
		t.Fatalf("expected bad input error")
	}
	if !missingSID.nackOpts.DeadLetter || missingSID.nackOpts.Requeue {
		t.Fatalf("expected dead letter, got %+v", missingSID.nackOpts)
	}

	unknown := &coreDelivery{msg: &core.JobExecutionMessage{JobID: "relay.unknown"}}
	if err := runner.Process(context.Background(), unknown); err == nil || !unknown.nackOpts.DeadLetter {
		t.Fatalf("expected unknown job to be dead-lettered, got %v %+v", err, unknown.nackOpts)
	}
}

func TestRunner_DeliveryPruneUsesRetention(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	pruner := &stubPruner{removed: 4}
	runner := NewRunner(nil, RetryBounds{})
	runner.Pruner = pruner
	runner.Now = func() time.Time { return now }

	dequeuer := &coreDequeuer{delivery: &coreDelivery{msg: DeliveryPruneJob(48 * time.Hour)}}
	if err := runner.ProcessNext(context.Background(), dequeuer); err != nil {
		t.Fatalf("process prune: %v", err)
	}
	if !pruner.cutoff.Equal(now.Add(-48 * time.Hour)) {
		t.Fatalf("unexpected cutoff %s", pruner.cutoff)
	}
	if !dequeuer.delivery.acked {
		t.Fatalf("expected prune job ack")
	}
}

func TestMillisAcceptsDecodedNumbers(t *testing.T) {
	cases := map[string]any{"int": 1500, "int64": int64(1500), "float": float64(1500), "string": "1500"}
	for name, value := range cases {
		if got := millis(value); got != 1500*time.Millisecond {
			t.Fatalf("%s: expected 1.5s, got %s", name, got)
		}
	}
	if millis(nil) != 0 {
		t.Fatalf("expected zero for missing value")
	}
}

type waitResult struct {
	msg twilio.Message
	err error
}

type stubWaiter struct {
	results  []waitResult
	calls    int
	lastSID  string
	lastOpts twilio.StatusWaitOptions
}

func (s *stubWaiter) WaitForFinalStatus(_ context.Context, sid string, opts twilio.StatusWaitOptions) (twilio.Message, error) {
	s.lastSID = sid
	s.lastOpts = opts
	if s.calls >= len(s.results) {
		return twilio.Message{SID: sid, Status: twilio.StatusDelivered}, nil
	}
	result := s.results[s.calls]
	s.calls++
	return result.msg, result.err
}

type stubPruner struct {
	cutoff  time.Time
	removed int64
}

func (s *stubPruner) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return s.removed, nil
}

type coreDelivery struct {
	msg      *core.JobExecutionMessage
	acked    bool
	nacked   bool
	nackOpts core.JobNackOptions
}

func (d *coreDelivery) Message() *core.JobExecutionMessage { return d.msg }

func (d *coreDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *coreDelivery) Nack(_ context.Context, opts core.JobNackOptions) error {
	d.nacked = true
	d.nackOpts = opts
	return nil
}

type coreDequeuer struct {
	delivery *coreDelivery
}

func (d *coreDequeuer) Dequeue(context.Context) (core.JobDelivery, error) {
	return d.delivery, nil
}

type countingHook struct {
	starts, successes, failures, retries int
}

func (h *countingHook) OnStart(context.Context, core.JobWorkerEvent)   { h.starts++ }
func (h *countingHook) OnSuccess(context.Context, core.JobWorkerEvent) { h.successes++ }
func (h *countingHook) OnFailure(context.Context, core.JobWorkerEvent) { h.failures++ }
func (h *countingHook) OnRetry(context.Context, core.JobWorkerEvent)   { h.retries++ }
