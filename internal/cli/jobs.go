package cli

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-relay/adapters/gojob"
	"github.com/goliatone/go-relay/adapters/gologger"
	"github.com/goliatone/go-relay/core"
)

const defaultDeliveryRetention = 72 * time.Hour

var pruneBounds = gojob.RetryBounds{
	MaxAttempts:     3,
	MaxDelay:        time.Minute,
	DeadLetterOnMax: true,
}

// startPruning schedules a delivery prune job every interval and runs it on
// an in-process queue. The returned stop drains the worker.
func (a *app) startPruning(ctx context.Context, every time.Duration, retention time.Duration) (func(), error) {
	if a.repos == nil || a.repos.DeliveryStore() == nil {
		return nil, core.BadInput("webhook --prune-every needs store.driver configured", nil)
	}
	if retention <= 0 {
		return nil, core.BadInput("webhook --retention must be positive", map[string]any{"retention": retention.String()})
	}

	q := gojob.NewLocalQueue()
	publisher := gojob.NewPublisher(q)
	runner := gojob.NewRunner(a.messenger, pruneBounds)
	runner.Pruner = a.repos.DeliveryStore()
	runner.Logger = gologger.Component(gologger.JobsLoggerName, gologger.NewSlogProvider(a.logger), nil)

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Go(func() {
		if err := runner.Run(ctx, gojob.NewConsumer(q, pruneBounds)); err != nil {
			runner.Logger.Error("job runner stopped", "error", err)
		}
	})
	wg.Go(func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			if err := publisher.Enqueue(ctx, gojob.DeliveryPruneJob(retention)); err != nil {
				runner.Logger.Warn("prune job not scheduled", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})

	return func() {
		cancel()
		_ = q.Close()
		wg.Wait()
	}, nil
}
