package gojob

import (
	"strings"
	"time"

	job "github.com/goliatone/go-job"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/twilio"
)

const (
	JobIDStatusWait    = "relay.message.status_wait"
	JobIDDeliveryPrune = "relay.webhook.delivery_prune"
)

const (
	dedupDrop  = "drop"
	dedupMerge = "merge"
)

// StatusWaitJob builds a job that follows one message until a terminal
// status. Jobs for the same SID share an idempotency key.
func StatusWaitJob(sid string, opts twilio.StatusWaitOptions) *core.JobExecutionMessage {
	sid = strings.TrimSpace(sid)
	return &core.JobExecutionMessage{
		JobID: JobIDStatusWait,
		Parameters: map[string]any{
			"sid":              sid,
			"timeout_ms":       opts.Timeout.Milliseconds(),
			"poll_interval_ms": opts.PollInterval.Milliseconds(),
		},
		IdempotencyKey: "status_wait:" + sid,
		DedupPolicy:    dedupDrop,
	}
}

// DeliveryPruneJob builds a job that drops settled webhook deliveries older
// than the retention window. Only one prune is ever pending; a newer one
// replaces its parameters.
func DeliveryPruneJob(retention time.Duration) *core.JobExecutionMessage {
	return &core.JobExecutionMessage{
		JobID: JobIDDeliveryPrune,
		Parameters: map[string]any{
			"retention_ms": retention.Milliseconds(),
		},
		IdempotencyKey: JobIDDeliveryPrune,
		DedupPolicy:    dedupMerge,
	}
}

// EncodeJob turns a relay job into the go-job wire message. Relay jobs have
// no script body, so the script path carries the job id.
func EncodeJob(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	id := strings.TrimSpace(msg.JobID)
	script := strings.TrimSpace(msg.ScriptPath)
	if script == "" {
		script = id
	}
	return &job.ExecutionMessage{
		JobID:          id,
		ScriptPath:     script,
		Parameters:     cloneParams(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}
}

// DecodeJob is the inverse of EncodeJob. A message without a job id falls
// back to its script path.
func DecodeJob(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	id := strings.TrimSpace(msg.JobID)
	if id == "" {
		id = strings.TrimSpace(msg.ScriptPath)
	}
	return &core.JobExecutionMessage{
		JobID:          id,
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     cloneParams(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

func knownJob(id string) bool {
	switch id {
	case JobIDStatusWait, JobIDDeliveryPrune:
		return true
	}
	return false
}

func cloneParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
