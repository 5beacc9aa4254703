// Package webhooks verifies and dispatches inbound provider callbacks.
//
// Deliveries move through a claim lifecycle:
// pending/retry_ready -> processing -> processed|dead.
// A delivery is handled at most once while processed, and a failed claim
// becomes claimable again after its retry delay.
package webhooks
