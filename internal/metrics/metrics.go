// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Auth metrics
	IncAuthCacheHit()
	IncAuthCacheMiss()

	// Relay metrics
	IncRelayRequest(provider string)
	ObserveRelayDuration(duration time.Duration)
	IncDebit(outcome string) // outcome: "ok" or "insufficient"

	// Usage journal pipeline metrics
	IncJournalPublished(status string) // status: "success" or "dropped"
	IncJournalProcessed(status string) // status: "success", "failed", "skipped"
	ObserveJournalBatchSize(size int)
	SetJournalQueueDepth(depth int64)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
