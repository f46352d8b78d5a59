package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncAuthCacheHit is a no-op.
func (n *NoopRecorder) IncAuthCacheHit() {}

// IncAuthCacheMiss is a no-op.
func (n *NoopRecorder) IncAuthCacheMiss() {}

// IncRelayRequest is a no-op.
func (n *NoopRecorder) IncRelayRequest(provider string) {}

// ObserveRelayDuration is a no-op.
func (n *NoopRecorder) ObserveRelayDuration(duration time.Duration) {}

// IncDebit is a no-op.
func (n *NoopRecorder) IncDebit(outcome string) {}

// IncJournalPublished is a no-op.
func (n *NoopRecorder) IncJournalPublished(status string) {}

// IncJournalProcessed is a no-op.
func (n *NoopRecorder) IncJournalProcessed(status string) {}

// ObserveJournalBatchSize is a no-op.
func (n *NoopRecorder) ObserveJournalBatchSize(size int) {}

// SetJournalQueueDepth is a no-op.
func (n *NoopRecorder) SetJournalQueueDepth(depth int64) {}
