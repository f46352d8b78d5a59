package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	AuthCacheHits        uint64
	AuthCacheMisses      uint64
	RelayRequests        uint64
	RelayDurationCount   uint64
	RelayDurationTotalNs int64
	DebitsOK             uint64
	DebitsInsufficient   uint64
	JournalPublished     uint64
	JournalDropped       uint64
	JournalProcessed     uint64
	JournalFailed        uint64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	authCacheHits        uint64
	authCacheMisses      uint64
	relayRequests        uint64
	relayDurationCount   uint64
	relayDurationTotalNs int64
	debitsOK             uint64
	debitsInsufficient   uint64
	journalPublished     uint64
	journalDropped       uint64
	journalProcessed     uint64
	journalFailed        uint64
	journalQueueDepth    int64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		AuthCacheHits:        atomic.LoadUint64(&m.authCacheHits),
		AuthCacheMisses:      atomic.LoadUint64(&m.authCacheMisses),
		RelayRequests:        atomic.LoadUint64(&m.relayRequests),
		RelayDurationCount:   atomic.LoadUint64(&m.relayDurationCount),
		RelayDurationTotalNs: atomic.LoadInt64(&m.relayDurationTotalNs),
		DebitsOK:             atomic.LoadUint64(&m.debitsOK),
		DebitsInsufficient:   atomic.LoadUint64(&m.debitsInsufficient),
		JournalPublished:     atomic.LoadUint64(&m.journalPublished),
		JournalDropped:       atomic.LoadUint64(&m.journalDropped),
		JournalProcessed:     atomic.LoadUint64(&m.journalProcessed),
		JournalFailed:        atomic.LoadUint64(&m.journalFailed),
	}
}

// IncAuthCacheHit increments the auth cache hit counter.
func (m *InMemoryRecorder) IncAuthCacheHit() {
	atomic.AddUint64(&m.authCacheHits, 1)
}

// IncAuthCacheMiss increments the auth cache miss counter.
func (m *InMemoryRecorder) IncAuthCacheMiss() {
	atomic.AddUint64(&m.authCacheMisses, 1)
}

// IncRelayRequest increments the relay request counter.
func (m *InMemoryRecorder) IncRelayRequest(provider string) {
	atomic.AddUint64(&m.relayRequests, 1)
}

// ObserveRelayDuration records a relay duration.
func (m *InMemoryRecorder) ObserveRelayDuration(duration time.Duration) {
	atomic.AddUint64(&m.relayDurationCount, 1)
	atomic.AddInt64(&m.relayDurationTotalNs, duration.Nanoseconds())
}

// IncDebit increments the debit outcome counter.
func (m *InMemoryRecorder) IncDebit(outcome string) {
	if outcome == "ok" {
		atomic.AddUint64(&m.debitsOK, 1)
		return
	}
	atomic.AddUint64(&m.debitsInsufficient, 1)
}

// IncJournalPublished increments the journal publish counter.
func (m *InMemoryRecorder) IncJournalPublished(status string) {
	if status == "success" {
		atomic.AddUint64(&m.journalPublished, 1)
		return
	}
	atomic.AddUint64(&m.journalDropped, 1)
}

// IncJournalProcessed increments the journal processing counter.
func (m *InMemoryRecorder) IncJournalProcessed(status string) {
	if status == "success" {
		atomic.AddUint64(&m.journalProcessed, 1)
		return
	}
	atomic.AddUint64(&m.journalFailed, 1)
}

// ObserveJournalBatchSize is recorded only as a processed counter here.
func (m *InMemoryRecorder) ObserveJournalBatchSize(size int) {}

// SetJournalQueueDepth records the current journal queue depth.
func (m *InMemoryRecorder) SetJournalQueueDepth(depth int64) {
	atomic.StoreInt64(&m.journalQueueDepth, depth)
}
