// Package metrics records heartbeat pipeline counters.
package metrics

import "time"

// Drop reasons reported to HeartbeatDropped.
const (
	DropOverflow  = "overflow"
	DropExhausted = "exhausted"
	DropPermanent = "permanent"
	DropShutdown  = "shutdown"
)

// Collector receives pipeline events. Implementations must be safe for
// concurrent use and must not block.
type Collector interface {
	// NotificationDropped records an editor notification dropped because
	// the front-end channel was full.
	NotificationDropped()

	// HeartbeatDecided records a throttle decision.
	HeartbeatDecided(sent, forced bool)

	// HeartbeatDropped records a heartbeat that will never be uploaded.
	HeartbeatDropped(reason string)

	// UploadCompleted records one uploader invocation by outcome kind.
	UploadCompleted(kind string, duration time.Duration)

	// UploadRetried records a ticket scheduled for another attempt.
	UploadRetried()

	// QueueDepth records the number of tickets waiting for a worker.
	QueueDepth(n int)
}

// Nop discards all metrics.
type Nop struct{}

var _ Collector = Nop{}

// NotificationDropped implements Collector.
func (Nop) NotificationDropped() {}

// HeartbeatDecided implements Collector.
func (Nop) HeartbeatDecided(_, _ bool) {}

// HeartbeatDropped implements Collector.
func (Nop) HeartbeatDropped(_ string) {}

// UploadCompleted implements Collector.
func (Nop) UploadCompleted(_ string, _ time.Duration) {}

// UploadRetried implements Collector.
func (Nop) UploadRetried() {}

// QueueDepth implements Collector.
func (Nop) QueueDepth(_ int) {}
