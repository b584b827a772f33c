// Package metrics provides metrics recording for remote completions and session recovery.
package metrics

import "time"

// Recorder defines the interface for recording exchange metrics.
type Recorder interface {
	// ObserveRequest records metrics for a completed remote request.
	ObserveRequest(
		model, sessionID string,
		promptTokens, completionTokens int,
		cost float64,
		success bool,
		errorType string,
		duration time.Duration,
	)

	// IncThrottle increments the throttle counter for rate limiting events.
	IncThrottle(model, reason string)

	// ObserveQueueWait records time spent waiting for rate limit availability.
	ObserveQueueWait(model string, duration time.Duration)

	// IncEviction counts history spans evicted to recover from capacity rejections.
	IncEviction(model string, turns int)

	// IncRegeneration counts regenerated replies, labelled by reason.
	IncRegeneration(model, reason string)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveRequest does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveRequest(_, _ string, _, _ int, _ float64, _ bool, _ string, _ time.Duration) {
}

// IncThrottle does nothing in the no-op recorder.
func (n *NoopRecorder) IncThrottle(_, _ string) {}

// ObserveQueueWait does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveQueueWait(_ string, _ time.Duration) {}

// IncEviction does nothing in the no-op recorder.
func (n *NoopRecorder) IncEviction(_ string, _ int) {}

// IncRegeneration does nothing in the no-op recorder.
func (n *NoopRecorder) IncRegeneration(_, _ string) {}
