// Package observer defines metrics hooks for sandbox execution.
package observer

import "context"

// MetricsRecorder records sandbox metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, language string, ok bool, wallMs int64)
	ObserveRun(ctx context.Context, language string, outcome string, wallMs int64)
	ObserveRejected(ctx context.Context, language string, reason string)
	ObserveQueueWait(ctx context.Context, waitMs int64, acquired bool)
}

// NoopMetricsRecorder discards all observations.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveCompile(context.Context, string, bool, int64) {}
func (NoopMetricsRecorder) ObserveRun(context.Context, string, string, int64)   {}
func (NoopMetricsRecorder) ObserveRejected(context.Context, string, string)     {}
func (NoopMetricsRecorder) ObserveQueueWait(context.Context, int64, bool)       {}
