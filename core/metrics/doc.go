// Package metrics defines the recording interfaces the orchestrator emits
// observations through. Sink receives every merged snapshot; the optional
// capabilities (TickRecorder, PerturbationRecorder, SessionEventRecorder,
// DropRecorder, SubscriberRecorder) are discovered by type assertion so a
// backend implements only what it can store. Implementations live under
// infra/metrics and can be combined with NewMultiSink.
package metrics
