// Package events defines the external-collaborator interfaces from spec §6:
// event bus, queue transport, metrics sink, notification transport, and
// fraud-signal providers. The core depends only on these interfaces; no
// vendor SDK is a build dependency of the consensus path.
package events

import "context"

// Event names published on the Bus (spec §6).
const (
	TopicTaskCreated           = "task.created"
	TopicTaskAssigned          = "task.assigned"
	TopicVerificationSubmitted = "verification.submitted"
	TopicVerificationCompleted = "verification.completed"
	TopicFraudDetected         = "fraud.detected"
	TopicWorkerStatusChanged   = "worker.status-changed"
)

// Bus is a fire-and-forget event publisher. Delivery failures are logged,
// never fatal (spec §6).
type Bus interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Queue is an at-least-once submission/distribution transport. Callers must
// dedup by MessageID and tolerate redelivery (spec §6).
type Queue interface {
	Enqueue(ctx context.Context, subject string, messageID string, payload []byte) error
	DeadLetter(ctx context.Context, subject string, messageID string, payload []byte, reason string) error
}

// Metrics publishes numeric samples with dimensions (spec §6). Publication
// failures never fail a request.
type Metrics interface {
	Observe(name string, value float64, dims map[string]string)
	Incr(name string, dims map[string]string)
}

// NotificationTemplate enumerates the templates Notifier.Send accepts
// (spec §6).
type NotificationTemplate string

const (
	TemplateTaskAssignment         NotificationTemplate = "TASK_ASSIGNMENT"
	TemplateTaskExpiration         NotificationTemplate = "TASK_EXPIRATION"
	TemplateAuctionAnnouncement    NotificationTemplate = "AUCTION_ANNOUNCEMENT"
	TemplateAuctionResult          NotificationTemplate = "AUCTION_RESULT"
	TemplatePaymentConfirmation    NotificationTemplate = "PAYMENT_CONFIRMATION"
	TemplateStatusUpdate           NotificationTemplate = "STATUS_UPDATE"
	TemplateWorkloadWarning        NotificationTemplate = "WORKLOAD_WARNING"
	TemplatePerformanceAlert       NotificationTemplate = "PERFORMANCE_ALERT"
	TemplateOnboardingStarted      NotificationTemplate = "ONBOARDING_STARTED"
	TemplateOnboardingStepComplete NotificationTemplate = "ONBOARDING_STEP_COMPLETED"
	TemplateOnboardingComplete     NotificationTemplate = "ONBOARDING_COMPLETED"
)

// Notifier sends a templated notification to a worker. Implementations own
// their own per-template retry policy (spec §6: 1-3 attempts, 1s/5s/15s).
type Notifier interface {
	Send(ctx context.Context, workerID string, template NotificationTemplate, payload map[string]string) error
}

// IPReputation is the result of an IP-intelligence lookup (spec §4.3,
// §6). A zero value (Known false, DistinctWorkers 0) degrades the network detector
// to "no signal" rather than failing detection.
type IPReputation struct {
	Known        bool
	DistinctWorkers int
	IsVPNOrProxy bool
}

// DeviceHistory is the result of a device-fingerprint lookup.
type DeviceHistory struct {
	Known           bool
	DistinctWorkers int
}

// FraudSignalProvider is the adapter boundary to IP-reputation, VPN/proxy,
// and device-fingerprint-history providers (spec §6). Calls are
// time-bounded via ctx; a failed or absent call must return the zero
// value and nil error so the caller degrades the sub-score to 0 instead of
// failing the pipeline (spec §4.3, §5).
type FraudSignalProvider interface {
	LookupIP(ctx context.Context, ip string) (IPReputation, error)
	LookupDevice(ctx context.Context, fingerprintHash string) (DeviceHistory, error)
	// Timezone reports whether the submission's claimed timezone is
	// consistent with the IP's geolocated timezone. A provider that cannot
	// determine this returns (true, nil) — consistent by default, not a
	// fraud signal.
	TimezoneConsistent(ctx context.Context, ip string, timezone string) (bool, error)
}
