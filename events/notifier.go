package events

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Sender is the minimal transport a BackoffNotifier retries over — one
// concrete implementation per channel (chat/email/SMS), all out of scope
// per spec §1; only the interface lives in this core.
type Sender interface {
	Send(ctx context.Context, workerID string, template NotificationTemplate, payload map[string]string) error
}

// templateRetries is the per-template retry table from spec §6: max
// attempts and the fixed delay sequence between them.
var templateRetries = map[NotificationTemplate]struct {
	maxAttempts int
	delays      []time.Duration
}{
	TemplateTaskAssignment:         {3, []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}},
	TemplateTaskExpiration:         {2, []time.Duration{time.Second, 5 * time.Second}},
	TemplateAuctionAnnouncement:    {2, []time.Duration{time.Second, 5 * time.Second}},
	TemplateAuctionResult:          {3, []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}},
	TemplatePaymentConfirmation:    {3, []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}},
	TemplateStatusUpdate:           {1, nil},
	TemplateWorkloadWarning:        {1, nil},
	TemplatePerformanceAlert:       {2, []time.Duration{time.Second, 5 * time.Second}},
	TemplateOnboardingStarted:      {1, nil},
	TemplateOnboardingStepComplete: {1, nil},
	TemplateOnboardingComplete:     {1, nil},
}

// BackoffNotifier wraps a Sender with the per-template retry policy,
// built on cenkalti/backoff's Retry and WithMaxRetries over a fixed
// per-template delay sequence (delaySequence) rather than hand-rolled
// sleep loops.
type BackoffNotifier struct {
	sender Sender
}

func NewBackoffNotifier(sender Sender) *BackoffNotifier {
	return &BackoffNotifier{sender: sender}
}

func (n *BackoffNotifier) Send(ctx context.Context, workerID string, template NotificationTemplate, payload map[string]string) error {
	policy, ok := templateRetries[template]
	if !ok {
		policy.maxAttempts = 1
	}

	attempt := 0
	op := func() error {
		err := n.sender.Send(ctx, workerID, template, payload)
		attempt++
		return err
	}

	var b backoff.BackOff
	if len(policy.delays) == 0 {
		b = &backoff.StopBackOff{}
	} else {
		b = &delaySequence{delays: policy.delays}
	}
	b = backoff.WithContext(b, ctx)
	b = backoff.WithMaxRetries(b, uint64(policy.maxAttempts-1))

	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("notify %s/%s after %d attempts: %w", workerID, template, attempt, err)
	}
	return nil
}

// delaySequence replays a fixed list of delays, then keeps returning the
// last one (backoff.WithMaxRetries bounds the attempt count, so this never
// runs past the configured table).
type delaySequence struct {
	delays []time.Duration
	idx    int
}

func (d *delaySequence) NextBackOff() time.Duration {
	if d.idx >= len(d.delays) {
		return d.delays[len(d.delays)-1]
	}
	v := d.delays[d.idx]
	d.idx++
	return v
}

func (d *delaySequence) Reset() { d.idx = 0 }
