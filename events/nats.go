package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NatsBus publishes events on a plain NATS core connection — fire-and-forget,
// matching the "Event bus" contract of spec §6. It reuses the same cluster
// the teacher's natsclient-backed WorkerStore talks to, on separate subjects.
type NatsBus struct {
	conn *nats.Conn
}

func NewNatsBus(conn *nats.Conn) *NatsBus {
	return &NatsBus{conn: conn}
}

func (b *NatsBus) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", topic, err)
	}
	return b.conn.Publish(topic, data)
}

// NatsQueue implements the at-least-once "Queue transport" contract on top
// of JetStream: messages carry a Nats-Msg-Id header so the broker itself
// dedups redelivery, and a configured dead-letter subject receives
// terminally-failed submissions (spec §6).
type NatsQueue struct {
	js            nats.JetStreamContext
	deadLetterSub string
}

func NewNatsQueue(js nats.JetStreamContext, deadLetterSubject string) *NatsQueue {
	return &NatsQueue{js: js, deadLetterSub: deadLetterSubject}
}

func (q *NatsQueue) Enqueue(ctx context.Context, subject string, messageID string, payload []byte) error {
	_, err := q.js.Publish(subject, payload, nats.MsgId(messageID))
	if err != nil {
		return fmt.Errorf("enqueue %s/%s: %w", subject, messageID, err)
	}
	return nil
}

func (q *NatsQueue) DeadLetter(ctx context.Context, subject string, messageID string, payload []byte, reason string) error {
	dl := struct {
		OriginalSubject string `json:"original_subject"`
		MessageID       string `json:"message_id"`
		Reason          string `json:"reason"`
		Payload         []byte `json:"payload"`
	}{subject, messageID, reason, payload}
	data, err := json.Marshal(dl)
	if err != nil {
		return err
	}
	_, err = q.js.Publish(q.deadLetterSub, data, nats.MsgId(messageID))
	return err
}
