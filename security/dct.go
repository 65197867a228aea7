// Package security adapts the teacher's Delegation Capability Token,
// circuit-breaker, and task-screening machinery to worker task-access
// scoping and fraud-driven suspension (spec §4.9 Design Notes "Supplemented
// features").
package security

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Caveat is a single restriction in an attenuation chain.
type Caveat struct {
	Type  string `json:"type"` // "scope", "operation", "time", "budget"
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TaskAccessToken scopes a worker's access to one task,
// generalized from the teacher's Delegation Capability Token (DCT):
// attenuation only ever narrows the permission set, never widens it.
type TaskAccessToken struct {
	TokenID   string    `json:"token_id"`
	TaskID    string    `json:"task_id"`
	WorkerID  string    `json:"worker_id"`
	Caveats   []Caveat  `json:"caveats"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}

// MintTaskAccessToken issues a token scoping workerID's access to taskID.
func MintTaskAccessToken(taskID, workerID string, ttl time.Duration, caveats ...Caveat) *TaskAccessToken {
	now := time.Now()
	return &TaskAccessToken{
		TokenID:   uuid.NewString(),
		TaskID:    taskID,
		WorkerID:  workerID,
		Caveats:   caveats,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

// Attenuate creates a narrower child token for a sub-delegate (e.g. a
// worker forwarding part of a task to a tooling helper it trusts less).
func (t *TaskAccessToken) Attenuate(newWorkerID string, additional ...Caveat) (*TaskAccessToken, error) {
	if t.Revoked {
		return nil, fmt.Errorf("cannot attenuate revoked token %s", t.TokenID)
	}
	if time.Now().After(t.ExpiresAt) {
		return nil, fmt.Errorf("cannot attenuate expired token %s", t.TokenID)
	}
	all := make([]Caveat, 0, len(t.Caveats)+len(additional))
	all = append(all, t.Caveats...)
	all = append(all, additional...)
	child := MintTaskAccessToken(t.TaskID, newWorkerID, time.Until(t.ExpiresAt), all...)
	return child, nil
}

// ValidateAccess checks whether the token permits operation within scope.
func (t *TaskAccessToken) ValidateAccess(operation, scope string) error {
	if t.Revoked {
		return fmt.Errorf("token revoked")
	}
	if time.Now().After(t.ExpiresAt) {
		return fmt.Errorf("token expired")
	}
	for _, c := range t.Caveats {
		switch c.Type {
		case "operation":
			if !strings.Contains(c.Value, operation) {
				return fmt.Errorf("operation %q not permitted (allowed: %s)", operation, c.Value)
			}
		case "scope":
			if !strings.HasPrefix(scope, c.Value) {
				return fmt.Errorf("scope %q outside permitted boundary %q", scope, c.Value)
			}
		}
	}
	return nil
}
