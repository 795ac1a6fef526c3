package domain

import (
	"encoding/json"
	"time"
)

// EventKind names an outbound notification.
type EventKind string

const (
	EventBotStatus           EventKind = "bot.status"
	EventExecutionAttempt    EventKind = "execution.attempt"
	EventRiskTransition      EventKind = "risk.transition"
	EventOpportunityDetected EventKind = "opportunity.detected"
	EventOpportunitySkipped  EventKind = "opportunity.skipped"
)

// AllEventKinds lists every kind the core can emit.
var AllEventKinds = []EventKind{
	EventBotStatus,
	EventExecutionAttempt,
	EventRiskTransition,
	EventOpportunityDetected,
	EventOpportunitySkipped,
}

// Event is a discrete outbound notification. Delivery is at-least-once;
// consumers dedupe on ID (and on the attempt ID for execution events).
type Event struct {
	ID      string          `json:"id"`
	Kind    EventKind       `json:"kind"`
	Key     string          `json:"key,omitempty"` // attempt ID or pair, for idempotent consumers
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// SkippedOpportunity is the payload of opportunity.skipped.
type SkippedOpportunity struct {
	Opportunity Opportunity `json:"opportunity"`
	Reason      string      `json:"reason"`
}

// BotStatusChange is the payload of bot.status.
type BotStatusChange struct {
	From   BotStatus `json:"from"`
	To     BotStatus `json:"to"`
	Reason string    `json:"reason,omitempty"`
}
