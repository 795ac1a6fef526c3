package domain

import (
	"fmt"
	"strings"
	"time"
)

// RiskMode is the risk controller's state machine position.
type RiskMode string

const (
	RiskNormal    RiskMode = "NORMAL"
	RiskThrottled RiskMode = "THROTTLED"
	RiskHalted    RiskMode = "HALTED"
)

// RiskLevel selects a preset bundle of risk parameters.
type RiskLevel string

const (
	RiskConservative RiskLevel = "conservative"
	RiskModerate     RiskLevel = "moderate"
	RiskAggressive   RiskLevel = "aggressive"
	RiskCustom       RiskLevel = "custom"
)

// ParseRiskLevel is case-insensitive.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch lvl := RiskLevel(strings.ToLower(strings.TrimSpace(s))); lvl {
	case RiskConservative, RiskModerate, RiskAggressive, RiskCustom:
		return lvl, nil
	}
	return "", fmt.Errorf("domain: unknown risk level %q", s)
}

// RiskState is a point-in-time copy of the controller's state. The live
// value is owned by the risk controller and never shared.
type RiskState struct {
	Mode                 RiskMode  `json:"mode"`
	Day                  string    `json:"day"` // UTC date the counters belong to
	TodayProfit          float64   `json:"today_profit"`
	TradesToday          int       `json:"trades_today"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	CircuitBreaker       bool      `json:"circuit_breaker"`
	HaltReason           string    `json:"halt_reason,omitempty"`
	HaltedAt             time.Time `json:"halted_at,omitempty"`
	Exposure             float64   `json:"exposure"`
	MaxExposure          float64   `json:"max_exposure"`
	ScaleFactor          float64   `json:"scale_factor"`
	BaseCapital          float64   `json:"base_capital"`
}

// RiskTransition describes a mode change.
type RiskTransition struct {
	From   RiskMode  `json:"from"`
	To     RiskMode  `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}
