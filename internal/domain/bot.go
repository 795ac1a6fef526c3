package domain

import "time"

// BotStatus is the lifecycle state of the trading loop.
type BotStatus string

const (
	BotStopped BotStatus = "stopped"
	BotRunning BotStatus = "running"
	BotPaused  BotStatus = "paused"
	BotError   BotStatus = "error"
)

// Statistics are process-lifetime counters.
type Statistics struct {
	OpportunitiesDetected int64         `json:"opportunities_detected"`
	OpportunitiesSkipped  int64         `json:"opportunities_skipped"`
	TradesExecuted        int64         `json:"trades_executed"`
	TradesFailed          int64         `json:"trades_failed"`
	TradesAborted         int64         `json:"trades_aborted"`
	SuccessRate           float64       `json:"success_rate"`
	AvgExecutionTime      time.Duration `json:"avg_execution_time"`
	TotalProfit           float64       `json:"total_profit"`
}

// BotSnapshot summarises the running bot for status endpoints.
type BotSnapshot struct {
	Status        BotStatus  `json:"status"`
	Mode          string     `json:"mode"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	Pairs         []string   `json:"pairs"`
	Exchanges     []string   `json:"exchanges"`
	Stats         Statistics `json:"stats"`
	LastError     string     `json:"last_error,omitempty"`
}
