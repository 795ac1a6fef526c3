package domain

import "time"

// StepKind is one instruction inside an atomic unit.
type StepKind string

const (
	StepBorrow StepKind = "borrow"
	StepSwap   StepKind = "swap"
	StepRepay  StepKind = "repay"
)

// Step is a single borrow, swap or repay instruction.
type Step struct {
	Kind         StepKind `json:"kind"`
	Exchange     string   `json:"exchange,omitempty"` // DEX for swaps, loan provider for borrow/repay
	TokenIn      string   `json:"token_in"`
	TokenOut     string   `json:"token_out,omitempty"`
	AmountIn     float64  `json:"amount_in"`
	MinAmountOut float64  `json:"min_amount_out,omitempty"`
}

// Unit is an ordered list of steps submitted as one all-or-nothing
// transaction. The ledger either applies every step or none.
type Unit struct {
	ID       string    `json:"id"`
	Pair     TokenPair `json:"pair"`
	Steps    []Step    `json:"steps"`
	Deadline time.Time `json:"deadline"`
}

// Receipt is the ledger's answer to a submitted unit.
type Receipt struct {
	Confirmed bool               `json:"confirmed"`
	TxID      string             `json:"tx_id,omitempty"`
	Realized  map[string]float64 `json:"realized,omitempty"` // token -> net amount after the unit
	Profit    float64            `json:"profit"`
	Reason    string             `json:"reason,omitempty"`
}

// Outcome is the final state of an execution attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeAborted Outcome = "aborted"
)

// ExecutionAttempt records one committed attempt at an opportunity. It is
// immutable after Finish.
type ExecutionAttempt struct {
	ID             string      `json:"id"`
	Opportunity    Opportunity `json:"opportunity"`
	LoanAmount     float64     `json:"loan_amount"`
	LoanProvider   string      `json:"loan_provider,omitempty"`
	LoanFee        float64     `json:"loan_fee"`
	Steps          []Step      `json:"steps"`
	Outcome        Outcome     `json:"outcome"`
	RealizedProfit float64     `json:"realized_profit"`
	Error          string      `json:"error,omitempty"`
	TxID           string      `json:"tx_id,omitempty"`
	Submissions    int         `json:"submissions"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at"`
}

// Duration is the wall time between start and finish.
func (a ExecutionAttempt) Duration() time.Duration {
	if a.FinishedAt.IsZero() {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}

// Succeeded reports a confirmed, repaid unit.
func (a ExecutionAttempt) Succeeded() bool {
	return a.Outcome == OutcomeSuccess
}
