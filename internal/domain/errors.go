package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock already held")

	// Feed errors are absorbed by the aggregator.
	ErrFeedUnavailable = errors.New("price feed unavailable")
	ErrStaleQuote      = errors.New("quote is stale")

	// Execution errors.
	ErrStaleOpportunity    = errors.New("opportunity no longer profitable")
	ErrTransientSubmit     = errors.New("transient submission failure")
	ErrStateChanged        = errors.New("market state changed")
	ErrConfirmationTimeout = errors.New("confirmation timed out")
	ErrPairBusy            = errors.New("pair already has an in-flight attempt")
	ErrDuplicate           = errors.New("duplicate opportunity")

	// Risk errors.
	ErrRiskRejected  = errors.New("rejected by risk controller")
	ErrHalted        = errors.New("trading halted")
	ErrExposureLimit = errors.New("exposure limit reached")

	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidState  = errors.New("invalid state transition")
)
