package domain

import "context"

// PriceSource fetches a single quote from an exchange.
type PriceSource interface {
	FetchQuote(ctx context.Context, exchange string, pair TokenPair) (Quote, error)
}

// Submitter hands an atomic unit to the ledger and waits for confirmation.
// A rejected unit must have had no effect. Implementations classify failures
// by wrapping ErrTransientSubmit or ErrStateChanged.
type Submitter interface {
	Submit(ctx context.Context, unit Unit) (Receipt, error)
}

// QuoteLookup returns the freshest quote for an (exchange, pair) key.
type QuoteLookup interface {
	Quote(exchange string, pair TokenPair) (Quote, bool)
}

// EventPublisher accepts outbound events. Publish never blocks on delivery
// and has no knowledge of subscribers.
type EventPublisher interface {
	Publish(kind EventKind, key string, payload any)
}
