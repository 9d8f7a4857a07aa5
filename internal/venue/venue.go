package venue

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Position is the closed result set every adapter translates its native order
// response into. The orchestrator never branches on venue-specific fields.
type Position struct {
	ID         string
	Instrument string
	FilledSize decimal.Decimal
	FillPrice  decimal.Decimal
	Filled     bool
}

// Adapter is the contract each trading-venue integration satisfies. Each call
// enforces its own request timeout; failures are local to the adapter.
type Adapter interface {
	Name() string
	OpenShort(ctx context.Context, instrument string, size decimal.Decimal) (Position, error)
	Close(ctx context.Context, instrument string, size decimal.Decimal) (bool, error)
	CurrentPrice(ctx context.Context, instrument string) (decimal.Decimal, error)
}

// Error is a rejected or errored order submission at a single venue.
type Error struct {
	Venue  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("venue %s: %s", e.Venue, e.Reason)
}
