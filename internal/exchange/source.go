package exchange

import (
	"context"

	"github.com/Kenblair1226/bitfinex-lending-bot/internal/funding"
)

// AccountState is the raw funding account view for one polling cycle:
// open offers, running loans, and idle funding-wallet balances.
type AccountState struct {
	Offers []funding.RawRecord
	Loans  []funding.RawRecord
	Idle   []funding.RawRecord
}

// Source retrieves the authenticated account funding state.
type Source interface {
	FetchAccountState(ctx context.Context) (AccountState, error)
}
