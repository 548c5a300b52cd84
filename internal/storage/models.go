package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertRecord captures one dispatched change event for auditing.
type AlertRecord struct {
	ID         int64
	Currency   string
	Identity   string
	PrevStatus *string
	NewStatus  string
	Amount     decimal.Decimal
	Rate       decimal.Decimal
	OccurredAt time.Time
	CreatedAt  time.Time
}
