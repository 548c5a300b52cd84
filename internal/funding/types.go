package funding

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a fund.
type Status string

const (
	StatusOffered  Status = "offered"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	// StatusRemoved marks a fund that disappeared between two snapshots.
	// It is only produced by the diff engine, never by classification.
	StatusRemoved Status = "removed"
)

// Category tags which raw source list a record came from.
type Category string

const (
	CategoryOffer Category = "offer"
	CategoryLoan  Category = "loan"
	CategoryIdle  Category = "idle"
)

// RawRecord is one exchange record before normalization. FundID may be
// empty for offers the exchange has not yet accepted.
type RawRecord struct {
	FundID   string
	Currency string
	Amount   decimal.Decimal
	Rate     decimal.Decimal
	Period   int
}

// Fund is one funding position or offer for a single currency.
type Fund struct {
	Currency string
	FundID   string
	Amount   decimal.Decimal
	Rate     decimal.Decimal
	Period   int
	Status   Status
}

// IdentityKey resolves the fund's identity within its currency: the
// exchange-assigned ID when present, else a best-effort fallback. The
// exchange reports at most one funding-wallet balance per currency, so
// idle funds get a stable per-currency key and a balance change stays a
// same-identity update instead of a remove-and-reappear pair.
func (f Fund) IdentityKey() string {
	if f.FundID != "" {
		return f.FundID
	}
	if f.Status == StatusInactive {
		return "idle"
	}
	return fmt.Sprintf("%s|%s|%s", f.Amount.String(), f.Rate.String(), f.Status)
}

// StateHash fingerprints the fields that matter for change detection.
func (f Fund) StateHash() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%d|%s",
		f.Currency, f.FundID, f.Amount.String(), f.Rate.String(), f.Period, f.Status)))
	return hex.EncodeToString(sum[:8])
}

// Snapshot is the complete set of funds observed in one polling cycle,
// keyed by currency then by resolved identity. A currency with zero
// funds keeps an empty inner map rather than disappearing.
type Snapshot struct {
	TakenAt    time.Time
	Currencies map[string]map[string]Fund
}

// NewSnapshot constructs an empty snapshot.
func NewSnapshot(takenAt time.Time) Snapshot {
	return Snapshot{TakenAt: takenAt, Currencies: make(map[string]map[string]Fund)}
}

// Touch ensures the currency key exists, even with zero funds.
func (s Snapshot) Touch(currency string) {
	if _, ok := s.Currencies[currency]; !ok {
		s.Currencies[currency] = make(map[string]Fund)
	}
}

// Put inserts a fund under its resolved identity.
func (s Snapshot) Put(f Fund) {
	s.Touch(f.Currency)
	s.Currencies[f.Currency][f.IdentityKey()] = f
}

// Funds returns the funds for one currency, nil when never observed.
func (s Snapshot) Funds(currency string) map[string]Fund {
	return s.Currencies[currency]
}

// Len counts funds across all currencies.
func (s Snapshot) Len() int {
	n := 0
	for _, funds := range s.Currencies {
		n += len(funds)
	}
	return n
}

// ChangeEvent is one detected transition between two snapshots.
// Previous nil signals a newly observed fund; New is StatusRemoved when
// the fund vanished from the current snapshot.
type ChangeEvent struct {
	Currency     string
	Identity     string
	Previous     *Status
	New          Status
	Fund         Fund
	PreviousFund *Fund
	OccurredAt   time.Time
}

// Key is the cross-currency unique identity of the event's fund.
func (e ChangeEvent) Key() string {
	return e.Currency + "/" + e.Identity
}

// NotificationRecord remembers the last delivered state for one fund
// identity so repeated polls do not re-alert an unchanged status.
type NotificationRecord struct {
	Key            string
	LastStatus     Status
	LastAmount     decimal.Decimal
	LastRate       decimal.Decimal
	LastNotifiedAt time.Time
}

// Warning reports a raw record that could not be normalized. It is
// informational only and never aborts a cycle.
type Warning struct {
	Category Category
	Reason   string
	Record   RawRecord
}

func (w Warning) String() string {
	return fmt.Sprintf("%s record skipped: %s", w.Category, w.Reason)
}
