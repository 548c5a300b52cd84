package funding

import (
	"time"
)

// Normalize converts the three raw exchange lists into a canonical
// snapshot. The exchange occasionally reports the same fund ID in two
// categories while a state transition is in flight, so categories are
// folded in priority order loan > offer > idle: an activating offer is
// reported as active, not as a stale offer. Malformed records are
// dropped into warnings, never fatal.
func Normalize(offers, loans, idle []RawRecord, takenAt time.Time) (Snapshot, []Warning) {
	snap := NewSnapshot(takenAt)
	var warnings []Warning

	// fund IDs already claimed by a higher-priority category, per currency
	claimed := make(map[string]map[string]bool)

	fold := func(records []RawRecord, cat Category) {
		status, err := Classify(cat)
		if err != nil {
			for _, rec := range records {
				warnings = append(warnings, Warning{Category: cat, Reason: err.Error(), Record: rec})
			}
			return
		}

		for _, rec := range records {
			if rec.Currency == "" {
				warnings = append(warnings, Warning{Category: cat, Reason: "missing currency", Record: rec})
				continue
			}
			snap.Touch(rec.Currency)

			if rec.FundID != "" {
				ids := claimed[rec.Currency]
				if ids == nil {
					ids = make(map[string]bool)
					claimed[rec.Currency] = ids
				}
				if ids[rec.FundID] {
					continue
				}
				ids[rec.FundID] = true
			}

			snap.Put(Fund{
				Currency: rec.Currency,
				FundID:   rec.FundID,
				Amount:   rec.Amount,
				Rate:     rec.Rate,
				Period:   rec.Period,
				Status:   status,
			})
		}
	}

	fold(loans, CategoryLoan)
	fold(offers, CategoryOffer)
	fold(idle, CategoryIdle)

	return snap, warnings
}
