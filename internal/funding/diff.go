package funding

import (
	"sort"
	"time"
)

// Diff compares the previous snapshot to the current one and returns
// the minimal ordered set of change events. A nil previous snapshot is
// the first cycle after start: it only establishes the baseline and
// emits nothing, so a restart never produces a notification storm.
// Output order is currency then identity, so repeated calls on the same
// inputs yield identical sequences.
func Diff(prev *Snapshot, cur Snapshot, now time.Time) []ChangeEvent {
	if prev == nil {
		return nil
	}

	currencies := make(map[string]bool, len(cur.Currencies))
	for c := range cur.Currencies {
		currencies[c] = true
	}
	for c := range prev.Currencies {
		currencies[c] = true
	}

	ordered := make([]string, 0, len(currencies))
	for c := range currencies {
		ordered = append(ordered, c)
	}
	sort.Strings(ordered)

	var events []ChangeEvent
	for _, currency := range ordered {
		events = append(events, diffCurrency(currency, prev.Currencies[currency], cur.Currencies[currency], now)...)
	}
	return events
}

func diffCurrency(currency string, prev, cur map[string]Fund, now time.Time) []ChangeEvent {
	keys := make(map[string]bool, len(cur))
	for k := range cur {
		keys[k] = true
	}
	for k := range prev {
		keys[k] = true
	}

	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	var events []ChangeEvent
	for _, key := range ordered {
		before, wasPresent := prev[key]
		after, isPresent := cur[key]

		switch {
		case isPresent && !wasPresent:
			events = append(events, ChangeEvent{
				Currency:   currency,
				Identity:   key,
				New:        after.Status,
				Fund:       after,
				OccurredAt: now,
			})
		case wasPresent && !isPresent:
			prevStatus := before.Status
			events = append(events, ChangeEvent{
				Currency:     currency,
				Identity:     key,
				Previous:     &prevStatus,
				New:          StatusRemoved,
				Fund:         before,
				PreviousFund: &before,
				OccurredAt:   now,
			})
		case before.StateHash() != after.StateHash():
			prevStatus := before.Status
			events = append(events, ChangeEvent{
				Currency:     currency,
				Identity:     key,
				Previous:     &prevStatus,
				New:          after.Status,
				Fund:         after,
				PreviousFund: &before,
				OccurredAt:   now,
			})
		}
	}
	return events
}
