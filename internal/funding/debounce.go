package funding

import (
	"time"

	"github.com/shopspring/decimal"
)

// Policy tunes which change events are notification-worthy beyond plain
// status transitions. Amount/rate drift on an otherwise-stable fund only
// alerts when NotifyOnDrift is set and the drift exceeds the deltas.
type Policy struct {
	NotifyOnDrift bool
	RateDelta     decimal.Decimal
	AmountDelta   decimal.Decimal
}

// ApplyFilter suppresses events that do not represent a materially new
// transition against what was already delivered. Status transitions,
// newly observed funds and removals always pass; an event whose new
// status equals the last notified status is drift and passes only per
// policy. Every passing event updates its notification record, so
// re-filtering with the returned records suppresses everything.
// The input record map is not mutated.
func ApplyFilter(events []ChangeEvent, records map[string]NotificationRecord, policy Policy, now time.Time) ([]ChangeEvent, map[string]NotificationRecord) {
	updated := make(map[string]NotificationRecord, len(records)+len(events))
	for k, v := range records {
		updated[k] = v
	}

	var send []ChangeEvent
	for _, ev := range events {
		rec, known := updated[ev.Key()]

		if known {
			if rec.LastStatus == ev.New && !drifted(rec.LastRate, rec.LastAmount, ev, policy) {
				continue
			}
		} else if sameStatus(ev) && !drifted(ev.PreviousFund.Rate, ev.PreviousFund.Amount, ev, policy) {
			// hash changed on a never-notified fund without a status
			// transition; judge the drift against the previous snapshot
			continue
		}

		send = append(send, ev)
		updated[ev.Key()] = NotificationRecord{
			Key:            ev.Key(),
			LastStatus:     ev.New,
			LastAmount:     ev.Fund.Amount,
			LastRate:       ev.Fund.Rate,
			LastNotifiedAt: now,
		}
	}

	return send, updated
}

func sameStatus(ev ChangeEvent) bool {
	return ev.Previous != nil && *ev.Previous == ev.New && ev.PreviousFund != nil
}

func drifted(lastRate, lastAmount decimal.Decimal, ev ChangeEvent, policy Policy) bool {
	if !policy.NotifyOnDrift {
		return false
	}
	if ev.Fund.Rate.Sub(lastRate).Abs().GreaterThan(policy.RateDelta) {
		return true
	}
	return ev.Fund.Amount.Sub(lastAmount).Abs().GreaterThan(policy.AmountDelta)
}
