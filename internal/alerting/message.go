package alerting

import (
	"fmt"
	"strings"

	"github.com/Kenblair1226/bitfinex-lending-bot/internal/funding"
)

// Message is one rendered notification, ready for any channel.
type Message struct {
	Title string
	Body  string
}

// RenderEvent builds the channel-agnostic notification for one change
// event, following the original alert wording per transition kind.
func RenderEvent(ev funding.ChangeEvent) Message {
	return Message{
		Title: fmt.Sprintf("Bitfinex %s Funding Update", ev.Currency),
		Body:  renderBody(ev),
	}
}

func renderBody(ev funding.ChangeEvent) string {
	if ev.Previous == nil {
		switch ev.New {
		case funding.StatusOffered:
			return fmt.Sprintf("%s: new offer of %s at %s%% APR", ev.Currency, ev.Fund.Amount.String(), ev.Fund.Rate.StringFixed(2))
		case funding.StatusActive:
			return fmt.Sprintf("%s: new loan of %s at %s%% APR for %d days", ev.Currency, ev.Fund.Amount.String(), ev.Fund.Rate.StringFixed(2), ev.Fund.Period)
		default:
			return fmt.Sprintf("%s: new %s fund of %s observed", ev.Currency, ev.New, ev.Fund.Amount.String())
		}
	}

	prev := *ev.Previous

	if ev.New == funding.StatusRemoved {
		return fmt.Sprintf("%s: fund no longer reported (was %s, %s at %s%% APR)", ev.Currency, prev, ev.Fund.Amount.String(), ev.Fund.Rate.StringFixed(2))
	}

	if prev == ev.New {
		return renderDrift(ev)
	}

	switch {
	case prev == funding.StatusInactive && ev.New == funding.StatusOffered:
		return fmt.Sprintf("%s: funds are now offered for lending", ev.Currency)
	case prev == funding.StatusOffered && ev.New == funding.StatusActive:
		return fmt.Sprintf("%s: lending activated at %s%% APR", ev.Currency, ev.Fund.Rate.StringFixed(2))
	case prev == funding.StatusOffered && ev.New == funding.StatusInactive:
		return fmt.Sprintf("%s: lending cancelled", ev.Currency)
	case prev == funding.StatusActive && ev.New == funding.StatusInactive:
		return fmt.Sprintf("%s: lending closed, funds returned", ev.Currency)
	default:
		return fmt.Sprintf("%s: status changed from %s to %s", ev.Currency, prev, ev.New)
	}
}

func renderDrift(ev funding.ChangeEvent) string {
	var lines []string
	if ev.PreviousFund != nil {
		if !ev.PreviousFund.Rate.Equal(ev.Fund.Rate) {
			lines = append(lines, fmt.Sprintf("%s: rate changed from %s%% to %s%%", ev.Currency, ev.PreviousFund.Rate.StringFixed(2), ev.Fund.Rate.StringFixed(2)))
		}
		if !ev.PreviousFund.Amount.Equal(ev.Fund.Amount) {
			lines = append(lines, fmt.Sprintf("%s: amount changed from %s to %s", ev.Currency, ev.PreviousFund.Amount.String(), ev.Fund.Amount.String()))
		}
	}
	if len(lines) == 0 {
		return fmt.Sprintf("%s: %s fund updated", ev.Currency, ev.New)
	}
	return strings.Join(lines, "\n")
}
