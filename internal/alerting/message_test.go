package alerting

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Kenblair1226/bitfinex-lending-bot/internal/funding"
)

func changeEvent(prev, next funding.Status, rate float64) funding.ChangeEvent {
	f := funding.Fund{
		FundID:   "1",
		Currency: "USD",
		Amount:   decimal.NewFromInt(1000),
		Rate:     decimal.NewFromFloat(rate),
		Period:   30,
		Status:   next,
	}
	ev := funding.ChangeEvent{
		Currency:   "USD",
		Identity:   "1",
		New:        next,
		Fund:       f,
		OccurredAt: time.Now(),
	}
	if prev != "" {
		p := prev
		ev.Previous = &p
		pf := f
		pf.Status = prev
		ev.PreviousFund = &pf
	}
	return ev
}

func TestRenderEventTransitions(t *testing.T) {
	cases := []struct {
		name string
		ev   funding.ChangeEvent
		want string
	}{
		{"新增报价", changeEvent("", funding.StatusOffered, 12.5), "new offer of 1000 at 12.50% APR"},
		{"新增借出", changeEvent("", funding.StatusActive, 12.5), "new loan of 1000 at 12.50% APR for 30 days"},
		{"报价成交", changeEvent(funding.StatusOffered, funding.StatusActive, 12.5), "lending activated at 12.50% APR"},
		{"报价撤销", changeEvent(funding.StatusOffered, funding.StatusInactive, 12.5), "lending cancelled"},
		{"借出到期", changeEvent(funding.StatusActive, funding.StatusInactive, 12.5), "lending closed, funds returned"},
		{"重新挂单", changeEvent(funding.StatusInactive, funding.StatusOffered, 12.5), "funds are now offered for lending"},
		{"资金移除", changeEvent(funding.StatusActive, funding.StatusRemoved, 12.5), "no longer reported"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := RenderEvent(tc.ev)
			if msg.Title != "Bitfinex USD Funding Update" {
				t.Fatalf("标题不正确: %s", msg.Title)
			}
			if !strings.Contains(msg.Body, tc.want) {
				t.Fatalf("正文应包含 %q, 实际: %s", tc.want, msg.Body)
			}
		})
	}
}

func TestRenderEventDrift(t *testing.T) {
	ev := changeEvent(funding.StatusActive, funding.StatusActive, 12.5)
	ev.PreviousFund.Rate = decimal.NewFromFloat(10)

	msg := RenderEvent(ev)
	if !strings.Contains(msg.Body, "rate changed from 10.00% to 12.50%") {
		t.Fatalf("漂移正文不正确: %s", msg.Body)
	}
}
