package funding

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func transitionEvent(currency, id string, prev, next Status, amount int64, rate float64) ChangeEvent {
	f := mkFund(currency, id, amount, rate, next)
	ev := ChangeEvent{
		Currency:   currency,
		Identity:   id,
		New:        next,
		Fund:       f,
		OccurredAt: time.Now(),
	}
	if prev != "" {
		p := prev
		ev.Previous = &p
		pf := mkFund(currency, id, amount, rate, prev)
		ev.PreviousFund = &pf
	}
	return ev
}

func TestFilterPassesStatusTransition(t *testing.T) {
	events := []ChangeEvent{transitionEvent("USD", "1", StatusActive, StatusInactive, 1000, 10)}
	records := map[string]NotificationRecord{
		"USD/1": {Key: "USD/1", LastStatus: StatusActive},
	}

	send, updated := ApplyFilter(events, records, Policy{}, time.Now())
	if len(send) != 1 {
		t.Fatalf("状态转换应通过过滤, 实际 %d 个", len(send))
	}
	if updated["USD/1"].LastStatus != StatusInactive {
		t.Fatalf("通知记录应更新为 inactive, 实际 %s", updated["USD/1"].LastStatus)
	}
}

func TestFilterSuppressesAlreadyNotifiedStatus(t *testing.T) {
	// hash differed only in non-status fields; status already delivered
	events := []ChangeEvent{transitionEvent("USD", "1", StatusInactive, StatusInactive, 1000, 10)}
	records := map[string]NotificationRecord{
		"USD/1": {
			Key:        "USD/1",
			LastStatus: StatusInactive,
			LastAmount: decimal.NewFromInt(1000),
			LastRate:   decimal.NewFromFloat(10),
		},
	}

	send, _ := ApplyFilter(events, records, Policy{}, time.Now())
	if len(send) != 0 {
		t.Fatalf("已通知的状态不应重复告警, 实际发送 %d 个", len(send))
	}
}

func TestFilterIdempotent(t *testing.T) {
	events := []ChangeEvent{
		transitionEvent("USD", "1", StatusOffered, StatusActive, 1000, 12),
		transitionEvent("ETH", "2", "", StatusOffered, 5, 3),
	}

	first, updated := ApplyFilter(events, nil, Policy{}, time.Now())
	if len(first) != 2 {
		t.Fatalf("首轮应全部通过, 实际 %d 个", len(first))
	}

	second, _ := ApplyFilter(events, updated, Policy{}, time.Now())
	if len(second) != 0 {
		t.Fatalf("用更新后的记录重新过滤应全部抑制, 实际 %d 个", len(second))
	}
}

func TestFilterDriftPolicy(t *testing.T) {
	policy := Policy{
		NotifyOnDrift: true,
		RateDelta:     decimal.NewFromFloat(0.01),
		AmountDelta:   decimal.NewFromFloat(0.0001),
	}

	records := map[string]NotificationRecord{
		"USD/1": {
			Key:        "USD/1",
			LastStatus: StatusActive,
			LastAmount: decimal.NewFromInt(1000),
			LastRate:   decimal.NewFromFloat(10),
		},
	}

	drift := []ChangeEvent{transitionEvent("USD", "1", StatusActive, StatusActive, 1000, 12)}

	send, updated := ApplyFilter(drift, records, policy, time.Now())
	if len(send) != 1 {
		t.Fatalf("超过阈值的利率变动应触发告警, 实际 %d 个", len(send))
	}
	if !updated["USD/1"].LastRate.Equal(decimal.NewFromFloat(12)) {
		t.Fatalf("记录应更新为新利率, 实际 %s", updated["USD/1"].LastRate)
	}

	// same drift without the policy stays quiet
	send, _ = ApplyFilter(drift, records, Policy{}, time.Now())
	if len(send) != 0 {
		t.Fatalf("默认策略下利率漂移不应告警, 实际 %d 个", len(send))
	}
}

func TestFilterDriftWithoutRecordUsesPreviousFund(t *testing.T) {
	pf := mkFund("USD", "1", 1000, 10, StatusActive)
	prev := StatusActive
	ev := ChangeEvent{
		Currency:     "USD",
		Identity:     "1",
		Previous:     &prev,
		New:          StatusActive,
		Fund:         mkFund("USD", "1", 1000, 12, StatusActive),
		PreviousFund: &pf,
		OccurredAt:   time.Now(),
	}

	// never-notified fund, same status, rate moved: quiet by default
	send, _ := ApplyFilter([]ChangeEvent{ev}, nil, Policy{}, time.Now())
	if len(send) != 0 {
		t.Fatalf("无通知记录的同状态漂移默认不应告警, 实际 %d 个", len(send))
	}

	policy := Policy{
		NotifyOnDrift: true,
		RateDelta:     decimal.NewFromFloat(0.01),
		AmountDelta:   decimal.NewFromFloat(0.0001),
	}
	send, _ = ApplyFilter([]ChangeEvent{ev}, nil, policy, time.Now())
	if len(send) != 1 {
		t.Fatalf("开启漂移策略后应告警, 实际 %d 个", len(send))
	}
}

func TestIdleBalanceDriftStaysQuiet(t *testing.T) {
	now := time.Now()
	prev, _ := Normalize(nil, nil,
		[]RawRecord{{Currency: "USD", Amount: decimal.NewFromInt(300)}}, now)
	cur, _ := Normalize(nil, nil,
		[]RawRecord{{Currency: "USD", Amount: decimal.NewFromInt(250)}}, now.Add(time.Minute))

	// the wallet balance keeps its identity, so the diff is one
	// same-status update rather than a remove-and-reappear pair
	events := Diff(&prev, cur, now.Add(time.Minute))
	if len(events) != 1 {
		t.Fatalf("余额变化应产生 1 个同状态事件, 实际 %d 个: %+v", len(events), events)
	}
	if events[0].Previous == nil || *events[0].Previous != StatusInactive || events[0].New != StatusInactive {
		t.Fatalf("事件应为 inactive -> inactive, 实际 %+v", events[0])
	}

	send, _ := ApplyFilter(events, nil, Policy{}, now.Add(time.Minute))
	if len(send) != 0 {
		t.Fatalf("默认策略下钱包余额变化不应告警, 实际 %d 个", len(send))
	}
}

func TestFilterDoesNotMutateInputRecords(t *testing.T) {
	records := map[string]NotificationRecord{
		"USD/1": {Key: "USD/1", LastStatus: StatusActive},
	}
	events := []ChangeEvent{transitionEvent("USD", "1", StatusActive, StatusInactive, 1000, 10)}

	ApplyFilter(events, records, Policy{}, time.Now())
	if records["USD/1"].LastStatus != StatusActive {
		t.Fatal("输入记录不应被修改")
	}
}
