package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Kenblair1226/bitfinex-lending-bot/internal/alerting"
	"github.com/Kenblair1226/bitfinex-lending-bot/internal/config"
	"github.com/Kenblair1226/bitfinex-lending-bot/internal/exchange"
	"github.com/Kenblair1226/bitfinex-lending-bot/internal/funding"
	"github.com/Kenblair1226/bitfinex-lending-bot/internal/scheduler"
	"github.com/Kenblair1226/bitfinex-lending-bot/internal/storage"
)

// Service orchestrates polling, change detection, alerting and persistence.
type Service struct {
	scheduler  *scheduler.Scheduler
	source     exchange.Source
	snapStore  storage.SnapshotStore
	recStore   storage.RecordStore
	alertStore storage.AlertStore
	notifier   alerting.Notifier
	logger     zerolog.Logger

	policy           funding.Policy
	failureThreshold int
	alertsOn         bool
	locker           storage.AdvisoryLocker
	lockKey          int64

	// single-owner cycle state; only the polling loop touches these
	prev     *funding.Snapshot
	records  map[string]funding.NotificationRecord
	loaded   bool
	failures int
}

// New constructs the monitoring service.
func New(cfg *config.Config, sched *scheduler.Scheduler, source exchange.Source, snapStore storage.SnapshotStore, recStore storage.RecordStore, alertStore storage.AlertStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	policy := funding.Policy{
		NotifyOnDrift: cfg.Monitor.NotifyOnDrift,
		RateDelta:     decimal.NewFromFloat(cfg.Monitor.RateDeltaPct),
		AmountDelta:   decimal.NewFromFloat(cfg.Monitor.AmountDelta),
	}

	var locker storage.AdvisoryLocker
	if l, ok := snapStore.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:        sched,
		source:           source,
		snapStore:        snapStore,
		recStore:         recStore,
		alertStore:       alertStore,
		notifier:         notifier,
		logger:           logger.With().Str("component", "service").Logger(),
		policy:           policy,
		failureThreshold: cfg.Monitor.FailureThreshold,
		alertsOn:         cfg.Alerting.Enabled,
		locker:           locker,
		lockKey:          cfg.Scheduler.AdvisoryLockKey,
		records:          make(map[string]funding.NotificationRecord),
	}
}

// Run begins the polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle 执行单个轮询周期的状态检查。
func (s *Service) ProcessCycle(ctx context.Context, now time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("cycle", now).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeCycle(ctx, now)
}

func (s *Service) executeCycle(ctx context.Context, now time.Time) error {
	if err := s.restoreState(ctx); err != nil {
		return err
	}

	state, err := s.source.FetchAccountState(ctx)
	if err != nil {
		s.failures++
		s.logger.Warn().Err(err).Int("consecutive_failures", s.failures).
			Msg("funding source unavailable, cycle skipped")
		if s.failures >= s.failureThreshold {
			s.escalateDegraded(ctx, err)
			s.failures = 0
		}
		return nil
	}
	s.failures = 0

	snap, warnings := funding.Normalize(state.Offers, state.Loans, state.Idle, now)
	for _, w := range warnings {
		s.logger.Warn().
			Str("category", string(w.Category)).
			Str("currency", w.Record.Currency).
			Str("reason", w.Reason).
			Msg("record dropped during normalization")
	}

	events := funding.Diff(s.prev, snap, now)
	send, updated := funding.ApplyFilter(events, s.records, s.policy, now)

	for _, ev := range send {
		s.dispatch(ctx, ev)
	}

	if err := s.persist(ctx, snap, send, updated); err != nil {
		return fmt.Errorf("persist cycle state: %w", err)
	}

	s.prev = &snap
	s.records = updated

	s.logSummary(snap, len(events), len(send))
	return nil
}

// restoreState loads the persisted snapshot and notification records
// once, before the first cycle. Without a store the first cycle simply
// establishes a fresh baseline.
func (s *Service) restoreState(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	if s.snapStore != nil {
		prev, err := s.snapStore.LoadSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("load previous snapshot: %w", err)
		}
		s.prev = prev
	}
	if s.recStore != nil {
		records, err := s.recStore.LoadRecords(ctx)
		if err != nil {
			return fmt.Errorf("load notification records: %w", err)
		}
		if records != nil {
			s.records = records
		}
	}
	s.loaded = true
	if s.prev != nil {
		s.logger.Info().Int("funds", s.prev.Len()).Msg("restored previous snapshot")
	}
	return nil
}

// dispatch hands one surviving event to the notifier. A delivery
// failure is isolated: the event still counts as attempted and the
// cycle goes on.
func (s *Service) dispatch(ctx context.Context, ev funding.ChangeEvent) {
	if s.alertStore != nil {
		if err := s.alertStore.InsertAlert(ctx, toAlertRecord(ev)); err != nil {
			s.logger.Error().Err(err).Str("fund", ev.Key()).Msg("failed to persist alert record")
		}
	}

	if !s.alertsOn || s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, alerting.RenderEvent(ev)); err != nil {
		s.logger.Error().Err(err).Str("fund", ev.Key()).Msg("failed to dispatch alert")
	}
}

func (s *Service) escalateDegraded(ctx context.Context, cause error) {
	s.logger.Error().Err(cause).Int("threshold", s.failureThreshold).
		Msg("monitoring degraded, escalating")
	if !s.alertsOn || s.notifier == nil {
		return
	}
	msg := alerting.Message{
		Title: "Bitfinex Funding Monitor Degraded",
		Body:  fmt.Sprintf("funding state could not be fetched for %d consecutive cycles: %v", s.failureThreshold, cause),
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.logger.Error().Err(err).Msg("failed to dispatch degraded alert")
	}
}

// persist writes the new snapshot and the records touched this cycle.
// Any write failure fails the cycle before in-memory state is replaced,
// so the next cycle re-compares against known state instead of drifting.
func (s *Service) persist(ctx context.Context, snap funding.Snapshot, sent []funding.ChangeEvent, updated map[string]funding.NotificationRecord) error {
	if s.snapStore != nil {
		if err := s.snapStore.ReplaceSnapshot(ctx, snap); err != nil {
			return err
		}
	}

	if s.recStore != nil && len(sent) > 0 {
		records := make([]funding.NotificationRecord, 0, len(sent))
		for _, ev := range sent {
			if rec, ok := updated[ev.Key()]; ok {
				records = append(records, rec)
			}
		}
		if err := s.recStore.UpsertRecords(ctx, records); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) logSummary(snap funding.Snapshot, detected, sent int) {
	var active, offered, inactive int
	for _, funds := range snap.Currencies {
		for _, f := range funds {
			switch f.Status {
			case funding.StatusActive:
				active++
			case funding.StatusOffered:
				offered++
			case funding.StatusInactive:
				inactive++
			}
		}
	}
	s.logger.Info().
		Int("active", active).
		Int("offered", offered).
		Int("inactive", inactive).
		Int("changes", detected).
		Int("notified", sent).
		Msg("status check complete")
}

// LatestSnapshot exposes the most recent canonical snapshot for the
// read-only query surface; it never mutates diff or filter state.
func (s *Service) LatestSnapshot() *funding.Snapshot {
	return s.prev
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func toAlertRecord(ev funding.ChangeEvent) storage.AlertRecord {
	rec := storage.AlertRecord{
		Currency:   ev.Currency,
		Identity:   ev.Identity,
		NewStatus:  string(ev.New),
		Amount:     ev.Fund.Amount,
		Rate:       ev.Fund.Rate,
		OccurredAt: ev.OccurredAt,
	}
	if ev.Previous != nil {
		prev := string(*ev.Previous)
		rec.PrevStatus = &prev
	}
	return rec
}
