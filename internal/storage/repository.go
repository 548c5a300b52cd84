package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Kenblair1226/bitfinex-lending-bot/internal/funding"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	deleteSnapshotCurrenciesSQL = `DELETE FROM snapshot_currencies;`
	deleteSnapshotFundsSQL      = `DELETE FROM snapshot_funds;`

	insertSnapshotCurrencySQL = `INSERT INTO snapshot_currencies (currency, taken_at) VALUES ($1,$2);`

	insertSnapshotFundSQL = `INSERT INTO snapshot_funds (
        currency,
        identity,
        fund_id,
        amount,
        rate,
        period,
        status,
        taken_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    );`

	listSnapshotCurrenciesSQL = `SELECT currency, taken_at FROM snapshot_currencies;`

	listSnapshotFundsSQL = `SELECT
        currency,
        identity,
        fund_id,
        amount,
        rate,
        period,
        status
    FROM snapshot_funds;`

	upsertRecordSQL = `INSERT INTO notification_records (
        record_key,
        last_status,
        last_amount,
        last_rate,
        last_notified_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (record_key) DO UPDATE
    SET last_status      = EXCLUDED.last_status,
        last_amount      = EXCLUDED.last_amount,
        last_rate        = EXCLUDED.last_rate,
        last_notified_at = EXCLUDED.last_notified_at;`

	listRecordsSQL = `SELECT
        record_key,
        last_status,
        last_amount,
        last_rate,
        last_notified_at
    FROM notification_records;`

	insertAlertSQL = `INSERT INTO funding_alerts (
        currency,
        identity,
        prev_status,
        new_status,
        amount,
        rate,
        occurred_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    );`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotStore persists the latest canonical snapshot.
type SnapshotStore interface {
	ReplaceSnapshot(ctx context.Context, snap funding.Snapshot) error
	LoadSnapshot(ctx context.Context) (*funding.Snapshot, error)
}

// RecordStore persists notification records for cross-restart debounce.
type RecordStore interface {
	UpsertRecords(ctx context.Context, records []funding.NotificationRecord) error
	LoadRecords(ctx context.Context) (map[string]funding.NotificationRecord, error)
}

// AlertStore appends dispatched events for auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to snapshots, records and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the connection release drops the lock anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ReplaceSnapshot swaps the persisted snapshot for the given one in a
// single transaction, so a crash mid-write never leaves a partial state.
func (s *Store) ReplaceSnapshot(ctx context.Context, snap funding.Snapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, deleteSnapshotFundsSQL); err != nil {
		return fmt.Errorf("clear snapshot funds: %w", err)
	}
	if _, err := tx.Exec(ctx, deleteSnapshotCurrenciesSQL); err != nil {
		return fmt.Errorf("clear snapshot currencies: %w", err)
	}

	for currency, funds := range snap.Currencies {
		if _, err := tx.Exec(ctx, insertSnapshotCurrencySQL, currency, snap.TakenAt); err != nil {
			return fmt.Errorf("insert snapshot currency: %w", err)
		}
		for identity, f := range funds {
			if _, err := tx.Exec(ctx, insertSnapshotFundSQL,
				currency,
				identity,
				f.FundID,
				f.Amount.String(),
				f.Rate.String(),
				f.Period,
				string(f.Status),
				snap.TakenAt,
			); err != nil {
				return fmt.Errorf("insert snapshot fund: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot tx: %w", err)
	}
	return nil
}

// LoadSnapshot reconstructs the persisted snapshot, nil when none was
// ever written (first run).
func (s *Store) LoadSnapshot(ctx context.Context) (*funding.Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotCurrenciesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshot currencies: %w", queryErr)
	}
	defer rows.Close()

	var (
		snap  funding.Snapshot
		found bool
	)
	for rows.Next() {
		var (
			currency string
			takenAt  time.Time
		)
		if err := rows.Scan(&currency, &takenAt); err != nil {
			return nil, err
		}
		if !found {
			snap = funding.NewSnapshot(takenAt)
			found = true
		}
		snap.Touch(currency)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	if !found {
		return nil, nil
	}

	fundRows, queryErr := pool.Query(ctx, listSnapshotFundsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshot funds: %w", queryErr)
	}
	defer fundRows.Close()

	for fundRows.Next() {
		var (
			currency  string
			identity  string
			fundID    string
			amountStr string
			rateStr   string
			period    int
			status    string
		)
		if err := fundRows.Scan(&currency, &identity, &fundID, &amountStr, &rateStr, &period, &status); err != nil {
			return nil, err
		}

		amount, convErr := decimal.NewFromString(amountStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse fund amount: %w", convErr)
		}
		rate, convErr := decimal.NewFromString(rateStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse fund rate: %w", convErr)
		}

		snap.Put(funding.Fund{
			Currency: currency,
			FundID:   fundID,
			Amount:   amount,
			Rate:     rate,
			Period:   period,
			Status:   funding.Status(status),
		})
	}
	if fundRows.Err() != nil {
		return nil, fundRows.Err()
	}

	return &snap, nil
}

// UpsertRecords writes notification records keyed by fund identity.
func (s *Store) UpsertRecords(ctx context.Context, records []funding.NotificationRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	for _, rec := range records {
		if _, execErr := pool.Exec(ctx, upsertRecordSQL,
			rec.Key,
			string(rec.LastStatus),
			rec.LastAmount.String(),
			rec.LastRate.String(),
			rec.LastNotifiedAt,
		); execErr != nil {
			return fmt.Errorf("upsert notification record: %w", execErr)
		}
	}
	return nil
}

// LoadRecords reads all persisted notification records.
func (s *Store) LoadRecords(ctx context.Context) (map[string]funding.NotificationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecordsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list notification records: %w", queryErr)
	}
	defer rows.Close()

	records := make(map[string]funding.NotificationRecord)
	for rows.Next() {
		var (
			rec       funding.NotificationRecord
			status    string
			amountStr string
			rateStr   string
		)
		if err := rows.Scan(&rec.Key, &status, &amountStr, &rateStr, &rec.LastNotifiedAt); err != nil {
			return nil, err
		}

		var convErr error
		rec.LastAmount, convErr = decimal.NewFromString(amountStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse record amount: %w", convErr)
		}
		rec.LastRate, convErr = decimal.NewFromString(rateStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse record rate: %w", convErr)
		}
		rec.LastStatus = funding.Status(status)
		records[rec.Key] = rec
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// InsertAlert appends a dispatched event to the audit table.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var prev interface{}
	if alert.PrevStatus != nil {
		prev = *alert.PrevStatus
	}

	if _, execErr := pool.Exec(ctx, insertAlertSQL,
		alert.Currency,
		alert.Identity,
		prev,
		alert.NewStatus,
		alert.Amount.String(),
		alert.Rate.String(),
		alert.OccurredAt,
	); execErr != nil {
		return fmt.Errorf("insert alert: %w", execErr)
	}
	return nil
}
