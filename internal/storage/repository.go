package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const sampleColumns = `id,
        sample_ts,
        comparison,
        maker_venue,
        maker_symbol,
        taker_venue,
        taker_symbol,
        instrument,
        direction,
        apr_pct,
        fee_adjusted,
        maker_price,
        taker_price,
        horizon_seconds,
        created_at`

const (
	appendSampleSQL = `INSERT INTO arbitrage_samples (
        id,
        sample_ts,
        comparison,
        maker_venue,
        maker_symbol,
        taker_venue,
        taker_symbol,
        instrument,
        direction,
        apr_pct,
        fee_adjusted,
        maker_price,
        taker_price,
        horizon_seconds
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    );`

	listSamplesBetweenSQL = `SELECT ` + sampleColumns + `
    FROM arbitrage_samples
    WHERE sample_ts >= $1
      AND sample_ts < $2
    ORDER BY sample_ts, comparison, direction, fee_adjusted;`

	listRecentSamplesSQL = `SELECT ` + sampleColumns + `
    FROM arbitrage_samples
    ORDER BY sample_ts DESC
    LIMIT $1;`

	countSamplesSQL = `SELECT COUNT(*) FROM arbitrage_samples;`

	insertAlertSQL = `INSERT INTO alerts (
        sample_id,
        sample_ts,
        comparison,
        direction,
        apr_pct,
        threshold,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        sample_id,
        sample_ts,
        comparison,
        direction,
        apr_pct,
        threshold,
        channels,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SampleStore defines append-only persistence of arbitrage samples.
type SampleStore interface {
	AppendSample(ctx context.Context, sample ArbitrageSample) error
	ListSamplesBetween(ctx context.Context, from, to time.Time) ([]ArbitrageSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]ArbitrageSample, error)
	CountSamples(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to samples and alerts.
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
// Only the holder emits samples, so two engines can share one database.
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

// AppendSample inserts one sample. Rows are never updated.
func (s *Store) AppendSample(ctx context.Context, sample ArbitrageSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if sample.ID == uuid.Nil {
		sample.ID = uuid.New()
	}

	_, execErr := pool.Exec(ctx, appendSampleSQL,
		sample.ID.String(),
		sample.Timestamp,
		sample.Comparison,
		sample.MakerVenue,
		sample.MakerSymbol,
		sample.TakerVenue,
		sample.TakerSymbol,
		sample.Instrument,
		sample.Direction,
		sample.APR.String(),
		sample.FeeAdjusted,
		sample.MakerPrice.String(),
		sample.TakerPrice.String(),
		int64(sample.Horizon/time.Second),
	)
	if execErr != nil {
		return fmt.Errorf("append sample: %w", execErr)
	}
	return nil
}

// Emit makes the Store usable as a sample sink.
func (s *Store) Emit(ctx context.Context, sample ArbitrageSample) error {
	return s.AppendSample(ctx, sample)
}

// ListSamplesBetween lists samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, from, to time.Time) ([]ArbitrageSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, 0)
}

// ListRecentSamples lists the most recent samples, newest first.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]ArbitrageSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, limit)
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	channels := alert.Channels
	if channels == nil {
		channels = []string{}
	}
	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.SampleID.String(),
		alert.SampleTS,
		alert.Comparison,
		alert.Direction,
		alert.APR.String(),
		alert.Threshold.String(),
		channels,
	)
	if scanErr := row.Scan(&alert.ID, &alert.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return alert, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var (
			rec                  AlertRecord
			sampleID             string
			aprStr, thresholdStr string
		)
		if err := rows.Scan(
			&rec.ID,
			&sampleID,
			&rec.SampleTS,
			&rec.Comparison,
			&rec.Direction,
			&aprStr,
			&thresholdStr,
			&rec.Channels,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		if rec.SampleID, convErr = uuid.Parse(sampleID); convErr != nil {
			return nil, fmt.Errorf("parse sample id: %w", convErr)
		}
		if rec.APR, convErr = decimal.NewFromString(aprStr); convErr != nil {
			return nil, fmt.Errorf("parse apr: %w", convErr)
		}
		if rec.Threshold, convErr = decimal.NewFromString(thresholdStr); convErr != nil {
			return nil, fmt.Errorf("parse threshold: %w", convErr)
		}

		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func collectSamples(rows pgx.Rows, capacity int) ([]ArbitrageSample, error) {
	samples := make([]ArbitrageSample, 0, capacity)
	for rows.Next() {
		sample, scanErr := scanSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

func scanSample(rows pgx.Rows) (ArbitrageSample, error) {
	var (
		id             string
		sample         ArbitrageSample
		aprStr         string
		makerPriceStr  string
		takerPriceStr  string
		horizonSeconds int64
	)

	if err := rows.Scan(
		&id,
		&sample.Timestamp,
		&sample.Comparison,
		&sample.MakerVenue,
		&sample.MakerSymbol,
		&sample.TakerVenue,
		&sample.TakerSymbol,
		&sample.Instrument,
		&sample.Direction,
		&aprStr,
		&sample.FeeAdjusted,
		&makerPriceStr,
		&takerPriceStr,
		&horizonSeconds,
		&sample.CreatedAt,
	); err != nil {
		return ArbitrageSample{}, err
	}

	var err error
	if sample.ID, err = uuid.Parse(id); err != nil {
		return ArbitrageSample{}, fmt.Errorf("parse sample id: %w", err)
	}
	if sample.APR, err = decimal.NewFromString(aprStr); err != nil {
		return ArbitrageSample{}, fmt.Errorf("parse apr: %w", err)
	}
	if sample.MakerPrice, err = decimal.NewFromString(makerPriceStr); err != nil {
		return ArbitrageSample{}, fmt.Errorf("parse maker price: %w", err)
	}
	if sample.TakerPrice, err = decimal.NewFromString(takerPriceStr); err != nil {
		return ArbitrageSample{}, fmt.Errorf("parse taker price: %w", err)
	}
	sample.Horizon = time.Duration(horizonSeconds) * time.Second

	return sample, nil
}
