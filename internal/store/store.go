// Package store implements the Time-Series Store Adapter (C2):
// connection pool, schema, single-row inserts, and windowed aggregation
// queries against Postgres/TimescaleDB.
//
// Grounded on owl-common/database/postgres.go for pool construction,
// wisefido-alarm/internal/repository/alarm_events.go for the
// context-scoped, parameterized-query style, and
// original_source/backend/mqtt_backend.py's init_db /
// original_source/backend/trend_analyzer.py for the exact schema and
// time_bucket query shape.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"vitalguard/internal/apperr"
	"vitalguard/internal/config"
	"vitalguard/internal/model"
)

const queryTimeout = 5 * time.Second

// Store wraps a *sql.DB connection pool.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens the connection pool and pings it once.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrStorage, fmt.Errorf("open database: %w", err))
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 8
	}
	db.SetMaxOpenConns(maxConns)
	maxIdle := cfg.MaxIdle
	if maxIdle <= 0 {
		maxIdle = maxConns
	}
	db.SetMaxIdleConns(maxIdle)

	if err := db.Ping(); err != nil {
		return nil, apperr.Wrap(apperr.ErrStorage, fmt.Errorf("ping database: %w", err))
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the vitals hypertable, alerts table, and
// system_config table if they do not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vitals (
			time TIMESTAMPTZ NOT NULL,
			user_id TEXT NOT NULL DEFAULT 'default',
			activity DOUBLE PRECISION,
			heart_rate DOUBLE PRECISION,
			blood_pressure_systolic DOUBLE PRECISION,
			blood_pressure_diastolic DOUBLE PRECISION,
			temperature DOUBLE PRECISION,
			oxygen_saturation DOUBLE PRECISION
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			time TIMESTAMPTZ NOT NULL,
			user_id TEXT NOT NULL,
			parameter TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			activity_level TEXT NOT NULL,
			normal_low DOUBLE PRECISION NOT NULL,
			normal_high DOUBLE PRECISION NOT NULL,
			deviation_percent DOUBLE PRECISION NOT NULL,
			severity TEXT NOT NULL,
			detector_type TEXT NOT NULL,
			evidence TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS system_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vitals_time ON vitals (time)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_user_time ON alerts (user_id, time DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperr.Wrap(apperr.ErrStorage, fmt.Errorf("ensure schema: %w", err))
		}
	}

	// Best-effort: promote vitals to a TimescaleDB hypertable. Not
	// every deployment target has the extension; any error here is
	// logged at Info and ignored, mirroring init_db's try/except in the
	// original backend.
	_, err := s.db.ExecContext(ctx, `SELECT create_hypertable('vitals', 'time', if_not_exists => TRUE)`)
	if err != nil {
		s.logger.Info("hypertable conversion skipped", zap.Error(err))
	}

	return nil
}

// InsertVitals persists one enriched sample. Errors are logged by the
// caller's best-effort contract (spec.md §4.2): this method returns
// the error so callers can count it in metrics, but ingestion must
// never block on it.
func (s *Store) InsertVitals(ctx context.Context, sample model.EnrichedSample) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const q = `INSERT INTO vitals
		(time, user_id, activity, heart_rate, blood_pressure_systolic, blood_pressure_diastolic, temperature, oxygen_saturation)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, q,
		sample.Timestamp,
		sample.UserID,
		sample.Activity,
		nullableFloat(sample.HeartRate),
		nullableFloat(sample.BloodPressureSystolic),
		nullableFloat(sample.BloodPressureDiastolic),
		nullableFloat(sample.Temperature),
		nullableFloat(sample.OxygenSaturation),
	)
	if err != nil {
		return apperr.Wrap(apperr.ErrStorage, fmt.Errorf("insert vitals: %w", err))
	}
	return nil
}

// InsertAlert persists one alert. Same best-effort contract as InsertVitals.
func (s *Store) InsertAlert(ctx context.Context, a model.Alert) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const q = `INSERT INTO alerts
		(time, user_id, parameter, value, activity_level, normal_low, normal_high, deviation_percent, severity, detector_type, evidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	err := s.db.QueryRowContext(ctx, q,
		a.Timestamp, a.UserID, a.Parameter, a.Value, a.ActivityLevel,
		a.NormalRange.Low, a.NormalRange.High, a.DeviationPercent,
		a.Severity, a.DetectorType, nullableString(a.Evidence),
	).Scan(&a.ID)
	if err != nil {
		return apperr.Wrap(apperr.ErrStorage, fmt.Errorf("insert alert: %w", err))
	}
	return nil
}

// scaleConfig is the (bucket interval, lookback window, Go time
// format) triple for one trend scale, ported from
// original_source/backend/trend_analyzer.py's time_ranges table.
type scaleConfig struct {
	bucketInterval string // Postgres interval literal for time_bucket
	lookback       time.Duration
	goTimeFormat   string
}

var scaleConfigs = map[model.TimeScale]scaleConfig{
	model.Scale1Min:  {"5 seconds", time.Minute, "15:04:05"},
	model.Scale30Min: {"1 minute", 30 * time.Minute, "15:04"},
	model.Scale1Hour:  {"5 minutes", time.Hour, "15:04"},
	model.Scale1Day:  {"1 hour", 24 * time.Hour, "01-02 15"},
	model.Scale7Day:  {"1 day", 7 * 24 * time.Hour, "2006-01-02"},
}

// QueryTrend returns the per-bucket mean of parameter within scale's
// window, ordered by bucket ascending. Buckets with zero samples are
// omitted by construction (the GROUP BY only emits rows that exist).
func (s *Store) QueryTrend(ctx context.Context, parameter model.Parameter, scale model.TimeScale) (model.TrendSeries, error) {
	sc, ok := scaleConfigs[scale]
	if !ok {
		return model.TrendSeries{}, apperr.Wrap(apperr.ErrInternal, fmt.Errorf("unknown time scale %q", scale))
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// parameter is restricted to the fixed TrendParameters set by the
	// caller (internal/aggregator), never user input, so building the
	// column name into the query text is safe.
	q := fmt.Sprintf(`
		SELECT time_bucket('%s', time) AS bucket, AVG(%s) AS avg_value
		FROM vitals
		WHERE %s IS NOT NULL AND time >= $1
		GROUP BY bucket
		ORDER BY bucket ASC`, sc.bucketInterval, parameter, parameter)

	start := time.Now().Add(-sc.lookback)
	rows, err := s.db.QueryContext(ctx, q, start)
	if err != nil {
		return model.TrendSeries{}, apperr.Wrap(apperr.ErrStorage, fmt.Errorf("query trend: %w", err))
	}
	defer rows.Close()

	var series model.TrendSeries
	for rows.Next() {
		var bucket time.Time
		var avg float64
		if err := rows.Scan(&bucket, &avg); err != nil {
			return model.TrendSeries{}, apperr.Wrap(apperr.ErrStorage, fmt.Errorf("scan trend row: %w", err))
		}
		series.Times = append(series.Times, bucket.Format(sc.goTimeFormat))
		series.Values = append(series.Values, round2(avg))
	}
	if err := rows.Err(); err != nil {
		return model.TrendSeries{}, apperr.Wrap(apperr.ErrStorage, fmt.Errorf("iterate trend rows: %w", err))
	}

	if series.Times == nil {
		series.Times = []string{}
		series.Values = []float64{}
	}
	return series, nil
}

// QueryAlertHistory returns up to limit alerts for userID, newest first.
func (s *Store) QueryAlertHistory(ctx context.Context, userID string, limit int) ([]model.Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const q = `SELECT id, time, user_id, parameter, value, activity_level, normal_low, normal_high, deviation_percent, severity, detector_type, evidence
		FROM alerts WHERE user_id = $1 ORDER BY time DESC LIMIT $2`

	rows, err := s.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrStorage, fmt.Errorf("query alert history: %w", err))
	}
	defer rows.Close()

	alerts := make([]model.Alert, 0, limit)
	for rows.Next() {
		var a model.Alert
		var evidence sql.NullString
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.UserID, &a.Parameter, &a.Value,
			&a.ActivityLevel, &a.NormalRange.Low, &a.NormalRange.High,
			&a.DeviationPercent, &a.Severity, &a.DetectorType, &evidence); err != nil {
			return nil, apperr.Wrap(apperr.ErrStorage, fmt.Errorf("scan alert row: %w", err))
		}
		a.Evidence = evidence.String
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.ErrStorage, fmt.Errorf("iterate alert rows: %w", err))
	}
	return alerts, nil
}

// SaveConfig persists the active DetectorConfig so it survives a
// restart. Supplemented from original_source/backend/mqtt_backend.py's
// system_config table (see SPEC_FULL.md §12.1).
func (s *Store) SaveConfig(ctx context.Context, cfg model.DetectorConfig) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const q = `INSERT INTO system_config (key, value, updated_at)
		VALUES ('detector_type', $1, NOW()), ('current_user_id', $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

	if _, err := s.db.ExecContext(ctx, q, string(cfg.DetectorType), cfg.UserID); err != nil {
		return apperr.Wrap(apperr.ErrStorage, fmt.Errorf("save config: %w", err))
	}
	return nil
}

// LoadConfig loads the persisted DetectorConfig, if any. A missing
// row for either key is not an error: the caller falls back to its
// own default.
func (s *Store) LoadConfig(ctx context.Context) (model.DetectorConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM system_config WHERE key IN ('detector_type', 'current_user_id')`)
	if err != nil {
		return model.DetectorConfig{}, apperr.Wrap(apperr.ErrStorage, fmt.Errorf("load config: %w", err))
	}
	defer rows.Close()

	cfg := model.DetectorConfig{DetectorType: model.DetectorRangeBased, UserID: "default"}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return model.DetectorConfig{}, apperr.Wrap(apperr.ErrStorage, fmt.Errorf("scan config row: %w", err))
		}
		switch key {
		case "detector_type":
			if value == string(model.DetectorRangeBased) || value == string(model.DetectorUserBaseline) {
				cfg.DetectorType = model.DetectorKind(value)
			} else {
				s.logger.Warn("persisted detector_type is invalid, using range_based", zap.String("detector_type", value))
			}
		case "current_user_id":
			if value != "" {
				cfg.UserID = value
			}
		}
	}
	return cfg, rows.Err()
}

func nullableFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func round2(v float64) float64 {
	return float64(int64(v*100+sign(v)*0.5)) / 100
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
