package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vitalguard/internal/model"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Store{db: db, logger: zap.NewNop()}, mock
}

func TestInsertVitals(t *testing.T) {
	s, mock := newMockStore(t)

	hr := 72.0
	sample := model.EnrichedSample{
		RawSample: model.RawSample{
			Timestamp: time.Now(),
			UserID:    "default",
			Activity:  10,
			HeartRate: &hr,
		},
		ActivityLevel: model.ActivityLow,
	}

	mock.ExpectExec("INSERT INTO vitals").
		WithArgs(sample.Timestamp, sample.UserID, sample.Activity, hr, nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.InsertVitals(context.Background(), sample)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAlert(t *testing.T) {
	s, mock := newMockStore(t)

	a := model.Alert{
		Timestamp:        time.Now(),
		UserID:           "default",
		Parameter:        model.ParamHeartRate,
		Value:            150,
		ActivityLevel:    model.ActivityLow,
		NormalRange:      model.Range{Low: 60, High: 100},
		DeviationPercent: 25,
		Severity:         model.SeverityHigh,
		DetectorType:     model.DetectorRangeBased,
	}

	mock.ExpectQuery("INSERT INTO alerts").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	err := s.InsertAlert(context.Background(), a)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryTrendUnknownScale(t *testing.T) {
	s, _ := newMockStore(t)
	_, err := s.QueryTrend(context.Background(), model.ParamHeartRate, model.TimeScale("bogus"))
	require.Error(t, err)
}

func TestQueryTrendEmptyResultHasEmptySlices(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT time_bucket").
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "avg_value"}))

	series, err := s.QueryTrend(context.Background(), model.ParamHeartRate, model.Scale1Min)
	require.NoError(t, err)
	assert.NotNil(t, series.Times)
	assert.NotNil(t, series.Values)
	assert.Empty(t, series.Times)
}

func TestQueryTrendPopulatesSeries(t *testing.T) {
	s, mock := newMockStore(t)

	t1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 1, 10, 1, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT time_bucket").
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "avg_value"}).
			AddRow(t1, 71.5).
			AddRow(t2, 73.25))

	series, err := s.QueryTrend(context.Background(), model.ParamHeartRate, model.Scale1Min)
	require.NoError(t, err)
	require.Len(t, series.Times, 2)
	assert.Equal(t, 71.5, series.Values[0])
	assert.Equal(t, 73.25, series.Values[1])
}

func TestQueryAlertHistory(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectQuery("SELECT id, time, user_id").
		WithArgs("default", 10).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "time", "user_id", "parameter", "value", "activity_level",
			"normal_low", "normal_high", "deviation_percent", "severity",
			"detector_type", "evidence",
		}).AddRow(1, now, "default", "heart_rate", 150.0, "low", 60.0, 100.0, 25.0, "high", "range_based", nil))

	alerts, err := s.QueryAlertHistory(context.Background(), "default", 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, model.ParamHeartRate, alerts[0].Parameter)
	assert.Empty(t, alerts[0].Evidence)
}

func TestSaveAndLoadConfig(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO system_config").
		WithArgs("user_baseline", "alice").
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := s.SaveConfig(context.Background(), model.DetectorConfig{
		DetectorType: model.DetectorUserBaseline,
		UserID:       "alice",
	})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT key, value FROM system_config").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).
			AddRow("detector_type", "user_baseline").
			AddRow("current_user_id", "alice"))

	cfg, err := s.LoadConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.DetectorUserBaseline, cfg.DetectorType)
	assert.Equal(t, "alice", cfg.UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadConfigDefaultsWhenEmpty(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT key, value FROM system_config").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}))

	cfg, err := s.LoadConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.DetectorRangeBased, cfg.DetectorType)
	assert.Equal(t, "default", cfg.UserID)
}
