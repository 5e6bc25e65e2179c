package ingestion

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vitalguard/internal/baseline"
	"vitalguard/internal/detector"
	"vitalguard/internal/metrics"
	"vitalguard/internal/model"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeStore struct {
	mu     sync.Mutex
	vitals []model.EnrichedSample
	alerts []model.Alert
}

func (f *fakeStore) InsertVitals(_ context.Context, s model.EnrichedSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vitals = append(f.vitals, s)
	return nil
}

func (f *fakeStore) InsertAlert(_ context.Context, a model.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	vitals   []model.EnrichedSample
	alerts   []model.Alert
	orderSeq []time.Time
}

func (f *fakePublisher) PublishVitals(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := v.(model.EnrichedSample)
	f.vitals = append(f.vitals, s)
	f.orderSeq = append(f.orderSeq, s.Timestamp)
	return nil
}

func (f *fakePublisher) PublishAlert(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, v.(model.Alert))
	return nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *fakeStore, *fakePublisher) {
	t.Helper()
	reg := baseline.New()
	cfg := detector.NewConfig(reg, model.DetectorRangeBased, "default")
	store := &fakeStore{}
	pub := &fakePublisher{}
	m := metrics.New(prometheus.NewRegistry())
	p := New(4, 64, cfg, reg, store, pub, zap.NewNop(), m)
	return p, store, pub
}

func sampleJSON(t *testing.T, ts time.Time, userID string, hr float64) []byte {
	t.Helper()
	raw := model.RawSample{
		Timestamp: ts,
		UserID:    userID,
		Activity:  20,
		HeartRate: ptrFloat(hr),
	}
	b, err := json.Marshal(raw)
	require.NoError(t, err)
	return b
}

func ptrFloat(v float64) *float64 { return &v }

func TestIngestRejectsMissingTimestamp(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	err := p.Ingest(context.Background(), []byte(`{"user_id":"alice","activity":10}`))
	assert.Error(t, err)
}

func TestIngestRejectsUnparseableJSON(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	err := p.Ingest(context.Background(), []byte(`not json`))
	assert.Error(t, err)
}

func TestIngestDefaultsEmptyUserID(t *testing.T) {
	p, store, pub := newTestPipeline(t)
	p.Start(context.Background())
	defer p.Stop()

	payload := sampleJSON(t, time.Now(), "", 72)
	require.NoError(t, p.Ingest(context.Background(), payload))

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.vitals) == 1
	}, time.Second, 5*time.Millisecond)

	pub.mu.Lock()
	assert.Equal(t, "default", pub.vitals[0].UserID)
	pub.mu.Unlock()
	_ = store
}

// P6: round trip — a sample published appears on vitals with
// identical numeric fields plus correct activity_level.
func TestRoundTripPreservesFieldsAndAddsActivityLevel(t *testing.T) {
	p, store, pub := newTestPipeline(t)
	p.Start(context.Background())
	defer p.Stop()

	ts := time.Now()
	payload := sampleJSON(t, ts, "alice", 72)
	require.NoError(t, p.Ingest(context.Background(), payload))

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.vitals) == 1
	}, time.Second, 5*time.Millisecond)

	store.mu.Lock()
	got := store.vitals[0]
	store.mu.Unlock()

	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, 20.0, got.Activity)
	require.NotNil(t, got.HeartRate)
	assert.Equal(t, 72.0, *got.HeartRate)
	assert.Equal(t, model.ActivityLow, got.ActivityLevel)

	pub.mu.Lock()
	assert.Len(t, pub.vitals, 1)
	pub.mu.Unlock()
}

// P5: per-user FIFO — two samples for the same user_id published in
// order A, B are processed (and therefore published downstream) in
// order A, B.
func TestPerUserFIFOOrderingIsPreserved(t *testing.T) {
	p, _, pub := newTestPipeline(t)
	p.Start(context.Background())
	defer p.Stop()

	base := time.Now()
	for i := 0; i < 20; i++ {
		ts := base.Add(time.Duration(i) * time.Millisecond)
		payload := sampleJSON(t, ts, "alice", 72)
		require.NoError(t, p.Ingest(context.Background(), payload))
	}

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.vitals) == 20
	}, time.Second, 5*time.Millisecond)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	for i := 1; i < len(pub.orderSeq); i++ {
		assert.True(t, pub.orderSeq[i].After(pub.orderSeq[i-1]) || pub.orderSeq[i].Equal(pub.orderSeq[i-1]))
	}
}

func TestFlaggedParameterDoesNotUpdateBaseline(t *testing.T) {
	reg := baseline.New()
	cfg := detector.NewConfig(reg, model.DetectorRangeBased, "default")
	store := &fakeStore{}
	pub := &fakePublisher{}
	m := metrics.New(prometheus.NewRegistry())
	p := New(2, 16, cfg, reg, store, pub, zap.NewNop(), m)

	p.process(context.Background(), model.RawSample{
		Timestamp: time.Now(),
		UserID:    "alice",
		Activity:  20,
		HeartRate: ptrFloat(150), // outside [60,80] at rest -> flagged
	})

	_, ok := reg.Get("alice", model.ActivityLow, model.ParamHeartRate)
	assert.False(t, ok, "flagged parameter must not update the baseline")
}
