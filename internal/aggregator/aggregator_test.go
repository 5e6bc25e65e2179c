package aggregator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vitalguard/internal/model"
)

type fakeStore struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeStore) QueryTrend(_ context.Context, _ model.Parameter, _ model.TimeScale) (model.TrendSeries, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return model.TrendSeries{Times: []string{}, Values: []float64{}}, nil
}

type memEnvelopeCache struct {
	mu  sync.Mutex
	env Envelope
	set bool
}

func newMemEnvelopeCache() *memEnvelopeCache { return &memEnvelopeCache{} }

func (m *memEnvelopeCache) Load(_ context.Context) (Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set {
		return nil, false
	}
	return m.env, true
}

func (m *memEnvelopeCache) Store(_ context.Context, env Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.env = env
	m.set = true
}

// S5
func TestQueryEmptyStoreReturnsEmptySeriesForEveryScaleAndParameter(t *testing.T) {
	store := &fakeStore{}
	agg := New(store, nil, zap.NewNop())

	env, err := agg.Query(context.Background())
	require.NoError(t, err)

	require.Len(t, env, len(model.TimeScales))
	for _, scale := range model.TimeScales {
		perParam, ok := env[scale]
		require.True(t, ok)
		require.Len(t, perParam, len(model.TrendParameters))
		for _, p := range model.TrendParameters {
			series := perParam[p]
			assert.Empty(t, series.Times)
			assert.Empty(t, series.Values)
		}
	}
}

func TestQueryServesFromCacheOnSecondCall(t *testing.T) {
	store := &fakeStore{}
	cache := newMemEnvelopeCache()
	agg := New(store, cache, zap.NewNop())

	_, err := agg.Query(context.Background())
	require.NoError(t, err)
	firstCalls := store.calls

	_, err = agg.Query(context.Background())
	require.NoError(t, err)

	assert.Equal(t, firstCalls, store.calls, "second query should be served from cache, not hit the store again")
}
