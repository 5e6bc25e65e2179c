// Package aggregator implements the Trend Aggregator (C5): five
// concurrent time-bucketed downsamplings per numeric parameter, with
// a short-TTL Redis-backed cache so repeated GET /trends calls don't
// hammer the store.
//
// Grounded on original_source/backend/trend_analyzer.py for the five
// scale definitions and wisefido-card-aggregator/internal/aggregator's
// kv.go Redis get/set-with-ttl wrapper (adapted into cache.go's
// domain-specific EnvelopeCache).
package aggregator

import (
	"context"

	"go.uber.org/zap"

	"vitalguard/internal/apperr"
	"vitalguard/internal/model"
)

// TrendStore is the subset of internal/store.Store the aggregator needs.
type TrendStore interface {
	QueryTrend(ctx context.Context, parameter model.Parameter, scale model.TimeScale) (model.TrendSeries, error)
}

// Envelope is the full /trends response body: scale -> parameter -> series.
type Envelope map[model.TimeScale]map[model.Parameter]model.TrendSeries

// Aggregator produces Envelopes on demand.
type Aggregator struct {
	store  TrendStore
	cache  EnvelopeCache
	logger *zap.Logger
}

// New constructs an Aggregator. cache may be nil to disable caching
// (e.g. in tests).
func New(store TrendStore, cache EnvelopeCache, logger *zap.Logger) *Aggregator {
	return &Aggregator{store: store, cache: cache, logger: logger}
}

// Query builds the full five-scale envelope, serving from cache when
// a fresh entry exists.
func (a *Aggregator) Query(ctx context.Context) (Envelope, error) {
	if a.cache != nil {
		if cached, ok := a.cache.Load(ctx); ok {
			return cached, nil
		}
	}

	env := make(Envelope, len(model.TimeScales))
	for _, scale := range model.TimeScales {
		perParam := make(map[model.Parameter]model.TrendSeries, len(model.TrendParameters))
		for _, p := range model.TrendParameters {
			series, err := a.store.QueryTrend(ctx, p, scale)
			if err != nil {
				return nil, apperr.Wrap(apperr.ErrStorage, err)
			}
			perParam[p] = series
		}
		env[scale] = perParam
	}

	if a.cache != nil {
		a.cache.Store(ctx, env)
	}
	return env, nil
}
