// Package detector implements the polymorphic anomaly classifier
// (C4): a fixed population-range table and a per-user Gaussian
// baseline, both producing Alert records through the same edge-
// deviation severity rule.
//
// Grounded on original_source/algorithm/range_based_anomaly_detector.py
// and original_source/algorithm/user_baseline_anomaly_detector.py for
// the two strategies' shape, adapted to the unified severity rule in
// spec.md §4.4 (edge-deviation percent, not the original's z-score),
// and on wisefido-alarm/internal/evaluator/evaluator.go for the
// classifier-interface-plus-swap pattern.
package detector

import (
	"math"
	"sync"

	"vitalguard/internal/baseline"
	"vitalguard/internal/model"
)

// normalRanges is the fixed (activity_level, parameter) -> [low, high]
// table from spec.md §4.4.
var normalRanges = map[model.ActivityLevel]map[model.Parameter]model.Range{
	model.ActivityLow: {
		model.ParamHeartRate:   {Low: 60, High: 80},
		model.ParamBPSystolic:  {Low: 110, High: 120},
		model.ParamBPDiastolic: {Low: 70, High: 80},
		model.ParamTemperature: {Low: 36.1, High: 37.2},
		model.ParamOxygenSat:   {Low: 95, High: 100},
	},
	model.ActivityMedium: {
		model.ParamHeartRate:   {Low: 80, High: 100},
		model.ParamBPSystolic:  {Low: 120, High: 140},
		model.ParamBPDiastolic: {Low: 80, High: 90},
		model.ParamTemperature: {Low: 36.5, High: 37.5},
		model.ParamOxygenSat:   {Low: 94, High: 99},
	},
	model.ActivityHigh: {
		model.ParamHeartRate:   {Low: 100, High: 160},
		model.ParamBPSystolic:  {Low: 140, High: 160},
		model.ParamBPDiastolic: {Low: 90, High: 100},
		model.ParamTemperature: {Low: 37.0, High: 38.0},
		model.ParamOxygenSat:   {Low: 92, High: 98},
	},
}

// Classifier is the polymorphic capability both strategies implement.
// It never panics: a missing parameter yields no alert, an unknown
// parameter is ignored (spec.md §4.4 failure semantics).
type Classifier interface {
	Classify(sample model.EnrichedSample) []model.Alert
	Kind() model.DetectorKind
}

// evaluate applies the shared low/high decision and severity rule to
// one present parameter value, returning (alert, flagged).
func evaluate(rng model.Range, parameter model.Parameter, value float64, level model.ActivityLevel, kind model.DetectorKind) (model.Alert, bool) {
	if value >= rng.Low && value <= rng.High {
		return model.Alert{}, false
	}

	edge := rng.Low
	if value > rng.High {
		edge = rng.High
	}
	deviationPercent := 100 * (value - edge) / edge

	return model.Alert{
		Parameter:        parameter,
		Value:            value,
		ActivityLevel:    level,
		NormalRange:      rng,
		DeviationPercent: deviationPercent,
		Severity:         severityFor(deviationPercent),
		DetectorType:     kind,
	}, true
}

// severityFor implements spec.md §4.4's thresholds on |deviation_percent|.
func severityFor(deviationPercent float64) model.Severity {
	abs := math.Abs(deviationPercent)
	switch {
	case abs >= 20:
		return model.SeverityHigh
	case abs >= 10:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// RangeBased classifies against the fixed population table.
type RangeBased struct{}

func (RangeBased) Kind() model.DetectorKind { return model.DetectorRangeBased }

func (RangeBased) Classify(sample model.EnrichedSample) []model.Alert {
	table, ok := normalRanges[sample.ActivityLevel]
	if !ok {
		return nil
	}

	var alerts []model.Alert
	for _, p := range model.VitalParameters {
		value, present := sample.Value(p)
		if !present {
			continue
		}
		rng, ok := table[p]
		if !ok {
			continue
		}
		if alert, flagged := evaluate(rng, p, value, sample.ActivityLevel, model.DetectorRangeBased); flagged {
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

// UserBaseline classifies against mean±2·std_dev of a warm baseline
// cell, falling back to RangeBased for any (activity_level,
// parameter) whose cell is not yet warm (spec.md §4.4).
type UserBaseline struct {
	UserID   string
	Registry *baseline.Registry
	fallback RangeBased
}

func (u UserBaseline) Kind() model.DetectorKind { return model.DetectorUserBaseline }

func (u UserBaseline) Classify(sample model.EnrichedSample) []model.Alert {
	var alerts []model.Alert
	for _, p := range model.VitalParameters {
		value, present := sample.Value(p)
		if !present {
			continue
		}

		rng, ok := u.rangeFor(sample.ActivityLevel, p)
		if !ok {
			continue
		}
		if alert, flagged := evaluate(rng, p, value, sample.ActivityLevel, model.DetectorUserBaseline); flagged {
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

func (u UserBaseline) rangeFor(level model.ActivityLevel, parameter model.Parameter) (model.Range, bool) {
	if u.Registry != nil {
		if cell, ok := u.Registry.Get(u.UserID, level, parameter); ok && cell.Warm() {
			std := cell.StdDev()
			return model.Range{
				Low:  round1(cell.Mean - 2*std),
				High: round1(cell.Mean + 2*std),
			}, true
		}
	}

	table, ok := normalRanges[level]
	if !ok {
		return model.Range{}, false
	}
	rng, ok := table[parameter]
	return rng, ok
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Config is the process-wide DetectorConfig, swapped atomically under
// a single mutex (spec.md §4.4 "single-writer discipline"; §5).
type Config struct {
	mu       sync.Mutex
	active   Classifier
	userID   string
	registry *baseline.Registry
}

// NewConfig constructs a Config seeded with the given classifier kind
// and user, defaulting to Range-Based.
func NewConfig(registry *baseline.Registry, kind model.DetectorKind, userID string) *Config {
	c := &Config{registry: registry}
	c.Set(kind, userID)
	return c
}

// Set installs a new immutable strategy object. Readers always see a
// fully-constructed classifier, never a partially built one.
func (c *Config) Set(kind model.DetectorKind, userID string) {
	var next Classifier
	switch kind {
	case model.DetectorUserBaseline:
		next = UserBaseline{UserID: userID, Registry: c.registry}
	default:
		next = RangeBased{}
		kind = model.DetectorRangeBased
	}

	c.mu.Lock()
	c.active = next
	c.userID = userID
	c.mu.Unlock()
}

// Current returns the active classifier and the configured user_id.
func (c *Config) Current() (Classifier, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.userID
}

// Snapshot returns the current DetectorConfig as a plain value, for
// the API's GET /detector/current and for persistence.
func (c *Config) Snapshot() model.DetectorConfig {
	active, userID := c.Current()
	return model.DetectorConfig{DetectorType: active.Kind(), UserID: userID}
}
