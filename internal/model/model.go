// Package model holds the data types shared across the ingestion,
// detection, aggregation and API layers.
package model

import (
	"math"
	"time"
)

// ActivityLevel is the ternary classification of current motion intensity.
type ActivityLevel string

const (
	ActivityLow    ActivityLevel = "low"
	ActivityMedium ActivityLevel = "medium"
	ActivityHigh   ActivityLevel = "high"
)

// ClassifyActivity derives an ActivityLevel from steps/min.
func ClassifyActivity(activity float64) ActivityLevel {
	switch {
	case activity > 100:
		return ActivityHigh
	case activity > 50:
		return ActivityMedium
	default:
		return ActivityLow
	}
}

// Parameter names the five vital-sign parameters the detector classifies.
// "activity" itself is carried along but never classified.
type Parameter string

const (
	ParamHeartRate    Parameter = "heart_rate"
	ParamBPSystolic   Parameter = "blood_pressure_systolic"
	ParamBPDiastolic  Parameter = "blood_pressure_diastolic"
	ParamTemperature  Parameter = "temperature"
	ParamOxygenSat    Parameter = "oxygen_saturation"
)

// VitalParameters lists the parameters in a fixed, stable order used
// wherever alerts or baselines are enumerated.
var VitalParameters = []Parameter{
	ParamHeartRate,
	ParamBPSystolic,
	ParamBPDiastolic,
	ParamTemperature,
	ParamOxygenSat,
}

// TrendParameters additionally includes activity, which the trend
// aggregator downsamples but the detector never classifies.
var TrendParameters = append(append([]Parameter{}, VitalParameters...), Parameter("activity"))

// RawSample is a single per-subject reading as published on the raw
// vitals topic. Any vital field may be absent.
type RawSample struct {
	Timestamp             time.Time `json:"timestamp"`
	UserID                string    `json:"user_id,omitempty"`
	Activity              float64   `json:"activity"`
	HeartRate             *float64  `json:"heart_rate,omitempty"`
	BloodPressureSystolic *float64  `json:"blood_pressure_systolic,omitempty"`
	BloodPressureDiastolic *float64 `json:"blood_pressure_diastolic,omitempty"`
	Temperature           *float64  `json:"temperature,omitempty"`
	OxygenSaturation      *float64  `json:"oxygen_saturation,omitempty"`
}

// Value returns the value of the named parameter and whether it was present.
func (s RawSample) Value(p Parameter) (float64, bool) {
	switch p {
	case ParamHeartRate:
		return derefOK(s.HeartRate)
	case ParamBPSystolic:
		return derefOK(s.BloodPressureSystolic)
	case ParamBPDiastolic:
		return derefOK(s.BloodPressureDiastolic)
	case ParamTemperature:
		return derefOK(s.Temperature)
	case ParamOxygenSat:
		return derefOK(s.OxygenSaturation)
	default:
		return 0, false
	}
}

func derefOK(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}

// EnrichedSample is a RawSample with the derived activity level attached.
type EnrichedSample struct {
	RawSample
	ActivityLevel ActivityLevel `json:"activity_level"`
}

// Severity is monotone in the absolute deviation percent of an alert.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// DetectorKind names the two interchangeable detector strategies.
type DetectorKind string

const (
	DetectorRangeBased   DetectorKind = "range_based"
	DetectorUserBaseline DetectorKind = "user_baseline"
)

// Range is an inclusive [Low, High] normal-value range for one
// (activity level, parameter) pair.
type Range struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Alert records a single anomalous parameter observation.
type Alert struct {
	ID               int64        `json:"id"`
	Timestamp        time.Time    `json:"timestamp"`
	UserID           string       `json:"user_id"`
	Parameter        Parameter    `json:"parameter"`
	Value            float64      `json:"value"`
	ActivityLevel    ActivityLevel `json:"activity_level"`
	NormalRange      Range        `json:"normal_range"`
	DeviationPercent float64      `json:"deviation_percent"`
	Severity         Severity     `json:"severity"`
	DetectorType     DetectorKind `json:"detector_type"`
	// Evidence is an optional human-readable note on which
	// range/baseline produced the decision. The store persists and
	// reads it back; the detectors in internal/detector leave it empty.
	// Additive beyond the base spec; see SPEC_FULL.md §12.4.
	Evidence string `json:"evidence,omitempty"`
}

// BaselineCell is the running Gaussian summary for one
// (user_id, activity_level, parameter) key, updated via Welford's
// online algorithm.
type BaselineCell struct {
	Count int64
	Mean  float64
	M2    float64
}

// Warm reports whether the cell has accumulated enough samples for
// the user-baseline detector to trust it over the population range.
func (c BaselineCell) Warm() bool {
	return c.Count >= 30
}

// StdDev returns the sample standard deviation, or 0 if undefined.
func (c BaselineCell) StdDev() float64 {
	if c.Count < 2 {
		return 0
	}
	v := c.M2 / float64(c.Count-1)
	if v < 0 {
		// InternalError per spec.md §7: clamp rather than propagate
		// a negative variance caused by floating point error.
		v = 0
	}
	return math.Sqrt(v)
}

// DetectorConfig is the process-wide active-detector singleton.
type DetectorConfig struct {
	DetectorType DetectorKind `json:"detector_type"`
	UserID       string       `json:"user_id"`
}

// TrendPoint is a single downsampled (bucket_time, mean_value) pair.
type TrendPoint struct {
	Time  string  `json:"time"`
	Value float64 `json:"value"`
}

// TrendSeries is an ordered sequence of TrendPoints for one
// (parameter, time scale).
type TrendSeries struct {
	Times  []string  `json:"times"`
	Values []float64 `json:"values"`
}

// TimeScale names one of the five fixed aggregation resolutions.
type TimeScale string

const (
	Scale1Min  TimeScale = "1min"
	Scale30Min TimeScale = "30min"
	Scale1Hour TimeScale = "1h"
	Scale1Day  TimeScale = "1day"
	Scale7Day  TimeScale = "7day"
)

// TimeScales lists every scale in the order the API renders them.
var TimeScales = []TimeScale{Scale1Min, Scale30Min, Scale1Hour, Scale1Day, Scale7Day}
