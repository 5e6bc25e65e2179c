package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalguard/internal/baseline"
	"vitalguard/internal/model"
)

func ptr(v float64) *float64 { return &v }

func restSample(hr float64) model.EnrichedSample {
	return model.EnrichedSample{
		RawSample: model.RawSample{
			UserID:                 "alice",
			Activity:               20,
			HeartRate:              ptr(hr),
			BloodPressureSystolic:  ptr(115),
			BloodPressureDiastolic: ptr(75),
			Temperature:            ptr(36.8),
			OxygenSaturation:       ptr(98),
		},
		ActivityLevel: model.ActivityLow,
	}
}

// S1
func TestRangeBasedNormalSampleNoAlerts(t *testing.T) {
	alerts := RangeBased{}.Classify(restSample(72))
	assert.Empty(t, alerts)
}

// S2
func TestRangeBasedHighHeartRateAtRest(t *testing.T) {
	alerts := RangeBased{}.Classify(restSample(150))
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, model.ParamHeartRate, a.Parameter)
	assert.Equal(t, model.Range{Low: 60, High: 80}, a.NormalRange)
	assert.InDelta(t, 87.5, a.DeviationPercent, 0.01)
	assert.Equal(t, model.SeverityHigh, a.Severity)
}

// S3
func TestUserBaselineFallsBackWhenUnwarm(t *testing.T) {
	reg := baseline.New()
	ub := UserBaseline{UserID: "alice", Registry: reg}
	alerts := ub.Classify(restSample(150))
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, model.Range{Low: 60, High: 80}, a.NormalRange)
	assert.Equal(t, model.DetectorUserBaseline, a.DetectorType)
}

// S4
func TestUserBaselineLearnsThenFlagsOutsideTwoSigma(t *testing.T) {
	reg := baseline.New()
	means := []float64{65, 64, 66, 68, 62, 65, 63, 67, 65, 64}
	for round := 0; round < 5; round++ {
		for _, hr := range means {
			reg.Update("alice", model.ActivityLow, model.ParamHeartRate, hr)
		}
	}

	ub := UserBaseline{UserID: "alice", Registry: reg}

	normal := ub.Classify(restSample(65))
	assert.Empty(t, normal, "65 should be within mean ± 2*std_dev")

	flagged := ub.Classify(restSample(80))
	require.Len(t, flagged, 1)
	assert.Equal(t, model.ParamHeartRate, flagged[0].Parameter)
}

// P2
func TestRangeBasedNeverAlertsInsideRangeAlwaysOutside(t *testing.T) {
	inside := RangeBased{}.Classify(restSample(70))
	assert.Empty(t, inside)

	for _, v := range []float64{40, 200} {
		outside := RangeBased{}.Classify(restSample(v))
		assert.Len(t, outside, 1)
	}
}

// P3
func TestSeverityIsPureFunctionOfDeviationPercent(t *testing.T) {
	cases := []struct {
		deviation float64
		want      model.Severity
	}{
		{0, model.SeverityLow},
		{9.9, model.SeverityLow},
		{10, model.SeverityMedium},
		{19.9, model.SeverityMedium},
		{20, model.SeverityHigh},
		{-25, model.SeverityHigh},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, severityFor(c.deviation))
	}
}

func TestMissingParameterYieldsNoAlert(t *testing.T) {
	sample := model.EnrichedSample{
		RawSample:     model.RawSample{UserID: "alice", Activity: 20},
		ActivityLevel: model.ActivityLow,
	}
	alerts := RangeBased{}.Classify(sample)
	assert.Empty(t, alerts)
}

func TestConfigSwapIsVisibleToReaders(t *testing.T) {
	reg := baseline.New()
	cfg := NewConfig(reg, model.DetectorRangeBased, "default")

	active, userID := cfg.Current()
	assert.Equal(t, model.DetectorRangeBased, active.Kind())
	assert.Equal(t, "default", userID)

	cfg.Set(model.DetectorUserBaseline, "alice")
	active, userID = cfg.Current()
	assert.Equal(t, model.DetectorUserBaseline, active.Kind())
	assert.Equal(t, "alice", userID)

	snap := cfg.Snapshot()
	assert.Equal(t, model.DetectorConfig{DetectorType: model.DetectorUserBaseline, UserID: "alice"}, snap)
}
