package selftest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinTimingTolerance(t *testing.T) {
	// 1% of a 500 ms nominal period, all in microseconds.
	const expected = 500000
	const tolH = 100

	tests := []struct {
		name        string
		deviationUs int64
		want        bool
	}{
		{name: "exact", deviationUs: 0, want: true},
		{name: "inside band", deviationUs: 3000, want: true},
		{name: "at boundary slow", deviationUs: 5000, want: true},
		{name: "at boundary fast", deviationUs: -5000, want: true},
		{name: "just outside slow", deviationUs: 5001, want: false},
		{name: "just outside fast", deviationUs: -5001, want: false},
		{name: "one millisecond past boundary", deviationUs: 6000, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, withinTimingTolerance(tt.deviationUs, expected, tolH))
		})
	}

	// A non-positive expected period can never be within tolerance.
	assert.False(t, withinTimingTolerance(0, 0, tolH))
	assert.False(t, withinTimingTolerance(0, -1, tolH))
}

func TestClassifyDeviation(t *testing.T) {
	assert.Equal(t, TooSlow, classifyDeviation(6000))
	assert.Equal(t, TooFast, classifyDeviation(-6000))
	assert.Equal(t, "too-slow", TooSlow.String())
	assert.Equal(t, "too-fast", TooFast.String())
}

func TestTimingStateAggregates(t *testing.T) {
	st := &timingState{cfg: TimingParams{ExpectedPeriodUs: 500000}}
	base := time.Now()

	// 505 ms sits exactly on the 1% boundary; 506 ms is a 6000 µs
	// too-slow deviation; 493 ms is a 7000 µs too-fast deviation.
	observed := []time.Duration{
		500 * time.Millisecond,
		505 * time.Millisecond,
		506 * time.Millisecond,
		493 * time.Millisecond,
	}
	for i, obs := range observed {
		s := TimingSample(500*time.Millisecond, obs, base.Add(time.Duration(i)*500*time.Millisecond))
		st.ingest(&s, 100)
	}

	stats := st.stats()
	assert.Equal(t, uint32(4), stats.TotalMeasurements)
	assert.Equal(t, uint32(2), stats.WithinToleranceCount)
	assert.Equal(t, uint32(1), stats.TooSlowCount)
	assert.Equal(t, uint32(1), stats.TooFastCount)
	assert.Equal(t, int64(7000), stats.MaxDeviationUs)
	assert.Equal(t, uint16(5000), stats.AccuracyHundredths)

	// Largest jump between consecutive observations: 506 ms -> 493 ms.
	assert.Equal(t, int64(13000), stats.MaxJitterUs)
}

func TestTimingStateSubstitutesNominalPeriod(t *testing.T) {
	st := &timingState{cfg: TimingParams{ExpectedPeriodUs: 500000}}

	s := Sample{Observed: 506000}
	st.ingest(&s, 100)

	require.Equal(t, int64(500000), s.Expected)
	assert.Equal(t, uint32(1), st.tooSlow)
}

func TestDetectDeviations(t *testing.T) {
	samples := []Sample{
		{Expected: 500000, Observed: 500000},
		{Expected: 500000, Observed: 505000},
		{Expected: 500000, Observed: 506000},
		{Expected: 500000, Observed: 490000},
	}

	devs := detectDeviations(samples, 100)
	require.Len(t, devs, 2)

	assert.Equal(t, int64(6000), devs[0].DeviationUs)
	assert.Equal(t, TooSlow, devs[0].Kind)
	assert.Equal(t, int64(-10000), devs[1].DeviationUs)
	assert.Equal(t, TooFast, devs[1].Kind)
}

func TestRatioHundredths(t *testing.T) {
	assert.Equal(t, uint16(0), ratioHundredths(1, 0))
	assert.Equal(t, uint16(10000), ratioHundredths(7, 7))
	assert.Equal(t, uint16(5000), ratioHundredths(1, 2))
	assert.Equal(t, uint16(3333), ratioHundredths(1, 3))
	assert.Equal(t, uint16(6667), ratioHundredths(2, 3))
}

func TestTimingIngestSetsSampleVerdict(t *testing.T) {
	st := &timingState{cfg: TimingParams{ExpectedPeriodUs: 500000}}
	now := time.Now()

	// 1% band around 500 ms: +2 ms is inside, +6 ms is outside.
	in := TimingSample(500*time.Millisecond, 502*time.Millisecond, now)
	st.ingest(&in, 100)
	assert.True(t, in.OK)

	out := TimingSample(500*time.Millisecond, 506*time.Millisecond, now)
	st.ingest(&out, 100)
	assert.False(t, out.OK)
}
