package selftest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStressStateAggregates(t *testing.T) {
	limits := ResourceLimits{MaxCPUPercent: 80, MaxMemoryBytes: 100 * 1024}
	st := newStressState(StressParams{Pattern: LoadConstant, ConcurrentOps: 4}, limits, 7)

	start := time.Now()
	snapshots := []struct {
		cpu uint8
		mem uint32
	}{
		{cpu: 40, mem: 50 * 1024},
		{cpu: 60, mem: 70 * 1024},
		{cpu: 80, mem: 100 * 1024}, // at the limits, still within
	}
	for i, snap := range snapshots {
		s := StressSample(snap.cpu, snap.mem, start.Add(time.Duration(i)*time.Second))
		st.ingest(&s, start, 10*time.Second)
		assert.True(t, s.OK)
	}

	require.False(t, st.breached)

	stats := st.stats()
	assert.Equal(t, uint32(3), stats.Snapshots)
	assert.Equal(t, uint8(80), stats.PeakCPUPercent)
	assert.Equal(t, uint8(60), stats.AvgCPUPercent)
	assert.Equal(t, uint32(100*1024), stats.PeakMemoryBytes)
	assert.Equal(t, uint16(10000), stats.StabilityHundredths)
	assert.Equal(t, uint32(12), stats.OpsAttempted)
	assert.Equal(t, uint32(12), stats.OpsSucceeded)
	assert.Equal(t, uint16(10000), stats.SuccessRateHundredths)
}

func TestStressStateLatchesBreach(t *testing.T) {
	limits := ResourceLimits{MaxCPUPercent: 80}
	st := newStressState(StressParams{}, limits, 1)

	start := time.Now()
	s := StressSample(81, 0, start)
	st.ingest(&s, start, time.Second)

	assert.False(t, s.OK)
	assert.True(t, st.breached)

	stats := st.stats()
	assert.Equal(t, uint16(0), stats.StabilityHundredths)
	assert.Equal(t, stats.OpsAttempted, uint32(defaultConcurrentOps))
	assert.Zero(t, stats.OpsSucceeded)
}

func TestStressBatchSizePatterns(t *testing.T) {
	start := time.Now()
	duration := 10 * time.Second

	t.Run("constant", func(t *testing.T) {
		st := newStressState(StressParams{Pattern: LoadConstant, ConcurrentOps: 6}, ResourceLimits{}, 1)
		assert.Equal(t, uint32(6), st.batchSize(start, start, duration))
		assert.Equal(t, uint32(6), st.batchSize(start.Add(duration), start, duration))
	})

	t.Run("ramp", func(t *testing.T) {
		st := newStressState(StressParams{Pattern: LoadRamp, ConcurrentOps: 8}, ResourceLimits{}, 1)
		assert.Equal(t, uint32(1), st.batchSize(start, start, duration))
		assert.Equal(t, uint32(4), st.batchSize(start.Add(duration/2), start, duration))
		assert.Equal(t, uint32(8), st.batchSize(start.Add(duration), start, duration))
		// Past the deadline the batch stays clamped at full size.
		assert.Equal(t, uint32(8), st.batchSize(start.Add(2*duration), start, duration))
	})

	t.Run("burst", func(t *testing.T) {
		st := newStressState(StressParams{Pattern: LoadBurst, ConcurrentOps: 4}, ResourceLimits{}, 1)
		var sizes []uint32
		for i := 0; i < 8; i++ {
			st.snapshots++
			sizes = append(sizes, st.batchSize(start, start, duration))
		}
		assert.Equal(t, []uint32{1, 1, 1, 12, 1, 1, 1, 12}, sizes)
	})

	t.Run("random is bounded and reproducible", func(t *testing.T) {
		a := newStressState(StressParams{Pattern: LoadRandom, ConcurrentOps: 5, Seed: 42}, ResourceLimits{}, 1)
		b := newStressState(StressParams{Pattern: LoadRandom, ConcurrentOps: 5, Seed: 42}, ResourceLimits{}, 2)
		for i := 0; i < 32; i++ {
			got := a.batchSize(start, start, duration)
			assert.Equal(t, got, b.batchSize(start, start, duration))
			assert.GreaterOrEqual(t, got, uint32(1))
			assert.LessOrEqual(t, got, uint32(5))
		}
	})
}
