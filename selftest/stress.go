package selftest

import (
	"math/rand"
	"time"
)

// Stress strategy: measurements are periodic resource snapshots. For every
// snapshot the strategy runs a batch of synthetic operations paced by the
// configured load pattern; a snapshot that exceeds the resource limits
// aborts the test at the next lifecycle update.

// StressStats is the statistics block of a stress result.
type StressStats struct {
	Snapshots       uint32 `cbor:"1,keyasint,omitempty"`
	PeakCPUPercent  uint8  `cbor:"2,keyasint,omitempty"`
	AvgCPUPercent   uint8  `cbor:"3,keyasint,omitempty"`
	PeakMemoryBytes uint32 `cbor:"4,keyasint,omitempty"`
	AvgMemoryBytes  uint32 `cbor:"5,keyasint,omitempty"`
	// StabilityHundredths is the share of snapshots within the configured
	// resource limits, in hundredths of a percent.
	StabilityHundredths   uint16 `cbor:"6,keyasint,omitempty"`
	OpsAttempted          uint32 `cbor:"7,keyasint,omitempty"`
	OpsSucceeded          uint32 `cbor:"8,keyasint,omitempty"`
	SuccessRateHundredths uint16 `cbor:"9,keyasint,omitempty"`
}

const defaultConcurrentOps = 4

type stressState struct {
	cfg    StressParams
	limits ResourceLimits
	rng    *rand.Rand

	snapshots    uint32
	peakCPU      uint8
	sumCPU       uint64
	peakMem      uint32
	sumMem       uint64
	withinLimits uint32
	opsAttempted uint32
	opsSucceeded uint32

	// breached latches a resource-limit violation; the engine turns it
	// into an Aborted status on the next lifecycle update.
	breached bool
}

func newStressState(cfg StressParams, limits ResourceLimits, testID uint32) stressState {
	if cfg.ConcurrentOps == 0 {
		cfg.ConcurrentOps = defaultConcurrentOps
	}
	seed := int64(cfg.Seed)
	if seed == 0 {
		seed = int64(testID)
	}

	return stressState{
		cfg:    cfg,
		limits: limits,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// ingest folds one resource snapshot into the aggregates and runs the
// synthetic operation batch for it.
func (s *stressState) ingest(sample *Sample, startedAt time.Time, duration time.Duration) {
	s.snapshots++

	if sample.CPUPercent > s.peakCPU {
		s.peakCPU = sample.CPUPercent
	}
	s.sumCPU += uint64(sample.CPUPercent)

	if sample.MemoryBytes > s.peakMem {
		s.peakMem = sample.MemoryBytes
	}
	s.sumMem += uint64(sample.MemoryBytes)

	withinLimits := true
	if s.limits.MaxCPUPercent > 0 && sample.CPUPercent > s.limits.MaxCPUPercent {
		withinLimits = false
	}
	if s.limits.MaxMemoryBytes > 0 && sample.MemoryBytes > s.limits.MaxMemoryBytes {
		withinLimits = false
	}
	if withinLimits {
		s.withinLimits++
	} else {
		s.breached = true
	}

	// Synthetic operation batch: the batch size follows the load pattern
	// and an operation succeeds unless the snapshot is over its limits.
	ops := s.batchSize(sample.Timestamp, startedAt, duration)
	s.opsAttempted += ops
	if withinLimits {
		s.opsSucceeded += ops
	}
	sample.OK = withinLimits
}

// batchSize derives the synthetic operation count for one snapshot.
func (s *stressState) batchSize(ts, startedAt time.Time, duration time.Duration) uint32 {
	base := uint32(s.cfg.ConcurrentOps)

	switch s.cfg.Pattern {
	case LoadConstant:
		return base

	case LoadRamp:
		if duration <= 0 {
			return base
		}
		elapsed := ts.Sub(startedAt)
		if elapsed < 0 {
			elapsed = 0
		}
		if elapsed > duration {
			elapsed = duration
		}
		// Scale from 1 up to the full batch across the run.
		scaled := uint32(int64(base) * int64(elapsed) / int64(duration))
		if scaled == 0 {
			scaled = 1
		}

		return scaled

	case LoadBurst:
		// Every fourth snapshot carries a triple batch.
		if s.snapshots%4 == 0 {
			return base * 3
		}

		return 1

	case LoadRandom:
		return uint32(s.rng.Intn(int(base))) + 1

	default:
		return base
	}
}

func (s *stressState) stats() StressStats {
	st := StressStats{
		Snapshots:       s.snapshots,
		PeakCPUPercent:  s.peakCPU,
		PeakMemoryBytes: s.peakMem,
		OpsAttempted:    s.opsAttempted,
		OpsSucceeded:    s.opsSucceeded,
	}
	if s.snapshots > 0 {
		st.AvgCPUPercent = uint8(s.sumCPU / uint64(s.snapshots))
		st.AvgMemoryBytes = uint32(s.sumMem / uint64(s.snapshots))
	}
	st.StabilityHundredths = ratioHundredths(s.withinLimits, s.snapshots)
	st.SuccessRateHundredths = ratioHundredths(s.opsSucceeded, s.opsAttempted)

	return st
}
