package selftest

// Timing-deviation analysis: the canonical strategy, applicable to any
// periodic real-time activity being validated (e.g. a 2 Hz pulse with a
// 500 ms nominal period).
//
// All math is integer microseconds. A measurement is within tolerance iff
//
//	|observed - expected| * 10000 <= toleranceHundredths * expected
//
// which is deviation_percent <= tolerance_percent with an inclusive
// boundary: at 1% of 500 ms, an observed 505 ms is exactly at the boundary
// and counts as within tolerance; 506 ms is a TooSlow deviation of 6000 µs.

// DeviationKind classifies an out-of-tolerance timing measurement.
type DeviationKind uint8

const (
	// TooSlow means the observed duration exceeded the expected one.
	TooSlow DeviationKind = iota
	// TooFast means the observed duration fell short of the expected one.
	TooFast
)

// String returns the classification name.
func (k DeviationKind) String() string {
	if k == TooSlow {
		return "too-slow"
	}

	return "too-fast"
}

// TimingDeviation is one measurement exceeding the tolerance band.
type TimingDeviation struct {
	// DeviationUs is observed minus expected, in microseconds (signed).
	DeviationUs int64
	Kind        DeviationKind
}

// DeviationReport aggregates the deviations of the current test context.
type DeviationReport struct {
	TotalMeasurements uint32
	TotalDeviations   uint32
	MaxDeviationUs    int64
	TooSlowCount      uint32
	TooFastCount      uint32
	TolerancePercent  float64
}

// TimingStats is the statistics block of a timing-validation result.
// Rates travel as integer hundredths of a percent, the same fixed-point
// convention the tolerance uses on the wire.
type TimingStats struct {
	TotalMeasurements    uint32 `cbor:"1,keyasint,omitempty"`
	WithinToleranceCount uint32 `cbor:"2,keyasint,omitempty"`
	// ErrorCount is total minus within; derived on decode, never wired.
	ErrorCount uint32 `cbor:"-"`
	// AccuracyHundredths is the within-tolerance share, 0..10000.
	AccuracyHundredths uint16 `cbor:"4,keyasint,omitempty"`
	MaxDeviationUs     int64  `cbor:"5,keyasint,omitempty"`
	MaxJitterUs        int64  `cbor:"6,keyasint,omitempty"`
	TooSlowCount       uint32 `cbor:"7,keyasint,omitempty"`
	TooFastCount       uint32 `cbor:"8,keyasint,omitempty"`
}

// withinTimingTolerance reports whether a deviation is inside the band.
// The boundary is inclusive. A non-positive expected duration can never be
// within tolerance.
func withinTimingTolerance(deviationUs, expectedUs int64, tolHundredths uint16) bool {
	if expectedUs <= 0 {
		return false
	}

	abs := deviationUs
	if abs < 0 {
		abs = -abs
	}

	return abs*10000 <= int64(tolHundredths)*expectedUs
}

// classifyDeviation maps a signed deviation to its kind: TooSlow when
// observed > expected.
func classifyDeviation(deviationUs int64) DeviationKind {
	if deviationUs > 0 {
		return TooSlow
	}

	return TooFast
}

// timingState accumulates timing aggregates incrementally so statistics
// cover every ingested measurement even if the raw sample buffer fills up.
type timingState struct {
	cfg TimingParams

	total    uint32
	within   uint32
	errs     uint32
	tooSlow  uint32
	tooFast  uint32
	maxAbsUs int64

	maxJitterUs    int64
	lastObservedUs int64
	hasLast        bool
}

// ingest folds one measurement into the aggregates. It substitutes the
// configured nominal period when the sample carries no expected value.
func (s *timingState) ingest(sample *Sample, tolHundredths uint16) {
	if sample.Expected == 0 {
		sample.Expected = s.cfg.ExpectedPeriodUs
	}

	deviation := sample.Observed - sample.Expected
	abs := deviation
	if abs < 0 {
		abs = -abs
	}

	s.total++
	if abs > s.maxAbsUs {
		s.maxAbsUs = abs
	}

	sample.OK = withinTimingTolerance(deviation, sample.Expected, tolHundredths)
	if sample.OK {
		s.within++
	} else {
		s.errs++
		if classifyDeviation(deviation) == TooSlow {
			s.tooSlow++
		} else {
			s.tooFast++
		}
	}

	if s.hasLast {
		jitter := sample.Observed - s.lastObservedUs
		if jitter < 0 {
			jitter = -jitter
		}
		if jitter > s.maxJitterUs {
			s.maxJitterUs = jitter
		}
	}
	s.lastObservedUs = sample.Observed
	s.hasLast = true
}

func (s *timingState) stats() TimingStats {
	st := TimingStats{
		TotalMeasurements:    s.total,
		WithinToleranceCount: s.within,
		ErrorCount:           s.errs,
		MaxDeviationUs:       s.maxAbsUs,
		MaxJitterUs:          s.maxJitterUs,
		TooSlowCount:         s.tooSlow,
		TooFastCount:         s.tooFast,
	}
	st.AccuracyHundredths = ratioHundredths(s.within, s.total)

	return st
}

// ratioHundredths returns num/den in hundredths of a percent, rounded to
// nearest, or 0 when den is zero.
func ratioHundredths(num, den uint32) uint16 {
	if den == 0 {
		return 0
	}

	return uint16((uint64(num)*10000 + uint64(den)/2) / uint64(den))
}

// detectDeviations re-evaluates the stored samples against the given
// tolerance, emitting one entry per out-of-tolerance measurement.
func detectDeviations(samples []Sample, tolHundredths uint16) []TimingDeviation {
	var out []TimingDeviation
	for i := range samples {
		deviation := samples[i].Observed - samples[i].Expected
		if withinTimingTolerance(deviation, samples[i].Expected, tolHundredths) {
			continue
		}

		out = append(out, TimingDeviation{
			DeviationUs: deviation,
			Kind:        classifyDeviation(deviation),
		})
	}

	return out
}
