package selftest

// ADC calibration strategy: measurements are reference/raw reading pairs;
// the run passes when enough readings land within the tolerance band
// around the reference.

// CalibrationStats is the statistics block of a calibration result.
type CalibrationStats struct {
	Samples uint32 `cbor:"1,keyasint,omitempty"`
	// AccuracyHundredths is 10000 minus the mean absolute error in
	// hundredths of a percent, clamped at zero.
	AccuracyHundredths uint16 `cbor:"2,keyasint,omitempty"`
	// ErrorHundredths is the mean absolute error versus the reference
	// reading, in hundredths of a percent.
	ErrorHundredths uint32 `cbor:"3,keyasint,omitempty"`
	// WorstErrorCounts is the largest absolute raw-vs-reference gap seen,
	// in converter counts.
	WorstErrorCounts int64 `cbor:"4,keyasint,omitempty"`
	// WithinToleranceCount counts readings whose error percentage is at
	// most the test tolerance.
	WithinToleranceCount uint32 `cbor:"5,keyasint,omitempty"`
}

type calibrationState struct {
	cfg CalibrationParams

	total       uint32
	within      uint32
	sumErrPct   float64
	worstCounts int64
}

// ingest folds one reference/raw pair into the aggregates, substituting the
// configured reference when the sample does not carry one.
func (s *calibrationState) ingest(sample *Sample, tolHundredths uint16) {
	if sample.Expected == 0 {
		sample.Expected = int64(s.cfg.ReferenceReading)
	}

	s.total++

	diff := sample.Observed - sample.Expected
	if diff < 0 {
		diff = -diff
	}
	if diff > s.worstCounts {
		s.worstCounts = diff
	}

	if sample.Expected <= 0 {
		// No usable reference; the reading counts as a full error.
		s.sumErrPct += 100

		return
	}
	if s.cfg.FullScale > 0 && (sample.Observed < 0 || sample.Observed > int64(s.cfg.FullScale)) {
		// Out-of-range readings indicate a converter fault, not a
		// calibration offset; they can never be within tolerance.
		s.sumErrPct += 100

		return
	}

	errPct := float64(diff) / float64(sample.Expected) * 100
	s.sumErrPct += errPct

	// Same inclusive boundary as the timing band.
	sample.OK = diff*10000 <= int64(tolHundredths)*sample.Expected
	if sample.OK {
		s.within++
	}
}

func (s *calibrationState) stats() CalibrationStats {
	st := CalibrationStats{
		Samples:              s.total,
		WorstErrorCounts:     s.worstCounts,
		WithinToleranceCount: s.within,
	}
	if s.total > 0 {
		meanErrPct := s.sumErrPct / float64(s.total)
		st.ErrorHundredths = uint32(meanErrPct*100 + 0.5)
		if st.ErrorHundredths < 10000 {
			st.AccuracyHundredths = uint16(10000 - st.ErrorHundredths)
		}
	}

	return st
}

// successRatePercent is the share of readings within tolerance.
func (s *calibrationState) successRatePercent() float64 {
	if s.total == 0 {
		return 0
	}

	return float64(s.within) / float64(s.total) * 100
}
