package selftest

import "time"

// Sample is a single timestamped measurement collected during a run. The
// field meaning depends on the active strategy:
//
//   - timing validation: Expected/Observed are durations in microseconds.
//   - ADC calibration: Expected is the reference reading, Observed the raw
//     reading, in converter counts.
//   - stress: CPUPercent/MemoryBytes are the resource snapshot and OK marks
//     a successful synthetic operation batch.
//   - communication integrity: Expected is the injected fault kind (see the
//     probeFault constants), Observed is 1 when the codec flagged the frame,
//     and OK marks a correct verdict.
//
// Samples are appended to a bounded sequence owned exclusively by the
// active test context.
type Sample struct {
	Timestamp   time.Time
	Expected    int64
	Observed    int64
	CPUPercent  uint8
	MemoryBytes uint32
	OK          bool
}

// TimingSample builds a timing measurement from expected and observed
// durations.
func TimingSample(expected, observed time.Duration, ts time.Time) Sample {
	return Sample{
		Timestamp: ts,
		Expected:  expected.Microseconds(),
		Observed:  observed.Microseconds(),
	}
}

// CalibrationSample builds a calibration measurement from a reference and a
// raw converter reading.
func CalibrationSample(reference, raw int32, ts time.Time) Sample {
	return Sample{
		Timestamp: ts,
		Expected:  int64(reference),
		Observed:  int64(raw),
	}
}

// StressSample builds a resource snapshot measurement.
func StressSample(cpuPercent uint8, memoryBytes uint32, ts time.Time) Sample {
	return Sample{
		Timestamp:   ts,
		CPUPercent:  cpuPercent,
		MemoryBytes: memoryBytes,
	}
}
