package selftest

// TestType identifies a validation test strategy. The set is closed;
// values are part of the wire protocol and never reused.
type TestType uint8

const (
	// TestTimingValidation validates the period accuracy of a periodic
	// real-time activity, such as the 2 Hz pulse output.
	TestTimingValidation TestType = 1
	// TestAdcCalibration validates analog-reading accuracy against a
	// reference reading.
	TestAdcCalibration TestType = 2
	// TestStress exercises the device under synthetic load while sampling
	// resource usage.
	TestStress TestType = 3
	// TestCommIntegrity exercises the frame codec's corruption detection
	// with intentionally damaged frames.
	TestCommIntegrity TestType = 4
)

// Valid reports whether t is a recognized test type.
func (t TestType) Valid() bool {
	switch t {
	case TestTimingValidation, TestAdcCalibration, TestStress, TestCommIntegrity:
		return true
	default:
		return false
	}
}

// String returns a short name for the test type.
func (t TestType) String() string {
	switch t {
	case TestTimingValidation:
		return "timing-validation"
	case TestAdcCalibration:
		return "adc-calibration"
	case TestStress:
		return "stress"
	case TestCommIntegrity:
		return "comm-integrity"
	default:
		return "unknown"
	}
}

// Status represents the lifecycle state of a test context.
type Status uint8

const (
	// StatusIdle is both the initial state and the state reached after a
	// terminal result has been consumed.
	StatusIdle Status = iota
	// StatusRunning indicates the single active test context.
	StatusRunning
	// StatusCompleted indicates the test finished and met its validation
	// criteria.
	StatusCompleted
	// StatusAborted indicates a forced termination: host abort request or
	// resource limit breach.
	StatusAborted
	// StatusFailed indicates the test finished but did not meet its
	// validation criteria.
	StatusFailed
)

// IsTerminal returns true for Completed, Aborted, and Failed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAborted || s == StatusFailed
}

// String returns the state name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusAborted:
		return "aborted"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}
