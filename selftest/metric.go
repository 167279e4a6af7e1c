package selftest

import "sync/atomic"

// Metrics holds engine-wide aggregates, separate from any one test result.
// They accumulate across the device's uptime and are reset only by an
// explicit diagnostic command. Counters are atomic so snapshots never
// block the lifecycle scheduler.
type Metrics struct {
	executed atomic.Uint32
	passed   atomic.Uint32
	failed   atomic.Uint32
}

// TotalExecuted returns the number of tests that reached a terminal state.
func (m *Metrics) TotalExecuted() uint32 { return m.executed.Load() }

// TotalPassed returns the number of Completed tests.
func (m *Metrics) TotalPassed() uint32 { return m.passed.Load() }

// TotalFailed returns the number of Failed and Aborted tests.
func (m *Metrics) TotalFailed() uint32 { return m.failed.Load() }

// SuccessRatePercent returns passed/executed as a percentage, or 0 when no
// test has executed.
func (m *Metrics) SuccessRatePercent() float64 {
	executed := m.executed.Load()
	if executed == 0 {
		return 0
	}

	return float64(m.passed.Load()) / float64(executed) * 100
}

// Reset clears all counters.
func (m *Metrics) Reset() {
	m.executed.Store(0)
	m.passed.Store(0)
	m.failed.Store(0)
}

func (m *Metrics) recordOutcome(passed bool) {
	m.executed.Add(1)
	if passed {
		m.passed.Add(1)
	} else {
		m.failed.Add(1)
	}
}
