// Package selftest implements the device's test orchestration engine: a
// single-active-test state machine that runs parameterized validation tests
// and produces structured results.
//
// # Lifecycle
//
// A test context moves through
//
//	Idle → Running → {Completed | Failed} → (result read) → Idle
//
// with Aborted reachable from Running on a host abort request or a resource
// limit breach. At most one context is ever Running; a new test request
// while one is active is rejected, never queued.
//
// # Strategies
//
// The strategy set is closed: timing validation, ADC calibration, stress,
// and communication integrity. Dispatch is an exhaustive switch over
// TestType; adding a strategy means adding a variant and its switch arms,
// never subclassing.
//
// # Scheduling contract
//
// All engine operations return immediately and perform bounded work. The
// engine is driven by periodic calls to UpdateActiveTest from the device's
// processing routine; measurement ingestion never creates, finishes, or
// fails a test. Callers pass the current time explicitly, keeping the
// engine free of timer state and deterministic under test.
package selftest
