package selftest

import "errors"

var (
	// ErrTestAborted is returned by ExecuteTest when a test context is
	// already running. The active context and its test id are unaffected.
	ErrTestAborted = errors.New("test rejected, another test is active")

	// ErrParameterInvalid indicates test parameters outside the accepted
	// ranges; the test is rejected before it starts.
	ErrParameterInvalid = errors.New("invalid test parameters")

	// ErrNoActiveTest indicates an operation that requires a test context
	// when the engine is idle.
	ErrNoActiveTest = errors.New("no active test")
)
