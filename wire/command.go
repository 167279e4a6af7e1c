package wire

// CommandType identifies the operation a frame requests or the kind of
// response it carries. The set is closed and versioned with the protocol;
// values with bit 7 set are device-to-host responses (EnterBootloader,
// 0x7F, is deliberately the last command value).
type CommandType byte

// Host-to-device command types.
const (
	// CmdPing requests an acknowledgment echoing the payload back.
	CmdPing CommandType = 0x01
	// CmdStartTest starts a self-test. The payload carries the test type,
	// the fixed parameter block, and an optional CBOR strategy block.
	CmdStartTest CommandType = 0x02
	// CmdAbortTest force-terminates the running test.
	CmdAbortTest CommandType = 0x03
	// CmdTestStatus queries the engine's current test id and status.
	CmdTestStatus CommandType = 0x04
	// CmdTestResult fetches the result of a terminal test and consumes it.
	CmdTestResult CommandType = 0x05
	// CmdMeasurements fetches a chunk of raw measurements of the terminal test.
	CmdMeasurements CommandType = 0x06
	// CmdEngineStats queries the engine-wide pass/fail aggregates.
	CmdEngineStats CommandType = 0x07
	// CmdResetStats resets queue and engine statistics counters.
	CmdResetStats CommandType = 0x08
	// CmdDiagLog drains pending diagnostic log lines.
	CmdDiagLog CommandType = 0x09
	// CmdSafetyStatus queries the battery safety predicate and flag byte.
	CmdSafetyStatus CommandType = 0x0A
	// CmdEnterBootloader triggers the one-way bootloader entry action.
	// Once acknowledged, no further traffic is expected from the device.
	CmdEnterBootloader CommandType = 0x7F
)

// Device-to-host response types.
const (
	// RspAck acknowledges a command that produces no dedicated response.
	RspAck CommandType = 0x80
	// RspError reports a failure; the payload starts with an ErrorCode byte
	// followed by an optional ASCII diagnostic string.
	RspError CommandType = 0x81
	// RspTestResult carries a serialized test result.
	RspTestResult CommandType = 0x82
	// RspTestStatus carries the engine status snapshot.
	RspTestStatus CommandType = 0x83
	// RspMeasurements carries a chunk of raw measurements.
	RspMeasurements CommandType = 0x84
	// RspEngineStats carries engine-wide aggregates.
	RspEngineStats CommandType = 0x85
	// RspDiagLog carries formatted diagnostic log lines.
	RspDiagLog CommandType = 0x86
	// RspSafetyStatus carries the safety predicate and flag byte.
	RspSafetyStatus CommandType = 0x87
)

// IsResponse returns true for device-to-host response types.
func (t CommandType) IsResponse() bool {
	return t&0x80 != 0
}

// Valid reports whether t belongs to the closed command/response set.
func (t CommandType) Valid() bool {
	switch t {
	case CmdPing, CmdStartTest, CmdAbortTest, CmdTestStatus, CmdTestResult,
		CmdMeasurements, CmdEngineStats, CmdResetStats, CmdDiagLog,
		CmdSafetyStatus, CmdEnterBootloader,
		RspAck, RspError, RspTestResult, RspTestStatus, RspMeasurements,
		RspEngineStats, RspDiagLog, RspSafetyStatus:
		return true
	default:
		return false
	}
}

// String returns a short name for the command type.
func (t CommandType) String() string {
	switch t {
	case CmdPing:
		return "ping"
	case CmdStartTest:
		return "start-test"
	case CmdAbortTest:
		return "abort-test"
	case CmdTestStatus:
		return "test-status"
	case CmdTestResult:
		return "test-result"
	case CmdMeasurements:
		return "measurements"
	case CmdEngineStats:
		return "engine-stats"
	case CmdResetStats:
		return "reset-stats"
	case CmdDiagLog:
		return "diag-log"
	case CmdSafetyStatus:
		return "safety-status"
	case CmdEnterBootloader:
		return "enter-bootloader"
	case RspAck:
		return "rsp-ack"
	case RspError:
		return "rsp-error"
	case RspTestResult:
		return "rsp-test-result"
	case RspTestStatus:
		return "rsp-test-status"
	case RspMeasurements:
		return "rsp-measurements"
	case RspEngineStats:
		return "rsp-engine-stats"
	case RspDiagLog:
		return "rsp-diag-log"
	case RspSafetyStatus:
		return "rsp-safety-status"
	default:
		return "unknown"
	}
}

// ErrorCode is the first payload byte of an RspError frame.
type ErrorCode byte

const (
	// ErrCodeFormat reports an unsupported command type.
	ErrCodeFormat ErrorCode = 0x01
	// ErrCodeIntegrity reports a token mismatch. It appears only in
	// statistics; frames failing integrity are dropped without a response.
	ErrCodeIntegrity ErrorCode = 0x02
	// ErrCodeQueueFull reports that a command or response was dropped.
	ErrCodeQueueFull ErrorCode = 0x03
	// ErrCodeTimeout reports that a command was evicted before processing.
	ErrCodeTimeout ErrorCode = 0x04
	// ErrCodeTestAborted reports rejection of a new test while one is
	// active, or a forced termination.
	ErrCodeTestAborted ErrorCode = 0x05
	// ErrCodeTransmission reports a response that exhausted its retry budget.
	ErrCodeTransmission ErrorCode = 0x06
	// ErrCodeParameterInvalid reports test parameters outside accepted ranges.
	ErrCodeParameterInvalid ErrorCode = 0x07
	// ErrCodeNoSuchTest reports a result query for an unknown or unfinished test.
	ErrCodeNoSuchTest ErrorCode = 0x08
	// ErrCodeBusy reports a command that cannot run in the current state.
	ErrCodeBusy ErrorCode = 0x09
)

// String returns a short name for the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeFormat:
		return "format"
	case ErrCodeIntegrity:
		return "integrity"
	case ErrCodeQueueFull:
		return "queue-full"
	case ErrCodeTimeout:
		return "timeout"
	case ErrCodeTestAborted:
		return "test-aborted"
	case ErrCodeTransmission:
		return "transmission"
	case ErrCodeParameterInvalid:
		return "parameter-invalid"
	case ErrCodeNoSuchTest:
		return "no-such-test"
	case ErrCodeBusy:
		return "busy"
	default:
		return "unknown"
	}
}
