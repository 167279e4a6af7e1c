package selftest

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/pulsefw/pulselink/wire"
)

// Accepted parameter ranges. Tests outside these bounds are rejected with
// ErrParameterInvalid before anything starts.
const (
	MinTestDuration = 100 * time.Millisecond
	MaxTestDuration = 5 * time.Minute

	MaxTolerancePercent = 50.0

	MinSampleRate = 1
	MaxSampleRate = 10000

	// DeviceMemoryCapacity bounds ResourceLimits.MaxMemoryBytes; tests may
	// not claim more memory than the device carries.
	DeviceMemoryCapacity = 256 * 1024
)

// ResourceLimits caps what a running test may consume.
type ResourceLimits struct {
	MaxCPUPercent  uint8
	MaxMemoryBytes uint32

	// AllowPreemption signals to the scheduler that a long-running test
	// step may be interrupted by higher-priority work. The engine records
	// the intent for execution-time accounting; it does not enforce it.
	AllowPreemption bool
}

// ValidationCriteria decides Completed versus Failed when a test finishes.
type ValidationCriteria struct {
	MinSuccessRatePercent  uint8
	RequireStableOperation bool
}

// Parameters configures one test run.
type Parameters struct {
	Duration         time.Duration
	TolerancePercent float64
	SampleRate       uint16
	Limits           ResourceLimits
	Criteria         ValidationCriteria

	// StrategyParams is an opaque CBOR block interpreted per test type;
	// see TimingParams, CalibrationParams, StressParams, and CommParams.
	StrategyParams []byte
}

// toleranceHundredths returns the tolerance in hundredths of a percent,
// the integer form used by all deviation math.
func (p *Parameters) toleranceHundredths() uint16 {
	return uint16(math.Round(p.TolerancePercent * 100))
}

// Validate checks every field against device capacity and accepted ranges.
func (p *Parameters) Validate() error {
	if p.Duration < MinTestDuration || p.Duration > MaxTestDuration {
		return fmt.Errorf("%w: duration %v out of range [%v, %v]",
			ErrParameterInvalid, p.Duration, MinTestDuration, MaxTestDuration)
	}
	if p.TolerancePercent <= 0 || p.TolerancePercent > MaxTolerancePercent {
		return fmt.Errorf("%w: tolerance %.2f%% out of range (0, %.0f]",
			ErrParameterInvalid, p.TolerancePercent, MaxTolerancePercent)
	}
	if p.SampleRate < MinSampleRate || p.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: sample rate %d out of range [%d, %d]",
			ErrParameterInvalid, p.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if p.Limits.MaxCPUPercent > 100 {
		return fmt.Errorf("%w: max CPU %d%% exceeds 100%%", ErrParameterInvalid, p.Limits.MaxCPUPercent)
	}
	if p.Limits.MaxMemoryBytes > DeviceMemoryCapacity {
		return fmt.Errorf("%w: max memory %d exceeds device capacity %d",
			ErrParameterInvalid, p.Limits.MaxMemoryBytes, DeviceMemoryCapacity)
	}
	if p.Criteria.MinSuccessRatePercent > 100 {
		return fmt.Errorf("%w: min success rate %d%% exceeds 100%%",
			ErrParameterInvalid, p.Criteria.MinSuccessRatePercent)
	}

	return nil
}

// --- Strategy-specific parameter blocks ---
//
// Each block is carried as a compact int-keyed CBOR map inside
// Parameters.StrategyParams. Zero values select the documented defaults.

// TimingParams configures the timing-validation strategy.
type TimingParams struct {
	// ExpectedPeriodUs is the nominal period in microseconds used when a
	// measurement does not carry its own expected value.
	// Default: 500000 (the 2 Hz pulse output).
	ExpectedPeriodUs int64 `cbor:"1,keyasint,omitempty"`
}

// CalibrationParams configures the ADC calibration strategy.
type CalibrationParams struct {
	// ReferenceReading is the expected raw reading for the applied
	// reference input. Default: 2048 (mid-scale).
	ReferenceReading int32 `cbor:"1,keyasint,omitempty"`
	// FullScale is the converter's full-scale count. Default: 4095.
	FullScale int32 `cbor:"2,keyasint,omitempty"`
}

// LoadPattern selects how the stress strategy paces synthetic operations.
type LoadPattern uint8

const (
	LoadConstant LoadPattern = iota
	LoadRamp
	LoadBurst
	LoadRandom
)

// String returns the pattern name.
func (p LoadPattern) String() string {
	switch p {
	case LoadConstant:
		return "constant"
	case LoadRamp:
		return "ramp"
	case LoadBurst:
		return "burst"
	case LoadRandom:
		return "random"
	default:
		return "unknown"
	}
}

// StressParams configures the stress strategy.
type StressParams struct {
	Pattern LoadPattern `cbor:"1,keyasint,omitempty"`
	// ConcurrentOps is the synthetic operation count per resource
	// snapshot. Default: 4.
	ConcurrentOps uint8 `cbor:"2,keyasint,omitempty"`
	// Seed makes the random pattern reproducible. Default: derived from
	// the test id.
	Seed uint32 `cbor:"3,keyasint,omitempty"`
}

// CommParams configures the communication-integrity strategy.
type CommParams struct {
	// ProbesPerTick bounds codec probes per lifecycle update. Default: 4.
	ProbesPerTick uint8 `cbor:"1,keyasint,omitempty"`
	// CorruptEvery flips one bit in every n-th probe. Default: 3.
	CorruptEvery uint8 `cbor:"2,keyasint,omitempty"`
	// TruncateEvery truncates every n-th probe. Default: 5.
	TruncateEvery uint8 `cbor:"3,keyasint,omitempty"`
}

// EncodeStrategyParams marshals a strategy block (one of the *Params
// structs above) to its CBOR form.
func EncodeStrategyParams(v any) ([]byte, error) {
	data, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("selftest: encode strategy params: %w", err)
	}

	return data, nil
}

func decodeStrategyParams(data []byte, v any) error {
	if len(data) == 0 {
		return nil // defaults apply
	}
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed strategy block: %w", ErrParameterInvalid, err)
	}

	return nil
}

// --- Wire payload codec for the start-test command ---
//
// The payload layout is fixed little-endian followed by the optional CBOR
// strategy block:
//
//	byte  0     TestType
//	bytes 1-4   duration, milliseconds (u32)
//	bytes 5-6   tolerance, hundredths of a percent (u16)
//	bytes 7-8   sample rate, Hz (u16)
//	byte  9     max CPU percent
//	bytes 10-13 max memory bytes (u32)
//	byte  14    min success rate percent
//	byte  15    flags: bit0 allow-preemption, bit1 require-stable
//	bytes 16-   CBOR strategy block (optional)
const startPayloadFixedSize = 16

const (
	startFlagAllowPreemption = 1 << 0
	startFlagRequireStable   = 1 << 1
)

// EncodeStartPayload builds the CmdStartTest payload. Host and device share
// this codec, so both ends agree on the layout by construction.
func EncodeStartPayload(typ TestType, p *Parameters) ([]byte, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown test type %d", ErrParameterInvalid, typ)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if startPayloadFixedSize+len(p.StrategyParams) > wire.MaxPayloadSize {
		return nil, fmt.Errorf("%w: strategy block %d bytes exceeds frame capacity",
			ErrParameterInvalid, len(p.StrategyParams))
	}

	buf := make([]byte, startPayloadFixedSize, startPayloadFixedSize+len(p.StrategyParams))
	buf[0] = byte(typ)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(p.Duration/time.Millisecond))
	binary.LittleEndian.PutUint16(buf[5:7], p.toleranceHundredths())
	binary.LittleEndian.PutUint16(buf[7:9], p.SampleRate)
	buf[9] = p.Limits.MaxCPUPercent
	binary.LittleEndian.PutUint32(buf[10:14], p.Limits.MaxMemoryBytes)
	buf[14] = p.Criteria.MinSuccessRatePercent

	var flags byte
	if p.Limits.AllowPreemption {
		flags |= startFlagAllowPreemption
	}
	if p.Criteria.RequireStableOperation {
		flags |= startFlagRequireStable
	}
	buf[15] = flags

	return append(buf, p.StrategyParams...), nil
}

// DecodeStartPayload parses a CmdStartTest payload.
func DecodeStartPayload(payload []byte) (TestType, *Parameters, error) {
	if len(payload) < startPayloadFixedSize {
		return 0, nil, fmt.Errorf("%w: start payload is %d bytes, want at least %d",
			ErrParameterInvalid, len(payload), startPayloadFixedSize)
	}

	typ := TestType(payload[0])
	if !typ.Valid() {
		return 0, nil, fmt.Errorf("%w: unknown test type %d", ErrParameterInvalid, payload[0])
	}

	flags := payload[15]
	p := &Parameters{
		Duration:         time.Duration(binary.LittleEndian.Uint32(payload[1:5])) * time.Millisecond,
		TolerancePercent: float64(binary.LittleEndian.Uint16(payload[5:7])) / 100,
		SampleRate:       binary.LittleEndian.Uint16(payload[7:9]),
		Limits: ResourceLimits{
			MaxCPUPercent:   payload[9],
			MaxMemoryBytes:  binary.LittleEndian.Uint32(payload[10:14]),
			AllowPreemption: flags&startFlagAllowPreemption != 0,
		},
		Criteria: ValidationCriteria{
			MinSuccessRatePercent:  payload[14],
			RequireStableOperation: flags&startFlagRequireStable != 0,
		},
	}

	if len(payload) > startPayloadFixedSize {
		p.StrategyParams = make([]byte, len(payload)-startPayloadFixedSize)
		copy(p.StrategyParams, payload[startPayloadFixedSize:])
	}

	if err := p.Validate(); err != nil {
		return 0, nil, err
	}

	return typ, p, nil
}
