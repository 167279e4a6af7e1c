package selftest

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/pulsefw/pulselink/wire"
)

// Result is the outcome of one terminal test run.
type Result struct {
	TestID    uint32
	Type      TestType
	Status    Status
	StartedAt time.Time
	EndedAt   time.Time

	// SuccessRateHundredths is the strategy's success rate in hundredths
	// of a percent: within-tolerance share for timing and calibration,
	// operation success share for stress, correct-verdict share for
	// communication integrity.
	SuccessRateHundredths uint16

	// Exactly one statistics block is non-nil, matching Type.
	Timing      *TimingStats
	Calibration *CalibrationStats
	Stress      *StressStats
	Comm        *CommStats
}

// Passed reports whether the run completed and met its criteria.
func (r *Result) Passed() bool { return r.Status == StatusCompleted }

func newResult(ctx *testContext) *Result {
	r := &Result{
		TestID:    ctx.id,
		Type:      ctx.typ,
		Status:    ctx.status,
		StartedAt: ctx.startedAt,
		EndedAt:   ctx.endedAt,
	}

	switch ctx.typ {
	case TestTimingValidation:
		st := ctx.timing.stats()
		r.Timing = &st
		r.SuccessRateHundredths = st.AccuracyHundredths
	case TestAdcCalibration:
		st := ctx.calib.stats()
		r.Calibration = &st
		r.SuccessRateHundredths = ratioHundredths(st.WithinToleranceCount, st.Samples)
	case TestStress:
		st := ctx.stress.stats()
		r.Stress = &st
		r.SuccessRateHundredths = st.SuccessRateHundredths
	case TestCommIntegrity:
		st := ctx.comm.stats()
		r.Comm = &st
		r.SuccessRateHundredths = ratioHundredths(
			st.ProbesSent-st.ErrorsUndetected-st.CleanRejected, st.ProbesSent)
	}

	return r
}

// --- Wire payload codecs ---
//
// Every payload below shares the protocol's conventions: fixed little-endian
// block first, optional compact int-keyed CBOR tail. Timestamps travel as
// whole unix seconds; sub-second start/end precision does not survive the
// wire.

// Result payload layout (RspTestResult):
//
//	bytes 0-3   test id (u32)
//	byte  4     test type
//	byte  5     status
//	bytes 6-9   start time, unix seconds (u32)
//	bytes 10-13 end time, unix seconds (u32)
//	bytes 14-15 success rate, hundredths of a percent (u16)
//	bytes 16-   CBOR statistics block for the test type
const resultPayloadFixedSize = 16

// EncodeResultPayload serializes a result for an RspTestResult frame.
func EncodeResultPayload(r *Result) ([]byte, error) {
	buf := make([]byte, resultPayloadFixedSize)
	binary.LittleEndian.PutUint32(buf[0:4], r.TestID)
	buf[4] = byte(r.Type)
	buf[5] = byte(r.Status)
	binary.LittleEndian.PutUint32(buf[6:10], uint32(r.StartedAt.Unix()))
	binary.LittleEndian.PutUint32(buf[10:14], uint32(r.EndedAt.Unix()))
	binary.LittleEndian.PutUint16(buf[14:16], r.SuccessRateHundredths)

	var stats any
	switch r.Type {
	case TestTimingValidation:
		stats = r.Timing
	case TestAdcCalibration:
		stats = r.Calibration
	case TestStress:
		stats = r.Stress
	case TestCommIntegrity:
		stats = r.Comm
	}

	tail, err := cbor.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("selftest: encode result stats: %w", err)
	}
	buf = append(buf, tail...)

	if len(buf) > wire.MaxPayloadSize {
		return nil, fmt.Errorf("%w: result payload is %d bytes", wire.ErrPayloadTooLarge, len(buf))
	}

	return buf, nil
}

// DecodeResultPayload parses an RspTestResult payload.
func DecodeResultPayload(payload []byte) (*Result, error) {
	if len(payload) < resultPayloadFixedSize {
		return nil, fmt.Errorf("selftest: result payload is %d bytes, want at least %d",
			len(payload), resultPayloadFixedSize)
	}

	r := &Result{
		TestID:                binary.LittleEndian.Uint32(payload[0:4]),
		Type:                  TestType(payload[4]),
		Status:                Status(payload[5]),
		StartedAt:             time.Unix(int64(binary.LittleEndian.Uint32(payload[6:10])), 0),
		EndedAt:               time.Unix(int64(binary.LittleEndian.Uint32(payload[10:14])), 0),
		SuccessRateHundredths: binary.LittleEndian.Uint16(payload[14:16]),
	}
	if !r.Type.Valid() {
		return nil, fmt.Errorf("selftest: result carries unknown test type %d", payload[4])
	}

	tail := payload[resultPayloadFixedSize:]
	switch r.Type {
	case TestTimingValidation:
		r.Timing = &TimingStats{}
		if err := cbor.Unmarshal(tail, r.Timing); err != nil {
			return nil, fmt.Errorf("selftest: decode timing stats: %w", err)
		}
		r.Timing.ErrorCount = r.Timing.TotalMeasurements - r.Timing.WithinToleranceCount
	case TestAdcCalibration:
		r.Calibration = &CalibrationStats{}
		if err := cbor.Unmarshal(tail, r.Calibration); err != nil {
			return nil, fmt.Errorf("selftest: decode calibration stats: %w", err)
		}
	case TestStress:
		r.Stress = &StressStats{}
		if err := cbor.Unmarshal(tail, r.Stress); err != nil {
			return nil, fmt.Errorf("selftest: decode stress stats: %w", err)
		}
	case TestCommIntegrity:
		r.Comm = &CommStats{}
		if err := cbor.Unmarshal(tail, r.Comm); err != nil {
			return nil, fmt.Errorf("selftest: decode comm stats: %w", err)
		}
	}

	return r, nil
}

// Status payload layout (RspTestStatus):
//
//	bytes 0-3   test id (u32)
//	byte  4     test type
//	byte  5     status
//	bytes 6-9   retained + dropped sample count (u32)
//	bytes 10-13 elapsed time, milliseconds (u32)
const statusPayloadSize = 14

// EncodeStatusPayload serializes a Snapshot for an RspTestStatus frame.
func EncodeStatusPayload(s Snapshot) []byte {
	buf := make([]byte, statusPayloadSize)
	binary.LittleEndian.PutUint32(buf[0:4], s.TestID)
	buf[4] = byte(s.Type)
	buf[5] = byte(s.Status)
	binary.LittleEndian.PutUint32(buf[6:10], s.SampleCount)
	binary.LittleEndian.PutUint32(buf[10:14], uint32(s.Elapsed/time.Millisecond))

	return buf
}

// DecodeStatusPayload parses an RspTestStatus payload.
func DecodeStatusPayload(payload []byte) (Snapshot, error) {
	if len(payload) < statusPayloadSize {
		return Snapshot{}, fmt.Errorf("selftest: status payload is %d bytes, want %d",
			len(payload), statusPayloadSize)
	}

	return Snapshot{
		TestID:      binary.LittleEndian.Uint32(payload[0:4]),
		Type:        TestType(payload[4]),
		Status:      Status(payload[5]),
		SampleCount: binary.LittleEndian.Uint32(payload[6:10]),
		Elapsed:     time.Duration(binary.LittleEndian.Uint32(payload[10:14])) * time.Millisecond,
	}, nil
}

// EngineStats is the decoded form of an RspEngineStats payload.
type EngineStats struct {
	TotalExecuted         uint32
	TotalPassed           uint32
	TotalFailed           uint32
	SuccessRateHundredths uint16
}

// Engine stats payload layout (RspEngineStats): three u32 counters followed
// by the success rate in hundredths of a percent (u16), little-endian.
const engineStatsPayloadSize = 14

// EncodeEngineStatsPayload serializes the engine-wide aggregates.
func EncodeEngineStatsPayload(m *Metrics) []byte {
	buf := make([]byte, engineStatsPayloadSize)
	executed := m.TotalExecuted()
	passed := m.TotalPassed()
	binary.LittleEndian.PutUint32(buf[0:4], executed)
	binary.LittleEndian.PutUint32(buf[4:8], passed)
	binary.LittleEndian.PutUint32(buf[8:12], m.TotalFailed())
	binary.LittleEndian.PutUint16(buf[12:14], ratioHundredths(passed, executed))

	return buf
}

// DecodeEngineStatsPayload parses an RspEngineStats payload.
func DecodeEngineStatsPayload(payload []byte) (EngineStats, error) {
	if len(payload) < engineStatsPayloadSize {
		return EngineStats{}, fmt.Errorf("selftest: engine stats payload is %d bytes, want %d",
			len(payload), engineStatsPayloadSize)
	}

	return EngineStats{
		TotalExecuted:         binary.LittleEndian.Uint32(payload[0:4]),
		TotalPassed:           binary.LittleEndian.Uint32(payload[4:8]),
		TotalFailed:           binary.LittleEndian.Uint32(payload[8:12]),
		SuccessRateHundredths: binary.LittleEndian.Uint16(payload[12:14]),
	}, nil
}

// --- Measurement chunk codec ---

// MeasurementRecord is one raw sample as it travels in an RspMeasurements
// frame. OffsetUs is microseconds since the test started.
type MeasurementRecord struct {
	OffsetUs    uint32
	Expected    int32
	Observed    int32
	CPUPercent  uint8
	OK          bool
	MemoryBytes uint32
}

// Measurement request payload layout (CmdMeasurements):
//
//	bytes 0-3 test id (u32)
//	bytes 4-5 start offset (u16)
//	byte  6   max records requested
const measurementsRequestSize = 7

// Measurement response payload layout (RspMeasurements):
//
//	bytes 0-1 start offset (u16)
//	bytes 2-3 total retained samples (u16)
//	byte  4   record count in this chunk
//	bytes 5-  records, 18 bytes each:
//	          offset µs (u32), expected (i32), observed (i32),
//	          cpu percent, flags (bit0 = ok), memory bytes (u32)
const (
	measurementsHeaderSize = 5
	measurementRecordSize  = 18

	// MeasurementsPerFrame is how many records fit in one frame payload.
	MeasurementsPerFrame = (wire.MaxPayloadSize - measurementsHeaderSize) / measurementRecordSize
)

const recordFlagOK = 1 << 0

// EncodeMeasurementsRequest builds a CmdMeasurements payload.
func EncodeMeasurementsRequest(testID uint32, start uint16, count uint8) []byte {
	buf := make([]byte, measurementsRequestSize)
	binary.LittleEndian.PutUint32(buf[0:4], testID)
	binary.LittleEndian.PutUint16(buf[4:6], start)
	buf[6] = count

	return buf
}

// DecodeMeasurementsRequest parses a CmdMeasurements payload.
func DecodeMeasurementsRequest(payload []byte) (testID uint32, start uint16, count uint8, err error) {
	if len(payload) < measurementsRequestSize {
		return 0, 0, 0, fmt.Errorf("selftest: measurements request is %d bytes, want %d",
			len(payload), measurementsRequestSize)
	}

	return binary.LittleEndian.Uint32(payload[0:4]),
		binary.LittleEndian.Uint16(payload[4:6]),
		payload[6], nil
}

// EncodeMeasurementsPayload builds an RspMeasurements payload from samples
// returned by Engine.Measurements. base is the test start time; at most
// MeasurementsPerFrame samples are encoded.
func EncodeMeasurementsPayload(start uint16, total int, samples []Sample, base time.Time) []byte {
	if len(samples) > MeasurementsPerFrame {
		samples = samples[:MeasurementsPerFrame]
	}
	if total > int(^uint16(0)) {
		total = int(^uint16(0))
	}

	buf := make([]byte, measurementsHeaderSize+len(samples)*measurementRecordSize)
	binary.LittleEndian.PutUint16(buf[0:2], start)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(total))
	buf[4] = uint8(len(samples))

	for i, s := range samples {
		rec := buf[measurementsHeaderSize+i*measurementRecordSize:]

		offset := s.Timestamp.Sub(base).Microseconds()
		if offset < 0 {
			offset = 0
		}
		binary.LittleEndian.PutUint32(rec[0:4], uint32(offset))
		binary.LittleEndian.PutUint32(rec[4:8], uint32(int32(s.Expected)))
		binary.LittleEndian.PutUint32(rec[8:12], uint32(int32(s.Observed)))
		rec[12] = s.CPUPercent
		if s.OK {
			rec[13] = recordFlagOK
		}
		binary.LittleEndian.PutUint32(rec[14:18], s.MemoryBytes)
	}

	return buf
}

// DecodeMeasurementsPayload parses an RspMeasurements payload.
func DecodeMeasurementsPayload(payload []byte) (start uint16, total uint16, records []MeasurementRecord, err error) {
	if len(payload) < measurementsHeaderSize {
		return 0, 0, nil, fmt.Errorf("selftest: measurements payload is %d bytes, want at least %d",
			len(payload), measurementsHeaderSize)
	}

	start = binary.LittleEndian.Uint16(payload[0:2])
	total = binary.LittleEndian.Uint16(payload[2:4])
	count := int(payload[4])

	if len(payload) < measurementsHeaderSize+count*measurementRecordSize {
		return 0, 0, nil, fmt.Errorf("selftest: measurements payload truncated: %d records declared, %d bytes",
			count, len(payload))
	}

	records = make([]MeasurementRecord, count)
	for i := range records {
		rec := payload[measurementsHeaderSize+i*measurementRecordSize:]
		records[i] = MeasurementRecord{
			OffsetUs:    binary.LittleEndian.Uint32(rec[0:4]),
			Expected:    int32(binary.LittleEndian.Uint32(rec[4:8])),
			Observed:    int32(binary.LittleEndian.Uint32(rec[8:12])),
			CPUPercent:  rec[12],
			OK:          rec[13]&recordFlagOK != 0,
			MemoryBytes: binary.LittleEndian.Uint32(rec[14:18]),
		}
	}

	return start, total, records, nil
}
