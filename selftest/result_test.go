package selftest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsefw/pulselink/wire"
)

func TestResultPayloadRoundTrip(t *testing.T) {
	start := time.Unix(1700000000, 0)
	end := start.Add(2 * time.Second)

	tests := []struct {
		name   string
		result *Result
	}{
		{
			name: "timing",
			result: &Result{
				TestID: 7, Type: TestTimingValidation, Status: StatusCompleted,
				StartedAt: start, EndedAt: end, SuccessRateHundredths: 9950,
				Timing: &TimingStats{
					TotalMeasurements:    4000,
					WithinToleranceCount: 3980,
					ErrorCount:           20,
					AccuracyHundredths:   9950,
					MaxDeviationUs:       6100,
					MaxJitterUs:          12000,
					TooSlowCount:         15,
					TooFastCount:         5,
				},
			},
		},
		{
			name: "calibration",
			result: &Result{
				TestID: 8, Type: TestAdcCalibration, Status: StatusFailed,
				StartedAt: start, EndedAt: end, SuccessRateHundredths: 6000,
				Calibration: &CalibrationStats{
					Samples:              500,
					AccuracyHundredths:   9786,
					ErrorHundredths:      214,
					WorstErrorCounts:     98,
					WithinToleranceCount: 300,
				},
			},
		},
		{
			name: "stress",
			result: &Result{
				TestID: 9, Type: TestStress, Status: StatusAborted,
				StartedAt: start, EndedAt: end, SuccessRateHundredths: 4200,
				Stress: &StressStats{
					Snapshots: 120, PeakCPUPercent: 97, AvgCPUPercent: 64,
					PeakMemoryBytes: 200 * 1024, AvgMemoryBytes: 150 * 1024,
					StabilityHundredths: 9000, OpsAttempted: 480, OpsSucceeded: 201,
					SuccessRateHundredths: 4200,
				},
			},
		},
		{
			name: "comm",
			result: &Result{
				TestID: 10, Type: TestCommIntegrity, Status: StatusCompleted,
				StartedAt: start, EndedAt: end, SuccessRateHundredths: 10000,
				Comm: &CommStats{
					ProbesSent: 240, FaultsInjected: 112,
					ErrorsDetected: 112,
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := EncodeResultPayload(tt.result)
			require.NoError(t, err)
			require.LessOrEqual(t, len(payload), wire.MaxPayloadSize,
				"result payload must fit one frame")

			decoded, err := DecodeResultPayload(payload)
			require.NoError(t, err)
			assert.Equal(t, tt.result, decoded)
		})
	}
}

func TestResultPayloadWorstCaseFitsFrame(t *testing.T) {
	// Every statistics field at a large value must still fit the frame.
	r := &Result{
		TestID: ^uint32(0), Type: TestTimingValidation, Status: StatusFailed,
		StartedAt: time.Unix(1700000000, 0), EndedAt: time.Unix(1700000300, 0),
		SuccessRateHundredths: 10000,
		Timing: &TimingStats{
			TotalMeasurements:    3000000,
			WithinToleranceCount: 2999999,
			AccuracyHundredths:   10000,
			MaxDeviationUs:       299999999,
			MaxJitterUs:          299999999,
			TooSlowCount:         3000000,
			TooFastCount:         3000000,
		},
	}

	payload, err := EncodeResultPayload(r)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(payload), wire.MaxPayloadSize)
}

func TestDecodeResultPayloadRejections(t *testing.T) {
	_, err := DecodeResultPayload(make([]byte, 10))
	require.Error(t, err)

	r := &Result{
		TestID: 1, Type: TestCommIntegrity, Status: StatusCompleted,
		StartedAt: time.Unix(1700000000, 0), EndedAt: time.Unix(1700000002, 0),
		Comm: &CommStats{ProbesSent: 1},
	}
	payload, err := EncodeResultPayload(r)
	require.NoError(t, err)

	payload[4] = 0x99 // unknown test type
	_, err = DecodeResultPayload(payload)
	require.Error(t, err)
}

func TestStatusPayloadRoundTrip(t *testing.T) {
	snap := Snapshot{
		TestID:      42,
		Type:        TestStress,
		Status:      StatusRunning,
		SampleCount: 1234,
		Elapsed:     90 * time.Second,
	}

	payload := EncodeStatusPayload(snap)
	require.Len(t, payload, statusPayloadSize)

	decoded, err := DecodeStatusPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, snap, decoded)

	_, err = DecodeStatusPayload(payload[:5])
	require.Error(t, err)
}

func TestEngineStatsPayloadRoundTrip(t *testing.T) {
	var m Metrics
	m.recordOutcome(true)
	m.recordOutcome(true)
	m.recordOutcome(false)

	payload := EncodeEngineStatsPayload(&m)
	require.Len(t, payload, engineStatsPayloadSize)

	stats, err := DecodeEngineStatsPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), stats.TotalExecuted)
	assert.Equal(t, uint32(2), stats.TotalPassed)
	assert.Equal(t, uint32(1), stats.TotalFailed)
	assert.Equal(t, uint16(6667), stats.SuccessRateHundredths)

	_, err = DecodeEngineStatsPayload(payload[:3])
	require.Error(t, err)
}

func TestMeasurementsRequestRoundTrip(t *testing.T) {
	payload := EncodeMeasurementsRequest(77, 120, 3)

	testID, start, count, err := DecodeMeasurementsRequest(payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(77), testID)
	assert.Equal(t, uint16(120), start)
	assert.Equal(t, uint8(3), count)

	_, _, _, err = DecodeMeasurementsRequest(payload[:4])
	require.Error(t, err)
}

func TestMeasurementsPayloadRoundTrip(t *testing.T) {
	base := time.Unix(1700000000, 0)
	samples := []Sample{
		{Timestamp: base.Add(500 * time.Millisecond), Expected: 500000, Observed: 500123, OK: true},
		{Timestamp: base.Add(time.Second), Expected: 500000, Observed: 506000},
		{Timestamp: base.Add(1500 * time.Millisecond), CPUPercent: 62, MemoryBytes: 48 * 1024, OK: true},
	}

	payload := EncodeMeasurementsPayload(10, 40, samples, base)
	require.LessOrEqual(t, len(payload), wire.MaxPayloadSize)

	start, total, records, err := DecodeMeasurementsPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(10), start)
	assert.Equal(t, uint16(40), total)
	require.Len(t, records, 3)

	assert.Equal(t, MeasurementRecord{
		OffsetUs: 500000, Expected: 500000, Observed: 500123, OK: true,
	}, records[0])
	assert.Equal(t, MeasurementRecord{
		OffsetUs: 1000000, Expected: 500000, Observed: 506000,
	}, records[1])
	assert.Equal(t, MeasurementRecord{
		OffsetUs: 1500000, CPUPercent: 62, MemoryBytes: 48 * 1024, OK: true,
	}, records[2])
}

func TestMeasurementsPayloadCapsChunk(t *testing.T) {
	base := time.Unix(1700000000, 0)
	samples := make([]Sample, MeasurementsPerFrame+2)
	for i := range samples {
		samples[i] = Sample{Timestamp: base.Add(time.Duration(i) * time.Millisecond)}
	}

	payload := EncodeMeasurementsPayload(0, len(samples), samples, base)
	require.LessOrEqual(t, len(payload), wire.MaxPayloadSize)

	_, _, records, err := DecodeMeasurementsPayload(payload)
	require.NoError(t, err)
	assert.Len(t, records, MeasurementsPerFrame)
}

func TestDecodeMeasurementsPayloadTruncated(t *testing.T) {
	base := time.Unix(1700000000, 0)
	payload := EncodeMeasurementsPayload(0, 1, []Sample{{Timestamp: base}}, base)

	_, _, _, err := DecodeMeasurementsPayload(payload[:len(payload)-1])
	require.Error(t, err)

	_, _, _, err = DecodeMeasurementsPayload(payload[:2])
	require.Error(t, err)
}
