package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulsefw/pulselink/selftest"
)

var (
	runDuration   time.Duration
	runTolerance  float64
	runSampleRate uint16
	runMinSuccess uint8
	runStable     bool
	runMaxCPU     uint8
	runMaxMemory  uint32

	runExpectedPeriodUs int64
	runReference        int32
	runFullScale        int32
	runPattern          string
	runOps              uint8
	runSeed             uint32

	runPollInterval time.Duration
)

var runTestCmd = &cobra.Command{
	Use:   "run-test <type>",
	Short: "Start a self-test and wait for its result",
	Long: `Start a self-test, poll its status until it finishes, then fetch
and print the retained measurements and the final result.

Test types:
  timing       Validate pulse-period accuracy against a tolerance band
  calibration  Validate ADC readings against a reference input
  stress       Exercise the device under synthetic load
  comm         Exercise the frame codec's corruption detection

Strategy flags apply per type: --expected-period-us (timing),
--reference and --full-scale (calibration), --pattern, --ops and --seed
(stress). The comm strategy runs with its built-in probe schedule.`,
	Args: cobra.ExactArgs(1),
	RunE: runRunTest,
}

func init() {
	rootCmd.AddCommand(runTestCmd)

	runTestCmd.Flags().DurationVar(&runDuration, "duration", time.Second, "Test duration")
	runTestCmd.Flags().Float64Var(&runTolerance, "tolerance", 1.0, "Tolerance in percent")
	runTestCmd.Flags().Uint16Var(&runSampleRate, "sample-rate", 100, "Sample rate in Hz")
	runTestCmd.Flags().Uint8Var(&runMinSuccess, "min-success", 90, "Minimum success rate in percent")
	runTestCmd.Flags().BoolVar(&runStable, "require-stable", false, "Fail unless operation stayed stable")
	runTestCmd.Flags().Uint8Var(&runMaxCPU, "max-cpu", 0, "CPU limit in percent (0 = unlimited)")
	runTestCmd.Flags().Uint32Var(&runMaxMemory, "max-memory", 0, "Memory limit in bytes (0 = unlimited)")

	runTestCmd.Flags().Int64Var(&runExpectedPeriodUs, "expected-period-us", 0, "Nominal period in microseconds (timing)")
	runTestCmd.Flags().Int32Var(&runReference, "reference", 0, "Expected raw reading for the reference input (calibration)")
	runTestCmd.Flags().Int32Var(&runFullScale, "full-scale", 0, "Converter full-scale count (calibration)")
	runTestCmd.Flags().StringVar(&runPattern, "pattern", "constant", "Load pattern: constant, ramp, burst, random (stress)")
	runTestCmd.Flags().Uint8Var(&runOps, "ops", 0, "Synthetic operations per snapshot (stress)")
	runTestCmd.Flags().Uint32Var(&runSeed, "seed", 0, "Random pattern seed (stress)")

	runTestCmd.Flags().DurationVar(&runPollInterval, "poll-interval", 100*time.Millisecond, "Status poll interval")
}

func parseTestType(name string) (selftest.TestType, error) {
	switch name {
	case "timing", "timing-validation":
		return selftest.TestTimingValidation, nil
	case "calibration", "adc-calibration":
		return selftest.TestAdcCalibration, nil
	case "stress":
		return selftest.TestStress, nil
	case "comm", "comm-integrity":
		return selftest.TestCommIntegrity, nil
	default:
		return 0, fmt.Errorf("unknown test type %q (want timing, calibration, stress, or comm)", name)
	}
}

func parseLoadPattern(name string) (selftest.LoadPattern, error) {
	switch name {
	case "constant":
		return selftest.LoadConstant, nil
	case "ramp":
		return selftest.LoadRamp, nil
	case "burst":
		return selftest.LoadBurst, nil
	case "random":
		return selftest.LoadRandom, nil
	default:
		return 0, fmt.Errorf("unknown load pattern %q", name)
	}
}

// buildStrategyBlock assembles the per-type CBOR parameter block from the
// strategy flags. An all-defaults block is omitted entirely.
func buildStrategyBlock(typ selftest.TestType) ([]byte, error) {
	switch typ {
	case selftest.TestTimingValidation:
		if runExpectedPeriodUs == 0 {
			return nil, nil
		}

		return selftest.EncodeStrategyParams(selftest.TimingParams{ExpectedPeriodUs: runExpectedPeriodUs})

	case selftest.TestAdcCalibration:
		if runReference == 0 && runFullScale == 0 {
			return nil, nil
		}

		return selftest.EncodeStrategyParams(selftest.CalibrationParams{
			ReferenceReading: runReference,
			FullScale:        runFullScale,
		})

	case selftest.TestStress:
		pattern, err := parseLoadPattern(runPattern)
		if err != nil {
			return nil, err
		}
		if pattern == selftest.LoadConstant && runOps == 0 && runSeed == 0 {
			return nil, nil
		}

		return selftest.EncodeStrategyParams(selftest.StressParams{
			Pattern:       pattern,
			ConcurrentOps: runOps,
			Seed:          runSeed,
		})

	default:
		return nil, nil
	}
}

func runRunTest(cmd *cobra.Command, args []string) error {
	typ, err := parseTestType(args[0])
	if err != nil {
		return err
	}

	block, err := buildStrategyBlock(typ)
	if err != nil {
		return err
	}

	params := &selftest.Parameters{
		Duration:         runDuration,
		TolerancePercent: runTolerance,
		SampleRate:       runSampleRate,
		Limits: selftest.ResourceLimits{
			MaxCPUPercent:  runMaxCPU,
			MaxMemoryBytes: runMaxMemory,
		},
		Criteria: selftest.ValidationCriteria{
			MinSuccessRatePercent:  runMinSuccess,
			RequireStableOperation: runStable,
		},
		StrategyParams: block,
	}

	c, closeClient, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer closeClient()

	ctx := cmd.Context()

	testID, err := c.StartTest(ctx, typ, params)
	if err != nil {
		return err
	}
	fmt.Printf("test %d (%s) started, duration %v\n", testID, typ, runDuration)

	// Poll until the device reports a terminal state. The device keeps
	// ticking on its own schedule; the deadline just bounds a dead link.
	deadline := time.Now().Add(runDuration + 10*time.Second)
	for {
		snap, err := c.Status(ctx)
		if err != nil {
			return err
		}
		if snap.TestID == testID && snap.Status.IsTerminal() {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("test %d did not finish within %v", testID, runDuration+10*time.Second)
		}

		time.Sleep(runPollInterval)
	}

	// Measurements must be drained before the result: fetching the result
	// consumes the terminal context and frees the sample buffer.
	records, err := c.AllMeasurements(ctx, testID)
	if err != nil {
		return err
	}

	result, err := c.TestResult(ctx, testID)
	if err != nil {
		return err
	}

	printResult(result, records)
	if !result.Passed() {
		return fmt.Errorf("test %d %s", testID, result.Status)
	}

	return nil
}

func printResult(r *selftest.Result, records []selftest.MeasurementRecord) {
	fmt.Printf("\ntest %d (%s): %s\n", r.TestID, r.Type, r.Status)
	fmt.Printf("  ran:          %v\n", r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Printf("  success rate: %s\n", rate(r.SuccessRateHundredths))

	switch {
	case r.Timing != nil:
		st := r.Timing
		fmt.Printf("  measurements: %d (%d within tolerance, %d errors)\n",
			st.TotalMeasurements, st.WithinToleranceCount, st.ErrorCount)
		fmt.Printf("  accuracy:     %s\n", rate(st.AccuracyHundredths))
		fmt.Printf("  max deviation: %d us   max jitter: %d us\n", st.MaxDeviationUs, st.MaxJitterUs)
		fmt.Printf("  too slow: %d   too fast: %d\n", st.TooSlowCount, st.TooFastCount)
		printWorstDeviations(records)

	case r.Calibration != nil:
		st := r.Calibration
		fmt.Printf("  samples:      %d (%d within tolerance)\n", st.Samples, st.WithinToleranceCount)
		fmt.Printf("  accuracy:     %s   mean error: %s\n", rate(st.AccuracyHundredths), rate(uint16(st.ErrorHundredths)))
		fmt.Printf("  worst error:  %d counts\n", st.WorstErrorCounts)

	case r.Stress != nil:
		st := r.Stress
		fmt.Printf("  snapshots:    %d\n", st.Snapshots)
		fmt.Printf("  cpu:          peak %d%%  avg %d%%\n", st.PeakCPUPercent, st.AvgCPUPercent)
		fmt.Printf("  memory:       peak %d B  avg %d B\n", st.PeakMemoryBytes, st.AvgMemoryBytes)
		fmt.Printf("  operations:   %d/%d succeeded (%s)\n", st.OpsSucceeded, st.OpsAttempted, rate(st.SuccessRateHundredths))
		fmt.Printf("  stability:    %s\n", rate(st.StabilityHundredths))

	case r.Comm != nil:
		st := r.Comm
		fmt.Printf("  probes:       %d (%d faults injected)\n", st.ProbesSent, st.FaultsInjected)
		fmt.Printf("  detected:     %d   undetected: %d   clean rejected: %d\n",
			st.ErrorsDetected, st.ErrorsUndetected, st.CleanRejected)
	}

	if len(records) > 0 {
		fmt.Printf("  retained samples: %d\n", len(records))
	}
}

// printWorstDeviations lists the out-of-tolerance timing samples in
// capture order, capped at five lines.
func printWorstDeviations(records []selftest.MeasurementRecord) {
	var bad []selftest.MeasurementRecord
	for _, rec := range records {
		if !rec.OK {
			bad = append(bad, rec)
		}
	}
	if len(bad) == 0 {
		return
	}

	fmt.Printf("  deviations:\n")
	for i, rec := range bad {
		if i == 5 {
			fmt.Printf("    ... and %d more\n", len(bad)-5)

			break
		}
		fmt.Printf("    +%dus expected %dus observed %dus (off by %dus)\n",
			rec.OffsetUs, rec.Expected, rec.Observed, rec.Observed-rec.Expected)
	}
}
