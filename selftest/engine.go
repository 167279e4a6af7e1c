package selftest

import (
	"fmt"
	"sync"
	"time"

	"github.com/pulsefw/pulselink/diaglog"
	"github.com/pulsefw/pulselink/logger"
)

// Strategy parameter defaults applied when the CBOR block omits a field.
const (
	defaultExpectedPeriodUs = 500000 // 2 Hz pulse output
	defaultReferenceReading = 2048   // mid-scale on a 12-bit converter
	defaultFullScale        = 4095
)

// DefaultMaxSamples bounds the raw sample buffer of one test run. Aggregate
// statistics keep covering every measurement after the buffer fills; only
// the raw samples available to CmdMeasurements are capped.
const DefaultMaxSamples = 120

// testContext is the state of one test run. The engine owns at most one at
// a time; a terminal context lingers until its result is consumed.
type testContext struct {
	id        uint32
	typ       TestType
	params    *Parameters
	status    Status
	startedAt time.Time
	endedAt   time.Time
	deadline  time.Time

	samples        []Sample
	samplesDropped uint32

	// Exactly one of these is non-nil, selected by typ.
	timing *timingState
	calib  *calibrationState
	stress *stressState
	comm   *commState
}

// Snapshot is the engine state reported to CmdTestStatus queries. When the
// engine is idle, TestID carries the most recently assigned id (zero before
// the first test) so hosts can correlate a consumed result.
type Snapshot struct {
	TestID      uint32
	Type        TestType
	Status      Status
	SampleCount uint32
	Elapsed     time.Duration
}

// Engine orchestrates self-test runs: one active test context, per-strategy
// statistics, and engine-wide pass/fail aggregates.
//
// Lifecycle operations take the current time explicitly. The engine never
// reads the wall clock, so the scheduling cadence (and tests) fully control
// time.
type Engine struct {
	mu         sync.Mutex
	log        logger.Logger
	diag       *diaglog.Log
	maxSamples int

	metrics    Metrics
	lastTestID uint32
	ctx        *testContext
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger. Defaults to the package-level logger.
func WithEngineLogger(l logger.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// WithDiagLog attaches a diagnostic log for status and error lines.
func WithDiagLog(d *diaglog.Log) EngineOption {
	return func(e *Engine) { e.diag = d }
}

// WithMaxSamples overrides the per-run raw sample buffer size.
func WithMaxSamples(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxSamples = n
		}
	}
}

// NewEngine creates an idle engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		log:        logger.GetLogger(),
		maxSamples: DefaultMaxSamples,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Metrics returns the engine-wide aggregates.
func (e *Engine) Metrics() *Metrics { return &e.metrics }

// ExecuteTest validates the parameters and starts a new test context,
// returning its assigned test id.
//
// It fails with ErrTestAborted while another test is Running. A terminal
// context whose result was never consumed is overwritten; an unread result
// is the host's loss, not a reason to wedge the engine.
func (e *Engine) ExecuteTest(typ TestType, p *Parameters, now time.Time) (uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx != nil && e.ctx.status == StatusRunning {
		return 0, fmt.Errorf("%w: test %d is running", ErrTestAborted, e.ctx.id)
	}

	if !typ.Valid() {
		return 0, fmt.Errorf("%w: unknown test type %d", ErrParameterInvalid, typ)
	}
	if err := p.Validate(); err != nil {
		return 0, err
	}

	id := e.lastTestID + 1
	ctx := &testContext{
		id:        id,
		typ:       typ,
		params:    p,
		status:    StatusRunning,
		startedAt: now,
		deadline:  now.Add(p.Duration),
		samples:   make([]Sample, 0, e.maxSamples),
	}

	if err := e.attachStrategy(ctx); err != nil {
		return 0, err
	}

	e.lastTestID = id
	e.ctx = ctx

	e.log.Info("test started", "testID", id, "type", typ.String(), "duration", p.Duration)
	e.pushDiag(diaglog.LevelInfo, fmt.Sprintf("test %d (%s) started", id, typ), now)

	return id, nil
}

// attachStrategy decodes the strategy block and builds the per-type state.
func (e *Engine) attachStrategy(ctx *testContext) error {
	switch ctx.typ {
	case TestTimingValidation:
		var cfg TimingParams
		if err := decodeStrategyParams(ctx.params.StrategyParams, &cfg); err != nil {
			return err
		}
		if cfg.ExpectedPeriodUs == 0 {
			cfg.ExpectedPeriodUs = defaultExpectedPeriodUs
		}
		ctx.timing = &timingState{cfg: cfg}

	case TestAdcCalibration:
		var cfg CalibrationParams
		if err := decodeStrategyParams(ctx.params.StrategyParams, &cfg); err != nil {
			return err
		}
		if cfg.ReferenceReading == 0 {
			cfg.ReferenceReading = defaultReferenceReading
		}
		if cfg.FullScale == 0 {
			cfg.FullScale = defaultFullScale
		}
		ctx.calib = &calibrationState{cfg: cfg}

	case TestStress:
		var cfg StressParams
		if err := decodeStrategyParams(ctx.params.StrategyParams, &cfg); err != nil {
			return err
		}
		st := newStressState(cfg, ctx.params.Limits, ctx.id)
		ctx.stress = &st

	case TestCommIntegrity:
		var cfg CommParams
		if err := decodeStrategyParams(ctx.params.StrategyParams, &cfg); err != nil {
			return err
		}
		st := newCommState(cfg, ctx.id)
		ctx.comm = &st
	}

	return nil
}

// RecordMeasurement feeds one measurement into the running test. The
// strategy aggregates always account for it; the raw sample is kept only
// while the buffer has room.
//
// With no test running the measurement is dropped silently: the real-time
// side keeps producing regardless of the test lifecycle and must never
// fail because nothing is listening.
//
// The communication-integrity strategy generates its own probes and rejects
// external measurements.
func (e *Engine) RecordMeasurement(sample Sample, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx := e.ctx
	if ctx == nil || ctx.status != StatusRunning {
		return nil
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = now
	}

	tolH := ctx.params.toleranceHundredths()
	switch ctx.typ {
	case TestTimingValidation:
		ctx.timing.ingest(&sample, tolH)
	case TestAdcCalibration:
		ctx.calib.ingest(&sample, tolH)
	case TestStress:
		ctx.stress.ingest(&sample, ctx.startedAt, ctx.params.Duration)
	case TestCommIntegrity:
		return fmt.Errorf("%w: comm-integrity probes are self-generated", ErrParameterInvalid)
	}

	ctx.appendSample(sample, e.maxSamples)

	return nil
}

// UpdateActiveTest advances the running test: the comm strategy runs its
// probe batch, a stress limit breach aborts the run, and a test past its
// deadline is evaluated against its validation criteria. It is a no-op when
// no test is running.
func (e *Engine) UpdateActiveTest(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx := e.ctx
	if ctx == nil || ctx.status != StatusRunning {
		return
	}

	if ctx.typ == TestCommIntegrity {
		ctx.comm.runProbes(func(s Sample) {
			s.Timestamp = now
			ctx.appendSample(s, e.maxSamples)
		})
	}

	if ctx.typ == TestStress && ctx.stress.breached {
		e.finishLocked(StatusAborted, now)
		e.pushDiag(diaglog.LevelError, fmt.Sprintf("test %d aborted: resource limits breached", ctx.id), now)

		return
	}

	if !now.Before(ctx.deadline) {
		status := StatusFailed
		if e.evaluateLocked(ctx) {
			status = StatusCompleted
		}
		e.finishLocked(status, now)
	}
}

// evaluateLocked decides Completed versus Failed for a test that ran to its
// deadline.
func (e *Engine) evaluateLocked(ctx *testContext) bool {
	var rate float64
	stable := true

	switch ctx.typ {
	case TestTimingValidation:
		st := ctx.timing
		if st.total > 0 {
			rate = float64(st.within) / float64(st.total) * 100
		}
		stable = st.errs == 0

	case TestAdcCalibration:
		rate = ctx.calib.successRatePercent()
		stable = ctx.calib.within == ctx.calib.total

	case TestStress:
		st := ctx.stress
		if st.opsAttempted > 0 {
			rate = float64(st.opsSucceeded) / float64(st.opsAttempted) * 100
		}
		stable = !st.breached

	case TestCommIntegrity:
		st := ctx.comm
		if st.undetected > 0 {
			// A single missed corruption disqualifies the codec outright.
			return false
		}
		rate = st.successRatePercent()
		stable = st.cleanBad == 0
	}

	if rate < float64(ctx.params.Criteria.MinSuccessRatePercent) {
		return false
	}
	if ctx.params.Criteria.RequireStableOperation && !stable {
		return false
	}

	return true
}

// finishLocked moves the running context to a terminal status and records
// the outcome in the engine-wide aggregates. Aborted counts as a failure.
func (e *Engine) finishLocked(status Status, now time.Time) {
	ctx := e.ctx
	ctx.status = status
	ctx.endedAt = now
	e.metrics.recordOutcome(status == StatusCompleted)

	e.log.Info("test finished", "testID", ctx.id, "type", ctx.typ.String(), "status", status.String())
	e.pushDiag(diaglog.LevelInfo, fmt.Sprintf("test %d %s", ctx.id, status), now)
}

// Abort force-terminates the running test. The context stays available for
// a result query; engine aggregates count it as executed and failed.
func (e *Engine) Abort(now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx == nil || e.ctx.status != StatusRunning {
		return ErrNoActiveTest
	}

	e.finishLocked(StatusAborted, now)
	e.pushDiag(diaglog.LevelWarn, fmt.Sprintf("test %d aborted by request", e.ctx.id), now)

	return nil
}

// StatusSnapshot reports the current lifecycle state.
func (e *Engine) StatusSnapshot(now time.Time) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx == nil {
		return Snapshot{TestID: e.lastTestID, Status: StatusIdle}
	}

	snap := Snapshot{
		TestID:      e.ctx.id,
		Type:        e.ctx.typ,
		Status:      e.ctx.status,
		SampleCount: uint32(len(e.ctx.samples)) + e.ctx.samplesDropped,
	}
	switch {
	case e.ctx.status == StatusRunning:
		snap.Elapsed = now.Sub(e.ctx.startedAt)
	default:
		snap.Elapsed = e.ctx.endedAt.Sub(e.ctx.startedAt)
	}

	return snap
}

// GetTestResult returns the result of a terminal test and consumes the
// context, returning the engine to Idle. Raw measurements must be drained
// through Measurements before the result is consumed.
func (e *Engine) GetTestResult(testID uint32) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, err := e.terminalContextLocked(testID)
	if err != nil {
		return nil, err
	}

	result := newResult(ctx)
	e.ctx = nil

	return result, nil
}

// Measurements returns up to count raw samples of the terminal test
// starting at offset start, plus the total retained sample count and the
// test start time (the base for on-wire timestamp offsets). Unlike
// GetTestResult it does not consume the context, so a host can page through
// the samples before fetching the result.
func (e *Engine) Measurements(testID uint32, start, count int) ([]Sample, int, time.Time, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, err := e.terminalContextLocked(testID)
	if err != nil {
		return nil, 0, time.Time{}, err
	}

	total := len(ctx.samples)
	if start < 0 || start >= total || count <= 0 {
		return nil, total, ctx.startedAt, nil
	}
	if start+count > total {
		count = total - start
	}

	out := make([]Sample, count)
	copy(out, ctx.samples[start:start+count])

	return out, total, ctx.startedAt, nil
}

func (e *Engine) terminalContextLocked(testID uint32) (*testContext, error) {
	if e.ctx == nil {
		return nil, ErrNoActiveTest
	}
	if e.ctx.id != testID {
		return nil, fmt.Errorf("%w: test %d not found, have %d", ErrNoActiveTest, testID, e.ctx.id)
	}
	if !e.ctx.status.IsTerminal() {
		return nil, fmt.Errorf("%w: test %d is still %s", ErrNoActiveTest, testID, e.ctx.status)
	}

	return e.ctx, nil
}

// DetectDeviations re-evaluates the retained samples of the current timing
// context against its tolerance and returns one entry per out-of-tolerance
// measurement. The context may be running or terminal.
func (e *Engine) DetectDeviations() ([]TimingDeviation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx == nil || e.ctx.typ != TestTimingValidation {
		return nil, fmt.Errorf("%w: no timing context", ErrNoActiveTest)
	}

	return detectDeviations(e.ctx.samples, e.ctx.params.toleranceHundredths()), nil
}

// DeviationReport aggregates the timing deviations of the current context.
// Unlike DetectDeviations it is built from the incremental aggregates, so
// it covers measurements beyond the retained sample buffer.
func (e *Engine) DeviationReport() (DeviationReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx == nil || e.ctx.typ != TestTimingValidation {
		return DeviationReport{}, fmt.Errorf("%w: no timing context", ErrNoActiveTest)
	}

	st := e.ctx.timing

	return DeviationReport{
		TotalMeasurements: st.total,
		TotalDeviations:   st.errs,
		MaxDeviationUs:    st.maxAbsUs,
		TooSlowCount:      st.tooSlow,
		TooFastCount:      st.tooFast,
		TolerancePercent:  e.ctx.params.TolerancePercent,
	}, nil
}

// ResetStats clears the engine-wide aggregates. The active context, the
// last test id, and per-test statistics are unaffected.
func (e *Engine) ResetStats() {
	e.metrics.Reset()
}

func (e *Engine) pushDiag(level diaglog.Level, text string, now time.Time) {
	if e.diag != nil {
		e.diag.Push(level, "engine", text, now)
	}
}

// appendSample retains the raw sample while the bounded buffer has room.
func (c *testContext) appendSample(s Sample, maxSamples int) {
	if len(c.samples) >= maxSamples {
		c.samplesDropped++

		return
	}
	c.samples = append(c.samples, s)
}
