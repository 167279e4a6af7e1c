// Package device implements the firmware-side controller: three periodic
// routines that move 64-byte frames between a transport, the bounded
// command/response queues, and the self-test engine.
package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pulsefw/pulselink/diaglog"
	"github.com/pulsefw/pulselink/internal/taskmgr"
	"github.com/pulsefw/pulselink/queue"
	"github.com/pulsefw/pulselink/selftest"
	"github.com/pulsefw/pulselink/wire"
)

// FrameTransport moves whole 64-byte frames. ReadFrame must not block: it
// returns (0, nil) when no frame is pending and (wire.FrameSize, nil) when
// one was copied into buf.
type FrameTransport interface {
	ReadFrame(buf []byte) (int, error)
	WriteFrame(buf []byte) error
}

// SafetyMonitor exposes the battery-safety predicate. Tests may not start
// while the predicate is false.
type SafetyMonitor interface {
	IsSafe() bool
	Flags() byte
}

// ResourceProbe reports current resource usage for stress-test snapshots.
type ResourceProbe interface {
	CPUPercent() uint8
	MemoryBytes() uint32
}

// BootloaderFunc performs the one-way jump into the bootloader. It runs on
// the transmit routine after the acknowledgment has left the queue.
type BootloaderFunc func() error

// WithSafetyMonitor attaches the battery-safety predicate. Without one the
// controller reports safe unconditionally.
func WithSafetyMonitor(m SafetyMonitor) Option {
	return func(cfg *Config) error {
		if m == nil {
			return errors.New("safety monitor is nil")
		}
		cfg.safety = m

		return nil
	}
}

// WithResourceProbe attaches the resource usage source for stress tests.
func WithResourceProbe(p ResourceProbe) Option {
	return func(cfg *Config) error {
		if p == nil {
			return errors.New("resource probe is nil")
		}
		cfg.probe = p

		return nil
	}
}

// WithBootloader sets the bootloader entry action.
func WithBootloader(fn BootloaderFunc) Option {
	return func(cfg *Config) error {
		if fn == nil {
			return errors.New("bootloader func is nil")
		}
		cfg.bootloader = fn

		return nil
	}
}

// Stats is a point-in-time snapshot of the controller's counters.
type Stats struct {
	IntegrityDrops       uint64
	FormatRejects        uint64
	CommandsDropped      uint64
	CommandTimeouts      uint64
	ResponsesDropped     uint64
	ResponsesRetried     uint64
	TransmissionFailures uint64
	CommandQueueLen      int
	ResponseQueueLen     int
	LastSequence         uint32
}

// Controller owns the device side of the link. Create one with
// NewController, start it with Run, and stop it with Stop; all inbound
// commands are served by the periodic routines, never by callers.
type Controller struct {
	cfg       *Config
	transport FrameTransport

	cmdQ   *queue.CommandQueue
	rspQ   *queue.ResponseQueue
	engine *selftest.Engine
	diag   *diaglog.Log

	mgr *taskmgr.Manager

	readBuf [wire.FrameSize]byte
	txBuf   [wire.FrameSize]byte

	integrityDrops atomic.Uint64
	formatRejects  atomic.Uint64

	running     atomic.Bool
	bootPending atomic.Bool
}

// NewController wires a controller to its transport.
func NewController(transport FrameTransport, opts ...Option) (*Controller, error) {
	if transport == nil {
		return nil, errors.New("transport is nil")
	}

	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	diag := diaglog.New(cfg.diagLogSize)

	return &Controller{
		cfg:       cfg,
		transport: transport,
		cmdQ:      queue.NewCommandQueue(cfg.commandQueueSize),
		rspQ:      queue.NewResponseQueue(cfg.responseQueueSize),
		engine: selftest.NewEngine(
			selftest.WithEngineLogger(cfg.logger),
			selftest.WithDiagLog(diag),
		),
		diag: diag,
	}, nil
}

// Engine exposes the self-test engine for in-process callers such as the
// real-time measurement path.
func (c *Controller) Engine() *selftest.Engine { return c.engine }

// DiagLog exposes the diagnostic log ring.
func (c *Controller) DiagLog() *diaglog.Log { return c.diag }

// Run starts the poll, process, and transmit routines and returns. The
// routines stop when ctx is cancelled, Stop is called, or a bootloader
// entry completes.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("controller already running")
	}

	c.mgr = taskmgr.New(ctx, c.cfg.logger)

	if _, err := c.mgr.StartInterval("poll", c.pollTick, c.cfg.pollInterval, false); err != nil {
		c.mgr.Stop()
		c.running.Store(false)

		return err
	}
	if _, err := c.mgr.StartInterval("process", c.processTick, c.cfg.processInterval, false); err != nil {
		c.mgr.Stop()
		c.running.Store(false)

		return err
	}
	if _, err := c.mgr.StartInterval("transmit", c.transmitTick, c.cfg.transmitInterval, false); err != nil {
		c.mgr.Stop()
		c.running.Store(false)

		return err
	}

	c.cfg.logger.Info("controller started",
		"pollInterval", c.cfg.pollInterval,
		"processInterval", c.cfg.processInterval,
		"transmitInterval", c.cfg.transmitInterval,
	)

	return nil
}

// Stop terminates the routines and waits for them to exit.
func (c *Controller) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}

	c.mgr.Stop()
	c.mgr.Wait()
	c.cfg.logger.Info("controller stopped")
}

// RecordPulseTiming feeds one pulse period measurement from the real-time
// side into the running timing test. With no timing test running the
// measurement is dropped silently.
func (c *Controller) RecordPulseTiming(expected, observed time.Duration) error {
	now := c.cfg.clock()

	return c.engine.RecordMeasurement(selftest.TimingSample(expected, observed, now), now)
}

// RecordCalibrationSample feeds one reference/raw converter reading pair
// into the running calibration test, dropped silently when none runs.
func (c *Controller) RecordCalibrationSample(reference, raw int32) error {
	now := c.cfg.clock()

	return c.engine.RecordMeasurement(selftest.CalibrationSample(reference, raw, now), now)
}

// Stats returns a snapshot of the controller counters.
func (c *Controller) Stats() Stats {
	return Stats{
		IntegrityDrops:       c.integrityDrops.Load(),
		FormatRejects:        c.formatRejects.Load(),
		CommandsDropped:      c.cmdQ.DroppedCount(),
		CommandTimeouts:      c.cmdQ.TimeoutCount(),
		ResponsesDropped:     c.rspQ.DroppedCount(),
		ResponsesRetried:     c.rspQ.RetriedCount(),
		TransmissionFailures: c.rspQ.TransmissionFailureCount(),
		CommandQueueLen:      c.cmdQ.Len(),
		ResponseQueueLen:     c.rspQ.Len(),
		LastSequence:         c.cmdQ.CurrentSequence(),
	}
}

// --- Periodic routines ---

// pollTick drains pending inbound frames within the read budget.
func (c *Controller) pollTick() bool {
	now := c.cfg.clock()

	for i := 0; i < c.cfg.readBudget; i++ {
		n, err := c.transport.ReadFrame(c.readBuf[:])
		if err != nil {
			c.cfg.logger.Error("transport read failed", "error", err)

			return true
		}
		if n == 0 {
			return true
		}

		c.acceptFrame(c.readBuf[:n], now)
	}

	return true
}

// acceptFrame authenticates and queues one inbound frame. Frames failing
// the integrity check are dropped without a response; a response would
// trust the very bytes that just failed authentication.
func (c *Controller) acceptFrame(buf []byte, now time.Time) {
	frame, err := wire.Decode(buf)
	if err != nil {
		c.integrityDrops.Add(1)
		c.cfg.logger.Debug("inbound frame dropped", "error", err)

		return
	}

	if err := wire.ValidateFormat(frame); err != nil || frame.Type.IsResponse() {
		c.formatRejects.Add(1)
		c.diag.Push(diaglog.LevelWarn, "link", fmt.Sprintf("rejected frame type 0x%02X", byte(frame.Type)), now)
		c.enqueueResponse(wire.NewErrorFrame(frame.ID, wire.ErrCodeFormat, frame.Type.String()), 0, now)

		return
	}

	// Queue-full drops are counted by the queue itself; the command goes
	// unanswered and the host recovers by timeout.
	c.cmdQ.Enqueue(frame, now, c.cfg.commandTimeout)
}

// processTick evicts stale commands, advances the test lifecycle, and
// dispatches queued commands within the budget.
func (c *Controller) processTick() bool {
	now := c.cfg.clock()

	if evicted := c.cmdQ.RemoveTimedOut(now); evicted > 0 {
		c.diag.Push(diaglog.LevelWarn, "queue", fmt.Sprintf("evicted %d stale commands", evicted), now)
	}

	c.engine.UpdateActiveTest(now)
	c.ingestStressSnapshot(now)

	for i := 0; i < c.cfg.dispatchBudget; i++ {
		cmd, ok := c.cmdQ.Dequeue()
		if !ok {
			break
		}

		rsp := c.dispatch(&cmd.Frame, now)
		c.enqueueResponse(rsp, cmd.Sequence, now)

		// Armed only after the ack is queued, so the transmit routine
		// cannot enter the bootloader with the ack still pending.
		if cmd.Frame.Type == wire.CmdEnterBootloader && rsp.Type == wire.RspAck {
			c.bootPending.Store(true)
		}
	}

	return true
}

// ingestStressSnapshot feeds a resource snapshot into a running stress test.
func (c *Controller) ingestStressSnapshot(now time.Time) {
	if c.cfg.probe == nil {
		return
	}

	snap := c.engine.StatusSnapshot(now)
	if snap.Status != selftest.StatusRunning || snap.Type != selftest.TestStress {
		return
	}

	sample := selftest.StressSample(c.cfg.probe.CPUPercent(), c.cfg.probe.MemoryBytes(), now)
	if err := c.engine.RecordMeasurement(sample, now); err != nil {
		c.cfg.logger.Debug("stress snapshot rejected", "error", err)
	}
}

// transmitTick sends queued responses within the budget and, once the
// queue has drained after a bootloader ack, performs the bootloader entry.
func (c *Controller) transmitTick() bool {
	if c.bootPending.Load() && c.rspQ.Len() == 0 {
		c.enterBootloader()

		return false
	}

	for i := 0; i < c.cfg.transmitBudget; i++ {
		rsp, ok := c.rspQ.Dequeue()
		if !ok {
			return true
		}

		if err := rsp.Frame.EncodeTo(c.txBuf[:]); err != nil {
			c.cfg.logger.Error("response encode failed", "type", rsp.Frame.Type.String(), "error", err)

			continue
		}

		if err := c.transport.WriteFrame(c.txBuf[:]); err != nil {
			c.cfg.logger.Warn("transmit failed",
				"type", rsp.Frame.Type.String(), "sequence", rsp.Sequence, "retries", rsp.RetryCount, "error", err)
			if !c.rspQ.RequeueForRetry(rsp, c.cfg.maxRetries) {
				c.diag.Push(diaglog.LevelError, "link",
					fmt.Sprintf("response seq %d discarded after %d retries", rsp.Sequence, rsp.RetryCount), c.cfg.clock())
			}
		}
	}

	return true
}

func (c *Controller) enterBootloader() {
	c.cfg.logger.Warn("entering bootloader")

	if c.cfg.bootloader != nil {
		if err := c.cfg.bootloader(); err != nil {
			c.cfg.logger.Error("bootloader entry failed", "error", err)
		}
	}

	c.running.Store(false)
	c.mgr.Stop()
}

func (c *Controller) enqueueResponse(rsp *wire.Frame, sequence uint32, now time.Time) {
	if !c.rspQ.Enqueue(rsp, sequence, now) {
		c.cfg.logger.Warn("response queue full", "type", rsp.Type.String(), "sequence", sequence)
	}
}

// --- Command dispatch ---

// dispatch serves one validated command and returns its response frame.
func (c *Controller) dispatch(cmd *wire.Frame, now time.Time) *wire.Frame {
	switch cmd.Type {
	case wire.CmdPing:
		return wire.NewAckFrame(cmd.ID, cmd.Payload)

	case wire.CmdStartTest:
		return c.handleStartTest(cmd, now)

	case wire.CmdAbortTest:
		if err := c.engine.Abort(now); err != nil {
			return wire.NewErrorFrame(cmd.ID, wire.ErrCodeNoSuchTest, "no running test")
		}

		return wire.NewAckFrame(cmd.ID, nil)

	case wire.CmdTestStatus:
		return wire.NewFrame(wire.RspTestStatus, cmd.ID, selftest.EncodeStatusPayload(c.engine.StatusSnapshot(now)))

	case wire.CmdTestResult:
		return c.handleTestResult(cmd)

	case wire.CmdMeasurements:
		return c.handleMeasurements(cmd)

	case wire.CmdEngineStats:
		return wire.NewFrame(wire.RspEngineStats, cmd.ID, selftest.EncodeEngineStatsPayload(c.engine.Metrics()))

	case wire.CmdResetStats:
		c.engine.ResetStats()
		c.cmdQ.ResetStats()
		c.rspQ.ResetStats()
		c.integrityDrops.Store(0)
		c.formatRejects.Store(0)
		c.diag.Push(diaglog.LevelInfo, "ctrl", "statistics reset", now)

		return wire.NewAckFrame(cmd.ID, nil)

	case wire.CmdDiagLog:
		return wire.NewFrame(wire.RspDiagLog, cmd.ID, c.drainDiagLog())

	case wire.CmdSafetyStatus:
		return wire.NewFrame(wire.RspSafetyStatus, cmd.ID, c.safetyPayload())

	case wire.CmdEnterBootloader:
		c.diag.Push(diaglog.LevelWarn, "ctrl", "bootloader entry requested", now)

		return wire.NewAckFrame(cmd.ID, nil)

	default:
		// Unreachable after ValidateFormat; still answered so a stale
		// command never goes silent.
		return wire.NewErrorFrame(cmd.ID, wire.ErrCodeFormat, cmd.Type.String())
	}
}

func (c *Controller) handleStartTest(cmd *wire.Frame, now time.Time) *wire.Frame {
	if c.cfg.safety != nil && !c.cfg.safety.IsSafe() {
		c.diag.Push(diaglog.LevelWarn, "ctrl", "start-test refused: safety lockout", now)

		return wire.NewErrorFrame(cmd.ID, wire.ErrCodeBusy, "safety lockout")
	}

	typ, params, err := selftest.DecodeStartPayload(cmd.Payload)
	if err != nil {
		return wire.NewErrorFrame(cmd.ID, wire.ErrCodeParameterInvalid, err.Error())
	}

	testID, err := c.engine.ExecuteTest(typ, params, now)
	switch {
	case errors.Is(err, selftest.ErrTestAborted):
		return wire.NewErrorFrame(cmd.ID, wire.ErrCodeTestAborted, err.Error())
	case err != nil:
		return wire.NewErrorFrame(cmd.ID, wire.ErrCodeParameterInvalid, err.Error())
	}

	var payload [4]byte
	binary.LittleEndian.PutUint32(payload[:], testID)

	return wire.NewAckFrame(cmd.ID, payload[:])
}

func (c *Controller) handleTestResult(cmd *wire.Frame) *wire.Frame {
	if len(cmd.Payload) < 4 {
		return wire.NewErrorFrame(cmd.ID, wire.ErrCodeParameterInvalid, "missing test id")
	}

	testID := binary.LittleEndian.Uint32(cmd.Payload[:4])
	result, err := c.engine.GetTestResult(testID)
	if err != nil {
		return wire.NewErrorFrame(cmd.ID, wire.ErrCodeNoSuchTest, err.Error())
	}

	payload, err := selftest.EncodeResultPayload(result)
	if err != nil {
		c.cfg.logger.Error("result encode failed", "testID", testID, "error", err)

		return wire.NewErrorFrame(cmd.ID, wire.ErrCodeTransmission, "result encode failed")
	}

	return wire.NewFrame(wire.RspTestResult, cmd.ID, payload)
}

func (c *Controller) handleMeasurements(cmd *wire.Frame) *wire.Frame {
	testID, start, count, err := selftest.DecodeMeasurementsRequest(cmd.Payload)
	if err != nil {
		return wire.NewErrorFrame(cmd.ID, wire.ErrCodeParameterInvalid, err.Error())
	}

	samples, total, base, err := c.engine.Measurements(testID, int(start), int(count))
	if err != nil {
		return wire.NewErrorFrame(cmd.ID, wire.ErrCodeNoSuchTest, err.Error())
	}

	return wire.NewFrame(wire.RspMeasurements, cmd.ID,
		selftest.EncodeMeasurementsPayload(start, total, samples, base))
}

// drainDiagLog pops as many formatted log lines as fit one frame payload,
// newline separated. Lines that do not fit stay buffered for the next
// drain request.
func (c *Controller) drainDiagLog() []byte {
	entries := c.diag.Snapshot()

	var out []byte
	taken := 0
	for _, entry := range entries {
		line := entry.Format()
		need := len(line)
		if len(out) > 0 {
			need++
		}
		if len(out)+need > wire.MaxPayloadSize {
			if len(out) == 0 {
				// A single oversized line is truncated rather than wedged.
				out = append(out, line[:wire.MaxPayloadSize]...)
				taken++
			}

			break
		}

		if len(out) > 0 {
			out = append(out, '\n')
		}
		out = append(out, line...)
		taken++
	}

	for i := 0; i < taken; i++ {
		c.diag.Pop()
	}

	return out
}

func (c *Controller) safetyPayload() []byte {
	if c.cfg.safety == nil {
		return []byte{1, 0}
	}

	payload := []byte{0, c.cfg.safety.Flags()}
	if c.cfg.safety.IsSafe() {
		payload[0] = 1
	}

	return payload
}
