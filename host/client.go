// Package host implements the host-side client of the pulse-device link:
// request/response calls over 64-byte frames with per-request timeouts,
// plus typed helpers for every device command.
package host

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/pulsefw/pulselink/internal/pool"
	"github.com/pulsefw/pulselink/internal/taskmgr"
	"github.com/pulsefw/pulselink/logger"
	"github.com/pulsefw/pulselink/selftest"
	"github.com/pulsefw/pulselink/wire"
)

var (
	// ErrReplyTimeout indicates the device produced no response in time.
	// The command may still have executed; only the response is missing.
	ErrReplyTimeout = errors.New("host: reply timeout")

	// ErrClientClosed indicates a call on a closed client.
	ErrClientClosed = errors.New("host: client closed")
)

// FrameTransport is the host's view of the link; loopback ends and serial
// ports both satisfy it.
type FrameTransport interface {
	ReadFrame(buf []byte) (int, error)
	WriteFrame(buf []byte) error
}

// DeviceError is a decoded RspError response.
type DeviceError struct {
	Code   wire.ErrorCode
	Detail string
}

func (e *DeviceError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("device error: %s", e.Code)
	}

	return fmt.Sprintf("device error: %s: %s", e.Code, e.Detail)
}

// Config holds the client tunables.
type Config struct {
	// replyTimeout bounds each Call. Defaults to 2 seconds.
	replyTimeout time.Duration

	// pollInterval paces the receive loop when the link is idle.
	// Defaults to 2ms.
	pollInterval time.Duration

	logger logger.Logger
}

// Option customizes a client Config.
type Option func(*Config) error

// WithReplyTimeout sets the per-call reply timeout (10ms-60s).
func WithReplyTimeout(val time.Duration) Option {
	return func(cfg *Config) error {
		if val < 10*time.Millisecond || val > 60*time.Second {
			return errors.New("reply timeout out of range [0.01, 60]")
		}
		cfg.replyTimeout = val

		return nil
	}
}

// WithPollInterval sets the idle receive-loop pacing.
func WithPollInterval(val time.Duration) Option {
	return func(cfg *Config) error {
		if val <= 0 {
			return errors.New("poll interval must be positive")
		}
		cfg.pollInterval = val

		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(cfg *Config) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	}
}

// Client issues commands to a pulse device and correlates responses by
// command id. It is safe for concurrent use; at most 255 calls can be in
// flight at once.
type Client struct {
	cfg       *Config
	transport FrameTransport

	mgr     *taskmgr.Manager
	pending *xsync.MapOf[byte, chan *wire.Frame]
	nextID  byte
	idMu    chan struct{} // binary semaphore guarding nextID
	closed  atomic.Bool
}

// NewClient wires a client to its transport and starts the receive loop.
func NewClient(ctx context.Context, transport FrameTransport, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, errors.New("transport is nil")
	}

	cfg := &Config{
		replyTimeout: 2 * time.Second,
		pollInterval: 2 * time.Millisecond,
		logger:       logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	c := &Client{
		cfg:       cfg,
		transport: transport,
		mgr:       taskmgr.New(ctx, cfg.logger),
		pending:   xsync.NewMapOf[byte, chan *wire.Frame](),
		idMu:      make(chan struct{}, 1),
	}

	if err := c.mgr.Start("host-recv", c.recvLoop); err != nil {
		return nil, err
	}

	return c, nil
}

// Close stops the receive loop. In-flight calls fail by timeout.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	c.mgr.Stop()
	c.mgr.Wait()
}

// recvLoop reads frames off the transport and hands each response to the
// call waiting on its command id.
func (c *Client) recvLoop() bool {
	buf := make([]byte, wire.FrameSize)

	n, err := c.transport.ReadFrame(buf)
	if err != nil {
		c.cfg.logger.Error("transport read failed", "error", err)
		time.Sleep(c.cfg.pollInterval)

		return true
	}
	if n == 0 {
		time.Sleep(c.cfg.pollInterval)

		return true
	}

	frame, err := wire.Decode(buf)
	if err != nil {
		// Same policy as the device: unauthenticated bytes are dropped and
		// the caller recovers by timeout.
		c.cfg.logger.Debug("inbound frame dropped", "error", err)

		return true
	}
	if !frame.Type.IsResponse() {
		c.cfg.logger.Warn("ignoring non-response frame", "type", frame.Type.String())

		return true
	}

	ch, ok := c.pending.Load(frame.ID)
	if !ok {
		c.cfg.logger.Debug("unmatched response", "id", frame.ID, "type", frame.Type.String())

		return true
	}

	select {
	case ch <- frame:
	default: // duplicate response for this id
	}

	return true
}

// claimID reserves a command id with no call in flight.
func (c *Client) claimID(ch chan *wire.Frame) (byte, error) {
	c.idMu <- struct{}{}
	defer func() { <-c.idMu }()

	for i := 0; i < 256; i++ {
		c.nextID++
		if c.nextID == 0 { // id 0 is reserved for boundary-local errors
			continue
		}
		if _, loaded := c.pending.LoadOrStore(c.nextID, ch); !loaded {
			return c.nextID, nil
		}
	}

	return 0, errors.New("host: all command ids in flight")
}

// Call sends one command frame and waits for its response.
//
// An RspError response is returned as a *DeviceError.
func (c *Client) Call(ctx context.Context, typ wire.CommandType, payload []byte) (*wire.Frame, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	ch := make(chan *wire.Frame, 1)
	id, err := c.claimID(ch)
	if err != nil {
		return nil, err
	}
	defer c.pending.Delete(id)

	buf, err := wire.NewFrame(typ, id, payload).Encode()
	if err != nil {
		return nil, err
	}
	if err := c.transport.WriteFrame(buf); err != nil {
		return nil, fmt.Errorf("host: send %s: %w", typ, err)
	}

	timer := pool.GetTimer(c.cfg.replyTimeout)
	defer pool.PutTimer(timer)

	select {
	case rsp := <-ch:
		if rsp.Type == wire.RspError {
			code, detail, perr := wire.ParseErrorPayload(rsp)
			if perr != nil {
				return nil, perr
			}

			return nil, &DeviceError{Code: code, Detail: detail}
		}

		return rsp, nil

	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %v", ErrReplyTimeout, typ, c.cfg.replyTimeout)

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// --- Typed helpers ---

// Ping round-trips an echo payload.
func (c *Client) Ping(ctx context.Context, payload []byte) error {
	rsp, err := c.Call(ctx, wire.CmdPing, payload)
	if err != nil {
		return err
	}
	if rsp.Type != wire.RspAck {
		return fmt.Errorf("host: ping answered with %s", rsp.Type)
	}
	if len(payload) > 0 && !bytes.Equal(rsp.Payload, payload) {
		return errors.New("host: ping echo mismatch")
	}

	return nil
}

// StartTest starts a self-test and returns its device-assigned id.
func (c *Client) StartTest(ctx context.Context, typ selftest.TestType, params *selftest.Parameters) (uint32, error) {
	payload, err := selftest.EncodeStartPayload(typ, params)
	if err != nil {
		return 0, err
	}

	rsp, err := c.Call(ctx, wire.CmdStartTest, payload)
	if err != nil {
		return 0, err
	}
	if len(rsp.Payload) < 4 {
		return 0, errors.New("host: start-test ack without test id")
	}

	return binary.LittleEndian.Uint32(rsp.Payload[:4]), nil
}

// Abort force-terminates the running test.
func (c *Client) Abort(ctx context.Context) error {
	_, err := c.Call(ctx, wire.CmdAbortTest, nil)

	return err
}

// Status queries the engine's lifecycle snapshot.
func (c *Client) Status(ctx context.Context) (selftest.Snapshot, error) {
	rsp, err := c.Call(ctx, wire.CmdTestStatus, nil)
	if err != nil {
		return selftest.Snapshot{}, err
	}

	return selftest.DecodeStatusPayload(rsp.Payload)
}

// TestResult fetches and consumes the result of a terminal test.
func (c *Client) TestResult(ctx context.Context, testID uint32) (*selftest.Result, error) {
	var payload [4]byte
	binary.LittleEndian.PutUint32(payload[:], testID)

	rsp, err := c.Call(ctx, wire.CmdTestResult, payload[:])
	if err != nil {
		return nil, err
	}

	return selftest.DecodeResultPayload(rsp.Payload)
}

// Measurements fetches one chunk of raw samples of a terminal test.
func (c *Client) Measurements(ctx context.Context, testID uint32, start uint16, count uint8) ([]selftest.MeasurementRecord, uint16, error) {
	rsp, err := c.Call(ctx, wire.CmdMeasurements, selftest.EncodeMeasurementsRequest(testID, start, count))
	if err != nil {
		return nil, 0, err
	}

	_, total, records, err := selftest.DecodeMeasurementsPayload(rsp.Payload)

	return records, total, err
}

// AllMeasurements pages through every retained sample of a terminal test.
func (c *Client) AllMeasurements(ctx context.Context, testID uint32) ([]selftest.MeasurementRecord, error) {
	var out []selftest.MeasurementRecord
	for {
		records, total, err := c.Measurements(ctx, testID, uint16(len(out)), uint8(selftest.MeasurementsPerFrame))
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
		if len(records) == 0 || len(out) >= int(total) {
			return out, nil
		}
	}
}

// EngineStats queries the engine-wide pass/fail aggregates.
func (c *Client) EngineStats(ctx context.Context) (selftest.EngineStats, error) {
	rsp, err := c.Call(ctx, wire.CmdEngineStats, nil)
	if err != nil {
		return selftest.EngineStats{}, err
	}

	return selftest.DecodeEngineStatsPayload(rsp.Payload)
}

// ResetStats clears the device's statistics counters.
func (c *Client) ResetStats(ctx context.Context) error {
	_, err := c.Call(ctx, wire.CmdResetStats, nil)

	return err
}

// DrainLog fetches one chunk of pending diagnostic log lines. An empty
// slice means the device log is drained.
func (c *Client) DrainLog(ctx context.Context) ([]string, error) {
	rsp, err := c.Call(ctx, wire.CmdDiagLog, nil)
	if err != nil {
		return nil, err
	}
	if len(rsp.Payload) == 0 {
		return nil, nil
	}

	return strings.Split(string(rsp.Payload), "\n"), nil
}

// SafetyStatus queries the battery-safety predicate and flag byte.
func (c *Client) SafetyStatus(ctx context.Context) (safe bool, flags byte, err error) {
	rsp, err := c.Call(ctx, wire.CmdSafetyStatus, nil)
	if err != nil {
		return false, 0, err
	}
	if len(rsp.Payload) < 2 {
		return false, 0, errors.New("host: malformed safety status payload")
	}

	return rsp.Payload[0] != 0, rsp.Payload[1], nil
}

// EnterBootloader requests the one-way bootloader entry. After the ack the
// device stops answering.
func (c *Client) EnterBootloader(ctx context.Context) error {
	_, err := c.Call(ctx, wire.CmdEnterBootloader, nil)

	return err
}
