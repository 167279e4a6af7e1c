package device

import (
	"errors"
	"time"

	"github.com/pulsefw/pulselink/logger"
)

// Config holds the controller's tunables. All values are fixed at
// construction time; the firmware never resizes queues or reschedules
// routines while running.
type Config struct {
	// commandQueueSize and responseQueueSize are the fixed queue
	// capacities. Defaults: 16 each.
	commandQueueSize  int
	responseQueueSize int

	// commandTimeout is how long a queued command may wait before the
	// processing routine evicts it unanswered. It should be between 10ms
	// and 60 seconds. Defaults to 5 seconds.
	commandTimeout time.Duration

	// maxRetries is the per-response transmission retry budget; 0 means a
	// failed write discards the response immediately. Defaults to 3.
	maxRetries int

	// pollInterval, processInterval, and transmitInterval pace the three
	// periodic routines. Defaults: 10ms, 20ms, 10ms.
	pollInterval     time.Duration
	processInterval  time.Duration
	transmitInterval time.Duration

	// readBudget, dispatchBudget, and transmitBudget bound the work of one
	// tick of the corresponding routine. Defaults: 8, 4, 4.
	readBudget     int
	dispatchBudget int
	transmitBudget int

	// diagLogSize is the diagnostic log ring capacity. Defaults to 64.
	diagLogSize int

	logger logger.Logger

	// clock supplies the current time; tests override it to drive
	// timeouts and test deadlines deterministically.
	clock func() time.Time

	// Collaborators, all optional. See WithSafetyMonitor,
	// WithResourceProbe, and WithBootloader.
	safety     SafetyMonitor
	probe      ResourceProbe
	bootloader BootloaderFunc
}

// Option customizes a Config.
type Option func(*Config) error

func newConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		commandQueueSize:  16,
		responseQueueSize: 16,
		commandTimeout:    5 * time.Second,
		maxRetries:        3,
		pollInterval:      10 * time.Millisecond,
		processInterval:   20 * time.Millisecond,
		transmitInterval:  10 * time.Millisecond,
		readBudget:        8,
		dispatchBudget:    4,
		transmitBudget:    4,
		diagLogSize:       64,
		logger:            logger.GetLogger(),
		clock:             time.Now,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// WithCommandQueueSize sets the inbound command queue capacity (1-256).
func WithCommandQueueSize(size int) Option {
	return func(cfg *Config) error {
		if size < 1 || size > 256 {
			return errors.New("command queue size out of range [1, 256]")
		}
		cfg.commandQueueSize = size

		return nil
	}
}

// WithResponseQueueSize sets the outbound response queue capacity (1-256).
func WithResponseQueueSize(size int) Option {
	return func(cfg *Config) error {
		if size < 1 || size > 256 {
			return errors.New("response queue size out of range [1, 256]")
		}
		cfg.responseQueueSize = size

		return nil
	}
}

// WithCommandTimeout sets the queued-command timeout (10ms-60s).
func WithCommandTimeout(val time.Duration) Option {
	return func(cfg *Config) error {
		if val < 10*time.Millisecond || val > 60*time.Second {
			return errors.New("command timeout out of range [0.01, 60]")
		}
		cfg.commandTimeout = val

		return nil
	}
}

// WithMaxRetries sets the per-response transmission retry budget (0-10).
func WithMaxRetries(val int) Option {
	return func(cfg *Config) error {
		if val < 0 || val > 10 {
			return errors.New("max retries out of range [0, 10]")
		}
		cfg.maxRetries = val

		return nil
	}
}

// WithIntervals sets the poll, process, and transmit routine intervals.
func WithIntervals(poll, process, transmit time.Duration) Option {
	return func(cfg *Config) error {
		if poll <= 0 || process <= 0 || transmit <= 0 {
			return errors.New("routine intervals must be positive")
		}
		cfg.pollInterval = poll
		cfg.processInterval = process
		cfg.transmitInterval = transmit

		return nil
	}
}

// WithBudgets bounds the per-tick work of the poll, process, and transmit
// routines.
func WithBudgets(read, dispatch, transmit int) Option {
	return func(cfg *Config) error {
		if read < 1 || dispatch < 1 || transmit < 1 {
			return errors.New("per-tick budgets must be at least 1")
		}
		cfg.readBudget = read
		cfg.dispatchBudget = dispatch
		cfg.transmitBudget = transmit

		return nil
	}
}

// WithDiagLogSize sets the diagnostic log ring capacity (1-1024).
func WithDiagLogSize(size int) Option {
	return func(cfg *Config) error {
		if size < 1 || size > 1024 {
			return errors.New("diag log size out of range [1, 1024]")
		}
		cfg.diagLogSize = size

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

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(cfg *Config) error {
		if clock == nil {
			return errors.New("clock is nil")
		}
		cfg.clock = clock

		return nil
	}
}
