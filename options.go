package qflash

import "time"

// Config holds the tunables shared by the engine and the controller
// session. The zero value is not usable; defaults come from defaultConfig.
type Config struct {
	// Logger receives diagnostic output (optional).
	Logger Logger

	// PollInterval is the sleep between busy-wait polls of controller
	// status and flash-ready state.
	PollInterval time.Duration

	// WaitTimeout bounds every single busy-wait: FIFO reset, transaction
	// completion, and flash-ready polling.
	WaitTimeout time.Duration

	// BulkEraseTimeout bounds the ready-wait after a whole-chip erase,
	// which takes far longer than any sector erase.
	BulkEraseTimeout time.Duration

	// WriteBurst is the maximum payload of one program transaction.
	// Programming more than 128 bytes per transaction fails randomly even
	// when the FIFO is deeper.
	WriteBurst int
}

func defaultConfig() Config {
	return Config{
		Logger:           nopLogger{},
		PollInterval:     5 * time.Microsecond,
		WaitTimeout:      time.Second,
		BulkEraseTimeout: 60 * time.Second, // [N25Q] tBE
		WriteBurst:       128,
	}
}

// Option configures an Engine or a Controller.
type Option func(*Config)

// WithLogger sets a logger for controller operations.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithPollInterval sets the busy-wait polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.PollInterval = d
		}
	}
}

// WithWaitTimeout sets the budget of a single busy-wait.
func WithWaitTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.WaitTimeout = d
		}
	}
}

// WithBulkEraseTimeout sets the ready-wait budget after a chip erase.
func WithBulkEraseTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.BulkEraseTimeout = d
		}
	}
}

// WithWriteBurst caps the payload of one program transaction. Values
// outside (0, 256] are ignored.
func WithWriteBurst(n int) Option {
	return func(c *Config) {
		if n > 0 && n <= 256 {
			c.WriteBurst = n
		}
	}
}
