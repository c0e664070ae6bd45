package config

// Queue names present in the default configuration
const (
	DefaultQueue = "default"
	SerialQueue  = "serial"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Queues: map[string]QueueConfig{
			DefaultQueue: {MaxConcurrency: 0},
			SerialQueue:  {MaxConcurrency: 1},
		},
		Retry: RetryConfig{
			InitialIntervalMS:   100,
			MaxIntervalMS:       10_000,
			MaxElapsedMS:        120_000,
			Multiplier:          2.0,
			RandomizationFactor: 0.5,
		},
		Breaker: BreakerConfig{
			MaxRequests:         3,
			TimeoutMS:           30_000,
			ConsecutiveFailures: 5,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
		Events: EventsConfig{
			BufferSize: 256,
		},
	}
}
