package config

import (
	"time"

	"github.com/aristath/composite/internal/task"
)

// QueueConfig describes one named task queue.
type QueueConfig struct {
	MaxConcurrency int `json:"max_concurrency"` // <= 0 means unlimited, 1 means serial
}

// RetryConfig holds the backoff parameters for retried operations.
type RetryConfig struct {
	InitialIntervalMS   int     `json:"initial_interval_ms"`
	MaxIntervalMS       int     `json:"max_interval_ms"`
	MaxElapsedMS        int     `json:"max_elapsed_ms"`
	Multiplier          float64 `json:"multiplier"`
	RandomizationFactor float64 `json:"randomization_factor"`
}

// BreakerConfig holds circuit breaker parameters shared by every breaker.
type BreakerConfig struct {
	MaxRequests         uint32 `json:"max_requests"`         // Probes allowed while half-open
	TimeoutMS           int    `json:"timeout_ms"`           // Time spent open before probing
	ConsecutiveFailures uint32 `json:"consecutive_failures"` // Failures in a row that trip the breaker
}

// LoggingConfig selects the log level and destination.
type LoggingConfig struct {
	Level string `json:"level"`         // DEBUG, INFO, WARN or ERROR
	Dir   string `json:"dir,omitempty"` // Log to {dir}/composite.log instead of stderr
}

// EventsConfig sizes event subscriptions.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// Config is the top-level configuration.
type Config struct {
	Queues  map[string]QueueConfig `json:"queues"`
	Retry   RetryConfig            `json:"retry"`
	Breaker BreakerConfig          `json:"breaker"`
	Logging LoggingConfig          `json:"logging"`
	Events  EventsConfig           `json:"events"`
}

// Queue returns the named queue configuration, falling back to "default".
func (c *Config) Queue(name string) QueueConfig {
	if q, ok := c.Queues[name]; ok {
		return q
	}
	return c.Queues[DefaultQueue]
}

// Policy converts the retry section into task retry parameters.
func (r RetryConfig) Policy() task.RetryConfig {
	return task.RetryConfig{
		InitialInterval:     time.Duration(r.InitialIntervalMS) * time.Millisecond,
		MaxInterval:         time.Duration(r.MaxIntervalMS) * time.Millisecond,
		MaxElapsedTime:      time.Duration(r.MaxElapsedMS) * time.Millisecond,
		Multiplier:          r.Multiplier,
		RandomizationFactor: r.RandomizationFactor,
	}
}

// Settings converts the breaker section into task breaker parameters.
func (b BreakerConfig) Settings() task.BreakerConfig {
	return task.BreakerConfig{
		MaxRequests:         b.MaxRequests,
		Timeout:             time.Duration(b.TimeoutMS) * time.Millisecond,
		ConsecutiveFailures: b.ConsecutiveFailures,
	}
}
