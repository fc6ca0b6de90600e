package notify

import (
	"fmt"
	"time"
)

// Config tunes the broadcast fan-out engine.
type Config struct {
	// BatchSize is the baseline number of recipients notified together.
	// The health monitor may shrink or grow it within the min/max bounds.
	BatchSize    int `json:"batch_size"`
	MinBatchSize int `json:"min_batch_size"`
	MaxBatchSize int `json:"max_batch_size"`

	// MaxParallelBatches caps how many batches run concurrently within one
	// batch-group.
	MaxParallelBatches int `json:"max_parallel_batches"`

	// BatchGroupDelayMS is the pause between batch-groups, a backpressure
	// control against the outbound transport's rate limits.
	BatchGroupDelayMS int `json:"batch_group_delay_ms"`

	// MaxAttempts is the per-recipient delivery attempt budget.
	MaxAttempts int `json:"max_attempts"`

	// RetryBaseDelayMS scales linearly with the attempt number.
	RetryBaseDelayMS int `json:"retry_base_delay_ms"`

	// SendTimeoutSeconds bounds each individual delivery attempt.
	SendTimeoutSeconds int `json:"send_timeout_seconds"`
}

// SetDefaults applies the production defaults.
func (c *Config) SetDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 8
	}
	if c.MinBatchSize == 0 {
		c.MinBatchSize = 4
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 12
	}
	if c.MaxParallelBatches == 0 {
		c.MaxParallelBatches = 2
	}
	if c.BatchGroupDelayMS == 0 {
		c.BatchGroupDelayMS = 1200
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBaseDelayMS == 0 {
		c.RetryBaseDelayMS = 2000
	}
	if c.SendTimeoutSeconds == 0 {
		c.SendTimeoutSeconds = 20
	}
}

// Validate checks the configured bounds.
func (c Config) Validate() error {
	if c.MinBatchSize > c.MaxBatchSize {
		return fmt.Errorf("min_batch_size %d exceeds max_batch_size %d", c.MinBatchSize, c.MaxBatchSize)
	}
	if c.BatchSize < c.MinBatchSize || c.BatchSize > c.MaxBatchSize {
		return fmt.Errorf("batch_size %d outside [%d,%d]", c.BatchSize, c.MinBatchSize, c.MaxBatchSize)
	}
	if c.MaxParallelBatches < 1 {
		return fmt.Errorf("max_parallel_batches must be at least 1")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	return nil
}

func (c Config) batchGroupDelay() time.Duration {
	return time.Duration(c.BatchGroupDelayMS) * time.Millisecond
}

func (c Config) retryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

func (c Config) sendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}
