package config

import (
	"fmt"

	coorderr "github.com/harborhq/contextd/errors"
)

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	t := c.Thresholds
	for name, v := range map[string]float64{
		"warning":      t.Warning,
		"checkpoint":   t.Checkpoint,
		"auto_compact": t.AutoCompact,
		"emergency":    t.Emergency,
	} {
		if v <= 0 || v > 1 {
			return coorderr.ConfigInvalid(fmt.Sprintf("threshold %s must be in (0,1], got %v", name, v))
		}
	}

	// The tiers must be strictly ascending; equal tiers would make a band
	// empty and its edge-trigger unreachable.
	if !(t.Warning < t.Checkpoint && t.Checkpoint < t.AutoCompact && t.AutoCompact < t.Emergency) {
		return coorderr.ConfigInvalid(fmt.Sprintf(
			"thresholds must satisfy warning < checkpoint < auto_compact < emergency, got %v < %v < %v < %v",
			t.Warning, t.Checkpoint, t.AutoCompact, t.Emergency))
	}

	if c.Timeouts.Heartbeat <= 0 {
		return coorderr.ConfigInvalid("timeouts.heartbeat must be positive")
	}
	if c.Timeouts.StaleGrace <= 0 {
		return coorderr.ConfigInvalid("timeouts.stale_grace must be positive")
	}
	if c.Timeouts.CheckpointWrite <= 0 {
		return coorderr.ConfigInvalid("timeouts.checkpoint_write must be positive")
	}
	if c.Intervals.Reap <= 0 {
		return coorderr.ConfigInvalid("intervals.reap must be positive")
	}
	if c.Intervals.PublishHeartbeat <= 0 {
		return coorderr.ConfigInvalid("intervals.publish_heartbeat must be positive")
	}
	if c.Checkpoint.MaxRetries < 0 {
		return coorderr.ConfigInvalid("checkpoint.max_retries must not be negative")
	}

	return nil
}
