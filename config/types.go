// Package config defines and loads the contextd daemon configuration.
//
// The threshold set and timeouts are loaded once at process start and
// replaced only as a whole via Provider.Reload; nothing mutates a
// Config in place while evaluations are running.
package config

import (
	"fmt"
	"time"

	"github.com/harborhq/contextd/logging"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML round-tripping ("30s", "2m").
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Thresholds is the ordered usage-fraction policy. Each tier must be
// strictly greater than the previous one.
type Thresholds struct {
	// Warning is informational only.
	Warning float64 `yaml:"warning"`
	// Checkpoint is the band where a checkpoint trigger fires once per
	// upward crossing.
	Checkpoint float64 `yaml:"checkpoint"`
	// AutoCompact is the point past which a session without a successful
	// checkpoint escalates to emergency.
	AutoCompact float64 `yaml:"auto_compact"`
	// Emergency always forces a checkpoint and raises an alert.
	Emergency float64 `yaml:"emergency"`
}

// Timeouts groups the liveness and I/O deadlines. Every blocking
// operation in the daemon is bounded by one of these.
type Timeouts struct {
	// Heartbeat is how long a session may go without reporting before the
	// reaper marks it stale.
	Heartbeat Duration `yaml:"heartbeat"`
	// StaleGrace is how long a stale session is held before termination.
	StaleGrace Duration `yaml:"stale_grace"`
	// Rearm is the interval after a successful checkpoint before the
	// checkpoint trigger re-arms without a usage drop.
	Rearm Duration `yaml:"rearm"`
	// CheckpointWrite bounds one artifact write attempt.
	CheckpointWrite Duration `yaml:"checkpoint_write"`
	// Shutdown bounds graceful server shutdown.
	Shutdown Duration `yaml:"shutdown"`
}

// Intervals groups the background worker periods.
type Intervals struct {
	// Reap is the liveness reaper scan period.
	Reap Duration `yaml:"reap"`
	// PublishHeartbeat is the period of heartbeat frames on observer
	// channels.
	PublishHeartbeat Duration `yaml:"publish_heartbeat"`
}

// CheckpointConfig configures the checkpoint coordinator.
type CheckpointConfig struct {
	// Dir overrides the default artifact directory when set.
	Dir string `yaml:"dir"`
	// MaxRetries bounds write retries before an alert is surfaced.
	MaxRetries int `yaml:"max_retries"`
}

// Config is the full daemon configuration.
type Config struct {
	Thresholds Thresholds       `yaml:"thresholds"`
	Timeouts   Timeouts         `yaml:"timeouts"`
	Intervals  Intervals        `yaml:"intervals"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Logging    logging.Config   `yaml:"logging"`
}

// Default returns the built-in configuration. Threshold values are a
// policy default, not a contract; deployments tune them in contextd.yml.
func Default() *Config {
	return &Config{
		Thresholds: Thresholds{
			Warning:     0.50,
			Checkpoint:  0.75,
			AutoCompact: 0.80,
			Emergency:   0.90,
		},
		Timeouts: Timeouts{
			Heartbeat:       Duration(30 * time.Second),
			StaleGrace:      Duration(60 * time.Second),
			Rearm:           Duration(2 * time.Minute),
			CheckpointWrite: Duration(30 * time.Second),
			Shutdown:        Duration(5 * time.Second),
		},
		Intervals: Intervals{
			Reap:             Duration(10 * time.Second),
			PublishHeartbeat: Duration(15 * time.Second),
		},
		Checkpoint: CheckpointConfig{
			MaxRetries: 3,
		},
	}
}
