// Package config handles configuration loading from YAML files and environment
// variables, validation, and the atomically-swapped snapshot used for hot
// reload. Precedence: environment variables > config file > defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ampwatch/agent/internal/models"
)

// minPollInterval is the floor applied to poll_interval_seconds so a
// misconfigured agent cannot hammer the AMP panel.
const minPollInterval = 5 * time.Second

// maintenanceDays are the accepted day tokens; "*" matches every day.
var maintenanceDays = map[string]bool{
	"mon": true, "tue": true, "wed": true, "thu": true,
	"fri": true, "sat": true, "sun": true, "*": true,
}

// MaintenanceWindow is a recurring local-time window during which shutdown is
// suppressed. End before Start means the window wraps past midnight into the
// following day.
type MaintenanceWindow struct {
	Days  []string `yaml:"days"`
	Start string   `yaml:"start"`
	End   string   `yaml:"end"`
}

// Config is one immutable configuration snapshot. A cycle always runs against
// exactly one snapshot; reloads swap in a fresh value, never mutate one.
type Config struct {
	AMPBaseURL string `yaml:"amp_base_url"`
	APIKey     string `yaml:"api_key"`
	VerifySSL  bool   `yaml:"verify_ssl"`

	PollIntervalSeconds   int                       `yaml:"poll_interval_seconds"`
	IdleDelayMinutes      int                       `yaml:"idle_delay_minutes"`
	GlobalPlayerThreshold int                       `yaml:"global_player_threshold"`
	PerInstanceThresholds map[models.InstanceID]int `yaml:"per_instance_thresholds"`
	SelectedInstances     []models.InstanceID       `yaml:"selected_instances"`
	MaintenanceWindows    []MaintenanceWindow       `yaml:"maintenance_windows"`

	// FailureTolerance is the number of consecutive transient poll failures
	// an instance may accumulate before it is demoted to Unknown.
	FailureTolerance   int `yaml:"failure_tolerance"`
	MaxConcurrentPolls int `yaml:"max_concurrent_polls"`
	PollTimeoutSeconds int `yaml:"poll_timeout_seconds"`
	MaxRetries         int `yaml:"max_retries"`

	DryRun bool `yaml:"dry_run"`

	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the default configuration. Dry-run is on by default so a
// fresh install can never power off a host before an operator opts in.
func Default() *Config {
	return &Config{
		VerifySSL:             true,
		PollIntervalSeconds:   30,
		IdleDelayMinutes:      10,
		GlobalPlayerThreshold: 0,
		PerInstanceThresholds: map[models.InstanceID]int{},
		FailureTolerance:      3,
		MaxConcurrentPolls:    4,
		PollTimeoutSeconds:    10,
		MaxRetries:            3,
		DryRun:                true,
		LogLevel:              "info",
	}
}

// LoadFromBytes parses YAML configuration, merges with defaults, applies
// environment overrides, and validates the result.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Default()

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config data: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads configuration from a YAML file. If path is empty, the standard
// per-OS locations are searched; a missing file yields defaults plus
// environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Locate()
	}
	if path == "" {
		return LoadFromBytes(nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		return LoadFromBytes(nil)
	}

	return LoadFromBytes(data)
}

// Locate searches standard config file paths and returns the first one found.
// Returns empty string if no config file exists.
func Locate() string {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// applyEnvOverrides applies environment variable overrides. Environment
// variables have the highest precedence; the API key in particular is
// normally injected this way rather than written to the config file.
func applyEnvOverrides(cfg *Config) {
	if url := os.Getenv("AMPWATCH_BASE_URL"); url != "" {
		cfg.AMPBaseURL = url
	}
	if key := os.Getenv("AMPWATCH_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if level := os.Getenv("AMPWATCH_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
}

// Validate checks the snapshot for values that must reject a (re)load.
// A failed validation never crashes the loop; the caller keeps the previous
// valid snapshot.
func (c *Config) Validate() error {
	if c.AMPBaseURL == "" {
		return fmt.Errorf("amp_base_url is required")
	}
	if !strings.HasPrefix(c.AMPBaseURL, "http://") && !strings.HasPrefix(c.AMPBaseURL, "https://") {
		return fmt.Errorf("amp_base_url must start with http:// or https:// (got %q)", c.AMPBaseURL)
	}
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll_interval_seconds must be positive (got %d)", c.PollIntervalSeconds)
	}
	if c.IdleDelayMinutes < 0 {
		return fmt.Errorf("idle_delay_minutes must not be negative (got %d)", c.IdleDelayMinutes)
	}
	if c.GlobalPlayerThreshold < 0 {
		return fmt.Errorf("global_player_threshold must not be negative (got %d)", c.GlobalPlayerThreshold)
	}
	for id, threshold := range c.PerInstanceThresholds {
		if id == "" {
			return fmt.Errorf("per_instance_thresholds contains an empty instance id")
		}
		if threshold < 0 {
			return fmt.Errorf("threshold for instance %q must not be negative (got %d)", id, threshold)
		}
	}
	for _, id := range c.SelectedInstances {
		if id == "" {
			return fmt.Errorf("selected_instances contains an empty instance id")
		}
	}
	for i, w := range c.MaintenanceWindows {
		if err := validateWindow(w); err != nil {
			return fmt.Errorf("maintenance_windows[%d]: %w", i, err)
		}
	}
	if c.FailureTolerance < 1 {
		return fmt.Errorf("failure_tolerance must be at least 1 (got %d)", c.FailureTolerance)
	}
	if c.MaxConcurrentPolls < 1 {
		return fmt.Errorf("max_concurrent_polls must be at least 1 (got %d)", c.MaxConcurrentPolls)
	}
	if c.PollTimeoutSeconds < 1 {
		return fmt.Errorf("poll_timeout_seconds must be at least 1 (got %d)", c.PollTimeoutSeconds)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative (got %d)", c.MaxRetries)
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	return nil
}

func validateWindow(w MaintenanceWindow) error {
	if len(w.Days) == 0 {
		return fmt.Errorf("days must not be empty")
	}
	for _, d := range w.Days {
		if !maintenanceDays[strings.ToLower(d)] {
			return fmt.Errorf("unknown day %q", d)
		}
	}
	start, err := ParseClock(w.Start)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	end, err := ParseClock(w.End)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}
	if start == end {
		return fmt.Errorf("start and end must differ (%s)", w.Start)
	}
	return nil
}

// ParseClock parses an "HH:MM" local wall-clock time into minutes past
// midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// PollInterval returns the tick period with the safety floor applied.
func (c *Config) PollInterval() time.Duration {
	interval := time.Duration(c.PollIntervalSeconds) * time.Second
	if interval < minPollInterval {
		return minPollInterval
	}
	return interval
}

// IdleDelay returns how long every instance must be continuously idle before
// the fleet is shutdown-eligible.
func (c *Config) IdleDelay() time.Duration {
	return time.Duration(c.IdleDelayMinutes) * time.Minute
}

// PollTimeout returns the wall-clock budget for one instance poll, including
// its retries.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutSeconds) * time.Second
}

// EffectiveThreshold returns the player threshold for an instance: the
// per-instance override when present, the global default otherwise.
func (c *Config) EffectiveThreshold(id models.InstanceID) int {
	if threshold, ok := c.PerInstanceThresholds[id]; ok {
		return threshold
	}
	return c.GlobalPlayerThreshold
}
