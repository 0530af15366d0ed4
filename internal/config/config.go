package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dyluth/beacon/internal/signal"
	"github.com/dyluth/beacon/internal/store"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for the config when --config is not given.
const DefaultPath = "beacon.yml"

// BeaconConfig represents the top-level beacon.yml configuration
type BeaconConfig struct {
	Version string         `yaml:"version"`
	Host    *HostConfig    `yaml:"host,omitempty"`
	Scanner *ScannerConfig `yaml:"scanner,omitempty"`
	Board   *BoardConfig   `yaml:"board,omitempty"`
	Store   *StoreConfig   `yaml:"store,omitempty"`
	Status  *StatusConfig  `yaml:"status,omitempty"`
	Log     *LogConfig     `yaml:"log,omitempty"`
}

// HostConfig names the relay host clients connect to, and where a host listens
type HostConfig struct {
	Address string `yaml:"address,omitempty"` // host[:port] or ws:// URL clients dial
	Listen  string `yaml:"listen,omitempty"`  // Default: ":8765"
}

// ScannerConfig holds the scanning client's signal settings
type ScannerConfig struct {
	DecisionMode string            `yaml:"decision_mode,omitempty"` // "local" (default) or "host"
	MaxDelay     *Duration         `yaml:"max_delay,omitempty"`     // Default: 1s
	AutoReset    *bool             `yaml:"auto_reset,omitempty"`
	ResetTimeout *Duration         `yaml:"reset_timeout,omitempty"` // Default: 3s
	BlueChance   *BlueChanceConfig `yaml:"blue_chance,omitempty"`
	AnyKeyReset  *bool             `yaml:"any_key_reset,omitempty"`
	MaxScanRate  *float64          `yaml:"max_scan_rate,omitempty"` // frames per second, 0 = unlimited
}

// BlueChanceConfig controls the local-mode BLUE draw
type BlueChanceConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Probability float64 `yaml:"probability"`
}

// BoardConfig holds placement board behaviour
type BoardConfig struct {
	SettleDelay *Duration `yaml:"settle_delay,omitempty"` // Default: 900ms
}

// StoreConfig selects the snapshot backend
type StoreConfig struct {
	Backend       string `yaml:"backend,omitempty"`   // "memory" (default) or "redis"
	RedisURL      string `yaml:"redis_url,omitempty"` // Required if backend="redis"
	KeyPrefix     string `yaml:"key_prefix,omitempty"`
	MaxValueBytes int    `yaml:"max_value_bytes,omitempty"` // 0 = unlimited
	Compress      bool   `yaml:"compress,omitempty"`
}

// StatusConfig enables the read-only status endpoint
type StatusConfig struct {
	Listen string `yaml:"listen,omitempty"` // empty disables the endpoint
}

// LogConfig configures the process logger
type LogConfig struct {
	Level    string `yaml:"level,omitempty"`    // Default: "info"
	Encoding string `yaml:"encoding,omitempty"` // "console" (default) or "json"
}

// Duration is a time.Duration that unmarshals from "1.5s" style strings.
type Duration time.Duration

// UnmarshalYAML accepts a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration back in string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns a configuration with every section filled in.
func Default() *BeaconConfig {
	c := &BeaconConfig{Version: "1.0"}
	if err := c.Validate(); err != nil {
		panic(err)
	}
	return c
}

// Validate performs strict validation on the configuration and applies
// defaults to missing sections
func (c *BeaconConfig) Validate() error {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Host == nil {
		c.Host = &HostConfig{}
	}
	if c.Host.Listen == "" {
		c.Host.Listen = ":8765"
	}

	if c.Scanner == nil {
		c.Scanner = &ScannerConfig{}
	}
	if err := c.Scanner.Validate(); err != nil {
		return err
	}

	if c.Board == nil {
		c.Board = &BoardConfig{}
	}
	if c.Board.SettleDelay == nil {
		d := Duration(900 * time.Millisecond)
		c.Board.SettleDelay = &d
	}
	if *c.Board.SettleDelay < 0 {
		return fmt.Errorf("board.settle_delay must be >= 0, got %s", c.Board.SettleDelay.Std())
	}

	if c.Store == nil {
		c.Store = &StoreConfig{}
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}

	if c.Status == nil {
		c.Status = &StatusConfig{}
	}

	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Encoding == "" {
		c.Log.Encoding = "console"
	}
	if c.Log.Encoding != "console" && c.Log.Encoding != "json" {
		return fmt.Errorf("log: invalid encoding: %s (must be 'console' or 'json')", c.Log.Encoding)
	}

	return nil
}

// Validate checks scanner settings and fills in defaults
func (s *ScannerConfig) Validate() error {
	if s.DecisionMode == "" {
		s.DecisionMode = string(signal.DecisionLocal)
	}
	mode, ok := signal.ParseDecisionMode(s.DecisionMode)
	if !ok {
		return fmt.Errorf("scanner: invalid decision_mode: %s (must be 'local' or 'host')", s.DecisionMode)
	}
	s.DecisionMode = string(mode)

	defaults := signal.DefaultSettings()
	if s.MaxDelay == nil {
		d := Duration(defaults.MaxDelay)
		s.MaxDelay = &d
	}
	if *s.MaxDelay < 0 {
		return fmt.Errorf("scanner.max_delay must be >= 0, got %s", s.MaxDelay.Std())
	}
	if s.ResetTimeout == nil {
		d := Duration(defaults.ResetTimeout)
		s.ResetTimeout = &d
	}
	if *s.ResetTimeout < 0 {
		return fmt.Errorf("scanner.reset_timeout must be >= 0, got %s", s.ResetTimeout.Std())
	}

	if s.BlueChance != nil {
		p := s.BlueChance.Probability
		if p < 0 || p > 1 {
			return fmt.Errorf("scanner.blue_chance.probability must be between 0 and 1, got %v", p)
		}
	}

	if s.MaxScanRate != nil && *s.MaxScanRate < 0 {
		return fmt.Errorf("scanner.max_scan_rate must be >= 0, got %v", *s.MaxScanRate)
	}

	return nil
}

// Validate checks the store backend selection
func (s *StoreConfig) Validate() error {
	switch s.Backend {
	case "":
		s.Backend = "memory"
	case "memory":
	case "redis":
		if s.RedisURL == "" {
			return fmt.Errorf("store: redis_url is required when backend is 'redis'")
		}
	default:
		return fmt.Errorf("store: invalid backend: %s (must be 'memory' or 'redis')", s.Backend)
	}
	if s.MaxValueBytes < 0 {
		return fmt.Errorf("store.max_value_bytes must be >= 0 (0 = unlimited), got %d", s.MaxValueBytes)
	}
	return nil
}

// SignalSettings converts the validated scanner section into machine settings.
func (c *BeaconConfig) SignalSettings() signal.Settings {
	s := signal.DefaultSettings()
	sc := c.Scanner
	if sc == nil {
		return s
	}
	if mode, ok := signal.ParseDecisionMode(sc.DecisionMode); ok {
		s.DecisionMode = mode
	}
	if sc.MaxDelay != nil {
		s.MaxDelay = sc.MaxDelay.Std()
	}
	if sc.AutoReset != nil {
		s.AutoReset = *sc.AutoReset
	}
	if sc.ResetTimeout != nil {
		s.ResetTimeout = sc.ResetTimeout.Std()
	}
	if sc.BlueChance != nil {
		s.BlueChanceEnabled = sc.BlueChance.Enabled
		s.BlueChance = sc.BlueChance.Probability
	}
	if sc.AnyKeyReset != nil {
		s.AnyKeyReset = *sc.AnyKeyReset
	}
	return s
}

// ScanRate returns the configured frame rate limit.
func (c *BeaconConfig) ScanRate() float64 {
	if c.Scanner == nil || c.Scanner.MaxScanRate == nil {
		return 0
	}
	return *c.Scanner.MaxScanRate
}

// StoreOptions converts the store section, namespacing keys under client.
func (c *BeaconConfig) StoreOptions(client string) store.Options {
	opts := store.Options{KeyPrefix: client}
	if c.Store == nil {
		return opts
	}
	opts.Backend = c.Store.Backend
	opts.RedisURL = c.Store.RedisURL
	opts.MaxValueBytes = c.Store.MaxValueBytes
	opts.Compress = c.Store.Compress
	if c.Store.KeyPrefix != "" {
		opts.KeyPrefix = c.Store.KeyPrefix + ":" + client
	}
	return opts
}

// Environment variables that override file settings.
const (
	EnvHost     = "BEACON_HOST"
	EnvRedisURL = "BEACON_REDIS_URL"
	EnvLogLevel = "BEACON_LOG_LEVEL"
)

// ApplyEnv overlays BEACON_* variables onto c. A .env file in the working
// directory is read first if present; real environment variables win.
func (c *BeaconConfig) ApplyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv(EnvHost); v != "" {
		c.Host.Address = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Store.RedisURL = v
		if c.Store.Backend == "memory" {
			c.Store.Backend = "redis"
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// Load reads and validates beacon.yml from the specified path
func Load(path string) (*BeaconConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config BeaconConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadOrDefault behaves like Load but returns Default when path does not exist.
func LoadOrDefault(path string) (*BeaconConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}
