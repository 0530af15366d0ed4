package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dyluth/beacon/internal/signal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "beacon.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
host:
  address: "192.168.1.20"
scanner:
  decision_mode: host
  max_delay: 2.5s
  auto_reset: true
  reset_timeout: 5s
  blue_chance:
    enabled: true
    probability: 0.25
  any_key_reset: true
  max_scan_rate: 4
board:
  settle_delay: 1s
store:
  backend: redis
  redis_url: "redis://localhost:6379/0"
  key_prefix: classroom
  max_value_bytes: 5242880
  compress: true
log:
  level: debug
  encoding: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.20", cfg.Host.Address)
	assert.Equal(t, ":8765", cfg.Host.Listen)
	assert.Equal(t, time.Second, cfg.Board.SettleDelay.Std())
	assert.Equal(t, 4.0, cfg.ScanRate())

	s := cfg.SignalSettings()
	assert.Equal(t, signal.Settings{
		DecisionMode:      signal.DecisionHost,
		MaxDelay:          2500 * time.Millisecond,
		AutoReset:         true,
		ResetTimeout:      5 * time.Second,
		BlueChanceEnabled: true,
		BlueChance:        0.25,
		AnyKeyReset:       true,
	}, s)

	opts := cfg.StoreOptions("board")
	assert.Equal(t, "redis", opts.Backend)
	assert.Equal(t, "classroom:board", opts.KeyPrefix)
	assert.Equal(t, 5242880, opts.MaxValueBytes)
	assert.True(t, opts.Compress)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Encoding)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `version: "1.0"`))
	require.NoError(t, err)

	assert.Equal(t, signal.DefaultSettings(), cfg.SignalSettings())
	assert.Equal(t, 900*time.Millisecond, cfg.Board.SettleDelay.Std())
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "scanner", cfg.StoreOptions("scanner").KeyPrefix)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Encoding)
	assert.Empty(t, cfg.Status.Listen)
	assert.Zero(t, cfg.ScanRate())
}

func TestLoad_LegacyDecisionModeName(t *testing.T) {
	cfg, err := Load(writeConfig(t, `version: "1.0"
scanner:
  decision_mode: random
`))
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Scanner.DecisionMode)
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/beacon.yml")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, `version: "1.0"
scanner:
  - this is invalid
    yaml syntax
`))
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unsupported version",
			yaml:    `version: "2.0"`,
			wantErr: "unsupported version: 2.0",
		},
		{
			name: "unknown decision mode",
			yaml: `scanner:
  decision_mode: coin-flip`,
			wantErr: "invalid decision_mode: coin-flip",
		},
		{
			name: "bad duration",
			yaml: `scanner:
  max_delay: soon`,
			wantErr: "invalid duration",
		},
		{
			name: "negative delay",
			yaml: `scanner:
  max_delay: -1s`,
			wantErr: "scanner.max_delay must be >= 0",
		},
		{
			name: "negative reset timeout",
			yaml: `scanner:
  reset_timeout: -2s`,
			wantErr: "scanner.reset_timeout must be >= 0",
		},
		{
			name: "probability out of range",
			yaml: `scanner:
  blue_chance:
    enabled: true
    probability: 1.5`,
			wantErr: "probability must be between 0 and 1",
		},
		{
			name: "negative scan rate",
			yaml: `scanner:
  max_scan_rate: -1`,
			wantErr: "max_scan_rate must be >= 0",
		},
		{
			name: "negative settle delay",
			yaml: `board:
  settle_delay: -10ms`,
			wantErr: "board.settle_delay must be >= 0",
		},
		{
			name: "redis without url",
			yaml: `store:
  backend: redis`,
			wantErr: "redis_url is required",
		},
		{
			name: "unknown backend",
			yaml: `store:
  backend: floppy`,
			wantErr: "invalid backend: floppy",
		},
		{
			name: "negative quota",
			yaml: `store:
  max_value_bytes: -1`,
			wantErr: "max_value_bytes must be >= 0",
		},
		{
			name: "unknown log encoding",
			yaml: `log:
  encoding: xml`,
			wantErr: "invalid encoding: xml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvHost, "10.0.0.5:9000")
	t.Setenv(EnvRedisURL, "redis://10.0.0.6:6379")
	t.Setenv(EnvLogLevel, "warn")

	cfg := Default()
	cfg.ApplyEnv()

	assert.Equal(t, "10.0.0.5:9000", cfg.Host.Address)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis://10.0.0.6:6379", cfg.Store.RedisURL)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = LoadOrDefault(writeConfig(t, `host:
  address: board.local`))
	require.NoError(t, err)
	assert.Equal(t, "board.local", cfg.Host.Address)
}

func TestDuration_MarshalYAML(t *testing.T) {
	d := Duration(1500 * time.Millisecond)
	out, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1.5s", out)
}
