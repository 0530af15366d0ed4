package signal

import (
	"strings"
	"time"
)

// DecisionMode selects who decides the color after a scan.
type DecisionMode string

const (
	// DecisionLocal draws GREEN/BLUE on the scanner after a random delay.
	DecisionLocal DecisionMode = "local"
	// DecisionHost waits for the host's state_update, falling back to GREEN.
	DecisionHost DecisionMode = "host"
)

// ParseDecisionMode accepts "local" (or the older "random") and "host".
func ParseDecisionMode(s string) (DecisionMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local", "random":
		return DecisionLocal, true
	case "host", "host-arbitrated":
		return DecisionHost, true
	}
	return "", false
}

// Settings configures a Machine.
type Settings struct {
	DecisionMode      DecisionMode
	MaxDelay          time.Duration // decision-delay bound
	AutoReset         bool
	ResetTimeout      time.Duration
	BlueChanceEnabled bool
	BlueChance        float64 // probability of BLUE in local mode, clamped to [0,1]
	AnyKeyReset       bool
}

// DefaultSettings mirrors a fresh install.
func DefaultSettings() Settings {
	return Settings{
		DecisionMode: DecisionLocal,
		MaxDelay:     time.Second,
		ResetTimeout: 3 * time.Second,
	}
}

// clamped returns s with out-of-range values pulled back into range.
func (s Settings) clamped() Settings {
	if s.DecisionMode != DecisionHost {
		s.DecisionMode = DecisionLocal
	}
	if s.MaxDelay < 0 {
		s.MaxDelay = 0
	}
	if s.ResetTimeout < 0 {
		s.ResetTimeout = 0
	}
	s.BlueChance = clamp01(s.BlueChance)
	return s
}

func clamp01(p float64) float64 {
	if p < 0 || p != p {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// StoredSettingsVersion is the current persisted settings schema.
const StoredSettingsVersion = 2

// StoredSettings is the persisted form of the scanner settings. Every field
// is optional so older or partial snapshots still load.
type StoredSettings struct {
	Version           int      `json:"version"`
	HostAddress       string   `json:"host_address,omitempty"`
	DecisionMode      string   `json:"decision_mode,omitempty"`
	MaxDelaySeconds   *float64 `json:"max_delay_seconds,omitempty"`
	AutoReset         *bool    `json:"auto_reset,omitempty"`
	ResetSeconds      *float64 `json:"reset_timeout_seconds,omitempty"`
	BlueChanceEnabled *bool    `json:"blue_chance_enabled,omitempty"`
	BlueChance        *float64 `json:"blue_chance,omitempty"`
	AnyKeyReset       *bool    `json:"any_key_reset,omitempty"`

	// Version 1 kept a single timing value for both delays.
	LegacyTimeoutSeconds *float64 `json:"timeout_seconds,omitempty"`
	TimingMigratedV2     bool     `json:"timing_migrated_v2,omitempty"`
}

// NormalizeSettings turns a raw stored record into valid settings, starting
// from defaults. The legacy single timing value is copied into both the
// decision bound and the reset timeout once, unless already migrated.
// It is pure: no storage or clock access.
func NormalizeSettings(raw StoredSettings, defaults Settings) (Settings, StoredSettings) {
	s := defaults

	if !raw.TimingMigratedV2 && raw.LegacyTimeoutSeconds != nil {
		legacy := *raw.LegacyTimeoutSeconds
		if raw.MaxDelaySeconds == nil {
			raw.MaxDelaySeconds = &legacy
		}
		if raw.ResetSeconds == nil {
			raw.ResetSeconds = &legacy
		}
	}
	raw.LegacyTimeoutSeconds = nil
	raw.TimingMigratedV2 = true

	if mode, ok := ParseDecisionMode(raw.DecisionMode); ok {
		s.DecisionMode = mode
	}
	if raw.MaxDelaySeconds != nil {
		s.MaxDelay = seconds(*raw.MaxDelaySeconds)
	}
	if raw.AutoReset != nil {
		s.AutoReset = *raw.AutoReset
	}
	if raw.ResetSeconds != nil {
		s.ResetTimeout = seconds(*raw.ResetSeconds)
	}
	if raw.BlueChanceEnabled != nil {
		s.BlueChanceEnabled = *raw.BlueChanceEnabled
	}
	if raw.BlueChance != nil {
		s.BlueChance = *raw.BlueChance
	}
	if raw.AnyKeyReset != nil {
		s.AnyKeyReset = *raw.AnyKeyReset
	}
	s = s.clamped()

	return s, Store(s, raw.HostAddress)
}

// Store renders settings in their persisted form.
func Store(s Settings, hostAddress string) StoredSettings {
	maxDelay := s.MaxDelay.Seconds()
	reset := s.ResetTimeout.Seconds()
	autoReset := s.AutoReset
	blueEnabled := s.BlueChanceEnabled
	blue := s.BlueChance
	anyKey := s.AnyKeyReset
	return StoredSettings{
		Version:           StoredSettingsVersion,
		HostAddress:       hostAddress,
		DecisionMode:      string(s.DecisionMode),
		MaxDelaySeconds:   &maxDelay,
		AutoReset:         &autoReset,
		ResetSeconds:      &reset,
		BlueChanceEnabled: &blueEnabled,
		BlueChance:        &blue,
		AnyKeyReset:       &anyKey,
		TimingMigratedV2:  true,
	}
}

func seconds(v float64) time.Duration {
	if v != v || v < 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}
