package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ClockConfig names the master clock input
type ClockConfig struct {
	PortName string `json:"portName,omitempty"`
	Channel  int    `json:"channel"`
}

// TrackConfig is the device binding of one track. Pattern queues are not
// stored; they only live for the session.
type TrackConfig struct {
	OutputPort  string `json:"outputPort,omitempty"`
	MonitorPort string `json:"monitorPort,omitempty"`
	Channel     int    `json:"channel"`
}

// UIConfig stores UI preferences
type UIConfig struct {
	Palette string `json:"palette,omitempty"` // path to a GIMP .gpl file
}

// Config is the main configuration structure
type Config struct {
	Clock       ClockConfig   `json:"clock"`
	Tracks      []TrackConfig `json:"tracks,omitempty"`
	AdvanceBars int           `json:"advanceBars,omitempty"` // 0 = advance only on triggers
	Debug       bool          `json:"debug,omitempty"`
	UI          UIConfig      `json:"ui,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Clock: ClockConfig{Channel: 1},
		Tracks: []TrackConfig{
			{Channel: 1},
		},
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "digi-sequence"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from disk, or returns defaults if not found
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads the config at path, or returns defaults if it does not exist
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &cfg, nil
}

// Validate checks channel ranges and scheduling settings
func (c *Config) Validate() error {
	if c.Clock.Channel < 1 || c.Clock.Channel > 16 {
		return fmt.Errorf("clock channel %d not in 1-16", c.Clock.Channel)
	}
	for i, t := range c.Tracks {
		if t.Channel < 1 || t.Channel > 16 {
			return fmt.Errorf("track %d channel %d not in 1-16", i+1, t.Channel)
		}
	}
	if c.AdvanceBars < 0 {
		return fmt.Errorf("advanceBars %d is negative", c.AdvanceBars)
	}
	return nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the config to path, creating its directory
func (c *Config) SaveTo(path string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// SetTrack stores the binding for track idx, growing the list as needed
func (c *Config) SetTrack(idx int, t TrackConfig) {
	for len(c.Tracks) <= idx {
		c.Tracks = append(c.Tracks, TrackConfig{Channel: 1})
	}
	c.Tracks[idx] = t
}
