// Package config loads the bench settings file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"thrustrig/rig"
)

const DefaultAddr = "127.0.0.1:43260"

type Serial struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type Config struct {
	Addr       string `yaml:"addr"`
	Serial     Serial `yaml:"serial"`
	Dummy      bool   `yaml:"dummy"`
	ScriptsDir string `yaml:"scripts_dir"`
	DataDir    string `yaml:"data_dir"`
	Debug      bool   `yaml:"debug"`

	// Monitor logs every raw line from the bench.
	Monitor bool `yaml:"monitor"`

	// Offsets are zero offsets applied at startup, keyed by sensor name as
	// written in scripts (thrust, torque, cell1, current, ...).
	Offsets map[string]float64 `yaml:"offsets,omitempty"`
}

// Dir returns ~/.thrustrig, or ./.thrustrig when there is no home directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".thrustrig")
}

func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

func Default() *Config {
	return &Config{
		Addr: DefaultAddr,
		Serial: Serial{
			Baud:        115200,
			ReadTimeout: 100 * time.Millisecond,
		},
		ScriptsDir: filepath.Join(Dir(), "scripts"),
		DataDir:    filepath.Join(Dir(), "data"),
	}
}

// Load reads the config at path on top of the defaults. A missing file is not
// an error. Unknown keys are.
func Load(path string) (*Config, error) {
	cfg := Default()
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return errors.New("addr must not be empty")
	}
	if c.Serial.Baud < 0 {
		return fmt.Errorf("serial.baud %d is negative", c.Serial.Baud)
	}
	if c.Serial.ReadTimeout < 0 {
		return fmt.Errorf("serial.read_timeout %s is negative", c.Serial.ReadTimeout)
	}
	for name := range c.Offsets {
		if _, ok := rig.LookupSensor(name); !ok {
			return fmt.Errorf("offsets: unknown sensor %q", name)
		}
	}
	return nil
}

// ChannelOffsets resolves Offsets to channels. Unknown names are skipped;
// Load has already rejected them.
func (c *Config) ChannelOffsets() map[rig.Channel]float64 {
	out := make(map[rig.Channel]float64, len(c.Offsets))
	for name, v := range c.Offsets {
		if ch, ok := rig.LookupSensor(name); ok {
			out[ch] = v
		}
	}
	return out
}

// Save writes cfg to path, creating the directory if needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
