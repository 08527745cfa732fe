// Package config loads daemon configuration: compiled defaults merged with
// an optional YAML file, then environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir string        `yaml:"dataDir"`
	KeyFile string        `yaml:"keyFile"`
	Relays  []RelayConfig `yaml:"relays"`
	Network NetworkConfig `yaml:"network"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

type RelayConfig struct {
	URL   string `yaml:"url"`
	Read  *bool  `yaml:"read"`
	Write *bool  `yaml:"write"`
}

type NetworkConfig struct {
	ReconnectInterval time.Duration `yaml:"reconnectInterval"`
	PublishTimeout    time.Duration `yaml:"publishTimeout"`
	InboundRPS        float64       `yaml:"inboundRps"`
	InboundBurst      int           `yaml:"inboundBurst"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Default() Config {
	return Config{
		DataDir: defaultDataDir(),
		Network: NetworkConfig{
			ReconnectInterval: 5 * time.Second,
			PublishTimeout:    10 * time.Second,
			InboundRPS:        50,
			InboundBurst:      200,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadFromPath merges the YAML file at configPath (or the default
// candidate) over the defaults, then applies env overrides. A missing file
// keeps the defaults; a file that exists but does not parse is an error,
// never a silent fallback.
func LoadFromPath(configPath string) (Config, error) {
	cfg := Default()

	path := configPath
	if path == "" {
		path = "configs/config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
		Merge(&cfg, parsed)
	}

	ApplyEnvOverrides(&cfg)
	return cfg, nil
}

func Merge(dst *Config, src Config) {
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.KeyFile != "" {
		dst.KeyFile = src.KeyFile
	}
	if src.Relays != nil {
		dst.Relays = src.Relays
	}
	if src.Network.ReconnectInterval != 0 {
		dst.Network.ReconnectInterval = src.Network.ReconnectInterval
	}
	if src.Network.PublishTimeout != 0 {
		dst.Network.PublishTimeout = src.Network.PublishTimeout
	}
	if src.Network.InboundRPS != 0 {
		dst.Network.InboundRPS = src.Network.InboundRPS
	}
	if src.Network.InboundBurst != 0 {
		dst.Network.InboundBurst = src.Network.InboundBurst
	}
	if src.Metrics.Addr != "" {
		dst.Metrics.Addr = src.Metrics.Addr
	}
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("TALKD_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("TALKD_KEY_FILE")); v != "" {
		cfg.KeyFile = v
	}
	if v := strings.TrimSpace(os.Getenv("TALKD_METRICS_ADDR")); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("TALKD_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("TALKD_RECONNECT_INTERVAL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Network.ReconnectInterval = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("TALKD_INBOUND_RPS")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Network.InboundRPS = f
		}
	}
}

// RelayFlags resolves a relay entry's capability flags; both default to on.
func (r RelayConfig) RelayFlags() (read, write bool) {
	read, write = true, true
	if r.Read != nil {
		read = *r.Read
	}
	if r.Write != nil {
		write = *r.Write
	}
	return read, write
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.nostrtalk"
	}
	return ".nostrtalk"
}
