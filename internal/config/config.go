// Package config loads and validates the gateway's YAML configuration,
// mirroring the load/validate/default/save shape of the wider
// protocol-bridge family this codebase descends from.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pdg-labs/rl-ble-gateway/internal/logger"
)

// Default config file search paths, tried in order when no explicit path
// is given.
var searchPaths = []string{
	"./gatewayd.yaml",
	"./gatewayd.yml",
	"./config.yaml",
	"~/.config/rl-ble-gateway/config.yaml",
	"/etc/rl-ble-gateway/config.yaml",
}

// Config is the root gateway configuration.
type Config struct {
	BLE      BLEConfig        `yaml:"ble" json:"ble"`
	WS       WSConfig         `yaml:"websocket" json:"websocket"`
	Admin    AdminConfig      `yaml:"admin" json:"admin"`
	Game     GameConfig       `yaml:"game" json:"game"`
	Logging  logger.Config    `yaml:"logging" json:"logging"`
	Metrics  MetricsConfig    `yaml:"metrics" json:"metrics"`
}

// BLEConfig holds adapter- and timing-related settings for the Adapter
// Coordinator and Device Session (§4.2, §4.3).
type BLEConfig struct {
	// Adapter is the host BLE adapter identifier (e.g. "hci0"). Empty
	// selects the backend's default adapter.
	Adapter string `yaml:"adapter" json:"adapter"`

	// DiscoveryScanTimeout is the default passive-scan duration (§4.3).
	DiscoveryScanTimeout time.Duration `yaml:"discovery_scan_timeout" json:"discovery_scan_timeout" validate:"min=0"`

	// PhaseEntryScanTimeout is used when a scan is driven by phase entry.
	PhaseEntryScanTimeout time.Duration `yaml:"phase_entry_scan_timeout" json:"phase_entry_scan_timeout" validate:"min=0"`

	// FocusedScanTimeout is the address-filtered rescan inside
	// connect_to_device (step 4).
	FocusedScanTimeout time.Duration `yaml:"focused_scan_timeout" json:"focused_scan_timeout" validate:"min=0"`

	// PostResetRescanTimeout is the rescan duration after reset_adapter
	// inside connect_to_device (step 6).
	PostResetRescanTimeout time.Duration `yaml:"post_reset_rescan_timeout" json:"post_reset_rescan_timeout" validate:"min=0"`

	// PostResetWait is the settle delay after reset_adapter before rescan.
	PostResetWait time.Duration `yaml:"post_reset_wait" json:"post_reset_wait" validate:"min=0"`

	// ConnectPerAttemptTimeout bounds a single GATT connect attempt.
	ConnectPerAttemptTimeout time.Duration `yaml:"connect_per_attempt_timeout" json:"connect_per_attempt_timeout" validate:"min=0"`

	// HealthCheckTimeout bounds an is_healthy() status read.
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout" json:"health_check_timeout" validate:"min=0"`

	// FirstAttemptRetries/SecondAttemptRetries are the retry budgets for
	// the two connect() calls inside connect_to_device (§4.3 steps 5, 6).
	FirstAttemptRetries  int `yaml:"first_attempt_retries" json:"first_attempt_retries" validate:"min=1"`
	SecondAttemptRetries int `yaml:"second_attempt_retries" json:"second_attempt_retries" validate:"min=1"`
}

// WSConfig holds the client-facing WebSocket server settings (§6.1).
type WSConfig struct {
	Address         string        `yaml:"address" json:"address" validate:"required"`
	Path            string        `yaml:"path" json:"path" validate:"required"`
	PingInterval    time.Duration `yaml:"ping_interval" json:"ping_interval" validate:"min=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"min=0"`
	ReadBufferSize  int           `yaml:"read_buffer_size" json:"read_buffer_size" validate:"min=0"`
	WriteBufferSize int           `yaml:"write_buffer_size" json:"write_buffer_size" validate:"min=0"`
}

// AdminConfig holds the operator-facing HTTP surface (health, metrics).
type AdminConfig struct {
	Address     string `yaml:"address" json:"address" validate:"required"`
	MetricsPath string `yaml:"metrics_path" json:"metrics_path" validate:"required"`
}

// GameConfig holds Game-state collaborator settings (§6.3). The value is
// loaded and validated but not read by the game package, which uses its
// own game.DefaultMatchLengthSeconds.
type GameConfig struct {
	DefaultMatchLengthSeconds int `yaml:"default_match_length_seconds" json:"default_match_length_seconds" validate:"min=1"`
}

// MetricsConfig toggles Prometheus instrumentation.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// DefaultConfig returns the gateway's built-in defaults, matching the
// literal timing constants named throughout spec §4 and §5.
func DefaultConfig() *Config {
	return &Config{
		BLE: BLEConfig{
			Adapter:                  "",
			DiscoveryScanTimeout:     8 * time.Second,
			PhaseEntryScanTimeout:    10 * time.Second,
			FocusedScanTimeout:       5 * time.Second,
			PostResetRescanTimeout:   3 * time.Second,
			PostResetWait:            3 * time.Second,
			ConnectPerAttemptTimeout: 12 * time.Second,
			HealthCheckTimeout:       3 * time.Second,
			FirstAttemptRetries:      3,
			SecondAttemptRetries:     2,
		},
		WS: WSConfig{
			Address:         ":8090",
			Path:            "/ws",
			PingInterval:    30 * time.Second,
			WriteTimeout:    10 * time.Second,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		Admin: AdminConfig{
			Address:     ":9090",
			MetricsPath: "/metrics",
		},
		Game: GameConfig{
			DefaultMatchLengthSeconds: 300,
		},
		Logging: logger.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load loads configuration from path, or from the first existing entry in
// searchPaths when path is empty, falling back to DefaultConfig().
func Load(path string) (*Config, error) {
	if path != "" {
		return loadFile(path)
	}

	for _, p := range searchPaths {
		if len(p) > 0 && p[0] == '~' {
			if home, err := os.UserHomeDir(); err == nil {
				p = filepath.Join(home, p[2:])
			}
		}
		if _, err := os.Stat(p); err == nil {
			return loadFile(p)
		}
	}

	return DefaultConfig(), nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks struct-tag constraints on cfg.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// Save writes cfg as YAML to path, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return os.WriteFile(path, data, 0644)
}
