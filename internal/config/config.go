// Package config loads gatewayd's settings from a YAML file, environment
// variables and CLI flags via viper, the way arxos/cmd's own CLI config
// layers viper defaults under a config file under env overrides. It
// replaces the teacher's hand-rolled INI parser (internal/config/config.go),
// which was built for the teacher's CSV-collector tool and has no use for
// this gateway's device/schedule/setpoint model.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is gatewayd's complete runtime configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	BringUp  BringUpConfig  `mapstructure:"bring_up"`
	Devices  DevicesConfig  `mapstructure:"devices"`
}

// LogConfig controls the zap logger gatewayd builds at startup.
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig points at the three sqlite files the gateway owns: the
// gorm-backed device/schedule store and the two database/sql-backed sinks.
type DatabaseConfig struct {
	DevicesPath string `mapstructure:"devices_path"`
	EventLogPath string `mapstructure:"event_log_path"`
	HistoryPath string `mapstructure:"history_path"`
}

// HTTPConfig configures the metrics/push-websocket listener.
type HTTPConfig struct {
	ListenAddress string `mapstructure:"listen_address"`
	MetricsPath   string `mapstructure:"metrics_path"`
	PushPath      string `mapstructure:"push_path"`
}

// BringUpConfig tunes supervisor.BringUp's timeout on gatewayd start.
type BringUpConfig struct {
	TimeoutMs int `mapstructure:"timeout_ms"`
}

// DevicesConfig points at the YAML seed file used to bootstrap the device
// repository on first run, mirroring the teacher's collector config's
// csv_file field for its own input.
type DevicesConfig struct {
	SeedPath string `mapstructure:"seed_path"`
}

// Load reads configFile (if non-empty), otherwise ./gatewayd.yaml / $HOME/.gatewayd/gatewayd.yaml,
// overlays GATEWAYD_-prefixed environment variables, and returns the
// resolved Config.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("gatewayd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".gatewayd"))
		}
	}

	v.SetEnvPrefix("GATEWAYD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("database.devices_path", "gatewayd_devices.db")
	v.SetDefault("database.event_log_path", "gatewayd_events.db")
	v.SetDefault("database.history_path", "gatewayd_history.db")

	v.SetDefault("http.listen_address", ":8080")
	v.SetDefault("http.metrics_path", "/metrics")
	v.SetDefault("http.push_path", "/ws")

	v.SetDefault("bring_up.timeout_ms", 30000)

	v.SetDefault("devices.seed_path", "")
}
