// Package config loads the static configuration the bootstrap entrypoint
// needs before it can build a Controller: box transport endpoints,
// safety thresholds, sensor callback periods, and PID gains. PRCONTROL_*
// environment variables override the YAML file, and viper's WatchConfig
// hot-reloads safety thresholds without a restart.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all static configuration for prcontrold.
type Config struct {
	ReactorBox  BoxEndpoint       `mapstructure:"reactor_box"`
	PowerBox    BoxEndpoint       `mapstructure:"power_box"`
	Safety      SafetyConfig      `mapstructure:"safety"`
	PID         PIDConfig         `mapstructure:"pid"`
	Server      ServerConfig      `mapstructure:"server"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Configstore ConfigstoreConfig `mapstructure:"configstore"`
}

// BoxEndpoint is one enclosure's bricklet TCP endpoint.
type BoxEndpoint struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// SafetyConfig mirrors controller.Config's threshold fields in their
// YAML-friendly floating-point form; the bootstrap entrypoint converts
// these into units.Temperature/units.UvIndex when building
// controller.Config.
type SafetyConfig struct {
	AmbientWarnC   float64    `mapstructure:"ambient_warn_c"`
	AmbientAbortC  float64    `mapstructure:"ambient_abort_c"`
	IrWarnC        [3]float64 `mapstructure:"ir_warn_c"`
	IrAbortC       [3]float64 `mapstructure:"ir_abort_c"`
	ThermocoupleC  float64    `mapstructure:"thermocouple_c"`
	UvThreshold    float64    `mapstructure:"uv_threshold"`
	SensorPeriodMs int        `mapstructure:"sensor_period_ms"`
}

// PIDConfig carries the current-regulator gains. Kp is negative on this
// hardware (inverted duty cycle) and is not validated here. The gains are
// loaded but not applied: the power box's regulators always run with
// pid.DefaultGains().
type PIDConfig struct {
	Kp float64 `mapstructure:"kp"`
	Ti float64 `mapstructure:"ti"`
	Td float64 `mapstructure:"td"`
}

// ServerConfig contains HTTP/WebSocket listen settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LoggerConfig contains logging settings.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	LogDir string `mapstructure:"log_dir"`
}

// ArchiveConfig contains the S3 archival destination for finalized
// experiment records.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"bucket"`
	Region  string `mapstructure:"region"`
	Prefix  string `mapstructure:"prefix"`
}

// MQTTConfig contains the telemetry broker prcontrold publishes
// controller-state snapshots to.
type MQTTConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Broker  string `mapstructure:"broker"`
	Topic   string `mapstructure:"topic"`
}

// ConfigstoreConfig is the root directory for the keyed JSON config
// folder (internal/configstore).
type ConfigstoreConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults + environment overrides.
	}

	v.SetEnvPrefix("PRCONTROL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The box endpoints keep their short historical names, bound ahead
	// of AutomaticEnv's underscore-mangled default mapping so
	// REACTOR_BOX/REACTOR_BOX_PORT/POWER_BOX/POWER_BOX_PORT work
	// alongside PRCONTROL_-prefixed overrides.
	_ = v.BindEnv("reactor_box.host", "REACTOR_BOX")
	_ = v.BindEnv("reactor_box.port", "REACTOR_BOX_PORT")
	_ = v.BindEnv("power_box.host", "POWER_BOX")
	_ = v.BindEnv("power_box.port", "POWER_BOX_PORT")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// WatchForChanges re-reads the backing file whenever it changes and
// invokes onChange with a freshly unmarshalled Config; environment
// overrides are not applied to it. prcontrold applies only the safety
// thresholds from it (via controller.UpdateConfig); every other setting
// takes effect on restart.
func WatchForChanges(configPath string, onChange func(*Config)) error {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config for watch: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			return
		}
		onChange(&cfg)
	})
	v.WatchConfig()
	return nil
}

// WriteDefault renders the built-in defaults as a commented-out-free
// YAML file at path, for operators bringing up a fresh rig. Refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}

	v := viper.New()
	setDefaults(v)

	data, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("failed to render default config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("reactor_box.host", "")
	v.SetDefault("reactor_box.port", 4223)
	v.SetDefault("power_box.host", "")
	v.SetDefault("power_box.port", 4223)

	v.SetDefault("safety.ambient_warn_c", 100.0)
	v.SetDefault("safety.ambient_abort_c", 100.0)
	v.SetDefault("safety.ir_warn_c", [3]float64{25, 25, 25})
	v.SetDefault("safety.ir_abort_c", [3]float64{100, 100, 100})
	v.SetDefault("safety.thermocouple_c", 1.0)
	v.SetDefault("safety.uv_threshold", 11.0)
	v.SetDefault("safety.sensor_period_ms", 200)

	v.SetDefault("pid.kp", -0.2)
	v.SetDefault("pid.ti", 100000.0)
	v.SetDefault("pid.td", 0.5)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.log_dir", "./logs")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.region", "us-east-1")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.topic", "prcontrol/state")

	v.SetDefault("configstore.dir", "./data/configstore")
}

func getConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".prcontrol")
}
