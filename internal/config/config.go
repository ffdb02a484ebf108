package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MockPort selects the simulated loom instead of a serial device.
const MockPort = "mock"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Loom      LoomConfig      `mapstructure:"loom"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Profiles  ProfilesConfig  `mapstructure:"profiles"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoomConfig struct {
	// Serial device such as /dev/ttyUSB0, or "mock"
	Port         string        `mapstructure:"port"`
	BaudRate     int           `mapstructure:"baud_rate"`
	Profile      string        `mapstructure:"profile"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type SimulatorConfig struct {
	// Overrides the profile's settle duration when set
	SettleDuration time.Duration `mapstructure:"settle_duration"`
	Verbose        bool          `mapstructure:"verbose"`
}

type ProfilesConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
}

func (l *LoomConfig) IsMock() bool {
	return strings.EqualFold(l.Port, MockPort)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8000)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("loom.port", MockPort)
	v.SetDefault("loom.profile", "seguin")
	v.SetDefault("loom.poll_interval", "0s")

	v.SetDefault("simulator.verbose", true)

	v.SetDefault("profiles.search_paths", []string{"configs/profiles"})
}

// Load reads the YAML file at path. An empty path uses defaults and
// environment variables only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment Variables mit Prefix OLC_ (OLC_LOOM_PORT=/dev/ttyUSB0)
	v.SetEnvPrefix("OLC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Loom.Port == "" {
		return nil, fmt.Errorf("loom.port must be a serial device or %q", MockPort)
	}

	return &config, nil
}
