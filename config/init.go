package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Server struct {
		Address  string `mapstructure:"address"`   // 0.0.0.0
		HTTPPort string `mapstructure:"http_port"` // 8080
	} `mapstructure:"server"`

	Mesh struct {
		// SecretKey is the shared broker secret. Device tokens are derived
		// from it and it doubles as the admin token. Empty means "generate
		// a random one at startup".
		SecretKey string `mapstructure:"secret_key"`
		// RegistrationKey gates /mesh/register when non-empty.
		RegistrationKey string `mapstructure:"registration_key"`
		// OfflineAfter is the idle window before the sweep marks an online
		// device offline.
		OfflineAfter time.Duration `mapstructure:"offline_after"`
		// SweepInterval is how often the liveness sweep runs.
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"mesh"`

	Logging struct {
		Level  string `mapstructure:"level"`  // trace|debug|info|warning|error|fatal
		Format string `mapstructure:"format"` // text|json
		File   string `mapstructure:"file"`   // file prefix, empty = stdout only
	} `mapstructure:"logs"`

	Database struct {
		Driver string `mapstructure:"driver"` // "postgres" | "mysql" | "" (no audit DB)
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`
}

// Load reads configuration from env/file with defaults.
func Load() (*Config, error) {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.address", "0.0.0.0")
	viper.SetDefault("server.http_port", "8080")

	viper.SetDefault("mesh.secret_key", "")
	viper.SetDefault("mesh.registration_key", "")
	viper.SetDefault("mesh.offline_after", 5*time.Minute)
	viper.SetDefault("mesh.sweep_interval", time.Minute)

	viper.SetDefault("logs.level", "info")
	viper.SetDefault("logs.format", "text")
	viper.SetDefault("logs.file", "")

	// DB is opt-in: empty driver disables the audit trail.
	viper.SetDefault("database.driver", "")
	viper.SetDefault("database.dsn", "")

	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			viper.AddConfigPath(filepath.Join(xdg, "meshgate"))
		}
		viper.AddConfigPath("/etc/meshgate")
	}

	// Config file is optional.
	if err := viper.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("config read error: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func validate(c *Config) error {
	if strings.TrimSpace(c.Server.Address) == "" {
		return errors.New("server.address must not be empty")
	}
	if strings.TrimSpace(c.Server.HTTPPort) == "" {
		return errors.New("server.http_port must not be empty")
	}
	if c.Mesh.OfflineAfter <= 0 {
		return errors.New("mesh.offline_after must be positive")
	}
	if c.Mesh.SweepInterval <= 0 {
		return errors.New("mesh.sweep_interval must be positive")
	}
	return nil
}
