// Package config loads the fleetmon application configuration and the
// monitored inventory (servers, APIs and thresholds).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
//
// Configuration sources (in order of precedence):
//  1. Defaults
//  2. Configuration file (optional)
//  3. Environment variables
//
// The monitored inventory is not part of Config; it lives in separate files
// under Inventory.Dir and is re-read before every sweep (see LoadInventory).
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Alert     AlertConfig     `mapstructure:"alert" yaml:"alert"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	SSH       SSHConfig       `mapstructure:"ssh" yaml:"ssh"`
	Checks    ChecksConfig    `mapstructure:"checks" yaml:"checks"`
	Inventory InventoryConfig `mapstructure:"inventory" yaml:"inventory"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

type StorageConfig struct {
	Path            string        `mapstructure:"path" yaml:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	BusyRetries     int           `mapstructure:"busy_retries" yaml:"busy_retries"`
}

// AlertConfig configures the chat webhook used for notifications.
type AlertConfig struct {
	WebhookURL string        `mapstructure:"webhook_url" yaml:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// Cooldown suppresses repeated notifications for the same key. Zero disables it.
	Cooldown time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

type SchedulerConfig struct {
	WorkerCount  int           `mapstructure:"worker_count" yaml:"worker_count"`
	SweepTimeout time.Duration `mapstructure:"sweep_timeout" yaml:"sweep_timeout"`
}

type SSHConfig struct {
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ConfigFile            string        `mapstructure:"config_file" yaml:"config_file"`
	KnownHosts            string        `mapstructure:"known_hosts" yaml:"known_hosts"`
	StrictHostKeyChecking bool          `mapstructure:"strict_host_key_checking" yaml:"strict_host_key_checking"`
}

type ChecksConfig struct {
	HTTPTimeout    time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
}

type InventoryConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error, fatal, panic
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"` // human-readable console output
}

// Load loads configuration from defaults, configuration file,
// and environment variables, then validates the result.
//
// When configFile is empty the file is searched as "config.yaml" in the
// working directory and the per-user config directory.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	// Register default values
	setDefaults(v)

	// Environment variable support
	v.SetEnvPrefix("FLEETMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(false)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if configDir := getConfigDir(); configDir != "" {
			v.AddConfigPath(configDir)
		}
	}

	// Read configuration file if present
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	}

	// The webhook historically comes from TEAMS_WEBHOOK; keep honouring it
	// without shadowing a value set in the file when neither variable exists.
	if _, exists := os.LookupEnv("FLEETMON_ALERT_WEBHOOK_URL"); exists {
		_ = v.BindEnv("alert.webhook_url", "FLEETMON_ALERT_WEBHOOK_URL")
	} else if _, exists := os.LookupEnv("TEAMS_WEBHOOK"); exists {
		_ = v.BindEnv("alert.webhook_url", "TEAMS_WEBHOOK")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	normalizeConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// getConfigDir returns the appropriate config directory for the current OS
func getConfigDir() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "fleetmon")
		}
		return ""
	}

	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".fleetmon")
	}
	return ""
}
