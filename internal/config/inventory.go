package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Inventory file names inside InventoryConfig.Dir.
const (
	ServersFile = "servers.json"
	APIsFile    = "apis.json"
	GeneralFile = "general.json"
)

// Resource classes that carry their own threshold pair.
const (
	ClassLoad = "load"
	ClassRAM  = "ram"
	ClassDisk = "disk"
)

// Inventory is an immutable snapshot of everything a sweep evaluates.
type Inventory struct {
	Servers []Server
	APIs    []API
	General General
}

// Server is a host reached over SSH.
type Server struct {
	Name  string    `json:"name"`
	SSH   SSHTarget `json:"ssh"`
	Disks []string  `json:"disks"`
}

// SSHTarget describes how to reach a server. Hostname doubles as the alias
// looked up in the user's ssh config; the other fields only fill in what that
// lookup does not supply.
type SSHTarget struct {
	Hostname     string `json:"hostname"`
	User         string `json:"user,omitempty"`
	Port         int    `json:"port,omitempty"`
	IdentityFile string `json:"identity_file,omitempty"`
	ProxyCommand string `json:"proxy_command,omitempty"`
}

// API is an HTTP endpoint that must answer 200.
type API struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	RequiresSSH bool   `json:"requires_ssh"`
	// Server names the host whose SSH session tunnels the check.
	Server string `json:"server,omitempty"`
}

// Threshold is the (warning, critical) pair of a resource class.
type Threshold struct {
	Warning  float64 `mapstructure:"warning" json:"warning"`
	Critical float64 `mapstructure:"critical" json:"critical"`
	Alerts   *bool   `mapstructure:"alerts" json:"alerts,omitempty"`
}

// AlertsEnabled reports whether transitions of this class notify. Defaults to true.
func (t Threshold) AlertsEnabled() bool {
	return t.Alerts == nil || *t.Alerts
}

// General holds general.json.
type General struct {
	Thresholds        map[string]Threshold    `mapstructure:"thresholds"`
	Notifications     NotificationsConfig     `mapstructure:"notifications"`
	BackgroundService BackgroundServiceConfig `mapstructure:"background_service"`
	LogRetentionDays  int                     `mapstructure:"log_retention_days"`
	HousekeepingTime  string                  `mapstructure:"housekeeping_time"`
	Dashboard         DashboardConfig         `mapstructure:"dashboard"`
}

type NotificationsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type BackgroundServiceConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// CheckInterval is expressed in minutes.
	CheckInterval int `mapstructure:"check_interval"`
}

type DashboardConfig struct {
	MaxEventsDisplayed int `mapstructure:"max_events_displayed"`
}

// Threshold returns the threshold pair of a resource class.
func (g General) Threshold(class string) Threshold {
	return g.Thresholds[class]
}

// SweepInterval returns the configured sweep interval.
func (g General) SweepInterval() time.Duration {
	return time.Duration(g.BackgroundService.CheckInterval) * time.Minute
}

// Retention returns how long events are kept.
func (g General) Retention() time.Duration {
	return time.Duration(g.LogRetentionDays) * 24 * time.Hour
}

// HousekeepingSpec returns the cron spec for the daily housekeeping run.
func (g General) HousekeepingSpec() (string, error) {
	at, err := time.Parse("15:04", g.HousekeepingTime)
	if err != nil {
		return "", fmt.Errorf("housekeeping_time must be HH:MM: %w", err)
	}
	return fmt.Sprintf("%d %d * * *", at.Minute(), at.Hour()), nil
}

// Server returns the server with the given name.
func (inv *Inventory) Server(name string) (Server, bool) {
	for _, s := range inv.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return Server{}, false
}

// LoadInventory reads servers.json, apis.json and general.json from dir.
//
// Missing target files yield empty lists and a missing general.json yields
// defaults; malformed files and invalid values are errors.
func LoadInventory(dir string) (*Inventory, error) {
	inv := &Inventory{}

	if err := readJSONList(filepath.Join(dir, ServersFile), &inv.Servers); err != nil {
		return nil, err
	}
	if err := readJSONList(filepath.Join(dir, APIsFile), &inv.APIs); err != nil {
		return nil, err
	}

	general, err := loadGeneral(filepath.Join(dir, GeneralFile))
	if err != nil {
		return nil, err
	}
	inv.General = *general

	normalizeInventory(inv)

	if err := validateInventory(inv); err != nil {
		return nil, err
	}

	return inv, nil
}

// readJSONList decodes a JSON array file into out.
func readJSONList(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", path).Msg("Inventory file not found, using empty list")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadGeneral reads general.json through viper so defaults merge with the file.
func loadGeneral(path string) (*General, error) {
	v := viper.New()
	setInventoryDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	var g General
	if err := v.Unmarshal(&g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}
	return &g, nil
}
