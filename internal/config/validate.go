package config

import (
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Package-level constants for performance optimization
var (
	validLogLevels = []string{"debug", "info", "warn", "error", "fatal", "panic"}
	thresholdClass = []string{ClassLoad, ClassRAM, ClassDisk}
)

// validateConfig validates the configuration and returns an error if invalid.
func validateConfig(c *Config) error {
	for _, validate := range []func() error{
		func() error { return validateServerConfig(c.Server) },
		func() error { return validateStorageConfig(c.Storage) },
		func() error { return validateAlertConfig(c.Alert) },
		func() error { return validateSchedulerConfig(c.Scheduler) },
		func() error { return validateSSHConfig(c.SSH) },
		func() error { return validateChecksConfig(c.Checks) },
		func() error { return validateLogConfig(c.Log) },
	} {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

// validateServerConfig validates server configuration.
func validateServerConfig(s ServerConfig) error {
	if s.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}

	// Validate address format
	_, portStr, err := net.SplitHostPort(s.Addr)
	if err != nil {
		return fmt.Errorf("server.addr invalid format: %w", err)
	}

	// Validate port range
	if portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("server.addr invalid port: %w", err)
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("server.addr port out of range (1-65535)")
		}
	}

	if s.ReadTimeout < time.Second || s.ReadTimeout > 5*time.Minute {
		return fmt.Errorf("server.read_timeout must be between 1s and 5m")
	}
	if s.WriteTimeout < time.Second || s.WriteTimeout > 5*time.Minute {
		return fmt.Errorf("server.write_timeout must be between 1s and 5m")
	}
	if s.IdleTimeout <= 0 || s.IdleTimeout > 30*time.Minute {
		return fmt.Errorf("server.idle_timeout must be between 0 and 30m")
	}

	return nil
}

// validateStorageConfig validates storage configuration.
func validateStorageConfig(s StorageConfig) error {
	if s.Path == "" {
		return fmt.Errorf("storage.path cannot be empty")
	}

	// Validate connection pool settings
	if s.MaxOpenConns <= 0 {
		return fmt.Errorf("storage.max_open_conns must be greater than 0")
	}
	if s.MaxIdleConns < 0 {
		return fmt.Errorf("storage.max_idle_conns cannot be negative")
	}
	if s.MaxIdleConns > s.MaxOpenConns {
		return fmt.Errorf("storage.max_idle_conns cannot be greater than max_open_conns")
	}
	if s.ConnMaxLifetime < time.Minute || s.ConnMaxLifetime > 24*time.Hour {
		return fmt.Errorf("storage.conn_max_lifetime must be between 1m and 24h")
	}
	if s.BusyRetries < 0 || s.BusyRetries > 10 {
		return fmt.Errorf("storage.busy_retries must be between 0 and 10")
	}

	return nil
}

// validateAlertConfig validates alert configuration. An empty webhook URL is
// allowed; it disables delivery without stopping the engine.
func validateAlertConfig(a AlertConfig) error {
	if a.WebhookURL != "" && !strings.HasPrefix(a.WebhookURL, "http://") && !strings.HasPrefix(a.WebhookURL, "https://") {
		return fmt.Errorf("alert.webhook_url must be an http(s) URL")
	}
	if a.Timeout < time.Second || a.Timeout > 2*time.Minute {
		return fmt.Errorf("alert.timeout must be between 1s and 2m")
	}
	if a.Cooldown < 0 {
		return fmt.Errorf("alert.cooldown cannot be negative")
	}
	return nil
}

// validateSchedulerConfig validates scheduler configuration.
func validateSchedulerConfig(s SchedulerConfig) error {
	if s.WorkerCount <= 0 {
		return fmt.Errorf("scheduler.worker_count must be greater than 0")
	}
	if s.WorkerCount > 256 {
		return fmt.Errorf("scheduler.worker_count too large (max 256)")
	}
	if s.SweepTimeout < 0 {
		return fmt.Errorf("scheduler.sweep_timeout cannot be negative")
	}
	return nil
}

// validateSSHConfig validates ssh configuration.
func validateSSHConfig(s SSHConfig) error {
	if s.ConnectTimeout <= 0 {
		return fmt.Errorf("ssh.connect_timeout must be greater than 0")
	}
	if s.ConnectTimeout > time.Minute {
		return fmt.Errorf("ssh.connect_timeout too large (max 1m)")
	}
	return nil
}

// validateChecksConfig validates probe timeouts.
func validateChecksConfig(c ChecksConfig) error {
	if c.HTTPTimeout < time.Second || c.HTTPTimeout > time.Minute {
		return fmt.Errorf("checks.http_timeout must be between 1s and 1m")
	}
	if c.CommandTimeout < time.Second {
		return fmt.Errorf("checks.command_timeout too small (min 1s)")
	}
	return nil
}

// validateLogConfig validates log configuration.
func validateLogConfig(l LogConfig) error {
	if !slices.Contains(validLogLevels, strings.ToLower(l.Level)) {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error, fatal, panic")
	}
	return nil
}

// validateInventory validates a freshly loaded inventory.
func validateInventory(inv *Inventory) error {
	servers := make(map[string]struct{}, len(inv.Servers))
	for i, s := range inv.Servers {
		if s.Name == "" {
			return fmt.Errorf("servers[%d].name cannot be empty", i)
		}
		if _, dup := servers[s.Name]; dup {
			return fmt.Errorf("servers[%d].name %q is duplicated", i, s.Name)
		}
		servers[s.Name] = struct{}{}
		if s.SSH.Port < 0 || s.SSH.Port > 65535 {
			return fmt.Errorf("servers[%d].ssh.port out of range (1-65535)", i)
		}
	}

	apis := make(map[string]struct{}, len(inv.APIs))
	for i, a := range inv.APIs {
		if a.Name == "" {
			return fmt.Errorf("apis[%d].name cannot be empty", i)
		}
		if _, dup := apis[a.Name]; dup {
			return fmt.Errorf("apis[%d].name %q is duplicated", i, a.Name)
		}
		apis[a.Name] = struct{}{}
		if a.URL == "" {
			return fmt.Errorf("apis[%d].url cannot be empty", i)
		}
		if a.RequiresSSH {
			if _, ok := servers[a.Server]; !ok {
				return fmt.Errorf("apis[%d].server %q is not a configured server", i, a.Server)
			}
		}
	}

	return validateGeneral(inv.General)
}

// validateGeneral validates general.json values.
func validateGeneral(g General) error {
	for _, class := range thresholdClass {
		t, ok := g.Thresholds[class]
		if !ok {
			return fmt.Errorf("thresholds.%s is missing", class)
		}
		if t.Warning < 0 || t.Critical < 0 {
			return fmt.Errorf("thresholds.%s cannot be negative", class)
		}
		if t.Warning >= t.Critical {
			return fmt.Errorf("thresholds.%s.warning must be lower than critical", class)
		}
	}

	if g.BackgroundService.CheckInterval <= 0 {
		return fmt.Errorf("background_service.check_interval must be greater than 0")
	}
	if g.LogRetentionDays <= 0 {
		return fmt.Errorf("log_retention_days must be greater than 0")
	}
	if g.Dashboard.MaxEventsDisplayed <= 0 {
		return fmt.Errorf("dashboard.max_events_displayed must be greater than 0")
	}
	if _, err := g.HousekeepingSpec(); err != nil {
		return err
	}
	return nil
}
