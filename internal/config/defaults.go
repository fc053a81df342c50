package config

import "github.com/spf13/viper"

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.addr", ":9000")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")

	// Storage defaults
	v.SetDefault("storage.path", "events.db")
	v.SetDefault("storage.max_open_conns", 8)
	v.SetDefault("storage.max_idle_conns", 4)
	v.SetDefault("storage.conn_max_lifetime", "1h")
	v.SetDefault("storage.busy_retries", 3)

	// Alert defaults
	v.SetDefault("alert.webhook_url", "")
	v.SetDefault("alert.timeout", "10s")
	v.SetDefault("alert.cooldown", "0s")

	// Scheduler defaults
	v.SetDefault("scheduler.worker_count", 4)
	v.SetDefault("scheduler.sweep_timeout", "5m")

	// SSH defaults
	v.SetDefault("ssh.connect_timeout", "10s")
	v.SetDefault("ssh.config_file", "")
	v.SetDefault("ssh.known_hosts", "")
	v.SetDefault("ssh.strict_host_key_checking", false)

	// Check defaults
	v.SetDefault("checks.http_timeout", "10s")
	v.SetDefault("checks.command_timeout", "30s")

	// Inventory defaults
	v.SetDefault("inventory.dir", "config")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// setInventoryDefaults sets default values for general.json.
func setInventoryDefaults(v *viper.Viper) {
	v.SetDefault("thresholds.load.warning", 0.7)
	v.SetDefault("thresholds.load.critical", 1.0)
	v.SetDefault("thresholds.ram.warning", 70)
	v.SetDefault("thresholds.ram.critical", 85)
	v.SetDefault("thresholds.disk.warning", 70)
	v.SetDefault("thresholds.disk.critical", 85)

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("background_service.enabled", true)
	v.SetDefault("background_service.check_interval", 5)
	v.SetDefault("log_retention_days", 30)
	v.SetDefault("housekeeping_time", "00:00")
	v.SetDefault("dashboard.max_events_displayed", 20)
}
