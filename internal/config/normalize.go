package config

import "strings"

// normalizeConfig normalizes configuration values.
func normalizeConfig(c *Config) {
	// Normalize log level to lowercase
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Alert.WebhookURL = strings.TrimSpace(c.Alert.WebhookURL)
}

// normalizeInventory trims names and fills per-server defaults.
func normalizeInventory(inv *Inventory) {
	for i := range inv.Servers {
		s := &inv.Servers[i]
		s.Name = strings.TrimSpace(s.Name)
		if s.SSH.Hostname == "" {
			s.SSH.Hostname = s.Name
		}
	}
	for i := range inv.APIs {
		inv.APIs[i].Name = strings.TrimSpace(inv.APIs[i].Name)
		inv.APIs[i].URL = strings.TrimSpace(inv.APIs[i].URL)
	}
}
