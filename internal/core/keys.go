package core

import (
	"fleetmon/internal/metrics"
)

// OverallKey stores the fleet-wide severity.
const OverallKey = "overall_status"

// SSHKey is the reachability key of a server.
func SSHKey(server string) string { return "ssh_" + server }

// APIKey is the up/down key of an API.
func APIKey(name string) string { return "api_" + name }

// InfoKey holds the display blob of a server.
func InfoKey(server string) string { return server + "_info" }

// ResourceKey is the classification key of a server resource, where
// resource is "load", "ram" or metrics.DiskKey(mount).
func ResourceKey(server, resource string) string {
	return server + "_" + resource + "_state"
}

// DiskStateKey is the classification key of a mount point.
func DiskStateKey(server, mount string) string {
	return ResourceKey(server, metrics.DiskKey(mount))
}
