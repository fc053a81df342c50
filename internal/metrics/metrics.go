// Package metrics turns raw command output from a server into numeric
// readings and display strings.
package metrics

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"fleetmon/internal/probe"
)

// Remote commands whose output the parsers understand.
const (
	UptimeCommand  = "cat /proc/uptime"
	LoadAvgCommand = "cat /proc/loadavg"
	MemoryCommand  = "free -m | awk '/Mem:/ {print $3,$2}'"
)

// Metric names used as keys of Reading.Errors.
const (
	MetricUptime = "uptime"
	MetricLoad   = "load"
	MetricRAM    = "ram_usage"
)

// DiskCommand returns the df invocation for mount. -P keeps each filesystem
// on one line.
func DiskCommand(mount string) string {
	return "df -hP " + probe.ShellQuote(mount)
}

// DiskKey returns the info/state key fragment of a mount point.
func DiskKey(mount string) string {
	return "disk_usage_" + strings.ReplaceAll(mount, "/", "_")
}

// ParseError reports raw output that could not be normalized.
type ParseError struct {
	Metric string
	Raw    string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s from %q: %v", e.Metric, e.Raw, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErr(metric, raw string, format string, args ...any) error {
	return &ParseError{Metric: metric, Raw: raw, Err: fmt.Errorf(format, args...)}
}

// ParseUptime reads the first field of /proc/uptime.
func ParseUptime(raw string) (time.Duration, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return 0, parseErr(MetricUptime, raw, "empty output")
	}
	secs, err := parseFinite(fields[0])
	if err != nil || secs < 0 {
		return 0, parseErr(MetricUptime, raw, "invalid seconds %q", fields[0])
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// FormatUptime renders d as "D days, H hours, M minutes".
func FormatUptime(d time.Duration) string {
	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	return fmt.Sprintf("%d days, %d hours, %d minutes", days, hours, minutes)
}

// LoadAvg holds the 1, 5 and 15 minute load averages.
type LoadAvg struct {
	One     float64
	Five    float64
	Fifteen float64
}

func (l LoadAvg) String() string {
	return fmt.Sprintf("%s, %s, %s", formatLoad(l.One), formatLoad(l.Five), formatLoad(l.Fifteen))
}

func formatLoad(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// ParseLoadAvg reads the first three fields of /proc/loadavg.
func ParseLoadAvg(raw string) (LoadAvg, error) {
	fields := strings.Fields(raw)
	if len(fields) < 3 {
		return LoadAvg{}, parseErr(MetricLoad, raw, "expected 3 fields, got %d", len(fields))
	}
	var vals [3]float64
	for i := range vals {
		v, err := parseFinite(fields[i])
		if err != nil || v < 0 {
			return LoadAvg{}, parseErr(MetricLoad, raw, "invalid load %q", fields[i])
		}
		vals[i] = v
	}
	return LoadAvg{One: vals[0], Five: vals[1], Fifteen: vals[2]}, nil
}

// parseFinite rejects NaN and infinities, which strconv accepts.
func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number: %q", s)
	}
	return v, nil
}

// Memory is the used/total RAM in megabytes.
type Memory struct {
	UsedMB  int64
	TotalMB int64
	Percent float64
}

func (m Memory) String() string {
	return fmt.Sprintf("%.2f%% (%d MB / %d MB)", m.Percent, m.UsedMB, m.TotalMB)
}

// ParseMemory reads "<used> <total>" as printed by MemoryCommand.
func ParseMemory(raw string) (Memory, error) {
	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return Memory{}, parseErr(MetricRAM, raw, "expected used and total")
	}
	used, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || used < 0 {
		return Memory{}, parseErr(MetricRAM, raw, "invalid used %q", fields[0])
	}
	total, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || total <= 0 {
		return Memory{}, parseErr(MetricRAM, raw, "invalid total %q", fields[1])
	}
	return Memory{
		UsedMB:  used,
		TotalMB: total,
		Percent: float64(used) / float64(total) * 100,
	}, nil
}

// Disk is one mount as reported by df -hP.
type Disk struct {
	Size       string
	Used       string
	UsePercent string
	Percent    float64
}

func (d Disk) String() string {
	return fmt.Sprintf("%s (%s / %s)", d.UsePercent, d.Used, d.Size)
}

// ParseDiskUsage reads the second line of a df -hP report.
func ParseDiskUsage(mount, raw string) (Disk, error) {
	metric := DiskKey(mount)
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	if len(lines) < 2 {
		return Disk{}, parseErr(metric, raw, "missing data line")
	}
	fields := strings.Fields(lines[1])
	if len(fields) < 5 {
		return Disk{}, parseErr(metric, raw, "expected at least 5 fields, got %d", len(fields))
	}
	pct, err := ExtractPercent(fields[4])
	if err != nil {
		return Disk{}, parseErr(metric, raw, "%v", err)
	}
	return Disk{Size: fields[1], Used: fields[2], UsePercent: fields[4], Percent: pct}, nil
}

var percentRe = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)

// ExtractPercent returns the first "<number>%" found in s.
func ExtractPercent(s string) (float64, error) {
	m := percentRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("no percentage in %q", s)
	}
	return parseFinite(m[1])
}
