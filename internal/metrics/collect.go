package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fleetmon/internal/probe"
)

// Reading is everything collected from one server in one sweep. A metric is
// present only when its command ran and its output parsed; otherwise its
// failure is recorded in Errors.
type Reading struct {
	Uptime *time.Duration
	Load   *LoadAvg
	Memory *Memory
	Disks  map[string]Disk
	Errors map[string]error
}

// Collect runs every metric command in sess. A failing metric never stops
// the others.
func Collect(ctx context.Context, sess probe.Session, mounts []string) Reading {
	r := Reading{
		Disks:  make(map[string]Disk, len(mounts)),
		Errors: make(map[string]error),
	}

	if out, err := run(ctx, sess, MetricUptime, UptimeCommand); err != nil {
		r.Errors[MetricUptime] = err
	} else if d, err := ParseUptime(out); err != nil {
		r.Errors[MetricUptime] = err
	} else {
		r.Uptime = &d
	}

	if out, err := run(ctx, sess, MetricLoad, LoadAvgCommand); err != nil {
		r.Errors[MetricLoad] = err
	} else if l, err := ParseLoadAvg(out); err != nil {
		r.Errors[MetricLoad] = err
	} else {
		r.Load = &l
	}

	if out, err := run(ctx, sess, MetricRAM, MemoryCommand); err != nil {
		r.Errors[MetricRAM] = err
	} else if m, err := ParseMemory(out); err != nil {
		r.Errors[MetricRAM] = err
	} else {
		r.Memory = &m
	}

	for _, mount := range mounts {
		key := DiskKey(mount)
		out, err := run(ctx, sess, key, DiskCommand(mount))
		if err != nil {
			r.Errors[key] = err
			continue
		}
		d, err := ParseDiskUsage(mount, out)
		if err != nil {
			r.Errors[key] = err
			continue
		}
		r.Disks[mount] = d
	}

	return r
}

// run executes cmd and treats a non-zero exit as a parse failure of metric.
func run(ctx context.Context, sess probe.Session, metric, cmd string) (string, error) {
	res, err := sess.Run(ctx, cmd)
	if err != nil {
		return "", &ParseError{Metric: metric, Err: err}
	}
	if res.ExitStatus != 0 {
		return "", &ParseError{
			Metric: metric,
			Raw:    res.Stdout,
			Err:    fmt.Errorf("exit status %d: %s", res.ExitStatus, strings.TrimSpace(res.Stderr)),
		}
	}
	return res.Stdout, nil
}

// Info renders the display blob stored under "<server>_info". Metrics that
// failed are left out.
func (r Reading) Info() map[string]string {
	info := make(map[string]string, 3+len(r.Disks))
	if r.Uptime != nil {
		info["uptime"] = FormatUptime(*r.Uptime)
	}
	if r.Load != nil {
		info["load"] = r.Load.String()
	}
	if r.Memory != nil {
		info["ram_usage"] = r.Memory.String()
	}
	for mount, d := range r.Disks {
		info[DiskKey(mount)] = d.String()
	}
	return info
}
