// Package status classifies metric values against threshold pairs.
package status

import "fleetmon/internal/config"

// Level is the classified state of a resource.
type Level string

const (
	Good     Level = "good"
	Warning  Level = "warning"
	Critical Level = "critical"
)

// Classify maps a value onto a level. Both boundaries are inclusive and the
// result depends on the latest sample only.
func Classify(value float64, t config.Threshold) Level {
	switch {
	case value >= t.Critical:
		return Critical
	case value >= t.Warning:
		return Warning
	default:
		return Good
	}
}

// Severity orders levels: good < warning < critical. Unknown levels rank lowest.
func (l Level) Severity() int {
	switch l {
	case Critical:
		return 2
	case Warning:
		return 1
	default:
		return 0
	}
}

// Worst returns the most severe of the given levels, Good when empty.
func Worst(levels ...Level) Level {
	worst := Good
	for _, l := range levels {
		if l.Severity() > worst.Severity() {
			worst = l
		}
	}
	return worst
}

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	return l == Good || l == Warning || l == Critical
}
