package capture

import (
	"fmt"
	"strings"
	"time"
)

// Unit is the time unit of a timer interval.
type Unit string

const (
	Seconds Unit = "seconds"
	Minutes Unit = "minutes"
	Hours   Unit = "hours"
	Days    Unit = "days"
)

// Units lists the supported units, smallest first.
var Units = []Unit{Seconds, Minutes, Hours, Days}

func (u Unit) seconds() int {
	switch u {
	case Minutes:
		return 60
	case Hours:
		return 3600
	case Days:
		return 86400
	default:
		return 1
	}
}

func (u Unit) singular() string {
	return strings.TrimSuffix(string(u), "s")
}

// ParseUnit accepts a unit name in singular or plural form.
func ParseUnit(s string) (Unit, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, u := range Units {
		if s == string(u) || s == u.singular() {
			return u, nil
		}
	}
	return "", fmt.Errorf("unknown timer unit %q", s)
}

// TimerPolicy is the repeat interval of timer mode. Value is never below 1.
type TimerPolicy struct {
	Value int  `json:"value" yaml:"value"`
	Unit  Unit `json:"unit" yaml:"unit"`
}

// DefaultTimerPolicy captures every 30 seconds.
func DefaultTimerPolicy() TimerPolicy {
	return TimerPolicy{Value: 30, Unit: Seconds}
}

// NewTimerPolicy builds a policy, clamping value to at least 1 and falling
// back to seconds for an unknown unit.
func NewTimerPolicy(value int, unit Unit) TimerPolicy {
	p := TimerPolicy{Unit: unit}
	p.SetValue(value)
	if _, err := ParseUnit(string(unit)); err != nil {
		p.Unit = Seconds
	}
	return p
}

// SetValue assigns the interval value; anything below 1 becomes 1.
func (p *TimerPolicy) SetValue(value int) {
	if value < 1 {
		value = 1
	}
	p.Value = value
}

// IntervalSeconds is Value times the unit length in seconds.
func (p TimerPolicy) IntervalSeconds() int {
	v := p.Value
	if v < 1 {
		v = 1
	}
	return v * p.Unit.seconds()
}

func (p TimerPolicy) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds()) * time.Second
}

// String renders e.g. "every 1 minute" or "every 5 seconds".
func (p TimerPolicy) String() string {
	unit := p.Unit
	if unit == "" {
		unit = Seconds
	}
	if p.Value == 1 {
		return "every 1 " + unit.singular()
	}
	return fmt.Sprintf("every %d %s", p.Value, unit)
}
